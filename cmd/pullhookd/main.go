package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nais/pullhookd/pkg/conftools"
	"github.com/nais/pullhookd/pkg/logging"
	"github.com/nais/pullhookd/pkg/pullhookd/api"
	"github.com/nais/pullhookd/pkg/pullhookd/config"
	"github.com/nais/pullhookd/pkg/pullhookd/dispatcher"
	"github.com/nais/pullhookd/pkg/pullhookd/dump"
	"github.com/nais/pullhookd/pkg/pullhookd/syncer"
	"github.com/nais/pullhookd/pkg/telemetry"
	"github.com/nais/pullhookd/pkg/version"
)

const (
	serviceName     = "pullhookd"
	shutdownTimeout = 10 * time.Second
)

func run() error {
	cfg := config.Initialize()
	err := conftools.Load(cfg)
	if err != nil {
		return err
	}

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}

	// Welcome
	log.Infof("%s %s", serviceName, version.Version())
	ts, err := version.BuildTime()
	if err == nil {
		log.Infof("This version was built %s", ts.Local())
	}

	for _, line := range conftools.Format(nil) {
		log.Info(line)
	}

	repositories, err := config.LoadRepositories(cfg.RepositoriesFile)
	if err != nil {
		return fmt.Errorf("load repositories from %s: %w", cfg.RepositoriesFile, err)
	}

	for _, name := range repositories.Names() {
		repo, _ := repositories.Get(name)
		log.Infof("Repository %s (%s) syncs %s/%s into %s", name, repo.Type, repo.Remote, repo.Branch, repo.Local)
	}

	executableDir, err := config.ExecutableDir()
	if err != nil {
		log.Warnf("unable to locate executable, looking up sync script in the working directory only: %s", err)
	}
	cfg.SyncScript, err = config.ResolveScript(cfg.SyncScript, executableDir)
	if err != nil {
		return err
	}
	log.Infof("Sync script: %s", cfg.SyncScript)

	if cfg.CheckConfig {
		log.Infof("The configuration looks good!")
		return nil
	}

	if len(cfg.OtelEndpoint) > 0 {
		tracerProvider, err := telemetry.New(context.Background(), serviceName, cfg.OtelEndpoint)
		if err != nil {
			return fmt.Errorf("set up telemetry: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := tracerProvider.Shutdown(ctx); err != nil {
				log.Errorf("shut down telemetry: %s", err)
			}
		}()
		log.Infof("Exporting traces to %s", cfg.OtelEndpoint)
	}

	d := &dispatcher.Dispatcher{
		Repositories: repositories,
		Syncer: syncer.New(syncer.Options{
			Script:    cfg.SyncScript,
			Shell:     cfg.SyncShell,
			Timeout:   cfg.SyncTimeout,
			Serialize: cfg.SerializeSync,
		}),
	}

	if cfg.Dump {
		d.Dumper = dump.New(cfg.DumpDir)
		log.Infof("Dumping incoming requests to %s", cfg.DumpDir)
	}

	router := api.New(api.Config{
		Dispatcher:  d,
		HookPath:    cfg.HookPath,
		MaxBodySize: cfg.MaxBodySize,
		MetricsPath: cfg.MetricsPath,
	})

	server := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: router,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err)
		}
	}()

	log.Infof("Listening on %s, webhooks are accepted at %s", cfg.ListenAddress, cfg.HookPath)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals

	log.Infof("Received signal %s (%d), exiting...", sig, sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return server.Shutdown(ctx)
}

func main() {
	err := run()
	if err != nil {
		log.Errorf("Fatal error: %s", err)
		os.Exit(1)
	}
}
