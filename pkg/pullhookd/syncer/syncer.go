// Package syncer runs the external script that pulls a repository's working copy.
package syncer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/nais/pullhookd/pkg/pullhookd/config"
	"github.com/nais/pullhookd/pkg/pullhookd/metrics"
	"github.com/nais/pullhookd/pkg/pullhookd/webhook"
	"github.com/nais/pullhookd/pkg/telemetry"
)

const (
	Operation = "pull"

	FailedMessage   = "sync failed"
	AcceptedMessage = "ok! (sync started in background)"
	UnknownCommit   = "unknown"

	// How long to wait for output pipes to close after the script has been killed.
	waitDelay = 5 * time.Second
)

var headCommitPattern = regexp.MustCompile(`HEAD_COMMIT=(\w+)`)

type Options struct {
	Script    string
	Shell     string
	Timeout   time.Duration
	Serialize bool
}

// Invoker runs the sync script. It is safe for concurrent use.
type Invoker struct {
	opts Options

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

func New(opts Options) *Invoker {
	return &Invoker{
		opts:  opts,
		locks: make(map[string]*semaphore.Weighted),
	}
}

// Arguments returns the positional arguments passed to the sync script.
func Arguments(script string, repo config.Repository) []string {
	args := []string{script, Operation, repo.Local, repo.Remote, repo.Branch}
	if len(repo.AfterPull) > 0 {
		args = append(args, repo.AfterPull)
	}
	return args
}

// CommandLine builds the shell command running the sync script, with every argument quoted.
func CommandLine(shell, script string, repo config.Repository) string {
	return fmt.Sprintf("exec %s %s", shellescape.Quote(shell), shellescape.QuoteCommand(Arguments(script, repo)))
}

// HeadCommit extracts the commit reported by the script as HEAD_COMMIT=<id>.
func HeadCommit(stdout string) string {
	match := headCommitPattern.FindStringSubmatch(stdout)
	if match == nil {
		return UnknownCommit
	}
	return match[1]
}

// Pull runs the sync script for a repository.
//
// For synchronous repositories the outcome of the script is returned. For asynchronous
// repositories an accepted outcome is returned at once and the script's outcome is only logged.
// Cancelling ctx does not stop a running script; only the configured timeout does.
func (in *Invoker) Pull(ctx context.Context, name string, repo config.Repository, logger log.FieldLogger) webhook.Outcome {
	res := newResolution()
	runCtx := context.WithoutCancel(ctx)

	if repo.Async {
		res.resolve(webhook.OK(AcceptedMessage))
		logger.Infof("sync of %s runs in background", repo.Local)
	}

	go func() {
		outcome := in.run(runCtx, name, repo, logger)
		if !res.resolve(outcome) {
			logger.Infof("background sync finished with status %d: %s", outcome.Status, outcome.Message)
		}
	}()

	return res.wait()
}

func (in *Invoker) run(ctx context.Context, name string, repo config.Repository, logger log.FieldLogger) webhook.Outcome {
	ctx, span := telemetry.Tracer().Start(ctx, "sync")
	defer span.End()
	span.SetAttributes(
		attribute.String("repository", name),
		attribute.Bool("async", repo.Async),
	)

	if in.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.opts.Timeout)
		defer cancel()
	}

	if in.opts.Serialize {
		lock := in.lock(name)
		if err := lock.Acquire(ctx, 1); err != nil {
			logger.Errorf("%s: waiting for previous sync of %s: %s", FailedMessage, name, err)
			span.SetStatus(codes.Error, err.Error())
			return webhook.Failed(FailedMessage)
		}
		defer lock.Release(1)
	}

	logger.Infof("sync pulling in %s ...", repo.Local)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", CommandLine(in.opts.Shell, in.opts.Script, repo))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	metrics.SyncStarted()
	err := cmd.Run()
	metrics.SyncFinished()
	metrics.SyncInvocation(start, name, err)

	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w (%s)", err, ctx.Err())
		}
		logger.Errorf("%s: %s", FailedMessage, err)
		logOutput(logger, "stdout", stdout.String())
		logOutput(logger, "stderr", stderr.String())
		span.SetStatus(codes.Error, err.Error())
		return webhook.Failed(FailedMessage)
	}

	head := HeadCommit(stdout.String())
	span.SetAttributes(attribute.String("head_commit", head))
	logger.Infof("sync done! (head commit hash: %s  repo: %s)", head, repo.Local)

	return webhook.OK(fmt.Sprintf("ok! (local HEAD: %s)", head))
}

func (in *Invoker) lock(name string) *semaphore.Weighted {
	in.mu.Lock()
	defer in.mu.Unlock()

	lock, ok := in.locks[name]
	if !ok {
		lock = semaphore.NewWeighted(1)
		in.locks[name] = lock
	}
	return lock
}

func logOutput(logger log.FieldLogger, stream, output string) {
	logger.Errorf("%s:", stream)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		logger.Error(scanner.Text())
	}
}
