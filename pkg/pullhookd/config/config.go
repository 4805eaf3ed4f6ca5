package config

import (
	"time"

	"github.com/nais/pullhookd/pkg/conftools"
	flag "github.com/spf13/pflag"
)

type Config struct {
	CheckConfig      bool          `json:"check-config"`
	Dump             bool          `json:"dump"`
	DumpDir          string        `json:"dump-dir"`
	HookPath         string        `json:"hook-path"`
	ListenAddress    string        `json:"listen-address"`
	LogFormat        string        `json:"log-format"`
	LogLevel         string        `json:"log-level"`
	MaxBodySize      int64         `json:"max-body-size"`
	MetricsPath      string        `json:"metrics-path"`
	OtelEndpoint     string        `json:"otel-endpoint"`
	RepositoriesFile string        `json:"repositories-file"`
	SerializeSync    bool          `json:"serialize-sync"`
	SyncScript       string        `json:"sync-script"`
	SyncShell        string        `json:"sync-shell"`
	SyncTimeout      time.Duration `json:"sync-timeout"`
}

const (
	CheckConfig      = "check-config"
	Dump             = "dump"
	DumpDir          = "dump-dir"
	HookPath         = "hook-path"
	ListenAddress    = "listen-address"
	LogFormat        = "log-format"
	LogLevel         = "log-level"
	MaxBodySize      = "max-body-size"
	MetricsPath      = "metrics-path"
	OtelEndpoint     = "otel-endpoint"
	RepositoriesFile = "repositories-file"
	SerializeSync    = "serialize-sync"
	SyncScript       = "sync-script"
	SyncShell        = "sync-shell"
	SyncTimeout      = "sync-timeout"
)

func Initialize() *Config {
	conftools.Initialize("pullhookd")

	flag.Bool(CheckConfig, false, "Validate configuration and repositories, then exit.")

	flag.String(ListenAddress, "0.0.0.0:8080", "IP:PORT")
	flag.String(HookPath, "/hook", "HTTP endpoint receiving webhooks.")
	flag.String(MetricsPath, "/metrics", "HTTP endpoint for exposed metrics.")
	flag.Int64(MaxBodySize, 128*1024, "Maximum accepted webhook body size, in bytes.")

	flag.String(LogFormat, "text", "Log format, either 'json' or 'text'.")
	flag.String(LogLevel, "info", "Logging verbosity level.")

	flag.String(RepositoriesFile, "config.json", "JSON or YAML file with the repositories to keep in sync.")

	flag.Bool(Dump, false, "Write every incoming request to a file in the dump directory.")
	flag.String(DumpDir, "logs", "Directory for request dumps.")

	flag.String(SyncScript, "git.sh", "Script invoked as '<script> pull <local> <remote> <branch> [after-pull]'. A relative path is looked up next to the binary, then in the working directory.")
	flag.String(SyncShell, "bash", "Interpreter used to run the sync script.")
	flag.Duration(SyncTimeout, 5*time.Minute, "Kill the sync script after this long; 0 disables the timeout.")
	flag.Bool(SerializeSync, true, "Run at most one sync at a time per repository.")

	flag.String(OtelEndpoint, "", "OpenTelemetry collector endpoint URL; tracing is disabled when empty.")

	return &Config{}
}
