// Package commands implements the lemonade-router CLI, grounded on the
// teacher's cmd/dmrlet/commands cobra tree (rootCmd + PersistentPreRunE
// logging setup + signal.NotifyContext-driven Execute), generalized from a
// multi-verb node-agent CLI to this repository's single long-running
// server process plus a version command.
package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lemonade-sh/lemonade-router/pkg/config"
	"github.com/lemonade-sh/lemonade-router/pkg/logging"
)

// flags mirrors config.Settings' CLI-overridable surface (spec.md §6).
// Left at the zero value, a flag defers to FromEnv's resolution; cobra
// flag defaults are intentionally the settings zero values, not
// config.Default()'s values, so "was this flag explicitly set" can be
// answered with Cmd.Flags().Changed.
type flags struct {
	host            string
	port            int
	logLevel        string
	ctxSize         int
	llamacppBackend string
	llamacppArgs    string
	maxLoadedModels int
	extraModelsDir  string
	noBroadcast     bool
	apiKey          string
	cacheDir        string
}

var (
	rootFlags flags
	log       logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lemonade-router",
	Short: "Local inference control plane with an OpenAI-compatible API",
	Long: `lemonade-router multiplexes OpenAI-shape HTTP requests across a
heterogeneous set of local backend engines, loading and evicting models
on demand under a per-type LRU cache.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// Execute runs the root command under a signal-cancellable context,
// matching the teacher's Execute()'s signal.NotifyContext(SIGINT, SIGTERM)
// shutdown trigger.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.host, "host", "", "bind address (default 127.0.0.1)")
	f.IntVar(&rootFlags.port, "port", 0, "bind port (default 8000)")
	f.StringVar(&rootFlags.logLevel, "log-level", "", "critical|error|warning|info|debug|trace")
	f.IntVar(&rootFlags.ctxSize, "ctx-size", 0, "default llama.cpp-family context size")
	f.StringVar(&rootFlags.llamacppBackend, "llamacpp-backend", "", "vulkan|rocm|metal|cpu")
	f.StringVar(&rootFlags.llamacppArgs, "llamacpp-args", "", "extra llama.cpp server arguments")
	f.IntVar(&rootFlags.maxLoadedModels, "max-loaded-models", 0, "per-type slot capacity; -1 = unlimited")
	f.StringVar(&rootFlags.extraModelsDir, "extra-models-dir", "", "directory to scan recursively for GGUF files")
	f.BoolVar(&rootFlags.noBroadcast, "no-broadcast", false, "bind loopback only, never announce on the LAN")
	f.StringVar(&rootFlags.apiKey, "api-key", "", "require this bearer token on every request")
	f.StringVar(&rootFlags.cacheDir, "cache-dir", "", "persisted state directory (user models, options, installed engines)")

	rootCmd.AddCommand(newVersionCmd())
}

// resolveSettings overlays the environment, then any explicitly-set CLI
// flags (highest precedence, matching spec.md §6's CLI+env config
// surface), onto config.Default().
func resolveSettings(cmd *cobra.Command) (config.Settings, error) {
	s, err := config.FromEnv()
	if err != nil {
		return s, err
	}

	changed := cmd.Flags().Changed
	if changed("host") {
		s.Host = rootFlags.host
	}
	if changed("port") {
		s.Port = rootFlags.port
	}
	if changed("log-level") {
		s.LogLevel = config.LogLevel(rootFlags.logLevel)
	}
	if changed("ctx-size") {
		s.CtxSize = rootFlags.ctxSize
	}
	if changed("llamacpp-backend") {
		s.LlamaCppBackend = rootFlags.llamacppBackend
	}
	if changed("llamacpp-args") {
		s.LlamaCppArgs = rootFlags.llamacppArgs
	}
	if changed("max-loaded-models") {
		s.MaxLoadedModels = rootFlags.maxLoadedModels
	}
	if changed("extra-models-dir") {
		s.ExtraModelsDir = rootFlags.extraModelsDir
	}
	if changed("no-broadcast") {
		s.NoBroadcast = rootFlags.noBroadcast
	}
	if changed("api-key") {
		s.APIKey = rootFlags.apiKey
	}
	if changed("cache-dir") {
		s.CacheDir = rootFlags.cacheDir
	}

	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

// newLogger builds the process-wide logging.Logger, honoring log_level per
// spec.md §6, grounded on the teacher's PersistentPreRunE logrus setup.
func newLogger(level config.LogLevel) logging.Logger {
	logger := logrus.New()
	lvl, err := logrus.ParseLevel(logrusLevelName(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logging.NewLogrusAdapter(logger)
}

// logrusLevelName maps the router's log_level vocabulary onto logrus'
// (which has no "critical" level; it is treated as "fatal" for severity
// ordering purposes, matching the teacher's own practice of collapsing
// vendor-specific severities onto logrus' fixed set).
func logrusLevelName(level config.LogLevel) string {
	if level == config.LogLevelCritical {
		return "fatal"
	}
	return string(level)
}
