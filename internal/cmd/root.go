// Package cmd implements the golumen command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/golumen/internal/config"
	"github.com/3leaps/golumen/internal/observability"
)

// versionInfo is the build identity injected by the linker via main.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records the build identity before Execute runs.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	flagLogLevel string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "golumen",
	Short: "Media library job orchestration",
	Long: `golumen tracks a media library, reconciles it against its sources,
and orchestrates batched analysis jobs with progress tracking.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
		}

		level := cfg.Logging.Level
		if flagLogLevel != "" {
			level = flagLogLevel
		}
		if flagVerbose {
			observability.InitCLILogger(level, true)
			return nil
		}

		var file *observability.FileConfig
		if cfg.Logging.File.Enabled {
			file = &observability.FileConfig{
				Path:       cfg.Logging.File.Path,
				MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
				MaxBackups: cfg.Logging.File.MaxBackups,
				MaxAgeDays: cfg.Logging.File.MaxAgeDays,
				Compress:   cfg.Logging.File.Compress,
			}
		}
		observability.InitCLILoggerWithFile(level, cfg.Logging.Profile, file)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Console log output")
}

// exitCodeError carries a foundry exit code up to Execute.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

// exitError wraps err so the process exits with the given foundry code.
func exitError(code int, message string, err error) error {
	if err == nil {
		return &exitCodeError{code: code, err: errors.New(message)}
	}
	return &exitCodeError{code: code, err: fmt.Errorf("%s: %w", message, err)}
}

// exitCodeFor extracts the foundry exit code, defaulting to a generic
// failure.
func exitCodeFor(err error) int {
	var ece *exitCodeError
	if errors.As(err, &ece) {
		return ece.code
	}
	return 1
}

// Execute runs the CLI. It installs signal-driven cancellation so every
// command sees a context that ends on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.Sync()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeFor(err))
	}
	observability.Sync()
}
