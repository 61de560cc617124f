package cmd

import (
	"context"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/golumen/internal/config"
	"github.com/3leaps/golumen/internal/observability"
	"github.com/3leaps/golumen/internal/server"
	"github.com/3leaps/golumen/internal/server/handlers"
	"github.com/3leaps/golumen/pkg/analysis"
	"github.com/3leaps/golumen/pkg/batch"
	"github.com/3leaps/golumen/pkg/jobs"
	"github.com/3leaps/golumen/pkg/library"
	"github.com/3leaps/golumen/pkg/poller"
	"github.com/3leaps/golumen/pkg/rescan"
	"github.com/3leaps/golumen/pkg/retry"
	"github.com/3leaps/golumen/pkg/source/file"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job orchestration API server",
	Long: `Run the HTTP API server: batch submission, job progress tracking,
cancellation, and library rescans.

Example:
  golumen serve
  golumen serve --port 9000
  golumen serve --media-root /srv/media`,
	RunE: runServe,
}

var (
	serveHost      string
	servePort      int
	serveMediaRoot string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	serveCmd.Flags().StringVar(&serveMediaRoot, "media-root", "", "Media directory for rescans (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()
	logger := observability.CLILogger

	host := cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	mediaRoot := cfg.Library.MediaRoot
	if serveMediaRoot != "" {
		mediaRoot = serveMediaRoot
	}

	store, err := library.Open(ctx, library.Config{Path: cfg.Library.Path})
	if err != nil {
		logger.Error("Failed to open library", zap.String("path", cfg.Library.Path), zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to open library", err)
	}
	defer func() { _ = store.Close() }()

	registryOpts := []jobs.Option{}
	if cfg.Jobs.Dir != "" {
		registryOpts = append(registryOpts, jobs.WithStore(jobs.NewStore(cfg.Jobs.Dir)))
	}
	registry := jobs.NewRegistry(registryOpts...)
	coord := batch.New(registry, logger, batch.WithDefaultConcurrency(cfg.Workers))

	client := analysis.NewHTTPClient(cfg.Analysis.BaseURL, cfg.Analysis.Timeout)
	runner := analysis.NewRunner(store, client, logger,
		analysis.WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Classify:    analysis.IsTransient,
		}),
		analysis.WithPollInterval(cfg.Analysis.PollInterval),
		analysis.WithPollerOptions(poller.WithCacheTTL(cfg.Analysis.PollCacheTTL)))

	var rescanner *rescan.Rescanner
	if mediaRoot != "" {
		src, err := file.New(file.Config{BaseDir: mediaRoot})
		if err != nil {
			logger.Error("Failed to open media root", zap.String("path", mediaRoot), zap.Error(err))
			return exitError(foundry.ExitFileNotFound, "Failed to open media root", err)
		}
		defer func() { _ = src.Close() }()
		rescanner = rescan.New(src, store, coord, logger)
	}

	handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	handlers.InitHealthManager(versionInfo.Version)
	if cfg.Health.Enabled {
		handlers.GetHealthManager().RegisterChecker("library", handlers.HealthCheckerFunc(
			func(ctx context.Context) error {
				return store.DB().PingContext(ctx)
			}))
	}

	api := handlers.NewAPI(ctx, coord, runner, rescanner, logger)
	serverOpts := []server.Option{
		server.WithAPI(api),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
	}
	if cfg.Debug.PprofEnabled {
		serverOpts = append(serverOpts, server.WithPprof())
	}
	srv := server.New(host, port, serverOpts...)

	logger.Info("Starting server",
		zap.String("host", host),
		zap.Int("port", port),
		zap.String("library", cfg.Library.Path),
		zap.String("media_root", mediaRoot))

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	return nil
}
