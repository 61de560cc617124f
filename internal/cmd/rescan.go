package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/golumen/internal/config"
	"github.com/3leaps/golumen/internal/observability"
	"github.com/3leaps/golumen/pkg/batch"
	"github.com/3leaps/golumen/pkg/jobs"
	"github.com/3leaps/golumen/pkg/library"
	"github.com/3leaps/golumen/pkg/report"
	"github.com/3leaps/golumen/pkg/rescan"
	"github.com/3leaps/golumen/pkg/source"
	"github.com/3leaps/golumen/pkg/source/file"
	"github.com/3leaps/golumen/pkg/source/s3"
)

var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Reconcile the library against its media source",
	Long: `List the media source, reconcile it against the library, and apply
the resulting changes (imports, moves, deletions) as a batch job.

Progress and results are written as JSONL records.

Example:
  golumen rescan --media-root /srv/media
  golumen rescan --media-root /srv/media --include '**/*.mp4' --dry-run
  golumen rescan --bucket media-archive --prefix incoming/ --output rescan.jsonl`,
	RunE: runRescan,
}

var (
	rescanMediaRoot string
	rescanBucket    string
	rescanRegion    string
	rescanEndpoint  string
	rescanProfile   string
	rescanPrefix    string
	rescanInclude   []string
	rescanExclude   []string
	rescanOutput    string
	rescanDryRun    bool
	rescanPageRate  float64
)

func init() {
	rootCmd.AddCommand(rescanCmd)

	rescanCmd.Flags().StringVar(&rescanMediaRoot, "media-root", "", "Local media directory (overrides config)")
	rescanCmd.Flags().StringVar(&rescanBucket, "bucket", "", "S3 bucket to scan instead of a local directory")
	rescanCmd.Flags().StringVar(&rescanRegion, "region", "", "S3 region")
	rescanCmd.Flags().StringVar(&rescanEndpoint, "endpoint", "", "S3-compatible endpoint URL")
	rescanCmd.Flags().StringVar(&rescanProfile, "profile", "", "AWS credentials profile")
	rescanCmd.Flags().StringVar(&rescanPrefix, "prefix", "", "Only scan paths under this prefix")
	rescanCmd.Flags().StringArrayVar(&rescanInclude, "include", nil, "Include glob (repeatable)")
	rescanCmd.Flags().StringArrayVar(&rescanExclude, "exclude", nil, "Exclude glob (repeatable)")
	rescanCmd.Flags().StringVarP(&rescanOutput, "output", "o", "", "JSONL output destination (default stdout)")
	rescanCmd.Flags().BoolVar(&rescanDryRun, "dry-run", false, "Reconcile and report without applying changes")
	rescanCmd.Flags().Float64Var(&rescanPageRate, "page-rate", 0, "Max listing pages per second (0 = config default)")
}

func runRescan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()
	logger := observability.CLILogger

	src, err := createRescanSource(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open media source", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open media source", err)
	}
	defer func() { _ = src.Close() }()

	store, err := library.Open(ctx, library.Config{Path: cfg.Library.Path})
	if err != nil {
		logger.Error("Failed to open library", zap.String("path", cfg.Library.Path), zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to open library", err)
	}
	defer func() { _ = store.Close() }()

	coord := batch.New(jobs.NewRegistry(), logger, batch.WithDefaultConcurrency(cfg.Workers))
	rescanner := rescan.New(src, store, coord, logger)

	jobID := uuid.New().String()
	rw, cleanup, err := createRescanWriter(jobID, string(src.Type()))
	if err != nil {
		logger.Error("Failed to create output", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	pageRate := rescanPageRate
	if pageRate == 0 {
		pageRate = cfg.Rescan.PageRate
	}

	result, snap, err := rescanner.RunAndWait(ctx, rescan.Options{
		Prefix:   rescanPrefix,
		Include:  rescanInclude,
		Exclude:  rescanExclude,
		DryRun:   rescanDryRun,
		PageRate: pageRate,
	}, rw)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("Rescan cancelled")
			return exitError(foundry.ExitSignalInt, "Rescan cancelled", err)
		}
		logger.Error("Rescan failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Rescan failed", err)
	}

	rec := result.Reconciliation
	logger.Info("Rescan completed",
		zap.String("job_id", result.JobID),
		zap.Int("scanned", result.Scanned),
		zap.Int("planned", result.Planned),
		zap.Int("matched", len(rec.Matched)),
		zap.Int("moved", len(rec.Moved)),
		zap.Int("deleted", len(rec.Deleted)),
		zap.Int("new", len(rec.New)),
		zap.Int("ambiguous", len(rec.Ambiguous)))

	if !rescanDryRun && result.JobID != "" && snap.Status != jobs.StatusSucceeded {
		return exitError(foundry.ExitExternalServiceUnavailable, "Rescan apply batch did not succeed",
			fmt.Errorf("job %s finished %s with %d failed items", result.JobID, snap.Status, snap.FailedItems))
	}
	return nil
}

// createRescanSource picks the source from flags: --bucket selects S3,
// otherwise the local media root is used.
func createRescanSource(ctx context.Context, cfg *config.Config) (source.Source, error) {
	if rescanBucket != "" {
		return s3.New(ctx, s3.Config{
			Bucket:   rescanBucket,
			Region:   rescanRegion,
			Endpoint: rescanEndpoint,
			Profile:  rescanProfile,
			// S3-compatible services (moto, MinIO, etc.) need path-style.
			ForcePathStyle: rescanEndpoint != "",
		})
	}

	root := cfg.Library.MediaRoot
	if rescanMediaRoot != "" {
		root = rescanMediaRoot
	}
	return file.New(file.Config{BaseDir: root})
}

func createRescanWriter(jobID, sourceType string) (report.Writer, func(), error) {
	dest := rescanOutput
	if dest == "" || dest == "stdout" {
		w := report.NewJSONLWriter(os.Stdout, jobID, sourceType)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file %s: %w", path, err)
	}

	w := report.NewJSONLWriter(f, jobID, sourceType)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}
