// Package rescan walks a media source, reconciles what it finds against
// the library, and applies the resulting changes as a batch job.
package rescan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/golumen/pkg/batch"
	"github.com/3leaps/golumen/pkg/jobs"
	"github.com/3leaps/golumen/pkg/library"
	"github.com/3leaps/golumen/pkg/reconcile"
	"github.com/3leaps/golumen/pkg/report"
	"github.com/3leaps/golumen/pkg/source"
)

// DefaultPageRate bounds source listing to this many pages per second.
const DefaultPageRate = 10

// Options configures a rescan run.
type Options struct {
	// Prefix restricts the scan to source paths under this prefix.
	Prefix string

	// Include holds glob patterns (doublestar syntax); entries must match
	// at least one. Empty means match everything.
	Include []string

	// Exclude holds glob patterns; matching entries are skipped.
	Exclude []string

	// PageRate limits listing pages per second. Zero uses DefaultPageRate.
	PageRate float64

	// DryRun computes and reports the reconciliation without applying it.
	DryRun bool
}

// Change is one planned library mutation.
type Change struct {
	// Action is one of "add", "move", "update", "missing".
	Action string

	// FileID is the library file, empty for "add".
	FileID string

	// Path is the source path ("add") or the new path ("move").
	Path string

	// Size and MTime carry fresh stat data for "add" and "update".
	Size  int64
	MTime time.Time
}

// RunResult summarizes a rescan run.
type RunResult struct {
	// JobID is the apply batch job, empty for dry runs.
	JobID string

	// Reconciliation is the full matching result.
	Reconciliation *reconcile.Result

	// Scanned is the number of source entries considered after filtering.
	Scanned int

	// Planned is the number of changes submitted (or, for dry runs,
	// that would have been submitted).
	Planned int
}

// Rescanner drives rescan runs against one source and one library.
type Rescanner struct {
	src    source.Source
	store  *library.Store
	coord  *batch.Coordinator
	logger *zap.Logger

	mu    sync.Mutex
	plans map[string]map[string]Change // jobID -> itemID -> change
}

// New creates a rescanner.
func New(src source.Source, store *library.Store, coord *batch.Coordinator, logger *zap.Logger) *Rescanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rescanner{
		src:    src,
		store:  store,
		coord:  coord,
		logger: logger,
		plans:  make(map[string]map[string]Change),
	}
}

// Run lists the source, reconciles against the library, and submits the
// apply batch. The returned job ID can be watched through the job
// registry; pass a report writer to get JSONL progress output.
func (r *Rescanner) Run(ctx context.Context, opts Options, rw report.Writer) (*RunResult, error) {
	if err := validatePatterns(opts); err != nil {
		return nil, err
	}

	writeProgress(ctx, rw, &report.ProgressRecord{Phase: report.PhaseListing})

	disk, err := r.list(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list source: %w", err)
	}

	writeProgress(ctx, rw, &report.ProgressRecord{Phase: report.PhaseReconciling, TotalItems: len(disk)})

	recorded, err := r.store.RecordedEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("load library entries: %w", err)
	}

	result := reconcile.Reconcile(recorded, disk)
	plan := buildPlan(result)

	r.reportReconciliation(ctx, rw, result)

	res := &RunResult{
		Reconciliation: result,
		Scanned:        len(disk),
		Planned:        len(plan),
	}

	if opts.DryRun {
		r.logger.Info("rescan dry run",
			zap.Int("scanned", res.Scanned),
			zap.Int("planned", res.Planned),
			zap.Int("ambiguous", len(result.Ambiguous)))
		return res, nil
	}

	if len(plan) == 0 {
		r.logger.Info("rescan found no changes", zap.Int("scanned", res.Scanned))
		return res, nil
	}

	items := make([]string, 0, len(plan))
	for itemID := range plan {
		items = append(items, itemID)
	}

	jobID, err := r.coord.Submit(ctx, items, r.applyFunc(), batch.Options{Name: "rescan"})
	if err != nil {
		return nil, fmt.Errorf("submit apply batch: %w", err)
	}

	r.mu.Lock()
	r.plans[jobID] = plan
	r.mu.Unlock()

	res.JobID = jobID
	r.logger.Info("rescan submitted",
		zap.String("job_id", jobID),
		zap.Int("scanned", res.Scanned),
		zap.Int("planned", res.Planned))
	return res, nil
}

// RunAndWait runs a rescan and blocks until the apply batch settles,
// then emits the summary record.
func (r *Rescanner) RunAndWait(ctx context.Context, opts Options, rw report.Writer) (*RunResult, jobs.Snapshot, error) {
	started := time.Now()

	res, err := r.Run(ctx, opts, rw)
	if err != nil {
		return nil, jobs.Snapshot{}, err
	}
	if res.JobID == "" {
		return res, jobs.Snapshot{}, nil
	}

	writeProgress(ctx, rw, &report.ProgressRecord{Phase: report.PhaseApplying, TotalItems: res.Planned})

	err = r.coord.Wait(ctx, res.JobID)
	r.forgetPlan(res.JobID)
	if err != nil {
		return res, jobs.Snapshot{}, fmt.Errorf("wait for apply batch: %w", err)
	}

	snap, err := r.coord.Status(res.JobID)
	if err != nil {
		return res, jobs.Snapshot{}, fmt.Errorf("read apply batch status: %w", err)
	}

	if rw != nil {
		elapsed := time.Since(started)
		_ = rw.WriteSummary(ctx, &report.SummaryRecord{
			Status:         string(snap.Status),
			TotalItems:     snap.TotalItems,
			CompletedItems: snap.CompletedItems,
			FailedItems:    snap.FailedItems,
			Duration:       elapsed,
			DurationHuman:  elapsed.Round(time.Millisecond).String(),
			Errors:         len(snap.Errors),
		})
	}
	return res, snap, nil
}

// applyFunc returns the batch work function that applies one planned change.
func (r *Rescanner) applyFunc() batch.WorkFunc {
	return func(ctx context.Context, itemID string) error {
		change, ok := r.lookupChange(itemID)
		if !ok {
			return fmt.Errorf("no planned change for item %s", itemID)
		}

		switch change.Action {
		case "add":
			_, err := r.store.AddFile(ctx, change.Path, change.Size, change.MTime)
			return err
		case "move":
			return r.store.UpdateFilePath(ctx, change.FileID, change.Path)
		case "update":
			return r.store.UpdateFileStat(ctx, change.FileID, change.Size, change.MTime)
		case "missing":
			return r.store.MarkFileMissing(ctx, change.FileID)
		default:
			return fmt.Errorf("unknown change action %q", change.Action)
		}
	}
}

func (r *Rescanner) lookupChange(itemID string) (Change, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, plan := range r.plans {
		if c, ok := plan[itemID]; ok {
			return c, true
		}
	}
	return Change{}, false
}

func (r *Rescanner) forgetPlan(jobID string) {
	r.mu.Lock()
	delete(r.plans, jobID)
	r.mu.Unlock()
}

// list pages through the source, applying glob filters and the page
// rate limit.
func (r *Rescanner) list(ctx context.Context, opts Options) ([]reconcile.DiskEntry, error) {
	pageRate := opts.PageRate
	if pageRate <= 0 {
		pageRate = DefaultPageRate
	}
	limiter := rate.NewLimiter(rate.Limit(pageRate), 1)

	var disk []reconcile.DiskEntry
	token := ""
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		page, err := r.src.List(ctx, source.ListOptions{
			Prefix:            opts.Prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}

		for _, e := range page.Entries {
			ok, err := matchEntry(e.Path, opts)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			disk = append(disk, reconcile.DiskEntry{
				Path:  e.Path,
				Name:  e.Name,
				Size:  e.Size,
				MTime: e.MTime.Unix(),
			})
		}

		if !page.IsTruncated {
			return disk, nil
		}
		token = page.ContinuationToken
	}
}

// buildPlan converts a reconciliation result into per-item changes.
// Ambiguities are reported but never applied.
func buildPlan(result *reconcile.Result) map[string]Change {
	plan := make(map[string]Change)

	for _, m := range result.Matched {
		if m.Disk.Size == m.Recorded.Size && m.Disk.MTime == m.Recorded.MTime {
			continue
		}
		plan["update:"+m.Recorded.ID] = Change{
			Action: "update",
			FileID: m.Recorded.ID,
			Size:   m.Disk.Size,
			MTime:  time.Unix(m.Disk.MTime, 0).UTC(),
		}
	}
	for _, m := range result.Moved {
		plan["move:"+m.Recorded.ID] = Change{
			Action: "move",
			FileID: m.Recorded.ID,
			Path:   m.Disk.Path,
		}
	}
	for _, m := range result.Deleted {
		plan["missing:"+m.Recorded.ID] = Change{
			Action: "missing",
			FileID: m.Recorded.ID,
		}
	}
	for _, d := range result.New {
		plan["add:"+d.Path] = Change{
			Action: "add",
			Path:   d.Path,
			Size:   d.Size,
			MTime:  time.Unix(d.MTime, 0).UTC(),
		}
	}
	return plan
}

func validatePatterns(opts Options) error {
	for _, pat := range append(append([]string{}, opts.Include...), opts.Exclude...) {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("invalid glob pattern %q", pat)
		}
	}
	return nil
}

func matchEntry(path string, opts Options) (bool, error) {
	for _, pat := range opts.Exclude {
		ok, err := doublestar.Match(pat, path)
		if err != nil {
			return false, fmt.Errorf("match %q: %w", pat, err)
		}
		if ok {
			return false, nil
		}
	}

	if len(opts.Include) == 0 {
		return true, nil
	}
	for _, pat := range opts.Include {
		ok, err := doublestar.Match(pat, path)
		if err != nil {
			return false, fmt.Errorf("match %q: %w", pat, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (r *Rescanner) reportReconciliation(ctx context.Context, rw report.Writer, result *reconcile.Result) {
	if rw == nil {
		return
	}

	for _, m := range result.Moved {
		_ = rw.WriteItem(ctx, &report.ItemRecord{
			ItemID: m.Recorded.ID,
			Path:   m.Disk.Path,
			Action: "moved",
			Detail: map[string]string{"from": m.Recorded.Path},
		})
	}
	for _, m := range result.Deleted {
		_ = rw.WriteItem(ctx, &report.ItemRecord{
			ItemID: m.Recorded.ID,
			Path:   m.Recorded.Path,
			Action: "deleted",
		})
	}
	for _, d := range result.New {
		_ = rw.WriteItem(ctx, &report.ItemRecord{
			ItemID: d.Path,
			Path:   d.Path,
			Action: "new",
		})
	}
	for _, amb := range result.Ambiguous {
		candidates := make([]string, 0, len(amb.Candidates))
		for _, c := range amb.Candidates {
			candidates = append(candidates, c.Path)
		}
		_ = rw.WriteError(ctx, &report.ErrorRecord{
			Code:    "AMBIGUOUS_MOVE",
			Message: fmt.Sprintf("%d candidates share fingerprint of %s", len(candidates), amb.Recorded.Path),
			ItemID:  amb.Recorded.ID,
			Details: map[string]any{"candidates": candidates},
		})
	}
}

func writeProgress(ctx context.Context, rw report.Writer, rec *report.ProgressRecord) {
	if rw == nil {
		return
	}
	_ = rw.WriteProgress(ctx, rec)
}
