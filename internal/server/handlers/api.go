package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/golumen/internal/errors"
	"github.com/3leaps/golumen/pkg/analysis"
	"github.com/3leaps/golumen/pkg/batch"
	"github.com/3leaps/golumen/pkg/jobs"
	"github.com/3leaps/golumen/pkg/reconcile"
	"github.com/3leaps/golumen/pkg/report"
	"github.com/3leaps/golumen/pkg/rescan"
)

// maxRequestBody caps API request bodies.
const maxRequestBody = 8 << 20

// API wires the job endpoints to the coordinator, analysis runner, and
// rescanner.
//
// Batches must outlive the submitting request, so they run under baseCtx
// (the server lifetime context), never the request context.
type API struct {
	baseCtx   context.Context
	coord     *batch.Coordinator
	runner    *analysis.Runner
	rescanner *rescan.Rescanner
	logger    *zap.Logger
}

// NewAPI builds the handler set. rescanner may be nil when no media source
// is configured; the rescan endpoint then reports a validation error.
func NewAPI(baseCtx context.Context, coord *batch.Coordinator, runner *analysis.Runner, rescanner *rescan.Rescanner, logger *zap.Logger) *API {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		baseCtx:   baseCtx,
		coord:     coord,
		runner:    runner,
		rescanner: rescanner,
		logger:    logger,
	}
}

// Routes mounts the API endpoints on the given router.
func (a *API) Routes(r chi.Router) {
	r.Post("/batches", a.SubmitBatch)
	r.Get("/jobs", a.ListJobs)
	r.Get("/jobs/{jobID}", a.GetJob)
	r.Post("/jobs/{jobID}/cancel", a.CancelJob)
	r.Delete("/jobs/{jobID}", a.DeleteJob)
	r.Post("/rescan", a.Rescan)
	r.Post("/reconcile", a.Reconcile)
}

type submitBatchRequest struct {
	Kind        string   `json:"kind"`
	ItemIDs     []string `json:"item_ids"`
	Name        string   `json:"name,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
}

type submitBatchResponse struct {
	JobID      string `json:"job_id"`
	TotalItems int    `json:"total_items"`
}

// SubmitBatch handles POST /api/batches.
func (a *API) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	kind, err := analysis.ParseKind(req.Kind)
	if err != nil {
		respondWithError(w, r, apperrors.Validationf("invalid kind %q", req.Kind))
		return
	}
	if len(req.ItemIDs) == 0 {
		respondWithError(w, r, apperrors.Validationf("item_ids must not be empty"))
		return
	}

	jobID, err := a.coord.Submit(a.baseCtx, req.ItemIDs, a.runner.WorkFunc(kind), batch.Options{
		Name:        req.Name,
		Concurrency: req.Concurrency,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	a.logger.Info("Batch submitted",
		zap.String("job_id", jobID),
		zap.String("kind", string(kind)),
		zap.Int("total_items", len(req.ItemIDs)))

	writeJSON(w, http.StatusAccepted, submitBatchResponse{
		JobID:      jobID,
		TotalItems: len(req.ItemIDs),
	})
}

type listJobsResponse struct {
	Jobs []jobs.Snapshot `json:"jobs"`
}

// ListJobs handles GET /api/jobs with optional kind and status filters.
func (a *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := jobs.Filter{
		Kind:   jobs.Kind(r.URL.Query().Get("kind")),
		Status: jobs.Status(r.URL.Query().Get("status")),
	}

	records := a.coord.Registry().List(filter)
	resp := listJobsResponse{Jobs: make([]jobs.Snapshot, 0, len(records))}
	for _, job := range records {
		snap, err := a.coord.Status(job.ID)
		if err != nil {
			// Deleted between list and snapshot; skip.
			continue
		}
		resp.Jobs = append(resp.Jobs, snap)
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /api/jobs/{jobID}.
func (a *API) GetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := a.coord.Status(chi.URLParam(r, "jobID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type cancelResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	JobID        string `json:"job_id"`
}

// CancelJob handles POST /api/jobs/{jobID}/cancel. Cancellation is
// cooperative: in-flight items finish, undispatched items are skipped.
func (a *API) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := a.coord.Cancel(jobID); err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, cancelResponse{Acknowledged: true, JobID: jobID})
}

// DeleteJob handles DELETE /api/jobs/{jobID}. Only terminal jobs can be
// deleted; the registry enforces that.
func (a *API) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := a.coord.Registry().Delete(jobID); err != nil {
		respondWithError(w, r, err)
		return
	}
	a.coord.Forget(jobID)
	w.WriteHeader(http.StatusNoContent)
}

type rescanRequest struct {
	Prefix   string   `json:"prefix,omitempty"`
	Include  []string `json:"include,omitempty"`
	Exclude  []string `json:"exclude,omitempty"`
	DryRun   bool     `json:"dry_run,omitempty"`
	PageRate float64  `json:"page_rate,omitempty"`
}

type rescanResponse struct {
	JobID   string       `json:"job_id,omitempty"`
	DryRun  bool         `json:"dry_run,omitempty"`
	Scanned int          `json:"scanned"`
	Planned int          `json:"planned"`
	Changes rescanCounts `json:"changes"`
}

type rescanCounts struct {
	Matched   int `json:"matched"`
	Moved     int `json:"moved"`
	Deleted   int `json:"deleted"`
	New       int `json:"new"`
	Ambiguous int `json:"ambiguous"`
}

// Rescan handles POST /api/rescan: list the source, reconcile against the
// library, and submit the change-set as an apply batch.
func (a *API) Rescan(w http.ResponseWriter, r *http.Request) {
	if a.rescanner == nil {
		respondWithError(w, r, apperrors.Validationf("no media source configured"))
		return
	}

	var req rescanRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	rw := report.NewJSONLWriter(io.Discard, "", "api")
	defer func() { _ = rw.Close() }()

	result, err := a.rescanner.Run(a.baseCtx, rescan.Options{
		Prefix:   req.Prefix,
		Include:  req.Include,
		Exclude:  req.Exclude,
		DryRun:   req.DryRun,
		PageRate: req.PageRate,
	}, rw)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	rec := result.Reconciliation
	writeJSON(w, http.StatusAccepted, rescanResponse{
		JobID:   result.JobID,
		DryRun:  req.DryRun,
		Scanned: result.Scanned,
		Planned: result.Planned,
		Changes: rescanCounts{
			Matched:   len(rec.Matched),
			Moved:     len(rec.Moved),
			Deleted:   len(rec.Deleted),
			New:       len(rec.New),
			Ambiguous: len(rec.Ambiguous),
		},
	})
}

type reconcileRequest struct {
	Recorded []reconcile.RecordedEntry `json:"recorded"`
	Disk     []reconcile.DiskEntry     `json:"disk"`
}

// Reconcile handles POST /api/reconcile: a pure reconciliation of the
// supplied entries, with no library side effects.
func (a *API) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	result := reconcile.Reconcile(req.Recorded, req.Disk)
	writeJSON(w, http.StatusOK, result)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.Validationf("request body is required")
		}
		return apperrors.Validationf("invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
