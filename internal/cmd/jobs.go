package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/golumen/internal/config"
	"github.com/3leaps/golumen/pkg/jobs"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage tracked jobs",
	Long: `Inspect job records written by the server.

List and status read the persisted job store directly, so they work even
when the server is down. Cancel talks to the running server.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show status for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job_id>",
	Short: "Request cancellation of a running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsServerURL string

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsCancelCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsListCmd.Flags().String("status", "", "Filter by status (SUBMITTED, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsCancelCmd.Flags().StringVar(&jobsServerURL, "server", "", "Server base URL (default from config)")
}

func jobsStore() (*jobs.Store, error) {
	cfg := config.GetConfig()
	if cfg.Jobs.Dir == "" {
		return nil, fmt.Errorf("jobs.dir is not configured")
	}
	return jobs.NewStore(cfg.Jobs.Dir), nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	statusFilter, _ := cmd.Flags().GetString("status")

	store, err := jobsStore()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Job store unavailable", err)
	}

	records, err := store.List()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list jobs", err)
	}
	if statusFilter != "" {
		want := jobs.Status(strings.ToUpper(statusFilter))
		filtered := records[:0]
		for _, j := range records {
			if j.Status == want {
				filtered = append(filtered, j)
			}
		}
		records = filtered
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tNAME\tKIND\tSTATUS\tPROGRESS\tFAILED\tCREATED\tCOMPLETED")
	for _, j := range records {
		name := j.Name
		if name == "" {
			name = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\n",
			shortJobID(j.ID),
			name,
			j.Kind,
			j.Status,
			j.CompletedItems,
			j.TotalItems,
			j.FailedItems,
			j.CreatedAt.UTC().Format(time.RFC3339),
			formatOptionalTime(j.CompletedAt),
		)
	}

	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := jobsStore()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Job store unavailable", err)
	}

	jobID, err := resolveJobID(store, args[0])
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Job not found", err)
	}

	rec, err := store.Get(jobID)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read job", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", rec.ID)
	if rec.Name != "" {
		_, _ = fmt.Fprintf(os.Stdout, "name=%s\n", rec.Name)
	}
	_, _ = fmt.Fprintf(os.Stdout, "kind=%s\n", rec.Kind)
	_, _ = fmt.Fprintf(os.Stdout, "status=%s\n", rec.Status)
	_, _ = fmt.Fprintf(os.Stdout, "progress=%d/%d\n", rec.CompletedItems, rec.TotalItems)
	_, _ = fmt.Fprintf(os.Stdout, "failed_items=%d\n", rec.FailedItems)
	if rec.CurrentItem != "" {
		_, _ = fmt.Fprintf(os.Stdout, "current_item=%s\n", rec.CurrentItem)
	}
	_, _ = fmt.Fprintf(os.Stdout, "created_at=%s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	if rec.StartedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "started_at=%s\n", rec.StartedAt.UTC().Format(time.RFC3339))
	}
	if rec.CompletedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "completed_at=%s\n", rec.CompletedAt.UTC().Format(time.RFC3339))
	}
	if rec.Fault != "" {
		_, _ = fmt.Fprintf(os.Stdout, "fault=%s\n", rec.Fault)
	}
	for _, e := range rec.Errors {
		_, _ = fmt.Fprintf(os.Stdout, "error: item=%s %s\n", e.ItemID, e.Message)
	}

	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	cfg := config.GetConfig()

	jobID := strings.TrimSpace(args[0])
	if store, err := jobsStore(); err == nil {
		if resolved, err := resolveJobID(store, jobID); err == nil {
			jobID = resolved
		}
	}

	base := jobsServerURL
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	url := fmt.Sprintf("%s/api/jobs/%s/cancel", strings.TrimRight(base, "/"), jobID)

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, nil)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid server URL", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to reach server", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return exitError(foundry.ExitExternalServiceUnavailable, "Cancel rejected",
			fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	_, _ = fmt.Fprintf(os.Stdout, "Cancellation requested for job %s\n", jobID)
	return nil
}

func shortJobID(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if len(jobID) <= 12 {
		return jobID
	}
	return jobID[:12]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// resolveJobID accepts a full job id or a unique prefix (table output
// shows shortened ids).
func resolveJobID(store *jobs.Store, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("job_id is required")
	}

	// Exact match first.
	if _, err := store.Get(input); err == nil {
		return input, nil
	}

	// Prefix match (allows table-friendly short IDs).
	records, err := store.List()
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, j := range records {
		if strings.HasPrefix(j.ID, input) {
			matches = append(matches, j.ID)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("job not found: %s", input)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("job id prefix is ambiguous (%d matches); use full job_id or --json", len(matches))
	}
	return matches[0], nil
}
