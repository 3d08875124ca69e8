package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/spf13/cobra"
)

// ResearchJob represents a research job from the API.
type ResearchJob struct {
	ID                 string         `json:"id"`
	Query              string         `json:"query"`
	ScopeID            string         `json:"scope_id,omitempty"`
	Status             string         `json:"status"`
	CurrentStage       string         `json:"current_stage,omitempty"`
	StageProgress      map[string]int `json:"stage_progress"`
	QueryDecomposition []string       `json:"query_decomposition"`
	ConfidenceScore    float64        `json:"confidence_score"`
	SourceCount        int            `json:"source_count"`
	ClaimCount         int            `json:"claim_count"`
	HasContradictions  bool           `json:"has_contradictions"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	CreatedAt          string         `json:"created_at"`
	CompletedAt        string         `json:"completed_at,omitempty"`
}

func (j *ResearchJob) terminal() bool {
	return domain.JobStatus(j.Status).IsTerminal()
}

// QueueSummary represents the queue counters from the API.
type QueueSummary struct {
	Counts  map[string]int `json:"counts"`
	Pending int            `json:"pending"`
	Active  int            `json:"active"`
}

func outputJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("output")
	return v
}

func printJSON(w io.Writer, v interface{}) {
	output, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(output))
}

// SubmitCmd creates the submit command.
func SubmitCmd() *cobra.Command {
	var (
		scope string
		wait  bool
		poll  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit <query>",
		Short: "Submit a research question",
		Long:  "Queues a research job and prints its ID. With --wait, blocks until the job finishes and prints the report.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runSubmit(cmd.Context(), api, cmd.OutOrStdout(), strings.Join(args, " "), scope, wait, poll, outputJSON(cmd))
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Knowledge scope to search")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish")
	cmd.Flags().DurationVar(&poll, "poll", 2*time.Second, "Polling interval used with --wait")

	return cmd
}

func runSubmit(ctx context.Context, api *APIClient, w io.Writer, query, scope string, wait bool, poll time.Duration, asJSON bool) error {
	resp, err := api.Post("/research", map[string]string{"query": query, "scope_id": scope})
	if err != nil {
		return fmt.Errorf("failed to submit research: %w", err)
	}

	var job ResearchJob
	if err := json.Unmarshal(resp.Data, &job); err != nil {
		return fmt.Errorf("failed to parse job: %w", err)
	}

	if !wait {
		if asJSON {
			printJSON(w, job)
		} else {
			fmt.Fprintf(w, "Submitted job %s (%s)\n", job.ID, job.Status)
		}
		return nil
	}

	final, err := waitForJob(ctx, api, job.ID, poll)
	if err != nil {
		return err
	}
	if final.Status != string(domain.JobStatusCompleted) {
		if asJSON {
			printJSON(w, final)
			return nil
		}
		return fmt.Errorf("job %s ended %s: %s", final.ID, final.Status, final.ErrorMessage)
	}
	return runResult(api, w, final.ID, asJSON)
}

func waitForJob(ctx context.Context, api *APIClient, id string, poll time.Duration) (*ResearchJob, error) {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		job, err := fetchJob(api, id)
		if err != nil {
			return nil, err
		}
		if job.terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func fetchJob(api *APIClient, id string) (*ResearchJob, error) {
	resp, err := api.Get("/research/" + url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	var job ResearchJob
	if err := json.Unmarshal(resp.Data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	return &job, nil
}

// StatusCmd creates the status command.
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status <job_id>",
		Short:   "Show a research job",
		Aliases: []string{"get"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runStatus(api, cmd.OutOrStdout(), args[0], outputJSON(cmd))
		},
	}
}

func runStatus(api *APIClient, w io.Writer, id string, asJSON bool) error {
	job, err := fetchJob(api, id)
	if err != nil {
		return err
	}
	if asJSON {
		printJSON(w, job)
		return nil
	}

	fmt.Fprintf(w, "Job: %s\n", job.ID)
	fmt.Fprintf(w, "Query: %s\n", job.Query)
	if job.ScopeID != "" {
		fmt.Fprintf(w, "Scope: %s\n", job.ScopeID)
	}
	fmt.Fprintf(w, "Status: %s\n", job.Status)
	if job.CurrentStage != "" {
		fmt.Fprintf(w, "Stage: %s (%d%%)\n", job.CurrentStage, job.StageProgress[job.CurrentStage])
	}
	if len(job.QueryDecomposition) > 0 {
		fmt.Fprintln(w, "Sub-questions:")
		for _, q := range job.QueryDecomposition {
			fmt.Fprintf(w, "  - %s\n", q)
		}
	}
	if job.Status == string(domain.JobStatusCompleted) {
		fmt.Fprintf(w, "Confidence: %.2f (%d sources, %d claims)\n", job.ConfidenceScore, job.SourceCount, job.ClaimCount)
		if job.HasContradictions {
			fmt.Fprintln(w, "Contradictions: yes")
		}
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(w, "Error: %s\n", job.ErrorMessage)
	}
	return nil
}

// CancelCmd creates the cancel command.
func CancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job_id>",
		Short: "Cancel a queued or running research job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runCancel(api, cmd.OutOrStdout(), args[0])
		},
	}
}

func runCancel(api *APIClient, w io.Writer, id string) error {
	resp, err := api.Post("/research/"+url.PathEscape(id)+"/cancel", nil)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Cancelled {
		fmt.Fprintf(w, "Cancelled job %s\n", id)
	} else {
		fmt.Fprintf(w, "Job %s had already finished\n", id)
	}
	return nil
}

// QueueCmd creates the queue command.
func QueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runQueue(api, cmd.OutOrStdout(), outputJSON(cmd))
		},
	}
}

func runQueue(api *APIClient, w io.Writer, asJSON bool) error {
	resp, err := api.Get("/research/queue")
	if err != nil {
		return fmt.Errorf("failed to get queue: %w", err)
	}
	var summary QueueSummary
	if err := json.Unmarshal(resp.Data, &summary); err != nil {
		return fmt.Errorf("failed to parse queue: %w", err)
	}
	if asJSON {
		printJSON(w, summary)
		return nil
	}

	fmt.Fprintf(w, "Pending: %d\nActive: %d\n", summary.Pending, summary.Active)
	statuses := make([]string, 0, len(summary.Counts))
	for status := range summary.Counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(w, "  %-13s %d\n", status, summary.Counts[status])
	}
	return nil
}

// ResultCmd creates the result command.
func ResultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result <job_id>",
		Short: "Print the report of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runResult(api, cmd.OutOrStdout(), args[0], outputJSON(cmd))
		},
	}
}

func runResult(api *APIClient, w io.Writer, id string, asJSON bool) error {
	resp, err := api.Get("/research/" + url.PathEscape(id) + "/result")
	if err != nil {
		return fmt.Errorf("failed to get result: %w", err)
	}
	var result domain.ResearchResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse result: %w", err)
	}
	if asJSON {
		printJSON(w, result)
		return nil
	}

	fmt.Fprintln(w, result.Synthesis)
	if result.SynthesisError != "" {
		fmt.Fprintf(w, "\n(synthesis degraded: %s)\n", result.SynthesisError)
	}
	if len(result.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for i, src := range result.Sources {
			label := src.Title
			if label == "" {
				label = src.URL
			}
			if label == "" {
				label = string(src.RetrievalMethod)
			}
			fmt.Fprintf(w, "  [%d] %s (%s, %.2f)\n", i+1, label, src.CredibilityTier, src.CompositeScore)
		}
	}
	return nil
}

// ReportCmd creates the report command.
func ReportCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "report <job_id>",
		Short: "Download the archived markdown report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			if err := api.DownloadFile("/research/"+url.PathEscape(args[0])+"/report", outputPath, cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("failed to download report: %w", err)
			}
			if outputPath != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Report saved to %s\n", outputPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "file", "f", "", "Write the report to this file instead of stdout")

	return cmd
}

// WatchCmd creates the watch command.
func WatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [job_id]",
		Short: "Stream lifecycle events",
		Long:  "Streams research events as they happen. With a job ID, stops once that job reaches a terminal state.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			jobID := ""
			if len(args) == 1 {
				jobID = args[0]
			}
			return runWatch(cmd.Context(), api, cmd.OutOrStdout(), jobID, outputJSON(cmd))
		},
	}
}

func runWatch(ctx context.Context, api *APIClient, w io.Writer, jobID string, asJSON bool) error {
	path := "/research/events"
	if jobID != "" {
		path += "?job_id=" + url.QueryEscape(jobID)
	}

	return api.Stream(ctx, path, func(se StreamEvent) bool {
		if asJSON {
			fmt.Fprintln(w, string(se.Data))
		} else {
			var event domain.Event
			if err := json.Unmarshal(se.Data, &event); err != nil {
				return true
			}
			line := fmt.Sprintf("%s %s %s", event.Timestamp.Format("15:04:05"), event.JobID, event.Name)
			if event.Stage != "" {
				line += fmt.Sprintf(" %s %d%%", event.Stage, event.Progress)
			}
			if event.Message != "" {
				line += " " + event.Message
			}
			fmt.Fprintln(w, line)
		}

		if jobID == "" {
			return true
		}
		switch domain.EventName(se.Name) {
		case domain.EventCompleted, domain.EventFailed, domain.EventCancelled, domain.EventExpired:
			return false
		}
		return true
	})
}
