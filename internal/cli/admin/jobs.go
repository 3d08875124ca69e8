package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/config"
	"github.com/cloo-solutions/deepresearch/internal/database"
	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/cloo-solutions/deepresearch/internal/queue"
	"github.com/cloo-solutions/deepresearch/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func JobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and maintain research jobs",
		Long:  "List research jobs straight from the database and run maintenance sweeps",
	}

	cmd.AddCommand(JobsListCmd())
	cmd.AddCommand(JobsExpireCmd())

	return cmd
}

func JobsListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List research jobs by status",
		Long:  "List research jobs with the given status, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runJobsList(cmd.Context(), domain.JobStatus(status), limit, outputFormat)
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", string(domain.JobStatusQueued), "Job status to list")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results (0 for all)")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runJobsList(ctx context.Context, status domain.JobStatus, limit int, outputFormat string) error {
	if !status.IsValid() {
		return fmt.Errorf("unknown status %q", status)
	}

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	jobs, err := repository.NewResearchJobRepository(pool).ListByStatus(ctx, status, limit)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if outputFormat == "json" {
		data := make([]map[string]interface{}, len(jobs))
		for i, job := range jobs {
			data[i] = map[string]interface{}{
				"id":         job.ID,
				"query":      job.Query,
				"scope_id":   job.ScopeID,
				"status":     job.Status,
				"stage":      job.CurrentStage,
				"created_at": job.CreatedAt,
				"updated_at": job.UpdatedAt,
			}
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
		return nil
	}

	if len(jobs) == 0 {
		fmt.Printf("No %s jobs found\n", status)
		return nil
	}
	fmt.Printf("%s jobs:\n", status)
	for _, job := range jobs {
		fmt.Printf("  %s: %s (created: %s)\n", job.ID, job.Query, job.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func JobsExpireCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire stale jobs once",
		Long:  "Mark every non-terminal job without progress for longer than the TTL as expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsExpire(cmd.Context(), ttl)
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Override RESEARCH_JOB_TTL")

	return cmd
}

func runJobsExpire(ctx context.Context, ttl time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if ttl <= 0 {
		ttl = cfg.JobTTL
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	bus, closeSinks, err := newEventBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	n, err := queue.NewExpiryProcessor(repository.NewResearchJobRepository(pool), bus, ttl).ExpireStale(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Expired %d jobs\n", n)
	return nil
}

func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			dir, _ := cmd.Flags().GetString("migrations")
			return database.Migrate(cfg.DatabaseURL, dir)
		},
	}

	cmd.Flags().String("migrations", "migrations", "Directory holding the SQL migrations")

	return cmd
}

func getDBPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return openPool(ctx, cfg)
}
