package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, query, scope_id, status, current_stage, stage_progress, query_decomposition,
	confidence_score, source_count, claim_count, has_contradictions, result_id, error_message,
	created_at, updated_at, started_at, completed_at`

// ResearchJobRepository is the Postgres job store. Every write against a job
// row is a single guarded statement that refuses to touch terminal rows.
type ResearchJobRepository struct {
	db  dbtx
	now func() time.Time
}

func NewResearchJobRepository(pool *pgxpool.Pool) *ResearchJobRepository {
	return &ResearchJobRepository{db: pool, now: time.Now}
}

func (r *ResearchJobRepository) CreateJob(ctx context.Context, spec domain.JobSpec) (*domain.ResearchJob, error) {
	spec, err := spec.Normalize()
	if err != nil {
		return nil, err
	}

	job := domain.NewResearchJob(uuid.NewString(), spec, r.now().UTC().Truncate(time.Microsecond))
	_, err = r.db.Exec(ctx,
		`INSERT INTO research_jobs (id, query, scope_id, status, stage_progress, query_decomposition, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, '{}'::jsonb, '[]'::jsonb, $5, $5)`,
		job.ID, job.Query, nullableString(job.ScopeID), job.Status, job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob returns (nil, nil) when the job does not exist.
func (r *ResearchJobRepository) GetJob(ctx context.Context, id string) (*domain.ResearchJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	job, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM research_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// UpdateStatus moves a job along the lifecycle. The statement only matches
// rows whose current status may legally transition to status.
func (r *ResearchJobRepository) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, extra domain.StatusExtra) error {
	if !status.IsValid() {
		return domain.ErrInvalidJobStatus
	}
	from := transitionSources(status)
	if len(from) == 0 {
		return domain.ErrInvalidTransition
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE research_jobs
		 SET status = $2,
		     current_stage = COALESCE($3, current_stage),
		     error_message = COALESCE($4, error_message),
		     started_at = CASE WHEN $2 = 'processing' THEN COALESCE(started_at, NOW()) ELSE started_at END,
		     completed_at = CASE WHEN $5 THEN NOW() ELSE completed_at END,
		     updated_at = NOW()
		 WHERE id = $1 AND status = ANY($6)`,
		id, status, nullableString(string(extra.Stage)), nullableString(extra.ErrorMessage), status.IsTerminal(), from,
	)
	return r.guard(ctx, id, tag, err)
}

func (r *ResearchJobRepository) UpdateStageProgress(ctx context.Context, id string, stage domain.Stage, pct int) error {
	if !stage.IsValid() {
		return domain.ErrInvalidJobStage
	}
	if pct < 0 || pct > 100 {
		return domain.ErrInvalidProgress
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE research_jobs
		 SET stage_progress = stage_progress || jsonb_build_object($2::text, $3::int),
		     current_stage = $2,
		     updated_at = NOW()
		 WHERE id = $1 AND status = ANY($4)`,
		id, string(stage), pct, activeStatuses(),
	)
	return r.guard(ctx, id, tag, err)
}

func (r *ResearchJobRepository) SetQueryDecomposition(ctx context.Context, id string, subQuestions []string) error {
	if subQuestions == nil {
		subQuestions = []string{}
	}
	payload, err := json.Marshal(subQuestions)
	if err != nil {
		return fmt.Errorf("failed to encode decomposition: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE research_jobs SET query_decomposition = $2, updated_at = NOW()
		 WHERE id = $1 AND status = ANY($3)`,
		id, payload, activeStatuses(),
	)
	return r.guard(ctx, id, tag, err)
}

func (r *ResearchJobRepository) CompleteJob(ctx context.Context, id string, in domain.CompletionInput) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE research_jobs
		 SET status = $2,
		     result_id = $3,
		     confidence_score = $4,
		     source_count = $5,
		     claim_count = $6,
		     has_contradictions = $7,
		     completed_at = NOW(),
		     updated_at = NOW()
		 WHERE id = $1 AND status = ANY($8)`,
		id, domain.JobStatusCompleted, nullableString(in.ResultID), in.ConfidenceScore,
		in.SourceCount, in.ClaimCount, in.HasContradictions, transitionSources(domain.JobStatusCompleted),
	)
	return r.guard(ctx, id, tag, err)
}

func (r *ResearchJobRepository) FailJob(ctx context.Context, id string, message string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE research_jobs
		 SET status = $2, error_message = $3, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = ANY($4)`,
		id, domain.JobStatusFailed, message, transitionSources(domain.JobStatusFailed),
	)
	return r.guard(ctx, id, tag, err)
}

// GetQueueSummary tallies jobs per status. Every known status is present in
// the result, with zero when no job is in it.
func (r *ResearchJobRepository) GetQueueSummary(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM research_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int, len(domain.AllJobStatuses))
	for _, status := range domain.AllJobStatuses {
		counts[status] = 0
	}
	for rows.Next() {
		var status domain.JobStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = int(n)
	}
	return counts, rows.Err()
}

// ListByStatus returns jobs in status, oldest first. A non-positive limit
// returns every match.
func (r *ResearchJobRepository) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.ResearchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM research_jobs WHERE status = $1 ORDER BY created_at ASC`
	args := []any{status}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.ResearchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ExpireStale moves every non-terminal job not updated since olderThan to
// expired and returns the affected ids.
func (r *ResearchJobRepository) ExpireStale(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE research_jobs
		 SET status = $1, completed_at = NOW(), updated_at = NOW()
		 WHERE status = ANY($2) AND updated_at < $3
		 RETURNING id`,
		domain.JobStatusExpired, activeStatuses(), olderThan,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// guard resolves a guarded update that matched no row into the reason it
// did not apply.
func (r *ResearchJobRepository) guard(ctx context.Context, id string, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return domain.ErrJobNotFound
	}
	var status domain.JobStatus
	err = r.db.QueryRow(ctx, `SELECT status FROM research_jobs WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		return err
	}
	if status.IsTerminal() {
		return domain.ErrJobTerminal
	}
	return domain.ErrInvalidTransition
}

func scanJob(row pgx.Row) (*domain.ResearchJob, error) {
	var job domain.ResearchJob
	var scopeID, currentStage, resultID, errMsg pgtype.Text
	var progress, decomposition []byte
	err := row.Scan(
		&job.ID, &job.Query, &scopeID, &job.Status, &currentStage, &progress, &decomposition,
		&job.ConfidenceScore, &job.SourceCount, &job.ClaimCount, &job.HasContradictions, &resultID, &errMsg,
		&job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if scopeID.Valid {
		job.ScopeID = scopeID.String
	}
	if currentStage.Valid {
		job.CurrentStage = domain.Stage(currentStage.String)
	}
	if resultID.Valid {
		job.ResultID = resultID.String
	}
	if errMsg.Valid {
		job.ErrorMessage = errMsg.String
	}

	job.StageProgress = make(map[domain.Stage]int, len(domain.Stages))
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &job.StageProgress); err != nil {
			return nil, fmt.Errorf("failed to decode stage progress: %w", err)
		}
	}
	if len(decomposition) > 0 {
		if err := json.Unmarshal(decomposition, &job.QueryDecomposition); err != nil {
			return nil, fmt.Errorf("failed to decode query decomposition: %w", err)
		}
	}
	return &job, nil
}

// transitionSources lists the statuses a job may be in to move to status.
func transitionSources(to domain.JobStatus) []string {
	var from []string
	for _, status := range domain.AllJobStatuses {
		if domain.CanTransition(status, to) {
			from = append(from, string(status))
		}
	}
	return from
}

func activeStatuses() []string {
	var active []string
	for _, status := range domain.AllJobStatuses {
		if !status.IsTerminal() {
			active = append(active, string(status))
		}
	}
	return active
}
