package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// SaveResult inserts the immutable result of a job and returns its id.
// A job has at most one result.
func (r *ResearchJobRepository) SaveResult(ctx context.Context, result *domain.ResearchResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("research result cannot be nil")
	}
	id := result.ID
	if id == "" {
		id = uuid.NewString()
	}

	sources, err := json.Marshal(nonNil(result.Sources))
	if err != nil {
		return "", fmt.Errorf("failed to encode sources: %w", err)
	}
	claims, err := json.Marshal(nonNil(result.Claims))
	if err != nil {
		return "", fmt.Errorf("failed to encode claims: %w", err)
	}
	evidence := result.Evidence
	if evidence == nil {
		evidence = map[string][]string{}
	}
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return "", fmt.Errorf("failed to encode evidence: %w", err)
	}
	usage, err := json.Marshal(result.TokenUsage)
	if err != nil {
		return "", fmt.Errorf("failed to encode token usage: %w", err)
	}

	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO research_results (id, job_id, synthesis, synthesis_error, sources, claims, evidence, token_usage, report_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, result.JobID, result.Synthesis, nullableString(result.SynthesisError),
		sources, claims, evidenceJSON, usage, nullableString(result.ReportKey), createdAt,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// CompleteWithResult saves the result and completes its job in one
// transaction. The job row is locked first, so a concurrent cancel either wins
// and nothing is written, or waits and then finds the job completed.
func (r *ResearchJobRepository) CompleteWithResult(ctx context.Context, result *domain.ResearchResult, in domain.CompletionInput) (string, error) {
	if result == nil {
		return "", fmt.Errorf("research result cannot be nil")
	}
	if _, err := uuid.Parse(result.JobID); err != nil {
		return "", domain.ErrJobNotFound
	}

	var resultID string
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var status domain.JobStatus
		err := tx.QueryRow(ctx, `SELECT status FROM research_jobs WHERE id = $1 FOR UPDATE`, result.JobID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrJobNotFound
			}
			return err
		}
		if status.IsTerminal() {
			return domain.ErrJobTerminal
		}

		txRepo := &ResearchJobRepository{db: tx, now: r.now}
		id, err := txRepo.SaveResult(ctx, result)
		if err != nil {
			return err
		}
		in.ResultID = id
		if err := txRepo.CompleteJob(ctx, result.JobID, in); err != nil {
			return err
		}
		resultID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return resultID, nil
}

// GetResultByJobID returns the stored result for a job.
func (r *ResearchJobRepository) GetResultByJobID(ctx context.Context, jobID string) (*domain.ResearchResult, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrResultNotFound
	}

	var result domain.ResearchResult
	var synthesisErr, reportKey pgtype.Text
	var sources, claims, evidence, usage []byte
	err := r.db.QueryRow(ctx,
		`SELECT id, job_id, synthesis, synthesis_error, sources, claims, evidence, token_usage, report_key, created_at
		 FROM research_results WHERE job_id = $1`,
		jobID,
	).Scan(&result.ID, &result.JobID, &result.Synthesis, &synthesisErr, &sources, &claims, &evidence, &usage, &reportKey, &result.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrResultNotFound
		}
		return nil, err
	}

	if synthesisErr.Valid {
		result.SynthesisError = synthesisErr.String
	}
	if reportKey.Valid {
		result.ReportKey = reportKey.String
	}
	if err := json.Unmarshal(sources, &result.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources: %w", err)
	}
	if err := json.Unmarshal(claims, &result.Claims); err != nil {
		return nil, fmt.Errorf("failed to decode claims: %w", err)
	}
	if err := json.Unmarshal(evidence, &result.Evidence); err != nil {
		return nil, fmt.Errorf("failed to decode evidence: %w", err)
	}
	if err := json.Unmarshal(usage, &result.TokenUsage); err != nil {
		return nil, fmt.Errorf("failed to decode token usage: %w", err)
	}
	return &result, nil
}

// AddSource persists one scored source row and returns its id.
func (r *ResearchJobRepository) AddSource(ctx context.Context, source *domain.Source) (string, error) {
	if err := domain.ValidateSource(source); err != nil {
		return "", err
	}
	id := source.ID
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	createdAt := source.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO research_sources
			(id, job_id, text, url, title, published_at, retrieval_method, rrf_score, channel_score,
			 domain_authority, credibility_tier, recency_score, relevance_score, credibility_score, composite_score, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		id, source.JobID, source.Text, nullableString(source.URL), nullableString(source.Title), source.PublishedAt,
		source.RetrievalMethod, source.RRFScore, source.ChannelScore, source.DomainAuthority,
		nullableString(string(source.CredibilityTier)), source.RecencyScore, source.RelevanceScore,
		source.CredibilityScore, source.CompositeScore, createdAt,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListSources returns the persisted sources of a job ordered by composite
// score, highest first.
func (r *ResearchJobRepository) ListSources(ctx context.Context, jobID string) ([]domain.Source, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, job_id, text, url, title, published_at, retrieval_method, rrf_score, channel_score,
		        domain_authority, credibility_tier, recency_score, relevance_score, credibility_score, composite_score, created_at
		 FROM research_sources
		 WHERE job_id = $1
		 ORDER BY composite_score DESC, created_at ASC`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		var s domain.Source
		var url, title, tier pgtype.Text
		if err := rows.Scan(&s.ID, &s.JobID, &s.Text, &url, &title, &s.PublishedAt, &s.RetrievalMethod,
			&s.RRFScore, &s.ChannelScore, &s.DomainAuthority, &tier, &s.RecencyScore, &s.RelevanceScore,
			&s.CredibilityScore, &s.CompositeScore, &s.CreatedAt); err != nil {
			return nil, err
		}
		if url.Valid {
			s.URL = url.String
		}
		if title.Valid {
			s.Title = title.String
		}
		if tier.Valid {
			s.CredibilityTier = domain.CredibilityTier(tier.String)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
