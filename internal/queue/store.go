package queue

import (
	"context"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/cloo-solutions/deepresearch/internal/pipeline"
	"github.com/cloo-solutions/deepresearch/internal/scoring"
)

// JobStore is the source of truth for job state. Missing jobs are reported by
// GetJob as (nil, nil). Guarded updates return domain.ErrJobTerminal when the
// job already reached a terminal status and domain.ErrJobNotFound when it does
// not exist.
type JobStore interface {
	CreateJob(ctx context.Context, spec domain.JobSpec) (*domain.ResearchJob, error)
	GetJob(ctx context.Context, id string) (*domain.ResearchJob, error)
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus, extra domain.StatusExtra) error
	UpdateStageProgress(ctx context.Context, id string, stage domain.Stage, pct int) error
	SetQueryDecomposition(ctx context.Context, id string, subQuestions []string) error
	FailJob(ctx context.Context, id string, message string) error
	// CompleteWithResult saves the result and completes the job atomically.
	// It writes nothing when the job is already terminal.
	CompleteWithResult(ctx context.Context, result *domain.ResearchResult, in domain.CompletionInput) (string, error)
	AddSource(ctx context.Context, source *domain.Source) (string, error)
	GetQueueSummary(ctx context.Context) (map[domain.JobStatus]int, error)
	ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.ResearchJob, error)
	ExpireStale(ctx context.Context, olderThan time.Time) ([]string, error)
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
}

// ReportArchive stores synthesized reports outside the database.
type ReportArchive interface {
	PutReport(ctx context.Context, jobID string, markdown []byte) (string, error)
	DeleteReport(ctx context.Context, key string) error
}

type Decomposer interface {
	Decompose(ctx context.Context, query string) pipeline.StageResult[pipeline.Decomposition]
}

type Retriever interface {
	Retrieve(ctx context.Context, subQuestions []string, scopeID string) pipeline.StageResult[pipeline.Retrieval]
}

type Assessor interface {
	Assess(ctx context.Context, query string, sources []domain.Source) pipeline.StageResult[pipeline.Assessment]
}

type Synthesizer interface {
	Synthesize(ctx context.Context, query string, sources []domain.Source, claims []domain.Claim, confidence scoring.JobConfidence) pipeline.StageResult[pipeline.Report]
}

// Stages bundles the four stage workers, run strictly in this order.
type Stages struct {
	Decomposer  Decomposer
	Retriever   Retriever
	Assessor    Assessor
	Synthesizer Synthesizer
}
