// Package queue schedules research jobs. Jobs are admitted FIFO up to a
// concurrency limit, and each admitted job runs the four pipeline stages
// strictly in sequence.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/cloo-solutions/deepresearch/internal/telemetry"
)

const DefaultMaxConcurrency = 3

// errStopped signals that a checkpoint found the job cancelled or otherwise
// finished by another path.
var errStopped = errors.New("job stopped")

// Config tunes the scheduler.
type Config struct {
	MaxConcurrency int
	// FailOnSynthesisError marks jobs FAILED when synthesis degrades. When
	// false the job completes and the error is kept on the result.
	FailOnSynthesisError bool
}

// Service accepts submissions and drives jobs through the pipeline.
type Service struct {
	store   JobStore
	stages  Stages
	events  Publisher
	archive ReportArchive
	cfg     Config

	mu      sync.Mutex
	idle    *sync.Cond
	pending []string
	active  int
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, domain.Event) {}

// NewService creates a queue service. events and archive may be nil.
func NewService(store JobStore, stages Stages, events Publisher, archive ReportArchive, cfg Config) *Service {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if events == nil {
		events = noopPublisher{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:   store,
		stages:  stages,
		events:  events,
		archive: archive,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Submit creates the job, queues it and returns without waiting for it to run.
func (s *Service) Submit(ctx context.Context, spec domain.JobSpec) (*domain.ResearchJob, error) {
	spec, err := spec.Normalize()
	if err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, domain.ErrQueueShuttingDown
	}

	job, err := s.store.CreateJob(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.publish(ctx, domain.Event{Name: domain.EventQueued, JobID: job.ID, Status: domain.JobStatusQueued})
	s.enqueue(job.ID)
	return job, nil
}

// Cancel stops a non-terminal job. Queued jobs never start; running jobs stop
// at their next stage boundary. It returns false when the job is missing or
// already terminal.
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return false, fmt.Errorf("get job: %w", err)
	}
	if job == nil || job.IsTerminal() {
		return false, nil
	}

	s.removePending(id)

	err = s.store.UpdateStatus(ctx, id, domain.JobStatusCancelled, domain.StatusExtra{})
	if errors.Is(err, domain.ErrJobTerminal) || errors.Is(err, domain.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}

	log.Printf("queue: job %s cancelled", id)
	s.publish(ctx, domain.Event{Name: domain.EventCancelled, JobID: id, Status: domain.JobStatusCancelled})
	return true, nil
}

// Summary returns the per-status tally from the store plus in-memory counters.
func (s *Service) Summary(ctx context.Context) (domain.QueueSummary, error) {
	counts, err := s.store.GetQueueSummary(ctx)
	if err != nil {
		return domain.QueueSummary{}, fmt.Errorf("queue summary: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.QueueSummary{Counts: counts, Pending: len(s.pending), Active: s.active}, nil
}

// QueueLength is the number of jobs waiting for a processor.
func (s *Service) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ActiveCount is the number of jobs currently being processed.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Resume re-queues jobs that are still QUEUED in the store, oldest first.
// Jobs left PROCESSING by a previous run are handled by expiry.
func (s *Service) Resume(ctx context.Context) (int, error) {
	jobs, err := s.store.ListByStatus(ctx, domain.JobStatusQueued, 0)
	if err != nil {
		return 0, fmt.Errorf("list queued jobs: %w", err)
	}

	s.mu.Lock()
	queued := make(map[string]bool, len(s.pending))
	for _, id := range s.pending {
		queued[id] = true
	}
	s.mu.Unlock()

	resumed := 0
	for _, job := range jobs {
		if queued[job.ID] {
			continue
		}
		s.enqueue(job.ID)
		resumed++
	}
	if resumed > 0 {
		log.Printf("queue: resumed %d queued jobs", resumed)
	}
	return resumed, nil
}

// Wait blocks until no job is running and nothing is pending, or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.idle.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.active > 0 || (len(s.pending) > 0 && !s.closed) {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.idle.Wait()
	}
	return nil
}

// Shutdown stops admitting work and waits for running jobs. Pending jobs stay
// QUEUED in the store for the next Resume. If ctx ends first, in-flight calls
// are cancelled.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	dropped := len(s.pending)
	s.pending = nil
	s.idle.Broadcast()
	s.mu.Unlock()

	if dropped > 0 {
		log.Printf("queue: shutting down with %d jobs left queued", dropped)
	}
	err := s.Wait(ctx)
	if err != nil {
		s.cancel()
	}
	return err
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Service) enqueue(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, id)
	s.drainLocked()
}

func (s *Service) removePending(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, pendingID := range s.pending {
		if pendingID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			s.idle.Broadcast()
			return
		}
	}
}

// drainLocked starts pending jobs while capacity remains. Callers hold s.mu.
func (s *Service) drainLocked() {
	for s.active < s.cfg.MaxConcurrency && len(s.pending) > 0 && !s.closed {
		id := s.pending[0]
		s.pending = s.pending[1:]
		s.active++
		go s.run(id)
	}
}

func (s *Service) run(id string) {
	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("panic: %v", r)
			telemetry.CaptureError(s.ctx, fmt.Errorf("research job %s: %w", id, cause))
			s.fail(s.ctx, id, cause)
		}
		s.mu.Lock()
		s.active--
		s.drainLocked()
		s.idle.Broadcast()
		s.mu.Unlock()
	}()

	if err := s.processJob(s.ctx, id); err != nil {
		s.fail(s.ctx, id, err)
	}
}

func (s *Service) fail(ctx context.Context, id string, cause error) {
	log.Printf("queue: job %s failed: %v", id, cause)

	err := s.store.FailJob(ctx, id, cause.Error())
	if errors.Is(err, domain.ErrJobTerminal) || errors.Is(err, domain.ErrJobNotFound) {
		return
	}
	if err != nil {
		log.Printf("queue: failed to record failure for job %s: %v", id, err)
		return
	}
	s.publish(ctx, domain.Event{Name: domain.EventFailed, JobID: id, Status: domain.JobStatusFailed, Message: cause.Error()})
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	s.events.Publish(ctx, event)
}

// processJob runs the stages in order. A nil return covers both completion
// and a job stopped by cancellation; any error is a hard failure.
func (s *Service) processJob(ctx context.Context, id string) error {
	ctx, span := telemetry.StartJobSpan(ctx, id)
	defer span.End()

	err := s.runStages(ctx, id)
	if errors.Is(err, errStopped) || errors.Is(err, domain.ErrJobTerminal) {
		log.Printf("queue: job %s stopped before completion", id)
		return nil
	}
	if err != nil {
		span.Fail(fmt.Errorf("research job %s: %w", id, err))
	}
	return err
}

func (s *Service) runStages(ctx context.Context, id string) error {
	job, err := s.checkpoint(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.UpdateStatus(ctx, id, domain.JobStatusProcessing, domain.StatusExtra{Stage: domain.StageDecomposition}); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	var usage domain.TokenUsage

	// Decomposition
	if err := s.beginStage(ctx, job, domain.StageDecomposition, domain.JobStatusProcessing); err != nil {
		return err
	}
	stageCtx, span := s.stageSpan(ctx, id, domain.StageDecomposition)
	decomposed := s.stages.Decomposer.Decompose(stageCtx, job.Query)
	closeStageSpan(span, decomposed.Degraded, decomposed.Cause)
	subQuestions := decomposed.Value.SubQuestions
	usage.Add(decomposed.Value.Usage)
	if err := s.store.SetQueryDecomposition(ctx, id, subQuestions); err != nil {
		return fmt.Errorf("save decomposition: %w", err)
	}
	if err := s.endStage(ctx, job, domain.StageDecomposition, domain.JobStatusProcessing, decomposed.Degraded); err != nil {
		return err
	}

	// Retrieval
	if _, err := s.checkpoint(ctx, id); err != nil {
		return err
	}
	if err := s.beginStage(ctx, job, domain.StageRetrieval, domain.JobStatusProcessing); err != nil {
		return err
	}
	stageCtx, span = s.stageSpan(ctx, id, domain.StageRetrieval)
	retrieved := s.stages.Retriever.Retrieve(stageCtx, subQuestions, job.ScopeID)
	closeStageSpan(span, retrieved.Degraded, retrieved.Cause)
	if err := s.endStage(ctx, job, domain.StageRetrieval, domain.JobStatusProcessing, retrieved.Degraded); err != nil {
		return err
	}

	// Scoring
	if _, err := s.checkpoint(ctx, id); err != nil {
		return err
	}
	if err := s.beginStage(ctx, job, domain.StageScoring, domain.JobStatusProcessing); err != nil {
		return err
	}
	stageCtx, span = s.stageSpan(ctx, id, domain.StageScoring)
	assessed := s.stages.Assessor.Assess(stageCtx, job.Query, retrieved.Value.Sources)
	closeStageSpan(span, assessed.Degraded, assessed.Cause)
	usage.Add(assessed.Value.Usage)
	sources := assessed.Value.Sources
	for i := range sources {
		sources[i].JobID = id
		sourceID, err := s.store.AddSource(ctx, &sources[i])
		if err != nil {
			return fmt.Errorf("save source: %w", err)
		}
		sources[i].ID = sourceID
	}
	if err := s.endStage(ctx, job, domain.StageScoring, domain.JobStatusProcessing, assessed.Degraded); err != nil {
		return err
	}

	// Synthesis
	if _, err := s.checkpoint(ctx, id); err != nil {
		return err
	}
	if err := s.store.UpdateStatus(ctx, id, domain.JobStatusSynthesizing, domain.StatusExtra{Stage: domain.StageSynthesis}); err != nil {
		return fmt.Errorf("mark synthesizing: %w", err)
	}
	if err := s.beginStage(ctx, job, domain.StageSynthesis, domain.JobStatusSynthesizing); err != nil {
		return err
	}
	confidence := assessed.Value.Confidence
	stageCtx, span = s.stageSpan(ctx, id, domain.StageSynthesis)
	synthesized := s.stages.Synthesizer.Synthesize(stageCtx, job.Query, sources, assessed.Value.Claims, confidence)
	closeStageSpan(span, synthesized.Degraded, synthesized.Cause)
	usage.Add(synthesized.Value.Usage)
	if err := s.endStage(ctx, job, domain.StageSynthesis, domain.JobStatusSynthesizing, synthesized.Degraded); err != nil {
		return err
	}
	if synthesized.Degraded && s.cfg.FailOnSynthesisError {
		return fmt.Errorf("synthesis failed: %w", synthesized.Cause)
	}

	// Completion
	if _, err := s.checkpoint(ctx, id); err != nil {
		return err
	}
	result := &domain.ResearchResult{
		JobID:      id,
		Synthesis:  synthesized.Value.Markdown,
		Sources:    sources,
		Claims:     assessed.Value.Claims,
		Evidence:   retrieved.Value.Evidence,
		TokenUsage: usage,
		CreatedAt:  s.now().UTC(),
	}
	if synthesized.Degraded && synthesized.Cause != nil {
		result.SynthesisError = synthesized.Cause.Error()
	}
	result.ReportKey = s.archiveReport(ctx, id, result)

	// The upload can be slow; a cancel that landed meanwhile wins.
	if _, err := s.checkpoint(ctx, id); err != nil {
		s.discardReport(ctx, id, result.ReportKey)
		return err
	}
	_, err = s.store.CompleteWithResult(ctx, result, domain.CompletionInput{
		ConfidenceScore:   confidence.Score,
		SourceCount:       confidence.SourceCount,
		ClaimCount:        confidence.ClaimCount,
		HasContradictions: confidence.HasContradictions,
	})
	if err != nil {
		if errors.Is(err, domain.ErrJobTerminal) || errors.Is(err, domain.ErrJobNotFound) {
			s.discardReport(ctx, id, result.ReportKey)
		}
		return fmt.Errorf("complete job: %w", err)
	}

	score := confidence.Score
	log.Printf("queue: job %s completed (sources=%d claims=%d confidence=%.2f)", id, confidence.SourceCount, confidence.ClaimCount, score)
	s.publish(ctx, domain.Event{
		Name:       domain.EventCompleted,
		JobID:      id,
		Status:     domain.JobStatusCompleted,
		Progress:   100,
		Confidence: &score,
	})
	return nil
}

func (s *Service) stageSpan(ctx context.Context, id string, stage domain.Stage) (context.Context, *telemetry.Span) {
	return telemetry.StartStageSpan(ctx, id, string(stage))
}

// closeStageSpan ends a stage span, marking it when the stage fell back.
func closeStageSpan(span *telemetry.Span, degraded bool, cause error) {
	if degraded {
		span.Degrade(cause)
	}
	span.End()
}

// checkpoint reloads the job and returns errStopped when it is missing or
// already terminal.
func (s *Service) checkpoint(ctx context.Context, id string) (*domain.ResearchJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if job == nil || job.IsTerminal() {
		return nil, errStopped
	}
	return job, nil
}

func (s *Service) beginStage(ctx context.Context, job *domain.ResearchJob, stage domain.Stage, status domain.JobStatus) error {
	telemetry.AddBreadcrumb(ctx, "research.stage", fmt.Sprintf("job %s: %s started", job.ID, stage))
	if err := s.store.UpdateStageProgress(ctx, job.ID, stage, 0); err != nil {
		return fmt.Errorf("start %s: %w", stage, err)
	}
	s.publish(ctx, domain.Event{Name: domain.EventProgress, JobID: job.ID, Status: status, Stage: stage, Progress: 0})
	return nil
}

func (s *Service) endStage(ctx context.Context, job *domain.ResearchJob, stage domain.Stage, status domain.JobStatus, degraded bool) error {
	if err := s.store.UpdateStageProgress(ctx, job.ID, stage, 100); err != nil {
		return fmt.Errorf("finish %s: %w", stage, err)
	}
	event := domain.Event{Name: domain.EventProgress, JobID: job.ID, Status: status, Stage: stage, Progress: 100}
	if degraded {
		event.Message = string(stage) + " degraded"
	}
	s.publish(ctx, event)
	return nil
}

// discardReport removes a report archived for a job that did not complete.
func (s *Service) discardReport(ctx context.Context, id, key string) {
	if s.archive == nil || key == "" {
		return
	}
	if err := s.archive.DeleteReport(ctx, key); err != nil {
		log.Printf("queue: failed to discard report for job %s: %v", id, err)
	}
}

// archiveReport uploads the report when an archive is configured. Failures
// are logged and leave the key empty.
func (s *Service) archiveReport(ctx context.Context, id string, result *domain.ResearchResult) string {
	if s.archive == nil || result.SynthesisError != "" {
		return ""
	}
	key, err := s.archive.PutReport(ctx, id, []byte(result.Synthesis))
	if err != nil {
		log.Printf("queue: failed to archive report for job %s: %v", id, err)
		return ""
	}
	return key
}
