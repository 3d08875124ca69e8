package domain

import (
	"fmt"
	"strings"
	"time"
)

// MaxQueryLength bounds the size of a submitted research query.
const MaxQueryLength = 2000

// JobStatus represents the lifecycle state of a research job
type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusSynthesizing JobStatus = "synthesizing"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
	JobStatusExpired      JobStatus = "expired"
)

// AllJobStatuses lists every status in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusProcessing,
	JobStatusSynthesizing,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
	JobStatusExpired,
}

// TerminalJobStatuses are the states a job never leaves.
var TerminalJobStatuses = []JobStatus{
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
	JobStatusExpired,
}

// IsTerminal reports whether no further transition is allowed from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusExpired:
		return true
	}
	return false
}

// IsValid reports whether s is a known status.
func (s JobStatus) IsValid() bool {
	for _, status := range AllJobStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Stage is one of the four pipeline stages executed in sequence per job.
type Stage string

const (
	StageDecomposition Stage = "decomposition"
	StageRetrieval     Stage = "retrieval"
	StageScoring       Stage = "scoring"
	StageSynthesis     Stage = "synthesis"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageDecomposition, StageRetrieval, StageScoring, StageSynthesis}

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool {
	switch s {
	case StageDecomposition, StageRetrieval, StageScoring, StageSynthesis:
		return true
	}
	return false
}

// transitions holds the forward edges of the job state machine. Cancellation
// and expiry are handled separately since they apply to every non-terminal
// state.
var transitions = map[JobStatus][]JobStatus{
	JobStatusQueued:       {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing:   {JobStatusSynthesizing, JobStatusCompleted, JobStatusFailed},
	JobStatusSynthesizing: {JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	if from.IsTerminal() || !to.IsValid() {
		return false
	}
	if to == JobStatusCancelled || to == JobStatusExpired {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// JobSpec is the submission input for a research job.
type JobSpec struct {
	Query   string
	ScopeID string
}

// Normalize trims the spec and validates it.
func (s JobSpec) Normalize() (JobSpec, error) {
	s.Query = strings.TrimSpace(s.Query)
	s.ScopeID = strings.TrimSpace(s.ScopeID)
	if s.Query == "" {
		return s, ErrEmptyQuery
	}
	if len(s.Query) > MaxQueryLength {
		return s, ErrQueryTooLong
	}
	return s, nil
}

// ResearchJob represents one deep-research run from submission to report
type ResearchJob struct {
	ID                 string
	Query              string
	ScopeID            string
	Status             JobStatus
	CurrentStage       Stage
	StageProgress      map[Stage]int
	QueryDecomposition []string
	ConfidenceScore    float64
	SourceCount        int
	ClaimCount         int
	HasContradictions  bool
	ResultID           string
	ErrorMessage       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// NewResearchJob creates a queued job for the given spec.
func NewResearchJob(id string, spec JobSpec, now time.Time) *ResearchJob {
	return &ResearchJob{
		ID:            id,
		Query:         spec.Query,
		ScopeID:       spec.ScopeID,
		Status:        JobStatusQueued,
		StageProgress: make(map[Stage]int, len(Stages)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsTerminal reports whether the job can no longer be advanced.
func (j *ResearchJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Transition moves the job to the given status, enforcing the state machine.
func (j *ResearchJob) Transition(to JobStatus, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return NewDomainErrorWithCause(ErrCodeInvalidOperation,
			fmt.Sprintf("cannot move job %s from %s to %s", j.ID, j.Status, to), ErrInvalidTransition)
	}
	if to == JobStatusProcessing && j.StartedAt == nil {
		started := now
		j.StartedAt = &started
	}
	if to.IsTerminal() {
		completed := now
		j.CompletedAt = &completed
	}
	j.Status = to
	j.UpdatedAt = now
	return nil
}

// SetStageProgress records progress for a stage and marks it current.
func (j *ResearchJob) SetStageProgress(stage Stage, pct int) error {
	if !stage.IsValid() {
		return ErrInvalidJobStage
	}
	if pct < 0 || pct > 100 {
		return ErrInvalidProgress
	}
	if j.StageProgress == nil {
		j.StageProgress = make(map[Stage]int, len(Stages))
	}
	j.CurrentStage = stage
	j.StageProgress[stage] = pct
	return nil
}

// ValidateResearchJob validates a ResearchJob instance
func ValidateResearchJob(j *ResearchJob) error {
	if j == nil {
		return fmt.Errorf("research job cannot be nil")
	}
	if j.ID == "" {
		return ErrMissingJobID
	}
	if strings.TrimSpace(j.Query) == "" {
		return ErrEmptyQuery
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("research job Status is invalid: %s", j.Status)
	}
	if j.CurrentStage != "" && !j.CurrentStage.IsValid() {
		return fmt.Errorf("research job CurrentStage is invalid: %s", j.CurrentStage)
	}
	if j.ConfidenceScore < 0 || j.ConfidenceScore > 1 {
		return fmt.Errorf("research job ConfidenceScore must be within [0,1]")
	}
	return nil
}

// CompletionInput carries the job-level outcome recorded on completion.
type CompletionInput struct {
	ResultID          string
	ConfidenceScore   float64
	SourceCount       int
	ClaimCount        int
	HasContradictions bool
}

// StatusExtra carries optional fields written alongside a status change.
type StatusExtra struct {
	Stage        Stage
	ErrorMessage string
}

// QueueSummary is a tally of jobs per status plus in-memory queue counters.
type QueueSummary struct {
	Counts  map[JobStatus]int
	Pending int
	Active  int
}
