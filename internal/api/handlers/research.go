package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/api"
	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/cloo-solutions/deepresearch/internal/storage"
	"github.com/go-chi/chi/v5"
)

const (
	eventBuffer       = 64
	heartbeatInterval = 15 * time.Second
	timeFormat        = "2006-01-02T15:04:05Z"
)

type ResearchService interface {
	Submit(ctx context.Context, spec domain.JobSpec) (*domain.ResearchJob, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Summary(ctx context.Context) (domain.QueueSummary, error)
}

type ResearchReader interface {
	GetJob(ctx context.Context, id string) (*domain.ResearchJob, error)
	GetResultByJobID(ctx context.Context, jobID string) (*domain.ResearchResult, error)
}

type EventSource interface {
	Subscribe(buffer int) (<-chan domain.Event, func())
}

type ReportLinker interface {
	ReportURL(ctx context.Context, key string) (string, error)
}

type ResearchHandler struct {
	svc       ResearchService
	reader    ResearchReader
	events    EventSource
	reports   ReportLinker
	heartbeat time.Duration
}

// NewResearchHandler wires the research endpoints. events and reports may be
// nil, which disables the event stream and report links.
func NewResearchHandler(svc ResearchService, reader ResearchReader, events EventSource, reports ReportLinker) *ResearchHandler {
	return &ResearchHandler{
		svc:       svc,
		reader:    reader,
		events:    events,
		reports:   reports,
		heartbeat: heartbeatInterval,
	}
}

type SubmitResearchRequest struct {
	Query   string `json:"query"`
	ScopeID string `json:"scope_id"`
}

type ResearchJobResponse struct {
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
	ResultID           string         `json:"result_id,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	CreatedAt          string         `json:"created_at"`
	UpdatedAt          string         `json:"updated_at"`
	StartedAt          string         `json:"started_at,omitempty"`
	CompletedAt        string         `json:"completed_at,omitempty"`
}

type QueueSummaryResponse struct {
	Counts  map[string]int `json:"counts"`
	Pending int            `json:"pending"`
	Active  int            `json:"active"`
}

type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

func jobToResponse(j *domain.ResearchJob) *ResearchJobResponse {
	progress := make(map[string]int, len(j.StageProgress))
	for stage, pct := range j.StageProgress {
		progress[string(stage)] = pct
	}
	decomposition := j.QueryDecomposition
	if decomposition == nil {
		decomposition = []string{}
	}

	resp := &ResearchJobResponse{
		ID:                 j.ID,
		Query:              j.Query,
		ScopeID:            j.ScopeID,
		Status:             string(j.Status),
		CurrentStage:       string(j.CurrentStage),
		StageProgress:      progress,
		QueryDecomposition: decomposition,
		ConfidenceScore:    j.ConfidenceScore,
		SourceCount:        j.SourceCount,
		ClaimCount:         j.ClaimCount,
		HasContradictions:  j.HasContradictions,
		ResultID:           j.ResultID,
		ErrorMessage:       j.ErrorMessage,
		CreatedAt:          j.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:          j.UpdatedAt.UTC().Format(timeFormat),
	}
	if j.StartedAt != nil {
		resp.StartedAt = j.StartedAt.UTC().Format(timeFormat)
	}
	if j.CompletedAt != nil {
		resp.CompletedAt = j.CompletedAt.UTC().Format(timeFormat)
	}
	return resp
}

func (h *ResearchHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.svc.Submit(r.Context(), domain.JobSpec{Query: req.Query, ScopeID: req.ScopeID})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	w.Header().Set("Location", "/research/"+job.ID)
	api.Success(w, http.StatusAccepted, jobToResponse(job))
}

func (h *ResearchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	job, err := h.reader.GetJob(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if job == nil {
		api.HandleError(w, domain.ErrJobNotFound)
		return
	}

	api.Success(w, http.StatusOK, jobToResponse(job))
}

func (h *ResearchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	cancelled, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, CancelResponse{Cancelled: cancelled})
}

func (h *ResearchHandler) Queue(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Summary(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	counts := make(map[string]int, len(summary.Counts))
	for status, n := range summary.Counts {
		counts[string(status)] = n
	}
	api.Success(w, http.StatusOK, QueueSummaryResponse{
		Counts:  counts,
		Pending: summary.Pending,
		Active:  summary.Active,
	})
}

func (h *ResearchHandler) Result(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	result, err := h.reader.GetResultByJobID(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, result)
}

// Report redirects to a short-lived download link for the archived markdown.
func (h *ResearchHandler) Report(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}
	if h.reports == nil {
		api.HandleError(w, domain.ErrReportNotFound)
		return
	}

	result, err := h.reader.GetResultByJobID(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if result.ReportKey == "" {
		api.HandleError(w, domain.ErrReportNotFound)
		return
	}

	url, err := h.reports.ReportURL(r.Context(), result.ReportKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			api.HandleError(w, domain.ErrReportNotFound)
			return
		}
		api.HandleError(w, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to link report", err))
		return
	}

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Events streams lifecycle events as server-sent events. The optional job_id
// query parameter restricts the stream to one job.
func (h *ResearchHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		api.Error(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	jobID := r.URL.Query().Get("job_id")
	events, unsubscribe := h.events.Subscribe(eventBuffer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if jobID != "" && event.JobID != jobID {
				continue
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, payload)
			flusher.Flush()
		}
	}
}
