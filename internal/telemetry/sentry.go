// Package telemetry wires Sentry error reporting and tracing for research jobs.
package telemetry

import (
	"context"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
)

const (
	serviceName  = "deepresearch"
	flushTimeout = 5 * time.Second
)

// Config holds the configuration for Sentry initialization.
type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
}

// Init initializes Sentry with tracing enabled and returns a flush function.
// An empty DSN yields a no-op.
func Init(cfg Config) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate == 0 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
		ServerName:       serviceName,
		TracesSampler:    sampler(cfg.TracesSampleRate),
	})
	if err != nil {
		log.Printf("sentry: failed to initialize (continuing without tracing): %v", err)
		return func() {}, nil
	}

	log.Printf("sentry: tracing initialized (environment: %s, sample_rate: %.2f)", cfg.Environment, cfg.TracesSampleRate)
	return func() { sentry.Flush(flushTimeout) }, nil
}

// sampler drops health probes and event-stream connections, and keeps child
// spans consistent with their parent.
func sampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		switch ctx.Span.Name {
		case "GET /health", "GET /research/events":
			return 0.0
		}
		var emptySpanID sentry.SpanID
		if ctx.Span.ParentSpanID != emptySpanID {
			if ctx.Span.Sampled.Bool() {
				return 1.0
			}
			return 0.0
		}
		return rate
	}
}

// Span wraps a sentry span; the zero value is safe to use.
type Span struct {
	inner *sentry.Span
}

// End finishes the span.
func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// Fail marks the span as errored and reports err.
func (s *Span) Fail(err error) {
	if s.inner == nil {
		return
	}
	s.inner.Status = sentry.SpanStatusInternalError
	CaptureError(s.inner.Context(), err)
}

// Degrade records that the stage fell back to its default output. The cause
// is attached as span data, not reported as an exception.
func (s *Span) Degrade(cause error) {
	if s.inner == nil {
		return
	}
	s.inner.Status = sentry.SpanStatusAborted
	s.inner.SetTag("degraded", "true")
	if cause != nil {
		s.inner.SetData("degraded_cause", cause.Error())
	}
}

// Status returns the span status, or SpanStatusUndefined for a zero Span.
func (s *Span) Status() sentry.SpanStatus {
	if s.inner == nil {
		return sentry.SpanStatusUndefined
	}
	return s.inner.Status
}

// StartJobSpan opens the root transaction for processing one job.
func StartJobSpan(ctx context.Context, jobID string) (context.Context, *Span) {
	span := sentry.StartSpan(ctx, "research.job",
		sentry.WithTransactionName("ResearchJob.process"),
		sentry.WithOpName("research.job"))
	span.SetTag("job_id", jobID)
	return span.Context(), &Span{inner: span}
}

// StartStageSpan opens a child span for one pipeline stage. Without a parent
// in ctx it becomes its own transaction.
func StartStageSpan(ctx context.Context, jobID, stage string) (context.Context, *Span) {
	name := "Stage." + stage
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild("research.stage", sentry.WithDescription(name))
	} else {
		span = sentry.StartSpan(ctx, "research.stage", sentry.WithTransactionName(name))
	}
	span.SetTag("job_id", jobID)
	span.SetTag("stage", stage)
	return span.Context(), &Span{inner: span}
}

// CaptureError reports err on the hub bound to ctx, or the global hub.
func CaptureError(ctx context.Context, err error) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

// AddBreadcrumb adds a breadcrumb to the current scope.
func AddBreadcrumb(ctx context.Context, category, message string) {
	breadcrumb := &sentry.Breadcrumb{
		Type:      "default",
		Category:  category,
		Message:   message,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.AddBreadcrumb(breadcrumb, nil)
		return
	}
	sentry.AddBreadcrumb(breadcrumb)
}
