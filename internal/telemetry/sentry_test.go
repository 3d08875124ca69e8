package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_NoDSNIsNoop(t *testing.T) {
	shutdown, err := Init(Config{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()
}

func TestStageSpan_IsChildOfJobSpan(t *testing.T) {
	ctx, job := StartJobSpan(context.Background(), "job-1")
	defer job.End()

	stageCtx, stage := StartStageSpan(ctx, "job-1", "retrieval")
	defer stage.End()

	parent := sentry.SpanFromContext(ctx)
	child := sentry.SpanFromContext(stageCtx)
	require.NotNil(t, parent)
	require.NotNil(t, child)
	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentSpanID)
	assert.Equal(t, "retrieval", child.Tags["stage"])
	assert.Equal(t, "job-1", child.Tags["job_id"])
}

func TestSpan_Degrade(t *testing.T) {
	_, span := StartStageSpan(context.Background(), "job-1", "decomposition")
	span.Degrade(errors.New("model timeout"))
	span.End()

	assert.Equal(t, sentry.SpanStatusAborted, span.Status())
	assert.Equal(t, "true", span.inner.Tags["degraded"])
}

func TestSpan_ZeroValueIsSafe(t *testing.T) {
	var span Span
	span.Degrade(errors.New("x"))
	span.Fail(errors.New("x"))
	span.End()

	assert.Equal(t, sentry.SpanStatusUndefined, span.Status())
}

func TestSampler(t *testing.T) {
	sample := sampler(0.25)

	health := sentry.SamplingContext{Span: &sentry.Span{Name: "GET /health"}}
	assert.Equal(t, 0.0, sample(health))

	root := sentry.SamplingContext{Span: &sentry.Span{Name: "POST /research"}}
	assert.Equal(t, 0.25, sample(root))
}
