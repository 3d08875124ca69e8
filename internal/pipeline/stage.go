// Package pipeline implements the four research stages: decomposition,
// retrieval, scoring and synthesis. Each stage wraps one kind of external
// call, bounds it with a timeout and degrades to a safe default when the
// call fails.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/cloo-solutions/deepresearch/internal/openai"
)

// ChatModel is the LLM backend used by the stages.
type ChatModel interface {
	ChatCompletion(ctx context.Context, messages []openai.Message, opts openai.ChatOptions) (*openai.Completion, error)
}

// KnowledgeSearcher queries the internal knowledge index.
type KnowledgeSearcher interface {
	Search(ctx context.Context, scopeID, query string, topK int) ([]domain.KnowledgeHit, error)
}

// WebSearcher queries an external web-search API.
type WebSearcher interface {
	Search(ctx context.Context, query string, count int) ([]domain.WebHit, error)
}

// StageResult is the outcome of a stage that never fails outright. When
// Degraded is set, Value holds the stage's fallback and Cause the error that
// triggered it.
type StageResult[T any] struct {
	Value    T
	Degraded bool
	Cause    error
}

func succeeded[T any](v T) StageResult[T] {
	return StageResult[T]{Value: v}
}

func degraded[T any](v T, cause error) StageResult[T] {
	return StageResult[T]{Value: v, Degraded: true, Cause: cause}
}

// ErrStageTimeout is wrapped by errors returned from a call that exceeded its
// stage timeout.
var ErrStageTimeout = errors.New("stage timed out")

// withTimeout races fn against d. The context handed to fn is cancelled when
// the deadline passes, but the race returns as soon as the deadline fires even
// if fn ignores cancellation.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrStageTimeout, d)
	}
}

func usageOf(c *openai.Completion) domain.TokenUsage {
	if c == nil {
		return domain.TokenUsage{}
	}
	return domain.TokenUsage{
		PromptTokens:     c.Usage.PromptTokens,
		CompletionTokens: c.Usage.CompletionTokens,
		TotalTokens:      c.Usage.TotalTokens,
	}
}
