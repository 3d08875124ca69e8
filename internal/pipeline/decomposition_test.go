package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDecompose_NormalizesModelOutput(t *testing.T) {
	model := new(MockChatModel)
	query := "Explain quantum computing"
	model.On("ChatCompletion", mock.Anything, mock.Anything, mock.Anything).Return(completion(
		"Here you go:\n```json\n[\"1. What is a qubit?\", \"- How does superposition work?\", \"What is a qubit?\", \"Explain quantum computing\", 42, \"  \", \"Q3: Where is it used?\", \"2024: what changed in qubit counts?\", \"3.5% of budgets fund what?\"]\n```",
	), nil)

	res := NewDecomposer(model, time.Second).Decompose(context.Background(), query)

	assert.False(t, res.Degraded)
	assert.NoError(t, res.Cause)
	assert.Equal(t, []string{
		query,
		"What is a qubit?",
		"How does superposition work?",
		"Where is it used?",
		"2024: what changed in qubit counts?",
		"3.5% of budgets fund what?",
	}, res.Value.SubQuestions)
	assert.Equal(t, 15, res.Value.Usage.TotalTokens)
	model.AssertExpectations(t)
}

func TestDecompose_DedupIsCaseSensitive(t *testing.T) {
	model := new(MockChatModel)
	model.On("ChatCompletion", mock.Anything, mock.Anything, mock.Anything).
		Return(completion(`["What is X?", "what is x?", "What is X?"]`), nil)

	res := NewDecomposer(model, time.Second).Decompose(context.Background(), "q")

	assert.Equal(t, []string{"q", "What is X?", "what is x?"}, res.Value.SubQuestions)
}

func TestDecompose_CapsGeneratedSubQuestions(t *testing.T) {
	model := new(MockChatModel)
	items := ""
	for i := 0; i < 10; i++ {
		if i > 0 {
			items += ","
		}
		items += fmt.Sprintf("%q", fmt.Sprintf("sub question %d", i))
	}
	model.On("ChatCompletion", mock.Anything, mock.Anything, mock.Anything).Return(completion("["+items+"]"), nil)

	res := NewDecomposer(model, time.Second).Decompose(context.Background(), "original")

	require.Len(t, res.Value.SubQuestions, MaxGeneratedSubQuestions+1)
	assert.Equal(t, "original", res.Value.SubQuestions[0])
	assert.Equal(t, "sub question 6", res.Value.SubQuestions[7])
}

func TestDecompose_SoftFails(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *MockChatModel)
	}{
		{
			name: "model error",
			setup: func(m *MockChatModel) {
				m.On("ChatCompletion", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("rate limited"))
			},
		},
		{
			name: "no json array",
			setup: func(m *MockChatModel) {
				m.On("ChatCompletion", mock.Anything, mock.Anything, mock.Anything).Return(completion("I cannot help with that."), nil)
			},
		},
		{
			name: "malformed json",
			setup: func(m *MockChatModel) {
				m.On("ChatCompletion", mock.Anything, mock.Anything, mock.Anything).Return(completion(`["unterminated]`), nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := new(MockChatModel)
			tt.setup(model)

			res := NewDecomposer(model, time.Second).Decompose(context.Background(), "original")

			assert.True(t, res.Degraded)
			assert.Error(t, res.Cause)
			assert.Equal(t, []string{"original"}, res.Value.SubQuestions)
		})
	}
}

func TestDecompose_TimeoutDegrades(t *testing.T) {
	model := new(MockChatModel)
	model.On("ChatCompletion", mock.Anything, mock.Anything, mock.Anything).
		After(500*time.Millisecond).
		Return(completion(`["late"]`), nil)

	start := time.Now()
	res := NewDecomposer(model, 20*time.Millisecond).Decompose(context.Background(), "original")

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.True(t, res.Degraded)
	assert.ErrorIs(t, res.Cause, ErrStageTimeout)
	assert.Equal(t, []string{"original"}, res.Value.SubQuestions)
}

func TestWithTimeout_ReturnsValue(t *testing.T) {
	v, err := withTimeout(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 7, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestWithTimeout_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := withTimeout(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return 0, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractJSONArray(t *testing.T) {
	raw, err := extractJSONArray("```json\n[1, [2]]\n``` trailing")
	require.NoError(t, err)
	assert.Equal(t, "[1, [2]]", raw)

	_, err = extractJSONArray("] backwards [")
	assert.ErrorIs(t, err, errNoJSONArray)
}
