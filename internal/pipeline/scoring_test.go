package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/cloo-solutions/deepresearch/internal/openai"
	"github.com/cloo-solutions/deepresearch/internal/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testSources() []domain.Source {
	return []domain.Source{
		{ID: "s0", Text: "Qubits use superposition.", Title: "Qubits", RelevanceScore: 0.9, CredibilityTier: domain.TierAuthoritative, RetrievalMethod: domain.RetrievalMethodRAG},
		{ID: "s1", Text: "Quantum computers are fast.", URL: "https://example.com", RelevanceScore: 0.5, RetrievalMethod: domain.RetrievalMethodWeb},
	}
}

func TestAssess_NoSourcesSkipsModel(t *testing.T) {
	model := new(MockChatModel)

	res := NewAssessor(model, time.Second, nil).Assess(context.Background(), "q", nil)

	assert.False(t, res.Degraded)
	assert.Empty(t, res.Value.Sources)
	assert.Empty(t, res.Value.Claims)
	assert.Equal(t, 0.0, res.Value.Confidence.Score)
	model.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything, mock.Anything)
}

func TestAssess_MapsIndicesAndScoresClaims(t *testing.T) {
	model := new(MockChatModel)
	model.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(msgs []openai.Message) bool {
		return len(msgs) == 2 && strings.Contains(msgs[1].Content, "[0] Qubits") && strings.Contains(msgs[1].Content, "[1] https://example.com")
	}), mock.Anything).Return(completion(`[
		{"text": "Qubits rely on superposition", "supportingIndices": [0, 0, 7, -1], "contradictingIndices": []},
		{"text": "Quantum computers are always faster", "supportingIndices": [1], "contradictingIndices": [0]},
		{"text": "   ", "supportingIndices": [0]}
	]`), nil)

	res := NewAssessor(model, time.Second, nil).Assess(context.Background(), "q", testSources())

	require.False(t, res.Degraded)
	require.Len(t, res.Value.Sources, 2)
	for _, s := range res.Value.Sources {
		assert.Greater(t, s.CompositeScore, 0.0)
		assert.LessOrEqual(t, s.CompositeScore, 1.0)
	}
	assert.Equal(t, domain.TierUnverified, res.Value.Sources[1].CredibilityTier)

	require.Len(t, res.Value.Claims, 2)
	first := res.Value.Claims[0]
	require.Len(t, first.SupportingSources, 1)
	assert.Equal(t, "s0", first.SupportingSources[0].ID)
	assert.False(t, first.ContradictionFlag)

	second := res.Value.Claims[1]
	assert.True(t, second.ContradictionFlag)
	require.Len(t, second.ContradictingSources, 1)

	expected := scoring.NewJobConfidenceCalculator().CalculateJobConfidence(res.Value.Claims, 2)
	assert.Equal(t, expected, res.Value.Confidence)
	assert.True(t, res.Value.Confidence.HasContradictions)
	assert.Equal(t, 2, res.Value.Confidence.SourceCount)
	assert.Equal(t, 2, res.Value.Confidence.ClaimCount)
	assert.Equal(t, 15, res.Value.Usage.TotalTokens)
}

func TestAssess_ModelFailureKeepsScoredSources(t *testing.T) {
	model := new(MockChatModel)
	model.On("ChatCompletion", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("backend down"))

	res := NewAssessor(model, time.Second, nil).Assess(context.Background(), "q", testSources())

	assert.True(t, res.Degraded)
	assert.EqualError(t, res.Cause, "backend down")
	assert.Len(t, res.Value.Sources, 2)
	assert.Greater(t, res.Value.Sources[0].CompositeScore, 0.0)
	assert.Empty(t, res.Value.Claims)
	assert.Equal(t, 0.0, res.Value.Confidence.Score)
	assert.Equal(t, 2, res.Value.Confidence.SourceCount)
}

func TestAssess_UnparseableClaimsDegrade(t *testing.T) {
	model := new(MockChatModel)
	model.On("ChatCompletion", mock.Anything, mock.Anything, mock.Anything).Return(completion(`{"claims": "none"}`), nil)

	res := NewAssessor(model, time.Second, nil).Assess(context.Background(), "q", testSources())

	assert.True(t, res.Degraded)
	assert.Empty(t, res.Value.Claims)
	assert.Equal(t, 0.0, res.Value.Confidence.Score)
}

func TestAssess_DoesNotMutateInput(t *testing.T) {
	model := new(MockChatModel)
	model.On("ChatCompletion", mock.Anything, mock.Anything, mock.Anything).Return(completion(`[]`), nil)
	sources := testSources()

	NewAssessor(model, time.Second, nil).Assess(context.Background(), "q", sources)

	assert.Equal(t, 0.0, sources[0].CompositeScore)
}
