//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/cloo-solutions/deepresearch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *fixedEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vectors[text], nil
}

func axis(i int) []float32 {
	v := make([]float32, 1536)
	v[i] = 1
	return v
}

func seedChunks(ctx context.Context, t *testing.T, repo *KnowledgeChunkRepository) {
	t.Helper()
	require.NoError(t, repo.ReplaceChunks(ctx, "energy", []domain.KnowledgeChunk{
		{ChunkIndex: 0, Content: "Solid-state batteries promise higher energy density than lithium-ion cells.", Embedding: axis(0),
			Metadata: domain.KnowledgeMetadata{Title: "Solid state", CredibilityTier: domain.TierPrimarySource}},
		{ChunkIndex: 1, Content: "Grid storage costs fell sharply during the last decade.", Embedding: axis(1)},
	}))
	require.NoError(t, repo.ReplaceChunks(ctx, "biology", []domain.KnowledgeChunk{
		{ChunkIndex: 0, Content: "Mitochondria store energy as ATP in battery-like gradients.", Embedding: axis(2)},
	}))
}

func TestKnowledgeChunkRepository_LexicalSearch(t *testing.T) {
	ctx := context.Background()
	pool := testutil.StartPostgres(ctx, t, "../../migrations")
	repo := NewKnowledgeChunkRepository(pool, nil)
	seedChunks(ctx, t, repo)

	hits, err := repo.Search(ctx, "energy", "energy density batteries", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Text, "Solid-state")
	assert.Equal(t, "Solid state", hits[0].Metadata.Title)
	assert.Equal(t, domain.TierPrimarySource, hits[0].Metadata.CredibilityTier)
	for _, hit := range hits {
		assert.NotContains(t, hit.Text, "Mitochondria")
	}

	all, err := repo.Search(ctx, "", "energy", 5)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestKnowledgeChunkRepository_SemanticSearch(t *testing.T) {
	ctx := context.Background()
	pool := testutil.StartPostgres(ctx, t, "../../migrations")
	seedChunks(ctx, t, NewKnowledgeChunkRepository(pool, nil))

	repo := NewKnowledgeChunkRepository(pool, &fixedEmbedder{vectors: map[string][]float32{"grid": axis(1)}})

	hits, err := repo.Search(ctx, "energy", "grid", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Text, "Grid storage")
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestKnowledgeChunkRepository_FallsBackWhenEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	pool := testutil.StartPostgres(ctx, t, "../../migrations")
	seedChunks(ctx, t, NewKnowledgeChunkRepository(pool, nil))

	repo := NewKnowledgeChunkRepository(pool, &fixedEmbedder{err: errors.New("quota exceeded")})

	hits, err := repo.Search(ctx, "energy", "grid storage", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Text, "Grid storage")
}

func TestKnowledgeChunkRepository_EmptyQuery(t *testing.T) {
	repo := &KnowledgeChunkRepository{}

	hits, err := repo.Search(context.Background(), "energy", "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
