package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const defaultSearchLimit = 5

// Embedder turns a search query into a vector.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// KnowledgeChunkRepository serves the internal knowledge channel of
// retrieval. With an embedder it ranks chunks by cosine similarity, otherwise
// by full-text rank.
type KnowledgeChunkRepository struct {
	db       dbtx
	embedder Embedder
}

func NewKnowledgeChunkRepository(pool *pgxpool.Pool, embedder Embedder) *KnowledgeChunkRepository {
	return &KnowledgeChunkRepository{db: pool, embedder: embedder}
}

func NewKnowledgeChunkRepositoryWithTx(tx pgx.Tx, embedder Embedder) *KnowledgeChunkRepository {
	return &KnowledgeChunkRepository{db: tx, embedder: embedder}
}

// Search returns up to topK chunks for query. An empty scopeID searches every
// scope.
func (r *KnowledgeChunkRepository) Search(ctx context.Context, scopeID, query string, topK int) ([]domain.KnowledgeHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.KnowledgeHit{}, nil
	}
	if topK <= 0 {
		topK = defaultSearchLimit
	}

	if r.embedder != nil {
		embedding, err := r.embedder.GenerateEmbedding(ctx, query)
		if err == nil {
			return r.searchSemantic(ctx, scopeID, embedding, topK)
		}
		log.Printf("knowledge: embedding failed, falling back to lexical search: %v", err)
	}
	return r.searchLexical(ctx, scopeID, query, topK)
}

func (r *KnowledgeChunkRepository) searchSemantic(ctx context.Context, scopeID string, embedding []float32, topK int) ([]domain.KnowledgeHit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, content, metadata, (1.0 / (1.0 + (embedding <=> $1)))::float8 AS score
		 FROM knowledge_chunks
		 WHERE embedding IS NOT NULL AND ($2 = '' OR scope_id = $2)
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		pgvector.NewVector(embedding), scopeID, topK,
	)
	if err != nil {
		return nil, err
	}
	return scanHits(rows)
}

func (r *KnowledgeChunkRepository) searchLexical(ctx context.Context, scopeID, query string, topK int) ([]domain.KnowledgeHit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, content, metadata, ts_rank_cd(content_tsv, q)::float8 AS score
		 FROM knowledge_chunks, websearch_to_tsquery('english', $1) q
		 WHERE content_tsv @@ q AND ($2 = '' OR scope_id = $2)
		 ORDER BY score DESC, created_at ASC
		 LIMIT $3`,
		query, scopeID, topK,
	)
	if err != nil {
		return nil, err
	}
	return scanHits(rows)
}

func scanHits(rows pgx.Rows) ([]domain.KnowledgeHit, error) {
	defer rows.Close()

	hits := make([]domain.KnowledgeHit, 0)
	for rows.Next() {
		var hit domain.KnowledgeHit
		var metadata []byte
		if err := rows.Scan(&hit.ID, &hit.Text, &metadata, &hit.Score); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &hit.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
			}
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// ReplaceChunks deletes the chunks of a scope and inserts new ones.
func (r *KnowledgeChunkRepository) ReplaceChunks(ctx context.Context, scopeID string, chunks []domain.KnowledgeChunk) error {
	_, err := r.db.Exec(ctx, `DELETE FROM knowledge_chunks WHERE scope_id = $1`, scopeID)
	if err != nil {
		return err
	}

	for _, c := range chunks {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode chunk metadata: %w", err)
		}
		var embedding *pgvector.Vector
		if len(c.Embedding) > 0 {
			vec := pgvector.NewVector(c.Embedding)
			embedding = &vec
		}

		_, err = r.db.Exec(ctx,
			`INSERT INTO knowledge_chunks (id, scope_id, chunk_index, content, metadata, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, scopeID, c.ChunkIndex, c.Content, metadata, embedding, createdAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
