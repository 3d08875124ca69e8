// Package knowledge loads documents into the internal knowledge index that
// the retrieval stage searches.
package knowledge

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"golang.org/x/sync/errgroup"
)

const defaultEmbedConcurrency = 4

// Embedder turns chunk text into a vector.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore persists the chunks of a scope, replacing what was there.
type ChunkStore interface {
	ReplaceChunks(ctx context.Context, scopeID string, chunks []domain.KnowledgeChunk) error
}

// Document is one source text with its provenance.
type Document struct {
	Title           string
	URL             string
	PublishedAt     *time.Time
	DomainAuthority *float64
	CredibilityTier domain.CredibilityTier
	Body            string
}

type Ingester struct {
	embedder    Embedder
	store       ChunkStore
	cfg         ChunkConfig
	concurrency int
	now         func() time.Time
}

// NewIngester creates an ingester. A nil embedder stores chunks without
// vectors, leaving them to lexical search only.
func NewIngester(embedder Embedder, store ChunkStore, cfg ChunkConfig) *Ingester {
	if cfg.MaxChars <= 0 {
		cfg = DefaultChunkConfig()
	}
	return &Ingester{
		embedder:    embedder,
		store:       store,
		cfg:         cfg,
		concurrency: defaultEmbedConcurrency,
		now:         time.Now,
	}
}

// Ingest chunks and embeds docs and replaces the contents of scopeID with
// them. It returns the number of chunks stored.
func (i *Ingester) Ingest(ctx context.Context, scopeID string, docs []Document) (int, error) {
	scopeID = strings.TrimSpace(scopeID)
	if scopeID == "" {
		return 0, domain.NewDomainError(domain.ErrCodeValidation, "knowledge scope is required")
	}

	createdAt := i.now().UTC()
	var chunks []domain.KnowledgeChunk
	for _, doc := range docs {
		if doc.CredibilityTier != "" && !doc.CredibilityTier.IsValid() {
			return 0, fmt.Errorf("document %q: %w", doc.Title, domain.ErrInvalidCredTier)
		}
		meta := domain.KnowledgeMetadata{
			Title:           doc.Title,
			URL:             doc.URL,
			PublishedAt:     doc.PublishedAt,
			DomainAuthority: doc.DomainAuthority,
			CredibilityTier: doc.CredibilityTier,
		}
		for _, text := range chunkText(doc.Body, i.cfg) {
			chunks = append(chunks, domain.KnowledgeChunk{
				ScopeID:    scopeID,
				ChunkIndex: len(chunks),
				Content:    text,
				Metadata:   meta,
				CreatedAt:  createdAt,
			})
		}
	}

	if i.embedder != nil {
		if err := i.embed(ctx, chunks); err != nil {
			return 0, err
		}
	}

	if err := i.store.ReplaceChunks(ctx, scopeID, chunks); err != nil {
		return 0, fmt.Errorf("failed to store knowledge chunks: %w", err)
	}
	log.Printf("knowledge: indexed %d chunks from %d documents into scope %s", len(chunks), len(docs), scopeID)
	return len(chunks), nil
}

func (i *Ingester) embed(ctx context.Context, chunks []domain.KnowledgeChunk) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for idx := range chunks {
		g.Go(func() error {
			vec, err := i.embedder.GenerateEmbedding(ctx, embeddingText(chunks[idx]))
			if err != nil {
				return fmt.Errorf("failed to embed chunk %d: %w", idx, err)
			}
			chunks[idx].Embedding = vec
			return nil
		})
	}
	return g.Wait()
}

func embeddingText(c domain.KnowledgeChunk) string {
	if c.Metadata.Title == "" {
		return c.Content
	}
	return c.Metadata.Title + "\n\n" + c.Content
}

// DocumentFromMarkdown builds a document from a markdown file body. The first
// level-one heading becomes the title, falling back to the file name.
func DocumentFromMarkdown(path, body string) Document {
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			break
		}
	}
	return Document{Title: title, Body: body}
}
