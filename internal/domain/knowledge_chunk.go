package domain

import "time"

// KnowledgeChunk is one indexed passage of the internal knowledge store.
type KnowledgeChunk struct {
	ID         string
	ScopeID    string
	ChunkIndex int
	Content    string
	Metadata   KnowledgeMetadata
	Embedding  []float32
	CreatedAt  time.Time
}
