package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	promptChunkPrefix = "prompt_"
	fileChunkPrefix   = "file_"

	SourcePrompt = "prompt"
	SourceFile   = "file"
)

// Embedding is one indexed chunk of a prompt or of one of its files
type Embedding struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	PromptID  string    `json:"prompt_id"`
	ChunkID   string    `json:"chunk_id"`
	Content   string    `json:"content"`
	Vector    []float32 `json:"-"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredChunk is a stored chunk ranked against a query vector
type ScoredChunk struct {
	EmbeddingID string  `json:"embedding_id"`
	PromptID    string  `json:"prompt_id"`
	ChunkID     string  `json:"chunk_id"`
	Content     string  `json:"content"`
	Similarity  float64 `json:"similarity"`
}

// RelatedPrompt is the best matching chunk of one prompt
type RelatedPrompt struct {
	PromptID   string  `json:"prompt_id"`
	BestChunk  string  `json:"best_chunk"`
	ChunkID    string  `json:"chunk_id"`
	Similarity float64 `json:"similarity"`
	ChunkCount int     `json:"chunk_count"`
}

// Stats aggregates the stored chunks of a tenant
type Stats struct {
	TotalEmbeddings       int     `json:"total_embeddings"`
	PromptsWithEmbeddings int     `json:"prompts_with_embeddings"`
	AverageChunkLength    float64 `json:"average_chunk_length"`
}

func PromptChunkID(index int) string {
	return fmt.Sprintf("%s%d", promptChunkPrefix, index)
}

func FileChunkID(fileID string, index int) string {
	return fmt.Sprintf("%s%s_%d", fileChunkPrefix, fileID, index)
}

// ChunkSource tells whether a chunk came from an attached file or the prompt text
func ChunkSource(chunkID string) string {
	if strings.HasPrefix(chunkID, fileChunkPrefix) {
		return SourceFile
	}
	return SourcePrompt
}
