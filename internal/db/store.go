package db

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"prompt-rag/internal/apperr"
	"prompt-rag/internal/config"
	"prompt-rag/internal/models"
)

// Store persists prompts, files and embeddings. Every call is scoped to one tenant.
type Store interface {
	CreatePrompt(ctx context.Context, p *models.Prompt) error
	GetPrompt(ctx context.Context, tenantID, id string) (*models.Prompt, error)
	ListPrompts(ctx context.Context, tenantID string) ([]models.Prompt, error)
	UpdatePrompt(ctx context.Context, p *models.Prompt) error
	// DeletePrompt removes the prompt together with its files and embeddings
	DeletePrompt(ctx context.Context, tenantID, id string) error

	CreateFile(ctx context.Context, f *models.File) error
	GetFile(ctx context.Context, tenantID, id string) (*models.File, error)
	ListFiles(ctx context.Context, tenantID, promptID string) ([]models.File, error)
	DeleteFile(ctx context.Context, tenantID, id string) error

	DeleteEmbeddings(ctx context.Context, tenantID, promptID string) error
	InsertEmbeddings(ctx context.Context, embeddings []models.Embedding) error
	// ScoreEmbeddings ranks stored chunks by cosine similarity to the query vector,
	// highest first, ties in insertion order
	ScoreEmbeddings(ctx context.Context, q ScoreQuery) ([]models.ScoredChunk, error)
	EmbeddingStats(ctx context.Context, tenantID string) (*models.Stats, error)

	Close() error
}

// ScoreQuery selects the chunks to rank. An empty PromptID covers the whole tenant,
// a zero Limit returns every chunk in scope.
type ScoreQuery struct {
	TenantID string
	PromptID string
	Vector   []float32
	Limit    int
}

// Open builds the store selected by cfg.Driver
func Open(ctx context.Context, cfg config.DatabaseConfig, dimensions int) (Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemory(dimensions), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.Path, dimensions)
	case "chromem":
		return OpenChromem(ctx, cfg, dimensions)
	case "postgres":
		return OpenPostgres(ctx, cfg, dimensions)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func requireTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return apperr.ErrEmptyTenant
	}
	return nil
}

func promptNotFound(id string) error {
	return apperr.ErrPromptNotFound.Derive(fmt.Sprintf("prompt %s not found", id)).WithDetail("prompt_id", id)
}

func fileNotFound(id string) error {
	return apperr.ErrFileNotFound.Derive(fmt.Sprintf("file %s not found", id)).WithDetail("file_id", id)
}

func checkDimensions(vector []float32, dimensions int) error {
	if len(vector) != dimensions {
		return apperr.Validation(fmt.Sprintf("vector has %d dimensions, expected %d", len(vector), dimensions))
	}
	return nil
}

func validateEmbeddings(embeddings []models.Embedding, dimensions int) error {
	for _, e := range embeddings {
		if err := requireTenant(e.TenantID); err != nil {
			return err
		}
		if err := checkDimensions(e.Vector, dimensions); err != nil {
			return err
		}
	}
	return nil
}

// rankChunks orders by similarity keeping input order for equal scores, then applies the limit
func rankChunks(chunks []models.ScoredChunk, limit int) []models.ScoredChunk {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Similarity > chunks[j].Similarity
	})
	if limit > 0 && len(chunks) > limit {
		chunks = chunks[:limit]
	}
	return chunks
}
