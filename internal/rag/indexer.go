package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"prompt-rag/internal/apperr"
	"prompt-rag/internal/blobstore"
	"prompt-rag/internal/config"
	"prompt-rag/internal/db"
	"prompt-rag/internal/embedding"
	"prompt-rag/internal/helper"
	"prompt-rag/internal/models"
	"prompt-rag/internal/parser"

	"github.com/rs/zerolog/log"
)

type pendingChunk struct {
	chunkID string
	content string
}

// Indexer rebuilds the embeddings of a prompt from its text and attached files.
// Reindexing is delete-then-insert without locking: a concurrent reader can see a
// prompt with no embeddings, and of two concurrent reindexes the last insert wins.
type Indexer struct {
	store        db.Store
	blobs        blobstore.Store
	embedder     embedding.Embedder
	chunkSize    int
	chunkOverlap int
	wg           sync.WaitGroup
}

func NewIndexer(store db.Store, blobs blobstore.Store, embedder embedding.Embedder, cfg config.RAGConfig) *Indexer {
	return &Indexer{
		store:        store,
		blobs:        blobs,
		embedder:     embedder,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
	}
}

// Reindex replaces every embedding of the prompt and returns the number of chunks indexed.
// A file that cannot be fetched or extracted is logged and skipped.
func (ix *Indexer) Reindex(ctx context.Context, tenantID, promptID string) (int, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}
	logger := log.With().Str("tenant_id", tenantID).Str("prompt_id", promptID).Logger()

	if err := ix.store.DeleteEmbeddings(ctx, tenantID, promptID); err != nil {
		return 0, fmt.Errorf("failed to clear embeddings: %w", err)
	}
	prompt, err := ix.store.GetPrompt(ctx, tenantID, promptID)
	if err != nil {
		return 0, err
	}

	var chunks []pendingChunk
	for i, c := range ix.split(prompt.Body()) {
		chunks = append(chunks, pendingChunk{chunkID: models.PromptChunkID(i), content: c})
	}

	files, err := ix.store.ListFiles(ctx, tenantID, promptID)
	if err != nil {
		return 0, fmt.Errorf("failed to list files: %w", err)
	}
	for _, f := range files {
		fileChunks, err := ix.fileChunks(ctx, f)
		if err != nil {
			logger.Warn().Err(err).Str("file_id", f.ID).Str("filename", f.Filename).Msg("Skipping file during reindex")
			continue
		}
		chunks = append(chunks, fileChunks...)
	}

	if len(chunks) == 0 {
		logger.Info().Msg("Nothing to index")
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.content
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(chunks) {
		return 0, apperr.External(fmt.Sprintf("got %d vectors for %d chunks", len(vectors), len(chunks)), nil).
			WithDetail("model", ix.embedder.Model()).
			WithDetail("operation", "embed_batch")
	}

	now := time.Now().UTC()
	rows := make([]models.Embedding, len(chunks))
	for i, c := range chunks {
		id, err := helper.GenerateUUID()
		if err != nil {
			return 0, err
		}
		rows[i] = models.Embedding{
			ID:        id,
			TenantID:  tenantID,
			PromptID:  promptID,
			ChunkID:   c.chunkID,
			Content:   c.content,
			Vector:    vectors[i],
			Position:  i,
			CreatedAt: now,
		}
	}
	if err := ix.store.InsertEmbeddings(ctx, rows); err != nil {
		return 0, fmt.Errorf("failed to store embeddings: %w", err)
	}

	logger.Info().Int("chunks", len(rows)).Int("files", len(files)).Msg("Reindexed prompt")
	return len(rows), nil
}

// split chunks text and drops whitespace-only chunks
func (ix *Indexer) split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []string
	for _, c := range parser.Split(text, ix.chunkSize, ix.chunkOverlap) {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}

func (ix *Indexer) fileChunks(ctx context.Context, f models.File) ([]pendingChunk, error) {
	data, err := ix.blobs.Get(ctx, f.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file: %w", err)
	}
	text, err := parser.ExtractText(data, f.MIMEType)
	if err != nil {
		return nil, err
	}
	var chunks []pendingChunk
	for i, c := range ix.split(text) {
		chunks = append(chunks, pendingChunk{chunkID: models.FileChunkID(f.ID, i), content: c})
	}
	return chunks, nil
}

// ReindexAsync reindexes in the background. Failures and panics are logged, never returned.
func (ix *Indexer) ReindexAsync(tenantID, promptID string) {
	ix.wg.Add(1)
	go func() {
		defer ix.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("tenant_id", tenantID).Str("prompt_id", promptID).Msg("Background reindex panicked")
			}
		}()

		count, err := ix.Reindex(context.Background(), tenantID, promptID)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", tenantID).Str("prompt_id", promptID).Msg("Background reindex failed")
			return
		}
		log.Debug().Str("tenant_id", tenantID).Str("prompt_id", promptID).Int("chunks", count).Msg("Background reindex finished")
	}()
}

// Wait blocks until every background reindex has finished
func (ix *Indexer) Wait() {
	ix.wg.Wait()
}

// ReindexAll reindexes every prompt of a tenant in turn, calling progress after each one
func (ix *Indexer) ReindexAll(ctx context.Context, tenantID string, progress func(promptID string, chunks int)) (int, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}
	prompts, err := ix.store.ListPrompts(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, p := range prompts {
		count, err := ix.Reindex(ctx, tenantID, p.ID)
		if err != nil {
			return total, fmt.Errorf("failed to reindex prompt %s: %w", p.ID, err)
		}
		total += count
		if progress != nil {
			progress(p.ID, count)
		}
	}
	return total, nil
}
