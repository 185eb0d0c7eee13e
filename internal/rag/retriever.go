package rag

import (
	"context"
	"fmt"
	"strings"

	"prompt-rag/internal/apperr"
	"prompt-rag/internal/config"
	"prompt-rag/internal/db"
	"prompt-rag/internal/embedding"
	"prompt-rag/internal/helper"
	"prompt-rag/internal/models"

	"github.com/rs/zerolog/log"
)

const bestChunkPreview = 200

// SearchOptions tune a similarity search. A zero TopK and a nil MinSimilarity fall back
// to the configured defaults.
type SearchOptions struct {
	TopK          int
	MinSimilarity *float64
	PromptID      string
}

// Retriever answers similarity queries over the stored chunks of a tenant
type Retriever struct {
	store    db.Store
	embedder embedding.Embedder
	cfg      config.RAGConfig
}

func NewRetriever(store db.Store, embedder embedding.Embedder, cfg config.RAGConfig) *Retriever {
	return &Retriever{store: store, embedder: embedder, cfg: cfg}
}

func requireTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return apperr.ErrEmptyTenant
	}
	return nil
}

// threshold resolves an optional minimum similarity; explicit values, negative ones included, are kept
func (r *Retriever) threshold(minSimilarity *float64) float64 {
	if minSimilarity == nil {
		return r.cfg.MinSimilarity
	}
	return *minSimilarity
}

func (r *Retriever) embedQuery(ctx context.Context, tenantID, query string) ([]float32, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, apperr.ErrEmptyQuery
	}
	return r.embedder.Embed(ctx, query)
}

// SimilaritySearch ranks the chunks in scope, keeps the best TopK and only then
// drops those below MinSimilarity, so fewer than TopK results may come back.
func (r *Retriever) SimilaritySearch(ctx context.Context, tenantID, query string, opts SearchOptions) ([]models.ScoredChunk, error) {
	vector, err := r.embedQuery(ctx, tenantID, query)
	if err != nil {
		return nil, err
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	ranked, err := r.store.ScoreEmbeddings(ctx, db.ScoreQuery{
		TenantID: tenantID,
		PromptID: opts.PromptID,
		Vector:   vector,
		Limit:    topK,
	})
	if err != nil {
		return nil, err
	}

	minSimilarity := r.threshold(opts.MinSimilarity)
	results := make([]models.ScoredChunk, 0, len(ranked))
	for _, c := range ranked {
		if c.Similarity >= minSimilarity {
			results = append(results, c)
		}
	}
	log.Debug().
		Str("tenant_id", tenantID).
		Str("prompt_id", opts.PromptID).
		Int("top_k", topK).
		Float64("min_similarity", minSimilarity).
		Int("ranked", len(ranked)).
		Int("results", len(results)).
		Msg("Similarity search")
	return results, nil
}

// FindRelatedPrompts returns, per prompt, its best chunk above minSimilarity and the
// number of its chunks that passed, ordered by best score. A nil minSimilarity uses the configured default.
func (r *Retriever) FindRelatedPrompts(ctx context.Context, tenantID, query string, topK int, minSimilarity *float64) ([]models.RelatedPrompt, error) {
	vector, err := r.embedQuery(ctx, tenantID, query)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	threshold := r.threshold(minSimilarity)

	ranked, err := r.store.ScoreEmbeddings(ctx, db.ScoreQuery{TenantID: tenantID, Vector: vector})
	if err != nil {
		return nil, err
	}

	related := []models.RelatedPrompt{}
	index := make(map[string]int)
	for _, c := range ranked {
		if c.Similarity < threshold {
			continue
		}
		if i, ok := index[c.PromptID]; ok {
			related[i].ChunkCount++
			continue
		}
		// ranked is sorted, so the first chunk seen for a prompt is its best
		index[c.PromptID] = len(related)
		related = append(related, models.RelatedPrompt{
			PromptID:   c.PromptID,
			BestChunk:  helper.Truncate(c.Content, bestChunkPreview),
			ChunkID:    c.ChunkID,
			Similarity: c.Similarity,
			ChunkCount: 1,
		})
	}
	if len(related) > topK {
		related = related[:topK]
	}
	return related, nil
}

// GetContext formats the best chunks of one prompt as "[Score: 0.xyz] text" blocks
func (r *Retriever) GetContext(ctx context.Context, tenantID, promptID, query string, maxChunks int) (string, error) {
	if maxChunks <= 0 {
		maxChunks = r.cfg.MaxContextChunks
	}
	chunks, err := r.SimilaritySearch(ctx, tenantID, query, SearchOptions{
		TopK:     maxChunks,
		PromptID: promptID,
	})
	if err != nil {
		return "", err
	}
	blocks := make([]string, 0, len(chunks))
	for _, c := range chunks {
		blocks = append(blocks, fmt.Sprintf("[Score: %.3f] %s", c.Similarity, c.Content))
	}
	return strings.Join(blocks, models.ContextSeparator), nil
}

func (r *Retriever) GetStats(ctx context.Context, tenantID string) (*models.Stats, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	return r.store.EmbeddingStats(ctx, tenantID)
}
