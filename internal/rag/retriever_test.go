package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"prompt-rag/internal/apperr"
	"prompt-rag/internal/db"
	"prompt-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilaritySearchFindsPrompt(t *testing.T) {
	f := newFixture(t)
	p := f.createPrompt(t, "t1", "math", "You are a helpful assistant for mathematics students.")

	results, err := f.retriever.SimilaritySearch(context.Background(), "t1", "math help", SearchOptions{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, p.ID, r.PromptID)
		assert.GreaterOrEqual(t, r.Similarity, 0.0)
		assert.LessOrEqual(t, r.Similarity, 1.0+1e-6)
	}
}

func TestSimilaritySearchProperties(t *testing.T) {
	f := newFixture(t)
	texts := []string{
		"Linear algebra covers vectors, matrices and linear maps.",
		"The bachelor program takes six semesters to complete.",
		"Photosynthesis converts light into chemical energy.",
		"Matrices can be multiplied when their dimensions agree.",
		"Students enrol in the winter semester each year.",
		"Vectors have both a direction and a magnitude.",
	}
	for i, text := range texts {
		f.createPrompt(t, "t1", fmt.Sprintf("p%d", i), text)
	}

	tests := []struct {
		name string
		opts SearchOptions
	}{
		{name: "top 3", opts: SearchOptions{TopK: 3}},
		{name: "top 10 above threshold", opts: SearchOptions{TopK: 10, MinSimilarity: floatPtr(0.2)}},
		{name: "default top k", opts: SearchOptions{}},
		{name: "strict threshold", opts: SearchOptions{TopK: 4, MinSimilarity: floatPtr(0.99)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := f.retriever.SimilaritySearch(context.Background(), "t1", "vectors and matrices", tt.opts)
			require.NoError(t, err)

			limit := tt.opts.TopK
			if limit == 0 {
				limit = testRAGConfig().TopK
			}
			threshold := testRAGConfig().MinSimilarity
			if tt.opts.MinSimilarity != nil {
				threshold = *tt.opts.MinSimilarity
			}
			assert.LessOrEqual(t, len(results), limit)
			for i, r := range results {
				assert.GreaterOrEqual(t, r.Similarity, threshold)
				if i > 0 {
					assert.LessOrEqual(t, r.Similarity, results[i-1].Similarity)
				}
			}
		})
	}
}

// fixedVectorStore holds three chunks scored against the query vector {1, 0, 0}:
// e1 = 1, e2 = 0.8, e3 = 0 and, when negative is set, e4 = -1.
func fixedVectorStore(t *testing.T, negative bool) *db.Memory {
	t.Helper()
	store := db.NewMemory(3)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, id := range []string{"p1", "p2"} {
		require.NoError(t, store.CreatePrompt(ctx, &models.Prompt{ID: id, TenantID: "t1", Name: id, CreatedAt: now, UpdatedAt: now}))
	}
	rows := []models.Embedding{
		{ID: "e1", TenantID: "t1", PromptID: "p1", ChunkID: "prompt_0", Content: "exact", Vector: []float32{1, 0, 0}, CreatedAt: now},
		{ID: "e2", TenantID: "t1", PromptID: "p1", ChunkID: "prompt_1", Content: "close", Vector: []float32{0.8, 0.6, 0}, CreatedAt: now},
		{ID: "e3", TenantID: "t1", PromptID: "p2", ChunkID: "prompt_0", Content: "far", Vector: []float32{0, 1, 0}, CreatedAt: now},
	}
	if negative {
		rows = append(rows, models.Embedding{ID: "e4", TenantID: "t1", PromptID: "p2", ChunkID: "prompt_1", Content: "opposite", Vector: []float32{-1, 0, 0}, CreatedAt: now})
	}
	require.NoError(t, store.InsertEmbeddings(ctx, rows))
	return store
}

func TestSimilaritySearchThresholdAppliesAfterLimit(t *testing.T) {
	r := NewRetriever(fixedVectorStore(t, false), fixedEmbedder{vector: []float32{1, 0, 0}}, testRAGConfig())

	results, err := r.SimilaritySearch(context.Background(), "t1", "anything", SearchOptions{TopK: 2, MinSimilarity: floatPtr(0.5)})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "e1", results[0].EmbeddingID)
	assert.Equal(t, "e2", results[1].EmbeddingID)

	results, err = r.SimilaritySearch(context.Background(), "t1", "anything", SearchOptions{TopK: 3, MinSimilarity: floatPtr(0.9)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "e1", results[0].EmbeddingID)

	results, err = r.SimilaritySearch(context.Background(), "t1", "anything", SearchOptions{TopK: 3, PromptID: "p2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "e3", results[0].EmbeddingID)
}

func TestSimilaritySearchRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.retriever.SimilaritySearch(context.Background(), "t1", "   ", SearchOptions{})
	assert.ErrorIs(t, err, apperr.ErrEmptyQuery)
	assert.NotErrorIs(t, err, apperr.ErrEmptyTenant)
	assert.True(t, apperr.IsValidation(err))

	_, err = f.retriever.SimilaritySearch(context.Background(), "", "math", SearchOptions{})
	assert.ErrorIs(t, err, apperr.ErrEmptyTenant)
	assert.NotErrorIs(t, err, apperr.ErrEmptyQuery)
}

func TestThresholdDefaultsAndNegativeValues(t *testing.T) {
	cfg := testRAGConfig()
	cfg.MinSimilarity = 0.5
	r := NewRetriever(fixedVectorStore(t, true), fixedEmbedder{vector: []float32{1, 0, 0}}, cfg)
	ctx := context.Background()

	results, err := r.SimilaritySearch(ctx, "t1", "anything", SearchOptions{TopK: 10})
	require.NoError(t, err)
	require.Len(t, results, 2, "unset threshold uses the configured 0.5")
	assert.Equal(t, "e2", results[1].EmbeddingID)

	results, err = r.SimilaritySearch(ctx, "t1", "anything", SearchOptions{TopK: 10, MinSimilarity: floatPtr(-1)})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, "e4", results[3].EmbeddingID)
	assert.InDelta(t, -1.0, results[3].Similarity, 1e-6)

	results, err = r.SimilaritySearch(ctx, "t1", "anything", SearchOptions{TopK: 10, MinSimilarity: floatPtr(0)})
	require.NoError(t, err)
	assert.Len(t, results, 3, "an explicit zero is kept")

	related, err := r.FindRelatedPrompts(ctx, "t1", "anything", 10, nil)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "p1", related[0].PromptID)

	related, err = r.FindRelatedPrompts(ctx, "t1", "anything", 10, floatPtr(-1))
	require.NoError(t, err)
	require.Len(t, related, 2)
	assert.Equal(t, 2, related[1].ChunkCount)
}

func TestSimilaritySearchIsTenantScoped(t *testing.T) {
	f := newFixture(t)
	f.createPrompt(t, "t1", "math", "Algebra and geometry for students.")

	results, err := f.retriever.SimilaritySearch(context.Background(), "t2", "algebra", SearchOptions{TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSimilaritySearchPropagatesEmbedderFailure(t *testing.T) {
	r := NewRetriever(db.NewMemory(trigramDims), failingEmbedder{err: errProviderDown}, testRAGConfig())

	_, err := r.SimilaritySearch(context.Background(), "t1", "math", SearchOptions{})
	assert.ErrorIs(t, err, errProviderDown)
}

func TestFindRelatedPrompts(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("Matrix multiplication rules for linear algebra students. ", 12)
	algebra := f.createPrompt(t, "t1", "algebra", long)
	geometry := f.createPrompt(t, "t1", "geometry", "Linear algebra and geometry of vectors.")
	f.createPrompt(t, "t1", "biology", "Cells divide by mitosis.")

	related, err := f.retriever.FindRelatedPrompts(context.Background(), "t1", "linear algebra matrix", 5, floatPtr(0.2))
	require.NoError(t, err)
	require.NotEmpty(t, related)

	seen := map[string]bool{}
	for i, r := range related {
		assert.False(t, seen[r.PromptID], "prompt %s listed twice", r.PromptID)
		seen[r.PromptID] = true
		assert.GreaterOrEqual(t, r.ChunkCount, 1)
		assert.GreaterOrEqual(t, r.Similarity, 0.2)
		assert.LessOrEqual(t, len([]rune(r.BestChunk)), bestChunkPreview+3)
		if i > 0 {
			assert.LessOrEqual(t, r.Similarity, related[i-1].Similarity)
		}
	}
	assert.True(t, seen[algebra.ID])
	assert.True(t, seen[geometry.ID])

	stored, err := f.store.ScoreEmbeddings(context.Background(), db.ScoreQuery{TenantID: "t1", PromptID: algebra.ID, Vector: trigramVector("linear algebra matrix")})
	require.NoError(t, err)
	passing := 0
	for _, c := range stored {
		if c.Similarity >= 0.2 {
			passing++
		}
	}
	for _, r := range related {
		if r.PromptID == algebra.ID {
			assert.Equal(t, passing, r.ChunkCount)
		}
	}

	limited, err := f.retriever.FindRelatedPrompts(context.Background(), "t1", "linear algebra matrix", 1, floatPtr(0))
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGetContextFormatsScores(t *testing.T) {
	f := newFixture(t)
	p := f.createPrompt(t, "t1", "math", "Calculus studies rates of change.")

	text, err := f.retriever.GetContext(context.Background(), "t1", p.ID, "calculus rates", 3)
	require.NoError(t, err)
	assert.Regexp(t, `^\[Score: \d\.\d{3}\] Calculus studies rates of change\.$`, text)

	empty, err := f.retriever.GetContext(context.Background(), "t1", "missing", "calculus", 3)
	require.NoError(t, err)
	assert.Equal(t, "", empty)
}

func TestGetStats(t *testing.T) {
	f := newFixture(t)
	f.createPrompt(t, "t1", "a", "First prompt text.")
	f.createPrompt(t, "t1", "b", "Second prompt.")
	f.createPrompt(t, "t2", "c", "Other tenant.")

	stats, err := f.retriever.GetStats(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEmbeddings)
	assert.Equal(t, 2, stats.PromptsWithEmbeddings)
	assert.InDelta(t, float64(len("First prompt text.")+len("Second prompt."))/2, stats.AverageChunkLength, 1e-9)

	_, err = f.retriever.GetStats(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrEmptyTenant)
}
