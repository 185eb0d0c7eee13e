package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"prompt-rag/internal/apperr"
	"prompt-rag/internal/chromemdb"
	"prompt-rag/internal/config"
	"prompt-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 3

func strPtr(s string) *string { return &s }

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "rag.db"), testDims)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	chromemSQLite, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "rows.db"), testDims)
	require.NoError(t, err)
	index, err := chromemdb.NewIndex("", true)
	require.NoError(t, err)
	chromem := NewChromem(chromemSQLite, index)
	t.Cleanup(func() { chromem.Close() })

	return map[string]Store{
		"memory":  NewMemory(testDims),
		"sqlite":  sqlite,
		"chromem": chromem,
	}
}

func seedPrompt(t *testing.T, s Store, tenant, id string) *models.Prompt {
	t.Helper()
	now := time.Now().UTC()
	p := &models.Prompt{
		ID:        id,
		TenantID:  tenant,
		Name:      "prompt " + id,
		Text:      strPtr("text of " + id),
		Metadata:  map[string]interface{}{"lang": "en"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreatePrompt(context.Background(), p))
	return p
}

func emb(tenant, prompt, id, chunk string, pos int, vec ...float32) models.Embedding {
	return models.Embedding{ID: id, TenantID: tenant, PromptID: prompt, ChunkID: chunk, Content: "chunk " + id, Vector: vec, Position: pos}
}

func TestPromptCRUD(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedPrompt(t, s, "t1", "p1")
			seedPrompt(t, s, "t1", "p2")
			seedPrompt(t, s, "t2", "p3")

			got, err := s.GetPrompt(ctx, "t1", "p1")
			require.NoError(t, err)
			assert.Equal(t, "prompt p1", got.Name)
			assert.Equal(t, "text of p1", got.Body())
			assert.Equal(t, "en", got.Metadata["lang"])

			_, err = s.GetPrompt(ctx, "t2", "p1")
			assert.True(t, apperr.IsNotFound(err), "prompts never cross tenants")

			list, err := s.ListPrompts(ctx, "t1")
			require.NoError(t, err)
			assert.Len(t, list, 2)

			got.Name = "renamed"
			got.Text = nil
			require.NoError(t, s.UpdatePrompt(ctx, got))
			got, err = s.GetPrompt(ctx, "t1", "p1")
			require.NoError(t, err)
			assert.Equal(t, "renamed", got.Name)
			assert.Nil(t, got.Text)

			missing := &models.Prompt{ID: "nope", TenantID: "t1", Name: "x"}
			assert.True(t, apperr.IsNotFound(s.UpdatePrompt(ctx, missing)))

			_, err = s.GetPrompt(ctx, "", "p1")
			assert.True(t, apperr.IsValidation(err))
		})
	}
}

func TestDeletePromptCascades(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedPrompt(t, s, "t1", "p1")
			seedPrompt(t, s, "t1", "p2")
			require.NoError(t, s.CreateFile(ctx, &models.File{ID: "f1", TenantID: "t1", PromptID: "p1", Filename: "a.txt", MIMEType: "text/plain", Size: 3, StoragePath: "t1/p1/f1_a.txt"}))
			require.NoError(t, s.InsertEmbeddings(ctx, []models.Embedding{
				emb("t1", "p1", "e1", "prompt_0", 0, 1, 0, 0),
				emb("t1", "p2", "e2", "prompt_0", 0, 0, 1, 0),
			}))

			require.NoError(t, s.DeletePrompt(ctx, "t1", "p1"))

			_, err := s.GetFile(ctx, "t1", "f1")
			assert.ErrorIs(t, err, apperr.ErrFileNotFound)
			stats, err := s.EmbeddingStats(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, 1, stats.TotalEmbeddings)

			assert.ErrorIs(t, s.DeletePrompt(ctx, "t1", "p1"), apperr.ErrPromptNotFound)
		})
	}
}

func TestFileCRUD(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedPrompt(t, s, "t1", "p1")

			err := s.CreateFile(ctx, &models.File{ID: "orphan", TenantID: "t1", PromptID: "missing", Filename: "x", MIMEType: "text/plain", StoragePath: "x"})
			assert.True(t, apperr.IsNotFound(err))

			for _, id := range []string{"f1", "f2"} {
				require.NoError(t, s.CreateFile(ctx, &models.File{ID: id, TenantID: "t1", PromptID: "p1", Filename: id + ".md", MIMEType: "text/markdown", Size: 10, StoragePath: "t1/p1/" + id}))
			}
			files, err := s.ListFiles(ctx, "t1", "p1")
			require.NoError(t, err)
			require.Len(t, files, 2)
			assert.Equal(t, "f1", files[0].ID)

			f, err := s.GetFile(ctx, "t1", "f2")
			require.NoError(t, err)
			assert.Equal(t, "text/markdown", f.MIMEType)
			assert.Equal(t, int64(10), f.Size)

			require.NoError(t, s.DeleteFile(ctx, "t1", "f2"))
			assert.True(t, apperr.IsNotFound(s.DeleteFile(ctx, "t1", "f2")))
		})
	}
}

func TestScoreEmbeddings(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedPrompt(t, s, "t1", "p1")
			seedPrompt(t, s, "t1", "p2")
			seedPrompt(t, s, "t2", "p3")
			require.NoError(t, s.InsertEmbeddings(ctx, []models.Embedding{
				emb("t1", "p1", "a", "prompt_0", 0, 1, 0, 0),
				emb("t1", "p1", "b", "prompt_1", 1, 0, 1, 0),
				emb("t1", "p2", "c", "prompt_0", 0, 1, 1, 0),
				emb("t1", "p2", "d", "prompt_1", 1, 1, 0, 0),
				emb("t2", "p3", "e", "prompt_0", 0, 1, 0, 0),
			}))

			all, err := s.ScoreEmbeddings(ctx, ScoreQuery{TenantID: "t1", Vector: []float32{1, 0, 0}})
			require.NoError(t, err)
			require.Len(t, all, 4)
			ids := []string{all[0].EmbeddingID, all[1].EmbeddingID, all[2].EmbeddingID, all[3].EmbeddingID}
			assert.Equal(t, []string{"a", "d", "c", "b"}, ids, "equal scores keep insertion order")
			assert.InDelta(t, 1.0, all[0].Similarity, 1e-6)
			assert.InDelta(t, 0.0, all[3].Similarity, 1e-6)

			limited, err := s.ScoreEmbeddings(ctx, ScoreQuery{TenantID: "t1", PromptID: "p2", Vector: []float32{1, 0, 0}, Limit: 1})
			require.NoError(t, err)
			require.Len(t, limited, 1)
			assert.Equal(t, "d", limited[0].EmbeddingID)

			_, err = s.ScoreEmbeddings(ctx, ScoreQuery{TenantID: "t1", Vector: []float32{1, 0}})
			assert.True(t, apperr.IsValidation(err))
		})
	}
}

func TestInsertEmbeddingsRequiresPrompt(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedPrompt(t, s, "t1", "p1")
			seedPrompt(t, s, "t1", "p2")
			require.NoError(t, s.DeletePrompt(ctx, "t1", "p1"))

			err := s.InsertEmbeddings(ctx, []models.Embedding{
				emb("t1", "p2", "a", "prompt_0", 0, 1, 0, 0),
				emb("t1", "p1", "b", "prompt_0", 0, 0, 1, 0),
			})
			assert.ErrorIs(t, err, apperr.ErrPromptNotFound)

			err = s.InsertEmbeddings(ctx, []models.Embedding{emb("t2", "p2", "c", "prompt_0", 0, 1, 0, 0)})
			assert.ErrorIs(t, err, apperr.ErrPromptNotFound, "prompts never cross tenants")

			stats, err := s.EmbeddingStats(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, 0, stats.TotalEmbeddings, "a rejected batch stores nothing")
			scored, err := s.ScoreEmbeddings(ctx, ScoreQuery{TenantID: "t1", Vector: []float32{1, 0, 0}})
			require.NoError(t, err)
			assert.Empty(t, scored)
		})
	}
}

func TestInsertEmbeddingsRejectsWrongDimensions(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			seedPrompt(t, s, "t1", "p1")
			err := s.InsertEmbeddings(context.Background(), []models.Embedding{emb("t1", "p1", "a", "prompt_0", 0, 1, 0)})
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
		})
	}
}

func TestEmbeddingStats(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedPrompt(t, s, "t1", "p1")
			seedPrompt(t, s, "t1", "p2")

			stats, err := s.EmbeddingStats(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, models.Stats{}, *stats)

			e1 := emb("t1", "p1", "a", "prompt_0", 0, 1, 0, 0)
			e1.Content = "abcd"
			e2 := emb("t1", "p2", "b", "prompt_0", 0, 0, 1, 0)
			e2.Content = "ab"
			require.NoError(t, s.InsertEmbeddings(ctx, []models.Embedding{e1, e2}))

			stats, err = s.EmbeddingStats(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, 2, stats.TotalEmbeddings)
			assert.Equal(t, 2, stats.PromptsWithEmbeddings)
			assert.InDelta(t, 3.0, stats.AverageChunkLength, 1e-9)

			require.NoError(t, s.DeleteEmbeddings(ctx, "t1", "p1"))
			stats, err = s.EmbeddingStats(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, 1, stats.TotalEmbeddings)
		})
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.DatabaseConfig{Driver: "memory"}, 4)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open(context.Background(), config.DatabaseConfig{Driver: "mongo"}, 4)
	assert.Error(t, err)
}
