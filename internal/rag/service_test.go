package rag

import (
	"context"
	"testing"

	"prompt-rag/internal/apperr"
	"prompt-rag/internal/blobstore"
	"prompt-rag/internal/config"
	"prompt-rag/internal/db"
	"prompt-rag/internal/embedding"
	"prompt-rag/internal/llmservice"
	"prompt-rag/internal/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreatePrompt(ctx, "t1", CreatePromptInput{Name: "  "})
	assert.True(t, apperr.IsValidation(err))

	p := f.createPrompt(t, "t1", "greeting", "Say hello politely.")
	got, err := f.service.GetPrompt(ctx, "t1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Say hello politely.", got.Body())

	_, err = f.service.GetPrompt(ctx, "t2", p.ID)
	assert.True(t, apperr.IsNotFound(err))

	updated, err := f.service.UpdatePrompt(ctx, "t1", p.ID, UpdatePromptInput{Text: strPtr("Say goodbye politely.")})
	require.NoError(t, err)
	f.indexer.Wait()
	assert.Equal(t, "greeting", updated.Name)

	results, err := f.retriever.SimilaritySearch(ctx, "t1", "goodbye", SearchOptions{TopK: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Say goodbye politely.", results[0].Content)

	_, err = f.service.UpdatePrompt(ctx, "t1", p.ID, UpdatePromptInput{Text: strPtr("")})
	require.NoError(t, err)
	f.indexer.Wait()
	cleared, err := f.service.GetPrompt(ctx, "t1", p.ID)
	require.NoError(t, err)
	assert.Nil(t, cleared.Text)
	assert.Empty(t, chunkIDs(t, f.store, "t1", p.ID))

	list, err := f.service.ListPrompts(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDeletePromptRemovesBlobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t, "t1", "docs", "Prompt body.")
	file := f.upload(t, "t1", p.ID, "a.txt", "", []byte("attached text"))

	require.NoError(t, f.service.DeletePrompt(ctx, "t1", p.ID))

	exists, err := f.blobs.Exists(ctx, file.StoragePath)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = f.store.GetFile(ctx, "t1", file.ID)
	assert.True(t, apperr.IsNotFound(err))
	assert.Empty(t, chunkIDs(t, f.store, "t1", p.ID))

	assert.True(t, apperr.IsNotFound(f.service.DeletePrompt(ctx, "t1", p.ID)))
}

func TestUploadFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t, "t1", "docs", "")

	file := f.upload(t, "t1", p.ID, "my notes.md", "", []byte("# Title\n\nBody"))
	assert.Equal(t, parser.MIMEMarkdown, file.MIMEType)
	assert.Equal(t, int64(len("# Title\n\nBody")), file.Size)
	assert.Equal(t, blobstore.FilePath("t1", p.ID, file.ID, "my notes.md"), file.StoragePath)

	data, err := f.blobs.Get(ctx, file.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nBody", string(data))

	explicit := f.upload(t, "t1", p.ID, "data", parser.MIMEJSON, []byte(`{"a":"b"}`))
	assert.Equal(t, parser.MIMEJSON, explicit.MIMEType)

	files, err := f.service.ListFiles(ctx, "t1", p.ID)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = f.service.UploadFile(ctx, "t1", "missing", "a.txt", "", []byte("x"))
	assert.True(t, apperr.IsNotFound(err))
	_, err = f.service.UploadFile(ctx, "t1", p.ID, "", "", []byte("x"))
	assert.True(t, apperr.IsValidation(err))
}

func TestDetectMIMESniffing(t *testing.T) {
	pdf := []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	plain := NewPromptService(nil, nil, nil, nil, false)
	assert.Equal(t, parser.MIMEBinary, plain.DetectMIME("upload", "", pdf))
	assert.Equal(t, parser.MIMEHTML, plain.DetectMIME("upload", parser.MIMEHTML, pdf))

	sniffing := NewPromptService(nil, nil, nil, nil, true)
	assert.Equal(t, parser.MIMEPDF, sniffing.DetectMIME("upload", "", pdf))
	assert.Equal(t, parser.MIMEPlain, sniffing.DetectMIME("notes.txt", "", pdf))
}

func TestDeleteFileReindexes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t, "t1", "docs", "Prompt body.")
	file := f.upload(t, "t1", p.ID, "a.txt", "", []byte("attached text"))
	require.Len(t, chunkIDs(t, f.store, "t1", p.ID), 2)

	other := f.createPrompt(t, "t1", "other", "Other body.")
	assert.ErrorIs(t, f.service.DeleteFile(ctx, "t1", other.ID, file.ID), apperr.ErrFileNotFound)

	require.NoError(t, f.service.DeleteFile(ctx, "t1", p.ID, file.ID))
	f.indexer.Wait()
	assert.Len(t, chunkIDs(t, f.store, "t1", p.ID), 1)

	exists, err := f.blobs.Exists(ctx, file.StoragePath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPromptSearchScenario(t *testing.T) {
	f := newFixture(t)
	p := f.createPrompt(t, "tenant-a", "math", "You are a helpful assistant for mathematics students.")

	count, err := f.service.Reindex(context.Background(), "tenant-a", p.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	results, err := f.retriever.SimilaritySearch(context.Background(), "tenant-a", "math help", SearchOptions{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, p.ID, results[0].PromptID)
	assert.GreaterOrEqual(t, results[0].Similarity, 0.0)
	assert.LessOrEqual(t, results[0].Similarity, 1.0+1e-6)
}

func TestFileContextScenario(t *testing.T) {
	f := newFixture(t)
	p := f.createPrompt(t, "tenant-a", "uni", "")
	f.upload(t, "tenant-a", p.ID, "program.txt", "", []byte("Bachelor program duration is six semesters."))

	count, err := f.service.Reindex(context.Background(), "tenant-a", p.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	text, err := f.retriever.GetContext(context.Background(), "tenant-a", p.ID, "how long is the bachelor program", 1)
	require.NoError(t, err)
	assert.Contains(t, text, "Bachelor program duration is six semesters.")
}

func TestMockEmbeddingPipeline(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	embedder, err := embedding.New(cfg.Embedding)
	require.NoError(t, err)
	store, err := db.Open(ctx, cfg.Database, embedder.Dimensions())
	require.NoError(t, err)
	defer store.Close()
	completer, err := llmservice.New(cfg.LLM)
	require.NoError(t, err)

	blobs := blobstore.NewMemory()
	retriever := NewRetriever(store, embedder, cfg.RAG)
	indexer := NewIndexer(store, blobs, embedder, cfg.RAG)
	service := NewPromptService(store, blobs, indexer, NewApplier(retriever, completer, cfg.LLM), false)

	p, err := service.CreatePrompt(ctx, "t1", CreatePromptInput{Name: "uni"})
	require.NoError(t, err)
	_, err = service.UploadFile(ctx, "t1", p.ID, "program.txt", "", []byte("Bachelor program duration is six semesters."))
	require.NoError(t, err)
	indexer.Wait()

	count, err := service.Reindex(ctx, "t1", p.ID)
	require.NoError(t, err)
	assert.Greater(t, count, 0)

	stats, err := retriever.GetStats(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, count, stats.TotalEmbeddings)

	results, err := retriever.SimilaritySearch(ctx, "t1", "how long is the bachelor program", SearchOptions{TopK: 5, MinSimilarity: floatPtr(-1)})
	require.NoError(t, err)
	assert.Len(t, results, count)

	resp, err := service.Apply(ctx, "t1", p.ID, ApplyRequest{Text: "draft", IncludeContext: true, MinSimilarity: floatPtr(-1)})
	require.NoError(t, err)
	assert.Len(t, resp.ContextChunks, count)
	assert.Contains(t, resp.Text, "Bachelor program duration is six semesters.")
}
