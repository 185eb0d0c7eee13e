package rag

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"testing"

	"prompt-rag/internal/blobstore"
	"prompt-rag/internal/config"
	"prompt-rag/internal/db"
	"prompt-rag/internal/llmservice"
	"prompt-rag/internal/models"

	"github.com/stretchr/testify/require"
)

const trigramDims = 64

// trigramEmbedder counts hashed character trigrams. Vectors are non-negative, so
// cosine scores stay within [0,1] and texts sharing words score higher.
type trigramEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (e *trigramEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return trigramVector(text), nil
}

func (e *trigramEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = trigramVector(t)
	}
	return out, nil
}

func (e *trigramEmbedder) Dimensions() int { return trigramDims }
func (e *trigramEmbedder) Model() string   { return "trigram" }

func (e *trigramEmbedder) batchCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func trigramVector(text string) []float32 {
	v := make([]float32, trigramDims)
	runes := []rune(" " + strings.ToLower(text) + " ")
	for i := 0; i+3 <= len(runes); i++ {
		h := fnv.New32a()
		_, _ = h.Write([]byte(string(runes[i : i+3])))
		v[h.Sum32()%trigramDims]++
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
	return v
}

// fixedEmbedder returns the same query vector for every text
type fixedEmbedder struct {
	vector []float32
}

func (e fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return e.vector, nil }

func (e fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector
	}
	return out, nil
}

func (e fixedEmbedder) Dimensions() int { return len(e.vector) }
func (e fixedEmbedder) Model() string   { return "fixed" }

type failingEmbedder struct {
	err error
}

func (e failingEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, e.err }
func (e failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, e.err
}
func (e failingEmbedder) Dimensions() int { return trigramDims }
func (e failingEmbedder) Model() string   { return "failing" }

// scriptedCompleter records every request and answers with a fixed completion or error
type scriptedCompleter struct {
	mu       sync.Mutex
	requests []llmservice.CompletionRequest
	reply    *llmservice.Completion
	err      error
}

func (c *scriptedCompleter) Complete(_ context.Context, req llmservice.CompletionRequest) (*llmservice.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	return c.reply, nil
}

func (c *scriptedCompleter) last() llmservice.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

var errProviderDown = errors.New("provider down")

func testRAGConfig() config.RAGConfig {
	return config.RAGConfig{
		ChunkSize:        200,
		ChunkOverlap:     20,
		TopK:             5,
		MinSimilarity:    0,
		MaxContextChunks: 5,
	}
}

func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{Provider: "mock", Model: "test-model", MaxTokens: 256, Temperature: 0.2}
}

type fixture struct {
	store     *db.Memory
	blobs     *blobstore.Memory
	embedder  *trigramEmbedder
	retriever *Retriever
	indexer   *Indexer
	completer *scriptedCompleter
	applier   *Applier
	service   *PromptService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    db.NewMemory(trigramDims),
		blobs:    blobstore.NewMemory(),
		embedder: &trigramEmbedder{},
		completer: &scriptedCompleter{reply: &llmservice.Completion{
			Text: "rewritten", PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15, Model: "test-model",
		}},
	}
	cfg := testRAGConfig()
	f.retriever = NewRetriever(f.store, f.embedder, cfg)
	f.indexer = NewIndexer(f.store, f.blobs, f.embedder, cfg)
	f.applier = NewApplier(f.retriever, f.completer, testLLMConfig())
	f.service = NewPromptService(f.store, f.blobs, f.indexer, f.applier, false)
	t.Cleanup(f.indexer.Wait)
	return f
}

func strPtr(s string) *string { return &s }

func floatPtr(v float64) *float64 { return &v }

// createPrompt stores a prompt and waits for its background reindex
func (f *fixture) createPrompt(t *testing.T, tenantID, name, text string) *models.Prompt {
	t.Helper()
	in := CreatePromptInput{Name: name}
	if text != "" {
		in.Text = strPtr(text)
	}
	p, err := f.service.CreatePrompt(context.Background(), tenantID, in)
	require.NoError(t, err)
	f.indexer.Wait()
	return p
}

func (f *fixture) upload(t *testing.T, tenantID, promptID, filename, mimeType string, data []byte) *models.File {
	t.Helper()
	file, err := f.service.UploadFile(context.Background(), tenantID, promptID, filename, mimeType, data)
	require.NoError(t, err)
	f.indexer.Wait()
	return file
}
