package embedding

import (
	"context"
	"fmt"

	"prompt-rag/internal/apperr"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
)

// Provider calls an external embedding model through langchaingo
type Provider struct {
	client     embeddings.EmbedderClient
	model      string
	dimensions int
}

func NewProvider(client embeddings.EmbedderClient, model string, dimensions int) *Provider {
	return &Provider{client: client, model: model, dimensions: dimensions}
}

func (p *Provider) Dimensions() int { return p.dimensions }

func (p *Provider) Model() string { return p.model }

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.create(ctx, "embed", []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch sends every text in a single request
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return p.create(ctx, "embed_batch", texts)
}

func (p *Provider) create(ctx context.Context, operation string, texts []string) ([][]float32, error) {
	log.Debug().Str("model", p.model).Str("operation", operation).Int("texts", len(texts)).Msg("Requesting embeddings")

	vectors, err := p.client.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, apperr.External("embedding request failed", err).
			WithDetail("model", p.model).
			WithDetail("operation", operation)
	}
	if len(vectors) == 0 {
		return nil, apperr.External("embedding provider returned no vectors", nil).
			WithDetail("model", p.model).
			WithDetail("operation", operation)
	}
	if len(vectors) != len(texts) {
		return nil, apperr.External(fmt.Sprintf("embedding provider returned %d vectors for %d texts", len(vectors), len(texts)), nil).
			WithDetail("model", p.model).
			WithDetail("operation", operation)
	}
	for i, v := range vectors {
		if len(v) != p.dimensions {
			return nil, apperr.Validation(fmt.Sprintf("embedding dimension mismatch: got %d, expected %d", len(v), p.dimensions)).
				WithDetail("model", p.model).
				WithDetail("operation", operation).
				WithDetail("index", i)
		}
	}
	return vectors, nil
}
