package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"prompt-rag/internal/apperr"
	"prompt-rag/internal/config"
	"prompt-rag/internal/llmservice"
	"prompt-rag/internal/models"

	"github.com/rs/zerolog/log"
)

// ApplyRequest describes one run of a prompt against a text. Nil MinSimilarity and
// Temperature fall back to the rag and llm config.
type ApplyRequest struct {
	Query          string
	Text           string
	Format         string
	IncludeContext bool
	TopK           int
	MinSimilarity  *float64
	MaxTokens      int
	Temperature    *float64
	Model          string
}

// Applier grounds a generation request in the chunks of a prompt
type Applier struct {
	retriever *Retriever
	completer llmservice.Completer
	llm       config.LLMConfig
}

func NewApplier(retriever *Retriever, completer llmservice.Completer, cfg config.LLMConfig) *Applier {
	return &Applier{retriever: retriever, completer: completer, llm: cfg}
}

// FormatContext numbers the chunks as "[1] text" blocks separated by a blank line
func FormatContext(chunks []models.ContextChunk) string {
	blocks := make([]string, 0, len(chunks))
	for i, c := range chunks {
		blocks = append(blocks, fmt.Sprintf("[%d] %s", i+1, c.Content))
	}
	return strings.Join(blocks, models.ContextSeparator)
}

// BuildPrompts returns the system and user messages for a request
func BuildPrompts(instruction string, req ApplyRequest, chunks []models.ContextChunk) (string, string, error) {
	format := req.Format
	if format == "" {
		format = models.FormatPlain
	}
	rules, ok := models.FormatRules[format]
	if !ok {
		return "", "", apperr.Validation(fmt.Sprintf("unsupported format: %s", req.Format))
	}

	system := fmt.Sprintf(models.ApplySystemPrompt, rules)
	contextBlock := ""
	if len(chunks) > 0 {
		contextBlock = fmt.Sprintf(models.ApplyContextTemplate, FormatContext(chunks))
	}
	user := fmt.Sprintf(models.ApplyUserPromptTemplate, instruction, req.Query, contextBlock, req.Text)
	return system, user, nil
}

// Apply runs the instruction of a prompt over req.Text. Completion failures are returned unchanged.
func (a *Applier) Apply(ctx context.Context, tenantID, promptID, instruction string, req ApplyRequest) (*models.ApplyResponse, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	start := time.Now()

	used := []models.ContextChunk{}
	if req.IncludeContext {
		query := req.Query
		if strings.TrimSpace(query) == "" {
			query = req.Text
		}
		hits, err := a.retriever.SimilaritySearch(ctx, tenantID, query, SearchOptions{
			TopK:          req.TopK,
			MinSimilarity: req.MinSimilarity,
			PromptID:      promptID,
		})
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			used = append(used, models.ContextChunk{
				ChunkID:    h.ChunkID,
				Content:    h.Content,
				Similarity: h.Similarity,
				Source:     models.ChunkSource(h.ChunkID),
			})
		}
	}

	system, user, err := BuildPrompts(instruction, req, used)
	if err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.llm.MaxTokens
	}
	temperature := a.llm.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	completion, err := a.completer.Complete(ctx, llmservice.CompletionRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		MaxTokens:    maxTokens,
		Temperature:  &temperature,
		Model:        req.Model,
	})
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	log.Info().
		Str("tenant_id", tenantID).
		Str("prompt_id", promptID).
		Int("context_chunks", len(used)).
		Int("total_tokens", completion.TotalTokens).
		Dur("elapsed", elapsed).
		Msg("Applied prompt")

	return &models.ApplyResponse{
		Text:          completion.Text,
		ContextChunks: used,
		Usage: models.TokenUsage{
			PromptTokens:     completion.PromptTokens,
			CompletionTokens: completion.CompletionTokens,
			TotalTokens:      completion.TotalTokens,
		},
		TimingMs: elapsed.Milliseconds(),
		Model:    completion.Model,
	}, nil
}
