package llmservice

import (
	"context"
	"fmt"
	"strings"

	"prompt-rag/internal/apperr"
	"prompt-rag/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// CompletionRequest is one generation call. A nil Temperature leaves the provider default.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  *float64
	Model        string
}

type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// Completer is a black-box text completion function
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// New builds the completer selected by cfg.Provider
func New(cfg config.LLMConfig) (Completer, error) {
	log.Debug().Interface("config", map[string]interface{}{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating completer")

	switch cfg.Provider {
	case "mock", "":
		return NewMock(cfg.Model), nil
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai llm: %w", err)
		}
		return NewLangChain(llm, cfg.Model), nil
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama llm: %w", err)
		}
		return NewLangChain(llm, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// LangChain completes through any langchaingo model
type LangChain struct {
	llm   llms.Model
	model string
}

func NewLangChain(llm llms.Model, model string) *LangChain {
	return &LangChain{llm: llm, model: model}
}

func (c *LangChain) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	log.Debug().Str("model", model).Int("max_tokens", req.MaxTokens).Msg("Generating content")

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, req.UserPrompt),
	}
	opts := []llms.CallOption{llms.WithModel(model)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*req.Temperature))
	}

	res, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, apperr.External("completion request failed", err).
			WithDetail("model", model).
			WithDetail("operation", "complete")
	}
	if len(res.Choices) == 0 {
		return nil, apperr.External("completion returned no choices", nil).
			WithDetail("model", model).
			WithDetail("operation", "complete")
	}

	choice := res.Choices[0]
	out := &Completion{Text: choice.Content, Model: model}
	out.PromptTokens = intInfo(choice.GenerationInfo, "PromptTokens")
	out.CompletionTokens = intInfo(choice.GenerationInfo, "CompletionTokens")
	out.TotalTokens = intInfo(choice.GenerationInfo, "TotalTokens")
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out, nil
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Mock echoes the user prompt back, used when no provider is configured
type Mock struct {
	model string
}

func NewMock(model string) *Mock {
	return &Mock{model: model}
}

func (m *Mock) Complete(_ context.Context, req CompletionRequest) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = m.model
	}
	promptTokens := len(strings.Fields(req.SystemPrompt)) + len(strings.Fields(req.UserPrompt))
	text := req.UserPrompt
	completionTokens := len(strings.Fields(text))
	return &Completion{
		Text:             text,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		Model:            model,
	}, nil
}
