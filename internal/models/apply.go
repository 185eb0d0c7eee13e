package models

// ContextChunk is a retrieved chunk injected into a generation request
type ContextChunk struct {
	ChunkID    string  `json:"chunk_id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	Source     string  `json:"source"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ApplyResponse is the result of running a prompt against a text
type ApplyResponse struct {
	Text          string         `json:"text"`
	ContextChunks []ContextChunk `json:"context_chunks"`
	Usage         TokenUsage     `json:"usage"`
	TimingMs      int64          `json:"timing_ms"`
	Model         string         `json:"model"`
}
