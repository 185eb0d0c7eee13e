package models

import "time"

// Prompt is a tenant-scoped text unit that owns files and embeddings
type Prompt struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenant_id"`
	Name      string                 `json:"name"`
	Text      *string                `json:"text,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Body returns the prompt text or an empty string when it is null
func (p *Prompt) Body() string {
	if p.Text == nil {
		return ""
	}
	return *p.Text
}

// File is a binary attachment of a prompt; its bytes live in the blob store
type File struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	PromptID    string    `json:"prompt_id"`
	Filename    string    `json:"filename"`
	MIMEType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}
