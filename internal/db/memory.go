package db

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"prompt-rag/internal/embedding"
	"prompt-rag/internal/models"
)

// Memory keeps everything in process. Used by tests and the default configuration.
type Memory struct {
	mu         sync.RWMutex
	dimensions int
	prompts    []*models.Prompt
	files      []*models.File
	embeddings []models.Embedding
}

func NewMemory(dimensions int) *Memory {
	return &Memory{dimensions: dimensions}
}

func clonePrompt(p *models.Prompt) *models.Prompt {
	out := *p
	if p.Text != nil {
		text := *p.Text
		out.Text = &text
	}
	if p.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func (m *Memory) findPrompt(tenantID, id string) int {
	for i, p := range m.prompts {
		if p.TenantID == tenantID && p.ID == id {
			return i
		}
	}
	return -1
}

func (m *Memory) findFile(tenantID, id string) int {
	for i, f := range m.files {
		if f.TenantID == tenantID && f.ID == id {
			return i
		}
	}
	return -1
}

func (m *Memory) CreatePrompt(_ context.Context, p *models.Prompt) error {
	if err := requireTenant(p.TenantID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, clonePrompt(p))
	return nil
}

func (m *Memory) GetPrompt(_ context.Context, tenantID, id string) (*models.Prompt, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.findPrompt(tenantID, id)
	if i < 0 {
		return nil, promptNotFound(id)
	}
	return clonePrompt(m.prompts[i]), nil
}

func (m *Memory) ListPrompts(_ context.Context, tenantID string) ([]models.Prompt, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Prompt{}
	for _, p := range m.prompts {
		if p.TenantID == tenantID {
			out = append(out, *clonePrompt(p))
		}
	}
	return out, nil
}

func (m *Memory) UpdatePrompt(_ context.Context, p *models.Prompt) error {
	if err := requireTenant(p.TenantID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.findPrompt(p.TenantID, p.ID)
	if i < 0 {
		return promptNotFound(p.ID)
	}
	m.prompts[i] = clonePrompt(p)
	return nil
}

func (m *Memory) DeletePrompt(_ context.Context, tenantID, id string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.findPrompt(tenantID, id)
	if i < 0 {
		return promptNotFound(id)
	}
	m.prompts = append(m.prompts[:i], m.prompts[i+1:]...)

	files := m.files[:0]
	for _, f := range m.files {
		if !(f.TenantID == tenantID && f.PromptID == id) {
			files = append(files, f)
		}
	}
	m.files = files
	m.removeEmbeddings(tenantID, id)
	return nil
}

func (m *Memory) CreateFile(_ context.Context, f *models.File) error {
	if err := requireTenant(f.TenantID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findPrompt(f.TenantID, f.PromptID) < 0 {
		return promptNotFound(f.PromptID)
	}
	file := *f
	m.files = append(m.files, &file)
	return nil
}

func (m *Memory) GetFile(_ context.Context, tenantID, id string) (*models.File, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.findFile(tenantID, id)
	if i < 0 {
		return nil, fileNotFound(id)
	}
	file := *m.files[i]
	return &file, nil
}

func (m *Memory) ListFiles(_ context.Context, tenantID, promptID string) ([]models.File, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.File{}
	for _, f := range m.files {
		if f.TenantID == tenantID && f.PromptID == promptID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *Memory) DeleteFile(_ context.Context, tenantID, id string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.findFile(tenantID, id)
	if i < 0 {
		return fileNotFound(id)
	}
	m.files = append(m.files[:i], m.files[i+1:]...)
	return nil
}

func (m *Memory) DeleteEmbeddings(_ context.Context, tenantID, promptID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeEmbeddings(tenantID, promptID)
	return nil
}

// removeEmbeddings expects the write lock to be held
func (m *Memory) removeEmbeddings(tenantID, promptID string) {
	kept := m.embeddings[:0]
	for _, e := range m.embeddings {
		if !(e.TenantID == tenantID && e.PromptID == promptID) {
			kept = append(kept, e)
		}
	}
	m.embeddings = kept
}

func (m *Memory) InsertEmbeddings(_ context.Context, embeddings []models.Embedding) error {
	if err := validateEmbeddings(embeddings, m.dimensions); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range embeddings {
		if m.findPrompt(e.TenantID, e.PromptID) < 0 {
			return promptNotFound(e.PromptID)
		}
	}
	for _, e := range embeddings {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		e.Vector = append([]float32(nil), e.Vector...)
		m.embeddings = append(m.embeddings, e)
	}
	return nil
}

func (m *Memory) ScoreEmbeddings(_ context.Context, q ScoreQuery) ([]models.ScoredChunk, error) {
	if err := requireTenant(q.TenantID); err != nil {
		return nil, err
	}
	if err := checkDimensions(q.Vector, m.dimensions); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var chunks []models.ScoredChunk
	for _, e := range m.embeddings {
		if e.TenantID != q.TenantID || (q.PromptID != "" && e.PromptID != q.PromptID) {
			continue
		}
		sim, err := embedding.CosineSimilarity(q.Vector, e.Vector)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, models.ScoredChunk{
			EmbeddingID: e.ID,
			PromptID:    e.PromptID,
			ChunkID:     e.ChunkID,
			Content:     e.Content,
			Similarity:  sim,
		})
	}
	return rankChunks(chunks, q.Limit), nil
}

func (m *Memory) EmbeddingStats(_ context.Context, tenantID string) (*models.Stats, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &models.Stats{}
	prompts := make(map[string]struct{})
	var totalLength int
	for _, e := range m.embeddings {
		if e.TenantID != tenantID {
			continue
		}
		stats.TotalEmbeddings++
		prompts[e.PromptID] = struct{}{}
		totalLength += utf8.RuneCountInString(e.Content)
	}
	stats.PromptsWithEmbeddings = len(prompts)
	if stats.TotalEmbeddings > 0 {
		stats.AverageChunkLength = float64(totalLength) / float64(stats.TotalEmbeddings)
	}
	return stats, nil
}

func (m *Memory) Close() error { return nil }
