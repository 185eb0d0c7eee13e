package db

import (
	"context"
	"sync"
	"time"

	"prompt-rag/internal/chromemdb"
	"prompt-rag/internal/config"
	"prompt-rag/internal/models"
)

// Chromem keeps rows in SQLite and ranks vectors through a chromem index
type Chromem struct {
	*SQLite
	index *chromemdb.Index

	// keeps the rows and the index in step across deletes and inserts
	writeMu sync.Mutex
}

func NewChromem(sqlite *SQLite, index *chromemdb.Index) *Chromem {
	return &Chromem{SQLite: sqlite, index: index}
}

func OpenChromem(ctx context.Context, cfg config.DatabaseConfig, dimensions int) (*Chromem, error) {
	sqlite, err := OpenSQLite(ctx, cfg.Path, dimensions)
	if err != nil {
		return nil, err
	}
	index, err := chromemdb.NewIndex(cfg.VectorPath, false)
	if err != nil {
		sqlite.Close()
		return nil, err
	}
	return NewChromem(sqlite, index), nil
}

func (c *Chromem) DeletePrompt(ctx context.Context, tenantID, id string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.SQLite.DeletePrompt(ctx, tenantID, id); err != nil {
		return err
	}
	return c.index.DeletePrompt(ctx, tenantID, id)
}

func (c *Chromem) DeleteEmbeddings(ctx context.Context, tenantID, promptID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.SQLite.DeleteEmbeddings(ctx, tenantID, promptID); err != nil {
		return err
	}
	return c.index.DeletePrompt(ctx, tenantID, promptID)
}

func (c *Chromem) InsertEmbeddings(ctx context.Context, embeddings []models.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]models.Embedding, len(embeddings))
	copy(rows, embeddings)
	for i := range rows {
		if rows[i].CreatedAt.IsZero() {
			rows[i].CreatedAt = now
		}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.SQLite.InsertEmbeddings(ctx, rows); err != nil {
		return err
	}

	byTenant := make(map[string][]chromemdb.Document)
	var tenants []string
	for _, e := range rows {
		if _, ok := byTenant[e.TenantID]; !ok {
			tenants = append(tenants, e.TenantID)
		}
		byTenant[e.TenantID] = append(byTenant[e.TenantID], chromemdb.Document{
			ID:        e.ID,
			PromptID:  e.PromptID,
			ChunkID:   e.ChunkID,
			Content:   e.Content,
			Position:  e.Position,
			CreatedAt: e.CreatedAt.UnixNano(),
			Embedding: e.Vector,
		})
	}
	for _, tenant := range tenants {
		if err := c.index.Add(ctx, tenant, byTenant[tenant]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chromem) ScoreEmbeddings(ctx context.Context, q ScoreQuery) ([]models.ScoredChunk, error) {
	if err := requireTenant(q.TenantID); err != nil {
		return nil, err
	}
	if err := checkDimensions(q.Vector, c.dimensions); err != nil {
		return nil, err
	}
	results, err := c.index.Query(ctx, q.TenantID, q.PromptID, q.Vector)
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	out := make([]models.ScoredChunk, 0, len(results))
	for _, r := range results {
		out = append(out, models.ScoredChunk{
			EmbeddingID: r.ID,
			PromptID:    r.PromptID,
			ChunkID:     r.ChunkID,
			Content:     r.Content,
			Similarity:  r.Similarity,
		})
	}
	return out, nil
}
