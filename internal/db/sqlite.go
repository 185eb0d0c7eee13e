package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"prompt-rag/internal/embedding"
	"prompt-rag/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS prompts (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	text TEXT,
	metadata TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prompts_tenant ON prompts (tenant_id);

CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	prompt_id TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size INTEGER NOT NULL,
	storage_path TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_prompt ON files (tenant_id, prompt_id);

CREATE TABLE IF NOT EXISTS embeddings (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	prompt_id TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
	chunk_id TEXT NOT NULL,
	content TEXT NOT NULL,
	position INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	vector TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_prompt ON embeddings (tenant_id, prompt_id);
`

// SQLite is an embedded store. Vectors are kept as JSON arrays and scored in Go.
type SQLite struct {
	db         *sql.DB
	dimensions int
	mu         sync.Mutex
}

func OpenSQLite(ctx context.Context, path string, dimensions int) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, sqliteSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLite{db: sqlDB, dimensions: dimensions}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func encodeVector(vec []float32) (string, error) {
	out, err := json.Marshal(vec)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func decodeVector(raw string) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func encodeMetadata(md map[string]interface{}) (sql.NullString, error) {
	if md == nil {
		return sql.NullString{}, nil
	}
	out, err := json.Marshal(md)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return sql.NullString{String: string(out), Valid: true}, nil
}

const promptColumns = `id, tenant_id, name, text, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrompt(row rowScanner) (*models.Prompt, error) {
	var (
		p                models.Prompt
		text, metadata   sql.NullString
		created, updated int64
	)
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &text, &metadata, &created, &updated); err != nil {
		return nil, err
	}
	if text.Valid {
		p.Text = &text.String
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	p.CreatedAt = fromUnixNano(created)
	p.UpdatedAt = fromUnixNano(updated)
	return &p, nil
}

func (s *SQLite) CreatePrompt(ctx context.Context, p *models.Prompt) error {
	if err := requireTenant(p.TenantID); err != nil {
		return err
	}
	metadata, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT INTO prompts (`+promptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.Name, p.Text, metadata, unixNano(p.CreatedAt), unixNano(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert prompt: %w", err)
	}
	return nil
}

func (s *SQLite) GetPrompt(ctx context.Context, tenantID, id string) (*models.Prompt, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM prompts WHERE tenant_id = ? AND id = ?`, tenantID, id)
	p, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, promptNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt: %w", err)
	}
	return p, nil
}

func (s *SQLite) ListPrompts(ctx context.Context, tenantID string) ([]models.Prompt, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+promptColumns+` FROM prompts WHERE tenant_id = ? ORDER BY created_at, rowid`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	out := []models.Prompt{}
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdatePrompt(ctx context.Context, p *models.Prompt) error {
	if err := requireTenant(p.TenantID); err != nil {
		return err
	}
	metadata, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE prompts SET name = ?, text = ?, metadata = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		p.Name, p.Text, metadata, unixNano(p.UpdatedAt), p.TenantID, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update prompt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return promptNotFound(p.ID)
	}
	return nil
}

func (s *SQLite) DeletePrompt(ctx context.Context, tenantID, id string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM prompts WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete prompt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return promptNotFound(id)
	}
	return nil
}

const fileColumns = `id, tenant_id, prompt_id, filename, mime_type, size, storage_path, created_at`

func scanFile(row rowScanner) (*models.File, error) {
	var f models.File
	var created int64
	if err := row.Scan(&f.ID, &f.TenantID, &f.PromptID, &f.Filename, &f.MIMEType, &f.Size, &f.StoragePath, &created); err != nil {
		return nil, err
	}
	f.CreatedAt = fromUnixNano(created)
	return &f, nil
}

func (s *SQLite) CreateFile(ctx context.Context, f *models.File) error {
	if err := requireTenant(f.TenantID); err != nil {
		return err
	}
	if _, err := s.GetPrompt(ctx, f.TenantID, f.PromptID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.TenantID, f.PromptID, f.Filename, f.MIMEType, f.Size, f.StoragePath, unixNano(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

func (s *SQLite) GetFile(ctx context.Context, tenantID, id string) (*models.File, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE tenant_id = ? AND id = ?`, tenantID, id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fileNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	return f, nil
}

func (s *SQLite) ListFiles(ctx context.Context, tenantID, promptID string) ([]models.File, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE tenant_id = ? AND prompt_id = ? ORDER BY created_at, rowid`, tenantID, promptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	out := []models.File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteFile(ctx context.Context, tenantID, id string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fileNotFound(id)
	}
	return nil
}

func (s *SQLite) DeleteEmbeddings(ctx context.Context, tenantID, promptID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE tenant_id = ? AND prompt_id = ?`, tenantID, promptID); err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	return nil
}

func (s *SQLite) InsertEmbeddings(ctx context.Context, embeddings []models.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	if err := validateEmbeddings(embeddings, s.dimensions); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	checked := make(map[[2]string]bool)
	for _, e := range embeddings {
		key := [2]string{e.TenantID, e.PromptID}
		if checked[key] {
			continue
		}
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM prompts WHERE tenant_id = ? AND id = ?`, e.TenantID, e.PromptID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			_ = tx.Rollback()
			return promptNotFound(e.PromptID)
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to check prompt: %w", err)
		}
		checked[key] = true
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO embeddings
		(id, tenant_id, prompt_id, chunk_id, content, position, created_at, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range embeddings {
		vectorJSON, err := encodeVector(e.Vector)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.TenantID, e.PromptID, e.ChunkID, e.Content, e.Position, unixNano(e.CreatedAt), vectorJSON,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) ScoreEmbeddings(ctx context.Context, q ScoreQuery) ([]models.ScoredChunk, error) {
	if err := requireTenant(q.TenantID); err != nil {
		return nil, err
	}
	if err := checkDimensions(q.Vector, s.dimensions); err != nil {
		return nil, err
	}

	query := `SELECT id, prompt_id, chunk_id, content, vector FROM embeddings WHERE tenant_id = ?`
	args := []any{q.TenantID}
	if q.PromptID != "" {
		query += ` AND prompt_id = ?`
		args = append(args, q.PromptID)
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var chunks []models.ScoredChunk
	for rows.Next() {
		var c models.ScoredChunk
		var vectorJSON string
		if err := rows.Scan(&c.EmbeddingID, &c.PromptID, &c.ChunkID, &c.Content, &vectorJSON); err != nil {
			return nil, err
		}
		vec, err := decodeVector(vectorJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode vector of %s: %w", c.EmbeddingID, err)
		}
		if c.Similarity, err = embedding.CosineSimilarity(q.Vector, vec); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rankChunks(chunks, q.Limit), nil
}

func (s *SQLite) EmbeddingStats(ctx context.Context, tenantID string) (*models.Stats, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var stats models.Stats
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT prompt_id), AVG(LENGTH(content)) FROM embeddings WHERE tenant_id = ?`, tenantID,
	).Scan(&stats.TotalEmbeddings, &stats.PromptsWithEmbeddings, &avg)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	stats.AverageChunkLength = avg.Float64
	return &stats, nil
}
