package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"prompt-rag/internal/config"
	"prompt-rag/internal/models"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

type promptRow struct {
	bun.BaseModel `bun:"table:prompts,alias:p"`
	ID            string                 `bun:"id,pk"`
	TenantID      string                 `bun:"tenant_id,notnull"`
	Name          string                 `bun:"name,notnull"`
	Text          *string                `bun:"text"`
	Metadata      map[string]interface{} `bun:"metadata,type:jsonb"`
	CreatedAt     time.Time              `bun:"created_at,notnull"`
	UpdatedAt     time.Time              `bun:"updated_at,notnull"`
}

type fileRow struct {
	bun.BaseModel `bun:"table:files,alias:f"`
	ID            string    `bun:"id,pk"`
	TenantID      string    `bun:"tenant_id,notnull"`
	PromptID      string    `bun:"prompt_id,notnull"`
	Filename      string    `bun:"filename,notnull"`
	MIMEType      string    `bun:"mime_type,notnull"`
	Size          int64     `bun:"size,notnull"`
	StoragePath   string    `bun:"storage_path,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

type embeddingRow struct {
	bun.BaseModel `bun:"table:embeddings,alias:e"`
	ID            string          `bun:"id,pk"`
	TenantID      string          `bun:"tenant_id,notnull"`
	PromptID      string          `bun:"prompt_id,notnull"`
	ChunkID       string          `bun:"chunk_id,notnull"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull"`
	Position      int             `bun:"position,notnull"`
	CreatedAt     time.Time       `bun:"created_at,notnull"`
}

type scoredRow struct {
	ID         string  `bun:"id"`
	PromptID   string  `bun:"prompt_id"`
	ChunkID    string  `bun:"chunk_id"`
	Content    string  `bun:"content"`
	Similarity float64 `bun:"similarity"`
}

type statsRow struct {
	Total        int             `bun:"total"`
	Prompts      int             `bun:"prompts"`
	AverageChars sql.NullFloat64 `bun:"average_chars"`
}

func toPromptRow(p *models.Prompt) *promptRow {
	return &promptRow{
		ID:        p.ID,
		TenantID:  p.TenantID,
		Name:      p.Name,
		Text:      p.Text,
		Metadata:  p.Metadata,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (r *promptRow) model() models.Prompt {
	return models.Prompt{
		ID:        r.ID,
		TenantID:  r.TenantID,
		Name:      r.Name,
		Text:      r.Text,
		Metadata:  r.Metadata,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r *fileRow) model() models.File {
	return models.File{
		ID:          r.ID,
		TenantID:    r.TenantID,
		PromptID:    r.PromptID,
		Filename:    r.Filename,
		MIMEType:    r.MIMEType,
		Size:        r.Size,
		StoragePath: r.StoragePath,
		CreatedAt:   r.CreatedAt,
	}
}

// Postgres stores vectors in a pgvector column and ranks them in SQL
type Postgres struct {
	db         *bun.DB
	dimensions int
}

// ConnectDB opens the database/sql handle with the configured driver
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.PGDriver == "pq" {
		return sql.Open("postgres", cfg.DSN)
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func NewPostgres(db *bun.DB, dimensions int) *Postgres {
	return &Postgres{db: db, dimensions: dimensions}
}

func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, dimensions int) (*Postgres, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := NewPostgres(NewDB(sqldb, cfg.Debug), dimensions)
	if err := store.InitDB(ctx); err != nil {
		store.Close()
		return nil, err
	}
	log.Info().Str("driver", cfg.PGDriver).Int("dimensions", dimensions).Msg("Connected to postgres")
	return store, nil
}

// InitDB creates the pgvector extension and the tables when missing
func (s *Postgres) InitDB(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS prompts (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			text TEXT,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prompts_tenant ON prompts (tenant_id)`,
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			prompt_id TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
			filename TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size BIGINT NOT NULL,
			storage_path TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_files_prompt ON files (tenant_id, prompt_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			prompt_id TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
			chunk_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			position INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, s.dimensions),
		`CREATE INDEX IF NOT EXISTS idx_embeddings_prompt ON embeddings (tenant_id, prompt_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (s *Postgres) Close() error {
	return s.db.Close()
}

func (s *Postgres) CreatePrompt(ctx context.Context, p *models.Prompt) error {
	if err := requireTenant(p.TenantID); err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(toPromptRow(p)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert prompt: %w", err)
	}
	return nil
}

func (s *Postgres) GetPrompt(ctx context.Context, tenantID, id string) (*models.Prompt, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	row := new(promptRow)
	err := s.db.NewSelect().Model(row).
		Where("p.tenant_id = ?", tenantID).
		Where("p.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, promptNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt: %w", err)
	}
	p := row.model()
	return &p, nil
}

func (s *Postgres) ListPrompts(ctx context.Context, tenantID string) ([]models.Prompt, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var rows []promptRow
	err := s.db.NewSelect().Model(&rows).
		Where("p.tenant_id = ?", tenantID).
		Order("p.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	out := make([]models.Prompt, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].model())
	}
	return out, nil
}

func (s *Postgres) UpdatePrompt(ctx context.Context, p *models.Prompt) error {
	if err := requireTenant(p.TenantID); err != nil {
		return err
	}
	res, err := s.db.NewUpdate().Model(toPromptRow(p)).
		Column("name", "text", "metadata", "updated_at").
		Where("tenant_id = ?", p.TenantID).
		Where("id = ?", p.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update prompt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return promptNotFound(p.ID)
	}
	return nil
}

// DeletePrompt relies on ON DELETE CASCADE for files and embeddings
func (s *Postgres) DeletePrompt(ctx context.Context, tenantID, id string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	res, err := s.db.NewDelete().Model((*promptRow)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete prompt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return promptNotFound(id)
	}
	return nil
}

func (s *Postgres) CreateFile(ctx context.Context, f *models.File) error {
	if err := requireTenant(f.TenantID); err != nil {
		return err
	}
	row := &fileRow{
		ID:          f.ID,
		TenantID:    f.TenantID,
		PromptID:    f.PromptID,
		Filename:    f.Filename,
		MIMEType:    f.MIMEType,
		Size:        f.Size,
		StoragePath: f.StoragePath,
		CreatedAt:   f.CreatedAt,
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

func (s *Postgres) GetFile(ctx context.Context, tenantID, id string) (*models.File, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	row := new(fileRow)
	err := s.db.NewSelect().Model(row).
		Where("f.tenant_id = ?", tenantID).
		Where("f.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fileNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	f := row.model()
	return &f, nil
}

func (s *Postgres) ListFiles(ctx context.Context, tenantID, promptID string) ([]models.File, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var rows []fileRow
	err := s.db.NewSelect().Model(&rows).
		Where("f.tenant_id = ?", tenantID).
		Where("f.prompt_id = ?", promptID).
		Order("f.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	out := make([]models.File, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].model())
	}
	return out, nil
}

func (s *Postgres) DeleteFile(ctx context.Context, tenantID, id string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	res, err := s.db.NewDelete().Model((*fileRow)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fileNotFound(id)
	}
	return nil
}

func (s *Postgres) DeleteEmbeddings(ctx context.Context, tenantID, promptID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	_, err := s.db.NewDelete().Model((*embeddingRow)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("prompt_id = ?", promptID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	return nil
}

func (s *Postgres) InsertEmbeddings(ctx context.Context, embeddings []models.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	if err := validateEmbeddings(embeddings, s.dimensions); err != nil {
		return err
	}
	rows := make([]embeddingRow, 0, len(embeddings))
	now := time.Now().UTC()
	for _, e := range embeddings {
		created := e.CreatedAt
		if created.IsZero() {
			created = now
		}
		rows = append(rows, embeddingRow{
			ID:        e.ID,
			TenantID:  e.TenantID,
			PromptID:  e.PromptID,
			ChunkID:   e.ChunkID,
			Content:   e.Content,
			Embedding: pgvector.NewVector(e.Vector),
			Position:  e.Position,
			CreatedAt: created,
		})
	}
	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert embeddings: %w", err)
	}
	return nil
}

// ScoreEmbeddings computes 1 - cosine distance in SQL
func (s *Postgres) ScoreEmbeddings(ctx context.Context, q ScoreQuery) ([]models.ScoredChunk, error) {
	if err := requireTenant(q.TenantID); err != nil {
		return nil, err
	}
	if err := checkDimensions(q.Vector, s.dimensions); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(q.Vector)

	query := s.db.NewSelect().
		TableExpr("embeddings AS e").
		ColumnExpr("e.id, e.prompt_id, e.chunk_id, e.content").
		ColumnExpr("1 - (e.embedding <=> ?) AS similarity", vec).
		Where("e.tenant_id = ?", q.TenantID)
	if q.PromptID != "" {
		query = query.Where("e.prompt_id = ?", q.PromptID)
	}
	query = query.
		OrderExpr("e.embedding <=> ?", vec).
		OrderExpr("e.created_at ASC, e.position ASC")
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var rows []scoredRow
	if err := query.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to score embeddings: %w", err)
	}
	out := make([]models.ScoredChunk, 0, len(rows))
	for _, r := range rows {
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

func (s *Postgres) EmbeddingStats(ctx context.Context, tenantID string) (*models.Stats, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var row statsRow
	err := s.db.NewSelect().
		TableExpr("embeddings AS e").
		ColumnExpr("COUNT(*) AS total").
		ColumnExpr("COUNT(DISTINCT e.prompt_id) AS prompts").
		ColumnExpr("AVG(LENGTH(e.content)) AS average_chars").
		Where("e.tenant_id = ?", tenantID).
		Scan(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return &models.Stats{
		TotalEmbeddings:       row.Total,
		PromptsWithEmbeddings: row.Prompts,
		AverageChunkLength:    row.AverageChars.Float64,
	}, nil
}
