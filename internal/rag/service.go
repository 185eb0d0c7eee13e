package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"prompt-rag/internal/apperr"
	"prompt-rag/internal/blobstore"
	"prompt-rag/internal/db"
	"prompt-rag/internal/helper"
	"prompt-rag/internal/models"
	"prompt-rag/internal/parser"

	"github.com/rs/zerolog/log"
)

type CreatePromptInput struct {
	Name     string
	Text     *string
	Metadata map[string]interface{}
}

// UpdatePromptInput changes only the fields that are set. An empty Text clears the body.
type UpdatePromptInput struct {
	Name     *string
	Text     *string
	Metadata map[string]interface{}
}

// PromptService manages prompts and their files and keeps embeddings in sync with them
type PromptService struct {
	store     db.Store
	blobs     blobstore.Store
	indexer   *Indexer
	applier   *Applier
	sniffMIME bool
}

func NewPromptService(store db.Store, blobs blobstore.Store, indexer *Indexer, applier *Applier, sniffMIME bool) *PromptService {
	return &PromptService{store: store, blobs: blobs, indexer: indexer, applier: applier, sniffMIME: sniffMIME}
}

func (s *PromptService) CreatePrompt(ctx context.Context, tenantID string, in CreatePromptInput) (*models.Prompt, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Validation("prompt name is required")
	}
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p := &models.Prompt{
		ID:        id,
		TenantID:  tenantID,
		Name:      in.Name,
		Text:      normalizeText(in.Text),
		Metadata:  in.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreatePrompt(ctx, p); err != nil {
		return nil, err
	}
	if p.Text != nil {
		s.indexer.ReindexAsync(tenantID, p.ID)
	}
	return p, nil
}

func normalizeText(text *string) *string {
	if text == nil || *text == "" {
		return nil
	}
	return text
}

func (s *PromptService) GetPrompt(ctx context.Context, tenantID, id string) (*models.Prompt, error) {
	return s.store.GetPrompt(ctx, tenantID, id)
}

func (s *PromptService) ListPrompts(ctx context.Context, tenantID string) ([]models.Prompt, error) {
	return s.store.ListPrompts(ctx, tenantID)
}

func (s *PromptService) UpdatePrompt(ctx context.Context, tenantID, id string, in UpdatePromptInput) (*models.Prompt, error) {
	p, err := s.store.GetPrompt(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, apperr.Validation("prompt name cannot be empty")
		}
		p.Name = *in.Name
	}
	textChanged := false
	if in.Text != nil {
		p.Text = normalizeText(in.Text)
		textChanged = true
	}
	if in.Metadata != nil {
		p.Metadata = in.Metadata
	}
	p.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdatePrompt(ctx, p); err != nil {
		return nil, err
	}
	if textChanged {
		s.indexer.ReindexAsync(tenantID, id)
	}
	return p, nil
}

// DeletePrompt removes the prompt, its embeddings, its file rows and their blobs
func (s *PromptService) DeletePrompt(ctx context.Context, tenantID, id string) error {
	files, err := s.store.ListFiles(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeletePrompt(ctx, tenantID, id); err != nil {
		return err
	}
	for _, f := range files {
		if err := s.blobs.Delete(ctx, f.StoragePath); err != nil {
			log.Warn().Err(err).Str("file_id", f.ID).Str("path", f.StoragePath).Msg("Failed to delete blob")
		}
	}
	return nil
}

// DetectMIME resolves the content type of an upload: the caller's value, then the
// extension table, then content sniffing when enabled
func (s *PromptService) DetectMIME(filename, mimeType string, data []byte) string {
	if mimeType != "" && mimeType != parser.MIMEBinary {
		return mimeType
	}
	mt := parser.MIMEFromFilename(filename)
	if mt == parser.MIMEBinary && s.sniffMIME {
		mt = parser.SniffMIME(data)
	}
	return mt
}

func (s *PromptService) UploadFile(ctx context.Context, tenantID, promptID, filename, mimeType string, data []byte) (*models.File, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, apperr.Validation("filename is required")
	}
	if _, err := s.store.GetPrompt(ctx, tenantID, promptID); err != nil {
		return nil, err
	}
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}

	f := &models.File{
		ID:          id,
		TenantID:    tenantID,
		PromptID:    promptID,
		Filename:    filename,
		MIMEType:    s.DetectMIME(filename, mimeType, data),
		Size:        int64(len(data)),
		StoragePath: blobstore.FilePath(tenantID, promptID, id, filename),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.blobs.Put(ctx, f.StoragePath, data); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}
	if err := s.store.CreateFile(ctx, f); err != nil {
		if delErr := s.blobs.Delete(ctx, f.StoragePath); delErr != nil {
			log.Warn().Err(delErr).Str("path", f.StoragePath).Msg("Failed to remove orphaned blob")
		}
		return nil, err
	}

	log.Info().Str("tenant_id", tenantID).Str("prompt_id", promptID).Str("file_id", id).
		Str("mime_type", f.MIMEType).Int64("size", f.Size).Msg("Uploaded file")
	s.indexer.ReindexAsync(tenantID, promptID)
	return f, nil
}

func (s *PromptService) ListFiles(ctx context.Context, tenantID, promptID string) ([]models.File, error) {
	if _, err := s.store.GetPrompt(ctx, tenantID, promptID); err != nil {
		return nil, err
	}
	return s.store.ListFiles(ctx, tenantID, promptID)
}

func (s *PromptService) DeleteFile(ctx context.Context, tenantID, promptID, fileID string) error {
	f, err := s.store.GetFile(ctx, tenantID, fileID)
	if err != nil {
		return err
	}
	if f.PromptID != promptID {
		return apperr.ErrFileNotFound.Derive(fmt.Sprintf("file %s not found", fileID)).WithDetail("file_id", fileID)
	}
	if err := s.store.DeleteFile(ctx, tenantID, fileID); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, f.StoragePath); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Str("path", f.StoragePath).Msg("Failed to delete blob")
	}
	s.indexer.ReindexAsync(tenantID, promptID)
	return nil
}

// Reindex runs a synchronous reindex of one prompt
func (s *PromptService) Reindex(ctx context.Context, tenantID, promptID string) (int, error) {
	return s.indexer.Reindex(ctx, tenantID, promptID)
}

// Apply loads the prompt and uses its text as the instruction
func (s *PromptService) Apply(ctx context.Context, tenantID, promptID string, req ApplyRequest) (*models.ApplyResponse, error) {
	p, err := s.store.GetPrompt(ctx, tenantID, promptID)
	if err != nil {
		return nil, err
	}
	return s.applier.Apply(ctx, tenantID, promptID, p.Body(), req)
}
