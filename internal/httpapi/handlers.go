package httpapi

import (
	"fmt"
	"io"
	"net/http"

	"prompt-rag/internal/apperr"
	"prompt-rag/internal/rag"

	"github.com/go-chi/chi/v5"
)

type createPromptRequest struct {
	Name     string                 `json:"name" validate:"required,max=200"`
	Text     *string                `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

type updatePromptRequest struct {
	Name     *string                `json:"name" validate:"omitempty,max=200"`
	Text     *string                `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

// an omitted min_similarity uses the configured default; temperature likewise
type searchRequest struct {
	Query         string   `json:"query" validate:"required"`
	TopK          int      `json:"top_k" validate:"gte=0,lte=100"`
	MinSimilarity *float64 `json:"min_similarity" validate:"omitempty,gte=-1,lte=1"`
	PromptID      string   `json:"prompt_id"`
}

type relatedRequest struct {
	Query         string   `json:"query" validate:"required"`
	TopK          int      `json:"top_k" validate:"gte=0,lte=100"`
	MinSimilarity *float64 `json:"min_similarity" validate:"omitempty,gte=-1,lte=1"`
}

type contextRequest struct {
	Query     string `json:"query" validate:"required"`
	MaxChunks int    `json:"max_chunks" validate:"gte=0,lte=100"`
}

type applyRequest struct {
	Query          string   `json:"query"`
	Text           string   `json:"text" validate:"required"`
	Format         string   `json:"format" validate:"omitempty,oneof=plain markdown html"`
	IncludeContext bool     `json:"include_context"`
	TopK           int      `json:"top_k" validate:"gte=0,lte=100"`
	MinSimilarity  *float64 `json:"min_similarity" validate:"omitempty,gte=-1,lte=1"`
	MaxTokens      int      `json:"max_tokens" validate:"gte=0"`
	Temperature    *float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	Model          string   `json:"model"`
}

type reindexResponse struct {
	PromptID string `json:"prompt_id"`
	Chunks   int    `json:"chunks"`
}

type contextResponse struct {
	Context string `json:"context"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) createPrompt(w http.ResponseWriter, r *http.Request) {
	var req createPromptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.service.CreatePrompt(r.Context(), chi.URLParam(r, "tenantID"), rag.CreatePromptInput{
		Name:     req.Name,
		Text:     req.Text,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, p)
}

func (h *Handler) listPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := h.service.ListPrompts(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, prompts)
}

func (h *Handler) getPrompt(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPrompt(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "promptID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (h *Handler) updatePrompt(w http.ResponseWriter, r *http.Request) {
	var req updatePromptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.service.UpdatePrompt(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "promptID"), rag.UpdatePromptInput{
		Name:     req.Name,
		Text:     req.Text,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (h *Handler) deletePrompt(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePrompt(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "promptID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.service.ListFiles(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "promptID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, files)
}

// uploadFile expects a multipart form with a "file" part and an optional "mime_type" field
func (h *Handler) uploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, r, apperr.Validation(fmt.Sprintf("invalid multipart form: %v", err)))
		return
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, apperr.Validation("form field \"file\" is required"))
		return
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		writeError(w, r, apperr.Validation(fmt.Sprintf("failed to read upload: %v", err)))
		return
	}
	mimeType := r.FormValue("mime_type")
	if mimeType == "" {
		mimeType = header.Header.Get("Content-Type")
	}

	f, err := h.service.UploadFile(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "promptID"), header.Filename, mimeType, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, f)
}

func (h *Handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeleteFile(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "promptID"), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reindex(w http.ResponseWriter, r *http.Request) {
	promptID := chi.URLParam(r, "promptID")
	count, err := h.service.Reindex(r.Context(), chi.URLParam(r, "tenantID"), promptID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, reindexResponse{PromptID: promptID, Chunks: count})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	results, err := h.retriever.SimilaritySearch(r.Context(), chi.URLParam(r, "tenantID"), req.Query, rag.SearchOptions{
		TopK:          req.TopK,
		MinSimilarity: req.MinSimilarity,
		PromptID:      req.PromptID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, results)
}

func (h *Handler) related(w http.ResponseWriter, r *http.Request) {
	var req relatedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	related, err := h.retriever.FindRelatedPrompts(r.Context(), chi.URLParam(r, "tenantID"), req.Query, req.TopK, req.MinSimilarity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, related)
}

func (h *Handler) getContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	text, err := h.retriever.GetContext(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "promptID"), req.Query, req.MaxChunks)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, contextResponse{Context: text})
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.service.Apply(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "promptID"), rag.ApplyRequest{
		Query:          req.Query,
		Text:           req.Text,
		Format:         req.Format,
		IncludeContext: req.IncludeContext,
		TopK:           req.TopK,
		MinSimilarity:  req.MinSimilarity,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		Model:          req.Model,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.retriever.GetStats(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}
