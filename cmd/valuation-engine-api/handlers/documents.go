// Package handlers provides HTTP handlers for the valuation engine API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridianlabs/valuation-engine/internal/job"
	"github.com/meridianlabs/valuation-engine/internal/observability"
	"github.com/meridianlabs/valuation-engine/internal/pipeline"
	"github.com/meridianlabs/valuation-engine/internal/storage"
)

// DocumentsHandler handles document upload, job polling, and result reads.
type DocumentsHandler struct {
	logger         *observability.Logger
	jobs           *job.Manager
	pipeline       *pipeline.Pipeline
	documents      *storage.DocumentRepository
	metrics        *storage.MetricsRepository
	maxUploadBytes int64
}

// NewDocumentsHandler creates a new documents handler.
func NewDocumentsHandler(
	logger *observability.Logger,
	jobs *job.Manager,
	pl *pipeline.Pipeline,
	documents *storage.DocumentRepository,
	metrics *storage.MetricsRepository,
	maxUploadBytes int64,
) *DocumentsHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}
	return &DocumentsHandler{
		logger:         logger,
		jobs:           jobs,
		pipeline:       pl,
		documents:      documents,
		metrics:        metrics,
		maxUploadBytes: maxUploadBytes,
	}
}

// UploadResponseDTO is returned for an accepted upload.
type UploadResponseDTO struct {
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
	Filename string `json:"filename"`
}

// Upload handles POST /documents. The file is validated, a job is created,
// and processing runs detached; the caller polls the job for the result.
func (h *DocumentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "upload too large", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file field is required", err.Error())
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		h.writeError(w, http.StatusBadRequest, "only PDF files are accepted", "")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read upload", err.Error())
		return
	}
	if len(data) == 0 {
		h.writeError(w, http.StatusBadRequest, "uploaded file is empty", "")
		return
	}

	created := h.jobs.Create(filename)
	h.jobs.Run(created.ID, func(ctx context.Context, reporter job.ProgressReporter) (json.RawMessage, error) {
		output, err := h.pipeline.Process(ctx, filename, data, reporter)
		if err != nil {
			return nil, err
		}
		h.jobs.SetDocument(created.ID, output.DocumentID, output.ChunkCount)
		return json.Marshal(output)
	})

	h.logger.Info().
		Str("job_id", created.ID.String()).
		Str("filename", filename).
		Int("bytes", len(data)).
		Msg("Upload accepted")

	h.writeJSON(w, http.StatusAccepted, UploadResponseDTO{
		JobID:    created.ID.String(),
		Status:   string(created.Status),
		Filename: filename,
	})
}

// GetJob handles GET /jobs/{jobId}.
func (h *DocumentsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid jobId", err.Error())
		return
	}

	current, ok := h.jobs.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "job not found", "")
		return
	}
	h.writeJSON(w, http.StatusOK, current)
}

// DocumentDTO is the list/read projection of a stored document.
type DocumentDTO struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	PageCount   int    `json:"pageCount"`
	ParseTier   string `json:"parseTier"`
	CreatedAt   string `json:"createdAt"`
	ProcessedAt string `json:"processedAt,omitempty"`
}

// ListDocuments handles GET /documents.
func (h *DocumentsHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.documents.List(r.Context(), 100, 0)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list documents", err.Error())
		return
	}

	out := make([]DocumentDTO, 0, len(docs))
	for _, doc := range docs {
		dto := DocumentDTO{
			ID:        doc.ID.String(),
			Filename:  doc.Filename,
			PageCount: doc.PageCount,
			ParseTier: doc.ParseTier,
			CreatedAt: doc.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if doc.ProcessedAt != nil {
			dto.ProcessedAt = doc.ProcessedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		out = append(out, dto)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

// MetricsResponseDTO wraps the persisted metric set for a document.
type MetricsResponseDTO struct {
	DocumentID  string          `json:"documentId"`
	Metrics     json.RawMessage `json:"metrics"`
	Confidence  int             `json:"confidence"`
	MergePolicy string          `json:"mergePolicy"`
	Issues      json.RawMessage `json:"issues,omitempty"`
}

// GetMetrics handles GET /documents/{documentId}/metrics.
func (h *DocumentsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "documentId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid documentId", err.Error())
		return
	}

	metrics, err := h.metrics.GetLatestByDocument(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "no metrics for document", "")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load metrics", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, MetricsResponseDTO{
		DocumentID:  metrics.DocumentID.String(),
		Metrics:     metrics.Metrics,
		Confidence:  metrics.Confidence,
		MergePolicy: metrics.MergePolicy,
		Issues:      metrics.Issues,
	})
}

func (h *DocumentsHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *DocumentsHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	h.writeJSON(w, status, map[string]string{
		"error":  message,
		"detail": detail,
	})
}
