// Package handlers exposes the import service over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-importer/internal/api/middleware"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/pipeline"
	"github.com/dvloznov/statement-importer/internal/repository"
)

// ImportService is the part of *pipeline.Service the handlers call.
type ImportService interface {
	CreateJob(ctx context.Context, req pipeline.CreateJobRequest) (*domain.ImportJob, error)
	Trigger(ctx context.Context, id, userID string) (*pipeline.TriggerResult, error)
	GetStatus(ctx context.Context, id, userID string) (*domain.ImportJob, error)
	ListJobs(ctx context.Context, userID string, filter repository.JobFilter) ([]*domain.ImportJob, error)
	ListCandidates(ctx context.Context, id, userID string) ([]domain.CandidateTransaction, error)
	CommitReview(ctx context.Context, id, userID string, edited []domain.CandidateTransaction) (*domain.ImportJob, error)
	Subscribe(ctx context.Context, id, userID string) (<-chan *domain.ImportJob, func(), error)
}

var _ ImportService = (*pipeline.Service)(nil)

const maxBodyBytes = 4 << 20

// ImportsHandler handles import-related endpoints.
type ImportsHandler struct {
	svc          ImportService
	log          zerolog.Logger
	upgrader     websocket.Upgrader
	pollInterval time.Duration
}

// NewImportsHandler creates a new imports handler. pollInterval paces the
// store reads that back up pushed events on a status stream.
func NewImportsHandler(svc ImportService, pollInterval time.Duration, log zerolog.Logger) *ImportsHandler {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &ImportsHandler{
		svc: svc,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pollInterval: pollInterval,
	}
}

// Register mounts the import routes on mux.
func (h *ImportsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/imports", h.CreateImport)
	mux.HandleFunc("GET /api/imports", h.ListImports)
	mux.HandleFunc("GET /api/imports/{id}", h.GetImport)
	mux.HandleFunc("POST /api/imports/{id}/trigger", h.TriggerImport)
	mux.HandleFunc("GET /api/imports/{id}/candidates", h.ListCandidates)
	mux.HandleFunc("POST /api/imports/{id}/commit", h.CommitReview)
	mux.HandleFunc("GET /api/imports/{id}/events", h.StreamStatus)
}

// CreateImport handles POST /api/imports
func (h *ImportsHandler) CreateImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		Path      string `json:"path"`
		SHA256    string `json:"sha256"`
		Size      int64  `json:"size"`
		MIMEType  string `json:"mime_type"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.AccountID) == "" || strings.TrimSpace(req.Path) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account_id and path are required")
		return
	}

	job, err := h.svc.CreateJob(r.Context(), pipeline.CreateJobRequest{
		UserID:    middleware.CurrentUserID(r.Context()),
		AccountID: req.AccountID,
		File: domain.FileRef{
			Path:     req.Path,
			SHA256:   req.SHA256,
			Size:     req.Size,
			MIMEType: req.MIMEType,
		},
	})
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to create import")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, job)
}

// ListImports handles GET /api/imports
func (h *ImportsHandler) ListImports(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repository.JobFilter{
		AccountID: query.Get("account_id"),
		Status:    domain.ImportStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	list, err := h.svc.ListJobs(r.Context(), middleware.CurrentUserID(r.Context()), filter)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to list imports")
		return
	}
	if list == nil {
		list = []*domain.ImportJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"imports": list,
		"count":   len(list),
	})
}

// GetImport handles GET /api/imports/{id}
func (h *ImportsHandler) GetImport(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetStatus(r.Context(), r.PathValue("id"), middleware.CurrentUserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to get import")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// TriggerImport handles POST /api/imports/{id}/trigger
func (h *ImportsHandler) TriggerImport(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Trigger(r.Context(), r.PathValue("id"), middleware.CurrentUserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to trigger import")
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"import":   res.Job,
		"enqueued": res.Enqueued,
	})
}

// ListCandidates handles GET /api/imports/{id}/candidates
func (h *ImportsHandler) ListCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.svc.ListCandidates(r.Context(), r.PathValue("id"), middleware.CurrentUserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to list candidates")
		return
	}
	if candidates == nil {
		candidates = []domain.CandidateTransaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"candidates": candidates,
		"count":      len(candidates),
	})
}

// CommitReview handles POST /api/imports/{id}/commit. An optional
// "candidates" array replaces the stored candidates.
func (h *ImportsHandler) CommitReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Candidates []domain.CandidateTransaction `json:"candidates"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job, err := h.svc.CommitReview(r.Context(), r.PathValue("id"), middleware.CurrentUserID(r.Context()), req.Candidates)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to commit import")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// writeServiceError maps service errors onto HTTP statuses.
func (h *ImportsHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		msg = "Import not found"
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAlreadyProcessing):
		status = http.StatusConflict
		msg = err.Error()
	}

	ev := h.log.Error()
	if status < http.StatusInternalServerError {
		ev = h.log.Warn()
	}
	ev.Err(err).
		Str("path", r.URL.Path).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Int("status", status).
		Msg(msg)
	middleware.WriteError(w, status, msg)
}
