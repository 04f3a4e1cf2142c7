// Package handler exposes the ingestion endpoint.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pulse/internal/event/models"
	"pulse/internal/ingest"
	"pulse/internal/platform/middleware"
	"pulse/internal/transport/http/shared"
	dErrors "pulse/pkg/domain-errors"
)

// Service is the ingestion contract the handler depends on.
type Service interface {
	Ingest(ctx context.Context, submissions []models.Submission) (ingest.Result, error)
}

type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register mounts the ingest route on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/events", h.handleIngest)
}

type ingestRequest struct {
	Events []models.Submission `json:"events"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid ingest request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	result, err := h.service.Ingest(ctx, req.Events)
	if err != nil {
		h.logger.ErrorContext(ctx, "ingest failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to queue events"))
		return
	}

	// 202: acceptance is acknowledged before persistence happens.
	shared.WriteJSON(w, http.StatusAccepted, result)
}
