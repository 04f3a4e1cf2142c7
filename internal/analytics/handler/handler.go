// Package handler exposes the four analytics query endpoints.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"pulse/internal/analytics"
	"pulse/internal/event/store"
	"pulse/internal/platform/middleware"
	"pulse/internal/transport/http/shared"
	dErrors "pulse/pkg/domain-errors"
)

// Service is the query engine contract the handler depends on. Each call
// returns the serialized response body, cached or freshly computed.
type Service interface {
	Funnel(ctx context.Context, req analytics.FunnelRequest) ([]byte, error)
	Retention(ctx context.Context, req analytics.RetentionRequest) ([]byte, error)
	UserJourney(ctx context.Context, req analytics.JourneyRequest) ([]byte, error)
	EventMetrics(ctx context.Context, req analytics.MetricsRequest) ([]byte, error)
}

type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register mounts the query routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/events/funnels", h.handleFunnels)
	r.Get("/events/users/{id}/journey", h.handleUserJourney)
	r.Get("/events/retention", h.handleRetention)
	r.Get("/events/metrics", h.handleEventMetrics)
}

type funnelsRequest struct {
	Steps     []analytics.FunnelStep `json:"steps"`
	StartDate string                 `json:"startDate"`
	EndDate   string                 `json:"endDate"`
}

func (h *Handler) handleFunnels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req funnelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if len(req.Steps) == 0 || req.StartDate == "" || req.EndDate == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing steps, startDate, or endDate"))
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid startDate"))
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid endDate"))
		return
	}

	payload, err := h.service.Funnel(ctx, analytics.FunnelRequest{
		Steps:     req.Steps,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		h.serverError(w, r, "funnel query failed", err)
		return
	}
	shared.WriteRaw(w, http.StatusOK, payload)
}

func (h *Handler) handleUserJourney(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing user id"))
		return
	}

	payload, err := h.service.UserJourney(r.Context(), analytics.JourneyRequest{
		UserID: userID,
		Page:   queryInt(r, "page", 1),
		Limit:  queryInt(r, "limit", analytics.DefaultLimit),
	})
	if err != nil {
		h.serverError(w, r, "journey query failed", err)
		return
	}
	shared.WriteRaw(w, http.StatusOK, payload)
}

func (h *Handler) handleRetention(w http.ResponseWriter, r *http.Request) {
	cohort := r.URL.Query().Get("cohort")
	daysRaw := r.URL.Query().Get("days")
	if cohort == "" || daysRaw == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing cohort or days"))
		return
	}
	days, err := strconv.Atoi(daysRaw)
	if err != nil || days < 0 {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid days"))
		return
	}

	payload, err := h.service.Retention(r.Context(), analytics.RetentionRequest{
		Cohort: cohort,
		Days:   days,
		Page:   queryInt(r, "page", 1),
		Limit:  queryInt(r, "limit", analytics.DefaultLimit),
	})
	if err != nil {
		h.serverError(w, r, "retention query failed", err)
		return
	}
	shared.WriteRaw(w, http.StatusOK, payload)
}

func (h *Handler) handleEventMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	event := q.Get("event")
	intervalRaw := q.Get("interval")
	startRaw := q.Get("startDate")
	endRaw := q.Get("endDate")
	if event == "" || intervalRaw == "" || startRaw == "" || endRaw == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing event, interval, startDate, or endDate"))
		return
	}
	interval, err := store.ParseInterval(intervalRaw)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "interval must be daily or weekly"))
		return
	}
	start, err := parseDate(startRaw)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid startDate"))
		return
	}
	end, err := parseDate(endRaw)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid endDate"))
		return
	}

	payload, err := h.service.EventMetrics(r.Context(), analytics.MetricsRequest{
		Event:     event,
		Interval:  interval,
		StartDate: start,
		EndDate:   end,
		Page:      queryInt(r, "page", 1),
		Limit:     queryInt(r, "limit", analytics.DefaultLimit),
	})
	if err != nil {
		h.serverError(w, r, "metrics query failed", err)
		return
	}
	shared.WriteRaw(w, http.StatusOK, payload)
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg,
		"request_id", middleware.GetRequestID(r.Context()),
		"error", err.Error(),
	)
	shared.WriteError(w, dErrors.New(dErrors.CodeInternal, msg))
}

// parseDate accepts RFC 3339 or a bare calendar date.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
