// Package handler exposes the consolidation engine over HTTP. It owns request
// validation and normalization; the engine only ever sees clean submissions.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"coalesce/internal/contact/models"
	"coalesce/internal/platform/metrics"
	"coalesce/internal/platform/middleware"
	"coalesce/internal/transport/http/shared"
	pkgerrors "coalesce/pkg/domain-errors"
)

// Service defines the engine operations the transport needs.
type Service interface {
	Identify(ctx context.Context, sub models.Submission) (*models.ConsolidatedContact, error)
}

// Handler handles the identify endpoint.
type Handler struct {
	logger   *slog.Logger
	contacts Service
	metrics  *metrics.Metrics
}

// New creates the contact Handler.
func New(contacts Service, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		logger:   logger,
		contacts: contacts,
		metrics:  metrics,
	}
}

// Register mounts the contact routes with their middleware chain.
func (h *Handler) Register(r chi.Router) {
	contactRouter := chi.NewRouter()
	contactRouter.Use(middleware.Recovery(h.logger))
	contactRouter.Use(middleware.RequestID)
	contactRouter.Use(middleware.Logger(h.logger))
	contactRouter.Use(middleware.Timeout(30 * time.Second))
	contactRouter.Use(middleware.ContentTypeJSON)
	contactRouter.Use(middleware.Latency(h.metrics))
	contactRouter.Post("/identify", h.handleIdentify)

	r.Mount("/", contactRouter)
}

// IdentifyResponse wraps the consolidated view in the contract's envelope.
type IdentifyResponse struct {
	Contact models.ConsolidatedContact `json:"contact"`
}

func (h *Handler) handleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req IdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "malformed identify request",
			"request_id", requestID,
			"error", err.Error(),
		)
		shared.WriteError(w, pkgerrors.New(pkgerrors.CodeBadRequest, "invalid request body"))
		return
	}

	sub, err := req.Normalize()
	if err != nil {
		h.logger.WarnContext(ctx, "invalid identify request",
			"request_id", requestID,
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}

	view, err := h.contacts.Identify(ctx, sub)
	if err != nil {
		if !pkgerrors.Is(err, pkgerrors.CodeBadRequest) {
			h.logger.ErrorContext(ctx, "identify failed",
				"request_id", requestID,
				"error", err.Error(),
			)
		}
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, IdentifyResponse{Contact: *view})
}
