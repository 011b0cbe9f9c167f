package reporting

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/cultiva-erp/cultiva-erp/internal/platform/httpx"
)

// RebuildEnqueuer hands a snapshot rebuild to the background worker.
type RebuildEnqueuer interface {
	EnqueueSOHSnapshot(ctx context.Context, requestedBy string) error
}

// Handler exposes the reporting endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueuer RebuildEnqueuer
	validate *validator.Validate
}

// NewHandler constructs the reporting HTTP handler.
func NewHandler(logger *slog.Logger, service *Service, enqueuer RebuildEnqueuer) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		enqueuer: enqueuer,
		validate: validator.New(),
	}
}

// MountRoutes registers the reporting routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/soh", h.handleCurrentSnapshot)
	r.Post("/soh/rebuild", h.handleRebuild)
}

type rebuildRequest struct {
	Actor string `json:"actor" validate:"required"`
}

func (h *Handler) handleCurrentSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, found, err := h.service.CurrentSnapshot(r.Context())
	if err != nil {
		h.logger.Error("load current snapshot", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "failed to load snapshot")
		return
	}
	if !found {
		httpx.Problem(w, http.StatusNotFound, "Snapshot Not Found", "no stock on hand snapshot has been built yet")
		return
	}
	httpx.JSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "actor is required")
		return
	}
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Rebuild Unavailable", "background worker is not configured")
		return
	}
	if err := h.enqueuer.EnqueueSOHSnapshot(r.Context(), req.Actor); err != nil {
		h.logger.Error("enqueue snapshot rebuild", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "failed to enqueue rebuild")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
