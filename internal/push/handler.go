package push

import (
	"net/http"

	"github.com/bissquit/gigpush/internal/pkg/ctxlog"
	"github.com/bissquit/gigpush/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

// Handler exposes the drain loop over HTTP.
type Handler struct {
	runner DrainRunner
	auth   *TriggerAuth
}

// NewHandler creates a new push handler.
func NewHandler(runner DrainRunner, auth *TriggerAuth) *Handler {
	return &Handler{
		runner: runner,
		auth:   auth,
	}
}

// RegisterRoutes registers the drain trigger routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.auth.Middleware)
		r.Get("/push/drain", h.Drain)
		r.Post("/push/drain", h.Drain)
	})
}

// DrainResponse is returned by a successful drain trigger.
type DrainResponse struct {
	OK bool `json:"ok"`
	Summary
}

type failureResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Drain handles GET|POST /push/drain.
func (h *Handler) Drain(w http.ResponseWriter, r *http.Request) {
	ctx := ctxlog.With(r.Context(), "trigger", "http")

	summary, err := h.runner.Drain(ctx)
	if err != nil {
		ctxlog.FromContext(ctx).Error("drain trigger failed", "error", err)
		respondFailure(w, http.StatusInternalServerError, err.Error())
		return
	}

	httputil.JSON(w, http.StatusOK, DrainResponse{OK: true, Summary: summary})
}

func respondFailure(w http.ResponseWriter, status int, message string) {
	httputil.JSON(w, status, failureResponse{OK: false, Error: message})
}
