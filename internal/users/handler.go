package users

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/guard"
	"github.com/bhunte/atelier/internal/platform/httpx"
	"github.com/bhunte/atelier/internal/shared"
)

// Handler manages team listing endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   guard.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, g guard.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: g}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAPI(guard.Action(access.FeatureTeam, access.ActionView)))
		r.Get("/", h.listUsers)
	})
}

type listResponse struct {
	Users      []Member          `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	filter := Filter{Query: r.URL.Query().Get("q"), ActiveOnly: r.URL.Query().Get("active") == "true"}
	members, err := h.service.ListMembers(r.Context(), shared.SessionID(r.Context()), filter)
	if err != nil {
		if httpx.Status(err) >= http.StatusInternalServerError {
			h.logger.Error("list users failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	page := shared.PaginationFromRequest(r, len(members))
	start, end := page.Bounds()
	httpx.JSON(w, http.StatusOK, listResponse{Users: members[start:end], Pagination: page})
}
