package permissions

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/guard"
	"github.com/bhunte/atelier/internal/platform/httpx"
	"github.com/bhunte/atelier/internal/shared"
)

// Handler exposes the permission editor API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     guard.Middleware
	validator *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, g guard.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: g, validator: validator.New()}
}

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.RequireAPI(guard.Authenticated())).Get("/catalog", h.catalog)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAPI(guard.Action(access.FeaturePermissions, access.ActionView)))
		r.Get("/users/{id}", h.userGrants)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAPI(guard.Action(access.FeaturePermissions, access.ActionEdit)))
		r.Put("/users/{id}", h.saveGrants)
	})
}

type grantInput struct {
	Feature    string `json:"feature" validate:"required"`
	Permission []int  `json:"permission" validate:"unique,dive,min=0,max=4"`
}

type saveRequest struct {
	Access []grantInput `json:"access" validate:"required,dive"`
}

type grantsResponse struct {
	UserID string         `json:"userId"`
	Access []access.Grant `json:"access"`
}

func (h *Handler) catalog(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"features": Catalog()})
}

func (h *Handler) userGrants(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	grants, err := h.service.UserGrants(r.Context(), shared.SessionID(r.Context()), userID)
	if err != nil {
		h.fail(w, "load grants", err)
		return
	}
	if grants == nil {
		grants = []access.Grant{}
	}
	httpx.JSON(w, http.StatusOK, grantsResponse{UserID: userID, Access: grants})
}

func (h *Handler) saveGrants(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", validationDetail(err))
		return
	}
	grants := make([]access.Grant, 0, len(req.Access))
	for _, in := range req.Access {
		g := access.Grant{Feature: access.Feature(in.Feature), Permissions: make([]access.Action, 0, len(in.Permission))}
		for _, code := range in.Permission {
			g.Permissions = append(g.Permissions, access.Action(code))
		}
		grants = append(grants, g)
	}
	userID := chi.URLParam(r, "id")
	if err := h.service.SaveGrants(r.Context(), shared.SessionID(r.Context()), userID, grants); err != nil {
		h.fail(w, "save grants", err)
		return
	}
	h.logger.Info("grants saved", slog.String("user_id", userID), slog.Int("features", len(grants)))
	httpx.JSON(w, http.StatusOK, grantsResponse{UserID: userID, Access: grants})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Namespace()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
