package auth

import (
	"net/http"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/platform/httpx"
	"github.com/bhunte/atelier/internal/shared"
)

type checkResponse struct {
	Feature string `json:"feature"`
	Action  string `json:"action,omitempty"`
	Allowed bool   `json:"allowed"`
}

// checkAccess answers whether the caller may perform action on feature. An
// unknown feature is reported as not allowed.
func (h *Handler) checkAccess(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawFeature := q.Get("feature")
	if rawFeature == "" {
		httpx.Problem(w, http.StatusBadRequest, "Invalid query", "feature is required")
		return
	}
	resp := checkResponse{Feature: rawFeature}
	var actions []access.Action
	if raw := q.Get("action"); raw != "" {
		a, err := access.ParseAction(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid query", err.Error())
			return
		}
		actions = append(actions, a)
		resp.Action = a.String()
	}
	label := "unknown"
	if f, err := access.ParseFeature(rawFeature); err == nil {
		label = string(f)
		resp.Feature = label
		resp.Allowed = access.CanAccess(shared.PrincipalFromContext(r.Context()), f, actions...)
	}
	if h.guard.Metrics != nil {
		decision := "deny"
		if resp.Allowed {
			decision = "allow"
		}
		h.guard.Metrics.ObserveDecision(label, decision)
	}
	httpx.JSON(w, http.StatusOK, resp)
}
