// Package nav builds the dashboard sidebar a principal may see.
package nav

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/platform/httpx"
	"github.com/bhunte/atelier/internal/shared"
)

// Item is a sidebar entry. Groups carry children and no path.
type Item struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Path     string `json:"path,omitempty"`
	Children []Item `json:"children,omitempty"`
}

// SessionAction is the button at the bottom of the sidebar.
type SessionAction struct {
	Kind   string `json:"kind"`
	Label  string `json:"label"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Menu is the sidebar of one principal.
type Menu struct {
	Items         []Item        `json:"items"`
	Impersonating bool          `json:"impersonating"`
	Action        SessionAction `json:"action"`
}

type entry struct {
	item     Item
	visible  func(p *access.Principal) bool
	children []entry
}

func can(f access.Feature, actions ...access.Action) func(*access.Principal) bool {
	return func(p *access.Principal) bool {
		return access.CanAccess(p, f, actions...)
	}
}

func always(*access.Principal) bool { return true }

var sidebar = []entry{
	{item: Item{Key: "dashboard", Label: "Dashboard", Path: "/dashboard"}, visible: can(access.FeatureDashboard)},
	{item: Item{Key: "master", Label: "Master", Path: "/dashboard/master"}, visible: always},
	{item: Item{Key: "team", Label: "Team", Path: "/dashboard/team"}, visible: can(access.FeatureTeam)},
	{item: Item{Key: "permissions", Label: "Permissions", Path: "/dashboard/permissions"}, visible: func(p *access.Principal) bool {
		return access.CanAccess(p, access.FeaturePermissions) && (p.IsAdmin() || p.Category == "Manager")
	}},
	{item: Item{Key: "products", Label: "Products"}, visible: can(access.FeatureProduct), children: []entry{
		{item: Item{Key: "products.list", Label: "Product List", Path: "/dashboard/products"}, visible: can(access.FeatureProduct, access.ActionView)},
		{item: Item{Key: "products.create", Label: "Create Product", Path: "/dashboard/products/create"}, visible: can(access.FeatureProduct, access.ActionPatch)},
	}},
	{item: Item{Key: "designer", Label: "Designer"}, visible: can(access.FeatureDesigner), children: []entry{
		{item: Item{Key: "designer.list", Label: "Product List", Path: "/dashboard/designer/products"}, visible: can(access.FeatureDesigner, access.ActionView)},
		{item: Item{Key: "designer.create", Label: "Create Product", Path: "/dashboard/designer/create-product"}, visible: can(access.FeatureDesigner, access.ActionPatch)},
	}},
	{item: Item{Key: "profile", Label: "Profile", Path: "/dashboard/profile"}, visible: can(access.FeatureProfile)},
}

// Build returns the menu of p. An absent principal gets an empty menu.
func Build(p *access.Principal) Menu {
	menu := Menu{Items: []Item{}}
	if p == nil {
		return menu
	}
	menu.Items = visibleItems(sidebar, p)
	menu.Impersonating = p.Impersonating
	if p.Impersonating {
		menu.Action = SessionAction{Kind: "exit_impersonation", Label: "Exit " + p.Name, Method: http.MethodPost, Path: "/auth/exit-impersonation"}
	} else {
		menu.Action = SessionAction{Kind: "logout", Label: "Logout", Method: http.MethodPost, Path: "/auth/logout"}
	}
	return menu
}

func visibleItems(entries []entry, p *access.Principal) []Item {
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		if !e.visible(p) {
			continue
		}
		item := e.item
		if len(e.children) > 0 {
			item.Children = visibleItems(e.children, p)
		}
		items = append(items, item)
	}
	return items
}

// Handler serves the menu of the caller.
type Handler struct{}

// NewHandler constructs a Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// MountRoutes registers navigation routes. The caller must guard them.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.menu)
}

func (h *Handler) menu(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, Build(shared.PrincipalFromContext(r.Context())))
}
