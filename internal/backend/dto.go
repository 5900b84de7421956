package backend

import (
	"log/slog"

	"github.com/bhunte/atelier/internal/access"
)

type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

type userRecord struct {
	ID              string        `json:"_id" validate:"required"`
	Name            string        `json:"name"`
	Email           string        `json:"email"`
	Role            string        `json:"role" validate:"required"`
	Category        string        `json:"category"`
	Access          []grantRecord `json:"access"`
	IsImpersonating bool          `json:"isImpersonating"`
	Status          *bool         `json:"status,omitempty"`
}

type grantRecord struct {
	Feature    string `json:"feature"`
	Permission []int  `json:"permission"`
}

type verifyResponse struct {
	User *userRecord `json:"user"`
}

type usersResponse struct {
	Users []userRecord `json:"users"`
}

type permissionsResponse struct {
	Permissions *struct {
		Access []grantRecord `json:"access"`
	} `json:"permissions"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type savePermissionsRequest struct {
	UserID string        `json:"userId"`
	Access []grantRecord `json:"access"`
}

// User is a team member as listed by the backend.
type User struct {
	ID       string
	Name     string
	Email    string
	Role     string
	Category string
	Active   bool
}

func (r userRecord) toUser() User {
	active := true
	if r.Status != nil {
		active = *r.Status
	}
	return User{ID: r.ID, Name: r.Name, Email: r.Email, Role: r.Role, Category: r.Category, Active: active}
}

// toGrants converts wire grants, dropping entries that name unknown features or
// carry codes outside the action vocabulary. Feature names must match exactly.
func toGrants(records []grantRecord, logger *slog.Logger) []access.Grant {
	grants := make([]access.Grant, 0, len(records))
	for _, rec := range records {
		feature := access.Feature(rec.Feature)
		if !feature.Valid() {
			logger.Warn("backend grant dropped", slog.String("feature", rec.Feature))
			continue
		}
		perms := make([]access.Action, 0, len(rec.Permission))
		for _, code := range rec.Permission {
			action, err := access.ActionFromCode(code)
			if err != nil {
				logger.Warn("backend permission code dropped", slog.String("feature", rec.Feature), slog.Int("code", code))
				continue
			}
			perms = append(perms, action)
		}
		grants = append(grants, access.Grant{Feature: feature, Permissions: perms})
	}
	return access.NormalizeGrants(grants)
}

func fromGrants(grants []access.Grant) []grantRecord {
	records := make([]grantRecord, 0, len(grants))
	for _, g := range grants {
		codes := make([]int, 0, len(g.Permissions))
		for _, a := range g.Permissions {
			codes = append(codes, int(a))
		}
		records = append(records, grantRecord{Feature: string(g.Feature), Permission: codes})
	}
	return records
}
