package users

import "github.com/bhunte/atelier/internal/backend"

// Member is a team member as shown in the listing.
type Member struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	Category    string `json:"category"`
	DisplayRole string `json:"displayRole"`
	Active      bool   `json:"active"`
}

// DisplayRole labels a member for the impersonation picker. Managers by
// category keep their role; a Manager role is qualified by its category.
func DisplayRole(role, category string) string {
	switch {
	case category == "Manager":
		return role
	case role == "Manager" && category != "":
		return category + " " + role
	default:
		return role
	}
}

func fromBackend(u backend.User) Member {
	return Member{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		Role:        u.Role,
		Category:    u.Category,
		DisplayRole: DisplayRole(u.Role, u.Category),
		Active:      u.Active,
	}
}
