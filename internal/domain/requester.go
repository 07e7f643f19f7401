package domain

import "strings"

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Requester is the identity on whose behalf a lifecycle operation runs.
// It is resolved by the transport layer and passed explicitly.
type Requester struct {
	ID    string
	Roles []Role
}

func (r Requester) Authenticated() bool {
	return strings.TrimSpace(r.ID) != ""
}

func (r Requester) HasRole(role Role) bool {
	for _, have := range r.Roles {
		if have == role {
			return true
		}
	}
	return false
}

func (r Requester) IsMember() bool {
	return r.Authenticated() && r.HasRole(RoleMember)
}

func (r Requester) IsAdmin() bool {
	return r.Authenticated() && r.HasRole(RoleAdmin)
}

func ParseRoles(values []string) []Role {
	out := make([]Role, 0, len(values))
	for _, v := range values {
		switch Role(strings.ToLower(strings.TrimSpace(v))) {
		case RoleMember:
			out = append(out, RoleMember)
		case RoleAdmin:
			out = append(out, RoleAdmin)
		}
	}
	return out
}
