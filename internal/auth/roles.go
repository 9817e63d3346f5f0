package auth

import "strings"

// Role is the access level carried in a token.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleCollector Role = "collector"
	RoleAdmin     Role = "admin"
)

var roleLevels = map[Role]int{
	RoleViewer:    1,
	RoleCollector: 2,
	RoleAdmin:     3,
}

// ParseRole reads a role name case-insensitively.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleLevels[role]; !ok {
		return "", false
	}
	return role, true
}

// Satisfies reports whether r grants at least the required level.
func (r Role) Satisfies(required Role) bool {
	have, ok := roleLevels[r]
	return ok && have >= roleLevels[required]
}
