package entity

import "strings"

// Role is the authorization role attached to an account.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole maps a stored value onto a known role. Unknown values fall back to USER.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleUser
}

func (r Role) IsAdmin() bool { return r == RoleAdmin }

func (r Role) String() string { return string(r) }
