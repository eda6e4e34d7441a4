package entity

import (
	"slices"
	"time"
)

// Principal is the identity attached to an authenticated streaming connection.
type Principal struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}
