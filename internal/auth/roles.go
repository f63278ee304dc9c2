package auth

import (
	"fmt"
	"strings"

	"signdesk/internal/models"
)

// Role упорядочена: User < Manager < Owner.
type Role int

const (
	RoleUser Role = iota + 1
	RoleManager
	RoleOwner
)

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case models.RoleUser:
		return RoleUser, nil
	case models.RoleManager:
		return RoleManager, nil
	case models.RoleOwner:
		return RoleOwner, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return models.RoleUser
	case RoleManager:
		return models.RoleManager
	case RoleOwner:
		return models.RoleOwner
	}
	return "unknown"
}

// AtLeast: have не ниже required.
func AtLeast(have, required Role) bool { return have >= required }

// Outranks: строго выше; нужно для имперсонации и управления ролями.
func (r Role) Outranks(other Role) bool { return r > other }
