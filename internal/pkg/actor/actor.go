// Package actor describes the authenticated caller of a settlement operation.
package actor

import (
	"strings"

	"github.com/google/uuid"

	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAgent || r == RoleAdmin
}

type Actor struct {
	UserID uuid.UUID
	Role   Role
}

func New(userID uuid.UUID, role Role) Actor {
	return Actor{UserID: userID, Role: role}
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Require fails with Forbidden unless the actor holds one of roles.
func (a Actor) Require(op string, roles ...Role) error {
	for _, r := range roles {
		if a.Role == r {
			return nil
		}
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return apperr.Forbidden(op, "%s role required", strings.Join(names, " or "))
}
