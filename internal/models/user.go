package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles.
const (
	RoleBacker   = "backer"
	RoleCreator  = "creator"
	RoleOperator = "operator"
	RoleAdapter  = "adapter"
)

type RegisteredUser struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	RegisteredAt time.Time `json:"registered_at"`
}
