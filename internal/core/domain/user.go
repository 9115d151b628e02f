package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserRole gates what a user may do. Operators and admins may deploy;
// viewers are read-only.
type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleOperator UserRole = "operator"
	RoleViewer   UserRole = "viewer"
)

type User struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Username       string    `json:"username" db:"username"`
	HashedPassword string    `json:"-" db:"hashed_password"`
	Role           UserRole  `json:"role" db:"role"`
	Email          string    `json:"email,omitempty" db:"email"`
	Active         bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// CanDeploy reports whether the user may trigger mutating deployment
// operations.
func (u *User) CanDeploy() bool {
	return u.Role == RoleAdmin || u.Role == RoleOperator
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
