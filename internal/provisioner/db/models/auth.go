package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// ProjectUser is a member of a project with the role names it holds there.
type ProjectUser struct {
	UserID int64    `json:"user_id"`
	Roles  []string `json:"roles"`
}

// Token is a persisted API token. Only the argon2id hash of the token id is
// stored; the signed token itself is handed to the caller once.
type Token struct {
	ID        int64      `json:"id"`
	UUID      uuid.UUID  `json:"uuid"`
	UserID    int64      `json:"user_id"`
	Name      string     `json:"name"`
	Hash      string     `json:"-"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
