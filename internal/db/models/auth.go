package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User is a local account. Subject links the account to an OpenID identity
// so that the same roles apply when the user signs in through the provider.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string     `bun:"id,pk"`
	Username     string     `bun:"username,notnull,unique"`
	Subject      *string    `bun:"subject,unique"` // Optional OpenID subject
	Email        string     `bun:"email"`
	Name         string     `bun:"name"`
	PasswordHash *string    `bun:"password_hash"` // bcrypt hash; nil for provider-only accounts
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	LastLoginAt  *time.Time `bun:"last_login_at"`
	DisabledAt   *time.Time `bun:"disabled_at"`
}

// PrincipalSubject returns the stable identifier exposed as the principal's
// subject. Falls back to the username when no upstream subject is linked.
func (u *User) PrincipalSubject() string {
	if u == nil {
		return ""
	}
	if u.Subject != nil && *u.Subject != "" {
		return *u.Subject
	}
	return u.Username
}

// Disabled reports whether the account has been disabled.
func (u *User) Disabled() bool {
	return u != nil && u.DisabledAt != nil
}

// UserRole grants a role to a user.
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:ur"`

	ID         string    `bun:"id,pk"`
	UserID     string    `bun:"user_id,notnull"`
	Role       string    `bun:"role,notnull"`
	AssignedAt time.Time `bun:"assigned_at,notnull,default:current_timestamp"`
}

// Session is a persisted server-side session. Data holds the JSON encoded
// principal, claims and attributes; Version implements optimistic locking.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:sess"`

	ID        string    `bun:"id,pk"`
	Data      string    `bun:"data,notnull"`
	Version   int64     `bun:"version,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
}
