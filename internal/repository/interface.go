package repository

import (
	"context"
	"errors"

	"github.com/terraconstructs/gridauth/internal/db/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// UserRepository exposes persistence operations for local accounts and their
// role grants.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetBySubject(ctx context.Context, subject string) (*models.User, error)
	Lookup(ctx context.Context, ref string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string) error
	SetPasswordHash(ctx context.Context, id string, passwordHash string) error
	List(ctx context.Context) ([]models.User, error)

	GrantRole(ctx context.Context, userID, role string) error
	RevokeRole(ctx context.Context, userID, role string) error
	Roles(ctx context.Context, userID string) ([]string, error)
}
