package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/terraconstructs/gridauth/internal/db/bunx"
	"github.com/terraconstructs/gridauth/internal/db/models"
	"github.com/uptrace/bun"
)

// BunUserRepository implements UserRepository using Bun ORM
type BunUserRepository struct {
	db *bun.DB
}

// NewBunUserRepository creates a new Bun-based user repository
func NewBunUserRepository(db *bun.DB) *BunUserRepository {
	return &BunUserRepository{db: db}
}

// Create inserts a new user. An empty ID is filled with a UUIDv7.
func (r *BunUserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = bunx.NewUUIDv7()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.NewInsert().
		Model(user).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *BunUserRepository) getOne(ctx context.Context, column, value string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("? = ?", bun.Ident(column), value).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s %q: %w", column, value, ErrNotFound)
		}
		return nil, fmt.Errorf("get user by %s: %w", column, err)
	}
	return user, nil
}

// GetByID retrieves a user by their ID
func (r *BunUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, "id", id)
}

// GetByUsername retrieves a user by their login name
func (r *BunUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, "username", username)
}

// Lookup resolves a user by login name, falling back to the user ID.
func (r *BunUserRepository) Lookup(ctx context.Context, ref string) (*models.User, error) {
	user, err := r.GetByUsername(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		return r.GetByID(ctx, ref)
	}
	return user, err
}

// GetBySubject retrieves a user by their linked OpenID subject
func (r *BunUserRepository) GetBySubject(ctx context.Context, subject string) (*models.User, error) {
	return r.getOne(ctx, "subject", subject)
}

// UpdateLastLogin updates the last_login_at timestamp for a user
func (r *BunUserRepository) UpdateLastLogin(ctx context.Context, id string) error {
	now := time.Now()
	_, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("last_login_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// SetPasswordHash updates the stored bcrypt hash for a user's local credentials.
func (r *BunUserRepository) SetPasswordHash(ctx context.Context, id string, passwordHash string) error {
	res, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %q: %w", id, ErrNotFound)
	}
	return nil
}

// List retrieves all users ordered by username
func (r *BunUserRepository) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.NewSelect().
		Model(&users).
		Order("username ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// GrantRole assigns role to a user. Granting an existing role is a no-op.
func (r *BunUserRepository) GrantRole(ctx context.Context, userID, role string) error {
	grant := &models.UserRole{
		ID:         bunx.NewUUIDv7(),
		UserID:     userID,
		Role:       role,
		AssignedAt: time.Now(),
	}
	_, err := r.db.NewInsert().
		Model(grant).
		On("CONFLICT (user_id, role) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}

// RevokeRole removes a role from a user.
func (r *BunUserRepository) RevokeRole(ctx context.Context, userID, role string) error {
	_, err := r.db.NewDelete().
		Model((*models.UserRole)(nil)).
		Where("user_id = ?", userID).
		Where("role = ?", role).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return nil
}

// Roles lists the roles granted to a user.
func (r *BunUserRepository) Roles(ctx context.Context, userID string) ([]string, error) {
	var roles []string
	err := r.db.NewSelect().
		Model((*models.UserRole)(nil)).
		Column("role").
		Where("user_id = ?", userID).
		Order("role ASC").
		Scan(ctx, &roles)
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	return roles, nil
}
