package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/gridauth/internal/db/models"
)

func TestBunUserRepository_CRUD(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunUserRepository(db)
	ctx := context.Background()

	subject := "123456789"
	hash := "$2a$10$placeholder"
	user := &models.User{
		Username:     "alice",
		Subject:      &subject,
		Email:        "Alice@example.com",
		Name:         "Alice",
		PasswordHash: &hash,
	}

	t.Run("create and get", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, user))
		assert.NotEmpty(t, user.ID)

		byName, err := repo.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, user.ID, byName.ID)
		assert.Equal(t, "123456789", byName.PrincipalSubject())

		bySubject, err := repo.GetBySubject(ctx, subject)
		require.NoError(t, err)
		assert.Equal(t, user.ID, bySubject.ID)

		byID, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", byID.Username)
	})

	t.Run("lookup by username or id", func(t *testing.T) {
		byName, err := repo.Lookup(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, user.ID, byName.ID)

		byID, err := repo.Lookup(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", byID.Username)

		_, err = repo.Lookup(ctx, "nobody")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetByUsername(ctx, "nobody")
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, repo.SetPasswordHash(ctx, "missing", "x"), ErrNotFound)
	})

	t.Run("duplicate username", func(t *testing.T) {
		err := repo.Create(ctx, &models.User{Username: "alice"})
		require.Error(t, err)
	})

	t.Run("roles", func(t *testing.T) {
		require.NoError(t, repo.GrantRole(ctx, user.ID, "user"))
		require.NoError(t, repo.GrantRole(ctx, user.ID, "admin"))
		require.NoError(t, repo.GrantRole(ctx, user.ID, "admin"))

		roles, err := repo.Roles(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"admin", "user"}, roles)

		require.NoError(t, repo.RevokeRole(ctx, user.ID, "admin"))
		roles, err = repo.Roles(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"user"}, roles)
	})

	t.Run("password and last login", func(t *testing.T) {
		require.NoError(t, repo.SetPasswordHash(ctx, user.ID, "$2a$10$other"))
		require.NoError(t, repo.UpdateLastLogin(ctx, user.ID))

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, got.PasswordHash)
		assert.Equal(t, "$2a$10$other", *got.PasswordHash)
		assert.NotNil(t, got.LastLoginAt)
	})

	t.Run("list", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, &models.User{Username: "bob"}))
		users, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "alice", users[0].Username)
		assert.Equal(t, "bob", users[1].Username)
		assert.Nil(t, users[1].Subject)
	})
}
