package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/terraconstructs/gridauth/internal/db/bunx"
	"github.com/terraconstructs/gridauth/internal/migrations"
)

// setupTestDB opens a private in-memory SQLite database with all migrations applied.
func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := bunx.NewDB(ctx, dsn, bunx.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = migrations.Apply(ctx, db)
	require.NoError(t, err)
	return db
}
