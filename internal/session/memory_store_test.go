package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(8, time.Hour)

	rec := &Record{ID: "a"}
	require.NoError(t, s.Save(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)

	// Inserting the same ID again conflicts.
	require.ErrorIs(t, s.Save(ctx, &Record{ID: "a"}), ErrConflict)

	first, err := s.Get(ctx, "a")
	require.NoError(t, err)
	second, err := s.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, first))
	require.ErrorIs(t, s.Save(ctx, second), ErrConflict)

	// Updating a record that was deleted conflicts too.
	require.NoError(t, s.Delete(ctx, "a"))
	require.ErrorIs(t, s.Save(ctx, first), ErrConflict)
}

func TestMemoryStore_GetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(8, time.Hour)

	rec := &Record{ID: "a"}
	rec.SetAttr("k", "v")
	require.NoError(t, s.Save(ctx, rec))
	rec.SetAttr("k", "changed")

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "v", got.Attr("k"))

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(8, time.Hour)
	now := time.Now()

	require.NoError(t, s.Save(ctx, &Record{ID: "old", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, s.Save(ctx, &Record{ID: "new", ExpiresAt: now.Add(time.Minute)}))

	n, err := s.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Len())
}
