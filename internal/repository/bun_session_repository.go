package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/terraconstructs/gridauth/internal/db/models"
	"github.com/terraconstructs/gridauth/internal/identity"
	"github.com/terraconstructs/gridauth/internal/session"
	"github.com/uptrace/bun"
)

// BunSessionRepository implements session.Store using Bun ORM. Writes are
// guarded by the version column so concurrent writers in different processes
// cannot overwrite each other.
type BunSessionRepository struct {
	db *bun.DB
}

var _ session.Store = (*BunSessionRepository)(nil)

// NewBunSessionRepository creates a new Bun-based session repository
func NewBunSessionRepository(db *bun.DB) *BunSessionRepository {
	return &BunSessionRepository{db: db}
}

type sessionData struct {
	Principal  *identity.Principal `json:"principal,omitempty"`
	Claims     identity.Claims     `json:"claims,omitempty"`
	Attributes map[string]string   `json:"attributes,omitempty"`
}

// Get retrieves a session by ID
func (r *BunSessionRepository) Get(ctx context.Context, id string) (*session.Record, error) {
	row := new(models.Session)
	err := r.db.NewSelect().
		Model(row).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var data sessionData
	if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
		return nil, fmt.Errorf("decode session data: %w", err)
	}
	return &session.Record{
		ID:         row.ID,
		Principal:  data.Principal,
		Claims:     data.Claims,
		Attributes: data.Attributes,
		Version:    row.Version,
		CreatedAt:  row.CreatedAt,
		ExpiresAt:  row.ExpiresAt,
	}, nil
}

// Save inserts a new session (Version 0) or updates one at the version it was
// read.
func (r *BunSessionRepository) Save(ctx context.Context, rec *session.Record) error {
	payload, err := json.Marshal(sessionData{
		Principal:  rec.Principal,
		Claims:     rec.Claims,
		Attributes: rec.Attributes,
	})
	if err != nil {
		return fmt.Errorf("encode session data: %w", err)
	}
	now := time.Now()

	var res sql.Result
	if rec.Version == 0 {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		row := &models.Session{
			ID:        rec.ID,
			Data:      string(payload),
			Version:   1,
			CreatedAt: createdAt,
			UpdatedAt: now,
			ExpiresAt: rec.ExpiresAt,
		}
		res, err = r.db.NewInsert().
			Model(row).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
	} else {
		res, err = r.db.NewUpdate().
			Model((*models.Session)(nil)).
			Set("data = ?", string(payload)).
			Set("version = version + 1").
			Set("updated_at = ?", now).
			Set("expires_at = ?", rec.ExpiresAt).
			Where("id = ?", rec.ID).
			Where("version = ?", rec.Version).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return session.ErrConflict
	}
	rec.Version++
	return nil
}

// Delete removes a session
func (r *BunSessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().
		Model((*models.Session)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired deletes all sessions expired at now
func (r *BunSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*models.Session)(nil)).
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(n), nil
}
