// Package session implements the server-side session subsystem: records keyed
// by an opaque identifier, pluggable stores with compare-and-set versioning,
// per-session serialization of mutations and the cookie that correlates a
// client with its record.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/terraconstructs/gridauth/internal/identity"
)

var (
	// ErrNotFound is returned by a Store when no record exists for an ID.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned when a record exists but is past ExpiresAt.
	ErrExpired = errors.New("session expired")

	// ErrConflict is returned by Store.Save when the stored version does not
	// match the version the caller read.
	ErrConflict = errors.New("session version conflict")
)

// Record is the persisted state of one session.
type Record struct {
	ID         string
	Principal  *identity.Principal
	Claims     identity.Claims
	Attributes map[string]string
	// Version is the store version the record was read at; zero for a
	// record that has never been saved.
	Version   int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the record is past its expiry at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Attr returns a session attribute.
func (r *Record) Attr(key string) string {
	if r == nil || r.Attributes == nil {
		return ""
	}
	return r.Attributes[key]
}

// SetAttr sets a session attribute, allocating the map on first use.
func (r *Record) SetAttr(key, value string) {
	if r.Attributes == nil {
		r.Attributes = make(map[string]string)
	}
	r.Attributes[key] = value
}

// DeleteAttr removes a session attribute.
func (r *Record) DeleteAttr(key string) {
	delete(r.Attributes, key)
}

// Clone returns a copy that shares no mutable state with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Principal = r.Principal.Clone()
	cp.Claims = r.Claims.Clone()
	if r.Attributes != nil {
		cp.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}

// Store persists session records.
//
// Save inserts when rec.Version is zero (failing with ErrConflict if the ID
// already exists) and otherwise updates only if the stored version still
// equals rec.Version. On success rec.Version holds the new version.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

const idBytes = 32

// NewID returns a cryptographically random, URL-safe session identifier.
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
