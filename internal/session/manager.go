package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const maxUpdateAttempts = 5

// Manager hands out per-request session handles and serializes operations on
// a single session ID within this process. Cross-process writers are
// reconciled by the store's version check.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over store. Records expire ttl after their
// last write.
func NewManager(store Store, ttl time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		locks: make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the backing store.
func (m *Manager) Store() Store { return m.store }

// TTL returns the session lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// lock acquires the mutex for id and returns its release function. Lock
// entries are reference counted and dropped once unused.
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &keyLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// Open returns a handle for the session the client presented. An empty id
// yields a handle with no session; one is created on the first Update.
func (m *Manager) Open(id string) *Handle {
	return &Handle{m: m, id: id, origID: id}
}

// Sweep removes expired records from the store.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.store.DeleteExpired(ctx, m.now())
}

// Handle is a single request's view of a session. It is not safe for use by
// multiple goroutines; concurrent requests each open their own handle.
type Handle struct {
	m           *Manager
	id          string
	origID      string
	expired     bool
	invalidated bool
	// seen is set once a live record has been read through this handle.
	seen bool
}

// ID returns the current session ID, or "" when there is none.
func (h *Handle) ID() string { return h.id }

// Changed reports whether the session ID differs from the one the client
// presented, meaning the client must be sent a new cookie.
func (h *Handle) Changed() bool { return h.id != h.origID }

// Invalidated reports whether Invalidate was called on this handle.
func (h *Handle) Invalidated() bool { return h.invalidated }

// Expired reports whether the client presented a session that had expired.
func (h *Handle) Expired() bool { return h.expired }

// Load returns a copy of the current record, or nil when the handle has no
// live session.
func (h *Handle) Load(ctx context.Context) (*Record, error) {
	if h.id == "" {
		return nil, nil
	}
	unlock := h.m.lock(h.id)
	defer unlock()

	rec, err := h.getLocked(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// getLocked fetches the record for h.id, dropping it if expired. Callers hold
// the lock for h.id.
func (h *Handle) getLocked(ctx context.Context) (*Record, error) {
	rec, err := h.m.store.Get(ctx, h.id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.id = ""
		}
		return nil, err
	}
	if rec.Expired(h.m.now()) {
		if err := h.m.store.Delete(ctx, rec.ID); err != nil {
			return nil, fmt.Errorf("delete expired session: %w", err)
		}
		h.expired = true
		h.id = ""
		return nil, ErrNotFound
	}
	h.seen = true
	return rec, nil
}

// Update applies fn to the session record and saves it. When the handle has
// no live session a fresh record with a new ID is created first. fn may be
// called more than once if a concurrent writer in another process wins the
// version check; an error from fn aborts without saving.
func (h *Handle) Update(ctx context.Context, fn func(*Record) error) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := h.updateOnce(ctx, fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("update session: %w", ErrConflict)
}

func (h *Handle) updateOnce(ctx context.Context, fn func(*Record) error) error {
	if h.id == "" {
		return h.create(ctx, fn)
	}

	found, err := h.updateExisting(ctx, fn)
	if err != nil || found {
		return err
	}
	return h.create(ctx, fn)
}

// updateExisting applies fn under the lock for h.id. It reports false when
// the record no longer exists.
func (h *Handle) updateExisting(ctx context.Context, fn func(*Record) error) (bool, error) {
	unlock := h.m.lock(h.id)
	defer unlock()

	rec, err := h.getLocked(ctx)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return true, err
	}

	if err := fn(rec); err != nil {
		return true, err
	}
	rec.ExpiresAt = h.m.now().Add(h.m.ttl)
	return true, h.m.store.Save(ctx, rec)
}

func (h *Handle) create(ctx context.Context, fn func(*Record) error) error {
	id, err := NewID()
	if err != nil {
		return err
	}
	unlock := h.m.lock(id)
	defer unlock()

	now := h.m.now()
	rec := &Record{ID: id, CreatedAt: now}
	if err := fn(rec); err != nil {
		return err
	}
	rec.ExpiresAt = now.Add(h.m.ttl)
	if err := h.m.store.Save(ctx, rec); err != nil {
		return err
	}
	h.id = id
	return nil
}

// Rotate moves the session's data to a freshly generated ID and deletes the
// old record. It is a no-op when the handle never had a live session, and
// fails with ErrNotFound when a session it read earlier has since been
// rotated or destroyed by another request.
func (h *Handle) Rotate(ctx context.Context) error {
	if h.id == "" {
		return h.lost()
	}
	oldID := h.id
	unlockOld := h.m.lock(oldID)
	defer unlockOld()

	rec, err := h.getLocked(ctx)
	if errors.Is(err, ErrNotFound) {
		return h.lost()
	}
	if err != nil {
		return err
	}

	newID, err := NewID()
	if err != nil {
		return err
	}
	unlockNew := h.m.lock(newID)
	defer unlockNew()

	rec.ID = newID
	rec.Version = 0
	rec.ExpiresAt = h.m.now().Add(h.m.ttl)
	if err := h.m.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save rotated session: %w", err)
	}
	if err := h.m.store.Delete(ctx, oldID); err != nil {
		return fmt.Errorf("delete rotated session: %w", err)
	}
	h.id = newID
	return nil
}

func (h *Handle) lost() error {
	if h.seen {
		return fmt.Errorf("rotate session: %w", ErrNotFound)
	}
	return nil
}

// Invalidate destroys the session. Concurrent readers of the same ID see
// either the complete record or nothing.
func (h *Handle) Invalidate(ctx context.Context) error {
	h.invalidated = true
	h.seen = false
	if h.id == "" {
		return nil
	}
	id := h.id
	unlock := h.m.lock(id)
	defer unlock()

	if err := h.m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	h.id = ""
	return nil
}
