package auth

import (
	"context"

	"github.com/terraconstructs/gridauth/internal/identity"
	"github.com/terraconstructs/gridauth/internal/session"
)

// Session attribute keys used by the authenticators for in-progress
// handshakes. Set clears all of them.
const (
	attrFormTarget   = "form.target"
	attrOpenIDState  = "openid.state"
	attrOpenIDTarget = "openid.target"
)

var handshakeAttrs = []string{attrFormTarget, attrOpenIDState, attrOpenIDTarget}

// IdentityStore is the per-session slot holding the authenticated principal
// and its raw claims. All reads and writes go through the session handle, so
// they are serialized per session ID.
type IdentityStore struct{}

// Get returns the session's principal, or nil.
func (IdentityStore) Get(ctx context.Context, sess *session.Handle) (*identity.Principal, error) {
	p, _, err := IdentityStore{}.Load(ctx, sess)
	return p, err
}

// GetClaims returns the session's claims, or nil.
func (IdentityStore) GetClaims(ctx context.Context, sess *session.Handle) (identity.Claims, error) {
	_, c, err := IdentityStore{}.Load(ctx, sess)
	return c, err
}

// Load returns principal and claims from a single read of the session.
func (IdentityStore) Load(ctx context.Context, sess *session.Handle) (*identity.Principal, identity.Claims, error) {
	rec, err := sess.Load(ctx)
	if err != nil || rec == nil {
		return nil, nil, err
	}
	return rec.Principal, rec.Claims, nil
}

// Set stores the principal and claims, dropping any pending handshake state.
func (IdentityStore) Set(ctx context.Context, sess *session.Handle, p *identity.Principal, claims identity.Claims) error {
	return sess.Update(ctx, func(rec *session.Record) error {
		rec.Principal = p.Clone()
		rec.Claims = claims.Clone()
		for _, k := range handshakeAttrs {
			rec.DeleteAttr(k)
		}
		return nil
	})
}

// Invalidate destroys the session, identity and handshake state together.
func (IdentityStore) Invalidate(ctx context.Context, sess *session.Handle) error {
	return sess.Invalidate(ctx)
}
