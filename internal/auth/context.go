package auth

import (
	"context"

	"github.com/terraconstructs/gridauth/internal/identity"
	"github.com/terraconstructs/gridauth/internal/session"
)

type principalContextKey struct{}

// SetPrincipalContext stores the authenticated principal on the context for downstream consumers.
func SetPrincipalContext(ctx context.Context, p *identity.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p.Clone())
}

// PrincipalFromContext retrieves the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (*identity.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*identity.Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p.Clone(), true
}

type claimsContextKey struct{}

// SetClaimsContext stores the raw claims on the context.
func SetClaimsContext(ctx context.Context, claims identity.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims.Clone())
}

// ClaimsFromContext retrieves the raw claims from the context.
func ClaimsFromContext(ctx context.Context) identity.Claims {
	claims, ok := ctx.Value(claimsContextKey{}).(identity.Claims)
	if !ok {
		return nil
	}
	return claims.Clone()
}

type sessionContextKey struct{}

// SetSessionContext stores the request's session handle so handlers can log out.
func SetSessionContext(ctx context.Context, sess *session.Handle) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext retrieves the request's session handle.
func SessionFromContext(ctx context.Context) (*session.Handle, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*session.Handle)
	return sess, ok && sess != nil
}
