package middleware

import (
	"log"
	"net/http"

	"github.com/terraconstructs/gridauth/internal/auth"
	"github.com/terraconstructs/gridauth/internal/session"
)

// AuthnDependencies bundles collaborators required by the authentication middleware.
type AuthnDependencies struct {
	Dispatcher *auth.Dispatcher
	Sessions   *session.Manager
	Cookies    *session.CookieTransport
}

// NewAuthnMiddleware runs the dispatcher for every request.
//
// Flow:
// 1. Open the session named by the cookie (if any)
// 2. Dispatch: validate round trips, challenge or authorize
// 3. Either write the dispatcher's response or call next with the principal,
// claims and session handle on the context
//
// The session cookie is written just before the response header, so a
// handler that logs out or the dispatcher rotating the ID both reach the
// client.
func NewAuthnMiddleware(deps AuthnDependencies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			sess := deps.Sessions.Open(deps.Cookies.Read(r))
			w = deps.Cookies.Wrap(w, sess)
			defer session.Finish(w)

			res, err := deps.Dispatcher.Handle(ctx, r, sess)
			if err != nil {
				log.Printf("authentication dispatch failed for %s %s: %v", r.Method, r.URL.Path, err)
				http.Error(w, "authentication error", http.StatusInternalServerError)
				return
			}
			if !res.Proceed {
				res.Response.Write(w)
				return
			}

			ctx = auth.SetSessionContext(ctx, sess)
			if res.Principal != nil {
				ctx = auth.SetPrincipalContext(ctx, res.Principal)
				ctx = auth.SetClaimsContext(ctx, res.Claims)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthentication rejects requests that reached it without a
// principal. It guards API routes that must not redirect.
func RequireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
