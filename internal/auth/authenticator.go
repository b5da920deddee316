// Package auth implements request-time authentication dispatch: selecting an
// authenticator per path, running its challenge/validate handshake against
// the server-side session, and enforcing path-scoped role constraints on the
// resulting identity.
package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/terraconstructs/gridauth/internal/identity"
	"github.com/terraconstructs/gridauth/internal/session"
)

// Authentication methods.
const (
	MethodForm   = "form"
	MethodOpenID = "openid"
)

// OutcomeKind classifies the result of an authenticator operation.
type OutcomeKind int

const (
	// OutcomeDeferred means the authenticator has nothing to say about the
	// request; the caller decides.
	OutcomeDeferred OutcomeKind = iota
	// OutcomeAuthenticated carries a principal and claims.
	OutcomeAuthenticated
	// OutcomeChallenge carries a directive the client must follow.
	OutcomeChallenge
	// OutcomeRejected carries the reason authentication failed.
	OutcomeRejected
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDeferred:
		return "deferred"
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeChallenge:
		return "challenge"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Directive is a response the host server must send as-is.
type Directive struct {
	Status int
	Header http.Header
	Body   string
}

// Redirect returns a 302 directive to location.
func Redirect(location string) *Directive {
	h := make(http.Header)
	h.Set("Location", location)
	h.Set("Cache-Control", "no-store")
	return &Directive{Status: http.StatusFound, Header: h}
}

// Respond returns a plain-text directive.
func Respond(status int, body string) *Directive {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return &Directive{Status: status, Header: h, Body: body}
}

// Write sends the directive.
func (d *Directive) Write(w http.ResponseWriter) {
	for k, vs := range d.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(d.Status)
	if d.Body != "" {
		_, _ = w.Write([]byte(d.Body))
	}
}

// Outcome is the result of Challenge or Validate.
type Outcome struct {
	Kind      OutcomeKind
	Principal *identity.Principal
	Claims    identity.Claims
	// Directive is set for OutcomeChallenge, and for OutcomeAuthenticated
	// when completing a round trip (the post-login redirect).
	Directive *Directive
	Reason    error
}

// Authenticated builds an OutcomeAuthenticated.
func Authenticated(p *identity.Principal, claims identity.Claims, d *Directive) Outcome {
	return Outcome{Kind: OutcomeAuthenticated, Principal: p, Claims: claims, Directive: d}
}

// Challenge builds an OutcomeChallenge.
func Challenge(d *Directive) Outcome {
	return Outcome{Kind: OutcomeChallenge, Directive: d}
}

// Rejected builds an OutcomeRejected.
func Rejected(reason error) Outcome {
	return Outcome{Kind: OutcomeRejected, Reason: reason}
}

// Deferred builds an OutcomeDeferred.
func Deferred() Outcome {
	return Outcome{Kind: OutcomeDeferred}
}

// Authenticator is one authentication scheme. Every operation receives the
// request's session handle explicitly; authenticators keep no per-client
// state of their own.
//
// A returned error means infrastructure failure (session store unavailable);
// authentication failures are reported as OutcomeRejected.
type Authenticator interface {
	// Method names the scheme ("form", "openid").
	Method() string

	// Challenge short-circuits to OutcomeAuthenticated when the session
	// already holds an identity, and otherwise asks the client for one.
	Challenge(ctx context.Context, r *http.Request, sess *session.Handle) (Outcome, error)

	// Revalidate reports whether an identity this scheme stored in the
	// session is still good, removing it from the session when it is not.
	Revalidate(ctx context.Context, sess *session.Handle, p *identity.Principal, claims identity.Claims) (bool, error)

	// Validate completes a round trip started by Challenge. ls, when not
	// nil, overrides the authenticator's own login service.
	Validate(ctx context.Context, r *http.Request, sess *session.Handle, ls LoginService) (Outcome, error)

	// Logout clears the identity held by the session.
	Logout(ctx context.Context, sess *session.Handle) error

	// IsValidationRequest reports whether r completes a round trip.
	IsValidationRequest(r *http.Request) bool

	// ValidationPath is the path IsValidationRequest matches.
	ValidationPath() string

	// IsPublicPath reports whether path must be reachable without identity
	// (login and error pages).
	IsPublicPath(path string) bool

	// ErrorPage is where rejected clients are redirected; empty means the
	// dispatcher answers directly.
	ErrorPage() string

	// RequiresLoginService reports whether Validate fails without one.
	RequiresLoginService() bool
}

// targetURI returns the request's path and query if it is safe to redirect
// back to after login.
func targetURI(r *http.Request) string {
	if r.Method != http.MethodGet {
		return ""
	}
	return safeTarget(r.URL.RequestURI())
}

// safeTarget accepts only same-origin absolute paths.
func safeTarget(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return target
}

func orDefault(target, def string) string {
	if target == "" {
		return def
	}
	return target
}
