package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/terraconstructs/gridauth/internal/identity"
	"github.com/terraconstructs/gridauth/internal/session"
	"github.com/terraconstructs/gridauth/internal/telemetry"
)

const tracerName = "gridauth/auth"

// Provider is the client for an OpenID Connect provider. ExchangeCode
// returns verified ID token claims; any failure should be a *ProviderError.
// Timeouts and retries are the provider client's concern.
type Provider interface {
	AuthorizationURL(clientID, redirectURI, state string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (identity.Claims, error)
}

// OpenIDOptions configures an OpenIDAuthenticator.
type OpenIDOptions struct {
	ClientID     string
	RedirectURI  string
	RedirectPath string
	ErrorPage    string

	// LogoutWhenIDTokenExpired drops a session identity whose "exp" claim
	// has passed.
	LogoutWhenIDTokenExpired bool

	Provider Provider

	// LoginService maps verified claims to a principal unless the registry
	// entry supplies its own. With neither, the principal is built from the
	// claims directly and carries no roles.
	LoginService LoginService

	Metrics *telemetry.AuthMetrics
	Now     func() time.Time
}

// OpenIDAuthenticator runs the authorization code flow. The anti-forgery
// state lives in the session and is consumed before the code exchange, so
// of two callbacks carrying the same state at most one proceeds.
type OpenIDAuthenticator struct {
	opts       OpenIDOptions
	identities IdentityStore
}

var _ Authenticator = (*OpenIDAuthenticator)(nil)

// NewOpenIDAuthenticator creates an OpenID authenticator.
func NewOpenIDAuthenticator(opts OpenIDOptions) (*OpenIDAuthenticator, error) {
	switch {
	case opts.Provider == nil:
		return nil, fmt.Errorf("%w: openid provider is required", ErrConfig)
	case opts.ClientID == "":
		return nil, fmt.Errorf("%w: openid client id is required", ErrConfig)
	case safeTarget(opts.RedirectPath) == "":
		return nil, fmt.Errorf("%w: openid redirect path %q must be a local absolute path", ErrConfig, opts.RedirectPath)
	case opts.RedirectURI == "":
		return nil, fmt.Errorf("%w: openid redirect uri is required", ErrConfig)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &OpenIDAuthenticator{opts: opts}, nil
}

func (a *OpenIDAuthenticator) Method() string             { return MethodOpenID }
func (a *OpenIDAuthenticator) ValidationPath() string     { return a.opts.RedirectPath }
func (a *OpenIDAuthenticator) ErrorPage() string          { return a.opts.ErrorPage }
func (a *OpenIDAuthenticator) RequiresLoginService() bool { return false }

func (a *OpenIDAuthenticator) IsValidationRequest(r *http.Request) bool {
	return r.URL.Path == a.opts.RedirectPath
}

func (a *OpenIDAuthenticator) IsPublicPath(path string) bool {
	return a.opts.ErrorPage != "" && path == a.opts.ErrorPage
}

// Challenge returns the session's identity, or stores a fresh state and
// redirects to the provider's authorization endpoint.
func (a *OpenIDAuthenticator) Challenge(ctx context.Context, r *http.Request, sess *session.Handle) (Outcome, error) {
	p, claims, err := a.identities.Load(ctx, sess)
	if err != nil {
		return Outcome{}, err
	}
	if p != nil {
		ok, err := a.Revalidate(ctx, sess, p, claims)
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			return Authenticated(p, claims, nil), nil
		}
	}

	state, err := GenerateNonce()
	if err != nil {
		return Outcome{}, err
	}
	target := targetURI(r)
	err = sess.Update(ctx, func(rec *session.Record) error {
		rec.SetAttr(attrOpenIDState, state)
		if target != "" {
			rec.SetAttr(attrOpenIDTarget, target)
		} else {
			rec.DeleteAttr(attrOpenIDTarget)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("save openid state: %w", err)
	}

	return Challenge(Redirect(a.opts.Provider.AuthorizationURL(a.opts.ClientID, a.opts.RedirectURI, state))), nil
}

// Revalidate drops an identity whose ID token has expired when
// LogoutWhenIDTokenExpired is set.
func (a *OpenIDAuthenticator) Revalidate(ctx context.Context, sess *session.Handle, p *identity.Principal, claims identity.Claims) (bool, error) {
	if !a.idTokenExpired(p, claims) {
		return true, nil
	}
	log.Printf("auth: openid id token expired for sub=%s, re-authenticating", p.Subject)
	if err := a.identities.Invalidate(ctx, sess); err != nil {
		return false, err
	}
	return false, nil
}

// idTokenExpired applies only to identities this authenticator produced.
func (a *OpenIDAuthenticator) idTokenExpired(p *identity.Principal, claims identity.Claims) bool {
	if !a.opts.LogoutWhenIDTokenExpired || p.AuthMethod != MethodOpenID {
		return false
	}
	exp, ok := ClaimTime(claims, "exp")
	return ok && !a.opts.Now().Before(exp)
}

// Validate completes the redirect back from the provider.
func (a *OpenIDAuthenticator) Validate(ctx context.Context, r *http.Request, sess *session.Handle, ls LoginService) (Outcome, error) {
	q := r.URL.Query()

	if code := q.Get("error"); code != "" {
		// The state is still consumed so the callback cannot be replayed.
		if _, err := a.consumeState(ctx, sess, q.Get("state")); err != nil {
			if errors.Is(err, ErrStateMismatch) || errors.Is(err, ErrSessionExpired) {
				return Rejected(err), nil
			}
			return Outcome{}, err
		}
		perr := &ProviderError{Code: code, Err: errors.New(orDefault(q.Get("error_description"), "authorization denied"))}
		log.Printf("auth: openid provider error path=%s client_id=%s code=%s", r.URL.Path, a.opts.ClientID, code)
		return Rejected(perr), nil
	}

	target, err := a.consumeState(ctx, sess, q.Get("state"))
	if err != nil {
		if errors.Is(err, ErrStateMismatch) || errors.Is(err, ErrSessionExpired) {
			return Rejected(err), nil
		}
		return Outcome{}, err
	}

	code := q.Get("code")
	if code == "" {
		return Rejected(&ProviderError{Code: "invalid_request", Err: errors.New("callback has no authorization code")}), nil
	}

	claims, err := a.exchange(ctx, r, code)
	if err != nil {
		return Rejected(err), nil
	}

	p, err := a.principal(ctx, claims, ls)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return Rejected(err), nil
		}
		return Outcome{}, err
	}
	p.AuthMethod = MethodOpenID

	if err := sess.Rotate(ctx); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Rejected(ErrSessionExpired), nil
		}
		return Outcome{}, err
	}
	if err := a.identities.Set(ctx, sess, p, claims); err != nil {
		return Outcome{}, fmt.Errorf("store identity: %w", err)
	}
	return Authenticated(p, claims, Redirect(orDefault(target, "/"))), nil
}

// consumeState removes the pending state from the session if it equals got,
// returning the saved target. The compare and delete happen under the
// session lock.
func (a *OpenIDAuthenticator) consumeState(ctx context.Context, sess *session.Handle, got string) (string, error) {
	errMismatch := errors.New("no pending state")
	var target string
	err := sess.Update(ctx, func(rec *session.Record) error {
		want := rec.Attr(attrOpenIDState)
		if want == "" || got == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
			return errMismatch
		}
		target = safeTarget(rec.Attr(attrOpenIDTarget))
		rec.DeleteAttr(attrOpenIDState)
		rec.DeleteAttr(attrOpenIDTarget)
		return nil
	})
	if errors.Is(err, errMismatch) {
		if sess.Expired() {
			return "", ErrSessionExpired
		}
		return "", ErrStateMismatch
	}
	if err != nil {
		return "", fmt.Errorf("consume openid state: %w", err)
	}
	return target, nil
}

func (a *OpenIDAuthenticator) exchange(ctx context.Context, r *http.Request, code string) (identity.Claims, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "openid.ExchangeCode",
		attribute.String(telemetry.AttrClientID, a.opts.ClientID),
	)
	defer span.End()

	start := time.Now()
	claims, err := a.opts.Provider.ExchangeCode(ctx, code, a.opts.RedirectURI)
	if err == nil && claims.Subject() == "" {
		err = &ProviderError{Code: "invalid_token", Err: errors.New("id token has no subject")}
	}
	a.opts.Metrics.RecordExchange(ctx, float64(time.Since(start).Milliseconds()), err == nil)
	if err != nil {
		var perr *ProviderError
		if !errors.As(err, &perr) {
			err = &ProviderError{Err: err}
		}
		telemetry.RecordError(span, err)
		log.Printf("auth: openid code exchange failed path=%s client_id=%s code=%s: %v",
			r.URL.Path, a.opts.ClientID, providerErrorCode(err), errors.Unwrap(err))
		return nil, err
	}
	return claims, nil
}

func (a *OpenIDAuthenticator) principal(ctx context.Context, claims identity.Claims, ls LoginService) (*identity.Principal, error) {
	if ls == nil {
		ls = a.opts.LoginService
	}
	if ls == nil {
		return PrincipalFromClaims(claims)
	}
	return ls.Login(ctx, ClaimsCredentials{Claims: claims.Clone()})
}

func (a *OpenIDAuthenticator) Logout(ctx context.Context, sess *session.Handle) error {
	return a.identities.Invalidate(ctx, sess)
}
