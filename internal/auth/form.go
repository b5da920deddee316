package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/terraconstructs/gridauth/internal/identity"
	"github.com/terraconstructs/gridauth/internal/session"
)

// FormOptions configures a FormAuthenticator.
type FormOptions struct {
	LoginPage     string
	ErrorPage     string
	CheckPath     string
	UsernameParam string
	PasswordParam string

	// LoginService verifies submitted credentials unless the registry entry
	// supplies its own.
	LoginService LoginService
}

// FormAuthenticator redirects unauthenticated clients to a login page and
// accepts username/password submissions on its check path.
type FormAuthenticator struct {
	opts       FormOptions
	identities IdentityStore
}

var _ Authenticator = (*FormAuthenticator)(nil)

// NewFormAuthenticator creates a form authenticator. Empty options take the
// servlet-style defaults (/j_security_check, j_username, j_password).
func NewFormAuthenticator(opts FormOptions) (*FormAuthenticator, error) {
	opts.CheckPath = orDefault(opts.CheckPath, "/j_security_check")
	opts.UsernameParam = orDefault(opts.UsernameParam, "j_username")
	opts.PasswordParam = orDefault(opts.PasswordParam, "j_password")
	if opts.LoginPage == "" {
		return nil, fmt.Errorf("%w: form login page is required", ErrConfig)
	}
	for _, p := range []string{opts.LoginPage, opts.ErrorPage, opts.CheckPath} {
		if p != "" && safeTarget(p) == "" {
			return nil, fmt.Errorf("%w: form path %q must be a local absolute path", ErrConfig, p)
		}
	}
	return &FormAuthenticator{opts: opts}, nil
}

func (a *FormAuthenticator) Method() string             { return MethodForm }
func (a *FormAuthenticator) ValidationPath() string     { return a.opts.CheckPath }
func (a *FormAuthenticator) ErrorPage() string          { return a.opts.ErrorPage }
func (a *FormAuthenticator) RequiresLoginService() bool { return a.opts.LoginService == nil }

func (a *FormAuthenticator) IsValidationRequest(r *http.Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == a.opts.CheckPath
}

func (a *FormAuthenticator) IsPublicPath(path string) bool {
	return path == a.opts.LoginPage || (a.opts.ErrorPage != "" && path == a.opts.ErrorPage)
}

// Challenge returns the session's identity, or redirects to the login page
// after remembering where the client was going.
func (a *FormAuthenticator) Challenge(ctx context.Context, r *http.Request, sess *session.Handle) (Outcome, error) {
	p, claims, err := a.identities.Load(ctx, sess)
	if err != nil {
		return Outcome{}, err
	}
	if p != nil {
		return Authenticated(p, claims, nil), nil
	}

	if target := targetURI(r); target != "" {
		err := sess.Update(ctx, func(rec *session.Record) error {
			rec.SetAttr(attrFormTarget, target)
			return nil
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("save login target: %w", err)
		}
	}
	return Challenge(Redirect(a.opts.LoginPage)), nil
}

// Revalidate accepts any stored form identity; it lives as long as the session.
func (a *FormAuthenticator) Revalidate(context.Context, *session.Handle, *identity.Principal, identity.Claims) (bool, error) {
	return true, nil
}

// Validate checks submitted credentials and, on success, stores the
// principal in a rotated session and redirects to the saved target.
func (a *FormAuthenticator) Validate(ctx context.Context, r *http.Request, sess *session.Handle, ls LoginService) (Outcome, error) {
	if ls == nil {
		ls = a.opts.LoginService
	}
	if ls == nil {
		return Outcome{}, fmt.Errorf("%w: form authenticator has no login service", ErrConfig)
	}
	if err := r.ParseForm(); err != nil {
		return Rejected(fmt.Errorf("%w: malformed form", ErrInvalidCredentials)), nil
	}

	// Read before the credential check so that a concurrent login on the
	// same session makes the rotation below fail.
	rec, err := sess.Load(ctx)
	if err != nil {
		return Outcome{}, err
	}
	target := safeTarget(rec.Attr(attrFormTarget))

	p, err := ls.Login(ctx, PasswordCredentials{
		Username: r.PostForm.Get(a.opts.UsernameParam),
		Password: r.PostForm.Get(a.opts.PasswordParam),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return Rejected(err), nil
		}
		return Outcome{}, err
	}
	p.AuthMethod = MethodForm
	claims := ClaimsFromPrincipal(p)

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

func (a *FormAuthenticator) Logout(ctx context.Context, sess *session.Handle) error {
	return a.identities.Invalidate(ctx, sess)
}
