package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/terraconstructs/gridauth/internal/identity"
	"github.com/terraconstructs/gridauth/internal/session"
	"github.com/terraconstructs/gridauth/internal/telemetry"
)

// Result tells the host server what to do with a request. Exactly one of
// Proceed and Response is meaningful: when Proceed is true the request
// continues to the application with Principal (possibly nil) and Claims;
// otherwise Response must be sent as-is.
type Result struct {
	Proceed   bool
	Principal *identity.Principal
	Claims    identity.Claims
	Response  *Directive
}

func proceed(p *identity.Principal, claims identity.Claims) Result {
	return Result{Proceed: true, Principal: p, Claims: claims}
}

func respond(d *Directive) Result {
	return Result{Response: d}
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// AllowMissingDefault permits a registry without a "/*" mapping; paths
	// it does not cover proceed only when the constraints allow anonymous
	// access.
	AllowMissingDefault bool
	Metrics             *telemetry.AuthMetrics
}

// Dispatcher is the per-request entry point. It is immutable after
// construction and safe for concurrent use.
type Dispatcher struct {
	registry       *Registry
	constraints    *ConstraintEnforcer
	identities     IdentityStore
	metrics        *telemetry.AuthMetrics
	authenticators []Authenticator
}

// NewDispatcher validates the configuration and freezes the registry.
func NewDispatcher(registry *Registry, constraints *ConstraintEnforcer, opts DispatcherOptions) (*Dispatcher, error) {
	if registry == nil || constraints == nil {
		return nil, fmt.Errorf("%w: registry and constraints are required", ErrConfig)
	}
	if !registry.HasDefault() && !opts.AllowMissingDefault {
		return nil, fmt.Errorf("%w: %w: no default (/*) mapping", ErrConfig, ErrNoAuthenticatorConfigured)
	}
	var authenticators []Authenticator
	seen := make(map[Authenticator]bool)
	for _, e := range registry.Entries() {
		a := e.Authenticator
		if !seen[a] {
			seen[a] = true
			authenticators = append(authenticators, a)
		}
		if a.RequiresLoginService() && e.LoginService == nil {
			return nil, fmt.Errorf("%w: %s authenticator at %s has no login service", ErrConfig, a.Method(), e.Pattern)
		}
		vp := a.ValidationPath()
		owner, err := registry.Resolve(vp)
		if err != nil || owner.Authenticator != a {
			return nil, fmt.Errorf("%w: validation path %s of %s authenticator at %s is not mapped to it", ErrConfig, vp, a.Method(), e.Pattern)
		}
	}
	registry.Freeze()

	return &Dispatcher{
		registry:       registry,
		constraints:    constraints,
		metrics:        opts.Metrics,
		authenticators: authenticators,
	}, nil
}

// Handle runs authentication and authorization for one request. A
// returned error is an infrastructure failure and maps to a 500.
func (d *Dispatcher) Handle(ctx context.Context, r *http.Request, sess *session.Handle) (Result, error) {
	path := r.URL.Path

	entry, err := d.registry.Resolve(path)
	if errors.Is(err, ErrNoAuthenticatorConfigured) {
		return d.unmapped(ctx, path, sess)
	}
	if err != nil {
		return Result{}, err
	}
	a := entry.Authenticator

	if a.IsValidationRequest(r) {
		return d.validate(ctx, r, sess, entry)
	}

	p, claims, err := d.currentIdentity(ctx, sess, entry)
	if err != nil {
		return Result{}, err
	}

	if d.isPublic(path) {
		return proceed(p, claims), nil
	}

	decision, err := d.constraints.Authorize(path, p)
	if err != nil {
		return Result{}, err
	}
	d.metrics.RecordDecision(ctx, decision.String())

	switch decision {
	case Allow:
		return proceed(p, claims), nil
	case DenyForbidden:
		return respond(Respond(http.StatusForbidden, "forbidden")), nil
	}

	out, err := a.Challenge(ctx, r, sess)
	if err != nil {
		return Result{}, err
	}
	switch out.Kind {
	case OutcomeChallenge:
		d.metrics.RecordChallenge(ctx, a.Method())
		return respond(out.Directive), nil
	case OutcomeAuthenticated:
		// Another request on this session completed a login meanwhile.
		return d.authorizeAgain(ctx, path, out)
	default:
		return respond(Respond(http.StatusUnauthorized, "unauthenticated")), nil
	}
}

// currentIdentity loads the session identity and lets the authenticator that
// produced it revalidate it. A dropped identity is returned as nil.
func (d *Dispatcher) currentIdentity(ctx context.Context, sess *session.Handle, entry *Entry) (*identity.Principal, identity.Claims, error) {
	p, claims, err := d.identities.Load(ctx, sess)
	if err != nil || p == nil {
		return nil, nil, err
	}
	owner := d.ownerOf(p, entry)
	if owner == nil {
		return p, claims, nil
	}
	ok, err := owner.Revalidate(ctx, sess, p, claims)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, nil
	}
	return p, claims, nil
}

// ownerOf finds the authenticator that produced p so that scheme-specific
// checks (OpenID token expiry) run even on paths mapped to another scheme.
// entry may be nil for unmapped paths.
func (d *Dispatcher) ownerOf(p *identity.Principal, entry *Entry) Authenticator {
	if entry != nil && (p.AuthMethod == "" || p.AuthMethod == entry.Authenticator.Method()) {
		return entry.Authenticator
	}
	if e, ok := d.registry.ByMethod(p.AuthMethod); ok {
		return e.Authenticator
	}
	if entry != nil {
		return entry.Authenticator
	}
	return nil
}

// isPublic reports whether any registered authenticator treats path as a
// login or error page, whichever authenticator the path resolves to.
func (d *Dispatcher) isPublic(path string) bool {
	for _, a := range d.authenticators {
		if a.IsPublicPath(path) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) authorizeAgain(ctx context.Context, path string, out Outcome) (Result, error) {
	decision, err := d.constraints.Authorize(path, out.Principal)
	if err != nil {
		return Result{}, err
	}
	if decision == Allow {
		return proceed(out.Principal, out.Claims), nil
	}
	return respond(Respond(http.StatusForbidden, "forbidden")), nil
}

func (d *Dispatcher) validate(ctx context.Context, r *http.Request, sess *session.Handle, entry *Entry) (Result, error) {
	a := entry.Authenticator
	ctx, span := telemetry.StartSpan(ctx, tracerName, "auth.Validate",
		attribute.String(telemetry.AttrAuthMethod, a.Method()),
		attribute.String(telemetry.AttrPathPattern, entry.Pattern.String()),
	)
	defer span.End()

	out, err := a.Validate(ctx, r, sess, entry.LoginService)
	if err != nil {
		telemetry.RecordError(span, err)
		d.metrics.RecordValidation(ctx, a.Method(), "error", "error")
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrAuthOutcome, out.Kind.String()),
		attribute.String(telemetry.AttrAuthReason, reasonName(out.Reason)),
	)
	d.metrics.RecordValidation(ctx, a.Method(), out.Kind.String(), reasonName(out.Reason))

	switch out.Kind {
	case OutcomeAuthenticated:
		if out.Directive != nil {
			return respond(out.Directive), nil
		}
		return proceed(out.Principal, out.Claims), nil
	case OutcomeRejected:
		log.Printf("auth: %s validation rejected path=%s reason=%s", a.Method(), r.URL.Path, reasonName(out.Reason))
		return respond(rejection(a, out.Reason)), nil
	case OutcomeChallenge:
		return respond(out.Directive), nil
	default:
		return respond(Respond(http.StatusUnauthorized, "unauthenticated")), nil
	}
}

// rejection maps a failed validation to a response. Details of the cause
// stay server-side.
func rejection(a Authenticator, reason error) *Directive {
	if page := a.ErrorPage(); page != "" {
		return Redirect(page)
	}
	if errors.Is(reason, ErrProviderError) {
		return Respond(http.StatusInternalServerError, "authentication failed")
	}
	return Respond(http.StatusForbidden, "forbidden")
}

// unmapped handles a path with no authenticator: it can only proceed
// anonymously.
func (d *Dispatcher) unmapped(ctx context.Context, path string, sess *session.Handle) (Result, error) {
	p, claims, err := d.currentIdentity(ctx, sess, nil)
	if err != nil {
		return Result{}, err
	}
	if d.isPublic(path) {
		return proceed(p, claims), nil
	}
	decision, err := d.constraints.Authorize(path, p)
	if err != nil {
		return Result{}, err
	}
	d.metrics.RecordDecision(ctx, decision.String())
	switch decision {
	case Allow:
		return proceed(p, claims), nil
	case DenyForbidden:
		return respond(Respond(http.StatusForbidden, "forbidden")), nil
	default:
		log.Printf("auth: no authenticator configured for protected path=%s", path)
		return respond(Respond(http.StatusInternalServerError, "no authenticator configured")), nil
	}
}

// Logout clears the session identity through the authenticator that
// produced it. The caller writes the response.
func (d *Dispatcher) Logout(ctx context.Context, r *http.Request, sess *session.Handle) error {
	p, err := d.identities.Get(ctx, sess)
	if err != nil {
		return err
	}
	var a Authenticator
	if p != nil {
		if e, ok := d.registry.ByMethod(p.AuthMethod); ok {
			a = e.Authenticator
		}
	}
	if a == nil {
		e, err := d.registry.Resolve(r.URL.Path)
		if err != nil {
			return d.identities.Invalidate(ctx, sess)
		}
		a = e.Authenticator
	}
	return a.Logout(ctx, sess)
}

// Identity returns the session's principal and claims for application code.
func (d *Dispatcher) Identity(ctx context.Context, sess *session.Handle) (*identity.Principal, identity.Claims, error) {
	return d.identities.Load(ctx, sess)
}
