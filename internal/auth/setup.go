package auth

import (
	"context"
	"fmt"
	"log"

	"github.com/terraconstructs/gridauth/internal/config"
	"github.com/terraconstructs/gridauth/internal/telemetry"
)

// Dependencies are the collaborators NewDispatcherFromConfig wires into the
// authenticators. Users may be nil when no database is configured. Provider
// overrides the OpenID provider client built from configuration.
type Dependencies struct {
	Users    UserStore
	Provider Provider
	Metrics  *telemetry.AuthMetrics
}

// NewDispatcherFromConfig builds the registry, constraints and dispatcher
// described by cfg. One authenticator instance exists per method and is
// shared by every pattern mapped to that method.
func NewDispatcherFromConfig(ctx context.Context, cfg *config.Config, deps Dependencies) (*Dispatcher, error) {
	var users *UserLoginService
	if deps.Users != nil {
		users = NewUserLoginService(deps.Users)
	}

	var (
		form   *FormAuthenticator
		openid *OpenIDAuthenticator
		err    error
	)
	if cfg.Security.UsesMethod(MethodForm) {
		form, err = NewFormAuthenticator(FormOptions{
			LoginPage:     cfg.Form.LoginPage,
			ErrorPage:     cfg.Form.ErrorPage,
			CheckPath:     cfg.Form.CheckPath,
			UsernameParam: cfg.Form.UsernameParam,
			PasswordParam: cfg.Form.PasswordParam,
		})
		if err != nil {
			return nil, err
		}
	}
	if cfg.Security.UsesMethod(MethodOpenID) {
		provider := deps.Provider
		if provider == nil {
			provider, err = NewProviderFromConfig(ctx, cfg)
			if err != nil {
				return nil, err
			}
		}
		openid, err = NewOpenIDAuthenticator(OpenIDOptions{
			ClientID:                 cfg.OpenID.ClientID,
			RedirectURI:              cfg.OpenIDRedirectURI(),
			RedirectPath:             cfg.OpenID.RedirectPath,
			ErrorPage:                cfg.OpenID.ErrorPage,
			LogoutWhenIDTokenExpired: cfg.OpenID.LogoutWhenIDTokenExpired,
			Provider:                 provider,
			Metrics:                  deps.Metrics,
		})
		if err != nil {
			return nil, err
		}
	}

	registry := NewRegistry()
	for i, m := range cfg.Security.Authenticators {
		var a Authenticator
		switch m.Method {
		case MethodForm:
			a = form
		case MethodOpenID:
			a = openid
		default:
			return nil, fmt.Errorf("%w: authenticators[%d]: unknown method %q", ErrConfig, i, m.Method)
		}
		ls, err := loginServiceFor(m, cfg.OpenID, users)
		if err != nil {
			return nil, fmt.Errorf("authenticators[%d]: %w", i, err)
		}
		if err := registry.Register(m.Pattern, a, ls); err != nil {
			return nil, fmt.Errorf("authenticators[%d]: %w", i, err)
		}
	}

	mappings := make([]ConstraintMapping, 0, len(cfg.Security.Constraints))
	for _, c := range cfg.Security.Constraints {
		mappings = append(mappings, ConstraintMapping{
			Pattern: c.Pattern,
			Constraint: Constraint{
				Roles:                  c.Roles,
				AuthenticationRequired: c.AuthenticationRequired,
			},
		})
	}
	constraints, err := NewConstraintEnforcer(mappings,
		WithDefaultDeny(cfg.Security.DefaultPolicy == config.PolicyDeny),
		WithRoleHierarchy(cfg.Security.RoleHierarchy),
	)
	if err != nil {
		return nil, err
	}

	d, err := NewDispatcher(registry, constraints, DispatcherOptions{
		AllowMissingDefault: cfg.Security.AllowMissingDefault,
		Metrics:             deps.Metrics,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("auth: dispatcher ready authenticators=%d constraints=%d default_policy=%s",
		len(registry.Entries()), len(mappings), constraints.DefaultPolicy())
	return d, nil
}

func loginServiceFor(m config.AuthenticatorMapping, oc config.OpenIDConfig, users *UserLoginService) (LoginService, error) {
	switch {
	case m.LoginService == config.LoginServiceNone:
		return nil, nil
	case m.Method == MethodForm && m.LoginService == config.LoginServiceUsers:
		if users == nil {
			return nil, fmt.Errorf("%w: users login service needs a database", ErrConfig)
		}
		return users, nil
	case m.Method == MethodOpenID:
		ols := &OpenIDLoginService{
			GroupsClaim:          oc.GroupsClaim,
			GroupsClaimPath:      oc.GroupsClaimPath,
			GroupRoles:           oc.GroupRoles,
			AuthenticateNewUsers: oc.AuthenticateNewUsers,
		}
		if m.LoginService == config.LoginServiceUsers {
			if users == nil {
				return nil, fmt.Errorf("%w: users login service needs a database", ErrConfig)
			}
			ols.Roles = users
		}
		return ols, nil
	default:
		return nil, fmt.Errorf("%w: login service %q cannot back the %s method", ErrConfig, m.LoginService, m.Method)
	}
}

// NewProviderFromConfig selects the zitadel relying party for discovery
// issuers and the oauth2 client for explicit endpoints.
func NewProviderFromConfig(ctx context.Context, cfg *config.Config) (Provider, error) {
	if cfg.OpenID.UsesDiscovery() {
		return NewRelyingParty(ctx, cfg.OpenID, cfg.OpenIDRedirectURI())
	}
	return NewOAuth2Provider(cfg.OpenID, cfg.OpenIDRedirectURI()), nil
}
