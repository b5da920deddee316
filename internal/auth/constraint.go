package auth

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/terraconstructs/gridauth/internal/identity"
	"github.com/terraconstructs/gridauth/internal/pathspec"
)

//go:embed constraint_model.conf
var constraintModel string

// Constraint is a role requirement attached to a path pattern. Roles
// containing identity.AnyRole accept any authenticated principal; empty
// Roles with AuthenticationRequired accept nobody.
type Constraint struct {
	Roles                  []string
	AuthenticationRequired bool
}

// ConstraintMapping attaches a Constraint to a pattern.
type ConstraintMapping struct {
	Pattern    string
	Constraint Constraint
}

// Decision is the result of an authorization check.
type Decision int

const (
	Allow Decision = iota
	DenyForbidden
	DenyUnauthenticated
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyForbidden:
		return "forbidden"
	case DenyUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// merged is the combined constraint of every mapping on one pattern.
type merged struct {
	required bool
	anyRole  bool
	hasRoles bool
}

// ConstraintEnforcer decides whether a principal may access a path. Its
// pattern table is independent of the authenticator registry.
type ConstraintEnforcer struct {
	table         *pathspec.Table[*merged]
	enforcer      *casbin.SyncedEnforcer
	defaultPolicy Decision
}

// EnforcerOption configures a ConstraintEnforcer.
type EnforcerOption func(*enforcerOptions)

type enforcerOptions struct {
	deny      bool
	hierarchy map[string][]string
}

// WithDefaultDeny makes paths without a constraint mapping forbidden.
func WithDefaultDeny(deny bool) EnforcerOption {
	return func(o *enforcerOptions) { o.deny = deny }
}

// WithRoleHierarchy declares that holding a role implies the listed roles.
func WithRoleHierarchy(h map[string][]string) EnforcerOption {
	return func(o *enforcerOptions) { o.hierarchy = h }
}

// NewConstraintEnforcer builds an enforcer from mappings. Mappings that
// share a pattern are merged: their roles are united and authentication is
// required if any of them requires it.
func NewConstraintEnforcer(mappings []ConstraintMapping, opts ...EnforcerOption) (*ConstraintEnforcer, error) {
	var o enforcerOptions
	for _, opt := range opts {
		opt(&o)
	}

	m, err := model.NewModelFromString(constraintModel)
	if err != nil {
		return nil, fmt.Errorf("parse constraint model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	ce := &ConstraintEnforcer{
		table:    pathspec.NewTable[*merged](),
		enforcer: enforcer,
	}
	if o.deny {
		ce.defaultPolicy = DenyForbidden
	}

	for _, cm := range mappings {
		p, err := pathspec.Parse(cm.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: constraint: %w", ErrConfig, err)
		}
		mc, ok := ce.table.Lookup(cm.Pattern)
		if !ok {
			mc = &merged{}
			if err := ce.table.Add(cm.Pattern, mc); err != nil {
				return nil, fmt.Errorf("%w: constraint: %w", ErrConfig, err)
			}
		}
		mc.required = mc.required || cm.Constraint.AuthenticationRequired
		for _, role := range cm.Constraint.Roles {
			switch role {
			case "":
				continue
			case identity.AnyRole:
				mc.anyRole = true
			default:
				mc.hasRoles = true
				if _, err := enforcer.AddPolicy(role, p.String()); err != nil {
					return nil, fmt.Errorf("add constraint policy: %w", err)
				}
			}
		}
	}

	for role, implied := range o.hierarchy {
		for _, r := range implied {
			if _, err := enforcer.AddGroupingPolicy(role, r); err != nil {
				return nil, fmt.Errorf("add role hierarchy: %w", err)
			}
		}
	}
	return ce, nil
}

// Authorize decides whether p (nil when unauthenticated) may access path.
func (ce *ConstraintEnforcer) Authorize(path string, p *identity.Principal) (Decision, error) {
	pattern, mc, ok := ce.table.Match(path)
	if !ok {
		return ce.defaultPolicy, nil
	}
	if !mc.required {
		return Allow, nil
	}
	if p == nil {
		return DenyUnauthenticated, nil
	}
	if mc.anyRole {
		return Allow, nil
	}
	if !mc.hasRoles {
		return DenyForbidden, nil
	}

	for _, role := range p.Roles {
		ok, err := ce.enforcer.Enforce(role, pattern.String())
		if err != nil {
			return DenyForbidden, fmt.Errorf("evaluate constraint: %w", err)
		}
		if ok {
			return Allow, nil
		}
	}
	return DenyForbidden, nil
}

// DefaultPolicy returns the decision for paths no mapping covers.
func (ce *ConstraintEnforcer) DefaultPolicy() Decision { return ce.defaultPolicy }
