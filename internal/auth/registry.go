package auth

import (
	"fmt"

	"github.com/terraconstructs/gridauth/internal/pathspec"
)

// Entry is one authenticator mapping. LoginService may be nil when the
// authenticator brings its own.
type Entry struct {
	Pattern       pathspec.Pattern
	Authenticator Authenticator
	LoginService  LoginService
}

// Registry maps path patterns to authenticators. It is written during
// startup and read-only once frozen.
type Registry struct {
	table  *pathspec.Table[*Entry]
	frozen bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{table: pathspec.NewTable[*Entry]()}
}

// Register maps pattern to authenticator. It fails with ErrConfig when the
// pattern is malformed or already registered, when the registry is frozen,
// or when pattern overlaps a pattern mapped to a different OpenID
// authenticator.
func (r *Registry) Register(pattern string, a Authenticator, ls LoginService) error {
	if r.frozen {
		return fmt.Errorf("%w: registry is frozen", ErrConfig)
	}
	if a == nil {
		return fmt.Errorf("%w: nil authenticator for %s", ErrConfig, pattern)
	}
	p, err := pathspec.Parse(pattern)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	if a.Method() == MethodOpenID {
		var conflict error
		r.table.Each(func(q pathspec.Pattern, e *Entry) {
			if conflict == nil && e.Authenticator.Method() == MethodOpenID && e.Authenticator != a && p.Overlaps(q) {
				conflict = fmt.Errorf("%w: openid mapping %s overlaps %s mapped to another openid authenticator", ErrConfig, p, q)
			}
		})
		if conflict != nil {
			return conflict
		}
	}

	if err := r.table.Add(pattern, &Entry{Pattern: p, Authenticator: a, LoginService: ls}); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

// Freeze ends registration.
func (r *Registry) Freeze() { r.frozen = true }

// Resolve returns the entry for the most specific pattern covering path.
func (r *Registry) Resolve(path string) (*Entry, error) {
	_, e, ok := r.table.Match(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAuthenticatorConfigured, path)
	}
	return e, nil
}

// HasDefault reports whether a "/*" mapping exists.
func (r *Registry) HasDefault() bool { return r.table.HasDefault() }

// Entries returns all mappings in precedence order.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, 0, r.table.Len())
	r.table.Each(func(_ pathspec.Pattern, e *Entry) {
		out = append(out, e)
	})
	return out
}

// ByMethod returns the first registered authenticator of the given method.
func (r *Registry) ByMethod(method string) (*Entry, bool) {
	for _, e := range r.Entries() {
		if e.Authenticator.Method() == method {
			return e, true
		}
	}
	return nil, false
}
