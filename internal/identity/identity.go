// Package identity holds the application-facing identity types shared by the
// authenticators, the session layer and request handlers.
package identity

import (
	"fmt"
	"sort"
)

// AnyRole is the role wildcard: any authenticated principal satisfies it.
const AnyRole = "**"

// Principal is the resolved identity of an authenticated client.
type Principal struct {
	Subject    string   `json:"sub"`
	Name       string   `json:"name,omitempty"`
	Email      string   `json:"email,omitempty"`
	Roles      []string `json:"roles,omitempty"`
	AuthMethod string   `json:"auth_method,omitempty"`
}

// HasRole reports whether role was granted directly to the principal.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Roles = append([]string(nil), p.Roles...)
	return &cp
}

// NormalizeRoles de-duplicates and sorts roles, dropping empty entries.
func NormalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Claims are provider-asserted attributes retained verbatim.
type Claims map[string]any

// String returns the claim as a string, or "" when absent or not a string.
func (c Claims) String(key string) string {
	if c == nil {
		return ""
	}
	switch v := c[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// Clone returns a shallow copy of the top-level map.
func (c Claims) Clone() Claims {
	if c == nil {
		return nil
	}
	cp := make(Claims, len(c))
	for k, v := range c {
		cp[k] = v
	}
	return cp
}

// Subject returns the "sub" claim.
func (c Claims) Subject() string { return c.String("sub") }
