package auth

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/terraconstructs/gridauth/internal/identity"
)

// standardClaims are the claims copied onto a Principal.
type standardClaims struct {
	Subject           string `mapstructure:"sub"`
	Name              string `mapstructure:"name"`
	PreferredUsername string `mapstructure:"preferred_username"`
	Email             string `mapstructure:"email"`
}

// PrincipalFromClaims derives a role-less principal from provider claims.
func PrincipalFromClaims(claims identity.Claims) (*identity.Principal, error) {
	var sc standardClaims
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &sc,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(map[string]any(claims)); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	if sc.Subject == "" {
		return nil, fmt.Errorf("claims have no subject")
	}

	name := sc.Name
	if name == "" {
		name = sc.PreferredUsername
	}
	return &identity.Principal{
		Subject: sc.Subject,
		Name:    name,
		Email:   sc.Email,
	}, nil
}

// ClaimsFromPrincipal produces the claim set exposed for identities that
// did not come from a provider.
func ClaimsFromPrincipal(p *identity.Principal) identity.Claims {
	c := identity.Claims{"sub": p.Subject}
	if p.Name != "" {
		c["name"] = p.Name
	}
	if p.Email != "" {
		c["email"] = p.Email
	}
	return c
}

// ExtractGroups handles both flat and nested group claims.
// Supports:
//   - Flat arrays: ["dev-team", "contractors"]
//   - Nested objects: [{"name": "dev-team", "type": "team"}] with claimPath="name"
func ExtractGroups(claims map[string]any, claimField string, claimPath string) ([]string, error) {
	rawValue, ok := claims[claimField]
	if !ok {
		return []string{}, nil
	}

	switch groups := rawValue.(type) {
	case []string:
		return groups, nil
	case []any:
		result := make([]string, 0, len(groups))
		for _, g := range groups {
			if str, ok := g.(string); ok {
				result = append(result, str)
			}
		}
		if len(result) > 0 || len(groups) == 0 {
			return result, nil
		}
	}

	if claimPath != "" {
		return extractNestedGroups(rawValue, claimPath)
	}
	return nil, fmt.Errorf("groups claim invalid format (expected []string or []object with path)")
}

// extractNestedGroups pulls a single-level field out of each group object.
func extractNestedGroups(rawValue any, path string) ([]string, error) {
	var objects []map[string]any
	if err := mapstructure.Decode(rawValue, &objects); err != nil {
		return nil, fmt.Errorf("failed to decode nested groups: %w", err)
	}

	result := make([]string, 0, len(objects))
	for _, obj := range objects {
		if val, ok := obj[path].(string); ok {
			result = append(result, val)
		}
	}
	return result, nil
}

// ClaimTime reads a NumericDate claim such as "exp".
func ClaimTime(claims identity.Claims, key string) (time.Time, bool) {
	var secs float64
	switch v := claims[key].(type) {
	case float64:
		secs = v
	case float32:
		secs = float64(v)
	case int:
		secs = float64(v)
	case int64:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	case time.Time:
		return v, true
	default:
		return time.Time{}, false
	}
	return time.Unix(int64(secs), 0), true
}
