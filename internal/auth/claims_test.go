package auth

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/gridauth/internal/identity"
)

func TestPrincipalFromClaims(t *testing.T) {
	p, err := PrincipalFromClaims(identity.Claims{
		"sub":                123456789,
		"preferred_username": "alice",
		"email":              "Alice@example.com",
		"email_verified":     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "123456789", p.Subject)
	assert.Equal(t, "alice", p.Name)
	assert.Equal(t, "Alice@example.com", p.Email)

	_, err = PrincipalFromClaims(identity.Claims{"name": "Alice"})
	require.Error(t, err)
}

func TestExtractGroups(t *testing.T) {
	tests := []struct {
		name   string
		claims map[string]any
		path   string
		want   []string
		err    bool
	}{
		{"absent", map[string]any{}, "", []string{}, false},
		{"flat strings", map[string]any{"groups": []string{"a", "b"}}, "", []string{"a", "b"}, false},
		{"flat any", map[string]any{"groups": []any{"a", "b"}}, "", []string{"a", "b"}, false},
		{"nested", map[string]any{"groups": []any{
			map[string]any{"name": "dev", "type": "team"},
			map[string]any{"name": "ops"},
		}}, "name", []string{"dev", "ops"}, false},
		{"nested without path", map[string]any{"groups": []any{map[string]any{"name": "dev"}}}, "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractGroups(tt.claims, "groups", tt.path)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClaimTime(t *testing.T) {
	want := time.Unix(1767225600, 0)
	for name, v := range map[string]any{
		"float64":     float64(1767225600),
		"int64":       int64(1767225600),
		"json number": json.Number("1767225600"),
	} {
		got, ok := ClaimTime(identity.Claims{"exp": v}, "exp")
		require.True(t, ok, name)
		assert.True(t, want.Equal(got), name)
	}

	_, ok := ClaimTime(identity.Claims{"exp": "soon"}, "exp")
	assert.False(t, ok)
}
