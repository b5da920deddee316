package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRoles(t *testing.T) {
	assert.Equal(t, []string{"admin", "user"}, NormalizeRoles([]string{"user", "", "admin", "user"}))
	assert.Empty(t, NormalizeRoles(nil))
}

func TestPrincipal_CloneIsDeep(t *testing.T) {
	p := &Principal{Subject: "123", Roles: []string{"user"}}
	cp := p.Clone()
	cp.Roles[0] = "admin"

	assert.True(t, p.HasRole("user"))
	assert.False(t, p.HasRole("admin"))
	assert.Nil(t, (*Principal)(nil).Clone())
}

func TestClaims_String(t *testing.T) {
	c := Claims{"sub": "123456789", "exp": 1700000000}
	assert.Equal(t, "123456789", c.Subject())
	assert.Equal(t, "", c.String("exp"))
	assert.Equal(t, "", Claims(nil).String("sub"))
}
