package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenID(t *testing.T, provider Provider) *OpenIDAuthenticator {
	t.Helper()
	a, err := NewOpenIDAuthenticator(OpenIDOptions{
		ClientID:     "gridauth",
		RedirectURI:  "http://localhost/openid/auth",
		RedirectPath: "/openid/auth",
		Provider:     provider,
	})
	require.NoError(t, err)
	return a
}

func newTestForm(t *testing.T, ls LoginService) *FormAuthenticator {
	t.Helper()
	a, err := NewFormAuthenticator(FormOptions{
		LoginPage:    "/signin",
		LoginService: ls,
	})
	require.NoError(t, err)
	return a
}

func TestRegistry_Resolve(t *testing.T) {
	form := newTestForm(t, &countingLoginService{})
	oid := newTestOpenID(t, newFakeProvider())

	r := NewRegistry()
	require.NoError(t, r.Register("/*", form, nil))
	require.NoError(t, r.Register("/openid/*", oid, nil))
	require.NoError(t, r.Register("/login", oid, nil))

	tests := []struct {
		path    string
		pattern string
		method  string
	}{
		{"/", "/*", MethodForm},
		{"/login", "/login", MethodOpenID},
		{"/login/x", "/*", MethodForm},
		{"/openid/auth", "/openid/*", MethodOpenID},
		{"/openid", "/*", MethodForm},
		{"/openid/", "/openid/*", MethodOpenID},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e, err := r.Resolve(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.pattern, e.Pattern.String())
			assert.Equal(t, tt.method, e.Authenticator.Method())
		})
	}
}

func TestRegistry_RegisterErrors(t *testing.T) {
	form := newTestForm(t, &countingLoginService{})
	oidA := newTestOpenID(t, newFakeProvider())
	oidB := newTestOpenID(t, newFakeProvider())

	t.Run("duplicate pattern", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register("/app/*", form, nil))
		require.ErrorIs(t, r.Register("/app/*", form, nil), ErrConfig)
	})

	t.Run("invalid pattern", func(t *testing.T) {
		r := NewRegistry()
		require.ErrorIs(t, r.Register("/a/*/b", form, nil), ErrConfig)
	})

	t.Run("overlapping openid instances", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register("/openid/*", oidA, nil))
		require.ErrorIs(t, r.Register("/openid/auth", oidB, nil), ErrConfig)
		require.ErrorIs(t, r.Register("/*", oidB, nil), ErrConfig)
	})

	t.Run("disjoint openid instances", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register("/a/*", oidA, nil))
		require.NoError(t, r.Register("/b/*", oidB, nil))
	})

	t.Run("same openid instance overlaps freely", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register("/openid/*", oidA, nil))
		require.NoError(t, r.Register("/openid/auth", oidA, nil))
	})

	t.Run("frozen", func(t *testing.T) {
		r := NewRegistry()
		r.Freeze()
		require.ErrorIs(t, r.Register("/*", form, nil), ErrConfig)
	})
}

func TestRegistry_NoDefault(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("/app/*", newTestForm(t, &countingLoginService{}), nil))
	assert.False(t, r.HasDefault())

	_, err := r.Resolve("/other")
	require.ErrorIs(t, err, ErrNoAuthenticatorConfigured)
}

func TestRegistry_ByMethod(t *testing.T) {
	form := newTestForm(t, &countingLoginService{})
	oid := newTestOpenID(t, newFakeProvider())
	r := NewRegistry()
	require.NoError(t, r.Register("/*", form, nil))
	require.NoError(t, r.Register("/openid/*", oid, nil))

	e, ok := r.ByMethod(MethodOpenID)
	require.True(t, ok)
	assert.Same(t, oid, e.Authenticator)

	_, ok = r.ByMethod("saml")
	assert.False(t, ok)
}
