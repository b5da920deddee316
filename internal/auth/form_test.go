package auth

import (
	"context"
	"net/http"
	"sync"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/gridauth/internal/identity"
	"github.com/terraconstructs/gridauth/internal/session"
)

func aliceService() *countingLoginService {
	return &countingLoginService{
		username:  "alice",
		password:  "wonderland",
		principal: identity.Principal{Subject: "123456789", Name: "Alice", Email: "Alice@example.com", Roles: []string{"user"}},
	}
}

func TestFormAuthenticator_ChallengeSavesTarget(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	a := newTestForm(t, aliceService())
	sess := m.Open("")

	out, err := a.Challenge(ctx, httptest.NewRequest(http.MethodGet, "/reports/q1?year=2025", nil), sess)
	require.NoError(t, err)
	require.Equal(t, OutcomeChallenge, out.Kind)
	assert.Equal(t, http.StatusFound, out.Directive.Status)
	assert.Equal(t, "/signin", out.Directive.Header.Get("Location"))

	rec, err := sess.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "/reports/q1?year=2025", rec.Attr(attrFormTarget))
}

func TestFormAuthenticator_ChallengeWithoutTargetCreatesNoSession(t *testing.T) {
	m := newTestManager(t)
	a := newTestForm(t, aliceService())
	sess := m.Open("")

	out, err := a.Challenge(context.Background(), httptest.NewRequest(http.MethodPost, "/api/x", nil), sess)
	require.NoError(t, err)
	assert.Equal(t, OutcomeChallenge, out.Kind)
	assert.Empty(t, sess.ID())
}

func TestFormAuthenticator_Validate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	ls := aliceService()
	a := newTestForm(t, ls)

	sess := m.Open("")
	_, err := a.Challenge(ctx, httptest.NewRequest(http.MethodGet, "/profile", nil), sess)
	require.NoError(t, err)
	before := sess.ID()

	out, err := a.Validate(ctx, formRequest("/j_security_check", url.Values{
		"j_username": {"alice"},
		"j_password": {"wonderland"},
	}), sess, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeAuthenticated, out.Kind)
	assert.Equal(t, "/profile", out.Directive.Header.Get("Location"))
	assert.Equal(t, MethodForm, out.Principal.AuthMethod)
	assert.Equal(t, "Alice@example.com", out.Claims.String("email"))

	assert.NotEqual(t, before, sess.ID(), "session id is rotated on login")
	gone, err := m.Open(before).Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, gone)

	rec, err := sess.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec.Principal)
	assert.Equal(t, "123456789", rec.Principal.Subject)
	assert.Empty(t, rec.Attr(attrFormTarget))
}

func TestFormAuthenticator_ValidateRejects(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	a := newTestForm(t, aliceService())
	sess := m.Open("")

	out, err := a.Validate(ctx, formRequest("/j_security_check", url.Values{
		"j_username": {"alice"},
		"j_password": {"wrong"},
	}), sess, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeRejected, out.Kind)
	require.ErrorIs(t, out.Reason, ErrInvalidCredentials)
	assert.Empty(t, sess.ID())
}

func TestFormAuthenticator_EntryLoginServiceOverrides(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	own := aliceService()
	entry := aliceService()
	a := newTestForm(t, own)

	out, err := a.Validate(ctx, formRequest("/j_security_check", url.Values{
		"j_username": {"alice"},
		"j_password": {"wonderland"},
	}), m.Open(""), entry)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, out.Kind)
	assert.Equal(t, int32(0), own.calls.Load())
	assert.Equal(t, int32(1), entry.calls.Load())
}

func TestFormAuthenticator_ChallengeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	ls := aliceService()
	a := newTestForm(t, ls)
	sess := m.Open("")

	_, err := a.Validate(ctx, formRequest("/j_security_check", url.Values{
		"j_username": {"alice"},
		"j_password": {"wonderland"},
	}), sess, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		out, err := a.Challenge(ctx, httptest.NewRequest(http.MethodGet, "/", nil), sess)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAuthenticated, out.Kind)
		assert.Nil(t, out.Directive)
	}
	assert.Equal(t, int32(1), ls.calls.Load())
}

func TestFormAuthenticator_UnsafeTargetIgnored(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	a := newTestForm(t, aliceService())
	sess := m.Open("")

	require.NoError(t, sess.Update(ctx, func(rec *session.Record) error {
		rec.SetAttr(attrFormTarget, "//evil.example.com/")
		return nil
	}))
	out, err := a.Validate(ctx, formRequest("/j_security_check", url.Values{
		"j_username": {"alice"},
		"j_password": {"wonderland"},
	}), sess, nil)
	require.NoError(t, err)
	assert.Equal(t, "/", out.Directive.Header.Get("Location"))
}

func TestFormAuthenticator_Paths(t *testing.T) {
	a, err := NewFormAuthenticator(FormOptions{LoginPage: "/signin", ErrorPage: "/error"})
	require.NoError(t, err)

	assert.True(t, a.IsPublicPath("/signin"))
	assert.True(t, a.IsPublicPath("/error"))
	assert.False(t, a.IsPublicPath("/"))
	assert.True(t, a.RequiresLoginService())
	assert.Equal(t, "/j_security_check", a.ValidationPath())
	assert.True(t, a.IsValidationRequest(httptest.NewRequest(http.MethodPost, "/j_security_check", nil)))
	assert.False(t, a.IsValidationRequest(httptest.NewRequest(http.MethodGet, "/j_security_check", nil)))

	_, err = NewFormAuthenticator(FormOptions{})
	require.ErrorIs(t, err, ErrConfig)
	_, err = NewFormAuthenticator(FormOptions{LoginPage: "https://elsewhere/login"})
	require.ErrorIs(t, err, ErrConfig)
}

// barrierLoginService holds every caller until n logins are in flight.
type barrierLoginService struct {
	inner   LoginService
	arrived sync.WaitGroup
}

func newBarrierLoginService(inner LoginService, n int) *barrierLoginService {
	s := &barrierLoginService{inner: inner}
	s.arrived.Add(n)
	return s
}

func (s *barrierLoginService) Login(ctx context.Context, creds Credentials) (*identity.Principal, error) {
	s.arrived.Done()
	s.arrived.Wait()
	return s.inner.Login(ctx, creds)
}

func TestFormAuthenticator_ConcurrentValidate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	a := newTestForm(t, aliceService())

	first := m.Open("")
	_, err := a.Challenge(ctx, httptest.NewRequest(http.MethodGet, "/reports", nil), first)
	require.NoError(t, err)
	id := first.ID()

	const n = 4
	ls := newBarrierLoginService(aliceService(), n)
	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := formRequest("/j_security_check", url.Values{"j_username": {"alice"}, "j_password": {"wonderland"}})
			o, err := a.Validate(ctx, req, m.Open(id), ls)
			assert.NoError(t, err)
			outcomes[i] = o
		}(i)
	}
	wg.Wait()

	var authenticated, expired int
	for _, o := range outcomes {
		switch {
		case o.Kind == OutcomeAuthenticated:
			authenticated++
			assert.Equal(t, "/reports", o.Directive.Header.Get("Location"))
		case o.Kind == OutcomeRejected && assert.ErrorIs(t, o.Reason, ErrSessionExpired):
			expired++
		}
	}
	assert.Equal(t, 1, authenticated)
	assert.Equal(t, n-1, expired)
}
