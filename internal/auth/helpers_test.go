package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/terraconstructs/gridauth/internal/identity"
	"github.com/terraconstructs/gridauth/internal/session"
)

func newTestManager(t *testing.T) *session.Manager {
	t.Helper()
	return session.NewManager(session.NewMemoryStore(128, time.Hour), 30*time.Minute)
}

// fakeProvider answers code exchanges from a fixed table.
type fakeProvider struct {
	mu        sync.Mutex
	claims    map[string]identity.Claims
	exchanges atomic.Int32
	// block, when set, is received from before each exchange returns.
	block chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{claims: map[string]identity.Claims{}}
}

func (f *fakeProvider) grant(code string, claims identity.Claims) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims[code] = claims
}

func (f *fakeProvider) AuthorizationURL(clientID, redirectURI, state string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("response_type", "code")
	return "https://idp.example.com/authorize?" + q.Encode()
}

func (f *fakeProvider) ExchangeCode(_ context.Context, code, _ string) (identity.Claims, error) {
	f.exchanges.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[code]
	if !ok {
		return nil, &ProviderError{Code: "invalid_grant", Err: errors.New("unknown code")}
	}
	return c.Clone(), nil
}

// countingLoginService accepts one username/password pair.
type countingLoginService struct {
	calls     atomic.Int32
	username  string
	password  string
	principal identity.Principal
}

func (s *countingLoginService) Login(_ context.Context, creds Credentials) (*identity.Principal, error) {
	s.calls.Add(1)
	switch c := creds.(type) {
	case PasswordCredentials:
		if c.Username != s.username || c.Password != s.password {
			return nil, ErrInvalidCredentials
		}
	case ClaimsCredentials:
		if c.Claims.Subject() == "" {
			return nil, ErrInvalidCredentials
		}
	}
	return s.principal.Clone(), nil
}

func stateFromLocation(t *testing.T, location string) string {
	t.Helper()
	u, err := url.Parse(location)
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	return u.Query().Get("state")
}

func formRequest(path string, values url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}
