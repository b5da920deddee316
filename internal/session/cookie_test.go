package session

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTransport() *CookieTransport {
	return NewCookieTransport(CookieConfig{
		HashKey:  bytes.Repeat([]byte("h"), 32),
		BlockKey: bytes.Repeat([]byte("b"), 32),
	})
}

func TestCookieTransport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	transport := testTransport()
	m := NewManager(NewMemoryStore(8, time.Hour), time.Hour)

	h := m.Open("")
	require.NoError(t, h.Update(ctx, func(r *Record) error { return nil }))

	rr := httptest.NewRecorder()
	w := transport.Wrap(rr, h)
	w.WriteHeader(http.StatusNoContent)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultCookieName, cookies[0].Name)
	assert.NotEqual(t, h.ID(), cookies[0].Value, "cookie value must not expose the raw id")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	assert.Equal(t, h.ID(), transport.Read(req))
}

func TestCookieTransport_TamperedCookieIgnored(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "forged"})
	assert.Empty(t, testTransport().Read(req))
}

func TestCookieTransport_UnchangedWritesNothing(t *testing.T) {
	transport := testTransport()
	m := NewManager(NewMemoryStore(8, time.Hour), time.Hour)

	rr := httptest.NewRecorder()
	w := transport.Wrap(rr, m.Open("existing"))
	_, err := w.Write([]byte("ok"))
	require.NoError(t, err)
	assert.Empty(t, rr.Result().Cookies())
}

func TestCookieTransport_InvalidateDeletesCookie(t *testing.T) {
	ctx := context.Background()
	transport := testTransport()
	m := NewManager(NewMemoryStore(8, time.Hour), time.Hour)

	h := m.Open("")
	require.NoError(t, h.Update(ctx, func(r *Record) error { return nil }))
	presented := m.Open(h.ID())
	require.NoError(t, presented.Invalidate(ctx))

	rr := httptest.NewRecorder()
	w := transport.Wrap(rr, presented)
	Finish(w)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].MaxAge < 0 || cookies[0].Value == "")
}
