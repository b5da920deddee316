package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityStore_SetStripsHandshakeAttrs(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	sess := m.Open("")

	_, err := newTestForm(t, aliceService()).Challenge(ctx, httptest.NewRequest(http.MethodGet, "/reports", nil), sess)
	require.NoError(t, err)
	rec, err := sess.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "/reports", rec.Attr(attrFormTarget))

	alice := aliceService().principal
	require.NoError(t, IdentityStore{}.Set(ctx, sess, alice.Clone(), aliceClaims()))

	rec, err = sess.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, rec.Attr(attrFormTarget))

	claims, err := IdentityStore{}.GetClaims(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "Alice", claims.String("name"))
}

func TestIdentityStore_ConcurrentInvalidate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	alice := aliceService().principal

	sess := m.Open("")
	require.NoError(t, IdentityStore{}.Set(ctx, sess, alice.Clone(), aliceClaims()))
	id := sess.ID()

	const readers = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 200; j++ {
				p, claims, err := IdentityStore{}.Load(ctx, m.Open(id))
				if !assert.NoError(t, err) {
					return
				}
				if p == nil {
					assert.Nil(t, claims, "claims outlived the principal")
				} else {
					assert.Equal(t, alice.Subject, p.Subject)
					assert.Equal(t, alice.Subject, claims.Subject())
				}

				p, err = IdentityStore{}.Get(ctx, m.Open(id))
				assert.NoError(t, err)
				if p != nil {
					assert.Equal(t, alice.Subject, p.Subject)
					assert.Equal(t, alice.Roles, p.Roles)
				}

				claims, err = IdentityStore{}.GetClaims(ctx, m.Open(id))
				assert.NoError(t, err)
				if claims != nil {
					assert.Equal(t, alice.Subject, claims.Subject())
					assert.Equal(t, "Alice@example.com", claims.String("email"))
				}
			}
		}()
	}
	close(start)
	require.NoError(t, IdentityStore{}.Invalidate(ctx, m.Open(id)))
	wg.Wait()

	p, claims, err := IdentityStore{}.Load(ctx, m.Open(id))
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Nil(t, claims)
}
