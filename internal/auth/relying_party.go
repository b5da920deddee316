package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"golang.org/x/oauth2"

	"github.com/terraconstructs/gridauth/internal/config"
	"github.com/terraconstructs/gridauth/internal/identity"
)

// RelyingParty is the Provider for issuers that publish a discovery
// document. It wraps the zitadel/oidc RelyingParty, which verifies the ID
// token signature, issuer, audience and expiry during the code exchange.
type RelyingParty struct {
	rp          rp.RelyingParty
	redirectURI string
}

var _ Provider = (*RelyingParty)(nil)

// NewRelyingParty performs discovery against cfg.Issuer.
func NewRelyingParty(ctx context.Context, cfg config.OpenIDConfig, redirectURI string) (*RelyingParty, error) {
	options := []rp.Option{
		rp.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}

	relyingParty, err := rp.NewRelyingPartyOIDC(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret, redirectURI,
		cfg.Scopes, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC relying party: %w", err)
	}

	return &RelyingParty{rp: relyingParty, redirectURI: redirectURI}, nil
}

// AuthorizationURL returns the URL for the authorization endpoint. The
// client id and redirect URI are fixed when the relying party is created;
// the arguments are ignored.
func (r *RelyingParty) AuthorizationURL(_, _, state string) string {
	return rp.AuthURL(state, r.rp)
}

// ExchangeCode exchanges an authorization code for verified ID token claims.
func (r *RelyingParty) ExchangeCode(ctx context.Context, code, redirectURI string) (identity.Claims, error) {
	if redirectURI != r.redirectURI {
		return nil, &ProviderError{Code: "invalid_request", Err: fmt.Errorf("redirect uri %q not configured", redirectURI)}
	}
	tokens, err := rp.CodeExchange[*oidc.IDTokenClaims](ctx, code, r.rp)
	if err != nil {
		return nil, &ProviderError{Code: oauth2ErrorCode(err), Err: err}
	}
	if tokens.IDTokenClaims == nil {
		return nil, &ProviderError{Code: "invalid_token", Err: errors.New("token response has no id token")}
	}
	return claimsFromJSON(tokens.IDTokenClaims)
}

// claimsFromJSON flattens a typed claims struct, including provider-specific
// extra claims, into a Claims map.
func claimsFromJSON(v any) (identity.Claims, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &ProviderError{Code: "invalid_token", Err: fmt.Errorf("encode claims: %w", err)}
	}
	claims := identity.Claims{}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, &ProviderError{Code: "invalid_token", Err: fmt.Errorf("decode claims: %w", err)}
	}
	return claims, nil
}

// oauth2ErrorCode extracts the RFC 6749 error code from a token endpoint
// failure.
func oauth2ErrorCode(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return re.ErrorCode
	}
	return ""
}

// generateRandomBytes creates a slice of random bytes of a specified size.
func generateRandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	_, err := io.ReadFull(rand.Reader, b)
	if err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// GenerateNonce generates a random state value.
func GenerateNonce() (string, error) {
	b, err := generateRandomBytes(32)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
