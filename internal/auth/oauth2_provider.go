package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	jwtx "github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/terraconstructs/gridauth/internal/config"
	"github.com/terraconstructs/gridauth/internal/identity"
)

// OAuth2Provider is the Provider for deployments that configure the
// authorization and token endpoints explicitly instead of an issuer with a
// discovery document. ID tokens are expected to be HS256-signed with the
// client secret; without an ID token the userinfo endpoint is queried with
// the access token.
type OAuth2Provider struct {
	cfg         oauth2.Config
	issuer      string
	userinfoURL string
	client      *http.Client
}

var _ Provider = (*OAuth2Provider)(nil)

// NewOAuth2Provider creates a provider from explicit endpoints.
func NewOAuth2Provider(cfg config.OpenIDConfig, redirectURI string) *OAuth2Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OAuth2Provider{
		cfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizationEndpoint,
				TokenURL: cfg.TokenEndpoint,
			},
			RedirectURL: redirectURI,
			Scopes:      cfg.Scopes,
		},
		issuer:      cfg.Issuer,
		userinfoURL: cfg.UserinfoEndpoint,
		client:      &http.Client{Timeout: timeout},
	}
}

// AuthorizationURL builds the authorization request.
func (p *OAuth2Provider) AuthorizationURL(clientID, redirectURI, state string) string {
	c := p.cfg
	c.ClientID = clientID
	c.RedirectURL = redirectURI
	return c.AuthCodeURL(state)
}

// ExchangeCode redeems code at the token endpoint and verifies the ID token.
func (p *OAuth2Provider) ExchangeCode(ctx context.Context, code, redirectURI string) (identity.Claims, error) {
	c := p.cfg
	c.RedirectURL = redirectURI
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := c.Exchange(ctx, code)
	if err != nil {
		return nil, &ProviderError{Code: oauth2ErrorCode(err), Err: fmt.Errorf("token exchange: %w", err)}
	}

	if raw, ok := token.Extra("id_token").(string); ok && raw != "" {
		return p.verifyIDToken(raw)
	}
	if p.userinfoURL == "" {
		return nil, &ProviderError{Code: "invalid_token", Err: errors.New("token response has no id token")}
	}
	return p.userinfo(ctx, token)
}

func (p *OAuth2Provider) verifyIDToken(raw string) (identity.Claims, error) {
	opts := []jwtx.ParserOption{
		jwtx.WithValidMethods([]string{jwtx.SigningMethodHS256.Alg()}),
		jwtx.WithAudience(p.cfg.ClientID),
		jwtx.WithExpirationRequired(),
		jwtx.WithLeeway(30 * time.Second),
	}
	if p.issuer != "" {
		opts = append(opts, jwtx.WithIssuer(p.issuer))
	}

	claims := jwtx.MapClaims{}
	_, err := jwtx.ParseWithClaims(raw, claims, func(*jwtx.Token) (any, error) {
		return []byte(p.cfg.ClientSecret), nil
	}, opts...)
	if err != nil {
		return nil, &ProviderError{Code: "invalid_token", Err: fmt.Errorf("verify id token: %w", err)}
	}
	return identity.Claims(claims), nil
}

func (p *OAuth2Provider) userinfo(ctx context.Context, token *oauth2.Token) (identity.Claims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userinfoURL, nil)
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	token.SetAuthHeader(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Err: fmt.Errorf("userinfo: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &ProviderError{Code: "userinfo_failed", Err: fmt.Errorf("userinfo returned %s", resp.Status)}
	}
	claims := identity.Claims{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&claims); err != nil {
		return nil, &ProviderError{Code: "invalid_token", Err: fmt.Errorf("decode userinfo: %w", err)}
	}
	return claims, nil
}
