package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	jose "gopkg.in/go-jose/go-jose.v2"
)

// ErrInvalidToken is returned when an ID token fails signature or claim
// validation against the provider's published keys.
var ErrInvalidToken = errors.New("invalid token")

// Config describes an OpenID Connect provider realm.
type Config struct {
	// IssuerURL is the realm base, e.g. https://kc.example.com/realms/demo.
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes defaults to openid, profile, email.
	Scopes []string
}

// Client drives the authorization-code flow against an OIDC provider and
// validates the tokens it issues. Endpoints follow the standard provider
// layout under the issuer, so no discovery round-trip is needed at startup.
type Client struct {
	cfg        Config
	oauth      oauth2.Config
	httpClient *http.Client

	mu   sync.RWMutex
	jwks *jose.JSONWebKeySet
}

// NewClient creates an OIDC client for the configured realm.
func NewClient(cfg Config) *Client {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}
	return &Client{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.IssuerURL + "/protocol/openid-connect/auth",
				TokenURL: cfg.IssuerURL + "/protocol/openid-connect/token",
			},
		},
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthCodeURL returns the provider login URL for the given state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// LogoutURL returns the provider's front-channel logout URL.
func (c *Client) LogoutURL(redirectURI string) string {
	return fmt.Sprintf("%s/protocol/openid-connect/logout?client_id=%s&post_logout_redirect_uri=%s",
		c.cfg.IssuerURL, c.cfg.ClientID, redirectURI)
}

// Exchange redeems an authorization code for a token set and validates the
// ID token against the provider's signing keys.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	rawID, _ := tok.Extra("id_token").(string)
	if rawID == "" {
		return nil, fmt.Errorf("%w: no id_token in response", ErrInvalidToken)
	}
	if _, err := c.Validate(ctx, rawID); err != nil {
		return nil, err
	}
	return tok, nil
}

// Validate checks a token's signature against the provider JWKS and its
// issuer and audience claims, and returns the verified claims.
func (c *Client) Validate(ctx context.Context, raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithIssuer(c.cfg.IssuerURL),
		jwt.WithAudience(c.cfg.ClientID),
		jwt.WithExpirationRequired(),
	)
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return c.signingKey(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// UserInfo fetches the userinfo document for an access token.
func (c *Client) UserInfo(ctx context.Context, tok *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.IssuerURL+"/protocol/openid-connect/userinfo", nil)
	if err != nil {
		return nil, err
	}
	tok.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned %d", resp.StatusCode)
	}
	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return info, nil
}

// signingKey resolves a key ID against the cached JWKS, refetching once when
// the ID is unknown so key rotation is picked up without a restart.
func (c *Client) signingKey(ctx context.Context, kid string) (any, error) {
	c.mu.RLock()
	set := c.jwks
	c.mu.RUnlock()

	if set != nil {
		if keys := set.Key(kid); len(keys) > 0 {
			return keys[0].Key, nil
		}
	}

	set, err := c.fetchJWKS(ctx)
	if err != nil {
		return nil, err
	}
	keys := set.Key(kid)
	if len(keys) == 0 {
		return nil, fmt.Errorf("no key with id %q", kid)
	}
	return keys[0].Key, nil
}

func (c *Client) fetchJWKS(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.IssuerURL+"/protocol/openid-connect/certs", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}
	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.jwks = &set
	c.mu.Unlock()
	return &set, nil
}
