package idp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	jose "gopkg.in/go-jose/go-jose.v2"
)

// fakeProvider serves the OIDC endpoints the client needs: token and certs.
type fakeProvider struct {
	key    *rsa.PrivateKey
	server *httptest.Server
	client *Client
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("key generation error: %v", err)
	}
	p := &fakeProvider{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/protocol/openid-connect/certs", func(w http.ResponseWriter, r *http.Request) {
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     "test-key",
			Algorithm: "RS256",
			Use:       "sig",
		}}}
		_ = json.NewEncoder(w).Encode(set)
	})
	mux.HandleFunc("/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-123",
			"token_type":   "bearer",
			"expires_in":   300,
			"id_token":     p.mintIDToken(t, "alice", time.Now().Add(time.Hour)),
		})
	})
	mux.HandleFunc("/protocol/openid-connect/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sub": "alice", "email": "alice@example.com"})
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)

	p.client = NewClient(Config{
		IssuerURL:    p.server.URL,
		ClientID:     "riskgate",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/callback",
	})
	return p
}

func (p *fakeProvider) mintIDToken(t *testing.T, subject string, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": p.server.URL,
		"aud": "riskgate",
		"exp": expiresAt.Unix(),
		"iat": time.Now().Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "test-key"
	signed, err := tok.SignedString(p.key)
	if err != nil {
		t.Fatalf("signing error: %v", err)
	}
	return signed
}

func TestExchangeValidatesIDToken(t *testing.T) {
	p := newFakeProvider(t)

	tok, err := p.client.Exchange(context.Background(), "code-abc")
	if err != nil {
		t.Fatalf("exchange error: %v", err)
	}
	if tok.AccessToken != "at-123" {
		t.Fatalf("unexpected access token %q", tok.AccessToken)
	}
}

func TestValidateRejectsWrongAudience(t *testing.T) {
	p := newFakeProvider(t)

	claims := jwt.MapClaims{
		"sub": "alice",
		"iss": p.server.URL,
		"aud": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "test-key"
	signed, err := tok.SignedString(p.key)
	if err != nil {
		t.Fatalf("signing error: %v", err)
	}

	if _, err := p.client.Validate(context.Background(), signed); err == nil {
		t.Fatal("expected audience validation to fail")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	p := newFakeProvider(t)
	expired := p.mintIDToken(t, "alice", time.Now().Add(-time.Hour))
	if _, err := p.client.Validate(context.Background(), expired); err == nil {
		t.Fatal("expected expiry validation to fail")
	}
}

func TestValidateRejectsForeignKey(t *testing.T) {
	p := newFakeProvider(t)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("key generation error: %v", err)
	}
	claims := jwt.MapClaims{
		"sub": "alice",
		"iss": p.server.URL,
		"aud": "riskgate",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "test-key"
	signed, err := tok.SignedString(other)
	if err != nil {
		t.Fatalf("signing error: %v", err)
	}

	if _, err := p.client.Validate(context.Background(), signed); err == nil {
		t.Fatal("expected signature validation to fail")
	}
}

func TestUserInfo(t *testing.T) {
	p := newFakeProvider(t)

	tok, err := p.client.Exchange(context.Background(), "code-abc")
	if err != nil {
		t.Fatalf("exchange error: %v", err)
	}
	info, err := p.client.UserInfo(context.Background(), tok)
	if err != nil {
		t.Fatalf("userinfo error: %v", err)
	}
	if info["sub"] != "alice" {
		t.Fatalf("unexpected userinfo %+v", info)
	}
}
