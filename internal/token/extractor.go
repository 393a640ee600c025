package token

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingCredential is returned when no credential is supplied.
	ErrMissingCredential = errors.New("missing credential")
	// ErrMalformedCredential is returned when the credential cannot be decoded.
	ErrMalformedCredential = errors.New("malformed credential")
)

// Identity is the structured claim set extracted from a bearer credential.
// Expiry is surfaced as a field rather than an error so inspection paths can
// observe expired identities; the decision point owns the expiry check.
type Identity struct {
	Subject     string         `json:"subject"`
	DisplayName string         `json:"display_name,omitempty"`
	Roles       []string       `json:"roles"`
	IssuedAt    time.Time      `json:"issued_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Issuer      string         `json:"issuer,omitempty"`
	Audience    string         `json:"audience,omitempty"`
	RawClaims   map[string]any `json:"-"`
}

// Expired reports whether the identity's token has expired at the given time.
// A zero ExpiresAt counts as expired: a token without an expiry claim is never
// trusted.
func (id Identity) Expired(now time.Time) bool {
	return id.ExpiresAt.IsZero() || !id.ExpiresAt.After(now)
}

// HasAnyRole reports whether the identity holds at least one of the given roles.
func (id Identity) HasAnyRole(roles []string) bool {
	for _, want := range roles {
		for _, have := range id.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// FilterConfig controls which provider roles are stripped before policy
// evaluation. Housekeeping roles (offline session, UMA scaffolding, realm
// default-role bundles) carry no authorization meaning.
type FilterConfig struct {
	// DeniedRoles are removed by exact match.
	DeniedRoles []string
	// DeniedRolePrefixes are removed by prefix match.
	DeniedRolePrefixes []string
}

// DefaultFilterConfig matches the housekeeping roles Keycloak-style providers
// attach to every principal.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		DeniedRoles:        []string{"offline_access", "uma_authorization"},
		DeniedRolePrefixes: []string{"default-roles-"},
	}
}

// Extractor parses bearer credentials into identities. It performs no
// signature verification and no I/O; cryptographic validation is delegated to
// the identity provider client upstream.
type Extractor struct {
	filter FilterConfig
	parser *jwt.Parser
}

// NewExtractor creates an extractor with the given role filter.
func NewExtractor(filter FilterConfig) *Extractor {
	return &Extractor{
		filter: filter,
		parser: jwt.NewParser(),
	}
}

// Extract decodes a bearer credential into an Identity. A leading
// "Bearer " prefix is tolerated. The token's signature is not checked.
func (e *Extractor) Extract(credential string) (Identity, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer"))
	if credential == "" {
		return Identity{}, ErrMissingCredential
	}

	claims := jwt.MapClaims{}
	if _, _, err := e.parser.ParseUnverified(credential, claims); err != nil {
		return Identity{}, ErrMalformedCredential
	}

	id := Identity{RawClaims: map[string]any(claims)}

	if sub, err := claims.GetSubject(); err == nil {
		id.Subject = sub
	}
	if id.Subject == "" {
		// Some providers only set preferred_username.
		if v, ok := claims["preferred_username"].(string); ok {
			id.Subject = v
		}
	}
	if id.Subject == "" {
		return Identity{}, ErrMalformedCredential
	}

	if v, ok := claims["name"].(string); ok {
		id.DisplayName = v
	} else if v, ok := claims["preferred_username"].(string); ok {
		id.DisplayName = v
	}

	if iss, err := claims.GetIssuer(); err == nil {
		id.Issuer = iss
	}
	if aud, err := claims.GetAudience(); err == nil && len(aud) > 0 {
		id.Audience = aud[0]
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		id.IssuedAt = iat.Time
	}

	id.Roles = e.extractRoles(claims)
	return id, nil
}

// extractRoles gathers realm and per-client roles, deduplicates them and
// strips provider housekeeping roles.
func (e *Extractor) extractRoles(claims jwt.MapClaims) []string {
	seen := map[string]struct{}{}

	collect := func(block any) {
		m, ok := block.(map[string]any)
		if !ok {
			return
		}
		raw, ok := m["roles"].([]any)
		if !ok {
			return
		}
		for _, r := range raw {
			if s, ok := r.(string); ok && s != "" {
				seen[s] = struct{}{}
			}
		}
	}

	collect(claims["realm_access"])
	if clients, ok := claims["resource_access"].(map[string]any); ok {
		for _, block := range clients {
			collect(block)
		}
	}

	roles := make([]string, 0, len(seen))
	for r := range seen {
		if e.denied(r) {
			continue
		}
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

func (e *Extractor) denied(role string) bool {
	for _, d := range e.filter.DeniedRoles {
		if role == d {
			return true
		}
	}
	for _, p := range e.filter.DeniedRolePrefixes {
		if strings.HasPrefix(role, p) {
			return true
		}
	}
	return false
}
