package mfa

import (
	"context"
	"errors"
	"sync"

	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

// ErrNotEnrolled is returned when a subject has no TOTP secret.
var ErrNotEnrolled = errors.New("subject not enrolled for totp")

// SecretStore holds per-subject TOTP secrets.
type SecretStore interface {
	Secret(ctx context.Context, subject string) (string, error)
	SetSecret(ctx context.Context, subject, secret string) error
}

// MemorySecretStore is the in-process secret store.
type MemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemorySecretStore creates an empty secret store.
func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{secrets: make(map[string]string)}
}

func (s *MemorySecretStore) Secret(_ context.Context, subject string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.secrets[subject]
	if !ok {
		return "", ErrNotEnrolled
	}
	return secret, nil
}

func (s *MemorySecretStore) SetSecret(_ context.Context, subject, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[subject] = secret
	return nil
}

// Verifier validates TOTP codes. Its result feeds the MFAVerified risk
// signal; verification failure is never an error to the decision path, just
// an unverified signal.
type Verifier struct {
	issuer  string
	secrets SecretStore
	logger  *zap.Logger
}

// NewVerifier creates a TOTP verifier.
func NewVerifier(issuer string, secrets SecretStore, logger *zap.Logger) *Verifier {
	if issuer == "" {
		issuer = "RiskGate"
	}
	return &Verifier{issuer: issuer, secrets: secrets, logger: logger}
}

// Enroll generates and stores a TOTP secret for the subject, returning the
// secret and its otpauth URL for authenticator apps.
func (v *Verifier) Enroll(ctx context.Context, subject string) (secret, otpauthURL string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.issuer,
		AccountName: subject,
	})
	if err != nil {
		return "", "", err
	}
	if err := v.secrets.SetSecret(ctx, subject, key.Secret()); err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// Verify reports whether the code is valid for the subject's secret. An
// unenrolled subject or a store failure yields false; the signal stays
// conservative.
func (v *Verifier) Verify(ctx context.Context, subject, code string) bool {
	if code == "" {
		return false
	}
	secret, err := v.secrets.Secret(ctx, subject)
	if err != nil {
		if !errors.Is(err, ErrNotEnrolled) {
			v.logger.Warn("totp secret lookup failed", zap.String("subject", subject), zap.Error(err))
		}
		return false
	}
	return totp.Validate(code, secret)
}
