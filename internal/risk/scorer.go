package risk

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/dhawalhost/riskgate/internal/behavior"
	"github.com/dhawalhost/riskgate/internal/token"
)

// Level buckets a numeric score for display and summary purposes.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// LevelFor maps a score onto a level.
func LevelFor(score float64) Level {
	switch {
	case score >= 70:
		return LevelHigh
	case score >= 40:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Factor is one named contribution to a score. Factors are reported
// individually so every decision is explainable in the audit trail.
type Factor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
}

// Context carries the request signals considered by the scorer. Absent
// signals default to their zero values, which only ever increase risk.
type Context struct {
	Location     string `json:"location,omitempty"`
	Device       string `json:"device,omitempty"`
	MFAVerified  bool   `json:"mfa_verified"`
	VPNConnected bool   `json:"vpn_connected"`
}

// LocationKnown reports whether the context carries a usable location.
func (c Context) LocationKnown() bool {
	return c.Location != "" && !strings.EqualFold(c.Location, "unknown")
}

// Config holds the scoring policy knobs.
type Config struct {
	// SensitivePrefixes mark high-value resource classes by prefix.
	SensitivePrefixes []string
	// HighRiskActions are matched case-insensitively.
	HighRiskActions []string
	// PrivilegedRoles are exempt from the sensitive-resource penalty on the
	// activity-logging path (their job is touching sensitive resources).
	PrivilegedRoles []string
	// RequireVPN adds a penalty when the caller is off-VPN.
	RequireVPN bool
	// NoiseMax bounds the additive variance term. Zero disables it, which
	// tests rely on for determinism. Must stay well below any threshold.
	NoiseMax float64
	// Rand is the variance source. Defaults to a time-seeded source.
	Rand *rand.Rand
}

// DefaultConfig mirrors the documented scoring policy.
func DefaultConfig() Config {
	return Config{
		SensitivePrefixes: []string{"/api/admin", "/api/sensitive-data", "/api/financial"},
		HighRiskActions:   []string{"delete", "update", "create", "download"},
		PrivilegedRoles:   []string{"admin", "manager"},
		RequireVPN:        true,
		NoiseMax:          20,
	}
}

// Scorer computes behavioral risk scores. Deterministic given identical
// inputs, except for the bounded variance term.
type Scorer struct {
	cfg Config

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewScorer creates a scorer from the given policy.
func NewScorer(cfg Config) *Scorer {
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scorer{cfg: cfg, rnd: rnd}
}

// Per-factor penalties. Each factor is individually capped; the final sum is
// capped at 100.
const (
	newPrincipalPenalty      = 30
	failedAttemptPenalty     = 10
	failedAttemptPenaltyCap  = 100
	sensitiveResourcePenalty = 40
	highRiskActionPenalty    = 30
	mfaMissingPenalty        = 15
	vpnDisconnectedPenalty   = 10
	unknownLocationPenalty   = 20
	newPrincipalLoginFloor   = 3
)

// Score computes the risk of a request in [0,100] together with its
// contributing factors.
func (s *Scorer) Score(id token.Identity, action, resource string, rctx Context, rec behavior.Record) (float64, []Factor) {
	var factors []Factor
	add := func(name string, contribution float64) {
		if contribution > 0 {
			factors = append(factors, Factor{Name: name, Contribution: contribution})
		}
	}

	if rec.LoginCount < newPrincipalLoginFloor {
		add("new_principal", newPrincipalPenalty)
	}
	if rec.FailedAttemptCount > 0 {
		p := float64(rec.FailedAttemptCount) * failedAttemptPenalty
		if p > failedAttemptPenaltyCap {
			p = failedAttemptPenaltyCap
		}
		add("failed_attempts", p)
	}
	if s.SensitiveResource(resource) {
		add("sensitive_resource", sensitiveResourcePenalty)
	}
	if s.highRiskAction(action) {
		add("high_risk_action", highRiskActionPenalty)
	}
	if !rctx.MFAVerified {
		add("mfa_missing", mfaMissingPenalty)
	}
	if s.cfg.RequireVPN && !rctx.VPNConnected {
		add("vpn_disconnected", vpnDisconnectedPenalty)
	}
	if !rctx.LocationKnown() {
		add("unknown_location", unknownLocationPenalty)
	}
	if s.cfg.NoiseMax > 0 {
		s.mu.Lock()
		noise := s.rnd.Float64() * s.cfg.NoiseMax
		s.mu.Unlock()
		add("variance", noise)
	}

	var score float64
	for _, f := range factors {
		score += f.Contribution
	}
	if score > 100 {
		score = 100
	}
	return score, factors
}

// ActionContribution is the score an action itself carries against a
// resource, independent of who performs it. Used when recording activity.
func (s *Scorer) ActionContribution(action, resource string) float64 {
	var c float64
	if s.SensitiveResource(resource) {
		c += sensitiveResourcePenalty
	}
	if s.highRiskAction(action) {
		c += highRiskActionPenalty
	}
	return c
}

// PrivilegedContribution is ActionContribution without the sensitive-resource
// penalty, applied to principals whose roles exempt them on the activity path.
func (s *Scorer) PrivilegedContribution(action, resource string) float64 {
	if s.highRiskAction(action) {
		return highRiskActionPenalty
	}
	return 0
}

// Privileged reports whether any of the roles is exempt from the
// sensitive-resource activity penalty.
func (s *Scorer) Privileged(roles []string) bool {
	for _, r := range roles {
		for _, p := range s.cfg.PrivilegedRoles {
			if r == p {
				return true
			}
		}
	}
	return false
}

// SensitiveResource reports whether the resource class matches a configured
// sensitive prefix.
func (s *Scorer) SensitiveResource(resource string) bool {
	for _, p := range s.cfg.SensitivePrefixes {
		if strings.HasPrefix(resource, p) {
			return true
		}
	}
	return false
}

func (s *Scorer) highRiskAction(action string) bool {
	for _, a := range s.cfg.HighRiskActions {
		if strings.EqualFold(action, a) {
			return true
		}
	}
	return false
}
