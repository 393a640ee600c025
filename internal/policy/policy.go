package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dhawalhost/riskgate/internal/risk"
)

// Sensitivity classifies a resource class and drives its risk threshold.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// Threshold is the maximum tolerated risk score for the sensitivity class.
func (s Sensitivity) Threshold() float64 {
	switch s {
	case SensitivityHigh:
		return 40
	case SensitivityMedium:
		return 60
	default:
		return 80
	}
}

// ResourcePolicy is the static policy for one resource class. Empty
// RequiredRoles means any authenticated identity may pass the role check.
type ResourcePolicy struct {
	ResourceClass string      `json:"resource_class" validate:"required"`
	Sensitivity   Sensitivity `json:"sensitivity" validate:"required,oneof=low medium high"`
	RequiredRoles []string    `json:"required_roles,omitempty"`
}

// Reason is the machine-readable explanation attached to every decision.
type Reason string

const (
	ReasonOK                    Reason = "OK"
	ReasonExpiredToken          Reason = "EXPIRED_TOKEN"
	ReasonMissingRole           Reason = "MISSING_ROLE"
	ReasonRiskThresholdExceeded Reason = "RISK_THRESHOLD_EXCEEDED"
	ReasonResourceUnknown       Reason = "RESOURCE_UNKNOWN"
	ReasonUpstreamUnavailable   Reason = "UPSTREAM_UNAVAILABLE"
)

// Retryable reports whether the caller may retry the same request and expect
// a different outcome. Only upstream unavailability qualifies.
func (r Reason) Retryable() bool {
	return r == ReasonUpstreamUnavailable
}

// Decision is the verdict for one request. Immutable once constructed and
// never cached across requests; context signals change every call.
type Decision struct {
	Allowed   bool          `json:"allowed"`
	Reason    Reason        `json:"reason"`
	RiskScore float64       `json:"risk_score"`
	RiskLevel risk.Level    `json:"risk_level"`
	Factors   []risk.Factor `json:"factors,omitempty"`
}

// Registry holds the statically configured resource policies. Not mutated at
// runtime, so lookups need no locking.
type Registry struct {
	// byClass for exact matches, prefixes for longest-prefix fallback,
	// longest first.
	byClass  map[string]ResourcePolicy
	prefixes []ResourcePolicy
}

// NewRegistry builds a registry from a policy table.
func NewRegistry(policies []ResourcePolicy) *Registry {
	r := &Registry{byClass: make(map[string]ResourcePolicy, len(policies))}
	for _, p := range policies {
		r.byClass[p.ResourceClass] = p
		r.prefixes = append(r.prefixes, p)
	}
	sort.SliceStable(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].ResourceClass) > len(r.prefixes[j].ResourceClass)
	})
	return r
}

// Lookup resolves the policy governing a resource: exact class match first,
// then longest registered prefix. Unknown resources resolve to nothing and
// the decision point fails closed.
func (r *Registry) Lookup(resource string) (ResourcePolicy, bool) {
	if p, ok := r.byClass[resource]; ok {
		return p, true
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(resource, p.ResourceClass) {
			return p, true
		}
	}
	return ResourcePolicy{}, false
}

// Classes returns the registered resource classes.
func (r *Registry) Classes() []string {
	classes := make([]string, 0, len(r.byClass))
	for c := range r.byClass {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes
}

// LoadPolicies reads and validates a policy table from a JSON file.
func LoadPolicies(path string) ([]ResourcePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var policies []ResourcePolicy
	if err := json.Unmarshal(data, &policies); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if len(policies) == 0 {
		return nil, fmt.Errorf("policy file %s contains no policies", path)
	}

	v := validator.New()
	for i, p := range policies {
		if err := v.Struct(p); err != nil {
			return nil, fmt.Errorf("policy %d (%s): %w", i, p.ResourceClass, err)
		}
	}
	return policies, nil
}

// DefaultPolicies is the built-in policy table used when no file is
// configured.
func DefaultPolicies() []ResourcePolicy {
	return []ResourcePolicy{
		{ResourceClass: "/api/admin", Sensitivity: SensitivityHigh, RequiredRoles: []string{"admin"}},
		{ResourceClass: "/api/sensitive-data", Sensitivity: SensitivityHigh, RequiredRoles: []string{"admin", "manager"}},
		{ResourceClass: "/api/financial", Sensitivity: SensitivityHigh, RequiredRoles: []string{"admin", "manager"}},
		{ResourceClass: "/api/audit", Sensitivity: SensitivityMedium, RequiredRoles: []string{"admin", "auditor"}},
		{ResourceClass: "/api/meetings", Sensitivity: SensitivityMedium},
		{ResourceClass: "/api/reports", Sensitivity: SensitivityLow},
		{ResourceClass: "/api/profile", Sensitivity: SensitivityLow},
	}
}
