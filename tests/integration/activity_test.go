//go:build integration

package integration

import (
	"net/http"
	"testing"
)

type activityResponse struct {
	Contribution float64 `json:"contribution"`
	RiskScore    float64 `json:"risk_score"`
	RiskLevel    string  `json:"risk_level"`
}

func TestActivityReportingAndScore(t *testing.T) {
	env := SetupTestEnv(t)
	env.SeedLogins(t, "frank", 10)

	client := NewHTTPClient(env.Server.URL, env.MintToken(t, "frank", "viewer")).
		WithSignals("hq", true, true)

	resp := client.Post(t, "/v1/risk/activity", map[string]any{
		"action":   "delete",
		"resource": "/api/financial/ledger",
	})
	AssertStatus(t, resp, http.StatusOK)
	var act activityResponse
	ReadJSON(t, resp, &act)
	if act.Contribution != 70 {
		t.Fatalf("expected sensitive + high-risk contribution of 70, got %v", act.Contribution)
	}

	resp = client.Get(t, "/v1/risk/score")
	AssertStatus(t, resp, http.StatusOK)
	var score struct {
		Subject   string  `json:"subject"`
		RiskScore float64 `json:"risk_score"`
		RiskLevel string  `json:"risk_level"`
	}
	ReadJSON(t, resp, &score)
	if score.Subject != "frank" {
		t.Fatalf("unexpected subject %q", score.Subject)
	}
	if score.RiskScore != 0 || score.RiskLevel != "low" {
		t.Fatalf("established principal with favorable signals should score 0, got %+v", score)
	}
}

func TestActivityPrivilegedExemption(t *testing.T) {
	env := SetupTestEnv(t)
	env.SeedLogins(t, "grace", 10)

	admin := NewHTTPClient(env.Server.URL, env.MintToken(t, "grace", "admin")).
		WithSignals("hq", true, true)
	resp := admin.Post(t, "/v1/risk/activity", map[string]any{
		"action":   "delete",
		"resource": "/api/financial/ledger",
	})
	AssertStatus(t, resp, http.StatusOK)
	var act activityResponse
	ReadJSON(t, resp, &act)
	if act.Contribution != 30 {
		t.Fatalf("expected the sensitive-resource penalty waived, got %v", act.Contribution)
	}
}

func TestMFAFlipsMediumSensitivityVerdict(t *testing.T) {
	env := SetupTestEnv(t)
	env.SeedLogins(t, "heidi", 10)

	// Off-VPN from an unknown location without MFA, a delete on a medium
	// sensitivity resource scores 75 and is denied.
	client := NewHTTPClient(env.Server.URL, env.MintToken(t, "heidi"))
	resp := client.Post(t, "/v1/authz/check", map[string]any{
		"resource": "/api/meetings/42",
		"action":   "delete",
	})
	AssertStatus(t, resp, http.StatusOK)
	var body checkResponse
	ReadJSON(t, resp, &body)
	if body.Allowed || body.Reason != "RISK_THRESHOLD_EXCEEDED" {
		t.Fatalf("expected risk denial without MFA, got %+v", body)
	}

	// Asserting MFA removes its penalty and brings the score down to the
	// medium threshold, which is inclusive.
	client.Headers["X-MFA-Verified"] = "true"
	resp = client.Post(t, "/v1/authz/check", map[string]any{
		"resource": "/api/meetings/42",
		"action":   "delete",
	})
	AssertStatus(t, resp, http.StatusOK)
	ReadJSON(t, resp, &body)
	if !body.Allowed {
		t.Fatalf("expected allow with MFA, got %+v", body)
	}
}
