package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const defaultBaseURL = "http://localhost:8080"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "check":
		err = runCheck(os.Args[2:])
	case "permissions":
		err = runPermissions(os.Args[2:])
	case "score":
		err = runScore(os.Args[2:])
	case "activity":
		err = runActivity(os.Args[2:])
	case "audit":
		err = runAudit(os.Args[2:])
	case "security":
		err = runSecurity(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type commonFlags struct {
	baseURL  *string
	token    *string
	location *string
	mfa      *bool
	vpn      *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		baseURL:  fs.String("base-url", defaultBaseURL, "Decision service base URL"),
		token:    fs.String("token", os.Getenv("RISKGATE_TOKEN"), "Bearer token (defaults to RISKGATE_TOKEN)"),
		location: fs.String("location", "", "Asserted location signal"),
		mfa:      fs.Bool("mfa", false, "Assert the session is MFA-verified"),
		vpn:      fs.Bool("vpn", false, "Assert the client is on VPN"),
	}
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	cf := addCommonFlags(fs)
	resource := fs.String("resource", "", "Resource path, e.g. /api/admin/users")
	action := fs.String("action", "read", "Action to check")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *resource == "" {
		return fmt.Errorf("resource is required")
	}

	payload := map[string]any{"resource": *resource, "action": *action}
	body, status, err := doRequest(http.MethodPost, cf, "/v1/authz/check", payload)
	if err != nil && status != http.StatusOK && status != http.StatusServiceUnavailable {
		return err
	}

	var resp struct {
		Allowed   bool    `json:"allowed"`
		Reason    string  `json:"reason"`
		Retryable bool    `json:"retryable"`
		RiskScore float64 `json:"risk_score"`
		RiskLevel string  `json:"risk_level"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	verdict := "DENIED"
	if resp.Allowed {
		verdict = "ALLOWED"
	}
	fmt.Printf("%s %s %s: %s (%s)\n", verdict, *action, *resource, resp.Reason, resp.RiskLevel)
	fmt.Printf("  risk score: %.1f\n", resp.RiskScore)
	if resp.Retryable {
		fmt.Println("  the denial is retryable")
	}
	return nil
}

func runPermissions(args []string) error {
	fs := flag.NewFlagSet("permissions", flag.ExitOnError)
	cf := addCommonFlags(fs)
	resource := fs.String("resource", "", "Resource class name, e.g. meetings")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *resource == "" {
		return fmt.Errorf("resource is required")
	}

	body, _, err := doRequest(http.MethodGet, cf, "/v1/permissions/"+url.PathEscape(*resource), nil)
	if err != nil {
		return err
	}
	return prettyPrint(body)
}

func runScore(args []string) error {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	cf := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	body, _, err := doRequest(http.MethodGet, cf, "/v1/risk/score", nil)
	if err != nil {
		return err
	}
	return prettyPrint(body)
}

func runActivity(args []string) error {
	fs := flag.NewFlagSet("activity", flag.ExitOnError)
	cf := addCommonFlags(fs)
	resource := fs.String("resource", "", "Resource the action touched")
	action := fs.String("action", "", "Action performed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *resource == "" || *action == "" {
		return fmt.Errorf("resource and action are required")
	}

	payload := map[string]any{"resource": *resource, "action": *action}
	body, _, err := doRequest(http.MethodPost, cf, "/v1/risk/activity", payload)
	if err != nil {
		return err
	}
	return prettyPrint(body)
}

func runAudit(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	cf := addCommonFlags(fs)
	subject := fs.String("subject", "", "Filter by subject")
	eventType := fs.String("type", "", "Filter by event type")
	page := fs.Int("page", 1, "Page number")
	limit := fs.Int("limit", 20, "Page size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := url.Values{}
	if *subject != "" {
		q.Set("subject", *subject)
	}
	if *eventType != "" {
		q.Set("event_type", *eventType)
	}
	q.Set("page", strconv.Itoa(*page))
	q.Set("limit", strconv.Itoa(*limit))

	body, _, err := doRequest(http.MethodGet, cf, "/v1/audit?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	return prettyPrint(body)
}

func runSecurity(args []string) error {
	fs := flag.NewFlagSet("security", flag.ExitOnError)
	cf := addCommonFlags(fs)
	days := fs.Int("days", 7, "Trailing window in days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	body, _, err := doRequest(http.MethodGet, cf, fmt.Sprintf("/v1/audit/security?window_days=%d", *days), nil)
	if err != nil {
		return err
	}
	return prettyPrint(body)
}

func doRequest(method string, cf commonFlags, path string, payload any) ([]byte, int, error) {
	endpoint := strings.TrimRight(*cf.baseURL, "/") + path
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if *cf.token != "" {
		req.Header.Set("Authorization", "Bearer "+*cf.token)
	}
	if *cf.location != "" {
		req.Header.Set("X-Location", *cf.location)
	}
	if *cf.mfa {
		req.Header.Set("X-MFA-Verified", "true")
	}
	if *cf.vpn {
		req.Header.Set("X-VPN-Connected", "true")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return respBody, resp.StatusCode, fmt.Errorf("request failed: %s - %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return respBody, resp.StatusCode, nil
}

func prettyPrint(body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		fmt.Println(string(body))
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func usage() {
	fmt.Print(`Usage: riskctl <command> [options]

Commands:
  check        Ask for an authorization verdict
  permissions  Resolve read/write/delete for a resource class
  score        Show the caller's current risk score
  activity     Report a performed action
  audit        Query the audit trail
  security     List recent denials and anomalies

Global options:
	-base-url   Decision service base URL (default http://localhost:8080)
	-token      Bearer token (defaults to RISKGATE_TOKEN)
	-location   Asserted location signal
	-mfa        Assert the session is MFA-verified
	-vpn        Assert the client is on VPN
`)
}
