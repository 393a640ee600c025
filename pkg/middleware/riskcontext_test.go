package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/dhawalhost/riskgate/internal/risk"
)

func TestRiskContextExtractorReadsHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var got risk.Context
	r := gin.New()
	r.Use(RiskContextExtractor())
	r.GET("/ping", func(c *gin.Context) {
		got = RiskContextFromGin(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(LocationHeader, "berlin-office")
	req.Header.Set(DeviceHeader, "device-42")
	req.Header.Set(MFAVerifiedHeader, "true")
	req.Header.Set(VPNConnectedHeader, "true")
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)

	if got.Location != "berlin-office" || got.Device != "device-42" {
		t.Fatalf("unexpected context %+v", got)
	}
	if !got.MFAVerified || !got.VPNConnected {
		t.Fatalf("expected MFA and VPN flags set, got %+v", got)
	}
}

func TestRiskContextExtractorConservativeDefaults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var got risk.Context
	r := gin.New()
	r.Use(RiskContextExtractor())
	r.GET("/ping", func(c *gin.Context) {
		got = RiskContextFromGin(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(MFAVerifiedHeader, "definitely") // unparseable
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)

	if got.MFAVerified || got.VPNConnected {
		t.Fatalf("expected conservative false flags, got %+v", got)
	}
	if got.LocationKnown() {
		t.Fatalf("expected unknown location, got %q", got.Location)
	}
}

func TestRiskContextFromGinWithoutExtractor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	got := RiskContextFromGin(c)
	if got.MFAVerified || got.VPNConnected || got.LocationKnown() {
		t.Fatalf("expected conservative zero context, got %+v", got)
	}
}
