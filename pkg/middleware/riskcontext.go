package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dhawalhost/riskgate/internal/risk"
)

// Headers carrying request risk signals. Absent headers fall back to
// conservative defaults: unknown location, no MFA, no VPN.
const (
	LocationHeader     = "X-Location"
	DeviceHeader       = "X-Device-ID"
	MFAVerifiedHeader  = "X-MFA-Verified"
	VPNConnectedHeader = "X-VPN-Connected"
)

// riskContextKey is an unexported key type to avoid collisions in the Gin
// context store.
type riskContextKey string

const riskContextContextKey riskContextKey = "riskContext"

// RiskContextExtractor returns a Gin middleware that reads the risk signal
// headers into a risk.Context for downstream handlers. Signals are
// client-asserted here; deployments front this service with infrastructure
// that strips or verifies them.
func RiskContextExtractor() gin.HandlerFunc {
	return func(c *gin.Context) {
		rctx := risk.Context{
			Location:     strings.TrimSpace(c.GetHeader(LocationHeader)),
			Device:       strings.TrimSpace(c.GetHeader(DeviceHeader)),
			MFAVerified:  parseBoolHeader(c.GetHeader(MFAVerifiedHeader)),
			VPNConnected: parseBoolHeader(c.GetHeader(VPNConnectedHeader)),
		}
		c.Set(string(riskContextContextKey), rctx)
		c.Next()
	}
}

// parseBoolHeader treats anything but an explicit true as false. Unparseable
// signals must never decrease risk.
func parseBoolHeader(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// RiskContextFromGin returns the extracted risk context, or the conservative
// zero context when the extractor did not run.
func RiskContextFromGin(c *gin.Context) risk.Context {
	if v, ok := c.Get(string(riskContextContextKey)); ok {
		if rctx, ok := v.(risk.Context); ok {
			return rctx
		}
	}
	return risk.Context{}
}
