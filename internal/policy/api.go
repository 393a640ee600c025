package policy

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/riskgate/internal/mfa"
	"github.com/dhawalhost/riskgate/internal/risk"
	"github.com/dhawalhost/riskgate/internal/token"
	"github.com/dhawalhost/riskgate/pkg/middleware"
)

// MFACodeHeader carries a TOTP code for inline MFA verification.
const MFACodeHeader = "X-MFA-Code"

// HTTPHandler exposes the decision point to route guards and UI gating.
//
// Status convention: 401 means the caller could not be identified (missing or
// malformed credential); every policy denial, expired tokens included, is a
// 200 with allowed=false so callers can distinguish "who are you" from "you
// may not"; 503 means the engine could not decide and the caller may retry.
type HTTPHandler struct {
	extractor *token.Extractor
	pdp       *PDP
	resolver  *Resolver
	verifier  *mfa.Verifier // optional
	logger    *zap.Logger
}

// NewHTTPHandler creates the policy HTTP handler. verifier may be nil when
// inline MFA verification is not deployed.
func NewHTTPHandler(extractor *token.Extractor, pdp *PDP, resolver *Resolver, verifier *mfa.Verifier, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		extractor: extractor,
		pdp:       pdp,
		resolver:  resolver,
		verifier:  verifier,
		logger:    logger,
	}
}

// RegisterRoutes registers authorization routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	authz := rg.Group("/authz")
	{
		authz.POST("/check", h.check)
		authz.GET("/inspect", h.inspect)
	}
	rg.GET("/permissions/:resource", h.permissions)
}

// CheckRequest is the route-guard contract. Context fields are optional and
// default conservatively.
type CheckRequest struct {
	Resource string        `json:"resource" binding:"required"`
	Action   string        `json:"action" binding:"required"`
	Context  *CheckContext `json:"context,omitempty"`
}

// CheckContext carries caller-asserted risk signals.
type CheckContext struct {
	Location     string `json:"location,omitempty"`
	Device       string `json:"device,omitempty"`
	MFAVerified  bool   `json:"mfa_verified,omitempty"`
	VPNConnected bool   `json:"vpn_connected,omitempty"`
}

// CheckResponse is the verdict envelope.
type CheckResponse struct {
	Allowed   bool          `json:"allowed"`
	Reason    string        `json:"reason"`
	Retryable bool          `json:"retryable"`
	RiskScore float64       `json:"risk_score"`
	RiskLevel risk.Level    `json:"risk_level,omitempty"`
	Factors   []risk.Factor `json:"factors,omitempty"`
}

func (h *HTTPHandler) identity(c *gin.Context) (token.Identity, bool) {
	id, err := h.extractor.Extract(c.GetHeader("Authorization"))
	if err != nil {
		reason := "MALFORMED_CREDENTIAL"
		if errors.Is(err, token.ErrMissingCredential) {
			reason = "MISSING_CREDENTIAL"
		}
		c.JSON(http.StatusUnauthorized, gin.H{"allowed": false, "reason": reason})
		return token.Identity{}, false
	}
	return id, true
}

// riskContext merges the body context over the header-derived one, then
// applies inline TOTP verification when a code was sent.
func (h *HTTPHandler) riskContext(c *gin.Context, id token.Identity, body *CheckContext) risk.Context {
	rctx := middleware.RiskContextFromGin(c)
	if body != nil {
		if body.Location != "" {
			rctx.Location = body.Location
		}
		if body.Device != "" {
			rctx.Device = body.Device
		}
		rctx.MFAVerified = rctx.MFAVerified || body.MFAVerified
		rctx.VPNConnected = rctx.VPNConnected || body.VPNConnected
	}
	if h.verifier != nil {
		if code := strings.TrimSpace(c.GetHeader(MFACodeHeader)); code != "" {
			rctx.MFAVerified = h.verifier.Verify(c.Request.Context(), id.Subject, code)
		}
	}
	return rctx
}

func (h *HTTPHandler) check(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, ok := h.identity(c)
	if !ok {
		return
	}

	rctx := h.riskContext(c, id, req.Context)
	d := h.pdp.Decide(c.Request.Context(), id, req.Action, req.Resource, rctx)

	resp := CheckResponse{
		Allowed:   d.Allowed,
		Reason:    string(d.Reason),
		Retryable: d.Reason.Retryable(),
		RiskScore: d.RiskScore,
		RiskLevel: d.RiskLevel,
		Factors:   d.Factors,
	}

	if d.Reason == ReasonUpstreamUnavailable {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) permissions(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}

	resource := c.Param("resource")
	if !strings.HasPrefix(resource, "/") {
		// UI callers pass bare class names like "meetings".
		resource = "/api/" + resource
	}

	rctx := h.riskContext(c, id, nil)
	perms := h.resolver.Resolve(c.Request.Context(), id, resource, rctx)
	c.JSON(http.StatusOK, gin.H{"resource": resource, "permissions": perms})
}

// inspect returns the parsed identity without rendering a verdict. Expired
// identities are observable here; this path authorizes nothing.
func (h *HTTPHandler) inspect(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identity": id,
		"expired":  id.Expired(h.pdp.now()),
	})
}
