package mfa

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HTTPHandler serves TOTP enrollment and verification.
type HTTPHandler struct {
	verifier *Verifier
	logger   *zap.Logger
}

// NewHTTPHandler creates the MFA HTTP handler.
func NewHTTPHandler(verifier *Verifier, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{verifier: verifier, logger: logger}
}

// RegisterRoutes registers MFA routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	grp := rg.Group("/mfa/totp")
	{
		grp.POST("/enroll", h.enroll)
		grp.POST("/verify", h.verify)
	}
}

// EnrollRequest starts TOTP enrollment for a subject.
type EnrollRequest struct {
	Subject string `json:"subject" binding:"required"`
}

// VerifyRequest checks a TOTP code.
type VerifyRequest struct {
	Subject string `json:"subject" binding:"required"`
	Code    string `json:"code" binding:"required"`
}

func (h *HTTPHandler) enroll(c *gin.Context) {
	var req EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	secret, url, err := h.verifier.Enroll(c.Request.Context(), req.Subject)
	if err != nil {
		h.logger.Error("totp enrollment failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enroll"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"secret": secret, "otpauth_url": url})
}

func (h *HTTPHandler) verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"verified": h.verifier.Verify(c.Request.Context(), req.Subject, req.Code),
	})
}
