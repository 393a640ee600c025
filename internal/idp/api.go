package idp

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dhawalhost/riskgate/internal/audit"
	"github.com/dhawalhost/riskgate/internal/behavior"
)

const stateCookie = "idp_state"

// HTTPHandler exposes the login flow and login-outcome reporting. Outcomes
// feed the behavior store, which is where failed-attempt counts come from.
type HTTPHandler struct {
	client   *Client
	store    behavior.Store
	recorder *audit.Recorder // optional
	logger   *zap.Logger
}

// NewHTTPHandler creates the identity-provider HTTP handler.
func NewHTTPHandler(client *Client, store behavior.Store, recorder *audit.Recorder, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{client: client, store: store, recorder: recorder, logger: logger}
}

// RegisterRoutes registers login-flow routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.GET("/login", h.login)
		auth.GET("/callback", h.callback)
		auth.POST("/attempts", h.reportAttempt)
	}
}

func (h *HTTPHandler) login(c *gin.Context) {
	state := uuid.NewString()
	c.SetCookie(stateCookie, state, 300, "/", "", false, true)
	c.Redirect(http.StatusFound, h.client.AuthCodeURL(state))
}

func (h *HTTPHandler) callback(c *gin.Context) {
	state, err := c.Cookie(stateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state mismatch"})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}

	tok, err := h.client.Exchange(c.Request.Context(), code)
	if err != nil {
		h.logger.Warn("code exchange failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "exchange failed"})
		return
	}

	rawID, _ := tok.Extra("id_token").(string)
	claims, err := h.client.Validate(c.Request.Context(), rawID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid id token"})
		return
	}
	subject, _ := claims.GetSubject()

	if err := h.store.RecordLoginAttempt(c.Request.Context(), subject, true); err != nil {
		// The login itself succeeded; a behavior-store outage only means the
		// profile is stale, which the scorer treats conservatively anyway.
		h.logger.Error("login recording failed", zap.String("subject", subject), zap.Error(err))
	}
	h.recordAuth(subject, true, "LOGIN_SUCCEEDED")

	c.JSON(http.StatusOK, gin.H{
		"access_token": tok.AccessToken,
		"id_token":     rawID,
		"expiry":       tok.Expiry,
	})
}

// AttemptReport is a login outcome relayed from the provider's event stream.
type AttemptReport struct {
	Subject string `json:"subject" binding:"required"`
	Success bool   `json:"success"`
}

func (h *HTTPHandler) reportAttempt(c *gin.Context) {
	var req AttemptReport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.RecordLoginAttempt(c.Request.Context(), req.Subject, req.Success); err != nil {
		h.logger.Error("attempt recording failed", zap.String("subject", req.Subject), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "UPSTREAM_UNAVAILABLE"})
		return
	}

	reason := "LOGIN_FAILED"
	if req.Success {
		reason = "LOGIN_SUCCEEDED"
	}
	h.recordAuth(req.Subject, req.Success, reason)
	c.Status(http.StatusAccepted)
}

func (h *HTTPHandler) recordAuth(subject string, success bool, reason string) {
	if h.recorder == nil {
		return
	}
	h.recorder.Record(audit.Event{
		Subject:   subject,
		EventType: audit.EventAuthentication,
		Action:    "login",
		Allowed:   success,
		Reason:    reason,
	})
}
