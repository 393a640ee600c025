package audit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HTTPHandler serves audit queries to monitoring consumers.
type HTTPHandler struct {
	recorder *Recorder
	logger   *zap.Logger
}

// NewHTTPHandler creates the audit HTTP handler.
func NewHTTPHandler(recorder *Recorder, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{recorder: recorder, logger: logger}
}

// RegisterRoutes registers audit routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	audit := rg.Group("/audit")
	{
		audit.GET("", h.queryEvents)
		audit.GET("/security", h.querySecurityEvents)
		audit.GET("/user/:id", h.queryUserEvents)
	}
}

func parseQueryOptions(c *gin.Context) QueryOptions {
	opts := QueryOptions{}
	if v := c.Query("subject"); v != "" {
		opts.Subject = &v
	}
	if v := c.Query("event_type"); v != "" {
		et := EventType(v)
		opts.EventType = &et
	}
	if v := c.Query("resource"); v != "" {
		opts.Resource = &v
	}
	if v := c.Query("status"); v != "" {
		opts.Status = &v
	}
	if v := c.Query("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.StartTime = &t
		}
	}
	if v := c.Query("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.EndTime = &t
		}
	}
	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Page = n
		}
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	return opts
}

func (h *HTTPHandler) respondQuery(c *gin.Context, opts QueryOptions) {
	events, total, pages, err := h.recorder.Query(c.Request.Context(), opts)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store unavailable"})
			return
		}
		h.logger.Error("audit query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit query failed"})
		return
	}
	if events == nil {
		events = []Event{}
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  total,
		"pages":  pages,
	})
}

func (h *HTTPHandler) queryEvents(c *gin.Context) {
	h.respondQuery(c, parseQueryOptions(c))
}

func (h *HTTPHandler) queryUserEvents(c *gin.Context) {
	opts := parseQueryOptions(c)
	subject := c.Param("id")
	opts.Subject = &subject
	h.respondQuery(c, opts)
}

func (h *HTTPHandler) querySecurityEvents(c *gin.Context) {
	windowDays := 7
	if v := c.Query("window_days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			windowDays = n
		}
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	events, err := h.recorder.QuerySecurityEvents(c.Request.Context(), windowDays, limit)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store unavailable"})
			return
		}
		h.logger.Error("security event query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "security event query failed"})
		return
	}
	if events == nil {
		events = []Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "window_days": windowDays})
}
