package risk

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/riskgate/internal/audit"
	"github.com/dhawalhost/riskgate/internal/behavior"
	"github.com/dhawalhost/riskgate/internal/token"
)

// riskContextFromGin mirrors middleware.RiskContextFromGin: it reads the
// context stored by the extractor under the same key, falling back to the
// conservative zero context. It lives here because importing pkg/middleware
// from this package would form an import cycle.
func riskContextFromGin(c *gin.Context) Context {
	if v, ok := c.Get("riskContext"); ok {
		if rctx, ok := v.(Context); ok {
			return rctx
		}
	}
	return Context{}
}

// HTTPHandler exposes activity logging and score inspection. Activity logging
// is how client apps report the actions a principal performed so the behavior
// profile stays current between authorization checks.
type HTTPHandler struct {
	extractor *token.Extractor
	store     behavior.Store
	scorer    *Scorer
	recorder  *audit.Recorder // optional
	logger    *zap.Logger
}

// NewHTTPHandler creates the risk HTTP handler. recorder may be nil.
func NewHTTPHandler(extractor *token.Extractor, store behavior.Store, scorer *Scorer, recorder *audit.Recorder, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		extractor: extractor,
		store:     store,
		scorer:    scorer,
		recorder:  recorder,
		logger:    logger,
	}
}

// RegisterRoutes registers risk routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	riskGroup := rg.Group("/risk")
	{
		riskGroup.POST("/activity", h.logActivity)
		riskGroup.GET("/score", h.score)
	}
}

// ActivityRequest reports one performed action.
type ActivityRequest struct {
	Action   string `json:"action" binding:"required"`
	Resource string `json:"resource" binding:"required"`
}

// ActivityResponse returns the action's own contribution and the refreshed
// overall score for the reporting principal.
type ActivityResponse struct {
	Contribution float64  `json:"contribution"`
	RiskScore    float64  `json:"risk_score"`
	RiskLevel    Level    `json:"risk_level"`
	Factors      []Factor `json:"factors"`
}

func (h *HTTPHandler) identity(c *gin.Context) (token.Identity, bool) {
	id, err := h.extractor.Extract(c.GetHeader("Authorization"))
	if err != nil {
		reason := "MALFORMED_CREDENTIAL"
		if errors.Is(err, token.ErrMissingCredential) {
			reason = "MISSING_CREDENTIAL"
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": reason})
		return token.Identity{}, false
	}
	return id, true
}

func (h *HTTPHandler) logActivity(c *gin.Context) {
	var req ActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, ok := h.identity(c)
	if !ok {
		return
	}

	contribution, err := h.store.RecordAction(c.Request.Context(), id.Subject, req.Action, req.Resource)
	if err != nil {
		h.logger.Error("activity recording failed",
			zap.String("subject", id.Subject),
			zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "UPSTREAM_UNAVAILABLE"})
		return
	}

	// Privileged principals routinely touch sensitive resources; their
	// reported activity does not carry the sensitive-resource penalty.
	if h.scorer.Privileged(id.Roles) {
		contribution = h.scorer.PrivilegedContribution(req.Action, req.Resource)
	}

	rec, err := h.store.Get(c.Request.Context(), id.Subject)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "UPSTREAM_UNAVAILABLE"})
		return
	}

	rctx := riskContextFromGin(c)
	score, factors := h.scorer.Score(id, req.Action, req.Resource, rctx, rec)

	if h.recorder != nil {
		h.recorder.Record(audit.Event{
			Subject:   id.Subject,
			EventType: audit.EventDataAccess,
			Action:    req.Action,
			Resource:  req.Resource,
			Allowed:   true,
			Reason:    "ACTIVITY_LOGGED",
			RiskScore: score,
		})
	}

	c.JSON(http.StatusOK, ActivityResponse{
		Contribution: contribution,
		RiskScore:    score,
		RiskLevel:    LevelFor(score),
		Factors:      factors,
	})
}

// score renders the principal's current standing without any action or
// resource in play; only behavioral history and request signals contribute.
func (h *HTTPHandler) score(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}

	rec, err := h.store.Get(c.Request.Context(), id.Subject)
	if err != nil {
		h.logger.Error("behavior lookup failed",
			zap.String("subject", id.Subject),
			zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "UPSTREAM_UNAVAILABLE"})
		return
	}

	rctx := riskContextFromGin(c)
	score, factors := h.scorer.Score(id, "", "", rctx, rec)

	c.JSON(http.StatusOK, gin.H{
		"subject":    id.Subject,
		"risk_score": score,
		"risk_level": LevelFor(score),
		"factors":    factors,
	})
}
