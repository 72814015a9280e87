package fraud

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fashun/riskguard/internal/logging"
	"github.com/fashun/riskguard/internal/validation"
)

// Handler provides HTTP endpoints for scoring and rule management.
type Handler struct {
	engine      *Engine
	assessments AssessmentStore
}

// NewHandler creates a fraud handler. assessments may be nil, in which case
// assessment lookups return 404.
func NewHandler(engine *Engine, assessments AssessmentStore) *Handler {
	return &Handler{engine: engine, assessments: assessments}
}

// RegisterRoutes sets up the public fraud routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/fraud/analyze", h.Analyze)
	r.GET("/fraud/assessments/:orderId", validation.OrderIDParamMiddleware(), h.GetAssessment)
	r.GET("/fraud/rules", h.ListRules)
	r.GET("/fraud/rules/:id", h.GetRule)
}

// RegisterAdminRoutes sets up rule mutation routes. The group must already
// be admin-protected.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/fraud/rules", h.CreateRule)
	r.PUT("/fraud/rules/:id", h.UpdateRule)
}

// Analyze handles POST /v1/fraud/analyze
func (h *Handler) Analyze(c *gin.Context) {
	var tx Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "invalid transaction",
			"details": validation.FromError(err),
		})
		return
	}

	a := h.engine.Assess(c.Request.Context(), &tx)
	c.JSON(http.StatusOK, gin.H{
		"assessmentId": a.ID,
		"riskScore":    a.RiskScore(),
	})
}

// GetAssessment handles GET /v1/fraud/assessments/:orderId
func (h *Handler) GetAssessment(c *gin.Context) {
	if h.assessments == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "assessment not found"})
		return
	}
	a, err := h.assessments.LatestByOrder(c.Request.Context(), c.Param("orderId"))
	if errors.Is(err, ErrAssessmentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "assessment not found"})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to load assessment", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load assessment"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// ListRules handles GET /v1/fraud/rules
func (h *Handler) ListRules(c *gin.Context) {
	rules := h.engine.Rules().Rules()
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

// GetRule handles GET /v1/fraud/rules/:id
func (h *Handler) GetRule(c *gin.Context) {
	r, err := h.engine.Rules().Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "rule not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": r})
}

type ruleRequest struct {
	ID          string      `json:"id"`
	Name        string      `json:"name" binding:"required,max=200"`
	Description string      `json:"description" binding:"max=2000"`
	Conditions  []Condition `json:"conditions" binding:"required,min=1,dive"`
	Weight      int         `json:"weight" binding:"gte=0,lte=100"`
	Action      Action      `json:"action" binding:"required,oneof=approve review decline"`
	Enabled     *bool       `json:"enabled"`
}

func (req *ruleRequest) rule() Rule {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return Rule{
		ID:          req.ID,
		Name:        validation.SanitizeString(req.Name, 200),
		Description: validation.SanitizeString(req.Description, 2000),
		Conditions:  req.Conditions,
		Weight:      req.Weight,
		Action:      req.Action,
		Enabled:     enabled,
	}
}

// CreateRule handles POST /v1/fraud/rules
func (h *Handler) CreateRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "name, conditions and action are required",
			"details": validation.FromError(err),
		})
		return
	}

	r, err := h.engine.Rules().Add(c.Request.Context(), req.rule())
	h.writeRuleResult(c, http.StatusCreated, r, err)
}

// UpdateRule handles PUT /v1/fraud/rules/:id
func (h *Handler) UpdateRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "name, conditions and action are required",
			"details": validation.FromError(err),
		})
		return
	}

	r, err := h.engine.Rules().Update(c.Request.Context(), c.Param("id"), req.rule())
	h.writeRuleResult(c, http.StatusOK, r, err)
}

// writeRuleResult maps add/update outcomes. A persistence failure still
// returns the rule (it is live in memory) with 202 and persisted=false.
func (h *Handler) writeRuleResult(c *gin.Context, okStatus int, r Rule, err error) {
	switch {
	case err == nil:
		c.JSON(okStatus, gin.H{"rule": r, "persisted": true})
	case errors.Is(err, ErrRulePersist):
		c.JSON(http.StatusAccepted, gin.H{
			"rule":      r,
			"persisted": false,
			"message":   "rule is active but could not be saved to the rules store",
		})
	case errors.Is(err, ErrInvalidRule):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rule", "message": err.Error()})
	case errors.Is(err, ErrDuplicateRule):
		c.JSON(http.StatusConflict, gin.H{"error": "rule_exists", "message": "a rule with this id already exists"})
	case errors.Is(err, ErrRuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "rule not found"})
	default:
		logging.L(c.Request.Context()).Error("rule update failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to save rule"})
	}
}
