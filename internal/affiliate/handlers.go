package affiliate

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fashun/riskguard/internal/logging"
	"github.com/fashun/riskguard/internal/pagination"
	"github.com/fashun/riskguard/internal/validation"
)

// Handler provides HTTP endpoints for affiliate operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new affiliate handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public affiliate routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/affiliates", h.CreateAffiliate)
	r.GET("/affiliates/:id", h.GetAffiliate)
	r.GET("/affiliates/:id/stats", h.GetStats)
	r.GET("/affiliates/:id/commissions", h.ListCommissions)
	r.POST("/referrals/click", h.TrackClick)
	r.POST("/referrals/:id/convert", h.RecordConversion)
}

// RegisterAdminRoutes sets up admin-only affiliate routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PUT("/affiliates/:id/status", h.SetStatus)
	r.POST("/commissions/:id/approve", h.ApproveCommission)
	r.POST("/commissions/:id/reject", h.RejectCommission)
	r.POST("/commissions/:id/pay", h.PayCommission)
}

// errorStatus maps service errors to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrAffiliateNotFound),
		errors.Is(err, ErrReferralNotFound),
		errors.Is(err, ErrCommissionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrAlreadyAffiliate):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, ErrAlreadyConverted):
		return http.StatusConflict, "already_converted"
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, ErrInactive):
		return http.StatusForbidden, "affiliate_suspended"
	case errors.Is(err, ErrInvalidRate),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("affiliate request failed", "path", c.FullPath(), "error", err)
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": code, "message": msg})
}

func badRequest(c *gin.Context, msg string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": msg,
		"details": validation.FromError(err),
	})
}

type createAffiliateRequest struct {
	UserID         string `json:"userId" binding:"required,max=128"`
	CommissionRate int    `json:"commissionRate" binding:"required,min=1,max=5000"`
}

// CreateAffiliate handles POST /v1/affiliates
func (h *Handler) CreateAffiliate(c *gin.Context) {
	var req createAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "userId and commissionRate (1-5000 bps) are required", err)
		return
	}

	a, err := h.service.CreateAffiliate(c.Request.Context(), req.UserID, req.CommissionRate)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"affiliate": a})
}

// GetAffiliate handles GET /v1/affiliates/:id
func (h *Handler) GetAffiliate(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"affiliate": a})
}

// GetStats handles GET /v1/affiliates/:id/stats
func (h *Handler) GetStats(c *gin.Context) {
	st, err := h.service.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": st})
}

// ListCommissions handles GET /v1/affiliates/:id/commissions
func (h *Handler) ListCommissions(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid cursor"})
		return
	}

	list, err := h.service.ListCommissions(c.Request.Context(), c.Param("id"), limit+1, WithCursor(cursor))
	if err != nil {
		h.fail(c, err)
		return
	}
	list, next, hasMore := pagination.ComputePage(list, limit, func(cm *Commission) (time.Time, string) {
		return cm.CreatedAt, cm.ID
	})
	if list == nil {
		list = []*Commission{}
	}
	c.JSON(http.StatusOK, gin.H{
		"commissions": list,
		"count":       len(list),
		"nextCursor":  next,
		"hasMore":     hasMore,
	})
}

// TrackClick handles POST /v1/referrals/click
func (h *Handler) TrackClick(c *gin.Context) {
	var click Click
	if err := c.ShouldBindJSON(&click); err != nil {
		badRequest(c, "referralCode is required", err)
		return
	}
	click.IPAddress = c.ClientIP()
	click.VisitorID = validation.SanitizeString(click.VisitorID, 128)

	r, err := h.service.TrackClick(c.Request.Context(), click)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"referral": r})
}

type conversionRequest struct {
	OrderID     string `json:"orderId" binding:"required,order_id"`
	AmountCents int64  `json:"amountCents" binding:"required,gt=0,lte=1000000000000"`
}

// RecordConversion handles POST /v1/referrals/:id/convert
func (h *Handler) RecordConversion(c *gin.Context) {
	var req conversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "orderId and a positive amountCents are required", err)
		return
	}

	cm, err := h.service.RecordConversion(c.Request.Context(), c.Param("id"), req.OrderID, req.AmountCents)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"commission": cm})
}

// SetStatus handles PUT /v1/affiliates/:id/status
func (h *Handler) SetStatus(c *gin.Context) {
	var body struct {
		Status Status `json:"status" binding:"required,oneof=active suspended"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "status must be active or suspended", err)
		return
	}

	a, err := h.service.SetStatus(c.Request.Context(), c.Param("id"), body.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"affiliate": a})
}

// ApproveCommission handles POST /v1/commissions/:id/approve
func (h *Handler) ApproveCommission(c *gin.Context) {
	cm, err := h.service.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commission": cm})
}

// RejectCommission handles POST /v1/commissions/:id/reject
func (h *Handler) RejectCommission(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)

	cm, err := h.service.Reject(c.Request.Context(), c.Param("id"), validation.SanitizeString(body.Reason, 500))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commission": cm})
}

// PayCommission handles POST /v1/commissions/:id/pay
func (h *Handler) PayCommission(c *gin.Context) {
	cm, err := h.service.MarkPaid(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commission": cm})
}
