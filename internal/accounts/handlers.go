package accounts

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remoteprojobs/wallet/internal/apierr"
	"github.com/remoteprojobs/wallet/internal/auth"
	"github.com/remoteprojobs/wallet/internal/money"
)

// Handler provides HTTP endpoints for account operations
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new account handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up authenticated account routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallet/balance", h.GetBalance)
}

// RegisterAdminRoutes sets up admin-only account routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/accounts", h.Provision)
	r.GET("/accounts/:id", h.GetAccount)
	r.POST("/accounts/:id/credit", h.Credit)
	r.POST("/accounts/:id/eligibility", h.SetEligibility)
	r.POST("/accounts/:id/connects", h.GrantConnects)
	r.POST("/accounts/:id/tier", h.SetTier)
}

// GetBalance handles GET /wallet/balance
func (h *Handler) GetBalance(c *gin.Context) {
	id, _ := auth.GetIdentity(c)
	acct, err := h.service.Get(c.Request.Context(), id.AccountID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accountId":               acct.ID,
		"balance":                 acct.Balance,
		"tier":                    acct.Tier,
		"verified":                acct.Verified,
		"isEligibleForWithdrawal": acct.EligibleForWithdrawal,
		"connectsGranted":         acct.ConnectsGranted,
	})
}

// ProvisionRequest is the body for POST /admin/accounts
type ProvisionRequest struct {
	ID   string `json:"id" binding:"required"`
	Tier string `json:"tier"`
}

// Provision handles POST /admin/accounts
func (h *Handler) Provision(c *gin.Context) {
	var req ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadRequest(c, "id is required")
		return
	}
	tier := TierRegular
	if req.Tier != "" {
		t, ok := ParseTier(req.Tier)
		if !ok {
			apierr.Respond(c, ErrInvalidTier)
			return
		}
		tier = t
	}

	acct, err := h.service.Provision(c.Request.Context(), req.ID, tier)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account": acct})
}

// GetAccount handles GET /admin/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	acct, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// CreditRequest is the body for POST /admin/accounts/:id/credit
type CreditRequest struct {
	Amount money.Input `json:"amount"`
}

// Credit handles POST /admin/accounts/:id/credit
func (h *Handler) Credit(c *gin.Context) {
	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, ErrInvalidAmount)
		return
	}
	acct, err := h.service.Credit(c.Request.Context(), c.Param("id"), req.Amount.String())
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// EligibilityRequest is the body for POST /admin/accounts/:id/eligibility
type EligibilityRequest struct {
	Eligible *bool `json:"eligible" binding:"required"`
}

// SetEligibility handles POST /admin/accounts/:id/eligibility
func (h *Handler) SetEligibility(c *gin.Context) {
	var req EligibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadRequest(c, "eligible (boolean) is required")
		return
	}
	acct, err := h.service.SetEligibility(c.Request.Context(), c.Param("id"), *req.Eligible)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// ConnectsRequest is the body for POST /admin/accounts/:id/connects
type ConnectsRequest struct {
	Connects int `json:"connects"`
}

// GrantConnects handles POST /admin/accounts/:id/connects
func (h *Handler) GrantConnects(c *gin.Context) {
	var req ConnectsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, ErrInvalidConnects)
		return
	}
	acct, err := h.service.GrantConnects(c.Request.Context(), c.Param("id"), req.Connects)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// TierRequest is the body for POST /admin/accounts/:id/tier
type TierRequest struct {
	Tier string `json:"tier"`
}

// SetTier handles POST /admin/accounts/:id/tier
func (h *Handler) SetTier(c *gin.Context) {
	var req TierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, ErrInvalidTier)
		return
	}
	acct, err := h.service.SetTier(c.Request.Context(), c.Param("id"), Tier(req.Tier))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}
