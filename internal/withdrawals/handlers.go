package withdrawals

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remoteprojobs/wallet/internal/apierr"
	"github.com/remoteprojobs/wallet/internal/auth"
	"github.com/remoteprojobs/wallet/internal/money"
	"github.com/remoteprojobs/wallet/internal/pagination"
)

// Handler provides HTTP endpoints for withdrawals
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new withdrawal handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up account-owner withdrawal routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/withdrawals", h.RequestWithdrawal)
	r.GET("/withdrawals", h.History)
	r.GET("/withdrawals/limits", h.Limits)
}

// RegisterAdminRoutes sets up admin-only withdrawal routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/withdrawals/pending", h.ListPending)
	r.POST("/withdrawals/:id/approve", h.Approve)
	r.POST("/withdrawals/:id/reject", h.Reject)
}

// CreateRequest is the body for POST /withdrawals
type CreateRequest struct {
	Amount      money.Input `json:"amount"`
	Method      string      `json:"method"`
	Destination string      `json:"destinationAddress"`
}

// RequestWithdrawal handles POST /withdrawals
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	id, _ := auth.GetIdentity(c)

	var body CreateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apierr.Respond(c, ErrInvalidAmount)
		return
	}

	req, err := h.service.Request(c.Request.Context(), id.AccountID, RequestInput{
		Amount:      body.Amount.String(),
		Method:      body.Method,
		Destination: body.Destination,
	})
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"withdrawal": req})
}

// History handles GET /withdrawals
func (h *Handler) History(c *gin.Context) {
	id, _ := auth.GetIdentity(c)
	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		apierr.BadRequest(c, err.Error())
		return
	}

	list, err := h.service.History(c.Request.Context(), id.AccountID, limit)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": orEmpty(list), "count": len(list)})
}

// Limits handles GET /withdrawals/limits
func (h *Handler) Limits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"minimums": h.service.Policy().Limits()})
}

// ListPending handles GET /admin/withdrawals/pending?order=oldest|newest&limit=N
func (h *Handler) ListPending(c *gin.Context) {
	id, _ := auth.GetIdentity(c)

	order, ok := ParseOrder(c.Query("order"))
	if !ok {
		apierr.BadRequest(c, "order must be oldest or newest")
		return
	}
	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		apierr.BadRequest(c, err.Error())
		return
	}

	list, err := h.service.ListPending(c.Request.Context(), id, order, limit)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": orEmpty(list), "count": len(list), "order": order})
}

// DecisionRequest is the optional body for approve/reject
type DecisionRequest struct {
	Note string `json:"note"`
}

// Approve handles POST /admin/withdrawals/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	h.decide(c, h.service.Approve)
}

// Reject handles POST /admin/withdrawals/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	h.decide(c, h.service.Reject)
}

type decideFunc func(ctx context.Context, approver Approver, id, decidedBy, note string) (*Request, error)

func (h *Handler) decide(c *gin.Context, fn decideFunc) {
	id, _ := auth.GetIdentity(c)

	var body DecisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			apierr.BadRequest(c, "invalid request body")
			return
		}
	}

	req, err := fn(c.Request.Context(), id, c.Param("id"), id.AccountID, body.Note)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": req})
}

func orEmpty(list []*Request) []*Request {
	if list == nil {
		return []*Request{}
	}
	return list
}
