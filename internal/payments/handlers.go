package payments

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remoteprojobs/wallet/internal/apierr"
	"github.com/remoteprojobs/wallet/internal/auth"
	"github.com/remoteprojobs/wallet/internal/pagination"
)

// maxCallbackBody bounds gateway callback payloads.
const maxCallbackBody = 64 << 10

// CallbackDecoder turns a provider-specific callback body into an Outcome.
type CallbackDecoder interface {
	DecodeCallback(body []byte) (Outcome, error)
}

// Handler provides HTTP endpoints for payments
type Handler struct {
	processor *Processor
	decoder   CallbackDecoder
	logger    *slog.Logger
}

// NewHandler creates a new payment handler
func NewHandler(processor *Processor, decoder CallbackDecoder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{processor: processor, decoder: decoder, logger: logger}
}

// RegisterRoutes sets up authenticated payment routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments/stk-push", h.Initiate)
	r.GET("/payments", h.List)
	r.GET("/payments/status/:reference", h.Status)
}

// RegisterCallbackRoute sets up the public gateway callback.
func (h *Handler) RegisterCallbackRoute(r *gin.RouterGroup) {
	r.POST("/payments/callback", h.Callback)
}

// InitiateRequest is the body for POST /payments/stk-push
type InitiateRequest struct {
	Phone     string `json:"phone"`
	AmountKES int64  `json:"amountKES"`
}

// Initiate handles POST /payments/stk-push
func (h *Handler) Initiate(c *gin.Context) {
	id, _ := auth.GetIdentity(c)

	var body InitiateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apierr.BadRequest(c, "phone (string) and amountKES (whole number) expected")
		return
	}

	tx, err := h.processor.Initiate(c.Request.Context(), id.AccountID, body.Phone, body.AmountKES)
	if err != nil {
		if tx != nil && errors.Is(err, ErrGatewayUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":     apierr.CodeGatewayUnavailable,
				"message":   ErrGatewayUnavailable.Message,
				"reference": tx.Reference,
				"status":    tx.Status,
			})
			return
		}
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":   true,
		"paymentId": tx.ID,
		"reference": tx.Reference,
		"status":    tx.Status,
	})
}

// List handles GET /payments
func (h *Handler) List(c *gin.Context) {
	id, _ := auth.GetIdentity(c)
	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		apierr.BadRequest(c, err.Error())
		return
	}

	list, err := h.processor.List(c.Request.Context(), id.AccountID, limit)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if list == nil {
		list = []*Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"payments": list, "count": len(list)})
}

// Status handles GET /payments/status/:reference
func (h *Handler) Status(c *gin.Context) {
	id, _ := auth.GetIdentity(c)

	tx, err := h.processor.PollStatus(c.Request.Context(), id.AccountID, c.Param("reference"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reference": tx.Reference, "status": tx.Status, "payment": tx})
}

// Callback handles POST /payments/callback. Known references always get 200,
// including duplicates, so the gateway stops retrying.
func (h *Handler) Callback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		apierr.BadRequest(c, "unreadable callback body")
		return
	}

	out, err := h.decoder.DecodeCallback(body)
	if err != nil {
		h.logger.Warn("malformed payment callback", "error", err)
		apierr.BadRequest(c, err.Error())
		return
	}

	tx, applied, err := h.processor.HandleCallback(c.Request.Context(), out)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"received":  true,
		"applied":   applied,
		"reference": tx.Reference,
		"status":    tx.Status,
	})
}
