// README: Payment handlers (wallet pay, gateway redirect and callback, earnings).
package handlers

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"platter/internal/modules/settlement"
	"platter/internal/types"
)

type PaymentService interface {
	PayWithWallet(ctx context.Context, orderID types.ID) (settlement.PaymentResult, error)
	CreatePaymentURL(ctx context.Context, orderID types.ID, returnURL, clientIP string) (string, error)
	HandleGatewayCallback(ctx context.Context, params url.Values) (settlement.GatewayResult, error)
	Summary(ctx context.Context, orderID types.ID) (*settlement.EarningsSummary, error)
}

type PaymentHandler struct {
	payments  PaymentService
	returnURL string
}

func NewPaymentHandler(svc PaymentService, returnURL string) *PaymentHandler {
	return &PaymentHandler{payments: svc, returnURL: returnURL}
}

// PayWallet answers 402 with the payment result when the balance is short.
func (h *PaymentHandler) PayWallet(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.payments.PayWithWallet(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if !res.Success {
		writeJSON(c, http.StatusPaymentRequired, res)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *PaymentHandler) PayGateway(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	returnURL := c.DefaultQuery("return_url", h.returnURL)
	u, err := h.payments.CreatePaymentURL(c.Request.Context(), id, returnURL, c.ClientIP())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"order_id": id, "payment_url": u})
}

func (h *PaymentHandler) GatewayCallback(c *gin.Context) {
	res, err := h.payments.HandleGatewayCallback(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *PaymentHandler) Earnings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sum, err := h.payments.Summary(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sum)
}
