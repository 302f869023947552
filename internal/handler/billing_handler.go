package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wakestake/internal/service"
)

const maxWebhookBody = 1 << 20

// StripeWebhook 接收 Stripe 回调，校验签名后绑定订阅。
func (a *API) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		respondError(c, http.StatusBadRequest, errBadRequest)
		return
	}

	handled, err := a.billing.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, service.ErrWebhookSignature) {
			respondError(c, http.StatusBadRequest, "invalid_signature")
			return
		}
		if errors.Is(err, service.ErrWebhookPayload) {
			respondError(c, http.StatusBadRequest, "invalid_payload")
			return
		}
		a.respondInternal(c, "handle webhook failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "handled": handled})
}

// BillingStatus 返回当前用户是否已绑定订阅以及累计扣费。
func (a *API) BillingStatus(c *gin.Context) {
	userID := c.GetString(contextUserIDKey)
	status, err := a.settings.Status(c.Request.Context(), userID)
	if err != nil {
		a.respondInternal(c, "load billing status failed", err)
		return
	}
	total, err := a.billing.TotalUSD(c.Request.Context(), userID)
	if err != nil {
		a.respondInternal(c, "load billing total failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"linked": status.HasStripe, "total_usd": total})
}
