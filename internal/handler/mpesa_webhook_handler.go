package handler

import (
	"context"
	"log"
	"net/http"

	"sibostore/pkg/metrics"
	"sibostore/pkg/payment"

	"github.com/gin-gonic/gin"
)

// CallbackProcessor applies a provider-pushed result to the matching
// transaction.
type CallbackProcessor interface {
	ApplyCallback(ctx context.Context, cb *payment.STKCallback) error
}

type MpesaWebhookHandler struct {
	processor CallbackProcessor
}

func NewMpesaWebhookHandler(processor CallbackProcessor) *MpesaWebhookHandler {
	return &MpesaWebhookHandler{processor: processor}
}

// Callback receives Safaricom's STK push result. Safaricom retries on
// anything but a success acknowledgment, so the response is always 200
// with ResultCode 0 regardless of what happens inside; failures are for
// our logs and the pull reconciliation path.
func (h *MpesaWebhookHandler) Callback(c *gin.Context) {
	ack := func() {
		c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Success"})
	}

	var envelope payment.STKCallbackEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		log.Printf("[MPESA] malformed callback body: %v", err)
		metrics.IncCallback("malformed")
		ack()
		return
	}

	cb := &envelope.Body.StkCallback
	if err := h.processor.ApplyCallback(c.Request.Context(), cb); err != nil {
		log.Printf("[MPESA] callback reference=%s: %v", cb.CheckoutRequestID, err)
		metrics.IncCallback("error")
		ack()
		return
	}
	metrics.IncCallback("ok")
	ack()
}

// Validate answers Safaricom's C2B validation probe. Paybill validation is
// disabled upstream, so every probe is accepted.
func (h *MpesaWebhookHandler) Validate(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}
