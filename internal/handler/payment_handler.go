package handler

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"sibostore/config"
	"sibostore/internal/models"
	"sibostore/internal/service"
	"sibostore/pkg/metrics"
	"sibostore/pkg/payment"

	"github.com/gin-gonic/gin"
)

// TransactionWriter is the slice of the transaction repository the
// handler writes through.
type TransactionWriter interface {
	Create(*models.PaymentTransaction) error
}

type PaymentHandler struct {
	transactions TransactionWriter
	reconciler   *service.Reconciler
	providers    map[string]payment.Provider
	audit        service.AuditStore
	cfg          *config.Config
}

func NewPaymentHandler(transactions TransactionWriter, reconciler *service.Reconciler, providers map[string]payment.Provider, audit service.AuditStore, cfg *config.Config) *PaymentHandler {
	return &PaymentHandler{
		transactions: transactions,
		reconciler:   reconciler,
		providers:    providers,
		audit:        audit,
		cfg:          cfg,
	}
}

// auditInitiate records every money-moving attempt, accepted or not.
func (h *PaymentHandler) auditInitiate(c *gin.Context, req initiateRequest, provider, reference, outcome string) {
	if h.audit == nil {
		return
	}
	_ = h.audit.Create(&models.AuditLog{
		Action:     "payment_initiate",
		Resource:   "payment_transaction",
		ResourceID: reference,
		Detail:     fmt.Sprintf("order=%s provider=%s amount_kes=%d outcome=%s", req.OrderID, provider, req.AmountKES, outcome),
		IP:         c.ClientIP(),
	})
}

type initiateRequest struct {
	Phone            string `json:"phone" binding:"required"`
	AmountKES        int64  `json:"amount_kes" binding:"required,min=1"`
	OrderID          string `json:"order_id" binding:"required"`
	AccountReference string `json:"account_reference"`
	Provider         string `json:"provider"`
}

// Initiate starts a mobile-money charge for an order. The transaction row
// is created only after the provider accepts the request, so every stored
// reference is one the provider knows about.
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone, amount_kes and order_id are required"})
		return
	}

	name := req.Provider
	if name == "" {
		name = h.cfg.Payment.DefaultProvider
	}
	provider, ok := h.providers[name]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown provider %q", name)})
		return
	}

	accountRef := req.AccountReference
	if accountRef == "" {
		accountRef = h.cfg.Daraja.AccountReference
	}

	start := time.Now()
	resp, err := provider.InitiatePayment(c.Request.Context(), payment.PaymentRequest{
		OrderID:     req.OrderID,
		Phone:       req.Phone,
		AmountCents: req.AmountKES * 100,
		Currency:    "KES",
		AccountRef:  accountRef,
		Description: h.cfg.Payment.BusinessName,
	})
	if err != nil {
		metrics.ObserveProviderCall(name, "initiate", "error", time.Since(start).Seconds())
		h.auditInitiate(c, req, name, "", "rejected")
		status, msg := mapInitiateError(err)
		log.Printf("[PAYMENT] initiate order=%s provider=%s: %v", req.OrderID, name, err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	metrics.ObserveProviderCall(name, "initiate", "ok", time.Since(start).Seconds())
	h.auditInitiate(c, req, name, resp.Reference, "accepted")

	normalized, err := payment.NormalizePhone(req.Phone)
	if err != nil {
		// Unreachable after a successful initiate, but never store raw input.
		normalized = ""
	}
	tx := &models.PaymentTransaction{
		Reference:   resp.Reference,
		OrderNumber: req.OrderID,
		Provider:    name,
		Status:      payment.StatusPending,
		AmountCents: req.AmountKES * 100,
		Currency:    "KES",
		PayerPhone:  normalized,
	}
	if err := h.transactions.Create(tx); err != nil {
		log.Printf("[PAYMENT] store transaction %s: %v", resp.Reference, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record transaction"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reference":        resp.Reference,
		"status":           resp.Status,
		"provider":         name,
		"customer_message": resp.CustomerMessage,
	})
}

// Status reconciles a reference against its provider and returns the
// recorded state. A 409 means the provider and our records disagree; the
// body carries what we recorded.
func (h *PaymentHandler) Status(c *gin.Context) {
	reference := c.Param("reference")
	res, err := h.reconciler.Check(c.Request.Context(), reference)
	if err != nil {
		if errors.Is(err, payment.ErrReconciliationConflict) {
			c.JSON(http.StatusConflict, gin.H{
				"error":  "provider result conflicts with recorded status",
				"status": res.Status,
			})
			return
		}
		status, msg := mapStatusError(err)
		log.Printf("[PAYMENT] status reference=%s: %v", reference, err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	body := gin.H{
		"reference": reference,
		"status":    res.Status,
	}
	if res.Receipt != "" {
		body["receipt"] = res.Receipt
	}
	if res.FailureReason != "" {
		body["failure_reason"] = res.FailureReason
	}
	c.JSON(http.StatusOK, body)
}

// Instructions returns the manual paybill details shown at checkout for
// customers who pay from the M-Pesa menu instead of the STK prompt.
func (h *PaymentHandler) Instructions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"business_name":     h.cfg.Payment.BusinessName,
		"paybill_number":    h.cfg.Daraja.ShortCode,
		"account_reference": h.cfg.Daraja.AccountReference,
	})
}

func mapInitiateError(err error) (int, string) {
	switch {
	case errors.Is(err, payment.ErrInvalidPhone):
		return http.StatusBadRequest, "invalid phone number, use format 07XXXXXXXX or 2547XXXXXXXX"
	case errors.Is(err, payment.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, payment.ErrNetworkTimeout):
		return http.StatusGatewayTimeout, "Payment request timeout. Please try again."
	case errors.Is(err, payment.ErrAuthFailed), errors.Is(err, payment.ErrNetwork):
		return http.StatusBadGateway, "payment provider unavailable"
	}
	var pe *payment.ProviderError
	if errors.As(err, &pe) {
		return http.StatusBadGateway, pe.Message
	}
	return http.StatusInternalServerError, "payment initiation failed"
}

func mapStatusError(err error) (int, string) {
	switch {
	case errors.Is(err, payment.ErrNetworkTimeout):
		return http.StatusGatewayTimeout, "Payment request timeout. Please try again."
	case errors.Is(err, payment.ErrAuthFailed), errors.Is(err, payment.ErrNetwork):
		return http.StatusBadGateway, "payment provider unavailable"
	}
	var pe *payment.ProviderError
	if errors.As(err, &pe) {
		return http.StatusBadGateway, pe.Message
	}
	return http.StatusNotFound, "unknown payment reference"
}
