package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

// PaystackConfig holds the aggregator credentials. PayerEmail is the
// synthetic checkout email Paystack requires; there is no verified
// customer email at checkout time.
type PaystackConfig struct {
	BaseURL    string // e.g. https://api.paystack.co
	SecretKey  string
	PayerEmail string
}

// PaystackProvider implements the M-Pesa charge via Paystack's
// mobile-money API.
type PaystackProvider struct {
	cfg    PaystackConfig
	client *http.Client
}

func NewPaystackProvider(cfg PaystackConfig) *PaystackProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.paystack.co"
	}
	return &PaystackProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PaystackProvider) Name() string { return ProviderPaystack }

type paystackMobileMoney struct {
	Phone    string `json:"phone"`
	Provider string `json:"provider"`
}

type paystackChargeRequest struct {
	Email       string              `json:"email"`
	Amount      int64               `json:"amount"` // minor units
	Currency    string              `json:"currency"`
	MobileMoney paystackMobileMoney `json:"mobile_money"`
	Metadata    map[string]string   `json:"metadata"`
}

type paystackChargeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	} `json:"data"`
}

// InitiatePayment charges the customer's mobile-money wallet. The phone is
// always derived from the request; malformed input fails closed.
func (p *PaystackProvider) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	msisdn, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}
	currency := req.Currency
	if currency == "" {
		currency = "KES"
	}
	payload := paystackChargeRequest{
		Email:    p.cfg.PayerEmail,
		Amount:   req.AmountCents,
		Currency: currency,
		MobileMoney: paystackMobileMoney{
			// Paystack takes the local 07XX/01XX form.
			Phone:    "0" + msisdn[3:],
			Provider: "mpesa",
		},
		Metadata: map[string]string{
			"order_id":       req.OrderID,
			"customer_phone": req.Phone,
		},
	}
	body, _ := json.Marshal(payload)
	apiReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/charge", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	apiReq.Header.Set("Content-Type", "application/json")
	apiReq.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	log.Printf("[PAYSTACK] charge order_id=%s phone=%s amount_minor=%d", req.OrderID, payload.MobileMoney.Phone, req.AmountCents)
	resp, err := p.client.Do(apiReq)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	var out paystackChargeResponse
	if err := json.Unmarshal(respBody, &out); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("paystack: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !out.Status {
		log.Printf("[PAYSTACK] charge rejected order_id=%s status=%d body=%s", req.OrderID, resp.StatusCode, string(respBody))
		msg := out.Message
		if msg == "" {
			msg = "Paystack payment failed"
		}
		return nil, &ProviderError{Provider: ProviderPaystack, Code: strconv.Itoa(resp.StatusCode), Message: msg}
	}
	log.Printf("[PAYSTACK] charge accepted order_id=%s reference=%s", req.OrderID, out.Data.Reference)
	return &PaymentResponse{
		Reference:       out.Data.Reference,
		Status:          StatusPending,
		ResponseCode:    out.Data.Status,
		CustomerMessage: "M-Pesa request sent! Check your phone for PIN prompt.",
	}, nil
}

type paystackVerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status          string `json:"status"`
		Amount          int64  `json:"amount"` // minor units
		Currency        string `json:"currency"`
		ID              int64  `json:"id"`
		PaidAt          string `json:"paid_at"`
		GatewayResponse string `json:"gateway_response"`
	} `json:"data"`
}

// CheckStatus verifies a charge by its reference. "pending" is not
// terminal; the caller should retry later.
func (p *PaystackProvider) CheckStatus(ctx context.Context, reference string) (*StatusResult, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: missing reference", ErrValidation)
	}
	apiReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.cfg.BaseURL+"/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, err
	}
	apiReq.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	resp, err := p.client.Do(apiReq)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Printf("[PAYSTACK] verify failed reference=%s status=%d body=%s", reference, resp.StatusCode, string(respBody))
		return nil, &ProviderError{Provider: ProviderPaystack, Code: strconv.Itoa(resp.StatusCode), Message: "failed to verify transaction"}
	}
	var out paystackVerifyResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("paystack: decode verify response: %w", err)
	}
	switch out.Data.Status {
	case "success":
		return &StatusResult{
			Status:          StatusCompleted,
			Receipt:         strconv.FormatInt(out.Data.ID, 10),
			AmountCents:     out.Data.Amount,
			TransactionDate: out.Data.PaidAt,
		}, nil
	case "pending", "ongoing", "send_otp":
		return &StatusResult{Status: StatusPending}, nil
	default:
		reason := out.Data.GatewayResponse
		if reason == "" {
			reason = "Payment failed"
		}
		return &StatusResult{Status: StatusFailed, FailureReason: reason}, nil
	}
}
