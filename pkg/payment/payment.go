package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Transaction status values. A transaction leaves PENDING exactly once.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Provider names used for status-check routing.
const (
	ProviderDaraja   = "daraja"
	ProviderPaystack = "paystack"
)

// PaymentRequest describes one initiation attempt. Immutable once sent.
type PaymentRequest struct {
	OrderID     string
	Phone       string // raw customer input; normalized by the provider
	AmountCents int64  // minor units (KES cents)
	Currency    string
	AccountRef  string // falls back to the provider's configured default
	Description string
}

// PaymentResponse is the normalized initiation result. Reference is the
// provider-assigned correlation ID (CheckoutRequestID for Daraja, the
// charge reference for Paystack).
type PaymentResponse struct {
	Reference       string
	Status          string
	ResponseCode    string
	CustomerMessage string
}

// StatusResult is the normalized outcome of a status check or callback.
type StatusResult struct {
	Status          string
	Receipt         string
	Phone           string
	AmountCents     int64
	TransactionDate string
	FailureReason   string
}

// Provider is a mobile-money gateway capable of initiating a payment and
// checking its status by reference.
type Provider interface {
	Name() string
	InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error)
	CheckStatus(ctx context.Context, reference string) (*StatusResult, error)
}

var (
	// ErrInvalidPhone means the customer phone could not be normalized.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrValidation means a required field was missing or out of range,
	// caught before any network call.
	ErrValidation = errors.New("validation failed")
	// ErrAuthFailed means the provider credential exchange failed.
	ErrAuthFailed = errors.New("provider authentication failed")
	// ErrNetworkTimeout means the provider call exceeded its deadline.
	ErrNetworkTimeout = errors.New("payment request timeout")
	// ErrNetwork is a connection-level failure below HTTP.
	ErrNetwork = errors.New("network error")
	// ErrReconciliationConflict means a push and a pull result disagree
	// on the terminal state of the same reference.
	ErrReconciliationConflict = errors.New("reconciliation conflict")
)

// ProviderError carries the provider's own rejection message. The message
// is kept for server logs; handlers decide what reaches the client.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s rejected request (code=%s): %s", e.Provider, e.Code, e.Message)
}

// classifyNetErr maps transport failures onto the timeout/network split.
func classifyNetErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// MetadataItem is one entry of the provider's CallbackMetadata array.
// Item order is not guaranteed; always look up by Name.
type MetadataItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// CallbackMetadata is the flexible key-value block Daraja attaches to
// successful results.
type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

// Receipt extracts receipt number, phone, amount (minor units) and
// transaction date from the metadata items by name.
func (m CallbackMetadata) Receipt() (receipt, phone string, amountCents int64, txDate string) {
	for _, item := range m.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			receipt = asString(item.Value)
		case "PhoneNumber":
			phone = asString(item.Value)
		case "Amount":
			amountCents = asAmountCents(item.Value)
		case "TransactionDate":
			txDate = asString(item.Value)
		}
	}
	return
}

// asString renders a metadata value; Daraja sends phone numbers and dates
// as JSON numbers.
func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// asAmountCents converts a whole-KES metadata value to minor units.
func asAmountCents(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t*100 + 0.5)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return int64(f*100 + 0.5)
	default:
		return 0
	}
}

// STKCallback is the nested result Safaricom pushes to the callback URL.
type STKCallback struct {
	MerchantRequestID string           `json:"MerchantRequestID"`
	CheckoutRequestID string           `json:"CheckoutRequestID"`
	ResultCode        int              `json:"ResultCode"`
	ResultDesc        string           `json:"ResultDesc"`
	CallbackMetadata  CallbackMetadata `json:"CallbackMetadata"`
}

// STKCallbackEnvelope is the outer body shape of the push notification.
type STKCallbackEnvelope struct {
	Body struct {
		StkCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// Result converts a callback into the normalized status form.
func (cb *STKCallback) Result() *StatusResult {
	if cb.ResultCode == 0 {
		receipt, phone, amountCents, txDate := cb.CallbackMetadata.Receipt()
		return &StatusResult{
			Status:          StatusCompleted,
			Receipt:         receipt,
			Phone:           phone,
			AmountCents:     amountCents,
			TransactionDate: txDate,
		}
	}
	reason := cb.ResultDesc
	if reason == "" {
		reason = "Payment failed"
	}
	return &StatusResult{Status: StatusFailed, FailureReason: reason}
}
