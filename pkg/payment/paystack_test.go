package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newPaystackFixture(t *testing.T, chargeBody, verifyBody string) (*PaystackProvider, *int64, *paystackChargeRequest) {
	t.Helper()
	calls := new(int64)
	captured := &paystackChargeRequest{}
	mux := http.NewServeMux()
	mux.HandleFunc("/charge", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		_ = json.NewDecoder(r.Body).Decode(captured)
		fmt.Fprint(w, chargeBody)
	})
	mux.HandleFunc("/transaction/verify/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		fmt.Fprint(w, verifyBody)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	p := NewPaystackProvider(PaystackConfig{
		BaseURL:    server.URL,
		SecretKey:  "sk_test",
		PayerEmail: "checkout@sibolifesciences.com",
	})
	return p, calls, captured
}

func TestPaystackInitiateSuccess(t *testing.T) {
	p, _, captured := newPaystackFixture(t,
		`{"status":true,"message":"Charge attempted","data":{"reference":"psk_ref_1","status":"pay_offline"}}`, "")
	resp, err := p.InitiatePayment(context.Background(), PaymentRequest{
		OrderID:     "ORD-9",
		Phone:       "254704371652",
		AmountCents: 50000,
	})
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	if resp.Reference != "psk_ref_1" {
		t.Errorf("reference = %q", resp.Reference)
	}
	if captured.Amount != 50000 {
		t.Errorf("charge amount = %d minor units, want 50000", captured.Amount)
	}
	if captured.Currency != "KES" {
		t.Errorf("currency = %q", captured.Currency)
	}
	if captured.Email != "checkout@sibolifesciences.com" {
		t.Errorf("payer email = %q, want the configured synthetic address", captured.Email)
	}
	if captured.MobileMoney.Provider != "mpesa" {
		t.Errorf("mobile money provider = %q", captured.MobileMoney.Provider)
	}
	if captured.MobileMoney.Phone != "0704371652" {
		t.Errorf("phone = %q, want local 0-prefixed form derived from input", captured.MobileMoney.Phone)
	}
	if captured.Metadata["order_id"] != "ORD-9" {
		t.Errorf("metadata order_id = %q", captured.Metadata["order_id"])
	}
}

func TestPaystackInitiateDerivesPhoneFromInput(t *testing.T) {
	p, calls, captured := newPaystackFixture(t,
		`{"status":true,"data":{"reference":"r"}}`, "")
	// Malformed input must fail closed, never fall back to a fixed number.
	_, err := p.InitiatePayment(context.Background(), PaymentRequest{
		OrderID: "ORD-9", Phone: "12345", AmountCents: 100,
	})
	if !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("error = %v, want ErrInvalidPhone", err)
	}
	if atomic.LoadInt64(calls) != 0 {
		t.Error("charge attempted despite invalid phone")
	}
	if _, err := p.InitiatePayment(context.Background(), PaymentRequest{
		OrderID: "ORD-9", Phone: "0712345678", AmountCents: 100,
	}); err != nil {
		t.Fatal(err)
	}
	if captured.MobileMoney.Phone != "0712345678" {
		t.Errorf("phone = %q, want derived from the actual request", captured.MobileMoney.Phone)
	}
}

func TestPaystackInitiateRejected(t *testing.T) {
	p, _, _ := newPaystackFixture(t,
		`{"status":false,"message":"Invalid key"}`, "")
	_, err := p.InitiatePayment(context.Background(), PaymentRequest{
		OrderID: "ORD-9", Phone: "0704371652", AmountCents: 100,
	})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want ProviderError", err)
	}
	if pe.Message != "Invalid key" {
		t.Errorf("provider message = %q", pe.Message)
	}
}

func TestPaystackCheckStatus(t *testing.T) {
	cases := []struct {
		name       string
		verifyBody string
		wantStatus string
		check      func(t *testing.T, res *StatusResult)
	}{
		{
			name:       "success",
			verifyBody: `{"status":true,"data":{"status":"success","amount":50000,"currency":"KES","id":4099260516,"paid_at":"2025-09-01T12:15:30.000Z"}}`,
			wantStatus: StatusCompleted,
			check: func(t *testing.T, res *StatusResult) {
				if res.AmountCents != 50000 {
					t.Errorf("amount cents = %d", res.AmountCents)
				}
				if res.Receipt != "4099260516" {
					t.Errorf("receipt = %q", res.Receipt)
				}
			},
		},
		{
			name:       "pending is not terminal",
			verifyBody: `{"status":true,"data":{"status":"pending"}}`,
			wantStatus: StatusPending,
		},
		{
			name:       "declined carries gateway response",
			verifyBody: `{"status":true,"data":{"status":"failed","gateway_response":"Declined by customer"}}`,
			wantStatus: StatusFailed,
			check: func(t *testing.T, res *StatusResult) {
				if res.FailureReason != "Declined by customer" {
					t.Errorf("failure reason = %q", res.FailureReason)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _, _ := newPaystackFixture(t, "", tc.verifyBody)
			res, err := p.CheckStatus(context.Background(), "psk_ref_1")
			if err != nil {
				t.Fatalf("CheckStatus: %v", err)
			}
			if res.Status != tc.wantStatus {
				t.Fatalf("status = %q, want %q", res.Status, tc.wantStatus)
			}
			if tc.check != nil {
				tc.check(t, res)
			}
		})
	}
}
