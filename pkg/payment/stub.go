package payment

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StubProvider is a no-op provider for development; it accepts every
// initiation and completes every status check.
type StubProvider struct{}

func NewStubProvider() *StubProvider { return &StubProvider{} }

func (s *StubProvider) Name() string { return "stub" }

func (s *StubProvider) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if _, err := NormalizePhone(req.Phone); err != nil {
		return nil, err
	}
	return &PaymentResponse{
		Reference:       fmt.Sprintf("stub_%d", time.Now().UnixNano()),
		Status:          StatusPending,
		ResponseCode:    "0",
		CustomerMessage: "Stub payment initiated",
	}, nil
}

func (s *StubProvider) CheckStatus(ctx context.Context, reference string) (*StatusResult, error) {
	if !strings.HasPrefix(reference, "stub_") {
		return &StatusResult{Status: StatusFailed, FailureReason: "unknown reference"}, nil
	}
	return &StatusResult{Status: StatusCompleted, Receipt: "STUB" + reference[5:], AmountCents: 0}, nil
}
