package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenSafetyMargin is subtracted from the provider's expires_in so a
// token is never used right at the edge of its lifetime.
const tokenSafetyMargin = 100 * time.Second

// DarajaConfig holds the Safaricom Daraja credentials and merchant identity.
type DarajaConfig struct {
	BaseURL          string // e.g. https://api.safaricom.co.ke
	ConsumerKey      string
	ConsumerSecret   string
	ShortCode        string // merchant paybill
	PassKey          string
	CallbackURL      string // pre-registered with Safaricom
	AccountReference string // default account number when caller supplies none
	BusinessName     string
}

// DarajaProvider implements STK push against the Safaricom Daraja API.
// The access token is cached across requests and refreshed single-flight.
type DarajaProvider struct {
	cfg    DarajaConfig
	client *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	refresh     singleflight.Group

	now func() time.Time
}

func NewDarajaProvider(cfg DarajaConfig) *DarajaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.safaricom.co.ke"
	}
	return &DarajaProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}
}

func (p *DarajaProvider) Name() string { return ProviderDaraja }

type darajaTokenResp struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   interface{} `json:"expires_in"` // "3599" or 3599 depending on environment
}

// getAccessToken returns the cached bearer token, performing a
// client-credentials exchange when the cache is cold or near expiry.
// Concurrent cold-cache callers share one exchange.
func (p *DarajaProvider) getAccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.token != "" && p.now().Before(p.tokenExpiry) {
		token := p.token
		p.mu.Unlock()
		return token, nil
	}
	p.mu.Unlock()

	v, err, _ := p.refresh.Do("token", func() (interface{}, error) {
		// Another caller in the same flight may have refreshed already.
		p.mu.Lock()
		if p.token != "" && p.now().Before(p.tokenExpiry) {
			token := p.token
			p.mu.Unlock()
			return token, nil
		}
		p.mu.Unlock()
		return p.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *DarajaProvider) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(p.cfg.ConsumerKey + ":" + p.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Printf("[DARAJA] auth failed status=%d body=%s", resp.StatusCode, string(body))
		return "", fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}
	var out darajaTokenResp
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token", ErrAuthFailed)
	}
	ttl := expiresIn(out.ExpiresIn) - tokenSafetyMargin
	if ttl <= 0 {
		ttl = time.Second
	}
	p.mu.Lock()
	p.token = out.AccessToken
	p.tokenExpiry = p.now().Add(ttl)
	p.mu.Unlock()
	return out.AccessToken, nil
}

func expiresIn(v interface{}) time.Duration {
	switch t := v.(type) {
	case string:
		if secs, err := strconv.Atoi(t); err == nil {
			return time.Duration(secs) * time.Second
		}
	case float64:
		return time.Duration(t) * time.Second
	}
	return time.Hour
}

// stkPassword builds the timestamped request password:
// base64(shortCode + passKey + timestamp), timestamp YYYYMMDDHHmmss in
// the provider's local clock.
func stkPassword(shortCode, passKey string, t time.Time) (password, timestamp string) {
	timestamp = t.Format("20060102150405")
	password = base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
	return
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorMessage        string `json:"errorMessage"`
}

// buildSTKPayload constructs the signed push request. Pure; all network
// I/O stays in InitiatePayment.
func (p *DarajaProvider) buildSTKPayload(req PaymentRequest, msisdn string, t time.Time) stkPushRequest {
	password, timestamp := stkPassword(p.cfg.ShortCode, p.cfg.PassKey, t)
	accountRef := req.AccountRef
	if accountRef == "" {
		accountRef = p.cfg.AccountReference
	}
	desc := req.Description
	if desc == "" {
		desc = fmt.Sprintf("Payment for %s - Order %s", p.cfg.BusinessName, req.OrderID)
	}
	return stkPushRequest{
		BusinessShortCode: p.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            wholeKES(req.AmountCents),
		PartyA:            msisdn,
		PartyB:            p.cfg.ShortCode,
		PhoneNumber:       msisdn,
		CallBackURL:       p.cfg.CallbackURL,
		AccountReference:  accountRef,
		TransactionDesc:   desc,
	}
}

// wholeKES rounds minor units to the whole-shilling amount Daraja expects.
// Fractional currency is not supported; sub-shilling amounts charge 1 KES.
func wholeKES(cents int64) int64 {
	kes := (cents + 50) / 100
	if kes < 1 {
		kes = 1
	}
	return kes
}

func validateRequest(req PaymentRequest) error {
	if req.OrderID == "" {
		return fmt.Errorf("%w: missing orderId", ErrValidation)
	}
	if req.AmountCents < 1 {
		return fmt.Errorf("%w: amount must be at least 1", ErrValidation)
	}
	if req.Phone == "" {
		return fmt.Errorf("%w: missing phone", ErrValidation)
	}
	return nil
}

// InitiatePayment sends an STK push prompting the customer to authorize
// the debit on their phone.
func (p *DarajaProvider) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	msisdn, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}
	token, err := p.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	payload := p.buildSTKPayload(req, msisdn, p.now())
	body, _ := json.Marshal(payload)
	apiReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	apiReq.Header.Set("Content-Type", "application/json")
	apiReq.Header.Set("Authorization", "Bearer "+token)
	log.Printf("[DARAJA] STK push order_id=%s phone=%s amount=%d paybill=%s account=%s",
		req.OrderID, msisdn, payload.Amount, p.cfg.ShortCode, payload.AccountReference)
	resp, err := p.client.Do(apiReq)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	var out stkPushResponse
	if err := json.Unmarshal(respBody, &out); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("daraja: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.ResponseCode != "0" {
		msg := out.ErrorMessage
		if msg == "" {
			msg = out.ResponseDescription
		}
		if msg == "" {
			msg = string(respBody)
		}
		log.Printf("[DARAJA] STK push rejected order_id=%s status=%d body=%s", req.OrderID, resp.StatusCode, string(respBody))
		return nil, &ProviderError{Provider: ProviderDaraja, Code: out.ResponseCode, Message: msg}
	}
	log.Printf("[DARAJA] STK push accepted order_id=%s checkout_request_id=%s", req.OrderID, out.CheckoutRequestID)
	msg := out.CustomerMessage
	if msg == "" {
		msg = fmt.Sprintf("Pay %s KSh %d. Enter M-Pesa PIN", p.cfg.BusinessName, payload.Amount)
	}
	return &PaymentResponse{
		Reference:       out.CheckoutRequestID,
		Status:          StatusPending,
		ResponseCode:    out.ResponseCode,
		CustomerMessage: msg,
	}, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode       string            `json:"ResponseCode"`
	ResultCode         string            `json:"ResultCode"`
	ResultDesc         string            `json:"ResultDesc"`
	MpesaReceiptNumber string            `json:"MpesaReceiptNumber"`
	PhoneNumber        interface{}       `json:"PhoneNumber"`
	Amount             interface{}       `json:"Amount"`
	TransactionDate    interface{}       `json:"TransactionDate"`
	CallbackMetadata   *CallbackMetadata `json:"CallbackMetadata"`
	ErrorMessage       string            `json:"errorMessage"`
}

// CheckStatus queries the outcome of a push attempt by CheckoutRequestID.
// A fresh timestamp and password are generated per query.
func (p *DarajaProvider) CheckStatus(ctx context.Context, reference string) (*StatusResult, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: missing reference", ErrValidation)
	}
	token, err := p.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	password, timestamp := stkPassword(p.cfg.ShortCode, p.cfg.PassKey, p.now())
	payload := stkQueryRequest{
		BusinessShortCode: p.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: reference,
	}
	body, _ := json.Marshal(payload)
	apiReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/mpesa/stkpushquery/v1/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	apiReq.Header.Set("Content-Type", "application/json")
	apiReq.Header.Set("Authorization", "Bearer "+token)
	resp, err := p.client.Do(apiReq)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Printf("[DARAJA] query failed reference=%s status=%d body=%s", reference, resp.StatusCode, string(respBody))
		var out stkQueryResponse
		_ = json.Unmarshal(respBody, &out)
		return nil, &ProviderError{Provider: ProviderDaraja, Code: strconv.Itoa(resp.StatusCode), Message: firstNonEmpty(out.ErrorMessage, string(respBody))}
	}
	var out stkQueryResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("daraja: decode query response: %w", err)
	}
	if out.ResultCode != "0" {
		log.Printf("[DARAJA] payment failed reference=%s result_code=%s desc=%s", reference, out.ResultCode, out.ResultDesc)
		return &StatusResult{Status: StatusFailed, FailureReason: out.ResultDesc}, nil
	}
	res := &StatusResult{
		Status:          StatusCompleted,
		Receipt:         out.MpesaReceiptNumber,
		Phone:           asString(out.PhoneNumber),
		AmountCents:     asAmountCents(out.Amount),
		TransactionDate: asString(out.TransactionDate),
	}
	// Some environments return the detail as a metadata array instead of
	// flat fields; item order is not guaranteed.
	if out.CallbackMetadata != nil {
		receipt, phone, amountCents, txDate := out.CallbackMetadata.Receipt()
		if res.Receipt == "" {
			res.Receipt = receipt
		}
		if res.Phone == "" {
			res.Phone = phone
		}
		if res.AmountCents == 0 {
			res.AmountCents = amountCents
		}
		if res.TransactionDate == "" {
			res.TransactionDate = txDate
		}
	}
	log.Printf("[DARAJA] payment completed reference=%s receipt=%s amount_cents=%d", reference, res.Receipt, res.AmountCents)
	return res, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
