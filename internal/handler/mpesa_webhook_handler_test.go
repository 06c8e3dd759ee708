package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sibostore/pkg/payment"

	"github.com/gin-gonic/gin"
)

type recordingProcessor struct {
	cb  *payment.STKCallback
	err error
}

func (p *recordingProcessor) ApplyCallback(ctx context.Context, cb *payment.STKCallback) error {
	p.cb = cb
	return p.err
}

func newWebhookRouter(p CallbackProcessor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewMpesaWebhookHandler(p)
	r.POST("/api/mpesa/callback", h.Callback)
	r.GET("/api/mpesa/validate", h.Validate)
	return r
}

func assertAck(t *testing.T, w *httptest.ResponseRecorder, wantDesc string) {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		ResultCode int    `json:"ResultCode"`
		ResultDesc string `json:"ResultDesc"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if body.ResultCode != 0 || body.ResultDesc != wantDesc {
		t.Fatalf("ack = %+v, want ResultCode 0 %q", body, wantDesc)
	}
}

func TestCallbackAcknowledgesAndDispatches(t *testing.T) {
	p := &recordingProcessor{}
	r := newWebhookRouter(p)

	body := `{
	  "Body": {
	    "stkCallback": {
	      "MerchantRequestID": "29115-34620561-1",
	      "CheckoutRequestID": "ws_CO_191220191021363925",
	      "ResultCode": 0,
	      "ResultDesc": "The service request is processed successfully.",
	      "CallbackMetadata": {
	        "Item": [
	          {"Name": "Amount", "Value": 500.0},
	          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
	          {"Name": "PhoneNumber", "Value": 254704371652}
	        ]
	      }
	    }
	  }
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/mpesa/callback", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assertAck(t, w, "Success")
	if p.cb == nil {
		t.Fatal("callback not dispatched to processor")
	}
	if p.cb.CheckoutRequestID != "ws_CO_191220191021363925" {
		t.Errorf("CheckoutRequestID = %q", p.cb.CheckoutRequestID)
	}
	res := p.cb.Result()
	if res.Status != payment.StatusCompleted || res.Receipt != "NLJ7RT61SV" || res.AmountCents != 50000 {
		t.Errorf("result = %+v", res)
	}
}

func TestCallbackAcksMalformedBody(t *testing.T) {
	p := &recordingProcessor{}
	r := newWebhookRouter(p)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/mpesa/callback", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assertAck(t, w, "Success")
	if p.cb != nil {
		t.Error("malformed body must not reach the processor")
	}
}

func TestCallbackAcksProcessorFailure(t *testing.T) {
	p := &recordingProcessor{err: errors.New("db down")}
	r := newWebhookRouter(p)

	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_1","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/mpesa/callback", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assertAck(t, w, "Success")
}

func TestValidateAccepts(t *testing.T) {
	r := newWebhookRouter(&recordingProcessor{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/mpesa/validate", nil)
	r.ServeHTTP(w, req)

	assertAck(t, w, "Accepted")
}
