package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/models"
)

func chargeRequest() ChargeRequest {
	return ChargeRequest{
		ReceiptID:     "01J0000000000000000000000A",
		ReceiptNumber: "OR-2026-CSS-000001-AAAA",
		Amount:        decimal.RequireFromString("500.00"),
		Currency:      "PHP",
		Description:   "Membership fee",
		PayerName:     "Juan Dela Cruz",
		PayerEmail:    "juan@example.com",
		PayerPhone:    "+639171234567",
	}
}

func TestSimulatedDeterministicWithSeed(t *testing.T) {
	a := NewSimulated("sim", 0, 0.5, 42, zap.NewNop())
	b := NewSimulated("sim", 0, 0.5, 42, zap.NewNop())
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		ra, errA := a.SendEmail(ctx, "juan@example.com", Message{})
		rb, errB := b.SendEmail(ctx, "juan@example.com", Message{})
		if errA != nil || errB != nil {
			t.Fatalf("unexpected errors %v %v", errA, errB)
		}
		if ra.Status != rb.Status {
			t.Fatalf("call %d diverged: %s vs %s", i, ra.Status, rb.Status)
		}
	}
}

func TestSimulatedFailureRateBounds(t *testing.T) {
	ctx := context.Background()
	always := NewSimulated("ok", 0, 0, 1, zap.NewNop())
	never := NewSimulated("down", 0, 1, 1, zap.NewNop())

	res, err := always.Charge(ctx, chargeRequest())
	if err != nil || res.Status != models.StatusCompleted || res.ProviderRef == "" {
		t.Fatalf("expected completed charge, got %+v err=%v", res, err)
	}
	res, err = always.SendSMS(ctx, "+639171234567", Message{})
	if err != nil || res.Status != models.StatusSent {
		t.Fatalf("expected sent sms, got %+v err=%v", res, err)
	}
	res, err = never.SendEmail(ctx, "juan@example.com", Message{})
	if err != nil || res.Status != models.StatusFailed {
		t.Fatalf("expected declared failure, got %+v err=%v", res, err)
	}
}

func TestSimulatedRejectsMalformedInput(t *testing.T) {
	sim := NewSimulated("sim", 0, 0, 1, zap.NewNop())
	ctx := context.Background()
	req := chargeRequest()
	req.Amount = decimal.Zero
	if _, err := sim.Charge(ctx, req); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero amount, got %v", err)
	}
	if _, err := sim.SendEmail(ctx, "not-an-email", Message{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad email, got %v", err)
	}
	if _, err := sim.SendSMS(ctx, " ", Message{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty phone, got %v", err)
	}
}

func TestSimulatedHonoursContext(t *testing.T) {
	sim := NewSimulated("slow", time.Second, 0, 1, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := sim.SendEmail(ctx, "juan@example.com", Message{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestXenditChargeCreatesInvoice(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/invoices" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("sk_test:"))
		if r.Header.Get("Authorization") != wantAuth {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"inv_123","status":"PENDING","invoice_url":"https://checkout/inv_123"}`))
	}))
	defer srv.Close()

	x := NewXendit(XenditConfig{SecretKey: "sk_test", BaseURL: srv.URL, PublicURL: "https://recetra.test"}, srv.Client(), zap.NewNop())
	res, err := x.Charge(context.Background(), chargeRequest())
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if res.Status != models.StatusPending || res.ProviderRef != "inv_123" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got["external_id"] != "01J0000000000000000000000A" || got["currency"] != "PHP" {
		t.Fatalf("unexpected invoice body %v", got)
	}
	if got["amount"] != 500.0 {
		t.Fatalf("unexpected amount %v", got["amount"])
	}
}

func TestXenditChargeErrorClasses(t *testing.T) {
	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error_code":"X"}`))
	}))
	defer srv.Close()
	x := NewXendit(XenditConfig{SecretKey: "sk", BaseURL: srv.URL}, srv.Client(), zap.NewNop())

	if _, err := x.Charge(context.Background(), chargeRequest()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput on 400, got %v", err)
	}

	status = http.StatusServiceUnavailable
	res, err := x.Charge(context.Background(), chargeRequest())
	if err != nil || res.Status != models.StatusFailed {
		t.Fatalf("expected declared failure on 503, got %+v err=%v", res, err)
	}

	req := chargeRequest()
	req.PayerEmail = ""
	if _, err := x.Charge(context.Background(), req); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without email, got %v", err)
	}
}

func TestInvoiceWebhookOutcome(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	parse := func(body string) InvoiceWebhook {
		var w InvoiceWebhook
		if err := json.Unmarshal([]byte(body), &w); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return w
	}

	out, ok, err := parse(`{"event":"invoice.paid","data":{"id":"inv_1","external_id":"rcpt-1","status":"PAID"}}`).Outcome(now)
	if err != nil || !ok {
		t.Fatalf("paid: ok=%v err=%v", ok, err)
	}
	if out.ReceiptID != "rcpt-1" || out.Channel != models.ChannelPayment || out.Status != models.StatusCompleted || out.ProviderRef != "inv_1" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	out, ok, err = parse(`{"event":"invoice.expired","data":{"id":"inv_1","external_id":"rcpt-1","status":"EXPIRED"}}`).Outcome(now)
	if err != nil || !ok || out.Status != models.StatusFailed {
		t.Fatalf("expired: %+v ok=%v err=%v", out, ok, err)
	}

	if _, ok, err := parse(`{"event":"invoice.created","data":{"id":"inv_1","external_id":"rcpt-1","status":"PENDING"}}`).Outcome(now); ok || err != nil {
		t.Fatalf("pending should carry no outcome: ok=%v err=%v", ok, err)
	}
	if _, ok, err := parse(`{"event":"ph_disbursement.completed","data":{"id":"d_1"}}`).Outcome(now); ok || err != nil {
		t.Fatalf("foreign event should be ignored: ok=%v err=%v", ok, err)
	}
	if _, _, err := parse(`{"event":"invoice.paid","data":{"id":"inv_1","status":"PAID"}}`).Outcome(now); err == nil {
		t.Fatal("expected error without external_id")
	}
	if _, _, err := parse(`{"event":"invoice.paid","data":{"id":"inv_1","external_id":"r","status":"WAT"}}`).Outcome(now); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestMaskSensitiveFields(t *testing.T) {
	masked := string(maskSensitiveFields([]byte(`{"payer_email":"juan@example.com","customer":{"email":"juan@example.com","mobile_number":"+639171234567"}}`)))
	if strings.Contains(masked, "juan@example.com") || strings.Contains(masked, "+639171234567") {
		t.Fatalf("sensitive data leaked: %s", masked)
	}
	if !strings.Contains(masked, "jua****@example.com") || !strings.Contains(masked, "****4567") {
		t.Fatalf("unexpected masking: %s", masked)
	}
}

func TestXenditPaymentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, _, _ := r.BasicAuth(); user != "sk" {
			t.Errorf("missing basic auth")
		}
		switch r.URL.Path {
		case "/v2/invoices/inv_paid":
			_, _ = w.Write([]byte(`{"id":"inv_paid","status":"SETTLED"}`))
		case "/v2/invoices/inv_open":
			_, _ = w.Write([]byte(`{"id":"inv_open","status":"PENDING"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	x := NewXendit(XenditConfig{SecretKey: "sk", BaseURL: srv.URL}, srv.Client(), zap.NewNop())

	var _ PaymentStatusChecker = x
	res, err := x.PaymentStatus(context.Background(), "inv_paid")
	if err != nil || res.Status != models.StatusCompleted || res.ProviderRef != "inv_paid" {
		t.Fatalf("paid invoice: %+v %v", res, err)
	}
	res, err = x.PaymentStatus(context.Background(), "inv_open")
	if err != nil || res.Status != models.StatusPending {
		t.Fatalf("open invoice: %+v %v", res, err)
	}
	if _, err := x.PaymentStatus(context.Background(), "missing"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing invoice: %v", err)
	}
}

func TestXenditChargeReusesInvoiceForSameKey(t *testing.T) {
	var (
		mu      sync.Mutex
		created = map[string]string{}
		posts   int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v2/invoices":
			posts++
			key := r.Header.Get("X-IDEMPOTENCY-KEY")
			if key == "" {
				t.Errorf("charge sent without idempotency key")
			}
			if _, seen := created[key]; seen {
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(`{"error_code":"DUPLICATE_ERROR"}`))
				return
			}
			created[key] = "inv_1"
			_, _ = w.Write([]byte(`{"id":"inv_1","status":"PENDING","invoice_url":"https://checkout/inv_1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v2/invoices":
			if r.URL.Query().Get("external_id") != "01J0000000000000000000000A" {
				t.Errorf("unexpected lookup %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`[{"id":"inv_1","status":"PENDING","invoice_url":"https://checkout/inv_1"}]`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	x := NewXendit(XenditConfig{SecretKey: "sk", BaseURL: srv.URL}, srv.Client(), zap.NewNop())

	req := chargeRequest()
	req.IdempotencyKey = req.ReceiptID + "-payment-0"
	first, err := x.Charge(context.Background(), req)
	if err != nil {
		t.Fatalf("first charge: %v", err)
	}
	second, err := x.Charge(context.Background(), req)
	if err != nil {
		t.Fatalf("repeated charge: %v", err)
	}
	if first.ProviderRef != "inv_1" || second.ProviderRef != "inv_1" || second.Status != models.StatusPending {
		t.Fatalf("expected the same invoice, got %+v and %+v", first, second)
	}
	mu.Lock()
	defer mu.Unlock()
	if posts != 2 || len(created) != 1 {
		t.Fatalf("posts=%d invoices=%d", posts, len(created))
	}
}
