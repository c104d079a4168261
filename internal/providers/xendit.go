package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/models"
)

const defaultXenditBaseURL = "https://api.xendit.co"

type XenditConfig struct {
	SecretKey string
	BaseURL   string
	// PublicURL is where the payer is sent back after checkout.
	PublicURL string
	// InvoiceDuration is how long the payer has to pay, in seconds.
	InvoiceDuration int
}

// Xendit charges payers through Xendit invoices (GCash). The invoice is
// created pending; the final outcome arrives through the invoice webhook.
type Xendit struct {
	cfg    XenditConfig
	client *http.Client
	logger *zap.Logger
}

func NewXendit(cfg XenditConfig, client *http.Client, logger *zap.Logger) *Xendit {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultXenditBaseURL
	}
	if cfg.InvoiceDuration == 0 {
		cfg.InvoiceDuration = 172800
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Xendit{cfg: cfg, client: client, logger: logger}
}

type invoiceResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	InvoiceURL string `json:"invoice_url"`
}

func (x *Xendit) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	if !req.Amount.IsPositive() {
		return Result{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if req.PayerEmail == "" {
		return Result{}, fmt.Errorf("%w: payer email required for invoice creation", ErrInvalidInput)
	}

	amount, _ := req.Amount.Round(2).Float64()
	invoiceReq := map[string]interface{}{
		"external_id":          req.ReceiptID,
		"amount":               amount,
		"currency":             req.Currency,
		"description":          req.Description,
		"payer_email":          req.PayerEmail,
		"success_redirect_url": x.cfg.PublicURL + "/api/receipts/" + req.ReceiptID,
		"failure_redirect_url": x.cfg.PublicURL + "/api/receipts/" + req.ReceiptID,
		"payment_methods":      []string{"GCASH"},
		"invoice_duration":     fmt.Sprint(x.cfg.InvoiceDuration),
		"customer": map[string]interface{}{
			"given_names":   req.PayerName,
			"email":         req.PayerEmail,
			"mobile_number": req.PayerPhone,
		},
		"items": []map[string]interface{}{
			{
				"name":     req.ReceiptNumber,
				"price":    amount,
				"quantity": 1,
			},
		},
	}
	reqBody, err := json.Marshal(invoiceReq)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal invoice request: %w", err)
	}
	x.logger.Debug("xendit invoice request", zap.ByteString("body", maskSensitiveFields(reqBody)))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, x.cfg.BaseURL+"/v2/invoices", bytes.NewReader(reqBody))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create invoice request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(x.cfg.SecretKey+":")))
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("X-IDEMPOTENCY-KEY", req.IdempotencyKey)
	}

	resp, err := x.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("invoice request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		// An earlier attempt with the same key got through.
		x.logger.Info("xendit invoice already exists", zap.String("receipt_id", req.ReceiptID))
		return x.invoiceByExternalID(ctx, req.ReceiptID)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		body, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("%w: xendit status %d: %s", ErrInvalidInput, resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return Result{Status: models.StatusFailed, Detail: fmt.Sprintf("xendit status %d: %s", resp.StatusCode, string(body))}, nil
	}

	var invoice invoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return Result{}, fmt.Errorf("failed to decode invoice response: %w", err)
	}
	status, ok := invoiceStatus(invoice.Status)
	if !ok {
		return Result{}, fmt.Errorf("invalid invoice status: %s", invoice.Status)
	}
	x.logger.Info("xendit invoice created",
		zap.String("receipt_id", req.ReceiptID),
		zap.String("invoice_id", invoice.ID),
		zap.String("status", invoice.Status),
		zap.String("checkout_url", invoice.InvoiceURL),
	)
	return Result{Status: status, ProviderRef: invoice.ID, Detail: invoice.InvoiceURL}, nil
}

// PaymentStatus looks up an invoice by id, for payments whose webhook never
// arrived.
func (x *Xendit) PaymentStatus(ctx context.Context, providerRef string) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, x.cfg.BaseURL+"/v2/invoices/"+providerRef, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create invoice status request: %w", err)
	}
	httpReq.SetBasicAuth(x.cfg.SecretKey, "")

	resp, err := x.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("invoice status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Result{}, fmt.Errorf("%w: invoice %s not found", ErrInvalidInput, providerRef)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("xendit status %d: %s", resp.StatusCode, string(body))
	}

	var invoice invoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return Result{}, fmt.Errorf("failed to decode invoice response: %w", err)
	}
	status, ok := invoiceStatus(invoice.Status)
	if !ok {
		return Result{}, fmt.Errorf("invalid invoice status: %s", invoice.Status)
	}
	return Result{Status: status, ProviderRef: invoice.ID}, nil
}

// invoiceByExternalID returns the newest invoice created for a receipt.
func (x *Xendit) invoiceByExternalID(ctx context.Context, externalID string) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, x.cfg.BaseURL+"/v2/invoices?external_id="+url.QueryEscape(externalID), nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create invoice lookup request: %w", err)
	}
	httpReq.SetBasicAuth(x.cfg.SecretKey, "")

	resp, err := x.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("invoice lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("xendit status %d: %s", resp.StatusCode, string(body))
	}
	var invoices []invoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&invoices); err != nil {
		return Result{}, fmt.Errorf("failed to decode invoice list: %w", err)
	}
	if len(invoices) == 0 {
		return Result{}, fmt.Errorf("no invoice found for %s", externalID)
	}
	invoice := invoices[0]
	status, ok := invoiceStatus(invoice.Status)
	if !ok {
		return Result{}, fmt.Errorf("invalid invoice status: %s", invoice.Status)
	}
	return Result{Status: status, ProviderRef: invoice.ID, Detail: invoice.InvoiceURL}, nil
}

func invoiceStatus(s string) (models.ChannelStatus, bool) {
	switch s {
	case "PENDING":
		return models.StatusPending, true
	case "PAID", "SETTLED":
		return models.StatusCompleted, true
	case "EXPIRED":
		return models.StatusFailed, true
	}
	return "", false
}

// InvoiceWebhook is the body of a Xendit invoice callback.
type InvoiceWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID         string `json:"id"`
		ExternalID string `json:"external_id"`
		Status     string `json:"status"`
	} `json:"data"`
}

// Outcome turns an invoice callback into a payment outcome. ok is false for
// events that carry no final outcome.
func (w InvoiceWebhook) Outcome(now time.Time) (models.ChannelOutcome, bool, error) {
	if !strings.HasPrefix(w.Event, "invoice.") {
		return models.ChannelOutcome{}, false, nil
	}
	if w.Data.ExternalID == "" {
		return models.ChannelOutcome{}, false, fmt.Errorf("invoice webhook without external_id")
	}
	status, known := invoiceStatus(w.Data.Status)
	if !known {
		return models.ChannelOutcome{}, false, fmt.Errorf("invalid invoice status: %s", w.Data.Status)
	}
	if status == models.StatusPending {
		return models.ChannelOutcome{}, false, nil
	}
	return models.ChannelOutcome{
		ReceiptID:   w.Data.ExternalID,
		Channel:     models.ChannelPayment,
		Status:      status,
		ProviderRef: w.Data.ID,
		OccurredAt:  now,
	}, true, nil
}

func maskSensitiveFields(body []byte) []byte {
	var req map[string]interface{}
	if err := json.Unmarshal(body, &req); err != nil {
		return body
	}
	if email, ok := req["payer_email"].(string); ok {
		req["payer_email"] = maskEmail(email)
	}
	if customer, ok := req["customer"].(map[string]interface{}); ok {
		if mobile, ok := customer["mobile_number"].(string); ok && len(mobile) > 4 {
			customer["mobile_number"] = "****" + mobile[len(mobile)-4:]
		}
		if email, ok := customer["email"].(string); ok {
			customer["email"] = maskEmail(email)
		}
	}
	masked, _ := json.Marshal(req)
	return masked
}

func maskEmail(email string) string {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) == 2 && len(parts[0]) > 3 {
		return parts[0][:3] + "****@" + parts[1]
	}
	return email
}
