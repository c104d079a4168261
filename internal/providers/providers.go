// Package providers defines the external payment, email and SMS services a
// receipt is dispatched to, and the implementations the service ships with.
package providers

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/markjakearzadon/recetra-gobackend/internal/models"
)

// ErrInvalidInput marks a request the provider rejected as malformed.
// Retrying it cannot succeed.
var ErrInvalidInput = errors.New("provider rejected input")

// Result is a provider's declared outcome. Status is completed, sent,
// failed, or pending when the provider accepted the request and will
// report the final outcome through a callback.
type Result struct {
	Status      models.ChannelStatus
	ProviderRef string
	Detail      string
}

type ChargeRequest struct {
	// IdempotencyKey lets the provider recognise a repeated request for the
	// same charge.
	IdempotencyKey string
	ReceiptID      string
	ReceiptNumber  string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	PayerName      string
	PayerEmail     string
	PayerPhone     string
}

// Message is a rendered notification.
type Message struct {
	TemplateID string
	Subject    string
	Body       string
}

type PaymentProvider interface {
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
}

// PaymentStatusChecker is implemented by payment providers that can be
// asked for the current state of a pending charge.
type PaymentStatusChecker interface {
	PaymentStatus(ctx context.Context, providerRef string) (Result, error)
}

type EmailProvider interface {
	SendEmail(ctx context.Context, to string, msg Message) (Result, error)
}

type SMSProvider interface {
	SendSMS(ctx context.Context, to string, msg Message) (Result, error)
}
