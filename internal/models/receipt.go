package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt is an official receipt issued by an organization treasurer.
type Receipt struct {
	ID                string          `json:"id"`
	ReceiptNumber     string          `json:"receipt_number"`
	VerificationToken string          `json:"verification_token"`
	Payer             string          `json:"payer"`
	PayerEmail        string          `json:"payer_email"`
	PayerPhone        string          `json:"payer_phone"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Purpose           string          `json:"purpose"`
	Category          string          `json:"category"`
	Organization      string          `json:"organization"`
	IssuedBy          string          `json:"issued_by"`
	IssuedAt          time.Time       `json:"issued_at"`
	TemplateID        string          `json:"template_id"`
	Payment           ChannelState    `json:"payment"`
	Email             ChannelState    `json:"email"`
	SMS               ChannelState    `json:"sms"`
	Version           int64           `json:"version"`
}

// State returns a pointer to the state of channel c, or nil for an unknown channel.
func (r *Receipt) State(c Channel) *ChannelState {
	switch c {
	case ChannelPayment:
		return &r.Payment
	case ChannelEmail:
		return &r.Email
	case ChannelSMS:
		return &r.SMS
	}
	return nil
}

// Summary is the read-only projection handed to verification callers.
func (r Receipt) Summary() ReceiptSummary {
	return ReceiptSummary{
		ReceiptNumber: r.ReceiptNumber,
		Payer:         r.Payer,
		Amount:        r.Amount.StringFixed(2),
		Currency:      r.Currency,
		Purpose:       r.Purpose,
		Organization:  r.Organization,
		IssuedAt:      r.IssuedAt,
		PaymentStatus: r.Payment.Status,
		EmailStatus:   r.Email.Status,
		SMSStatus:     r.SMS.Status,
	}
}

// ReceiptSummary holds only public fields; it never aliases store state.
type ReceiptSummary struct {
	ReceiptNumber string        `json:"receipt_number"`
	Payer         string        `json:"payer"`
	Amount        string        `json:"amount"`
	Currency      string        `json:"currency"`
	Purpose       string        `json:"purpose"`
	Organization  string        `json:"organization"`
	IssuedAt      time.Time     `json:"issued_at"`
	PaymentStatus ChannelStatus `json:"payment_status"`
	EmailStatus   ChannelStatus `json:"email_status"`
	SMSStatus     ChannelStatus `json:"sms_status"`
}

type VerificationStatus string

const (
	VerificationGenuine   VerificationStatus = "genuine"
	VerificationUnknown   VerificationStatus = "unknown"
	VerificationMalformed VerificationStatus = "malformed"
)

type VerificationResult struct {
	Status  VerificationStatus `json:"status"`
	Summary *ReceiptSummary    `json:"receipt,omitempty"`
}
