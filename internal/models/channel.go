package models

import (
	"fmt"
	"time"
)

// Channel is one of the independent delivery/settlement paths of a receipt.
type Channel string

const (
	ChannelPayment Channel = "payment"
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
)

// Channels lists every channel in dispatch order.
var Channels = []Channel{ChannelPayment, ChannelEmail, ChannelSMS}

// ParseChannel accepts the lowercase channel name used in URLs and events.
func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelPayment, ChannelEmail, ChannelSMS:
		return Channel(s), nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// SuccessStatus is the sticky terminal status of a channel.
func (c Channel) SuccessStatus() ChannelStatus {
	if c == ChannelPayment {
		return StatusCompleted
	}
	return StatusSent
}

// Accepts reports whether status is a legal value for the channel.
func (c Channel) Accepts(s ChannelStatus) bool {
	switch s {
	case StatusPending, StatusFailed:
		return true
	case StatusCompleted:
		return c == ChannelPayment
	case StatusSent:
		return c == ChannelEmail || c == ChannelSMS
	}
	return false
}

type ChannelStatus string

const (
	StatusPending   ChannelStatus = "pending"
	StatusSent      ChannelStatus = "sent"
	StatusCompleted ChannelStatus = "completed"
	StatusFailed    ChannelStatus = "failed"
)

// IsSuccess is true for sent and completed.
func (s ChannelStatus) IsSuccess() bool {
	return s == StatusSent || s == StatusCompleted
}

// ChannelState is the stored state of one channel on a receipt.
type ChannelState struct {
	Status      ChannelStatus `bson:"status" json:"status"`
	ProviderRef string        `bson:"provider_ref,omitempty" json:"provider_ref,omitempty"`
	LastError   string        `bson:"last_error,omitempty" json:"last_error,omitempty"`
	Attempts    int           `bson:"attempts" json:"attempts"`
	UpdatedAt   time.Time     `bson:"updated_at" json:"updated_at"`
}

// ChannelOutcome is the result of one dispatch (or provider callback) for a
// single channel, handed to the reconciler.
type ChannelOutcome struct {
	ReceiptID   string        `json:"receipt_id"`
	Channel     Channel       `json:"channel"`
	Status      ChannelStatus `json:"status"`
	ProviderRef string        `json:"provider_ref,omitempty"`
	Error       string        `json:"error,omitempty"`
	Attempts    int           `json:"attempts"`
	OccurredAt  time.Time     `json:"occurred_at"`
}
