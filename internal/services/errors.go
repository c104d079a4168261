package services

import (
	"errors"
	"fmt"
)

var (
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidOutcome = errors.New("outcome status does not fit channel")
	ErrChannelSettled = errors.New("channel already succeeded")
	ErrChannelBusy    = errors.New("channel dispatch already in flight")
)

// ValidationError rejects an issuance request before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
