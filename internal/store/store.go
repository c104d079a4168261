// Package store persists receipts.
package store

import (
	"context"
	"errors"

	"github.com/markjakearzadon/recetra-gobackend/internal/models"
)

var (
	ErrNotFound     = errors.New("receipt not found")
	ErrDuplicateKey = errors.New("duplicate receipt key")
)

// MutateFunc patches a receipt in place. Returning an error aborts the
// update and nothing is written.
type MutateFunc func(r *models.Receipt) error

// ReceiptStore is keyed persistence of receipts. Receipts are never deleted.
type ReceiptStore interface {
	// Put fails with ErrDuplicateKey when the id, receipt number or
	// verification token is already stored.
	Put(ctx context.Context, r models.Receipt) error
	Get(ctx context.Context, id string) (models.Receipt, error)
	GetByToken(ctx context.Context, token string) (models.Receipt, error)
	// ListByOrganization and ListByIssuer return newest first.
	ListByOrganization(ctx context.Context, org string) ([]models.Receipt, error)
	ListByIssuer(ctx context.Context, userID string) ([]models.Receipt, error)
	// Update applies mutate atomically. Concurrent updates of one receipt
	// are serialized; the returned receipt is the stored result.
	Update(ctx context.Context, id string, mutate MutateFunc) (models.Receipt, error)
}
