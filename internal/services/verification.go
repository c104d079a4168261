package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/cache"
	"github.com/markjakearzadon/recetra-gobackend/internal/idgen"
	"github.com/markjakearzadon/recetra-gobackend/internal/metrics"
	"github.com/markjakearzadon/recetra-gobackend/internal/models"
	"github.com/markjakearzadon/recetra-gobackend/internal/store"
)

// Verifier answers QR verification queries.
type Verifier struct {
	store  store.ReceiptStore
	cache  cache.SummaryCache
	logger *zap.Logger
}

// NewVerifier accepts a nil cache.
func NewVerifier(st store.ReceiptStore, c cache.SummaryCache, logger *zap.Logger) *Verifier {
	return &Verifier{store: st, cache: c, logger: logger}
}

// Verify resolves token to a receipt summary. Tokens that fail the
// structural check are malformed and never reach the store. The error is
// non-nil only when the store itself fails.
func (v *Verifier) Verify(ctx context.Context, token string) (models.VerificationResult, error) {
	if !idgen.ValidToken(token) {
		metrics.Verifications.WithLabelValues(string(models.VerificationMalformed)).Inc()
		return models.VerificationResult{Status: models.VerificationMalformed}, nil
	}

	if v.cache != nil {
		summary, ok, err := v.cache.Get(ctx, token)
		if err != nil {
			v.logger.Warn("verification cache unavailable", zap.Error(err))
		} else if ok {
			metrics.Verifications.WithLabelValues("cached").Inc()
			return models.VerificationResult{Status: models.VerificationGenuine, Summary: &summary}, nil
		}
	}

	rec, err := v.store.GetByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		metrics.Verifications.WithLabelValues(string(models.VerificationUnknown)).Inc()
		return models.VerificationResult{Status: models.VerificationUnknown}, nil
	}
	if err != nil {
		return models.VerificationResult{}, fmt.Errorf("verify token: %w", err)
	}

	summary := rec.Summary()
	if v.cache != nil {
		if err := v.cache.Set(ctx, token, summary); err != nil {
			v.logger.Warn("failed to cache verification summary", zap.Error(err))
		}
	}
	metrics.Verifications.WithLabelValues(string(models.VerificationGenuine)).Inc()
	return models.VerificationResult{Status: models.VerificationGenuine, Summary: &summary}, nil
}
