package providers

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/models"
)

// Simulated stands in for a real gateway: every call takes Latency and
// fails with probability FailureRate. It implements all three provider
// interfaces.
type Simulated struct {
	Name        string
	Latency     time.Duration
	FailureRate float64

	mu     sync.Mutex
	rng    *rand.Rand
	logger *zap.Logger
}

// NewSimulated seeds its random source with seed; equal seeds give equal
// outcome sequences.
func NewSimulated(name string, latency time.Duration, failureRate float64, seed int64, logger *zap.Logger) *Simulated {
	return &Simulated{
		Name:        name,
		Latency:     latency,
		FailureRate: failureRate,
		rng:         rand.New(rand.NewSource(seed)),
		logger:      logger,
	}
}

func (s *Simulated) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	if !req.Amount.IsPositive() {
		return Result{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return s.call(ctx, "charge", req.ReceiptID, models.StatusCompleted)
}

func (s *Simulated) SendEmail(ctx context.Context, to string, msg Message) (Result, error) {
	if !strings.Contains(to, "@") {
		return Result{}, fmt.Errorf("%w: invalid email recipient %q", ErrInvalidInput, to)
	}
	return s.call(ctx, "email", to, models.StatusSent)
}

func (s *Simulated) SendSMS(ctx context.Context, to string, msg Message) (Result, error) {
	if strings.TrimSpace(to) == "" {
		return Result{}, fmt.Errorf("%w: empty sms recipient", ErrInvalidInput)
	}
	return s.call(ctx, "sms", to, models.StatusSent)
}

func (s *Simulated) call(ctx context.Context, op, target string, success models.ChannelStatus) (Result, error) {
	if s.Latency > 0 {
		t := time.NewTimer(s.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-t.C:
		}
	}

	s.mu.Lock()
	failed := s.rng.Float64() < s.FailureRate
	s.mu.Unlock()

	ref := fmt.Sprintf("%s-%s", s.Name, uuid.NewString())
	if failed {
		s.logger.Debug("simulated provider declined",
			zap.String("provider", s.Name),
			zap.String("op", op),
			zap.String("target", target),
			zap.String("provider_ref", ref),
		)
		return Result{Status: models.StatusFailed, ProviderRef: ref, Detail: "simulated failure"}, nil
	}
	return Result{Status: success, ProviderRef: ref}, nil
}
