package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/cache"
	"github.com/markjakearzadon/recetra-gobackend/internal/events"
	"github.com/markjakearzadon/recetra-gobackend/internal/metrics"
	"github.com/markjakearzadon/recetra-gobackend/internal/models"
	"github.com/markjakearzadon/recetra-gobackend/internal/store"
)

// Decision is what the reconciler did with an outcome.
type Decision string

const (
	DecisionApplied Decision = "applied"
	DecisionNoop    Decision = "noop"
	DecisionDropped Decision = "dropped"
)

// errUnchanged aborts a store update without writing.
var errUnchanged = errors.New("unchanged")

const (
	// maxApplyConflicts bounds how often Apply re-runs a store update that
	// lost its compare-and-swap race.
	maxApplyConflicts = 5
	conflictBackoff   = 5 * time.Millisecond
)

// Reconciler merges channel outcomes into stored receipts. It is the only
// writer of channel state.
type Reconciler struct {
	store  store.ReceiptStore
	cache  cache.SummaryCache
	events events.Publisher
	logger *zap.Logger
}

// NewReconciler accepts a nil cache.
func NewReconciler(st store.ReceiptStore, c cache.SummaryCache, pub events.Publisher, logger *zap.Logger) *Reconciler {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Reconciler{store: st, cache: c, events: pub, logger: logger}
}

// Apply merges o into its receipt. Success is sticky: an outcome for a
// channel that already succeeded is dropped and reported as an anomaly,
// never as an error. Replaying an outcome is a noop.
func (r *Reconciler) Apply(ctx context.Context, o models.ChannelOutcome) (models.Receipt, Decision, error) {
	if _, err := models.ParseChannel(string(o.Channel)); err != nil {
		return models.Receipt{}, "", fmt.Errorf("%w: %v", ErrInvalidOutcome, err)
	}
	if !o.Channel.Accepts(o.Status) {
		return models.Receipt{}, "", fmt.Errorf("%w: %s cannot be %q", ErrInvalidOutcome, o.Channel, o.Status)
	}
	if o.OccurredAt.IsZero() {
		o.OccurredAt = time.Now().UTC()
	}

	var (
		decision Decision
		previous models.ChannelStatus
		snapshot models.Receipt
		updated  models.Receipt
		err      error
	)
	for conflicts := 0; ; conflicts++ {
		updated, err = r.store.Update(ctx, o.ReceiptID, func(rec *models.Receipt) error {
			st := rec.State(o.Channel)
			previous = st.Status
			decision = decide(*st, o)
			if decision != DecisionApplied {
				snapshot = *rec
				return errUnchanged
			}
			merge(st, o)
			return nil
		})
		if !errors.Is(err, store.ErrConflict) || conflicts == maxApplyConflicts {
			break
		}
		r.logger.Warn("receipt update conflicted, retrying",
			zap.String("receipt_id", o.ReceiptID),
			zap.String("channel", string(o.Channel)),
			zap.Int("conflicts", conflicts+1),
		)
		if !sleep(ctx, time.Duration(conflicts+1)*conflictBackoff) {
			break
		}
	}
	switch {
	case errors.Is(err, errUnchanged):
		updated = snapshot
	case err != nil:
		return models.Receipt{}, "", fmt.Errorf("apply %s outcome to %s: %w", o.Channel, o.ReceiptID, err)
	}

	metrics.ChannelOutcomes.WithLabelValues(string(o.Channel), string(o.Status), string(decision)).Inc()

	switch decision {
	case DecisionApplied:
		r.invalidate(ctx, updated.VerificationToken)
		e := channelEvent(events.TypeChannelUpdate, updated, o)
		r.publish(ctx, e)
	case DecisionDropped:
		metrics.AnomalousTransitions.WithLabelValues(string(o.Channel)).Inc()
		r.logger.Warn("dropped anomalous channel transition",
			zap.String("receipt_id", o.ReceiptID),
			zap.String("channel", string(o.Channel)),
			zap.String("stored_status", string(previous)),
			zap.String("outcome_status", string(o.Status)),
			zap.String("provider_ref", o.ProviderRef),
		)
		e := channelEvent(events.TypeAnomaly, updated, o)
		e.Detail = fmt.Sprintf("%s is %s; %s outcome dropped", o.Channel, previous, o.Status)
		r.publish(ctx, e)
	}
	return updated, decision, nil
}

func decide(st models.ChannelState, o models.ChannelOutcome) Decision {
	same := st.Status == o.Status &&
		(o.ProviderRef == "" || o.ProviderRef == st.ProviderRef) &&
		o.Error == st.LastError
	if st.Status.IsSuccess() {
		if same {
			return DecisionNoop
		}
		return DecisionDropped
	}
	if same {
		return DecisionNoop
	}
	return DecisionApplied
}

func merge(st *models.ChannelState, o models.ChannelOutcome) {
	st.Status = o.Status
	if o.ProviderRef != "" {
		st.ProviderRef = o.ProviderRef
	}
	st.LastError = o.Error
	st.Attempts += o.Attempts
	st.UpdatedAt = o.OccurredAt
}

func (r *Reconciler) invalidate(ctx context.Context, token string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, token); err != nil {
		r.logger.Warn("failed to invalidate verification cache", zap.Error(err))
	}
}

func (r *Reconciler) publish(ctx context.Context, e events.Event) {
	if err := r.events.Publish(ctx, e); err != nil {
		r.logger.Error("failed to publish receipt event", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

func channelEvent(t events.Type, rec models.Receipt, o models.ChannelOutcome) events.Event {
	e := events.New(t, rec.ID)
	e.ReceiptNumber = rec.ReceiptNumber
	e.Organization = rec.Organization
	e.Channel = o.Channel
	e.Status = o.Status
	e.ProviderRef = o.ProviderRef
	e.Detail = o.Error
	return e
}
