package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/metrics"
	"github.com/markjakearzadon/recetra-gobackend/internal/models"
	"github.com/markjakearzadon/recetra-gobackend/internal/providers"
	"github.com/markjakearzadon/recetra-gobackend/internal/templates"
)

type DispatchConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Backoff is the fixed wait between attempts.
	Backoff time.Duration
	// CallTimeout bounds each provider call.
	CallTimeout time.Duration
}

func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{MaxRetries: 2, Backoff: 500 * time.Millisecond, CallTimeout: 10 * time.Second}
}

type DispatchOptions struct {
	// NotifyBeforePayment sends email and SMS alongside the charge with a
	// payment pending notice. When false they wait for the payment to
	// complete and stay pending if it does not.
	NotifyBeforePayment bool
}

// Providers groups the three external services a receipt is dispatched to.
type Providers struct {
	Payment providers.PaymentProvider
	Email   providers.EmailProvider
	SMS     providers.SMSProvider
}

// Dispatcher calls the providers for a receipt, one goroutine per channel,
// and hands each channel's final outcome to the reconciler.
type Dispatcher struct {
	providers  Providers
	catalog    templates.Catalog
	reconciler *Reconciler
	cfg        DispatchConfig
	logger     *zap.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewDispatcher(p Providers, catalog templates.Catalog, reconciler *Reconciler, cfg DispatchConfig, logger *zap.Logger) *Dispatcher {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultDispatchConfig().CallTimeout
	}
	return &Dispatcher{
		providers:  p,
		catalog:    catalog,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger,
		inflight:   make(map[string]struct{}),
	}
}

// Dispatch starts the receipt's channels and returns without waiting for
// them. A ctx already cancelled when Dispatch is called starts nothing.
// Once started, channels outlive ctx, and so do the notifications held
// for the payment.
func (d *Dispatcher) Dispatch(ctx context.Context, rec models.Receipt, opts DispatchOptions) {
	detached := context.WithoutCancel(ctx)

	if opts.NotifyBeforePayment {
		for _, c := range models.Channels {
			d.start(ctx, detached, rec, c, nil)
		}
		return
	}

	d.start(ctx, detached, rec, models.ChannelPayment, func(o models.ChannelOutcome) {
		if o.Status != models.StatusCompleted {
			d.logger.Info("holding notifications until payment completes",
				zap.String("receipt_id", rec.ID),
				zap.String("payment_status", string(o.Status)),
			)
			return
		}
		rec.Payment.Status = models.StatusCompleted
		d.start(detached, detached, rec, models.ChannelEmail, nil)
		d.start(detached, detached, rec, models.ChannelSMS, nil)
	})
}

// Notify starts email and SMS for a receipt whose notifications were held.
// Channels that already ran or are running are left alone. The payment
// completing is what commits them, so a cancelled ctx does not stop them.
func (d *Dispatcher) Notify(ctx context.Context, rec models.Receipt) {
	detached := context.WithoutCancel(ctx)
	for _, c := range []models.Channel{models.ChannelEmail, models.ChannelSMS} {
		st := rec.State(c)
		if st.Status != models.StatusPending || st.Attempts > 0 {
			continue
		}
		d.start(detached, detached, rec, c, nil)
	}
}

// Run dispatches one channel synchronously. A failed channel is first
// reset to pending. Returns ErrChannelBusy when the channel is already
// being dispatched.
func (d *Dispatcher) Run(ctx context.Context, rec models.Receipt, c models.Channel) (models.ChannelOutcome, error) {
	if !d.acquire(rec.ID, c) {
		return models.ChannelOutcome{}, ErrChannelBusy
	}
	d.wg.Add(1)
	defer d.wg.Done()
	defer d.release(rec.ID, c)

	ctx = context.WithoutCancel(ctx)
	if rec.State(c).Status == models.StatusFailed {
		reset := models.ChannelOutcome{ReceiptID: rec.ID, Channel: c, Status: models.StatusPending, OccurredAt: time.Now().UTC()}
		updated, _, err := d.reconciler.Apply(ctx, reset)
		if err != nil {
			return models.ChannelOutcome{}, err
		}
		rec = updated
	}
	return d.run(ctx, rec, c), nil
}

// Wait blocks until every started channel has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) start(ctx, detached context.Context, rec models.Receipt, c models.Channel, then func(models.ChannelOutcome)) {
	if ctx.Err() != nil {
		d.logger.Info("request cancelled before channel started",
			zap.String("receipt_id", rec.ID),
			zap.String("channel", string(c)),
		)
		return
	}
	if !d.acquire(rec.ID, c) {
		d.logger.Debug("channel already in flight", zap.String("receipt_id", rec.ID), zap.String("channel", string(c)))
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		o := func() models.ChannelOutcome {
			defer d.release(rec.ID, c)
			return d.run(detached, rec, c)
		}()
		if then != nil {
			then(o)
		}
	}()
}

func inflightKey(id string, c models.Channel) string {
	return id + ":" + string(c)
}

func (d *Dispatcher) acquire(id string, c models.Channel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := inflightKey(id, c)
	if _, busy := d.inflight[k]; busy {
		return false
	}
	d.inflight[k] = struct{}{}
	return true
}

func (d *Dispatcher) release(id string, c models.Channel) {
	d.mu.Lock()
	delete(d.inflight, inflightKey(id, c))
	d.mu.Unlock()
}

// run performs the attempts for one channel and applies the final outcome.
func (d *Dispatcher) run(ctx context.Context, rec models.Receipt, c models.Channel) models.ChannelOutcome {
	logger := d.logger.With(zap.String("receipt_id", rec.ID), zap.String("channel", string(c)))

	o := models.ChannelOutcome{ReceiptID: rec.ID, Channel: c}
	call, err := d.caller(ctx, rec, c)
	if err != nil {
		o.Status = models.StatusFailed
		o.Error = err.Error()
	} else {
		o = d.attempt(ctx, o, call, logger)
	}
	o.OccurredAt = time.Now().UTC()

	if o.Status == models.StatusFailed {
		logger.Warn("channel failed", zap.Int("attempts", o.Attempts), zap.String("error", o.Error))
	} else {
		logger.Info("channel finished", zap.String("status", string(o.Status)), zap.Int("attempts", o.Attempts))
	}

	if _, _, err := d.reconciler.Apply(ctx, o); err != nil {
		logger.Error("failed to reconcile channel outcome", zap.Error(err))
	}
	return o
}

type callFunc func(ctx context.Context) (providers.Result, error)

func (d *Dispatcher) attempt(ctx context.Context, o models.ChannelOutcome, call callFunc, logger *zap.Logger) models.ChannelOutcome {
	for attempt := 1; attempt <= d.cfg.MaxRetries+1; attempt++ {
		o.Attempts = attempt

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		started := time.Now()
		res, err := call(callCtx)
		cancel()
		metrics.ProviderDuration.WithLabelValues(string(o.Channel)).Observe(time.Since(started).Seconds())

		switch {
		case errors.Is(err, providers.ErrInvalidInput):
			metrics.ChannelAttempts.WithLabelValues(string(o.Channel), "invalid").Inc()
			o.Status = models.StatusFailed
			o.Error = err.Error()
			return o
		case err != nil:
			metrics.ChannelAttempts.WithLabelValues(string(o.Channel), "error").Inc()
			o.Status = models.StatusFailed
			o.Error = err.Error()
		case res.Status.IsSuccess() || res.Status == models.StatusPending:
			metrics.ChannelAttempts.WithLabelValues(string(o.Channel), string(res.Status)).Inc()
			o.Status = res.Status
			o.ProviderRef = res.ProviderRef
			o.Error = ""
			return o
		default:
			metrics.ChannelAttempts.WithLabelValues(string(o.Channel), "failed").Inc()
			o.Status = models.StatusFailed
			o.ProviderRef = res.ProviderRef
			o.Error = res.Detail
			if o.Error == "" {
				o.Error = "provider declined"
			}
		}

		if attempt <= d.cfg.MaxRetries {
			logger.Debug("retrying channel", zap.Int("attempt", attempt), zap.String("error", o.Error))
			if !sleep(ctx, d.cfg.Backoff) {
				return o
			}
		}
	}
	return o
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// caller binds the provider call for channel c. Rendering failures are
// final and never reach a provider.
func (d *Dispatcher) caller(ctx context.Context, rec models.Receipt, c models.Channel) (callFunc, error) {
	switch c {
	case models.ChannelPayment:
		req := providers.ChargeRequest{
			IdempotencyKey: chargeKey(rec),
			ReceiptID:      rec.ID,
			ReceiptNumber:  rec.ReceiptNumber,
			Amount:         rec.Amount,
			Currency:       rec.Currency,
			Description:    fmt.Sprintf("%s - %s", rec.Organization, rec.Purpose),
			PayerName:      rec.Payer,
			PayerEmail:     rec.PayerEmail,
			PayerPhone:     rec.PayerPhone,
		}
		return func(ctx context.Context) (providers.Result, error) {
			return d.providers.Payment.Charge(ctx, req)
		}, nil
	case models.ChannelEmail, models.ChannelSMS:
		rendered, tmplID, err := d.render(ctx, rec)
		if err != nil {
			return nil, err
		}
		if c == models.ChannelEmail {
			msg := providers.Message{TemplateID: tmplID, Subject: rendered.Subject, Body: rendered.EmailBody}
			return func(ctx context.Context) (providers.Result, error) {
				return d.providers.Email.SendEmail(ctx, rec.PayerEmail, msg)
			}, nil
		}
		msg := providers.Message{TemplateID: tmplID, Body: rendered.SMSBody}
		return func(ctx context.Context) (providers.Result, error) {
			return d.providers.SMS.SendSMS(ctx, rec.PayerPhone, msg)
		}, nil
	}
	return nil, fmt.Errorf("unknown channel %q", c)
}

// chargeKey is stable across the attempts of one run so a retried request
// cannot open a second invoice. A later run gets a new key.
func chargeKey(rec models.Receipt) string {
	return fmt.Sprintf("%s-payment-%d", rec.ID, rec.Payment.Attempts)
}

func (d *Dispatcher) render(ctx context.Context, rec models.Receipt) (templates.Rendered, string, error) {
	t, err := d.catalog.Get(ctx, rec.TemplateID)
	if err != nil {
		d.logger.Warn("using default template",
			zap.String("receipt_id", rec.ID),
			zap.String("template_id", rec.TemplateID),
			zap.Error(err),
		)
		t = templates.Default()
	}
	rendered, err := templates.Render(t, templates.Data{
		ReceiptNumber:     rec.ReceiptNumber,
		VerificationToken: rec.VerificationToken,
		Payer:             rec.Payer,
		Amount:            rec.Amount.StringFixed(2),
		Currency:          rec.Currency,
		Purpose:           rec.Purpose,
		Category:          rec.Category,
		Organization:      rec.Organization,
		IssuedAt:          rec.IssuedAt,
		PaymentPending:    rec.Payment.Status != models.StatusCompleted,
	})
	if err != nil {
		return templates.Rendered{}, t.ID, fmt.Errorf("render notification: %w", err)
	}
	return rendered, t.ID, nil
}
