package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/markjakearzadon/recetra-gobackend/internal/auth"
	"github.com/markjakearzadon/recetra-gobackend/internal/events"
	"github.com/markjakearzadon/recetra-gobackend/internal/idgen"
	"github.com/markjakearzadon/recetra-gobackend/internal/models"
	"github.com/markjakearzadon/recetra-gobackend/internal/providers"
	"github.com/markjakearzadon/recetra-gobackend/internal/store"
	"github.com/markjakearzadon/recetra-gobackend/internal/templates"
)

var (
	encoder = auth.Static{ID: "u-encoder", Name: "CSS Treasurer", Role: auth.RoleEncoder}
	admin   = auth.Static{ID: "u-admin", Name: "Admin", Role: auth.RoleAdmin}
	viewer  = auth.Static{ID: "u-viewer", Name: "Member", Role: auth.RoleViewer}
)

func juanRequest() IssueRequest {
	return IssueRequest{
		Payer:        "Juan Dela Cruz",
		PayerEmail:   "juan@example.com",
		PayerPhone:   "09171234567",
		Amount:       decimal.RequireFromString("500.00"),
		Purpose:      "Membership fee",
		Category:     "dues",
		Organization: "CSS",
	}
}

// step is one scripted provider response.
type step struct {
	status models.ChannelStatus
	err    error
	delay  time.Duration
}

// fakeProvider plays back a script per channel. Once a script runs out the
// last step repeats; channels without a script succeed.
type fakeProvider struct {
	mu       sync.Mutex
	script   map[models.Channel][]step
	calls    map[models.Channel]int
	messages map[models.Channel][]providers.Message
	keys     []string
	gate     chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		script:   make(map[models.Channel][]step),
		calls:    make(map[models.Channel]int),
		messages: make(map[models.Channel][]providers.Message),
	}
}

func (f *fakeProvider) on(c models.Channel, steps ...step) *fakeProvider {
	f.mu.Lock()
	f.script[c] = steps
	f.mu.Unlock()
	return f
}

// hold makes every call block until release is called.
func (f *fakeProvider) hold() {
	f.mu.Lock()
	f.gate = make(chan struct{})
	f.mu.Unlock()
}

func (f *fakeProvider) release() {
	f.mu.Lock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
	f.mu.Unlock()
}

func (f *fakeProvider) callCount(c models.Channel) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[c]
}

func (f *fakeProvider) sent(c models.Channel) []providers.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]providers.Message(nil), f.messages[c]...)
}

func (f *fakeProvider) chargeKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func (f *fakeProvider) Charge(ctx context.Context, req providers.ChargeRequest) (providers.Result, error) {
	f.mu.Lock()
	f.keys = append(f.keys, req.IdempotencyKey)
	f.mu.Unlock()
	return f.next(ctx, models.ChannelPayment, providers.Message{})
}

func (f *fakeProvider) SendEmail(ctx context.Context, _ string, msg providers.Message) (providers.Result, error) {
	return f.next(ctx, models.ChannelEmail, msg)
}

func (f *fakeProvider) SendSMS(ctx context.Context, _ string, msg providers.Message) (providers.Result, error) {
	return f.next(ctx, models.ChannelSMS, msg)
}

func (f *fakeProvider) next(ctx context.Context, c models.Channel, msg providers.Message) (providers.Result, error) {
	f.mu.Lock()
	n := f.calls[c]
	f.calls[c]++
	if c != models.ChannelPayment {
		f.messages[c] = append(f.messages[c], msg)
	}
	s := step{status: c.SuccessStatus()}
	if q := f.script[c]; len(q) > 0 {
		if n < len(q) {
			s = q[n]
		} else {
			s = q[len(q)-1]
		}
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return providers.Result{}, ctx.Err()
		}
	}
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return providers.Result{}, ctx.Err()
		}
	}
	if s.err != nil {
		return providers.Result{}, s.err
	}
	res := providers.Result{Status: s.status, ProviderRef: fmt.Sprintf("%s-%d", c, n+1)}
	if s.status == models.StatusFailed {
		res.Detail = "declined"
	}
	return res, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) ofType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	store      *store.MemoryStore
	provider   *fakeProvider
	reconciler *Reconciler
	dispatcher *Dispatcher
	svc        *ReceiptService
	events     *recordingPublisher
	logs       *observer.ObservedLogs
}

func fastConfig() DispatchConfig {
	return DispatchConfig{MaxRetries: 2, Backoff: time.Millisecond, CallTimeout: time.Second}
}

func newHarness(t *testing.T, p *fakeProvider, cfg DispatchConfig) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	st := store.NewMemoryStore()
	pub := &recordingPublisher{}
	rec := NewReconciler(st, nil, pub, logger)
	disp := NewDispatcher(Providers{Payment: p, Email: p, SMS: p}, templates.NewMemoryCatalog(), rec, cfg, logger)
	ver := NewVerifier(st, nil, logger)
	svc := NewReceiptService(st, idgen.NewGenerator(nil, logger), disp, rec, ver, pub, logger)
	t.Cleanup(func() {
		p.release()
		disp.Wait()
	})
	return &harness{store: st, provider: p, reconciler: rec, dispatcher: disp, svc: svc, events: pub, logs: logs}
}

// putPending stores a receipt with every channel pending, without dispatch.
func (h *harness) putPending(t *testing.T, id string) models.Receipt {
	t.Helper()
	now := time.Now().UTC()
	pending := models.ChannelState{Status: models.StatusPending, UpdatedAt: now}
	r := models.Receipt{
		ID:                id,
		ReceiptNumber:     "OR-2026-CSS-000001-" + id,
		VerificationToken: "token-" + id,
		Payer:             "Juan Dela Cruz",
		PayerEmail:        "juan@example.com",
		PayerPhone:        "+639171234567",
		Amount:            decimal.RequireFromString("500.00"),
		Currency:          "PHP",
		Purpose:           "Membership fee",
		Organization:      "CSS",
		IssuedBy:          encoder.ID,
		IssuedAt:          now,
		TemplateID:        templates.DefaultID,
		Payment:           pending,
		Email:             pending,
		SMS:               pending,
	}
	if err := h.store.Put(context.Background(), r); err != nil {
		t.Fatalf("put: %v", err)
	}
	return r
}

func (h *harness) get(t *testing.T, id string) models.Receipt {
	t.Helper()
	r, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return r
}

func outcome(id string, c models.Channel, s models.ChannelStatus, ref string) models.ChannelOutcome {
	return models.ChannelOutcome{ReceiptID: id, Channel: c, Status: s, ProviderRef: ref, Attempts: 1, OccurredAt: time.Now().UTC()}
}
