package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/auth"
	"github.com/markjakearzadon/recetra-gobackend/internal/events"
	"github.com/markjakearzadon/recetra-gobackend/internal/idgen"
	"github.com/markjakearzadon/recetra-gobackend/internal/metrics"
	"github.com/markjakearzadon/recetra-gobackend/internal/models"
	"github.com/markjakearzadon/recetra-gobackend/internal/providers"
	"github.com/markjakearzadon/recetra-gobackend/internal/store"
	"github.com/markjakearzadon/recetra-gobackend/internal/templates"
)

// maxIssueAttempts bounds identifier regeneration on a duplicate key.
const maxIssueAttempts = 3

type IssueRequest struct {
	Payer               string          `json:"payer"`
	PayerEmail          string          `json:"payer_email"`
	PayerPhone          string          `json:"payer_phone"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	Purpose             string          `json:"purpose"`
	Category            string          `json:"category"`
	Organization        string          `json:"organization"`
	TemplateID          string          `json:"template_id"`
	NotifyBeforePayment bool            `json:"notify_before_payment"`
}

// ReceiptFilter selects receipts by organization or, if empty, by issuer.
type ReceiptFilter struct {
	Organization string
	Issuer       string
}

// ReceiptService is the entry point screens, handlers and CLIs use.
type ReceiptService struct {
	store      store.ReceiptStore
	gen        *idgen.Generator
	dispatcher *Dispatcher
	reconciler *Reconciler
	verifier   *Verifier
	events     events.Publisher
	logger     *zap.Logger
	now        func() time.Time
}

func NewReceiptService(st store.ReceiptStore, gen *idgen.Generator, d *Dispatcher, r *Reconciler, v *Verifier, pub events.Publisher, logger *zap.Logger) *ReceiptService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &ReceiptService{
		store:      st,
		gen:        gen,
		dispatcher: d,
		reconciler: r,
		verifier:   v,
		events:     pub,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// IssueReceipt validates req, stores a new receipt with every channel
// pending and starts dispatch. The returned receipt is the stored one;
// channel failures never fail issuance.
func (s *ReceiptService) IssueReceipt(ctx context.Context, ac auth.Context, req IssueRequest) (models.Receipt, error) {
	user, err := requireIssuer(ac)
	if err != nil {
		return models.Receipt{}, err
	}
	if err := normalizeRequest(&req); err != nil {
		return models.Receipt{}, err
	}

	var rec models.Receipt
	for attempt := 1; ; attempt++ {
		rec = s.newReceipt(ctx, user, req)
		err = s.store.Put(ctx, rec)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateKey) || attempt == maxIssueAttempts {
			return models.Receipt{}, fmt.Errorf("store receipt: %w", err)
		}
		s.logger.Warn("receipt identifier collision, regenerating",
			zap.String("receipt_number", rec.ReceiptNumber),
			zap.Int("attempt", attempt),
		)
	}

	metrics.ReceiptsIssued.WithLabelValues(idgen.OrgCode(rec.Organization)).Inc()
	s.logger.Info("receipt issued",
		zap.String("receipt_id", rec.ID),
		zap.String("receipt_number", rec.ReceiptNumber),
		zap.String("organization", rec.Organization),
		zap.String("issued_by", rec.IssuedBy),
	)

	e := events.New(events.TypeIssued, rec.ID)
	e.ReceiptNumber = rec.ReceiptNumber
	e.Organization = rec.Organization
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Error("failed to publish receipt event", zap.String("type", string(e.Type)), zap.Error(err))
	}

	s.dispatcher.Dispatch(ctx, rec, DispatchOptions{NotifyBeforePayment: req.NotifyBeforePayment})
	return rec, nil
}

func (s *ReceiptService) newReceipt(ctx context.Context, user auth.User, req IssueRequest) models.Receipt {
	issuedAt := s.now()
	number := s.gen.NewReceiptNumber(ctx, req.Organization, issuedAt.Year())
	pending := models.ChannelState{Status: models.StatusPending, UpdatedAt: issuedAt}
	return models.Receipt{
		ID:                s.gen.NewID(),
		ReceiptNumber:     number,
		VerificationToken: s.gen.NewVerificationToken(number, issuedAt),
		Payer:             req.Payer,
		PayerEmail:        req.PayerEmail,
		PayerPhone:        req.PayerPhone,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Purpose:           req.Purpose,
		Category:          req.Category,
		Organization:      req.Organization,
		IssuedBy:          user.ID,
		IssuedAt:          issuedAt,
		TemplateID:        req.TemplateID,
		Payment:           pending,
		Email:             pending,
		SMS:               pending,
	}
}

// RetryChannel dispatches one channel again and waits for its outcome.
func (s *ReceiptService) RetryChannel(ctx context.Context, ac auth.Context, receiptID string, c models.Channel) (models.ChannelOutcome, error) {
	if _, err := requireIssuer(ac); err != nil {
		return models.ChannelOutcome{}, err
	}
	if _, err := models.ParseChannel(string(c)); err != nil {
		return models.ChannelOutcome{}, invalid("channel", err.Error())
	}
	rec, err := s.store.Get(ctx, receiptID)
	if err != nil {
		return models.ChannelOutcome{}, err
	}
	if rec.State(c).Status.IsSuccess() {
		return models.ChannelOutcome{}, ErrChannelSettled
	}
	s.logger.Info("retrying channel", zap.String("receipt_id", rec.ID), zap.String("channel", string(c)))
	o, err := s.dispatcher.Run(ctx, rec, c)
	if err != nil {
		return o, err
	}
	if c == models.ChannelPayment && o.Status == models.StatusCompleted {
		s.releaseNotifications(ctx, rec.ID)
	}
	return o, nil
}

// releaseNotifications starts the email and SMS held for a payment that
// has just completed.
func (s *ReceiptService) releaseNotifications(ctx context.Context, receiptID string) {
	ctx = context.WithoutCancel(ctx)
	rec, err := s.store.Get(ctx, receiptID)
	if err != nil {
		s.logger.Error("failed to load receipt for notifications", zap.String("receipt_id", receiptID), zap.Error(err))
		return
	}
	s.dispatcher.Notify(ctx, rec)
}

func (s *ReceiptService) GetReceipt(ctx context.Context, ac auth.Context, id string) (models.Receipt, error) {
	if _, err := ac.CurrentUser(); err != nil {
		return models.Receipt{}, err
	}
	return s.store.Get(ctx, id)
}

// VerifyToken needs no caller identity.
func (s *ReceiptService) VerifyToken(ctx context.Context, token string) (models.VerificationResult, error) {
	return s.verifier.Verify(ctx, token)
}

func (s *ReceiptService) ListReceipts(ctx context.Context, ac auth.Context, f ReceiptFilter) ([]models.Receipt, error) {
	user, err := requireIssuer(ac)
	if err != nil {
		return nil, err
	}
	if f.Organization != "" {
		return s.store.ListByOrganization(ctx, f.Organization)
	}
	issuer := f.Issuer
	if issuer == "" {
		issuer = user.ID
	}
	return s.store.ListByIssuer(ctx, issuer)
}

// ApplyProviderCallback reconciles an outcome reported by a provider after
// dispatch, such as a payment webhook. A payment that completes releases
// notifications that were held for it.
func (s *ReceiptService) ApplyProviderCallback(ctx context.Context, o models.ChannelOutcome) (Decision, error) {
	rec, decision, err := s.reconciler.Apply(ctx, o)
	if err != nil {
		return "", err
	}
	if decision == DecisionApplied && o.Channel == models.ChannelPayment && o.Status == models.StatusCompleted {
		s.dispatcher.Notify(ctx, rec)
	}
	return decision, nil
}

// RefreshPayment asks the payment provider for the state of a pending
// charge and reconciles it, for when the provider's callback was lost.
func (s *ReceiptService) RefreshPayment(ctx context.Context, ac auth.Context, receiptID string) (models.Receipt, error) {
	if _, err := requireIssuer(ac); err != nil {
		return models.Receipt{}, err
	}
	rec, err := s.store.Get(ctx, receiptID)
	if err != nil {
		return models.Receipt{}, err
	}
	checker, ok := s.dispatcher.providers.Payment.(providers.PaymentStatusChecker)
	if !ok || rec.Payment.Status != models.StatusPending || rec.Payment.ProviderRef == "" {
		return rec, nil
	}

	res, err := checker.PaymentStatus(ctx, rec.Payment.ProviderRef)
	if err != nil {
		return models.Receipt{}, fmt.Errorf("payment status: %w", err)
	}
	if res.Status == models.StatusPending {
		return rec, nil
	}
	o := models.ChannelOutcome{
		ReceiptID:   rec.ID,
		Channel:     models.ChannelPayment,
		Status:      res.Status,
		ProviderRef: res.ProviderRef,
		OccurredAt:  s.now(),
	}
	if _, err := s.ApplyProviderCallback(ctx, o); err != nil {
		return models.Receipt{}, err
	}
	return s.store.Get(ctx, receiptID)
}

// TemplateIDOrDefault is used when a request names no template.
func TemplateIDOrDefault(id string) string {
	if strings.TrimSpace(id) == "" {
		return templates.DefaultID
	}
	return id
}

func requireIssuer(ac auth.Context) (auth.User, error) {
	user, err := ac.CurrentUser()
	if err != nil {
		return auth.User{}, err
	}
	if !user.Role.CanIssue() {
		return auth.User{}, fmt.Errorf("%w: role %s cannot issue receipts", ErrForbidden, user.Role)
	}
	return user, nil
}

func normalizeRequest(req *IssueRequest) error {
	req.Payer = strings.TrimSpace(req.Payer)
	req.PayerEmail = strings.TrimSpace(req.PayerEmail)
	req.Purpose = strings.TrimSpace(req.Purpose)
	req.Category = strings.TrimSpace(req.Category)
	req.Organization = strings.TrimSpace(req.Organization)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.TemplateID = TemplateIDOrDefault(req.TemplateID)

	switch {
	case req.Payer == "":
		return invalid("payer", "required")
	case !req.Amount.IsPositive():
		return invalid("amount", "must be greater than zero")
	case !req.Amount.Equal(req.Amount.Round(2)):
		return invalid("amount", "at most two decimal places")
	case req.Purpose == "":
		return invalid("purpose", "required")
	case req.Organization == "":
		return invalid("organization", "required")
	case !strings.Contains(req.PayerEmail, "@"):
		return invalid("payer_email", "must be an email address")
	}

	phone, ok := normalizePhone(req.PayerPhone)
	if !ok {
		return invalid("payer_phone", "must be a mobile number like 09171234567")
	}
	req.PayerPhone = phone

	if req.Currency == "" {
		req.Currency = "PHP"
	}
	if len(req.Currency) != 3 {
		return invalid("currency", "must be a 3-letter code")
	}
	return nil
}

// normalizePhone accepts 09XXXXXXXXX or +639XXXXXXXXX and returns the
// +63 form the gateways expect.
func normalizePhone(s string) (string, bool) {
	s = strings.NewReplacer(" ", "", "-", "").Replace(s)
	if strings.HasPrefix(s, "+63") {
		s = "0" + s[3:]
	}
	if len(s) != 11 || !strings.HasPrefix(s, "09") {
		return "", false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return "+63" + s[1:], true
}
