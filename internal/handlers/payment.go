package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/providers"
	"github.com/markjakearzadon/recetra-gobackend/internal/services"
)

// PaymentHandler receives payment gateway callbacks.
type PaymentHandler struct {
	service      *services.ReceiptService
	webhookToken string
	logger       *zap.Logger
}

func NewPaymentHandler(service *services.ReceiptService, webhookToken string, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: service, webhookToken: webhookToken, logger: logger}
}

// Webhook handles POST /api/payment/webhook
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("x-callback-token")
	if h.webhookToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookToken)) != 1 {
		writeError(w, h.logger, http.StatusUnauthorized, "Unauthorized webhook")
		return
	}

	var payload providers.InvoiceWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	outcome, ok, err := payload.Outcome(time.Now().UTC())
	if err != nil {
		h.logger.Warn("unusable payment webhook", zap.String("event", payload.Event), zap.Error(err))
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		h.logger.Debug("ignoring payment webhook", zap.String("event", payload.Event), zap.String("status", payload.Data.Status))
		w.WriteHeader(http.StatusOK)
		return
	}

	decision, err := h.service.ApplyProviderCallback(r.Context(), outcome)
	if err != nil {
		fail(w, h.logger, err, "webhook processing")
		return
	}
	h.logger.Info("payment webhook processed",
		zap.String("receipt_id", outcome.ReceiptID),
		zap.String("status", string(outcome.Status)),
		zap.String("decision", string(decision)),
	)
	w.WriteHeader(http.StatusOK)
}
