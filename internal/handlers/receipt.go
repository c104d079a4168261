package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/auth"
	"github.com/markjakearzadon/recetra-gobackend/internal/models"
	"github.com/markjakearzadon/recetra-gobackend/internal/services"
)

// ReceiptHandler handles HTTP requests for receipts
type ReceiptHandler struct {
	service *services.ReceiptService
	logger  *zap.Logger
}

func NewReceiptHandler(service *services.ReceiptService, logger *zap.Logger) *ReceiptHandler {
	return &ReceiptHandler{service: service, logger: logger}
}

// IssueReceipt handles POST /api/receipts
func (h *ReceiptHandler) IssueReceipt(w http.ResponseWriter, r *http.Request) {
	var req services.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}

	receipt, err := h.service.IssueReceipt(r.Context(), auth.FromContext(r.Context()), req)
	if err != nil {
		fail(w, h.logger, err, "issue receipt")
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, receipt)
}

// GetReceipts handles GET /api/receipts?organization=&issuer=
func (h *ReceiptHandler) GetReceipts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := services.ReceiptFilter{Organization: q.Get("organization"), Issuer: q.Get("issuer")}

	receipts, err := h.service.ListReceipts(r.Context(), auth.FromContext(r.Context()), filter)
	if err != nil {
		fail(w, h.logger, err, "list receipts")
		return
	}
	if receipts == nil {
		receipts = []models.Receipt{}
	}
	writeJSON(w, h.logger, http.StatusOK, receipts)
}

// GetReceipt handles GET /api/receipts/{receiptID}
func (h *ReceiptHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.service.GetReceipt(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["receiptID"])
	if err != nil {
		fail(w, h.logger, err, "get receipt")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, receipt)
}

// RetryChannel handles POST /api/receipts/{receiptID}/retry/{channel}
func (h *ReceiptHandler) RetryChannel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	channel, err := models.ParseChannel(vars["channel"])
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.service.RetryChannel(r.Context(), auth.FromContext(r.Context()), vars["receiptID"], channel)
	if err != nil {
		fail(w, h.logger, err, "retry channel")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, outcome)
}

// RefreshPayment handles POST /api/receipts/{receiptID}/payment/refresh
func (h *ReceiptHandler) RefreshPayment(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.service.RefreshPayment(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["receiptID"])
	if err != nil {
		fail(w, h.logger, err, "refresh payment")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, receipt)
}

// VerifyReceipt handles GET /api/verify/{token}. Unknown and malformed
// tokens are answers, not errors, so they come back with 200.
func (h *ReceiptHandler) VerifyReceipt(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.VerifyToken(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.logger.Error("verification failed", zap.Error(err))
		writeError(w, h.logger, http.StatusServiceUnavailable, "verification unavailable")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}
