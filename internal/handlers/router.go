package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/auth"
)

type Routes struct {
	Receipts  *ReceiptHandler
	Payments  *PaymentHandler
	Templates *TemplateHandler
	Issuer    *auth.Issuer
	Logger    *zap.Logger
}

// NewRouter wires every endpoint. The payment webhook authenticates with
// its callback token rather than a bearer token.
func NewRouter(rt Routes) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "HEAD")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/api/payment/webhook", rt.Payments.Webhook).Methods("POST")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(Authenticate(rt.Issuer, rt.Logger))

	api.HandleFunc("/receipts", rt.Receipts.IssueReceipt).Methods("POST")
	api.HandleFunc("/receipts", rt.Receipts.GetReceipts).Methods("GET")
	api.HandleFunc("/receipts/{receiptID}", rt.Receipts.GetReceipt).Methods("GET")
	api.HandleFunc("/receipts/{receiptID}/retry/{channel}", rt.Receipts.RetryChannel).Methods("POST")
	api.HandleFunc("/receipts/{receiptID}/payment/refresh", rt.Receipts.RefreshPayment).Methods("POST")
	api.HandleFunc("/verify/{token}", rt.Receipts.VerifyReceipt).Methods("GET")

	api.HandleFunc("/templates", rt.Templates.CreateTemplate).Methods("POST")
	api.HandleFunc("/templates", rt.Templates.GetTemplates).Methods("GET")

	return router
}
