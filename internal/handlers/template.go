package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/auth"
	"github.com/markjakearzadon/recetra-gobackend/internal/services"
	"github.com/markjakearzadon/recetra-gobackend/internal/templates"
)

// TemplateHandler handles HTTP requests for notification templates
type TemplateHandler struct {
	service *services.TemplateService
	logger  *zap.Logger
}

func NewTemplateHandler(service *services.TemplateService, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{service: service, logger: logger}
}

// CreateTemplate handles POST /api/templates
func (h *TemplateHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var t templates.Template
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.CreateTemplate(r.Context(), auth.FromContext(r.Context()), &t); err != nil {
		fail(w, h.logger, err, "create template")
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, t)
}

// GetTemplates handles GET /api/templates
func (h *TemplateHandler) GetTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListTemplates(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		fail(w, h.logger, err, "list templates")
		return
	}
	if list == nil {
		list = []templates.Template{}
	}
	writeJSON(w, h.logger, http.StatusOK, list)
}
