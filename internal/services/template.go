package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/auth"
	"github.com/markjakearzadon/recetra-gobackend/internal/templates"
)

// TemplateService lets admins manage the notification templates receipts
// are rendered with.
type TemplateService struct {
	manager templates.Manager
	logger  *zap.Logger
}

func NewTemplateService(m templates.Manager, logger *zap.Logger) *TemplateService {
	return &TemplateService{manager: m, logger: logger}
}

func (s *TemplateService) CreateTemplate(ctx context.Context, ac auth.Context, t *templates.Template) error {
	user, err := ac.CurrentUser()
	if err != nil {
		return err
	}
	if user.Role != auth.RoleAdmin {
		return fmt.Errorf("%w: only admins manage templates", ErrForbidden)
	}

	t.Name = strings.TrimSpace(t.Name)
	switch {
	case t.Name == "":
		return invalid("name", "required")
	case strings.TrimSpace(t.EmailBody) == "" || strings.TrimSpace(t.SMSBody) == "":
		return invalid("body", "email_body and sms_body are required")
	case t.ID == templates.DefaultID:
		return invalid("id", "the default template is built in")
	}
	if err := templates.Validate(*t); err != nil {
		return invalid("template", err.Error())
	}

	if err := s.manager.Create(ctx, t); err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	s.logger.Info("template created", zap.String("template_id", t.ID), zap.String("created_by", user.ID))
	return nil
}

// ListTemplates is open to anyone who may issue receipts.
func (s *TemplateService) ListTemplates(ctx context.Context, ac auth.Context) ([]templates.Template, error) {
	if _, err := requireIssuer(ac); err != nil {
		return nil, err
	}
	return s.manager.List(ctx)
}
