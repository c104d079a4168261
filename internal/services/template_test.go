package services

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/templates"
)

func TestCreateTemplate(t *testing.T) {
	catalog := templates.NewMemoryCatalog()
	svc := NewTemplateService(catalog, zap.NewNop())
	ctx := context.Background()

	tmpl := &templates.Template{
		Name:      "Event ticket",
		Subject:   "Ticket {{.ReceiptNumber}}",
		EmailBody: "Hi {{.Payer}}, see you there.",
		SMSBody:   "Ticket {{.ReceiptNumber}}",
	}
	if err := svc.CreateTemplate(ctx, encoder, tmpl); !errors.Is(err, ErrForbidden) {
		t.Fatalf("encoder: expected ErrForbidden, got %v", err)
	}
	if err := svc.CreateTemplate(ctx, admin, tmpl); err != nil {
		t.Fatalf("admin: %v", err)
	}
	if tmpl.ID == "" {
		t.Fatal("id not assigned")
	}
	got, err := catalog.Get(ctx, tmpl.ID)
	if err != nil || got.Name != "Event ticket" {
		t.Fatalf("stored template: %+v %v", got, err)
	}

	list, err := svc.ListTemplates(ctx, encoder)
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %d %v", len(list), err)
	}
	if _, err := svc.ListTemplates(ctx, viewer); !errors.Is(err, ErrForbidden) {
		t.Fatalf("viewer list: %v", err)
	}
}

func TestCreateTemplateValidation(t *testing.T) {
	svc := NewTemplateService(templates.NewMemoryCatalog(), zap.NewNop())
	cases := map[string]*templates.Template{
		"name":     {EmailBody: "x", SMSBody: "y"},
		"body":     {Name: "n", EmailBody: "x"},
		"id":       {ID: templates.DefaultID, Name: "n", EmailBody: "x", SMSBody: "y"},
		"template": {Name: "n", EmailBody: "{{.Payer", SMSBody: "y"},
	}
	for field, tmpl := range cases {
		err := svc.CreateTemplate(context.Background(), admin, tmpl)
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != field {
			t.Fatalf("%s: expected validation error, got %v", field, err)
		}
	}
}
