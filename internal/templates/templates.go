// Package templates holds the receipt notification templates admins manage.
package templates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("template not found")

// DefaultID names the built-in template used when a receipt's template is missing.
const DefaultID = "default"

type Template struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Subject   string    `bson:"subject" json:"subject"`
	EmailBody string    `bson:"email_body" json:"email_body"`
	SMSBody   string    `bson:"sms_body" json:"sms_body"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Catalog is the lookup the dispatcher renders notifications from.
type Catalog interface {
	Get(ctx context.Context, id string) (Template, error)
}

// Manager is a catalog admins can add templates to.
type Manager interface {
	Catalog
	Create(ctx context.Context, t *Template) error
	List(ctx context.Context) ([]Template, error)
}

// Default is the built-in official receipt notice.
func Default() Template {
	return Template{
		ID:      DefaultID,
		Name:    "Official receipt",
		Subject: "Official Receipt {{.ReceiptNumber}} from {{.Organization}}",
		EmailBody: `Hi {{.Payer}},

{{.Organization}} issued official receipt {{.ReceiptNumber}} for {{.Currency}} {{.Amount}} ({{.Purpose}}).
{{if .PaymentPending}}Your payment is still being processed; you will receive a confirmation once it clears.
{{end}}Verify this receipt with code {{.VerificationToken}}.`,
		SMSBody: `{{.Organization}} OR {{.ReceiptNumber}}: {{.Currency}} {{.Amount}} for {{.Purpose}}.{{if .PaymentPending}} Payment pending.{{end}} Verify: {{.VerificationToken}}`,
	}
}

// Data is the value templates are executed against.
type Data struct {
	ReceiptNumber     string
	VerificationToken string
	Payer             string
	Amount            string
	Currency          string
	Purpose           string
	Category          string
	Organization      string
	IssuedAt          time.Time
	PaymentPending    bool
}

// Rendered is a template executed against receipt data.
type Rendered struct {
	Subject   string
	EmailBody string
	SMSBody   string
}

// Render executes all three parts of t.
func Render(t Template, data Data) (Rendered, error) {
	var out Rendered
	parts := []struct {
		name string
		src  string
		dst  *string
	}{
		{"subject", t.Subject, &out.Subject},
		{"email", t.EmailBody, &out.EmailBody},
		{"sms", t.SMSBody, &out.SMSBody},
	}
	for _, p := range parts {
		tmpl, err := template.New(t.ID + ":" + p.name).Option("missingkey=error").Parse(p.src)
		if err != nil {
			return Rendered{}, fmt.Errorf("template %s %s: %w", t.ID, p.name, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return Rendered{}, fmt.Errorf("template %s %s: %w", t.ID, p.name, err)
		}
		*p.dst = buf.String()
	}
	return out, nil
}

// Validate parses every part without executing it.
func Validate(t Template) error {
	for name, src := range map[string]string{"subject": t.Subject, "email": t.EmailBody, "sms": t.SMSBody} {
		if _, err := template.New(name).Parse(src); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// MemoryCatalog is an in-process catalog seeded with the default template.
type MemoryCatalog struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewMemoryCatalog(seed ...Template) *MemoryCatalog {
	c := &MemoryCatalog{templates: map[string]Template{DefaultID: Default()}}
	for _, t := range seed {
		c.templates[t.ID] = t
	}
	return c
}

func (c *MemoryCatalog) Get(_ context.Context, id string) (Template, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[id]
	if !ok {
		return Template{}, ErrNotFound
	}
	return t, nil
}

func (c *MemoryCatalog) Create(_ context.Context, t *Template) error {
	if err := Validate(*t); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	c.mu.Lock()
	c.templates[t.ID] = *t
	c.mu.Unlock()
	return nil
}

func (c *MemoryCatalog) List(_ context.Context) ([]Template, error) {
	c.mu.RLock()
	out := make([]Template, 0, len(c.templates))
	for _, t := range c.templates {
		out = append(out, t)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
