// Package notify is the outbound notification collaborator. Sends are
// fire-and-forget from the engine's perspective: failures are logged and
// never block a state transition.
package notify

import (
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// Template names used by the pipeline.
const (
	TemplateUnassignFile    = "UNASSIGN_FILE"
	TemplateReassignFile    = "REASSIGN_FILE"
	TemplateCancelOrder     = "TRANSCRIPT_CANCEL_ORDER"
	TemplateOrderDelivered  = "TRANSCRIPT_DELIVERED"
	TemplateRefundProcessed = "TRANSCRIPT_REFUNDED"
)

// Notifier delivers a templated notification to a user.
type Notifier interface {
	SendTemplate(templateName, recipientUserID string, data map[string]string) error
}

// TemplateStore compiles and renders the named notification bodies.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewTemplateStore seeds the store with the pipeline's templates.
func NewTemplateStore() *TemplateStore {
	store := &TemplateStore{templates: make(map[string]*template.Template)}
	_ = store.Register(TemplateUnassignFile, "Your {{.type}} file {{.fileId}} has been unassigned. {{.comment}}")
	_ = store.Register(TemplateReassignFile, "File {{.fileId}} has been re-assigned to you for {{.jobType}}. {{.comment}}")
	_ = store.Register(TemplateCancelOrder, "Your order for {{.filename}} has been cancelled. Invoice: {{.url}}")
	_ = store.Register(TemplateOrderDelivered, "Your transcript for {{.filename}} is ready. Download: {{.url}}")
	_ = store.Register(TemplateRefundProcessed, "A refund of ${{.amount}} has been issued for {{.filename}}.")
	return store
}

// Register adds or replaces a template definition.
func (s *TemplateStore) Register(name, body string) error {
	tmpl, err := template.New(name).Parse(body)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[name] = tmpl
	return nil
}

// Render executes the template with the provided data.
func (s *TemplateStore) Render(name string, data map[string]string) (string, error) {
	s.mu.RLock()
	tmpl, ok := s.templates[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %s not found", name)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return out.String(), nil
}
