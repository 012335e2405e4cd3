package notify

import (
	"strings"
	"testing"
)

func TestTemplateStoreRendersSeededTemplates(t *testing.T) {
	store := NewTemplateStore()
	body, err := store.Render(TemplateRefundProcessed, map[string]string{
		"amount":   "60.00",
		"filename": "hearing-2026-08-12.mp3",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(body, "$60.00") || !strings.Contains(body, "hearing-2026-08-12.mp3") {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestTemplateStoreUnknownTemplate(t *testing.T) {
	store := NewTemplateStore()
	if _, err := store.Render("NOT_A_TEMPLATE", nil); err == nil {
		t.Fatalf("expected unknown template to fail")
	}
}

func TestRegisterReplacesTemplate(t *testing.T) {
	store := NewTemplateStore()
	if err := store.Register(TemplateOrderDelivered, "Done: {{.filename}}"); err != nil {
		t.Fatalf("register: %v", err)
	}
	body, err := store.Render(TemplateOrderDelivered, map[string]string{"filename": "a.mp3"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if body != "Done: a.mp3" {
		t.Fatalf("body = %q", body)
	}
	if err := store.Register("bad", "{{.unclosed"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestMemoryNotifierRecordsAndFails(t *testing.T) {
	n := NewMemoryNotifier()
	if err := n.SendTemplate(TemplateUnassignFile, "worker-1", map[string]string{"fileId": "f-1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	n.FailNext(true)
	if err := n.SendTemplate(TemplateUnassignFile, "worker-2", nil); err == nil {
		t.Fatalf("expected failure")
	}
	sent := n.Sent()
	if len(sent) != 1 || sent[0].Recipient != "worker-1" {
		t.Fatalf("unexpected sends: %+v", sent)
	}
}
