package notify

import (
	"errors"
	"sync"
)

// Sent is one recorded notification.
type Sent struct {
	Template  string
	Recipient string
	Data      map[string]string
}

// MemoryNotifier records notifications in memory for inspection in tests.
type MemoryNotifier struct {
	mu   sync.Mutex
	sent []Sent
	fail bool
}

// NewMemoryNotifier constructs an empty memory notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

// FailNext makes every subsequent send return an error, for testing the
// swallow-and-log path.
func (m *MemoryNotifier) FailNext(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// SendTemplate records the notification.
func (m *MemoryNotifier) SendTemplate(templateName, recipientUserID string, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("notifier unavailable")
	}
	m.sent = append(m.sent, Sent{Template: templateName, Recipient: recipientUserID, Data: data})
	return nil
}

// Sent returns a copy of notifications seen so far.
func (m *MemoryNotifier) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}
