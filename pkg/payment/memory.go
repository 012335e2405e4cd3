package payment

import (
	"errors"
	"sync"
)

// RefundCall records one refund request seen by the fake gateway.
type RefundCall struct {
	TransactionID string
	Amount        float64
	InvoiceID     string
	ToCredits     bool
}

// MemoryGateway is an in-process Gateway for tests.
type MemoryGateway struct {
	mu      sync.Mutex
	refunds []RefundCall
	fail    bool
	credits map[string]float64
}

// NewMemoryGateway constructs an empty fake gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{credits: make(map[string]float64)}
}

// Fail makes subsequent calls error, simulating an unreachable processor.
func (m *MemoryGateway) Fail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *MemoryGateway) Refund(transactionID string, amount float64, invoiceID string, toCredits bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return false, errors.New("payment gateway unavailable")
	}
	m.refunds = append(m.refunds, RefundCall{
		TransactionID: transactionID,
		Amount:        amount,
		InvoiceID:     invoiceID,
		ToCredits:     toCredits,
	})
	return true, nil
}

func (m *MemoryGateway) CreditBalance(userID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errors.New("payment gateway unavailable")
	}
	return m.credits[userID], nil
}

// Refunds returns a copy of the refund calls seen so far.
func (m *MemoryGateway) Refunds() []RefundCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RefundCall, len(m.refunds))
	copy(out, m.refunds)
	return out
}
