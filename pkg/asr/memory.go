package asr

import (
	"context"
	"fmt"
	"sync"
)

// StartCall records one submission seen by the fake client.
type StartCall struct {
	AudioURL   string
	WebhookURL string
}

// MemoryClient is an in-process Client for tests.
type MemoryClient struct {
	mu          sync.Mutex
	transcripts map[string]Transcript
	starts      []StartCall
	nextID      int
}

// NewMemoryClient constructs an empty fake client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{transcripts: make(map[string]Transcript)}
}

// SetTranscript registers the transcript returned for an id.
func (m *MemoryClient) SetTranscript(t Transcript) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcripts[t.ID] = t
}

func (m *MemoryClient) StartTranscription(_ context.Context, audioURL, webhookURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.starts = append(m.starts, StartCall{AudioURL: audioURL, WebhookURL: webhookURL})
	return fmt.Sprintf("transcript-%d", m.nextID), nil
}

func (m *MemoryClient) GetTranscript(_ context.Context, id string) (Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transcripts[id]
	if !ok {
		return Transcript{}, fmt.Errorf("unknown transcript %s", id)
	}
	return t, nil
}

// Starts returns a copy of the submissions seen so far.
func (m *MemoryClient) Starts() []StartCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StartCall, len(m.starts))
	copy(out, m.starts)
	return out
}

// PolishFunc adapts a function into a Polisher.
type PolishFunc func(ctx context.Context, transcript string) (string, error)

func (f PolishFunc) Polish(ctx context.Context, transcript string) (string, error) {
	return f(ctx, transcript)
}
