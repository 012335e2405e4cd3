package queue

import (
	"context"
	"encoding/json"
	"testing"

	"scribeworks/pkg/domain"
	"scribeworks/pkg/ledger"
	"scribeworks/pkg/quality"
	"scribeworks/pkg/storage"
	"scribeworks/pkg/store"
)

func newScreenerFixture(t *testing.T) (*Screener, *store.MemoryStore, *storage.MemoryObjectStore, *ledger.Ledger) {
	t.Helper()
	s := store.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	l := ledger.New(s, objects)
	gate := quality.NewGate(0.25, 0.5)
	return NewScreener(s, objects, l, gate), s, objects, l
}

func seedProcessingOrder(t *testing.T, s *store.MemoryStore, orderID, fileID string) {
	t.Helper()
	if err := s.SaveFile(domain.File{ID: fileID, Filename: fileID + ".mp3", Duration: 1}); err != nil {
		t.Fatalf("save file: %v", err)
	}
	if err := s.CreateOrder(domain.Order{ID: orderID, FileID: fileID, Status: domain.OrderProcessing}); err != nil {
		t.Fatalf("create order: %v", err)
	}
}

func recordAutoWithConfidences(t *testing.T, objects *storage.MemoryObjectStore, l *ledger.Ledger, fileID string, words []domain.WordConfidence) {
	t.Helper()
	ctx := context.Background()
	rev, err := storage.PutBytes(ctx, objects, ledger.TranscriptKey(fileID), []byte("asr transcript"))
	if err != nil {
		t.Fatalf("put transcript: %v", err)
	}
	if _, err := l.Record(fileID, domain.TagAuto, rev, ""); err != nil {
		t.Fatalf("record auto: %v", err)
	}
	payload, err := json.Marshal(words)
	if err != nil {
		t.Fatalf("marshal words: %v", err)
	}
	if _, err := storage.PutBytes(ctx, objects, fileID+"_ctms.json", payload); err != nil {
		t.Fatalf("put ctms: %v", err)
	}
}

func TestScreenAdvancesCleanTranscript(t *testing.T) {
	screener, s, objects, l := newScreenerFixture(t)
	seedProcessingOrder(t, s, "order-1", "file-1")
	recordAutoWithConfidences(t, objects, l, "file-1", []domain.WordConfidence{
		{Text: "hello", Confidence: 0.95},
		{Text: "world", Confidence: 0.90},
		{Text: "again", Confidence: 0.85},
		{Text: "today", Confidence: 0.40},
	})

	if err := screener.Screen(context.Background(), ScreeningJob{OrderID: "order-1"}); err != nil {
		t.Fatalf("screen: %v", err)
	}
	o, _, err := s.GetOrder("order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != domain.OrderTranscribed {
		t.Fatalf("expected TRANSCRIBED, got %s", o.Status)
	}
	if o.ScreeningRequired {
		t.Fatalf("clean transcript must not be held for screening")
	}
}

func TestScreenParksNoisyTranscript(t *testing.T) {
	screener, s, objects, l := newScreenerFixture(t)
	seedProcessingOrder(t, s, "order-1", "file-1")
	// Half the words below the 0.5 confidence floor: PWER 0.50 > 0.25.
	recordAutoWithConfidences(t, objects, l, "file-1", []domain.WordConfidence{
		{Text: "hello", Confidence: 0.9},
		{Text: "wrld", Confidence: 0.3},
		{Text: "again", Confidence: 0.95},
		{Text: "tday", Confidence: 0.1},
	})

	if err := screener.Screen(context.Background(), ScreeningJob{OrderID: "order-1"}); err != nil {
		t.Fatalf("screen: %v", err)
	}
	o, _, err := s.GetOrder("order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != domain.OrderProcessing {
		t.Fatalf("held order must stay at PROCESSING, got %s", o.Status)
	}
	if !o.ScreeningRequired || o.ScreeningReason == "" {
		t.Fatalf("expected screening hold with reason, got %+v", o)
	}
}

func TestScreenParksWhenNoASRTranscript(t *testing.T) {
	screener, s, _, _ := newScreenerFixture(t)
	seedProcessingOrder(t, s, "order-1", "file-1")

	if err := screener.Screen(context.Background(), ScreeningJob{OrderID: "order-1"}); err != nil {
		t.Fatalf("screen: %v", err)
	}
	o, _, err := s.GetOrder("order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !o.ScreeningRequired {
		t.Fatalf("missing transcript must hold the order for screening")
	}
}

func TestScreenIsIdempotent(t *testing.T) {
	screener, s, objects, l := newScreenerFixture(t)
	seedProcessingOrder(t, s, "order-1", "file-1")
	recordAutoWithConfidences(t, objects, l, "file-1", []domain.WordConfidence{
		{Text: "hello", Confidence: 0.95},
	})

	ctx := context.Background()
	if err := screener.Screen(ctx, ScreeningJob{OrderID: "order-1"}); err != nil {
		t.Fatalf("first screen: %v", err)
	}
	// Redelivered event: must not error or move the order again.
	if err := screener.Screen(ctx, ScreeningJob{OrderID: "order-1"}); err != nil {
		t.Fatalf("second screen: %v", err)
	}
	o, _, err := s.GetOrder("order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != domain.OrderTranscribed {
		t.Fatalf("expected TRANSCRIBED, got %s", o.Status)
	}
}

func TestApproveScreeningReleasesHeldOrder(t *testing.T) {
	screener, s, _, _ := newScreenerFixture(t)
	seedProcessingOrder(t, s, "order-1", "file-1")
	if err := s.SetOrderScreening("order-1", true, "noisy audio"); err != nil {
		t.Fatalf("set screening: %v", err)
	}

	if err := screener.ApproveScreening("order-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	o, _, err := s.GetOrder("order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != domain.OrderTranscribed || o.ScreeningRequired {
		t.Fatalf("expected released order, got %+v", o)
	}

	if err := screener.ApproveScreening("order-1"); err == nil {
		t.Fatalf("approve on released order should fail")
	}
}
