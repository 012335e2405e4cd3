package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"scribeworks/pkg/domain"
	"scribeworks/pkg/ledger"
	"scribeworks/pkg/quality"
	"scribeworks/pkg/storage"
	"scribeworks/pkg/store"
)

// Screener consumes ASR-completion events and runs the quality gate. A clean
// transcript advances the order into the pipeline; a noisy one is parked for
// manual screening.
type Screener struct {
	store   store.Store
	objects storage.ObjectStore
	ledger  *ledger.Ledger
	gate    *quality.Gate
}

// NewScreener builds a Screener.
func NewScreener(s store.Store, objects storage.ObjectStore, l *ledger.Ledger, gate *quality.Gate) *Screener {
	return &Screener{store: s, objects: objects, ledger: l, gate: gate}
}

// Screen processes one event. It is safe to re-run: orders past PROCESSING
// are skipped, so a redelivered event is a no-op.
func (s *Screener) Screen(ctx context.Context, job ScreeningJob) error {
	order, ok, err := s.store.GetOrder(job.OrderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if !ok {
		return fmt.Errorf("order %s: %w", job.OrderID, domain.ErrNotFound)
	}
	if order.Status != domain.OrderProcessing {
		slog.Info("screening skipped, order already advanced",
			"order_id", order.ID, "status", order.Status)
		return nil
	}

	auto, err := s.ledger.ResolveAutoTranscript(ctx, order.FileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.park(order, "no ASR transcript recorded for this file")
		}
		return fmt.Errorf("resolve auto transcript: %w", err)
	}
	if auto.CTMKey == "" {
		return s.park(order, "no word-confidence data for the ASR transcript")
	}

	raw, err := s.objects.Get(ctx, auto.CTMKey, "")
	if err != nil {
		return domain.Externalf("object store", err)
	}
	var words []domain.WordConfidence
	if err := json.Unmarshal(raw, &words); err != nil {
		return fmt.Errorf("decode word confidences: %w", err)
	}

	pwer := s.gate.PWERFromConfidence(words)
	if required, reason := s.gate.RequiresManualScreening(pwer); required {
		return s.park(order, reason)
	}

	if err := s.store.SetOrderScreening(order.ID, false, ""); err != nil {
		return fmt.Errorf("clear screening flag: %w", err)
	}
	err = s.store.TransitionOrder(order.ID, []domain.OrderStatus{domain.OrderProcessing}, domain.OrderTranscribed)
	if err != nil {
		return fmt.Errorf("advance order: %w", err)
	}
	slog.Info("order passed screening", "order_id", order.ID, "pwer", pwer)
	return nil
}

// park flags the order for manual screening and leaves it at PROCESSING so an
// operator decision, not a retry, moves it forward.
func (s *Screener) park(order domain.Order, reason string) error {
	if err := s.store.SetOrderScreening(order.ID, true, reason); err != nil {
		return fmt.Errorf("flag screening: %w", err)
	}
	slog.Info("order held for manual screening", "order_id", order.ID, "reason", reason)
	return nil
}

// ApproveScreening is the operator override that releases a held order into
// the pipeline.
func (s *Screener) ApproveScreening(orderID string) error {
	order, ok, err := s.store.GetOrder(orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if !order.ScreeningRequired {
		return fmt.Errorf("%w: order is not held for screening", domain.ErrInvalidTransition)
	}
	if err := s.store.SetOrderScreening(orderID, false, ""); err != nil {
		return fmt.Errorf("clear screening flag: %w", err)
	}
	err = s.store.TransitionOrder(orderID, []domain.OrderStatus{domain.OrderProcessing}, domain.OrderTranscribed)
	if err != nil {
		return fmt.Errorf("advance order: %w", err)
	}
	return nil
}
