package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"scribeworks/pkg/domain"
	"scribeworks/pkg/ledger"
	"scribeworks/pkg/storage"
	"scribeworks/pkg/store"
)

// Ingestor drives the machine-transcription flow: it submits audio to the
// provider and, on the completion webhook, writes the transcript and its
// word-confidence sidecar and records the ledger rows screening reads.
type Ingestor struct {
	store   store.Store
	objects storage.ObjectStore
	ledger  *ledger.Ledger
	client  Client
	polish  Polisher
}

// NewIngestor builds an Ingestor. polish may be nil; raw provider output is
// then recorded as-is.
func NewIngestor(s store.Store, objects storage.ObjectStore, l *ledger.Ledger, c Client, p Polisher) *Ingestor {
	return &Ingestor{store: s, objects: objects, ledger: l, client: c, polish: p}
}

// Request submits the order's audio for transcription and returns the
// provider transcript id. Only PROCESSING orders may be submitted.
func (i *Ingestor) Request(ctx context.Context, orderID, audioURL, webhookURL string) (string, error) {
	order, ok, err := i.store.GetOrder(orderID)
	if err != nil {
		return "", fmt.Errorf("load order: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if order.Status != domain.OrderProcessing {
		return "", fmt.Errorf("%w: order is %s", domain.ErrInvalidTransition, order.Status)
	}
	id, err := i.client.StartTranscription(ctx, audioURL, webhookURL)
	if err != nil {
		return "", domain.Externalf("transcription provider", err)
	}
	slog.Info("transcription requested", "order_id", orderID, "transcript_id", id)
	return id, nil
}

// Complete ingests a finished provider transcript for the order. Orders past
// PROCESSING are skipped so a replayed webhook is harmless.
func (i *Ingestor) Complete(ctx context.Context, orderID, transcriptID string) error {
	order, ok, err := i.store.GetOrder(orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if order.Status != domain.OrderProcessing {
		slog.Info("transcript ingest skipped, order already advanced",
			"order_id", order.ID, "status", order.Status)
		return nil
	}

	t, err := i.client.GetTranscript(ctx, transcriptID)
	if err != nil {
		return domain.Externalf("transcription provider", err)
	}
	if t.Status != "completed" {
		return fmt.Errorf("transcript %s is %s, not completed", transcriptID, t.Status)
	}

	text := t.Text
	tag := domain.TagAssemblyAI
	ctmKey := order.FileID + "_assembly_ai_ctms.json"
	if i.polish != nil {
		polished, err := i.polish.Polish(ctx, t.Text)
		if err != nil {
			// Raw output is still deliverable; the polish pass is best effort.
			slog.Warn("transcript polish failed, keeping raw output",
				"order_id", order.ID, "err", err)
		} else {
			text = polished
			tag = domain.TagAssemblyAILLM
			ctmKey = order.FileID + "_assembly_ai_llm_ctms.json"
		}
	}

	rev, err := storage.PutBytes(ctx, i.objects, ledger.TranscriptKey(order.FileID), []byte(text))
	if err != nil {
		return domain.Externalf("object store", err)
	}
	words, err := json.Marshal(t.Words)
	if err != nil {
		return fmt.Errorf("encode word confidences: %w", err)
	}
	if _, err := storage.PutBytes(ctx, i.objects, ctmKey, words); err != nil {
		return domain.Externalf("object store", err)
	}
	if _, err := i.ledger.Record(order.FileID, domain.TagAuto, rev, ""); err != nil {
		return fmt.Errorf("record auto revision: %w", err)
	}
	if _, err := i.ledger.Record(order.FileID, tag, rev, ""); err != nil {
		return fmt.Errorf("record engine revision: %w", err)
	}
	slog.Info("machine transcript recorded",
		"order_id", order.ID, "tag", tag, "revision_id", rev, "words", len(t.Words))
	return nil
}
