// Package ledger is the append-only log of tagged object-store revisions per
// file. The latest row for a (file, tag) pair by sequence number is the
// authoritative revision for that pipeline stage.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"scribeworks/internal/util"
	"scribeworks/pkg/domain"
	"scribeworks/pkg/storage"
	"scribeworks/pkg/store"
)

// Ledger records and resolves artifact revisions.
type Ledger struct {
	store   store.Store
	objects storage.ObjectStore
}

// New constructs a ledger over the given stores.
func New(s store.Store, objects storage.ObjectStore) *Ledger {
	return &Ledger{store: s, objects: objects}
}

// TranscriptKey is the canonical object key for a file's transcript.
func TranscriptKey(fileID string) string {
	return fileID + ".txt"
}

// SubmissionTag maps a pipeline stage to the ledger tag its submissions are
// recorded under.
func SubmissionTag(stage domain.JobStage) domain.StageTag {
	switch stage {
	case domain.StageReview:
		return domain.TagCFRevSubmitted
	case domain.StageFinalize:
		return domain.TagCFFinalizerSubmitted
	default:
		return domain.TagQCDelivered
	}
}

// Record appends a tagged revision to the ledger. All tags append; the
// CUSTOMER_EDIT tag replaces the current edit overlay (at most one per file).
func (l *Ledger) Record(fileID string, tag domain.StageTag, revisionID, workerID string) (domain.FileVersion, error) {
	now := time.Now().UTC()
	v := domain.FileVersion{
		ID:         util.NewID(),
		FileID:     fileID,
		Tag:        tag,
		RevisionID: revisionID,
		Key:        TranscriptKey(fileID),
		Extension:  "txt",
		WorkerID:   workerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return l.store.AppendFileVersion(v)
}

// Resolve returns the authoritative revision ID for a stage tag.
func (l *Ledger) Resolve(fileID string, tag domain.StageTag) (string, error) {
	v, ok, err := l.store.LatestFileVersion(fileID, tag)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrNotFound
	}
	return v.RevisionID, nil
}

// ResolveCurrentTranscript returns the customer-visible transcript revision:
// the customer's edit overlay if one exists, else the delivered revision.
func (l *Ledger) ResolveCurrentTranscript(fileID string) (string, error) {
	rev, err := l.Resolve(fileID, domain.TagCustomerEdit)
	if err == nil {
		return rev, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	return l.Resolve(fileID, domain.TagCustomerDelivered)
}

// AutoTranscript pairs the ASR transcript revision with the word-timing
// (CTM) sidecar that belongs to it.
type AutoTranscript struct {
	RevisionID string
	CTMKey     string
}

// ResolveAutoTranscript finds the ASR output revision and its CTM handle.
// The ASSEMBLY_AI and ASSEMBLY_AI_LLM rows only count as "the same artifact"
// when their revision ID equals the AUTO row's revision ID; a later re-run
// under the same tag with a different revision is a different artifact.
func (l *Ledger) ResolveAutoTranscript(ctx context.Context, fileID string) (AutoTranscript, error) {
	versions, err := l.store.ListFileVersions(fileID, []domain.StageTag{
		domain.TagAuto, domain.TagAssemblyAI, domain.TagAssemblyAILLM,
	})
	if err != nil {
		return AutoTranscript{}, err
	}
	var auto *domain.FileVersion
	for i := range versions {
		if versions[i].Tag == domain.TagAuto {
			auto = &versions[i]
		}
	}
	if auto == nil || auto.RevisionID == "" {
		return AutoTranscript{}, domain.ErrNotFound
	}
	result := AutoTranscript{RevisionID: auto.RevisionID}
	for _, v := range versions {
		if v.RevisionID != auto.RevisionID {
			continue
		}
		switch v.Tag {
		case domain.TagAssemblyAI:
			result.CTMKey = fileID + "_assembly_ai_ctms.json"
			return result, nil
		case domain.TagAssemblyAILLM:
			result.CTMKey = fileID + "_assembly_ai_llm_ctms.json"
			return result, nil
		}
	}
	fallbackKey := fileID + "_ctms.json"
	exists, err := l.objects.Exists(ctx, fallbackKey)
	if err != nil {
		return AutoTranscript{}, domain.Externalf("object store", err)
	}
	if exists {
		result.CTMKey = fallbackKey
	}
	return result, nil
}

// PromoteToCustomer copies the latest office-manager delivery to the
// customer-delivered tags. When no office-manager delivery exists, the
// finalizer's submission is promoted directly, preserving its key and
// extension metadata. No new object is written; promotion is a ledger copy.
// Both the CUSTOMER_DELIVERED and CF_CUSTOMER_DELIVERED rows are appended so
// the customer transcript resolves without consulting the formatting path.
func (l *Ledger) PromoteToCustomer(fileID, customerUserID string) (domain.FileVersion, error) {
	source, ok, err := l.store.LatestFileVersion(fileID, domain.TagCFOMDelivered)
	if err != nil {
		return domain.FileVersion{}, err
	}
	if !ok {
		source, ok, err = l.store.LatestFileVersion(fileID, domain.TagCFFinalizerSubmitted)
		if err != nil {
			return domain.FileVersion{}, err
		}
		if !ok {
			return domain.FileVersion{}, domain.ErrNotFound
		}
	}
	now := time.Now().UTC()
	promoted := domain.FileVersion{
		FileID:     fileID,
		RevisionID: source.RevisionID,
		Key:        source.Key,
		Extension:  source.Extension,
		WorkerID:   customerUserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	promoted.ID = util.NewID()
	promoted.Tag = domain.TagCustomerDelivered
	if _, err := l.store.AppendFileVersion(promoted); err != nil {
		return domain.FileVersion{}, err
	}
	promoted.ID = util.NewID()
	promoted.Tag = domain.TagCFCustomerDelivered
	return l.store.AppendFileVersion(promoted)
}

// CleanupCustomerEdit destroys the customer's edit overlay as part of
// delivery. The object revision is deleted first so a stale draft cannot
// leak into the next delivery cycle; object-store failure is logged but does
// not block the delivery.
func (l *Ledger) CleanupCustomerEdit(ctx context.Context, fileID string) error {
	edit, ok, err := l.store.LatestFileVersion(fileID, domain.TagCustomerEdit)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if edit.RevisionID != "" {
		if err := l.objects.Delete(ctx, edit.Key, edit.RevisionID); err != nil {
			slog.Warn("failed to delete customer edit revision",
				"file_id", fileID,
				"revision_id", edit.RevisionID,
				"err", err,
			)
		}
	}
	_, _, err = l.store.DeleteCustomerEdit(fileID)
	return err
}
