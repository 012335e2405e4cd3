// Package orders owns the order lifecycle: which transitions exist, who may
// trigger them, and the guards on each. Every transition is one conditional
// store write; a failed guard is a typed rejection and is never retried.
package orders

import (
	"fmt"
	"log/slog"
	"time"

	"scribeworks/pkg/domain"
	"scribeworks/pkg/notify"
	"scribeworks/pkg/progress"
	"scribeworks/pkg/store"
)

// Config carries the lifecycle tunables.
type Config struct {
	// RefundTriggerIssueCount is the accumulated issue count at which a
	// high-difficulty flag cancels the order outright instead of blocking it.
	RefundTriggerIssueCount int
	// DeadlineExtension is added to the delivery deadline when an order is
	// blocked for high difficulty.
	DeadlineExtension time.Duration
	// AcceptanceWindowPerHour is working time granted per hour of audio.
	AcceptanceWindowPerHour time.Duration
	// AcceptanceWindowMinimum floors the window for very short files.
	AcceptanceWindowMinimum time.Duration
	// AcceptanceWindowExtension is granted on top when the worker requested
	// an extension up front.
	AcceptanceWindowExtension time.Duration
}

// Machine applies guarded lifecycle transitions.
type Machine struct {
	store    store.Store
	notifier notify.Notifier
	cfg      Config
}

// NewMachine builds a Machine.
func NewMachine(s store.Store, n notify.Notifier, cfg Config) *Machine {
	return &Machine{store: s, notifier: n, cfg: cfg}
}

// Accept confirms a manually assigned job. The order status is untouched; it
// moved when the assignment was created.
func (m *Machine) Accept(orderID, workerID string) error {
	a, err := m.workerClaim(orderID, workerID)
	if err != nil {
		return err
	}
	err = m.store.CloseAssignment(store.JobClosure{
		AssignmentID: a.ID,
		JobFrom:      []domain.JobStatus{domain.JobAssigned},
		JobTo:        domain.JobAccepted,
	})
	if err != nil {
		return fmt.Errorf("accept job: %w", err)
	}
	return nil
}

// Reject hands a claimed job back. The assignment closes as REJECTED, which
// permanently bars this worker from the same order and stage, and the order
// drops back to its pre-stage status so another worker can claim it.
func (m *Machine) Reject(orderID, workerID string, comment string) error {
	a, err := m.workerClaim(orderID, workerID)
	if err != nil {
		return err
	}
	order, ok, err := m.store.GetOrder(orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	err = m.store.CloseAssignment(store.JobClosure{
		AssignmentID: a.ID,
		JobFrom:      []domain.JobStatus{domain.JobAssigned, domain.JobAccepted},
		JobTo:        domain.JobRejected,
		OrderID:      orderID,
		OrderFrom:    []domain.OrderStatus{assignedStatus(a.Stage)},
		OrderTo:      m.entryStatus(order, a.Stage),
	})
	if err != nil {
		return fmt.Errorf("reject job: %w", err)
	}
	return nil
}

// Submit turns in the worker's finished stage. The assignment and, for QC and
// REVIEW stages, the order both move to SUBMITTED_FOR_APPROVAL in one write.
// A finalizer submission leaves the order at FINALIZER_ASSIGNED until the
// operations manager delivers it.
func (m *Machine) Submit(orderID, workerID string) error {
	a, err := m.workerClaim(orderID, workerID)
	if err != nil {
		return err
	}
	closure := store.JobClosure{
		AssignmentID: a.ID,
		JobFrom:      []domain.JobStatus{domain.JobAccepted},
		JobTo:        domain.JobSubmittedForApproval,
	}
	if a.Stage != domain.StageFinalize {
		closure.OrderID = orderID
		closure.OrderFrom = []domain.OrderStatus{assignedStatus(a.Stage)}
		closure.OrderTo = domain.OrderSubmittedForApproval
	}
	if err := m.store.CloseAssignment(closure); err != nil {
		return fmt.Errorf("submit job: %w", err)
	}
	return nil
}

// Cancel ends an order at the customer's request. Forbidden once progress has
// reached the cutoff.
func (m *Machine) Cancel(orderID string) error {
	order, ok, err := m.store.GetOrder(orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	cancellable, err := progress.Cancellable(order)
	if err != nil {
		return fmt.Errorf("compute progress: %w", err)
	}
	if !cancellable {
		return fmt.Errorf("%w: order is past the cancellation cutoff", domain.ErrInvalidTransition)
	}
	// Guard on the observed status so a concurrent transition wins the race.
	if err := m.store.TransitionOrder(orderID, []domain.OrderStatus{order.Status}, domain.OrderCancelled); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	m.notifyOwner(order, notify.TemplateCancelOrder)
	return nil
}

// FlagHighDifficulty records worker-reported difficulty issues. Below the
// refund trigger the order blocks with an extended delivery deadline; at or
// above it the order cancels so the customer can be refunded.
func (m *Machine) FlagHighDifficulty(orderID string, issues int) error {
	order, ok, err := m.store.GetOrder(orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if order.Status.Terminal() {
		return fmt.Errorf("%w: order is %s", domain.ErrInvalidTransition, order.Status)
	}
	total := order.IssueCount + issues

	if total >= m.cfg.RefundTriggerIssueCount {
		if err := m.store.SetOrderDifficulty(orderID, true, total, order.DeliveryDeadline); err != nil {
			return fmt.Errorf("record difficulty: %w", err)
		}
		if err := m.store.TransitionOrder(orderID, []domain.OrderStatus{order.Status}, domain.OrderCancelled); err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		m.notifyOwner(order, notify.TemplateCancelOrder)
		return nil
	}

	deadline := order.DeliveryDeadline
	if !deadline.IsZero() {
		deadline = deadline.Add(m.cfg.DeadlineExtension)
	}
	if err := m.store.SetOrderDifficulty(orderID, true, total, deadline); err != nil {
		return fmt.Errorf("record difficulty: %w", err)
	}
	if order.Status == domain.OrderBlocked {
		return nil
	}
	if err := m.store.TransitionOrder(orderID, []domain.OrderStatus{order.Status}, domain.OrderBlocked); err != nil {
		return fmt.Errorf("block order: %w", err)
	}
	return nil
}

// AcceptanceWindow computes the advisory working time for a claim from the
// audio duration. It is not enforced by the engine; reassignment is the
// remedy for a blown window.
func (m *Machine) AcceptanceWindow(file domain.File, extensionRequested bool) time.Duration {
	window := time.Duration(file.Duration * float64(m.cfg.AcceptanceWindowPerHour))
	if window < m.cfg.AcceptanceWindowMinimum {
		window = m.cfg.AcceptanceWindowMinimum
	}
	if extensionRequested {
		window += m.cfg.AcceptanceWindowExtension
	}
	return window
}

// workerClaim resolves the worker's active assignment and checks it belongs
// to the order.
func (m *Machine) workerClaim(orderID, workerID string) (domain.JobAssignment, error) {
	a, ok, err := m.store.ActiveAssignmentForWorker(workerID)
	if err != nil {
		return domain.JobAssignment{}, fmt.Errorf("load active assignment: %w", err)
	}
	if !ok || a.OrderID != orderID {
		return domain.JobAssignment{}, fmt.Errorf("no active assignment for order %s: %w", orderID, domain.ErrNotFound)
	}
	return a, nil
}

// assignedStatus is the order status that corresponds to a live claim on the
// stage.
func assignedStatus(stage domain.JobStage) domain.OrderStatus {
	switch stage {
	case domain.StageReview:
		return domain.OrderReviewerAssigned
	case domain.StageFinalize:
		return domain.OrderFinalizerAssigned
	default:
		return domain.OrderQCAssigned
	}
}

// entryStatus is where the order goes back to when a claim on the stage is
// handed back.
func (m *Machine) entryStatus(order domain.Order, stage domain.JobStage) domain.OrderStatus {
	if stage == domain.StageFinalize {
		return domain.OrderPreDelivered
	}
	if order.OrderType == domain.TypeFormatting || order.OrderType == domain.TypeTranscriptionFormatting {
		return domain.OrderFormatted
	}
	return domain.OrderTranscribed
}

func (m *Machine) notifyOwner(order domain.Order, template string) {
	if m.notifier == nil {
		return
	}
	file, ok, err := m.store.GetFile(order.FileID)
	filename := order.FileID
	if err == nil && ok {
		filename = file.Filename
	}
	data := map[string]string{
		"filename": filename,
		"url":      "/invoices/" + order.InvoiceID,
	}
	if err := m.notifier.SendTemplate(template, order.OwnerUserID, data); err != nil {
		slog.Warn("notification send failed", "template", template, "user_id", order.OwnerUserID, "error", err)
	}
}
