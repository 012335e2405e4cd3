// Package delivery drives the final mile of an order: approving submitted
// work, handing the transcript to the customer, and executing refunds. Object
// store and ledger work always happen before the relational status flip, so
// a crash leaves the order one guarded write away from done instead of
// delivered-with-no-artifact.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scribeworks/pkg/domain"
	"scribeworks/pkg/ledger"
	"scribeworks/pkg/notify"
	"scribeworks/pkg/payment"
	"scribeworks/pkg/progress"
	"scribeworks/pkg/store"
)

// Orchestrator composes the store, ledger, payment gateway, and notifier.
type Orchestrator struct {
	store    store.Store
	ledger   *ledger.Ledger
	gateway  payment.Gateway
	notifier notify.Notifier
}

// New builds an Orchestrator.
func New(s store.Store, l *ledger.Ledger, g payment.Gateway, n notify.Notifier) *Orchestrator {
	return &Orchestrator{store: s, ledger: l, gateway: g, notifier: n}
}

// AcceptSubmission approves a QC or REVIEW submission. The order may only
// reach COMPLETED from a live assignment that is itself SUBMITTED_FOR_APPROVAL;
// assignment and order move together.
func (o *Orchestrator) AcceptSubmission(orderID string, earnings float64) error {
	a, err := o.submittedAssignment(orderID)
	if err != nil {
		return err
	}
	err = o.store.CloseAssignment(store.JobClosure{
		AssignmentID: a.ID,
		JobFrom:      []domain.JobStatus{domain.JobSubmittedForApproval},
		JobTo:        domain.JobCompleted,
		Earnings:     &earnings,
		OrderID:      orderID,
		OrderFrom:    []domain.OrderStatus{domain.OrderSubmittedForApproval},
		OrderTo:      domain.OrderCompleted,
	})
	if err != nil {
		return fmt.Errorf("accept submission: %w", err)
	}
	return nil
}

// Predeliver releases an approved order for finalization.
func (o *Orchestrator) Predeliver(orderID string) error {
	err := o.store.TransitionOrder(orderID, []domain.OrderStatus{domain.OrderCompleted}, domain.OrderPreDelivered)
	if err != nil {
		return fmt.Errorf("predeliver: %w", err)
	}
	return nil
}

// Deliver completes the order. The ledger promotion and the customer-edit
// cleanup run before the status write; if either aborts, the order stays at
// FINALIZER_ASSIGNED and delivery can be retried by the operator.
func (o *Orchestrator) Deliver(ctx context.Context, orderID string, finalizerEarnings float64) error {
	order, ok, err := o.store.GetOrder(orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if order.Status != domain.OrderFinalizerAssigned {
		return fmt.Errorf("%w: order is %s", domain.ErrInvalidTransition, order.Status)
	}
	claim, ok, err := o.store.ActiveAssignmentForOrder(orderID, domain.StageFinalize)
	if err != nil {
		return fmt.Errorf("load finalizer assignment: %w", err)
	}
	if !ok || claim.Status != domain.JobSubmittedForApproval {
		return fmt.Errorf("%w: no submitted finalizer work", domain.ErrInvalidTransition)
	}

	if _, err := o.ledger.PromoteToCustomer(order.FileID, order.OwnerUserID); err != nil {
		return fmt.Errorf("promote transcript: %w", err)
	}
	if err := o.ledger.CleanupCustomerEdit(ctx, order.FileID); err != nil {
		return fmt.Errorf("cleanup customer edit: %w", err)
	}

	now := time.Now().UTC()
	err = o.store.CloseAssignment(store.JobClosure{
		AssignmentID: claim.ID,
		JobFrom:      []domain.JobStatus{domain.JobSubmittedForApproval},
		JobTo:        domain.JobCompleted,
		Earnings:     &finalizerEarnings,
		OrderID:      orderID,
		OrderFrom:    []domain.OrderStatus{domain.OrderFinalizerAssigned},
		OrderTo:      domain.OrderDelivered,
		DeliveredBy:  claim.WorkerID,
		DeliveredAt:  &now,
	})
	if err != nil {
		return fmt.Errorf("deliver order: %w", err)
	}

	o.send(notify.TemplateOrderDelivered, order.OwnerUserID, map[string]string{
		"filename": order.FileID,
		"url":      "/files/" + order.FileID + "/transcript",
	})
	return nil
}

// RefundQuote computes the refundable amount without executing anything.
// Fails closed when progress is indeterminate or past the cutoff.
func (o *Orchestrator) RefundQuote(orderID string) (int, float64, error) {
	order, ok, err := o.store.GetOrder(orderID)
	if err != nil {
		return 0, 0, fmt.Errorf("load order: %w", err)
	}
	if !ok {
		return 0, 0, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	percent, err := progress.Percent(order)
	if err != nil {
		return 0, 0, fmt.Errorf("compute progress: %w", err)
	}
	if percent >= progress.CancelCutoffPercent {
		return 0, 0, fmt.Errorf("%w: order is past the refund cutoff", domain.ErrInvalidTransition)
	}
	return percent, progress.RefundAmount(order.TotalPaid, percent), nil
}

// Refund executes the refund through the payment gateway and, only on
// gateway success, flips the order to REFUNDED and cancels its assignments
// in one transaction. A gateway failure leaves the order untouched; the
// caller retries manually.
func (o *Orchestrator) Refund(orderID string, toCredits bool) (float64, error) {
	order, ok, err := o.store.GetOrder(orderID)
	if err != nil {
		return 0, fmt.Errorf("load order: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	_, amount, err := o.RefundQuote(orderID)
	if err != nil {
		return 0, err
	}

	refunded, err := o.gateway.Refund(order.TransactionID, amount, order.InvoiceID, toCredits)
	if err != nil {
		return 0, domain.Externalf("payment gateway", err)
	}
	if !refunded {
		return 0, domain.Externalf("payment gateway", errors.New("refund was declined"))
	}

	if err := o.store.RefundOrder(orderID); err != nil {
		return 0, fmt.Errorf("record refund: %w", err)
	}
	o.send(notify.TemplateRefundProcessed, order.OwnerUserID, map[string]string{
		"filename": order.FileID,
		"amount":   fmt.Sprintf("%.2f", amount),
	})
	return amount, nil
}

// submittedAssignment finds the live QC or REVIEW claim awaiting approval.
func (o *Orchestrator) submittedAssignment(orderID string) (domain.JobAssignment, error) {
	for _, stage := range []domain.JobStage{domain.StageQC, domain.StageReview} {
		a, ok, err := o.store.ActiveAssignmentForOrder(orderID, stage)
		if err != nil {
			return domain.JobAssignment{}, fmt.Errorf("load assignment: %w", err)
		}
		if ok && a.Status == domain.JobSubmittedForApproval {
			return a, nil
		}
	}
	return domain.JobAssignment{}, fmt.Errorf("%w: no submitted work awaiting approval", domain.ErrInvalidTransition)
}

func (o *Orchestrator) send(template, userID string, data map[string]string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.SendTemplate(template, userID, data); err != nil {
		slog.Warn("notification send failed", "template", template, "user_id", userID, "error", err)
	}
}
