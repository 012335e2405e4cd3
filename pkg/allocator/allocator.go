// Package allocator hands pipeline stages of orders to workers. A claim is a
// single guarded store write, so two replicas racing for the same stage
// resolve at commit time without any in-process locking.
package allocator

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"scribeworks/internal/util"
	"scribeworks/pkg/domain"
	"scribeworks/pkg/notify"
	"scribeworks/pkg/store"
)

// Config carries the allocator tunables.
type Config struct {
	// GraceWindow keeps orders whose status just changed out of the
	// available-files listing, so workers don't race a stage that is
	// still settling.
	GraceWindow time.Duration
	// TrustedCustomer names the one customer org whose files are gated by
	// the worker's trusted-customer flag instead of the allow-list.
	TrustedCustomer string
}

// Allocator assigns, lists, and reassigns stage work.
type Allocator struct {
	store    store.Store
	notifier notify.Notifier
	cfg      Config
}

// New builds an Allocator.
func New(s store.Store, n notify.Notifier, cfg Config) *Allocator {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 60 * time.Second
	}
	return &Allocator{store: s, notifier: n, cfg: cfg}
}

// stageEntry maps a stage to the order statuses it can be claimed from and
// the status the order moves to on claim.
var stageEntry = map[domain.JobStage]struct {
	from []domain.OrderStatus
	to   domain.OrderStatus
}{
	domain.StageQC:       {from: []domain.OrderStatus{domain.OrderTranscribed, domain.OrderFormatted}, to: domain.OrderQCAssigned},
	domain.StageReview:   {from: []domain.OrderStatus{domain.OrderTranscribed, domain.OrderFormatted}, to: domain.OrderReviewerAssigned},
	domain.StageFinalize: {from: []domain.OrderStatus{domain.OrderPreDelivered}, to: domain.OrderFinalizerAssigned},
}

// Assign claims one stage of an order for a worker. Preconditions are checked
// in a fixed order and the first failure wins; they are advisory only. The
// store write re-checks ownership at commit time, and a constraint rejection
// there surfaces as domain.ErrAlreadyAssigned.
func (a *Allocator) Assign(orderID, workerID string, stage domain.JobStage, mode domain.AssignMode, independentContractor bool) error {
	entry, ok := stageEntry[stage]
	if !ok {
		return fmt.Errorf("%w: unknown stage %s", domain.ErrIneligible, stage)
	}
	worker, ok, err := a.store.GetWorker(workerID)
	if err != nil {
		return fmt.Errorf("load worker: %w", err)
	}
	if !ok {
		return fmt.Errorf("worker %s: %w", workerID, domain.ErrNotFound)
	}

	if _, busy, err := a.store.ActiveAssignmentForWorker(workerID); err != nil {
		return fmt.Errorf("check active job: %w", err)
	} else if busy {
		return fmt.Errorf("%w: worker already has an active job", domain.ErrIneligible)
	}

	order, ok, err := a.store.GetOrder(orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if !statusIn(order.Status, entry.from) {
		if order.Status == entry.to {
			return fmt.Errorf("%w: order is already claimed for %s", domain.ErrAlreadyAssigned, stage)
		}
		return fmt.Errorf("%w: order is %s", domain.ErrInvalidTransition, order.Status)
	}

	if independentContractor && !worker.ICQC {
		return fmt.Errorf("%w: worker is not certified for independent-contractor QC", domain.ErrIneligible)
	}
	if stage == domain.StageQC && worker.QCDisabled {
		return fmt.Errorf("%w: worker is disabled for QC", domain.ErrIneligible)
	}

	rejectedBefore, err := a.store.HasAssignmentInStatus(orderID, workerID, stage, []domain.JobStatus{domain.JobRejected, domain.JobCancelled})
	if err != nil {
		return fmt.Errorf("check assignment history: %w", err)
	}
	if rejectedBefore {
		return fmt.Errorf("%w: worker was previously unassigned from this file", domain.ErrIneligible)
	}

	file, ok, err := a.store.GetFile(order.FileID)
	if err != nil {
		return fmt.Errorf("load file: %w", err)
	}
	if !ok {
		return fmt.Errorf("file %s: %w", order.FileID, domain.ErrNotFound)
	}
	if !a.customerAllowed(worker, file.CustomerOrg) {
		return fmt.Errorf("%w: customer %s is not enabled for this worker", domain.ErrIneligible, file.CustomerOrg)
	}

	now := time.Now().UTC()
	status := domain.JobAssigned
	var acceptedAt *time.Time
	if mode == domain.AssignAuto {
		// Self-service claims skip the accept step.
		status = domain.JobAccepted
		acceptedAt = &now
	}
	assignment := domain.JobAssignment{
		ID:                      util.NewID(),
		OrderID:                 orderID,
		WorkerID:                workerID,
		Stage:                   stage,
		Status:                  status,
		Mode:                    mode,
		IndependentContractorQC: independentContractor,
		AcceptedAt:              acceptedAt,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := a.store.CreateAssignment(assignment, entry.from, entry.to); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Lost the race after the advisory check: the order moved on.
			return fmt.Errorf("claim order: %w", domain.ErrAlreadyAssigned)
		}
		return fmt.Errorf("claim order: %w", err)
	}
	return nil
}

// customerAllowed applies the enabled-customer allow-list. Files without a
// customer org are open to everyone; the one trusted customer is gated by a
// dedicated worker flag rather than the list.
func (a *Allocator) customerAllowed(w domain.Worker, customerOrg string) bool {
	if customerOrg == "" {
		return true
	}
	if a.cfg.TrustedCustomer != "" && customerOrg == a.cfg.TrustedCustomer {
		return w.TrustedCustomerEnabled
	}
	for _, c := range w.EnabledCustomers {
		if c == customerOrg {
			return true
		}
	}
	return false
}

// AvailableOrders lists claimable orders for a worker and stage: orders in the
// stage's entry status, untouched for the grace window, on the worker's
// allow-list. Sorted by priority descending; independent-contractor QCs get a
// secondary sort on difficulty and rate bonus.
func (a *Allocator) AvailableOrders(workerID string, stage domain.JobStage) ([]domain.Order, error) {
	entry, ok := stageEntry[stage]
	if !ok {
		return nil, fmt.Errorf("%w: unknown stage %s", domain.ErrIneligible, stage)
	}
	worker, ok, err := a.store.GetWorker(workerID)
	if err != nil {
		return nil, fmt.Errorf("load worker: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", workerID, domain.ErrNotFound)
	}
	cutoff := time.Now().UTC().Add(-a.cfg.GraceWindow)
	candidates, err := a.store.ListAssignableOrders(entry.from, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	res := make([]domain.Order, 0, len(candidates))
	for _, o := range candidates {
		file, ok, err := a.store.GetFile(o.FileID)
		if err != nil {
			return nil, fmt.Errorf("load file: %w", err)
		}
		if !ok {
			continue
		}
		if !a.customerAllowed(worker, file.CustomerOrg) {
			continue
		}
		res = append(res, o)
	}
	if worker.ICQC {
		sort.SliceStable(res, func(i, j int) bool {
			if res[i].Priority != res[j].Priority {
				return res[i].Priority > res[j].Priority
			}
			if res[i].HighDifficulty != res[j].HighDifficulty {
				return res[i].HighDifficulty
			}
			return res[i].RateBonus > res[j].RateBonus
		})
	} else {
		sort.SliceStable(res, func(i, j int) bool {
			return res[i].Priority > res[j].Priority
		})
	}
	return res, nil
}

// ReassignFinalizer moves the active FINALIZE assignment to another worker.
// With retainEarnings the old assignment closes as COMPLETED with the given
// earnings and no notification; otherwise it closes as REJECTED with
// forfeited earnings and the old worker gets one UNASSIGN_FILE notice. The
// close and the new claim commit in one transaction either way.
func (a *Allocator) ReassignFinalizer(orderID, newWorkerID string, retainEarnings bool, earnings float64, comment string) error {
	return a.reassign(orderID, newWorkerID, domain.StageFinalize, domain.OrderFinalizerAssigned, retainEarnings, earnings, comment)
}

// ReassignQC is the operations-manager override for a stuck QC assignment.
// The old claim always closes as CANCELLED with earnings forfeited.
func (a *Allocator) ReassignQC(orderID, newWorkerID string, comment string) error {
	return a.reassign(orderID, newWorkerID, domain.StageQC, domain.OrderQCAssigned, false, 0, comment)
}

func (a *Allocator) reassign(orderID, newWorkerID string, stage domain.JobStage, orderTo domain.OrderStatus, retainEarnings bool, earnings float64, comment string) error {
	order, ok, err := a.store.GetOrder(orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	old, ok, err := a.store.ActiveAssignmentForOrder(orderID, stage)
	if err != nil {
		return fmt.Errorf("load active assignment: %w", err)
	}
	if !ok {
		return fmt.Errorf("no active %s assignment for order %s: %w", stage, orderID, domain.ErrNotFound)
	}
	if old.WorkerID == newWorkerID {
		return fmt.Errorf("%w: order is already assigned to this worker", domain.ErrIneligible)
	}

	closeStatus := domain.JobRejected
	closeEarnings := 0.0
	if retainEarnings {
		closeStatus = domain.JobCompleted
		closeEarnings = earnings
	} else if stage == domain.StageQC {
		closeStatus = domain.JobCancelled
	}

	now := time.Now().UTC()
	next := domain.JobAssignment{
		ID:        util.NewID(),
		OrderID:   orderID,
		WorkerID:  newWorkerID,
		Stage:     stage,
		Status:    domain.JobAssigned,
		Mode:      domain.AssignManual,
		Comment:   comment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.ReassignJob(old.ID, closeStatus, &closeEarnings, next, orderTo); err != nil {
		return fmt.Errorf("reassign %s: %w", stage, err)
	}

	if !retainEarnings {
		a.send(notify.TemplateUnassignFile, old.WorkerID, map[string]string{
			"type":    string(stage),
			"fileId":  order.FileID,
			"comment": comment,
		})
	}
	a.send(notify.TemplateReassignFile, newWorkerID, map[string]string{
		"fileId":  order.FileID,
		"jobType": string(stage),
		"comment": comment,
	})
	return nil
}

func (a *Allocator) send(template, userID string, data map[string]string) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.SendTemplate(template, userID, data); err != nil {
		slog.Warn("notification send failed", "template", template, "user_id", userID, "error", err)
	}
}

func statusIn(s domain.OrderStatus, in []domain.OrderStatus) bool {
	for _, candidate := range in {
		if s == candidate {
			return true
		}
	}
	return false
}
