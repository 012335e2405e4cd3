package store

import (
	"time"

	"scribeworks/pkg/domain"
)

// Store defines persistence for orders, job assignments, the artifact
// ledger, worker profiles, and bonuses.
//
// All coordination between stateless replicas happens through the guarded
// writes here: CreateAssignment, TransitionOrder, ReassignJob and RefundOrder
// are each a single atomic transaction whose preconditions are re-checked at
// commit time. A failed precondition is a business rejection
// (domain.ErrAlreadyAssigned / domain.ErrInvalidTransition), never a
// transient error.
type Store interface {
	// orders
	CreateOrder(o domain.Order) error
	GetOrder(id string) (domain.Order, bool, error)
	GetOrderByFile(fileID string) (domain.Order, bool, error)
	// ListAssignableOrders returns orders whose status is in statuses and
	// which have not been touched since updatedBefore (the grace window
	// that avoids racing a just-finished stage).
	ListAssignableOrders(statuses []domain.OrderStatus, updatedBefore time.Time) ([]domain.Order, error)
	// TransitionOrder flips status only if the current status is in from.
	TransitionOrder(id string, from []domain.OrderStatus, to domain.OrderStatus) error
	SetOrderScreening(id string, required bool, reason string) error
	SetOrderDifficulty(id string, highDifficulty bool, issueCount int, deadline time.Time) error

	// job assignments
	GetAssignment(id string) (domain.JobAssignment, bool, error)
	ActiveAssignmentForWorker(workerID string) (domain.JobAssignment, bool, error)
	ActiveAssignmentForOrder(orderID string, stage domain.JobStage) (domain.JobAssignment, bool, error)
	HasAssignmentInStatus(orderID, workerID string, stage domain.JobStage, statuses []domain.JobStatus) (bool, error)
	// CreateAssignment inserts the assignment and flips the order status in
	// one transaction. The active-assignment uniqueness constraint is the
	// commit-time lock; violation surfaces as domain.ErrAlreadyAssigned.
	CreateAssignment(a domain.JobAssignment, orderFrom []domain.OrderStatus, orderTo domain.OrderStatus) error
	UpdateAssignmentStatus(id string, status domain.JobStatus, earnings *float64) error
	// CloseAssignment moves an assignment between statuses and optionally
	// flips the order status in the same transaction, both guarded by
	// their expected current statuses.
	CloseAssignment(c JobClosure) error
	// ReassignJob closes the old assignment and opens the new one
	// atomically. Partial application (old closed, new missing) must be
	// impossible.
	ReassignJob(oldID string, closeStatus domain.JobStatus, closeEarnings *float64, next domain.JobAssignment, orderTo domain.OrderStatus) error
	// RefundOrder flips the order to REFUNDED and cancels every assignment
	// in one transaction.
	RefundOrder(orderID string) error
	CompletedAssignments(stage domain.JobStage, from, to time.Time) ([]domain.JobAssignment, error)

	// workers and files
	SaveWorker(w domain.Worker) error
	GetWorker(id string) (domain.Worker, bool, error)
	SaveFile(f domain.File) error
	GetFile(id string) (domain.File, bool, error)

	// artifact ledger
	// AppendFileVersion always inserts and assigns a monotonic sequence;
	// the CUSTOMER_EDIT tag is the one exception and replaces the current
	// edit overlay row.
	AppendFileVersion(v domain.FileVersion) (domain.FileVersion, error)
	LatestFileVersion(fileID string, tag domain.StageTag) (domain.FileVersion, bool, error)
	ListFileVersions(fileID string, tags []domain.StageTag) ([]domain.FileVersion, error)
	// DeleteCustomerEdit removes the current edit overlay, returning the
	// deleted row so the caller can clean up the object revision.
	DeleteCustomerEdit(fileID string) (domain.FileVersion, bool, error)

	// bonuses
	// CreateBonus returns false when a bonus for the same
	// (worker, window, type, stage) already exists.
	CreateBonus(b domain.Bonus) (bool, error)
	ListBonuses(workerID string) ([]domain.Bonus, error)
}

// JobClosure describes a guarded assignment transition, optionally paired
// with an order transition in the same transaction. OrderTo is skipped when
// empty. A non-nil DeliveredAt stamps the order's delivery fields together
// with the order transition, so a delivered order can never be left with an
// open finalizer claim or vice versa.
type JobClosure struct {
	AssignmentID string
	JobFrom      []domain.JobStatus
	JobTo        domain.JobStatus
	Earnings     *float64
	OrderID      string
	OrderFrom    []domain.OrderStatus
	OrderTo      domain.OrderStatus
	DeliveredBy  string
	DeliveredAt  *time.Time
}

func orderStatusStrings(statuses []domain.OrderStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func jobStatusStrings(statuses []domain.JobStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
