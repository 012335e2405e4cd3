package store

import (
	"errors"
	"testing"
	"time"

	"scribeworks/pkg/domain"
)

func seedOrder(t *testing.T, s *MemoryStore, id string, status domain.OrderStatus) domain.Order {
	t.Helper()
	o := domain.Order{
		ID:          id,
		FileID:      id + "-file",
		OwnerUserID: "cust-1",
		OrderType:   domain.TypeTranscription,
		Status:      status,
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
		UpdatedAt:   time.Now().UTC().Add(-time.Hour),
	}
	if err := s.CreateOrder(o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

func claim(orderID, workerID string, stage domain.JobStage, status domain.JobStatus) domain.JobAssignment {
	now := time.Now().UTC()
	return domain.JobAssignment{
		ID:        orderID + "-" + workerID,
		OrderID:   orderID,
		WorkerID:  workerID,
		Stage:     stage,
		Status:    status,
		Mode:      domain.AssignAuto,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestTransitionOrderGuards(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "ord-1", domain.OrderProcessing)

	if err := s.TransitionOrder("ord-1", []domain.OrderStatus{domain.OrderProcessing}, domain.OrderTranscribed); err != nil {
		t.Fatalf("valid transition: %v", err)
	}
	err := s.TransitionOrder("ord-1", []domain.OrderStatus{domain.OrderProcessing}, domain.OrderTranscribed)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("stale guard: got %v", err)
	}
	if err := s.TransitionOrder("missing", []domain.OrderStatus{domain.OrderProcessing}, domain.OrderTranscribed); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing order: got %v", err)
	}
}

func TestCreateAssignmentEnforcesSingleOwnership(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "ord-1", domain.OrderTranscribed)
	seedOrder(t, s, "ord-2", domain.OrderTranscribed)
	from := []domain.OrderStatus{domain.OrderTranscribed}

	if err := s.CreateAssignment(claim("ord-1", "w-1", domain.StageQC, domain.JobAccepted), from, domain.OrderQCAssigned); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	// Same order+stage by another worker.
	err := s.CreateAssignment(claim("ord-1", "w-2", domain.StageQC, domain.JobAccepted), from, domain.OrderQCAssigned)
	if !errors.Is(err, domain.ErrAlreadyAssigned) {
		t.Fatalf("second claim on order: got %v", err)
	}
	// Same worker on another order.
	err = s.CreateAssignment(claim("ord-2", "w-1", domain.StageQC, domain.JobAccepted), from, domain.OrderQCAssigned)
	if !errors.Is(err, domain.ErrAlreadyAssigned) {
		t.Fatalf("busy worker claim: got %v", err)
	}

	got, _, err := s.GetOrder("ord-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != domain.OrderQCAssigned {
		t.Fatalf("order status = %s", got.Status)
	}
}

func TestCloseAssignmentPairsOrderTransition(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "ord-1", domain.OrderTranscribed)
	a := claim("ord-1", "w-1", domain.StageQC, domain.JobAccepted)
	if err := s.CreateAssignment(a, []domain.OrderStatus{domain.OrderTranscribed}, domain.OrderQCAssigned); err != nil {
		t.Fatalf("claim: %v", err)
	}

	earnings := 18.75
	err := s.CloseAssignment(JobClosure{
		AssignmentID: a.ID,
		JobFrom:      []domain.JobStatus{domain.JobAccepted},
		JobTo:        domain.JobSubmittedForApproval,
		Earnings:     &earnings,
		OrderID:      "ord-1",
		OrderFrom:    []domain.OrderStatus{domain.OrderQCAssigned},
		OrderTo:      domain.OrderSubmittedForApproval,
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	got, _, _ := s.GetAssignment(a.ID)
	if got.Status != domain.JobSubmittedForApproval || got.Earnings != 18.75 {
		t.Fatalf("assignment after close: %+v", got)
	}
	order, _, _ := s.GetOrder("ord-1")
	if order.Status != domain.OrderSubmittedForApproval {
		t.Fatalf("order status = %s", order.Status)
	}
}

func TestCloseAssignmentRejectsWrongJobState(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "ord-1", domain.OrderTranscribed)
	a := claim("ord-1", "w-1", domain.StageQC, domain.JobAccepted)
	if err := s.CreateAssignment(a, []domain.OrderStatus{domain.OrderTranscribed}, domain.OrderQCAssigned); err != nil {
		t.Fatalf("claim: %v", err)
	}

	err := s.CloseAssignment(JobClosure{
		AssignmentID: a.ID,
		JobFrom:      []domain.JobStatus{domain.JobSubmittedForApproval},
		JobTo:        domain.JobCompleted,
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("wrong job state: got %v", err)
	}
	if err := s.CloseAssignment(JobClosure{AssignmentID: "missing", JobFrom: []domain.JobStatus{domain.JobAccepted}, JobTo: domain.JobCompleted}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing assignment: got %v", err)
	}
}

func TestCloseAssignmentOrderGuardFailureLeavesJob(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "ord-1", domain.OrderCompleted)
	a := claim("ord-1", "w-1", domain.StageQC, domain.JobSubmittedForApproval)
	if err := s.PutAssignment(a); err != nil {
		t.Fatalf("put assignment: %v", err)
	}

	err := s.CloseAssignment(JobClosure{
		AssignmentID: a.ID,
		JobFrom:      []domain.JobStatus{domain.JobSubmittedForApproval},
		JobTo:        domain.JobCompleted,
		OrderID:      "ord-1",
		OrderFrom:    []domain.OrderStatus{domain.OrderSubmittedForApproval},
		OrderTo:      domain.OrderCompleted,
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("order guard: got %v", err)
	}
	got, _, _ := s.GetAssignment(a.ID)
	if got.Status != domain.JobSubmittedForApproval {
		t.Fatalf("job must be untouched when the order guard fails, got %s", got.Status)
	}
}

func TestReassignJobSwapsOwnership(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "ord-1", domain.OrderFinalizerAssigned)
	old := claim("ord-1", "w-1", domain.StageFinalize, domain.JobAccepted)
	if err := s.PutAssignment(old); err != nil {
		t.Fatalf("put assignment: %v", err)
	}
	next := claim("ord-1", "w-2", domain.StageFinalize, domain.JobAccepted)

	if err := s.ReassignJob(old.ID, domain.JobRejected, nil, next, domain.OrderFinalizerAssigned); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	closed, _, _ := s.GetAssignment(old.ID)
	if closed.Status != domain.JobRejected || closed.CancelledAt == nil {
		t.Fatalf("old claim after reassign: %+v", closed)
	}
	live, ok, _ := s.ActiveAssignmentForOrder("ord-1", domain.StageFinalize)
	if !ok || live.WorkerID != "w-2" {
		t.Fatalf("live claim: ok=%v %+v", ok, live)
	}
}

func TestReassignJobRejectsBusyReplacementWorker(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "ord-1", domain.OrderFinalizerAssigned)
	seedOrder(t, s, "ord-2", domain.OrderQCAssigned)
	old := claim("ord-1", "w-1", domain.StageFinalize, domain.JobAccepted)
	busy := claim("ord-2", "w-2", domain.StageQC, domain.JobAccepted)
	for _, a := range []domain.JobAssignment{old, busy} {
		if err := s.PutAssignment(a); err != nil {
			t.Fatalf("put assignment: %v", err)
		}
	}

	next := claim("ord-1", "w-2", domain.StageFinalize, domain.JobAccepted)
	err := s.ReassignJob(old.ID, domain.JobRejected, nil, next, domain.OrderFinalizerAssigned)
	if !errors.Is(err, domain.ErrAlreadyAssigned) {
		t.Fatalf("busy replacement worker: got %v", err)
	}
	kept, _, _ := s.GetAssignment(old.ID)
	if kept.Status != domain.JobAccepted {
		t.Fatalf("rejected reassign must not close the old claim, got %s", kept.Status)
	}
	if _, ok, _ := s.GetAssignment(next.ID); ok {
		t.Fatalf("rejected reassign must not insert the replacement")
	}
}

func TestRefundOrderCancelsLiveClaims(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "ord-1", domain.OrderQCAssigned)
	live := claim("ord-1", "w-1", domain.StageQC, domain.JobAccepted)
	done := claim("ord-1", "w-0", domain.StageQC, domain.JobCompleted)
	for _, a := range []domain.JobAssignment{live, done} {
		if err := s.PutAssignment(a); err != nil {
			t.Fatalf("put assignment: %v", err)
		}
	}

	if err := s.RefundOrder("ord-1"); err != nil {
		t.Fatalf("refund: %v", err)
	}
	order, _, _ := s.GetOrder("ord-1")
	if order.Status != domain.OrderRefunded {
		t.Fatalf("order status = %s", order.Status)
	}
	cancelled, _, _ := s.GetAssignment(live.ID)
	if cancelled.Status != domain.JobCancelled {
		t.Fatalf("live claim must be cancelled, got %s", cancelled.Status)
	}
	untouched, _, _ := s.GetAssignment(done.ID)
	if untouched.Status != domain.JobCompleted {
		t.Fatalf("completed claim must keep its status, got %s", untouched.Status)
	}

	if err := s.RefundOrder("ord-1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("double refund: got %v", err)
	}
}

func TestListAssignableOrdersFiltersByStatusAndAge(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "ord-old", domain.OrderTranscribed)
	fresh := domain.Order{
		ID:        "ord-fresh",
		FileID:    "f-fresh",
		Status:    domain.OrderTranscribed,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.CreateOrder(fresh); err != nil {
		t.Fatalf("seed fresh: %v", err)
	}
	seedOrder(t, s, "ord-other", domain.OrderProcessing)

	res, err := s.ListAssignableOrders([]domain.OrderStatus{domain.OrderTranscribed}, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res) != 1 || res[0].ID != "ord-old" {
		t.Fatalf("unexpected listing: %+v", res)
	}
}

func TestCreateBonusDeduplicatesWindow(t *testing.T) {
	s := NewMemoryStore()
	b := domain.Bonus{
		ID:       "b-1",
		WorkerID: "w-1",
		Window:   "2026-08-30",
		Type:     domain.BonusDaily,
		Stage:    domain.BonusStageQC,
		Amount:   3,
	}
	created, err := s.CreateBonus(b)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	dup := b
	dup.ID = "b-2"
	created, err = s.CreateBonus(dup)
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if created {
		t.Fatalf("same window must not create a second bonus")
	}
	monthly := b
	monthly.ID = "b-3"
	monthly.Window = "2026-08"
	monthly.Type = domain.BonusMonthly
	created, err = s.CreateBonus(monthly)
	if err != nil || !created {
		t.Fatalf("different window: created=%v err=%v", created, err)
	}
}

func TestCompletedAssignmentsWindowIsHalfOpen(t *testing.T) {
	s := NewMemoryStore()
	from := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	inside := claim("ord-1", "w-1", domain.StageQC, domain.JobCompleted)
	at := from.Add(time.Hour)
	inside.CompletedAt = &at
	boundary := claim("ord-2", "w-2", domain.StageQC, domain.JobCompleted)
	boundary.CompletedAt = &to
	for _, a := range []domain.JobAssignment{inside, boundary} {
		if err := s.PutAssignment(a); err != nil {
			t.Fatalf("put assignment: %v", err)
		}
	}

	res, err := s.CompletedAssignments(domain.StageQC, from, to)
	if err != nil {
		t.Fatalf("completed: %v", err)
	}
	if len(res) != 1 || res[0].WorkerID != "w-1" {
		t.Fatalf("unexpected window result: %+v", res)
	}
}
