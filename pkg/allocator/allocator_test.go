package allocator

import (
	"errors"
	"strings"
	"testing"
	"time"

	"scribeworks/pkg/domain"
	"scribeworks/pkg/notify"
	"scribeworks/pkg/store"
)

type fixture struct {
	store    *store.MemoryStore
	notifier *notify.MemoryNotifier
	alloc    *Allocator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	n := notify.NewMemoryNotifier()
	return &fixture{
		store:    s,
		notifier: n,
		alloc: New(s, n, Config{
			GraceWindow:     60 * time.Second,
			TrustedCustomer: "acme-legal",
		}),
	}
}

func (f *fixture) seedWorker(t *testing.T, w domain.Worker) {
	t.Helper()
	if err := f.store.SaveWorker(w); err != nil {
		t.Fatalf("save worker: %v", err)
	}
}

func (f *fixture) seedOrder(t *testing.T, o domain.Order, customerOrg string) {
	t.Helper()
	if o.FileID == "" {
		o.FileID = "file-" + o.ID
	}
	if err := f.store.SaveFile(domain.File{ID: o.FileID, Filename: o.FileID + ".mp3", CustomerOrg: customerOrg, Duration: 1}); err != nil {
		t.Fatalf("save file: %v", err)
	}
	past := time.Now().UTC().Add(-5 * time.Minute)
	if o.CreatedAt.IsZero() {
		o.CreatedAt = past
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = past
	}
	if err := f.store.CreateOrder(o); err != nil {
		t.Fatalf("create order: %v", err)
	}
}

func TestAssignClaimsOrderAndRejectsSecondWorker(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, domain.Worker{ID: "worker-a"})
	f.seedWorker(t, domain.Worker{ID: "worker-b"})
	f.seedOrder(t, domain.Order{ID: "order-1", Status: domain.OrderTranscribed}, "")

	if err := f.alloc.Assign("order-1", "worker-a", domain.StageQC, domain.AssignAuto, false); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	o, _, err := f.store.GetOrder("order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != domain.OrderQCAssigned {
		t.Fatalf("expected QC_ASSIGNED, got %s", o.Status)
	}
	a, ok, err := f.store.ActiveAssignmentForOrder("order-1", domain.StageQC)
	if err != nil || !ok {
		t.Fatalf("expected active assignment, ok=%v err=%v", ok, err)
	}
	if a.Status != domain.JobAccepted {
		t.Fatalf("auto assign should be accepted immediately, got %s", a.Status)
	}

	err = f.alloc.Assign("order-1", "worker-b", domain.StageQC, domain.AssignAuto, false)
	if !errors.Is(err, domain.ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
	}
}

func TestAssignManualWaitsForAccept(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, domain.Worker{ID: "worker-a"})
	f.seedOrder(t, domain.Order{ID: "order-1", Status: domain.OrderFormatted}, "")

	if err := f.alloc.Assign("order-1", "worker-a", domain.StageQC, domain.AssignManual, false); err != nil {
		t.Fatalf("assign: %v", err)
	}
	a, _, err := f.store.ActiveAssignmentForOrder("order-1", domain.StageQC)
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if a.Status != domain.JobAssigned {
		t.Fatalf("manual assign should stay ASSIGNED, got %s", a.Status)
	}
	if a.AcceptedAt != nil {
		t.Fatalf("manual assign should not stamp accepted_at")
	}
}

func TestAssignRejectsBusyWorker(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, domain.Worker{ID: "worker-a"})
	f.seedOrder(t, domain.Order{ID: "order-1", Status: domain.OrderTranscribed}, "")
	f.seedOrder(t, domain.Order{ID: "order-2", Status: domain.OrderTranscribed}, "")

	if err := f.alloc.Assign("order-1", "worker-a", domain.StageQC, domain.AssignAuto, false); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	err := f.alloc.Assign("order-2", "worker-a", domain.StageQC, domain.AssignAuto, false)
	if !errors.Is(err, domain.ErrIneligible) {
		t.Fatalf("expected ErrIneligible for busy worker, got %v", err)
	}
}

func TestAssignPreconditionOrder(t *testing.T) {
	f := newFixture(t)
	// Worker is both busy and uncertified; the busy check must win.
	f.seedWorker(t, domain.Worker{ID: "worker-a", ICQC: false})
	f.seedOrder(t, domain.Order{ID: "order-1", Status: domain.OrderTranscribed}, "")
	f.seedOrder(t, domain.Order{ID: "order-2", Status: domain.OrderTranscribed}, "")
	if err := f.alloc.Assign("order-1", "worker-a", domain.StageQC, domain.AssignAuto, false); err != nil {
		t.Fatalf("setup assign: %v", err)
	}

	err := f.alloc.Assign("order-2", "worker-a", domain.StageQC, domain.AssignAuto, true)
	if err == nil || !errors.Is(err, domain.ErrIneligible) {
		t.Fatalf("expected ErrIneligible, got %v", err)
	}
	if got, want := err.Error(), "active job"; !strings.Contains(got, want) {
		t.Fatalf("busy check should fire first, got %q", got)
	}
}

func TestAssignRejectsWrongOrderStatus(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, domain.Worker{ID: "worker-a"})
	f.seedOrder(t, domain.Order{ID: "order-1", Status: domain.OrderCompleted}, "")

	err := f.alloc.Assign("order-1", "worker-a", domain.StageQC, domain.AssignAuto, false)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAssignRequiresICQCCertification(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, domain.Worker{ID: "worker-a", ICQC: false})
	f.seedOrder(t, domain.Order{ID: "order-1", Status: domain.OrderTranscribed}, "")

	err := f.alloc.Assign("order-1", "worker-a", domain.StageQC, domain.AssignAuto, true)
	if !errors.Is(err, domain.ErrIneligible) {
		t.Fatalf("expected ErrIneligible, got %v", err)
	}
}

func TestAssignBlocksPreviouslyUnassignedWorker(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, domain.Worker{ID: "worker-a"})
	f.seedWorker(t, domain.Worker{ID: "worker-b"})
	f.seedOrder(t, domain.Order{ID: "order-1", Status: domain.OrderTranscribed}, "")

	if err := f.alloc.Assign("order-1", "worker-a", domain.StageQC, domain.AssignAuto, false); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := f.alloc.ReassignQC("order-1", "worker-b", "slow progress"); err != nil {
		t.Fatalf("reassign: %v", err)
	}

	// worker-a's claim closed as CANCELLED; the order is still QC_ASSIGNED so
	// only the history check can reject a re-claim attempt later. Simulate the
	// order dropping back to TRANSCRIBED first.
	if err := f.store.TransitionOrder("order-1", []domain.OrderStatus{domain.OrderQCAssigned}, domain.OrderTranscribed); err != nil {
		t.Fatalf("reset order: %v", err)
	}
	// Clear worker-b's active claim so the history check is what fires.
	b, _, err := f.store.ActiveAssignmentForOrder("order-1", domain.StageQC)
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if err := f.store.UpdateAssignmentStatus(b.ID, domain.JobRejected, nil); err != nil {
		t.Fatalf("reject assignment: %v", err)
	}

	err = f.alloc.Assign("order-1", "worker-a", domain.StageQC, domain.AssignAuto, false)
	if !errors.Is(err, domain.ErrIneligible) {
		t.Fatalf("expected ErrIneligible for previously unassigned worker, got %v", err)
	}
}

func TestAssignCustomerAllowList(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, domain.Worker{ID: "listed", EnabledCustomers: []string{"northwind"}})
	f.seedWorker(t, domain.Worker{ID: "unlisted"})
	f.seedWorker(t, domain.Worker{ID: "trusted", TrustedCustomerEnabled: true})
	f.seedOrder(t, domain.Order{ID: "order-nw", Status: domain.OrderTranscribed}, "northwind")
	f.seedOrder(t, domain.Order{ID: "order-acme", Status: domain.OrderTranscribed}, "acme-legal")

	if err := f.alloc.Assign("order-nw", "listed", domain.StageQC, domain.AssignAuto, false); err != nil {
		t.Fatalf("listed worker should claim: %v", err)
	}
	if err := f.alloc.Assign("order-acme", "unlisted", domain.StageQC, domain.AssignAuto, false); !errors.Is(err, domain.ErrIneligible) {
		t.Fatalf("expected ErrIneligible for trusted customer without flag, got %v", err)
	}
	if err := f.alloc.Assign("order-acme", "trusted", domain.StageQC, domain.AssignAuto, false); err != nil {
		t.Fatalf("trusted worker should claim: %v", err)
	}
}

func TestAvailableOrdersGraceWindowAndSort(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, domain.Worker{ID: "worker-a"})
	f.seedWorker(t, domain.Worker{ID: "icqc", ICQC: true})

	f.seedOrder(t, domain.Order{ID: "low", Status: domain.OrderTranscribed, Priority: 1}, "")
	f.seedOrder(t, domain.Order{ID: "high", Status: domain.OrderTranscribed, Priority: 5}, "")
	f.seedOrder(t, domain.Order{ID: "hard", Status: domain.OrderTranscribed, Priority: 5, HighDifficulty: true}, "")
	f.seedOrder(t, domain.Order{ID: "bonus", Status: domain.OrderTranscribed, Priority: 5, HighDifficulty: true, RateBonus: 0.5}, "")
	// Just-updated order must be held back by the grace window.
	f.seedOrder(t, domain.Order{ID: "fresh", Status: domain.OrderTranscribed, Priority: 9, UpdatedAt: time.Now().UTC()}, "")

	orders, err := f.alloc.AvailableOrders("worker-a", domain.StageQC)
	if err != nil {
		t.Fatalf("available orders: %v", err)
	}
	if len(orders) != 4 {
		t.Fatalf("expected 4 orders (fresh held back), got %d", len(orders))
	}
	if orders[0].Priority != 5 || orders[len(orders)-1].ID != "low" {
		t.Fatalf("expected priority-descending order, got %v", orderIDs(orders))
	}

	orders, err = f.alloc.AvailableOrders("icqc", domain.StageQC)
	if err != nil {
		t.Fatalf("available orders (icqc): %v", err)
	}
	got := orderIDs(orders)
	want := []string{"bonus", "hard", "high", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("icqc sort mismatch: got %v, want %v", got, want)
		}
	}
}

func TestAvailableOrdersFiltersAllowList(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, domain.Worker{ID: "worker-a", EnabledCustomers: []string{"northwind"}})
	f.seedOrder(t, domain.Order{ID: "ok", Status: domain.OrderTranscribed}, "northwind")
	f.seedOrder(t, domain.Order{ID: "blocked", Status: domain.OrderTranscribed}, "contoso")

	orders, err := f.alloc.AvailableOrders("worker-a", domain.StageQC)
	if err != nil {
		t.Fatalf("available orders: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "ok" {
		t.Fatalf("expected only allow-listed order, got %v", orderIDs(orders))
	}
}

func TestReassignFinalizerForfeitSendsOneUnassignNotice(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, domain.Worker{ID: "old"})
	f.seedWorker(t, domain.Worker{ID: "new"})
	f.seedOrder(t, domain.Order{ID: "order-1", Status: domain.OrderPreDelivered}, "")
	if err := f.alloc.Assign("order-1", "old", domain.StageFinalize, domain.AssignAuto, false); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := f.alloc.ReassignFinalizer("order-1", "new", false, 0, "missed deadline"); err != nil {
		t.Fatalf("reassign: %v", err)
	}

	if _, busy, err := f.store.ActiveAssignmentForWorker("old"); err != nil || busy {
		t.Fatalf("old worker should have no active claim, busy=%v err=%v", busy, err)
	}
	var unassigns int
	for _, s := range f.notifier.Sent() {
		if s.Template == notify.TemplateUnassignFile && s.Recipient == "old" {
			unassigns++
		}
	}
	if unassigns != 1 {
		t.Fatalf("expected exactly one UNASSIGN_FILE to old worker, got %d", unassigns)
	}

	o, _, err := f.store.GetOrder("order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != domain.OrderFinalizerAssigned {
		t.Fatalf("expected FINALIZER_ASSIGNED, got %s", o.Status)
	}
	next, ok, err := f.store.ActiveAssignmentForOrder("order-1", domain.StageFinalize)
	if err != nil || !ok {
		t.Fatalf("expected new active assignment, ok=%v err=%v", ok, err)
	}
	if next.WorkerID != "new" || next.Status != domain.JobAssigned {
		t.Fatalf("unexpected replacement assignment: %+v", next)
	}
}

func TestReassignFinalizerRetainEarnings(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, domain.Worker{ID: "old"})
	f.seedWorker(t, domain.Worker{ID: "new"})
	f.seedOrder(t, domain.Order{ID: "order-1", Status: domain.OrderPreDelivered}, "")
	if err := f.alloc.Assign("order-1", "old", domain.StageFinalize, domain.AssignAuto, false); err != nil {
		t.Fatalf("assign: %v", err)
	}
	claim, _, err := f.store.ActiveAssignmentForOrder("order-1", domain.StageFinalize)
	if err != nil {
		t.Fatalf("get claim: %v", err)
	}

	if err := f.alloc.ReassignFinalizer("order-1", "new", true, 12.50, "partial work done"); err != nil {
		t.Fatalf("reassign: %v", err)
	}

	closed, _, err := f.store.GetAssignment(claim.ID)
	if err != nil {
		t.Fatalf("get closed assignment: %v", err)
	}
	if closed.Status != domain.JobCompleted {
		t.Fatalf("retain close should be COMPLETED, got %s", closed.Status)
	}
	if closed.Earnings != 12.50 {
		t.Fatalf("expected retained earnings 12.50, got %v", closed.Earnings)
	}
	for _, s := range f.notifier.Sent() {
		if s.Template == notify.TemplateUnassignFile {
			t.Fatalf("retain-earnings close must not send UNASSIGN_FILE")
		}
	}
}

func TestReassignNotificationFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, domain.Worker{ID: "old"})
	f.seedWorker(t, domain.Worker{ID: "new"})
	f.seedOrder(t, domain.Order{ID: "order-1", Status: domain.OrderPreDelivered}, "")
	if err := f.alloc.Assign("order-1", "old", domain.StageFinalize, domain.AssignAuto, false); err != nil {
		t.Fatalf("assign: %v", err)
	}
	f.notifier.FailNext(true)

	if err := f.alloc.ReassignFinalizer("order-1", "new", false, 0, ""); err != nil {
		t.Fatalf("reassign should survive notifier failure: %v", err)
	}
}

func orderIDs(orders []domain.Order) []string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return ids
}
