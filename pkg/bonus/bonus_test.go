package bonus

import (
	"testing"
	"time"

	"scribeworks/pkg/domain"
	"scribeworks/pkg/store"
)

func testConfig() Config {
	return Config{
		DailyRate:       0.05,
		DailyMinHours:   2,
		MonthlyRate:     0.10,
		MonthlyMinHours: 20,
	}
}

func seedCompleted(t *testing.T, s *store.MemoryStore, id, workerID string, earnings, hours float64, completedAt time.Time) {
	t.Helper()
	fileID := "file-" + id
	if err := s.SaveFile(domain.File{ID: fileID, Filename: fileID + ".mp3", Duration: hours}); err != nil {
		t.Fatalf("save file: %v", err)
	}
	if err := s.CreateOrder(domain.Order{ID: "order-" + id, FileID: fileID, Status: domain.OrderCompleted}); err != nil {
		t.Fatalf("create order: %v", err)
	}
	a := domain.JobAssignment{
		ID:       "job-" + id,
		OrderID:  "order-" + id,
		WorkerID: workerID,
		Stage:    domain.StageQC,
		Status:   domain.JobAssigned,
	}
	if err := s.CreateAssignment(a, []domain.OrderStatus{domain.OrderCompleted}, domain.OrderCompleted); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if err := s.UpdateAssignmentStatus(a.ID, domain.JobCompleted, &earnings); err != nil {
		t.Fatalf("complete assignment: %v", err)
	}
	// Pin the completion time inside the test window.
	got, _, err := s.GetAssignment(a.ID)
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	got.CompletedAt = &completedAt
	if err := s.PutAssignment(got); err != nil {
		t.Fatalf("put assignment: %v", err)
	}
}

func TestRunDailyAwardsQualifiedWorkers(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewRunner(s, testConfig())
	day := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	seedCompleted(t, s, "a1", "worker-a", 40, 1.5, day)
	seedCompleted(t, s, "a2", "worker-a", 20, 1.0, day.Add(2*time.Hour))
	// Below the 2-hour floor.
	seedCompleted(t, s, "b1", "worker-b", 100, 0.5, day)
	// Outside the window.
	seedCompleted(t, s, "c1", "worker-c", 50, 3, day.AddDate(0, 0, 1))

	awarded, err := r.RunDaily(day, domain.StageQC)
	if err != nil {
		t.Fatalf("run daily: %v", err)
	}
	if len(awarded) != 1 {
		t.Fatalf("expected one bonus, got %d", len(awarded))
	}
	b := awarded[0]
	if b.WorkerID != "worker-a" {
		t.Fatalf("expected worker-a, got %s", b.WorkerID)
	}
	if b.Amount != 3.00 { // 5% of $60
		t.Fatalf("expected $3.00, got %v", b.Amount)
	}
	if b.Window != "2026-08-30" || b.Type != domain.BonusDaily {
		t.Fatalf("unexpected bonus window: %+v", b)
	}
	if b.Duration != 2.5 || len(b.FileIDs) != 2 {
		t.Fatalf("unexpected aggregation: %+v", b)
	}
}

func TestRunDailyIsIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewRunner(s, testConfig())
	day := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	seedCompleted(t, s, "a1", "worker-a", 40, 3, day)

	first, err := r.RunDaily(day, domain.StageQC)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected one bonus on first run, got %d", len(first))
	}

	second, err := r.RunDaily(day, domain.StageQC)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("re-run for the same window must award nothing, got %d", len(second))
	}

	bonuses, err := s.ListBonuses("worker-a")
	if err != nil {
		t.Fatalf("list bonuses: %v", err)
	}
	if len(bonuses) != 1 {
		t.Fatalf("expected exactly one stored bonus, got %d", len(bonuses))
	}
}

func TestRunMonthlyWindow(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewRunner(s, testConfig())

	seedCompleted(t, s, "a1", "worker-a", 200, 12, time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC))
	seedCompleted(t, s, "a2", "worker-a", 100, 10, time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))

	awarded, err := r.RunMonthly(time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC), domain.StageQC)
	if err != nil {
		t.Fatalf("run monthly: %v", err)
	}
	if len(awarded) != 1 {
		t.Fatalf("expected one bonus, got %d", len(awarded))
	}
	b := awarded[0]
	if b.Window != "2026-08" || b.Amount != 30.00 { // 10% of $300
		t.Fatalf("unexpected monthly bonus: %+v", b)
	}
}

func TestDailyAndMonthlyAreSeparateKeys(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewRunner(s, Config{DailyRate: 0.05, MonthlyRate: 0.10})
	day := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	seedCompleted(t, s, "a1", "worker-a", 40, 3, day)

	if _, err := r.RunDaily(day, domain.StageQC); err != nil {
		t.Fatalf("daily: %v", err)
	}
	if _, err := r.RunMonthly(day, domain.StageQC); err != nil {
		t.Fatalf("monthly: %v", err)
	}
	bonuses, err := s.ListBonuses("worker-a")
	if err != nil {
		t.Fatalf("list bonuses: %v", err)
	}
	if len(bonuses) != 2 {
		t.Fatalf("daily and monthly must dedupe independently, got %d", len(bonuses))
	}
}
