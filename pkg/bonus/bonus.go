// Package bonus aggregates completed work into periodic worker payouts. Runs
// are idempotent: a bonus row is keyed by (worker, window, type, stage), so a
// cron that fires twice for the same window awards nothing the second time.
package bonus

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"scribeworks/internal/util"
	"scribeworks/pkg/domain"
	"scribeworks/pkg/store"
)

// Config carries the bonus rates and qualification floors.
type Config struct {
	// DailyRate is the bonus share of a day's earnings.
	DailyRate float64
	// DailyMinHours is the audio-hour floor to qualify for a daily bonus.
	DailyMinHours float64
	// MonthlyRate is the bonus share of a month's earnings.
	MonthlyRate float64
	// MonthlyMinHours is the audio-hour floor for the monthly bonus.
	MonthlyMinHours float64
}

// Runner executes bonus windows.
type Runner struct {
	store store.Store
	cfg   Config
}

// NewRunner builds a Runner.
func NewRunner(s store.Store, cfg Config) *Runner {
	return &Runner{store: s, cfg: cfg}
}

// RunDaily awards bonuses for the UTC day containing day.
func (r *Runner) RunDaily(day time.Time, stage domain.JobStage) ([]domain.Bonus, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	window := from.Format("2006-01-02")
	return r.run(from, to, window, domain.BonusDaily, stage, r.cfg.DailyRate, r.cfg.DailyMinHours)
}

// RunMonthly awards bonuses for the UTC month containing month.
func (r *Runner) RunMonthly(month time.Time, stage domain.JobStage) ([]domain.Bonus, error) {
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	window := from.Format("2006-01")
	return r.run(from, to, window, domain.BonusMonthly, stage, r.cfg.MonthlyRate, r.cfg.MonthlyMinHours)
}

type accumulation struct {
	earnings float64
	duration float64
	fileIDs  []string
}

func (r *Runner) run(from, to time.Time, window string, btype domain.BonusType, stage domain.JobStage, rate, minHours float64) ([]domain.Bonus, error) {
	if rate <= 0 {
		return nil, nil
	}
	completed, err := r.store.CompletedAssignments(stage, from, to)
	if err != nil {
		return nil, fmt.Errorf("list completed assignments: %w", err)
	}

	byWorker := make(map[string]*accumulation)
	for _, a := range completed {
		order, ok, err := r.store.GetOrder(a.OrderID)
		if err != nil {
			return nil, fmt.Errorf("load order: %w", err)
		}
		if !ok {
			continue
		}
		acc := byWorker[a.WorkerID]
		if acc == nil {
			acc = &accumulation{}
			byWorker[a.WorkerID] = acc
		}
		acc.earnings += a.Earnings
		acc.fileIDs = append(acc.fileIDs, order.FileID)
		if file, ok, err := r.store.GetFile(order.FileID); err != nil {
			return nil, fmt.Errorf("load file: %w", err)
		} else if ok {
			acc.duration += file.Duration
		}
	}

	workers := make([]string, 0, len(byWorker))
	for id := range byWorker {
		workers = append(workers, id)
	}
	sort.Strings(workers)

	var awarded []domain.Bonus
	for _, workerID := range workers {
		acc := byWorker[workerID]
		if acc.duration < minHours {
			continue
		}
		amount := math.Round(acc.earnings*rate*100) / 100
		if amount <= 0 {
			continue
		}
		b := domain.Bonus{
			ID:        util.NewID(),
			WorkerID:  workerID,
			Window:    window,
			Type:      btype,
			Stage:     domain.BonusStage(stage),
			Amount:    amount,
			Duration:  acc.duration,
			FileIDs:   acc.fileIDs,
			CreatedAt: time.Now().UTC(),
		}
		created, err := r.store.CreateBonus(b)
		if err != nil {
			return nil, fmt.Errorf("create bonus: %w", err)
		}
		if !created {
			slog.Info("bonus window already awarded",
				"worker_id", workerID, "window", window, "type", btype, "stage", stage)
			continue
		}
		awarded = append(awarded, b)
	}
	return awarded, nil
}
