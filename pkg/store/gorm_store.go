package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"scribeworks/pkg/domain"
)

const migrateLockID int64 = 52147712

// GormStore implements Store using GORM + Postgres. The single-active-job
// invariants live in partial unique indexes so they hold across stateless
// replicas without an in-memory lock table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&OrderModel{},
			&JobAssignmentModel{},
			&FileVersionModel{},
			&FileModel{},
			&WorkerModel{},
			&BonusModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// The partial unique indexes are the concurrency control for
		// claims: one active assignment per (order, stage), one active
		// assignment per worker. A violating insert loses the race.
		if err := tx.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS uq_job_assignments_order_stage_active
			ON job_assignment_models (order_id, stage)
			WHERE status IN ('ASSIGNED','ACCEPTED','SUBMITTED_FOR_APPROVAL');
		`).Error; err != nil {
			return fmt.Errorf("create order-stage active index: %w", err)
		}
		if err := tx.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS uq_job_assignments_worker_active
			ON job_assignment_models (worker_id)
			WHERE status IN ('ASSIGNED','ACCEPTED','SUBMITTED_FOR_APPROVAL');
		`).Error; err != nil {
			return fmt.Errorf("create worker active index: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateOrder inserts a new order row.
func (s *GormStore) CreateOrder(o domain.Order) error {
	model := orderToModel(o)
	return s.db.Create(&model).Error
}

// GetOrder returns an order by ID.
func (s *GormStore) GetOrder(id string) (domain.Order, bool, error) {
	var model OrderModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, err
	}
	return orderFromModel(model), true, nil
}

// GetOrderByFile returns the order for a file.
func (s *GormStore) GetOrderByFile(fileID string) (domain.Order, bool, error) {
	var model OrderModel
	if err := s.db.Order("created_at DESC").First(&model, "file_id = ?", fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, err
	}
	return orderFromModel(model), true, nil
}

// ListAssignableOrders returns candidate orders for the allocator listing.
func (s *GormStore) ListAssignableOrders(statuses []domain.OrderStatus, updatedBefore time.Time) ([]domain.Order, error) {
	var models []OrderModel
	if err := s.db.
		Where("status IN ?", orderStatusStrings(statuses)).
		Where("updated_at <= ?", updatedBefore).
		Order("priority DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Order, 0, len(models))
	for _, m := range models {
		res = append(res, orderFromModel(m))
	}
	return res, nil
}

// TransitionOrder is a single conditional write: the status flips only if the
// current status is in from. Zero rows touched means the guard failed.
func (s *GormStore) TransitionOrder(id string, from []domain.OrderStatus, to domain.OrderStatus) error {
	res := s.db.Model(&OrderModel{}).
		Where("id = ? AND status IN ?", id, orderStatusStrings(from)).
		Updates(map[string]any{
			"status":     string(to),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.orderGuardFailure(id)
	}
	return nil
}

func (s *GormStore) orderGuardFailure(id string) error {
	var count int64
	if err := s.db.Model(&OrderModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidTransition
}

// SetOrderScreening records the quality-gate decision for an order.
func (s *GormStore) SetOrderScreening(id string, required bool, reason string) error {
	res := s.db.Model(&OrderModel{}).Where("id = ?", id).Updates(map[string]any{
		"screening_required": required,
		"screening_reason":   reason,
		"updated_at":         time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetOrderDifficulty updates the high-difficulty flag, issue count, and the
// extended delivery deadline.
func (s *GormStore) SetOrderDifficulty(id string, highDifficulty bool, issueCount int, deadline time.Time) error {
	res := s.db.Model(&OrderModel{}).Where("id = ?", id).Updates(map[string]any{
		"high_difficulty":   highDifficulty,
		"issue_count":       issueCount,
		"delivery_deadline": deadline,
		"updated_at":        time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetAssignment returns an assignment by ID.
func (s *GormStore) GetAssignment(id string) (domain.JobAssignment, bool, error) {
	var model JobAssignmentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.JobAssignment{}, false, nil
		}
		return domain.JobAssignment{}, false, err
	}
	return assignmentFromModel(model), true, nil
}

// ActiveAssignmentForWorker returns the worker's live claim, if any.
func (s *GormStore) ActiveAssignmentForWorker(workerID string) (domain.JobAssignment, bool, error) {
	var model JobAssignmentModel
	err := s.db.
		Where("worker_id = ? AND status IN ?", workerID, jobStatusStrings(domain.ActiveJobStatuses)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.JobAssignment{}, false, nil
		}
		return domain.JobAssignment{}, false, err
	}
	return assignmentFromModel(model), true, nil
}

// ActiveAssignmentForOrder returns the live claim on an order stage, if any.
func (s *GormStore) ActiveAssignmentForOrder(orderID string, stage domain.JobStage) (domain.JobAssignment, bool, error) {
	var model JobAssignmentModel
	err := s.db.
		Where("order_id = ? AND stage = ? AND status IN ?", orderID, string(stage), jobStatusStrings(domain.ActiveJobStatuses)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.JobAssignment{}, false, nil
		}
		return domain.JobAssignment{}, false, err
	}
	return assignmentFromModel(model), true, nil
}

// HasAssignmentInStatus checks assignment history for an exact
// (order, worker, stage) combination.
func (s *GormStore) HasAssignmentInStatus(orderID, workerID string, stage domain.JobStage, statuses []domain.JobStatus) (bool, error) {
	var count int64
	err := s.db.Model(&JobAssignmentModel{}).
		Where("order_id = ? AND worker_id = ? AND stage = ? AND status IN ?",
			orderID, workerID, string(stage), jobStatusStrings(statuses)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateAssignment is the claim write: assignment insert and order status
// flip commit together or not at all. The partial unique indexes reject a
// second claim; that rejection surfaces as domain.ErrAlreadyAssigned.
func (s *GormStore) CreateAssignment(a domain.JobAssignment, orderFrom []domain.OrderStatus, orderTo domain.OrderStatus) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&OrderModel{}).
			Where("id = ? AND status IN ?", a.OrderID, orderStatusStrings(orderFrom)).
			Updates(map[string]any{
				"status":     string(orderTo),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.orderGuardFailure(a.OrderID)
		}
		model := assignmentToModel(a)
		return tx.Create(&model).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrAlreadyAssigned
	}
	return err
}

// UpdateAssignmentStatus moves an assignment to status, stamping the
// matching timestamp. Earnings are overwritten only when non-nil.
func (s *GormStore) UpdateAssignmentStatus(id string, status domain.JobStatus, earnings *float64) error {
	updates := map[string]any{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	}
	now := time.Now().UTC()
	switch status {
	case domain.JobAccepted:
		updates["accepted_at"] = now
	case domain.JobCompleted:
		updates["completed_at"] = now
	case domain.JobRejected, domain.JobCancelled:
		updates["cancelled_at"] = now
	}
	if earnings != nil {
		updates["earnings"] = *earnings
	}
	res := s.db.Model(&JobAssignmentModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CloseAssignment performs a guarded job transition and, when OrderTo is set,
// the paired order transition in the same transaction.
func (s *GormStore) CloseAssignment(c JobClosure) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		updates := map[string]any{
			"status":     string(c.JobTo),
			"updated_at": now,
		}
		switch c.JobTo {
		case domain.JobAccepted:
			updates["accepted_at"] = now
		case domain.JobCompleted:
			updates["completed_at"] = now
		case domain.JobRejected, domain.JobCancelled:
			updates["cancelled_at"] = now
		}
		if c.Earnings != nil {
			updates["earnings"] = *c.Earnings
		}
		res := tx.Model(&JobAssignmentModel{}).
			Where("id = ? AND status IN ?", c.AssignmentID, jobStatusStrings(c.JobFrom)).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&JobAssignmentModel{}).Where("id = ?", c.AssignmentID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.ErrNotFound
			}
			return domain.ErrInvalidTransition
		}
		if c.OrderTo == "" {
			return nil
		}
		orderUpdates := map[string]any{
			"status":     string(c.OrderTo),
			"updated_at": now,
		}
		if c.DeliveredAt != nil {
			orderUpdates["delivered_at"] = *c.DeliveredAt
			orderUpdates["delivered_by_worker_id"] = c.DeliveredBy
		}
		res = tx.Model(&OrderModel{}).
			Where("id = ? AND status IN ?", c.OrderID, orderStatusStrings(c.OrderFrom)).
			Updates(orderUpdates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.orderGuardFailure(c.OrderID)
		}
		return nil
	})
}

// ReassignJob closes the old assignment, opens the replacement, and flips the
// order status in one transaction. This is the one multi-row transition where
// partial application would be damaging, so it is structurally atomic.
func (s *GormStore) ReassignJob(oldID string, closeStatus domain.JobStatus, closeEarnings *float64, next domain.JobAssignment, orderTo domain.OrderStatus) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		updates := map[string]any{
			"status":     string(closeStatus),
			"updated_at": now,
		}
		if closeStatus == domain.JobCompleted {
			updates["completed_at"] = now
		} else {
			updates["cancelled_at"] = now
		}
		if closeEarnings != nil {
			updates["earnings"] = *closeEarnings
		}
		res := tx.Model(&JobAssignmentModel{}).Where("id = ?", oldID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		model := assignmentToModel(next)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&OrderModel{}).Where("id = ?", next.OrderID).Updates(map[string]any{
			"status":     string(orderTo),
			"updated_at": now,
		}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrAlreadyAssigned
	}
	return err
}

// RefundOrder flips the order to REFUNDED and cancels all of its assignments
// atomically.
func (s *GormStore) RefundOrder(orderID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&OrderModel{}).
			Where("id = ? AND status NOT IN ?", orderID, []string{
				string(domain.OrderCancelled), string(domain.OrderRefunded),
			}).
			Updates(map[string]any{
				"status":     string(domain.OrderRefunded),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.orderGuardFailure(orderID)
		}
		return tx.Model(&JobAssignmentModel{}).
			Where("order_id = ? AND status NOT IN ?", orderID, []string{
				string(domain.JobCompleted), string(domain.JobRejected), string(domain.JobCancelled),
			}).
			Updates(map[string]any{
				"status":       string(domain.JobCancelled),
				"cancelled_at": now,
				"updated_at":   now,
			}).Error
	})
}

// CompletedAssignments returns assignments completed inside [from, to) for a
// stage, used by the bonus aggregation windows.
func (s *GormStore) CompletedAssignments(stage domain.JobStage, from, to time.Time) ([]domain.JobAssignment, error) {
	var models []JobAssignmentModel
	if err := s.db.
		Where("stage = ? AND status = ? AND completed_at >= ? AND completed_at < ?",
			string(stage), string(domain.JobCompleted), from, to).
		Order("completed_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.JobAssignment, 0, len(models))
	for _, m := range models {
		res = append(res, assignmentFromModel(m))
	}
	return res, nil
}

// SaveWorker registers or updates a worker profile.
func (s *GormStore) SaveWorker(w domain.Worker) error {
	model, err := workerToModel(w)
	if err != nil {
		return err
	}
	return s.db.Save(&model).Error
}

// GetWorker returns a worker by ID.
func (s *GormStore) GetWorker(id string) (domain.Worker, bool, error) {
	var model WorkerModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Worker{}, false, nil
		}
		return domain.Worker{}, false, err
	}
	return workerFromModel(model), true, nil
}

// SaveFile stores file metadata.
func (s *GormStore) SaveFile(f domain.File) error {
	model := fileToModel(f)
	return s.db.Save(&model).Error
}

// GetFile returns file metadata.
func (s *GormStore) GetFile(id string) (domain.File, bool, error) {
	var model FileModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.File{}, false, nil
		}
		return domain.File{}, false, err
	}
	return fileFromModel(model), true, nil
}

// AppendFileVersion appends a ledger row. CUSTOMER_EDIT replaces the current
// overlay instead so at most one edit row exists per file.
func (s *GormStore) AppendFileVersion(v domain.FileVersion) (domain.FileVersion, error) {
	model := fileVersionToModel(v)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if v.Tag == domain.TagCustomerEdit {
			if err := tx.Delete(&FileVersionModel{}, "file_id = ? AND tag = ?", v.FileID, string(domain.TagCustomerEdit)).Error; err != nil {
				return err
			}
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.FileVersion{}, err
	}
	return fileVersionFromModel(model), nil
}

// LatestFileVersion resolves the authoritative revision for a tag: the row
// with the highest sequence, not the latest wall clock.
func (s *GormStore) LatestFileVersion(fileID string, tag domain.StageTag) (domain.FileVersion, bool, error) {
	var model FileVersionModel
	err := s.db.
		Where("file_id = ? AND tag = ?", fileID, string(tag)).
		Order("seq DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.FileVersion{}, false, nil
		}
		return domain.FileVersion{}, false, err
	}
	return fileVersionFromModel(model), true, nil
}

// ListFileVersions returns ledger rows for a file constrained to tags, oldest
// first.
func (s *GormStore) ListFileVersions(fileID string, tags []domain.StageTag) ([]domain.FileVersion, error) {
	tagStrings := make([]string, 0, len(tags))
	for _, t := range tags {
		tagStrings = append(tagStrings, string(t))
	}
	var models []FileVersionModel
	q := s.db.Where("file_id = ?", fileID)
	if len(tagStrings) > 0 {
		q = q.Where("tag IN ?", tagStrings)
	}
	if err := q.Order("seq ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.FileVersion, 0, len(models))
	for _, m := range models {
		res = append(res, fileVersionFromModel(m))
	}
	return res, nil
}

// DeleteCustomerEdit removes the edit overlay row, returning it for object
// cleanup.
func (s *GormStore) DeleteCustomerEdit(fileID string) (domain.FileVersion, bool, error) {
	var model FileVersionModel
	err := s.db.
		Where("file_id = ? AND tag = ?", fileID, string(domain.TagCustomerEdit)).
		Order("seq DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.FileVersion{}, false, nil
		}
		return domain.FileVersion{}, false, err
	}
	if err := s.db.Delete(&FileVersionModel{}, "id = ?", model.ID).Error; err != nil {
		return domain.FileVersion{}, false, err
	}
	return fileVersionFromModel(model), true, nil
}

// CreateBonus inserts an aggregated bonus; a duplicate window is a no-op.
func (s *GormStore) CreateBonus(b domain.Bonus) (bool, error) {
	model, err := bonusToModel(b)
	if err != nil {
		return false, err
	}
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListBonuses returns a worker's bonuses, newest first.
func (s *GormStore) ListBonuses(workerID string) ([]domain.Bonus, error) {
	var models []BonusModel
	if err := s.db.Where("worker_id = ?", workerID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Bonus, 0, len(models))
	for _, m := range models {
		res = append(res, bonusFromModel(m))
	}
	return res, nil
}

func orderToModel(o domain.Order) OrderModel {
	return OrderModel{
		ID:                  o.ID,
		FileID:              o.FileID,
		OwnerUserID:         o.OwnerUserID,
		OrderType:           string(o.OrderType),
		Status:              string(o.Status),
		Priority:            o.Priority,
		HighDifficulty:      o.HighDifficulty,
		IssueCount:          o.IssueCount,
		RateBonus:           o.RateBonus,
		TotalPaid:           o.TotalPaid,
		InvoiceID:           o.InvoiceID,
		TransactionID:       o.TransactionID,
		ScreeningRequired:   o.ScreeningRequired,
		ScreeningReason:     o.ScreeningReason,
		ReReview:            o.ReReview,
		DeliveryDeadline:    o.DeliveryDeadline,
		DeliveredAt:         o.DeliveredAt,
		DeliveredByWorkerID: o.DeliveredByWorkerID,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}

func orderFromModel(m OrderModel) domain.Order {
	return domain.Order{
		ID:                  m.ID,
		FileID:              m.FileID,
		OwnerUserID:         m.OwnerUserID,
		OrderType:           domain.OrderType(m.OrderType),
		Status:              domain.OrderStatus(m.Status),
		Priority:            m.Priority,
		HighDifficulty:      m.HighDifficulty,
		IssueCount:          m.IssueCount,
		RateBonus:           m.RateBonus,
		TotalPaid:           m.TotalPaid,
		InvoiceID:           m.InvoiceID,
		TransactionID:       m.TransactionID,
		ScreeningRequired:   m.ScreeningRequired,
		ScreeningReason:     m.ScreeningReason,
		ReReview:            m.ReReview,
		DeliveryDeadline:    m.DeliveryDeadline,
		DeliveredAt:         m.DeliveredAt,
		DeliveredByWorkerID: m.DeliveredByWorkerID,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func assignmentToModel(a domain.JobAssignment) JobAssignmentModel {
	return JobAssignmentModel{
		ID:                      a.ID,
		OrderID:                 a.OrderID,
		WorkerID:                a.WorkerID,
		Stage:                   string(a.Stage),
		Status:                  string(a.Status),
		Mode:                    string(a.Mode),
		Earnings:                a.Earnings,
		Comment:                 a.Comment,
		ExtensionRequested:      a.ExtensionRequested,
		IndependentContractorQC: a.IndependentContractorQC,
		AcceptedAt:              a.AcceptedAt,
		CompletedAt:             a.CompletedAt,
		CancelledAt:             a.CancelledAt,
		CreatedAt:               a.CreatedAt,
		UpdatedAt:               a.UpdatedAt,
	}
}

func assignmentFromModel(m JobAssignmentModel) domain.JobAssignment {
	return domain.JobAssignment{
		ID:                      m.ID,
		OrderID:                 m.OrderID,
		WorkerID:                m.WorkerID,
		Stage:                   domain.JobStage(m.Stage),
		Status:                  domain.JobStatus(m.Status),
		Mode:                    domain.AssignMode(m.Mode),
		Earnings:                m.Earnings,
		Comment:                 m.Comment,
		ExtensionRequested:      m.ExtensionRequested,
		IndependentContractorQC: m.IndependentContractorQC,
		AcceptedAt:              m.AcceptedAt,
		CompletedAt:             m.CompletedAt,
		CancelledAt:             m.CancelledAt,
		CreatedAt:               m.CreatedAt,
		UpdatedAt:               m.UpdatedAt,
	}
}

func fileVersionToModel(v domain.FileVersion) FileVersionModel {
	return FileVersionModel{
		ID:         v.ID,
		FileID:     v.FileID,
		Tag:        string(v.Tag),
		RevisionID: v.RevisionID,
		Key:        v.Key,
		Extension:  v.Extension,
		WorkerID:   v.WorkerID,
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
	}
}

func fileVersionFromModel(m FileVersionModel) domain.FileVersion {
	return domain.FileVersion{
		ID:         m.ID,
		FileID:     m.FileID,
		Tag:        domain.StageTag(m.Tag),
		RevisionID: m.RevisionID,
		Key:        m.Key,
		Extension:  m.Extension,
		WorkerID:   m.WorkerID,
		Seq:        m.Seq,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func fileToModel(f domain.File) FileModel {
	return FileModel{
		ID:          f.ID,
		Filename:    f.Filename,
		OwnerUserID: f.OwnerUserID,
		CustomerOrg: f.CustomerOrg,
		Duration:    f.Duration,
		CreatedAt:   f.CreatedAt,
	}
}

func fileFromModel(m FileModel) domain.File {
	return domain.File{
		ID:          m.ID,
		Filename:    m.Filename,
		OwnerUserID: m.OwnerUserID,
		CustomerOrg: m.CustomerOrg,
		Duration:    m.Duration,
		CreatedAt:   m.CreatedAt,
	}
}

func workerToModel(w domain.Worker) (WorkerModel, error) {
	customers, err := json.Marshal(w.EnabledCustomers)
	if err != nil {
		return WorkerModel{}, err
	}
	return WorkerModel{
		ID:                     w.ID,
		Email:                  w.Email,
		Name:                   w.Name,
		ICQC:                   w.ICQC,
		QCDisabled:             w.QCDisabled,
		EnabledCustomers:       customers,
		TrustedCustomerEnabled: w.TrustedCustomerEnabled,
		CreatedAt:              w.CreatedAt,
		UpdatedAt:              w.UpdatedAt,
	}, nil
}

func workerFromModel(m WorkerModel) domain.Worker {
	var customers []string
	if len(m.EnabledCustomers) > 0 {
		_ = json.Unmarshal(m.EnabledCustomers, &customers)
	}
	return domain.Worker{
		ID:                     m.ID,
		Email:                  m.Email,
		Name:                   m.Name,
		ICQC:                   m.ICQC,
		QCDisabled:             m.QCDisabled,
		EnabledCustomers:       customers,
		TrustedCustomerEnabled: m.TrustedCustomerEnabled,
		CreatedAt:              m.CreatedAt,
		UpdatedAt:              m.UpdatedAt,
	}
}

func bonusToModel(b domain.Bonus) (BonusModel, error) {
	fileIDs, err := json.Marshal(b.FileIDs)
	if err != nil {
		return BonusModel{}, err
	}
	return BonusModel{
		ID:        b.ID,
		WorkerID:  b.WorkerID,
		Window:    b.Window,
		Type:      string(b.Type),
		Stage:     string(b.Stage),
		Amount:    b.Amount,
		Duration:  b.Duration,
		FileIDs:   fileIDs,
		CreatedAt: b.CreatedAt,
	}, nil
}

func bonusFromModel(m BonusModel) domain.Bonus {
	var fileIDs []string
	if len(m.FileIDs) > 0 {
		_ = json.Unmarshal(m.FileIDs, &fileIDs)
	}
	return domain.Bonus{
		ID:        m.ID,
		WorkerID:  m.WorkerID,
		Window:    m.Window,
		Type:      domain.BonusType(m.Type),
		Stage:     domain.BonusStage(m.Stage),
		Amount:    m.Amount,
		Duration:  m.Duration,
		FileIDs:   fileIDs,
		CreatedAt: m.CreatedAt,
	}
}
