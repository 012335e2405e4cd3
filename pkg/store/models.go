package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type OrderModel struct {
	ID                  string `gorm:"primaryKey"`
	FileID              string `gorm:"not null;index"`
	OwnerUserID         string `gorm:"not null;index"`
	OrderType           string `gorm:"not null"`
	Status              string `gorm:"not null;index"`
	Priority            int    `gorm:"not null;default:0"`
	HighDifficulty      bool   `gorm:"not null;default:false"`
	IssueCount          int    `gorm:"not null;default:0"`
	RateBonus           float64
	TotalPaid           float64
	InvoiceID           string
	TransactionID       string
	ScreeningRequired   bool `gorm:"not null;default:false"`
	ScreeningReason     string
	ReReview            bool `gorm:"not null;default:false"`
	DeliveryDeadline    time.Time
	DeliveredAt         *time.Time
	DeliveredByWorkerID string
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null;index"`
}

type JobAssignmentModel struct {
	ID                      string `gorm:"primaryKey"`
	OrderID                 string `gorm:"not null;index"`
	WorkerID                string `gorm:"not null;index"`
	Stage                   string `gorm:"not null"`
	Status                  string `gorm:"not null;index"`
	Mode                    string `gorm:"not null"`
	Earnings                float64
	Comment                 string
	ExtensionRequested      bool `gorm:"not null;default:false"`
	IndependentContractorQC bool `gorm:"not null;default:false"`
	AcceptedAt              *time.Time
	CompletedAt             *time.Time
	CancelledAt             *time.Time
	CreatedAt               time.Time `gorm:"not null"`
	UpdatedAt               time.Time `gorm:"not null"`
}

type FileVersionModel struct {
	ID         string `gorm:"primaryKey"`
	FileID     string `gorm:"not null;index:idx_file_versions_file_tag"`
	Tag        string `gorm:"not null;index:idx_file_versions_file_tag"`
	RevisionID string `gorm:"not null"`
	Key        string
	Extension  string
	WorkerID   string
	Seq        int64     `gorm:"autoIncrement;uniqueIndex"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

type FileModel struct {
	ID          string `gorm:"primaryKey"`
	Filename    string `gorm:"not null"`
	OwnerUserID string `gorm:"not null;index"`
	CustomerOrg string
	Duration    float64   `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

type WorkerModel struct {
	ID                     string `gorm:"primaryKey"`
	Email                  string `gorm:"uniqueIndex;not null"`
	Name                   string
	ICQC                   bool           `gorm:"not null;default:false"`
	QCDisabled             bool           `gorm:"not null;default:false"`
	EnabledCustomers       datatypes.JSON `gorm:"type:jsonb"`
	TrustedCustomerEnabled bool           `gorm:"not null;default:false"`
	CreatedAt              time.Time      `gorm:"not null"`
	UpdatedAt              time.Time
}

type BonusModel struct {
	ID        string `gorm:"primaryKey"`
	WorkerID  string `gorm:"not null;uniqueIndex:uq_bonus_window"`
	Window    string `gorm:"not null;uniqueIndex:uq_bonus_window"`
	Type      string `gorm:"not null;uniqueIndex:uq_bonus_window"`
	Stage     string `gorm:"not null;uniqueIndex:uq_bonus_window"`
	Amount    float64
	Duration  float64
	FileIDs   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null"`
}
