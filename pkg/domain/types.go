package domain

import "time"

type OrderStatus string

const (
	// OrderProcessing is the intake state while ASR output is being screened.
	OrderProcessing           OrderStatus = "PROCESSING"
	OrderTranscribed          OrderStatus = "TRANSCRIBED"
	OrderFormatted            OrderStatus = "FORMATTED"
	OrderQCAssigned           OrderStatus = "QC_ASSIGNED"
	OrderReviewerAssigned     OrderStatus = "REVIEWER_ASSIGNED"
	OrderSubmittedForApproval OrderStatus = "SUBMITTED_FOR_APPROVAL"
	OrderCompleted            OrderStatus = "COMPLETED"
	OrderPreDelivered         OrderStatus = "PRE_DELIVERED"
	OrderFinalizerAssigned    OrderStatus = "FINALIZER_ASSIGNED"
	OrderDelivered            OrderStatus = "DELIVERED"
	OrderBlocked              OrderStatus = "BLOCKED"
	OrderCancelled            OrderStatus = "CANCELLED"
	OrderRefunded             OrderStatus = "REFUNDED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderDelivered, OrderCancelled, OrderRefunded:
		return true
	}
	return false
}

type OrderType string

const (
	TypeTranscription           OrderType = "TRANSCRIPTION"
	TypeFormatting              OrderType = "FORMATTING"
	TypeTranscriptionFormatting OrderType = "TRANSCRIPTION_FORMATTING"
)

type JobStage string

const (
	StageQC       JobStage = "QC"
	StageReview   JobStage = "REVIEW"
	StageFinalize JobStage = "FINALIZE"
)

type JobStatus string

const (
	JobAssigned             JobStatus = "ASSIGNED"
	JobAccepted             JobStatus = "ACCEPTED"
	JobSubmittedForApproval JobStatus = "SUBMITTED_FOR_APPROVAL"
	JobCompleted            JobStatus = "COMPLETED"
	JobRejected             JobStatus = "REJECTED"
	JobCancelled            JobStatus = "CANCELLED"
)

// ActiveJobStatuses are the states that count toward the single-active-job
// rule, for both workers and orders.
var ActiveJobStatuses = []JobStatus{JobAssigned, JobAccepted, JobSubmittedForApproval}

// Active reports whether the status counts as a live claim.
func (s JobStatus) Active() bool {
	switch s {
	case JobAssigned, JobAccepted, JobSubmittedForApproval:
		return true
	}
	return false
}

type AssignMode string

const (
	AssignAuto   AssignMode = "AUTO"
	AssignManual AssignMode = "MANUAL"
)

// StageTag labels which pipeline step produced an artifact revision.
type StageTag string

const (
	TagAuto                 StageTag = "AUTO"
	TagAssemblyAI           StageTag = "ASSEMBLY_AI"
	TagAssemblyAILLM        StageTag = "ASSEMBLY_AI_LLM"
	TagQCEdit               StageTag = "QC_EDIT"
	TagQCDelivered          StageTag = "QC_DELIVERED"
	TagCustomerEdit         StageTag = "CUSTOMER_EDIT"
	TagCustomerDelivered    StageTag = "CUSTOMER_DELIVERED"
	TagCFRevSubmitted       StageTag = "CF_REV_SUBMITTED"
	TagCFFinalizerSubmitted StageTag = "CF_FINALIZER_SUBMITTED"
	TagCFOMDelivered        StageTag = "CF_OM_DELIVERED"
	TagCFCustomerDelivered  StageTag = "CF_CUSTOMER_DELIVERED"
)

type BonusType string

const (
	BonusDaily   BonusType = "DAILY"
	BonusMonthly BonusType = "MONTHLY"
)

type BonusStage string

const (
	BonusStageQC       BonusStage = "QC"
	BonusStageReview   BonusStage = "REVIEW"
	BonusStageFinalize BonusStage = "FINALIZE"
)

// Order is one purchase of pipeline work for a file. Orders are never
// deleted; terminal outcomes are status flips.
type Order struct {
	ID                  string      `json:"id"`
	FileID              string      `json:"fileId"`
	OwnerUserID         string      `json:"ownerUserId"`
	OrderType           OrderType   `json:"orderType"`
	Status              OrderStatus `json:"status"`
	Priority            int         `json:"priority"`
	HighDifficulty      bool        `json:"highDifficulty"`
	IssueCount          int         `json:"issueCount"`
	RateBonus           float64     `json:"rateBonus"`
	TotalPaid           float64     `json:"totalPaid"`
	InvoiceID           string      `json:"invoiceId"`
	TransactionID       string      `json:"transactionId"`
	ScreeningRequired   bool        `json:"screeningRequired"`
	ScreeningReason     string      `json:"screeningReason,omitempty"`
	ReReview            bool        `json:"reReview"`
	DeliveryDeadline    time.Time   `json:"deliveryDeadline"`
	DeliveredAt         *time.Time  `json:"deliveredAt,omitempty"`
	DeliveredByWorkerID string      `json:"deliveredByWorkerId,omitempty"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

// JobAssignment is one attempt at one stage of an order by one worker.
// Rows are retained forever for audit and earnings history.
type JobAssignment struct {
	ID                      string     `json:"id"`
	OrderID                 string     `json:"orderId"`
	WorkerID                string     `json:"workerId"`
	Stage                   JobStage   `json:"stage"`
	Status                  JobStatus  `json:"status"`
	Mode                    AssignMode `json:"mode"`
	Earnings                float64    `json:"earnings"`
	Comment                 string     `json:"comment,omitempty"`
	ExtensionRequested      bool       `json:"extensionRequested"`
	IndependentContractorQC bool       `json:"isIndependentContractorQC"`
	AcceptedAt              *time.Time `json:"acceptedAt,omitempty"`
	CompletedAt             *time.Time `json:"completedAt,omitempty"`
	CancelledAt             *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

// FileVersion is one artifact-ledger entry: a tagged pointer into the object
// store. Seq is a per-file monotonic sequence assigned on append; the latest
// row for a (fileID, tag) pair by Seq is authoritative for that tag.
type FileVersion struct {
	ID         string    `json:"id"`
	FileID     string    `json:"fileId"`
	Tag        StageTag  `json:"tag"`
	RevisionID string    `json:"revisionId"`
	Key        string    `json:"key"`
	Extension  string    `json:"extension,omitempty"`
	WorkerID   string    `json:"workerId,omitempty"`
	Seq        int64     `json:"seq"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// File is static media metadata, read-only for the pipeline.
type File struct {
	ID          string    `json:"fileId"`
	Filename    string    `json:"filename"`
	OwnerUserID string    `json:"ownerUserId"`
	CustomerOrg string    `json:"customerOrg,omitempty"`
	Duration    float64   `json:"duration"` // hours of audio
	CreatedAt   time.Time `json:"createdAt"`
}

// Worker is the transcriber/verifier profile consulted for eligibility.
type Worker struct {
	ID                     string    `json:"id"`
	Email                  string    `json:"email"`
	Name                   string    `json:"name"`
	ICQC                   bool      `json:"icqc"`
	QCDisabled             bool      `json:"qcDisabled"`
	EnabledCustomers       []string  `json:"enabledCustomers"`
	TrustedCustomerEnabled bool      `json:"trustedCustomerEnabled"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// Bonus is one aggregated payout for a worker over a time window. The
// (WorkerID, Window, Type, Stage) tuple is unique so a cron re-run for the
// same window is a no-op.
type Bonus struct {
	ID        string     `json:"id"`
	WorkerID  string     `json:"workerId"`
	Window    string     `json:"window"` // 2026-08-30 for daily, 2026-08 for monthly
	Type      BonusType  `json:"type"`
	Stage     BonusStage `json:"stage"`
	Amount    float64    `json:"amount"`
	Duration  float64    `json:"duration"` // audio hours covered
	FileIDs   []string   `json:"fileIds"`
	CreatedAt time.Time  `json:"createdAt"`
}

// WordConfidence is one ASR word with its confidence score.
type WordConfidence struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}
