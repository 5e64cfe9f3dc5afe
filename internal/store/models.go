package store

import (
	"time"

	"github.com/google/uuid"
)

// CreditNote represents the 'credit_notes' table. DueDate nil means the
// note is payable immediately (the "IMMEDIATE" sentinel of the legacy
// exports). Version is the optimistic-concurrency counter bumped by every
// allocation-affecting write.
type CreditNote struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	Number            string     `db:"number" json:"number"`
	IssuingUnit       string     `db:"issuing_unit" json:"issuing_unit"`
	IssueDate         time.Time  `db:"issue_date" json:"issue_date"`
	DueDate           *time.Time `db:"due_date" json:"due_date,omitempty"`
	Description       string     `db:"description" json:"description"`
	TotalAmount       float64    `db:"total_amount" json:"total_amount"`
	ManuallyCollected bool       `db:"manually_collected" json:"manually_collected"`
	CollectedAmount   float64    `db:"collected_amount" json:"collected_amount"`
	Version           int64      `db:"version" json:"-"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`

	Lines []CreditLine `db:"-" json:"lines"`
}

// CreditLine represents the 'credit_lines' table.
type CreditLine struct {
	ID           uuid.UUID `db:"id" json:"id"`
	CreditNoteID uuid.UUID `db:"credit_note_id" json:"credit_note_id"`
	Position     int       `db:"position" json:"position"`
	NatureCode   string    `db:"nature_code" json:"nature_code"`
	Source       string    `db:"source" json:"source"`
	ProgramCode  string    `db:"program_code" json:"program_code"`
	UnitCode     string    `db:"unit_code" json:"unit_code"`
	PlanCode     string    `db:"plan_code" json:"plan_code"`
	Amount       float64   `db:"amount" json:"amount"`
}

type CommitmentType string

const (
	CommitmentOrdinary  CommitmentType = "ordinary"
	CommitmentGlobal    CommitmentType = "global"
	CommitmentEstimated CommitmentType = "estimated"
)

// Commitment represents the 'commitments' table. Status holds the last
// stored coarse status; readers should prefer the derived status.
type Commitment struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	CreditNoteID uuid.UUID      `db:"credit_note_id" json:"credit_note_id"`
	Number       string         `db:"number" json:"number"`
	NatureCode   string         `db:"nature_code" json:"nature_code"`
	Type         CommitmentType `db:"type" json:"type"`
	IssueDate    time.Time      `db:"issue_date" json:"issue_date"`
	SupplierID   string         `db:"supplier_id" json:"supplier_id"`
	SupplierName string         `db:"supplier_name" json:"supplier_name"`
	ProcessID    string         `db:"process_id" json:"process_id"`
	Amount       float64        `db:"amount" json:"amount"`
	Status       string         `db:"status" json:"status"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`

	Items []CommitmentItem `db:"-" json:"items"`
}

// CommitmentItem represents the 'commitment_items' table. ID doubles as
// the stable line identifier carried onto delivery items, so that residual
// reconciliation does not depend on free-text descriptions.
type CommitmentItem struct {
	ID           uuid.UUID `db:"id" json:"id"`
	CommitmentID uuid.UUID `db:"commitment_id" json:"commitment_id"`
	Position     int       `db:"position" json:"position"`
	Description  string    `db:"description" json:"description"`
	Quantity     float64   `db:"quantity" json:"quantity"`
	UnitPrice    float64   `db:"unit_price" json:"unit_price"`
}

// StageFlags is the write-through stage record of a delivery. ArtRequired
// is tri-state: nil while the art decision has not been made yet.
type StageFlags struct {
	SentDoc       bool       `db:"sent_doc" json:"sent_doc"`
	SentDocAt     *time.Time `db:"sent_doc_at" json:"sent_doc_at,omitempty"`
	ReceivedDoc   bool       `db:"received_doc" json:"received_doc"`
	ReceivedDocAt *time.Time `db:"received_doc_at" json:"received_doc_at,omitempty"`
	ArtRequired   *bool      `db:"art_required" json:"art_required,omitempty"`
	ArtDecidedAt  *time.Time `db:"art_decided_at" json:"art_decided_at,omitempty"`
	ArtApproved   bool       `db:"art_approved" json:"art_approved"`
	ArtApprovedAt *time.Time `db:"art_approved_at" json:"art_approved_at,omitempty"`
	ArtSent       bool       `db:"art_sent" json:"art_sent"`
	ArtSentAt     *time.Time `db:"art_sent_at" json:"art_sent_at,omitempty"`
	TrackingCode  string     `db:"tracking_code" json:"tracking_code"`
	NoTracking    bool       `db:"no_tracking" json:"no_tracking"`
	Checked       bool       `db:"checked" json:"checked"`
	CheckedAt     *time.Time `db:"checked_at" json:"checked_at,omitempty"`
}

// Delivery represents the 'deliveries' table. CommitmentNumber and
// SupplierName are denormalized so a delivery stays renderable after its
// commitment is deleted.
type Delivery struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	CommitmentID     uuid.UUID      `db:"commitment_id" json:"commitment_id"`
	CommitmentNumber string         `db:"commitment_number" json:"commitment_number"`
	SupplierName     string         `db:"supplier_name" json:"supplier_name"`
	Type             CommitmentType `db:"type" json:"type"`
	Status           string         `db:"status" json:"status"`

	StageFlags

	DueDate          *time.Time `db:"due_date" json:"due_date,omitempty"`
	DueDateLocked    bool       `db:"due_date_locked" json:"due_date_locked"`
	DueDateLockedAt  *time.Time `db:"due_date_locked_at" json:"due_date_locked_at,omitempty"`
	LiquidatedAmount *float64   `db:"liquidated_amount" json:"liquidated_amount,omitempty"`
	LiquidationDate  *time.Time `db:"liquidation_date" json:"liquidation_date,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`

	Items      []DeliveryItem    `db:"-" json:"items"`
	Extensions []ExtensionRecord `db:"-" json:"extension_history"`
}

// Liquidated reports whether the delivery reached its terminal state.
func (d *Delivery) Liquidated() bool {
	return d.Checked && d.LiquidationDate != nil
}

// DeliveryItem represents the 'delivery_items' table. LineID references
// the commitment item the quantity was drawn from; nil on legacy rows
// imported before stable line identifiers existed.
type DeliveryItem struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	DeliveryID        uuid.UUID  `db:"delivery_id" json:"delivery_id"`
	LineID            *uuid.UUID `db:"line_id" json:"line_id,omitempty"`
	Description       string     `db:"description" json:"description"`
	QuantityRequested float64    `db:"quantity_requested" json:"quantity_requested"`
	UnitPrice         float64    `db:"unit_price" json:"unit_price"`
}

// ExtensionRecord represents the 'delivery_extensions' table. Append-only:
// rows are never updated or deleted once written.
type ExtensionRecord struct {
	ID           int64     `db:"id" json:"id"`
	DeliveryID   uuid.UUID `db:"delivery_id" json:"delivery_id"`
	PreviousDate time.Time `db:"previous_date" json:"previous_date"`
	NewDate      time.Time `db:"new_date" json:"new_date"`
	DaysAdded    int       `db:"days_added" json:"days_added"`
	Reason       string    `db:"reason" json:"reason"`
	CreatedAt    time.Time `db:"created_at" json:"timestamp"`
}

// PerDiem represents the 'per_diems' table: a direct disbursement that
// consumes credit note balance without an intermediate commitment. It is
// considered liquidated at creation.
type PerDiem struct {
	ID           uuid.UUID `db:"id" json:"id"`
	CreditNoteID uuid.UUID `db:"credit_note_id" json:"credit_note_id"`
	Description  string    `db:"description" json:"description"`
	IssueDate    time.Time `db:"issue_date" json:"issue_date"`
	TotalAmount  float64   `db:"total_amount" json:"total_amount"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`

	Beneficiaries []PerDiemBeneficiary `db:"-" json:"beneficiaries"`
}

// PerDiemBeneficiary represents the 'per_diem_beneficiaries' table.
type PerDiemBeneficiary struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PerDiemID uuid.UUID `db:"per_diem_id" json:"per_diem_id"`
	Name      string    `db:"name" json:"name"`
	NumUnits  float64   `db:"num_units" json:"num_units"`
	UnitValue float64   `db:"unit_value" json:"unit_value"`
}

// ExecutionRow is one commitment-level row of the budget execution report.
type ExecutionRow struct {
	IssuingUnit     string  `db:"issuing_unit" json:"issuing_unit"`
	CommittedValue  float64 `db:"committed_value" json:"committed_value"`
	LiquidatedValue float64 `db:"liquidated_value" json:"liquidated_value"`
}
