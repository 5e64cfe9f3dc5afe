package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a lookup by id matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when the credit note version counter
	// moved between read and write. The operation is safe to retry.
	ErrVersionConflict = errors.New("credit note modified concurrently")
)

// Queryer is the subset of sqlx satisfied by both *sqlx.DB and *sqlx.Tx,
// so store code runs unchanged inside and outside transactions.
type Queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// StagePatch carries a partial, per-field update of a delivery's stage
// record. Only non-nil fields are written, so two concurrent patches to
// different fields never clobber each other (last write wins per field,
// not per delivery).
type StagePatch struct {
	SentDoc        *bool
	SentDocAt      *time.Time
	ReceivedDoc    *bool
	ReceivedDocAt  *time.Time
	ArtRequired    *bool
	ArtDecidedAt   *time.Time
	ArtApproved    *bool
	ArtApprovedAt  *time.Time
	ArtSent        *bool
	ArtSentAt      *time.Time
	TrackingCode   *string
	NoTracking     *bool
	Checked        *bool
	CheckedAt      *time.Time
	DueDate        *time.Time
	ItemQuantities map[uuid.UUID]float64
	Status         *string
}

type Storage struct {
	CreditNote interface {
		Insert(ctx context.Context, n *CreditNote) error
		Update(ctx context.Context, n *CreditNote) error
		SetCollected(ctx context.Context, id uuid.UUID, collected bool, collectedAmount float64) error
		GetByID(ctx context.Context, id uuid.UUID) (*CreditNote, error)
		GetByNumber(ctx context.Context, number string) (*CreditNote, error)
		List(ctx context.Context) ([]CreditNote, error)
	}

	Commitment interface {
		// Create inserts the commitment and bumps the funding note's
		// version from noteVersion; ErrVersionConflict when it moved.
		Create(ctx context.Context, c *Commitment, noteVersion int64) error
		// Update rewrites the commitment and bumps the versions of the old
		// and (when refunded elsewhere) new credit notes atomically.
		Update(ctx context.Context, c *Commitment, oldNoteID uuid.UUID, oldNoteVersion, newNoteVersion int64) error
		Delete(ctx context.Context, id, noteID uuid.UUID, noteVersion int64) error
		SetStatus(ctx context.Context, id uuid.UUID, status string) error
		GetByID(ctx context.Context, id uuid.UUID) (*Commitment, error)
		ListByCreditNote(ctx context.Context, noteID uuid.UUID) ([]Commitment, error)
		List(ctx context.Context) ([]Commitment, error)
	}

	Delivery interface {
		Insert(ctx context.Context, d *Delivery) error
		GetByID(ctx context.Context, id uuid.UUID) (*Delivery, error)
		ListByCommitment(ctx context.Context, commitmentID uuid.UUID) ([]Delivery, error)
		PatchStage(ctx context.Context, id uuid.UUID, patch StagePatch) error
		LockDueDate(ctx context.Context, id uuid.UUID, at time.Time) error
		// AppendExtension writes one extension record and the new due date
		// in a single transaction.
		AppendExtension(ctx context.Context, rec *ExtensionRecord) error
		Liquidate(ctx context.Context, id uuid.UUID, amount float64, at time.Time) error
	}

	PerDiem interface {
		Create(ctx context.Context, p *PerDiem, noteVersion int64) error
		Delete(ctx context.Context, id, noteID uuid.UUID, noteVersion int64) error
		GetByID(ctx context.Context, id uuid.UUID) (*PerDiem, error)
		ListByCreditNote(ctx context.Context, noteID uuid.UUID) ([]PerDiem, error)
	}

	Report interface {
		ExecutionRows(ctx context.Context, units []string) ([]ExecutionRow, error)
	}
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		CreditNote: &CreditNoteStore{db: db},
		Commitment: &CommitmentStore{db: db},
		Delivery:   &DeliveryStore{db: db},
		PerDiem:    &PerDiemStore{db: db},
		Report:     &ReportStore{db: db},
	}
}

// withTx runs fn inside a transaction, translating Postgres serialization
// failures into the retryable conflict error.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return translateErr(err)
	}
	if err := tx.Commit(); err != nil {
		return translateErr(err)
	}
	return nil
}

func translateErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "40001" {
		return ErrVersionConflict
	}
	return err
}

// bumpNoteVersion performs the optimistic compare-and-swap on the credit
// note row that guards every allocation-affecting write.
func bumpNoteVersion(ctx context.Context, tx Queryer, noteID uuid.UUID, expected int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE credit_notes SET version = version + 1, updated_at = now() WHERE id = $1 AND version = $2`,
		noteID, expected)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}
