package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrDueDateLocked is returned when a direct due-date edit or a
	// second lock hits an already-locked delivery.
	ErrDueDateLocked = errors.New("due date is locked")

	// ErrDeliveryLiquidated is returned when a mutation reaches a
	// delivery that already hit its terminal state.
	ErrDeliveryLiquidated = errors.New("delivery already liquidated")
)

type DeliveryStore struct {
	db *sqlx.DB
}

func (ds *DeliveryStore) Insert(ctx context.Context, d *Delivery) error {
	return withTx(ctx, ds.db, func(tx *sqlx.Tx) error {
		query := `INSERT INTO deliveries (
			id,
			commitment_id,
			commitment_number,
			supplier_name,
			type,
			status,
			sent_doc,
			sent_doc_at,
			received_doc,
			received_doc_at,
			art_required,
			art_decided_at,
			art_approved,
			art_approved_at,
			art_sent,
			art_sent_at,
			tracking_code,
			no_tracking,
			checked,
			checked_at,
			due_date,
			due_date_locked,
			due_date_locked_at,
			liquidated_amount,
			liquidation_date
		) VALUES (
			:id,
			:commitment_id,
			:commitment_number,
			:supplier_name,
			:type,
			:status,
			:sent_doc,
			:sent_doc_at,
			:received_doc,
			:received_doc_at,
			:art_required,
			:art_decided_at,
			:art_approved,
			:art_approved_at,
			:art_sent,
			:art_sent_at,
			:tracking_code,
			:no_tracking,
			:checked,
			:checked_at,
			:due_date,
			:due_date_locked,
			:due_date_locked_at,
			:liquidated_amount,
			:liquidation_date
		)`

		if _, err := tx.NamedExecContext(ctx, query, d); err != nil {
			return err
		}
		return insertDeliveryItems(ctx, tx, d.ID, d.Items)
	})
}

func (ds *DeliveryStore) GetByID(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	var d Delivery
	err := ds.db.GetContext(ctx, &d, `SELECT * FROM deliveries WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := ds.attach(ctx, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (ds *DeliveryStore) ListByCommitment(ctx context.Context, commitmentID uuid.UUID) ([]Delivery, error) {
	var deliveries []Delivery
	err := ds.db.SelectContext(ctx, &deliveries,
		`SELECT * FROM deliveries WHERE commitment_id = $1 ORDER BY created_at`, commitmentID)
	if err != nil {
		return nil, err
	}
	for i := range deliveries {
		if err := ds.attach(ctx, &deliveries[i]); err != nil {
			return nil, err
		}
	}
	return deliveries, nil
}

// PatchStage writes only the fields present in the patch. Each field gets
// its own SET clause so the write granularity is per field: a debounced
// tracking-code write racing a checkbox write touches disjoint columns.
func (ds *DeliveryStore) PatchStage(ctx context.Context, id uuid.UUID, patch StagePatch) error {
	return withTx(ctx, ds.db, func(tx *sqlx.Tx) error {
		sets := []string{"updated_at = now()"}
		args := []interface{}{id}

		add := func(column string, value interface{}) {
			args = append(args, value)
			sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
		}

		if patch.SentDoc != nil {
			add("sent_doc", *patch.SentDoc)
			add("sent_doc_at", patch.SentDocAt)
		}
		if patch.ReceivedDoc != nil {
			add("received_doc", *patch.ReceivedDoc)
			add("received_doc_at", patch.ReceivedDocAt)
		}
		if patch.ArtRequired != nil {
			add("art_required", *patch.ArtRequired)
			add("art_decided_at", patch.ArtDecidedAt)
		}
		if patch.ArtApproved != nil {
			add("art_approved", *patch.ArtApproved)
			add("art_approved_at", patch.ArtApprovedAt)
		}
		if patch.ArtSent != nil {
			add("art_sent", *patch.ArtSent)
			add("art_sent_at", patch.ArtSentAt)
		}
		if patch.TrackingCode != nil {
			add("tracking_code", *patch.TrackingCode)
		}
		if patch.NoTracking != nil {
			add("no_tracking", *patch.NoTracking)
		}
		if patch.Checked != nil {
			add("checked", *patch.Checked)
			add("checked_at", patch.CheckedAt)
		}
		if patch.DueDate != nil {
			add("due_date", *patch.DueDate)
		}
		if patch.Status != nil {
			add("status", *patch.Status)
		}

		if len(sets) > 1 {
			query := fmt.Sprintf(`UPDATE deliveries SET %s WHERE id = $1 AND liquidation_date IS NULL`,
				strings.Join(sets, ", "))
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			if affected, _ := res.RowsAffected(); affected == 0 {
				return deliveryWriteBlocked(ctx, tx, id)
			}
		}

		for itemID, qty := range patch.ItemQuantities {
			res, err := tx.ExecContext(ctx,
				`UPDATE delivery_items SET quantity_requested = $3 WHERE id = $1 AND delivery_id = $2`,
				itemID, id, qty)
			if err != nil {
				return err
			}
			if affected, _ := res.RowsAffected(); affected == 0 {
				return ErrNotFound
			}
		}
		return nil
	})
}

// LockDueDate is one-way: the WHERE clause refuses both a second lock and
// a lock without a due date to lock.
func (ds *DeliveryStore) LockDueDate(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := ds.db.ExecContext(ctx,
		`UPDATE deliveries SET due_date_locked = TRUE, due_date_locked_at = $2, updated_at = now()
		 WHERE id = $1 AND due_date_locked = FALSE AND due_date IS NOT NULL AND liquidation_date IS NULL`,
		id, at)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return lockBlocked(ctx, ds.db, id)
	}
	return nil
}

func (ds *DeliveryStore) AppendExtension(ctx context.Context, rec *ExtensionRecord) error {
	return withTx(ctx, ds.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE deliveries SET due_date = $2, updated_at = now()
			 WHERE id = $1 AND liquidation_date IS NULL`,
			rec.DeliveryID, rec.NewDate)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return deliveryWriteBlocked(ctx, tx, rec.DeliveryID)
		}

		query := `INSERT INTO delivery_extensions (
			delivery_id,
			previous_date,
			new_date,
			days_added,
			reason,
			created_at
		) VALUES (
			:delivery_id,
			:previous_date,
			:new_date,
			:days_added,
			:reason,
			:created_at
		) RETURNING id`

		rows, err := tx.NamedQuery(query, rec)
		if err != nil {
			return err
		}
		defer rows.Close()
		if rows.Next() {
			if err := rows.Scan(&rec.ID); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

// Liquidate keeps the first liquidation date on retries so the terminal
// transition stays idempotent.
func (ds *DeliveryStore) Liquidate(ctx context.Context, id uuid.UUID, amount float64, at time.Time) error {
	res, err := ds.db.ExecContext(ctx,
		`UPDATE deliveries SET
			checked = TRUE,
			checked_at = COALESCE(checked_at, $3),
			liquidated_amount = $2,
			liquidation_date = COALESCE(liquidation_date, $3),
			status = 'LIQUIDATED',
			updated_at = now()
		 WHERE id = $1`,
		id, amount, at)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (ds *DeliveryStore) attach(ctx context.Context, d *Delivery) error {
	err := ds.db.SelectContext(ctx, &d.Items,
		`SELECT * FROM delivery_items WHERE delivery_id = $1 ORDER BY id`, d.ID)
	if err != nil {
		return err
	}
	return ds.db.SelectContext(ctx, &d.Extensions,
		`SELECT * FROM delivery_extensions WHERE delivery_id = $1 ORDER BY id`, d.ID)
}

func insertDeliveryItems(ctx context.Context, tx *sqlx.Tx, deliveryID uuid.UUID, items []DeliveryItem) error {
	query := `INSERT INTO delivery_items (
		id,
		delivery_id,
		line_id,
		description,
		quantity_requested,
		unit_price
	) VALUES (
		:id,
		:delivery_id,
		:line_id,
		:description,
		:quantity_requested,
		:unit_price
	)`

	for i := range items {
		items[i].DeliveryID = deliveryID
		if _, err := tx.NamedExecContext(ctx, query, items[i]); err != nil {
			return err
		}
	}
	return nil
}

// deliveryWriteBlocked distinguishes "row missing" from "row terminal"
// after a guarded update matched nothing.
func deliveryWriteBlocked(ctx context.Context, q Queryer, id uuid.UUID) error {
	var liquidated bool
	err := q.GetContext(ctx, &liquidated,
		`SELECT liquidation_date IS NOT NULL FROM deliveries WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if liquidated {
		return ErrDeliveryLiquidated
	}
	return ErrNotFound
}

func lockBlocked(ctx context.Context, q Queryer, id uuid.UUID) error {
	var locked bool
	err := q.GetContext(ctx, &locked,
		`SELECT due_date_locked FROM deliveries WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if locked {
		return ErrDueDateLocked
	}
	return ErrNotFound
}
