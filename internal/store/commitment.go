package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type CommitmentStore struct {
	db *sqlx.DB
}

const insertCommitmentQuery = `INSERT INTO commitments (
	id,
	credit_note_id,
	number,
	nature_code,
	type,
	issue_date,
	supplier_id,
	supplier_name,
	process_id,
	amount,
	status
) VALUES (
	:id,
	:credit_note_id,
	:number,
	:nature_code,
	:type,
	:issue_date,
	:supplier_id,
	:supplier_name,
	:process_id,
	:amount,
	:status
)`

const insertCommitmentItemQuery = `INSERT INTO commitment_items (
	id,
	commitment_id,
	position,
	description,
	quantity,
	unit_price
) VALUES (
	:id,
	:commitment_id,
	:position,
	:description,
	:quantity,
	:unit_price
)`

func (cs *CommitmentStore) Create(ctx context.Context, c *Commitment, noteVersion int64) error {
	return withTx(ctx, cs.db, func(tx *sqlx.Tx) error {
		if err := bumpNoteVersion(ctx, tx, c.CreditNoteID, noteVersion); err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, insertCommitmentQuery, c); err != nil {
			return err
		}
		return insertCommitmentItems(ctx, tx, c.ID, c.Items)
	})
}

// Update rewrites the commitment and its item set. Both the old funding
// note and the new one (when the commitment moved between notes) get
// their version bumped, so concurrent allocations against either note
// are detected.
func (cs *CommitmentStore) Update(ctx context.Context, c *Commitment, oldNoteID uuid.UUID, oldNoteVersion, newNoteVersion int64) error {
	return withTx(ctx, cs.db, func(tx *sqlx.Tx) error {
		if err := bumpNoteVersion(ctx, tx, oldNoteID, oldNoteVersion); err != nil {
			return err
		}
		if c.CreditNoteID != oldNoteID {
			if err := bumpNoteVersion(ctx, tx, c.CreditNoteID, newNoteVersion); err != nil {
				return err
			}
		}

		query := `UPDATE commitments SET
			credit_note_id = :credit_note_id,
			number = :number,
			nature_code = :nature_code,
			type = :type,
			issue_date = :issue_date,
			supplier_id = :supplier_id,
			supplier_name = :supplier_name,
			process_id = :process_id,
			amount = :amount,
			status = :status,
			updated_at = now()
		WHERE id = :id`

		res, err := tx.NamedExecContext(ctx, query, c)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM commitment_items WHERE commitment_id = $1`, c.ID); err != nil {
			return err
		}
		return insertCommitmentItems(ctx, tx, c.ID, c.Items)
	})
}

func (cs *CommitmentStore) Delete(ctx context.Context, id, noteID uuid.UUID, noteVersion int64) error {
	return withTx(ctx, cs.db, func(tx *sqlx.Tx) error {
		if err := bumpNoteVersion(ctx, tx, noteID, noteVersion); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM commitment_items WHERE commitment_id = $1`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM commitments WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (cs *CommitmentStore) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	res, err := cs.db.ExecContext(ctx,
		`UPDATE commitments SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (cs *CommitmentStore) GetByID(ctx context.Context, id uuid.UUID) (*Commitment, error) {
	var c Commitment
	err := cs.db.GetContext(ctx, &c, `SELECT * FROM commitments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	err = cs.db.SelectContext(ctx, &c.Items,
		`SELECT * FROM commitment_items WHERE commitment_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (cs *CommitmentStore) ListByCreditNote(ctx context.Context, noteID uuid.UUID) ([]Commitment, error) {
	var commitments []Commitment
	err := cs.db.SelectContext(ctx, &commitments,
		`SELECT * FROM commitments WHERE credit_note_id = $1 ORDER BY issue_date, number`, noteID)
	if err != nil {
		return nil, err
	}
	return cs.attachItems(ctx, commitments)
}

func (cs *CommitmentStore) List(ctx context.Context) ([]Commitment, error) {
	var commitments []Commitment
	err := cs.db.SelectContext(ctx, &commitments,
		`SELECT * FROM commitments ORDER BY issue_date DESC, number`)
	if err != nil {
		return nil, err
	}
	return cs.attachItems(ctx, commitments)
}

func (cs *CommitmentStore) attachItems(ctx context.Context, commitments []Commitment) ([]Commitment, error) {
	if len(commitments) == 0 {
		return commitments, nil
	}

	ids := make([]uuid.UUID, len(commitments))
	for i, c := range commitments {
		ids[i] = c.ID
	}

	query, args, err := sqlx.In(
		`SELECT * FROM commitment_items WHERE commitment_id IN (?) ORDER BY commitment_id, position`,
		ids)
	if err != nil {
		return nil, err
	}

	var items []CommitmentItem
	if err := cs.db.SelectContext(ctx, &items, cs.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	byCommitment := make(map[uuid.UUID][]CommitmentItem, len(commitments))
	for _, it := range items {
		byCommitment[it.CommitmentID] = append(byCommitment[it.CommitmentID], it)
	}
	for i := range commitments {
		commitments[i].Items = byCommitment[commitments[i].ID]
	}
	return commitments, nil
}

func insertCommitmentItems(ctx context.Context, tx *sqlx.Tx, commitmentID uuid.UUID, items []CommitmentItem) error {
	for i := range items {
		items[i].CommitmentID = commitmentID
		if _, err := tx.NamedExecContext(ctx, insertCommitmentItemQuery, items[i]); err != nil {
			return err
		}
	}
	return nil
}
