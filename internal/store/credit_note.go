package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type CreditNoteStore struct {
	db *sqlx.DB
}

func (cs *CreditNoteStore) Insert(ctx context.Context, n *CreditNote) error {
	return withTx(ctx, cs.db, func(tx *sqlx.Tx) error {
		query := `INSERT INTO credit_notes (
			id,
			number,
			issuing_unit,
			issue_date,
			due_date,
			description,
			total_amount,
			manually_collected,
			collected_amount,
			version
		) VALUES (
			:id,
			:number,
			:issuing_unit,
			:issue_date,
			:due_date,
			:description,
			:total_amount,
			:manually_collected,
			:collected_amount,
			1
		)`

		if _, err := tx.NamedExecContext(ctx, query, n); err != nil {
			return err
		}
		return insertCreditLines(ctx, tx, n.ID, n.Lines)
	})
}

// Update rewrites the header and replaces the full credit line set. The
// service only permits this while no commitment or per-diem references
// the note, so replacing lines wholesale is safe.
func (cs *CreditNoteStore) Update(ctx context.Context, n *CreditNote) error {
	return withTx(ctx, cs.db, func(tx *sqlx.Tx) error {
		query := `UPDATE credit_notes SET
			number = :number,
			issuing_unit = :issuing_unit,
			issue_date = :issue_date,
			due_date = :due_date,
			description = :description,
			total_amount = :total_amount,
			updated_at = now()
		WHERE id = :id`

		res, err := tx.NamedExecContext(ctx, query, n)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM credit_lines WHERE credit_note_id = $1`, n.ID); err != nil {
			return err
		}
		return insertCreditLines(ctx, tx, n.ID, n.Lines)
	})
}

func (cs *CreditNoteStore) SetCollected(ctx context.Context, id uuid.UUID, collected bool, collectedAmount float64) error {
	res, err := cs.db.ExecContext(ctx,
		`UPDATE credit_notes SET manually_collected = $2, collected_amount = $3, updated_at = now() WHERE id = $1`,
		id, collected, collectedAmount)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (cs *CreditNoteStore) GetByID(ctx context.Context, id uuid.UUID) (*CreditNote, error) {
	var n CreditNote
	err := cs.db.GetContext(ctx, &n, `SELECT * FROM credit_notes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	err = cs.db.SelectContext(ctx, &n.Lines,
		`SELECT * FROM credit_lines WHERE credit_note_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (cs *CreditNoteStore) GetByNumber(ctx context.Context, number string) (*CreditNote, error) {
	var id uuid.UUID
	err := cs.db.GetContext(ctx, &id, `SELECT id FROM credit_notes WHERE number = $1`, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cs.GetByID(ctx, id)
}

func (cs *CreditNoteStore) List(ctx context.Context) ([]CreditNote, error) {
	var notes []CreditNote
	err := cs.db.SelectContext(ctx, &notes,
		`SELECT * FROM credit_notes ORDER BY issue_date DESC, number`)
	if err != nil {
		return nil, err
	}

	var lines []CreditLine
	err = cs.db.SelectContext(ctx, &lines,
		`SELECT * FROM credit_lines ORDER BY credit_note_id, position`)
	if err != nil {
		return nil, err
	}

	byNote := make(map[uuid.UUID][]CreditLine, len(notes))
	for _, l := range lines {
		byNote[l.CreditNoteID] = append(byNote[l.CreditNoteID], l)
	}
	for i := range notes {
		notes[i].Lines = byNote[notes[i].ID]
	}
	return notes, nil
}

func insertCreditLines(ctx context.Context, tx *sqlx.Tx, noteID uuid.UUID, lines []CreditLine) error {
	query := `INSERT INTO credit_lines (
		id,
		credit_note_id,
		position,
		nature_code,
		source,
		program_code,
		unit_code,
		plan_code,
		amount
	) VALUES (
		:id,
		:credit_note_id,
		:position,
		:nature_code,
		:source,
		:program_code,
		:unit_code,
		:plan_code,
		:amount
	)`

	for i := range lines {
		lines[i].CreditNoteID = noteID
		if _, err := tx.NamedExecContext(ctx, query, lines[i]); err != nil {
			return err
		}
	}
	return nil
}
