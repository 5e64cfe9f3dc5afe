package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type PerDiemStore struct {
	db *sqlx.DB
}

func (ps *PerDiemStore) Create(ctx context.Context, p *PerDiem, noteVersion int64) error {
	return withTx(ctx, ps.db, func(tx *sqlx.Tx) error {
		if err := bumpNoteVersion(ctx, tx, p.CreditNoteID, noteVersion); err != nil {
			return err
		}

		query := `INSERT INTO per_diems (
			id,
			credit_note_id,
			description,
			issue_date,
			total_amount
		) VALUES (
			:id,
			:credit_note_id,
			:description,
			:issue_date,
			:total_amount
		)`

		if _, err := tx.NamedExecContext(ctx, query, p); err != nil {
			return err
		}

		beneficiaryQuery := `INSERT INTO per_diem_beneficiaries (
			id,
			per_diem_id,
			name,
			num_units,
			unit_value
		) VALUES (
			:id,
			:per_diem_id,
			:name,
			:num_units,
			:unit_value
		)`

		for i := range p.Beneficiaries {
			p.Beneficiaries[i].PerDiemID = p.ID
			if _, err := tx.NamedExecContext(ctx, beneficiaryQuery, p.Beneficiaries[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (ps *PerDiemStore) Delete(ctx context.Context, id, noteID uuid.UUID, noteVersion int64) error {
	return withTx(ctx, ps.db, func(tx *sqlx.Tx) error {
		if err := bumpNoteVersion(ctx, tx, noteID, noteVersion); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM per_diem_beneficiaries WHERE per_diem_id = $1`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM per_diems WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (ps *PerDiemStore) GetByID(ctx context.Context, id uuid.UUID) (*PerDiem, error) {
	var p PerDiem
	err := ps.db.GetContext(ctx, &p, `SELECT * FROM per_diems WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	err = ps.db.SelectContext(ctx, &p.Beneficiaries,
		`SELECT * FROM per_diem_beneficiaries WHERE per_diem_id = $1 ORDER BY name`, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (ps *PerDiemStore) ListByCreditNote(ctx context.Context, noteID uuid.UUID) ([]PerDiem, error) {
	var perDiems []PerDiem
	err := ps.db.SelectContext(ctx, &perDiems,
		`SELECT * FROM per_diems WHERE credit_note_id = $1 ORDER BY issue_date`, noteID)
	if err != nil {
		return nil, err
	}

	for i := range perDiems {
		err = ps.db.SelectContext(ctx, &perDiems[i].Beneficiaries,
			`SELECT * FROM per_diem_beneficiaries WHERE per_diem_id = $1 ORDER BY name`, perDiems[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return perDiems, nil
}
