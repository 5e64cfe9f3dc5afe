package ledger_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/empenha/empenha-backend/internal/store"
)

// In-memory implementation of the store interfaces, mirroring the SQL
// stores' semantics: version CAS on allocation-affecting writes, guarded
// delivery mutations, append-only extensions.

type memDB struct {
	mu          sync.Mutex
	notes       map[uuid.UUID]*store.CreditNote
	commitments map[uuid.UUID]*store.Commitment
	deliveries  map[uuid.UUID]*store.Delivery
	perDiems    map[uuid.UUID]*store.PerDiem
	extSeq      int64
}

func newTestStorage() *store.Storage {
	db := &memDB{
		notes:       make(map[uuid.UUID]*store.CreditNote),
		commitments: make(map[uuid.UUID]*store.Commitment),
		deliveries:  make(map[uuid.UUID]*store.Delivery),
		perDiems:    make(map[uuid.UUID]*store.PerDiem),
	}
	return &store.Storage{
		CreditNote: &memNotes{db},
		Commitment: &memCommitments{db},
		Delivery:   &memDeliveries{db},
		PerDiem:    &memPerDiems{db},
		Report:     &memReports{db},
	}
}

func (db *memDB) bump(noteID uuid.UUID, expected int64) error {
	n, ok := db.notes[noteID]
	if !ok {
		return store.ErrNotFound
	}
	if n.Version != expected {
		return store.ErrVersionConflict
	}
	n.Version++
	return nil
}

func copyNote(n *store.CreditNote) *store.CreditNote {
	c := *n
	c.Lines = append([]store.CreditLine(nil), n.Lines...)
	return &c
}

func copyCommitment(c *store.Commitment) *store.Commitment {
	cp := *c
	cp.Items = append([]store.CommitmentItem(nil), c.Items...)
	return &cp
}

func copyDelivery(d *store.Delivery) *store.Delivery {
	cp := *d
	cp.Items = append([]store.DeliveryItem(nil), d.Items...)
	cp.Extensions = append([]store.ExtensionRecord(nil), d.Extensions...)
	return &cp
}

// --- credit notes

type memNotes struct{ db *memDB }

func (m *memNotes) Insert(_ context.Context, n *store.CreditNote) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	n.Version = 1
	m.db.notes[n.ID] = copyNote(n)
	return nil
}

func (m *memNotes) Update(_ context.Context, n *store.CreditNote) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	existing, ok := m.db.notes[n.ID]
	if !ok {
		return store.ErrNotFound
	}
	n.Version = existing.Version
	m.db.notes[n.ID] = copyNote(n)
	return nil
}

func (m *memNotes) SetCollected(_ context.Context, id uuid.UUID, collected bool, amount float64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	n, ok := m.db.notes[id]
	if !ok {
		return store.ErrNotFound
	}
	n.ManuallyCollected = collected
	n.CollectedAmount = amount
	return nil
}

func (m *memNotes) GetByID(_ context.Context, id uuid.UUID) (*store.CreditNote, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	n, ok := m.db.notes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyNote(n), nil
}

func (m *memNotes) GetByNumber(_ context.Context, number string) (*store.CreditNote, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, n := range m.db.notes {
		if n.Number == number {
			return copyNote(n), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memNotes) List(_ context.Context) ([]store.CreditNote, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	out := make([]store.CreditNote, 0, len(m.db.notes))
	for _, n := range m.db.notes {
		out = append(out, *copyNote(n))
	}
	return out, nil
}

// --- commitments

type memCommitments struct{ db *memDB }

func (m *memCommitments) Create(_ context.Context, c *store.Commitment, noteVersion int64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if err := m.db.bump(c.CreditNoteID, noteVersion); err != nil {
		return err
	}
	m.db.commitments[c.ID] = copyCommitment(c)
	return nil
}

func (m *memCommitments) Update(_ context.Context, c *store.Commitment, oldNoteID uuid.UUID, oldNoteVersion, newNoteVersion int64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.commitments[c.ID]; !ok {
		return store.ErrNotFound
	}
	if err := m.db.bump(oldNoteID, oldNoteVersion); err != nil {
		return err
	}
	if c.CreditNoteID != oldNoteID {
		if err := m.db.bump(c.CreditNoteID, newNoteVersion); err != nil {
			return err
		}
	}
	m.db.commitments[c.ID] = copyCommitment(c)
	return nil
}

func (m *memCommitments) Delete(_ context.Context, id, noteID uuid.UUID, noteVersion int64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.commitments[id]; !ok {
		return store.ErrNotFound
	}
	if err := m.db.bump(noteID, noteVersion); err != nil {
		return err
	}
	delete(m.db.commitments, id)
	return nil
}

func (m *memCommitments) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c, ok := m.db.commitments[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = status
	return nil
}

func (m *memCommitments) GetByID(_ context.Context, id uuid.UUID) (*store.Commitment, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c, ok := m.db.commitments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyCommitment(c), nil
}

func (m *memCommitments) ListByCreditNote(_ context.Context, noteID uuid.UUID) ([]store.Commitment, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []store.Commitment
	for _, c := range m.db.commitments {
		if c.CreditNoteID == noteID {
			out = append(out, *copyCommitment(c))
		}
	}
	return out, nil
}

func (m *memCommitments) List(_ context.Context) ([]store.Commitment, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	out := make([]store.Commitment, 0, len(m.db.commitments))
	for _, c := range m.db.commitments {
		out = append(out, *copyCommitment(c))
	}
	return out, nil
}

// --- deliveries

type memDeliveries struct{ db *memDB }

func (m *memDeliveries) Insert(_ context.Context, d *store.Delivery) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.deliveries[d.ID] = copyDelivery(d)
	return nil
}

func (m *memDeliveries) GetByID(_ context.Context, id uuid.UUID) (*store.Delivery, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	d, ok := m.db.deliveries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyDelivery(d), nil
}

func (m *memDeliveries) ListByCommitment(_ context.Context, commitmentID uuid.UUID) ([]store.Delivery, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []store.Delivery
	for _, d := range m.db.deliveries {
		if d.CommitmentID == commitmentID {
			out = append(out, *copyDelivery(d))
		}
	}
	return out, nil
}

func (m *memDeliveries) PatchStage(_ context.Context, id uuid.UUID, patch store.StagePatch) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	d, ok := m.db.deliveries[id]
	if !ok {
		return store.ErrNotFound
	}
	if d.LiquidationDate != nil {
		return store.ErrDeliveryLiquidated
	}

	if patch.SentDoc != nil {
		d.SentDoc = *patch.SentDoc
		d.SentDocAt = patch.SentDocAt
	}
	if patch.ReceivedDoc != nil {
		d.ReceivedDoc = *patch.ReceivedDoc
		d.ReceivedDocAt = patch.ReceivedDocAt
	}
	if patch.ArtRequired != nil {
		d.ArtRequired = patch.ArtRequired
		d.ArtDecidedAt = patch.ArtDecidedAt
	}
	if patch.ArtApproved != nil {
		d.ArtApproved = *patch.ArtApproved
		d.ArtApprovedAt = patch.ArtApprovedAt
	}
	if patch.ArtSent != nil {
		d.ArtSent = *patch.ArtSent
		d.ArtSentAt = patch.ArtSentAt
	}
	if patch.TrackingCode != nil {
		d.TrackingCode = *patch.TrackingCode
	}
	if patch.NoTracking != nil {
		d.NoTracking = *patch.NoTracking
	}
	if patch.Checked != nil {
		d.Checked = *patch.Checked
		d.CheckedAt = patch.CheckedAt
	}
	if patch.DueDate != nil {
		d.DueDate = patch.DueDate
	}
	if patch.Status != nil {
		d.Status = *patch.Status
	}
	for itemID, qty := range patch.ItemQuantities {
		found := false
		for i := range d.Items {
			if d.Items[i].ID == itemID {
				d.Items[i].QuantityRequested = qty
				found = true
			}
		}
		if !found {
			return store.ErrNotFound
		}
	}
	return nil
}

func (m *memDeliveries) LockDueDate(_ context.Context, id uuid.UUID, at time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	d, ok := m.db.deliveries[id]
	if !ok {
		return store.ErrNotFound
	}
	if d.DueDateLocked {
		return store.ErrDueDateLocked
	}
	if d.DueDate == nil || d.LiquidationDate != nil {
		return store.ErrNotFound
	}
	d.DueDateLocked = true
	lockedAt := at
	d.DueDateLockedAt = &lockedAt
	return nil
}

func (m *memDeliveries) AppendExtension(_ context.Context, rec *store.ExtensionRecord) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	d, ok := m.db.deliveries[rec.DeliveryID]
	if !ok {
		return store.ErrNotFound
	}
	if d.LiquidationDate != nil {
		return store.ErrDeliveryLiquidated
	}
	m.db.extSeq++
	rec.ID = m.db.extSeq
	d.Extensions = append(d.Extensions, *rec)
	newDate := rec.NewDate
	d.DueDate = &newDate
	return nil
}

func (m *memDeliveries) Liquidate(_ context.Context, id uuid.UUID, amount float64, at time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	d, ok := m.db.deliveries[id]
	if !ok {
		return store.ErrNotFound
	}
	d.Checked = true
	if d.CheckedAt == nil {
		checkedAt := at
		d.CheckedAt = &checkedAt
	}
	d.LiquidatedAmount = &amount
	if d.LiquidationDate == nil {
		liquidatedAt := at
		d.LiquidationDate = &liquidatedAt
	}
	d.Status = "LIQUIDATED"
	return nil
}

// --- per-diems

type memPerDiems struct{ db *memDB }

func (m *memPerDiems) Create(_ context.Context, p *store.PerDiem, noteVersion int64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if err := m.db.bump(p.CreditNoteID, noteVersion); err != nil {
		return err
	}
	cp := *p
	cp.Beneficiaries = append([]store.PerDiemBeneficiary(nil), p.Beneficiaries...)
	m.db.perDiems[p.ID] = &cp
	return nil
}

func (m *memPerDiems) Delete(_ context.Context, id, noteID uuid.UUID, noteVersion int64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.perDiems[id]; !ok {
		return store.ErrNotFound
	}
	if err := m.db.bump(noteID, noteVersion); err != nil {
		return err
	}
	delete(m.db.perDiems, id)
	return nil
}

func (m *memPerDiems) GetByID(_ context.Context, id uuid.UUID) (*store.PerDiem, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	p, ok := m.db.perDiems[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	cp.Beneficiaries = append([]store.PerDiemBeneficiary(nil), p.Beneficiaries...)
	return &cp, nil
}

func (m *memPerDiems) ListByCreditNote(_ context.Context, noteID uuid.UUID) ([]store.PerDiem, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []store.PerDiem
	for _, p := range m.db.perDiems {
		if p.CreditNoteID == noteID {
			cp := *p
			cp.Beneficiaries = append([]store.PerDiemBeneficiary(nil), p.Beneficiaries...)
			out = append(out, cp)
		}
	}
	return out, nil
}

// --- reports

type memReports struct{ db *memDB }

func (m *memReports) ExecutionRows(_ context.Context, units []string) ([]store.ExecutionRow, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	match := func(unit string) bool {
		if len(units) == 0 {
			return true
		}
		for _, u := range units {
			if u == unit {
				return true
			}
		}
		return false
	}

	var out []store.ExecutionRow
	for _, c := range m.db.commitments {
		n, ok := m.db.notes[c.CreditNoteID]
		if !ok || !match(n.IssuingUnit) {
			continue
		}
		row := store.ExecutionRow{IssuingUnit: n.IssuingUnit, CommittedValue: c.Amount}
		for _, d := range m.db.deliveries {
			if d.CommitmentID == c.ID && d.LiquidatedAmount != nil && d.LiquidationDate != nil {
				row.LiquidatedValue += *d.LiquidatedAmount
			}
		}
		out = append(out, row)
	}
	return out, nil
}
