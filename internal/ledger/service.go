package ledger

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/empenha/empenha-backend/internal/store"
)

// Service exposes the ledger's read and write operations. Every read
// recomputes derived balances and statuses from the full underlying
// record set; cached fields are only a fallback for legacy records.
type Service struct {
	store *store.Storage
	log   *logrus.Logger
	now   func() time.Time
}

func NewService(st *store.Storage, log *logrus.Logger) *Service {
	return &Service{store: st, log: log, now: time.Now}
}

// CreditNoteView is a credit note with its derived amounts and status.
type CreditNoteView struct {
	store.CreditNote
	Balance CreditNoteBalance `json:"balance"`
	Status  CreditNoteStatus  `json:"status"`
}

// CommitmentView is a commitment with its derived amounts and status.
type CommitmentView struct {
	store.Commitment
	Balance       CommitmentBalance `json:"balance"`
	DerivedStatus string            `json:"derived_status"`
}

// DeliveryView is a delivery with its derived status and resume stage.
type DeliveryView struct {
	store.Delivery
	DerivedStatus DeliveryStatus `json:"derived_status"`
	CurrentStage  string         `json:"current_stage"`
}

// DeliveryItemRequest selects a quantity from one commitment line when
// opening a delivery against a global commitment.
type DeliveryItemRequest struct {
	LineID   uuid.UUID `json:"line_id"`
	Quantity float64   `json:"quantity"`
}

// ---------------------------------------------------------------------------
// Credit notes

func (s *Service) CreateCreditNote(ctx context.Context, n *store.CreditNote) (*CreditNoteView, error) {
	if n.Number == "" {
		return nil, invalid("number", "is required")
	}
	if len(n.Lines) == 0 {
		return nil, invalid("lines", "at least one credit line is required")
	}

	var total float64
	for i := range n.Lines {
		if n.Lines[i].Amount <= 0 {
			return nil, invalid("lines.amount", "must be positive")
		}
		n.Lines[i].ID = uuid.New()
		n.Lines[i].Position = i
		total += n.Lines[i].Amount
	}
	if n.TotalAmount != 0 && math.Abs(n.TotalAmount-total) > CentTolerance {
		return nil, invalid("total_amount", "does not match the sum of credit lines")
	}
	n.TotalAmount = total

	n.ID = uuid.New()
	n.ManuallyCollected = false
	n.CollectedAmount = 0
	if err := s.store.CreditNote.Insert(ctx, n); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"credit_note": n.ID, "number": n.Number, "total": n.TotalAmount}).
		Info("credit note created")
	return s.GetCreditNote(ctx, n.ID)
}

// UpdateCreditNote edits header and lines, permitted only while nothing
// references the note.
func (s *Service) UpdateCreditNote(ctx context.Context, n *store.CreditNote) (*CreditNoteView, error) {
	existing, err := s.store.CreditNote.GetByID(ctx, n.ID)
	if err != nil {
		return nil, err
	}

	commitments, err := s.store.Commitment.ListByCreditNote(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	perDiems, err := s.store.PerDiem.ListByCreditNote(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	if len(commitments) > 0 || len(perDiems) > 0 {
		return nil, invalid("credit_note", "cannot edit a note already referenced by commitments or per-diems")
	}

	if n.Number == "" {
		return nil, invalid("number", "is required")
	}
	var total float64
	for i := range n.Lines {
		if n.Lines[i].Amount <= 0 {
			return nil, invalid("lines.amount", "must be positive")
		}
		if n.Lines[i].ID == uuid.Nil {
			n.Lines[i].ID = uuid.New()
		}
		n.Lines[i].Position = i
		total += n.Lines[i].Amount
	}
	if n.TotalAmount != 0 && math.Abs(n.TotalAmount-total) > CentTolerance {
		return nil, invalid("total_amount", "does not match the sum of credit lines")
	}
	n.TotalAmount = total
	n.ManuallyCollected = existing.ManuallyCollected
	n.CollectedAmount = existing.CollectedAmount

	if err := s.store.CreditNote.Update(ctx, n); err != nil {
		return nil, err
	}
	return s.GetCreditNote(ctx, n.ID)
}

// SetCollected toggles the manual collect/reactivate flag. Collecting
// freezes the collected amount at total minus allocated; reactivating
// releases it.
func (s *Service) SetCollected(ctx context.Context, id uuid.UUID, collected bool) (*CreditNoteView, error) {
	view, err := s.GetCreditNote(ctx, id)
	if err != nil {
		return nil, err
	}

	amount := 0.0
	if collected {
		amount = view.TotalAmount - view.Balance.Allocated
	}
	if err := s.store.CreditNote.SetCollected(ctx, id, collected, amount); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"credit_note": id, "collected": collected, "amount": amount}).
		Info("credit note collect toggle")
	return s.GetCreditNote(ctx, id)
}

func (s *Service) GetCreditNote(ctx context.Context, id uuid.UUID) (*CreditNoteView, error) {
	n, err := s.store.CreditNote.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.noteView(ctx, n)
}

func (s *Service) ListCreditNotes(ctx context.Context) ([]CreditNoteView, error) {
	notes, err := s.store.CreditNote.List(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]CreditNoteView, 0, len(notes))
	for i := range notes {
		v, err := s.noteView(ctx, &notes[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

func (s *Service) noteView(ctx context.Context, n *store.CreditNote) (*CreditNoteView, error) {
	commitments, err := s.store.Commitment.ListByCreditNote(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	perDiems, err := s.store.PerDiem.ListByCreditNote(ctx, n.ID)
	if err != nil {
		return nil, err
	}

	deliveries := make(map[uuid.UUID][]store.Delivery, len(commitments))
	for i := range commitments {
		ds, err := s.store.Delivery.ListByCommitment(ctx, commitments[i].ID)
		if err != nil {
			return nil, err
		}
		deliveries[commitments[i].ID] = ds
	}

	balance := ComputeCreditNoteBalance(n, commitments, deliveries, perDiems)
	return &CreditNoteView{
		CreditNote: *n,
		Balance:    balance,
		Status:     DeriveCreditNoteStatus(n, balance),
	}, nil
}

// ---------------------------------------------------------------------------
// Commitments

func (s *Service) CreateCommitment(ctx context.Context, c *store.Commitment, confirm bool) (*CommitmentView, error) {
	note, err := s.store.CreditNote.GetByID(ctx, c.CreditNoteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid("credit_note_id", "commitment requires an existing credit note")
		}
		return nil, err
	}

	if err := s.validateCommitment(c, note); err != nil {
		return nil, err
	}

	view, err := s.noteView(ctx, note)
	if err != nil {
		return nil, err
	}
	if c.Amount > view.Balance.Available+CentTolerance && !confirm {
		return nil, &OverAllocationError{Available: view.Balance.Available, Requested: c.Amount}
	}

	c.ID = uuid.New()
	for i := range c.Items {
		c.Items[i].ID = uuid.New()
		c.Items[i].Position = i
	}
	c.Status = string(DeliveryAwaitingShipment)

	if err := s.store.Commitment.Create(ctx, c, note.Version); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"commitment":  c.ID,
		"credit_note": c.CreditNoteID,
		"amount":      c.Amount,
		"confirmed":   confirm,
	}).Info("commitment created")
	return s.GetCommitment(ctx, c.ID)
}

// EditCommitment reverses the old amount's effect on the old note and
// re-applies the new amount against the (possibly different) new note,
// atomically via the version counters of both notes.
func (s *Service) EditCommitment(ctx context.Context, c *store.Commitment, confirm bool) (*CommitmentView, error) {
	old, err := s.store.Commitment.GetByID(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	deliveries, err := s.store.Delivery.ListByCommitment(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	for i := range deliveries {
		if deliveries[i].Liquidated() {
			return nil, invalid("commitment", "cannot edit a commitment with liquidated deliveries")
		}
	}

	newNote, err := s.store.CreditNote.GetByID(ctx, c.CreditNoteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid("credit_note_id", "commitment requires an existing credit note")
		}
		return nil, err
	}
	if err := s.validateCommitment(c, newNote); err != nil {
		return nil, err
	}

	// Availability on the target note, with this commitment's current
	// contribution excluded when the note stays the same.
	view, err := s.noteView(ctx, newNote)
	if err != nil {
		return nil, err
	}
	available := view.Balance.Available
	if c.CreditNoteID == old.CreditNoteID {
		available += old.Amount
	}
	if c.Amount > available+CentTolerance && !confirm {
		return nil, &OverAllocationError{Available: available, Requested: c.Amount}
	}

	oldNote, err := s.store.CreditNote.GetByID(ctx, old.CreditNoteID)
	if err != nil {
		return nil, err
	}

	for i := range c.Items {
		if c.Items[i].ID == uuid.Nil {
			c.Items[i].ID = uuid.New()
		}
		c.Items[i].Position = i
	}
	c.Status = old.Status

	if err := s.store.Commitment.Update(ctx, c, old.CreditNoteID, oldNote.Version, newNote.Version); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"commitment": c.ID,
		"old_note":   old.CreditNoteID,
		"new_note":   c.CreditNoteID,
		"amount":     c.Amount,
	}).Info("commitment edited")
	return s.GetCommitment(ctx, c.ID)
}

func (s *Service) DeleteCommitment(ctx context.Context, id uuid.UUID) error {
	c, err := s.store.Commitment.GetByID(ctx, id)
	if err != nil {
		return err
	}
	note, err := s.store.CreditNote.GetByID(ctx, c.CreditNoteID)
	if err != nil {
		return err
	}
	if err := s.store.Commitment.Delete(ctx, id, c.CreditNoteID, note.Version); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{"commitment": id, "credit_note": c.CreditNoteID, "amount": c.Amount}).
		Info("commitment deleted, balance restored")
	return nil
}

func (s *Service) GetCommitment(ctx context.Context, id uuid.UUID) (*CommitmentView, error) {
	c, err := s.store.Commitment.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	deliveries, err := s.store.Delivery.ListByCommitment(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CommitmentView{
		Commitment:    *c,
		Balance:       ComputeCommitmentBalance(c, deliveries),
		DerivedStatus: DeriveCommitmentStatus(c, deliveries),
	}, nil
}

func (s *Service) ListCommitments(ctx context.Context, noteID *uuid.UUID) ([]CommitmentView, error) {
	var (
		commitments []store.Commitment
		err         error
	)
	if noteID != nil {
		commitments, err = s.store.Commitment.ListByCreditNote(ctx, *noteID)
	} else {
		commitments, err = s.store.Commitment.List(ctx)
	}
	if err != nil {
		return nil, err
	}

	views := make([]CommitmentView, 0, len(commitments))
	for i := range commitments {
		c := &commitments[i]
		deliveries, err := s.store.Delivery.ListByCommitment(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, CommitmentView{
			Commitment:    *c,
			Balance:       ComputeCommitmentBalance(c, deliveries),
			DerivedStatus: DeriveCommitmentStatus(c, deliveries),
		})
	}
	return views, nil
}

// Residual returns the per-line outstanding quantities of a commitment
// and whether it is fully delivered.
func (s *Service) Residual(ctx context.Context, commitmentID uuid.UUID) ([]ResidualItem, bool, error) {
	c, err := s.store.Commitment.GetByID(ctx, commitmentID)
	if err != nil {
		return nil, false, err
	}
	deliveries, err := s.store.Delivery.ListByCommitment(ctx, commitmentID)
	if err != nil {
		return nil, false, err
	}
	items := SplitResidual(c, deliveries)
	return items, FullyDelivered(items), nil
}

func (s *Service) validateCommitment(c *store.Commitment, note *store.CreditNote) error {
	if c.Number == "" {
		return invalid("number", "is required")
	}
	if c.Amount <= 0 {
		return invalid("amount", "must be positive")
	}
	switch c.Type {
	case store.CommitmentOrdinary, store.CommitmentGlobal, store.CommitmentEstimated:
	default:
		return invalid("type", "must be ordinary, global or estimated")
	}
	for _, it := range c.Items {
		if it.Description == "" {
			return invalid("items.description", "is required")
		}
		if it.Quantity <= 0 {
			return invalid("items.quantity", "must be positive")
		}
		if it.UnitPrice < 0 {
			return invalid("items.unit_price", "cannot be negative")
		}
	}

	// Legacy notes imported without itemized lines skip the nature check.
	if len(note.Lines) == 0 {
		return nil
	}
	for _, l := range note.Lines {
		if l.NatureCode == c.NatureCode {
			return nil
		}
	}
	return invalid("nature_code", "does not match any credit line of the funding note")
}

// ---------------------------------------------------------------------------
// Deliveries

// CreateDelivery opens a fulfillment batch against a commitment. Global
// commitments start at the selection stage seeded with the residual
// quantities; ordinary and estimated ones pre-select every outstanding
// line and start at commitment shipment.
func (s *Service) CreateDelivery(ctx context.Context, commitmentID uuid.UUID, requested []DeliveryItemRequest) (*DeliveryView, error) {
	c, err := s.store.Commitment.GetByID(ctx, commitmentID)
	if err != nil {
		return nil, err
	}
	deliveries, err := s.store.Delivery.ListByCommitment(ctx, commitmentID)
	if err != nil {
		return nil, err
	}

	residual := SplitResidual(c, deliveries)
	if FullyDelivered(residual) {
		return nil, invalid("commitment", "all line quantities already delivered")
	}
	byLine := make(map[uuid.UUID]ResidualItem, len(residual))
	for _, r := range residual {
		byLine[r.LineID] = r
	}

	d := &store.Delivery{
		ID:               uuid.New(),
		CommitmentID:     c.ID,
		CommitmentNumber: c.Number,
		SupplierName:     c.SupplierName,
		Type:             c.Type,
	}

	if c.Type == store.CommitmentGlobal && len(requested) > 0 {
		for _, req := range requested {
			r, ok := byLine[req.LineID]
			if !ok {
				return nil, invalid("items.line_id", "does not reference a commitment line")
			}
			if req.Quantity <= 0 {
				return nil, invalid("items.quantity", "must be positive")
			}
			if req.Quantity > r.ResidualQuantity+QuantityTolerance {
				return nil, invalid("items.quantity", "exceeds the quantity remaining on the line")
			}
			lineID := req.LineID
			d.Items = append(d.Items, store.DeliveryItem{
				ID:                uuid.New(),
				LineID:            &lineID,
				Description:       r.Description,
				QuantityRequested: req.Quantity,
				UnitPrice:         r.UnitPrice,
			})
		}
	} else {
		for _, r := range residual {
			if r.ResidualQuantity <= QuantityTolerance {
				continue
			}
			lineID := r.LineID
			d.Items = append(d.Items, store.DeliveryItem{
				ID:                uuid.New(),
				LineID:            &lineID,
				Description:       r.Description,
				QuantityRequested: r.ResidualQuantity,
				UnitPrice:         r.UnitPrice,
			})
		}
	}

	d.Status = string(DeriveDeliveryStatus(d.StageFlags))
	if err := s.store.Delivery.Insert(ctx, d); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"delivery": d.ID, "commitment": c.ID, "items": len(d.Items)}).
		Info("delivery created")
	return s.GetDelivery(ctx, d.ID)
}

func (s *Service) GetDelivery(ctx context.Context, id uuid.UUID) (*DeliveryView, error) {
	d, err := s.store.Delivery.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return deliveryView(d), nil
}

// AdvanceDelivery applies one write-through stage mutation. Stages may be
// touched in any order the operator chooses; sequence is suggested, not
// enforced. The only hard gate in the whole walk is liquidation, which
// lives in LiquidateDelivery. Raising an item quantity beyond the
// commitment line's remainder takes the same confirm path as every other
// over-allocation.
func (s *Service) AdvanceDelivery(ctx context.Context, id uuid.UUID, patch store.StagePatch, confirm bool) (*DeliveryView, error) {
	d, err := s.store.Delivery.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Liquidated() {
		return nil, store.ErrDeliveryLiquidated
	}
	if patch.DueDate != nil && d.DueDateLocked {
		return nil, store.ErrDueDateLocked
	}
	if len(patch.ItemQuantities) > 0 {
		if err := s.checkItemQuantities(ctx, d, patch.ItemQuantities, confirm); err != nil {
			return nil, err
		}
	}

	now := s.now()
	stampPatch(&patch, now)

	applied := applyFlags(d.StageFlags, patch)

	// Entering the tracking stage derives a due-date default; it stays
	// editable and unlocked until the operator locks it.
	entersTracking := applied.ArtSent || applied.TrackingCode != "" || applied.NoTracking ||
		(applied.ArtRequired != nil && !*applied.ArtRequired)
	if entersTracking && d.DueDate == nil && patch.DueDate == nil {
		due := DefaultDueDate(now)
		patch.DueDate = &due
	}

	status := string(DeriveDeliveryStatus(applied))
	patch.Status = &status

	if err := s.store.Delivery.PatchStage(ctx, id, patch); err != nil {
		return nil, err
	}
	return s.GetDelivery(ctx, id)
}

// checkItemQuantities validates a quantity patch against the funding
// commitment's lines: each new quantity may consume at most the line's
// residual plus whatever this delivery already holds on it. An orphaned
// delivery skips the check, same as liquidation does.
func (s *Service) checkItemQuantities(ctx context.Context, d *store.Delivery, quantities map[uuid.UUID]float64, confirm bool) error {
	byItem := make(map[uuid.UUID]*store.DeliveryItem, len(d.Items))
	for i := range d.Items {
		byItem[d.Items[i].ID] = &d.Items[i]
	}
	for itemID, qty := range quantities {
		if qty < 0 {
			return invalid("items.quantity", "cannot be negative")
		}
		if _, ok := byItem[itemID]; !ok {
			return invalid("items.id", "does not reference a delivery item")
		}
	}

	c, err := s.store.Commitment.GetByID(ctx, d.CommitmentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	deliveries, err := s.store.Delivery.ListByCommitment(ctx, d.CommitmentID)
	if err != nil {
		return err
	}

	byLine := make(map[uuid.UUID]ResidualItem)
	for _, r := range SplitResidual(c, deliveries) {
		byLine[r.LineID] = r
	}

	for itemID, qty := range quantities {
		item := byItem[itemID]
		if item.LineID == nil {
			continue
		}
		r, ok := byLine[*item.LineID]
		if !ok {
			continue
		}
		available := r.ResidualQuantity + item.QuantityRequested
		if qty > available+QuantityTolerance && !confirm {
			return &OverAllocationError{Available: available, Requested: qty}
		}
	}
	return nil
}

// LockDueDate is the one-way deadline lock. There is no unlock; the only
// way forward afterwards is ExtendDueDate.
func (s *Service) LockDueDate(ctx context.Context, id uuid.UUID) (*DeliveryView, error) {
	d, err := s.store.Delivery.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Liquidated() {
		return nil, store.ErrDeliveryLiquidated
	}
	if d.DueDate == nil {
		return nil, invalid("due_date", "no due date to lock")
	}
	if err := s.store.Delivery.LockDueDate(ctx, id, s.now()); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"delivery": id, "due_date": d.DueDate}).Info("due date locked")
	return s.GetDelivery(ctx, id)
}

// ExtendDueDate appends one justified extension record and moves the due
// date, without ever unlocking it for free-form edits.
func (s *Service) ExtendDueDate(ctx context.Context, id uuid.UUID, reason string, offsetDays int, newDate *time.Time) (*DeliveryView, error) {
	d, err := s.store.Delivery.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rec, err := BuildExtension(d, reason, offsetDays, newDate, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Delivery.AppendExtension(ctx, &rec); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"delivery":   id,
		"days_added": rec.DaysAdded,
		"new_date":   rec.NewDate.Format("2006-01-02"),
	}).Info("due date extended")
	return s.GetDelivery(ctx, id)
}

// LiquidateDelivery finalizes a delivery. The checked flag is the one
// hard precondition of the whole workflow. Retrying a finished
// liquidation is a no-op: balances are derived, so the estimate residue
// credited back to the note cannot double-apply.
func (s *Service) LiquidateDelivery(ctx context.Context, id uuid.UUID, amount float64, confirm bool) (*DeliveryView, error) {
	d, err := s.store.Delivery.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Liquidated() {
		return deliveryView(d), nil
	}
	if !d.Checked {
		return nil, invalid("checked", "delivery must be checked before liquidation")
	}
	if amount <= 0 {
		return nil, invalid("liquidated_amount", "must be positive")
	}

	// Over-liquidation against the commitment residual is a confirmable
	// warning. An orphaned delivery skips the check: the core degrades
	// instead of failing on dangling references.
	c, err := s.store.Commitment.GetByID(ctx, d.CommitmentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if c != nil {
		others, err := s.store.Delivery.ListByCommitment(ctx, d.CommitmentID)
		if err != nil {
			return nil, err
		}
		var delivered float64
		for i := range others {
			if others[i].ID != d.ID {
				delivered += DeliveredValue(&others[i])
			}
		}
		residual := c.Amount - delivered
		if amount > residual+CentTolerance && !confirm {
			return nil, &OverAllocationError{Available: residual, Requested: amount}
		}
	}

	if err := s.store.Delivery.Liquidate(ctx, id, amount, s.now()); err != nil {
		return nil, err
	}

	if c != nil {
		deliveries, err := s.store.Delivery.ListByCommitment(ctx, d.CommitmentID)
		if err != nil {
			return nil, err
		}
		if err := s.store.Commitment.SetStatus(ctx, c.ID, DeriveCommitmentStatus(c, deliveries)); err != nil {
			return nil, err
		}
	}

	s.log.WithFields(logrus.Fields{"delivery": id, "amount": amount, "confirmed": confirm}).
		Info("delivery liquidated")
	return s.GetDelivery(ctx, id)
}

func deliveryView(d *store.Delivery) *DeliveryView {
	return &DeliveryView{
		Delivery:      *d,
		DerivedStatus: DeriveDeliveryStatus(d.StageFlags),
		CurrentStage:  ResumeStage(d).String(),
	}
}

// stampPatch fills the companion timestamps of every flag present in the
// patch: set flags get the current time, cleared flags get their
// timestamp cleared.
func stampPatch(p *store.StagePatch, now time.Time) {
	stamp := func(flag *bool, at **time.Time) {
		if flag == nil {
			return
		}
		if *flag {
			t := now
			*at = &t
		} else {
			*at = nil
		}
	}
	stamp(p.SentDoc, &p.SentDocAt)
	stamp(p.ReceivedDoc, &p.ReceivedDocAt)
	stamp(p.ArtApproved, &p.ArtApprovedAt)
	stamp(p.ArtSent, &p.ArtSentAt)
	stamp(p.Checked, &p.CheckedAt)
	if p.ArtRequired != nil {
		t := now
		p.ArtDecidedAt = &t
	}
}

func applyFlags(f store.StageFlags, p store.StagePatch) store.StageFlags {
	if p.SentDoc != nil {
		f.SentDoc = *p.SentDoc
		f.SentDocAt = p.SentDocAt
	}
	if p.ReceivedDoc != nil {
		f.ReceivedDoc = *p.ReceivedDoc
		f.ReceivedDocAt = p.ReceivedDocAt
	}
	if p.ArtRequired != nil {
		f.ArtRequired = p.ArtRequired
		f.ArtDecidedAt = p.ArtDecidedAt
	}
	if p.ArtApproved != nil {
		f.ArtApproved = *p.ArtApproved
		f.ArtApprovedAt = p.ArtApprovedAt
	}
	if p.ArtSent != nil {
		f.ArtSent = *p.ArtSent
		f.ArtSentAt = p.ArtSentAt
	}
	if p.TrackingCode != nil {
		f.TrackingCode = *p.TrackingCode
	}
	if p.NoTracking != nil {
		f.NoTracking = *p.NoTracking
	}
	if p.Checked != nil {
		f.Checked = *p.Checked
		f.CheckedAt = p.CheckedAt
	}
	return f
}

// ---------------------------------------------------------------------------
// Per-diem disbursements

func (s *Service) CreatePerDiem(ctx context.Context, p *store.PerDiem, confirm bool) (*store.PerDiem, error) {
	note, err := s.store.CreditNote.GetByID(ctx, p.CreditNoteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid("credit_note_id", "per-diem requires an existing credit note")
		}
		return nil, err
	}
	if len(p.Beneficiaries) == 0 {
		return nil, invalid("beneficiaries", "at least one beneficiary is required")
	}

	var total float64
	for i := range p.Beneficiaries {
		b := &p.Beneficiaries[i]
		if b.Name == "" {
			return nil, invalid("beneficiaries.name", "is required")
		}
		if b.NumUnits <= 0 || b.UnitValue <= 0 {
			return nil, invalid("beneficiaries", "units and unit value must be positive")
		}
		b.ID = uuid.New()
		total += b.NumUnits * b.UnitValue
	}
	p.TotalAmount = total

	view, err := s.noteView(ctx, note)
	if err != nil {
		return nil, err
	}
	if total > view.Balance.Available+CentTolerance && !confirm {
		return nil, &OverAllocationError{Available: view.Balance.Available, Requested: total}
	}

	p.ID = uuid.New()
	if err := s.store.PerDiem.Create(ctx, p, note.Version); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"per_diem": p.ID, "credit_note": p.CreditNoteID, "total": total}).
		Info("per-diem disbursement created")
	return s.store.PerDiem.GetByID(ctx, p.ID)
}

func (s *Service) DeletePerDiem(ctx context.Context, id uuid.UUID) error {
	p, err := s.store.PerDiem.GetByID(ctx, id)
	if err != nil {
		return err
	}
	note, err := s.store.CreditNote.GetByID(ctx, p.CreditNoteID)
	if err != nil {
		return err
	}
	if err := s.store.PerDiem.Delete(ctx, id, p.CreditNoteID, note.Version); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{"per_diem": id, "credit_note": p.CreditNoteID, "total": p.TotalAmount}).
		Info("per-diem disbursement deleted, balance restored")
	return nil
}

// ---------------------------------------------------------------------------
// Reports

// ExecutionSummary aggregates commitment-level execution per issuing
// unit: totals plus mean and median committed values.
type ExecutionSummary struct {
	IssuingUnit      string  `json:"issuing_unit"`
	Commitments      int     `json:"commitments"`
	CommittedTotal   float64 `json:"committed_total"`
	LiquidatedTotal  float64 `json:"liquidated_total"`
	CommittedMean    float64 `json:"committed_mean"`
	CommittedMedian  float64 `json:"committed_median"`
	ExecutionPercent float64 `json:"execution_percentage"`
}

func (s *Service) ExecutionReport(ctx context.Context, units []string) ([]ExecutionSummary, error) {
	rows, err := s.store.Report.ExecutionRows(ctx, units)
	if err != nil {
		return nil, err
	}

	byUnit := make(map[string][]store.ExecutionRow)
	order := []string{}
	for _, r := range rows {
		if _, seen := byUnit[r.IssuingUnit]; !seen {
			order = append(order, r.IssuingUnit)
		}
		byUnit[r.IssuingUnit] = append(byUnit[r.IssuingUnit], r)
	}

	out := make([]ExecutionSummary, 0, len(order))
	for _, unit := range order {
		unitRows := byUnit[unit]
		committed := make([]float64, 0, len(unitRows))
		var committedTotal, liquidatedTotal float64
		for _, r := range unitRows {
			committed = append(committed, r.CommittedValue)
			committedTotal += r.CommittedValue
			liquidatedTotal += r.LiquidatedValue
		}
		sort.Float64s(committed)

		summary := ExecutionSummary{
			IssuingUnit:     unit,
			Commitments:     len(unitRows),
			CommittedTotal:  committedTotal,
			LiquidatedTotal: liquidatedTotal,
			CommittedMean:   stat.Mean(committed, nil),
			CommittedMedian: stat.Quantile(0.5, stat.Empirical, committed, nil),
		}
		if committedTotal > 0 {
			summary.ExecutionPercent = liquidatedTotal / committedTotal * 100
		}
		out = append(out, summary)
	}
	return out, nil
}
