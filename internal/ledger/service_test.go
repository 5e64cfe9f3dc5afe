package ledger_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empenha/empenha-backend/internal/ledger"
	"github.com/empenha/empenha-backend/internal/store"
)

func newTestService() (*ledger.Service, *store.Storage) {
	st := newTestStorage()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return ledger.NewService(st, log), st
}

func createNote(t *testing.T, svc *ledger.Service, total float64) *ledger.CreditNoteView {
	t.Helper()
	view, err := svc.CreateCreditNote(context.Background(), &store.CreditNote{
		Number:      "2026NC" + uuid.NewString()[:6],
		IssuingUnit: "160222",
		IssueDate:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Lines: []store.CreditLine{
			{NatureCode: "339030", Source: "0100", Amount: total},
		},
	})
	require.NoError(t, err)
	return view
}

func createCommitment(t *testing.T, svc *ledger.Service, noteID uuid.UUID, cType store.CommitmentType, amount float64, items []store.CommitmentItem) *ledger.CommitmentView {
	t.Helper()
	view, err := svc.CreateCommitment(context.Background(), &store.Commitment{
		CreditNoteID: noteID,
		Number:       "2026NE" + uuid.NewString()[:6],
		NatureCode:   "339030",
		Type:         cType,
		IssueDate:    time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		SupplierName: "Gráfica Exemplo LTDA",
		Amount:       amount,
		Items:        items,
	}, false)
	require.NoError(t, err)
	return view
}

func TestCreateCreditNoteDerivesTotal(t *testing.T) {
	svc, _ := newTestService()

	view, err := svc.CreateCreditNote(context.Background(), &store.CreditNote{
		Number: "2026NC000123",
		Lines: []store.CreditLine{
			{NatureCode: "339030", Amount: 600},
			{NatureCode: "449052", Amount: 400},
		},
	})
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, view.TotalAmount, ledger.CentTolerance)
	assert.InDelta(t, 1000.0, view.Balance.Available, ledger.CentTolerance)
	assert.Equal(t, ledger.NoteAvailable, view.Status)
}

func TestCreateCreditNoteRejectsMismatchedTotal(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateCreditNote(context.Background(), &store.CreditNote{
		Number:      "2026NC000124",
		TotalAmount: 999,
		Lines:       []store.CreditLine{{NatureCode: "339030", Amount: 1000}},
	})
	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "total_amount", verr.Field)
}

func TestCommitmentNatureMustMatchCreditLine(t *testing.T) {
	svc, _ := newTestService()
	note := createNote(t, svc, 1000)

	_, err := svc.CreateCommitment(context.Background(), &store.Commitment{
		CreditNoteID: note.ID,
		Number:       "2026NE000001",
		NatureCode:   "449052",
		Type:         store.CommitmentOrdinary,
		Amount:       100,
	}, false)
	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "nature_code", verr.Field)
}

func TestCommitmentOverAllocationConfirmFlow(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	note := createNote(t, svc, 1000)

	c := &store.Commitment{
		CreditNoteID: note.ID,
		Number:       "2026NE000010",
		NatureCode:   "339030",
		Type:         store.CommitmentOrdinary,
		Amount:       1500,
	}

	_, err := svc.CreateCommitment(ctx, c, false)
	var overErr *ledger.OverAllocationError
	require.ErrorAs(t, err, &overErr)
	assert.InDelta(t, 1000.0, overErr.Available, ledger.CentTolerance)
	assert.InDelta(t, 1500.0, overErr.Requested, ledger.CentTolerance)

	// The same request with the confirm flag goes through and the note
	// shows the negative balance instead of hiding it.
	view, err := svc.CreateCommitment(ctx, c, true)
	require.NoError(t, err)
	assert.InDelta(t, 1500.0, view.Amount, ledger.CentTolerance)

	noteView, err := svc.GetCreditNote(ctx, note.ID)
	require.NoError(t, err)
	assert.InDelta(t, -500.0, noteView.Balance.Available, ledger.CentTolerance)
}

func TestEditCommitmentExcludesOwnContribution(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	note := createNote(t, svc, 1000)
	c := createCommitment(t, svc, note.ID, store.CommitmentOrdinary, 600, nil)

	// Raising 600 to 900 fits: the commitment's own 600 is not counted
	// against itself.
	edited := c.Commitment
	edited.Amount = 900
	_, err := svc.EditCommitment(ctx, &edited, false)
	require.NoError(t, err)

	// 1100 exceeds even the full note.
	edited.Amount = 1100
	_, err = svc.EditCommitment(ctx, &edited, false)
	var overErr *ledger.OverAllocationError
	require.ErrorAs(t, err, &overErr)
	assert.InDelta(t, 1000.0, overErr.Available, ledger.CentTolerance)
}

func TestDeleteCommitmentRestoresBalance(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	note := createNote(t, svc, 1000)
	c := createCommitment(t, svc, note.ID, store.CommitmentOrdinary, 600, nil)

	noteView, err := svc.GetCreditNote(ctx, note.ID)
	require.NoError(t, err)
	require.InDelta(t, 400.0, noteView.Balance.Available, ledger.CentTolerance)

	require.NoError(t, svc.DeleteCommitment(ctx, c.ID))

	noteView, err = svc.GetCreditNote(ctx, note.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, noteView.Balance.Available, ledger.CentTolerance)
	assert.Equal(t, ledger.NoteAvailable, noteView.Status)
}

func TestStaleNoteVersionConflicts(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	note := createNote(t, svc, 1000)

	err := st.Commitment.Create(ctx, &store.Commitment{
		ID:           uuid.New(),
		CreditNoteID: note.ID,
		Number:       "2026NE000099",
		Type:         store.CommitmentOrdinary,
		Amount:       100,
	}, note.Version+1)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

// Full walk of an estimated commitment: deliver, check, liquidate below
// the estimate and watch the residue return to the funding note.
func TestEstimatedLiquidationCreditsResidueBack(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	note := createNote(t, svc, 10000)
	c := createCommitment(t, svc, note.ID, store.CommitmentEstimated, 4000,
		[]store.CommitmentItem{{Description: "fuel estimate", Quantity: 100, UnitPrice: 40}})

	d, err := svc.CreateDelivery(ctx, c.ID, nil)
	require.NoError(t, err)
	require.Len(t, d.Items, 1)
	assert.Equal(t, ledger.DeliveryAwaitingShipment, d.DerivedStatus)

	sent, received := true, true
	d, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{SentDoc: &sent}, false)
	require.NoError(t, err)
	require.NotNil(t, d.SentDocAt)

	d, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{ReceivedDoc: &received}, false)
	require.NoError(t, err)

	noArt := false
	d, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{ArtRequired: &noArt}, false)
	require.NoError(t, err)
	assert.Equal(t, ledger.DeliveryInProduction, d.DerivedStatus)
	// Entering the tracking stretch derives a default due date.
	require.NotNil(t, d.DueDate)

	noTracking := true
	d, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{NoTracking: &noTracking}, false)
	require.NoError(t, err)
	assert.Equal(t, ledger.DeliveryShipped, d.DerivedStatus)

	checked := true
	d, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{Checked: &checked}, false)
	require.NoError(t, err)

	d, err = svc.LiquidateDelivery(ctx, d.ID, 3500, false)
	require.NoError(t, err)
	require.NotNil(t, d.LiquidationDate)
	firstLiquidation := *d.LiquidationDate

	noteView, err := svc.GetCreditNote(ctx, note.ID)
	require.NoError(t, err)
	assert.InDelta(t, 3500.0, noteView.Balance.Allocated, ledger.CentTolerance)
	assert.InDelta(t, 6500.0, noteView.Balance.Available, ledger.CentTolerance)

	cView, err := svc.GetCommitment(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.CommitmentCompleted, cView.DerivedStatus)

	// Retrying the liquidation is a no-op: same date, same balance.
	d, err = svc.LiquidateDelivery(ctx, d.ID, 3500, false)
	require.NoError(t, err)
	assert.Equal(t, firstLiquidation, *d.LiquidationDate)

	noteView, err = svc.GetCreditNote(ctx, note.ID)
	require.NoError(t, err)
	assert.InDelta(t, 6500.0, noteView.Balance.Available, ledger.CentTolerance)
}

func TestLiquidationRequiresChecked(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	note := createNote(t, svc, 1000)
	c := createCommitment(t, svc, note.ID, store.CommitmentOrdinary, 500,
		[]store.CommitmentItem{{Description: "banners", Quantity: 5, UnitPrice: 100}})

	d, err := svc.CreateDelivery(ctx, c.ID, nil)
	require.NoError(t, err)

	_, err = svc.LiquidateDelivery(ctx, d.ID, 500, false)
	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "checked", verr.Field)
}

func TestOverLiquidationNeedsConfirm(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	note := createNote(t, svc, 1000)
	c := createCommitment(t, svc, note.ID, store.CommitmentOrdinary, 500,
		[]store.CommitmentItem{{Description: "banners", Quantity: 5, UnitPrice: 100}})

	d, err := svc.CreateDelivery(ctx, c.ID, nil)
	require.NoError(t, err)
	checked := true
	_, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{Checked: &checked}, false)
	require.NoError(t, err)

	_, err = svc.LiquidateDelivery(ctx, d.ID, 700, false)
	var overErr *ledger.OverAllocationError
	require.ErrorAs(t, err, &overErr)
	assert.InDelta(t, 500.0, overErr.Available, ledger.CentTolerance)

	_, err = svc.LiquidateDelivery(ctx, d.ID, 700, true)
	require.NoError(t, err)
}

func TestDueDateLockAndExtensionProtocol(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	note := createNote(t, svc, 1000)
	c := createCommitment(t, svc, note.ID, store.CommitmentOrdinary, 500,
		[]store.CommitmentItem{{Description: "banners", Quantity: 5, UnitPrice: 100}})

	d, err := svc.CreateDelivery(ctx, c.ID, nil)
	require.NoError(t, err)

	noTracking := true
	d, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{NoTracking: &noTracking}, false)
	require.NoError(t, err)
	require.NotNil(t, d.DueDate)

	// Free-form edits are fine while unlocked.
	edited := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	d, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{DueDate: &edited}, false)
	require.NoError(t, err)
	assert.Equal(t, edited, *d.DueDate)

	d, err = svc.LockDueDate(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, d.DueDateLocked)

	// The lock is one-way: no second lock, no direct edits.
	_, err = svc.LockDueDate(ctx, d.ID)
	assert.ErrorIs(t, err, store.ErrDueDateLocked)
	_, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{DueDate: &edited}, false)
	assert.ErrorIs(t, err, store.ErrDueDateLocked)

	// Extensions are the only way forward and each one is recorded.
	d, err = svc.ExtendDueDate(ctx, d.ID, "supplier delay", 15, nil)
	require.NoError(t, err)
	require.Len(t, d.Extensions, 1)
	assert.Equal(t, edited.AddDate(0, 0, 15), *d.DueDate)
	assert.Equal(t, 15, d.Extensions[0].DaysAdded)

	custom := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	d, err = svc.ExtendDueDate(ctx, d.ID, "rescheduled ceremony", 0, &custom)
	require.NoError(t, err)
	require.Len(t, d.Extensions, 2)
	assert.Equal(t, custom, *d.DueDate)
	assert.Equal(t, edited.AddDate(0, 0, 15), d.Extensions[1].PreviousDate)

	// Once liquidated the history is frozen.
	checked := true
	_, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{Checked: &checked}, false)
	require.NoError(t, err)
	_, err = svc.LiquidateDelivery(ctx, d.ID, 500, false)
	require.NoError(t, err)
	_, err = svc.ExtendDueDate(ctx, d.ID, "too late", 15, nil)
	assert.Error(t, err)
}

func TestCreateDeliveryGlobalSelection(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	note := createNote(t, svc, 5000)
	c := createCommitment(t, svc, note.ID, store.CommitmentGlobal, 2000, []store.CommitmentItem{
		{Description: "posters", Quantity: 100, UnitPrice: 10},
		{Description: "stickers", Quantity: 500, UnitPrice: 2},
	})
	posters := c.Items[0].ID

	// Requesting more than the line holds is rejected.
	_, err := svc.CreateDelivery(ctx, c.ID, []ledger.DeliveryItemRequest{{LineID: posters, Quantity: 150}})
	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)

	d, err := svc.CreateDelivery(ctx, c.ID, []ledger.DeliveryItemRequest{{LineID: posters, Quantity: 40}})
	require.NoError(t, err)
	require.Len(t, d.Items, 1)
	require.NotNil(t, d.Items[0].LineID)
	assert.Equal(t, posters, *d.Items[0].LineID)
	assert.InDelta(t, 40.0, d.Items[0].QuantityRequested, ledger.QuantityTolerance)

	// A follow-up delivery only sees what is left on the line.
	items, done, err := svc.Residual(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, done)
	assert.InDelta(t, 60.0, items[0].ResidualQuantity, ledger.QuantityTolerance)
	assert.InDelta(t, 500.0, items[1].ResidualQuantity, ledger.QuantityTolerance)
}

func TestStageItemQuantityOverrunNeedsConfirm(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	note := createNote(t, svc, 5000)
	c := createCommitment(t, svc, note.ID, store.CommitmentGlobal, 2000,
		[]store.CommitmentItem{{Description: "posters", Quantity: 50, UnitPrice: 10}})
	posters := c.Items[0].ID

	d, err := svc.CreateDelivery(ctx, c.ID, []ledger.DeliveryItemRequest{{LineID: posters, Quantity: 10}})
	require.NoError(t, err)
	itemID := d.Items[0].ID

	// Raising within the line's remainder needs no confirmation.
	d, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{
		ItemQuantities: map[uuid.UUID]float64{itemID: 45},
	}, false)
	require.NoError(t, err)
	assert.InDelta(t, 45.0, d.Items[0].QuantityRequested, ledger.QuantityTolerance)

	// Beyond it, the write takes the over-allocation confirm path. The
	// available figure counts the line residual plus what this delivery
	// already holds on the line.
	_, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{
		ItemQuantities: map[uuid.UUID]float64{itemID: 500},
	}, false)
	var overErr *ledger.OverAllocationError
	require.ErrorAs(t, err, &overErr)
	assert.InDelta(t, 50.0, overErr.Available, ledger.QuantityTolerance)
	assert.InDelta(t, 500.0, overErr.Requested, ledger.QuantityTolerance)

	// The rejected write must not have touched the stored quantity.
	d, err = svc.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.InDelta(t, 45.0, d.Items[0].QuantityRequested, ledger.QuantityTolerance)

	d, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{
		ItemQuantities: map[uuid.UUID]float64{itemID: 500},
	}, true)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, d.Items[0].QuantityRequested, ledger.QuantityTolerance)

	items, _, err := svc.Residual(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, items[0].ResidualQuantity)
}

func TestStageItemQuantityValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	note := createNote(t, svc, 5000)
	c := createCommitment(t, svc, note.ID, store.CommitmentGlobal, 2000,
		[]store.CommitmentItem{{Description: "posters", Quantity: 50, UnitPrice: 10}})

	d, err := svc.CreateDelivery(ctx, c.ID, []ledger.DeliveryItemRequest{{LineID: c.Items[0].ID, Quantity: 10}})
	require.NoError(t, err)

	var verr *ledger.ValidationError
	_, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{
		ItemQuantities: map[uuid.UUID]float64{d.Items[0].ID: -1},
	}, false)
	require.ErrorAs(t, err, &verr)

	_, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{
		ItemQuantities: map[uuid.UUID]float64{uuid.New(): 5},
	}, false)
	require.ErrorAs(t, err, &verr)
}

func TestCreateDeliveryRejectsFullyDelivered(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	note := createNote(t, svc, 5000)
	c := createCommitment(t, svc, note.ID, store.CommitmentOrdinary, 1000,
		[]store.CommitmentItem{{Description: "mugs", Quantity: 50, UnitPrice: 20}})

	// The ordinary delivery consumes every outstanding quantity.
	_, err := svc.CreateDelivery(ctx, c.ID, nil)
	require.NoError(t, err)

	_, err = svc.CreateDelivery(ctx, c.ID, nil)
	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSetCollectedFreezesAndReleases(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	note := createNote(t, svc, 1000)
	createCommitment(t, svc, note.ID, store.CommitmentOrdinary, 600, nil)

	view, err := svc.SetCollected(ctx, note.ID, true)
	require.NoError(t, err)
	assert.InDelta(t, 400.0, view.Balance.Collected, ledger.CentTolerance)
	assert.InDelta(t, 0.0, view.Balance.Available, ledger.CentTolerance)
	assert.Equal(t, ledger.NoteCompleted, view.Status)

	view, err = svc.SetCollected(ctx, note.ID, false)
	require.NoError(t, err)
	assert.InDelta(t, 400.0, view.Balance.Available, ledger.CentTolerance)
	assert.Equal(t, ledger.NoteInUse, view.Status)
}

func TestPerDiemConsumesAndRestoresBalance(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	note := createNote(t, svc, 1000)

	pd, err := svc.CreatePerDiem(ctx, &store.PerDiem{
		CreditNoteID: note.ID,
		Description:  "inspection trip",
		Beneficiaries: []store.PerDiemBeneficiary{
			{Name: "Sgt Silva", NumUnits: 2, UnitValue: 100},
			{Name: "Cpl Souza", NumUnits: 1, UnitValue: 50},
		},
	}, false)
	require.NoError(t, err)
	assert.InDelta(t, 250.0, pd.TotalAmount, ledger.CentTolerance)

	view, err := svc.GetCreditNote(ctx, note.ID)
	require.NoError(t, err)
	assert.InDelta(t, 750.0, view.Balance.Available, ledger.CentTolerance)
	assert.InDelta(t, 250.0, view.Balance.Liquidated, ledger.CentTolerance)

	// A per-diem beyond the balance needs the same confirm flag.
	_, err = svc.CreatePerDiem(ctx, &store.PerDiem{
		CreditNoteID:  note.ID,
		Beneficiaries: []store.PerDiemBeneficiary{{Name: "Maj Costa", NumUnits: 10, UnitValue: 100}},
	}, false)
	var overErr *ledger.OverAllocationError
	require.ErrorAs(t, err, &overErr)

	require.NoError(t, svc.DeletePerDiem(ctx, pd.ID))
	view, err = svc.GetCreditNote(ctx, note.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, view.Balance.Available, ledger.CentTolerance)
}

func TestExecutionReport(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	note := createNote(t, svc, 10000)
	c1 := createCommitment(t, svc, note.ID, store.CommitmentOrdinary, 1000,
		[]store.CommitmentItem{{Description: "banners", Quantity: 10, UnitPrice: 100}})
	createCommitment(t, svc, note.ID, store.CommitmentOrdinary, 3000, nil)

	d, err := svc.CreateDelivery(ctx, c1.ID, nil)
	require.NoError(t, err)
	checked := true
	_, err = svc.AdvanceDelivery(ctx, d.ID, store.StagePatch{Checked: &checked}, false)
	require.NoError(t, err)
	_, err = svc.LiquidateDelivery(ctx, d.ID, 1000, false)
	require.NoError(t, err)

	report, err := svc.ExecutionReport(ctx, nil)
	require.NoError(t, err)
	require.Len(t, report, 1)

	summary := report[0]
	assert.Equal(t, "160222", summary.IssuingUnit)
	assert.Equal(t, 2, summary.Commitments)
	assert.InDelta(t, 4000.0, summary.CommittedTotal, ledger.CentTolerance)
	assert.InDelta(t, 1000.0, summary.LiquidatedTotal, ledger.CentTolerance)
	assert.InDelta(t, 2000.0, summary.CommittedMean, ledger.CentTolerance)
	assert.InDelta(t, 25.0, summary.ExecutionPercent, 0.01)

	// Filtering on an unknown unit yields nothing.
	report, err = svc.ExecutionReport(ctx, []string{"999999"})
	require.NoError(t, err)
	assert.Empty(t, report)
}
