package ledger

import (
	"github.com/empenha/empenha-backend/internal/store"
	"github.com/google/uuid"
)

// Monetary comparisons never require exact zero: repeated float additions
// drift, so "zero" means within CentTolerance and percentage checks use
// PercentTolerance of the total.
const (
	CentTolerance     = 0.01
	PercentTolerance  = 0.01
	QuantityTolerance = 0.01
)

// CommitmentBalance holds the amounts derived from a commitment's
// delivery set.
type CommitmentBalance struct {
	Delivered float64 `json:"delivered_value"`
	Residual  float64 `json:"residual_value"`
}

// CreditNoteBalance holds the amounts derived from a credit note's
// commitment and per-diem sets.
type CreditNoteBalance struct {
	Allocated  float64 `json:"allocated"`
	Liquidated float64 `json:"liquidated"`
	Collected  float64 `json:"collected"`
	Available  float64 `json:"available"`
}

// DeliveredValue values one delivery: the stored liquidated amount once
// final, otherwise the running item value.
func DeliveredValue(d *store.Delivery) float64 {
	if d.LiquidatedAmount != nil {
		return *d.LiquidatedAmount
	}
	var sum float64
	for _, it := range d.Items {
		sum += it.QuantityRequested * it.UnitPrice
	}
	return sum
}

// ComputeCommitmentBalance derives the delivered and residual value of a
// commitment from its full delivery set. Residual never goes negative:
// over-delivery surfaces on the credit note side, not here.
func ComputeCommitmentBalance(c *store.Commitment, deliveries []store.Delivery) CommitmentBalance {
	var delivered float64
	for i := range deliveries {
		delivered += DeliveredValue(&deliveries[i])
	}

	residual := c.Amount - delivered
	if residual < 0 {
		residual = 0
	}
	return CommitmentBalance{Delivered: delivered, Residual: residual}
}

// allocatedValue is a commitment's contribution to its note's allocated
// total. Estimated commitments stop reserving their full face value once
// a delivery has been liquidated: the realized value replaces the
// estimate, crediting the unspent residue back to the note. Derived on
// every read, so a retried liquidation cannot double-apply the credit.
func allocatedValue(c *store.Commitment, deliveries []store.Delivery) float64 {
	if c.Type != store.CommitmentEstimated {
		return c.Amount
	}
	liquidated := false
	for i := range deliveries {
		if deliveries[i].Liquidated() {
			liquidated = true
			break
		}
	}
	if !liquidated {
		return c.Amount
	}

	var realized float64
	for i := range deliveries {
		realized += DeliveredValue(&deliveries[i])
	}
	return realized
}

// liquidatedValue sums only finalized delivery amounts.
func liquidatedValue(deliveries []store.Delivery) float64 {
	var sum float64
	for i := range deliveries {
		if deliveries[i].LiquidatedAmount != nil {
			sum += *deliveries[i].LiquidatedAmount
		}
	}
	return sum
}

// ComputeCreditNoteBalance derives a note's allocated, liquidated,
// collected and available amounts from the full commitment, delivery and
// per-diem record sets. Nothing here is trusted from cached fields except
// the stored collected amount, and the note total itself when no
// commitment references the note (legacy records without itemized lines).
// Available may legitimately be negative after a confirmed
// over-allocation; it is never clamped.
func ComputeCreditNoteBalance(
	n *store.CreditNote,
	commitments []store.Commitment,
	deliveriesByCommitment map[uuid.UUID][]store.Delivery,
	perDiems []store.PerDiem,
) CreditNoteBalance {
	var b CreditNoteBalance

	for i := range commitments {
		c := &commitments[i]
		ds := deliveriesByCommitment[c.ID]
		b.Allocated += allocatedValue(c, ds)
		b.Liquidated += liquidatedValue(ds)
	}

	// A per-diem disbursement is a direct payment: allocated and
	// liquidated the moment it exists.
	for _, pd := range perDiems {
		b.Allocated += pd.TotalAmount
		b.Liquidated += pd.TotalAmount
	}

	if n.ManuallyCollected {
		b.Collected = n.TotalAmount - b.Allocated
	} else {
		b.Collected = n.CollectedAmount
	}

	b.Available = n.TotalAmount - b.Allocated - b.Collected
	return b
}

// NoteTolerance is the "effectively zero" threshold for a note's
// available balance.
func NoteTolerance(total float64) float64 {
	tol := total * PercentTolerance
	if tol < CentTolerance {
		tol = CentTolerance
	}
	return tol
}
