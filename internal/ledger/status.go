package ledger

import (
	"github.com/empenha/empenha-backend/internal/store"
)

// DeliveryStatus is the closed set of coarse delivery lifecycle states.
type DeliveryStatus string

const (
	DeliveryLiquidated          DeliveryStatus = "LIQUIDATED"
	DeliveryShipped             DeliveryStatus = "SHIPPED"
	DeliveryInProduction        DeliveryStatus = "IN_PRODUCTION"
	DeliveryAwaitingArtShipment DeliveryStatus = "AWAITING_ART_SHIPMENT"
	DeliveryAwaitingArtApproval DeliveryStatus = "AWAITING_ART_APPROVAL"
	DeliveryAwaitingArtDecision DeliveryStatus = "AWAITING_ART_DECISION"
	DeliveryAwaitingReceipt     DeliveryStatus = "AWAITING_COMMITMENT_RECEIPT"
	DeliveryAwaitingShipment    DeliveryStatus = "AWAITING_COMMITMENT_SHIPMENT"
)

// CommitmentStatus values: either COMPLETED or the status of the most
// in-progress delivery.
const CommitmentCompleted = "COMPLETED"

// CreditNoteStatus is the closed set of note lifecycle states.
type CreditNoteStatus string

const (
	NoteAvailable CreditNoteStatus = "AVAILABLE"
	NoteInUse     CreditNoteStatus = "IN_USE"
	NoteCompleted CreditNoteStatus = "COMPLETED"
)

// DeriveDeliveryStatus maps the stage flags to one status. The rules are
// checked strictly in order; the first match wins, so checked always
// beats tracking, tracking beats art progress, and so on.
func DeriveDeliveryStatus(f store.StageFlags) DeliveryStatus {
	switch {
	case f.Checked:
		return DeliveryLiquidated
	case f.TrackingCode != "" || f.NoTracking:
		return DeliveryShipped
	case f.ArtSent:
		return DeliveryInProduction
	case f.ArtApproved:
		return DeliveryAwaitingArtShipment
	case f.ArtRequired != nil && *f.ArtRequired:
		return DeliveryAwaitingArtApproval
	case f.ArtRequired != nil && !*f.ArtRequired:
		return DeliveryInProduction
	case f.ReceivedDoc:
		return DeliveryAwaitingArtDecision
	case f.SentDoc:
		return DeliveryAwaitingReceipt
	default:
		return DeliveryAwaitingShipment
	}
}

// commitmentScanOrder ranks delivery statuses from most advanced but
// unfinished down to the earliest stage. A commitment shows the most
// in-progress-looking stage among its deliveries, not the newest one.
var commitmentScanOrder = []DeliveryStatus{
	DeliveryShipped,
	DeliveryInProduction,
	DeliveryAwaitingArtShipment,
	DeliveryAwaitingArtApproval,
	DeliveryAwaitingArtDecision,
	DeliveryAwaitingReceipt,
	DeliveryAwaitingShipment,
}

// terminalDeliveryStatus reports whether a delivery needs no further
// operator action: liquidated, or shipped and out of the office's hands.
func terminalDeliveryStatus(s DeliveryStatus) bool {
	return s == DeliveryLiquidated || s == DeliveryShipped
}

// DeriveCommitmentStatus derives a commitment's coarse status from its
// deliveries. With no deliveries the stored status stands; with all
// deliveries terminal the commitment is COMPLETED.
func DeriveCommitmentStatus(c *store.Commitment, deliveries []store.Delivery) string {
	if len(deliveries) == 0 {
		return c.Status
	}

	statuses := make([]DeliveryStatus, len(deliveries))
	allDone := true
	for i := range deliveries {
		statuses[i] = DeriveDeliveryStatus(deliveries[i].StageFlags)
		if !terminalDeliveryStatus(statuses[i]) {
			allDone = false
		}
	}
	if allDone {
		return CommitmentCompleted
	}

	for _, want := range commitmentScanOrder {
		for _, got := range statuses {
			if got == want {
				return string(got)
			}
		}
	}
	return c.Status
}

// DeriveCreditNoteStatus derives a note's coarse status from its
// computed balance.
func DeriveCreditNoteStatus(n *store.CreditNote, b CreditNoteBalance) CreditNoteStatus {
	switch {
	case n.ManuallyCollected || b.Available <= NoteTolerance(n.TotalAmount):
		return NoteCompleted
	case b.Allocated > 0 && b.Available < n.TotalAmount:
		return NoteInUse
	default:
		return NoteAvailable
	}
}
