package ledger

import (
	"time"

	"github.com/empenha/empenha-backend/internal/store"
)

// Stage identifies one step of the delivery fulfillment walk. The order
// is total with a single conditional skip: when the art decision is "not
// required" the walk jumps from ArtDecision straight to Tracking, in both
// directions.
type Stage int

const (
	StageSelection Stage = iota
	StageCommitmentShipment
	StageCommitmentReceipt
	StageArtDecision
	StageArtApproval
	StageArtShipment
	StageTracking
	StageCheckAndLiquidate
)

var stageNames = map[Stage]string{
	StageSelection:          "SELECTION",
	StageCommitmentShipment: "COMMITMENT_SHIPMENT",
	StageCommitmentReceipt:  "COMMITMENT_RECEIPT",
	StageArtDecision:        "ART_DECISION",
	StageArtApproval:        "ART_APPROVAL",
	StageArtShipment:        "ART_SHIPMENT",
	StageTracking:           "TRACKING",
	StageCheckAndLiquidate:  "CHECK_AND_LIQUIDATE",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// DefaultDueDate is the derived due-date default applied when a delivery
// enters the tracking stage: thirty days out, editable and unlocked until
// the operator locks it.
func DefaultDueDate(from time.Time) time.Time {
	return from.AddDate(0, 0, 30)
}

// InitialStage starts global (itemized-selection) commitments at the
// quantity selection step; ordinary and estimated ones skip straight to
// shipment with all line quantities pre-selected.
func InitialStage(t store.CommitmentType) Stage {
	if t == store.CommitmentGlobal {
		return StageSelection
	}
	return StageCommitmentShipment
}

// NextStage returns the stage after s. artRequired carries the tri-state
// art decision; the decision only matters when leaving ArtDecision.
func NextStage(s Stage, artRequired *bool) (Stage, bool) {
	switch s {
	case StageCheckAndLiquidate:
		return s, false
	case StageArtDecision:
		if artRequired != nil && !*artRequired {
			return StageTracking, true
		}
		return StageArtApproval, true
	default:
		return s + 1, true
	}
}

// PrevStage returns the stage before s, honoring the same skip on the way
// back: from Tracking the back step lands on ArtDecision whenever art was
// not required.
func PrevStage(s Stage, artRequired *bool) (Stage, bool) {
	switch s {
	case StageSelection:
		return s, false
	case StageTracking:
		if artRequired != nil && !*artRequired {
			return StageArtDecision, true
		}
		return StageArtShipment, true
	default:
		return s - 1, true
	}
}

// ResumeStage maps a delivery's flags back to the stage an operator
// should land on when reopening it, so partial progress is resumable
// after any interruption.
func ResumeStage(d *store.Delivery) Stage {
	switch DeriveDeliveryStatus(d.StageFlags) {
	case DeliveryLiquidated:
		return StageCheckAndLiquidate
	case DeliveryShipped:
		return StageCheckAndLiquidate
	case DeliveryInProduction:
		return StageTracking
	case DeliveryAwaitingArtShipment:
		return StageArtShipment
	case DeliveryAwaitingArtApproval:
		return StageArtApproval
	case DeliveryAwaitingArtDecision:
		return StageArtDecision
	case DeliveryAwaitingReceipt:
		return StageCommitmentReceipt
	default:
		if len(d.Items) == 0 && d.Type == store.CommitmentGlobal {
			return StageSelection
		}
		return StageCommitmentShipment
	}
}
