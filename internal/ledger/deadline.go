package ledger

import (
	"strings"
	"time"

	"github.com/empenha/empenha-backend/internal/store"
)

// ExtensionOffsets is the fixed menu of relative extensions, in days from
// the current due date.
var ExtensionOffsets = []int{5, 15, 30}

func validOffset(days int) bool {
	for _, o := range ExtensionOffsets {
		if days == o {
			return true
		}
	}
	return false
}

// BuildExtension validates an extension request against the delivery and
// produces the append-only record: previous date, new date, signed day
// delta, mandatory reason. The caller supplies either offsetDays from the
// menu or an explicit newDate; the delta is negative when a custom date
// precedes the current one.
func BuildExtension(d *store.Delivery, reason string, offsetDays int, newDate *time.Time, at time.Time) (store.ExtensionRecord, error) {
	var rec store.ExtensionRecord

	if d.Liquidated() {
		return rec, invalid("delivery", "cannot extend a liquidated delivery")
	}
	if d.DueDate == nil {
		return rec, invalid("due_date", "no due date to extend")
	}
	if strings.TrimSpace(reason) == "" {
		return rec, invalid("reason", "justification is mandatory")
	}

	previous := *d.DueDate
	var next time.Time
	switch {
	case newDate != nil:
		next = *newDate
	case validOffset(offsetDays):
		next = previous.AddDate(0, 0, offsetDays)
	default:
		return rec, invalid("offset_days", "offset must be one of 5, 15 or 30 days")
	}

	rec = store.ExtensionRecord{
		DeliveryID:   d.ID,
		PreviousDate: previous,
		NewDate:      next,
		DaysAdded:    int(next.Sub(previous).Hours() / 24),
		Reason:       strings.TrimSpace(reason),
		CreatedAt:    at,
	}
	return rec, nil
}
