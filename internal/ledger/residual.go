package ledger

import (
	"github.com/empenha/empenha-backend/internal/store"
	"github.com/google/uuid"
)

// ResidualItem is one commitment line with its outstanding quantity. The
// original and delivered quantities are kept as metadata so a follow-up
// delivery's selection screen can show what was already consumed.
type ResidualItem struct {
	LineID            uuid.UUID `json:"line_id"`
	Description       string    `json:"description"`
	UnitPrice         float64   `json:"unit_price"`
	OriginalQuantity  float64   `json:"original_quantity"`
	DeliveredQuantity float64   `json:"delivered_quantity"`
	ResidualQuantity  float64   `json:"residual_quantity"`
}

// SplitResidual computes, per commitment line, the cumulative delivered
// quantity across all deliveries and the quantity still owed, floored at
// zero. Delivery items are matched by their stable line id; legacy items
// without one fall back to description matching.
func SplitResidual(c *store.Commitment, deliveries []store.Delivery) []ResidualItem {
	deliveredByLine := make(map[uuid.UUID]float64)
	deliveredByDescription := make(map[string]float64)

	for i := range deliveries {
		for _, it := range deliveries[i].Items {
			if it.LineID != nil {
				deliveredByLine[*it.LineID] += it.QuantityRequested
			} else {
				deliveredByDescription[it.Description] += it.QuantityRequested
			}
		}
	}

	out := make([]ResidualItem, 0, len(c.Items))
	for _, line := range c.Items {
		delivered := deliveredByLine[line.ID]
		if legacy, ok := deliveredByDescription[line.Description]; ok {
			delivered += legacy
			// Consume the legacy bucket so two lines sharing a
			// description do not both absorb it.
			delete(deliveredByDescription, line.Description)
		}

		residual := line.Quantity - delivered
		if residual < 0 {
			residual = 0
		}

		out = append(out, ResidualItem{
			LineID:            line.ID,
			Description:       line.Description,
			UnitPrice:         line.UnitPrice,
			OriginalQuantity:  line.Quantity,
			DeliveredQuantity: delivered,
			ResidualQuantity:  residual,
		})
	}
	return out
}

// FullyDelivered reports whether every line's residual is within the
// quantity tolerance.
func FullyDelivered(items []ResidualItem) bool {
	for _, it := range items {
		if it.ResidualQuantity > QuantityTolerance {
			return false
		}
	}
	return true
}
