package main

import (
	"net/http"
	"time"

	"github.com/empenha/empenha-backend/internal/ledger"
	"github.com/empenha/empenha-backend/internal/response"
	"github.com/empenha/empenha-backend/internal/store"
	"github.com/google/uuid"
)

type DeliveryResponse = response.APIResponse[*ledger.DeliveryView]

type deliveryItemRequestPayload struct {
	LineID   string  `json:"line_id" validate:"required,uuid"`
	Quantity float64 `json:"quantity" validate:"gt=0"`
}

type createDeliveryPayload struct {
	Items []deliveryItemRequestPayload `json:"items" validate:"dive"`
}

// @Summary		Open delivery
// @Description	Opens a fulfillment batch against a commitment, seeded with residual quantities.
// @Tags			Deliveries
// @Accept			json
// @Produce		json
// @Success		201	{object}	DeliveryResponse
// @Failure		422	{object}	response.ErrorResponse
// @Router			/commitments/{id}/deliveries [post]
func (app *application) handleCreateDelivery(w http.ResponseWriter, r *http.Request) {
	commitmentID, err := parseID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var payload createDeliveryPayload
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &payload); err != nil {
			return
		}
		if err := validate.Struct(payload); err != nil {
			app.writeLedgerError(w, err)
			return
		}
	}

	requested := make([]ledger.DeliveryItemRequest, 0, len(payload.Items))
	for _, it := range payload.Items {
		lineID, err := uuid.Parse(it.LineID)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid line_id")
			return
		}
		requested = append(requested, ledger.DeliveryItemRequest{LineID: lineID, Quantity: it.Quantity})
	}

	view, err := app.ledger.CreateDelivery(r.Context(), commitmentID, requested)
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &DeliveryResponse{Success: true, Message: "delivery created", Data: view}
	if err := writeJSON(w, http.StatusCreated, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

// @Summary		Get delivery
// @Tags			Deliveries
// @Produce		json
// @Success		200	{object}	DeliveryResponse
// @Failure		404	{object}	response.ErrorResponse
// @Router			/deliveries/{id} [get]
func (app *application) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	view, err := app.ledger.GetDelivery(r.Context(), id)
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &DeliveryResponse{Success: true, Data: view}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

type stagePatchPayload struct {
	SentDoc        *bool              `json:"sent_doc"`
	ReceivedDoc    *bool              `json:"received_doc"`
	ArtRequired    *bool              `json:"art_required"`
	ArtApproved    *bool              `json:"art_approved"`
	ArtSent        *bool              `json:"art_sent"`
	TrackingCode   *string            `json:"tracking_code"`
	NoTracking     *bool              `json:"no_tracking"`
	Checked        *bool              `json:"checked"`
	DueDate        *string            `json:"due_date"`
	ItemQuantities map[string]float64 `json:"item_quantities"`
}

// @Summary		Advance delivery stage
// @Description	Write-through update of any subset of stage fields; the workflow suggests but does not enforce order. Pass confirm=true to raise an item quantity beyond the commitment line's remainder.
// @Tags			Deliveries
// @Accept			json
// @Produce		json
// @Param			confirm	query		bool	false	"Confirm line-quantity overrun"
// @Success		200	{object}	DeliveryResponse
// @Failure		409	{object}	response.ConflictResponse
// @Failure		422	{object}	response.ErrorResponse
// @Router			/deliveries/{id}/stage [patch]
func (app *application) handleAdvanceDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var payload stagePatchPayload
	if err := readJSON(w, r, &payload); err != nil {
		return
	}

	patch := store.StagePatch{
		SentDoc:      payload.SentDoc,
		ReceivedDoc:  payload.ReceivedDoc,
		ArtRequired:  payload.ArtRequired,
		ArtApproved:  payload.ArtApproved,
		ArtSent:      payload.ArtSent,
		TrackingCode: payload.TrackingCode,
		NoTracking:   payload.NoTracking,
		Checked:      payload.Checked,
	}
	if payload.DueDate != nil {
		due, err := parseDate(*payload.DueDate)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid due_date")
			return
		}
		patch.DueDate = &due
	}
	if len(payload.ItemQuantities) > 0 {
		patch.ItemQuantities = make(map[uuid.UUID]float64, len(payload.ItemQuantities))
		for raw, qty := range payload.ItemQuantities {
			itemID, err := uuid.Parse(raw)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid item id")
				return
			}
			patch.ItemQuantities[itemID] = qty
		}
	}

	view, err := app.ledger.AdvanceDelivery(r.Context(), id, patch, confirmRequested(r))
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &DeliveryResponse{Success: true, Data: view}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

// @Summary		Lock due date
// @Description	One-way lock; afterwards only justified extensions can move the date.
// @Tags			Deliveries
// @Produce		json
// @Success		200	{object}	DeliveryResponse
// @Failure		422	{object}	response.ErrorResponse
// @Router			/deliveries/{id}/due-date/lock [post]
func (app *application) handleLockDueDate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	view, err := app.ledger.LockDueDate(r.Context(), id)
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &DeliveryResponse{Success: true, Message: "due date locked", Data: view}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

type extendDueDatePayload struct {
	Reason     string `json:"reason" validate:"required"`
	OffsetDays int    `json:"offset_days"`
	NewDate    string `json:"new_date"`
}

// @Summary		Extend due date
// @Description	Appends one justified extension record and moves the due date by an offset (+5/+15/+30) or to an explicit date.
// @Tags			Deliveries
// @Accept			json
// @Produce		json
// @Success		200	{object}	DeliveryResponse
// @Failure		422	{object}	response.ErrorResponse
// @Router			/deliveries/{id}/due-date/extend [post]
func (app *application) handleExtendDueDate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var payload extendDueDatePayload
	if err := readJSON(w, r, &payload); err != nil {
		return
	}
	if err := validate.Struct(payload); err != nil {
		app.writeLedgerError(w, err)
		return
	}

	var newDate *time.Time
	if payload.NewDate != "" {
		d, err := parseDate(payload.NewDate)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid new_date")
			return
		}
		newDate = &d
	}

	view, err := app.ledger.ExtendDueDate(r.Context(), id, payload.Reason, payload.OffsetDays, newDate)
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &DeliveryResponse{Success: true, Message: "due date extended", Data: view}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

type liquidatePayload struct {
	LiquidatedAmount float64 `json:"liquidated_amount" validate:"gt=0"`
}

// @Summary		Liquidate delivery
// @Description	Finalizes a checked delivery. Pass confirm=true to liquidate beyond the commitment residual.
// @Tags			Deliveries
// @Accept			json
// @Produce		json
// @Param			confirm	query		bool	false	"Confirm over-liquidation"
// @Success		200		{object}	DeliveryResponse
// @Failure		409		{object}	response.ConflictResponse
// @Failure		422		{object}	response.ErrorResponse
// @Router			/deliveries/{id}/liquidate [post]
func (app *application) handleLiquidateDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var payload liquidatePayload
	if err := readJSON(w, r, &payload); err != nil {
		return
	}
	if err := validate.Struct(payload); err != nil {
		app.writeLedgerError(w, err)
		return
	}

	view, err := app.ledger.LiquidateDelivery(r.Context(), id, payload.LiquidatedAmount, confirmRequested(r))
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &DeliveryResponse{Success: true, Message: "delivery liquidated", Data: view}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}
