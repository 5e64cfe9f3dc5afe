package main

import (
	"net/http"

	"github.com/empenha/empenha-backend/internal/ledger"
	"github.com/empenha/empenha-backend/internal/response"
	"github.com/empenha/empenha-backend/internal/store"
	"github.com/google/uuid"
)

type CommitmentResponse = response.APIResponse[*ledger.CommitmentView]
type CommitmentListResponse = response.APIResponse[[]ledger.CommitmentView]
type ResidualResponse = response.APIResponse[residualData]

type residualData struct {
	Items          []ledger.ResidualItem `json:"items"`
	FullyDelivered bool                  `json:"fully_delivered"`
}

type commitmentItemPayload struct {
	Description string  `json:"description" validate:"required"`
	Quantity    float64 `json:"quantity" validate:"gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
}

type commitmentPayload struct {
	CreditNoteID string                  `json:"credit_note_id" validate:"required,uuid"`
	Number       string                  `json:"number" validate:"required"`
	NatureCode   string                  `json:"nature_code" validate:"required"`
	Type         string                  `json:"type" validate:"required,oneof=ordinary global estimated"`
	IssueDate    string                  `json:"issue_date" validate:"required"`
	SupplierID   string                  `json:"supplier_id" validate:"required"`
	SupplierName string                  `json:"supplier_name" validate:"required"`
	ProcessID    string                  `json:"process_id" validate:"required"`
	Amount       float64                 `json:"amount" validate:"gt=0"`
	Items        []commitmentItemPayload `json:"items" validate:"required,min=1,dive"`
}

func (p *commitmentPayload) toModel() (*store.Commitment, error) {
	noteID, err := uuid.Parse(p.CreditNoteID)
	if err != nil {
		return nil, err
	}
	issueDate, err := parseDate(p.IssueDate)
	if err != nil {
		return nil, err
	}

	c := &store.Commitment{
		CreditNoteID: noteID,
		Number:       p.Number,
		NatureCode:   p.NatureCode,
		Type:         store.CommitmentType(p.Type),
		IssueDate:    issueDate,
		SupplierID:   p.SupplierID,
		SupplierName: p.SupplierName,
		ProcessID:    p.ProcessID,
		Amount:       p.Amount,
	}
	for _, it := range p.Items {
		c.Items = append(c.Items, store.CommitmentItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return c, nil
}

// confirmRequested reports whether the caller took the explicit
// confirm-to-proceed path for over-allocation warnings.
func confirmRequested(r *http.Request) bool {
	return r.URL.Query().Get("confirm") == "true"
}

// @Summary		List commitments
// @Description	List commitments, optionally filtered by funding credit note.
// @Tags			Commitments
// @Produce		json
// @Param			credit_note_id	query		string	false	"Filter by credit note id"
// @Success		200				{object}	CommitmentListResponse
// @Failure		500				{object}	response.ErrorResponse
// @Router			/commitments [get]
func (app *application) handleListCommitments(w http.ResponseWriter, r *http.Request) {
	var noteID *uuid.UUID
	if raw := r.URL.Query().Get("credit_note_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid credit_note_id")
			return
		}
		noteID = &id
	}

	views, err := app.ledger.ListCommitments(r.Context(), noteID)
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &CommitmentListResponse{Success: true, Data: views}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

// @Summary		Create commitment
// @Description	Draw a purchase order against a credit note's balance. Pass confirm=true to proceed past an over-allocation warning.
// @Tags			Commitments
// @Accept			json
// @Produce		json
// @Param			confirm	query		bool	false	"Confirm over-allocation"
// @Success		201		{object}	CommitmentResponse
// @Failure		409		{object}	response.ConflictResponse
// @Failure		422		{object}	response.ErrorResponse
// @Router			/commitments [post]
func (app *application) handleCreateCommitment(w http.ResponseWriter, r *http.Request) {
	var payload commitmentPayload
	if err := readJSON(w, r, &payload); err != nil {
		return
	}
	if err := validate.Struct(payload); err != nil {
		app.writeLedgerError(w, err)
		return
	}

	c, err := payload.toModel()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	view, err := app.ledger.CreateCommitment(r.Context(), c, confirmRequested(r))
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &CommitmentResponse{Success: true, Message: "commitment created", Data: view}
	if err := writeJSON(w, http.StatusCreated, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

// @Summary		Get commitment
// @Tags			Commitments
// @Produce		json
// @Success		200	{object}	CommitmentResponse
// @Failure		404	{object}	response.ErrorResponse
// @Router			/commitments/{id} [get]
func (app *application) handleGetCommitment(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	view, err := app.ledger.GetCommitment(r.Context(), id)
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &CommitmentResponse{Success: true, Data: view}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

// @Summary		Edit commitment
// @Description	Rewrites amount/items; the old note's balance is restored and the new amount applied, atomically.
// @Tags			Commitments
// @Accept			json
// @Produce		json
// @Param			confirm	query		bool	false	"Confirm over-allocation"
// @Success		200		{object}	CommitmentResponse
// @Failure		409		{object}	response.ConflictResponse
// @Failure		422		{object}	response.ErrorResponse
// @Router			/commitments/{id} [put]
func (app *application) handleEditCommitment(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var payload commitmentPayload
	if err := readJSON(w, r, &payload); err != nil {
		return
	}
	if err := validate.Struct(payload); err != nil {
		app.writeLedgerError(w, err)
		return
	}

	c, err := payload.toModel()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	c.ID = id

	view, err := app.ledger.EditCommitment(r.Context(), c, confirmRequested(r))
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &CommitmentResponse{Success: true, Message: "commitment updated", Data: view}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

// @Summary		Delete commitment
// @Description	Removes the commitment and restores its amount to the funding note.
// @Tags			Commitments
// @Produce		json
// @Success		204
// @Failure		404	{object}	response.ErrorResponse
// @Router			/commitments/{id} [delete]
func (app *application) handleDeleteCommitment(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := app.ledger.DeleteCommitment(r.Context(), id); err != nil {
		app.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary		Residual quantities
// @Description	Per-line outstanding quantities, used to seed a follow-up delivery.
// @Tags			Commitments
// @Produce		json
// @Success		200	{object}	ResidualResponse
// @Failure		404	{object}	response.ErrorResponse
// @Router			/commitments/{id}/residual [get]
func (app *application) handleGetResidual(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	items, done, err := app.ledger.Residual(r.Context(), id)
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &ResidualResponse{Success: true, Data: residualData{Items: items, FullyDelivered: done}}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}
