package main

import (
	"net/http"

	"github.com/empenha/empenha-backend/internal/response"
	"github.com/empenha/empenha-backend/internal/store"
)

type PerDiemResponse = response.APIResponse[*store.PerDiem]

type perDiemBeneficiaryPayload struct {
	Name      string  `json:"name" validate:"required"`
	NumUnits  float64 `json:"num_units" validate:"gt=0"`
	UnitValue float64 `json:"unit_value" validate:"gt=0"`
}

type perDiemPayload struct {
	Description   string                      `json:"description"`
	IssueDate     string                      `json:"issue_date" validate:"required"`
	Beneficiaries []perDiemBeneficiaryPayload `json:"beneficiaries" validate:"required,min=1,dive"`
}

// @Summary		Create per-diem disbursement
// @Description	Direct payment consuming credit note balance without a commitment; liquidated at creation.
// @Tags			PerDiems
// @Accept			json
// @Produce		json
// @Param			confirm	query		bool	false	"Confirm over-allocation"
// @Success		201		{object}	PerDiemResponse
// @Failure		409		{object}	response.ConflictResponse
// @Failure		422		{object}	response.ErrorResponse
// @Router			/credit-notes/{id}/per-diems [post]
func (app *application) handleCreatePerDiem(w http.ResponseWriter, r *http.Request) {
	noteID, err := parseID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var payload perDiemPayload
	if err := readJSON(w, r, &payload); err != nil {
		return
	}
	if err := validate.Struct(payload); err != nil {
		app.writeLedgerError(w, err)
		return
	}

	issueDate, err := parseDate(payload.IssueDate)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid issue_date")
		return
	}

	p := &store.PerDiem{
		CreditNoteID: noteID,
		Description:  payload.Description,
		IssueDate:    issueDate,
	}
	for _, b := range payload.Beneficiaries {
		p.Beneficiaries = append(p.Beneficiaries, store.PerDiemBeneficiary{
			Name:      b.Name,
			NumUnits:  b.NumUnits,
			UnitValue: b.UnitValue,
		})
	}

	created, err := app.ledger.CreatePerDiem(r.Context(), p, confirmRequested(r))
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &PerDiemResponse{Success: true, Message: "per-diem created", Data: created}
	if err := writeJSON(w, http.StatusCreated, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

// @Summary		Delete per-diem disbursement
// @Description	Removes the disbursement and restores its total to the funding note.
// @Tags			PerDiems
// @Produce		json
// @Success		204
// @Failure		404	{object}	response.ErrorResponse
// @Router			/per-diems/{id} [delete]
func (app *application) handleDeletePerDiem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := app.ledger.DeletePerDiem(r.Context(), id); err != nil {
		app.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
