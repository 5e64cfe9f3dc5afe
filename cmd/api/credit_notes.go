package main

import (
	"net/http"

	"github.com/empenha/empenha-backend/internal/ledger"
	"github.com/empenha/empenha-backend/internal/response"
	"github.com/empenha/empenha-backend/internal/store"
)

type CreditNoteResponse = response.APIResponse[*ledger.CreditNoteView]
type CreditNoteListResponse = response.APIResponse[[]ledger.CreditNoteView]

type creditLinePayload struct {
	NatureCode  string  `json:"nature_code" validate:"required"`
	Source      string  `json:"source"`
	ProgramCode string  `json:"program_code"`
	UnitCode    string  `json:"unit_code"`
	PlanCode    string  `json:"plan_code"`
	Amount      float64 `json:"amount" validate:"gt=0"`
}

type creditNotePayload struct {
	Number      string              `json:"number" validate:"required"`
	IssuingUnit string              `json:"issuing_unit" validate:"required"`
	IssueDate   string              `json:"issue_date" validate:"required"`
	DueDate     string              `json:"due_date"`
	Description string              `json:"description"`
	TotalAmount float64             `json:"total_amount"`
	Lines       []creditLinePayload `json:"lines" validate:"required,min=1,dive"`
}

func (p *creditNotePayload) toModel() (*store.CreditNote, error) {
	issueDate, err := parseDate(p.IssueDate)
	if err != nil {
		return nil, err
	}
	dueDate, err := parseOptionalDate(p.DueDate)
	if err != nil {
		return nil, err
	}

	n := &store.CreditNote{
		Number:      p.Number,
		IssuingUnit: p.IssuingUnit,
		IssueDate:   issueDate,
		DueDate:     dueDate,
		Description: p.Description,
		TotalAmount: p.TotalAmount,
	}
	for _, l := range p.Lines {
		n.Lines = append(n.Lines, store.CreditLine{
			NatureCode:  l.NatureCode,
			Source:      l.Source,
			ProgramCode: l.ProgramCode,
			UnitCode:    l.UnitCode,
			PlanCode:    l.PlanCode,
			Amount:      l.Amount,
		})
	}
	return n, nil
}

// @Summary		List credit notes
// @Description	List all credit notes with derived balances and statuses.
// @Tags			CreditNotes
// @Produce		json
// @Success		200	{object}	CreditNoteListResponse
// @Failure		500	{object}	response.ErrorResponse
// @Router			/credit-notes [get]
func (app *application) handleListCreditNotes(w http.ResponseWriter, r *http.Request) {
	views, err := app.ledger.ListCreditNotes(r.Context())
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &CreditNoteListResponse{Success: true, Data: views}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

// @Summary		Create credit note
// @Description	Register a budget allocation with its credit lines.
// @Tags			CreditNotes
// @Accept			json
// @Produce		json
// @Success		201	{object}	CreditNoteResponse
// @Failure		422	{object}	response.ErrorResponse
// @Router			/credit-notes [post]
func (app *application) handleCreateCreditNote(w http.ResponseWriter, r *http.Request) {
	var payload creditNotePayload
	if err := readJSON(w, r, &payload); err != nil {
		return
	}
	if err := validate.Struct(payload); err != nil {
		app.writeLedgerError(w, err)
		return
	}

	n, err := payload.toModel()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid date: "+err.Error())
		return
	}

	view, err := app.ledger.CreateCreditNote(r.Context(), n)
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &CreditNoteResponse{Success: true, Message: "credit note created", Data: view}
	if err := writeJSON(w, http.StatusCreated, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

// @Summary		Get credit note
// @Tags			CreditNotes
// @Produce		json
// @Success		200	{object}	CreditNoteResponse
// @Failure		404	{object}	response.ErrorResponse
// @Router			/credit-notes/{id} [get]
func (app *application) handleGetCreditNote(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	view, err := app.ledger.GetCreditNote(r.Context(), id)
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &CreditNoteResponse{Success: true, Data: view}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

// @Summary		Update credit note
// @Description	Edit header and credit lines, only while no commitment or per-diem references the note.
// @Tags			CreditNotes
// @Accept			json
// @Produce		json
// @Success		200	{object}	CreditNoteResponse
// @Failure		422	{object}	response.ErrorResponse
// @Router			/credit-notes/{id} [put]
func (app *application) handleUpdateCreditNote(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var payload creditNotePayload
	if err := readJSON(w, r, &payload); err != nil {
		return
	}
	if err := validate.Struct(payload); err != nil {
		app.writeLedgerError(w, err)
		return
	}

	n, err := payload.toModel()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid date: "+err.Error())
		return
	}
	n.ID = id

	view, err := app.ledger.UpdateCreditNote(r.Context(), n)
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &CreditNoteResponse{Success: true, Message: "credit note updated", Data: view}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

type setCollectedPayload struct {
	Collected *bool `json:"collected" validate:"required"`
}

// @Summary		Toggle manual collection
// @Description	Collecting freezes the note as reconciled; reactivating releases it.
// @Tags			CreditNotes
// @Accept			json
// @Produce		json
// @Success		200	{object}	CreditNoteResponse
// @Failure		404	{object}	response.ErrorResponse
// @Router			/credit-notes/{id}/collected [patch]
func (app *application) handleSetCollected(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var payload setCollectedPayload
	if err := readJSON(w, r, &payload); err != nil {
		return
	}
	if err := validate.Struct(payload); err != nil {
		app.writeLedgerError(w, err)
		return
	}

	view, err := app.ledger.SetCollected(r.Context(), id, *payload.Collected)
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &CreditNoteResponse{Success: true, Data: view}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}
