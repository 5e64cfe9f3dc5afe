package main

import (
	"net/http"
	"strings"

	"github.com/empenha/empenha-backend/internal/ledger"
	"github.com/empenha/empenha-backend/internal/response"
)

type ExecutionReportResponse = response.APIResponse[[]ledger.ExecutionSummary]

// @Summary		Budget execution report
// @Description	Per issuing unit: committed/liquidated totals, mean and median committed values, execution percentage.
// @Tags			Reports
// @Produce		json
// @Param			issuing_units	query		string	false	"Comma-separated list of issuing units"
// @Success		200				{object}	ExecutionReportResponse
// @Failure		500				{object}	response.ErrorResponse
// @Router			/reports/execution [get]
func (app *application) handleExecutionReport(w http.ResponseWriter, r *http.Request) {
	var units []string
	if raw := r.URL.Query().Get("issuing_units"); raw != "" {
		units = strings.Split(raw, ",")
	}

	summaries, err := app.ledger.ExecutionReport(r.Context(), units)
	if err != nil {
		app.writeLedgerError(w, err)
		return
	}

	resp := &ExecutionReportResponse{Success: true, Data: summaries}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}
