package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/empenha/empenha-backend/internal/ledger"
	"github.com/empenha/empenha-backend/internal/response"
	"github.com/empenha/empenha-backend/internal/store"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")

	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, status int, message string) error {
	return writeJSON(w, status, &response.ErrorResponse{Error: message})

}

func readJSON(w http.ResponseWriter, r *http.Request, data any) error {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(data)
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return err
	}

	return nil
}

// writeLedgerError maps the ledger/store error taxonomy onto HTTP:
// validation 422, over-allocation 409 with a confirm hint, version
// conflicts 409 retryable, missing records 404.
func (app *application) writeLedgerError(w http.ResponseWriter, err error) {
	var validationErr *ledger.ValidationError
	var overAllocErr *ledger.OverAllocationError
	var fieldErrs validator.ValidationErrors

	switch {
	case errors.As(err, &validationErr), errors.As(err, &fieldErrs):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &overAllocErr):
		writeJSON(w, http.StatusConflict, &response.ConflictResponse{
			Error:     overAllocErr.Error(),
			Available: overAllocErr.Available,
			Requested: overAllocErr.Requested,
			Confirm:   true,
		})
	case errors.Is(err, store.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, &response.ConflictResponse{
			Error:     err.Error(),
			Retryable: true,
		})
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDueDateLocked), errors.Is(err, store.ErrDeliveryLiquidated):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		app.logger.WithError(err).Error("internal error")
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}
