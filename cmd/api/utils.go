package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func parseID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func parseDate(dateStr string) (time.Time, error) {
	return time.Parse("2006-01-02", dateStr)
}

// parseOptionalDate returns nil for the empty string and for the
// "IMMEDIATE" sentinel used by credit note due dates.
func parseOptionalDate(dateStr string) (*time.Time, error) {
	if dateStr == "" || dateStr == "IMMEDIATE" {
		return nil, nil
	}
	t, err := parseDate(dateStr)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
