package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/empenha/empenha-backend/internal/store"
)

func parseBRDate(dateStr string) (time.Time, error) {
	if dateStr == "" {
		return time.Time{}, nil
	}
	// Try dd/mm/yyyy format first
	t, err := time.Parse("02/01/2006", dateStr)
	if err == nil {
		return t, nil
	}
	// Fallback to yyyy-mm-dd just in case
	return time.Parse("2006-01-02", dateStr)
}

func parseBRFloat(valStr string) (float64, error) {
	if valStr == "" {
		return 0.0, nil
	}
	// Remove thousands separator (.) and replace decimal separator (,) with (.)
	cleanStr := strings.ReplaceAll(valStr, ".", "")
	cleanStr = strings.ReplaceAll(cleanStr, ",", ".")
	return strconv.ParseFloat(cleanStr, 64)
}

type frame struct {
	df   dataframe.DataFrame
	cols map[string]int
}

func newFrame(df dataframe.DataFrame) *frame {
	cols := make(map[string]int, len(df.Names()))
	for i, name := range df.Names() {
		cols[name] = i
	}
	return &frame{df: df, cols: cols}
}

func (f *frame) str(row int, col string) string {
	idx, ok := f.cols[col]
	if !ok {
		return ""
	}
	return strings.TrimSpace(f.df.Elem(row, idx).String())
}

func loadCreditNotes(ctx context.Context, df dataframe.DataFrame, storage *store.Storage, logger *logrus.Logger) (loaded, skipped int) {
	f := newFrame(df)

	for row := 0; row < df.Nrow(); row++ {
		number := f.str(row, "Número NC")
		if number == "" {
			skipped++
			continue
		}

		issueDate, err := parseBRDate(f.str(row, "Data Emissão"))
		if err != nil {
			logger.WithField("number", number).Warn("failed to parse issue date, skipping")
			skipped++
			continue
		}
		total, err := parseBRFloat(f.str(row, "Valor Total"))
		if err != nil {
			logger.WithField("number", number).Warn("failed to parse total amount, skipping")
			skipped++
			continue
		}

		var dueDate *time.Time
		if raw := f.str(row, "Prazo"); raw != "" && !strings.EqualFold(raw, "imediato") {
			if d, err := parseBRDate(raw); err == nil {
				dueDate = &d
			}
		}

		n := &store.CreditNote{
			ID:          uuid.New(),
			Number:      number,
			IssuingUnit: f.str(row, "Unidade Gestora"),
			IssueDate:   issueDate,
			DueDate:     dueDate,
			Description: f.str(row, "Descrição"),
			TotalAmount: total,
		}

		if err := storage.CreditNote.Insert(ctx, n); err != nil {
			logger.WithError(err).WithField("number", number).Warn("insert failed, skipping")
			skipped++
			continue
		}
		loaded++
	}
	return loaded, skipped
}

var commitmentTypes = map[string]store.CommitmentType{
	"ordinário":  store.CommitmentOrdinary,
	"ordinario":  store.CommitmentOrdinary,
	"global":     store.CommitmentGlobal,
	"estimativo": store.CommitmentEstimated,
}

func loadCommitments(ctx context.Context, df dataframe.DataFrame, storage *store.Storage, logger *logrus.Logger) (loaded, skipped int) {
	f := newFrame(df)

	for row := 0; row < df.Nrow(); row++ {
		number := f.str(row, "Número Empenho")
		noteNumber := f.str(row, "Número NC")
		if number == "" || noteNumber == "" {
			skipped++
			continue
		}

		note, err := storage.CreditNote.GetByNumber(ctx, noteNumber)
		if err != nil {
			logger.WithField("credit_note", noteNumber).Warn("funding credit note not found, skipping")
			skipped++
			continue
		}

		issueDate, err := parseBRDate(f.str(row, "Data Emissão"))
		if err != nil {
			logger.WithField("number", number).Warn("failed to parse issue date, skipping")
			skipped++
			continue
		}
		amount, err := parseBRFloat(f.str(row, "Valor"))
		if err != nil {
			logger.WithField("number", number).Warn("failed to parse amount, skipping")
			skipped++
			continue
		}

		cType, ok := commitmentTypes[strings.ToLower(f.str(row, "Tipo Empenho"))]
		if !ok {
			cType = store.CommitmentOrdinary
		}

		c := &store.Commitment{
			ID:           uuid.New(),
			CreditNoteID: note.ID,
			Number:       number,
			NatureCode:   f.str(row, "Natureza de Despesa"),
			Type:         cType,
			IssueDate:    issueDate,
			SupplierID:   f.str(row, "Código Favorecido"),
			SupplierName: f.str(row, "Favorecido"),
			ProcessID:    f.str(row, "Processo"),
			Amount:       amount,
			Status:       "AWAITING_COMMITMENT_SHIPMENT",
		}

		// Historical imports bypass the over-allocation check on purpose:
		// whatever the legacy system accepted is loaded verbatim and any
		// negative balance surfaces as a warning on read.
		if err := storage.Commitment.Create(ctx, c, note.Version); err != nil {
			logger.WithError(err).WithField("number", number).Warn("insert failed, skipping")
			skipped++
			continue
		}
		loaded++
	}
	return loaded, skipped
}
