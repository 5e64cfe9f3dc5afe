package main

import (
	"net/http"
	"time"

	"github.com/empenha/empenha-backend/internal/ledger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

type application struct {
	config config
	ledger *ledger.Service
	logger *logrus.Logger
}

type config struct {
	addr           string
	db             dbConfig
	allowedOrigins []string
}

type dbConfig struct {
	addr         string
	maxOpenConns int
	maxIdleConns int
	maxIdleTime  string
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: app.config.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	// Set a timeout value on the request context (ctx), that will signal
	// through ctx.Done() that the request has timed out and further
	// processing should be stopped.
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", app.healthCheckHandler)

		r.Route("/credit-notes", func(r chi.Router) {
			r.Get("/", app.handleListCreditNotes)
			r.Post("/", app.handleCreateCreditNote)
			r.Get("/{id}", app.handleGetCreditNote)
			r.Put("/{id}", app.handleUpdateCreditNote)
			r.Patch("/{id}/collected", app.handleSetCollected)
			r.Post("/{id}/per-diems", app.handleCreatePerDiem)
		})

		r.Route("/commitments", func(r chi.Router) {
			r.Get("/", app.handleListCommitments)
			r.Post("/", app.handleCreateCommitment)
			r.Get("/{id}", app.handleGetCommitment)
			r.Put("/{id}", app.handleEditCommitment)
			r.Delete("/{id}", app.handleDeleteCommitment)
			r.Get("/{id}/residual", app.handleGetResidual)
			r.Post("/{id}/deliveries", app.handleCreateDelivery)
		})

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/{id}", app.handleGetDelivery)
			r.Patch("/{id}/stage", app.handleAdvanceDelivery)
			r.Post("/{id}/due-date/lock", app.handleLockDueDate)
			r.Post("/{id}/due-date/extend", app.handleExtendDueDate)
			r.Post("/{id}/liquidate", app.handleLiquidateDelivery)
		})

		r.Delete("/per-diems/{id}", app.handleDeletePerDiem)

		r.Get("/reports/execution", app.handleExecutionReport)
	})

	return r
}

func (app *application) run(mux http.Handler) error {

	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 120,
		ReadTimeout:  time.Second * 40,
		IdleTimeout:  time.Minute,
	}

	app.logger.WithField("addr", app.config.addr).Info("server started")
	return srv.ListenAndServe()
}
