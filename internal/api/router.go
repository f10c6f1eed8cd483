// Package api exposes payouts and dual-proof lookups over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/sells-group/royalty-engine/internal/model"
	"github.com/sells-group/royalty-engine/internal/settlement"
)

// Settlement is the payout service behind the /v1/payouts routes.
type Settlement interface {
	Preview(ctx context.Context, caller, artistID string) (*settlement.Preview, error)
	Create(ctx context.Context, caller, artistID string, eventIDs []string) (*settlement.Receipt, error)
	Receipt(ctx context.Context, caller, payoutID string) (*settlement.Receipt, error)
	VerifyReceipt(ctx context.Context, caller, payoutID string) (*settlement.Verification, error)
	ListPayouts(ctx context.Context, caller string, limit, offset int) (*settlement.History, error)
}

// Correlator answers dual-proof lookups.
type Correlator interface {
	Correlate(ctx context.Context, id string, kind model.EntityKind) (model.Correlation, error)
	ForTrack(ctx context.Context, trackID string, at time.Time) (model.Correlation, error)
}

// Pinger reports datastore health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the HTTP API.
type Handler struct {
	payouts    Settlement
	correlator Correlator
	db         Pinger
	now        func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(payouts Settlement, correlator Correlator, db Pinger) *Handler {
	return &Handler{payouts: payouts, correlator: correlator, db: db, now: time.Now}
}

// NewRouter builds the chi router. corsOrigins lists allowed browser origins.
func NewRouter(h *Handler, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", headerArtistID, headerRequestID},
		ExposedHeaders: []string{headerRequestID},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/payouts", func(r chi.Router) {
			r.Use(identityMiddleware)
			r.Get("/", h.listPayouts)
			r.Get("/preview", h.previewPayout)
			r.Post("/", h.createPayout)
			r.Get("/{id}/receipt", h.getReceipt)
			r.Get("/{id}/verify", h.verifyReceipt)
		})

		r.Route("/dual-proof", func(r chi.Router) {
			r.Get("/results/{id}", h.resultProof)
			r.Get("/usage-logs/{id}", h.usageLogProof)
			r.Get("/tracks/{id}", h.trackProof)
		})
	})
	return r
}
