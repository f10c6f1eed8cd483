// Package store persists tracks, attribution evidence, royalty events and
// payouts in Postgres or SQLite.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/royalty-engine/internal/correlate"
	"github.com/sells-group/royalty-engine/internal/model"
	"github.com/sells-group/royalty-engine/internal/promoter"
	"github.com/sells-group/royalty-engine/internal/settlement"
)

// PayoutFilter specifies criteria for listing payouts.
type PayoutFilter struct {
	Status        model.PayoutStatus `json:"status,omitempty"`
	ArtistID      string             `json:"artist_id,omitempty"`
	CreatedAfter  time.Time          `json:"created_after,omitempty"`
	CreatedBefore time.Time          `json:"created_before,omitempty"`
	Limit         int                `json:"limit,omitempty"`
}

// EventFilter specifies criteria for counting royalty events.
type EventFilter struct {
	Status        model.EventStatus `json:"status,omitempty"`
	VerifiedAfter time.Time         `json:"verified_after,omitempty"`
}

// Store defines the persistence interface for attribution and settlement.
type Store interface {
	// Ingest
	UpsertArtist(ctx context.Context, a model.Artist) error
	UpsertTrack(ctx context.Context, t model.Track) error
	InsertResult(ctx context.Context, r *model.AttributionResult) error
	InsertUsageLog(ctx context.Context, l *model.UsageLog) error

	// Evidence
	GetResult(ctx context.Context, id string) (*model.AttributionResult, error)
	GetUsageLog(ctx context.Context, id string) (*model.UsageLog, error)
	RecentResults(ctx context.Context, minSimilarity float64, since time.Time, limit int) ([]model.AttributionResult, error)
	ResultsInWindow(ctx context.Context, trackID string, from, to time.Time, minSimilarity float64) ([]model.AttributionResult, error)
	UsageLogsInWindow(ctx context.Context, trackID string, from, to time.Time) ([]model.UsageLog, error)

	// Royalty events
	InsertRoyaltyEvent(ctx context.Context, ev *model.RoyaltyEvent) (bool, error)
	EventExistsForResult(ctx context.Context, resultID string) (bool, error)
	EventByResult(ctx context.Context, resultID string) (*model.RoyaltyEvent, error)
	EventByUsageLog(ctx context.Context, usageLogID string) (*model.RoyaltyEvent, error)
	CountEvents(ctx context.Context, filter EventFilter) (int, error)

	// Settlement
	ListUnpaidEvents(ctx context.Context, artistID string) ([]model.UnpaidEvent, error)
	ReservePayout(ctx context.Context, payoutID, artistID string, eventIDs []string) (*model.Reservation, error)
	ArtistWallet(ctx context.Context, artistID string) (*string, error)
	CompletePayout(ctx context.Context, payoutID, txHash string, demo bool, eventIDs []string, at time.Time) error
	ReleasePayout(ctx context.Context, payoutID string) error
	GetPayout(ctx context.Context, payoutID string) (*model.Payout, error)
	ListPayoutItems(ctx context.Context, payoutID string) ([]model.PayoutItem, error)
	ListPayouts(ctx context.Context, filter PayoutFilter) ([]model.Payout, error)
	ArtistPayouts(ctx context.Context, artistID string, limit, offset int) ([]model.PayoutSummary, int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ correlate.Store  = Store(nil)
	_ promoter.Store   = Store(nil)
	_ settlement.Store = Store(nil)

	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

const defaultListLimit = 1000

func newID() string { return uuid.New().String() }

func marshalMeta(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal metadata")
	}
	return b, nil
}

func unmarshalMeta(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal metadata")
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// orderItems returns locked (event id, amount) pairs as payout items in the
// order the caller listed the events.
func orderItems(payoutID string, eventIDs []string, amounts map[string]float64, now time.Time) ([]model.PayoutItem, int64) {
	items := make([]model.PayoutItem, 0, len(eventIDs))
	var total int64
	for _, id := range eventIDs {
		cents := model.ToCents(amounts[id])
		items = append(items, model.PayoutItem{
			ID:          newID(),
			PayoutID:    payoutID,
			EventID:     id,
			AmountCents: cents,
			CreatedAt:   now,
		})
		total += cents
	}
	return items, total
}
