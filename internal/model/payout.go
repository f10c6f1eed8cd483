package model

import (
	"math"
	"time"
)

// PayoutStatus is the state of a settlement batch.
type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusCompleted PayoutStatus = "completed"
)

// Payout is one settlement batch for one artist. AmountCents always equals
// the sum of its items.
type Payout struct {
	ID          string       `json:"id"`
	ArtistID    string       `json:"artist_id"`
	AmountCents int64        `json:"amount_cents"`
	TxHash      string       `json:"tx_hash,omitempty"`
	Demo        bool         `json:"demo"`
	Status      PayoutStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// PayoutSummary is a payout with the number of events it covers.
type PayoutSummary struct {
	Payout
	ItemCount int `json:"item_count"`
}

// PayoutItem is one royalty event's contribution to a payout. An event id
// appears in at most one item across all payouts.
type PayoutItem struct {
	ID          string    `json:"id"`
	PayoutID    string    `json:"payout_id"`
	EventID     string    `json:"event_id"`
	AmountCents int64     `json:"amount_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

// UnpaidEvent is a payable royalty event joined with its track.
type UnpaidEvent struct {
	EventID     string         `json:"event_id"`
	TrackID     string         `json:"track_id"`
	TrackTitle  string         `json:"track_title"`
	Amount      float64        `json:"amount_usd"`
	AmountCents int64          `json:"amount_cents"`
	Similarity  float64        `json:"similarity"`
	VerifiedAt  time.Time      `json:"verified_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Reservation is the set of rows written when events are locked into a
// pending payout.
type Reservation struct {
	Payout Payout
	Items  []PayoutItem
}

// ToCents converts a USD amount to integer cents, rounding half away from zero.
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CentsToUSD converts cents back to a USD amount.
func CentsToUSD(cents int64) float64 {
	return float64(cents) / 100
}
