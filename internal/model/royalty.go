package model

import "time"

// EventStatus is the lifecycle state of a royalty event.
type EventStatus string

const (
	EventStatusPending  EventStatus = "pending"
	EventStatusApproved EventStatus = "approved"
	EventStatusPaid     EventStatus = "paid"
	EventStatusDisputed EventStatus = "disputed"
)

// EventTypeDualProof marks events promoted from a correlated result and usage log.
const EventTypeDualProof = "dual_proof_verified"

// RoyaltyEvent is the durable proof that a result and a usage log correlate.
// At most one event exists per ResultID.
type RoyaltyEvent struct {
	ID              string         `json:"id"`
	TrackID         string         `json:"track_id"`
	ResultID        string         `json:"result_id"`
	UsageLogID      string         `json:"usage_log_id"`
	EventType       string         `json:"event_type"`
	Similarity      float64        `json:"similarity"`
	MatchConfidence float64        `json:"match_confidence"`
	PayoutWeight    float64        `json:"payout_weight"`
	Amount          float64        `json:"amount"`
	Status          EventStatus    `json:"status"`
	VerifiedAt      time.Time      `json:"verified_at"`
	PaidAt          *time.Time     `json:"paid_at,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Payable reports whether the event can still be included in a payout.
func (e RoyaltyEvent) Payable() bool {
	return e.Status == EventStatusPending && e.PaidAt == nil
}
