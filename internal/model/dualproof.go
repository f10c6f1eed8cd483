package model

import "encoding/json"

// ProofStatus names the three dual-proof states.
type ProofStatus string

const (
	ProofNone      ProofStatus = "none"
	ProofPending   ProofStatus = "pending"
	ProofConfirmed ProofStatus = "confirmed"
)

// DualProofState is the derived correlation state of a result or usage log.
// It is one of NoProof, PendingProof or ConfirmedProof and is never stored.
type DualProofState interface {
	Status() ProofStatus
	dualProofState()
}

// NoProof means no counterpart evidence was found.
type NoProof struct{}

// PendingProof means a counterpart exists in the window but no royalty event
// confirms the pair yet.
type PendingProof struct {
	CounterpartID string
}

// ConfirmedProof means a royalty event links the result and the usage log.
type ConfirmedProof struct {
	RoyaltyEventID string
}

func (NoProof) Status() ProofStatus        { return ProofNone }
func (PendingProof) Status() ProofStatus   { return ProofPending }
func (ConfirmedProof) Status() ProofStatus { return ProofConfirmed }

func (NoProof) dualProofState()        {}
func (PendingProof) dualProofState()   {}
func (ConfirmedProof) dualProofState() {}

// EntityKind selects which side of the pair a correlation starts from.
type EntityKind string

const (
	EntityResult   EntityKind = "result"
	EntityUsageLog EntityKind = "usage_log"
)

// Correlation is a dual-proof state plus the values shown alongside it.
type Correlation struct {
	State         DualProofState
	ResultID      string
	UsageLogID    string
	Similarity    *float64
	SDKConfidence *float64
}

// RoyaltyEventID returns the confirming event id, or "" when not confirmed.
func (c Correlation) RoyaltyEventID() string {
	if s, ok := c.State.(ConfirmedProof); ok {
		return s.RoyaltyEventID
	}
	return ""
}

// MarshalJSON flattens the state into the wire shape used by the API.
func (c Correlation) MarshalJSON() ([]byte, error) {
	state := c.State
	if state == nil {
		state = NoProof{}
	}
	out := struct {
		Status         ProofStatus `json:"status"`
		ResultID       *string     `json:"result_id"`
		UsageLogID     *string     `json:"sdk_log_id"`
		RoyaltyEventID *string     `json:"royalty_event_id"`
		Similarity     *float64    `json:"similarity"`
		SDKConfidence  *float64    `json:"sdk_confidence"`
	}{
		Status:         state.Status(),
		ResultID:       nonEmpty(c.ResultID),
		UsageLogID:     nonEmpty(c.UsageLogID),
		RoyaltyEventID: nonEmpty(c.RoyaltyEventID()),
		Similarity:     c.Similarity,
		SDKConfidence:  c.SDKConfidence,
	}
	return json.Marshal(out)
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
