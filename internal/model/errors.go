package model

import "github.com/rotisserie/eris"

// ErrIneligibleEvents is returned by stores when a reservation request names
// events that are missing, not owned by the artist, already paid, or already
// reserved by another payout.
var ErrIneligibleEvents = eris.New("some events not found, already paid, or not owned")

// ErrSettlementConflict is returned when finalizing a payout finds that some
// of its events are no longer pending.
var ErrSettlementConflict = eris.New("royalty events changed during settlement")
