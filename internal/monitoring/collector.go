package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/royalty-engine/internal/model"
	"github.com/sells-group/royalty-engine/internal/store"
)

// MetricsSnapshot holds a point-in-time view of settlement health.
type MetricsSnapshot struct {
	// Payouts created within the lookback window.
	PayoutsTotal     int   `json:"payouts_total"`
	PayoutsCompleted int   `json:"payouts_completed"`
	PaidCents        int64 `json:"paid_cents"`

	// Pending payouts of any age. A payout stays pending when finalization
	// failed after a successful transfer.
	PayoutsPending       int      `json:"payouts_pending"`
	StuckPayouts         int      `json:"stuck_payouts"`
	StuckPayoutIDs       []string `json:"stuck_payout_ids,omitempty"`
	OldestPendingMinutes int      `json:"oldest_pending_minutes"`

	// Royalty events.
	EventsCreated int `json:"events_created"`
	EventBacklog  int `json:"event_backlog"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the subset of store.Store the collector reads.
type Source interface {
	ListPayouts(ctx context.Context, filter store.PayoutFilter) ([]model.Payout, error)
	CountEvents(ctx context.Context, filter store.EventFilter) (int, error)
}

// Collector gathers settlement metrics from the store.
type Collector struct {
	src        Source
	stuckAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a new metrics collector. Pending payouts older than
// stuckAfter are reported as stuck.
func NewCollector(src Source, stuckAfter time.Duration) *Collector {
	if stuckAfter <= 0 {
		stuckAfter = 15 * time.Minute
	}
	return &Collector{src: src, stuckAfter: stuckAfter, now: time.Now}
}

// Collect gathers a snapshot of settlement metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	recent, err := c.src.ListPayouts(ctx, store.PayoutFilter{CreatedAfter: cutoff, Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list recent payouts")
	}
	snap.PayoutsTotal = len(recent)
	for _, p := range recent {
		if p.Status == model.PayoutStatusCompleted {
			snap.PayoutsCompleted++
			snap.PaidCents += p.AmountCents
		}
	}

	pending, err := c.src.ListPayouts(ctx, store.PayoutFilter{Status: model.PayoutStatusPending, Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list pending payouts")
	}
	snap.PayoutsPending = len(pending)
	for _, p := range pending {
		age := now.Sub(p.CreatedAt)
		if m := int(age.Minutes()); m > snap.OldestPendingMinutes {
			snap.OldestPendingMinutes = m
		}
		if age >= c.stuckAfter {
			snap.StuckPayouts++
			snap.StuckPayoutIDs = append(snap.StuckPayoutIDs, p.ID)
		}
	}

	created, err := c.src.CountEvents(ctx, store.EventFilter{VerifiedAfter: cutoff})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count recent events")
	}
	snap.EventsCreated = created

	backlog, err := c.src.CountEvents(ctx, store.EventFilter{Status: model.EventStatusPending})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count pending events")
	}
	snap.EventBacklog = backlog

	return snap, nil
}
