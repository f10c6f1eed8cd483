package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/royalty-engine/internal/model"
	"github.com/sells-group/royalty-engine/internal/store"
)

// mockSource implements Source for testing.
type mockSource struct {
	payouts  []model.Payout
	events   []model.RoyaltyEvent
	listErr  error
	countErr error
}

func (m *mockSource) ListPayouts(_ context.Context, filter store.PayoutFilter) ([]model.Payout, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.Payout
	for _, p := range m.payouts {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if !filter.CreatedAfter.IsZero() && p.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *mockSource) CountEvents(_ context.Context, filter store.EventFilter) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	n := 0
	for _, e := range m.events {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if !filter.VerifiedAfter.IsZero() && e.VerifiedAt.Before(filter.VerifiedAfter) {
			continue
		}
		n++
	}
	return n, nil
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestCollector(src Source) *Collector {
	c := NewCollector(src, 15*time.Minute)
	c.now = func() time.Time { return now }
	return c
}

func TestCollector_Collect(t *testing.T) {
	src := &mockSource{
		payouts: []model.Payout{
			{ID: "done", Status: model.PayoutStatusCompleted, AmountCents: 550, CreatedAt: now.Add(-2 * time.Hour)},
			{ID: "fresh", Status: model.PayoutStatusPending, AmountCents: 100, CreatedAt: now.Add(-time.Minute)},
			{ID: "stuck", Status: model.PayoutStatusPending, AmountCents: 200, CreatedAt: now.Add(-40 * time.Minute)},
			{ID: "ancient", Status: model.PayoutStatusPending, AmountCents: 300, CreatedAt: now.Add(-48 * time.Hour)},
		},
		events: []model.RoyaltyEvent{
			{Status: model.EventStatusPending, VerifiedAt: now.Add(-time.Hour)},
			{Status: model.EventStatusPending, VerifiedAt: now.Add(-72 * time.Hour)},
			{Status: model.EventStatusPaid, VerifiedAt: now.Add(-3 * time.Hour)},
		},
	}

	snap, err := newTestCollector(src).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.PayoutsTotal)
	assert.Equal(t, 1, snap.PayoutsCompleted)
	assert.Equal(t, int64(550), snap.PaidCents)
	assert.Equal(t, 3, snap.PayoutsPending)
	assert.Equal(t, 2, snap.StuckPayouts)
	assert.ElementsMatch(t, []string{"stuck", "ancient"}, snap.StuckPayoutIDs)
	assert.Equal(t, 48*60, snap.OldestPendingMinutes)
	assert.Equal(t, 2, snap.EventsCreated)
	assert.Equal(t, 2, snap.EventBacklog)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := newTestCollector(&mockSource{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.PayoutsTotal)
	assert.Zero(t, snap.StuckPayouts)
	assert.Nil(t, snap.StuckPayoutIDs)
}

func TestCollector_ListError(t *testing.T) {
	_, err := newTestCollector(&mockSource{listErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list recent payouts")
}

func TestCollector_CountError(t *testing.T) {
	_, err := newTestCollector(&mockSource{countErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count recent events")
}

func TestNewCollector_DefaultStuckAfter(t *testing.T) {
	c := NewCollector(&mockSource{}, 0)
	assert.Equal(t, 15*time.Minute, c.stuckAfter)
}
