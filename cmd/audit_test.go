package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/royalty-engine/internal/promoter"
)

type fakeCycle struct {
	stats promoter.CycleStats
	err   error
	calls int
}

func (f *fakeCycle) RunCycle(context.Context) (promoter.CycleStats, error) {
	f.calls++
	return f.stats, f.err
}

func TestRunAuditOnce(t *testing.T) {
	tests := []struct {
		name    string
		cycle   *fakeCycle
		wantErr string
	}{
		{
			name:  "clean cycle",
			cycle: &fakeCycle{stats: promoter.CycleStats{Processed: 3, Matched: 2, EventsCreated: 2, NoSDKLog: 1}},
		},
		{
			name:  "nothing to do",
			cycle: &fakeCycle{},
		},
		{
			name:    "per-result failures",
			cycle:   &fakeCycle{stats: promoter.CycleStats{Processed: 3, EventsCreated: 1, Errors: 2}},
			wantErr: "audit: 2 result(s) failed",
		},
		{
			name:    "batch fetch failure",
			cycle:   &fakeCycle{err: errors.New("connection refused")},
			wantErr: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runAuditOnce(context.Background(), tt.cycle)
			assert.Equal(t, 1, tt.cycle.calls)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunAuditOnce_PromotesSeededPair(t *testing.T) {
	st := openSeedStore(t)
	ctx := context.Background()

	res, err := seedDualProof(ctx, st, false, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, runAuditOnce(ctx, promoter.New(st, promoter.Config{})))

	ev, err := st.EventByResult(ctx, res.ResultID)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, res.UsageLogID, ev.UsageLogID)
}

func TestRunAuditOnce_ClosedStoreFails(t *testing.T) {
	st := openSeedStore(t)
	require.NoError(t, st.Close())

	err := runAuditOnce(context.Background(), promoter.New(st, promoter.Config{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit")
}
