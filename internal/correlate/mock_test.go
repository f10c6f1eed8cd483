package correlate

import (
	"context"
	"time"

	"github.com/sells-group/royalty-engine/internal/model"
)

// memStore is an in-memory Store for correlator tests.
type memStore struct {
	results []model.AttributionResult
	logs    []model.UsageLog
	events  []model.RoyaltyEvent
	err     error
}

func (m *memStore) GetResult(_ context.Context, id string) (*model.AttributionResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.results {
		if m.results[i].ID == id {
			r := m.results[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetUsageLog(_ context.Context, id string) (*model.UsageLog, error) {
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.logs {
		if m.logs[i].ID == id {
			l := m.logs[i]
			return &l, nil
		}
	}
	return nil, nil
}

func (m *memStore) EventByResult(_ context.Context, resultID string) (*model.RoyaltyEvent, error) {
	for i := range m.events {
		if m.events[i].ResultID == resultID {
			e := m.events[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (m *memStore) EventByUsageLog(_ context.Context, usageLogID string) (*model.RoyaltyEvent, error) {
	for i := range m.events {
		if m.events[i].UsageLogID == usageLogID {
			e := m.events[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (m *memStore) UsageLogsInWindow(_ context.Context, trackID string, from, to time.Time) ([]model.UsageLog, error) {
	var out []model.UsageLog
	for _, l := range m.logs {
		if l.TrackID == trackID && !l.CreatedAt.Before(from) && !l.CreatedAt.After(to) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) ResultsInWindow(_ context.Context, trackID string, from, to time.Time, minSimilarity float64) ([]model.AttributionResult, error) {
	var out []model.AttributionResult
	for _, r := range m.results {
		if r.TrackID == trackID && r.Similarity >= minSimilarity && !r.CreatedAt.Before(from) && !r.CreatedAt.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}
