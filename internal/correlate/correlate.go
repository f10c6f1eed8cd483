// Package correlate derives the dual-proof state of an attribution result or
// a usage log. It only reads; promotion into royalty events happens in the
// promoter job.
package correlate

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/royalty-engine/internal/model"
)

// Defaults for the read-side correlation window and similarity threshold.
const (
	DefaultWindow    = 10 * time.Minute
	DefaultThreshold = 0.85
)

// Store is the read access the correlator needs. Single-row getters return
// nil, nil when the row does not exist.
type Store interface {
	GetResult(ctx context.Context, id string) (*model.AttributionResult, error)
	GetUsageLog(ctx context.Context, id string) (*model.UsageLog, error)
	EventByResult(ctx context.Context, resultID string) (*model.RoyaltyEvent, error)
	EventByUsageLog(ctx context.Context, usageLogID string) (*model.RoyaltyEvent, error)
	UsageLogsInWindow(ctx context.Context, trackID string, from, to time.Time) ([]model.UsageLog, error)
	ResultsInWindow(ctx context.Context, trackID string, from, to time.Time, minSimilarity float64) ([]model.AttributionResult, error)
}

// Config controls correlation.
type Config struct {
	Window    time.Duration
	Threshold float64
}

// Correlator answers dual-proof queries.
type Correlator struct {
	store Store
	cfg   Config
	log   *zap.Logger
}

// New returns a Correlator. Zero config values fall back to the defaults.
func New(store Store, cfg Config) *Correlator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Correlator{
		store: store,
		cfg:   cfg,
		log:   zap.L().With(zap.String("component", "correlator")),
	}
}

// Correlate returns the dual-proof state of the entity. A missing entity
// yields NoProof; only datastore failures return an error.
func (c *Correlator) Correlate(ctx context.Context, id string, kind model.EntityKind) (model.Correlation, error) {
	switch kind {
	case model.EntityResult:
		r, err := c.store.GetResult(ctx, id)
		if err != nil {
			return model.Correlation{}, eris.Wrapf(err, "correlate: get result %s", id)
		}
		if r == nil {
			return model.Correlation{State: model.NoProof{}, ResultID: id}, nil
		}
		return c.fromResult(ctx, r)
	case model.EntityUsageLog:
		l, err := c.store.GetUsageLog(ctx, id)
		if err != nil {
			return model.Correlation{}, eris.Wrapf(err, "correlate: get usage log %s", id)
		}
		if l == nil {
			return model.Correlation{State: model.NoProof{}, UsageLogID: id}, nil
		}
		return c.fromUsageLog(ctx, l)
	default:
		return model.Correlation{}, eris.Errorf("correlate: unknown entity kind %q", kind)
	}
}

// ForTrack correlates the qualifying result on trackID closest to at.
func (c *Correlator) ForTrack(ctx context.Context, trackID string, at time.Time) (model.Correlation, error) {
	results, err := c.store.ResultsInWindow(ctx, trackID, at.Add(-c.cfg.Window), at.Add(c.cfg.Window), c.cfg.Threshold)
	if err != nil {
		return model.Correlation{}, eris.Wrapf(err, "correlate: results for track %s", trackID)
	}

	best, ok := Closest(results, at, resultTime, resultID)
	if !ok {
		return model.Correlation{State: model.NoProof{}}, nil
	}
	return c.fromResult(ctx, &best)
}

func (c *Correlator) fromResult(ctx context.Context, r *model.AttributionResult) (model.Correlation, error) {
	sim := r.Similarity
	out := model.Correlation{State: model.NoProof{}, ResultID: r.ID, Similarity: &sim}

	if r.Similarity < c.cfg.Threshold {
		return out, nil
	}

	ev, err := c.store.EventByResult(ctx, r.ID)
	if err != nil {
		return model.Correlation{}, eris.Wrapf(err, "correlate: event for result %s", r.ID)
	}
	if ev != nil && ev.TrackID == r.TrackID {
		out.State = model.ConfirmedProof{RoyaltyEventID: ev.ID}
		out.UsageLogID = ev.UsageLogID

		l, err := c.store.GetUsageLog(ctx, ev.UsageLogID)
		if err != nil {
			return model.Correlation{}, eris.Wrapf(err, "correlate: get usage log %s", ev.UsageLogID)
		}
		if l != nil {
			out.SDKConfidence = l.Confidence
		}
		return out, nil
	}

	logs, err := c.store.UsageLogsInWindow(ctx, r.TrackID, r.CreatedAt.Add(-c.cfg.Window), r.CreatedAt.Add(c.cfg.Window))
	if err != nil {
		return model.Correlation{}, eris.Wrapf(err, "correlate: usage logs for result %s", r.ID)
	}
	if l, ok := Closest(logs, r.CreatedAt, usageLogTime, usageLogID); ok {
		out.State = model.PendingProof{CounterpartID: l.ID}
		out.UsageLogID = l.ID
		out.SDKConfidence = l.Confidence
	}

	c.log.Debug("correlated result",
		zap.String("result_id", r.ID),
		zap.String("status", string(out.State.Status())),
	)
	return out, nil
}

func (c *Correlator) fromUsageLog(ctx context.Context, l *model.UsageLog) (model.Correlation, error) {
	out := model.Correlation{State: model.NoProof{}, UsageLogID: l.ID, SDKConfidence: l.Confidence}

	ev, err := c.store.EventByUsageLog(ctx, l.ID)
	if err != nil {
		return model.Correlation{}, eris.Wrapf(err, "correlate: event for usage log %s", l.ID)
	}
	if ev != nil && ev.TrackID == l.TrackID {
		sim := ev.Similarity
		out.State = model.ConfirmedProof{RoyaltyEventID: ev.ID}
		out.ResultID = ev.ResultID
		out.Similarity = &sim
		return out, nil
	}

	results, err := c.store.ResultsInWindow(ctx, l.TrackID, l.CreatedAt.Add(-c.cfg.Window), l.CreatedAt.Add(c.cfg.Window), c.cfg.Threshold)
	if err != nil {
		return model.Correlation{}, eris.Wrapf(err, "correlate: results for usage log %s", l.ID)
	}
	if r, ok := Closest(results, l.CreatedAt, resultTime, resultID); ok {
		sim := r.Similarity
		out.State = model.PendingProof{CounterpartID: r.ID}
		out.ResultID = r.ID
		out.Similarity = &sim
	}

	c.log.Debug("correlated usage log",
		zap.String("usage_log_id", l.ID),
		zap.String("status", string(out.State.Status())),
	)
	return out, nil
}
