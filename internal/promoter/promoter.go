// Package promoter turns correlated (result, usage log) pairs into royalty
// events. It is safe to run several promoters at once: the store inserts at
// most one event per result and reports the loser of a race as a conflict.
package promoter

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/royalty-engine/internal/config"
	"github.com/sells-group/royalty-engine/internal/correlate"
	"github.com/sells-group/royalty-engine/internal/model"
	"github.com/sells-group/royalty-engine/internal/proof"
	"github.com/sells-group/royalty-engine/internal/royalty"
)

// defaultConfidence stands in for a usage log that reported no confidence.
const defaultConfidence = 0.9

// Store is the persistence the promoter needs.
type Store interface {
	// RecentResults returns up to limit results with similarity >= minSimilarity
	// created at or after since, newest first.
	RecentResults(ctx context.Context, minSimilarity float64, since time.Time, limit int) ([]model.AttributionResult, error)
	EventExistsForResult(ctx context.Context, resultID string) (bool, error)
	UsageLogsInWindow(ctx context.Context, trackID string, from, to time.Time) ([]model.UsageLog, error)
	// InsertRoyaltyEvent inserts ev unless an event for ev.ResultID exists.
	// It reports whether a row was written.
	InsertRoyaltyEvent(ctx context.Context, ev *model.RoyaltyEvent) (bool, error)
}

// Config controls a promoter.
type Config struct {
	Threshold    float64
	TimeWindow   time.Duration
	LogWindow    time.Duration
	BatchSize    int
	PollInterval time.Duration
	DryRun       bool
	BaseRate     float64
}

// ConfigFrom builds a promoter Config from application settings.
func ConfigFrom(a config.AuditorConfig, r config.RoyaltyConfig) Config {
	return Config{
		Threshold:    a.SimilarityThreshold,
		TimeWindow:   time.Duration(a.TimeWindowHours) * time.Hour,
		LogWindow:    time.Duration(a.SDKLogWindowMinutes) * time.Minute,
		BatchSize:    a.BatchSize,
		PollInterval: time.Duration(a.PollingInterval) * time.Second,
		DryRun:       a.DryRun,
		BaseRate:     r.BaseRate,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 0.85
	}
	if c.TimeWindow <= 0 {
		c.TimeWindow = 24 * time.Hour
	}
	if c.LogWindow <= 0 {
		c.LogWindow = 60 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.BaseRate <= 0 {
		c.BaseRate = royalty.DefaultBaseRate
	}
	return c
}

// CycleStats counts what happened to each result in one cycle.
type CycleStats struct {
	Processed        int `json:"processed"`
	AlreadyProcessed int `json:"already_processed"`
	Matched          int `json:"matched"`
	EventsCreated    int `json:"events_created"`
	NoSDKLog         int `json:"no_sdk_log"`
	Errors           int `json:"errors"`
}

// Promoter runs promotion cycles.
type Promoter struct {
	store Store
	cfg   Config
	calc  *royalty.Calculator
	now   func() time.Time
	log   *zap.Logger
}

// New returns a Promoter. Zero config values fall back to the defaults.
func New(store Store, cfg Config) *Promoter {
	cfg = cfg.withDefaults()
	return &Promoter{
		store: store,
		cfg:   cfg,
		calc:  royalty.NewCalculator(cfg.BaseRate),
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "promoter")),
	}
}

// RunCycle processes one batch of recent qualifying results. Only a failure
// to fetch the batch is returned as an error; per-result failures are
// counted in Errors and the cycle moves on.
func (p *Promoter) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	start := p.now()

	results, err := p.store.RecentResults(ctx, p.cfg.Threshold, start.Add(-p.cfg.TimeWindow), p.cfg.BatchSize)
	if err != nil {
		return stats, eris.Wrap(err, "promoter: fetch recent results")
	}

	for i := range results {
		if ctx.Err() != nil {
			break
		}
		stats.Processed++
		p.promote(ctx, &results[i], &stats)
	}

	p.log.Info("promotion cycle complete",
		zap.Int("processed", stats.Processed),
		zap.Int("already_processed", stats.AlreadyProcessed),
		zap.Int("matched", stats.Matched),
		zap.Int("events_created", stats.EventsCreated),
		zap.Int("no_sdk_log", stats.NoSDKLog),
		zap.Int("errors", stats.Errors),
		zap.Bool("dry_run", p.cfg.DryRun),
		zap.Duration("elapsed", time.Since(start)),
	)
	return stats, nil
}

func (p *Promoter) promote(ctx context.Context, r *model.AttributionResult, stats *CycleStats) {
	log := p.log.With(zap.String("result_id", r.ID), zap.String("track_id", r.TrackID))

	exists, err := p.store.EventExistsForResult(ctx, r.ID)
	if err != nil {
		log.Warn("event lookup failed", zap.Error(err))
		stats.Errors++
		return
	}
	if exists {
		stats.AlreadyProcessed++
		return
	}

	logs, err := p.store.UsageLogsInWindow(ctx, r.TrackID, r.CreatedAt.Add(-p.cfg.LogWindow), r.CreatedAt.Add(p.cfg.LogWindow))
	if err != nil {
		log.Warn("usage log lookup failed", zap.Error(err))
		stats.Errors++
		return
	}
	ul, ok := correlate.ClosestUsageLog(logs, r.CreatedAt)
	if !ok {
		stats.NoSDKLog++
		return
	}
	stats.Matched++

	if p.cfg.DryRun {
		log.Info("dry run: would create royalty event", zap.String("usage_log_id", ul.ID))
		return
	}

	ev := p.buildEvent(r, &ul)
	inserted, err := p.store.InsertRoyaltyEvent(ctx, ev)
	if err != nil {
		log.Warn("insert royalty event failed", zap.Error(err))
		stats.Errors++
		return
	}
	if !inserted {
		stats.AlreadyProcessed++
		return
	}

	stats.EventsCreated++
	log.Info("royalty event created",
		zap.String("event_id", ev.ID),
		zap.String("usage_log_id", ul.ID),
		zap.Float64("payout_weight", ev.PayoutWeight),
		zap.Float64("amount", ev.Amount),
	)
}

func (p *Promoter) buildEvent(r *model.AttributionResult, ul *model.UsageLog) *model.RoyaltyEvent {
	confidence := defaultConfidence
	if ul.Confidence != nil {
		confidence = *ul.Confidence
	}

	tier := royalty.ParseTier(ul.Tier())
	eval := p.calc.Evaluate(royalty.Input{
		Similarity:      r.Similarity,
		SDKConfidence:   confidence,
		DurationSeconds: r.DurationSeconds(),
		Tier:            tier,
	})

	id := uuid.NewString()
	meta := map[string]any{
		"partner_id":         ul.PartnerID,
		"model_id":           ul.ModelID,
		"sdk_confidence":     confidence,
		"time_delta_seconds": math.Abs(ul.CreatedAt.Sub(r.CreatedAt).Seconds()),
		"proof_hash":         proof.EventHash(id, r.TrackID, eval.Amount, eval.MatchConfidence, ""),
	}
	if tier != "" {
		meta["tier"] = string(tier)
	}
	if d := r.DurationSeconds(); d != nil {
		meta["duration_seconds"] = *d
	}

	return &model.RoyaltyEvent{
		ID:              id,
		TrackID:         r.TrackID,
		ResultID:        r.ID,
		UsageLogID:      ul.ID,
		EventType:       model.EventTypeDualProof,
		Similarity:      r.Similarity,
		MatchConfidence: eval.MatchConfidence,
		PayoutWeight:    eval.Weight,
		Amount:          eval.Amount,
		Status:          model.EventStatusPending,
		VerifiedAt:      p.now().UTC(),
		Metadata:        meta,
	}
}

// Run executes a cycle immediately and then every poll interval until ctx is
// cancelled. A failed cycle is logged and the loop continues.
func (p *Promoter) Run(ctx context.Context) {
	p.log.Info("starting promoter",
		zap.Duration("interval", p.cfg.PollInterval),
		zap.Float64("threshold", p.cfg.Threshold),
		zap.Duration("time_window", p.cfg.TimeWindow),
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Bool("dry_run", p.cfg.DryRun),
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := p.RunCycle(ctx); err != nil {
			p.log.Error("promotion cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			p.log.Info("promoter stopped")
			return
		case <-ticker.C:
		}
	}
}
