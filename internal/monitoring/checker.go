package monitoring

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/royalty-engine/internal/config"
)

// Checker collects settlement metrics on an interval and forwards any
// breached thresholds to the alerter. An alert set identical to the previous
// check is not resent.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	log       *zap.Logger

	lastSent string
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	lookback := cfg.LookbackWindowHours
	if lookback <= 0 {
		lookback = 24
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  lookback,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Run checks once immediately and then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("starting alert checker",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			c.log.Info("alert checker stopped")
			return
		}
		c.Check(ctx)

		select {
		case <-ctx.Done():
			c.log.Info("alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check runs a single collection and returns the alerts it raised, including
// ones suppressed as repeats. Collection failures are logged and yield nil.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}

	if snap.StuckPayouts > 0 {
		c.log.Warn("monitoring: payouts awaiting reconciliation",
			zap.Strings("payout_ids", snap.StuckPayoutIDs),
			zap.Int("oldest_pending_minutes", snap.OldestPendingMinutes),
		)
	}

	alerts := c.alerter.Evaluate(snap)
	key := alertKey(alerts, snap)
	if len(alerts) == 0 {
		c.lastSent = ""
		c.log.Debug("monitoring: no alerts triggered",
			zap.Int("payouts_pending", snap.PayoutsPending),
			zap.Int("event_backlog", snap.EventBacklog),
		)
		return nil
	}
	if key == c.lastSent {
		c.log.Debug("monitoring: alerts unchanged since last check", zap.Int("alerts", len(alerts)))
		return alerts
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	if sent == len(alerts) {
		c.lastSent = key
	}
	c.log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}

// alertKey identifies an alert set by type and the stuck payouts it names.
func alertKey(alerts []Alert, snap *MetricsSnapshot) string {
	parts := make([]string, 0, len(alerts)+len(snap.StuckPayoutIDs))
	for _, a := range alerts {
		parts = append(parts, string(a.Type))
	}
	ids := slices.Clone(snap.StuckPayoutIDs)
	slices.Sort(ids)
	parts = append(parts, ids...)
	return strings.Join(parts, ",")
}
