package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/royalty-engine/internal/promoter"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Promote correlated results and usage logs to royalty events",
	Long:  "Polls recent auditor results, matches each with a partner usage log on the same track, and records a royalty event per match. Runs until interrupted unless --once is set.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		flags := cmd.Flags()
		if flags.Changed("threshold") {
			cfg.Auditor.SimilarityThreshold, _ = flags.GetFloat64("threshold")
		}
		if flags.Changed("time-window") {
			cfg.Auditor.TimeWindowHours, _ = flags.GetInt("time-window")
		}
		if flags.Changed("dry-run") {
			cfg.Auditor.DryRun, _ = flags.GetBool("dry-run")
		}
		if err := cfg.Validate("audit"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p := promoter.New(st, promoter.ConfigFrom(cfg.Auditor, cfg.Royalty))

		once, _ := flags.GetBool("once")
		if !once {
			p.Run(ctx)
			return nil
		}

		return runAuditOnce(ctx, p)
	},
}

// cycleRunner runs one promotion cycle.
type cycleRunner interface {
	RunCycle(ctx context.Context) (promoter.CycleStats, error)
}

// runAuditOnce runs a single cycle. Any per-result failure is returned as an
// error so the process exits non-zero.
func runAuditOnce(ctx context.Context, p cycleRunner) error {
	start := time.Now()
	stats, err := p.RunCycle(ctx)
	if err != nil {
		return eris.Wrap(err, "audit")
	}
	zap.L().Info("audit complete",
		zap.Int("processed", stats.Processed),
		zap.Int("already_processed", stats.AlreadyProcessed),
		zap.Int("matched", stats.Matched),
		zap.Int("events_created", stats.EventsCreated),
		zap.Int("no_sdk_log", stats.NoSDKLog),
		zap.Int("errors", stats.Errors),
		zap.Duration("elapsed", time.Since(start)),
	)
	if stats.Errors > 0 {
		return eris.Errorf("audit: %d result(s) failed", stats.Errors)
	}
	return nil
}

func init() {
	f := auditCmd.Flags()
	f.Bool("once", false, "run a single cycle and exit")
	f.Bool("dry-run", false, "match results without writing royalty events")
	f.Float64("threshold", 0, "minimum similarity (default from config)")
	f.Int("time-window", 0, "result lookback in hours (default from config)")
	rootCmd.AddCommand(auditCmd)
}
