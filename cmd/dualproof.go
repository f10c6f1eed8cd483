package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/royalty-engine/internal/correlate"
	"github.com/sells-group/royalty-engine/internal/model"
)

var dualproofCmd = &cobra.Command{
	Use:   "dualproof",
	Short: "Inspect the dual-proof status of results, usage logs and tracks",
}

var dualproofResultCmd = &cobra.Command{
	Use:   "result <id>",
	Short: "Dual-proof status of an auditor result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCorrelator(cmd, func(ctx context.Context, c *correlate.Correlator) (model.Correlation, error) {
			return c.Correlate(ctx, args[0], model.EntityResult)
		})
	},
}

var dualproofLogCmd = &cobra.Command{
	Use:   "log <id>",
	Short: "Dual-proof status of a partner usage log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCorrelator(cmd, func(ctx context.Context, c *correlate.Correlator) (model.Correlation, error) {
			return c.Correlate(ctx, args[0], model.EntityUsageLog)
		})
	},
}

var dualproofTrackCmd = &cobra.Command{
	Use:   "track <id>",
	Short: "Dual-proof status of the result on a track closest to --at",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at := time.Now()
		if raw, _ := cmd.Flags().GetString("at"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return eris.Wrap(err, "dualproof: --at must be RFC3339")
			}
			at = parsed
		}
		return withCorrelator(cmd, func(ctx context.Context, c *correlate.Correlator) (model.Correlation, error) {
			return c.ForTrack(ctx, args[0], at)
		})
	},
}

func withCorrelator(cmd *cobra.Command, fn func(ctx context.Context, c *correlate.Correlator) (model.Correlation, error)) error {
	ctx := cmd.Context()
	if err := cfg.Validate("dualproof"); err != nil {
		return err
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	c := correlate.New(st, correlate.Config{
		Window:    time.Duration(cfg.DualProof.WindowMinutes) * time.Minute,
		Threshold: cfg.DualProof.Threshold,
	})
	res, err := fn(ctx, c)
	if err != nil {
		return eris.Wrap(err, "dualproof")
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	dualproofTrackCmd.Flags().String("at", "", "reference time, RFC3339 (default now)")
	dualproofCmd.AddCommand(dualproofResultCmd, dualproofLogCmd, dualproofTrackCmd)
	rootCmd.AddCommand(dualproofCmd)
}
