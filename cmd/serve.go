package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/royalty-engine/internal/api"
	"github.com/sells-group/royalty-engine/internal/chain"
	"github.com/sells-group/royalty-engine/internal/correlate"
	"github.com/sells-group/royalty-engine/internal/monitoring"
	"github.com/sells-group/royalty-engine/internal/promoter"
	"github.com/sells-group/royalty-engine/internal/settlement"
	"github.com/sells-group/royalty-engine/internal/store"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the payout and dual-proof API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		handler, err := newAPIHandler(st)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.NewRouter(handler, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if cfg.Auditor.Embedded {
			p := promoter.New(st, promoter.ConfigFrom(cfg.Auditor, cfg.Royalty))
			g.Go(func() error {
				p.Run(gctx)
				return nil
			})
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(st, time.Duration(cfg.Monitoring.StuckPayoutMinutes)*time.Minute),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		return g.Wait()
	},
}

// newAPIHandler wires the settlement service and correlator to st.
func newAPIHandler(st store.Store) (*api.Handler, error) {
	ch, err := chain.New(cfg.EffectiveChain())
	if err != nil {
		return nil, err
	}

	svc := settlement.New(st, ch, settlement.Config{
		ChainTimeout: time.Duration(cfg.Payout.ChainTimeoutSecs) * time.Second,
	})
	corr := correlate.New(st, correlate.Config{
		Window:    time.Duration(cfg.DualProof.WindowMinutes) * time.Minute,
		Threshold: cfg.DualProof.Threshold,
	})
	return api.NewHandler(svc, corr, st), nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
