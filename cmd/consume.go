package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amasri/newspipe/internal/api"
	"github.com/amasri/newspipe/internal/app"
)

func newConsumeCmd() *cobra.Command {
	var (
		maxMessages int
		maxDuration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Pull envelopes from the log, enrich, and persist them.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := startOpsServer(a)
			defer shutdownOpsServer(srv, a)

			pool := a.WorkerPool(maxMessages, maxDuration)
			stats, err := pool.Run(ctx)
			a.Logger().Info("consume summary",
				zap.Int("enriched", stats.Enriched),
				zap.Int("fallback", stats.Fallback),
				zap.Int("failed_permanent", stats.FailedPermanent),
			)
			return err
		},
	}

	cmd.Flags().IntVar(&maxMessages, "max-messages", 0, "stop after processing this many envelopes (0 = unbounded)")
	cmd.Flags().DurationVar(&maxDuration, "max-duration", 0, "stop after this much wall time (0 = unbounded)")
	return cmd
}

// startOpsServer serves /healthz, /metrics, and /stats while the worker runs.
func startOpsServer(a *app.App) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config().Server.Port),
		Handler:           api.NewServer(a.Store(), a.Logger()).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.Logger().Info("ops server started", zap.Int("port", a.Config().Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger().Error("ops server error", zap.Error(err))
		}
	}()
	return srv
}

func shutdownOpsServer(srv *http.Server, a *app.App) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger().Warn("ops server shutdown failed", zap.Error(err))
	}
}
