package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amasri/newspipe/internal/pipeline"
)

func newPipelineCmd() *cobra.Command {
	var drainTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run one end-to-end cycle in a single process over the memory broker.",
		Long: `pipeline polls feeds, publishes accepted items to the in-process broker, then
drains and enriches everything it published. Intended for local runs and
debugging; production deployments run poll and consume separately.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if a.MemoryBroker() == nil {
				return fmt.Errorf("pipeline requires broker.provider=memory, got %q", a.Config().Broker.Provider)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ing, err := a.NewIngest(ctx)
			if err != nil {
				return err
			}
			pollStats := a.RunOnce(ctx, ing)

			var consumeStats pipeline.RunStats
			if pollStats.Published > 0 {
				pool := a.WorkerPool(pollStats.Published, drainTimeout)
				consumeStats, err = pool.Run(ctx)
				if err != nil {
					return err
				}
			}

			a.Logger().Info("pipeline summary",
				zap.Int("items_fetched", pollStats.ItemsFetched),
				zap.Int("items_accepted", pollStats.ItemsAccepted),
				zap.Int("items_rejected", pollStats.ItemsRejected),
				zap.Any("reject_reasons", pollStats.RejectReasons),
				zap.Int("published", pollStats.Published),
				zap.Int("enriched", consumeStats.Enriched),
				zap.Int("fallback", consumeStats.Fallback),
				zap.Int("failed_permanent", consumeStats.FailedPermanent),
			)
			return nil
		},
	}

	cmd.Flags().DurationVar(&drainTimeout, "drain-timeout", 10*time.Minute, "maximum time to spend enriching the published items")
	return cmd
}
