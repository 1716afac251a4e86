package cmd

import (
	"crypto/rand"
	"math/big"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPollCmd() *cobra.Command {
	var (
		once     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll feeds, deduplicate, and publish accepted items.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ing, err := a.NewIngest(ctx)
			if err != nil {
				return err
			}

			if interval <= 0 {
				interval = a.Config().Poller.PollInterval()
			}
			jitter := a.Config().Poller.Jitter()

			for {
				stats := a.RunOnce(ctx, ing)
				a.Logger().Info("run summary",
					zap.Int("items_fetched", stats.ItemsFetched),
					zap.Int("items_accepted", stats.ItemsAccepted),
					zap.Int("items_rejected", stats.ItemsRejected),
					zap.Any("reject_reasons", stats.RejectReasons),
					zap.Int("published", stats.Published),
					zap.Int("publish_failures", stats.PublishFailures),
				)
				if once {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(interval + randomJitter(jitter)):
				}
			}
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single poll cycle and exit")
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (defaults to poller.interval_seconds)")
	return cmd
}

// randomJitter spreads scheduled polls so deployments do not hit every feed
// at the same instant.
func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
