// Package deadletter mirrors permanently failed items onto an alerts topic
// so operators can inspect them. Dead letters are never reprocessed.
package deadletter

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/amasri/newspipe/internal/pipeline"
)

// Reporter publishes dead letter notices through a pipeline.Publisher bound
// to the alerts topic.
type Reporter struct {
	publisher pipeline.Publisher
	clock     pipeline.Clock
	logger    *zap.Logger
}

// New constructs a Reporter.
func New(publisher pipeline.Publisher, clock pipeline.Clock, logger *zap.Logger) *Reporter {
	return &Reporter{publisher: publisher, clock: clock, logger: logger}
}

// Report mirrors the failed item. The notice rides in the envelope summary
// field as the failure classification; the envelope itself carries the item
// identity so operators can trace it back.
func (r *Reporter) Report(ctx context.Context, result pipeline.Result, env pipeline.Envelope) error {
	notice := env
	notice.Summary = string(result.ContentStatus)
	notice.EnqueuedAt = r.clock.Now().UTC()

	if err := r.publisher.Publish(ctx, notice); err != nil {
		return fmt.Errorf("report dead letter %s: %w", env.ID, err)
	}
	r.logger.Info("dead letter reported",
		zap.String("envelope_id", env.ID),
		zap.String("link", env.Link),
		zap.String("content_status", string(result.ContentStatus)),
	)
	return nil
}
