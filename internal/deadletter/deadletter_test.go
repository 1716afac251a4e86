package deadletter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amasri/newspipe/internal/pipeline"
)

type fakePublisher struct {
	published []pipeline.Envelope
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, env pipeline.Envelope) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, env)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestReportPublishesClassification(t *testing.T) {
	pub := &fakePublisher{}
	now := time.Unix(1700000000, 0).UTC()
	reporter := New(pub, fixedClock{now: now}, zap.NewNop())

	env := pipeline.Envelope{ID: "env-1", Link: "https://example.com/a", Category: "economy"}
	result := pipeline.Result{
		EnvelopeID:    "env-1",
		Link:          env.Link,
		ContentStatus: pipeline.ContentStatusParseError,
		RecordStatus:  pipeline.RecordStatusFailedPermanent,
	}
	require.NoError(t, reporter.Report(context.Background(), result, env))

	require.Len(t, pub.published, 1)
	notice := pub.published[0]
	assert.Equal(t, "env-1", notice.ID)
	assert.Equal(t, "parse_error", notice.Summary)
	assert.Equal(t, now, notice.EnqueuedAt)
}

func TestReportSurfacesPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("alerts topic down")}
	reporter := New(pub, fixedClock{now: time.Now()}, zap.NewNop())

	err := reporter.Report(context.Background(), pipeline.Result{}, pipeline.Envelope{ID: "env-1"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "alerts topic down")
}
