package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amasri/newspipe/internal/pipeline"
)

func TestTransportRecordsEnvelopes(t *testing.T) {
	transport := New(nil)

	first := pipeline.Envelope{ID: "a", Category: "economy"}
	second := pipeline.Envelope{ID: "b", Category: "tech"}
	require.NoError(t, transport.Send(context.Background(), first))
	require.NoError(t, transport.Send(context.Background(), second))

	sent := transport.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "a", sent[0].ID)
	assert.Equal(t, "b", sent[1].ID)
}

func TestTransportForwardsToSink(t *testing.T) {
	var received []string
	transport := New(func(env pipeline.Envelope) {
		received = append(received, env.ID)
	})

	require.NoError(t, transport.Send(context.Background(), pipeline.Envelope{ID: "x"}))
	assert.Equal(t, []string{"x"}, received)
}

func TestSentReturnsCopy(t *testing.T) {
	transport := New(nil)
	require.NoError(t, transport.Send(context.Background(), pipeline.Envelope{ID: "a"}))

	sent := transport.Sent()
	sent[0].ID = "mutated"
	assert.Equal(t, "a", transport.Sent()[0].ID)
}
