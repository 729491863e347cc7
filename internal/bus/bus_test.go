package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		topic    string
		want     bool
	}{
		{"exact match", []string{"source.aws.added"}, "source.aws.added", true},
		{"wildcard middle", []string{"source.*.added"}, "source.gcp.added", true},
		{"wildcard all", []string{"source.*.*"}, "source.aws.updated", true},
		{"webapp two segments", []string{"webapp.*"}, "webapp.added", true},
		{"segment count mismatch", []string{"webapp.*"}, "webapp.aws.added", false},
		{"no match", []string{"asset.*.*"}, "source.aws.added", false},
		{"second pattern matches", []string{"asset.*.*", "source.*.*"}, "source.aws.added", true},
		{"empty patterns", nil, "source.aws.added", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTopic(tt.patterns, tt.topic))
		})
	}
}

func TestMemoryBusDelivery(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	var received []*types.Event
	require.NoError(t, b.Subscribe(ctx, types.QueueAsset, []string{"source.*.*"},
		func(ctx context.Context, event *types.Event) error {
			received = append(received, event)
			return nil
		}))

	event, err := types.NewEvent("source.aws.added", "test", types.SourceEventData{SourceID: "s1"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, types.ExchangeAsset, types.QueueAsset, "source.aws.added", event))

	// Unmatched topic on the same queue is not delivered.
	other, err := types.NewEvent("webapp.added", "test", types.WebappAssetEventData{WebappID: "w1"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, types.ExchangeAsset, types.QueueAsset, "webapp.added", other))

	require.Len(t, received, 1)
	assert.Equal(t, "source.aws.added", received[0].Type)
	assert.Len(t, b.Published(), 2)
}

func TestMemoryBusFailTopic(t *testing.T) {
	b := NewMemoryBus()
	b.FailTopic("source.aws.added", errors.New("connection refused"))

	event, err := types.NewEvent("source.aws.added", "test", types.SourceEventData{SourceID: "s1"})
	require.NoError(t, err)

	err = b.Publish(context.Background(), types.ExchangeAsset, types.QueueAsset, "source.aws.added", event)
	require.Error(t, err)
	assert.Equal(t, types.ErrTransport, types.CodeOf(err))
}
