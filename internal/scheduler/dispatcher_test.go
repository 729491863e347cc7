package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/bus"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/database"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

func testStore(t *testing.T) core.Store {
	t.Helper()

	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	store, err := database.NewStore(config.DatabaseConfig{
		Driver:         "sqlite3",
		DSN:            "file:" + t.Name() + "?mode=memory&cache=shared",
		MaxConnections: 1,
		MaxIdleConns:   1,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

func TestDispatchSourceFanOut(t *testing.T) {
	store := testStore(t)
	memBus := bus.NewMemoryBus()
	d := NewDispatcher(store, memBus, nil, testLogger(t), "test")
	ctx := context.Background()

	sources := []*types.Source{
		{ID: "s1", Name: "aws-prod", Type: types.SourceTypeAWS},
		{ID: "s2", Name: "aws-dev", Type: types.SourceTypeAWS},
		{ID: "s3", Name: "gcp", Type: types.SourceTypeGCP},
	}

	run, err := d.Dispatch(ctx, core.Trigger{
		Type:      types.ScanTypeAsset,
		Cause:     types.TriggerScheduled,
		Sources:   sources,
		CreatedBy: "scheduler",
	})
	require.NoError(t, err)

	assert.Equal(t, types.ScanStatusSentToQueue, run.Status)
	assert.Equal(t, 3, run.SuccessCount)
	assert.Equal(t, 0, run.FailedCount)

	published := memBus.Published()
	require.Len(t, published, 3)
	assert.Equal(t, "source.aws.added", published[0].Topic)
	assert.Equal(t, types.QueueAsset, published[0].Queue)
	assert.Equal(t, "source.gcp.added", published[2].Topic)
}

func TestDispatchPartialPublishFailure(t *testing.T) {
	store := testStore(t)
	memBus := bus.NewMemoryBus()
	memBus.FailTopic("source.gcp.added", errors.New("broker down"))
	d := NewDispatcher(store, memBus, nil, testLogger(t), "test")

	run, err := d.Dispatch(context.Background(), core.Trigger{
		Type:  types.ScanTypeAsset,
		Cause: types.TriggerScheduled,
		Sources: []*types.Source{
			{ID: "s1", Name: "aws", Type: types.SourceTypeAWS},
			{ID: "s2", Name: "gcp", Type: types.SourceTypeGCP},
		},
		CreatedBy: "scheduler",
	})

	// Partial failure inside the fan-out does not fail the whole run.
	require.NoError(t, err)
	assert.Equal(t, types.ScanStatusSentToQueue, run.Status)
	assert.Equal(t, 1, run.SuccessCount)
	assert.Equal(t, 1, run.FailedCount)
}

func TestDispatchFailsBeforeFanOut(t *testing.T) {
	store := testStore(t)
	d := NewDispatcher(store, bus.NewMemoryBus(), nil, testLogger(t), "test")

	run, err := d.Dispatch(context.Background(), core.Trigger{
		Type:  types.ScanType("BOGUS"),
		Cause: types.TriggerManual,
		Assets: []*types.Asset{
			{ID: "a1", Type: types.AssetTypeDomain, Name: "example.com"},
			{ID: "a2", Type: types.AssetTypeDomain, Name: "example.org"},
		},
	})

	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
	require.NotNil(t, run)
	assert.Equal(t, types.ScanStatusFailed, run.Status)
	assert.Equal(t, 2, run.FailedCount)
}

func TestDispatchVulnerabilityTopics(t *testing.T) {
	store := testStore(t)
	memBus := bus.NewMemoryBus()
	d := NewDispatcher(store, memBus, nil, testLogger(t), "test")

	_, err := d.Dispatch(context.Background(), core.Trigger{
		Type:  types.ScanTypeVulnerability,
		Cause: types.TriggerAssetUpdated,
		Assets: []*types.Asset{
			{ID: "a1", Type: types.AssetTypeWebapp, Name: "example.com", Port: 443},
		},
		Profiles: []string{"full"},
	})
	require.NoError(t, err)

	published := memBus.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "asset.webapp.updated", published[0].Topic)
	assert.Equal(t, types.ExchangeVulnerability, published[0].Exchange)
	assert.Equal(t, types.QueueVulnerability, published[0].Queue)
}

func TestDispatchWebappCarriesExistingScanID(t *testing.T) {
	store := testStore(t)
	memBus := bus.NewMemoryBus()
	d := NewDispatcher(store, memBus, nil, testLogger(t), "test")

	_, err := d.Dispatch(context.Background(), core.Trigger{
		Type:  types.ScanTypeWebappAsset,
		Cause: types.TriggerManual,
		Assets: []*types.Asset{
			{ID: "w1", Type: types.AssetTypeWebapp, Name: "example.com", Port: 443},
		},
		ExistingScanID: "scan-123",
	})
	require.NoError(t, err)

	published := memBus.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "webapp.added", published[0].Topic)
	assert.Contains(t, string(published[0].Event.Data), "scan-123")
}
