package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

func testStore(t *testing.T) core.Store {
	t.Helper()

	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	store, err := NewStore(config.DatabaseConfig{
		Driver:         "sqlite3",
		DSN:            "file:" + t.Name() + "?mode=memory&cache=shared",
		MaxConnections: 1,
		MaxIdleConns:   1,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestSourceRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	source := &types.Source{
		Name: "prod-aws",
		Type: types.SourceTypeAWS,
		Credentials: types.Credentials{
			Provider: types.SourceTypeAWS,
			AWS: &types.AWSCredentials{
				AccessKeyID:     "AKIA123",
				SecretAccessKey: "secret",
				Regions:         []string{"us-east-1"},
			},
		},
		Active: true,
	}
	require.NoError(t, store.SaveSource(ctx, source))
	require.NotEmpty(t, source.ID)

	loaded, err := store.GetSource(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "prod-aws", loaded.Name)
	require.NotNil(t, loaded.Credentials.AWS)
	assert.Equal(t, "AKIA123", loaded.Credentials.AWS.AccessKeyID)
	assert.Nil(t, loaded.Credentials.GCP)

	_, err = store.GetSource(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestAssetFindAndSave(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	asset := &types.Asset{
		Type:    types.AssetTypeDomain,
		Name:    "example.com",
		AddedBy: "discovery",
	}
	require.NoError(t, store.SaveAsset(ctx, asset))

	found, err := store.FindAsset(ctx, core.AssetFilter{
		Type: types.AssetTypeDomain,
		Name: "example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, asset.ID, found.ID)

	// Update path keeps the same row.
	found.UpdatedBy = "rescan"
	require.NoError(t, store.SaveAsset(ctx, found))

	again, err := store.FindAsset(ctx, core.AssetFilter{
		Type: types.AssetTypeDomain,
		Name: "example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, asset.ID, again.ID)
	assert.Equal(t, "discovery", again.AddedBy)
	assert.Equal(t, "rescan", again.UpdatedBy)

	missing, err := store.FindAsset(ctx, core.AssetFilter{
		Type: types.AssetTypeDomain,
		Name: "other.com",
	})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindWebappByParentAndPort(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	domain := &types.Asset{Type: types.AssetTypeDomain, Name: "example.com"}
	require.NoError(t, store.SaveAsset(ctx, domain))

	webapp := &types.Asset{
		Type:     types.AssetTypeWebapp,
		Name:     "example.com",
		Port:     443,
		DomainID: &domain.ID,
	}
	require.NoError(t, store.SaveAsset(ctx, webapp))

	found, err := store.FindAsset(ctx, core.AssetFilter{
		Type:     types.AssetTypeWebapp,
		Port:     443,
		ParentID: domain.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, webapp.ID, found.ID)

	// Different port is a different webapp.
	other, err := store.FindAsset(ctx, core.AssetFilter{
		Type:     types.AssetTypeWebapp,
		Port:     8443,
		ParentID: domain.ID,
	})
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestScanLifecycleEnforcement(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	scan := &types.AssetScan{Type: types.ScanTypeAsset, Cause: types.TriggerScheduled}
	require.NoError(t, store.CreateAssetScan(ctx, scan))
	assert.Equal(t, types.ScanStatusPending, scan.Status)
	assert.NotNil(t, scan.StartedAt)

	scan.Status = types.ScanStatusInProgress
	require.NoError(t, store.UpdateAssetScan(ctx, scan))

	scan.Status = types.ScanStatusCompleted
	require.NoError(t, store.UpdateAssetScan(ctx, scan))

	// Terminal states admit no further transition.
	scan.Status = types.ScanStatusInProgress
	err := store.UpdateAssetScan(ctx, scan)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}

func TestScanIllegalPendingToCompleted(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	scan := &types.AssetScan{Type: types.ScanTypeAsset}
	require.NoError(t, store.CreateAssetScan(ctx, scan))

	scan.Status = types.ScanStatusCompleted
	err := store.UpdateAssetScan(ctx, scan)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}

func TestLinkIdempotency(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	asset := &types.Asset{Type: types.AssetTypeDomain, Name: "example.com"}
	require.NoError(t, store.SaveAsset(ctx, asset))
	source := &types.Source{Name: "aws", Type: types.SourceTypeAWS, Active: true}
	require.NoError(t, store.SaveSource(ctx, source))

	created, err := store.LinkAssetSource(ctx, asset.ID, source.ID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.LinkAssetSource(ctx, asset.ID, source.ID)
	require.NoError(t, err)
	assert.False(t, created)

	created, err = store.LinkAssets(ctx, asset.ID, source.ID, types.AssetLinkWebapp)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.LinkAssets(ctx, asset.ID, source.ID, types.AssetLinkWebapp)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestScheduleRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	sched := &types.Schedule{
		Type:            types.ScanTypeAsset,
		IntervalSeconds: 3600,
		SourceIDs:       []string{"src-1", "src-2"},
		Profiles:        []string{"full"},
		Active:          true,
		CreatedBy:       "admin",
	}
	require.NoError(t, store.SaveSchedule(ctx, sched))

	active, err := store.ListActiveSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, []string{"src-1", "src-2"}, active[0].SourceIDs)
	assert.Equal(t, []string{"full"}, active[0].Profiles)

	// Deactivation removes the schedule from the active listing.
	sched.Active = false
	require.NoError(t, store.SaveSchedule(ctx, sched))

	active, err = store.ListActiveSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestScheduleRunCounts(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run := &types.ScheduleRun{CreatedBy: "scheduler"}
	require.NoError(t, store.CreateScheduleRun(ctx, run))
	assert.Equal(t, types.ScanStatusPending, run.Status)

	run.Status = types.ScanStatusSentToQueue
	run.SuccessCount = 3
	run.FailedCount = 1
	run.Details = types.Metadata{"targets": 4}
	require.NoError(t, store.UpdateScheduleRun(ctx, run))
}
