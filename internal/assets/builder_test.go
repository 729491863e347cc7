package assets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/database"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

type recordedTrigger struct {
	Type   types.ScanType
	Cause  types.TriggerCause
	Assets []*types.Asset
}

// fakeDispatcher records triggers instead of publishing them.
type fakeDispatcher struct {
	triggers []recordedTrigger
}

func (d *fakeDispatcher) Dispatch(_ context.Context, trigger core.Trigger) (*types.ScheduleRun, error) {
	d.triggers = append(d.triggers, recordedTrigger{
		Type:   trigger.Type,
		Cause:  trigger.Cause,
		Assets: trigger.Assets,
	})
	return &types.ScheduleRun{ID: "run-1", Status: types.ScanStatusSentToQueue}, nil
}

func (d *fakeDispatcher) byType(scanType types.ScanType) []recordedTrigger {
	var out []recordedTrigger
	for _, tr := range d.triggers {
		if tr.Type == scanType {
			out = append(out, tr)
		}
	}
	return out
}

func testBuilder(t *testing.T) (*Builder, core.Store, *fakeDispatcher) {
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

	dispatcher := &fakeDispatcher{}
	return NewBuilder(store, dispatcher, log), store, dispatcher
}

func TestEnsureHostIdempotent(t *testing.T) {
	b, _, _ := testBuilder(t)
	ctx := context.Background()
	origin := Origin{Actor: "discovery"}

	first, err := b.EnsureHost(ctx, "example.com", origin)
	require.NoError(t, err)
	second, err := b.EnsureHost(ctx, "example.com", origin)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, types.AssetTypeDomain, second.Type)
}

func TestEnsureSubdomainBuildsParentChain(t *testing.T) {
	b, store, _ := testBuilder(t)
	ctx := context.Background()

	sub, err := b.EnsureSubdomain(ctx, "api.example.com", Origin{Actor: "discovery"})
	require.NoError(t, err)
	require.NotNil(t, sub.DomainID)

	parent, err := store.GetAsset(ctx, *sub.DomainID)
	require.NoError(t, err)
	assert.Equal(t, types.AssetTypeDomain, parent.Type)
	assert.Equal(t, "example.com", parent.Name)
}

func TestEnsureSubdomainRejectsWWW(t *testing.T) {
	b, _, _ := testBuilder(t)

	_, err := b.EnsureSubdomain(context.Background(), "www.example.com", Origin{Actor: "discovery"})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}

func TestEnsureWebappURLHierarchy(t *testing.T) {
	b, store, dispatcher := testBuilder(t)
	ctx := context.Background()

	webapp, err := b.EnsureWebappURL(ctx, "https://api.example.com:8443/", Origin{Actor: "discovery"})
	require.NoError(t, err)

	assert.Equal(t, types.AssetTypeWebapp, webapp.Type)
	assert.Equal(t, 8443, webapp.Port)
	assert.Equal(t, "https", webapp.Scheme)
	require.NotNil(t, webapp.SubdomainID)
	assert.Nil(t, webapp.DomainID)
	assert.Nil(t, webapp.IPID)

	sub, err := store.FindAsset(ctx, core.AssetFilter{Type: types.AssetTypeSubdomain, Name: "api.example.com"})
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, sub.ID, *webapp.SubdomainID)

	domain, err := store.FindAsset(ctx, core.AssetFilter{Type: types.AssetTypeDomain, Name: "example.com"})
	require.NoError(t, err)
	require.NotNil(t, domain)
	require.NotNil(t, sub.DomainID)
	assert.Equal(t, domain.ID, *sub.DomainID)

	// Only the webapp is a discovery-level asset here; chain parents get
	// no triggers of their own.
	vuln := dispatcher.byType(types.ScanTypeVulnerability)
	require.Len(t, vuln, 1)
	assert.Equal(t, webapp.ID, vuln[0].Assets[0].ID)
	web := dispatcher.byType(types.ScanTypeWebappAsset)
	require.Len(t, web, 1)
	assert.Equal(t, types.TriggerAssetAdded, web[0].Cause)
}

func TestEnsureWebappUpsertByParentAndPort(t *testing.T) {
	b, _, dispatcher := testBuilder(t)
	ctx := context.Background()
	origin := Origin{Actor: "discovery"}

	first, err := b.EnsureWebapp(ctx, "example.com", 443, "https", origin)
	require.NoError(t, err)
	second, err := b.EnsureWebapp(ctx, "example.com", 443, "https", origin)
	require.NoError(t, err)
	other, err := b.EnsureWebapp(ctx, "example.com", 8080, "http", origin)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.ID, other.ID)

	// Re-discovery dispatches with the updated cause.
	web := dispatcher.byType(types.ScanTypeWebappAsset)
	require.Len(t, web, 3)
	assert.Equal(t, types.TriggerAssetAdded, web[0].Cause)
	assert.Equal(t, types.TriggerAssetUpdated, web[1].Cause)
	assert.Equal(t, types.TriggerAssetAdded, web[2].Cause)
}

func TestUpsertPreservesAddedBy(t *testing.T) {
	b, _, _ := testBuilder(t)
	ctx := context.Background()

	first, err := b.EnsureDomain(ctx, "example.com", Origin{Actor: "alice"})
	require.NoError(t, err)
	second, err := b.EnsureDomain(ctx, "example.com", Origin{Actor: "bob"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "alice", second.AddedBy)
	assert.Equal(t, "bob", second.UpdatedBy)
}

func TestEnsureWebappAPI(t *testing.T) {
	b, _, dispatcher := testBuilder(t)
	ctx := context.Background()
	origin := Origin{Actor: "discovery"}

	webapp, err := b.EnsureWebapp(ctx, "example.com", 443, "https", origin)
	require.NoError(t, err)
	dispatcher.triggers = nil

	api, err := b.EnsureWebappAPI(ctx, webapp, "/api/v1/users", types.Metadata{"method": "GET"}, origin)
	require.NoError(t, err)
	again, err := b.EnsureWebappAPI(ctx, webapp, "/api/v1/users", nil, origin)
	require.NoError(t, err)

	assert.Equal(t, api.ID, again.ID)
	require.NotNil(t, api.WebappID)
	assert.Equal(t, webapp.ID, *api.WebappID)

	// API assets feed vulnerability fan-out but never a webapp sub-scan.
	assert.Len(t, dispatcher.byType(types.ScanTypeVulnerability), 2)
	assert.Empty(t, dispatcher.byType(types.ScanTypeWebappAsset))
}

func TestLinkSourceIdempotent(t *testing.T) {
	b, store, _ := testBuilder(t)
	ctx := context.Background()

	source := &types.Source{
		ID:   "src-1",
		Name: "acme-aws",
		Type: types.SourceTypeAWS,
		Credentials: types.Credentials{
			Provider: types.SourceTypeAWS,
			AWS:      &types.AWSCredentials{AccessKeyID: "AK", SecretAccessKey: "SK"},
		},
		Active: true,
	}
	require.NoError(t, store.SaveSource(ctx, source))

	origin := Origin{SourceID: source.ID, Actor: "discovery"}
	asset, err := b.EnsureDomain(ctx, "example.com", origin)
	require.NoError(t, err)
	_, err = b.EnsureDomain(ctx, "example.com", origin)
	require.NoError(t, err)

	// The (asset, source) pair already exists, so a direct link reports
	// no new row.
	created, err := store.LinkAssetSource(ctx, asset.ID, source.ID)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestBuildCloudInstance(t *testing.T) {
	b, store, dispatcher := testBuilder(t)
	ctx := context.Background()
	origin := Origin{Actor: "discovery"}

	instance, err := b.BuildCloudResource(ctx, types.CloudResource{
		Kind:     types.ServiceSubTypeInstance,
		Key:      "arn:aws:ec2:us-east-1:123:instance/i-0abc",
		Name:     "app-server",
		Provider: types.SourceTypeAWS,
		Region:   "us-east-1",
		DNSNames: []string{"app.co"},
		SecurityGroups: []types.CloudResource{
			{Key: "sg-123", Name: "allow-https", Provider: types.SourceTypeAWS},
		},
		IngressPorts: []int{443},
	}, origin)
	require.NoError(t, err)
	assert.Equal(t, types.AssetTypeService, instance.Type)
	assert.Equal(t, types.ServiceSubTypeInstance, instance.SubType)

	sg, err := store.FindAsset(ctx, core.AssetFilter{
		Type: types.AssetTypeService, SubType: types.ServiceSubTypeSecurityGroup, CloudKey: "sg-123"})
	require.NoError(t, err)
	require.NotNil(t, sg)

	domain, err := store.FindAsset(ctx, core.AssetFilter{Type: types.AssetTypeDomain, Name: "app.co"})
	require.NoError(t, err)
	require.NotNil(t, domain)

	webapp, err := store.FindAsset(ctx, core.AssetFilter{
		Type: types.AssetTypeWebapp, ParentID: domain.ID, Port: 443})
	require.NoError(t, err)
	require.NotNil(t, webapp)
	assert.Equal(t, "https", webapp.Scheme)

	// Link rows exist, so re-linking reports no new row.
	created, err := store.LinkAssets(ctx, instance.ID, sg.ID, types.AssetLinkSecurityGroup)
	require.NoError(t, err)
	assert.False(t, created)
	created, err = store.LinkAssets(ctx, instance.ID, webapp.ID, types.AssetLinkWebapp)
	require.NoError(t, err)
	assert.False(t, created)

	// Every discovery-level asset got a vulnerability trigger; the webapp
	// also got a sub-scan trigger.
	vulnTargets := map[string]bool{}
	for _, tr := range dispatcher.byType(types.ScanTypeVulnerability) {
		vulnTargets[tr.Assets[0].ID] = true
	}
	assert.True(t, vulnTargets[instance.ID])
	assert.True(t, vulnTargets[sg.ID])
	assert.True(t, vulnTargets[domain.ID])
	assert.True(t, vulnTargets[webapp.ID])
	web := dispatcher.byType(types.ScanTypeWebappAsset)
	require.Len(t, web, 1)
	assert.Equal(t, webapp.ID, web[0].Assets[0].ID)
}

func TestBuildCloudResourceUnsupportedKind(t *testing.T) {
	b, _, _ := testBuilder(t)

	_, err := b.BuildCloudResource(context.Background(), types.CloudResource{
		Kind: "TOASTER", Key: "t-1"}, Origin{Actor: "discovery"})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}
