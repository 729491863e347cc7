package assets

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

// Origin carries provenance for a build: which source the asset came from and
// which actor label to stamp on rows and follow-up triggers.
type Origin struct {
	SourceID string
	Actor    string
}

// Builder upserts assets by natural key, resolves their required ancestor
// chain first, links them to their originating source, and enqueues follow-up
// scan triggers for every discovery-level asset it produces. Parents created
// only to complete a chain do not get their own triggers.
type Builder struct {
	store      core.Store
	dispatcher core.Dispatcher
	logger     *logger.Logger
}

func NewBuilder(store core.Store, dispatcher core.Dispatcher, log *logger.Logger) *Builder {
	return &Builder{
		store:      store,
		dispatcher: dispatcher,
		logger:     log.WithComponent("asset-builder"),
	}
}

// EnsureHost classifies a raw host string and builds the matching DOMAIN,
// SUBDOMAIN or IP asset.
func (b *Builder) EnsureHost(ctx context.Context, raw string, origin Origin) (*types.Asset, error) {
	cls := Classify(raw)
	switch cls.Type {
	case types.AssetTypeIP:
		return b.buildIP(ctx, cls.Name, origin, true)
	case types.AssetTypeDomain:
		return b.buildDomain(ctx, cls.Name, origin, true)
	case types.AssetTypeSubdomain:
		return b.buildSubdomain(ctx, cls, origin, true)
	}
	return nil, types.NewValidationError(fmt.Sprintf("unclassifiable host %q", raw))
}

// EnsureDomain builds a DOMAIN asset. The input must classify as a bare
// registrable domain (www-prefixed input is folded down to it).
func (b *Builder) EnsureDomain(ctx context.Context, name string, origin Origin) (*types.Asset, error) {
	cls := Classify(name)
	if cls.Type != types.AssetTypeDomain {
		return nil, types.NewValidationError(fmt.Sprintf("%q is not a registrable domain", name))
	}
	return b.buildDomain(ctx, cls.Name, origin, true)
}

// EnsureSubdomain builds a SUBDOMAIN asset with its parent DOMAIN resolved
// first. Hostnames that classify as a bare domain (including www.<domain>)
// are rejected.
func (b *Builder) EnsureSubdomain(ctx context.Context, name string, origin Origin) (*types.Asset, error) {
	cls := Classify(name)
	if cls.Type != types.AssetTypeSubdomain {
		return nil, types.NewValidationError(fmt.Sprintf("%q is not a subdomain", name))
	}
	return b.buildSubdomain(ctx, cls, origin, true)
}

// EnsureIP builds an IP asset.
func (b *Builder) EnsureIP(ctx context.Context, address string, origin Origin) (*types.Asset, error) {
	cls := Classify(address)
	if cls.Type != types.AssetTypeIP {
		return nil, types.NewValidationError(fmt.Sprintf("%q is not an ip address", address))
	}
	return b.buildIP(ctx, cls.Name, origin, true)
}

// EnsureWebappURL builds a WEBAPP asset from a full URL.
func (b *Builder) EnsureWebappURL(ctx context.Context, rawURL string, origin Origin) (*types.Asset, error) {
	host, port, scheme, err := ParseWebappURL(rawURL)
	if err != nil {
		return nil, err
	}
	return b.EnsureWebapp(ctx, host, port, scheme, origin)
}

// EnsureWebapp builds a WEBAPP asset keyed by (parent asset, port). The host
// is classified and its IP, SUBDOMAIN or DOMAIN parent chain resolved first;
// exactly one parent reference is stored.
func (b *Builder) EnsureWebapp(ctx context.Context, host string, port int, scheme string, origin Origin) (*types.Asset, error) {
	return b.buildWebapp(ctx, host, port, scheme, origin, true)
}

// EnsureWebappAPI builds a WEBAPP_API asset under an existing WEBAPP, keyed
// by (webapp id, endpoint name). No webapp sub-scan is triggered for the
// parent.
func (b *Builder) EnsureWebappAPI(ctx context.Context, webapp *types.Asset, name string, metadata types.Metadata, origin Origin) (*types.Asset, error) {
	if webapp == nil || webapp.Type != types.AssetTypeWebapp {
		return nil, types.NewValidationError("webapp api requires a webapp parent")
	}
	if name == "" {
		return nil, types.NewValidationError("webapp api requires an endpoint name")
	}

	asset, created, err := b.upsert(ctx,
		core.AssetFilter{Type: types.AssetTypeWebappAPI, WebappID: webapp.ID, Name: name},
		&types.Asset{
			Type:     types.AssetTypeWebappAPI,
			Name:     name,
			WebappID: &webapp.ID,
			Metadata: metadata,
		}, origin)
	if err != nil {
		return nil, err
	}
	if err := b.finish(ctx, asset, created, origin); err != nil {
		return nil, err
	}
	return asset, nil
}

// BuildCloudResource builds the SERVICE asset for one enumerated provider
// resource, plus every DNS-name, IP and webapp asset the resource implies.
// Compute instances additionally get their security groups built as SERVICE
// assets and one webapp per open ingress port, with link rows written between
// the instance and each.
func (b *Builder) BuildCloudResource(ctx context.Context, res types.CloudResource, origin Origin) (*types.Asset, error) {
	switch res.Kind {
	case types.ServiceSubTypeInstance:
		return b.buildInstance(ctx, res, origin)
	case types.ServiceSubTypeSecurityGroup,
		types.ServiceSubTypeLoadBalancer,
		types.ServiceSubTypeDatabase,
		types.ServiceSubTypeDNSRecord,
		types.ServiceSubTypeBucket,
		types.ServiceSubTypeAPIGateway:
		return b.buildService(ctx, res, origin)
	}
	return nil, types.NewValidationError(fmt.Sprintf("unsupported cloud resource kind %q", res.Kind))
}

func (b *Builder) buildDomain(ctx context.Context, name string, origin Origin, notify bool) (*types.Asset, error) {
	asset, created, err := b.upsert(ctx,
		core.AssetFilter{Type: types.AssetTypeDomain, Name: name},
		&types.Asset{Type: types.AssetTypeDomain, Name: name}, origin)
	if err != nil {
		return nil, err
	}
	if notify {
		if err := b.finish(ctx, asset, created, origin); err != nil {
			return nil, err
		}
	} else if err := b.linkSource(ctx, asset, origin); err != nil {
		return nil, err
	}
	return asset, nil
}

func (b *Builder) buildSubdomain(ctx context.Context, cls Classification, origin Origin, notify bool) (*types.Asset, error) {
	parent, err := b.buildDomain(ctx, cls.Registrable, origin, false)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve parent domain for %s: %w", cls.Name, err)
	}

	asset, created, err := b.upsert(ctx,
		core.AssetFilter{Type: types.AssetTypeSubdomain, Name: cls.Name},
		&types.Asset{Type: types.AssetTypeSubdomain, Name: cls.Name, DomainID: &parent.ID}, origin)
	if err != nil {
		return nil, err
	}
	if notify {
		if err := b.finish(ctx, asset, created, origin); err != nil {
			return nil, err
		}
	} else if err := b.linkSource(ctx, asset, origin); err != nil {
		return nil, err
	}
	return asset, nil
}

func (b *Builder) buildIP(ctx context.Context, address string, origin Origin, notify bool) (*types.Asset, error) {
	asset, created, err := b.upsert(ctx,
		core.AssetFilter{Type: types.AssetTypeIP, Name: address},
		&types.Asset{Type: types.AssetTypeIP, Name: address}, origin)
	if err != nil {
		return nil, err
	}
	if notify {
		if err := b.finish(ctx, asset, created, origin); err != nil {
			return nil, err
		}
	} else if err := b.linkSource(ctx, asset, origin); err != nil {
		return nil, err
	}
	return asset, nil
}

func (b *Builder) buildWebapp(ctx context.Context, host string, port int, scheme string, origin Origin, notify bool) (*types.Asset, error) {
	if port < 1 || port > 65535 {
		return nil, types.NewValidationError(fmt.Sprintf("invalid webapp port %d", port))
	}

	cls := Classify(host)

	fresh := &types.Asset{
		Type:   types.AssetTypeWebapp,
		Name:   fmt.Sprintf("%s:%d", cls.Name, port),
		Port:   port,
		Scheme: scheme,
	}

	var parent *types.Asset
	var err error
	switch cls.Type {
	case types.AssetTypeIP:
		parent, err = b.buildIP(ctx, cls.Name, origin, false)
		if err == nil {
			fresh.IPID = &parent.ID
		}
	case types.AssetTypeSubdomain:
		parent, err = b.buildSubdomain(ctx, cls, origin, false)
		if err == nil {
			fresh.SubdomainID = &parent.ID
		}
	case types.AssetTypeDomain:
		parent, err = b.buildDomain(ctx, cls.Name, origin, false)
		if err == nil {
			fresh.DomainID = &parent.ID
		}
	default:
		return nil, types.NewValidationError(fmt.Sprintf("unclassifiable webapp host %q", host))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve webapp parent for %s: %w", host, err)
	}

	asset, created, err := b.upsert(ctx,
		core.AssetFilter{Type: types.AssetTypeWebapp, ParentID: parent.ID, Port: port},
		fresh, origin)
	if err != nil {
		return nil, err
	}
	if notify {
		if err := b.finish(ctx, asset, created, origin); err != nil {
			return nil, err
		}
	} else if err := b.linkSource(ctx, asset, origin); err != nil {
		return nil, err
	}
	return asset, nil
}

func (b *Builder) buildService(ctx context.Context, res types.CloudResource, origin Origin) (*types.Asset, error) {
	if res.Key == "" {
		return nil, types.NewValidationError("cloud resource is missing its provider key")
	}

	asset, created, err := b.upsert(ctx,
		core.AssetFilter{Type: types.AssetTypeService, SubType: res.Kind, CloudKey: res.Key},
		&types.Asset{
			Type:     types.AssetTypeService,
			SubType:  res.Kind,
			Name:     res.Name,
			CloudKey: res.Key,
			Region:   res.Region,
			Metadata: res.Metadata,
		}, origin)
	if err != nil {
		return nil, err
	}

	// Implied network-facing children become discovery-level assets of
	// their own.
	for _, name := range res.DNSNames {
		if _, err := b.EnsureHost(ctx, name, origin); err != nil {
			b.logger.Warnw("Skipping implied dns asset",
				"resource", res.Key, "host", name, "error", err)
		}
	}
	for _, addr := range res.PublicIPs {
		if _, err := b.buildIP(ctx, addr, origin, true); err != nil {
			b.logger.Warnw("Skipping implied ip asset",
				"resource", res.Key, "address", addr, "error", err)
		}
	}

	if err := b.finish(ctx, asset, created, origin); err != nil {
		return nil, err
	}
	return asset, nil
}

func (b *Builder) buildInstance(ctx context.Context, res types.CloudResource, origin Origin) (*types.Asset, error) {
	instance, err := b.buildService(ctx, res, origin)
	if err != nil {
		return nil, err
	}

	for _, sg := range res.SecurityGroups {
		sg.Kind = types.ServiceSubTypeSecurityGroup
		sgAsset, err := b.buildService(ctx, sg, origin)
		if err != nil {
			return nil, fmt.Errorf("failed to build security group %s: %w", sg.Key, err)
		}
		if _, err := b.store.LinkAssets(ctx, instance.ID, sgAsset.ID, types.AssetLinkSecurityGroup); err != nil {
			return nil, err
		}
	}

	host := preferredAddress(res)
	if host == "" && len(res.IngressPorts) > 0 {
		b.logger.Warnw("Instance exposes ports but has no reachable address",
			"resource", res.Key, "ports", res.IngressPorts)
		return instance, nil
	}
	for _, port := range res.IngressPorts {
		webapp, err := b.buildWebapp(ctx, host, port, SchemeForPort(port), origin, true)
		if err != nil {
			b.logger.Warnw("Skipping webapp for ingress port",
				"resource", res.Key, "port", port, "error", err)
			continue
		}
		if _, err := b.store.LinkAssets(ctx, instance.ID, webapp.ID, types.AssetLinkWebapp); err != nil {
			return nil, err
		}
	}

	return instance, nil
}

// upsert looks the asset up by natural key and either merges into the
// existing row or inserts a fresh one. AddedBy survives merges; UpdatedBy
// always reflects the current actor.
func (b *Builder) upsert(ctx context.Context, filter core.AssetFilter, fresh *types.Asset, origin Origin) (*types.Asset, bool, error) {
	existing, err := b.store.FindAsset(ctx, filter)
	if err != nil {
		return nil, false, err
	}

	if existing != nil {
		merge(existing, fresh)
		existing.UpdatedBy = origin.Actor
		if err := b.store.SaveAsset(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	fresh.ID = uuid.New().String()
	fresh.AddedBy = origin.Actor
	fresh.UpdatedBy = origin.Actor
	if err := b.store.SaveAsset(ctx, fresh); err != nil {
		return nil, false, err
	}
	return fresh, true, nil
}

// merge copies freshly discovered fields onto the stored row without
// clobbering identity or provenance.
func merge(dst, src *types.Asset) {
	if src.Scheme != "" {
		dst.Scheme = src.Scheme
	}
	if src.Region != "" {
		dst.Region = src.Region
	}
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.DomainID != nil {
		dst.DomainID = src.DomainID
	}
	if src.SubdomainID != nil {
		dst.SubdomainID = src.SubdomainID
	}
	if src.IPID != nil {
		dst.IPID = src.IPID
	}
	if src.WebappID != nil {
		dst.WebappID = src.WebappID
	}
	if len(src.Metadata) > 0 {
		if dst.Metadata == nil {
			dst.Metadata = types.Metadata{}
		}
		for k, v := range src.Metadata {
			dst.Metadata[k] = v
		}
	}
}

// finish runs the post-save obligations for a discovery-level asset: source
// linking and follow-up scan triggers.
func (b *Builder) finish(ctx context.Context, asset *types.Asset, created bool, origin Origin) error {
	if err := b.linkSource(ctx, asset, origin); err != nil {
		return err
	}

	cause := types.TriggerAssetAdded
	if !created {
		cause = types.TriggerAssetUpdated
	}

	if _, err := b.dispatcher.Dispatch(ctx, core.Trigger{
		Type:      types.ScanTypeVulnerability,
		Cause:     cause,
		Assets:    []*types.Asset{asset},
		CreatedBy: origin.Actor,
	}); err != nil {
		return fmt.Errorf("failed to dispatch vulnerability trigger for %s: %w", asset.ID, err)
	}

	if asset.Type == types.AssetTypeWebapp {
		if _, err := b.dispatcher.Dispatch(ctx, core.Trigger{
			Type:      types.ScanTypeWebappAsset,
			Cause:     cause,
			Assets:    []*types.Asset{asset},
			CreatedBy: origin.Actor,
		}); err != nil {
			return fmt.Errorf("failed to dispatch webapp trigger for %s: %w", asset.ID, err)
		}
	}

	return nil
}

func (b *Builder) linkSource(ctx context.Context, asset *types.Asset, origin Origin) error {
	if origin.SourceID == "" {
		return nil
	}
	created, err := b.store.LinkAssetSource(ctx, asset.ID, origin.SourceID)
	if err != nil {
		return err
	}
	if created {
		b.logger.Debugw("Linked asset to source",
			"asset_id", asset.ID, "source_id", origin.SourceID)
	}
	return nil
}

func preferredAddress(res types.CloudResource) string {
	if len(res.DNSNames) > 0 {
		return res.DNSNames[0]
	}
	if len(res.PublicIPs) > 0 {
		return res.PublicIPs[0]
	}
	return ""
}
