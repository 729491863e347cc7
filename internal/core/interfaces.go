package core

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

// Store is the persistence boundary for the discovery pipeline. All asset
// writes are upserts by natural key, making redelivered bus messages
// idempotent by construction.
type Store interface {
	GetSource(ctx context.Context, id string) (*types.Source, error)
	SaveSource(ctx context.Context, source *types.Source) error

	GetAsset(ctx context.Context, id string) (*types.Asset, error)
	GetAssetsByIDs(ctx context.Context, ids []string) ([]*types.Asset, error)
	FindAsset(ctx context.Context, filter AssetFilter) (*types.Asset, error)
	SaveAsset(ctx context.Context, asset *types.Asset) error

	LinkAssetSource(ctx context.Context, assetID, sourceID string) (created bool, err error)
	LinkAssets(ctx context.Context, fromID, toID string, kind types.AssetLinkKind) (created bool, err error)

	CreateAssetScan(ctx context.Context, scan *types.AssetScan) error
	GetAssetScan(ctx context.Context, id string) (*types.AssetScan, error)
	UpdateAssetScan(ctx context.Context, scan *types.AssetScan) error

	ListActiveSchedules(ctx context.Context) ([]*types.Schedule, error)
	GetSchedule(ctx context.Context, id string) (*types.Schedule, error)
	SaveSchedule(ctx context.Context, schedule *types.Schedule) error

	CreateScheduleRun(ctx context.Context, run *types.ScheduleRun) error
	UpdateScheduleRun(ctx context.Context, run *types.ScheduleRun) error

	SaveScreenshot(ctx context.Context, shot *types.Screenshot) error

	Close() error
}

// AssetFilter selects one asset by its type-specific natural key. Soft-deleted
// rows never match.
type AssetFilter struct {
	Type     types.AssetType
	SubType  types.ServiceSubType
	Name     string
	Port     int
	ParentID string
	WebappID string
	CloudKey string
}

// Handler consumes one bus event. Returning an error fails the delivery; the
// bus does not redeliver, so handlers own their terminal bookkeeping.
type Handler func(ctx context.Context, event *types.Event) error

// Bus is the publish/subscribe transport over named exchanges and queues.
type Bus interface {
	Publish(ctx context.Context, exchange, queue, topic string, event *types.Event) error
	Subscribe(ctx context.Context, queue string, topics []string, handler Handler) error
	Close() error
}

// Trigger describes one dispatch request: what pipeline to run and for which
// targets.
type Trigger struct {
	Type           types.ScanType
	Cause          types.TriggerCause
	ScheduleID     string
	Assets         []*types.Asset
	Sources        []*types.Source
	Profiles       []string
	ExistingScanID string
	CreatedBy      string
}

// Dispatcher fans a trigger out into per-target bus messages with all-settled
// accounting.
type Dispatcher interface {
	Dispatch(ctx context.Context, trigger Trigger) (*types.ScheduleRun, error)
}

// Clock abstracts time for the schedule registry so tests can drive ticks
// deterministically.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Telemetry records pipeline metrics.
type Telemetry interface {
	RecordScan(ctx context.Context, scanType types.ScanType, status types.ScanStatus, duration time.Duration)
	RecordDispatch(ctx context.Context, scanType types.ScanType, success, failed int)
	RecordToolInvocation(ctx context.Context, tool string, outcome string, duration time.Duration)
	Shutdown(ctx context.Context) error
}
