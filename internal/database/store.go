package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

type sqlStore struct {
	db     *sqlx.DB
	cfg    config.DatabaseConfig
	logger *logger.Logger
}

// NewStore connects, configures the pool and applies migrations.
func NewStore(cfg config.DatabaseConfig, log *logger.Logger) (core.Store, error) {
	log = log.WithComponent("database")

	start := time.Now()
	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := runMigrations(db, cfg.Driver); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Infow("Database store initialized",
		"driver", cfg.Driver,
		"max_connections", cfg.MaxConnections,
		"init_duration_ms", time.Since(start).Milliseconds(),
	)

	return &sqlStore{db: db, cfg: cfg, logger: log}, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// sources

type sourceRow struct {
	ID          string    `db:"id"`
	ExternalID  string    `db:"external_id"`
	Name        string    `db:"name"`
	Type        string    `db:"type"`
	Credentials string    `db:"credentials"`
	Active      bool      `db:"active"`
	Deleted     bool      `db:"deleted"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r sourceRow) toSource() (*types.Source, error) {
	src := &types.Source{
		ID:         r.ID,
		ExternalID: r.ExternalID,
		Name:       r.Name,
		Type:       types.SourceType(r.Type),
		Active:     r.Active,
		Deleted:    r.Deleted,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Credentials), &src.Credentials); err != nil {
		return nil, fmt.Errorf("failed to decode credentials for source %s: %w", r.ID, err)
	}
	return src, nil
}

func (s *sqlStore) GetSource(ctx context.Context, id string) (*types.Source, error) {
	var row sourceRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT * FROM sources WHERE id = ? AND deleted = FALSE`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("source", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load source: %w", err)
	}
	return row.toSource()
}

func (s *sqlStore) SaveSource(ctx context.Context, source *types.Source) error {
	now := time.Now().UTC()
	if source.ID == "" {
		source.ID = uuid.New().String()
		source.CreatedAt = now
	}
	source.UpdatedAt = now

	creds, err := json.Marshal(source.Credentials)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE sources SET external_id = ?, name = ?, type = ?, credentials = ?,
			active = ?, deleted = ?, updated_at = ?
		WHERE id = ?`),
		source.ExternalID, source.Name, source.Type, string(creds),
		source.Active, source.Deleted, source.UpdatedAt, source.ID)
	if err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO sources (id, external_id, name, type, credentials, active, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		source.ID, source.ExternalID, source.Name, source.Type, string(creds),
		source.Active, source.Deleted, source.CreatedAt, source.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert source: %w", err)
	}
	return nil
}

// assets

type assetRow struct {
	ID          string         `db:"id"`
	Type        string         `db:"type"`
	SubType     string         `db:"sub_type"`
	Name        string         `db:"name"`
	Port        int            `db:"port"`
	Scheme      string         `db:"scheme"`
	CloudKey    string         `db:"cloud_key"`
	Region      string         `db:"region"`
	Metadata    string         `db:"metadata"`
	DomainID    sql.NullString `db:"domain_id"`
	SubdomainID sql.NullString `db:"subdomain_id"`
	IPID        sql.NullString `db:"ip_id"`
	WebappID    sql.NullString `db:"webapp_id"`
	AddedBy     string         `db:"added_by"`
	UpdatedBy   string         `db:"updated_by"`
	Deleted     bool           `db:"deleted"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func toNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (r assetRow) toAsset() (*types.Asset, error) {
	asset := &types.Asset{
		ID:          r.ID,
		Type:        types.AssetType(r.Type),
		SubType:     types.ServiceSubType(r.SubType),
		Name:        r.Name,
		Port:        r.Port,
		Scheme:      r.Scheme,
		CloudKey:    r.CloudKey,
		Region:      r.Region,
		DomainID:    nullable(r.DomainID),
		SubdomainID: nullable(r.SubdomainID),
		IPID:        nullable(r.IPID),
		WebappID:    nullable(r.WebappID),
		AddedBy:     r.AddedBy,
		UpdatedBy:   r.UpdatedBy,
		Deleted:     r.Deleted,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &asset.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for asset %s: %w", r.ID, err)
		}
	}
	return asset, nil
}

func (s *sqlStore) GetAsset(ctx context.Context, id string) (*types.Asset, error) {
	var row assetRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT * FROM assets WHERE id = ? AND deleted = FALSE`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("asset", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}
	return row.toAsset()
}

func (s *sqlStore) GetAssetsByIDs(ctx context.Context, ids []string) ([]*types.Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM assets WHERE id IN (?) AND deleted = FALSE`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	var rows []assetRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load assets: %w", err)
	}
	assets := make([]*types.Asset, 0, len(rows))
	for _, r := range rows {
		asset, err := r.toAsset()
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// FindAsset looks up one non-deleted asset by the natural key encoded in the
// filter. A miss returns (nil, nil) so callers can branch into an insert.
func (s *sqlStore) FindAsset(ctx context.Context, filter core.AssetFilter) (*types.Asset, error) {
	query := `SELECT * FROM assets WHERE deleted = FALSE AND type = ?`
	args := []interface{}{string(filter.Type)}

	switch filter.Type {
	case types.AssetTypeWebapp:
		query += ` AND port = ? AND (domain_id = ? OR subdomain_id = ? OR ip_id = ?)`
		args = append(args, filter.Port, filter.ParentID, filter.ParentID, filter.ParentID)
	case types.AssetTypeWebappAPI:
		query += ` AND webapp_id = ? AND name = ?`
		args = append(args, filter.WebappID, filter.Name)
	case types.AssetTypeService:
		query += ` AND sub_type = ? AND cloud_key = ?`
		args = append(args, string(filter.SubType), filter.CloudKey)
	default:
		query += ` AND name = ?`
		args = append(args, filter.Name)
	}

	var row assetRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find asset: %w", err)
	}
	return row.toAsset()
}

func (s *sqlStore) SaveAsset(ctx context.Context, asset *types.Asset) error {
	now := time.Now().UTC()
	insert := false
	if asset.ID == "" {
		asset.ID = uuid.New().String()
		asset.CreatedAt = now
		insert = true
	}
	asset.UpdatedAt = now

	meta := "{}"
	if asset.Metadata != nil {
		b, err := json.Marshal(asset.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode asset metadata: %w", err)
		}
		meta = string(b)
	}

	if !insert {
		res, err := s.db.ExecContext(ctx, s.db.Rebind(`
			UPDATE assets SET type = ?, sub_type = ?, name = ?, port = ?, scheme = ?,
				cloud_key = ?, region = ?, metadata = ?, domain_id = ?, subdomain_id = ?,
				ip_id = ?, webapp_id = ?, updated_by = ?, deleted = ?, updated_at = ?
			WHERE id = ?`),
			asset.Type, asset.SubType, asset.Name, asset.Port, asset.Scheme,
			asset.CloudKey, asset.Region, meta, toNull(asset.DomainID), toNull(asset.SubdomainID),
			toNull(asset.IPID), toNull(asset.WebappID), asset.UpdatedBy, asset.Deleted, asset.UpdatedAt,
			asset.ID)
		if err != nil {
			return fmt.Errorf("failed to update asset: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		insert = true
	}

	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO assets (id, type, sub_type, name, port, scheme, cloud_key, region,
			metadata, domain_id, subdomain_id, ip_id, webapp_id, added_by, updated_by,
			deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		asset.ID, asset.Type, asset.SubType, asset.Name, asset.Port, asset.Scheme,
		asset.CloudKey, asset.Region, meta, toNull(asset.DomainID), toNull(asset.SubdomainID),
		toNull(asset.IPID), toNull(asset.WebappID), asset.AddedBy, asset.UpdatedBy,
		asset.Deleted, asset.CreatedAt, asset.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}
	return nil
}

// links

func (s *sqlStore) LinkAssetSource(ctx context.Context, assetID, sourceID string) (bool, error) {
	var existing string
	err := s.db.GetContext(ctx, &existing, s.db.Rebind(
		`SELECT id FROM asset_sources WHERE asset_id = ? AND source_id = ?`), assetID, sourceID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check asset source link: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO asset_sources (id, asset_id, source_id, created_at) VALUES (?, ?, ?, ?)`),
		uuid.New().String(), assetID, sourceID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to link asset to source: %w", err)
	}
	return true, nil
}

func (s *sqlStore) LinkAssets(ctx context.Context, fromID, toID string, kind types.AssetLinkKind) (bool, error) {
	var existing string
	err := s.db.GetContext(ctx, &existing, s.db.Rebind(
		`SELECT id FROM asset_links WHERE from_id = ? AND to_id = ? AND kind = ?`), fromID, toID, kind)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check asset link: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO asset_links (id, from_id, to_id, kind, created_at) VALUES (?, ?, ?, ?, ?)`),
		uuid.New().String(), fromID, toID, kind, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to link assets: %w", err)
	}
	return true, nil
}

// scans

type assetScanRow struct {
	ID            string         `db:"id"`
	Status        string         `db:"status"`
	Type          string         `db:"type"`
	Cause         string         `db:"cause"`
	ScheduleRunID sql.NullString `db:"schedule_run_id"`
	SourceID      sql.NullString `db:"source_id"`
	AssetCount    int            `db:"asset_count"`
	SourceCount   int            `db:"source_count"`
	Error         string         `db:"error"`
	StartedAt     sql.NullTime   `db:"started_at"`
	FinishedAt    sql.NullTime   `db:"finished_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r assetScanRow) toScan() *types.AssetScan {
	return &types.AssetScan{
		ID:            r.ID,
		Status:        types.ScanStatus(r.Status),
		Type:          types.ScanType(r.Type),
		Cause:         types.TriggerCause(r.Cause),
		ScheduleRunID: nullable(r.ScheduleRunID),
		SourceID:      nullable(r.SourceID),
		AssetCount:    r.AssetCount,
		SourceCount:   r.SourceCount,
		Error:         r.Error,
		StartedAt:     nullableTime(r.StartedAt),
		FinishedAt:    nullableTime(r.FinishedAt),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (s *sqlStore) CreateAssetScan(ctx context.Context, scan *types.AssetScan) error {
	now := time.Now().UTC()
	if scan.ID == "" {
		scan.ID = uuid.New().String()
	}
	if scan.Status == "" {
		scan.Status = types.ScanStatusPending
	}
	scan.CreatedAt = now
	scan.UpdatedAt = now
	if scan.StartedAt == nil {
		scan.StartedAt = &now
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO asset_scans (id, status, type, cause, schedule_run_id, source_id,
			asset_count, source_count, error, started_at, finished_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		scan.ID, scan.Status, scan.Type, scan.Cause, toNull(scan.ScheduleRunID), toNull(scan.SourceID),
		scan.AssetCount, scan.SourceCount, scan.Error, toNullTime(scan.StartedAt),
		toNullTime(scan.FinishedAt), scan.CreatedAt, scan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create asset scan: %w", err)
	}
	return nil
}

func (s *sqlStore) GetAssetScan(ctx context.Context, id string) (*types.AssetScan, error) {
	var row assetScanRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM asset_scans WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("asset scan", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load asset scan: %w", err)
	}
	return row.toScan(), nil
}

// UpdateAssetScan persists scan mutations, rejecting illegal lifecycle
// transitions.
func (s *sqlStore) UpdateAssetScan(ctx context.Context, scan *types.AssetScan) error {
	current, err := s.GetAssetScan(ctx, scan.ID)
	if err != nil {
		return err
	}
	if current.Status != scan.Status && !current.Status.CanTransition(scan.Status) {
		return types.NewValidationError(fmt.Sprintf(
			"illegal scan transition %s -> %s", current.Status, scan.Status))
	}

	scan.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE asset_scans SET status = ?, asset_count = ?, source_count = ?, error = ?,
			started_at = ?, finished_at = ?, updated_at = ?
		WHERE id = ?`),
		scan.Status, scan.AssetCount, scan.SourceCount, scan.Error,
		toNullTime(scan.StartedAt), toNullTime(scan.FinishedAt), scan.UpdatedAt, scan.ID)
	if err != nil {
		return fmt.Errorf("failed to update asset scan: %w", err)
	}
	return nil
}

// schedules

type scheduleRow struct {
	ID              string    `db:"id"`
	Type            string    `db:"type"`
	IntervalSeconds int       `db:"interval_seconds"`
	AssetIDs        string    `db:"asset_ids"`
	SourceIDs       string    `db:"source_ids"`
	Profiles        string    `db:"profiles"`
	Active          bool      `db:"active"`
	Deleted         bool      `db:"deleted"`
	CreatedBy       string    `db:"created_by"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r scheduleRow) toSchedule() (*types.Schedule, error) {
	sched := &types.Schedule{
		ID:              r.ID,
		Type:            types.ScanType(r.Type),
		IntervalSeconds: r.IntervalSeconds,
		Active:          r.Active,
		Deleted:         r.Deleted,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	for _, col := range []struct {
		raw string
		dst *[]string
	}{
		{r.AssetIDs, &sched.AssetIDs},
		{r.SourceIDs, &sched.SourceIDs},
		{r.Profiles, &sched.Profiles},
	} {
		if col.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return nil, fmt.Errorf("failed to decode schedule %s targets: %w", r.ID, err)
		}
	}
	return sched, nil
}

func (s *sqlStore) ListActiveSchedules(ctx context.Context) ([]*types.Schedule, error) {
	var rows []scheduleRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM schedules WHERE active = TRUE AND deleted = FALSE`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	schedules := make([]*types.Schedule, 0, len(rows))
	for _, r := range rows {
		sched, err := r.toSchedule()
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, nil
}

func (s *sqlStore) GetSchedule(ctx context.Context, id string) (*types.Schedule, error) {
	var row scheduleRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT * FROM schedules WHERE id = ? AND deleted = FALSE`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("schedule", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule: %w", err)
	}
	return row.toSchedule()
}

func (s *sqlStore) SaveSchedule(ctx context.Context, schedule *types.Schedule) error {
	now := time.Now().UTC()
	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now

	encode := func(v []string) (string, error) {
		if v == nil {
			v = []string{}
		}
		b, err := json.Marshal(v)
		return string(b), err
	}
	assetIDs, err := encode(schedule.AssetIDs)
	if err != nil {
		return fmt.Errorf("failed to encode asset ids: %w", err)
	}
	sourceIDs, err := encode(schedule.SourceIDs)
	if err != nil {
		return fmt.Errorf("failed to encode source ids: %w", err)
	}
	profiles, err := encode(schedule.Profiles)
	if err != nil {
		return fmt.Errorf("failed to encode profiles: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE schedules SET type = ?, interval_seconds = ?, asset_ids = ?, source_ids = ?,
			profiles = ?, active = ?, deleted = ?, updated_at = ?
		WHERE id = ?`),
		schedule.Type, schedule.IntervalSeconds, assetIDs, sourceIDs,
		profiles, schedule.Active, schedule.Deleted, schedule.UpdatedAt, schedule.ID)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO schedules (id, type, interval_seconds, asset_ids, source_ids, profiles,
			active, deleted, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		schedule.ID, schedule.Type, schedule.IntervalSeconds, assetIDs, sourceIDs, profiles,
		schedule.Active, schedule.Deleted, schedule.CreatedBy, schedule.CreatedAt, schedule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

// schedule runs

func (s *sqlStore) CreateScheduleRun(ctx context.Context, run *types.ScheduleRun) error {
	now := time.Now().UTC()
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = types.ScanStatusPending
	}
	run.CreatedAt = now
	run.UpdatedAt = now

	details := "{}"
	if run.Details != nil {
		b, err := json.Marshal(run.Details)
		if err != nil {
			return fmt.Errorf("failed to encode run details: %w", err)
		}
		details = string(b)
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO schedule_runs (id, schedule_id, status, success_count, failed_count,
			details, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, toNull(run.ScheduleID), run.Status, run.SuccessCount, run.FailedCount,
		details, run.CreatedBy, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create schedule run: %w", err)
	}
	return nil
}

func (s *sqlStore) UpdateScheduleRun(ctx context.Context, run *types.ScheduleRun) error {
	run.UpdatedAt = time.Now().UTC()

	details := "{}"
	if run.Details != nil {
		b, err := json.Marshal(run.Details)
		if err != nil {
			return fmt.Errorf("failed to encode run details: %w", err)
		}
		details = string(b)
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE schedule_runs SET status = ?, success_count = ?, failed_count = ?,
			details = ?, updated_at = ?
		WHERE id = ?`),
		run.Status, run.SuccessCount, run.FailedCount, details, run.UpdatedAt, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update schedule run: %w", err)
	}
	return nil
}

// screenshots

func (s *sqlStore) SaveScreenshot(ctx context.Context, shot *types.Screenshot) error {
	if shot.ID == "" {
		shot.ID = uuid.New().String()
	}
	shot.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO screenshots (id, webapp_id, scan_id, data, url, width, height, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		shot.ID, shot.WebappID, shot.ScanID, shot.Data, shot.URL, shot.Width, shot.Height, shot.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}
	return nil
}
