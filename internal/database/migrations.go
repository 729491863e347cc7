package database

import (
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
)

// Migration is a single schema change applied at connect time.
type Migration struct {
	Version     int
	Description string
	Up          string
}

// allMigrations returns the schema in order. Column types are chosen to work
// on both postgres and sqlite; the blob placeholder is substituted per driver.
func allMigrations(driver string) []Migration {
	blob := "BYTEA"
	if driver == "sqlite3" {
		blob = "BLOB"
	}

	return []Migration{
		{
			Version:     1,
			Description: "Create sources table",
			Up: `
				CREATE TABLE IF NOT EXISTS sources (
					id TEXT PRIMARY KEY,
					external_id TEXT NOT NULL DEFAULT '',
					name TEXT NOT NULL,
					type TEXT NOT NULL,
					credentials TEXT NOT NULL DEFAULT '{}',
					active BOOLEAN NOT NULL DEFAULT TRUE,
					deleted BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     2,
			Description: "Create assets table with natural-key indexes",
			Up: `
				CREATE TABLE IF NOT EXISTS assets (
					id TEXT PRIMARY KEY,
					type TEXT NOT NULL,
					sub_type TEXT NOT NULL DEFAULT '',
					name TEXT NOT NULL,
					port INTEGER NOT NULL DEFAULT 0,
					scheme TEXT NOT NULL DEFAULT '',
					cloud_key TEXT NOT NULL DEFAULT '',
					region TEXT NOT NULL DEFAULT '',
					metadata TEXT NOT NULL DEFAULT '{}',
					domain_id TEXT,
					subdomain_id TEXT,
					ip_id TEXT,
					webapp_id TEXT,
					added_by TEXT NOT NULL DEFAULT '',
					updated_by TEXT NOT NULL DEFAULT '',
					deleted BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_assets_type_name ON assets(type, name);
				CREATE INDEX IF NOT EXISTS idx_assets_cloud_key ON assets(sub_type, cloud_key);
				CREATE INDEX IF NOT EXISTS idx_assets_webapp ON assets(webapp_id);
			`,
		},
		{
			Version:     3,
			Description: "Create asset_scans table",
			Up: `
				CREATE TABLE IF NOT EXISTS asset_scans (
					id TEXT PRIMARY KEY,
					status TEXT NOT NULL,
					type TEXT NOT NULL,
					cause TEXT NOT NULL DEFAULT '',
					schedule_run_id TEXT,
					source_id TEXT,
					asset_count INTEGER NOT NULL DEFAULT 0,
					source_count INTEGER NOT NULL DEFAULT 0,
					error TEXT NOT NULL DEFAULT '',
					started_at TIMESTAMP,
					finished_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_asset_scans_status ON asset_scans(status);
			`,
		},
		{
			Version:     4,
			Description: "Create schedules and schedule_runs tables",
			Up: `
				CREATE TABLE IF NOT EXISTS schedules (
					id TEXT PRIMARY KEY,
					type TEXT NOT NULL,
					interval_seconds INTEGER NOT NULL,
					asset_ids TEXT NOT NULL DEFAULT '[]',
					source_ids TEXT NOT NULL DEFAULT '[]',
					profiles TEXT NOT NULL DEFAULT '[]',
					active BOOLEAN NOT NULL DEFAULT TRUE,
					deleted BOOLEAN NOT NULL DEFAULT FALSE,
					created_by TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
				CREATE TABLE IF NOT EXISTS schedule_runs (
					id TEXT PRIMARY KEY,
					schedule_id TEXT,
					status TEXT NOT NULL,
					success_count INTEGER NOT NULL DEFAULT 0,
					failed_count INTEGER NOT NULL DEFAULT 0,
					details TEXT NOT NULL DEFAULT '{}',
					created_by TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     5,
			Description: "Create link tables",
			Up: `
				CREATE TABLE IF NOT EXISTS asset_sources (
					id TEXT PRIMARY KEY,
					asset_id TEXT NOT NULL,
					source_id TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL,
					UNIQUE(asset_id, source_id)
				);
				CREATE TABLE IF NOT EXISTS asset_links (
					id TEXT PRIMARY KEY,
					from_id TEXT NOT NULL,
					to_id TEXT NOT NULL,
					kind TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL,
					UNIQUE(from_id, to_id, kind)
				);
			`,
		},
		{
			Version:     6,
			Description: "Create screenshots table",
			Up: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS screenshots (
					id TEXT PRIMARY KEY,
					webapp_id TEXT NOT NULL,
					scan_id TEXT NOT NULL,
					data %s,
					url TEXT NOT NULL DEFAULT '',
					width INTEGER NOT NULL DEFAULT 0,
					height INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_screenshots_webapp ON screenshots(webapp_id);
			`, blob),
		},
	}
}

// runMigrations applies pending migrations, tracking versions in a
// schema_migrations table.
func runMigrations(db *sqlx.DB, driver string) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	applied := map[int]bool{}
	var versions []int
	if err := db.Select(&versions, `SELECT version FROM schema_migrations`); err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	for _, v := range versions {
		applied[v] = true
	}

	migrations := allMigrations(driver)
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if _, err := db.Exec(m.Up); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(db.Rebind(
			`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`),
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
	}

	return nil
}
