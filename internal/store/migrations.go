package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS sites (
    site_id TEXT PRIMARY KEY,
    name TEXT,
    start_year INTEGER,
    end_year INTEGER,
    latitude REAL,
    climate_class TEXT,
    land_cover TEXT,
    storage_capacity REAL
);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    pet_method TEXT NOT NULL,
    sites_total INTEGER NOT NULL DEFAULT 0,
    sites_processed INTEGER NOT NULL DEFAULT 0,
    sites_skipped INTEGER NOT NULL DEFAULT 0,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS annual_water_balance (
    run_id TEXT NOT NULL,
    site_id TEXT NOT NULL,
    year INTEGER NOT NULL,
    precip REAL NOT NULL,
    et REAL NOT NULL,
    pet REAL NOT NULL,
    precip_days INTEGER NOT NULL,
    et_days INTEGER NOT NULL,
    pet_days INTEGER NOT NULL,
    days INTEGER NOT NULL,
    aridity_index REAL,
    evaporation_ratio REAL,
    PRIMARY KEY (run_id, site_id, year)
);

CREATE TABLE IF NOT EXISTS period_summaries (
    run_id TEXT NOT NULL,
    site_id TEXT NOT NULL,
    years INTEGER NOT NULL,
    mean_precip REAL,
    mean_et REAL,
    mean_pet REAL,
    aridity_index REAL,
    evaporation_ratio REAL,
    budyko_ratio REAL,
    budyko_deviation REAL,
    PRIMARY KEY (run_id, site_id)
);
`,
	},
	{
		Version:     2,
		Description: "Track skipped sites per run",
		SQL: `
CREATE TABLE IF NOT EXISTS skipped_sites (
    run_id TEXT NOT NULL,
    site_id TEXT NOT NULL,
    reason TEXT NOT NULL,
    detail TEXT,
    PRIMARY KEY (run_id, site_id)
);

CREATE INDEX IF NOT EXISTS idx_annual_site ON annual_water_balance(site_id, year);
`,
	},
	{
		Version:     3,
		Description: "Count PET domain errors per site",
		SQL: `
ALTER TABLE period_summaries ADD COLUMN pet_domain_errors INTEGER NOT NULL DEFAULT 0;
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Printf("migrations: completed %d", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
