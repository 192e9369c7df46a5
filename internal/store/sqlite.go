package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/budyko/internal/models"
)

type Store struct {
	db *sql.DB

	// retryTimeout bounds how long a site write waits out a locked database.
	retryTimeout time.Duration
}

func New(db *sql.DB) *Store {
	return &Store{db: db, retryTimeout: 30 * time.Second}
}

// Open opens a sqlite database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := New(db)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) UpsertSite(site models.Site) error {
	_, err := s.db.Exec(`
		INSERT INTO sites (site_id, name, start_year, end_year, latitude, climate_class, land_cover, storage_capacity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site_id) DO UPDATE SET
			name = excluded.name,
			start_year = excluded.start_year,
			end_year = excluded.end_year,
			latitude = excluded.latitude,
			climate_class = excluded.climate_class,
			land_cover = excluded.land_cover,
			storage_capacity = excluded.storage_capacity
	`, site.SiteID, site.Name, site.StartYear, site.EndYear, site.Latitude, site.ClimateClass, site.LandCover, site.StorageCapacity)
	return err
}

func (s *Store) GetSite(siteID string) (*models.Site, error) {
	var site models.Site
	var name, climate, cover sql.NullString
	err := s.db.QueryRow(`
		SELECT site_id, name, start_year, end_year, latitude, climate_class, land_cover, storage_capacity
		FROM sites WHERE site_id = ?
	`, siteID).Scan(&site.SiteID, &name, &site.StartYear, &site.EndYear, &site.Latitude, &climate, &cover, &site.StorageCapacity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	site.Name, site.ClimateClass, site.LandCover = name.String, climate.String, cover.String
	return &site, nil
}

// SaveSiteResults writes one site's annual rows and period summary in a
// single transaction, replacing anything previously stored for the site in
// this run. A locked database is retried with exponential backoff.
func (s *Store) SaveSiteResults(runID string, annual []models.WaterBalanceIndex, period *models.PeriodSummary) error {
	operation := func() error {
		err := s.saveSiteResults(runID, annual, period)
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = s.retryTimeout
	return backoff.Retry(operation, bo)
}

func (s *Store) saveSiteResults(runID string, annual []models.WaterBalanceIndex, period *models.PeriodSummary) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	siteID := ""
	if period != nil {
		siteID = period.SiteID
	} else if len(annual) > 0 {
		siteID = annual[0].SiteID
	}

	if _, err := tx.Exec(`DELETE FROM annual_water_balance WHERE run_id = ? AND site_id = ?`, runID, siteID); err != nil {
		return fmt.Errorf("clear annual rows: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM period_summaries WHERE run_id = ? AND site_id = ?`, runID, siteID); err != nil {
		return fmt.Errorf("clear period summary: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO annual_water_balance (run_id, site_id, year, precip, et, pet, precip_days, et_days, pet_days, days, aridity_index, evaporation_ratio)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare annual insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range annual {
		if row.SiteID != siteID {
			return fmt.Errorf("annual row for %s in results for %s", row.SiteID, siteID)
		}
		if _, err := stmt.Exec(runID, row.SiteID, row.Year, row.Precip, row.ET, row.PET,
			row.PrecipDays, row.ETDays, row.PETDays, row.Days, row.AridityIndex, row.EvaporationRatio); err != nil {
			return fmt.Errorf("insert %s %d: %w", row.SiteID, row.Year, err)
		}
	}

	if period != nil {
		if _, err := tx.Exec(`
			INSERT INTO period_summaries (run_id, site_id, years, mean_precip, mean_et, mean_pet, aridity_index, evaporation_ratio, budyko_ratio, budyko_deviation, pet_domain_errors)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, period.SiteID, period.Years, period.MeanPrecip, period.MeanET, period.MeanPET,
			period.AridityIndex, period.EvaporationRatio, period.BudykoRatio, period.BudykoDeviation, period.PETDomainErrors); err != nil {
			return fmt.Errorf("insert period summary %s: %w", period.SiteID, err)
		}
	}

	return tx.Commit()
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// GetAnnual returns a site's annual rows for a run, ordered by year.
func (s *Store) GetAnnual(runID, siteID string) ([]models.WaterBalanceIndex, error) {
	rows, err := s.db.Query(`
		SELECT site_id, year, precip, et, pet, precip_days, et_days, pet_days, days, aridity_index, evaporation_ratio
		FROM annual_water_balance
		WHERE run_id = ? AND site_id = ?
		ORDER BY year
	`, runID, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.WaterBalanceIndex
	for rows.Next() {
		var w models.WaterBalanceIndex
		if err := rows.Scan(&w.SiteID, &w.Year, &w.Precip, &w.ET, &w.PET, &w.PrecipDays, &w.ETDays,
			&w.PETDays, &w.Days, &w.AridityIndex, &w.EvaporationRatio); err != nil {
			return nil, err
		}
		results = append(results, w)
	}
	return results, rows.Err()
}

// GetPeriodSummaries returns every period summary for a run joined with site
// metadata, ordered by site ID.
func (s *Store) GetPeriodSummaries(runID string) ([]models.PeriodSummary, error) {
	rows, err := s.db.Query(`
		SELECT p.site_id, p.years, p.mean_precip, p.mean_et, p.mean_pet, p.aridity_index, p.evaporation_ratio,
			p.budyko_ratio, p.budyko_deviation, p.pet_domain_errors,
			COALESCE(s.climate_class, ''), COALESCE(s.land_cover, ''), s.storage_capacity
		FROM period_summaries p
		LEFT JOIN sites s ON s.site_id = p.site_id
		WHERE p.run_id = ?
		ORDER BY p.site_id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.PeriodSummary
	for rows.Next() {
		var p models.PeriodSummary
		if err := rows.Scan(&p.SiteID, &p.Years, &p.MeanPrecip, &p.MeanET, &p.MeanPET, &p.AridityIndex,
			&p.EvaporationRatio, &p.BudykoRatio, &p.BudykoDeviation, &p.PETDomainErrors,
			&p.ClimateClass, &p.LandCover, &p.StorageCapacity); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}
