package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Run records one pipeline invocation for auditing.
type Run struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     sql.NullTime
	PETMethod      string
	SitesTotal     int
	SitesProcessed int
	SitesSkipped   int
	Success        bool
	ErrorMessage   sql.NullString
}

// Skip records why a site produced no results in a run.
type Skip struct {
	SiteID string
	Reason string
	Detail string
}

// StartRun creates a new run record with a fresh ID and returns it.
func (s *Store) StartRun(petMethod string, sitesTotal int) (*Run, error) {
	run := &Run{
		ID:         uuid.NewString(),
		StartedAt:  time.Now().UTC(),
		PETMethod:  petMethod,
		SitesTotal: sitesTotal,
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, pet_method, sites_total, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.ID, run.StartedAt, run.PETMethod, run.SitesTotal)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// FinishRun updates the run with its final counts.
func (s *Store) FinishRun(run *Run) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE runs SET
			finished_at = ?,
			sites_processed = ?,
			sites_skipped = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.SitesProcessed, run.SitesSkipped, run.Success, run.ErrorMessage, run.ID)
	return err
}

func (s *Store) GetRun(id string) (*Run, error) {
	var r Run
	err := s.db.QueryRow(`
		SELECT id, started_at, finished_at, pet_method, sites_total, sites_processed, sites_skipped, success, error_message
		FROM runs WHERE id = ?
	`, id).Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.PETMethod, &r.SitesTotal,
		&r.SitesProcessed, &r.SitesSkipped, &r.Success, &r.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertSkip records a skipped site. A repeated skip for the same site in the
// same run overwrites the earlier reason.
func (s *Store) InsertSkip(runID string, skip Skip) error {
	_, err := s.db.Exec(`
		INSERT INTO skipped_sites (run_id, site_id, reason, detail)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, site_id) DO UPDATE SET
			reason = excluded.reason,
			detail = excluded.detail
	`, runID, skip.SiteID, skip.Reason, skip.Detail)
	return err
}

func (s *Store) GetSkips(runID string) ([]Skip, error) {
	rows, err := s.db.Query(`
		SELECT site_id, reason, COALESCE(detail, '')
		FROM skipped_sites
		WHERE run_id = ?
		ORDER BY site_id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Skip
	for rows.Next() {
		var sk Skip
		if err := rows.Scan(&sk.SiteID, &sk.Reason, &sk.Detail); err != nil {
			return nil, err
		}
		results = append(results, sk)
	}
	return results, rows.Err()
}
