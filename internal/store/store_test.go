package store

import (
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/lox/budyko/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func valid(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("version = %d, want %d", version, len(migrations))
	}
}

func TestUpsertAndGetSite(t *testing.T) {
	store := setupTestStore(t)

	site := models.Site{
		SiteID:       "US-Ha1",
		Name:         "Harvard Forest",
		StartYear:    sql.NullInt64{Int64: 1992, Valid: true},
		EndYear:      sql.NullInt64{Int64: 2012, Valid: true},
		Latitude:     valid(42.5378),
		ClimateClass: "Dfb",
		LandCover:    "DBF",
	}
	if err := store.UpsertSite(site); err != nil {
		t.Fatalf("UpsertSite: %v", err)
	}

	site.LandCover = "MF"
	if err := store.UpsertSite(site); err != nil {
		t.Fatalf("UpsertSite (update): %v", err)
	}

	got, err := store.GetSite("US-Ha1")
	if err != nil {
		t.Fatalf("GetSite: %v", err)
	}
	if got == nil {
		t.Fatal("GetSite returned nil")
	}
	if got.LandCover != "MF" {
		t.Errorf("LandCover = %q, want MF", got.LandCover)
	}
	if got.StorageCapacity.Valid {
		t.Error("StorageCapacity should be NULL")
	}
	if !got.StartYear.Valid || got.StartYear.Int64 != 1992 {
		t.Errorf("StartYear = %+v", got.StartYear)
	}

	missing, err := store.GetSite("XX-Nop")
	if err != nil {
		t.Fatalf("GetSite missing: %v", err)
	}
	if missing != nil {
		t.Errorf("GetSite missing = %+v, want nil", missing)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.StartRun("hargreaves", 3)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if run.ID == "" {
		t.Fatal("run ID should be set")
	}

	other, err := store.StartRun("hargreaves", 3)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if other.ID == run.ID {
		t.Error("run IDs should be unique")
	}

	run.SitesProcessed = 2
	run.SitesSkipped = 1
	run.Success = true
	if err := store.FinishRun(run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil {
		t.Fatal("GetRun returned nil")
	}
	if !got.Success || got.SitesProcessed != 2 || got.SitesSkipped != 1 || got.SitesTotal != 3 {
		t.Errorf("run = %+v", got)
	}
	if !got.FinishedAt.Valid {
		t.Error("FinishedAt should be set")
	}
	if got.PETMethod != "hargreaves" {
		t.Errorf("PETMethod = %q", got.PETMethod)
	}

	if err := store.FinishRun(nil); err != nil {
		t.Errorf("FinishRun(nil) = %v, want nil", err)
	}
}

func annualRows(siteID string) []models.WaterBalanceIndex {
	return []models.WaterBalanceIndex{
		{
			AnnualAggregate: models.AnnualAggregate{
				SiteID: siteID, Year: 2001, Precip: 800, ET: 400, PET: 600,
				PrecipDays: 365, ETDays: 365, PETDays: 365, Days: 365,
			},
			AridityIndex:     valid(0.75),
			EvaporationRatio: valid(0.5),
		},
		{
			AnnualAggregate: models.AnnualAggregate{
				SiteID: siteID, Year: 2000, Precip: 0, ET: 380, PET: 620,
				PrecipDays: 0, ETDays: 366, PETDays: 366, Days: 366,
			},
		},
	}
}

func TestSaveSiteResults(t *testing.T) {
	store := setupTestStore(t)

	if err := store.UpsertSite(models.Site{SiteID: "AU-How", ClimateClass: "Aw", LandCover: "WSA", StorageCapacity: valid(250)}); err != nil {
		t.Fatalf("UpsertSite: %v", err)
	}

	period := &models.PeriodSummary{
		SiteID:           "AU-How",
		Years:            2,
		MeanPrecip:       valid(800),
		MeanET:           valid(390),
		MeanPET:          valid(610),
		AridityIndex:     valid(0.7625),
		EvaporationRatio: valid(0.4875),
		PETDomainErrors:  4,
	}
	if err := store.SaveSiteResults("run-1", annualRows("AU-How"), period); err != nil {
		t.Fatalf("SaveSiteResults: %v", err)
	}

	annual, err := store.GetAnnual("run-1", "AU-How")
	if err != nil {
		t.Fatalf("GetAnnual: %v", err)
	}
	if len(annual) != 2 {
		t.Fatalf("len(annual) = %d, want 2", len(annual))
	}
	if annual[0].Year != 2000 || annual[1].Year != 2001 {
		t.Errorf("years = %d, %d, want ascending", annual[0].Year, annual[1].Year)
	}
	if annual[0].AridityIndex.Valid || annual[0].EvaporationRatio.Valid {
		t.Error("undefined ratios should round-trip as NULL")
	}
	if annual[1].EvaporationRatio.Float64 != 0.5 || annual[1].PETDays != 365 {
		t.Errorf("annual[1] = %+v", annual[1])
	}

	summaries, err := store.GetPeriodSummaries("run-1")
	if err != nil {
		t.Fatalf("GetPeriodSummaries: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("len(summaries) = %d, want 1", len(summaries))
	}
	got := summaries[0]
	if got.ClimateClass != "Aw" || got.LandCover != "WSA" || got.StorageCapacity.Float64 != 250 {
		t.Errorf("site metadata not joined: %+v", got)
	}
	if got.BudykoRatio.Valid {
		t.Error("BudykoRatio should be NULL")
	}
	if got.PETDomainErrors != 4 {
		t.Errorf("PETDomainErrors = %d, want 4", got.PETDomainErrors)
	}

	// Saving again for the same run replaces rather than duplicates.
	if err := store.SaveSiteResults("run-1", annualRows("AU-How")[:1], period); err != nil {
		t.Fatalf("SaveSiteResults (again): %v", err)
	}
	annual, err = store.GetAnnual("run-1", "AU-How")
	if err != nil {
		t.Fatalf("GetAnnual: %v", err)
	}
	if len(annual) != 1 {
		t.Errorf("len(annual) after resave = %d, want 1", len(annual))
	}

	other, err := store.GetAnnual("run-2", "AU-How")
	if err != nil {
		t.Fatalf("GetAnnual run-2: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("run-2 should be empty, got %d rows", len(other))
	}
}

func TestSaveSiteResults_RollsBackOnMismatch(t *testing.T) {
	store := setupTestStore(t)

	rows := append(annualRows("US-Ha1"), annualRows("DE-Tha")...)
	err := store.SaveSiteResults("run-1", rows, &models.PeriodSummary{SiteID: "US-Ha1"})
	if err == nil {
		t.Fatal("expected error for rows from another site")
	}

	annual, err := store.GetAnnual("run-1", "US-Ha1")
	if err != nil {
		t.Fatalf("GetAnnual: %v", err)
	}
	if len(annual) != 0 {
		t.Errorf("partial write survived: %d rows", len(annual))
	}
}

func TestGetPeriodSummaries_OrderedBySite(t *testing.T) {
	store := setupTestStore(t)

	for _, id := range []string{"US-Var", "AU-How", "DE-Tha"} {
		if err := store.SaveSiteResults("run-1", nil, &models.PeriodSummary{SiteID: id, Years: 1}); err != nil {
			t.Fatalf("SaveSiteResults %s: %v", id, err)
		}
	}

	summaries, err := store.GetPeriodSummaries("run-1")
	if err != nil {
		t.Fatalf("GetPeriodSummaries: %v", err)
	}
	var ids []string
	for _, s := range summaries {
		ids = append(ids, s.SiteID)
	}
	if len(ids) != 3 || ids[0] != "AU-How" || ids[1] != "DE-Tha" || ids[2] != "US-Var" {
		t.Errorf("site order = %v", ids)
	}
	if summaries[0].ClimateClass != "" {
		t.Errorf("unknown site should have empty metadata, got %q", summaries[0].ClimateClass)
	}
}

func TestInsertSkip(t *testing.T) {
	store := setupTestStore(t)

	if err := store.InsertSkip("run-1", Skip{SiteID: "US-Var", Reason: "missing_site", Detail: "no daily file"}); err != nil {
		t.Fatalf("InsertSkip: %v", err)
	}
	if err := store.InsertSkip("run-1", Skip{SiteID: "AU-How", Reason: "invalid_window"}); err != nil {
		t.Fatalf("InsertSkip: %v", err)
	}
	if err := store.InsertSkip("run-1", Skip{SiteID: "US-Var", Reason: "read_error", Detail: "line 3"}); err != nil {
		t.Fatalf("InsertSkip (overwrite): %v", err)
	}

	skips, err := store.GetSkips("run-1")
	if err != nil {
		t.Fatalf("GetSkips: %v", err)
	}
	if len(skips) != 2 {
		t.Fatalf("len(skips) = %d, want 2", len(skips))
	}
	if skips[0].SiteID != "AU-How" || skips[0].Detail != "" {
		t.Errorf("skips[0] = %+v", skips[0])
	}
	if skips[1].Reason != "read_error" || skips[1].Detail != "line 3" {
		t.Errorf("skips[1] = %+v", skips[1])
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("begin tx: database is locked"), true},
		{errors.New("UNIQUE constraint failed"), false},
	}
	for _, tt := range tests {
		if got := isBusy(tt.err); got != tt.want {
			t.Errorf("isBusy(%q) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
