package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lox/budyko/internal/pet"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "budyko.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `data_dir: daily
pet_method: hargreaves
workers: 4
disable_qc: true
columns:
  precipitation: P_ERA
sites:
  - id: US-Ha1
    name: Harvard Forest
    start_year: 1992
    end_year: 2012
    latitude: 42.5378
    climate: Dfb
    land_cover: DBF
    storage_capacity: 180
  - id: US-Var
    start_year: 2001
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DataDir != filepath.Join(dir, "daily") {
		t.Errorf("DataDir = %q, want resolved against config dir", cfg.DataDir)
	}
	if cfg.PETMethod != pet.Hargreaves {
		t.Errorf("PETMethod = %v, want hargreaves", cfg.PETMethod)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if !cfg.DisableQC {
		t.Error("DisableQC = false, want true")
	}
	if cfg.Columns.Precip != "P_ERA" {
		t.Errorf("Columns.Precip = %q, want P_ERA", cfg.Columns.Precip)
	}
	if cfg.Columns.LatentHeat != "LE_F_MAT" {
		t.Errorf("Columns.LatentHeat = %q, want the FLUXNET default", cfg.Columns.LatentHeat)
	}
	if cfg.FileMarker != "_DD_" || cfg.MissingValue != -9999 {
		t.Errorf("defaults not applied: marker %q missing %v", cfg.FileMarker, cfg.MissingValue)
	}

	sites, err := cfg.Roster()
	if err != nil {
		t.Fatalf("Roster: %v", err)
	}
	if len(sites) != 2 {
		t.Fatalf("len(sites) = %d, want 2", len(sites))
	}
	ha1 := sites[0]
	if start, end, ok := ha1.Window(); !ok || start != 1992 || end != 2012 {
		t.Errorf("US-Ha1 window = %d..%d ok=%v", start, end, ok)
	}
	if !ha1.Latitude.Valid || ha1.ClimateClass != "Dfb" || !ha1.StorageCapacity.Valid {
		t.Errorf("US-Ha1 metadata = %+v", ha1)
	}
	if _, _, ok := sites[1].Window(); ok {
		t.Error("US-Var has no end_year and should have an invalid window")
	}
}

func TestLoad_DefaultMethod(t *testing.T) {
	cfg, err := Parse([]byte("data_dir: /data\nsites:\n  - id: A\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PETMethod != pet.PriestleyTaylor {
		t.Errorf("PETMethod = %v, want priestley_taylor", cfg.PETMethod)
	}
	if cfg.DisableQC {
		t.Error("quality control should be on by default")
	}
}

func TestLoad_UnknownMethod(t *testing.T) {
	_, err := Parse([]byte("data_dir: /data\npet_method: turc\nsites:\n  - id: A\n"))
	if err == nil {
		t.Fatal("Expected error for unknown pet_method, got nil")
	}
	if !strings.Contains(err.Error(), "priestley_taylor") {
		t.Errorf("error %q should list valid methods", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid YAML, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/budyko.yaml"); err == nil {
		t.Error("Expected error for missing file, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no data dir", "sites:\n  - id: A\n", "data_dir"},
		{"no sites", "data_dir: /d\n", "sites or roster_csv"},
		{"negative workers", "data_dir: /d\nworkers: -1\nsites:\n  - id: A\n", "workers"},
		{"empty id", "data_dir: /d\nsites:\n  - name: x\n", "sites[0].id"},
		{"duplicate id", "data_dir: /d\nsites:\n  - id: A\n  - id: A\n", "duplicate"},
		{"blank timestamp column", "data_dir: /d\ncolumns:\n  timestamp: \"\"\nsites:\n  - id: A\n", "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRoster_MergesCSV(t *testing.T) {
	dir := t.TempDir()
	roster := "SITE_ID,start_year,end_year,LOCATION_LAT,IGBP,koppen\n" +
		"US-Ha1,1990.0,1995.0,42.5,DBF,Dfb\n" +
		"AU-How,2002.0,2014.0,-12.49,WSA,Aw\n" +
		"DE-Tha,nan,2014.0,50.96,ENF,Cfb\n" +
		",2000,2001,0,,\n"
	if err := os.WriteFile(filepath.Join(dir, "sites.csv"), []byte(roster), 0o644); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, dir, `data_dir: daily
roster_csv: sites.csv
sites:
  - id: US-Ha1
    start_year: 1992
    end_year: 2012
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sites, err := cfg.Roster()
	if err != nil {
		t.Fatalf("Roster: %v", err)
	}
	if len(sites) != 3 {
		t.Fatalf("len(sites) = %d, want 3", len(sites))
	}
	if sites[0].SiteID != "US-Ha1" || sites[0].StartYear.Int64 != 1992 {
		t.Errorf("inline site should win: %+v", sites[0])
	}
	if sites[1].SiteID != "AU-How" || sites[1].LandCover != "WSA" || sites[1].ClimateClass != "Aw" {
		t.Errorf("AU-How = %+v", sites[1])
	}
	if sites[2].StartYear.Valid {
		t.Error("nan start year should be missing")
	}
}
