package config

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lox/budyko/internal/ingest"
	"github.com/lox/budyko/internal/models"
	"github.com/lox/budyko/internal/pet"
)

type Site struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	StartYear       *int     `yaml:"start_year"`
	EndYear         *int     `yaml:"end_year"`
	Latitude        *float64 `yaml:"latitude"`
	ClimateClass    string   `yaml:"climate"`
	LandCover       string   `yaml:"land_cover"`
	StorageCapacity *float64 `yaml:"storage_capacity"`
}

type Config struct {
	DataDir      string         `yaml:"data_dir"`
	FileMarker   string         `yaml:"file_marker"`
	MissingValue float64        `yaml:"missing_value"`
	PETMethod    pet.Method     `yaml:"pet_method"`
	Workers      int            `yaml:"workers"`
	Database     string         `yaml:"database"`
	AnnualCSV    string         `yaml:"annual_csv"`
	PeriodCSV    string         `yaml:"period_csv"`
	RosterCSV    string         `yaml:"roster_csv"`
	DisableQC    bool           `yaml:"disable_qc"`
	Columns      ingest.Columns `yaml:"columns"`
	Sites        []Site         `yaml:"sites"`
}

func defaults() *Config {
	return &Config{
		FileMarker:   ingest.DefaultMarker,
		MissingValue: ingest.DefaultMissingValue,
		PETMethod:    pet.PriestleyTaylor,
		Columns:      ingest.FluxnetColumns(),
	}
}

// Load reads a YAML config file. Relative data_dir and roster_csv paths are
// resolved against the config file's directory.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(configPath)
	if cfg.DataDir != "" && !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(base, cfg.DataDir)
	}
	if cfg.RosterCSV != "" && !filepath.IsAbs(cfg.RosterCSV) {
		cfg.RosterCSV = filepath.Join(base, cfg.RosterCSV)
	}
	return cfg, nil
}

func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if len(c.Sites) == 0 && c.RosterCSV == "" {
		return fmt.Errorf("either sites or roster_csv must be set")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", c.Workers)
	}
	if c.Columns.Timestamp == "" {
		return fmt.Errorf("columns.timestamp cannot be empty")
	}
	seen := make(map[string]bool, len(c.Sites))
	for i, s := range c.Sites {
		if s.ID == "" {
			return fmt.Errorf("sites[%d].id cannot be empty", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate site id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Roster returns the configured sites followed by any sites from roster_csv
// that are not already listed inline.
func (c *Config) Roster() ([]models.Site, error) {
	sites := make([]models.Site, 0, len(c.Sites))
	seen := make(map[string]bool, len(c.Sites))
	for _, s := range c.Sites {
		sites = append(sites, s.toModel())
		seen[s.ID] = true
	}

	if c.RosterCSV != "" {
		fromFile, err := LoadRosterCSV(c.RosterCSV)
		if err != nil {
			return nil, err
		}
		for _, s := range fromFile {
			if seen[s.SiteID] {
				continue
			}
			seen[s.SiteID] = true
			sites = append(sites, s)
		}
	}
	return sites, nil
}

func (s Site) toModel() models.Site {
	m := models.Site{
		SiteID:       s.ID,
		Name:         s.Name,
		ClimateClass: s.ClimateClass,
		LandCover:    s.LandCover,
	}
	if s.StartYear != nil {
		m.StartYear = sql.NullInt64{Int64: int64(*s.StartYear), Valid: true}
	}
	if s.EndYear != nil {
		m.EndYear = sql.NullInt64{Int64: int64(*s.EndYear), Valid: true}
	}
	if s.Latitude != nil {
		m.Latitude = sql.NullFloat64{Float64: *s.Latitude, Valid: true}
	}
	if s.StorageCapacity != nil {
		m.StorageCapacity = sql.NullFloat64{Float64: *s.StorageCapacity, Valid: true}
	}
	return m
}
