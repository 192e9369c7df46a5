package config

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/lox/budyko/internal/models"
)

// Recognised roster header names. Year columns are often exported as floats
// ("2004.0", "nan") from site-metadata spreadsheets.
var rosterHeaders = map[string][]string{
	"id":      {"site_id", "site", "siteid", "id"},
	"name":    {"name", "site_name"},
	"start":   {"start_year", "valid_start", "first_year"},
	"end":     {"end_year", "valid_end", "last_year"},
	"lat":     {"latitude", "lat", "location_lat"},
	"climate": {"climate", "koppen", "climate_class"},
	"cover":   {"land_cover", "igbp"},
	"storage": {"storage_capacity", "sr", "root_zone_storage"},
}

func LoadRosterCSV(path string) ([]models.Site, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()
	return ReadRoster(f)
}

func ReadRoster(r io.Reader) ([]models.Site, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read roster header: %w", err)
	}
	cols := make(map[string]int)
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for key, names := range rosterHeaders {
			for _, n := range names {
				if h == n {
					if _, ok := cols[key]; !ok {
						cols[key] = i
					}
				}
			}
		}
	}
	if _, ok := cols["id"]; !ok {
		return nil, fmt.Errorf("roster has no site id column")
	}

	get := func(row []string, key string) string {
		i, ok := cols[key]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var sites []models.Site
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("roster line %d: %w", line, err)
		}
		id := get(row, "id")
		if id == "" {
			continue
		}
		sites = append(sites, models.Site{
			SiteID:          id,
			Name:            get(row, "name"),
			StartYear:       parseYear(get(row, "start")),
			EndYear:         parseYear(get(row, "end")),
			Latitude:        parseFloat(get(row, "lat")),
			ClimateClass:    get(row, "climate"),
			LandCover:       get(row, "cover"),
			StorageCapacity: parseFloat(get(row, "storage")),
		})
	}
	return sites, nil
}

func parseFloat(s string) sql.NullFloat64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func parseYear(s string) sql.NullInt64 {
	v := parseFloat(s)
	if !v.Valid || v.Float64 != math.Trunc(v.Float64) {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(v.Float64), Valid: true}
}
