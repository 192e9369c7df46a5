package ingest

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lox/budyko/internal/models"
)

const (
	DefaultMarker       = "_DD_"
	DefaultMissingValue = -9999.0
)

var ErrSiteNotFound = errors.New("no daily file for site")

// Columns maps DailyRecord fields to CSV header names. An empty name means
// the field is not present in the file.
type Columns struct {
	Timestamp   string `yaml:"timestamp"`
	NetRad      string `yaml:"net_radiation"`
	AirTemp     string `yaml:"air_temperature"`
	Pressure    string `yaml:"pressure"`
	RelHumidity string `yaml:"relative_humidity"`
	WindSpeed   string `yaml:"wind_speed"`
	Precip      string `yaml:"precipitation"`
	LatentHeat  string `yaml:"latent_heat"`
	TempMin     string `yaml:"temperature_min"`
	TempMax     string `yaml:"temperature_max"`
	GroundHeat  string `yaml:"ground_heat"`
}

// FluxnetColumns are the FLUXNET2015 daily (DD) product column names.
func FluxnetColumns() Columns {
	return Columns{
		Timestamp:   "TIMESTAMP",
		NetRad:      "NETRAD",
		AirTemp:     "TA_F",
		Pressure:    "PA_F",
		RelHumidity: "RH",
		WindSpeed:   "WS_F",
		Precip:      "P_F",
		LatentHeat:  "LE_F_MAT",
		TempMin:     "TMIN_F",
		TempMax:     "TMAX_F",
		GroundHeat:  "G_F_MDS",
	}
}

// Locate finds the daily file for siteID in dir. Candidates must contain the
// daily marker. Files where the site ID is a whole name token (delimited by
// '_', '.' or the ends of the name) are preferred over bare substring matches,
// so "US-Ha1" never resolves to a "US-Ha10" file while its own exists. Ties
// are broken by name.
func Locate(dir, siteID, marker string) (string, error) {
	if marker == "" {
		marker = DefaultMarker
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read data dir: %w", err)
	}

	var tokens, substrings []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.Contains(name, marker) || !strings.Contains(name, siteID) {
			continue
		}
		if hasToken(name, siteID) {
			tokens = append(tokens, name)
		} else {
			substrings = append(substrings, name)
		}
	}

	matches := tokens
	if len(matches) == 0 {
		matches = substrings
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s in %s", ErrSiteNotFound, siteID, dir)
	}
	sort.Strings(matches)
	if len(matches) > 1 {
		log.Printf("ingest: %s: %d daily files match, using %s", siteID, len(matches), matches[0])
	}
	return filepath.Join(dir, matches[0]), nil
}

func hasToken(name, token string) bool {
	if token == "" {
		return false
	}
	isDelim := func(b byte) bool { return b == '_' || b == '.' }
	for i := 0; ; {
		j := strings.Index(name[i:], token)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(token)
		if (start == 0 || isDelim(name[start-1])) && (end == len(name) || isDelim(name[end])) {
			return true
		}
		i = start + 1
	}
}

// ReadDailyFile opens path and parses it with ReadDaily.
func ReadDailyFile(path, siteID string, cols Columns, missing float64) ([]models.DailyRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open daily file: %w", err)
	}
	defer f.Close()

	recs, err := ReadDaily(f, siteID, cols, missing)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return recs, nil
}

// ReadDaily parses a header-first daily CSV. Empty cells, "NA"/"NaN" and the
// missing sentinel become missing values; an unparseable timestamp fails the
// whole file.
func ReadDaily(r io.Reader, siteID string, cols Columns, missing float64) ([]models.DailyRecord, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ReplaceAll(strings.TrimSpace(h), `"`, "")
		index[h] = i
	}

	tsCol, ok := index[cols.Timestamp]
	if !ok {
		return nil, fmt.Errorf("timestamp column %q not found", cols.Timestamp)
	}

	lookup := func(name string) int {
		if name == "" {
			return -1
		}
		if i, ok := index[name]; ok {
			return i
		}
		return -1
	}
	fields := []struct {
		col int
		dst func(*models.DailyRecord) *sql.NullFloat64
	}{
		{lookup(cols.NetRad), func(d *models.DailyRecord) *sql.NullFloat64 { return &d.NetRad }},
		{lookup(cols.AirTemp), func(d *models.DailyRecord) *sql.NullFloat64 { return &d.AirTemp }},
		{lookup(cols.Pressure), func(d *models.DailyRecord) *sql.NullFloat64 { return &d.Pressure }},
		{lookup(cols.RelHumidity), func(d *models.DailyRecord) *sql.NullFloat64 { return &d.RelHumidity }},
		{lookup(cols.WindSpeed), func(d *models.DailyRecord) *sql.NullFloat64 { return &d.WindSpeed }},
		{lookup(cols.Precip), func(d *models.DailyRecord) *sql.NullFloat64 { return &d.Precip }},
		{lookup(cols.LatentHeat), func(d *models.DailyRecord) *sql.NullFloat64 { return &d.LatentHeat }},
		{lookup(cols.TempMin), func(d *models.DailyRecord) *sql.NullFloat64 { return &d.TempMin }},
		{lookup(cols.TempMax), func(d *models.DailyRecord) *sql.NullFloat64 { return &d.TempMax }},
		{lookup(cols.GroundHeat), func(d *models.DailyRecord) *sql.NullFloat64 { return &d.GroundHeat }},
	}

	var records []models.DailyRecord
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if tsCol >= len(row) {
			return nil, fmt.Errorf("line %d: missing timestamp", line)
		}

		date, err := ParseTimestamp(row[tsCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		rec := models.DailyRecord{SiteID: siteID, Date: date}
		for _, f := range fields {
			if f.col < 0 || f.col >= len(row) {
				continue
			}
			*f.dst(&rec) = parseMeasurement(row[f.col], missing)
		}
		records = append(records, rec)
	}

	return records, nil
}

// ParseTimestamp accepts YYYYMMDD (optionally followed by HHMM) and YYYY-MM-DD.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 8 && isDigits(s) {
		return time.Parse("20060102", s[:8])
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseMeasurement(s string, missing float64) sql.NullFloat64 {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "na", "nan", "null":
		return sql.NullFloat64{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v == missing {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
