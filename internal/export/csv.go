package export

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lox/budyko/internal/models"
)

// Undefined is written in place of a ratio that could not be computed.
const Undefined = "undefined"

var (
	AnnualHeader = []string{"site", "year", "precip", "et", "pet", "precip_days", "et_days", "pet_days", "aridity_index", "evaporation_ratio"}
	PeriodHeader = []string{"site", "years", "mean_precip", "mean_et", "mean_pet", "aridity_index", "evaporation_ratio", "budyko_ratio", "budyko_deviation", "climate_class", "land_cover", "storage_capacity"}
)

func WriteAnnualCSV(w io.Writer, rows []models.WaterBalanceIndex) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(AnnualHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.SiteID,
			strconv.Itoa(r.Year),
			formatFloat(r.Precip),
			formatFloat(r.ET),
			formatFloat(r.PET),
			strconv.Itoa(r.PrecipDays),
			strconv.Itoa(r.ETDays),
			strconv.Itoa(r.PETDays),
			ratio(r.AridityIndex),
			ratio(r.EvaporationRatio),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write %s %d: %w", r.SiteID, r.Year, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func WritePeriodCSV(w io.Writer, rows []models.PeriodSummary) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(PeriodHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.SiteID,
			strconv.Itoa(r.Years),
			optional(r.MeanPrecip),
			optional(r.MeanET),
			optional(r.MeanPET),
			ratio(r.AridityIndex),
			ratio(r.EvaporationRatio),
			ratio(r.BudykoRatio),
			ratio(r.BudykoDeviation),
			r.ClimateClass,
			r.LandCover,
			optional(r.StorageCapacity),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write %s: %w", r.SiteID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteAnnualFile creates path, including parent directories, and writes rows to it.
func WriteAnnualFile(path string, rows []models.WaterBalanceIndex) error {
	return writeFile(path, func(w io.Writer) error { return WriteAnnualCSV(w, rows) })
}

func WritePeriodFile(path string, rows []models.PeriodSummary) error {
	return writeFile(path, func(w io.Writer) error { return WritePeriodCSV(w, rows) })
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func ratio(v sql.NullFloat64) string {
	if !v.Valid {
		return Undefined
	}
	return formatFloat(v.Float64)
}

func optional(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.Float64)
}
