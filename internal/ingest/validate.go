package ingest

import (
	"database/sql"
	"encoding/json"

	"github.com/lox/budyko/internal/models"
)

const (
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagHumidityInvalid    = "humidity_invalid"
	FlagWindSpeedNegative  = "wind_speed_negative"
	FlagPressureOutOfRange = "pressure_out_of_range"
	FlagPrecipNegative     = "precip_negative"
)

// ValidateRecord flags physically impossible values and clears the flagged
// fields so they are treated as missing downstream. Tmax < Tmin is left alone;
// that is reported by the PET engine.
func ValidateRecord(rec *models.DailyRecord) []string {
	var flags []string

	for _, f := range []*sql.NullFloat64{&rec.AirTemp, &rec.TempMin, &rec.TempMax} {
		if f.Valid && (f.Float64 < -70 || f.Float64 > 60) {
			flags = appendFlag(flags, FlagTempOutOfRange)
			*f = sql.NullFloat64{}
		}
	}

	if rec.RelHumidity.Valid {
		if rec.RelHumidity.Float64 < 0 || rec.RelHumidity.Float64 > 100 {
			flags = append(flags, FlagHumidityInvalid)
			rec.RelHumidity = sql.NullFloat64{}
		}
	}

	if rec.WindSpeed.Valid && rec.WindSpeed.Float64 < 0 {
		flags = append(flags, FlagWindSpeedNegative)
		rec.WindSpeed = sql.NullFloat64{}
	}

	if rec.Pressure.Valid {
		if rec.Pressure.Float64 < 50 || rec.Pressure.Float64 > 110 {
			flags = append(flags, FlagPressureOutOfRange)
			rec.Pressure = sql.NullFloat64{}
		}
	}

	if rec.Precip.Valid && rec.Precip.Float64 < 0 {
		flags = append(flags, FlagPrecipNegative)
		rec.Precip = sql.NullFloat64{}
	}

	return flags
}

func appendFlag(flags []string, flag string) []string {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	return append(flags, flag)
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
