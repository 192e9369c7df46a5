package models

import (
	"database/sql"
	"time"
)

type Site struct {
	SiteID          string
	Name            string
	StartYear       sql.NullInt64
	EndYear         sql.NullInt64
	Latitude        sql.NullFloat64
	ClimateClass    string // Köppen class, e.g. "Dfb"
	LandCover       string // IGBP class, e.g. "DBF"
	StorageCapacity sql.NullFloat64
}

// Window returns the inclusive validity window. ok is false when either bound
// is missing or the window is reversed.
func (s Site) Window() (start, end int, ok bool) {
	if !s.StartYear.Valid || !s.EndYear.Valid {
		return 0, 0, false
	}
	start, end = int(s.StartYear.Int64), int(s.EndYear.Int64)
	if start > end {
		return 0, 0, false
	}
	return start, end, true
}

type DailyRecord struct {
	SiteID      string
	Date        time.Time
	NetRad      sql.NullFloat64 // W/m²
	AirTemp     sql.NullFloat64 // °C
	Pressure    sql.NullFloat64 // kPa
	RelHumidity sql.NullFloat64 // %
	WindSpeed   sql.NullFloat64 // m/s
	Precip      sql.NullFloat64 // mm/day
	LatentHeat  sql.NullFloat64 // W/m²
	TempMin     sql.NullFloat64 // °C
	TempMax     sql.NullFloat64 // °C
	GroundHeat  sql.NullFloat64 // W/m²
}

type AnnualAggregate struct {
	SiteID     string
	Year       int
	Precip     float64 // mm/yr
	ET         float64 // mm/yr
	PET        float64 // mm/yr
	PrecipDays int
	ETDays     int
	PETDays    int
	Days       int
}

type WaterBalanceIndex struct {
	AnnualAggregate
	AridityIndex     sql.NullFloat64
	EvaporationRatio sql.NullFloat64
}

// Defined reports whether both ratios could be computed for the year.
func (w WaterBalanceIndex) Defined() bool {
	return w.AridityIndex.Valid && w.EvaporationRatio.Valid
}

type PeriodSummary struct {
	SiteID           string
	Years            int
	MeanPrecip       sql.NullFloat64
	MeanET           sql.NullFloat64
	MeanPET          sql.NullFloat64
	AridityIndex     sql.NullFloat64
	EvaporationRatio sql.NullFloat64
	BudykoRatio      sql.NullFloat64
	BudykoDeviation  sql.NullFloat64
	PETDomainErrors  int

	ClimateClass    string
	LandCover       string
	StorageCapacity sql.NullFloat64
}
