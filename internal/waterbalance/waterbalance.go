// Package waterbalance derives Budyko-space indices from annual water-balance sums.
package waterbalance

import (
	"database/sql"
	"math"

	"github.com/lox/budyko/internal/models"
)

// Ratio divides num by den. The result is undefined (Valid=false) unless den
// is strictly positive and both operands are finite.
func Ratio(num, den float64) sql.NullFloat64 {
	if math.IsNaN(num) || math.IsInf(num, 0) || math.IsInf(den, 0) || !(den > 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: num / den, Valid: true}
}

func ratioOf(num, den sql.NullFloat64) sql.NullFloat64 {
	if !num.Valid || !den.Valid {
		return sql.NullFloat64{}
	}
	return Ratio(num.Float64, den.Float64)
}

// Annual computes aridity index (PET/P) and evaporation ratio (ET/P) for each
// year. Years with zero precipitation are kept with undefined ratios.
func Annual(aggs []models.AnnualAggregate) []models.WaterBalanceIndex {
	out := make([]models.WaterBalanceIndex, 0, len(aggs))
	for _, a := range aggs {
		out = append(out, models.WaterBalanceIndex{
			AnnualAggregate:  a,
			AridityIndex:     Ratio(a.PET, a.Precip),
			EvaporationRatio: Ratio(a.ET, a.Precip),
		})
	}
	return out
}

type mean struct {
	total float64
	n     int
}

func (m *mean) add(v float64, days int) {
	if days == 0 || math.IsNaN(v) {
		return
	}
	m.total += v
	m.n++
}

func (m mean) value() sql.NullFloat64 {
	if m.n == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: m.total / float64(m.n), Valid: true}
}

// Period averages each field over the years in which it was observed and
// derives the ratios from those means (ratio of means). ok is false when
// aggs is empty.
func Period(site models.Site, aggs []models.AnnualAggregate) (summary models.PeriodSummary, ok bool) {
	if len(aggs) == 0 {
		return models.PeriodSummary{}, false
	}

	var precip, et, pet mean
	for _, a := range aggs {
		precip.add(a.Precip, a.PrecipDays)
		et.add(a.ET, a.ETDays)
		pet.add(a.PET, a.PETDays)
	}

	summary = models.PeriodSummary{
		SiteID:          site.SiteID,
		Years:           len(aggs),
		MeanPrecip:      precip.value(),
		MeanET:          et.value(),
		MeanPET:         pet.value(),
		ClimateClass:    site.ClimateClass,
		LandCover:       site.LandCover,
		StorageCapacity: site.StorageCapacity,
	}
	summary.AridityIndex = ratioOf(summary.MeanPET, summary.MeanPrecip)
	summary.EvaporationRatio = ratioOf(summary.MeanET, summary.MeanPrecip)

	if summary.AridityIndex.Valid {
		if theoretical, ok := BudykoCurve(summary.AridityIndex.Float64); ok {
			summary.BudykoRatio = sql.NullFloat64{Float64: theoretical, Valid: true}
			if summary.EvaporationRatio.Valid {
				summary.BudykoDeviation = sql.NullFloat64{Float64: summary.EvaporationRatio.Float64 - theoretical, Valid: true}
			}
		}
	}

	return summary, true
}

// BudykoCurve returns the theoretical evaporation ratio for an aridity index:
// sqrt(ai * tanh(1/ai) * (1 - exp(-ai))). Defined for ai > 0.
func BudykoCurve(ai float64) (float64, bool) {
	if !(ai > 0) || math.IsInf(ai, 0) {
		return 0, false
	}
	return math.Sqrt(ai * math.Tanh(1/ai) * (1 - math.Exp(-ai))), true
}
