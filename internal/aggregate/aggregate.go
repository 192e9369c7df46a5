package aggregate

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"

	"github.com/lox/budyko/internal/models"
	"github.com/lox/budyko/internal/pet"
)

// latentHeatPerMillimetre converts latent heat flux (W/m²) to evapotranspiration (mm/day).
const latentHeatPerMillimetre = 28.4

var ErrInvalidWindow = errors.New("invalid validity window")

var caveatWarning sync.Once

type Aggregator struct {
	method    pet.Method
	calculate func(pet.Method, pet.Inputs) (float64, error)
}

func New(method pet.Method) *Aggregator {
	if caveat := method.Caveat(); caveat != "" {
		caveatWarning.Do(func() {
			log.Printf("aggregate: %s", caveat)
		})
	}
	return &Aggregator{method: method, calculate: pet.Calculate}
}

func (a *Aggregator) Method() pet.Method {
	return a.method
}

type Result struct {
	SiteID       string
	Annual       []models.AnnualAggregate
	Eligible     int // records inside the validity window
	DomainErrors int
}

type fieldSum struct {
	total float64
	n     int
}

func (s *fieldSum) add(v sql.NullFloat64) {
	if !v.Valid || math.IsNaN(v.Float64) {
		return
	}
	s.total += v.Float64
	s.n++
}

type yearSums struct {
	precip, et, pet fieldSum
	days            int
}

// AggregateSite reduces a site's daily records to annual sums inside its
// validity window. Each field is summed independently over its non-missing
// days; years without eligible records produce no row.
func (a *Aggregator) AggregateSite(site models.Site, records []models.DailyRecord) (Result, error) {
	res := Result{SiteID: site.SiteID}

	start, end, ok := site.Window()
	if !ok {
		return res, fmt.Errorf("%w: site %s start=%v end=%v", ErrInvalidWindow, site.SiteID, nullInt(site.StartYear), nullInt(site.EndYear))
	}

	years := make(map[int]*yearSums)
	for _, rec := range records {
		year := rec.Date.Year()
		if year < start || year > end {
			continue
		}
		res.Eligible++

		sums, ok := years[year]
		if !ok {
			sums = &yearSums{}
			years[year] = sums
		}
		sums.days++

		sums.precip.add(rec.Precip)
		sums.et.add(nonNegative(DailyET(rec.LatentHeat)))

		dailyPET, err := a.DailyPET(site, rec)
		if err != nil {
			res.DomainErrors++
			log.Printf("aggregate: %s %s: pet marked missing: %v", site.SiteID, rec.Date.Format("2006-01-02"), err)
			continue
		}
		sums.pet.add(nonNegative(dailyPET))
	}

	for year, sums := range years {
		res.Annual = append(res.Annual, models.AnnualAggregate{
			SiteID:     site.SiteID,
			Year:       year,
			Precip:     sums.precip.total,
			ET:         sums.et.total,
			PET:        sums.pet.total,
			PrecipDays: sums.precip.n,
			ETDays:     sums.et.n,
			PETDays:    sums.pet.n,
			Days:       sums.days,
		})
	}
	sort.Slice(res.Annual, func(i, j int) bool { return res.Annual[i].Year < res.Annual[j].Year })

	return res, nil
}

// DailyET converts a latent heat flux to evapotranspiration in mm/day.
func DailyET(latentHeat sql.NullFloat64) sql.NullFloat64 {
	if !latentHeat.Valid {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: latentHeat.Float64 / latentHeatPerMillimetre, Valid: true}
}

// DailyPET evaluates the aggregator's PET method on one record. A missing
// result is returned as an invalid NullFloat64 with a nil error.
func (a *Aggregator) DailyPET(site models.Site, rec models.DailyRecord) (sql.NullFloat64, error) {
	v, err := a.calculate(a.method, Inputs(site, rec))
	if err != nil {
		return sql.NullFloat64{}, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}, nil
	}
	return sql.NullFloat64{Float64: v, Valid: true}, nil
}

// Inputs maps a daily record onto the PET engine's flat input set.
func Inputs(site models.Site, rec models.DailyRecord) pet.Inputs {
	in := pet.Inputs{
		NetRad:      value(rec.NetRad),
		GroundHeat:  value(rec.GroundHeat),
		Tavg:        value(rec.AirTemp),
		Tmin:        value(rec.TempMin),
		Tmax:        value(rec.TempMax),
		Pressure:    value(rec.Pressure),
		RelHumidity: value(rec.RelHumidity),
		WindSpeed:   value(rec.WindSpeed),
		Latitude:    value(site.Latitude),
		DayOfYear:   rec.Date.YearDay(),
	}
	in.ExtraterrestrialRad = pet.RadiationToEvaporation(pet.ExtraterrestrialRadiation(in.Latitude, in.DayOfYear))
	return in
}

func value(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func nonNegative(v sql.NullFloat64) sql.NullFloat64 {
	if v.Valid && v.Float64 < 0 {
		v.Float64 = 0
	}
	return v
}

func nullInt(v sql.NullInt64) any {
	if !v.Valid {
		return "null"
	}
	return v.Int64
}
