package pet

import (
	"fmt"
	"math"
)

const (
	psychrometric     = 0.066  // kPa/°C
	latentHeatVap     = 2.45   // MJ/kg
	priestleyAlpha    = 1.26
	wattsToMJPerDay   = 0.0864 // W/m² -> MJ/m²/day
	mjToMillimetres   = 0.408  // MJ/m²/day -> mm/day
	hargreavesCoeff   = 0.0023
	hargreavesOffset  = 17.8
	thornthwaiteDays  = 30.0
	thornthwaiteScale = 16.0
)

// saturationVapourPressure returns es (kPa) and its slope delta (kPa/°C) at t °C.
func saturationVapourPressure(t float64) (es, delta float64) {
	es = 0.6108 * math.Exp(17.27*t/(t+237.3))
	delta = 4098 * es / math.Pow(t+237.3, 2)
	return es, delta
}

func anyNaN(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

type PriestleyTaylorInput struct {
	NetRad     float64 // W/m²
	Tavg       float64 // °C
	Pressure   float64 // kPa, unused: the psychrometric constant is fixed
	GroundHeat float64 // W/m²
}

func (p PriestleyTaylorInput) PET() (float64, error) {
	if anyNaN(p.NetRad, p.Tavg, p.GroundHeat) {
		return math.NaN(), nil
	}
	_, delta := saturationVapourPressure(p.Tavg)
	rn := (p.NetRad - p.GroundHeat) * wattsToMJPerDay
	return priestleyAlpha * delta / (delta + psychrometric) * rn / latentHeatVap, nil
}

type PenmanMonteithInput struct {
	NetRad      float64 // W/m²
	Tavg        float64 // °C
	RelHumidity float64 // %
	WindSpeed   float64 // m/s at 2 m
	Pressure    float64 // kPa
}

func (p PenmanMonteithInput) PET() (float64, error) {
	if anyNaN(p.NetRad, p.Tavg, p.RelHumidity, p.WindSpeed) {
		return math.NaN(), nil
	}
	es, delta := saturationVapourPressure(p.Tavg)
	ea := es * p.RelHumidity / 100
	rn := p.NetRad * wattsToMJPerDay

	num := mjToMillimetres*delta*rn + psychrometric*(900/(p.Tavg+273))*p.WindSpeed*(es-ea)
	den := delta + psychrometric*(1+0.34*p.WindSpeed)
	return num / den, nil
}

type HargreavesInput struct {
	Tmin                float64 // °C
	Tmax                float64 // °C
	Tavg                float64 // °C
	ExtraterrestrialRad float64 // mm/day equivalent
}

// PET fails with ErrDomain when Tmax < Tmin. A negative result for
// Tavg < -17.8 °C is returned as is.
func (h HargreavesInput) PET() (float64, error) {
	if anyNaN(h.Tmin, h.Tmax, h.Tavg, h.ExtraterrestrialRad) {
		return math.NaN(), nil
	}
	if h.Tmax < h.Tmin {
		return math.NaN(), fmt.Errorf("%w: hargreaves tmax %.2f < tmin %.2f", ErrDomain, h.Tmax, h.Tmin)
	}
	return hargreavesCoeff * (h.Tavg + hargreavesOffset) * math.Sqrt(h.Tmax-h.Tmin) * h.ExtraterrestrialRad, nil
}

// ThornthwaiteInput evaluates the Thornthwaite formula with the heat index
// annualised from the daily mean temperature and a day-length correction of
// 1.0. Latitude and DayOfYear are accepted but not applied, so the result is
// not latitude or season accurate.
type ThornthwaiteInput struct {
	Tavg      float64 // °C
	Latitude  float64 // degrees
	DayOfYear int
}

func (t ThornthwaiteInput) PET() (float64, error) {
	if math.IsNaN(t.Tavg) {
		return math.NaN(), nil
	}
	if t.Tavg <= 0 {
		return 0, nil
	}
	const dayLength = 1.0
	heatIndex := 12 * math.Pow(t.Tavg/5, 1.514)
	a := 6.75e-7*math.Pow(heatIndex, 3) - 7.71e-5*math.Pow(heatIndex, 2) + 1.792e-2*heatIndex + 0.49239
	monthly := thornthwaiteScale * dayLength * math.Pow(10*t.Tavg/heatIndex, a)
	return monthly / thornthwaiteDays, nil
}
