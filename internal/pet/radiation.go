package pet

import "math"

const solarConstant = 0.0820 // MJ/m²/min

// ExtraterrestrialRadiation returns daily top-of-atmosphere radiation
// (MJ/m²/day) for a latitude in degrees and a day of year (FAO-56 eq. 21).
func ExtraterrestrialRadiation(latitudeDeg float64, dayOfYear int) float64 {
	if math.IsNaN(latitudeDeg) || dayOfYear < 1 || dayOfYear > 366 {
		return math.NaN()
	}
	phi := latitudeDeg * math.Pi / 180
	j := float64(dayOfYear)

	dr := 1 + 0.033*math.Cos(2*math.Pi*j/365)
	decl := 0.409 * math.Sin(2*math.Pi*j/365-1.39)

	// Polar day/night: clamp so the sunset hour angle stays defined.
	x := -math.Tan(phi) * math.Tan(decl)
	x = math.Max(-1, math.Min(1, x))
	ws := math.Acos(x)

	ra := 24 * 60 / math.Pi * solarConstant * dr *
		(ws*math.Sin(phi)*math.Sin(decl) + math.Cos(phi)*math.Cos(decl)*math.Sin(ws))
	return math.Max(ra, 0)
}

// RadiationToEvaporation converts MJ/m²/day to the equivalent evaporation in mm/day.
func RadiationToEvaporation(mj float64) float64 {
	return mj * mjToMillimetres
}
