// Package pet computes daily potential evapotranspiration (mm/day) from
// meteorological inputs using one of four empirical formulas.
package pet

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

type Method int

const (
	PriestleyTaylor Method = iota
	PenmanMonteith
	Hargreaves
	Thornthwaite
)

var methodNames = [...]string{
	PriestleyTaylor: "priestley_taylor",
	PenmanMonteith:  "penman_monteith",
	Hargreaves:      "hargreaves",
	Thornthwaite:    "thornthwaite",
}

var (
	ErrUnknownMethod = errors.New("unknown PET method")
	ErrDomain        = errors.New("pet: input outside formula domain")
)

// UnknownMethodError is returned by ParseMethod and matches ErrUnknownMethod.
type UnknownMethodError struct {
	Name string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("unknown PET method %q (valid methods: %s)", e.Name, strings.Join(MethodNames(), ", "))
}

func (e *UnknownMethodError) Is(target error) bool {
	return target == ErrUnknownMethod
}

// MethodNames lists the accepted method names in declaration order.
func MethodNames() []string {
	names := make([]string, len(methodNames))
	copy(names, methodNames[:])
	return names
}

func ParseMethod(name string) (Method, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for i, n := range methodNames {
		if n == normalized {
			return Method(i), nil
		}
	}
	return 0, &UnknownMethodError{Name: name}
}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// Caveat returns a known accuracy limitation of the method, or "" if none.
func (m Method) Caveat() string {
	if m == Thornthwaite {
		return "thornthwaite uses a fixed day-length factor of 1.0; PET is not latitude or season accurate"
	}
	return ""
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(text []byte) error {
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Inputs is the union of every formula's parameters. Missing values are NaN;
// fields a method does not read are ignored.
type Inputs struct {
	NetRad              float64 // W/m²
	GroundHeat          float64 // W/m², treated as 0 when NaN
	Tavg                float64 // °C
	Tmin                float64 // °C
	Tmax                float64 // °C
	Pressure            float64 // kPa
	RelHumidity         float64 // %
	WindSpeed           float64 // m/s
	ExtraterrestrialRad float64 // mm/day equivalent
	Latitude            float64 // degrees
	DayOfYear           int
}

// MissingInputs returns Inputs with every measurement marked missing.
func MissingInputs() Inputs {
	nan := math.NaN()
	return Inputs{
		NetRad:              nan,
		GroundHeat:          nan,
		Tavg:                nan,
		Tmin:                nan,
		Tmax:                nan,
		Pressure:            nan,
		RelHumidity:         nan,
		WindSpeed:           nan,
		ExtraterrestrialRad: nan,
		Latitude:            nan,
	}
}

// Formula is one PET variant carrying only the parameters it needs.
type Formula interface {
	PET() (float64, error)
}

// Select builds the variant for method from the flat inputs.
func Select(method Method, in Inputs) (Formula, error) {
	switch method {
	case PriestleyTaylor:
		g := in.GroundHeat
		if math.IsNaN(g) {
			g = 0
		}
		return PriestleyTaylorInput{NetRad: in.NetRad, Tavg: in.Tavg, Pressure: in.Pressure, GroundHeat: g}, nil
	case PenmanMonteith:
		return PenmanMonteithInput{NetRad: in.NetRad, Tavg: in.Tavg, RelHumidity: in.RelHumidity, WindSpeed: in.WindSpeed, Pressure: in.Pressure}, nil
	case Hargreaves:
		return HargreavesInput{Tmin: in.Tmin, Tmax: in.Tmax, Tavg: in.Tavg, ExtraterrestrialRad: in.ExtraterrestrialRad}, nil
	case Thornthwaite:
		return ThornthwaiteInput{Tavg: in.Tavg, Latitude: in.Latitude, DayOfYear: in.DayOfYear}, nil
	default:
		return nil, &UnknownMethodError{Name: method.String()}
	}
}

// Calculate evaluates method on in. Missing inputs yield NaN with a nil error;
// only domain violations return an error.
func Calculate(method Method, in Inputs) (float64, error) {
	f, err := Select(method, in)
	if err != nil {
		return math.NaN(), err
	}
	return f.PET()
}
