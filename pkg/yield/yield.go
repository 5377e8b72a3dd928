// Package yield converts harvested quantities into per-hectare yields and
// compares them against projected yields. All functions are pure.
package yield

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnsupportedUnit is returned for quantity or yield units that are not recognized.
	ErrUnsupportedUnit = errors.New("unsupported unit")
	// ErrInvalidQuantity is returned for negative quantities or non-positive areas.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrDivisionByZero is returned when a percentage is requested against a zero projection.
	ErrDivisionByZero = errors.New("projected yield is zero")
)

// Precision is the number of decimal places kept in computed yields and percentages.
const Precision int32 = 2

// MeetsThreshold is the lowest percent difference still counted as meeting
// the projection.
var MeetsThreshold = decimal.NewFromInt(-10)

// kilogramsPer maps a mass unit to its weight in kilograms.
// A quintal (qq) is the Argentine grain quintal of 46 kg.
var kilogramsPer = map[string]decimal.Decimal{
	"kg": decimal.NewFromInt(1),
	"tn": decimal.NewFromInt(1000),
	"qq": decimal.NewFromInt(46),
}

var unitAliases = map[string]string{
	"kg":         "kg",
	"kgs":        "kg",
	"kilo":       "kg",
	"kilos":      "kg",
	"kilogramo":  "kg",
	"kilogramos": "kg",
	"t":          "tn",
	"tn":         "tn",
	"ton":        "tn",
	"tonelada":   "tn",
	"toneladas":  "tn",
	"qq":         "qq",
	"quintal":    "qq",
	"quintales":  "qq",
}

// NormalizeUnit returns the canonical mass unit ("kg", "tn" or "qq") for the
// given unit string.
func NormalizeUnit(unit string) (string, error) {
	u, ok := unitAliases[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedUnit, unit)
	}
	return u, nil
}

// NormalizeYieldUnit parses a per-area yield unit such as "qq/ha" and returns
// its canonical form and mass numerator. Only hectares are accepted as area.
func NormalizeYieldUnit(yieldUnit string) (canonical, mass string, err error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(yieldUnit)), "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedUnit, yieldUnit)
	}
	area := strings.TrimSpace(parts[1])
	if area != "ha" && area != "hectarea" && area != "hectareas" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedUnit, yieldUnit)
	}
	mass, err = NormalizeUnit(parts[0])
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedUnit, yieldUnit)
	}
	return mass + "/ha", mass, nil
}

// Convert expresses quantity, given in unit from, in unit to.
func Convert(quantity decimal.Decimal, from, to string) (decimal.Decimal, error) {
	f, err := NormalizeUnit(from)
	if err != nil {
		return decimal.Zero, err
	}
	t, err := NormalizeUnit(to)
	if err != nil {
		return decimal.Zero, err
	}
	kg := quantity.Mul(kilogramsPer[f])
	return kg.Div(kilogramsPer[t]), nil
}

// ActualYield normalizes quantity into the numerator unit of yieldUnit and
// divides it by area (hectares). Both the converted quantity and the result
// are rounded to Precision places.
func ActualYield(quantity decimal.Decimal, quantityUnit string, area decimal.Decimal, yieldUnit string) (decimal.Decimal, error) {
	_, mass, err := NormalizeYieldUnit(yieldUnit)
	if err != nil {
		return decimal.Zero, err
	}
	if quantity.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: quantity %s is negative", ErrInvalidQuantity, quantity)
	}
	if !area.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: area %s must be positive", ErrInvalidQuantity, area)
	}
	converted, err := Convert(quantity, quantityUnit, mass)
	if err != nil {
		return decimal.Zero, err
	}
	return converted.Round(Precision).Div(area).Round(Precision), nil
}

// PercentDifference returns (actual - projected) / projected * 100, rounded to
// Precision places. A zero projection is reported as ErrDivisionByZero.
func PercentDifference(projected, actual decimal.Decimal) (decimal.Decimal, error) {
	if projected.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	return actual.Sub(projected).
		Div(projected).
		Mul(decimal.NewFromInt(100)).
		Round(Precision), nil
}

// Comparison is a projected-vs-actual yield pair.
type Comparison struct {
	Projected          decimal.Decimal  `json:"projected"`
	Actual             decimal.Decimal  `json:"actual"`
	Unit               string           `json:"unit,omitempty"`
	PercentDifference  *decimal.Decimal `json:"percentDifference,omitempty"`
	ExceedsExpectation bool             `json:"exceedsExpectation"`
	MeetsExpectation   bool             `json:"meetsExpectation"`
}

// Compare builds a Comparison. PercentDifference is left nil when the
// projection is zero, and then neither expectation flag is set.
func Compare(projected, actual decimal.Decimal, unit string) Comparison {
	c := Comparison{Projected: projected, Actual: actual, Unit: unit}
	if pd, err := PercentDifference(projected, actual); err == nil {
		c.PercentDifference = &pd
		c.ExceedsExpectation = pd.IsPositive()
		c.MeetsExpectation = pd.GreaterThanOrEqual(MeetsThreshold)
	}
	return c
}
