package domain

import (
	"fmt"
	"math"
	"strings"
)

// Unit is a linear distance unit accepted in operation requests.
type Unit string

// Supported units.
const (
	UnitMeters     Unit = "meters"
	UnitKilometers Unit = "kilometers"
	UnitMiles      Unit = "miles"
	UnitFeet       Unit = "feet"
)

// MetersPerDegree is the length of one degree of arc used for every
// unit-to-degree conversion. Distances are applied in lon/lat space without
// reprojection, so results drift away from the equator.
const MetersPerDegree = 111320.0

// metersPerUnit is the single conversion table for all units.
var metersPerUnit = map[Unit]float64{
	UnitMeters:     1,
	UnitKilometers: 1000,
	UnitMiles:      1609.344,
	UnitFeet:       0.3048,
}

// unitSynonyms maps lower-cased spellings to their canonical unit.
var unitSynonyms = map[string]Unit{
	"m":          UnitMeters,
	"meter":      UnitMeters,
	"meters":     UnitMeters,
	"metre":      UnitMeters,
	"metres":     UnitMeters,
	"km":         UnitKilometers,
	"kms":        UnitKilometers,
	"kilometer":  UnitKilometers,
	"kilometers": UnitKilometers,
	"kilometre":  UnitKilometers,
	"kilometres": UnitKilometers,
	"mi":         UnitMiles,
	"mile":       UnitMiles,
	"miles":      UnitMiles,
	"ft":         UnitFeet,
	"foot":       UnitFeet,
	"feet":       UnitFeet,
}

// Units returns the canonical units in a stable order.
func Units() []Unit {
	return []Unit{UnitMeters, UnitKilometers, UnitMiles, UnitFeet}
}

// ParseUnit normalises a unit string. Unknown spellings yield ErrInvalidUnit.
func ParseUnit(s string) (Unit, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if u, ok := unitSynonyms[key]; ok {
		return u, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidUnit)
}

// IsValid reports whether u is one of the canonical units.
func (u Unit) IsValid() bool {
	_, ok := metersPerUnit[u]
	return ok
}

// Singular returns the unit name used with a quantity of exactly one.
func (u Unit) Singular() string {
	switch u {
	case UnitFeet:
		return "foot"
	case UnitMeters, UnitKilometers, UnitMiles:
		return strings.TrimSuffix(string(u), "s")
	default:
		return string(u)
	}
}

// ValidDistance reports whether d is usable as a buffer distance.
func ValidDistance(d float64) bool {
	return !math.IsNaN(d) && !math.IsInf(d, 0) && d > 0
}

// ToMeters converts a distance to meters.
func ToMeters(d float64, u Unit) (float64, error) {
	factor, ok := metersPerUnit[u]
	if !ok {
		return 0, fmt.Errorf("%q: %w", u, ErrInvalidUnit)
	}
	return d * factor, nil
}

// ToDegrees converts a distance to degrees of arc using MetersPerDegree.
func ToDegrees(d float64, u Unit) (float64, error) {
	m, err := ToMeters(d, u)
	if err != nil {
		return 0, err
	}
	return m / MetersPerDegree, nil
}
