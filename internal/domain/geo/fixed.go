// Package geo converts degree coordinates to the fixed-point integers that
// are encrypted and compared.
package geo

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/stquery/internal/domain"
)

// Scale is the fixed-point factor: six decimal places, about 0.11 m at the equator.
const Scale = 1_000_000

// ToFixed converts degrees to fixed-point, rounding half away from zero.
func ToFixed(deg float64) int64 {
	return int64(math.Round(deg * Scale))
}

// FromFixed converts fixed-point back to degrees.
func FromFixed(v int64) float64 {
	return float64(v) / Scale
}

// ValidateCoordinates checks that latitude is in [-90,90] and longitude in [-180,180].
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return domain.NewValidation("latitude", fmt.Sprintf("%v out of range [-90,90]", lat))
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return domain.NewValidation("longitude", fmt.Sprintf("%v out of range [-180,180]", lon))
	}
	return nil
}
