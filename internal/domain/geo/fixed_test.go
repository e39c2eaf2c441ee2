package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/kailas-cloud/stquery/internal/domain"
)

func TestToFixed(t *testing.T) {
	tests := []struct {
		deg  float64
		want int64
	}{
		{0, 0},
		{39.9042, 39_904_200},
		{116.4074, 116_407_400},
		{-33.8688, -33_868_800},
		{0.0000005, 1},
		{-0.0000005, -1},
		{180, 180_000_000},
	}
	for _, tc := range tests {
		if got := ToFixed(tc.deg); got != tc.want {
			t.Errorf("ToFixed(%v) = %d, want %d", tc.deg, got, tc.want)
		}
	}
}

func TestFromFixed(t *testing.T) {
	if got := FromFixed(39_904_200); math.Abs(got-39.9042) > 1e-9 {
		t.Errorf("FromFixed = %v", got)
	}
	if got := FromFixed(ToFixed(-122.419416)); math.Abs(got+122.419416) > 1e-9 {
		t.Errorf("round trip = %v", got)
	}
}

func TestValidateCoordinates(t *testing.T) {
	tests := []struct {
		lat, lon float64
		ok       bool
	}{
		{0, 0, true},
		{90, 180, true},
		{-90, -180, true},
		{90.1, 0, false},
		{0, -180.5, false},
		{math.NaN(), 0, false},
		{0, math.NaN(), false},
	}
	for _, tc := range tests {
		err := ValidateCoordinates(tc.lat, tc.lon)
		if tc.ok && err != nil {
			t.Errorf("(%v,%v): unexpected error %v", tc.lat, tc.lon, err)
		}
		if !tc.ok && !errors.Is(err, domain.ErrValidation) {
			t.Errorf("(%v,%v): expected ErrValidation, got %v", tc.lat, tc.lon, err)
		}
	}
}
