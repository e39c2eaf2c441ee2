package octree

import "github.com/kailas-cloud/stquery/internal/domain"

// MortonResolution is the number of digits compared during pruning.
const MortonResolution = 2

// CanonicalMorton reduces a digit sequence to [d0, 0].
// Both single-digit and multi-digit codes keep only the leading digit.
func CanonicalMorton(digits []int) ([MortonResolution]int, error) {
	if len(digits) == 0 {
		return [MortonResolution]int{}, domain.NewValidation("morton_code", "empty digit sequence")
	}
	return [MortonResolution]int{digits[0], 0}, nil
}

// MortonValue folds canonical digits into one comparable integer, most
// significant first.
func MortonValue(c [MortonResolution]int) int64 {
	var v int64
	for _, d := range c {
		v = v*10 + int64(d)
	}
	return v
}
