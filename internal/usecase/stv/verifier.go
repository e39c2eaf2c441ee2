// Package stv decides which trajectories visit every required region within
// a bounded time span.
package stv

import (
	"fmt"
	"slices"
	"sort"

	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/trajectory"
)

// Verifier checks trajectories against a time-span bound and a region set.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	span    int64
	regions map[int]struct{}
}

// New creates a Verifier. span is in the unit of Visit.Timestamp (seconds),
// must be non-negative, and regions must be non-empty.
func New(span int64, regions []int) (*Verifier, error) {
	if span < 0 {
		return nil, domain.NewValidation("time_span", fmt.Sprintf("must be non-negative, got %d", span))
	}
	if len(regions) == 0 {
		return nil, domain.NewValidation("regions", "at least one region is required")
	}
	set := make(map[int]struct{}, len(regions))
	for _, r := range regions {
		set[r] = struct{}{}
	}
	return &Verifier{span: span, regions: set}, nil
}

// Verify groups visits by trajectory and returns the sorted, de-duplicated
// ids of accepted trajectories.
func (v *Verifier) Verify(visits []trajectory.Visit) []string {
	byTraj := make(map[string][]trajectory.Visit)
	for _, e := range visits {
		byTraj[e.TrajectoryID] = append(byTraj[e.TrajectoryID], e)
	}

	accepted := make([]string, 0, len(byTraj))
	for id, events := range byTraj {
		if v.Accepts(events) {
			accepted = append(accepted, id)
		}
	}
	sort.Strings(accepted)
	return accepted
}

// Accepts decides one trajectory. Events may arrive in any order.
func (v *Verifier) Accepts(events []trajectory.Visit) bool {
	if len(events) == 0 {
		return false
	}

	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b trajectory.Visit) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		default:
			return 0
		}
	})

	relevant := make([]trajectory.Visit, 0, len(sorted))
	seen := make(map[int]struct{}, len(v.regions))
	for _, e := range sorted {
		if _, ok := v.regions[e.RegionID]; ok {
			relevant = append(relevant, e)
			seen[e.RegionID] = struct{}{}
		}
	}
	if len(seen) != len(v.regions) {
		return false
	}

	if sorted[len(sorted)-1].Timestamp-sorted[0].Timestamp <= v.span {
		return true
	}
	return v.window(relevant)
}

// window scans region-filtered, time-ordered events for the shortest window
// covering every region.
func (v *Verifier) window(events []trajectory.Visit) bool {
	need := make(map[int]int, len(v.regions))
	have := 0
	left := 0
	for right := range events {
		r := events[right].RegionID
		need[r]++
		if need[r] == 1 {
			have++
		}
		if have < len(v.regions) {
			continue
		}
		for need[events[left].RegionID] > 1 {
			need[events[left].RegionID]--
			left++
		}
		if events[right].Timestamp-events[left].Timestamp <= v.span {
			return true
		}
	}
	return false
}
