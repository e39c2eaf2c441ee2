package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kailas-cloud/stquery/internal/domain"
)

func TestReason(t *testing.T) {
	tests := []struct {
		ok   bool
		err  error
		want string
	}{
		{true, nil, ReasonInRange},
		{false, nil, ReasonOutOfRange},
		{false, fmt.Errorf("check: %w", domain.ErrOracleTimeout), ReasonOracleTimeout},
		{false, domain.ErrOracleUnreachable, ReasonOracleUnreachable},
		{false, domain.ErrDeserialization, ReasonDeserialization},
		{false, errors.New("boom"), ReasonError},
	}
	for _, tc := range tests {
		if got := Reason(tc.ok, tc.err); got != tc.want {
			t.Errorf("Reason(%v, %v) = %q, want %q", tc.ok, tc.err, got, tc.want)
		}
	}
}
