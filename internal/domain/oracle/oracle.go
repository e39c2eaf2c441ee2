// Package oracle defines the request/response contract of the decryption oracle.
package oracle

import (
	"errors"
	"fmt"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/ctk"
)

// Diff is a blinded difference r*(a-b). The oracle accepts it when the
// plaintext is >= 0, or > 0 when Strict is set.
type Diff struct {
	Value  crypto.EncryptedValue `json:"value"`
	Strict bool                  `json:"strict"`
}

// CheckRangeRequest asks whether every diff holds.
type CheckRangeRequest struct {
	RID   int    `json:"rid"`
	Diffs []Diff `json:"diffs"`
}

// CheckRangeResponse is the answer to CheckRangeRequest.
type CheckRangeResponse struct {
	InRange bool `json:"in_range"`
}

// FullyCoveredRequest asks whether a node box lies strictly inside a query box.
type FullyCoveredRequest struct {
	RID   int    `json:"rid"`
	Diffs []Diff `json:"diffs"`
}

// FullyCoveredResponse is the answer to FullyCoveredRequest.
type FullyCoveredResponse struct {
	Result bool `json:"result"`
}

// PointCheck carries the diffs of one point against the point box.
type PointCheck struct {
	Index int    `json:"index"`
	Diffs []Diff `json:"diffs"`
}

// VerifyPointsRequest batches point checks of one leaf.
type VerifyPointsRequest struct {
	RID    int          `json:"rid"`
	Points []PointCheck `json:"points"`
}

// Codes carried in PointResult.Error when the oracle could not decide a point.
const (
	PointErrDeserialization = "deserialization"
	PointErrInvalid         = "invalid"
	PointErrInternal        = "internal"
)

// PointResult is the decision for one point. A non-empty Error means no
// decision was made and InRange is meaningless.
type PointResult struct {
	Index   int    `json:"index"`
	InRange bool   `json:"in_range"`
	Error   string `json:"error,omitempty"`
}

// PointErrorCode classifies a per-point failure.
func PointErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrDeserialization):
		return PointErrDeserialization
	case errors.Is(err, domain.ErrValidation):
		return PointErrInvalid
	default:
		return PointErrInternal
	}
}

// Err returns nil for a decided point and otherwise an error wrapping the
// sentinel matching the failure code.
func (r PointResult) Err() error {
	switch r.Error {
	case "":
		return nil
	case PointErrDeserialization:
		return fmt.Errorf("point %d undecided: %w", r.Index, domain.ErrDeserialization)
	case PointErrInvalid:
		return fmt.Errorf("point %d undecided: %w", r.Index, domain.ErrValidation)
	default:
		return fmt.Errorf("point %d undecided: oracle error %q", r.Index, r.Error)
	}
}

// VerifyPointsResponse is the answer to VerifyPointsRequest.
type VerifyPointsResponse struct {
	Results []PointResult `json:"results"`
}

// DecryptRequest asks for full decryption of final trajectory ids and dates.
type DecryptRequest struct {
	RID    int                     `json:"rid"`
	Values []crypto.EncryptedValue `json:"values"`
}

// DecryptResponse holds plaintexts in request order.
type DecryptResponse struct {
	Values []int64 `json:"values"`
}

// CTKDelivery carries the merged candidate map of a finished query.
type CTKDelivery struct {
	RID     int      `json:"rid"`
	QueryID string   `json:"query_id"`
	CTK     ctk.Tree `json:"ctk"`
}
