package ingest

import (
	"fmt"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/geo"
	"github.com/kailas-cloud/stquery/internal/domain/query"
)

// PlainRange is the plaintext form of one sub-query.
type PlainRange struct {
	MortonMin []int   `json:"morton_min"`
	MortonMax []int   `json:"morton_max"`
	GridMin   []int64 `json:"grid_min"`
	GridMax   []int64 `json:"grid_max"`
	LatMin    float64 `json:"lat_min"`
	LatMax    float64 `json:"lat_max"`
	LonMin    float64 `json:"lon_min"`
	LonMax    float64 `json:"lon_max"`
	TimeMin   int64   `json:"time_min"`
	TimeMax   int64   `json:"time_max"`
}

// PlainQuery is the plaintext form of a logical query. TimeSpan is the
// largest gap in seconds allowed between a trajectory's region visits.
type PlainQuery struct {
	Keyword   string       `json:"keyword"`
	TimeSpan  int64        `json:"time_span"`
	Algorithm string       `json:"algorithm"`
	Ranges    []PlainRange `json:"ranges"`
}

// EncryptQuery encrypts every bound of q. Sub-queries are numbered 1..n and
// the result is validated.
func EncryptQuery(enc Encryptor, q PlainQuery) (query.Query, error) {
	alg := query.Algorithm(q.Algorithm)
	if alg == "" {
		alg = query.AlgorithmSSTP
	}
	out := query.Query{Keyword: q.Keyword, TimeSpan: q.TimeSpan, Algorithm: alg}

	for i, r := range q.Ranges {
		if err := geo.ValidateCoordinates(r.LatMin, r.LonMin); err != nil {
			return query.Query{}, fmt.Errorf("range %d: %w", i, err)
		}
		if err := geo.ValidateCoordinates(r.LatMax, r.LonMax); err != nil {
			return query.Query{}, fmt.Errorf("range %d: %w", i, err)
		}
		if r.LatMin > r.LatMax || r.LonMin > r.LonMax || r.TimeMin > r.TimeMax {
			return query.Query{}, domain.NewValidation("ranges", fmt.Sprintf("range %d: min exceeds max", i))
		}

		var (
			sq  query.SubQuery
			err error
		)
		if sq.Morton.Min, err = encryptInts(enc, r.MortonMin); err != nil {
			return query.Query{}, err
		}
		if sq.Morton.Max, err = encryptInts(enc, r.MortonMax); err != nil {
			return query.Query{}, err
		}
		if sq.Grid.Min, err = encryptAll(enc, r.GridMin...); err != nil {
			return query.Query{}, err
		}
		if sq.Grid.Max, err = encryptAll(enc, r.GridMax...); err != nil {
			return query.Query{}, err
		}
		if sq.Points.Min, err = encryptAll(enc, geo.ToFixed(r.LatMin), geo.ToFixed(r.LonMin), r.TimeMin); err != nil {
			return query.Query{}, err
		}
		if sq.Points.Max, err = encryptAll(enc, geo.ToFixed(r.LatMax), geo.ToFixed(r.LonMax), r.TimeMax); err != nil {
			return query.Query{}, err
		}
		out.SubQueries = append(out.SubQueries, sq)
	}

	out.AssignRIDs()
	if err := out.Validate(); err != nil {
		return query.Query{}, err
	}
	return out, nil
}

func encryptInts(enc Encryptor, digits []int) ([]crypto.EncryptedValue, error) {
	vs := make([]int64, len(digits))
	for i, d := range digits {
		vs[i] = int64(d)
	}
	return encryptAll(enc, vs...)
}

func encryptAll(enc Encryptor, vs ...int64) ([]crypto.EncryptedValue, error) {
	out := make([]crypto.EncryptedValue, len(vs))
	for i, v := range vs {
		ct, err := enc.Encrypt(v)
		if err != nil {
			return nil, fmt.Errorf("encrypt bound: %w", err)
		}
		out[i] = ct
	}
	return out, nil
}
