package chi

import (
	"time"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain/ctk"
	domoracle "github.com/kailas-cloud/stquery/internal/domain/oracle"
	"github.com/kailas-cloud/stquery/internal/domain/partition"
	domquery "github.com/kailas-cloud/stquery/internal/domain/query"
	healthuc "github.com/kailas-cloud/stquery/internal/usecase/health"
)

// --- oracle ---

type diffRequest struct {
	Value  crypto.EncryptedValue `json:"value" validate:"required"`
	Strict bool                  `json:"strict"`
}

type diffsRequest struct {
	RID   int           `json:"rid" validate:"gte=0"`
	Diffs []diffRequest `json:"diffs" validate:"required,min=1,max=64,dive"`
}

type pointCheckRequest struct {
	Index int           `json:"index" validate:"gte=0"`
	Diffs []diffRequest `json:"diffs" validate:"required,min=1,max=64,dive"`
}

type verifyPointsRequest struct {
	RID    int                 `json:"rid" validate:"gte=0"`
	Points []pointCheckRequest `json:"points" validate:"required,min=1,max=4096,dive"`
}

type decryptRequest struct {
	RID    int                     `json:"rid" validate:"gte=0"`
	Values []crypto.EncryptedValue `json:"values" validate:"required,min=1,max=4096,dive,required"`
}

type ctkDeliveryRequest struct {
	RID     int      `json:"rid" validate:"gte=0"`
	QueryID string   `json:"query_id" validate:"required,max=128"`
	CTK     ctk.Tree `json:"ctk" validate:"required"`
}

func diffsToDomain(in []diffRequest) []domoracle.Diff {
	out := make([]domoracle.Diff, len(in))
	for i, d := range in {
		out[i] = domoracle.Diff{Value: d.Value, Strict: d.Strict}
	}
	return out
}

func (r verifyPointsRequest) toDomain() domoracle.VerifyPointsRequest {
	points := make([]domoracle.PointCheck, len(r.Points))
	for i, p := range r.Points {
		points[i] = domoracle.PointCheck{Index: p.Index, Diffs: diffsToDomain(p.Diffs)}
	}
	return domoracle.VerifyPointsRequest{RID: r.RID, Points: points}
}

// --- queries ---

type digitsRequest struct {
	Min []crypto.EncryptedValue `json:"min" validate:"required,min=1,max=64,dive,required"`
	Max []crypto.EncryptedValue `json:"max" validate:"required,min=1,max=64,dive,required"`
}

type gridBoxRequest struct {
	Min []crypto.EncryptedValue `json:"min" validate:"required,min=2,max=3,dive,required"`
	Max []crypto.EncryptedValue `json:"max" validate:"required,min=2,max=3,dive,required"`
}

type pointBoxRequest struct {
	Min []crypto.EncryptedValue `json:"min" validate:"required,len=3,dive,required"`
	Max []crypto.EncryptedValue `json:"max" validate:"required,len=3,dive,required"`
}

type subQueryRequest struct {
	RID    int             `json:"rid" validate:"gte=0"`
	Morton digitsRequest   `json:"morton"`
	Grid   gridBoxRequest  `json:"grid"`
	Points pointBoxRequest `json:"points"`
}

// queryRequest is the body of POST /queries. TimeSpan is in seconds.
type queryRequest struct {
	Keyword    string            `json:"keyword" validate:"required,max=256"`
	TimeSpan   int64             `json:"time_span" validate:"gte=0"`
	Algorithm  string            `json:"algorithm" validate:"omitempty,oneof=sstp traversal"`
	SubQueries []subQueryRequest `json:"sub_queries" validate:"required,min=1,max=32,dive"`
}

func (q queryRequest) toDomain() domquery.Query {
	alg := domquery.Algorithm(q.Algorithm)
	if alg == "" {
		alg = domquery.AlgorithmSSTP
	}
	subs := make([]domquery.SubQuery, len(q.SubQueries))
	for i, s := range q.SubQueries {
		subs[i] = domquery.SubQuery{
			RID:    s.RID,
			Morton: domquery.MortonRange{Min: s.Morton.Min, Max: s.Morton.Max},
			Grid:   domquery.Box{Min: s.Grid.Min, Max: s.Grid.Max},
			Points: domquery.Box{Min: s.Points.Min, Max: s.Points.Max},
		}
	}
	return domquery.Query{Keyword: q.Keyword, TimeSpan: q.TimeSpan, Algorithm: alg, SubQueries: subs}
}

type partitionRunRequest struct {
	QueryID   string       `json:"query_id" validate:"required,max=128"`
	Partition string       `json:"partition" validate:"required,max=128"`
	Query     queryRequest `json:"query"`
}

type queryResponse struct {
	ID           string    `json:"id"`
	Keyword      string    `json:"keyword"`
	Algorithm    string    `json:"algorithm"`
	Regions      []int     `json:"regions"`
	Status       string    `json:"status"`
	Trajectories []string  `json:"trajectories"`
	Error        string    `json:"error,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func queryToResponse(r *domquery.Request) queryResponse {
	trajs := r.Trajectories
	if trajs == nil {
		trajs = []string{}
	}
	return queryResponse{
		ID:           r.ID,
		Keyword:      r.Keyword,
		Algorithm:    string(r.Algorithm),
		Regions:      r.Regions,
		Status:       string(r.Status),
		Trajectories: trajs,
		Error:        r.Error,
		Reason:       string(r.Reason),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// --- partitions ---

type partitionRequest struct {
	Endpoint    string   `json:"endpoint" validate:"omitempty,url"`
	Keywords    []string `json:"keywords" validate:"required,min=1,dive,required"`
	KeywordLoad int      `json:"keyword_load" validate:"gte=0"`
	Status      string   `json:"status" validate:"required,oneof=online offline"`
}

func (p partitionRequest) toDomain(id string) partition.Partition {
	return partition.Partition{
		ID:          id,
		Endpoint:    p.Endpoint,
		Keywords:    p.Keywords,
		KeywordLoad: p.KeywordLoad,
		Status:      partition.Status(p.Status),
	}
}

type partitionListResponse struct {
	Items []partition.Partition `json:"items"`
}

// --- health ---

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func healthToResponse(r healthuc.Report) healthResponse {
	checks := make(map[string]string, len(r.Checks))
	for k, v := range r.Checks {
		checks[k] = string(v)
	}
	return healthResponse{Status: string(r.Status), Checks: checks}
}
