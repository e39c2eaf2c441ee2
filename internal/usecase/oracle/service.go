// Package oracle implements the decision side of the decryption oracle.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/stquery/internal/domain"
	domoracle "github.com/kailas-cloud/stquery/internal/domain/oracle"
	"github.com/kailas-cloud/stquery/internal/logger"
	"github.com/kailas-cloud/stquery/internal/metrics"
)

// MaxDecryptBatch bounds the number of values per decrypt request.
const MaxDecryptBatch = 4096

// Service answers sign and decryption requests.
type Service struct {
	dec Decryptor
	ctk CTKStore
}

// New creates a Service. ctk can be nil when results are not retained.
func New(dec Decryptor, ctk CTKStore) *Service {
	return &Service{dec: dec, ctk: ctk}
}

// CheckRange reports whether every blinded diff holds.
func (s *Service) CheckRange(ctx context.Context, req domoracle.CheckRangeRequest) (domoracle.CheckRangeResponse, error) {
	ok, err := s.allHold(req.Diffs)
	if err != nil {
		return domoracle.CheckRangeResponse{}, fmt.Errorf("check range rid %d: %w", req.RID, err)
	}
	metrics.OracleDecisionsTotal.WithLabelValues("check_range", boolLabel(ok)).Inc()
	logger.FromContext(ctx).Debug("check range", zap.Int("rid", req.RID), zap.Bool("in_range", ok))
	return domoracle.CheckRangeResponse{InRange: ok}, nil
}

// CheckFullyCovered reports whether every strict diff holds.
func (s *Service) CheckFullyCovered(
	ctx context.Context, req domoracle.FullyCoveredRequest,
) (domoracle.FullyCoveredResponse, error) {
	ok, err := s.allHold(req.Diffs)
	if err != nil {
		return domoracle.FullyCoveredResponse{}, fmt.Errorf("check fully covered rid %d: %w", req.RID, err)
	}
	metrics.OracleDecisionsTotal.WithLabelValues("check_fully_covered", boolLabel(ok)).Inc()
	logger.FromContext(ctx).Debug("check fully covered", zap.Int("rid", req.RID), zap.Bool("result", ok))
	return domoracle.FullyCoveredResponse{Result: ok}, nil
}

// VerifyPoints decides every point independently. A point whose diffs cannot
// be decrypted is returned with an error code instead of a decision. A missing
// secret key fails the whole batch.
func (s *Service) VerifyPoints(
	ctx context.Context, req domoracle.VerifyPointsRequest,
) (domoracle.VerifyPointsResponse, error) {
	if len(req.Points) == 0 {
		return domoracle.VerifyPointsResponse{}, domain.NewValidation("points", "at least one point is required")
	}
	log := logger.FromContext(ctx)
	results := make([]domoracle.PointResult, len(req.Points))
	for i, p := range req.Points {
		ok, err := s.allHold(p.Diffs)
		if errors.Is(err, domain.ErrKeyUnavailable) {
			return domoracle.VerifyPointsResponse{}, fmt.Errorf("verify points rid %d: %w", req.RID, err)
		}
		if err != nil {
			code := domoracle.PointErrorCode(err)
			log.Warn("point undecided", zap.Int("rid", req.RID), zap.Int("index", p.Index),
				zap.String("code", code), zap.Error(err))
			metrics.OracleDecisionsTotal.WithLabelValues("verify_points", code).Inc()
			results[i] = domoracle.PointResult{Index: p.Index, Error: code}
			continue
		}
		metrics.OracleDecisionsTotal.WithLabelValues("verify_points", boolLabel(ok)).Inc()
		results[i] = domoracle.PointResult{Index: p.Index, InRange: ok}
	}
	return domoracle.VerifyPointsResponse{Results: results}, nil
}

// Decrypt fully decrypts final trajectory ids and dates.
func (s *Service) Decrypt(ctx context.Context, req domoracle.DecryptRequest) (domoracle.DecryptResponse, error) {
	if len(req.Values) == 0 {
		return domoracle.DecryptResponse{}, domain.NewValidation("values", "at least one value is required")
	}
	if len(req.Values) > MaxDecryptBatch {
		return domoracle.DecryptResponse{}, domain.NewValidation("values",
			fmt.Sprintf("at most %d values per request", MaxDecryptBatch))
	}
	out := make([]int64, len(req.Values))
	for i, v := range req.Values {
		x, err := s.dec.Decrypt(v)
		if err != nil {
			return domoracle.DecryptResponse{}, fmt.Errorf("decrypt value %d: %w", i, err)
		}
		out[i] = x
	}
	logger.FromContext(ctx).Debug("decrypted values", zap.Int("rid", req.RID), zap.Int("count", len(out)))
	return domoracle.DecryptResponse{Values: out}, nil
}

// ReceiveCTK stores the final candidate map of a query.
func (s *Service) ReceiveCTK(ctx context.Context, d domoracle.CTKDelivery) error {
	if d.QueryID == "" {
		return domain.NewValidation("query_id", "is required")
	}
	logger.FromContext(ctx).Info("ctk results received",
		zap.String("query_id", d.QueryID),
		zap.Int("rid", d.RID),
		zap.Int("dates", d.CTK.Count()),
	)
	if s.ctk == nil {
		return nil
	}
	if err := s.ctk.Save(ctx, d); err != nil {
		return fmt.Errorf("save ctk %s: %w", d.QueryID, err)
	}
	return nil
}

// CTK returns a stored candidate map.
func (s *Service) CTK(ctx context.Context, queryID string) (domoracle.CTKDelivery, error) {
	if s.ctk == nil {
		return domoracle.CTKDelivery{}, domain.ErrNotFound
	}
	d, err := s.ctk.Get(ctx, queryID)
	if err != nil {
		return domoracle.CTKDelivery{}, fmt.Errorf("get ctk %s: %w", queryID, err)
	}
	return d, nil
}

func (s *Service) allHold(diffs []domoracle.Diff) (bool, error) {
	if len(diffs) == 0 {
		return false, domain.NewValidation("diffs", "at least one diff is required")
	}
	for _, d := range diffs {
		ok, err := s.dec.Sign(d.Value, d.Strict)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func boolLabel(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}
