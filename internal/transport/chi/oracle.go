package chi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	domoracle "github.com/kailas-cloud/stquery/internal/domain/oracle"
	healthuc "github.com/kailas-cloud/stquery/internal/usecase/health"
)

// OracleService answers sign and decryption requests.
type OracleService interface {
	CheckRange(ctx context.Context, req domoracle.CheckRangeRequest) (domoracle.CheckRangeResponse, error)
	CheckFullyCovered(ctx context.Context, req domoracle.FullyCoveredRequest) (domoracle.FullyCoveredResponse, error)
	VerifyPoints(ctx context.Context, req domoracle.VerifyPointsRequest) (domoracle.VerifyPointsResponse, error)
	Decrypt(ctx context.Context, req domoracle.DecryptRequest) (domoracle.DecryptResponse, error)
	ReceiveCTK(ctx context.Context, d domoracle.CTKDelivery) error
	CTK(ctx context.Context, queryID string) (domoracle.CTKDelivery, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// OracleServer serves the decryption oracle API.
type OracleServer struct {
	oracle OracleService
	health HealthChecker
	errorMapper
}

// NewOracleServer creates the oracle HTTP server.
func NewOracleServer(oracle OracleService, health HealthChecker, logger *zap.Logger) *OracleServer {
	return &OracleServer{oracle: oracle, health: health, errorMapper: newErrorMapper(logger)}
}

// Routes mounts the oracle endpoints on r.
func (s *OracleServer) Routes(r chi.Router) {
	r.Get("/health", s.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/check-range", s.CheckRange)
		r.Post("/check-fully-covered", s.CheckFullyCovered)
		r.Post("/verify-points-in-range", s.VerifyPoints)
		r.Post("/decrypt", s.Decrypt)
		r.Post("/ctk-results", s.ReceiveCTK)
		r.Get("/ctk-results/{queryID}", s.GetCTK)
	})
}

// CheckRange handles POST /api/v1/check-range.
func (s *OracleServer) CheckRange(w http.ResponseWriter, r *http.Request) {
	var req diffsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.oracle.CheckRange(r.Context(), domoracle.CheckRangeRequest{
		RID:   req.RID,
		Diffs: diffsToDomain(req.Diffs),
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckFullyCovered handles POST /api/v1/check-fully-covered.
func (s *OracleServer) CheckFullyCovered(w http.ResponseWriter, r *http.Request) {
	var req diffsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.oracle.CheckFullyCovered(r.Context(), domoracle.FullyCoveredRequest{
		RID:   req.RID,
		Diffs: diffsToDomain(req.Diffs),
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// VerifyPoints handles POST /api/v1/verify-points-in-range.
func (s *OracleServer) VerifyPoints(w http.ResponseWriter, r *http.Request) {
	var req verifyPointsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.oracle.VerifyPoints(r.Context(), req.toDomain())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Decrypt handles POST /api/v1/decrypt.
func (s *OracleServer) Decrypt(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.oracle.Decrypt(r.Context(), domoracle.DecryptRequest{RID: req.RID, Values: req.Values})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReceiveCTK handles POST /api/v1/ctk-results.
func (s *OracleServer) ReceiveCTK(w http.ResponseWriter, r *http.Request) {
	var req ctkDeliveryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.oracle.ReceiveCTK(r.Context(), domoracle.CTKDelivery{RID: req.RID, QueryID: req.QueryID, CTK: req.CTK})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"query_id": req.QueryID})
}

// GetCTK handles GET /api/v1/ctk-results/{queryID}.
func (s *OracleServer) GetCTK(w http.ResponseWriter, r *http.Request) {
	d, err := s.oracle.CTK(r.Context(), chi.URLParam(r, "queryID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Health handles GET /health.
func (s *OracleServer) Health(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, s.health.Check(r.Context()))
}

func writeHealth(w http.ResponseWriter, report healthuc.Report) {
	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthToResponse(report))
}
