package chi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/event"
	"github.com/kailas-cloud/stquery/internal/domain/partition"
	domquery "github.com/kailas-cloud/stquery/internal/domain/query"
	queryuc "github.com/kailas-cloud/stquery/internal/usecase/query"
)

// QueryService runs logical queries.
type QueryService interface {
	Submit(ctx context.Context, q domquery.Query) (queryuc.Result, error)
	Start(ctx context.Context, q domquery.Query) (*domquery.Request, error)
	Get(ctx context.Context, id string) (*domquery.Request, error)
	Cancel(id string) error
}

// EventSource streams the events of one query.
type EventSource interface {
	Subscribe(queryID string) (<-chan event.Event, func())
}

// PartitionRunner prunes and aggregates the partition served by this node.
type PartitionRunner interface {
	Run(ctx context.Context, run domquery.PartitionRun, sink event.Sink) (domquery.PartitionResult, error)
}

// PartitionRegistry stores the partition directory.
type PartitionRegistry interface {
	List(ctx context.Context) ([]partition.Partition, error)
	Save(ctx context.Context, p partition.Partition) error
}

// Server serves the stqd query node API.
type Server struct {
	queries    QueryService
	events     EventSource
	local      PartitionRunner
	localID    string
	partitions PartitionRegistry
	health     HealthChecker
	logger     *zap.Logger
	errorMapper
}

// NewServer creates the query node HTTP server. localID names the partition
// served through /api/v1/sstp; local can be nil on nodes without storage.
func NewServer(
	queries QueryService,
	events EventSource,
	local PartitionRunner,
	localID string,
	partitions PartitionRegistry,
	health HealthChecker,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		queries:     queries,
		events:      events,
		local:       local,
		localID:     localID,
		partitions:  partitions,
		health:      health,
		logger:      logger,
		errorMapper: newErrorMapper(logger),
	}
}

// Routes mounts the query node endpoints on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/queries", s.CreateQuery)
		r.Get("/queries/{queryID}", s.GetQuery)
		r.Delete("/queries/{queryID}", s.CancelQuery)
		r.Get("/queries/{queryID}/events", s.StreamEvents)
		r.Post("/sstp", s.RunPartition)
		r.Get("/partitions", s.ListPartitions)
		r.Put("/partitions/{partitionID}", s.PutPartition)
	})
}

// CreateQuery handles POST /api/v1/queries. The query runs in the background
// unless ?wait=true is given.
func (s *Server) CreateQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	if !wait {
		created, err := s.queries.Start(r.Context(), req.toDomain())
		if err != nil {
			s.handleDomainError(w, err)
			return
		}
		w.Header().Set("Location", "/api/v1/queries/"+created.ID)
		writeJSON(w, http.StatusAccepted, queryToResponse(created))
		return
	}

	res, err := s.queries.Submit(r.Context(), req.toDomain())
	if err != nil && res.QueryID == "" {
		s.handleDomainError(w, err)
		return
	}
	stored, getErr := s.queries.Get(r.Context(), res.QueryID)
	if getErr != nil {
		s.handleDomainError(w, getErr)
		return
	}
	status := http.StatusOK
	if stored.Status == domquery.StatusFailed {
		s.logger.Warn("query failed", zap.String("query_id", stored.ID), zap.Error(err))
		status = http.StatusUnprocessableEntity
	}
	w.Header().Set("Location", "/api/v1/queries/"+stored.ID)
	writeJSON(w, status, queryToResponse(stored))
}

// GetQuery handles GET /api/v1/queries/{queryID}.
func (s *Server) GetQuery(w http.ResponseWriter, r *http.Request) {
	q, err := s.queries.Get(r.Context(), chi.URLParam(r, "queryID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryToResponse(q))
}

// CancelQuery handles DELETE /api/v1/queries/{queryID}.
func (s *Server) CancelQuery(w http.ResponseWriter, r *http.Request) {
	if err := s.queries.Cancel(chi.URLParam(r, "queryID")); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunPartition handles POST /api/v1/sstp: one partition run requested by a
// remote orchestrator.
func (s *Server) RunPartition(w http.ResponseWriter, r *http.Request) {
	var req partitionRunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if s.local == nil || req.Partition != s.localID {
		s.handleDomainError(w, domain.NewValidation("partition", "not served by this node: "+req.Partition))
		return
	}
	res, err := s.local.Run(r.Context(), domquery.PartitionRun{
		QueryID:   req.QueryID,
		Partition: req.Partition,
		Query:     req.Query.toDomain(),
	}, nil)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListPartitions handles GET /api/v1/partitions.
func (s *Server) ListPartitions(w http.ResponseWriter, r *http.Request) {
	parts, err := s.partitions.List(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, partitionListResponse{Items: parts})
}

// PutPartition handles PUT /api/v1/partitions/{partitionID}.
func (s *Server) PutPartition(w http.ResponseWriter, r *http.Request) {
	var req partitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p := req.toDomain(chi.URLParam(r, "partitionID"))
	if err := s.partitions.Save(r.Context(), p); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, s.health.Check(r.Context()))
}
