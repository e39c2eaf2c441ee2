// Package query orchestrates logical queries across storage partitions:
// fan-out, CTK merge, final decryption and time-span verification.
package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/ctk"
	"github.com/kailas-cloud/stquery/internal/domain/event"
	"github.com/kailas-cloud/stquery/internal/domain/oracle"
	"github.com/kailas-cloud/stquery/internal/domain/partition"
	domquery "github.com/kailas-cloud/stquery/internal/domain/query"
	"github.com/kailas-cloud/stquery/internal/domain/trajectory"
	"github.com/kailas-cloud/stquery/internal/logger"
	"github.com/kailas-cloud/stquery/internal/metrics"
	"github.com/kailas-cloud/stquery/internal/usecase/stv"
)

var tracer = otel.Tracer("stquery.query")

const (
	// DefaultDecryptBatch is the number of ciphertexts per decrypt round trip.
	DefaultDecryptBatch = 1024
	// DefaultDeliveryTimeout bounds the fire-and-forget CTK delivery.
	DefaultDeliveryTimeout = 30 * time.Second
)

// Config tunes the orchestrator.
type Config struct {
	// Timeout bounds one logical query. Zero means no bound.
	Timeout         time.Duration
	DecryptBatch    int
	DeliverCTK      bool
	DeliveryTimeout time.Duration
}

// Result is the outcome of a completed query.
type Result struct {
	QueryID      string
	Status       domquery.Status
	Trajectories []string
	Partitions   int
	Dates        int
}

// Service runs logical queries. Queries are independent of each other.
type Service struct {
	partitions Partitions
	local      LocalRunner
	remote     RemoteRunner
	oracle     Oracle
	decoder    Decoder
	requests   Requests
	bus        *Bus
	cfg        Config

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup

	newID func() string
	now   func() time.Time
}

// New creates an orchestrator. remote may be nil when every partition is local.
func New(
	partitions Partitions,
	local LocalRunner,
	remote RemoteRunner,
	o Oracle,
	decoder Decoder,
	requests Requests,
	bus *Bus,
	cfg Config,
) *Service {
	if cfg.DecryptBatch <= 0 {
		cfg.DecryptBatch = DefaultDecryptBatch
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if bus == nil {
		bus = NewBus()
	}
	return &Service{
		partitions: partitions,
		local:      local,
		remote:     remote,
		oracle:     o,
		decoder:    decoder,
		requests:   requests,
		bus:        bus,
		cfg:        cfg,
		running:    make(map[string]context.CancelFunc),
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Bus returns the event bus queries publish to.
func (s *Service) Bus() *Bus { return s.bus }

// Submit runs a query to completion. Validation errors are returned before
// any state is created; every other outcome is recorded on the request.
func (s *Service) Submit(ctx context.Context, q domquery.Query) (Result, error) {
	req, q, err := s.create(ctx, q)
	if err != nil {
		return Result{}, err
	}
	return s.execute(ctx, req, q)
}

// Start creates the request and runs it in the background. The returned
// request is pending.
func (s *Service) Start(ctx context.Context, q domquery.Query) (*domquery.Request, error) {
	req, q, err := s.create(ctx, q)
	if err != nil {
		return nil, err
	}
	snapshot := *req

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.execute(bg, req, q)
	}()
	return &snapshot, nil
}

// Get returns the stored state of a query.
func (s *Service) Get(ctx context.Context, id string) (*domquery.Request, error) {
	r, err := s.requests.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get query %s: %w", id, err)
	}
	return r, nil
}

// Cancel stops a running query. In-flight oracle answers are discarded.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("query %s is not running: %w", id, domain.ErrNotFound)
	}
	cancel()
	return nil
}

// Wait blocks until background queries and CTK deliveries finish.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) create(ctx context.Context, q domquery.Query) (*domquery.Request, domquery.Query, error) {
	q.SubQueries = slices.Clone(q.SubQueries)
	q.AssignRIDs()
	if q.Algorithm == "" {
		q.Algorithm = domquery.AlgorithmSSTP
	}
	if err := q.Validate(); err != nil {
		return nil, q, err
	}

	req := domquery.NewRequest(s.newID(), q, s.now())
	if err := s.requests.Save(ctx, req); err != nil {
		return nil, q, fmt.Errorf("save query: %w", err)
	}
	s.emit(event.Event{QueryID: req.ID, Kind: event.KindQueryCreated, Count: len(q.SubQueries)})
	logger.FromContext(ctx).Info("query created",
		zap.String("query_id", req.ID),
		zap.String("keyword", q.Keyword),
		zap.String("algorithm", string(q.Algorithm)),
		zap.Int("sub_queries", len(q.SubQueries)),
	)
	return req, q, nil
}

func (s *Service) execute(ctx context.Context, req *domquery.Request, q domquery.Query) (Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "query.Submit", trace.WithAttributes(
		attribute.String("query.id", req.ID),
		attribute.String("query.keyword", q.Keyword),
		attribute.String("query.algorithm", string(q.Algorithm)),
		attribute.Int("query.sub_queries", len(q.SubQueries)),
	))
	defer span.End()

	ctx, log := logger.With(ctx, zap.String("query_id", req.ID))

	var cancel context.CancelFunc
	if s.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	s.track(req.ID, cancel)
	defer s.untrack(req.ID)

	if err := req.Start(s.now()); err != nil {
		return Result{}, err
	}
	s.persist(ctx, req)
	s.emit(event.Event{QueryID: req.ID, Kind: event.KindQueryStarted})

	result, err := s.run(ctx, req.ID, q)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, domain.ErrQueryCancelled) {
			err = fmt.Errorf("%w: %w", domain.ErrQueryCancelled, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.fail(ctx, req, q, err, start)
		return Result{QueryID: req.ID, Status: req.Status}, err
	}

	if err := req.Complete(result.Trajectories, s.now()); err != nil {
		return Result{}, err
	}
	s.persist(ctx, req)
	s.emit(event.Event{QueryID: req.ID, Kind: event.KindQueryCompleted, Count: len(result.Trajectories)})
	metrics.QueriesTotal.WithLabelValues(string(q.Algorithm), string(domquery.StatusCompleted), "").Inc()
	metrics.QueryDuration.WithLabelValues(string(q.Algorithm)).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("query.trajectories", len(result.Trajectories)))
	span.SetStatus(codes.Ok, "")
	log.Info("query completed",
		zap.Int("partitions", result.Partitions),
		zap.Int("dates", result.Dates),
		zap.Int("trajectories", len(result.Trajectories)),
		zap.Duration("duration", time.Since(start)),
	)

	result.QueryID = req.ID
	result.Status = req.Status
	return result, nil
}

func (s *Service) fail(ctx context.Context, req *domquery.Request, q domquery.Query, cause error, start time.Time) {
	if err := req.Fail(cause, s.now()); err != nil {
		logger.FromContext(ctx).Error("mark query failed", zap.Error(err))
		return
	}
	s.persist(context.WithoutCancel(ctx), req)
	s.emit(event.Event{QueryID: req.ID, Kind: event.KindQueryFailed, Message: cause.Error()})
	metrics.QueriesTotal.WithLabelValues(string(q.Algorithm), string(domquery.StatusFailed), string(req.Reason)).Inc()
	metrics.QueryDuration.WithLabelValues(string(q.Algorithm)).Observe(time.Since(start).Seconds())
	log := logger.FromContext(ctx).With(zap.String("reason", string(req.Reason)))
	if req.Reason == domquery.FailCancelled {
		log.Warn("query cancelled", zap.Error(cause))
		return
	}
	log.Error("query failed", zap.Error(cause))
}

func (s *Service) run(ctx context.Context, queryID string, q domquery.Query) (Result, error) {
	all, err := s.partitions.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: list partitions: %w", domain.ErrStructural, err)
	}
	selected := partition.Select(all, q.Keyword)
	if len(selected) == 0 {
		logger.FromContext(ctx).Warn("no online partition serves keyword", zap.String("keyword", q.Keyword))
		return Result{Trajectories: []string{}}, nil
	}

	merged, err := s.fanOut(ctx, queryID, q, selected)
	if err != nil {
		return Result{}, err
	}
	tree := merged.Snapshot()

	visits, err := s.decrypt(ctx, queryID, tree)
	if err != nil {
		return Result{}, err
	}

	verifier, err := stv.New(q.TimeSpan, q.Regions())
	if err != nil {
		return Result{}, err
	}
	accepted := verifier.Verify(visits)
	s.emit(event.Event{QueryID: queryID, Kind: event.KindVerified, Count: len(accepted)})

	if s.cfg.DeliverCTK {
		s.deliver(ctx, queryID, tree)
	}
	return Result{Trajectories: accepted, Partitions: len(selected), Dates: tree.Count()}, nil
}

// fanOut runs every partition concurrently. A failing partition is logged
// and left out; the query fails only when no partition succeeds or the key
// is unavailable.
func (s *Service) fanOut(
	ctx context.Context, queryID string, q domquery.Query, parts []partition.Partition,
) (*ctk.Map, error) {
	merged := ctk.NewMap()
	errs := make([]error, len(parts))

	var g errgroup.Group
	for i, p := range parts {
		g.Go(func() error {
			res, err := s.runPartition(ctx, queryID, q, p)
			if err != nil {
				errs[i] = err
				return nil
			}
			merged.Merge(res.CTK)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrQueryCancelled, err)
	}
	failed := 0
	for _, err := range errs {
		if err == nil {
			continue
		}
		failed++
		if errors.Is(err, domain.ErrKeyUnavailable) || errors.Is(err, domain.ErrQueryCancelled) {
			return nil, err
		}
	}
	if failed == len(parts) {
		return nil, fmt.Errorf("%w: every partition failed: %w", domain.ErrStructural, errors.Join(errs...))
	}
	return merged, nil
}

func (s *Service) runPartition(
	ctx context.Context, queryID string, q domquery.Query, p partition.Partition,
) (domquery.PartitionResult, error) {
	mode := "local"
	if !p.IsLocal() {
		mode = "remote"
	}
	ctx, span := tracer.Start(ctx, "query.Partition", trace.WithAttributes(
		attribute.String("partition.id", p.ID),
		attribute.String("partition.mode", mode),
	))
	defer span.End()
	log := logger.FromContext(ctx).With(zap.String("partition", p.ID), zap.String("mode", mode))

	s.emit(event.Event{QueryID: queryID, Kind: event.KindPartitionStarted, Partition: p.ID, Message: mode})
	run := domquery.PartitionRun{QueryID: queryID, Partition: p.ID, Query: q}

	var (
		res domquery.PartitionResult
		err error
	)
	switch {
	case p.IsLocal():
		res, err = s.local.Run(ctx, run, s.bus)
	case s.remote == nil:
		err = fmt.Errorf("partition %s: no remote runner configured: %w", p.ID, domain.ErrStructural)
	default:
		res, err = s.remote.Run(ctx, p.Endpoint, run)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.PartitionRunsTotal.WithLabelValues(mode, "error").Inc()
		log.Warn("partition run failed", zap.Error(err))
		s.emit(event.Event{QueryID: queryID, Kind: event.KindPartitionFailed, Partition: p.ID, Message: err.Error()})
		return domquery.PartitionResult{}, err
	}
	metrics.PartitionRunsTotal.WithLabelValues(mode, "ok").Inc()
	span.SetAttributes(attribute.Int("partition.dates", res.CTK.Count()))
	s.emit(event.Event{QueryID: queryID, Kind: event.KindPartitionDone, Partition: p.ID, Count: res.CTK.Count()})
	return res, nil
}

type pending struct {
	rid  int
	traj int
	date int
}

// decrypt recovers trajectory ids and dates. Entries whose ciphertexts cannot
// be decoded or decrypted are dropped.
func (s *Service) decrypt(ctx context.Context, queryID string, tree ctk.Tree) ([]trajectory.Visit, error) {
	log := logger.FromContext(ctx)

	var (
		values  []crypto.EncryptedValue
		entries []pending
	)
	add := func(text string) (int, bool) {
		v, err := s.decoder.DecodeString(text)
		if err != nil {
			log.Warn("drop undecodable ciphertext", zap.Error(err))
			return 0, false
		}
		values = append(values, v)
		return len(values) - 1, true
	}

	for _, byRID := range tree {
		for rid, byTraj := range byRID {
			for _, tr := range byTraj {
				ti, ok := add(tr.Cipher)
				if !ok {
					continue
				}
				for _, d := range tr.Dates {
					di, ok := add(d.Cipher)
					if !ok {
						continue
					}
					entries = append(entries, pending{rid: rid, traj: ti, date: di})
				}
			}
		}
	}
	if len(values) == 0 {
		return nil, nil
	}

	plain := make([]int64, len(values))
	ok := make([]bool, len(values))
	for start := 0; start < len(values); start += s.cfg.DecryptBatch {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrQueryCancelled, err)
		}
		end := min(start+s.cfg.DecryptBatch, len(values))
		resp, err := s.oracle.Decrypt(ctx, oracle.DecryptRequest{Values: values[start:end]})
		if errors.Is(err, domain.ErrKeyUnavailable) {
			return nil, err
		}
		if err == nil && len(resp.Values) != end-start {
			err = fmt.Errorf("decrypt returned %d values for %d", len(resp.Values), end-start)
		}
		if err != nil {
			metrics.DecisionsTotal.WithLabelValues("decrypt", metrics.Reason(false, err)).Add(float64(end - start))
			log.Warn("decrypt batch failed, dropping entries",
				zap.Int("offset", start), zap.Int("size", end-start), zap.Error(err))
			continue
		}
		for i, v := range resp.Values {
			plain[start+i] = v
			ok[start+i] = true
		}
	}

	visits := make([]trajectory.Visit, 0, len(entries))
	for _, e := range entries {
		if !ok[e.traj] || !ok[e.date] {
			continue
		}
		visits = append(visits, trajectory.Visit{
			TrajectoryID: strconv.FormatInt(plain[e.traj], 10),
			RegionID:     e.rid,
			Timestamp:    plain[e.date],
		})
	}
	s.emit(event.Event{QueryID: queryID, Kind: event.KindDecrypted, Count: len(visits)})
	log.Debug("candidates decrypted", zap.Int("values", len(values)), zap.Int("visits", len(visits)))
	return visits, nil
}

// deliver hands the merged CTK to the oracle without blocking the query.
func (s *Service) deliver(ctx context.Context, queryID string, tree ctk.Tree) {
	log := logger.FromContext(ctx)
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DeliveryTimeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := s.oracle.ReceiveCTK(bg, oracle.CTKDelivery{QueryID: queryID, CTK: tree}); err != nil {
			log.Warn("ctk delivery failed", zap.Error(err))
			return
		}
		log.Debug("ctk delivered", zap.Int("dates", tree.Count()))
	}()
}

func (s *Service) persist(ctx context.Context, req *domquery.Request) {
	if err := s.requests.Save(ctx, req); err != nil {
		logger.FromContext(ctx).Warn("persist query state failed",
			zap.String("status", string(req.Status)), zap.Error(err))
	}
}

func (s *Service) emit(e event.Event) {
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.bus.Emit(e)
}

func (s *Service) track(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.running[id] = cancel
	s.mu.Unlock()
}

func (s *Service) untrack(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}
