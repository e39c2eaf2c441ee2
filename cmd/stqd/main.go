package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/stquery/internal/config"
	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/db/driver"
	"github.com/kailas-cloud/stquery/internal/domain/partition"
	logpkg "github.com/kailas-cloud/stquery/internal/logger"
	"github.com/kailas-cloud/stquery/internal/metrics"
	octreerepo "github.com/kailas-cloud/stquery/internal/repository/octree"
	partitionrepo "github.com/kailas-cloud/stquery/internal/repository/partition"
	pointsrepo "github.com/kailas-cloud/stquery/internal/repository/points"
	requestrepo "github.com/kailas-cloud/stquery/internal/repository/request"
	"github.com/kailas-cloud/stquery/internal/telemetry"
	chiTransport "github.com/kailas-cloud/stquery/internal/transport/chi"
	"github.com/kailas-cloud/stquery/internal/transport/fog"
	oracleclient "github.com/kailas-cloud/stquery/internal/transport/oracle"
	"github.com/kailas-cloud/stquery/internal/usecase/aggregate"
	"github.com/kailas-cloud/stquery/internal/usecase/compare"
	healthuc "github.com/kailas-cloud/stquery/internal/usecase/health"
	"github.com/kailas-cloud/stquery/internal/usecase/prune"
	queryuc "github.com/kailas-cloud/stquery/internal/usecase/query"
	"github.com/kailas-cloud/stquery/internal/usecase/sstp"
	"github.com/kailas-cloud/stquery/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if err := cfg.ValidateNode(); err != nil {
		panic("invalid node config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting stqd query node",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("partition", cfg.Partitions.LocalID),
		zap.String("oracle", cfg.Oracle.URL),
	)

	ctx := context.Background()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName + "-stqd",
		ServiceVersion: version.Version,
		Environment:    env,
		Exporter:       cfg.Telemetry.TraceExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Fatal("Failed to init tracing", zap.Error(err))
	}

	store, err := driver.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open database store", zap.Error(err))
	}
	defer store.Close()
	logger.Info("Connected to database")

	metrics.RegisterQueryMetrics()
	metrics.RegisterOracleMetrics()

	params, err := crypto.NewParameters()
	if err != nil {
		logger.Fatal("Invalid BGV parameters", zap.Error(err))
	}
	pk, err := crypto.LoadPublicKey(cfg.Crypto.PublicKeyPath)
	if err != nil {
		logger.Fatal("Failed to load public key", zap.String("path", cfg.Crypto.PublicKeyPath), zap.Error(err))
	}
	engine := crypto.NewEngine(params, pk)
	codec := crypto.Codec{}

	oracle, err := oracleclient.New(oracleclient.Config{
		BaseURL:    cfg.Oracle.URL,
		APIKey:     cfg.Oracle.APIKey,
		FogID:      cfg.Oracle.FogID,
		Secret:     cfg.Oracle.Secret,
		Timeout:    config.Duration(cfg.Oracle.TimeoutSec),
		MaxRetries: uint(cfg.Oracle.MaxRetries),
		RateLimit:  cfg.Oracle.RateLimit,
		Burst:      cfg.Oracle.Burst,
	})
	if err != nil {
		logger.Fatal("Failed to create oracle client", zap.Error(err))
	}

	// Local partition pipeline: pruner -> aggregator behind one SSTP runner.
	var local *sstp.Service
	if id := cfg.Partitions.LocalID; id != "" {
		cmp := compare.New(engine)
		pruner := prune.New(octreerepo.New(store, id), oracle, cmp, engine,
			prune.WithWorkers(cfg.Query.PruneWorkers))
		agg := aggregate.New(pointsrepo.New(store, codec, id), oracle, cmp, codec,
			aggregate.WithBatchSize(cfg.Query.PointBatch),
			aggregate.WithWorkers(cfg.Query.AggregateWorkers))
		local = sstp.New(pruner, agg)
	}

	partitions := partitionrepo.New(store)
	if err := partitions.Seed(ctx, seedPartitions(cfg.Partitions.Seed)); err != nil {
		logger.Fatal("Failed to seed partition registry", zap.Error(err))
	}

	remote := fog.New(fog.Config{
		APIKey:     firstKey(cfg.Auth.APIKeys),
		Timeout:    config.Duration(cfg.Query.FogTimeoutSec),
		MaxRetries: uint(cfg.Oracle.MaxRetries),
		Logger:     logger.Named("fog"),
	})

	var localRunner queryuc.LocalRunner
	if local != nil {
		localRunner = local
	}
	querySvc := queryuc.New(partitions, localRunner, remote, oracle, codec, requestrepo.New(store), nil,
		queryuc.Config{
			Timeout:      config.Duration(cfg.Query.TimeoutSec),
			DecryptBatch: cfg.Query.DecryptBatch,
			DeliverCTK:   cfg.Query.DeliverCTK,
		})

	healthSvc := healthuc.New(store, oracle)

	var localPartition chiTransport.PartitionRunner
	if local != nil {
		localPartition = local
	}
	server := chiTransport.NewServer(querySvc, querySvc.Bus(), localPartition, cfg.Partitions.LocalID,
		partitions, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(chiTransport.JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.WideEventMiddleware(logger))
	r.Use(chiTransport.APIKeyMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  config.Duration(cfg.HTTP.ReadTimeoutSec),
		WriteTimeout: config.Duration(cfg.HTTP.WriteTimeoutSec),
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.HTTP.ShutdownSec))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	// Background queries observe their own timeout; wait for them to record a terminal state.
	querySvc.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Failed to flush traces", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

func seedPartitions(in []config.PartitionConfig) []partition.Partition {
	out := make([]partition.Partition, 0, len(in))
	for _, p := range in {
		out = append(out, partition.Partition{
			ID:          p.ID,
			Endpoint:    p.Endpoint,
			Keywords:    p.Keywords,
			KeywordLoad: p.KeywordLoad,
			Status:      partition.Status(p.Status),
		})
	}
	return out
}

// firstKey is the key this node presents to peer nodes; the cluster shares one key set.
func firstKey(keys []string) string {
	for _, k := range keys {
		if k != "" {
			return k
		}
	}
	return ""
}
