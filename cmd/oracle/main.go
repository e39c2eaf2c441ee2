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
	logpkg "github.com/kailas-cloud/stquery/internal/logger"
	"github.com/kailas-cloud/stquery/internal/metrics"
	ctkrepo "github.com/kailas-cloud/stquery/internal/repository/ctk"
	noncerepo "github.com/kailas-cloud/stquery/internal/repository/nonce"
	"github.com/kailas-cloud/stquery/internal/security"
	"github.com/kailas-cloud/stquery/internal/telemetry"
	chiTransport "github.com/kailas-cloud/stquery/internal/transport/chi"
	healthuc "github.com/kailas-cloud/stquery/internal/usecase/health"
	oracleuc "github.com/kailas-cloud/stquery/internal/usecase/oracle"
	"github.com/kailas-cloud/stquery/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if err := cfg.ValidateOracle(); err != nil {
		panic("invalid oracle config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	logger = logger.Named("oracle")
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting decryption oracle",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Int("clients", len(cfg.Oracle.Clients)),
	)

	ctx := context.Background()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName + "-oracle",
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

	metrics.RegisterOracleMetrics()

	params, err := crypto.NewParameters()
	if err != nil {
		logger.Fatal("Invalid BGV parameters", zap.Error(err))
	}
	sk, err := crypto.LoadSecretKey(cfg.Crypto.SecretKeyPath)
	if err != nil {
		logger.Fatal("Failed to load secret key", zap.String("path", cfg.Crypto.SecretKeyPath), zap.Error(err))
	}

	signer, err := security.NewSigner(cfg.Oracle.Secret, config.Duration(cfg.Oracle.TokenMaxAge))
	if err != nil {
		logger.Fatal("Failed to create token signer", zap.Error(err))
	}

	oracleSvc := oracleuc.New(crypto.NewDecryptor(params, sk), ctkrepo.New(store, config.Duration(cfg.Storage.CTKTTLSec)))
	server := chiTransport.NewOracleServer(oracleSvc, healthuc.New(store, nil), logger)

	r := chi.NewRouter()
	r.Use(chiTransport.JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.WideEventMiddleware(logger))
	r.Use(chiTransport.OracleAuthMiddleware(chiTransport.OracleAuthConfig{
		Clients: cfg.Oracle.Clients,
		Signer:  signer,
		Nonces:  noncerepo.New(store, config.Duration(cfg.Storage.NonceTTLSec)),
	}))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  config.Duration(cfg.HTTP.ReadTimeoutSec),
		WriteTimeout: config.Duration(cfg.HTTP.WriteTimeoutSec),
	}

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
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Failed to flush traces", zap.Error(err))
	}

	logger.Info("Oracle stopped gracefully")
}
