package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cultiva-erp/cultiva-erp/internal/app"
	"github.com/cultiva-erp/cultiva-erp/internal/codes"
	"github.com/cultiva-erp/cultiva-erp/internal/ledger"
	"github.com/cultiva-erp/cultiva-erp/internal/observability"
	"github.com/cultiva-erp/cultiva-erp/internal/platform/cache"
	"github.com/cultiva-erp/cultiva-erp/internal/platform/db"
	"github.com/cultiva-erp/cultiva-erp/internal/reporting"
	"github.com/cultiva-erp/cultiva-erp/internal/sequence"
	"github.com/cultiva-erp/cultiva-erp/internal/shared"
	"github.com/cultiva-erp/cultiva-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	sequenceStore := sequence.NewPostgresStore(pool)
	batchCodec := codes.NewBatchCodec(sequenceStore, cfg.CodesEpochYear)
	serialCodec := codes.NewSerialCodec(sequenceStore, cfg.CodesEpochYear)
	txnumberCodec := codes.NewTransactionNumberCodec(sequenceStore)
	codesHandler := codes.NewHandler(logger, batchCodec, serialCodec, txnumberCodec, auditLogger)

	reportingCache := reporting.NewCache(redisClient, cfg.SnapshotCacheTTL)

	ledgerRepo := ledger.NewRepository(pool)
	lineSource := ledger.NewPGLineSource(pool)
	ledgerService := ledger.NewService(ledgerRepo, lineSource, auditLogger)
	ledgerService.WithReportInvalidator(reportingCache)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, idempotencyStore)

	reportingRepo := reporting.NewRepository(pool)
	reportingService := reporting.NewService(logger, ledgerService, reportingRepo, reportingCache, cfg.SnapshotFanout)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	reportingHandler := reporting.NewHandler(logger, reportingService, jobClient)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		LedgerHandler:    ledgerHandler,
		CodesHandler:     codesHandler,
		ReportingHandler: reportingHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
