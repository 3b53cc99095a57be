package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/taxdesk/taxdesk/internal/app"
	"github.com/taxdesk/taxdesk/internal/invoicing"
	"github.com/taxdesk/taxdesk/internal/observability"
	"github.com/taxdesk/taxdesk/internal/platform/cache"
	"github.com/taxdesk/taxdesk/internal/platform/db"
	"github.com/taxdesk/taxdesk/internal/reporting"
	"github.com/taxdesk/taxdesk/internal/reporting/export"
	reportinghttp "github.com/taxdesk/taxdesk/internal/reporting/http"
	"github.com/taxdesk/taxdesk/internal/settings"
	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/jobs"
	"github.com/taxdesk/taxdesk/report"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	reportCache := reporting.NewCache(redisClient, cfg.ReportCacheTTL)

	settingsService := settings.NewService(
		settings.NewRepository(dbpool),
		cfg.SettingsDefaults(),
		auditLogger,
		app.NewReportInvalidator(reportCache, jobClient, "settings", logger),
		logger,
	)
	if err := settingsService.EnsureDefaults(ctx); err != nil {
		logger.Error("seed settings", slog.Any("error", err))
		os.Exit(1)
	}
	settingsHandler := settings.NewHandler(logger, settingsService)

	invoiceRepo := invoicing.NewRepository(dbpool)
	invoiceService := invoicing.NewService(invoicing.ServiceParams{
		Repo:        invoiceRepo,
		Settings:    settingsService,
		Audit:       auditLogger,
		Idempotency: idempotencyStore,
		Notifier:    app.NewReportInvalidator(reportCache, jobClient, "invoice", logger),
		Logger:      logger,
	})
	invoicingHandler := invoicing.NewHandler(logger, invoiceService, auditLogger)

	reportService := reporting.NewService(reporting.ServiceParams{
		Invoices: invoiceRepo,
		Reports:  reporting.NewRepository(dbpool),
		Rates:    settingsService,
		Cache:    reportCache,
		Logger:   logger,
	})
	reportClient := report.NewClient(cfg.GotenbergURL)
	renderer, err := export.NewRenderer(reportClient)
	if err != nil {
		logger.Error("parse report templates", slog.Any("error", err))
		os.Exit(1)
	}
	reportingHandler := reportinghttp.NewHandler(logger, reportService, settingsService, renderer)
	reportHandler := report.NewHandler(reportClient, logger)

	if err := reportCache.ListenForInvalidation(ctx, func(version int64) {
		logger.Debug("report cache bumped", slog.Int64("version", version))
	}); err != nil {
		logger.Warn("subscribe cache invalidation", slog.Any("error", err))
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Metrics:          metrics,
		InvoicingHandler: invoicingHandler,
		SettingsHandler:  settingsHandler,
		ReportingHandler: reportingHandler,
		ReportHandler:    reportHandler,
		JobHandler:       jobHandler,
		HealthChecks: []app.HealthCheck{
			{Name: "postgres", Check: dbpool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
