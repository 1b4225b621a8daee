package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finbridge/venuegate/internal/config"
	"github.com/finbridge/venuegate/internal/handler"
	"github.com/finbridge/venuegate/internal/ledger"
	"github.com/finbridge/venuegate/internal/middleware"
	"github.com/finbridge/venuegate/internal/pkg/logger"
	"github.com/finbridge/venuegate/internal/repository"
	"github.com/finbridge/venuegate/internal/scheduler"
	"github.com/finbridge/venuegate/internal/service"
	"github.com/finbridge/venuegate/internal/venue"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel)

	// Persistence: Postgres and Redis when configured, memory otherwise.
	var (
		orderStore repository.OrderStore
		allocStore repository.AllocationStore
		reconStore repository.ReconStore
		auditStore repository.LedgerAuditStore
		usageStore repository.UsageStore
	)
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		logger.Info("Connected to PostgreSQL")
		orderStore = repository.NewPostgresOrderStore(db)
		allocStore = repository.NewPostgresAllocationStore(db)
		reconStore = repository.NewPostgresReconStore(db)
		auditStore = repository.NewPostgresLedgerAuditStore(db)
	} else {
		logger.Warn("No database configured, state will not survive restarts")
		orderStore = repository.NewMemoryOrderStore()
		allocStore = repository.NewMemoryAllocationStore()
		reconStore = repository.NewMemoryReconStore()
		auditStore = repository.NewMemoryLedgerAuditStore()
	}

	var reserver repository.Reserver
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg)
		if err != nil {
			logger.Error("Failed to connect to Redis, using in-memory usage tracking", "error", err.Error())
		} else {
			logger.Info("Connected to Redis")
			usageStore = repository.NewRedisUsageStore(redisClient)
			reserver = repository.NewRedisReserver(redisClient,
				time.Duration(cfg.Pipeline.IdempotencyWindowSeconds)*time.Second)
		}
	}
	if usageStore == nil {
		usageStore = repository.NewMemoryUsageStore()
	}

	// Core services.
	auditSvc := service.NewAuditService(auditStore)
	led := ledger.New(auditSvc)
	if saved, err := allocStore.Load(context.Background()); err == nil {
		for _, alloc := range saved {
			led.Restore(alloc)
		}
	}

	registry := venue.NewRegistry()
	var streams []*venue.FillStream
	for _, vcfg := range cfg.Venues {
		adapter, ok := venue.New(vcfg)
		if !ok {
			logger.Warn("Unknown venue in config, skipping", "venue", vcfg.ID)
			continue
		}
		registry.Register(vcfg, adapter)
		logger.Info("Venue registered", "venue", vcfg.ID, "priority", vcfg.Priority)
	}

	riskEngine := service.NewRiskEngine(cfg.Risk, usageStore)

	complianceReporter, err := service.NewFileReporter(cfg.Compliance.Dir)
	if err != nil {
		log.Fatalf("Failed to initialize compliance reporting: %v", err)
	}

	pipeline := service.NewPipeline(cfg.Pipeline, registry, led, orderStore, riskEngine, complianceReporter)
	if reserver != nil {
		pipeline.WithReserver(reserver)
	}

	for _, vcfg := range cfg.Venues {
		if vcfg.WSURL == "" || !vcfg.Enabled {
			continue
		}
		stream := venue.NewFillStream(vcfg, pipeline.HandleFill)
		stream.Start()
		streams = append(streams, stream)
	}

	// Background jobs.
	sched := scheduler.New()
	reconciler := service.NewReconciler(cfg.Reconciliation, registry, led, reconStore, allocStore)
	sweeper := service.NewSweeper(pipeline, orderStore, registry)
	healthMonitor := venue.NewMonitor(registry, cfg.Health.ProbeAsset,
		time.Duration(cfg.Health.ProbeTimeoutMs)*time.Millisecond,
		time.Duration(cfg.Health.DegradedLatencyMs)*time.Millisecond,
		cfg.Health.AlertAfterFailures)
	if err := sched.AddJob(cfg.Reconciliation.BalanceInterval, reconciler); err != nil {
		log.Fatalf("Failed to schedule reconciliation: %v", err)
	}
	if err := sched.AddJob(cfg.Reconciliation.SweepInterval, sweeper); err != nil {
		log.Fatalf("Failed to schedule order sweep: %v", err)
	}
	if err := sched.AddJob(cfg.Health.Interval, healthMonitor); err != nil {
		log.Fatalf("Failed to schedule health probes: %v", err)
	}
	sched.Start()

	// HTTP surface.
	orderHandler := handler.NewOrderHandler(pipeline)
	platformHandler := handler.NewPlatformHandler(led, registry, reconStore)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", platformHandler.Health)
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	{
		v1.POST("/orders", orderHandler.PlaceOrder)
		v1.GET("/orders/:id", orderHandler.GetOrder)
		v1.DELETE("/orders/:id", orderHandler.CancelOrder)
		v1.GET("/balances/available", platformHandler.AvailableBalance)
		v1.GET("/allocations", platformHandler.ListAllocations)
		v1.GET("/reconciliations", platformHandler.ListReconciliations)
		v1.GET("/venues", platformHandler.ListVenues)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("VenueGate started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sched.Stop()
	for _, stream := range streams {
		stream.Stop()
	}
	if err := allocStore.Save(ctx, led.Snapshot()); err != nil {
		logger.Error("Final allocation snapshot failed", "error", err.Error())
	}
	auditSvc.Close()
	_ = complianceReporter.Close()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("Server exiting")
}
