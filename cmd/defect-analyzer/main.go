package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/defect-analyzer/internal/api"
	"github.com/miradorstack/defect-analyzer/internal/cache"
	"github.com/miradorstack/defect-analyzer/internal/config"
	"github.com/miradorstack/defect-analyzer/internal/loader"
	"github.com/miradorstack/defect-analyzer/internal/metrics"
	"github.com/miradorstack/defect-analyzer/internal/repo"
	"github.com/miradorstack/defect-analyzer/internal/services"
	"github.com/miradorstack/defect-analyzer/internal/telemetry"
	"github.com/miradorstack/defect-analyzer/internal/utils"
)

var version = "dev"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting defect-analyzer",
		slog.String("version", version),
		slog.String("http_address", cfg.Server.HTTPAddress),
		slog.String("grpc_address", cfg.Server.GRPCAddress),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	shutdownTracing, err := telemetry.Setup(cfg.Tracing, version, os.Stderr, logger)
	if err != nil {
		logger.Error("failed to set up tracing", slog.Any("error", err))
		os.Exit(1)
	}

	cacheProvider := newCacheProvider(cfg.Cache, logger)
	defer cacheProvider.Close()

	var history services.HistoryRepo
	if cfg.History.Path != "" {
		store, err := repo.NewHistoryStore(cfg.History.Path)
		if err != nil {
			logger.Error("failed to open history store", slog.String("path", cfg.History.Path), slog.Any("error", err))
			os.Exit(1)
		}
		defer store.Close()
		history = store
	}

	datasets := repo.NewDatasetRepo(repo.DatasetSource{
		DefectRatesPath: cfg.Data.DefectRatesPath,
		ParametersPath:  cfg.Data.ParametersPath,
		DefectRateSheet: cfg.Data.DefectRateSheet,
		ParameterSheet:  cfg.Data.ParameterSheet,
	}, loader.New(logger), cfg.Data.ReloadTTL, logger)

	analysisService := services.NewAnalysisService(logger, datasets, history, cacheProvider, cfg.Cache.ResponseTTL)

	httpServer, err := api.NewHTTPServer(cfg.Server, analysisService, logger)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}
	grpcServer, err := api.NewGRPCServer(cfg.Server, analysisService, logger)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("http server listening", slog.String("address", httpServer.Address()))
		if serveErr := httpServer.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	go func() {
		logger.Info("grpc server listening", slog.String("address", grpcServer.Address()))
		if serveErr := grpcServer.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	grpcServer.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", slog.Any("error", err))
	}

	logger.Info("defect-analyzer stopped")
}

// newCacheProvider picks Valkey when an address is configured, an in-process
// cache when caching is enabled without one, and no caching otherwise.
func newCacheProvider(cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled {
		return cache.NoopProvider{}
	}
	if cfg.Addr == "" {
		logger.Info("using in-process response cache")
		return cache.NewMemoryProvider()
	}

	provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
		KeyPrefix:    "defect-analyzer:",
	})
	if err != nil {
		logger.Warn("valkey cache unavailable, falling back to in-process cache", slog.Any("error", err))
		return cache.NewMemoryProvider()
	}
	return provider
}
