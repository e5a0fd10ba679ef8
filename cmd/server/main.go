package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/safety-tracking/internal/config"
	"github.com/example/safety-tracking/internal/dispatch"
	"github.com/example/safety-tracking/internal/eta"
	"github.com/example/safety-tracking/internal/geo"
	httpapi "github.com/example/safety-tracking/internal/http"
	"github.com/example/safety-tracking/internal/ingest"
	"github.com/example/safety-tracking/internal/logging"
	"github.com/example/safety-tracking/internal/search"
	"github.com/example/safety-tracking/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.MustLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, cleanup := build(ctx, cfg, logger)
	defer cleanup()

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("safety-tracking listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("shut down")
}

// build wires the backing services named in cfg, falling back to in-memory
// implementations for anything not configured.
func build(ctx context.Context, cfg config.ServerConfig, logger *zap.Logger) (*httpapi.Server, func()) {
	var closers []func()

	var g geo.Geo = geo.NewIndex()
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		g = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		closers = append(closers, func() { _ = rc.Close() })
		logger.Info("responder index on redis", zap.String("addr", cfg.RedisAddr), zap.String("key", cfg.RedisGeoKey))
	}

	var store storage.Store = storage.NewMemoryStore()
	if cfg.PGDSN != "" {
		ps, err := storage.OpenPostgres(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable, using memory store", zap.Error(err))
		} else {
			store = ps
			closers = append(closers, func() { _ = ps.Close() })
			// optional migration
			if cfg.RunMigrations {
				if applied, err := ps.Migrate(ctx); err != nil {
					logger.Error("migration exec error", zap.Error(err))
				} else {
					logger.Info("migrations applied", zap.Strings("files", applied))
				}
			}
		}
	}

	var pub ingest.Publisher = ingest.Discard{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic, cfg.KafkaResponderTopic)
		pub = kp
		closers = append(closers, func() { _ = kp.Close() })
	}

	svc := &search.Service{
		Geo:             g,
		Radii:           cfg.SearchRadiiMeters,
		Limit:           cfg.SearchLimit,
		DefaultSpeedMps: cfg.DefaultSpeedMps,
		ETACache:        eta.NewCache(cfg.ETACacheTTL),
		Logger:          logger,
	}
	if cfg.OSRMEndpoint != "" {
		svc.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Geo:       g,
		Search:    svc,
		Store:     store,
		Publisher: pub,
		WSReg:     dispatch.NewWSRegistry(logger),
	}, logger)

	return srv, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}
