package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/escrow-market/internal/adapter/custody"
	"github.com/rl1809/escrow-market/internal/adapter/events"
	"github.com/rl1809/escrow-market/internal/adapter/handler"
	"github.com/rl1809/escrow-market/internal/adapter/storage"
	"github.com/rl1809/escrow-market/internal/config"
	"github.com/rl1809/escrow-market/internal/core/service"
	"github.com/rl1809/escrow-market/internal/logging"
	"github.com/rl1809/escrow-market/internal/metrics"
	"github.com/rl1809/escrow-market/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

// backends are the external connections opened for the configured store.
type backends struct {
	store       port.MarketStore
	idempotency port.IdempotencyStore
	sinks       []events.Sink
	closers     []func() error
}

func (b *backends) close(logger *zap.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("close backend", zap.Error(err))
		}
	}
}

func openBackends(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{sinks: []events.Sink{{Name: "log", Repo: events.LogSink{Logger: logger}}}}

	var redisAdapter *storage.RedisAdapter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		b.closers = append(b.closers, rdb.Close)

		redisAdapter = storage.NewRedisAdapter(rdb)
		b.idempotency = redisAdapter
		b.sinks = append(b.sinks, events.Sink{Name: "redis", Repo: redisAdapter})
	}

	switch cfg.Store {
	case config.StoreMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			b.close(logger)
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		b.closers = append(b.closers, db.Close)

		if err := db.PingContext(ctx); err != nil {
			b.close(logger)
			return nil, fmt.Errorf("ping mysql: %w", err)
		}
		logger.Info("connected to mysql")

		mysqlAdapter := storage.NewMySQLAdapter(db)
		if err := mysqlAdapter.Migrate(ctx); err != nil {
			b.close(logger)
			return nil, err
		}
		b.store = mysqlAdapter
		b.sinks = append(b.sinks, events.Sink{Name: "mysql", Repo: mysqlAdapter})

	case config.StoreRedis:
		b.store = redisAdapter

	default:
		memory := storage.NewMemoryAdapter()
		b.store = memory
		if b.idempotency == nil {
			b.idempotency = memory
		}
	}

	if b.idempotency == nil {
		// MySQL without Redis: keep request ids in process.
		b.idempotency = storage.NewMemoryAdapter()
	}
	return b, nil
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close(logger)
	logger.Info("store ready", zap.String("store", string(cfg.Store)))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	dispatcher := events.NewDispatcher(cfg.EventQueueSize, logger.Named("events"), b.sinks...)
	dispatcher.Start(cfg.EventWorkers)

	// Balances persisted by an earlier run are still owed, so custody starts out holding them.
	owed, err := b.store.TotalProceeds(ctx)
	if err != nil {
		return fmt.Errorf("sum unpaid proceeds: %w", err)
	}
	vault := custody.NewVault(logger.Named("custody"))
	vault.Seed(owed)
	logger.Info("custody restored", zap.Uint64("held", owed))
	market := service.NewMarketplaceService(b.store, vault,
		service.WithLogger(logger.Named("market")),
		service.WithPublisher(dispatcher),
		service.WithIdempotency(b.idempotency),
	)

	// gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterMarketplaceServer(grpcServer, handler.NewGRPCHandler(market))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	// HTTP server
	mux := http.NewServeMux()
	handler.NewHTTPHandler(market, logger.Named("http")).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown", zap.Error(err))
		}
		logger.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")
		return nil
	})

	err = g.Wait()

	// Drain queued notifications before the sinks' connections close.
	dispatcher.Close()
	logger.Info("event workers stopped")
	return err
}
