package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"currency-ledger/internal/account"
	"currency-ledger/internal/config"
	"currency-ledger/internal/events"
	"currency-ledger/internal/httpapi"
	"currency-ledger/internal/logger"
	"currency-ledger/internal/metrics"
	"currency-ledger/internal/rates"
	"currency-ledger/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// repository is what the account service and /readyz need from a backend.
type repository interface {
	account.Repository
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Production(), cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}

	os.Exit(exitCode(log, run(cfg, log)))
}

// exitCode logs a fatal run error and flushes the logger before the process
// exits, since os.Exit skips deferred calls.
func exitCode(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("server stopped", zap.Error(err))
		code = 1
	}
	_ = log.Sync()
	return code
}

func run(cfg *config.Config, log *zap.Logger) error {
	start := time.Now()
	log.Info("[startup] begin",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("store", cfg.Store),
		zap.String("env", cfg.Env),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Startup context
	startCtx, startCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer startCancel()

	repo, closeRepo, err := openStore(startCtx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	provider := rates.NewNBPProvider(cfg.Rates.Timeout,
		rates.WithURL(cfg.Rates.URL),
		rates.WithLogger(log),
		rates.WithMetrics(m),
	)

	var pub events.Publisher = events.Noop{}
	if cfg.KafkaEnabled() {
		log.Info("[startup] kafka publisher enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
		pub = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Warn("publisher close failed", zap.Error(err))
		}
	}()

	svc := account.NewService(repo, provider,
		account.WithPublisher(pub),
		account.WithMetrics(m),
		account.WithLogger(log),
	)
	h := httpapi.NewHandlers(svc,
		httpapi.WithLogger(log),
		httpapi.WithRequestTimeout(cfg.HTTP.RequestTimeout),
		httpapi.WithReadiness(repo.Ping),
	)

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.Router(h, httpapi.RouterConfig{
			MaxInflight: cfg.HTTP.MaxInflight,
			Auth:        httpapi.PassthroughAuth{Log: log},
			Metrics:     m,
			Gatherer:    reg,
			Log:         log,
		}),

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("[startup] ready",
			zap.Duration("took", time.Since(start).Truncate(time.Millisecond)),
			zap.String("addr", cfg.HTTP.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("[startup] using in-memory store, data is lost on restart")
		return store.NewMemory(), func() {}, nil

	case config.StoreRedis:
		log.Info("[startup] connecting to redis", zap.String("addr", cfg.Redis.Addr))
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return store.NewRedis(rdb), func() { _ = rdb.Close() }, nil

	default:
		pool, err := openPool(ctx, cfg.DB, log)
		if err != nil {
			return nil, nil, err
		}
		return store.New(pool), pool.Close, nil
	}
}

func openPool(ctx context.Context, db config.DB, log *zap.Logger) (*pgxpool.Pool, error) {
	// DB pool sizing
	cpu := runtime.GOMAXPROCS(0)
	maxConns := db.MaxConns
	if maxConns <= 0 {
		maxConns = clamp(cpu*4, 4, 50)
	}
	log.Info("[startup] db pool", zap.Int("cpu", cpu), zap.Int("max_conns", maxConns))

	pcfg, err := pgxpool.ParseConfig(db.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pcfg.MaxConns = int32(maxConns)
	pcfg.MinConns = 1
	pcfg.HealthCheckPeriod = 10 * time.Second
	pcfg.MaxConnLifetime = 30 * time.Minute
	pcfg.MaxConnIdleTime = 5 * time.Minute

	log.Info("[startup] connecting to DB")
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if !db.Migrate {
		log.Info("[startup] migrations disabled")
		return pool, nil
	}
	applied, err := store.Migrate(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	log.Info("[startup] migrations complete", zap.Strings("files", applied))
	return pool, nil
}
