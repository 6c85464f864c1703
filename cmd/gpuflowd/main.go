// Package main runs the gpuflow daemon: a job scheduler for serverless
// GPU endpoints with an HTTP control API and a WebSocket event feed.
//
// Configuration is environment-driven:
//
//	GPUFLOW_ADDR            listen address (default ":8080")
//	GPUFLOW_API_KEY         compute provider API key (required)
//	GPUFLOW_STORE           memory | postgres | redis (default "memory")
//	GPUFLOW_DATABASE_URL    Postgres DSN (postgres store)
//	GPUFLOW_REDIS_ADDR      Redis address (redis store)
//	GPUFLOW_MAX_CONCURRENT  global dispatch window
//	GPUFLOW_RATE_LIMIT      dispatches per second
//	GPUFLOW_MAX_RETRIES     attempts before dead-lettering
//	GPUFLOW_DAILY_BUDGET    daily spend ceiling in USD
//	GPUFLOW_ENDPOINT_COSTS  per-endpoint USD/sec rates, e.g. "ep-a=0.00044,ep-b=0.0012"
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/gpuflow"
	"github.com/xraph/gpuflow/api"
	"github.com/xraph/gpuflow/compute"
	"github.com/xraph/gpuflow/feed"
	"github.com/xraph/gpuflow/observability"
	"github.com/xraph/gpuflow/sched"
	"github.com/xraph/gpuflow/store"
	bunstore "github.com/xraph/gpuflow/store/bun"
	"github.com/xraph/gpuflow/store/memory"
	redisstore "github.com/xraph/gpuflow/store/redis"
	"github.com/xraph/gpuflow/stream"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger); err != nil {
		logger.Error("gpuflowd failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx := context.Background()

	apiKey := os.Getenv("GPUFLOW_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("GPUFLOW_API_KEY is required")
	}

	cfg := configFromEnv()

	// ──────────────────────────────────────────────────
	// Store
	// ──────────────────────────────────────────────────

	st, err := openStore(logger)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // best-effort close on shutdown

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}

	// ──────────────────────────────────────────────────
	// Scheduler
	// ──────────────────────────────────────────────────

	client := compute.NewHTTPClient(apiKey, compute.WithLogger(logger))

	broker := stream.NewBroker(logger)
	metrics, err := observability.NewMetricsExtension()
	if err != nil {
		return fmt.Errorf("create metrics extension: %w", err)
	}

	opts := []sched.Option{
		sched.WithConfig(cfg),
		sched.WithStreamBroker(broker),
		sched.WithExtension(metrics),
	}
	costs, err := endpointCostsFromEnv()
	if err != nil {
		return err
	}
	opts = append(opts, costs...)

	mgr := sched.NewManager(st, client, logger, opts...)

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	// ──────────────────────────────────────────────────
	// HTTP server
	// ──────────────────────────────────────────────────

	mux := http.NewServeMux()
	mux.Handle("/v1/events", feed.NewServer(broker, feed.WithLogger(logger)))
	mux.Handle("/", api.New(mgr, nil).Handler())

	addr := envString("GPUFLOW_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gpuflowd listening",
			slog.String("addr", addr),
			slog.String("events", "ws://"+addr+"/v1/events"),
		)
		if serveErr := srv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
	}()

	// ──────────────────────────────────────────────────
	// Shutdown
	// ──────────────────────────────────────────────────

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("goodbye")
	return nil
}

// openStore selects the backend from GPUFLOW_STORE.
func openStore(logger *slog.Logger) (store.Store, error) {
	switch backend := envString("GPUFLOW_STORE", "memory"); backend {
	case "memory":
		return memory.New(), nil

	case "postgres":
		dsn := os.Getenv("GPUFLOW_DATABASE_URL")
		if dsn == "" {
			return nil, fmt.Errorf("GPUFLOW_DATABASE_URL is required for the postgres store")
		}
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		db := bun.NewDB(sqldb, pgdialect.New())
		return bunstore.New(db, bunstore.WithLogger(logger)), nil

	case "redis":
		addr := envString("GPUFLOW_REDIS_ADDR", "localhost:6379")
		client := goredis.NewClient(&goredis.Options{Addr: addr})
		return redisstore.New(client, redisstore.WithLogger(logger)), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func configFromEnv() gpuflow.Config {
	cfg := gpuflow.DefaultConfig()
	cfg.MaxConcurrentJobs = envInt("GPUFLOW_MAX_CONCURRENT", cfg.MaxConcurrentJobs)
	cfg.RateLimitPerSecond = envInt("GPUFLOW_RATE_LIMIT", cfg.RateLimitPerSecond)
	cfg.MaxRetryAttempts = envInt("GPUFLOW_MAX_RETRIES", cfg.MaxRetryAttempts)
	cfg.BudgetLimitDaily = envFloat("GPUFLOW_DAILY_BUDGET", cfg.BudgetLimitDaily)
	return cfg
}

// endpointCostsFromEnv parses GPUFLOW_ENDPOINT_COSTS, a comma-separated
// list of endpointID=usdPerSecond pairs. Without it the daemon records
// no spend and the budget gate never engages.
func endpointCostsFromEnv() ([]sched.Option, error) {
	raw := os.Getenv("GPUFLOW_ENDPOINT_COSTS")
	if raw == "" {
		return nil, nil
	}
	var opts []sched.Option
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("GPUFLOW_ENDPOINT_COSTS: malformed entry %q, want endpointID=usdPerSecond", pair)
		}
		rate, err := strconv.ParseFloat(val, 64)
		if err != nil || rate < 0 {
			return nil, fmt.Errorf("GPUFLOW_ENDPOINT_COSTS: bad rate %q for endpoint %q", val, id)
		}
		opts = append(opts, sched.WithEndpointCost(id, rate))
	}
	return opts, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
