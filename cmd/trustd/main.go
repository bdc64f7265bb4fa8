package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	rdb "github.com/redis/go-redis/v9"

	"github.com/tmstack/trustplane/internal/config"
	httpx "github.com/tmstack/trustplane/internal/http"
	"github.com/tmstack/trustplane/internal/http/router"
	"github.com/tmstack/trustplane/internal/jwks"
	"github.com/tmstack/trustplane/internal/keys"
	keysmem "github.com/tmstack/trustplane/internal/keys/memory"
	keyspg "github.com/tmstack/trustplane/internal/keys/pg"
	"github.com/tmstack/trustplane/internal/metrics"
	"github.com/tmstack/trustplane/internal/observability/logger"
	"github.com/tmstack/trustplane/internal/rate"
	"github.com/tmstack/trustplane/internal/schedule"
	"github.com/tmstack/trustplane/internal/token"
	"github.com/tmstack/trustplane/pkg/serviceauth"
)

const version = "0.3.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "trustd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", os.Getenv("TRUSTD_CONFIG"), "path to YAML config (optional)")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "trustd",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo keys.Repository
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		repo = keyspg.New(pool)
	default:
		log.Warn("using in-memory key storage, keys will not survive restarts")
		repo = keysmem.New()
	}

	store := keys.NewStore(repo, keys.StoreConfig{
		Grace:       cfg.Grace(),
		MinRetained: cfg.Keys.MinRetained,
		Retention:   cfg.Retention(),
		CacheGrace:  cfg.JWKSMaxAge(),
		ImportPEM:   cfg.Keys.ImportPEM,
		ImportKID:   cfg.Keys.ImportKID,
	})
	if err := store.EnsureInitialized(ctx); err != nil {
		return fmt.Errorf("initialize signing keys: %w", err)
	}

	issuer := token.NewIssuer(cfg.Service.Issuer, store)
	publisher := jwks.NewPublisher(store, cfg.JWKSMaxAge())

	if cfg.Service.SharedSecret == "" {
		log.Warn("SERVICES_SHARED_TOKEN not set, the shared-secret scheme will reject every caller")
	}
	verifier := serviceauth.NewVerifierFromConfig(cfg)

	var limiter rate.Limiter
	if cfg.Rate.Enabled {
		client := rdb.NewClient(&rdb.Options{Addr: cfg.Rate.RedisAddr, DB: cfg.Rate.RedisDB})
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		limiter = rate.NewRedisLimiter(client, cfg.Rate.Prefix, cfg.Rate.MaxRequests, cfg.Rate.Window.Std())
	}

	handler := router.New(router.Deps{
		Publisher:       publisher,
		Issuer:          issuer,
		Store:           store,
		Operator:        verifier,
		Limiter:         limiter,
		DefaultAudience: cfg.Service.DefaultAudience,
		DefaultSubject:  cfg.Service.DefaultSubject,
	})

	sched := &schedule.Scheduler{
		Store:            store,
		RotationInterval: cfg.Keys.RotationInterval.Std(),
		CleanupInterval:  cfg.Keys.CleanupInterval.Std(),
	}
	go sched.Run(ctx)

	srv := httpx.NewServer(cfg.Server.Addr, handler)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("trustd listening", logger.Addr(cfg.Server.Addr))

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := httpx.Shutdown(srv, 10*time.Second); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
