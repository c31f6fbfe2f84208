// Package app wires the learnhub server runtime: config, logging, storage,
// the session subsystem and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"learnhub/cmd/internal/auth/api"
	"learnhub/cmd/internal/auth/authn"
	"learnhub/cmd/internal/auth/session"
	"learnhub/cmd/internal/auth/tokens"
	"learnhub/cmd/internal/metrics"
	"learnhub/cmd/internal/migrations"
	"learnhub/cmd/internal/users"
	"learnhub/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// App is the learnhub server runtime: it owns storage handles and the HTTP
// server wiring.
type App struct {
	cfg Config
	log Logger

	pool *pgxpool.Pool
	rdb  *redis.Client

	sessions *session.Service
	auth     *api.Handler
	metrics  *metrics.Auth
	checks   []HealthCheck
}

// New constructs a fully wired App from config and logger. Without a
// database URL it runs on in-memory stores.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	hasher, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}

	for key, v := range cfg.InvalidTTLs() {
		log.Warn("config.ttl.invalid", "key", key, "value", v, "using", "default")
	}

	codec, err := tokens.NewCodec(cfg.TokenConfig())
	if err != nil {
		return nil, err
	}
	if err := codec.SelfCheck(); err != nil {
		return nil, err
	}
	if !codec.RefreshEnabled() {
		log.Warn("tokens.refresh.disabled", "reason", "LEARNHUB_JWT_REFRESH_SECRET not set")
	}

	strategy, err := tokens.NewStrategy(cfg.TokenStrategy, codec)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, metrics: metrics.NewAuth()}
	a.checks = append(a.checks, HealthCheck{Name: "token_codec", Check: func(context.Context) error {
		return codec.SelfCheck()
	}})

	store, dir, auditor, err := a.openStores(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.RedisURL != "" {
		rdb, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.rdb = rdb
		a.checks = append(a.checks, HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return PingRedis(ctx, rdb, 2*time.Second)
		}})

		if ttl := cfg.SessionConfig().CacheTTL; ttl > 0 {
			cached, err := session.NewRedisCache(store, rdb, ttl, session.WithCacheLogger(log))
			if err != nil {
				a.close()
				return nil, err
			}
			store = cached
			log.Info("session.cache.enabled", "ttl", ttl.String())
		}
	}

	reg, err := session.NewRegistry(store, codec, strategy, hasher, cfg.SessionConfig(),
		session.WithLogger(log),
		session.WithRecorder(a.metrics),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	a.sessions = session.NewService(reg, codec, log)

	pw, err := password.New(cfg.PasswordConfig())
	if err != nil {
		a.close()
		return nil, err
	}

	mw := authn.New(a.sessions, codec, dir, authn.WithLogger(log), authn.WithObserver(a.metrics))

	a.auth, err = api.NewHandler(log, cfg.APIConfig(), a.sessions, dir, pw, mw, api.WithAuditor(auditor))
	if err != nil {
		a.close()
		return nil, err
	}

	log.Info("app.ready",
		"env", cfg.Env,
		"db_enabled", a.pool != nil,
		"redis_enabled", a.rdb != nil,
		"token_strategy", strategy.Name(),
		"token_hmac", hasher.HMACEnabled(),
	)
	return a, nil
}

// openStores decides between Postgres-backed persistence and in-memory
// stores.
func (a *App) openStores(ctx context.Context) (session.Store, users.Store, api.Auditor, error) {
	cfg, log := a.cfg, a.log

	if cfg.DatabaseURL == "" {
		if cfg.ReadinessRequireDB {
			a.checks = append(a.checks, HealthCheck{Name: "postgres", Check: func(context.Context) error {
				return errors.New("database not configured")
			}})
		}
		log.Info("db.disabled.inmemory_store")
		return session.NewMemoryStore(), users.NewMemoryStore(), api.LogAuditor{Log: log}, nil
	}

	if cfg.MigrateOnStart {
		if err := migrations.Run(cfg.DatabaseURL, migrations.Up); err != nil {
			return nil, nil, nil, fmt.Errorf("migrate on start: %w", err)
		}
		log.Info("db.migrations.applied")
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	a.pool = pool
	a.checks = append(a.checks, HealthCheck{Name: "postgres", Check: func(ctx context.Context) error {
		return PingDB(ctx, pool, 2*time.Second)
	}})

	sessStore, err := session.NewPostgresStore(pool)
	if err != nil {
		return nil, nil, nil, err
	}
	userStore, err := users.NewPostgresStore(pool)
	if err != nil {
		return nil, nil, nil, err
	}
	auditor, err := api.NewPostgresAuditor(pool, api.WithAuditLogger(log))
	if err != nil {
		return nil, nil, nil, err
	}

	log.Info("db.enabled.postgres_store")
	return sessStore, userStore, auditor, nil
}

// Handler returns the full HTTP handler chain.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.checks, a.auth, a.metrics.Handler())

	var h http.Handler = mux
	if len(a.cfg.CORSAllowedOrigins) > 0 {
		h = WithCORS(h, a.cfg, a.log)
	}
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.pool != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.close()
		return err
	}

	a.close()
	a.log.Info("server.stopped")
	return nil
}

// close waits for background session touches, then releases storage handles.
func (a *App) close() {
	if a.sessions != nil {
		a.sessions.Registry().WaitTouches()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.rdb = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
