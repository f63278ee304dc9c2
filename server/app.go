package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signdesk/config"
	"signdesk/internal/admin"
	"signdesk/internal/auth"
	"signdesk/internal/breaker"
	"signdesk/internal/cache"
	"signdesk/internal/cms"
	"signdesk/internal/db"
	"signdesk/internal/health"
	"signdesk/internal/logs"
	"signdesk/internal/metrics"
	"signdesk/internal/middleware"
	"signdesk/internal/repo"
	"signdesk/internal/retry"
	"signdesk/internal/router"
	"signdesk/internal/secrets"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const maintenanceEvery = 10 * time.Minute

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	httpServer *http.Server

	cache    *cache.Cache
	sessions *repo.SessionStore
	limiter  *middleware.RateLimiter
	closeLog func() error

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) error {
	a.cfg = cfg

	/* 1) Логи */
	closeLog, err := logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("logs init failed: %w", err)
	}
	a.closeLog = closeLog

	/* 2) DB */
	d, err := db.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("db open failed: %w", err)
	}
	a.db = d
	if err := db.Migrate(a.db); err != nil {
		return fmt.Errorf("db migrate failed: %w", err)
	}

	users := repo.NewUserStore(a.db)
	businesses := repo.NewBusinessStore(a.db)
	settings := repo.NewSettingsStore(a.db)
	attempts := repo.NewLoginAttemptStore(a.db)
	activity := repo.NewActivityStore(a.db)
	a.sessions = repo.NewSessionStore(a.db)

	/* 3) Ключи */
	master, err := a.cfg.MasterKey()
	if err != nil {
		return err
	}
	svc, err := secrets.New(master)
	if err != nil {
		return fmt.Errorf("secrets init failed: %w", err)
	}
	keys := secrets.NewDBKeyProvider(settings, svc)
	if _, err := keys.DataKey(context.Background()); err != nil {
		return fmt.Errorf("data key: %w", err)
	}

	/* 4) CMS: кэш, предохранитель, повторы */
	backend, err := a.cacheBackend()
	if err != nil {
		return err
	}
	a.cache = cache.New(backend, cache.WithTTL(a.cfg.Cache.TTL))

	br := breaker.New(breaker.Options{
		FailureThreshold: a.cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  a.cfg.Breaker.RecoveryTimeout,
		OnStateChange: func(from, to breaker.State) {
			metrics.BreakerState.Set(float64(to))
			logs.Component("cms").WithField("from", from.String()).WithField("to", to.String()).Warn("breaker state changed")
		},
	})
	rp := retry.Default()
	if len(a.cfg.Retry.Delays) > 0 {
		rp.Delays = a.cfg.Retry.Delays
	}
	client := cms.New(cms.Options{
		Credentials: newSettingsCredentials(settings, keys),
		HTTPClient:  &http.Client{Timeout: a.cfg.CMS.Timeout},
		Cache:       a.cache,
		Breaker:     br,
		Retry:       &rp,
		TokenMargin: a.cfg.CMS.TokenMargin,
		CacheTTL:    a.cfg.Cache.TTL,
	})

	/* 5) Сессии и панель */
	authMW := &auth.Middleware{
		Sessions: auth.NewSessions(a.sessions, svc, a.cfg.Security.SessionTTL),
		Users:    users,
	}
	a.limiter = middleware.NewRateLimiter(a.cfg.Login.RatePerMinute, 5)
	if err := a.limiter.TrustProxies(a.cfg.Server.TrustedProxy); err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}

	rt := router.New()
	if _, err := admin.Attach(rt, admin.Dependencies{
		Users:      users,
		Businesses: businesses,
		Settings:   settings,
		Attempts:   attempts,
		Activity:   activity,
		Sessions:   a.sessions,
		CMS:        client,
		Cache:      a.cache,
		Secrets:    svc,
		Keys:       keys,
		Auth:       authMW,
		Limiter:    a.limiter,
		Login:      admin.LoginPolicy{MaxAttempts: a.cfg.Login.MaxAttempts, Window: a.cfg.Login.Window},
	}); err != nil {
		return fmt.Errorf("admin init failed: %w", err)
	}

	/* 6) Router + middleware */
	a.Router = mux.NewRouter()
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
		middleware.AllowedHost(a.cfg.Server.AllowedDomain),
		middleware.Metrics,
	)

	/* 7) Health и метрики */
	health.RegisterRoutesWithDB(a.Router, a.db, br) // /healthz, /health
	a.Router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	/* 8) Всё остальное - таблица маршрутов панели */
	a.Router.PathPrefix("/").Handler(rt)

	for _, p := range rt.Patterns() {
		logs.Logger.Debugf("route: %s", p)
	}
	return nil
}

func (a *App) cacheBackend() (cache.Backend, error) {
	switch a.cfg.Cache.Backend {
	case "memory":
		return cache.NewMemory(), nil
	case "redis":
		rc := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rc.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", a.cfg.Redis.Addr, err)
		}
		return cache.NewRedis(rc), nil
	default:
		return cache.NewGorm(a.db), nil
	}
}

// maintain периодически чистит просроченные записи кэша, сессии и лимитеры.
func (a *App) maintain(ctx context.Context) {
	t := time.NewTicker(maintenanceEvery)
	defer t.Stop()
	log := logs.Component("maintenance")
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := a.cache.PurgeExpired(ctx); err != nil {
				log.WithError(err).Warn("cache purge failed")
			} else if n > 0 {
				log.WithField("entries", n).Debug("expired cache entries removed")
			}
			if n, err := a.sessions.PurgeExpired(ctx); err != nil {
				log.WithError(err).Warn("session purge failed")
			} else if n > 0 {
				log.WithField("sessions", n).Debug("expired sessions removed")
			}
			a.limiter.Cleanup()
		}
	}
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logs.Logger.Infof("shutdown signal: %s", s)
		a.cancel()
	}()

	go a.maintain(a.ctx)

	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
			a.cancel()
		}
	}()

	<-a.ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}

	select {
	case err := <-errc:
		return fmt.Errorf("http server error: %w", err)
	default:
		return nil
	}
}
