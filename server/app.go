package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"shepherd/config"
	"shepherd/internal/auth"
	"shepherd/internal/db"
	"shepherd/internal/health"
	"shepherd/internal/logs"
	"shepherd/internal/mailer"
	"shepherd/internal/metrics"
	"shepherd/internal/middleware"
	"shepherd/internal/models"
	"shepherd/internal/repo"
	"shepherd/internal/scheduler"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	redis      *redis.Client
	Router     *mux.Router
	httpServer *http.Server

	Store   repo.AccountStore
	Auth    *auth.Service
	mail    mailer.Mailer
	sweeper *scheduler.Sweeper

	ctx    context.Context
	cancel context.CancelFunc
}

// Option меняет зависимости до инициализации (тесты).
type Option func(*App)

func WithMailer(m mailer.Mailer) Option { return func(a *App) { a.mail = m } }

func (a *App) Initialize(cfg *config.Config, opts ...Option) error {
	a.cfg = cfg
	for _, opt := range opts {
		opt(a)
	}

	/* 1) Логи и метрики */
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})
	metrics.Init()

	/* 2) DB (опционально) */
	if drv := a.cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, a.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("db open failed: %w", err)
		}
		if err := db.Configure(d); err != nil {
			return fmt.Errorf("db configure failed: %w", err)
		}
		if err := db.Migrate(d); err != nil {
			return fmt.Errorf("db migrate failed: %w", err)
		}
		a.db = d
	} else {
		logs.Logger.Warn("database.driver is empty: accounts live in memory and vanish on restart")
	}

	/* 3) Redis (опционально, для общих лимитов) */
	rc, err := newRedis(a.cfg)
	if err != nil {
		return err
	}
	a.redis = rc

	/* 4) Ядро авторизации */
	a.Store = newStore(a.db)
	if a.mail == nil {
		a.mail = newMailer(a.cfg)
	}
	svc, err := auth.NewService(a.Store, authConfig(a.cfg), auth.WithMailer(a.mail))
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}
	a.Auth = svc

	if b := a.cfg.Bootstrap; b.Email != "" {
		if _, err := svc.EnsureSuperAdmin(context.Background(), b.Email, b.Name, b.Password); err != nil {
			return fmt.Errorf("bootstrap super admin: %w", err)
		}
	}

	sw, err := scheduler.New(a.Store, a.cfg.Scheduler.SweepSpec)
	if err != nil {
		return err
	}
	a.sweeper = sw

	/* 5) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		models.WriteFailure(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	a.Router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		models.WriteFailure(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
		metrics.Instrument,
	)

	/* 6) Health и метрики */
	var probes []health.Probe
	if a.db != nil {
		probes = append(probes, health.DBProbe(a.db))
	}
	if a.redis != nil {
		probes = append(probes, health.RedisProbe(a.redis))
	}
	health.RegisterRoutes(a.Router, probes...)
	a.Router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	/* 7) API */
	proxies, err := middleware.ParseTrustedProxies(a.cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}
	rl := a.cfg.RateLimit
	auth.RegisterRoutes(a.Router,
		auth.NewHandler(svc, a.cfg.IsDevelopment()),
		auth.NewGate(svc, a.cfg.IsDevelopment()),
		auth.RouteOptions{
			LoginLimit: middleware.RateLimit(newLimiter(a.redis, "login", rl.LoginLimit, rl.Window), "login", proxies),
			ResetLimit: middleware.RateLimit(newLimiter(a.redis, "reset", rl.ResetLimit, rl.Window), "reset", proxies),
		})

	/* вывести известные маршруты в лог при старте */
	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := rt.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		logs.Logger.Debugf("route: %-6v %s", methods, path)
		return nil
	})
	return nil
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

	if a.sweeper != nil {
		a.sweeper.Start()
	}

	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second, // включая синхронную отправку письма
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			a.cancel()
		}
	}()

	<-a.ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	if a.sweeper != nil {
		a.sweeper.Stop(ctx)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	select {
	case err := <-errc:
		return fmt.Errorf("http server error: %w", err)
	default:
		return nil
	}
}
