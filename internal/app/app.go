// Package app wires configuration, storage, auth and the HTTP router into a runnable
// server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"todo-task/backend/internal/auth"
	"todo-task/backend/internal/config"
	"todo-task/backend/internal/database"
	"todo-task/backend/internal/handlers"
	"todo-task/backend/internal/middleware"
	"todo-task/backend/internal/monitoring"
	"todo-task/backend/internal/store"
	"todo-task/backend/internal/todo"
	"todo-task/backend/internal/web"
	"todo-task/backend/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm/logger"
)

type App struct {
	Config   *config.Config
	Pool     *database.DatabasePool
	Store    store.Store
	Auth     *auth.Service
	Registry *todo.Registry
	Limiter  *middleware.RateLimiter
	Router   *gin.Engine
	Redis    *redis.Client
	Worker   *worker.Worker
	Jobs     *worker.JobQueue

	logger    *log.Logger
	ownsRDB   bool
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// PoolConfig translates the database section of cfg.
func PoolConfig(cfg *config.Config) *database.PoolConfig {
	level := logger.Warn
	if cfg.Server.Environment == "development" {
		level = logger.Info
	}
	dsn := cfg.GetDatabaseDSN()
	if cfg.Database.Driver == database.DriverSQLite && dsn != ":memory:" && !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	return &database.PoolConfig{
		Driver:          cfg.Database.Driver,
		DSN:             dsn,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		LogLevel:        level,
	}
}

func redisOptions(cfg *config.Config) *redis.Options {
	return &redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	}
}

func pageSizes(cfg *config.Config) todo.PageSizes {
	return todo.PageSizes{
		todo.ViewHome:      cfg.View.HomePageSize,
		todo.ViewUpcoming:  cfg.View.UpcomingPageSize,
		todo.ViewFilter:    cfg.View.FilterPageSize,
		todo.ViewCompleted: cfg.View.CompletedPageSize,
		todo.ViewLabel:     cfg.View.LabelPageSize,
	}
}

// New opens the database, migrates it and builds the store, services and router.
func New(cfg *config.Config, l *log.Logger) (*App, error) {
	if l == nil {
		l = log.Default()
	}
	a := &App{Config: cfg, logger: l}

	pool, err := database.NewDatabasePool(PoolConfig(cfg))
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	if err := database.Migrate(pool.DB); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.openStore(); err != nil {
		a.Close()
		return nil, err
	}

	a.Auth = auth.NewService(pool.DB, auth.Config{
		JWTSecret:       cfg.Auth.JWTSecret,
		Issuer:          cfg.Auth.Issuer,
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
		BCryptCost:      cfg.Auth.BCryptCost,
	}, l)

	sizes := pageSizes(cfg)
	a.Registry = todo.NewRegistry(func(id string) *todo.Workspace {
		return todo.NewWorkspace(id, a.Auth, a.Store, sizes, l)
	}, cfg.View.WorkspaceIdle, l)

	if cfg.RateLimit.Enabled {
		a.Limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMin, cfg.RateLimit.BurstSize)
	}

	a.setupJobs()
	a.registerMonitoring()

	router, err := a.buildRouter(sizes)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Router = router

	return a, nil
}

func (a *App) openStore() error {
	switch a.Config.Store.Driver {
	case "sql":
		s, err := store.NewSQLStore(a.Pool.DB, a.logger)
		if err != nil {
			return err
		}
		a.Store = s
	default:
		opts := redisOptions(a.Config)
		s, err := store.NewRedisStore(&store.RedisStoreConfig{
			Addr:         opts.Addr,
			Password:     opts.Password,
			DB:           opts.DB,
			PoolSize:     opts.PoolSize,
			MinIdleConns: opts.MinIdleConns,
			MaxRetries:   opts.MaxRetries,
			DialTimeout:  opts.DialTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			KeyPrefix:    a.Config.Store.KeyPrefix,
			OpTimeout:    a.Config.Store.OpTimeout,
			Logger:       a.logger,
		})
		if err != nil {
			return err
		}
		a.Store = s
		a.Redis = s.Client()
	}
	return nil
}

// setupJobs attaches the Redis job queue. Without a reachable Redis the token cleanup runs
// in process instead.
func (a *App) setupJobs() {
	if a.Redis == nil {
		a.Redis = redis.NewClient(redisOptions(a.Config))
		a.ownsRDB = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		a.logger.Printf("[app] redis unavailable, running maintenance in process: %v", err)
		if a.ownsRDB {
			a.Redis.Close()
			a.ownsRDB = false
		}
		a.Redis = nil
		return
	}

	prefix := a.Config.Store.KeyPrefix + "jobs:"
	a.Jobs = worker.NewJobQueue(a.Redis, prefix, a.logger)
	a.Worker = worker.NewWorker(worker.WorkerConfig{
		RedisClient:  a.Redis,
		Concurrency:  a.Config.Worker.Concurrency,
		PollInterval: a.Config.Worker.PollInterval,
		Queues:       a.Config.Worker.Queues,
		KeyPrefix:    prefix,
		Logger:       a.logger,
	})
	a.Worker.RegisterHandler(worker.JobTypeCleanupTokens, worker.CleanupTokensHandler(a.Auth, a.logger))
}

func (a *App) registerMonitoring() {
	monitoring.RegisterHealthCheck("database", func(ctx context.Context) error {
		return a.Pool.Health()
	})
	monitoring.RegisterHealthCheck("store", a.Store.Health)

	monitoring.RegisterStats("database", func() interface{} { return a.Pool.Stats() })
	monitoring.RegisterStats("workspaces", func() interface{} { return a.Registry.Len() })
	if s, ok := a.Store.(interface{ Stats() map[string]interface{} }); ok {
		monitoring.RegisterStats("store", func() interface{} { return s.Stats() })
	}
	if a.Jobs != nil {
		monitoring.RegisterStats("jobs", func() interface{} {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			stats := map[string]int64{}
			for _, q := range a.Config.Worker.Queues {
				if n, err := a.Jobs.GetQueueSize(ctx, q); err == nil {
					stats[q] = n
				}
			}
			if n, err := a.Jobs.GetDelayedSize(ctx); err == nil {
				stats["delayed"] = n
			}
			if n, err := a.Jobs.GetDeadSize(ctx); err == nil {
				stats["dead"] = n
			}
			return stats
		})
	}
}

func (a *App) buildRouter(sizes todo.PageSizes) (*gin.Engine, error) {
	if a.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	templates, err := web.Templates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.SetHTMLTemplate(templates)

	handlers.Routes{
		Web:          handlers.NewWebHandler(a.Registry, templates, a.logger),
		Auth:         handlers.NewAuthHandler(a.Auth, a.logger),
		Tasks:        handlers.NewTaskHandler(a.Store, sizes, a.logger),
		Verifier:     a.Auth,
		RateLimiter:  a.Limiter,
		AllowOrigins: a.Config.Server.AllowOrigins,
		CookieSecure: a.Config.Auth.CookieSecure || a.Config.IsProduction(),
		Logger:       a.logger,
	}.Register(router)

	return router, nil
}

// Start runs the background loops: idle workspace sweeps, rate limiter cleanup, the job
// worker and the token cleanup schedule.
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})

	cleanup := a.Config.Worker.CleanupInterval
	if cleanup <= 0 {
		cleanup = time.Hour
	}

	loops := []func(){
		func() { a.Registry.Run(ctx, time.Minute) },
	}
	if a.Limiter != nil {
		interval := a.Config.RateLimit.CleanupInterval
		if interval <= 0 {
			interval = 10 * time.Minute
		}
		loops = append(loops, func() { a.Limiter.Run(ctx, interval) })
	}
	if a.Worker != nil {
		a.Worker.Start(a.Config.Worker.Concurrency)
		loops = append(loops, func() { a.Jobs.Every(ctx, cleanup, worker.QueueMaintenance, worker.JobTypeCleanupTokens) })
	} else {
		loops = append(loops, func() { a.purgeTokens(ctx, cleanup) })
	}

	remaining := make(chan struct{}, len(loops))
	for _, loop := range loops {
		go func(run func()) {
			run()
			remaining <- struct{}{}
		}(loop)
	}
	go func() {
		for range loops {
			<-remaining
		}
		close(a.done)
	}()
}

func (a *App) purgeTokens(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := a.Auth.PurgeExpiredTokens(ctx); err != nil && ctx.Err() == nil {
			a.logger.Printf("[app] purging tokens: %v", err)
		} else if n > 0 {
			a.logger.Printf("[app] purged %d expired refresh tokens", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Server returns the HTTP server for the router. WriteTimeout is left at the configured
// value; a non-zero value cuts event streams.
func (a *App) Server() *http.Server {
	return &http.Server{
		Addr:         a.Config.GetServerAddr(),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Close stops background work and releases every resource. It is safe to call on a
// partially built App.
func (a *App) Close() error {
	a.closeOnce.Do(func() { a.closeErr = a.close() })
	return a.closeErr
}

func (a *App) close() error {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	if a.Worker != nil {
		a.Worker.Stop()
	}
	if a.Registry != nil {
		a.Registry.Close()
	}

	var errs []error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if a.ownsRDB && a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.Pool != nil {
		if err := a.Pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	monitoring.Reset()
	return errors.Join(errs...)
}
