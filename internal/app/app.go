package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/MrSnakeDoc/marks/internal/auth"
	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/backend/postgres"
	"github.com/MrSnakeDoc/marks/internal/backend/redis"
	"github.com/MrSnakeDoc/marks/internal/config"
	"github.com/MrSnakeDoc/marks/internal/dashboard"
	"github.com/MrSnakeDoc/marks/internal/httpserver"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/scheduler"
	"github.com/MrSnakeDoc/marks/internal/utils"
	"github.com/MrSnakeDoc/marks/internal/version"
)

type App struct {
	cfg     *config.Config
	logger  logger.Logger
	server  *httpserver.Server
	backend backend.Backend
	sweeper *scheduler.SessionSweeper
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	// Connect the backend early - fail fast if unavailable
	b, err := OpenBackend(context.Background(), cfg, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to open %s backend: %v", cfg.Backend, err)
		os.Exit(1)
	}
	loggerClient.Info("backend initialized successfully", logger.String("backend", b.Name()))

	reconciliation, err := dashboard.ParseReconciliation(cfg.Reconciliation)
	if err != nil {
		loggerClient.Errorf("Invalid reconciliation mode: %v", err)
		os.Exit(1)
	}

	issuer := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.SessionTTL, b)
	sweeper := scheduler.NewSessionSweeper(b, loggerClient, cfg.SessionGCInterval)

	d := deps.Deps{
		Logger:         loggerClient,
		StartTime:      time.Now(),
		Version:        version.Version,
		Commit:         version.Commit,
		BuildDate:      version.BuildDate,
		GoVersion:      version.GoVersion,
		TimeNow:        time.Now,
		AllowedHosts:   cfg.AllowedHosts,
		AllowedCIDRS:   cfg.AllowedCIDRS,
		TrustProxy:     cfg.TrustProxy,
		Backend:        b,
		Issuer:         issuer,
		PublicEntry:    cfg.PublicEntry,
		Reconciliation: reconciliation,
		RateBurst:      cfg.RateBurst,
		RateRefill:     cfg.RateRefillPerMin,
		WSPingInterval: cfg.WSPingInterval,
		WSWriteTimeout: cfg.WSWriteTimeout,
		WSMaxInFlight:  cfg.WSMaxInFlight,
		Views:          &atomic.Int64{},
	}

	return &App{
		cfg:     cfg,
		logger:  loggerClient,
		server:  httpserver.New(cfg.ListenPort, d),
		backend: b,
		sweeper: sweeper,
	}
}

// OpenBackend connects the driver selected by cfg.Backend.
func OpenBackend(ctx context.Context, cfg *config.Config, log logger.Logger) (backend.Backend, error) {
	switch cfg.Backend {
	case "redis":
		client, err := redis.Connect(ctx, redis.ConnectOptions{
			Addr:         cfg.RedisAddr,
			User:         cfg.RedisUser,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  cfg.RedisDT,
			ReadTimeout:  cfg.RedisRT,
			WriteTimeout: cfg.RedisWT,
			PoolSize:     cfg.RedisPoolSize,
			Retry:        cfg.Retry(),
		}, log)
		if err != nil {
			return nil, err
		}
		return redis.New(client, log), nil

	case "postgres":
		drv, err := postgres.Open(ctx, postgres.Options{
			DSN:           cfg.PostgresDSN,
			MaxConns:      int32(cfg.PostgresMaxConns),
			RetryInterval: cfg.RetryInterval,
			Connect:       cfg.Retry(),
		}, log)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := drv.Migrate(ctx); err != nil {
				_ = drv.Close()
				return nil, err
			}
		}
		return drv, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting Marks v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Info(version.String("marks"),
		logger.String("backend", a.backend.Name()),
		logger.String("reconciliation", a.cfg.Reconciliation))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start session sweeper
	if err := a.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session sweeper: %w", err)
	}
	a.logger.Info("session sweeper started",
		logger.Duration("interval", a.cfg.SessionGCInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		a.sweeper.Stop()
		utils.CloseLogged(a.backend, a.backend.Name(), a.logger)
		return err
	}

	a.sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	utils.CloseLogged(a.backend, a.backend.Name(), a.logger)

	a.logger.Info("✅ Marks stopped cleanly")
	return nil
}
