// Package bootstrap wires config, stores, services and the HTTP app.
package bootstrap

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	httpadapter "github.com/loopxjstar/Get-Gmails/adapter/in/http"
	"github.com/loopxjstar/Get-Gmails/adapter/out/provider/gmail"
	"github.com/loopxjstar/Get-Gmails/config"
	"github.com/loopxjstar/Get-Gmails/core/domain"
	"github.com/loopxjstar/Get-Gmails/core/port/out"
	"github.com/loopxjstar/Get-Gmails/core/service/auth"
	"github.com/loopxjstar/Get-Gmails/core/service/export"
	"github.com/loopxjstar/Get-Gmails/infra/middleware"
	"github.com/loopxjstar/Get-Gmails/internal/worker"
	"github.com/loopxjstar/Get-Gmails/pkg/logger"
)

const storeSweepInterval = time.Hour

// NewAPI assembles the export service. The returned cleanup stops the
// worker pool, the registry janitor and any store connections.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "mailcsv",
	})

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Session store: redis when configured, in-memory TTL store otherwise.
	var (
		sessions    out.SessionStore
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Error("invalid REDIS_URL")
			return nil, nil, err
		}
		redisClient = redis.NewClient(opts)
		cleanups = append(cleanups, func() { _ = redisClient.Close() })
		sessions = auth.NewRedisSessionStore(redisClient)
		logger.Info("using redis session store")
	} else {
		mem := auth.NewMemorySessionStore(storeSweepInterval)
		cleanups = append(cleanups, mem.Close)
		sessions = mem
		logger.Info("using in-memory session store")
	}

	authService := auth.NewOAuthService(
		cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL,
		sessions, cfg.SessionTTL)
	if !authService.Configured() {
		logger.Warn("Google OAuth credentials not set, sign-in will fail")
	}

	registry := export.NewRegistry(cfg.JobTTL, storeSweepInterval)
	cleanups = append(cleanups, registry.Close)

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	poolCfg := worker.DefaultPoolConfig()
	poolCfg.MaxWorkers = cfg.WorkerMax
	poolCfg.WorkerChanSize = cfg.WorkerQueueSize
	jobPool := worker.NewPool(poolCfg, zlog)
	if err := jobPool.Start(); err != nil {
		cleanup()
		return nil, nil, err
	}
	cleanups = append(cleanups, jobPool.Stop)

	windowStart := domain.MonthKey{Month: cfg.WindowStartMonth, Year: cfg.WindowStartYear}
	windowEnd := domain.MonthKey{Month: cfg.WindowEndMonth, Year: cfg.WindowEndYear}
	exportCfg := export.Config{
		WindowStart:      windowStart,
		WindowEnd:        windowEnd,
		ExcludedDomain:   cfg.ExcludedRecipientDomain,
		PageSize:         cfg.ListPageSize,
		PageDelay:        cfg.ListPageDelay,
		ListRetryBase:    cfg.ListRetryBase,
		ListRetryMax:     cfg.ListRetryMax,
		MessageDelay:     cfg.MessageDelay,
		MessageRetryWait: cfg.MessageRetryWait,
	}

	// The factory refreshes the session credential before every job so a
	// dead refresh token fails the job up front.
	factory := func(ctx context.Context, sessionID string) (out.MailProvider, error) {
		if _, err := authService.FreshToken(ctx, sessionID); err != nil {
			return nil, err
		}
		return gmail.NewProvider(ctx, authService.TokenSource(ctx, sessionID))
	}

	orchestrator := export.NewOrchestrator(registry, factory, jobPool, exportCfg, logger.Default())

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             1 * 1024 * 1024,
		ServerHeader:          "",
		DisableDefaultDate:    true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:8080"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,Content-Disposition",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	httpadapter.NewHealthHandler(redisClient, jobPool).Register(app)
	httpadapter.NewPagesHandler(authService, windowStart, windowEnd).Register(app)
	httpadapter.NewAuthHandler(authService, cfg.IsProduction(), cfg.SessionTTL).Register(app)
	httpadapter.NewExportHandler(authService, orchestrator, registry).Register(app)

	logger.Info("API server initialized successfully")
	return app, cleanup, nil
}
