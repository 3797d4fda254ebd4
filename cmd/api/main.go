package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"skin-api/internal/audit"
	"skin-api/internal/cache"
	"skin-api/internal/config"
	"skin-api/internal/handlers/analysis"
	"skin-api/internal/middleware"
	"skin-api/internal/pipeline"
	"skin-api/internal/prompt"
	"skin-api/internal/reasoning"
	"skin-api/internal/records"
	"skin-api/internal/routers"
	"skin-api/internal/shared"
	"skin-api/internal/storage"
	"skin-api/internal/vision"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	var logger *zap.Logger
	if !cfg.Server.Debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if cfg.Server.Debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()
	defer func() {
		_ = log.Sync()
	}()

	// Analysis records are optional, without a DSN nothing is persisted
	var db *sql.DB
	if cfg.DSN != "" {
		db, err = sql.Open("mysql", cfg.DSN)
		if err != nil {
			panic(fmt.Sprintf("failed initializing sqlClient: %s", err))
		}
		err = db.Ping()
		if err != nil {
			panic(fmt.Sprintf("failed ping to sql db: %s", err))
		}
	}

	// Redis backs the record cache and the rate limiter
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: "",
			DB:       0,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			panic(fmt.Sprintf("failed ping to redis db: %s", err))
		}
	}

	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		if db != nil {
			_ = db.Close()
		}
	}()

	store, err := storage.NewGateway(&cfg.ObjectStore, log)
	if err != nil {
		panic(err)
	}
	detector, err := vision.NewAliyunDetector(&cfg.Vision)
	if err != nil {
		panic(err)
	}
	analyzer, err := vision.NewGateway(detector, cfg.Vision.Timeout, log)
	if err != nil {
		panic(err)
	}
	tmpl, err := prompt.Load(cfg.Server.PromptPath)
	if err != nil {
		panic(err)
	}
	orchestrator, err := pipeline.New(store, analyzer, reasoning.NewClient(&cfg.Reasoning, log), tmpl, cfg.Reasoning.Model, log)
	if err != nil {
		panic(err)
	}
	auditDir, err := audit.NewDir(cfg.Server.AuditDir)
	if err != nil {
		panic(err)
	}

	var analysisCache *cache.AnalysisCache
	if redisClient != nil {
		analysisCache = cache.NewAnalysisCache(redisClient, log)
	}
	recorder := records.NewRecorder(db, analysisCache, log)
	defer recorder.Shutdown()

	handler, err := analysis.NewAnalysisHandler(orchestrator, auditDir, recorder, log)
	if err != nil {
		panic(err)
	}

	e := echo.New()
	e.HideBanner = true
	e.GET(("/ping"), func(c echo.Context) error {
		return c.String(200, "")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), middleware.RequireAPIKey(cfg.Server.MetricsAPIKey))
	e.Static("/user_TempImage", auditDir.Path())

	e.Use(emw.CORS())
	e.Use(middleware.NewRecoverMiddleware(log))
	e.Use(middleware.NewTrackMiddleware(log))
	e.Use(emw.BodyLimit(fmt.Sprintf("%dM", (shared.MaxUploadSize>>20)+1)))

	routers.RegisterAnalysisRoutes(e, handler,
		middleware.NewRateLimitMiddleware(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow, log))

	log.Infow("Starting skin analysis api", "addr", cfg.Server.Addr, "bucket", cfg.ObjectStore.Bucket, "model", cfg.Reasoning.Model)
	go func() {
		if err := e.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
}
