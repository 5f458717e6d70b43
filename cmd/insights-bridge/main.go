package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/course-insights-bridge/api/swagger"
	"github.com/noah-isme/course-insights-bridge/internal/client/insights"
	"github.com/noah-isme/course-insights-bridge/internal/handler"
	"github.com/noah-isme/course-insights-bridge/internal/middleware"
	"github.com/noah-isme/course-insights-bridge/internal/models"
	"github.com/noah-isme/course-insights-bridge/internal/repository"
	"github.com/noah-isme/course-insights-bridge/internal/service"
	"github.com/noah-isme/course-insights-bridge/pkg/cache"
	"github.com/noah-isme/course-insights-bridge/pkg/config"
	"github.com/noah-isme/course-insights-bridge/pkg/database"
	"github.com/noah-isme/course-insights-bridge/pkg/jobs"
	"github.com/noah-isme/course-insights-bridge/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-insights-bridge/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-insights-bridge/pkg/middleware/requestid"
)

// @title Course Insights Bridge
// @version 1.0.0
// @description Builds anonymized course analytics reports and delivers them to the AI insights service.
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("insights bridge stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	var cacheRepo service.CacheRepository
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, insights cache disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		cacheRepo = repository.NewCacheRepository(redisClient, "insights-bridge")
	}

	metrics := service.NewMetricsService()

	reportRepo := repository.NewReportRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	courseData := repository.NewCourseDataRepository(db)

	salts := service.NewSaltProvider(settingsRepo, cfg.Anonymizer.SaltSettingKey, logr)
	anonymizer := service.NewAnonymizer(salts)
	calculator := service.NewMetricsCalculator(courseData, service.MetricsCalculatorConfig{SessionGap: cfg.Reports.SessionGap}, logr)

	insightsClient, err := insights.New(insights.Options{
		BaseURL: cfg.Delivery.BaseURL,
		APIKey:  cfg.Delivery.APIKey,
		Timeout: cfg.Delivery.Timeout,
	})
	if err != nil {
		return fmt.Errorf("init insights client: %w", err)
	}

	delivery := service.NewDeliveryService(insightsClient, reportRepo, metrics, service.DeliveryConfig{
		MaxAttempts: cfg.Delivery.MaxAttempts,
		Backoff:     service.ExponentialBackoff{Base: cfg.Delivery.BackoffBase},
	}, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Reports.InsightsCacheTTL, logr, cacheRepo != nil)
	insightsSvc := service.NewInsightsService(cacheSvc, insightsClient, reportRepo, cfg.Reports.InsightsCacheTTL, logr)

	builder := service.NewReportBuilder(courseData, reportRepo, anonymizer, calculator, delivery, insightsSvc, metrics, service.ReportBuilderConfig{
		BatchSize:      cfg.Reports.BatchSize,
		BatchPause:     cfg.Reports.BatchPause,
		TimelineWindow: cfg.Reports.TimelineWindow,
		PluginVersion:  cfg.Reports.PluginVersion,
	}, logr)

	scheduler := service.NewSchedulerService(builder, validator.New(), logr)
	reports := service.NewReportService(reportRepo, logr)

	reports.FailInterrupted(ctx)

	queue := jobs.NewQueue("reports", scheduler.HandleTask, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		Logger:     logr,
	})
	scheduler.AttachQueue(queue)

	checks := map[string]handler.ReadinessCheck{"database": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	router := newRouter(cfg, logr, routerDeps{
		verifier: service.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer),
		metrics:  metrics,
		reports:  handler.NewReportHandler(scheduler, reports),
		insights: handler.NewInsightsHandler(insightsSvc, reports),
		admin:    handler.NewAdminHandler(anonymizer),
		health:   handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		queue.Start(gctx)
		<-gctx.Done()
		queue.Stop()
		return nil
	})
	g.Go(func() error {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logr.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type routerDeps struct {
	verifier *service.TokenVerifier
	metrics  *service.MetricsService
	reports  *handler.ReportHandler
	insights *handler.InsightsHandler
	admin    *handler.AdminHandler
	health   *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", deps.health.Health)
	r.GET("/ready", deps.health.Ready)
	r.GET("/metrics", deps.health.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix, middleware.JWT(deps.verifier), middleware.WithResponseMeta())

	courses := api.Group("/courses/:courseId")
	courses.POST("/reports", deps.reports.Enqueue)
	courses.POST("/reports/run", deps.reports.RunNow)
	courses.GET("/reports", deps.reports.ListByCourse)
	courses.GET("/insights", deps.insights.Latest)

	api.GET("/reports", middleware.RequireRoles(models.RoleAdmin, models.RoleScheduler), deps.reports.ListByStatus)
	api.GET("/reports/:id", deps.reports.Get)
	api.GET("/reports/:id/insights", deps.insights.Poll)

	admin := api.Group("/admin", middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/salt/rotate", middleware.Audit(logr, "salt.rotate"), deps.admin.RotateSalt)
	admin.GET("/stats", deps.health.Stats)

	return r
}
