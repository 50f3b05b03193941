package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/electivas-ubb/electivas-api/api/swagger"
	"github.com/electivas-ubb/electivas-api/internal/handler"
	"github.com/electivas-ubb/electivas-api/internal/middleware"
	"github.com/electivas-ubb/electivas-api/internal/models"
	"github.com/electivas-ubb/electivas-api/internal/repository"
	"github.com/electivas-ubb/electivas-api/internal/service"
	"github.com/electivas-ubb/electivas-api/pkg/cache"
	"github.com/electivas-ubb/electivas-api/pkg/config"
	"github.com/electivas-ubb/electivas-api/pkg/database"
	"github.com/electivas-ubb/electivas-api/pkg/logger"
	corsmiddleware "github.com/electivas-ubb/electivas-api/pkg/middleware/cors"
	reqidmiddleware "github.com/electivas-ubb/electivas-api/pkg/middleware/requestid"
	"github.com/electivas-ubb/electivas-api/pkg/notify"
	"github.com/electivas-ubb/electivas-api/pkg/storage"
)

// @title Electivas API
// @version 1.0.0
// @description Course elective enrollment portal for the engineering faculty
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, continuing without cache", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	var broadcaster *notify.Broadcaster
	if cfg.Notifications.Enabled && redisClient != nil {
		broadcaster = notify.NewRedisBroadcaster(redisClient, cfg.Notifications.Channel, cfg.Notifications.Workers, logr)
		broadcaster.Start(ctx)
		defer broadcaster.Stop()
	}
	var events interface {
		Notify(event string, payload interface{})
	}
	events = notify.Nop{}
	if broadcaster != nil {
		events = broadcaster
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	electiveRepo := repository.NewElectiveRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	periodRepo := repository.NewPeriodRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	authSvc := service.NewAuthService(service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	}, logr)
	periodSvc := service.NewPeriodService(periodRepo, redisClient, cfg.Periods.CacheTTL, metrics, validate, logr)
	electiveSvc := service.NewElectiveService(electiveRepo, enrollmentRepo, periodSvc, events, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, electiveRepo, requestRepo, periodSvc, events, metrics, validate, logr)
	requestSvc := service.NewRequestService(requestRepo, enrollmentRepo, electiveRepo, periodSvc, events, metrics, validate, logr)

	signSecret := cfg.Exports.SignSecret
	if signSecret == "" {
		signSecret = cfg.JWT.Secret
	}
	urlSigner := storage.NewSignedURLSigner(signSecret, cfg.Exports.URLTTL)
	exportStore, err := storage.NewLocalStorage(cfg.Exports.Dir)
	if err != nil {
		logr.Sugar().Warnw("export archive unavailable, downloads disabled", "error", err)
		exportStore = nil
	}
	var rosterSvc *service.RosterService
	if exportStore != nil {
		rosterSvc = service.NewRosterService(enrollmentRepo, electiveRepo, nil, nil, exportStore, urlSigner, logr)
	} else {
		rosterSvc = service.NewRosterService(enrollmentRepo, electiveRepo, nil, nil, nil, nil, logr)
	}

	electiveHandler := handler.NewElectiveHandler(electiveSvc, rosterSvc)
	exportHandler := handler.NewExportHandler(exportStore, urlSigner)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	requestHandler := handler.NewRequestHandler(requestSvc)
	periodHandler := handler.NewPeriodHandler(periodSvc)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	// The signed token is the credential, so downloads stay outside the JWT group.
	r.GET("/exports/:token", exportHandler.Download)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(authSvc))

	periods := api.Group("/periods")
	{
		periods.GET("", periodHandler.List)
		periods.GET("/active", periodHandler.Active)
		periods.GET("/:id", periodHandler.Get)

		adminOnly := middleware.RequireRoles(models.RoleAdmin)
		periodAudit := middleware.Audit(auditRepo, models.AuditActionPeriodWrite, "periods")
		periods.POST("", adminOnly, periodAudit, periodHandler.Create)
		periods.PUT("/:id", adminOnly, periodAudit, periodHandler.Update)
		periods.DELETE("/:id", adminOnly, periodAudit, periodHandler.Delete)
	}

	electives := api.Group("/electives")
	{
		electives.GET("", electiveHandler.List)
		electives.GET("/:id", electiveHandler.Get)
		electives.POST("",
			middleware.RequireRoles(models.RoleTeacher),
			middleware.Audit(auditRepo, models.AuditActionElectiveCreate, "electives"),
			electiveHandler.Create)
		electives.PUT("/:id",
			middleware.RequireRoles(models.RoleTeacher),
			middleware.Audit(auditRepo, models.AuditActionElectiveUpdate, "electives"),
			electiveHandler.Update)
		electives.PATCH("/:id/status",
			middleware.RequireRoles(models.RoleProgramHead, models.RoleAdmin),
			middleware.Audit(auditRepo, models.AuditActionElectiveStatus, "electives"),
			electiveHandler.SetStatus)
		electives.DELETE("/:id",
			middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin),
			middleware.Audit(auditRepo, models.AuditActionElectiveDelete, "electives"),
			electiveHandler.Delete)
		electives.GET("/:id/enrollments/export",
			middleware.RequireRoles(models.RoleTeacher, models.RoleProgramHead, models.RoleAdmin),
			electiveHandler.ExportRoster)
	}

	enrollments := api.Group("/enrollments")
	{
		enrollments.GET("", enrollmentHandler.List)
		enrollments.POST("",
			middleware.RequireRoles(models.RoleStudent),
			middleware.Audit(auditRepo, models.AuditActionEnrollmentCreate, "enrollments"),
			enrollmentHandler.Create)
		enrollments.PATCH("/:id/review",
			middleware.RequireRoles(models.RoleTeacher, models.RoleProgramHead, models.RoleAdmin),
			middleware.Audit(auditRepo, models.AuditActionEnrollmentReview, "enrollments"),
			enrollmentHandler.Review)
		enrollments.DELETE("/:id",
			middleware.RequireRoles(models.RoleStudent),
			middleware.Audit(auditRepo, models.AuditActionEnrollmentDelete, "enrollments"),
			enrollmentHandler.Delete)
	}

	requests := api.Group("/requests")
	{
		requests.GET("", requestHandler.List)
		requests.POST("",
			middleware.RequireRoles(models.RoleStudent),
			middleware.Audit(auditRepo, models.AuditActionRequestCreate, "requests"),
			requestHandler.Create)
		requests.PATCH("/:id/review",
			middleware.RequireRoles(models.RoleProgramHead, models.RoleAdmin),
			middleware.Audit(auditRepo, models.AuditActionRequestReview, "requests"),
			requestHandler.Review)
		requests.DELETE("/:id",
			middleware.RequireRoles(models.RoleAdmin),
			requestHandler.Delete)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
