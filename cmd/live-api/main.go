package main

import (
	"context"
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

	_ "github.com/noah-isme/talim-live-api/api/swagger"
	"github.com/noah-isme/talim-live-api/internal/handler"
	"github.com/noah-isme/talim-live-api/internal/middleware"
	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/repository"
	"github.com/noah-isme/talim-live-api/internal/service"
	"github.com/noah-isme/talim-live-api/internal/store"
	"github.com/noah-isme/talim-live-api/internal/ws"
	"github.com/noah-isme/talim-live-api/pkg/cache"
	"github.com/noah-isme/talim-live-api/pkg/config"
	"github.com/noah-isme/talim-live-api/pkg/database"
	"github.com/noah-isme/talim-live-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/talim-live-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/talim-live-api/pkg/middleware/requestid"
)

// @title Talim Live API
// @version 0.1.0
// @description Live teaching session coordination service
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.EnsureSchema(ctx, db); err != nil {
		logr.Sugar().Fatalw("failed to ensure schema", "error", err)
	}

	rdb, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Snapshot fanout degrades to in-process delivery without Redis.
		logr.Sugar().Warnw("redis unavailable, snapshots stay process-local", "error", err)
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	docs := store.NewPostgres(db, rdb, logr)
	defer docs.Close()

	validate := validator.New()

	userRepo := repository.NewUserRepository(docs)
	classRepo := repository.NewClassRepository(docs)
	courseRepo := repository.NewCourseRepository(docs)
	sessionRepo := repository.NewSessionRepository(docs)
	progressRepo := repository.NewProgressRepository(docs)
	drawingRepo := repository.NewDrawingRepository(docs)
	intentRepo := repository.NewIntentRepository(docs)

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "talim-live-api",
	})

	var provisioner service.MeetingProvisioner
	if cfg.Meeting.Enabled {
		calendar, err := service.NewCalendarProvisioner(cfg.Meeting, logr)
		if err != nil {
			logr.Sugar().Fatalw("failed to init meeting provisioner", "error", err)
		}
		provisioner = calendar
	}

	terminationSvc := service.NewTerminationService(sessionRepo, progressRepo, classRepo, intentRepo, logr)
	sessionSvc := service.NewSessionService(sessionRepo, classRepo, courseRepo, userRepo,
		provisioner, terminationSvc, metricsSvc, cfg.Sessions, validate, logr)
	classSvc := service.NewClassService(classRepo, courseRepo, logr)
	annotationSvc := service.NewAnnotationService(drawingRepo, sessionRepo, cfg.Sessions, validate, logr)
	annotationSvc.StartCompaction(ctx)
	defer annotationSvc.StopCompaction()
	annotationSvc.StartMaintenance(ctx, cfg.Sessions.CompactionInterval, classRepo)

	registry := ws.NewRegistry()
	syncSvc := service.NewSyncService(sessionRepo, registry, metricsSvc, logr)

	var exportSvc *service.ExportService
	if cfg.Reports.Enabled {
		exportSvc = service.NewExportService(progressRepo, classRepo, userRepo, cfg.Reports, logr)
	}

	// Replay terminations interrupted by a previous crash before serving.
	if err := terminationSvc.Recover(ctx); err != nil {
		logr.Sugar().Fatalw("failed to recover interrupted terminations", "error", err)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	authHandler := handler.NewAuthHandler(authSvc)
	classHandler := handler.NewClassHandler(classSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc)
	drawingHandler := handler.NewDrawingHandler(annotationSvc)
	syncHandler := handler.NewSyncHandler(sessionSvc, syncSvc, cfg.CORS.AllowedOrigins, cfg.Sessions.SnapshotBuffer, logr)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, syncSvc)

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))

	secured.GET("/classes", classHandler.List)
	secured.GET("/classes/:classId", classHandler.Get)
	secured.GET("/courses/:id", classHandler.Course)
	secured.GET("/classes/:classId/active-session", sessionHandler.Active)

	secured.POST("/sessions",
		middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin), sessionHandler.Start)
	secured.GET("/sessions/:id", sessionHandler.Get)
	secured.POST("/sessions/:id/join",
		middleware.RequireRoles(models.RoleStudent), sessionHandler.Join)
	secured.PUT("/sessions/:id/page",
		middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin), sessionHandler.UpdateClassProgress)
	secured.PUT("/sessions/:id/progress",
		middleware.RequireRoles(models.RoleStudent), sessionHandler.UpdateProgress)
	secured.POST("/sessions/:id/end",
		middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin), sessionHandler.End)
	secured.GET("/sessions/:id/watch", syncHandler.Watch)

	secured.POST("/drawings", drawingHandler.Save)
	secured.GET("/drawings/latest", drawingHandler.Latest)
	secured.GET("/drawings/history", drawingHandler.History)

	if exportSvc != nil {
		exportHandler := handler.NewExportHandler(exportSvc)
		secured.GET("/classes/:classId/students/:studentId/report", exportHandler.StudentReport)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
