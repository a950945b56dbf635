package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/course-reg-api/api/swagger"
	"github.com/noah-isme/course-reg-api/internal/handler"
	"github.com/noah-isme/course-reg-api/internal/middleware"
	"github.com/noah-isme/course-reg-api/internal/repository"
	"github.com/noah-isme/course-reg-api/internal/service"
	"github.com/noah-isme/course-reg-api/pkg/cache"
	"github.com/noah-isme/course-reg-api/pkg/config"
	"github.com/noah-isme/course-reg-api/pkg/database"
	"github.com/noah-isme/course-reg-api/pkg/jobs"
	"github.com/noah-isme/course-reg-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-reg-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-reg-api/pkg/middleware/requestid"
	"github.com/noah-isme/course-reg-api/pkg/storage"
)

// @title Course Registration API
// @version 0.1.0
// @description Concurrent course enrollment and waitlist engine
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
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, reporting cache disabled", zap.Error(err))
		redisClient = nil
	}

	validate := validator.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Repositories.
	studentRepo := repository.NewStudentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	waitlistRepo := repository.NewWaitlistRepository(db)
	prereqRepo := repository.NewPrerequisiteRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	reportRepo := repository.NewReportRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	// Services.
	metricsSvc := service.NewMetricsService()
	enrollmentSvc := service.NewEnrollmentService(
		db, enrollmentRepo, courseRepo, waitlistRepo, prereqRepo, historyRepo,
		studentRepo, cacheRepo, metricsSvc, validate, logr,
		service.EngineConfig{MaxRetries: cfg.Engine.MaxRetries, RetryBackoff: cfg.Engine.RetryBackoff},
	)
	studentSvc := service.NewStudentService(studentRepo, enrollmentSvc, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, enrollmentRepo, enrollmentSvc, db, validate, logr)
	prereqSvc := service.NewPrerequisiteService(db, prereqRepo, courseRepo, validate, logr)
	reportSvc := service.NewReportService(reportRepo, cacheRepo, metricsSvc, cfg.Reports.CacheTTL, logr)
	historySvc := service.NewHistoryService(historyRepo, logr)

	// Handlers.
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	courseHandler := handler.NewCourseHandler(courseSvc, prereqSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	historyHandler := handler.NewHistoryHandler(historySvc)

	var exportHandler *handler.ExportHandler
	if cfg.Exports.Enabled {
		localStorage, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Fatal("failed to init export storage", zap.Error(err))
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc := service.NewExportService(
			enrollmentRepo, waitlistRepo, courseRepo, localStorage, signer,
			service.ExportConfig{
				APIPrefix:       cfg.APIPrefix,
				ResultTTL:       cfg.Exports.SignedURLTTL,
				CleanupInterval: cfg.Exports.CleanupInterval,
				MaxRetries:      cfg.Exports.WorkerRetries,
			},
			logr,
		)
		queue := jobs.NewQueue("exports", exportSvc.Handle, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		exportSvc.SetQueue(queue)
		queue.Start(ctx)
		defer queue.Stop()
		exportSvc.StartCleanup(ctx)
		exportHandler = handler.NewExportHandler(exportSvc)
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

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())
	{
		api.GET("/students", studentHandler.List)
		api.POST("/students", studentHandler.Create)
		api.GET("/students/:id", studentHandler.Get)
		api.PUT("/students/:id", studentHandler.Update)
		api.DELETE("/students/:id", studentHandler.Delete)
		api.GET("/students/:id/schedule", reportHandler.StudentSchedule)

		api.GET("/courses", courseHandler.List)
		api.POST("/courses", courseHandler.Create)
		api.GET("/courses/:id", courseHandler.Get)
		api.PUT("/courses/:id", courseHandler.Update)
		api.DELETE("/courses/:id", courseHandler.Delete)
		api.GET("/courses/:id/availability", reportHandler.CourseAvailability)
		api.GET("/courses/:id/prerequisites", courseHandler.ListPrerequisites)
		api.POST("/courses/:id/prerequisites", courseHandler.AddPrerequisite)
		api.DELETE("/courses/:id/prerequisites/:prereqId", courseHandler.RemovePrerequisite)
		api.GET("/courses/:id/waitlist/:studentId", reportHandler.WaitlistStatus)
		api.DELETE("/courses/:id/waitlist/:studentId", enrollmentHandler.LeaveWaitlist)

		api.GET("/enrollments", enrollmentHandler.List)
		api.POST("/enrollments", enrollmentHandler.Enroll)
		api.POST("/enrollments/batch", enrollmentHandler.BatchEnroll)
		api.POST("/enrollments/drop", enrollmentHandler.Drop)
		api.POST("/enrollments/complete", enrollmentHandler.Complete)

		api.GET("/reports/availability", reportHandler.ListAvailability)
		api.GET("/history", historyHandler.List)

		if exportHandler != nil {
			api.POST("/exports", exportHandler.Create)
			api.GET("/exports/:id", exportHandler.Status)
			api.GET("/exports/download/:token", exportHandler.Download)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Env))
	if err := r.Run(addr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}
