package main

import (
	"context"
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
	"go.uber.org/zap"

	_ "github.com/shs-ims/registrar-api/api/swagger"
	"github.com/shs-ims/registrar-api/internal/handler"
	"github.com/shs-ims/registrar-api/internal/middleware"
	"github.com/shs-ims/registrar-api/internal/models"
	"github.com/shs-ims/registrar-api/internal/repository"
	"github.com/shs-ims/registrar-api/internal/service"
	"github.com/shs-ims/registrar-api/pkg/cache"
	"github.com/shs-ims/registrar-api/pkg/config"
	"github.com/shs-ims/registrar-api/pkg/database"
	"github.com/shs-ims/registrar-api/pkg/jobs"
	"github.com/shs-ims/registrar-api/pkg/logger"
	corsmiddleware "github.com/shs-ims/registrar-api/pkg/middleware/cors"
	reqidmiddleware "github.com/shs-ims/registrar-api/pkg/middleware/requestid"
)

// @title SHS Registrar API
// @version 1.0.0
// @description Enrollment, grading and progression for senior high school
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

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The API stays up without Redis; caches degrade to the database.
		logr.Sugar().Warnw("redis unavailable, running without cache", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()

	// Repositories.
	periodRepo := repository.NewPeriodRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	gradeRequestRepo := repository.NewGradeRequestRepository(db)
	progressionRepo := repository.NewProgressionRepository(db)
	sectionRepo := repository.NewSectionRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	classDetailRepo := repository.NewClassDetailRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	userRepo := repository.NewUserRepository(db)
	loadRepo := repository.NewFacultyLoadRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	notifySvc := service.NewNotificationService(service.NewLogSink(logr), jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	}, metricsSvc, logr)
	notifySvc.Start(ctx)
	defer notifySvc.Stop()

	loadSvc := service.NewFacultyLoadService(loadRepo, cacheRepo, cfg.Loads.CacheTTL, cfg.Loads.DefaultMaxLoads, jobs.QueueConfig{
		Workers: cfg.Loads.Workers,
		Logger:  logr,
	}, metricsSvc, logr)
	loadSvc.Start(ctx)
	defer loadSvc.Stop()

	periodSvc := service.NewPeriodService(periodRepo, cacheRepo, cfg.Periods.CacheTTL, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, sectionRepo, studentRepo, periodSvc, classDetailRepo, notifySvc, loadSvc, metricsSvc, validate, logr)
	gradeSvc := service.NewGradeService(gradeRepo, gradeRequestRepo, sectionRepo, periodSvc, notifySvc, metricsSvc, cfg.Grades.InputRequestTTL, validate, logr)
	progressionSvc := service.NewProgressionService(progressionRepo, enrollmentRepo, periodRepo, gradeRepo, notifySvc, metricsSvc, validate, logr)
	catalogSvc := service.NewCatalogService(sectionRepo, subjectRepo, logr)
	studentSvc := service.NewStudentService(studentRepo, logr)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
	})

	// Handlers.
	periodHandler := handler.NewPeriodHandler(periodSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	gradeHandler := handler.NewGradeHandler(gradeSvc)
	progressionHandler := handler.NewProgressionHandler(progressionSvc)
	loadHandler := handler.NewFacultyLoadHandler(loadSvc)
	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	authHandler := handler.NewAuthHandler(authSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

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
	r.GET("/metrics", metricsHandler.Scrape)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	authed.GET("/auth/me", authHandler.Me)

	periods := authed.Group("/periods")
	{
		periods.GET("", periodHandler.List)
		periods.GET("/active", periodHandler.GetActive)
		periods.GET("/:id", periodHandler.Get)

		admin := periods.Group("")
		admin.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar))
		admin.POST("", periodHandler.Create)
		admin.PUT("/:id", periodHandler.Update)
		admin.POST("/:id/activate", periodHandler.SetActive)
		admin.PUT("/:id/enrollment-window", periodHandler.SetEnrollmentWindow)
		admin.PUT("/:id/progression", periodHandler.SetProgression)
	}

	enrollments := authed.Group("/enrollments")
	{
		enrollments.GET("", enrollmentHandler.List)
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.POST("", middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar, models.RoleStudent), enrollmentHandler.Submit)

		coordinator := middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar, models.RoleCoordinator)
		enrollments.POST("/:id/evaluation", coordinator, enrollmentHandler.RecordEvaluation)
		enrollments.POST("/:id/return", coordinator, enrollmentHandler.ReturnForRevision)
		enrollments.POST("/:id/decision", coordinator, enrollmentHandler.Decide)
		enrollments.POST("/:id/finalize", middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar), enrollmentHandler.Finalize)

		registrar := middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar)
		enrollments.POST("/:id/progress-grade", registrar, progressionHandler.ProgressGrade)
		enrollments.POST("/:id/advance-semester", registrar, progressionHandler.AdvanceSemester)
		enrollments.GET("/:id/progressions", progressionHandler.History)
		enrollments.POST("/:id/summer", registrar, progressionHandler.CreateSummer)
		enrollments.GET("/:id/summer", progressionHandler.GetSummer)
		enrollments.GET("/:id/class-details", enrollmentHandler.ListClassDetails)
	}

	authed.POST("/class-details/:id/override", middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar, models.RoleCoordinator), enrollmentHandler.OverrideClassDetail)

	grades := authed.Group("/grades")
	{
		grades.GET("", gradeHandler.List)
		grades.GET("/input-requests", middleware.RequireRoles(models.RoleFaculty), gradeHandler.ListInputRequests)
		grades.POST("/input-requests", middleware.RequireRoles(models.RoleFaculty), gradeHandler.RequestInputWindow)
		grades.POST("/input-requests/:id/decision", middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar), gradeHandler.DecideInputRequest)
		grades.GET("/:id", gradeHandler.Get)
		grades.PUT("", middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar, models.RoleFaculty), gradeHandler.Upsert)
		grades.POST("/:id/submit", middleware.RequireRoles(models.RoleFaculty), gradeHandler.Submit)

		approver := middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar, models.RoleCoordinator)
		grades.POST("/:id/approve", approver, gradeHandler.Approve)
		grades.POST("/:id/reject", approver, gradeHandler.Reject)
		grades.POST("/:id/reopen", middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar), gradeHandler.Reopen)
	}

	authed.POST("/summer-classes/:id/results", middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar, models.RoleFaculty), progressionHandler.RecordSummerResult)

	loads := authed.Group("/faculty-loads")
	{
		loads.GET("/:periodId", loadHandler.ListByPeriod)
		loads.GET("/:periodId/:facultyId", loadHandler.Get)
		loads.POST("/:periodId/recompute", middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar), loadHandler.Recompute)
	}

	authed.GET("/sections", catalogHandler.ListSections)
	authed.GET("/sections/:id", catalogHandler.GetSection)
	authed.GET("/subjects", catalogHandler.ListSubjects)
	authed.GET("/subjects/:id", catalogHandler.GetSubject)

	students := authed.Group("/students")
	{
		students.GET("", studentHandler.List)
		students.GET("/:id", studentHandler.Get)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}
