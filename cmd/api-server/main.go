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

	_ "github.com/clinfhir/extractor-api/api/swagger"
	"github.com/clinfhir/extractor-api/internal/extractor"
	"github.com/clinfhir/extractor-api/internal/handler"
	"github.com/clinfhir/extractor-api/internal/middleware"
	"github.com/clinfhir/extractor-api/internal/models"
	"github.com/clinfhir/extractor-api/internal/ratelimit"
	"github.com/clinfhir/extractor-api/internal/repository"
	"github.com/clinfhir/extractor-api/internal/service"
	"github.com/clinfhir/extractor-api/pkg/cache"
	"github.com/clinfhir/extractor-api/pkg/config"
	"github.com/clinfhir/extractor-api/pkg/database"
	"github.com/clinfhir/extractor-api/pkg/logger"
	corsmiddleware "github.com/clinfhir/extractor-api/pkg/middleware/cors"
	reqidmiddleware "github.com/clinfhir/extractor-api/pkg/middleware/requestid"
	"github.com/clinfhir/extractor-api/pkg/storage"
)

// @title ClinFHIR Extractor API
// @version 1.0.0
// @description Clinical document to FHIR extraction service with token and API key authentication
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect redis", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	docStore, err := storage.NewDocumentStore(cfg.Documents.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init document storage", "error", err)
	}

	userRepo := repository.NewUserRepository(db)
	apiKeyRepo := repository.NewAPIKeyRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	validate := validator.New()
	metrics := service.NewMetricsService()

	auditSvc := service.NewAuditService(auditRepo, logr, metrics, service.AuditQueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
		RetryDelay: cfg.Audit.RetryDelay,
	})
	auditSvc.Start(context.Background())
	defer auditSvc.Stop()

	var denylist service.TokenDenylist = service.NoopDenylist{}
	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	if redisClient != nil {
		denylist = service.NewRedisTokenDenylist(redisClient)
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}

	authSvc := service.NewAuthService(userRepo, auditSvc, denylist, validate, logr, metrics, service.AuthConfig{
		Secret:        cfg.JWT.Secret,
		Issuer:        cfg.JWT.Issuer,
		AccessExpiry:  cfg.JWT.AccessExpiry,
		RefreshExpiry: cfg.JWT.RefreshExpiry,
	})
	apiKeySvc := service.NewAPIKeyService(apiKeyRepo, userRepo, auditSvc, validate, logr, service.APIKeyConfig{
		Prefix:     cfg.APIKeys.Prefix,
		SecretLen:  cfg.APIKeys.SecretLen,
		MaxTTLDays: cfg.APIKeys.MaxTTLDays,
	})
	userSvc := service.NewUserService(userRepo, auditSvc, logr)
	extractionSvc := service.NewExtractionService(
		extractor.NewHTTPClient(cfg.Extractor.BaseURL, cfg.Extractor.Timeout),
		docStore,
		auditSvc,
		logr,
		metrics,
		service.ExtractionConfig{
			MaxFileSizeBytes: cfg.Documents.MaxFileSizeBytes,
			AllowedMIMEs:     cfg.Documents.AllowedMIMEs,
		},
	)

	authHandler := handler.NewAuthHandler(authSvc)
	apiKeyHandler := handler.NewAPIKeyHandler(apiKeySvc)
	adminHandler := handler.NewAdminHandler(userSvc, auditSvc)
	extractionHandler := handler.NewExtractionHandler(extractionSvc)
	metricsHandler := handler.NewMetricsHandler(metrics, db)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	requireAuth := middleware.Auth(authSvc, apiKeySvc)
	var rateLimited gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		rateLimited = middleware.RateLimit(limiter, metrics, logr)
	} else {
		rateLimited = func(c *gin.Context) { c.Next() }
	}

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", rateLimited, authHandler.Register)
			auth.POST("/login", rateLimited, authHandler.Login)
			auth.POST("/refresh", rateLimited, authHandler.Refresh)

			auth.GET("/me", requireAuth, rateLimited, authHandler.Me)
			auth.PUT("/me", requireAuth, rateLimited, authHandler.UpdateMe)

			auth.POST("/api-keys", requireAuth, rateLimited, apiKeyHandler.Create)
			auth.GET("/api-keys", requireAuth, rateLimited, apiKeyHandler.List)
			auth.DELETE("/api-keys/:id", requireAuth, rateLimited, apiKeyHandler.Delete)

			admin := auth.Group("", requireAuth, middleware.RequireRole(models.RoleAdmin), rateLimited)
			{
				admin.GET("/users", adminHandler.ListUsers)
				admin.GET("/audit-logs", adminHandler.ListAuditLogs)
				admin.GET("/audit-logs/export", adminHandler.ExportAuditLogs)
			}
		}

		api.POST("/extract-fhir", requireAuth, rateLimited, extractionHandler.Extract)
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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}
