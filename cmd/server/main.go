package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"celeste/internal/config"
	"celeste/internal/handlers"
	"celeste/internal/middleware"
	"celeste/internal/models"
	"celeste/internal/repositories/mongodb"
	"celeste/internal/services"
	"celeste/internal/utils"
	"celeste/pkg/cache"
	"celeste/pkg/database"
	"celeste/pkg/fraud"
	"celeste/pkg/logger"
	"celeste/pkg/push"
	"celeste/routes"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&logger.Config{
		Level:  logger.LogLevel(cfg.App.LogLevel),
		Format: cfg.App.LogFormat,
		Output: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	db, err := database.NewMongoDB(&database.DatabaseConfig{
		URI:            cfg.Database.URI,
		Database:       cfg.Database.Database,
		MaxPoolSize:    cfg.Database.MaxPoolSize,
		MinPoolSize:    cfg.Database.MinPoolSize,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		SocketTimeout:  cfg.Database.SocketTimeout,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer db.Close()

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureIndexes(indexCtx); err != nil {
		cancelIndexes()
		log.WithError(err).Fatal("Failed to ensure indexes")
	}
	cancelIndexes()

	redisCache, err := cache.NewRedisCache(&cache.RedisConfig{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		// The engine degrades to store-only reads without Redis.
		log.WithError(err).Warn("Redis unavailable, running without cache")
		redisCache = nil
	} else {
		defer redisCache.Close()
	}

	var repoCache mongodb.CacheService
	var svcCache services.CacheBackend
	if redisCache != nil {
		repoCache = redisCache
		svcCache = redisCache
	}

	// Repositories
	userRepo := mongodb.NewUserRepository(db.Database, repoCache)
	referralRepo := mongodb.NewReferralRepository(db.Database)
	codeRepo := mongodb.NewCodeRepository(db.Database)
	rewardRepo := mongodb.NewRewardRepository(db.Database)
	auditRepo := mongodb.NewAuditRepository(db.Database)

	// Push provider
	var provider push.Provider
	if cfg.Push.Enabled {
		fcm, err := push.NewFCMProvider(cfg.Push.FCM.Credentials)
		if err != nil {
			log.WithError(err).Warn("FCM unavailable, notifications disabled")
		} else {
			provider = fcm
		}
	}

	// Services
	referralCache := services.NewReferralCacheService(
		svcCache, log,
		cfg.Referral.StatsCacheTTL,
		cfg.Referral.LeaderboardCacheTTL,
		cfg.Referral.CodeValidationCacheTTL,
	)
	notifier := services.NewNotificationService(provider, log, utils.NotificationQueueSize, utils.NotificationTimeout)
	defer notifier.Close()

	rateLimiter := services.NewRateLimitService(cfg.Referral.RateLimitWindow, cfg.Referral.RateLimitMaxAttempts, log)
	codeService := services.NewCodeService(codeRepo, userRepo, referralCache, log, cfg.Referral.CodePrefix)
	rewardService := services.NewRewardService(userRepo, rewardRepo, log, cfg.Referral.RewardRetryAttempts, cfg.Referral.RewardRetryDelay)
	statsService := services.NewStatsService(
		userRepo, referralRepo, auditRepo,
		rewardService, notifier, referralCache, log,
		models.DefaultMilestones, cfg.Referral.ReferrerBonusDays,
	)
	leaderboardService := services.NewLeaderboardService(userRepo, referralRepo, referralCache, log)
	referralService := services.NewReferralService(
		referralRepo, userRepo, auditRepo,
		codeService, rateLimiter, rewardService, statsService, notifier,
		fraud.NewScorer(cfg.Referral.FraudBlockThreshold, cfg.Referral.FraudFlagThreshold),
		services.NewLoggingAttribution(log),
		services.NewStaticRewardConfig(cfg.Referral.ReferrerBonusDays, cfg.Referral.ReferredBonusDays),
		services.NewHashSegmentAssigner(cfg.Referral.Segments...),
		log, cfg.Referral.MaxReferralsPerUser,
	)

	// Handlers
	referralHandler := handlers.NewReferralHandler(referralService, codeService, leaderboardService)

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(log))

	v1 := router.Group("/api/v1")
	{
		routes.SetupReferralRoutes(v1, referralHandler, cfg.Security.JWTSecret)
	}

	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		if err := db.Ping(); err != nil {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  status,
			"version": cfg.App.Version,
		})
	})

	// Periodic leaderboard warm keeps regular traffic on a fresh cache entry.
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.WithError(err).Fatal("Failed to create scheduler")
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.Referral.LeaderboardRefresh),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := leaderboardService.FetchLeaderboard(ctx, utils.DefaultLeaderboardLimit, true); err != nil {
				log.WithError(err).Warn("Leaderboard warm job failed")
			}
		}),
	)
	if err != nil {
		log.WithError(err).Fatal("Failed to schedule leaderboard warm job")
	}
	scheduler.Start()
	defer func() { _ = scheduler.Shutdown() }()

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port),
		Handler: router,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Forced shutdown")
	}
}
