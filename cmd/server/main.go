package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seandahissiho/murya-api-sub000/internal/api/admin"
	"github.com/seandahissiho/murya-api-sub000/internal/api/economy"
	"github.com/seandahissiho/murya-api-sub000/internal/cache"
	"github.com/seandahissiho/murya-api-sub000/internal/config"
	"github.com/seandahissiho/murya-api-sub000/internal/fulfillment"
	"github.com/seandahissiho/murya-api-sub000/internal/repository"
	"github.com/seandahissiho/murya-api-sub000/internal/service/marketplace"
	"github.com/seandahissiho/murya-api-sub000/internal/service/quests"
	"github.com/seandahissiho/murya-api-sub000/internal/service/scheduler"
	"github.com/seandahissiho/murya-api-sub000/internal/service/wallet"
	"github.com/seandahissiho/murya-api-sub000/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	log := logger.Get()

	db, err := repository.NewDB(&cfg.Database.Postgres, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Repositories
	subjectRepo := repository.NewSubjectRepository(db)
	questRepo := repository.NewQuestRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	rewardRepo := repository.NewRewardRepository(db)

	// Definition cache falls back to the repository when Redis is down, so a
	// failed connection is survivable.
	var definitionCache *cache.DefinitionCache
	redisClient, err := cache.NewRedisClient(&cfg.Database.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, quest definitions will not be cached")
		definitionCache = cache.NewDefinitionCache(nil, questRepo, time.Duration(cfg.Economy.DefinitionCacheTTL)*time.Second, log)
	} else {
		defer redisClient.Close()
		definitionCache = cache.NewDefinitionCache(redisClient, questRepo, time.Duration(cfg.Economy.DefinitionCacheTTL)*time.Second, log)
	}

	// Services
	questService := quests.NewService(db, definitionCache, questRepo, activityRepo, ledgerRepo, subjectRepo, quests.Options{
		DefaultTimezone:   cfg.Economy.DefaultTimezone,
		WeekendCatchupCap: cfg.Economy.WeekendCatchupCap,
	}, log)
	walletService := wallet.NewService(db, ledgerRepo, subjectRepo, questRepo, cfg.Economy.WalletPageSize, log)
	provider := fulfillment.NewClient(&cfg.Fulfillment, log.Component("fulfillment"))
	marketplaceService := marketplace.NewService(db, rewardRepo, ledgerRepo, subjectRepo, provider, log)

	// Handlers
	economyHandler := economy.NewHandler(subjectRepo, questService, walletService, marketplaceService, log)
	adminHandler := admin.NewHandler(questRepo, rewardRepo, subjectRepo, walletService, marketplaceService, definitionCache, log)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		if err := db.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.Metrics.Prometheus.Enabled {
		path := cfg.Metrics.Prometheus.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	economyHandler.RegisterRoutes(api)
	adminHandler.RegisterRoutes(api.Group("/admin"))

	// Background jobs
	schedulerService := scheduler.NewService(cfg, walletService, marketplaceService, log.Component("scheduler"))
	if err := schedulerService.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}
	defer schedulerService.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
