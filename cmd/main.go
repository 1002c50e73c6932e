package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"patient-buddy-backend/internal/ai"
	"patient-buddy-backend/internal/config"
	"patient-buddy-backend/internal/logger"
	"patient-buddy-backend/internal/queue"
	"patient-buddy-backend/internal/telemetry"
	"patient-buddy-backend/internal/vectorstore"
	"patient-buddy-backend/middleware"
	"patient-buddy-backend/routes"
	"patient-buddy-backend/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("patient-buddy-backend", cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("Failed to initialize tracing", "error", err)
		} else {
			defer shutdown()
		}
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	store := services.NewMongoStore(mongoClient.Database(cfg.DBName))
	embedder := ai.NewEmbeddingService(cfg)
	groq := ai.NewGroqClient(cfg)
	vectors := vectorstore.NewChromaClient(cfg)

	// The ingest queue and request rate limiter both need Redis; without
	// it every upload ingests inline and rate limiting is skipped.
	var ingestQueue services.IngestQueue
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = config.NewRedisClient(cfg)
		if err != nil {
			logger.Error("Failed to connect to Redis, continuing without it", "error", err)
			rdb = nil
		} else {
			defer rdb.Close()
			qc, err := queue.NewClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
			if err != nil {
				logger.Error("Failed to create ingest queue client", "error", err)
			} else {
				defer qc.Close()
				ingestQueue = qc
			}
		}
	}

	reportSvc := services.NewReportService(store, embedder, groq, vectors, ingestQueue, cfg)
	chatSvc := services.NewChatService(store, groq, cfg)
	memberSvc := services.NewMemberService(store)

	sweeper := services.NewSweeper(store, time.Duration(cfg.StaleAfterMins)*time.Minute)
	sweeper.Start()
	defer sweeper.Stop()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	if cfg.TracingEnabled {
		router.Use(middleware.TracingMiddleware())
		router.Use(middleware.EnrichTrace())
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Accept-Language", "X-Requested-With"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	if rdb != nil {
		router.Use(middleware.RateLimitMiddleware(rdb, cfg))
	}

	routes.SetupHealthRoutes(router, mongoClient, vectors)
	routes.SetupReportRoutes(router, reportSvc, cfg)
	routes.SetupChatRoutes(router, chatSvc)
	routes.SetupMemberRoutes(router, memberSvc)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
