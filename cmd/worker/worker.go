package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"patient-buddy-backend/internal/ai"
	"patient-buddy-backend/internal/config"
	"patient-buddy-backend/internal/logger"
	"patient-buddy-backend/internal/queue"
	"patient-buddy-backend/internal/vectorstore"
	"patient-buddy-backend/services"
)

// The worker drains the ingestion queue: chunking, embedding and
// indexing documents too large to process inside the upload request.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	if cfg.RedisURL == "" {
		log.Fatal("REDIS_URL is required for the worker")
	}

	logger.InitLogger(cfg)

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

	// The worker never enqueues, so it gets no queue of its own.
	reportSvc := services.NewReportService(store, embedder, groq, vectors, nil, cfg)

	connOpt, err := queue.RedisConnOpt(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal("Failed to configure Redis for asynq:", err)
	}

	srv := asynq.NewServer(connOpt, asynq.Config{
		Concurrency: 2,
		Queues: map[string]int{
			"default": 1,
		},
	})

	mux := asynq.NewServeMux()
	mux.Handle(queue.TaskIngestReport, queue.HandleIngestReport(reportSvc))

	go func() {
		logger.Info("Ingestion worker starting")
		if err := srv.Run(mux); err != nil {
			log.Fatalf("Worker failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker")
	srv.Shutdown()
}
