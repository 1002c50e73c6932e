// Package queue defines asynq task types and handlers for deferred
// report ingestion. Large uploads are acknowledged immediately and
// chunked, embedded and indexed by a worker process.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"patient-buddy-backend/internal/logger"
)

const TaskIngestReport = "report:ingest"

type IngestReportPayload struct {
	ReportID string `json:"report_id"`
}

func NewIngestReportTask(reportID string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestReportPayload{ReportID: reportID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ingest payload: %w", err)
	}
	return asynq.NewTask(TaskIngestReport, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	), nil
}

// Client enqueues ingestion tasks onto Redis.
type Client struct {
	client *asynq.Client
}

func NewClient(redisURL, redisPassword string, redisDB int) (*Client, error) {
	opt, err := RedisConnOpt(redisURL, redisPassword, redisDB)
	if err != nil {
		return nil, err
	}
	return &Client{client: asynq.NewClient(opt)}, nil
}

// RedisConnOpt builds the asynq Redis connection from either a full
// redis:// URL or a bare host:port address.
func RedisConnOpt(redisURL, redisPassword string, redisDB int) (asynq.RedisConnOpt, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := asynq.ParseRedisURI(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		return opt, nil
	}
	return asynq.RedisClientOpt{
		Addr:     redisURL,
		Password: redisPassword,
		DB:       redisDB,
	}, nil
}

func (c *Client) EnqueueIngest(ctx context.Context, reportID string) error {
	task, err := NewIngestReportTask(reportID)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue ingest task: %w", err)
	}
	logger.Info("Enqueued report ingestion", "report_id", reportID, "task_id", info.ID, "queue", info.Queue)
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// ReportIngestor is the slice of the report service the worker needs.
type ReportIngestor interface {
	Ingest(ctx context.Context, reportID string) error
}

// HandleIngestReport returns the asynq handler for ingestion tasks.
func HandleIngestReport(ingestor ReportIngestor) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IngestReportPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("failed to unmarshal ingest payload: %v: %w", err, asynq.SkipRetry)
		}

		logger.Info("Processing report ingestion", "report_id", payload.ReportID)
		if err := ingestor.Ingest(ctx, payload.ReportID); err != nil {
			logger.Error("Report ingestion failed", "report_id", payload.ReportID, "error", err)
			return err
		}
		logger.Info("Report ingestion completed", "report_id", payload.ReportID)
		return nil
	}
}
