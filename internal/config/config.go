package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	DBName      string
	Port        string
	GinMode     string
	CORSOrigins []string

	// Groq chat-completion API
	GroqAPIKey      string
	GroqAPIURL      string
	GroqModel       string
	GroqStreamModel string

	// Rate-limited LLM client tuning
	LLMMinInterval int // ms between any two outbound LLM calls
	LLMMaxAttempts int
	LLMBaseBackoff int // ms, doubled per retry attempt
	LLMMaxBackoff  int // ms cap on retry backoff
	LLMTimeout     int // seconds

	// Embeddings (HuggingFace feature-extraction, local fallback on failure)
	HuggingFaceAPIKey string
	EmbeddingURL      string
	EmbeddingDim      int
	EmbeddingTimeout  int // seconds

	// Chroma vector store
	ChromaURL    string
	ChromaAPIKey string

	// Chunking
	ChunkSize      int
	ChunkOverlap   int
	EmbedBatchSize int

	// Ingestion
	SyncIngestLimit int   // chars; larger documents go through the asynq worker
	MaxFileSize     int64 // bytes, multipart PDF uploads
	StaleAfterMins  int   // reports stuck in processing longer than this are failed

	// Redis (request rate limiting + asynq broker)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	RateLimitReqs   int
	RateLimitWindow int

	// Tracing
	TracingEnabled bool
	OTLPEndpoint   string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/patientbuddy"),
		DBName:      getEnv("DB_NAME", "patientbuddy"),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"), ","),

		GroqAPIKey:      getEnv("GROQ_API_KEY", ""),
		GroqAPIURL:      getEnv("GROQ_API_URL", "https://api.groq.com/openai/v1/chat/completions"),
		GroqModel:       getEnv("GROQ_MODEL", "llama-3.1-8b-instant"),
		GroqStreamModel: getEnv("GROQ_STREAM_MODEL", "llama-3.3-70b-versatile"),

		LLMMinInterval: getEnvInt("LLM_MIN_CALL_INTERVAL_MS", 3000),
		LLMMaxAttempts: getEnvInt("LLM_MAX_ATTEMPTS", 5),
		LLMBaseBackoff: getEnvInt("LLM_BASE_BACKOFF_MS", 5000),
		LLMMaxBackoff:  getEnvInt("LLM_MAX_BACKOFF_MS", 30000),
		LLMTimeout:     getEnvInt("LLM_TIMEOUT_SECONDS", 30),

		HuggingFaceAPIKey: getEnv("HUGGINGFACE_API_KEY", ""),
		EmbeddingURL:      getEnv("EMBEDDING_URL", "https://api-inference.huggingface.co/pipeline/feature-extraction/sentence-transformers/all-MiniLM-L6-v2"),
		EmbeddingDim:      getEnvInt("EMBEDDING_DIM", 384),
		EmbeddingTimeout:  getEnvInt("EMBEDDING_TIMEOUT_SECONDS", 10),

		ChromaURL:    getEnv("CHROMA_URL", "http://localhost:8000"),
		ChromaAPIKey: getEnv("CHROMA_API_KEY", ""),

		ChunkSize:      getEnvInt("CHUNK_SIZE", 500),
		ChunkOverlap:   getEnvInt("CHUNK_OVERLAP", 100),
		EmbedBatchSize: getEnvInt("EMBED_BATCH_SIZE", 10),

		SyncIngestLimit: getEnvInt("SYNC_INGEST_LIMIT", 200000),
		MaxFileSize:     getEnvInt64("MAX_FILE_SIZE", 20971520), // 20MB
		StaleAfterMins:  getEnvInt("STALE_PROCESSING_MINUTES", 30),

		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
	}

	// Validate required fields
	if cfg.GroqAPIKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY is required - set it in .env file")
	}

	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP must be smaller than CHUNK_SIZE")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
