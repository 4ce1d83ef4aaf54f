package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration for the Simsar worker.
// All values come from the environment; Load applies defaults.
type Config struct {
	// Infrastructure
	RedisURL    string // REDIS_URL (default redis://localhost:6379/0)
	PostgresDSN string // POSTGRES_DSN (secret, env only)

	// Sessions
	SessionTimeout    time.Duration // SESSION_TIMEOUT_MINUTES (default 30m)
	MaxMessageHistory int           // MAX_MESSAGE_HISTORY (default 20)
	IdleCheckInterval time.Duration // IDLE_CHECK_INTERVAL_MINUTES (default 5m)

	// Queue
	QueueConcurrency int     // QUEUE_CONCURRENCY (default 10)
	JobRatePerSecond float64 // QUEUE_JOBS_PER_SECOND (default 10)
	JobTimeout       time.Duration
	LockDuration     time.Duration

	// Outbound rate limits (sliding windows)
	MaxPerSecond int // WHATSAPP_MAX_MESSAGES_PER_SECOND (default 80)
	MaxPerMinute int // WHATSAPP_MAX_MESSAGES_PER_MINUTE (default 600)
	MaxPerHour   int // WHATSAPP_MAX_MESSAGES_PER_HOUR (default 10000)

	// LLM
	LLMAPIKey      string  // LLM_API_KEY
	LLMBaseURL     string  // LLM_BASE_URL (optional, OpenAI-compatible)
	LLMModel       string  // LLM_MODEL (default gpt-4o-mini)
	LLMMaxTokens   int     // LLM_MAX_TOKENS (default 1024)
	LLMTemperature float32 // LLM_TEMPERATURE (default 0.7)

	// Embeddings
	EmbeddingModel      string // EMBEDDING_MODEL (default text-embedding-3-small)
	EmbeddingDimensions int    // EMBEDDING_DIMENSIONS (default 1536)

	// Vector store
	VectorPersistPath string // VECTOR_PERSIST_PATH (default ./data/vectors)

	// Gateway
	DefaultAgentID      string // AGENT_ID (agent attributed to bridge inbound, default "default")
	WhatsAppGateway     string // WHATSAPP_GATEWAY: "cloud" (default) or "bridge"
	WhatsAppToken       string // WHATSAPP_TOKEN (cloud gateway bearer token)
	WhatsAppPhoneID     string // WHATSAPP_PHONE_ID (cloud gateway sender)
	WhatsAppAPIBase     string // WHATSAPP_API_BASE (default https://graph.facebook.com/v19.0)
	WhatsAppBridgeURL   string // WHATSAPP_BRIDGE_URL (ws:// URL for bridge gateway)
	OutboundHTTPTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first if present (never overriding real env vars).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		RedisURL:    envStr("REDIS_URL", "redis://localhost:6379/0"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),

		SessionTimeout:    time.Duration(envInt("SESSION_TIMEOUT_MINUTES", 30)) * time.Minute,
		MaxMessageHistory: envInt("MAX_MESSAGE_HISTORY", 20),
		IdleCheckInterval: time.Duration(envInt("IDLE_CHECK_INTERVAL_MINUTES", 5)) * time.Minute,

		QueueConcurrency: envInt("QUEUE_CONCURRENCY", 10),
		JobRatePerSecond: envFloat("QUEUE_JOBS_PER_SECOND", 10),
		JobTimeout:       time.Duration(envInt("JOB_TIMEOUT_SECONDS", 300)) * time.Second,
		LockDuration:     time.Duration(envInt("JOB_LOCK_SECONDS", 120)) * time.Second,

		MaxPerSecond: envInt("WHATSAPP_MAX_MESSAGES_PER_SECOND", 80),
		MaxPerMinute: envInt("WHATSAPP_MAX_MESSAGES_PER_MINUTE", 600),
		MaxPerHour:   envInt("WHATSAPP_MAX_MESSAGES_PER_HOUR", 10000),

		LLMAPIKey:      os.Getenv("LLM_API_KEY"),
		LLMBaseURL:     os.Getenv("LLM_BASE_URL"),
		LLMModel:       envStr("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   envInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature: float32(envFloat("LLM_TEMPERATURE", 0.7)),

		EmbeddingModel:      envStr("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 1536),

		VectorPersistPath: envStr("VECTOR_PERSIST_PATH", "./data/vectors"),

		DefaultAgentID:      envStr("AGENT_ID", "default"),
		WhatsAppGateway:     envStr("WHATSAPP_GATEWAY", "cloud"),
		WhatsAppToken:       os.Getenv("WHATSAPP_TOKEN"),
		WhatsAppPhoneID:     os.Getenv("WHATSAPP_PHONE_ID"),
		WhatsAppAPIBase:     envStr("WHATSAPP_API_BASE", "https://graph.facebook.com/v19.0"),
		WhatsAppBridgeURL:   os.Getenv("WHATSAPP_BRIDGE_URL"),
		OutboundHTTPTimeout: time.Duration(envInt("OUTBOUND_HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxMessageHistory <= 0 {
		return fmt.Errorf("MAX_MESSAGE_HISTORY must be positive, got %d", c.MaxMessageHistory)
	}
	if c.QueueConcurrency <= 0 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be positive, got %d", c.QueueConcurrency)
	}
	switch c.WhatsAppGateway {
	case "cloud", "bridge":
	default:
		return fmt.Errorf("WHATSAPP_GATEWAY must be \"cloud\" or \"bridge\", got %q", c.WhatsAppGateway)
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
