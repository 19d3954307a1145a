package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all engine configuration.
type Config struct {
	Port        string
	ServiceName string

	// AccessKey is the shared secret expected in the X-Access-Key
	// header on inbound submissions and sent on outbound refresh pulls.
	AccessKey string

	// DatabaseURL is either a mysql:// DSN or a SQLite file path.
	DatabaseURL string
	RedisURL    string

	// Queue settings.
	QueueStream      string
	QueueGroup       string
	QueueConsumer    string
	DeadLetterStream string

	// Model backends (OpenAI-compatible chat completion APIs).
	PrimaryModelURL   string
	PrimaryModelKey   string
	PrimaryModel      string
	SecondaryModelURL string
	SecondaryModelKey string
	SecondaryModel    string
	ModelTimeout      time.Duration
	ModelMaxRetries   int

	// Backoff schedule for model retries and event-level retries.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Prompt budget in characters; older context is summarized away
	// before the newest event data.
	PromptBudget int

	// RefreshTimeout bounds synchronous collector pulls; the loop
	// blocks on them.
	RefreshTimeout time.Duration

	// AssetsFile is the YAML file holding per-asset configurations.
	AssetsFile string

	// ThoughtRetention is how long thoughts are kept before the
	// maintenance job prunes them. Zero disables pruning.
	ThoughtRetention time.Duration
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8000"),
		ServiceName: getEnv("SERVICE_NAME", "apexwatch-core"),

		AccessKey: getEnv("ACCESS_KEY", ""),

		DatabaseURL: getEnv("DATABASE_URL", "apexwatch.db"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),

		QueueStream:      getEnv("QUEUE_STREAM", "events"),
		QueueGroup:       getEnv("QUEUE_GROUP", "core"),
		QueueConsumer:    getEnv("QUEUE_CONSUMER", "core-1"),
		DeadLetterStream: getEnv("DEAD_LETTER_STREAM", "events:dead"),

		PrimaryModelURL:   getEnv("PRIMARY_MODEL_URL", "https://api.openai.com/v1"),
		PrimaryModelKey:   getEnv("PRIMARY_MODEL_KEY", ""),
		PrimaryModel:      getEnv("PRIMARY_MODEL", "gpt-4o-mini"),
		SecondaryModelURL: getEnv("SECONDARY_MODEL_URL", "http://localhost:11434/v1"),
		SecondaryModelKey: getEnv("SECONDARY_MODEL_KEY", ""),
		SecondaryModel:    getEnv("SECONDARY_MODEL", "llama3.2"),
		ModelTimeout:      getDurationEnv("MODEL_TIMEOUT", 120*time.Second),
		ModelMaxRetries:   getIntEnv("MODEL_MAX_RETRIES", 3),

		BackoffInitial: getDurationEnv("BACKOFF_INITIAL", 2*time.Second),
		BackoffMax:     getDurationEnv("BACKOFF_MAX", 30*time.Second),

		PromptBudget: getIntEnv("PROMPT_BUDGET_CHARS", 12000),

		RefreshTimeout: getDurationEnv("REFRESH_TIMEOUT", 5*time.Second),

		AssetsFile: getEnv("ASSETS_FILE", "assets.yaml"),

		ThoughtRetention: getDurationEnv("THOUGHT_RETENTION", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
