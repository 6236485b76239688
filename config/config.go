package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session store (redis is optional; in-memory with TTL otherwise)
	RedisURL   string
	SessionTTL time.Duration
	JobTTL     time.Duration

	// Allowed export window, inclusive month bounds
	WindowStartMonth int
	WindowStartYear  int
	WindowEndMonth   int
	WindowEndYear    int

	// Recipient addresses ending with this suffix are dropped from exports.
	// Empty disables the filter.
	ExcludedRecipientDomain string

	// Mail API pacing and retry
	ListPageSize     int64
	ListPageDelay    time.Duration
	MessageDelay     time.Duration
	ListRetryBase    time.Duration
	ListRetryMax     int
	MessageRetryWait time.Duration

	// Export worker pool
	WorkerMax       int
	WorkerQueueSize int

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8080/auth/callback"),

		// Stores
		RedisURL:   getEnv("REDIS_URL", ""),
		SessionTTL: time.Duration(getEnvInt("SESSION_TTL_HOUR", 24)) * time.Hour,
		JobTTL:     time.Duration(getEnvInt("JOB_TTL_HOUR", 24)) * time.Hour,

		// Export window
		WindowStartMonth: getEnvInt("EXPORT_WINDOW_START_MONTH", 12),
		WindowStartYear:  getEnvInt("EXPORT_WINDOW_START_YEAR", 2024),
		WindowEndMonth:   getEnvInt("EXPORT_WINDOW_END_MONTH", 7),
		WindowEndYear:    getEnvInt("EXPORT_WINDOW_END_YEAR", 2025),

		ExcludedRecipientDomain: getEnv("EXCLUDED_RECIPIENT_DOMAIN", ""),

		// Pacing and retry
		ListPageSize:     int64(getEnvInt("LIST_PAGE_SIZE", 500)),
		ListPageDelay:    time.Duration(getEnvInt("LIST_PAGE_DELAY_MS", 100)) * time.Millisecond,
		MessageDelay:     time.Duration(getEnvInt("MESSAGE_DELAY_MS", 50)) * time.Millisecond,
		ListRetryBase:    time.Duration(getEnvInt("LIST_RETRY_BASE_SEC", 60)) * time.Second,
		ListRetryMax:     getEnvInt("LIST_RETRY_MAX", 5),
		MessageRetryWait: time.Duration(getEnvInt("MESSAGE_RETRY_WAIT_SEC", 30)) * time.Second,

		// Worker
		WorkerMax:       getEnvInt("WORKER_MAX", 4),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 64),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:8080"}),
	}, nil
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

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
