package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the chart core.
type Config struct {
	Port string

	// Market data endpoints
	StreamHost string
	RESTBase   string

	// Startup
	Symbol   string
	Interval string

	// Connection lifecycle
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	ConnectTimeout time.Duration
	LoadingTimeout time.Duration

	// Database
	DBPath string

	// Chart
	ThemePath string
	ExportDir string

	// Run the terminal UI (false = headless API only)
	EnableTUI bool
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:           getEnv("PORT", "8080"),
		StreamHost:     getEnv("STREAM_HOST", "stream.binance.com:9443"),
		RESTBase:       getEnv("REST_BASE", "https://api.binance.com"),
		Symbol:         getEnv("SYMBOL", "BTC/USDT"),
		Interval:       getEnv("INTERVAL", "1m"),
		MaxRetries:     getEnvInt("MAX_RETRIES", 5),
		BaseRetryDelay: getEnvDuration("BASE_RETRY_DELAY", time.Second),
		MaxRetryDelay:  getEnvDuration("MAX_RETRY_DELAY", 30*time.Second),
		ConnectTimeout: getEnvDuration("CONNECT_TIMEOUT", 10*time.Second),
		LoadingTimeout: getEnvDuration("LOADING_TIMEOUT", 10*time.Second),
		DBPath:         getEnv("DB_PATH", "./data/chart.db"),
		ThemePath:      getEnv("THEME_PATH", ""),
		ExportDir:      getEnv("EXPORT_DIR", "./exports"),
		EnableTUI:      getEnv("ENABLE_TUI", "true") == "true",
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
