// Package config provides configuration management functionality.
//
// This package handles loading configuration from environment variables (.env file).
//
// Configuration Loading Order:
// 1. Load from .env file (if exists)
// 2. Load from environment variables
//
// Data Directory Priority (highest to lowest):
// 1. Load's dataDirOverride argument (if provided)
// 2. MONITOR_DATA_DIR environment variable
// 3. "./data" (default)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration for the monitoring core and its
// ambient collaborators (HTTP health server, persistence, optional backup).
type Config struct {
	DataDir string // base directory for the sqlite database file, always absolute
	Port    int    // HTTP health server port
	DevMode bool
	LogLevel string // debug, info, warn, error

	EncryptionKeyPath string // path to the 32-byte AES-256-GCM master key file, created on first run if absent

	RedisURL string // optional network cache backend; empty = in-process cache only

	AnthropicAPIKey string
	ModelFast       string
	ModelDeep       string

	QdrantAddr      string // host:port for the vector store adapter
	QdrantAPIKey    string
	VectorNamespace string // namespace prefix, default "user"

	CryptoPanicAPIKey string
	CMCAPIKey         string
	TavilyAPIKey      string // web search key; internal/search sends it to the Brave Search API

	BinanceAPIKey    string
	BinanceAPISecret string

	SnapshotS3Bucket string // optional periodic backup target; empty = backup job disabled
	SnapshotS3Region string

	// Monitoring tunables (§6 of the specification this module implements).
	HotPollInterval        time.Duration
	WarmPollInterval       time.Duration
	HotThresholdDays       int
	WarmThresholdDays      int
	TradePollInterval      time.Duration
	DustThresholdPercent   float64
	PatrolIntervalSeconds  int
	DailySignalLimit       int
	MaxExchangeConnections int
}

// Load reads configuration from environment variables, with an optional
// .env file loaded first (if present in the working directory or a parent).
//
// dataDirOverride takes precedence over MONITOR_DATA_DIR when provided
// (mirrors a --data-dir CLI flag).
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("MONITOR_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		EncryptionKeyPath: getEnv("ENCRYPTION_KEY_PATH", filepath.Join(absDataDir, "master.key")),

		RedisURL: getEnv("REDIS_URL", ""),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		ModelFast:       getEnv("MODEL_FAST", "claude-haiku-4-5"),
		ModelDeep:       getEnv("MODEL_DEEP", "claude-sonnet-4-5"),

		QdrantAddr:      getEnv("QDRANT_ADDR", ""),
		QdrantAPIKey:    getEnv("QDRANT_API_KEY", ""),
		VectorNamespace: getEnv("VECTOR_NAMESPACE_PREFIX", "user"),

		CryptoPanicAPIKey: getEnv("CRYPTOPANIC_API_KEY", ""),
		CMCAPIKey:         getEnv("CMC_API_KEY", ""),
		TavilyAPIKey:      getEnv("TAVILY_API_KEY", ""),

		BinanceAPIKey:    getEnv("BINANCE_API_KEY", ""),
		BinanceAPISecret: getEnv("BINANCE_API_SECRET", ""),

		SnapshotS3Bucket: getEnv("SNAPSHOT_S3_BUCKET", ""),
		SnapshotS3Region: getEnv("SNAPSHOT_S3_REGION", "us-east-1"),

		HotPollInterval:        time.Duration(getEnvAsInt("HOT_POLL_INTERVAL", 10)) * time.Second,
		WarmPollInterval:       time.Duration(getEnvAsInt("WARM_POLL_INTERVAL", 1800)) * time.Second,
		HotThresholdDays:       getEnvAsInt("HOT_THRESHOLD_DAYS", 7),
		WarmThresholdDays:      getEnvAsInt("WARM_THRESHOLD_DAYS", 30),
		TradePollInterval:      time.Duration(getEnvAsInt("TRADE_POLL_INTERVAL", 30)) * time.Second,
		DustThresholdPercent:   getEnvAsFloat("DUST_THRESHOLD_PERCENT", 1.0),
		PatrolIntervalSeconds:  getEnvAsInt("PRO_PATROL_INTERVAL_SECONDS", 3600),
		DailySignalLimit:       getEnvAsInt("PRO_DAILY_SIGNAL_LIMIT", 5),
		MaxExchangeConnections: getEnvAsInt("PRO_MAX_EXCHANGES", 3),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks fatal-at-startup configuration requirements. The
// encryption key file itself is loaded (and created if absent) by
// cipher.LoadOrCreateKeyFile during startup; a failure there is the other
// half of the "fatal configuration" contract.
func (c *Config) Validate() error {
	if c.EncryptionKeyPath == "" {
		return fmt.Errorf("ENCRYPTION_KEY_PATH is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
