package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the exit engine
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server (ops API)
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Exit engine
	Exit ExitConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// ExitConfig holds exit evaluator settings
type ExitConfig struct {
	EvalInterval     time.Duration // sweep 주기 (기본 3초)
	StaleAfter       time.Duration // 가격 신선도 임계값 (기본 10초)
	Workers          int           // sweep worker pool 크기
	ProfileCacheTTL  time.Duration
	DefaultProfileID string
	RequireApproval  bool    // true면 모든 intent가 PENDING_APPROVAL로 생성
	IntentRatePerSec float64 // order router 보호용 intent 생성 속도 제한
	PersistRetries   int
	PersistBackoff   time.Duration
	PriceRefresh     time.Duration
	ReconcileEvery   time.Duration
	QuoteStreamURL   string // 비어 있으면 DB polling만 사용
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8090"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Exit: ExitConfig{
			EvalInterval:     getEnvAsDuration("EXIT_EVAL_INTERVAL", "3s"),
			StaleAfter:       getEnvAsDuration("EXIT_STALE_AFTER", "10s"),
			Workers:          getEnvAsInt("EXIT_WORKERS", 8),
			ProfileCacheTTL:  getEnvAsDuration("EXIT_PROFILE_CACHE_TTL", "30s"),
			DefaultProfileID: getEnv("EXIT_DEFAULT_PROFILE_ID", "default"),
			RequireApproval:  getEnvAsBool("EXIT_REQUIRE_APPROVAL", false),
			IntentRatePerSec: getEnvAsFloat("EXIT_INTENT_RATE_PER_SEC", 20),
			PersistRetries:   getEnvAsInt("EXIT_PERSIST_RETRIES", 3),
			PersistBackoff:   getEnvAsDuration("EXIT_PERSIST_BACKOFF", "100ms"),
			PriceRefresh:     getEnvAsDuration("EXIT_PRICE_REFRESH", "1s"),
			ReconcileEvery:   getEnvAsDuration("EXIT_RECONCILE_INTERVAL", "1m"),
			QuoteStreamURL:   getEnv("QUOTE_STREAM_URL", ""),
		},

		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Exit.EvalInterval < time.Second {
		return fmt.Errorf("EXIT_EVAL_INTERVAL must be at least 1s")
	}

	if c.Exit.StaleAfter <= 0 {
		return fmt.Errorf("EXIT_STALE_AFTER must be positive")
	}

	if c.Exit.Workers < 1 {
		return fmt.Errorf("EXIT_WORKERS must be >= 1")
	}

	if c.Exit.PriceRefresh < time.Second || c.Exit.ReconcileEvery < time.Second {
		return fmt.Errorf("EXIT_PRICE_REFRESH and EXIT_RECONCILE_INTERVAL must be at least 1s")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
		"backend/.env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
