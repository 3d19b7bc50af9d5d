package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the backtest fill job
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	Env string // development, staging, production

	// Database
	Database DatabaseConfig

	// Backtest job
	Backtest BacktestConfig

	// Logging
	LogLevel  string
	LogFormat string
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

// BacktestConfig holds runtime knobs of the fill job
type BacktestConfig struct {
	ConfigPath   string        // 테이블 정의 YAML
	LookbackDays int           // 패널 조회 기간 (오늘 - N일 ~ 오늘)
	TaskTimeout  time.Duration // 테이블 태스크별 데드라인
	MaxRetries   int           // 배치 쓰기 재시도 횟수
	RetryDelay   time.Duration // 첫 재시도 대기
	RetryMaxWait time.Duration // 지수 백오프 상한
	Timezone     string        // "오늘" 기준 타임존
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Env: getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Backtest: BacktestConfig{
			ConfigPath:   getEnv("BACKTEST_CONFIG", "config/backtest.yaml"),
			LookbackDays: getEnvAsInt("BACKTEST_LOOKBACK_DAYS", 365),
			TaskTimeout:  getEnvAsDuration("BACKTEST_TASK_TIMEOUT", "10m"),
			MaxRetries:   getEnvAsInt("BACKTEST_WRITE_RETRIES", 3),
			RetryDelay:   getEnvAsDuration("BACKTEST_RETRY_DELAY", "1s"),
			RetryMaxWait: getEnvAsDuration("BACKTEST_RETRY_MAX_DELAY", "10s"),
			Timezone:     getEnv("BACKTEST_TIMEZONE", "Asia/Shanghai"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
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

	if c.Backtest.LookbackDays <= 0 {
		return fmt.Errorf("BACKTEST_LOOKBACK_DAYS must be > 0")
	}

	if c.Backtest.MaxRetries < 0 {
		return fmt.Errorf("BACKTEST_WRITE_RETRIES must be >= 0")
	}

	if c.Backtest.TaskTimeout <= 0 {
		return fmt.Errorf("BACKTEST_TASK_TIMEOUT must be > 0")
	}

	if _, err := time.LoadLocation(c.Backtest.Timezone); err != nil {
		return fmt.Errorf("BACKTEST_TIMEZONE: %w", err)
	}

	return nil
}

// Location returns the timezone used to decide "today"
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Backtest.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{".env"}

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
