package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ストレージバックエンドの種類。
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageBackend string
	DatabaseURL    string

	// Rate Limit (req/min)
	RateLimitGeneral int
	RateLimitLending int

	// Pagination
	PageSize    int
	MaxPageSize int

	// Worker
	AuditInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StorageBackend = getEnvString("STORAGE_BACKEND", StoragePostgres)
	switch cfg.StorageBackend {
	case StoragePostgres, StorageMemory:
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q (want %q or %q)",
			cfg.StorageBackend, StoragePostgres, StorageMemory)
	}

	// DATABASE_URL はPostgreSQLバックエンドの場合のみ必須
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.StorageBackend == StoragePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: %v", []string{"DATABASE_URL"})
	}

	// Optional fields with defaults
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLending = getEnvInt("RATE_LIMIT_LENDING", 30)
	cfg.PageSize = getEnvInt("PAGE_SIZE", 10)
	cfg.MaxPageSize = getEnvInt("MAX_PAGE_SIZE", 100)
	cfg.AuditInterval = getEnvDuration("AUDIT_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("PAGE_SIZE must be positive, got %d", cfg.PageSize)
	}
	if cfg.MaxPageSize < cfg.PageSize {
		return nil, fmt.Errorf("MAX_PAGE_SIZE (%d) must not be smaller than PAGE_SIZE (%d)", cfg.MaxPageSize, cfg.PageSize)
	}
	if cfg.RateLimitGeneral <= 0 || cfg.RateLimitLending <= 0 {
		return nil, fmt.Errorf("rate limits must be positive (general=%d, lending=%d)", cfg.RateLimitGeneral, cfg.RateLimitLending)
	}
	if cfg.AuditInterval <= 0 {
		return nil, fmt.Errorf("AUDIT_INTERVAL must be positive, got %s", cfg.AuditInterval)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
