// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Token
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	BcryptCost      int
	APIKeyPrefix    string

	// Rate Limit（req/min単位）
	RateLimitGeneral int
	RateLimitAuth    int

	// Server
	ServerPort  string
	Environment string

	// CORS
	CORSAllowedOrigins []string

	// Logging
	LogLevel string

	// Missing は未設定の必須環境変数名。
	// 空でない場合、サーバーは警告を出して縮退モードで起動する（クラッシュしない）。
	Missing []string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定でもエラーにはせず、Missingに記録して返す。
// プロセスを落とすかどうかの判断は呼び出し元に委ねる。
func Load() *Config {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		cfg.Missing = append(cfg.Missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		cfg.Missing = append(cfg.Missing, "JWT_SECRET")
	}

	// Optional fields with defaults
	cfg.AccessTokenTTL = getEnvDuration("JWT_EXPIRE", 168*time.Hour)          // 7日
	cfg.RefreshTokenTTL = getEnvDuration("REFRESH_TOKEN_EXPIRE", 720*time.Hour) // 30日
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.APIKeyPrefix = getEnvString("AGENT_API_KEY_PREFIX", "od_")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "5000")
	cfg.Environment = getEnvString("APP_ENV", "development")
	cfg.CORSAllowedOrigins = getEnvStringSlice("CORS_ORIGIN", []string{"http://localhost:3000", "http://localhost:3001"})
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg
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

// getEnvStringSlice はカンマ区切りの環境変数を読み込む。
// 空要素は除外する。
func getEnvStringSlice(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
