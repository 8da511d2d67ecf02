package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv string
	Port   int

	// Postgres (pgxpool DSN)
	DBDSN string

	// Redis
	RedisAddr string
	RedisPass string
	RedisDB   int

	// Selection endpoint
	SelectionDefaultLimit int
	SelectionMaxLimit     int
	SelectionMaxAge       time.Duration // advisory Cache-Control for CDNs

	// Analytics rate limit (fixed window per source IP)
	RLEnabled bool
	RLLimit   int
	RLWindow  time.Duration

	// Logging
	LogLevel string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.AppEnv = getEnv("APP_ENV", "dev")
	cfg.Port = getInt("PORT", 8080)

	// --- Postgres: prefer DATABASE_URL if present, else build from POSTGRES_*
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL != "" {
		cfg.DBDSN = dbURL
	} else {
		addr := getEnv("POSTGRES_ADDR", "")
		user := getEnv("POSTGRES_USER", "")
		pass := getEnv("POSTGRES_PASSWORD", "")
		db := getEnv("POSTGRES_DB", "")
		sslmode := getEnv("POSTGRES_SSLMODE", "disable")
		cfg.DBDSN = buildPostgresURL(addr, user, pass, db, sslmode)
	}

	// --- Redis (optional; empty means the in-process rate counter)
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPass = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getInt("REDIS_DB", 0)

	// --- Selection
	cfg.SelectionDefaultLimit = getInt("SELECTION_DEFAULT_LIMIT", 15)
	cfg.SelectionMaxLimit = getInt("SELECTION_MAX_LIMIT", 50)
	cfg.SelectionMaxAge = getDuration("SELECTION_MAX_AGE", 30*time.Second)

	// --- Rate limit
	cfg.RLEnabled = getBool("RL_ENABLED", true)
	cfg.RLLimit = getInt("RL_REQUESTS_LIMIT", 60)
	cfg.RLWindow = time.Duration(getInt("RL_WINDOW_SECONDS", 60)) * time.Second

	// --- Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	// --- Validation (fail fast)
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("missing database config: provide DATABASE_URL or POSTGRES_ADDR/POSTGRES_USER/POSTGRES_PASSWORD/POSTGRES_DB")
	}
	if cfg.SelectionDefaultLimit < 1 || cfg.SelectionDefaultLimit > cfg.SelectionMaxLimit {
		return nil, fmt.Errorf("SELECTION_DEFAULT_LIMIT must be in [1, SELECTION_MAX_LIMIT]")
	}
	if cfg.RLEnabled && cfg.RLLimit < 1 {
		return nil, fmt.Errorf("RL_REQUESTS_LIMIT must be positive when rate limiting is enabled")
	}

	return cfg, nil
}

// buildPostgresURL builds a safe postgres URL DSN (handles special characters).
func buildPostgresURL(addr, user, pass, db, sslmode string) string {
	// If any critical fields missing, return empty and let validation handle it.
	if strings.TrimSpace(addr) == "" || strings.TrimSpace(user) == "" || strings.TrimSpace(db) == "" {
		return ""
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   strings.TrimSpace(addr),
		Path:   "/" + strings.TrimPrefix(strings.TrimSpace(db), "/"),
	}
	if pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}

	q := url.Values{}
	if strings.TrimSpace(sslmode) != "" {
		q.Set("sslmode", strings.TrimSpace(sslmode))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		// prefer failing fast over silent misconfig
		panic(fmt.Errorf("invalid boolean env %s=%q", k, v))
	}
}

func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
