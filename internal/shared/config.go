package shared

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv            string
	HTTPAddr          string
	MetricsAddr       string
	MySQLDSN          string
	RedisAddr         string
	RedisDB           int
	RedisPass         string
	CacheTTL          time.Duration
	FacetCacheTTL     time.Duration
	JWTSecret         string
	SingleValuePolicy string
	AdminRPS          int
	LogFile           string
	AutoMigrate       bool
	ImportWorkers     int
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set in the process win.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg(".env could not be parsed")
	}

	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
			log.Warn().Str("key", k).Str("value", v).Msg("not an integer, using default")
		}
		return def
	}
	c := Config{
		AppEnv:            env("APP_ENV", "prod"),
		HTTPAddr:          env("HTTP_ADDR", ":8080"),
		MetricsAddr:       env("METRICS_ADDR", ":9100"),
		MySQLDSN:          env("MYSQL_DSN", "root:root@tcp(localhost:3306)/dna?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:         env("REDIS_ADDR", "localhost:6379"),
		RedisPass:         env("REDIS_PASSWORD", ""),
		RedisDB:           atoi("REDIS_DB", 0),
		CacheTTL:          time.Duration(atoi("CACHE_TTL_SECONDS", 900)) * time.Second,
		FacetCacheTTL:     time.Duration(atoi("FACET_CACHE_TTL_SECONDS", 30)) * time.Second,
		JWTSecret:         env("JWT_SECRET", ""),
		SingleValuePolicy: env("SINGLE_VALUE_POLICY", "reject"),
		AdminRPS:          atoi("ADMIN_RPS", 20),
		LogFile:           env("LOG_FILE", ""),
		AutoMigrate:       env("AUTO_MIGRATE", "false") == "true",
		ImportWorkers:     atoi("IMPORT_WORKERS", 4),
	}
	if c.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is empty, admin routes will reject every request")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
