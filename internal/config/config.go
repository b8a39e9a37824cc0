package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	HTTPAddr string

	RedisURL      string
	DatabaseURL   string
	DBAutoMigrate bool

	DefaultClock     time.Duration
	MatchWaitTimeout time.Duration
	PollInterval     time.Duration
	GameTTL          time.Duration
	TimeoutSweep     time.Duration

	MessagesDir      string
	WSAllowedOrigins []string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:         ":8080",
		DBAutoMigrate:    true,
		DefaultClock:     600 * time.Second,
		MatchWaitTimeout: 60 * time.Second,
		PollInterval:     3 * time.Second,
		GameTTL:          24 * time.Hour,
		TimeoutSweep:     5 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("DB_AUTO_MIGRATE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DBAutoMigrate = b
		}
	}
	seconds(&cfg.DefaultClock, "DEFAULT_CLOCK_SECONDS")
	seconds(&cfg.MatchWaitTimeout, "MATCH_WAIT_TIMEOUT_SEC")
	seconds(&cfg.PollInterval, "POLL_INTERVAL_SEC")
	seconds(&cfg.GameTTL, "GAME_TTL_SEC")
	seconds(&cfg.TimeoutSweep, "TIMEOUT_SWEEP_SEC")

	if v := strings.TrimSpace(os.Getenv("WS_ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.WSAllowedOrigins = append(cfg.WSAllowedOrigins, s)
			}
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	return cfg, nil
}

// seconds overrides *dst with a positive integer number of seconds from env key; anything else is ignored.
func seconds(dst *time.Duration, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = time.Duration(n) * time.Second
	}
}
