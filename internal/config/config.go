// Package config reads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds runtime settings for cmd/api.
type Config struct {
	Addr       string
	GRPCAddr   string
	PGDSN      string
	MeetingTTL time.Duration
	RateBurst  int
	RatePerSec int
	BodyLimit  int64
}

// Defaults applied when the corresponding variable is unset.
const (
	defaultAddr       = ":8080"
	defaultTTL        = 14 * 24 * time.Hour
	defaultRateBurst  = 50
	defaultRatePerSec = 25
	defaultBodyLimit  = 1 << 20
)

// FromEnv builds Config from environment variables. Only malformed values
// fail; every setting has a default and QUORUM_PG_DSN / QUORUM_GRPC_ADDR may
// stay empty to disable Postgres and gRPC respectively.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:       envOr("QUORUM_ADDR", defaultAddr),
		GRPCAddr:   os.Getenv("QUORUM_GRPC_ADDR"),
		PGDSN:      os.Getenv("QUORUM_PG_DSN"),
		MeetingTTL: defaultTTL,
		RateBurst:  defaultRateBurst,
		RatePerSec: defaultRatePerSec,
		BodyLimit:  defaultBodyLimit,
	}

	if raw := os.Getenv("QUORUM_MEETING_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return Config{}, fmt.Errorf("parse QUORUM_MEETING_TTL %q: must be a positive duration", raw)
		}
		cfg.MeetingTTL = ttl
	}
	if v, err := envInt("QUORUM_RATE_BURST", cfg.RateBurst); err != nil {
		return Config{}, err
	} else {
		cfg.RateBurst = v
	}
	if v, err := envInt("QUORUM_RATE_PER_SEC", cfg.RatePerSec); err != nil {
		return Config{}, err
	} else {
		cfg.RatePerSec = v
	}
	if raw := os.Getenv("QUORUM_BODY_LIMIT"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			return Config{}, fmt.Errorf("parse QUORUM_BODY_LIMIT %q: must be a positive integer", raw)
		}
		cfg.BodyLimit = v
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("parse %s %q: must be a positive integer", key, raw)
	}
	return v, nil
}
