package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"QUORUM_ADDR", "QUORUM_GRPC_ADDR", "QUORUM_PG_DSN", "QUORUM_MEETING_TTL", "QUORUM_RATE_BURST", "QUORUM_RATE_PER_SEC", "QUORUM_BODY_LIMIT"} {
		t.Setenv(key, "")
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.MeetingTTL != 14*24*time.Hour {
		t.Fatalf("unexpected ttl %v", cfg.MeetingTTL)
	}
	if cfg.PGDSN != "" || cfg.GRPCAddr != "" {
		t.Fatalf("expected optional settings empty")
	}
	if cfg.RateBurst <= 0 || cfg.RatePerSec <= 0 || cfg.BodyLimit <= 0 {
		t.Fatalf("defaults must be positive: %+v", cfg)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("QUORUM_ADDR", ":9999")
	t.Setenv("QUORUM_MEETING_TTL", "1h")
	t.Setenv("QUORUM_RATE_BURST", "10")
	t.Setenv("QUORUM_RATE_PER_SEC", "5")
	t.Setenv("QUORUM_BODY_LIMIT", "2048")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.MeetingTTL != time.Hour || cfg.RateBurst != 10 || cfg.RatePerSec != 5 || cfg.BodyLimit != 2048 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestFromEnvRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"QUORUM_MEETING_TTL":  "fortnight",
		"QUORUM_RATE_BURST":   "-1",
		"QUORUM_RATE_PER_SEC": "zero",
		"QUORUM_BODY_LIMIT":   "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}
