package config

import (
	"os"
	"testing"

	"github.com/beamline/gateway/internal/ratelimit"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "GATEWAY_PORT", "GATEWAY_RATE_LIMIT_MODE", "CGW_IPC_MAX_CONNECTIONS")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GatewayPort != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.GatewayPort)
	}
	if cfg.RateLimiter.Mode != ratelimit.ModeLocal {
		t.Fatalf("expected default mode local, got %s", cfg.RateLimiter.Mode)
	}
	if cfg.IPC.MaxConnections != 64 {
		t.Fatalf("expected default max connections 64, got %d", cfg.IPC.MaxConnections)
	}
}

func TestLoadRejectsOutOfRangeIPCMaxConnections(t *testing.T) {
	clearEnv(t, "CGW_IPC_MAX_CONNECTIONS")
	os.Setenv("CGW_IPC_MAX_CONNECTIONS", "2048")
	defer os.Unsetenv("CGW_IPC_MAX_CONNECTIONS")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for out-of-range CGW_IPC_MAX_CONNECTIONS")
	}
}

func TestLoadRejectsInvalidRateLimitMode(t *testing.T) {
	clearEnv(t, "GATEWAY_RATE_LIMIT_MODE")
	os.Setenv("GATEWAY_RATE_LIMIT_MODE", "bogus")
	defer os.Unsetenv("GATEWAY_RATE_LIMIT_MODE")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid GATEWAY_RATE_LIMIT_MODE")
	}
}

func TestLoadPerEndpointLimitOverride(t *testing.T) {
	clearEnv(t, "GATEWAY_RATE_LIMIT_MESSAGES_LIMIT")
	os.Setenv("GATEWAY_RATE_LIMIT_MESSAGES_LIMIT", "200")
	defer os.Unsetenv("GATEWAY_RATE_LIMIT_MESSAGES_LIMIT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.RateLimiter.LimitFor(ratelimit.EndpointMessages); got != 200 {
		t.Fatalf("expected MESSAGES override 200, got %d", got)
	}
}
