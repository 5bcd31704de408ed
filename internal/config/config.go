// Package config parses the environment-variable-equivalent inputs of
// spec.md §6 into validated Go structs at startup, in the style of the
// teacher's cmd/server/main.go flag parsing: a malformed or out-of-range
// value of a validated integer variable fails fast with a descriptive
// error (the caller exits non-zero). Boolean variables and the lenient
// duration/tuning knobs are not validated: a malformed value there falls
// back to its default. Rate-limiter remote-backend construction is
// allowed to fall back per spec.md §4.3.4.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/beamline/gateway/internal/backpressure"
	"github.com/beamline/gateway/internal/breaker"
	"github.com/beamline/gateway/internal/bus"
	"github.com/beamline/gateway/internal/ratelimit"
	"github.com/beamline/gateway/internal/tracing"
)

// Config is the fully-validated, process-wide configuration.
type Config struct {
	GatewayPort  int
	AuthRequired bool

	IPC IPCConfig

	RateLimiter ratelimit.Config

	BusPool       bus.PoolConfig
	Resilience    bus.ResilienceConfig
	BridgeSubject string

	HealthPort int

	Backpressure backpressure.Config

	Tracing      tracing.Config
	AuditLogPath string
}

// IPCConfig is spec.md §6's CGW_IPC_* group.
type IPCConfig struct {
	Enable         bool
	SocketPath     string
	MaxConnections int
	NATSEnable     bool
	NATSURL        string
	TimeoutMS      int
}

// Load reads every recognized environment variable of spec.md §6,
// validating ranges explicitly rather than coercing out-of-range input.
func Load() (Config, error) {
	var cfg Config
	var err error

	if cfg.GatewayPort, err = envInt("GATEWAY_PORT", 8080); err != nil {
		return cfg, err
	}
	cfg.AuthRequired = envBool("GATEWAY_AUTH_REQUIRED", false)

	if cfg.HealthPort, err = envInt("GATEWAY_HEALTH_PORT", 8081); err != nil {
		return cfg, err
	}

	cfg.IPC.Enable = envBool("CGW_IPC_ENABLE", true)
	cfg.IPC.SocketPath = envString("CGW_IPC_SOCKET_PATH", "/tmp/beamline-gateway.sock")
	if cfg.IPC.MaxConnections, err = envIntRange("CGW_IPC_MAX_CONNECTIONS", 64, 1, 1024); err != nil {
		return cfg, err
	}
	cfg.IPC.NATSEnable = envBool("CGW_IPC_NATS_ENABLE", false)
	cfg.IPC.NATSURL = envString("CGW_IPC_NATS_URL", "nats://127.0.0.1:4222")
	if cfg.IPC.TimeoutMS, err = envIntRange("CGW_IPC_TIMEOUT_MS", 5000, 100, 300000); err != nil {
		return cfg, err
	}

	rl, err := loadRateLimiter()
	if err != nil {
		return cfg, err
	}
	cfg.RateLimiter = rl

	cfg.BusPool = bus.PoolConfig{
		MinConnections:    lenientInt("GATEWAY_NATS_POOL_MIN", 1),
		MaxConnections:    lenientInt("GATEWAY_NATS_POOL_MAX", 8),
		ConnectionTimeout: envDurationMS("GATEWAY_NATS_CONNECT_TIMEOUT_MS", 2000),
		IdleTimeout:       envDurationSeconds("GATEWAY_NATS_IDLE_TIMEOUT_SECONDS", 300),
	}
	cfg.Resilience = bus.ResilienceConfig{
		MaxInflight:       int32(lenientInt("GATEWAY_NATS_MAX_INFLIGHT", 256)),
		DegradedThreshold: lenientInt("GATEWAY_NATS_DEGRADED_THRESHOLD", 5),
		MinBackoff:        envDurationMS("GATEWAY_NATS_MIN_BACKOFF_MS", 200),
		MaxBackoff:        envDurationMS("GATEWAY_NATS_MAX_BACKOFF_MS", 30000),
	}
	cfg.BridgeSubject = envString("GATEWAY_ROUTER_DECIDE_SUBJECT", "beamline.router.v1.decide")

	cfg.Backpressure = backpressure.Config{
		MetricsURL:     envString("GATEWAY_ROUTER_METRICS_URL", ""),
		CheckInterval:  envDurationSeconds("GATEWAY_BACKPRESSURE_CHECK_INTERVAL_SECONDS", 5),
		DialTimeout:    envDurationMS("GATEWAY_BACKPRESSURE_DIAL_TIMEOUT_MS", 500),
		RequestTimeout: envDurationMS("GATEWAY_BACKPRESSURE_REQUEST_TIMEOUT_MS", 1000),
	}

	cfg.AuditLogPath = envString("GATEWAY_AUDIT_LOG_PATH", "/var/log/beamline-gateway/audit.log")

	cfg.Tracing = tracing.Config{
		Enabled:      envBool("OTEL_TRACING_ENABLED", false),
		ServiceName:  envString("OTEL_SERVICE_NAME", "beamline-gateway"),
		OTLPEndpoint: envString("OTLP_ENDPOINT", ""),
		ExporterType: tracingExporterType(),
		OTLPInsecure: envBool("OTLP_INSECURE", true),
	}

	return cfg, nil
}

func tracingExporterType() tracing.ExporterType {
	switch envString("OTEL_EXPORTER", "stdout") {
	case "otlp_grpc":
		return tracing.ExporterOTLPGRPC
	case "otlp_http":
		return tracing.ExporterOTLPHTTP
	case "none":
		return tracing.ExporterNone
	default:
		return tracing.ExporterStdout
	}
}

func loadRateLimiter() (ratelimit.Config, error) {
	var cfg ratelimit.Config
	switch mode := envString("GATEWAY_RATE_LIMIT_MODE", "local"); mode {
	case "local", "redis", "hybrid":
		cfg.Mode = ratelimit.Mode(mode)
	default:
		return cfg, fmt.Errorf("config: invalid GATEWAY_RATE_LIMIT_MODE %q (want local|redis|hybrid)", mode)
	}

	windowSec, err := envInt("GATEWAY_RATE_LIMIT_TTL_SECONDS", 60)
	if err != nil {
		return cfg, err
	}
	if windowSec <= 0 {
		return cfg, fmt.Errorf("config: GATEWAY_RATE_LIMIT_TTL_SECONDS must be > 0")
	}
	cfg.WindowSeconds = int64(windowSec)

	if cfg.GlobalLimit, err = envInt("GATEWAY_RATE_LIMIT_GLOBAL_LIMIT", 1000); err != nil {
		return cfg, err
	}
	cfg.EndpointLimits = map[ratelimit.Endpoint]int{}
	for env, ep := range map[string]ratelimit.Endpoint{
		"GATEWAY_RATE_LIMIT_ROUTES_DECIDE_LIMIT": ratelimit.EndpointRoutesDecide,
		"GATEWAY_RATE_LIMIT_MESSAGES_LIMIT":      ratelimit.EndpointMessages,
		"GATEWAY_RATE_LIMIT_REGISTRY_LIMIT":      ratelimit.EndpointRegistryBlocks,
	} {
		if v, set := os.LookupEnv(env); set {
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfg, fmt.Errorf("config: %s: %w", env, err)
			}
			cfg.EndpointLimits[ep] = n
		}
	}

	cfg.FallbackToLocal = envBool("GATEWAY_RATE_LIMIT_FALLBACK_TO_LOCAL", true)

	cfg.Redis = ratelimit.RedisConfig{
		Addr:           envString("C_GATEWAY_REDIS_RATE_LIMIT_ADDR", "127.0.0.1:6379"),
		PoolSize:       lenientInt("C_GATEWAY_REDIS_RATE_LIMIT_POOL_SIZE", 16),
		DialTimeout:    envDurationMS("C_GATEWAY_REDIS_RATE_LIMIT_DIAL_TIMEOUT_MS", 500),
		ReadTimeout:    envDurationMS("C_GATEWAY_REDIS_RATE_LIMIT_READ_TIMEOUT_MS", 500),
		AcquireTimeout: envDurationMS("C_GATEWAY_REDIS_RATE_LIMIT_ACQUIRE_TIMEOUT_MS", 200),
		MaxRetries:     lenientInt("C_GATEWAY_REDIS_RATE_LIMIT_MAX_RETRIES", 2),
		RetryBackoff:   envDurationMS("C_GATEWAY_REDIS_RATE_LIMIT_RETRY_BACKOFF_MS", 50),
		WindowSlack:    envDurationSeconds("C_GATEWAY_REDIS_RATE_LIMIT_WINDOW_SLACK_SECONDS", 5),
		FailOpen:       envBool("C_GATEWAY_REDIS_RATE_LIMIT_FAIL_OPEN", true),
		Breaker: breaker.Config{
			FailureThreshold: lenientInt("C_GATEWAY_REDIS_RATE_LIMIT_BREAKER_FAILURE_THRESHOLD", 5),
			SuccessThreshold: lenientInt("C_GATEWAY_REDIS_RATE_LIMIT_BREAKER_SUCCESS_THRESHOLD", 2),
			OpenTimeout:      envDurationMS("C_GATEWAY_REDIS_RATE_LIMIT_BREAKER_OPEN_TIMEOUT_MS", 30000),
			HalfOpenMaxCalls: lenientInt("C_GATEWAY_REDIS_RATE_LIMIT_BREAKER_HALF_OPEN_MAX_CALLS", 1),
		},
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid integer %q", key, v)
	}
	return n, nil
}

func envIntRange(key string, def, min, max int) (int, error) {
	n, err := envInt(key, def)
	if err != nil {
		return 0, err
	}
	if n < min || n > max {
		return 0, fmt.Errorf("config: %s=%d out of range [%d, %d]", key, n, min, max)
	}
	return n, nil
}

// lenientInt is used only for the supplementary tuning knobs outside
// spec.md §6's explicitly-validated table (pool sizes, backoff bounds);
// a malformed value there falls back to def rather than failing startup,
// unlike the named §6 variables which envIntRange rejects.
func lenientInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationMS(key string, defMS int) time.Duration {
	n, err := envInt(key, defMS)
	if err != nil {
		n = defMS
	}
	return time.Duration(n) * time.Millisecond
}

func envDurationSeconds(key string, defSec int) time.Duration {
	n, err := envInt(key, defSec)
	if err != nil {
		n = defSec
	}
	return time.Duration(n) * time.Second
}
