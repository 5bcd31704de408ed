package ratelimit

import "github.com/beamline/gateway/internal/logging"

// New builds the configured Limiter per cfg.Mode, implementing the
// polymorphic-backend factory of spec.md §9 ("opaque handles with
// vtable-style function pointers" -> a capability interface chosen by a
// factory at startup).
func New(cfg Config, log *logging.Logger) (Limiter, error) {
	switch cfg.Mode {
	case ModeLocal:
		return NewMemoryLimiter(cfg, nil), nil
	case ModeRedis:
		rl, err := NewRedisLimiter(cfg)
		if err != nil {
			if cfg.FallbackToLocal {
				log.Warn("redis rate limiter construction failed, falling back to in-memory", "error", err.Error())
				return NewFallbackLimiter(nil, cfg, log), nil
			}
			return nil, err
		}
		return rl, nil
	case ModeHybrid:
		rl, err := NewRedisLimiter(cfg)
		if err != nil {
			log.Warn("redis rate limiter construction failed, using in-memory only", "error", err.Error())
			return NewFallbackLimiter(nil, cfg, log), nil
		}
		return NewFallbackLimiter(rl, cfg, log), nil
	default:
		return NewMemoryLimiter(cfg, nil), nil
	}
}
