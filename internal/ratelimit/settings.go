package ratelimit

import (
	"strings"
	"time"

	"github.com/betzim/mediameter/internal/config"
	internalsettings "github.com/betzim/mediameter/internal/settings"
)

// SettingsConfig captures the rate limit settings in effect.
type SettingsConfig struct {
	Limit         int
	Window        time.Duration
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// SettingsFromConfig converts the rate-limit config section into a normalized snapshot.
func SettingsFromConfig(cfg config.RateLimitConfig) SettingsConfig {
	out := SettingsConfig{
		Limit:         cfg.Limit,
		Window:        cfg.Window,
		RedisEnabled:  cfg.RedisEnabled,
		RedisAddr:     strings.TrimSpace(cfg.RedisAddr),
		RedisPassword: strings.TrimSpace(cfg.RedisPassword),
		RedisDB:       cfg.RedisDB,
		RedisPrefix:   strings.TrimSpace(cfg.RedisPrefix),
	}
	if out.RedisPrefix == "" {
		out.RedisPrefix = internalsettings.DefaultRateLimitRedisPrefix
	}
	if out.Window <= 0 {
		out.Window = internalsettings.DefaultRateLimitWindow
	}
	if out.RedisDB < 0 {
		out.RedisDB = 0
	}
	if out.Limit < 0 {
		out.Limit = 0
	}
	return out
}

// StaticSettings returns a provider that always yields the same snapshot.
func StaticSettings(cfg SettingsConfig) SettingsProvider {
	return func() SettingsConfig { return cfg }
}

// DefaultSettings is the provider used when none is supplied: unlimited, memory only.
func DefaultSettings() SettingsConfig {
	return SettingsConfig{
		Limit:       internalsettings.DefaultRateLimit,
		Window:      internalsettings.DefaultRateLimitWindow,
		RedisPrefix: internalsettings.DefaultRateLimitRedisPrefix,
	}
}
