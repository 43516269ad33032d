package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	redisBreakerCooldown = 30 * time.Second
	redisPingTimeout     = 2 * time.Second
)

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

// Manager picks the Redis limiter when it is enabled and healthy and the
// memory limiter otherwise.
type Manager struct {
	provider       SettingsProvider
	nowFn          func() time.Time
	newRedisClient RedisClientFactory
	breaker        *breaker

	mu       sync.Mutex
	memory   *MemoryLimiter
	redis    *RedisLimiter
	redisCfg SettingsConfig
}

// NewManager constructs a Manager. nil arguments select defaults.
func NewManager(provider SettingsProvider, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = DefaultSettings
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	return &Manager{
		provider:       provider,
		nowFn:          nowFn,
		newRedisClient: newRedisClient,
		breaker:        &breaker{cooldown: redisBreakerCooldown},
	}
}

// AllowPhone applies the configured limit to one inbound sender.
func (m *Manager) AllowPhone(ctx context.Context, phone string) (Result, error) {
	if m == nil {
		return Result{Allowed: true}, nil
	}
	cfg := m.provider()
	key := KeyForPhone(phone)
	if cfg.Limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	now := m.nowFn()

	if cfg.RedisEnabled && !m.breaker.open(now) {
		result, errRedis := m.allowRedis(ctx, cfg, key, now)
		if errRedis == nil {
			return result, nil
		}
		m.breaker.trip(errRedis, now)
	}
	return m.memoryFor(cfg).Allow(ctx, key, cfg.Limit, now)
}

func (m *Manager) memoryFor(cfg SettingsConfig) *MemoryLimiter {
	size := cfg.Window
	if size <= 0 {
		size = time.Second
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.memory == nil || m.memory.size != size {
		m.memory = NewMemoryLimiter(size)
	}
	return m.memory
}

func (m *Manager) allowRedis(ctx context.Context, cfg SettingsConfig, key string, now time.Time) (Result, error) {
	limiter, errConnect := m.redisFor(ctx, cfg)
	if errConnect != nil {
		return Result{}, errConnect
	}
	return limiter.Allow(ctx, key, cfg.Limit, now)
}

// redisFor returns the limiter for cfg, reconnecting when the Redis settings changed.
func (m *Manager) redisFor(ctx context.Context, cfg SettingsConfig) (*RedisLimiter, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("rate limit redis: missing address")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redis != nil && m.redisCfg == cfg {
		return m.redis, nil
	}
	_ = m.closeRedisLocked()

	client := m.newRedisClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.redis = NewRedisLimiter(client, cfg.RedisPrefix, cfg.Window)
	m.redisCfg = cfg
	log.WithField("addr", cfg.RedisAddr).Info("rate limit: redis backend connected")
	return m.redis, nil
}

func (m *Manager) closeRedisLocked() error {
	if m.redis == nil {
		return nil
	}
	errClose := m.redis.client.Close()
	m.redis = nil
	return errClose
}

// Close releases the Redis client, if one was opened.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeRedisLocked()
}
