package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/betzim/mediameter/internal/settings"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvJWTExpiry    = "JWT_EXPIRY"

	// envPrefix scopes the envconfig overlay (MEDIAMETER_PORT, MEDIAMETER_GATEWAY_API_KEY, ...).
	envPrefix = "MEDIAMETER"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// LoggingConfig selects the log level and formatter.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DatabaseConfig describes the storage DSN and the shared connection pool bounds.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max-open-conns"`
	MaxIdleConns    int           `yaml:"max-idle-conns"`
	ConnMaxLifetime time.Duration `yaml:"conn-max-lifetime"`
	AcquireTimeout  time.Duration `yaml:"acquire-timeout"`
}

// RetryConfig mirrors retry.Policy in YAML form.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max-attempts"`
	BaseDelay   time.Duration `yaml:"base-delay"`
	MaxDelay    time.Duration `yaml:"max-delay"`
	Jitter      time.Duration `yaml:"jitter"`
}

// GatewayConfig configures the outbound messaging gateway.
type GatewayConfig struct {
	BaseURL   string        `yaml:"base-url"`
	APIKey    string        `yaml:"api-key"`
	Timeout   time.Duration `yaml:"timeout"`
	BotNumber string        `yaml:"bot-number"`
	Retry     RetryConfig   `yaml:"retry"`
}

// OpenAIConfig configures the transcription and summarization services.
type OpenAIConfig struct {
	BaseURL            string        `yaml:"base-url"`
	APIKey             string        `yaml:"api-key"`
	TranscriptionModel string        `yaml:"transcription-model"`
	SummaryModel       string        `yaml:"summary-model"`
	SummaryLanguage    string        `yaml:"summary-language"`
	Timeout            time.Duration `yaml:"timeout"`
}

// MediaConfig bounds downloaded artifacts and extracted content.
type MediaConfig struct {
	TempDir             string  `yaml:"temp-dir"`
	MaxFileBytes        int64   `yaml:"max-file-bytes"`
	MinDocumentChars    int     `yaml:"min-document-chars"`
	MinAudioBytes       int64   `yaml:"min-audio-bytes"`
	LowBalanceThreshold float64 `yaml:"low-balance-threshold"`
}

// CleanupConfig schedules the temp directory sweeper.
type CleanupConfig struct {
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max-age"`
}

// QuotaConfig holds the reset window and the free-tier grant.
type QuotaConfig struct {
	ResetPeriod          time.Duration `yaml:"reset-period"`
	DefaultAudioMinutes  float64       `yaml:"default-audio-minutes"`
	DefaultDocumentUnits float64       `yaml:"default-document-units"`
}

// RateLimitConfig configures inbound per-phone rate limiting.
type RateLimitConfig struct {
	Limit         int           `yaml:"limit"`
	Window        time.Duration `yaml:"window"`
	RedisEnabled  bool          `yaml:"redis-enabled"`
	RedisAddr     string        `yaml:"redis-addr"`
	RedisPassword string        `yaml:"redis-password"`
	RedisDB       int           `yaml:"redis-db"`
	RedisPrefix   string        `yaml:"redis-prefix"`
}

// Config is the full service configuration.
type Config struct {
	Host        string          `yaml:"host"`
	Port        int             `yaml:"port"`
	Debug       bool            `yaml:"debug"`
	DatabaseDSN string          `yaml:"database-dsn"`
	Logging     LoggingConfig   `yaml:"logging"`
	Database    DatabaseConfig  `yaml:"database"`
	JWT         JWTConfig       `yaml:"jwt"`
	Gateway     GatewayConfig   `yaml:"gateway"`
	OpenAI      OpenAIConfig    `yaml:"openai"`
	Media       MediaConfig     `yaml:"media"`
	Cleanup     CleanupConfig   `yaml:"cleanup"`
	Quota       QuotaConfig     `yaml:"quota"`
	RateLimit   RateLimitConfig `yaml:"rate-limit"`
}

// envOverlay lists the settings that may be supplied through the environment.
type envOverlay struct {
	Host             string `envconfig:"HOST"`
	Port             int    `envconfig:"PORT"`
	Debug            string `envconfig:"DEBUG"`
	LogLevel         string `envconfig:"LOG_LEVEL"`
	GatewayBaseURL   string `envconfig:"GATEWAY_BASE_URL"`
	GatewayAPIKey    string `envconfig:"GATEWAY_API_KEY"`
	BotNumber        string `envconfig:"BOT_NUMBER"`
	OpenAIBaseURL    string `envconfig:"OPENAI_BASE_URL"`
	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY"`
	TempDir          string `envconfig:"TEMP_DIR"`
	MaxTempFileAge   string `envconfig:"MAX_TEMP_FILE_AGE"`
	RedisAddr        string `envconfig:"REDIS_ADDR"`
	RateLimitPerSec  int    `envconfig:"RATE_LIMIT"`
	DatabaseMaxConns int    `envconfig:"DB_MAX_OPEN_CONNS"`
}

const (
	defaultPort               = 3000
	defaultJWTExpiry          = 30 * 24 * time.Hour
	defaultGatewayBaseURL     = "https://gate.whapi.cloud"
	defaultGatewayTimeout     = 15 * time.Second
	defaultOpenAIBaseURL      = "https://api.openai.com/v1"
	defaultTranscriptionModel = "whisper-1"
	defaultSummaryModel       = "gpt-4o-mini"
	defaultSummaryLanguage    = "Hebrew"
	defaultOpenAITimeout      = 120 * time.Second
	defaultTempDir            = "./temp"
	defaultMaxFileBytes       = 20 * 1024 * 1024
	defaultMinDocumentChars   = 100
	defaultMinAudioBytes      = 1000
	defaultCleanupSchedule    = "@every 1h"
	defaultCleanupMaxAge      = time.Hour
	defaultResetPeriod        = 24 * time.Hour
	defaultAudioMinutes       = 10
	defaultDocumentUnits      = 1000
	defaultMaxOpenConns       = 10
	defaultConnMaxLifetime    = 30 * time.Minute
	defaultAcquireTimeout     = 30 * time.Second
	defaultRetryMaxAttempts   = 3
	defaultRetryBaseDelay     = time.Second
	defaultRetryMaxDelay      = 10 * time.Second
	defaultRetryJitter        = time.Second
)

// Load reads the YAML config file (when present), overlays environment
// variables and fills defaults. A missing file is not an error.
func Load(configPath string) (Config, error) {
	var cfg Config
	data, errRead := os.ReadFile(configPath)
	if errRead != nil && !os.IsNotExist(errRead) {
		return Config{}, fmt.Errorf("read config file: %w", errRead)
	}
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	}

	var overlay envOverlay
	if errEnv := envconfig.Process(envPrefix, &overlay); errEnv != nil {
		return Config{}, fmt.Errorf("parse environment: %w", errEnv)
	}
	applyOverlay(&cfg, overlay)

	if dsn, errDSN := LoadDatabaseDSN(configPath); errDSN == nil {
		cfg.Database.DSN = dsn
	}
	if jwtCfg, errJWT := LoadJWTConfig(configPath); errJWT == nil {
		cfg.JWT = jwtCfg
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func applyOverlay(cfg *Config, env envOverlay) {
	if v := strings.TrimSpace(env.Host); v != "" {
		cfg.Host = v
	}
	if env.Port > 0 {
		cfg.Port = env.Port
	}
	switch strings.ToLower(strings.TrimSpace(env.Debug)) {
	case "1", "true", "yes", "on":
		cfg.Debug = true
	case "0", "false", "no", "off":
		cfg.Debug = false
	}
	if v := strings.TrimSpace(env.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(env.GatewayBaseURL); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := strings.TrimSpace(env.GatewayAPIKey); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := strings.TrimSpace(env.BotNumber); v != "" {
		cfg.Gateway.BotNumber = v
	}
	if v := strings.TrimSpace(env.OpenAIBaseURL); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := strings.TrimSpace(env.OpenAIAPIKey); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(env.TempDir); v != "" {
		cfg.Media.TempDir = v
	}
	if v := strings.TrimSpace(env.MaxTempFileAge); v != "" {
		if age, errParse := time.ParseDuration(v); errParse == nil && age > 0 {
			cfg.Cleanup.MaxAge = age
		}
	}
	if v := strings.TrimSpace(env.RedisAddr); v != "" {
		cfg.RateLimit.RedisAddr = v
		cfg.RateLimit.RedisEnabled = true
	}
	if env.RateLimitPerSec > 0 {
		cfg.RateLimit.Limit = env.RateLimitPerSec
	}
	if env.DatabaseMaxConns > 0 {
		cfg.Database.MaxOpenConns = env.DatabaseMaxConns
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.Database.MaxIdleConns <= 0 || cfg.Database.MaxIdleConns > cfg.Database.MaxOpenConns {
		cfg.Database.MaxIdleConns = cfg.Database.MaxOpenConns
	}
	if cfg.Database.ConnMaxLifetime <= 0 {
		cfg.Database.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if cfg.Database.AcquireTimeout <= 0 {
		cfg.Database.AcquireTimeout = defaultAcquireTimeout
	}
	if cfg.JWT.Expiry <= 0 {
		cfg.JWT.Expiry = defaultJWTExpiry
	}
	if strings.TrimSpace(cfg.Gateway.BaseURL) == "" {
		cfg.Gateway.BaseURL = defaultGatewayBaseURL
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = defaultGatewayTimeout
	}
	if cfg.Gateway.Retry.MaxAttempts <= 0 {
		cfg.Gateway.Retry.MaxAttempts = defaultRetryMaxAttempts
	}
	if cfg.Gateway.Retry.BaseDelay <= 0 {
		cfg.Gateway.Retry.BaseDelay = defaultRetryBaseDelay
	}
	if cfg.Gateway.Retry.MaxDelay <= 0 {
		cfg.Gateway.Retry.MaxDelay = defaultRetryMaxDelay
	}
	if cfg.Gateway.Retry.Jitter < 0 {
		cfg.Gateway.Retry.Jitter = 0
	} else if cfg.Gateway.Retry.Jitter == 0 {
		cfg.Gateway.Retry.Jitter = defaultRetryJitter
	}
	if strings.TrimSpace(cfg.OpenAI.BaseURL) == "" {
		cfg.OpenAI.BaseURL = defaultOpenAIBaseURL
	}
	if strings.TrimSpace(cfg.OpenAI.TranscriptionModel) == "" {
		cfg.OpenAI.TranscriptionModel = defaultTranscriptionModel
	}
	if strings.TrimSpace(cfg.OpenAI.SummaryModel) == "" {
		cfg.OpenAI.SummaryModel = defaultSummaryModel
	}
	if strings.TrimSpace(cfg.OpenAI.SummaryLanguage) == "" {
		cfg.OpenAI.SummaryLanguage = defaultSummaryLanguage
	}
	if cfg.OpenAI.Timeout <= 0 {
		cfg.OpenAI.Timeout = defaultOpenAITimeout
	}
	if strings.TrimSpace(cfg.Media.TempDir) == "" {
		cfg.Media.TempDir = defaultTempDir
	}
	if cfg.Media.MaxFileBytes <= 0 {
		cfg.Media.MaxFileBytes = defaultMaxFileBytes
	}
	if cfg.Media.MinDocumentChars <= 0 {
		cfg.Media.MinDocumentChars = defaultMinDocumentChars
	}
	if cfg.Media.MinAudioBytes <= 0 {
		cfg.Media.MinAudioBytes = defaultMinAudioBytes
	}
	if cfg.Media.LowBalanceThreshold <= 0 {
		cfg.Media.LowBalanceThreshold = settings.DefaultLowBalanceThreshold
	}
	if strings.TrimSpace(cfg.Cleanup.Schedule) == "" {
		cfg.Cleanup.Schedule = defaultCleanupSchedule
	}
	if cfg.Cleanup.MaxAge <= 0 {
		cfg.Cleanup.MaxAge = defaultCleanupMaxAge
	}
	if cfg.Quota.ResetPeriod <= 0 {
		cfg.Quota.ResetPeriod = defaultResetPeriod
	}
	if cfg.Quota.DefaultAudioMinutes <= 0 {
		cfg.Quota.DefaultAudioMinutes = defaultAudioMinutes
	}
	if cfg.Quota.DefaultDocumentUnits <= 0 {
		cfg.Quota.DefaultDocumentUnits = defaultDocumentUnits
	}
	if cfg.RateLimit.Limit < 0 {
		cfg.RateLimit.Limit = 0
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = settings.DefaultRateLimitWindow
	}
	if cfg.RateLimit.RedisDB < 0 {
		cfg.RateLimit.RedisDB = 0
	}
	if strings.TrimSpace(cfg.RateLimit.RedisPrefix) == "" {
		cfg.RateLimit.RedisPrefix = settings.DefaultRateLimitRedisPrefix
	}
}

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// LoadJWTConfig loads JWT settings from the YAML config file.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	result := JWTConfig{Expiry: defaultJWTExpiry}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.JWT
		}
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}
