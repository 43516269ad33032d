package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/betzim/mediameter/internal/db"
	"github.com/betzim/mediameter/internal/security"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// TestDatabaseConnection validates that the DSN can connect and ping.
func TestDatabaseConnection(dsn string) (err error) {
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return fmt.Errorf("failed to connect to database: %w", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		return fmt.Errorf("failed to get sql db: %w", errDB)
	}
	defer func() {
		if errClose := sqlDB.Close(); errClose != nil {
			log.Errorf("sql db close error: %v", errClose)
		}
	}()
	return sqlDB.Ping()
}

type starterConfig struct {
	Host     string         `yaml:"host"`
	Port     int            `yaml:"port"`
	Debug    bool           `yaml:"debug"`
	Database starterDB      `yaml:"database"`
	JWT      starterJWT     `yaml:"jwt"`
	Gateway  starterGateway `yaml:"gateway"`
	OpenAI   starterOpenAI  `yaml:"openai"`
	Media    starterMedia   `yaml:"media"`
}

type starterDB struct {
	DSN string `yaml:"dsn"`
}

type starterJWT struct {
	Secret string `yaml:"secret"`
	Expiry string `yaml:"expiry"`
}

type starterGateway struct {
	BaseURL   string `yaml:"base-url"`
	APIKey    string `yaml:"api-key"`
	BotNumber string `yaml:"bot-number"`
}

type starterOpenAI struct {
	APIKey string `yaml:"api-key"`
}

type starterMedia struct {
	TempDir string `yaml:"temp-dir"`
}

// generateJWTSecret creates a random JWT secret string.
func generateJWTSecret() string {
	secret, err := security.GenerateRandomString(32)
	if err != nil {
		return "change-me-to-a-secure-random-string"
	}
	return secret
}

// WriteConfigFile writes a starter config file to disk. An empty dsn selects
// the bundled SQLite database.
func WriteConfigFile(configPath string, dsn string, port int) error {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = db.BuildSQLiteDSN("")
	}
	cfg := starterConfig{
		Port:     port,
		Database: starterDB{DSN: dsn},
		JWT: starterJWT{
			Secret: generateJWTSecret(),
			Expiry: "720h",
		},
		Gateway: starterGateway{BaseURL: "https://gate.whapi.cloud"},
		Media:   starterMedia{TempDir: "./temp"},
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if errMkdir := os.MkdirAll(dir, 0755); errMkdir != nil {
		return fmt.Errorf("create config dir: %w", errMkdir)
	}

	if errWrite := os.WriteFile(configPath, data, 0600); errWrite != nil {
		return fmt.Errorf("write config file: %w", errWrite)
	}

	return nil
}
