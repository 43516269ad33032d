package db

import (
	"fmt"

	"github.com/betzim/mediameter/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.UserMeta{},
		&models.UsageRecord{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_usage_records_user_created ON usage_records (user_id, created_at)
	`).Error; errIdx != nil {
		return fmt.Errorf("db: create usage records index: %w", errIdx)
	}
	return nil
}
