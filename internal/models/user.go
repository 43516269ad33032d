package models

import "time"

// User represents a phone-number account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Phone string `gorm:"type:text;not null;uniqueIndex"` // Normalized phone number (digits only).

	Meta []UserMeta `gorm:"foreignKey:UserID"` // Quota and plan key/value rows.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
