package models

import (
	"time"

	"gorm.io/datatypes"
)

// UsageKind names the quota counter a record was charged against.
type UsageKind string

// UsageKind constants enumerate the metered counters.
const (
	// UsageAudio charges audio minutes.
	UsageAudio UsageKind = "audio"
	// UsageDocument charges document units.
	UsageDocument UsageKind = "document"
)

// UsageRecord is the audit row written with every committed deduction.
type UsageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`    // Charged user ID.
	User   User   `gorm:"foreignKey:UserID"` // Charged user record.

	Kind       UsageKind      `gorm:"type:text;not null;index"`   // Charged counter.
	Amount     float64        `gorm:"type:decimal(20,2);not null"` // Deducted amount.
	UsedAfter  float64        `gorm:"type:decimal(20,2);not null"` // Counter value after the deduction.
	LimitAfter float64        `gorm:"type:decimal(20,2);not null"` // Limit at deduction time.
	Detail     datatypes.JSON `gorm:"type:jsonb"`                  // Job metadata (job id, media kind, message id).

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
