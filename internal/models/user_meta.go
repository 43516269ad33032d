package models

import "time"

// PaymentPlan identifies how a user pays for processing.
type PaymentPlan string

// PaymentPlan constants enumerate the supported plans.
const (
	// PlanFree is the default grant for new users.
	PlanFree PaymentPlan = "free"
	// PlanPayPerUse tops up limits through administrative grants.
	PlanPayPerUse PaymentPlan = "payPerUse"
	// PlanSubscription additionally requires an unexpired end date.
	PlanSubscription PaymentPlan = "subscription"
)

// Valid reports whether p is a known plan.
func (p PaymentPlan) Valid() bool {
	switch p {
	case PlanFree, PlanPayPerUse, PlanSubscription:
		return true
	default:
		return false
	}
}

// Meta keys stored in user_meta.
const (
	MetaPaymentPlan         = "payment_plan"
	MetaAudioMinutesLimit   = "audio_minutes_limit"
	MetaAudioMinutesUsed    = "audio_minutes_used"
	MetaDocumentUnitsLimit  = "document_units_limit"
	MetaDocumentUnitsUsed   = "document_units_used"
	MetaSubscriptionEndDate = "subscription_end_date"
	MetaLastResetDate       = "last_reset_date"
)

// UserMeta stores one quota or plan attribute for a user.
type UserMeta struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex:idx_user_meta_user_key,priority:1"` // Owning user ID.

	MetaKey   string `gorm:"type:text;not null;uniqueIndex:idx_user_meta_user_key,priority:2"` // Attribute name.
	MetaValue string `gorm:"type:text;not null;default:''"`                                    // Attribute value.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName pins the singular table name used by the key/value store.
func (UserMeta) TableName() string { return "user_meta" }
