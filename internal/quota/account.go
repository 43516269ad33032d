package quota

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/betzim/mediameter/internal/models"
)

// quotaEpsilon absorbs float noise when comparing two-decimal amounts.
const quotaEpsilon = 0.000001

// Account is a read-only snapshot of a user's plan and counters.
type Account struct {
	UserID              uint64
	Phone               string
	Plan                models.PaymentPlan
	AudioMinutesLimit   float64
	AudioMinutesUsed    float64
	DocumentUnitsLimit  float64
	DocumentUnitsUsed   float64
	SubscriptionEndDate *time.Time
	LastResetDate       time.Time
}

// Limit returns the limit of the counter for kind.
func (a Account) Limit(kind models.UsageKind) float64 {
	if kind == models.UsageDocument {
		return a.DocumentUnitsLimit
	}
	return a.AudioMinutesLimit
}

// Used returns the consumed amount of the counter for kind.
func (a Account) Used(kind models.UsageKind) float64 {
	if kind == models.UsageDocument {
		return a.DocumentUnitsUsed
	}
	return a.AudioMinutesUsed
}

// Remaining returns limit minus used for kind, never negative.
func (a Account) Remaining(kind models.UsageKind) float64 {
	return nonNegative(round2(a.Limit(kind) - a.Used(kind)))
}

// SubscriptionActive reports whether a subscription user may still use the service at now.
func (a Account) SubscriptionActive(now time.Time) bool {
	if a.Plan != models.PlanSubscription {
		return true
	}
	return a.SubscriptionEndDate != nil && now.Before(*a.SubscriptionEndDate)
}

// Usage describes the counter state after (or at) a check-and-deduct.
type Usage struct {
	Kind      models.UsageKind
	Amount    float64
	Used      float64
	Limit     float64
	Remaining float64
}

func usageKeys(kind models.UsageKind) (limitKey, usedKey string) {
	if kind == models.UsageDocument {
		return models.MetaDocumentUnitsLimit, models.MetaDocumentUnitsUsed
	}
	return models.MetaAudioMinutesLimit, models.MetaAudioMinutesUsed
}

func accountFromMeta(user models.User, rows map[string]models.UserMeta) Account {
	acc := Account{
		UserID:             user.ID,
		Phone:              user.Phone,
		Plan:               models.PaymentPlan(strings.TrimSpace(rows[models.MetaPaymentPlan].MetaValue)),
		AudioMinutesLimit:  parseAmount(rows[models.MetaAudioMinutesLimit].MetaValue),
		AudioMinutesUsed:   parseAmount(rows[models.MetaAudioMinutesUsed].MetaValue),
		DocumentUnitsLimit: parseAmount(rows[models.MetaDocumentUnitsLimit].MetaValue),
		DocumentUnitsUsed:  parseAmount(rows[models.MetaDocumentUnitsUsed].MetaValue),
		LastResetDate:      parseTime(rows[models.MetaLastResetDate].MetaValue),
	}
	if !acc.Plan.Valid() {
		acc.Plan = models.PlanFree
	}
	if end := parseTime(rows[models.MetaSubscriptionEndDate].MetaValue); !end.IsZero() {
		acc.SubscriptionEndDate = &end
	}
	return acc
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(round2(v), 'f', 2, 64)
}

func parseAmount(raw string) float64 {
	v, errParse := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if errParse != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// parseTime returns the zero time for empty or malformed values, which
// callers treat as "long ago".
func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if t, errParse := time.Parse(time.RFC3339Nano, raw); errParse == nil {
		return t.UTC()
	}
	if t, errParse := time.Parse("2006-01-02 15:04:05", raw); errParse == nil {
		return t.UTC()
	}
	return time.Time{}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// chargeCents rounds a positive charge up to the next cent so no committed
// job is free. The epsilon absorbs float noise such as 1.1*100.
func chargeCents(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Ceil(v*100-1e-6) / 100
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
