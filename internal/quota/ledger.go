// Package quota keeps per-phone plan and usage counters and performs the
// atomic check-and-deduct that guards them.
package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/betzim/mediameter/internal/apperr"
	"github.com/betzim/mediameter/internal/db"
	"github.com/betzim/mediameter/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultResetPeriod   = 24 * time.Hour
	defaultAudioMinutes  = 10
	defaultDocumentUnits = 1000

	// subscriptionMonth is the length of one purchased subscription month.
	subscriptionMonth = 30 * 24 * time.Hour

	// maxConflictRetries bounds re-runs after a lost compare-and-swap.
	maxConflictRetries = 3
)

// errMetaConflict signals that a guarded meta write matched no row.
var errMetaConflict = errors.New("quota: concurrent meta update")

// Options configures a Ledger.
type Options struct {
	ResetPeriod          time.Duration
	DefaultAudioMinutes  float64
	DefaultDocumentUnits float64
	Now                  func() time.Time
}

// Ledger is the transactional quota store.
type Ledger struct {
	pool *db.Pool
	opts Options
}

// NewLedger constructs a Ledger on top of a connection pool.
func NewLedger(pool *db.Pool, opts Options) *Ledger {
	if opts.ResetPeriod <= 0 {
		opts.ResetPeriod = defaultResetPeriod
	}
	if opts.DefaultAudioMinutes <= 0 {
		opts.DefaultAudioMinutes = defaultAudioMinutes
	}
	if opts.DefaultDocumentUnits <= 0 {
		opts.DefaultDocumentUnits = defaultDocumentUnits
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{pool: pool, opts: opts}
}

func (l *Ledger) now() time.Time { return l.opts.Now().UTC() }

// Register creates the user with the default grant unless it already exists.
// Concurrent first contact yields a single row; created reports whether this
// call inserted it.
func (l *Ledger) Register(ctx context.Context, phone string, plan models.PaymentPlan) (Account, bool, error) {
	const op = "quota: register"
	if l == nil || l.pool == nil {
		return Account{}, false, fmt.Errorf("%s: nil ledger", op)
	}
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return Account{}, false, apperr.Newf(apperr.KindInvalidInput, op, "phone number %q has no digits", phone)
	}
	if plan == "" {
		plan = models.PlanFree
	}
	if !plan.Valid() {
		return Account{}, false, apperr.Newf(apperr.KindInvalidInput, op, "invalid payment plan %q", plan)
	}

	var (
		acc     Account
		created bool
	)
	errTx := l.pool.Transaction(ctx, func(tx *gorm.DB) error {
		now := l.now()
		user := models.User{Phone: normalized}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone"}},
			DoNothing: true,
		}).Create(&user)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0

		var stored models.User
		if errFind := tx.Where("phone = ?", normalized).Take(&stored).Error; errFind != nil {
			return errFind
		}

		defaults := []models.UserMeta{
			{UserID: stored.ID, MetaKey: models.MetaPaymentPlan, MetaValue: string(plan)},
			{UserID: stored.ID, MetaKey: models.MetaAudioMinutesLimit, MetaValue: formatAmount(l.opts.DefaultAudioMinutes)},
			{UserID: stored.ID, MetaKey: models.MetaAudioMinutesUsed, MetaValue: formatAmount(0)},
			{UserID: stored.ID, MetaKey: models.MetaDocumentUnitsLimit, MetaValue: formatAmount(l.opts.DefaultDocumentUnits)},
			{UserID: stored.ID, MetaKey: models.MetaDocumentUnitsUsed, MetaValue: formatAmount(0)},
			{UserID: stored.ID, MetaKey: models.MetaSubscriptionEndDate, MetaValue: ""},
			{UserID: stored.ID, MetaKey: models.MetaLastResetDate, MetaValue: formatTime(now)},
		}
		if errMeta := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "meta_key"}},
			DoNothing: true,
		}).Create(&defaults).Error; errMeta != nil {
			return errMeta
		}

		rows, errLoad := loadMeta(tx, stored.ID, false)
		if errLoad != nil {
			return errLoad
		}
		acc = accountFromMeta(stored, rows)
		return nil
	})
	if errTx != nil {
		return Account{}, false, fmt.Errorf("%s: %w", op, errTx)
	}
	if created {
		log.WithFields(log.Fields{"phone": normalized, "plan": plan}).Info("quota: registered new user")
	}
	return acc, created, nil
}

// Account returns the current snapshot for phone. Counters whose reset
// window has elapsed are reported as zero without being written.
func (l *Ledger) Account(ctx context.Context, phone string) (Account, error) {
	const op = "quota: account"
	if l == nil || l.pool == nil {
		return Account{}, fmt.Errorf("%s: nil ledger", op)
	}
	normalized := NormalizePhone(phone)

	var acc Account
	errView := l.pool.View(ctx, func(conn *gorm.DB) error {
		user, errUser := findUser(conn, normalized)
		if errUser != nil {
			return errUser
		}
		rows, errLoad := loadMeta(conn, user.ID, false)
		if errLoad != nil {
			return errLoad
		}
		acc = accountFromMeta(user, rows)
		return nil
	})
	if errView != nil {
		return Account{}, wrapLookup(op, normalized, errView)
	}
	if l.resetDue(acc.LastResetDate, l.now()) {
		acc.AudioMinutesUsed = 0
		acc.DocumentUnitsUsed = 0
	}
	return acc, nil
}

// CheckAndDeduct charges amount against the kind counter of phone in one
// transaction. It applies a due reset first, rejects expired subscriptions
// and rejects (never clamps) deductions that would exceed the limit. On
// InsufficientQuota the returned Usage still carries the current counters.
func (l *Ledger) CheckAndDeduct(ctx context.Context, phone string, kind models.UsageKind, amount float64, detail map[string]string) (Usage, error) {
	const op = "quota: check and deduct"
	if l == nil || l.pool == nil {
		return Usage{}, fmt.Errorf("%s: nil ledger", op)
	}
	if kind != models.UsageAudio && kind != models.UsageDocument {
		return Usage{}, apperr.Newf(apperr.KindInvalidInput, op, "unknown usage kind %q", kind)
	}
	if amount < 0 {
		return Usage{}, apperr.Newf(apperr.KindInvalidInput, op, "negative amount %.2f", amount)
	}
	normalized := NormalizePhone(phone)
	amount = chargeCents(amount)

	var detailJSON datatypes.JSON
	if len(detail) > 0 {
		if raw, errMarshal := json.Marshal(detail); errMarshal == nil {
			detailJSON = datatypes.JSON(raw)
		}
	}

	var (
		usage  Usage
		errRun error
	)
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		usage, errRun = l.deductOnce(ctx, normalized, kind, amount, detailJSON)
		if !errors.Is(errRun, errMetaConflict) {
			break
		}
		log.WithFields(log.Fields{"phone": normalized, "attempt": attempt + 1}).Warn("quota: concurrent update detected, retrying")
	}
	if errRun != nil {
		if apperr.KindOf(errRun) != apperr.KindUnknown {
			return usage, errRun
		}
		return usage, wrapLookup(op, normalized, errRun)
	}

	log.WithFields(log.Fields{
		"phone":     normalized,
		"kind":      kind,
		"amount":    usage.Amount,
		"used":      usage.Used,
		"remaining": usage.Remaining,
	}).Info("quota: deducted")
	return usage, nil
}

func (l *Ledger) deductOnce(ctx context.Context, phone string, kind models.UsageKind, amount float64, detail datatypes.JSON) (Usage, error) {
	const op = "quota: check and deduct"
	limitKey, usedKey := usageKeys(kind)

	var usage Usage
	errTx := l.pool.Transaction(ctx, func(tx *gorm.DB) error {
		now := l.now()
		user, errUser := findUser(tx, phone)
		if errUser != nil {
			return errUser
		}
		rows, errLoad := loadMeta(tx, user.ID, true)
		if errLoad != nil {
			return errLoad
		}
		acc := accountFromMeta(user, rows)

		if l.resetDue(acc.LastResetDate, now) {
			for _, key := range []string{models.MetaAudioMinutesUsed, models.MetaDocumentUnitsUsed} {
				if errReset := putMeta(tx, user.ID, rows, key, formatAmount(0), now); errReset != nil {
					return errReset
				}
			}
			if errReset := putMeta(tx, user.ID, rows, models.MetaLastResetDate, formatTime(now), now); errReset != nil {
				return errReset
			}
			acc.AudioMinutesUsed = 0
			acc.DocumentUnitsUsed = 0
			acc.LastResetDate = now
		}

		used := acc.Used(kind)
		limit := acc.Limit(kind)
		usage = Usage{Kind: kind, Amount: amount, Used: used, Limit: limit, Remaining: nonNegative(round2(limit - used))}

		if !acc.SubscriptionActive(now) {
			return apperr.Newf(apperr.KindSubscriptionExpired, op, "subscription for %s ended", phone)
		}

		newUsed := round2(used + amount)
		if newUsed > limit+quotaEpsilon {
			return apperr.Newf(apperr.KindInsufficientQuota, op, "need %.2f, remaining %.2f of %s", amount, usage.Remaining, limitKey)
		}
		if errPut := putMeta(tx, user.ID, rows, usedKey, formatAmount(newUsed), now); errPut != nil {
			return errPut
		}

		record := models.UsageRecord{
			UserID:     user.ID,
			Kind:       kind,
			Amount:     amount,
			UsedAfter:  newUsed,
			LimitAfter: limit,
			Detail:     detail,
			CreatedAt:  now,
		}
		if errRecord := tx.Create(&record).Error; errRecord != nil {
			return errRecord
		}

		usage.Used = newUsed
		usage.Remaining = nonNegative(round2(limit - newUsed))
		return nil
	})
	return usage, errTx
}

// AddQuota raises the kind limit of phone by amount.
func (l *Ledger) AddQuota(ctx context.Context, phone string, kind models.UsageKind, amount float64) (Account, error) {
	const op = "quota: add quota"
	if l == nil || l.pool == nil {
		return Account{}, fmt.Errorf("%s: nil ledger", op)
	}
	if amount <= 0 {
		return Account{}, apperr.Newf(apperr.KindInvalidInput, op, "amount must be positive, got %.2f", amount)
	}
	if kind != models.UsageAudio && kind != models.UsageDocument {
		return Account{}, apperr.Newf(apperr.KindInvalidInput, op, "unknown usage kind %q", kind)
	}
	normalized := NormalizePhone(phone)
	limitKey, _ := usageKeys(kind)

	acc, errMutate := l.mutate(ctx, normalized, func(tx *gorm.DB, user models.User, rows map[string]models.UserMeta, acc *Account, now time.Time) error {
		newLimit := round2(acc.Limit(kind) + amount)
		if errPut := putMeta(tx, user.ID, rows, limitKey, formatAmount(newLimit), now); errPut != nil {
			return errPut
		}
		if kind == models.UsageDocument {
			acc.DocumentUnitsLimit = newLimit
		} else {
			acc.AudioMinutesLimit = newLimit
		}
		return nil
	})
	if errMutate != nil {
		return Account{}, wrapLookup(op, normalized, errMutate)
	}
	log.WithFields(log.Fields{"phone": normalized, "kind": kind, "amount": amount}).Info("quota: limit raised")
	return acc, nil
}

// ExtendSubscription pushes the subscription end of phone forward by months
// of 30 days, counted from the later of now and the current end.
func (l *Ledger) ExtendSubscription(ctx context.Context, phone string, months int) (Account, error) {
	const op = "quota: extend subscription"
	if l == nil || l.pool == nil {
		return Account{}, fmt.Errorf("%s: nil ledger", op)
	}
	if months <= 0 {
		return Account{}, apperr.Newf(apperr.KindInvalidInput, op, "months must be positive, got %d", months)
	}
	normalized := NormalizePhone(phone)

	acc, errMutate := l.mutate(ctx, normalized, func(tx *gorm.DB, user models.User, rows map[string]models.UserMeta, acc *Account, now time.Time) error {
		if acc.Plan != models.PlanSubscription {
			return apperr.Newf(apperr.KindPlanMismatch, op, "user is on the %s plan", acc.Plan)
		}
		start := now
		if acc.SubscriptionEndDate != nil && acc.SubscriptionEndDate.After(now) {
			start = *acc.SubscriptionEndDate
		}
		end := start.Add(time.Duration(months) * subscriptionMonth)
		if errPut := putMeta(tx, user.ID, rows, models.MetaSubscriptionEndDate, formatTime(end), now); errPut != nil {
			return errPut
		}
		acc.SubscriptionEndDate = &end
		return nil
	})
	if errMutate != nil {
		return Account{}, wrapLookup(op, normalized, errMutate)
	}
	log.WithFields(log.Fields{"phone": normalized, "months": months}).Info("quota: subscription extended")
	return acc, nil
}

type mutateFunc func(tx *gorm.DB, user models.User, rows map[string]models.UserMeta, acc *Account, now time.Time) error

func (l *Ledger) mutate(ctx context.Context, phone string, fn mutateFunc) (Account, error) {
	var (
		acc   Account
		errTx error
	)
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		acc, errTx = l.mutateOnce(ctx, phone, fn)
		if !errors.Is(errTx, errMetaConflict) {
			break
		}
		log.WithFields(log.Fields{"phone": phone, "attempt": attempt + 1}).Warn("quota: concurrent update detected, retrying")
	}
	return acc, errTx
}

func (l *Ledger) mutateOnce(ctx context.Context, phone string, fn mutateFunc) (Account, error) {
	var acc Account
	errTx := l.pool.Transaction(ctx, func(tx *gorm.DB) error {
		user, errUser := findUser(tx, phone)
		if errUser != nil {
			return errUser
		}
		rows, errLoad := loadMeta(tx, user.ID, true)
		if errLoad != nil {
			return errLoad
		}
		acc = accountFromMeta(user, rows)
		return fn(tx, user, rows, &acc, l.now())
	})
	return acc, errTx
}

func (l *Ledger) resetDue(lastReset, now time.Time) bool {
	return now.Sub(lastReset) > l.opts.ResetPeriod
}

func findUser(conn *gorm.DB, phone string) (models.User, error) {
	var user models.User
	if phone == "" {
		return user, gorm.ErrRecordNotFound
	}
	errFind := conn.Where("phone = ?", phone).Take(&user).Error
	return user, errFind
}

func loadMeta(conn *gorm.DB, userID uint64, lock bool) (map[string]models.UserMeta, error) {
	q := conn
	if lock {
		q = db.ForUpdate(conn)
	}
	var rows []models.UserMeta
	if errFind := q.Where("user_id = ?", userID).Order("id ASC").Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	out := make(map[string]models.UserMeta, len(rows))
	for _, row := range rows {
		out[row.MetaKey] = row
	}
	return out, nil
}

// putMeta writes value under key. Existing rows are updated with a guard on
// the value read inside this transaction; a missing row is inserted.
func putMeta(tx *gorm.DB, userID uint64, rows map[string]models.UserMeta, key, value string, now time.Time) error {
	current, ok := rows[key]
	if !ok {
		row := models.UserMeta{UserID: userID, MetaKey: key, MetaValue: value, UpdatedAt: now}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "meta_key"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return metaWriteError(res.Error)
		}
		if res.RowsAffected == 0 {
			return errMetaConflict
		}
		rows[key] = row
		return nil
	}
	if current.MetaValue == value {
		return nil
	}
	res := tx.Model(&models.UserMeta{}).
		Where("user_id = ? AND meta_key = ? AND meta_value = ?", userID, key, current.MetaValue).
		Updates(map[string]any{"meta_value": value, "updated_at": now})
	if res.Error != nil {
		return metaWriteError(res.Error)
	}
	if res.RowsAffected != 1 {
		return errMetaConflict
	}
	rows[key] = withValue(current, value)
	return nil
}

// metaWriteError turns a unique violation from a racing writer into a
// conflict so the caller re-runs the whole transaction.
func metaWriteError(err error) error {
	if db.IsUniqueViolation(err) {
		return errMetaConflict
	}
	return err
}

func withValue(row models.UserMeta, value string) models.UserMeta {
	row.MetaValue = value
	return row
}

func wrapLookup(op, phone string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Newf(apperr.KindUserNotFound, op, "no user for phone %q", strings.TrimSpace(phone))
	}
	return fmt.Errorf("%s: %w", op, err)
}
