package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/nfeagil/nfe_backend/config"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversionUsage is the per-tenant monthly conversion counter. Month is a
// "YYYY-MM" key in UTC so the window rolls over at the same instant for
// every tenant.
type ConversionUsage struct {
	ID        uuid.UUID `gorm:"primary_key" json:"id"`
	EmpresaID uuid.UUID `gorm:"not null;uniqueIndex:idx_usage_empresa_month" json:"empresa_id"`
	Month     string    `gorm:"size:7;not null;uniqueIndex:idx_usage_empresa_month" json:"month"`
	Used      int       `gorm:"not null;default:0" json:"used"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UsageMonthKey formats the quota window for a given instant.
func UsageMonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CanConsume is the quota gate: with `used` conversions already spent and
// `requested` more wanted, does the limit allow it. limit < 0 is unmetered.
func CanConsume(used, requested, limit int) bool {
	if limit < 0 {
		return true
	}
	if requested <= 0 {
		return true
	}
	return used+requested <= limit
}

// NearQuotaLimit reports whether usage has reached 80% of a metered limit.
func NearQuotaLimit(used, limit int) bool {
	return limit > 0 && used*10 >= limit*8
}

func GetUsage(ctx context.Context, empresaId uuid.UUID, month string) (int, error) {
	var usage ConversionUsage
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("empresa_id = ? AND month = ?", empresaId, month).
		Take(&usage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return usage.Used, nil
}

// AddUsage increments the month's counter by n, creating the row on first
// use. The increment is a single statement so concurrent batches do not
// lose updates.
func AddUsage(ctx context.Context, empresaId uuid.UUID, month string, n int) error {
	if n <= 0 {
		return nil
	}
	db := config.GetDB()
	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		"INSERT INTO conversion_usages (id, empresa_id, month, used, created_at, updated_at)"+
			" VALUES (?, ?, ?, ?, ?, ?)"+
			" ON DUPLICATE KEY UPDATE used = used + VALUES(used), updated_at = VALUES(updated_at)",
		uuid.New(), empresaId, month, n, now, now,
	).Error
}
