package models

import (
	"context"
	"time"

	"bitbucket.org/nfeagil/nfe_backend/config"
	"bitbucket.org/nfeagil/nfe_backend/utils"
	"github.com/google/uuid"
)

// Notification types surfaced to tenants.
const (
	NotifySyncCompleted   = "sync_completed"
	NotifySyncFailed      = "sync_failed"
	NotifySyncThrottled   = "sync_throttled"
	NotifyQuotaNearLimit  = "quota_near_limit"
	NotifyCertExpiring    = "certificate_expiring"
	NotifyBatchConversion = "batch_conversion"
)

type Notification struct {
	ID        uuid.UUID  `gorm:"primary_key" json:"id"`
	EmpresaID uuid.UUID  `gorm:"not null;index" json:"empresa_id"`
	Type      string     `gorm:"size:40;not null" json:"type"`
	Title     string     `gorm:"size:255;not null" json:"title"`
	Message   string     `gorm:"size:2000" json:"message"`
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// CreateNotification stores the row and forwards the event to pub/sub.
// Publishing is best effort: a broker outage must not fail the operation
// that raised the notification.
func CreateNotification(ctx context.Context, empresaId uuid.UUID, notifyType, title, message string) (*Notification, error) {
	notification := &Notification{
		ID:        uuid.New(),
		EmpresaID: empresaId,
		Type:      notifyType,
		Title:     title,
		Message:   utils.Truncate(message, 2000),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(notification).Error; err != nil {
		return nil, err
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	event := config.NotificationEvent{
		EmpresaId:     empresaId.String(),
		Type:          notifyType,
		Title:         title,
		Message:       notification.Message,
		OccurredAt:    notification.CreatedAt,
		CorrelationId: correlationId,
	}
	if _, err := config.PublishNotificationEvent(ctx, event); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "models", "CreateNotification", "publish failed", notifyType, err)
	}
	return notification, nil
}

func ListNotifications(ctx context.Context, empresaId uuid.UUID, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	db := config.GetDB()
	q := db.WithContext(ctx).Where("empresa_id = ?", empresaId)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var notifications []Notification
	if err := q.Order("created_at DESC").Limit(limit).Find(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}

func MarkNotificationRead(ctx context.Context, empresaId uuid.UUID, notificationId string) error {
	db := config.GetDB()
	now := time.Now().UTC()
	return db.WithContext(ctx).Model(&Notification{}).
		Where("empresa_id = ? AND id = ?", empresaId, notificationId).
		Update("read_at", now).Error
}
