package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/nfeagil/nfe_backend/config"
	"bitbucket.org/nfeagil/nfe_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Subscription plans and lifecycle states. The most recent row per tenant
// is the authoritative one; older rows are history.
const (
	PlanStarter      = "starter"
	PlanProfessional = "professional"

	StatusTrialing = "trialing"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
)

type Assinatura struct {
	ID         uuid.UUID  `gorm:"primary_key" json:"id"`
	EmpresaID  uuid.UUID  `gorm:"not null;index" json:"empresa_id"`
	Plan       string     `gorm:"size:20;not null" json:"plan"`
	Status     string     `gorm:"size:20;not null" json:"status"`
	IsLifetime *bool      `gorm:"not null;default:false" json:"is_lifetime"`
	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

var ErrNoSubscription = errors.New("no subscription")

// HasAccess reports whether the subscription grants use of the paid
// features right now. Lifetime rows never expire regardless of status
// timestamps; otherwise only trialing and active states grant access.
func (a *Assinatura) HasAccess(now time.Time) bool {
	if a.IsLifetime != nil && *a.IsLifetime {
		return true
	}
	switch a.Status {
	case StatusTrialing, StatusActive:
	default:
		return false
	}
	if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
		return false
	}
	return true
}

// IsMetered reports whether conversions on this plan count against the
// monthly quota. Professional conversions are unmetered.
func (a *Assinatura) IsMetered() bool {
	return a.Plan != PlanProfessional
}

// MonthlyConversionLimit returns the plan's conversion quota, or -1 for
// unmetered plans.
func (a *Assinatura) MonthlyConversionLimit() int {
	if !a.IsMetered() {
		return -1
	}
	return utils.IntFromEnv("CONVERSION_MONTHLY_LIMIT", 50)
}

// GetCurrentAssinatura returns the most recent subscription row for the
// tenant, cached briefly since it is read on every conversion.
func GetCurrentAssinatura(ctx context.Context, empresaId uuid.UUID) (*Assinatura, error) {
	var assinatura Assinatura
	cacheKey := "Assinatura:" + empresaId.String()
	exists, err := config.GetRedisObject(cacheKey, &assinatura)
	if err == nil && exists {
		return &assinatura, nil
	}

	db := config.GetDB()
	err = db.WithContext(ctx).
		Where("empresa_id = ?", empresaId).
		Order("started_at DESC").
		Take(&assinatura).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSubscription
		}
		return nil, err
	}
	_ = config.SetRedisObject(cacheKey, assinatura, 5*time.Minute)
	return &assinatura, nil
}

func (a Assinatura) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("Assinatura:" + a.EmpresaID.String())
}

type NewAssinatura struct {
	EmpresaID  string     `json:"empresa_id" binding:"required,uuid"`
	Plan       string     `json:"plan" binding:"required,oneof=starter professional"`
	Status     string     `json:"status" binding:"required,oneof=trialing active past_due canceled expired"`
	IsLifetime bool       `json:"is_lifetime"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

func CreateAssinatura(ctx context.Context, input *NewAssinatura) (*Assinatura, error) {
	empresaId, err := uuid.Parse(input.EmpresaID)
	if err != nil {
		return nil, errors.New("invalid empresa_id")
	}

	assinatura := &Assinatura{
		ID:         uuid.New(),
		EmpresaID:  empresaId,
		Plan:       input.Plan,
		Status:     input.Status,
		IsLifetime: &input.IsLifetime,
		StartedAt:  time.Now().UTC(),
		ExpiresAt:  input.ExpiresAt,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(assinatura).Error; err != nil {
		return nil, err
	}
	_ = assinatura.RemoveInstanceRedis()
	return assinatura, nil
}
