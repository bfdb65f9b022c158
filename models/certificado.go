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

// Certificado mirrors the digital certificate registered for the tenant on
// the upstream webservice gateway. Only metadata lives here; the key
// material stays with the gateway.
type Certificado struct {
	ID          uuid.UUID  `gorm:"primary_key" json:"id"`
	EmpresaID   uuid.UUID  `gorm:"not null;unique;index" json:"empresa_id"`
	Subject     string     `gorm:"size:255" json:"subject"`
	Environment string     `gorm:"size:20;not null;default:'production'" json:"environment"`
	Valid       *bool      `gorm:"not null;default:false" json:"valid"`
	ExpiresAt   *time.Time `json:"expires_at"`
	CheckedAt   *time.Time `json:"checked_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpiringSoon reports whether the certificate expires inside the given
// window. Unknown expiry counts as expiring so it gets flagged.
func (c *Certificado) IsExpiringSoon(now time.Time, window time.Duration) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return c.ExpiresAt.Before(now.Add(window))
}

func GetCertificadoByEmpresa(ctx context.Context, empresaId uuid.UUID) (*Certificado, error) {
	var cert Certificado
	db := config.GetDB()
	err := db.WithContext(ctx).Where("empresa_id = ?", empresaId).Take(&cert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &cert, nil
}

// UpdateCertificadoStatus records the latest status-check result, creating
// the row when the tenant has no certificate registered yet.
func UpdateCertificadoStatus(ctx context.Context, empresaId uuid.UUID, valid bool, expiresAt *time.Time, environment string) error {
	db := config.GetDB()
	now := time.Now().UTC()

	cert, err := GetCertificadoByEmpresa(ctx, empresaId)
	if err != nil {
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			return err
		}
		cert = &Certificado{
			ID:        uuid.New(),
			EmpresaID: empresaId,
		}
		cert.Valid = &valid
		cert.ExpiresAt = expiresAt
		cert.CheckedAt = &now
		if environment != "" {
			cert.Environment = environment
		}
		return db.WithContext(ctx).Create(cert).Error
	}

	updates := map[string]interface{}{
		"valid":      valid,
		"expires_at": expiresAt,
		"checked_at": now,
	}
	if environment != "" {
		updates["environment"] = environment
	}
	return db.WithContext(ctx).Model(&Certificado{}).
		Where("id = ?", cert.ID).
		Updates(updates).Error
}

func ListCertificados(ctx context.Context) ([]Certificado, error) {
	var certs []Certificado
	db := config.GetDB()
	if err := db.WithContext(ctx).Find(&certs).Error; err != nil {
		return nil, err
	}
	return certs, nil
}
