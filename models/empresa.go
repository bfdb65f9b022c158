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

// Empresa is the tenant record: one company (CNPJ) whose documents are
// synchronized and converted.
type Empresa struct {
	ID              uuid.UUID `gorm:"primary_key" json:"id"`
	Cnpj            string    `gorm:"size:14;not null;unique" json:"cnpj" binding:"required,cnpj"`
	RazaoSocial     string    `gorm:"size:255;not null" json:"razao_social" binding:"required"`
	NomeFantasia    string    `gorm:"size:255" json:"nome_fantasia"`
	Uf              string    `gorm:"size:2" json:"uf"`
	Email           string    `gorm:"size:255" json:"email"`
	AutoSyncEnabled *bool     `gorm:"not null;default:true" json:"auto_sync_enabled"`
	IsActive        *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewEmpresa struct {
	Cnpj         string `json:"cnpj" binding:"required,cnpj"`
	RazaoSocial  string `json:"razao_social" binding:"required"`
	NomeFantasia string `json:"nome_fantasia"`
	Uf           string `json:"uf"`
	Email        string `json:"email"`
}

/*
caches:
	Empresa:$id
*/

func (e Empresa) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("Empresa:" + e.ID.String())
}

func CreateEmpresa(ctx context.Context, input *NewEmpresa) (*Empresa, error) {
	cnpj := utils.OnlyDigits(input.Cnpj)
	if !utils.IsValidCNPJ(cnpj) {
		return nil, errors.New("invalid cnpj")
	}

	empresa := &Empresa{
		ID:           uuid.New(),
		Cnpj:         cnpj,
		RazaoSocial:  input.RazaoSocial,
		NomeFantasia: input.NomeFantasia,
		Uf:           input.Uf,
		Email:        input.Email,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(empresa).Error; err != nil {
		return nil, err
	}
	return empresa, nil
}

func GetEmpresaById(ctx context.Context, empresaId string) (*Empresa, error) {
	var empresa Empresa
	exists, err := config.GetRedisObject("Empresa:"+empresaId, &empresa)
	if err == nil && exists {
		return &empresa, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Where("id = ?", empresaId).Take(&empresa).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	_ = config.SetRedisObject("Empresa:"+empresaId, empresa, time.Hour)
	return &empresa, nil
}

func GetEmpresaByCnpj(ctx context.Context, cnpj string) (*Empresa, error) {
	var empresa Empresa
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("cnpj = ?", utils.OnlyDigits(cnpj)).Take(&empresa).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &empresa, nil
}

// ListAutoSyncEmpresas returns every active tenant flagged for scheduled
// synchronization, in stable order so cron runs are comparable.
func ListAutoSyncEmpresas(ctx context.Context) ([]Empresa, error) {
	var empresas []Empresa
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("is_active = ? AND auto_sync_enabled = ?", true, true).
		Order("created_at").
		Find(&empresas).Error
	if err != nil {
		return nil, err
	}
	return empresas, nil
}
