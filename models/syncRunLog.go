package models

import (
	"context"
	"time"

	"bitbucket.org/nfeagil/nfe_backend/config"
	"bitbucket.org/nfeagil/nfe_backend/utils"
	"github.com/google/uuid"
)

// Run outcome values for SyncRunLog.Status.
const (
	RunSuccess = "success"
	RunPartial = "partial"
	RunError   = "error"
)

// SyncRunLog is one row per scheduled sweep, summarizing how many tenants
// were processed and how the sweep ended.
type SyncRunLog struct {
	ID            uuid.UUID `gorm:"primary_key" json:"id"`
	Status        string    `gorm:"size:10;not null" json:"status"`
	EmpresasTotal int       `gorm:"not null" json:"empresas_total"`
	EmpresasOk    int       `gorm:"not null" json:"empresas_ok"`
	EmpresasFail  int       `gorm:"not null" json:"empresas_fail"`
	NotasNovas    int       `gorm:"not null" json:"notas_novas"`
	ErrorSummary  string    `gorm:"size:2000" json:"error_summary"`
	StartedAt     time.Time `gorm:"not null" json:"started_at"`
	FinishedAt    time.Time `gorm:"not null" json:"finished_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// RunStatus classifies a finished sweep from its counters.
func RunStatus(total, failed int) string {
	switch {
	case failed == 0:
		return RunSuccess
	case failed < total:
		return RunPartial
	default:
		return RunError
	}
}

func CreateSyncRunLog(ctx context.Context, run *SyncRunLog) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.ErrorSummary = utils.Truncate(run.ErrorSummary, 2000)
	db := config.GetDB()
	return db.WithContext(ctx).Create(run).Error
}

func ListRecentSyncRuns(ctx context.Context, limit int) ([]SyncRunLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []SyncRunLog
	db := config.GetDB()
	err := db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}
