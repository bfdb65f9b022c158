package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/nfeagil/nfe_backend/config"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncState holds the per-tenant distribution cursor. LastNsu only moves
// forward; a regression would re-download documents already stored.
type SyncState struct {
	ID             uuid.UUID  `gorm:"primary_key" json:"id"`
	EmpresaID      uuid.UUID  `gorm:"not null;unique;index" json:"empresa_id"`
	LastNsu        int64      `gorm:"not null;default:0" json:"last_nsu"`
	LastStatusCode int        `gorm:"not null;default:0" json:"last_status_code"`
	TotalImported  int64      `gorm:"not null;default:0" json:"total_imported"`
	LastSyncAt     *time.Time `json:"last_sync_at"`
	BlockUntil     *time.Time `json:"block_until"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SanitizeNsu maps any negative stored cursor back to zero. Zero means
// "from the beginning" on the distribution endpoint.
func SanitizeNsu(nsu int64) int64 {
	if nsu < 0 {
		return 0
	}
	return nsu
}

// AdvanceNsu returns the cursor after a successful pull. The cursor never
// regresses: a stale ultimoNsu from the upstream keeps the current value.
func AdvanceNsu(current, returned int64) int64 {
	if returned > current {
		return returned
	}
	return current
}

// IsBlocked reports whether the tenant is inside a throttle window set
// after the webservice rejected the pull for undue consumption.
func (s *SyncState) IsBlocked(now time.Time) bool {
	return s.BlockUntil != nil && now.Before(*s.BlockUntil)
}

func GetOrCreateSyncState(ctx context.Context, empresaId uuid.UUID) (*SyncState, error) {
	db := config.GetDB()
	var state SyncState
	err := db.WithContext(ctx).Where("empresa_id = ?", empresaId).Take(&state).Error
	if err == nil {
		state.LastNsu = SanitizeNsu(state.LastNsu)
		return &state, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	state = SyncState{
		ID:        uuid.New(),
		EmpresaID: empresaId,
		LastNsu:   0,
	}
	if err := db.WithContext(ctx).Create(&state).Error; err != nil {
		// concurrent creation: fall back to the winner's row
		var existing SyncState
		if err2 := db.WithContext(ctx).Where("empresa_id = ?", empresaId).Take(&existing).Error; err2 == nil {
			existing.LastNsu = SanitizeNsu(existing.LastNsu)
			return &existing, nil
		}
		return nil, err
	}
	return &state, nil
}

// CommitSyncSuccess persists the advanced cursor and clears any expired
// throttle window. Called only after every returned document was stored.
func CommitSyncSuccess(ctx context.Context, state *SyncState, returnedNsu int64, statusCode, imported int, now time.Time) error {
	state.LastNsu = AdvanceNsu(SanitizeNsu(state.LastNsu), returnedNsu)
	state.LastStatusCode = statusCode
	state.TotalImported += int64(imported)
	state.LastSyncAt = &now
	if state.BlockUntil != nil && !now.Before(*state.BlockUntil) {
		state.BlockUntil = nil
	}
	db := config.GetDB()
	return db.WithContext(ctx).Model(&SyncState{}).
		Where("id = ?", state.ID).
		Updates(map[string]interface{}{
			"last_nsu":         state.LastNsu,
			"last_status_code": state.LastStatusCode,
			"total_imported":   state.TotalImported,
			"last_sync_at":     state.LastSyncAt,
			"block_until":      state.BlockUntil,
		}).Error
}

// SetSyncBlock opens a throttle window after a status 656 response. The
// cursor is left untouched.
func SetSyncBlock(ctx context.Context, state *SyncState, until time.Time, statusCode int) error {
	state.BlockUntil = &until
	state.LastStatusCode = statusCode
	db := config.GetDB()
	return db.WithContext(ctx).Model(&SyncState{}).
		Where("id = ?", state.ID).
		Updates(map[string]interface{}{
			"block_until":      until,
			"last_status_code": statusCode,
		}).Error
}
