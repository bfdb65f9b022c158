package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/nfeagil/nfe_backend/config"
	"bitbucket.org/nfeagil/nfe_backend/utils"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Document availability states.
const (
	NotaXmlDisponivel = "xml_disponivel"
	NotaXmlPendente   = "xml_pendente"
)

// Manifestation outcomes recorded against a document.
const (
	ManifestacaoCiencia      = "ciencia"
	ManifestacaoConfirmacao  = "confirmacao"
	ManifestacaoDesconhecida = "desconhecimento"
	ManifestacaoNaoRealizada = "operacao_nao_realizada"
)

// NotaFiscal is one synchronized fiscal document. Chave is the 44-digit
// access key and is the idempotence boundary: one row per chave per tenant.
type NotaFiscal struct {
	ID             uuid.UUID       `gorm:"primary_key" json:"id"`
	EmpresaID      uuid.UUID       `gorm:"not null;index;uniqueIndex:idx_nota_empresa_chave" json:"empresa_id"`
	Chave          string          `gorm:"size:44;not null;uniqueIndex:idx_nota_empresa_chave" json:"chave"`
	Nsu            int64           `gorm:"not null;index" json:"nsu"`
	Schema         string          `gorm:"size:64" json:"schema"`
	Status         string          `gorm:"size:20;not null;default:'xml_pendente'" json:"status"`
	Manifestacao   string          `gorm:"size:30" json:"manifestacao"`
	ManifestadaEm  *time.Time      `json:"manifestada_em"`
	EmitenteCnpj   string          `gorm:"size:14;index" json:"emitente_cnpj"`
	EmitenteNome   string          `gorm:"size:255" json:"emitente_nome"`
	ValorTotal     decimal.Decimal `gorm:"type:decimal(18,2)" json:"valor_total"`
	DataEmissao    *time.Time      `json:"data_emissao"`
	Xml            string          `gorm:"type:longtext" json:"-"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

const mysqlDuplicateEntry = 1062

// UpsertNotaFiscal stores a pulled document. Returns created=false when a
// row with the same chave already exists for the tenant; the existing row
// keeps its content and only the NSU high-water mark is refreshed.
func UpsertNotaFiscal(ctx context.Context, nota *NotaFiscal) (created bool, err error) {
	if !utils.IsValidChave(nota.Chave) {
		return false, errors.New("invalid chave: " + utils.Truncate(nota.Chave, 50))
	}

	db := config.GetDB()

	if nota.Status == "" {
		if nota.Xml != "" {
			nota.Status = NotaXmlDisponivel
		} else {
			nota.Status = NotaXmlPendente
		}
	}

	var existing NotaFiscal
	err = db.WithContext(ctx).
		Where("empresa_id = ? AND chave = ?", nota.EmpresaID, nota.Chave).
		Take(&existing).Error
	if err == nil {
		updates := map[string]interface{}{}
		if nota.Nsu > existing.Nsu {
			updates["nsu"] = nota.Nsu
		}
		// a redelivery can carry the XML a summary event lacked
		if existing.Status == NotaXmlPendente && nota.Xml != "" {
			updates["xml"] = nota.Xml
			updates["status"] = NotaXmlDisponivel
		}
		if len(updates) > 0 {
			err = db.WithContext(ctx).Model(&NotaFiscal{}).
				Where("id = ?", existing.ID).
				Updates(updates).Error
		}
		nota.ID = existing.ID
		return false, err
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	if nota.ID == uuid.Nil {
		nota.ID = uuid.New()
	}
	err = db.WithContext(ctx).Create(nota).Error
	if err != nil {
		// lost the race against a concurrent pull of the same chave
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func GetNotaById(ctx context.Context, empresaId uuid.UUID, notaId string) (*NotaFiscal, error) {
	var nota NotaFiscal
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("empresa_id = ? AND id = ?", empresaId, notaId).
		Take(&nota).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &nota, nil
}

// ManifestarNota records the recipient's manifestation for the document.
func ManifestarNota(ctx context.Context, empresaId uuid.UUID, notaId string, manifestacao string) error {
	switch manifestacao {
	case ManifestacaoCiencia, ManifestacaoConfirmacao, ManifestacaoDesconhecida, ManifestacaoNaoRealizada:
	default:
		return errors.New("invalid manifestacao: " + manifestacao)
	}
	db := config.GetDB()
	now := time.Now().UTC()
	result := db.WithContext(ctx).Model(&NotaFiscal{}).
		Where("empresa_id = ? AND id = ?", empresaId, notaId).
		Updates(map[string]interface{}{
			"manifestacao":   manifestacao,
			"manifestada_em": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

// DeleteNota removes a document on user request. Synchronization never
// deletes rows.
func DeleteNota(ctx context.Context, empresaId uuid.UUID, notaId string) error {
	db := config.GetDB()
	result := db.WithContext(ctx).
		Where("empresa_id = ? AND id = ?", empresaId, notaId).
		Delete(&NotaFiscal{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

// NotaFilter narrows lot downloads and listings.
type NotaFilter struct {
	EmitenteCnpj string
	FromDate     *time.Time
	ToDate       *time.Time
	Limit        int
	Offset       int
}

func ListNotas(ctx context.Context, empresaId uuid.UUID, filter NotaFilter) ([]NotaFiscal, int64, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&NotaFiscal{}).Where("empresa_id = ?", empresaId)
	if filter.EmitenteCnpj != "" {
		q = q.Where("emitente_cnpj = ?", utils.OnlyDigits(filter.EmitenteCnpj))
	}
	if filter.FromDate != nil {
		q = q.Where("data_emissao >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		q = q.Where("data_emissao <= ?", *filter.ToDate)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var notas []NotaFiscal
	if err := q.Order("data_emissao DESC, chave").Find(&notas).Error; err != nil {
		return nil, 0, err
	}
	return notas, total, nil
}
