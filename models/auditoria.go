package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/nfeagil/nfe_backend/config"
	"bitbucket.org/nfeagil/nfe_backend/utils"
)

// AuditFinding is one problem spotted by the consistency sweep.
type AuditFinding struct {
	EmpresaID   string `json:"empresa_id"`
	RazaoSocial string `json:"razao_social"`
	Check       string `json:"check"`
	Detail      string `json:"detail"`
}

// Audit check identifiers.
const (
	CheckChaveInvalida  = "chave_invalida"
	CheckCursorNegativo = "cursor_negativo"
	CheckCertExpirando  = "certificado_expirando"
	CheckCertAmbiente   = "certificado_ambiente"
)

const certExpiryWindow = 30 * 24 * time.Hour

// AuditChaves flags stored documents whose access key is not 44 numeric
// digits. These can only appear through manual imports or data drift.
func AuditChaves(ctx context.Context) ([]AuditFinding, error) {
	db := config.GetDB()
	type row struct {
		EmpresaID   string
		RazaoSocial string
		Chave       string
	}
	var rows []row
	err := db.WithContext(ctx).Model(&NotaFiscal{}).
		Select("nota_fiscals.empresa_id, empresas.razao_social, nota_fiscals.chave").
		Joins("JOIN empresas ON empresas.id = nota_fiscals.empresa_id").
		Where("CHAR_LENGTH(nota_fiscals.chave) <> ?", utils.ChaveLength).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	findings := make([]AuditFinding, 0, len(rows))
	for _, r := range rows {
		findings = append(findings, AuditFinding{
			EmpresaID:   r.EmpresaID,
			RazaoSocial: r.RazaoSocial,
			Check:       CheckChaveInvalida,
			Detail:      "chave com tamanho invalido: " + utils.Truncate(r.Chave, 50),
		})
	}
	return findings, nil
}

// AuditCursors flags sync cursors persisted below zero.
func AuditCursors(ctx context.Context) ([]AuditFinding, error) {
	db := config.GetDB()
	type row struct {
		EmpresaID   string
		RazaoSocial string
		LastNsu     int64
	}
	var rows []row
	err := db.WithContext(ctx).Model(&SyncState{}).
		Select("sync_states.empresa_id, empresas.razao_social, sync_states.last_nsu").
		Joins("JOIN empresas ON empresas.id = sync_states.empresa_id").
		Where("sync_states.last_nsu < 0").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	findings := make([]AuditFinding, 0, len(rows))
	for _, r := range rows {
		findings = append(findings, AuditFinding{
			EmpresaID:   r.EmpresaID,
			RazaoSocial: r.RazaoSocial,
			Check:       CheckCursorNegativo,
			Detail:      fmt.Sprintf("last_nsu = %d", r.LastNsu),
		})
	}
	return findings, nil
}

// AmbienteCorreto reports whether the certificate environment is the one
// production traffic must use.
func AmbienteCorreto(environment string) bool {
	return environment == "production"
}

// AuditCertificados flags certificates close to expiring and certificates
// registered outside the production environment.
func AuditCertificados(ctx context.Context, now time.Time) ([]AuditFinding, error) {
	certs, err := ListCertificados(ctx)
	if err != nil {
		return nil, err
	}

	var findings []AuditFinding
	for i := range certs {
		cert := &certs[i]
		empresa, err := GetEmpresaById(ctx, cert.EmpresaID.String())
		razao := ""
		if err == nil {
			razao = empresa.RazaoSocial
		}

		if cert.IsExpiringSoon(now, certExpiryWindow) {
			detail := "validade desconhecida"
			if cert.ExpiresAt != nil {
				detail = "expira em " + cert.ExpiresAt.Format("2006-01-02")
			}
			findings = append(findings, AuditFinding{
				EmpresaID:   cert.EmpresaID.String(),
				RazaoSocial: razao,
				Check:       CheckCertExpirando,
				Detail:      detail,
			})
		}
		if !AmbienteCorreto(cert.Environment) {
			findings = append(findings, AuditFinding{
				EmpresaID:   cert.EmpresaID.String(),
				RazaoSocial: razao,
				Check:       CheckCertAmbiente,
				Detail:      "ambiente: " + cert.Environment,
			})
		}
	}
	return findings, nil
}

// RunAuditoria executes every audit check and concatenates the findings.
func RunAuditoria(ctx context.Context, now time.Time) ([]AuditFinding, error) {
	var all []AuditFinding

	chaves, err := AuditChaves(ctx)
	if err != nil {
		return nil, err
	}
	all = append(all, chaves...)

	cursors, err := AuditCursors(ctx)
	if err != nil {
		return nil, err
	}
	all = append(all, cursors...)

	certs, err := AuditCertificados(ctx, now)
	if err != nil {
		return nil, err
	}
	all = append(all, certs...)

	return all, nil
}
