package sefazsync

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/nfeagil/nfe_backend/config"
	"bitbucket.org/nfeagil/nfe_backend/models"
	"bitbucket.org/nfeagil/nfe_backend/utils"
)

// DistFetcher is the gateway surface the engine needs. Tests substitute a
// canned fetcher here.
type DistFetcher interface {
	FetchDistDfe(ctx context.Context, cnpj string, ultNSU int64) (*DistDfeResponse, error)
}

// BlockCooldown is the throttle window opened after an undue-consumption
// rejection.
func BlockCooldown() time.Duration {
	return time.Duration(utils.IntFromEnv("SEFAZ_BLOCK_COOLDOWN_MINUTES", 60)) * time.Minute
}

func maxPullsPerRun() int {
	return utils.IntFromEnv("SEFAZ_MAX_PULLS_PER_RUN", 20)
}

// certWarnWindow matches the audit routine's expiry horizon.
const certWarnWindow = 30 * 24 * time.Hour

// SyncEmpresa pulls the distribution feed for one tenant until the feed is
// drained or the webservice throttles. The cursor is committed only after
// every document of a batch was stored, so a crash mid-batch re-pulls the
// same range instead of skipping it. Throttle-window enforcement is the
// caller's job; the engine only opens the window.
func SyncEmpresa(ctx context.Context, fetcher DistFetcher, empresa *models.Empresa) (*EmpresaSyncResult, error) {
	logger := config.GetLogger()

	result := &EmpresaSyncResult{
		EmpresaID: empresa.ID.String(),
		Cnpj:      empresa.Cnpj,
	}

	state, err := models.GetOrCreateSyncState(ctx, empresa.ID)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	result.FinalNsu = state.LastNsu

	for pull := 0; pull < maxPullsPerRun(); pull++ {
		resp, err := fetcher.FetchDistDfe(ctx, empresa.Cnpj, state.LastNsu)
		if err != nil {
			config.LogError(logger, "sefazsync", "SyncEmpresa", "dist-dfe pull", empresa.Cnpj, err)
			result.Error = err.Error()
			return result, err
		}

		switch resp.StatusCode {
		case StatusConsumoIndevido:
			until := time.Now().UTC().Add(BlockCooldown())
			if err := models.SetSyncBlock(ctx, state, until, resp.StatusCode); err != nil {
				result.Error = err.Error()
				return result, err
			}
			result.Throttled = true
			_, _ = models.CreateNotification(ctx, empresa.ID, models.NotifySyncThrottled,
				"Sincronização pausada",
				fmt.Sprintf("O webservice limitou as consultas. Próxima tentativa após %s.", until.Format("15:04")))
			notifyNewDocs(ctx, empresa, result.NotasNovas)
			return result, nil

		case StatusDocsFound:
			batchNovas := 0
			for i := range resp.Documentos {
				doc := &resp.Documentos[i]
				nota := &models.NotaFiscal{
					EmpresaID:    empresa.ID,
					Chave:        doc.Chave,
					Nsu:          doc.Nsu,
					Schema:       doc.Schema,
					EmitenteCnpj: utils.OnlyDigits(doc.EmitenteCnpj),
					EmitenteNome: doc.EmitenteNome,
					ValorTotal:   doc.ValorTotal,
					DataEmissao:  doc.DataEmissao,
					Xml:          doc.Xml,
				}
				created, err := models.UpsertNotaFiscal(ctx, nota)
				if err != nil {
					config.LogError(logger, "sefazsync", "SyncEmpresa", "upsert nota", doc.Chave, err)
					result.Error = err.Error()
					return result, err
				}
				if created {
					batchNovas++
				}
			}
			result.NotasNovas += batchNovas
			if err := models.CommitSyncSuccess(ctx, state, resp.UltimoNsu, resp.StatusCode, batchNovas, time.Now().UTC()); err != nil {
				result.Error = err.Error()
				return result, err
			}
			result.FinalNsu = state.LastNsu
			if resp.MaxNsu > 0 && state.LastNsu >= resp.MaxNsu {
				notifyNewDocs(ctx, empresa, result.NotasNovas)
				return result, nil
			}
			// more documents available, keep pulling

		case StatusNoDocs:
			if err := models.CommitSyncSuccess(ctx, state, resp.UltimoNsu, resp.StatusCode, 0, time.Now().UTC()); err != nil {
				result.Error = err.Error()
				return result, err
			}
			result.FinalNsu = state.LastNsu
			notifyNewDocs(ctx, empresa, result.NotasNovas)
			return result, nil

		default:
			err := fmt.Errorf("unexpected dist-dfe status %d: %s", resp.StatusCode, utils.Truncate(resp.Motivo, 256))
			config.LogError(logger, "sefazsync", "SyncEmpresa", "dist-dfe status", empresa.Cnpj, err)
			result.Error = err.Error()
			return result, err
		}
	}

	notifyNewDocs(ctx, empresa, result.NotasNovas)
	return result, nil
}

// one notification per tenant per run, never per document
func notifyNewDocs(ctx context.Context, empresa *models.Empresa, count int) {
	if count <= 0 {
		return
	}
	_, _ = models.CreateNotification(ctx, empresa.ID, models.NotifySyncCompleted,
		"Novas notas fiscais",
		fmt.Sprintf("%d nota(s) fiscal(is) nova(s) importada(s) para %s.", count, empresa.RazaoSocial))
}

// RefreshCertStatus asks the gateway about the tenant's certificate and
// stores the answer.
func RefreshCertStatus(ctx context.Context, client *microClient, empresa *models.Empresa) (*CertStatusResponse, error) {
	status, err := client.FetchCertStatus(ctx, empresa.Cnpj)
	if err != nil {
		return nil, err
	}
	if err := models.UpdateCertificadoStatus(ctx, empresa.ID, status.Valid, status.ExpirationDate, status.Environment); err != nil {
		return nil, err
	}
	if cert, err := models.GetCertificadoByEmpresa(ctx, empresa.ID); err == nil &&
		cert.IsExpiringSoon(time.Now().UTC(), certWarnWindow) {
		_, _ = models.CreateNotification(ctx, empresa.ID, models.NotifyCertExpiring,
			"Certificado digital expirando",
			"O certificado digital expira em breve. Renove para não interromper a sincronização.")
	}
	return status, nil
}
