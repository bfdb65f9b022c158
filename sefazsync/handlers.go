package sefazsync

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/nfeagil/nfe_backend/config"
	"bitbucket.org/nfeagil/nfe_backend/models"
	"bitbucket.org/nfeagil/nfe_backend/utils"
	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
)

type autoSyncRequest struct {
	UserId string `json:"userId"`
	Cnpj   string `json:"cnpj" binding:"required,cnpj"`
}

// AutoSyncHandler synchronizes one tenant on demand. Routed behind the
// internal-secret middleware.
func AutoSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req autoSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		ctx := c.Request.Context()
		empresa, err := models.GetEmpresaByCnpj(ctx, req.Cnpj)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "empresa not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		fetcher, err := NewMicroClient()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		result, err := SyncEmpresa(ctx, fetcher, empresa)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": result.Error, "result": result})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// SyncDailyHandler sweeps every auto-sync tenant sequentially. One tenant's
// failure never aborts the others; the sweep always writes a run-log row.
// Routed behind the cron-secret middleware.
func SyncDailyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		logger := config.GetLogger()
		startedAt := time.Now().UTC()

		empresas, err := models.ListAutoSyncEmpresas(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		fetcher, err := NewMicroClient()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		locker := config.GetRedisLock()

		summary := SyncSummaryResponse{EmpresasTotal: len(empresas)}
		var errorParts []string
		now := time.Now().UTC()

		for i := range empresas {
			empresa := &empresas[i]

			state, err := models.GetOrCreateSyncState(ctx, empresa.ID)
			if err != nil {
				summary.EmpresasFail++
				errorParts = append(errorParts, empresa.Cnpj+": "+err.Error())
				summary.Results = append(summary.Results, EmpresaSyncResult{
					EmpresaID: empresa.ID.String(),
					Cnpj:      empresa.Cnpj,
					Error:     err.Error(),
				})
				continue
			}
			if state.IsBlocked(now) {
				summary.Results = append(summary.Results, EmpresaSyncResult{
					EmpresaID: empresa.ID.String(),
					Cnpj:      empresa.Cnpj,
					Skipped:   true,
					FinalNsu:  state.LastNsu,
				})
				continue
			}

			// best effort: overlapping sweeps converge anyway through the
			// upsert and the monotonic cursor
			var lock *redislock.Lock
			if locker != nil {
				lock, err = locker.Obtain(ctx, "SyncLock:"+empresa.ID.String(), 5*time.Minute, nil)
				if err != nil {
					if errors.Is(err, redislock.ErrNotObtained) {
						summary.Results = append(summary.Results, EmpresaSyncResult{
							EmpresaID: empresa.ID.String(),
							Cnpj:      empresa.Cnpj,
							Skipped:   true,
							FinalNsu:  state.LastNsu,
						})
						continue
					}
					lock = nil
				}
			}

			result, err := SyncEmpresa(ctx, fetcher, empresa)
			if lock != nil {
				_ = lock.Release(ctx)
			}

			summary.Results = append(summary.Results, *result)
			summary.NotasNovas += result.NotasNovas
			if err != nil {
				summary.EmpresasFail++
				errorParts = append(errorParts, empresa.Cnpj+": "+result.Error)
				_, _ = models.CreateNotification(ctx, empresa.ID, models.NotifySyncFailed,
					"Falha na sincronização",
					"A sincronização automática falhou: "+utils.Truncate(result.Error, 500))
				continue
			}
			summary.EmpresasOk++
		}

		summary.Status = models.RunStatus(summary.EmpresasTotal, summary.EmpresasFail)

		run := &models.SyncRunLog{
			Status:        summary.Status,
			EmpresasTotal: summary.EmpresasTotal,
			EmpresasOk:    summary.EmpresasOk,
			EmpresasFail:  summary.EmpresasFail,
			NotasNovas:    summary.NotasNovas,
			ErrorSummary:  strings.Join(errorParts, "; "),
			StartedAt:     startedAt,
			FinishedAt:    time.Now().UTC(),
		}
		if err := models.CreateSyncRunLog(ctx, run); err != nil {
			config.LogError(logger, "sefazsync", "SyncDailyHandler", "run log", summary.Status, err)
		}

		c.JSON(http.StatusOK, summary)
	}
}

// SyncHistoryHandler lists recent sweep summaries. Routed behind the
// cron-secret middleware.
func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runs, err := models.ListRecentSyncRuns(c.Request.Context(), utils.IntFromEnv("SYNC_HISTORY_LIMIT", 20))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": runs})
	}
}

type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageId string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type syncPushPayload struct {
	Cnpj string `json:"cnpj"`
}

// PubSubPushHandler accepts scheduler push deliveries requesting a tenant
// sync. Malformed envelopes are acked with 204 so the subscription does
// not redeliver garbage forever.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var envelope pushEnvelope
		if err := c.ShouldBindJSON(&envelope); err != nil {
			logger.WithField("error", err.Error()).Warn("push envelope unreadable, acking")
			c.Status(http.StatusNoContent)
			return
		}

		raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
		if err != nil {
			logger.WithField("message_id", envelope.Message.MessageId).Warn("push data not base64, acking")
			c.Status(http.StatusNoContent)
			return
		}

		var payload syncPushPayload
		if err := json.Unmarshal(raw, &payload); err != nil || !utils.IsValidCNPJ(utils.OnlyDigits(payload.Cnpj)) {
			logger.WithField("message_id", envelope.Message.MessageId).Warn("push payload invalid, acking")
			c.Status(http.StatusNoContent)
			return
		}

		ctx := c.Request.Context()
		empresa, err := models.GetEmpresaByCnpj(ctx, payload.Cnpj)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.Status(http.StatusNoContent)
				return
			}
			// transient, let the subscription redeliver
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		fetcher, err := NewMicroClient()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if _, err := SyncEmpresa(ctx, fetcher, empresa); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// CertStatusHandler refreshes and returns the certificate status for the
// session tenant.
func CertStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		empresa, err := ResolveEmpresa(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		client, err := NewMicroClient()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		status, err := RefreshCertStatus(c.Request.Context(), client, empresa)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// ResolveEmpresa maps the session user to their tenant.
func ResolveEmpresa(c *gin.Context) (*models.Empresa, error) {
	ctx := c.Request.Context()
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || strings.TrimSpace(username) == "" {
		return nil, errors.New("unauthorized")
	}

	user, err := models.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, errors.New("unauthorized")
	}
	return models.GetEmpresaById(ctx, user.EmpresaID.String())
}
