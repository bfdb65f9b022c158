package danfe

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/nfeagil/nfe_backend/config"
	"bitbucket.org/nfeagil/nfe_backend/models"
	"bitbucket.org/nfeagil/nfe_backend/sefazsync"
	"github.com/gin-gonic/gin"
)

// ConvertBatchHandler accepts up to MaxBatchFiles XML uploads and returns
// the rendered PDFs: a bare PDF for a single success, a zip otherwise.
// Quota for metered plans is checked before any rendering and consumed
// only by the items that actually succeeded.
func ConvertBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		empresa, err := sefazsync.ResolveEmpresa(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		assinatura, err := models.GetCurrentAssinatura(ctx, empresa.ID)
		if err != nil {
			if errors.Is(err, models.ErrNoSubscription) {
				c.JSON(http.StatusPaymentRequired, gin.H{"error": "no active subscription"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !assinatura.HasAccess(time.Now().UTC()) {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "subscription does not allow conversions"})
			return
		}

		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
			return
		}
		files := form.File["files[]"]
		if len(files) == 0 {
			files = form.File["files"]
		}
		if len(files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no files uploaded"})
			return
		}
		if len(files) > MaxBatchFiles {
			c.JSON(http.StatusBadRequest, gin.H{"error": ErrBatchTooLarge.Error()})
			return
		}

		month := models.UsageMonthKey(time.Now())
		limit := assinatura.MonthlyConversionLimit()
		used, err := models.GetUsage(ctx, empresa.ID, month)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !models.CanConsume(used, len(files), limit) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "LIMIT_REACHED",
				"usage": used,
				"limit": limit,
			})
			return
		}

		items := make([]BatchItem, 0, len(files))
		for _, fh := range files {
			f, err := fh.Open()
			if err != nil {
				items = append(items, BatchItem{Name: fh.Filename})
				continue
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				items = append(items, BatchItem{Name: fh.Filename})
				continue
			}
			items = append(items, BatchItem{Name: fh.Filename, Xml: string(content)})
		}

		converter := NewConverter()
		outcome, err := ProcessBatch(ctx, items, converter.Convert)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if outcome.Succeeded == 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":    "no file could be converted",
				"failures": outcome.Errors(),
			})
			return
		}

		if limit >= 0 {
			if err := models.AddUsage(ctx, empresa.ID, month, outcome.Succeeded); err != nil {
				config.LogError(config.GetLogger(), "danfe", "ConvertBatchHandler", "usage increment", empresa.ID.String(), err)
			}
			// warn once, when this batch crosses the 80% line
			newUsed := used + outcome.Succeeded
			if !models.NearQuotaLimit(used, limit) && models.NearQuotaLimit(newUsed, limit) {
				_, _ = models.CreateNotification(ctx, empresa.ID, models.NotifyQuotaNearLimit,
					"Limite de conversões próximo",
					fmt.Sprintf("%d de %d conversões utilizadas neste mês.", newUsed, limit))
			}
		}

		if outcome.Failed > 0 {
			_, _ = models.CreateNotification(ctx, empresa.ID, models.NotifyBatchConversion,
				"Conversão parcial",
				fmt.Sprintf("%d de %d arquivo(s) convertido(s).", outcome.Succeeded, outcome.Succeeded+outcome.Failed))
		}

		c.Header("X-Batch-Succeeded", strconv.Itoa(outcome.Succeeded))
		c.Header("X-Batch-Failed", strconv.Itoa(outcome.Failed))
		if failures := outcome.Errors(); len(failures) > 0 {
			c.Header("X-Batch-Errors", strings.Join(failures, "; "))
		}

		if outcome.Succeeded == 1 {
			for _, r := range outcome.Results {
				if r.Err == nil {
					c.Header("Content-Disposition", `attachment; filename="`+pdfName(r.Name)+`"`)
					c.Data(http.StatusOK, "application/pdf", r.Pdf)
					return
				}
			}
		}

		zipped, err := zipResults(outcome.Results)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", `attachment; filename="danfes.zip"`)
		c.Data(http.StatusOK, "application/zip", zipped)
	}
}

// ConversionUsageHandler reports the tenant's quota position.
func ConversionUsageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		empresa, err := sefazsync.ResolveEmpresa(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		assinatura, err := models.GetCurrentAssinatura(ctx, empresa.ID)
		if err != nil {
			if errors.Is(err, models.ErrNoSubscription) {
				c.JSON(http.StatusPaymentRequired, gin.H{"error": "no active subscription"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		used, err := models.GetUsage(ctx, empresa.ID, models.UsageMonthKey(time.Now()))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		limit := assinatura.MonthlyConversionLimit()
		unlimited := limit < 0
		remaining := -1
		if !unlimited {
			remaining = limit - used
			if remaining < 0 {
				remaining = 0
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"usage":     used,
			"limit":     limit,
			"remaining": remaining,
			"plan":      assinatura.Plan,
			"unlimited": unlimited,
		})
	}
}

// DownloadLoteHandler streams a zip of the tenant's documents, as XML, PDF
// or both. PDF failures are reported in headers without failing the lot.
func DownloadLoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		empresa, err := sefazsync.ResolveEmpresa(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		tipo, err := ParseTipo(c.Query("tipo"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		filter, err := filterFromQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		notas, total, err := models.ListNotas(ctx, empresa.ID, filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(notas) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no documents match the selection"})
			return
		}

		converter := NewConverter()
		result, err := BuildLote(ctx, notas, tipo, int(total), NewGCSPdfCache(), converter.Convert)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Header("X-Xml-Count", strconv.Itoa(result.XmlCount))
		c.Header("X-Pdf-Count", strconv.Itoa(result.PdfCount))
		c.Header("X-Pdf-Errors", strconv.Itoa(len(result.PdfErrors)))
		c.Header("X-Total-Available", strconv.Itoa(result.TotalAvailable))
		c.Header("Content-Disposition", `attachment; filename="notas.zip"`)
		c.Data(http.StatusOK, "application/zip", result.Zip)
	}
}

func filterFromQuery(c *gin.Context) (models.NotaFilter, error) {
	filter := models.NotaFilter{
		EmitenteCnpj: c.Query("emitente"),
		Limit:        MaxLoteDocuments,
	}

	if period := strings.TrimSpace(c.Query("period")); period != "" {
		start, err := time.Parse("2006-01", period)
		if err != nil {
			return filter, errors.New("period must be YYYY-MM")
		}
		end := start.AddDate(0, 1, 0).Add(-time.Second)
		filter.FromDate = &start
		filter.ToDate = &end
		return filter, nil
	}

	if from := strings.TrimSpace(c.Query("from")); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return filter, errors.New("from must be YYYY-MM-DD")
		}
		filter.FromDate = &t
	}
	if to := strings.TrimSpace(c.Query("to")); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return filter, errors.New("to must be YYYY-MM-DD")
		}
		end := t.AddDate(0, 0, 1).Add(-time.Second)
		filter.ToDate = &end
	}
	return filter, nil
}

func pdfName(original string) string {
	base := strings.TrimSuffix(original, ".xml")
	if base == "" {
		base = "danfe"
	}
	return base + ".pdf"
}
