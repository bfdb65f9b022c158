package danfe

import (
	"context"
	"fmt"

	"bitbucket.org/nfeagil/nfe_backend/utils"
	"github.com/google/uuid"
)

// PdfCache stores rendered PDFs keyed by (tenant, document). The rendered
// output for a key is deterministic given the same XML, so unconditional
// overwrite is safe.
type PdfCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, pdf []byte) error
}

// CacheKey is the blob path for a tenant's rendered document.
func CacheKey(empresaId uuid.UUID, notaId uuid.UUID) string {
	return fmt.Sprintf("danfe-cache/%s/%s.pdf", empresaId, notaId)
}

type gcsPdfCache struct{}

// NewGCSPdfCache caches PDFs in the configured bucket.
func NewGCSPdfCache() PdfCache {
	return gcsPdfCache{}
}

func (gcsPdfCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return utils.DownloadBytesFromGCS(ctx, key)
}

func (gcsPdfCache) Put(ctx context.Context, key string, pdf []byte) error {
	return utils.UploadBytesToGCS(ctx, key, pdf, "application/pdf")
}

// CachedConvert returns the cached PDF for the document when present,
// otherwise renders, stores, and returns it. Cache failures degrade to a
// plain render; they never fail the request.
func CachedConvert(ctx context.Context, cache PdfCache, convert ConvertFunc, empresaId, notaId uuid.UUID, xmlContent string) ([]byte, error) {
	key := CacheKey(empresaId, notaId)

	if cache != nil {
		if pdf, found, err := cache.Get(ctx, key); err == nil && found {
			return pdf, nil
		}
	}

	pdf, err := convert(ctx, xmlContent)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		_ = cache.Put(ctx, key, pdf)
	}
	return pdf, nil
}
