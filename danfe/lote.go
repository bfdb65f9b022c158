package danfe

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"

	"bitbucket.org/nfeagil/nfe_backend/models"
)

// Lot download content selection.
const (
	TipoXml   = "xml"
	TipoPdf   = "pdf"
	TipoAmbos = "ambos"
)

var ErrInvalidTipo = errors.New("tipo must be xml, pdf or ambos")

// MaxLoteDocuments caps one lot download so a huge tenant cannot pin the
// renderer for the whole request deadline.
const MaxLoteDocuments = 500

// zipResults archives the successful conversions of a batch.
func zipResults(results []BatchResult) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		w, err := zw.Create(pdfName(r.Name))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(r.Pdf); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseTipo validates the tipo query parameter, defaulting to xml.
func ParseTipo(tipo string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(tipo)) {
	case "", TipoXml:
		return TipoXml, nil
	case TipoPdf:
		return TipoPdf, nil
	case TipoAmbos:
		return TipoAmbos, nil
	default:
		return "", ErrInvalidTipo
	}
}

// LoteResult is a built archive plus the counters surfaced as response
// headers.
type LoteResult struct {
	Zip            []byte
	XmlCount       int
	PdfCount       int
	PdfErrors      []string
	TotalAvailable int
}

// BuildLote packages the selected documents into a zip. XML comes straight
// from storage; PDFs go through the cache-or-render path. A PDF failure is
// recorded per document and never aborts the lot.
func BuildLote(ctx context.Context, notas []models.NotaFiscal, tipo string, total int, cache PdfCache, convert ConvertFunc) (*LoteResult, error) {
	result := &LoteResult{TotalAvailable: total}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for i := range notas {
		nota := &notas[i]

		if tipo == TipoXml || tipo == TipoAmbos {
			if nota.Xml != "" {
				w, err := zw.Create(nota.Chave + ".xml")
				if err != nil {
					return nil, err
				}
				if _, err := w.Write([]byte(nota.Xml)); err != nil {
					return nil, err
				}
				result.XmlCount++
			}
		}

		if tipo == TipoPdf || tipo == TipoAmbos {
			if nota.Xml == "" {
				result.PdfErrors = append(result.PdfErrors, nota.Chave+": xml indisponivel")
				continue
			}
			pdf, err := CachedConvert(ctx, cache, convert, nota.EmpresaID, nota.ID, nota.Xml)
			if err != nil {
				result.PdfErrors = append(result.PdfErrors, nota.Chave+": "+err.Error())
				continue
			}
			w, err := zw.Create(nota.Chave + ".pdf")
			if err != nil {
				return nil, err
			}
			if _, err := w.Write(pdf); err != nil {
				return nil, err
			}
			result.PdfCount++
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	result.Zip = buf.Bytes()
	return result, nil
}
