package danfe

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"bitbucket.org/nfeagil/nfe_backend/models"
	"github.com/google/uuid"
)

type memoryCache struct {
	store map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{store: map[string][]byte{}}
}

func (m *memoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := m.store[key]
	return v, ok, nil
}

func (m *memoryCache) Put(ctx context.Context, key string, pdf []byte) error {
	m.store[key] = pdf
	return nil
}

func TestParseTipo(t *testing.T) {
	cases := []struct {
		in       string
		expected string
		wantErr  bool
	}{
		{"", TipoXml, false},
		{"xml", TipoXml, false},
		{"PDF", TipoPdf, false},
		{"ambos", TipoAmbos, false},
		{"zip", "", true},
	}
	for _, tc := range cases {
		got, err := ParseTipo(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidTipo) {
				t.Fatalf("ParseTipo(%q) expected ErrInvalidTipo, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.expected {
			t.Fatalf("ParseTipo(%q) expected %s, got %s (%v)", tc.in, tc.expected, got, err)
		}
	}
}

func testNota(chave string, withXml bool) models.NotaFiscal {
	nota := models.NotaFiscal{
		ID:        uuid.New(),
		EmpresaID: uuid.New(),
		Chave:     chave,
	}
	if withXml {
		nota.Xml = sampleXml
	}
	return nota
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip read: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestBuildLoteXmlOnly(t *testing.T) {
	notas := []models.NotaFiscal{
		testNota(strings.Repeat("1", 44), true),
		testNota(strings.Repeat("2", 44), true),
	}

	result, err := BuildLote(context.Background(), notas, TipoXml, 7, nil, func(ctx context.Context, xml string) ([]byte, error) {
		t.Fatal("xml-only lot must not render pdfs")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("BuildLote error: %v", err)
	}
	if result.XmlCount != 2 || result.PdfCount != 0 {
		t.Fatalf("expected 2 xml / 0 pdf, got %d / %d", result.XmlCount, result.PdfCount)
	}
	if result.TotalAvailable != 7 {
		t.Fatalf("TotalAvailable expected 7, got %d", result.TotalAvailable)
	}
	names := zipNames(t, result.Zip)
	if len(names) != 2 || !strings.HasSuffix(names[0], ".xml") {
		t.Fatalf("unexpected zip entries: %v", names)
	}
}

func TestBuildLoteCacheHitSkipsRenderer(t *testing.T) {
	nota := testNota(strings.Repeat("3", 44), true)
	cache := newMemoryCache()
	cached := validPdf()
	cache.store[CacheKey(nota.EmpresaID, nota.ID)] = cached

	result, err := BuildLote(context.Background(), []models.NotaFiscal{nota}, TipoPdf, 1, cache, func(ctx context.Context, xml string) ([]byte, error) {
		t.Fatal("renderer must not be called on a cache hit")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("BuildLote error: %v", err)
	}
	if result.PdfCount != 1 {
		t.Fatalf("expected 1 pdf, got %d", result.PdfCount)
	}
}

func TestBuildLoteRenderPopulatesCache(t *testing.T) {
	nota := testNota(strings.Repeat("4", 44), true)
	cache := newMemoryCache()
	pdf := validPdf()

	result, err := BuildLote(context.Background(), []models.NotaFiscal{nota}, TipoAmbos, 1, cache, func(ctx context.Context, xml string) ([]byte, error) {
		return pdf, nil
	})
	if err != nil {
		t.Fatalf("BuildLote error: %v", err)
	}
	if result.XmlCount != 1 || result.PdfCount != 1 {
		t.Fatalf("expected 1 xml / 1 pdf, got %d / %d", result.XmlCount, result.PdfCount)
	}
	if _, ok := cache.store[CacheKey(nota.EmpresaID, nota.ID)]; !ok {
		t.Fatal("rendered pdf must be written to the cache")
	}
}

func TestBuildLotePdfFailureIsIsolated(t *testing.T) {
	good := testNota(strings.Repeat("5", 44), true)
	bad := testNota(strings.Repeat("6", 44), true)
	bad.Xml = sampleXml + "<!-- bad -->"
	pending := testNota(strings.Repeat("7", 44), false)

	result, err := BuildLote(context.Background(), []models.NotaFiscal{good, bad, pending}, TipoPdf, 3, nil, func(ctx context.Context, xml string) ([]byte, error) {
		if xml == bad.Xml {
			return nil, errors.New("renderer rejected the layout")
		}
		return validPdf(), nil
	})
	if err != nil {
		t.Fatalf("BuildLote error: %v", err)
	}
	if result.PdfCount != 1 {
		t.Fatalf("expected 1 pdf, got %d", result.PdfCount)
	}
	if len(result.PdfErrors) != 2 {
		t.Fatalf("expected 2 pdf errors (render failure + missing xml), got %v", result.PdfErrors)
	}
	for _, e := range result.PdfErrors {
		if !strings.Contains(e, ":") {
			t.Fatalf("pdf error must name the chave: %q", e)
		}
	}
}
