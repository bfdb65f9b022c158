package danfe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"bitbucket.org/nfeagil/nfe_backend/utils"
)

// A rendered PDF smaller than this is assumed to be an upstream error page
// that slipped through with a 200.
const MinPdfBytes = 1024

// Each failure class gets its own error so callers can tell a
// misconfiguration from a caller mistake from an upstream fault.
var (
	ErrMissingApiKey = errors.New("danfe api key is not configured")
	ErrEmptyXml      = errors.New("xml content is empty")
	ErrBadEnvelope   = errors.New("danfe renderer returned an unexpected envelope")
	ErrPdfTooSmall   = errors.New("danfe renderer returned an implausibly small pdf")
)

// Converter renders one NF-e XML into a DANFE PDF through the external
// rendering service. It never retries; the caller owns retry policy.
type Converter struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewConverter() *Converter {
	baseURL := strings.TrimSpace(os.Getenv("DANFE_API_URL"))
	if baseURL == "" {
		baseURL = "https://api.nuvemfiscal.com.br"
	}
	timeout := time.Duration(utils.IntFromEnv("DANFE_TIMEOUT_SECONDS", 45)) * time.Second

	return &Converter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(os.Getenv("DANFE_API_KEY")),
		http:    &http.Client{Timeout: timeout},
	}
}

// NewConverterWith builds a converter against an explicit endpoint, used by
// tests to point at a local server.
func NewConverterWith(baseURL, apiKey string, client *http.Client) *Converter {
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}
	return &Converter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    client,
	}
}

type renderEnvelope struct {
	Data string `json:"data"`
}

// Convert renders xmlContent and returns the PDF bytes.
func (c *Converter) Convert(ctx context.Context, xmlContent string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, ErrMissingApiKey
	}
	if strings.TrimSpace(xmlContent) == "" {
		return nil, ErrEmptyXml
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/xml-to-da", strings.NewReader(xmlContent))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("danfe renderer error %d: %s", resp.StatusCode, utils.Truncate(strings.TrimSpace(string(body)), 256))
	}

	var envelope renderEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, ErrBadEnvelope
	}
	if envelope.Data == "" {
		return nil, ErrBadEnvelope
	}

	pdf, err := base64.StdEncoding.DecodeString(envelope.Data)
	if err != nil {
		return nil, ErrBadEnvelope
	}
	if len(pdf) < MinPdfBytes {
		return nil, ErrPdfTooSmall
	}
	return pdf, nil
}
