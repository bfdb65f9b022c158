package sefazsync

import (
	"bytes"
	"context"
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

// microClient talks to the webservice gateway that holds the certificates
// and speaks SOAP to the fiscal authority on our behalf.
type microClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewMicroClient() (*microClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("MICRO_URL"))
	if baseURL == "" {
		return nil, errors.New("MICRO_URL is empty")
	}
	timeout := time.Duration(utils.IntFromEnv("MICRO_TIMEOUT_SECONDS", 60)) * time.Second

	return &microClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(os.Getenv("MICRO_API_KEY")),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// FetchDistDfe pulls the next document batch after ultNSU for the CNPJ.
func (c *microClient) FetchDistDfe(ctx context.Context, cnpj string, ultNSU int64) (*DistDfeResponse, error) {
	payload, err := json.Marshal(distDfeRequest{Cnpj: cnpj, UltNSU: ultNSU})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sefaz/dist-dfe", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("dist-dfe error %d: %s", resp.StatusCode, utils.Truncate(strings.TrimSpace(string(body)), 256))
	}

	var parsed DistDfeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// FetchCertStatus queries the gateway for the tenant's certificate health.
func (c *microClient) FetchCertStatus(ctx context.Context, cnpj string) (*CertStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sefaz/status?cnpj="+cnpj, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status error %d: %s", resp.StatusCode, utils.Truncate(strings.TrimSpace(string(body)), 256))
	}

	var parsed CertStatusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}
