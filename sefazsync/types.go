package sefazsync

import (
	"time"

	"github.com/shopspring/decimal"
)

// Distribution endpoint status codes.
const (
	StatusDocsFound       = 138
	StatusNoDocs          = 137
	StatusConsumoIndevido = 656
)

// DocumentoDfe is one document returned by the distribution pull, already
// decoded by the webservice gateway.
type DocumentoDfe struct {
	Nsu          int64           `json:"nsu"`
	Chave        string          `json:"chave"`
	Schema       string          `json:"schema"`
	Xml          string          `json:"xml"`
	EmitenteCnpj string          `json:"emitente_cnpj"`
	EmitenteNome string          `json:"emitente_nome"`
	ValorTotal   decimal.Decimal `json:"valor_total"`
	DataEmissao  *time.Time      `json:"data_emissao"`
}

type distDfeRequest struct {
	Cnpj   string `json:"cnpj"`
	UltNSU int64  `json:"ultNSU"`
}

type DistDfeResponse struct {
	StatusCode int            `json:"statusCode"`
	Motivo     string         `json:"motivo"`
	UltimoNsu  int64          `json:"ultimoNsu"`
	MaxNsu     int64          `json:"maxNsu"`
	Documentos []DocumentoDfe `json:"documentos"`
}

type CertStatusResponse struct {
	Valid          bool       `json:"valid"`
	ExpirationDate *time.Time `json:"expirationDate"`
	Environment    string     `json:"environment"`
}

// EmpresaSyncResult summarizes one tenant's pull inside a sweep.
type EmpresaSyncResult struct {
	EmpresaID  string `json:"empresa_id"`
	Cnpj       string `json:"cnpj"`
	NotasNovas int    `json:"notas_novas"`
	FinalNsu   int64  `json:"final_nsu"`
	Throttled  bool   `json:"throttled"`
	Skipped    bool   `json:"skipped"`
	Error      string `json:"error,omitempty"`
}

type SyncSummaryResponse struct {
	Status        string              `json:"status"`
	EmpresasTotal int                 `json:"empresas_total"`
	EmpresasOk    int                 `json:"empresas_ok"`
	EmpresasFail  int                 `json:"empresas_fail"`
	NotasNovas    int                 `json:"notas_novas"`
	Results       []EmpresaSyncResult `json:"results"`
}
