package sefazsync_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/nfeagil/nfe_backend/config"
	"bitbucket.org/nfeagil/nfe_backend/models"
	"bitbucket.org/nfeagil/nfe_backend/sefazsync"
	"github.com/gin-gonic/gin"
)

type scriptedFetcher struct {
	responses []*sefazsync.DistDfeResponse
	errs      []error
	calls     int
}

func (f *scriptedFetcher) FetchDistDfe(ctx context.Context, cnpj string, ultNSU int64) (*sefazsync.DistDfeResponse, error) {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	if f.errs != nil && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.responses[i], nil
}

func TestSyncEngineCursorAndIdempotence(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "nfeagil_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	empresa, err := models.CreateEmpresa(ctx, &models.NewEmpresa{
		Cnpj:        "11222333000181",
		RazaoSocial: "Empresa Teste LTDA",
	})
	if err != nil {
		t.Fatalf("CreateEmpresa: %v", err)
	}

	chaveA := strings.Repeat("1", 44)
	chaveB := strings.Repeat("2", 44)
	docs := []sefazsync.DocumentoDfe{
		{Nsu: 49, Chave: chaveA, Xml: "<NFe><infNFe/></NFe>"},
		{Nsu: 50, Chave: chaveB, Xml: "<NFe><infNFe/></NFe>"},
	}

	// First pull: two new documents, cursor moves to 50.
	fetcher := &scriptedFetcher{responses: []*sefazsync.DistDfeResponse{
		{StatusCode: sefazsync.StatusDocsFound, UltimoNsu: 50, MaxNsu: 50, Documentos: docs},
	}}
	result, err := sefazsync.SyncEmpresa(ctx, fetcher, empresa)
	if err != nil {
		t.Fatalf("SyncEmpresa: %v", err)
	}
	if result.NotasNovas != 2 || result.FinalNsu != 50 {
		t.Fatalf("expected 2 new notas, cursor 50; got %d, %d", result.NotasNovas, result.FinalNsu)
	}

	// Redelivery of the same range: no duplicate rows, cursor stays at 50.
	fetcher = &scriptedFetcher{responses: []*sefazsync.DistDfeResponse{
		{StatusCode: sefazsync.StatusDocsFound, UltimoNsu: 50, MaxNsu: 50, Documentos: docs},
	}}
	result, err = sefazsync.SyncEmpresa(ctx, fetcher, empresa)
	if err != nil {
		t.Fatalf("SyncEmpresa redelivery: %v", err)
	}
	if result.NotasNovas != 0 || result.FinalNsu != 50 {
		t.Fatalf("redelivery must import nothing; got %d new, cursor %d", result.NotasNovas, result.FinalNsu)
	}
	notas, total, err := models.ListNotas(ctx, empresa.ID, models.NotaFilter{})
	if err != nil {
		t.Fatalf("ListNotas: %v", err)
	}
	if total != 2 || len(notas) != 2 {
		t.Fatalf("expected exactly 2 rows after redelivery, got %d", total)
	}

	// Provider failure: cursor untouched.
	fetcher = &scriptedFetcher{
		responses: []*sefazsync.DistDfeResponse{nil},
		errs:      []error{errors.New("gateway unreachable")},
	}
	_, err = sefazsync.SyncEmpresa(ctx, fetcher, empresa)
	if err == nil {
		t.Fatal("expected provider failure to surface")
	}
	state, err := models.GetOrCreateSyncState(ctx, empresa.ID)
	if err != nil {
		t.Fatalf("GetOrCreateSyncState: %v", err)
	}
	if state.LastNsu != 50 {
		t.Fatalf("cursor must not move on failure; got %d", state.LastNsu)
	}

	// Throttle: block window opens, cursor untouched.
	fetcher = &scriptedFetcher{responses: []*sefazsync.DistDfeResponse{
		{StatusCode: sefazsync.StatusConsumoIndevido, Motivo: "consumo indevido"},
	}}
	result, err = sefazsync.SyncEmpresa(ctx, fetcher, empresa)
	if err != nil {
		t.Fatalf("SyncEmpresa throttle: %v", err)
	}
	if !result.Throttled {
		t.Fatal("expected throttled result")
	}
	state, _ = models.GetOrCreateSyncState(ctx, empresa.ID)
	if state.BlockUntil == nil || !state.IsBlocked(time.Now().UTC()) {
		t.Fatal("expected an open throttle window")
	}
	if state.LastNsu != 50 {
		t.Fatalf("cursor must not move on throttle; got %d", state.LastNsu)
	}
}

func TestSyncDailySkipsBlockedEmpresa(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "nfeagil_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	empresa, err := models.CreateEmpresa(ctx, &models.NewEmpresa{
		Cnpj:        "11444777000161",
		RazaoSocial: "Empresa Bloqueada LTDA",
	})
	if err != nil {
		t.Fatalf("CreateEmpresa: %v", err)
	}

	state, err := models.GetOrCreateSyncState(ctx, empresa.ID)
	if err != nil {
		t.Fatalf("GetOrCreateSyncState: %v", err)
	}
	until := time.Now().UTC().Add(time.Hour)
	if err := models.SetSyncBlock(ctx, state, until, sefazsync.StatusConsumoIndevido); err != nil {
		t.Fatalf("SetSyncBlock: %v", err)
	}

	// The sweep must never reach the gateway for a blocked tenant.
	var gatewayHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&gatewayHits, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"statusCode":137,"ultimoNsu":0,"maxNsu":0,"documentos":[]}`)
	}))
	defer srv.Close()
	t.Setenv("MICRO_URL", srv.URL)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/internal/sync-daily", sefazsync.SyncDailyHandler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/internal/sync-daily", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("sync-daily expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var summary sefazsync.SyncSummaryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	var blocked *sefazsync.EmpresaSyncResult
	for i := range summary.Results {
		if summary.Results[i].Cnpj == empresa.Cnpj {
			blocked = &summary.Results[i]
		}
	}
	if blocked == nil {
		t.Fatalf("expected the blocked empresa in the sweep results: %s", w.Body.String())
	}
	if !blocked.Skipped {
		t.Fatal("blocked empresa must be skipped by the sweep")
	}
	if blocked.NotasNovas != 0 {
		t.Fatalf("blocked empresa must import nothing, got %d", blocked.NotasNovas)
	}
	if hits := atomic.LoadInt32(&gatewayHits); hits != 0 {
		t.Fatalf("blocked empresa must not reach the gateway, got %d calls", hits)
	}

	runs, err := models.ListRecentSyncRuns(ctx, 1)
	if err != nil {
		t.Fatalf("ListRecentSyncRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one run-log row, got %d", len(runs))
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("nfe-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("nfe-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=nfeagil_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
