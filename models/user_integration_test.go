package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/nfeagil/nfe_backend/config"
	"bitbucket.org/nfeagil/nfe_backend/models"
)

// Login must answer every bad credential the same way, so the endpoint
// cannot be used to enumerate which accounts exist or are active.
func TestLoginUniformInvalidCredentials(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "nfeagil_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	empresa, err := models.CreateEmpresa(ctx, &models.NewEmpresa{
		Cnpj:        "11222333000181",
		RazaoSocial: "Empresa Teste LTDA",
	})
	if err != nil {
		t.Fatalf("CreateEmpresa: %v", err)
	}

	if _, err := models.CreateUser(ctx, &models.NewUser{
		EmpresaID: empresa.ID.String(),
		Username:  "ana",
		Email:     "ana@example.com",
		Password:  "s3nha-correta",
	}); err != nil {
		t.Fatalf("CreateUser ana: %v", err)
	}
	if _, err := models.CreateUser(ctx, &models.NewUser{
		EmpresaID: empresa.ID.String(),
		Username:  "bia",
		Email:     "bia@example.com",
		Password:  "s3nha-correta",
	}); err != nil {
		t.Fatalf("CreateUser bia: %v", err)
	}
	err = config.GetDB().WithContext(ctx).Model(&models.User{}).
		Where("email = ?", "bia@example.com").
		Update("is_active", false).Error
	if err != nil {
		t.Fatalf("deactivate bia: %v", err)
	}

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"unknown email", "ninguem@example.com", "s3nha-correta"},
		{"wrong password", "ana@example.com", "s3nha-errada"},
		{"inactive user", "bia@example.com", "s3nha-correta"},
	}
	for _, tc := range cases {
		_, _, err := models.Login(ctx, &models.LoginInput{Email: tc.email, Password: tc.password})
		if err == nil {
			t.Fatalf("%s: expected login to fail", tc.name)
		}
		if !errors.Is(err, models.ErrInvalidCredentials) {
			t.Fatalf("%s: expected the uniform credentials error, got %v", tc.name, err)
		}
		if err.Error() != models.ErrInvalidCredentials.Error() {
			t.Fatalf("%s: error message must not vary, got %q", tc.name, err.Error())
		}
	}
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
