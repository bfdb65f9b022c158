// seed-admin creates or updates the operator user used by the admin
// console. The email must be on the MASTER_ADMIN_EMAILS allowlist for the
// admin-only endpoints to accept it.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	SEED_ADMIN_EMAIL=ops@nfeagil.com.br SEED_ADMIN_PASSWORD=... go run ./cmd/seed-admin
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/nfeagil/nfe_backend/config"
	"bitbucket.org/nfeagil/nfe_backend/models"
	"bitbucket.org/nfeagil/nfe_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const adminUsername = "nfeagilAdmin"

func main() {
	email := strings.TrimSpace(os.Getenv("SEED_ADMIN_EMAIL"))
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if email == "" || password == "" {
		fmt.Fprintln(os.Stderr, "SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD are required")
		os.Exit(2)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	var empresa models.Empresa
	if err := db.WithContext(ctx).Model(&models.Empresa{}).Select("id").First(&empresa).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fmt.Fprintln(os.Stderr, "no empresas found. Create one via POST /api/empresas first, then rerun seed-admin.")
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "failed to lookup empresa: %v\n", err)
		os.Exit(1)
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).First(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		active := true
		u := models.User{
			ID:        uuid.New(),
			EmpresaID: empresa.ID,
			Username:  adminUsername,
			Email:     email,
			Password:  hashed,
			Role:      "admin",
			IsActive:  &active,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("admin user created:", adminUsername)
		return
	}

	if err := db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"email":     email,
			"password":  hashed,
			"role":      "admin",
			"is_active": true,
		}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("admin user updated:", adminUsername)
}
