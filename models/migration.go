package models

import (
	"log"

	"bitbucket.org/nfeagil/nfe_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Empresa{}, &Certificado{},
		&User{},
		&Assinatura{},
		&NotaFiscal{},
		&SyncState{}, &SyncRunLog{},
		&ConversionUsage{},
		&Notification{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
