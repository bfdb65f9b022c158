package reports

import (
	"fmt"
	"io"

	"bitbucket.org/nfeagil/nfe_backend/models"
	"github.com/xuri/excelize/v2"
)

// WriteAuditoriaXlsx renders the audit findings as an xlsx workbook on w.
func WriteAuditoriaXlsx(findings []models.AuditFinding, w io.Writer) error {
	f := excelize.NewFile()
	sheetName := "Auditoria"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	// Add headers
	f.SetCellValue(sheetName, "A1", "EmpresaID")
	f.SetCellValue(sheetName, "B1", "RazaoSocial")
	f.SetCellValue(sheetName, "C1", "Verificacao")
	f.SetCellValue(sheetName, "D1", "Detalhe")

	// Add data
	for i, finding := range findings {
		row := fmt.Sprint(i + 2)
		f.SetCellValue(sheetName, "A"+row, finding.EmpresaID)
		f.SetCellValue(sheetName, "B"+row, finding.RazaoSocial)
		f.SetCellValue(sheetName, "C"+row, finding.Check)
		f.SetCellValue(sheetName, "D"+row, finding.Detail)
	}

	if err := f.Write(w); err != nil {
		return err
	}
	return nil
}
