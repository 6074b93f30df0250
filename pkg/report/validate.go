package report

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Validate re-opens a written workbook and checks that every required
// sheet exists and that the summary's monetary columns kept their currency
// format. A workbook that fails here is not handed to anyone.
func Validate(path string, view View) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("reopen workbook: %w", err)
	}
	defer f.Close()

	have := map[string]bool{}
	for _, name := range f.GetSheetList() {
		have[name] = true
	}
	for _, name := range RequiredSheets(view) {
		if !have[name] {
			return fmt.Errorf("workbook is missing sheet %q", name)
		}
	}

	resumo := RequiredSheets(view)[0]
	rows, err := f.GetRows(resumo)
	if err != nil {
		return fmt.Errorf("read %s: %w", resumo, err)
	}
	if len(rows) < 2 {
		// Nothing reconciled; an empty summary is still a valid workbook.
		return nil
	}

	for _, col := range []string{"Total Financeiro", "Total Contábil", "Diferença"} {
		idx := columnOf(rows[0], col)
		if idx == 0 {
			return fmt.Errorf("%s is missing column %q", resumo, col)
		}
		cell, err := excelize.CoordinatesToCellName(idx, 2)
		if err != nil {
			return err
		}
		styleID, err := f.GetCellStyle(resumo, cell)
		if err != nil {
			return fmt.Errorf("read style of %s!%s: %w", resumo, cell, err)
		}
		style, err := f.GetStyle(styleID)
		if err != nil {
			return fmt.Errorf("read style of %s!%s: %w", resumo, cell, err)
		}
		if style.CustomNumFmt == nil || !strings.Contains(*style.CustomNumFmt, "R$") {
			return fmt.Errorf("column %q of %s is not formatted as currency", col, resumo)
		}
	}
	return nil
}
