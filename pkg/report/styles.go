package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Number format applied to every monetary column.
const currencyFormat = `R$ #,##0.00;[Red]R$ -#,##0.00`

// Column headers that carry monetary values.
var monetaryHeaders = map[string]bool{
	"Total Financeiro": true,
	"Total Contábil":   true,
	"Diferença":        true,
	"Valor Original":   true,
	"Títulos Vencidos": true,
	"Títulos a Vencer": true,
	"Saldo Devedor":    true,
	"Saldo Anterior":   true,
	"Saldo Atual":      true,
	"Débito":           true,
	"Crédito":          true,
}

var thinBorder = []excelize.Border{
	{Type: "left", Style: 1, Color: "000000"},
	{Type: "right", Style: 1, Color: "000000"},
	{Type: "top", Style: 1, Color: "000000"},
	{Type: "bottom", Style: 1, Color: "000000"},
}

func fillStyle(color string) *excelize.Style {
	return &excelize.Style{
		Fill:   excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		Border: thinBorder,
	}
}

// styleSheet applies the house look: blue header row, thin borders, the
// Brazilian currency format on monetary columns, status coloring on resumo
// sheets and fitted column widths.
func styleSheet(f *excelize.File, sh sheet) error {
	if sh.name == "Metadados" {
		return styleMetadata(f, sh)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4F81BD"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    thinBorder,
	})
	if err != nil {
		return err
	}
	bodyStyle, err := f.NewStyle(&excelize.Style{Border: thinBorder})
	if err != nil {
		return err
	}
	numFmt := currencyFormat
	moneyStyle, err := f.NewStyle(&excelize.Style{Border: thinBorder, CustomNumFmt: &numFmt})
	if err != nil {
		return err
	}

	lastCol, err := excelize.ColumnNumberToName(len(sh.header))
	if err != nil {
		return err
	}
	lastRow := len(sh.rows) + 1

	if err := f.SetCellStyle(sh.name, "A1", lastCol+"1", headerStyle); err != nil {
		return err
	}
	if lastRow > 1 {
		if err := f.SetCellStyle(sh.name, "A2", fmt.Sprintf("%s%d", lastCol, lastRow), bodyStyle); err != nil {
			return err
		}
		for i, h := range sh.header {
			if !monetaryHeaders[h] {
				continue
			}
			col, err := excelize.ColumnNumberToName(i + 1)
			if err != nil {
				return err
			}
			if err := f.SetCellStyle(sh.name, col+"2", fmt.Sprintf("%s%d", col, lastRow), moneyStyle); err != nil {
				return err
			}
		}
	}

	if sh.resumo {
		if err := styleResumo(f, sh, lastCol, lastRow); err != nil {
			return err
		}
	}

	return fitColumns(f, sh)
}

// styleResumo colors each row by its status, highlights non-zero
// differences and turns on the auto filter.
func styleResumo(f *excelize.File, sh sheet, lastCol string, lastRow int) error {
	statusColors := map[string]string{
		"Conferido":  "C6EFCE",
		"Divergente": "FFC7CE",
		"Pendente":   "FFEB9C",
	}
	numFmt := currencyFormat
	statusStyles := map[string]int{}
	statusMoneyStyles := map[string]int{}
	for status, color := range statusColors {
		id, err := f.NewStyle(fillStyle(color))
		if err != nil {
			return err
		}
		statusStyles[status] = id
		money := fillStyle(color)
		money.CustomNumFmt = &numFmt
		if id, err = f.NewStyle(money); err != nil {
			return err
		}
		statusMoneyStyles[status] = id
	}

	diffStyle, err := f.NewStyle(&excelize.Style{
		Fill:         excelize.Fill{Type: "pattern", Color: []string{"FFEB9C"}, Pattern: 1},
		Font:         &excelize.Font{Bold: true, Color: "9C0006"},
		Border:       thinBorder,
		CustomNumFmt: &numFmt,
	})
	if err != nil {
		return err
	}

	statusCol := columnOf(sh.header, "Status")
	diffCol := columnOf(sh.header, "Diferença")

	for r, row := range sh.rows {
		rowNum := r + 2
		if statusCol > 0 {
			if status, ok := row[statusCol-1].(string); ok {
				if id, ok := statusStyles[status]; ok {
					if err := f.SetCellStyle(sh.name, fmt.Sprintf("A%d", rowNum),
						fmt.Sprintf("%s%d", lastCol, rowNum), id); err != nil {
						return err
					}
					// Row fills replace the cell style wholesale, so the
					// currency format has to come back on top.
					for i, h := range sh.header {
						if !monetaryHeaders[h] {
							continue
						}
						col, err := excelize.ColumnNumberToName(i + 1)
						if err != nil {
							return err
						}
						cell := fmt.Sprintf("%s%d", col, rowNum)
						if err := f.SetCellStyle(sh.name, cell, cell, statusMoneyStyles[status]); err != nil {
							return err
						}
					}
				}
			}
		}
		if diffCol > 0 && !isZero(row[diffCol-1]) {
			col, err := excelize.ColumnNumberToName(diffCol)
			if err != nil {
				return err
			}
			cell := fmt.Sprintf("%s%d", col, rowNum)
			if err := f.SetCellStyle(sh.name, cell, cell, diffStyle); err != nil {
				return err
			}
		}
	}

	return f.AutoFilter(sh.name, fmt.Sprintf("A1:%s%d", lastCol, lastRow), nil)
}

func styleMetadata(f *excelize.File, sh sheet) error {
	titleStyle, err := f.NewStyle(&excelize.Style{
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"366092"}, Pattern: 1},
		Font:   &excelize.Font{Bold: true, Color: "FFFFFF", Size: 14},
		Border: thinBorder,
	})
	if err != nil {
		return err
	}
	bodyStyle, err := f.NewStyle(&excelize.Style{Border: thinBorder})
	if err != nil {
		return err
	}
	separatorStyle, err := f.NewStyle(fillStyle("D9D9D9"))
	if err != nil {
		return err
	}

	if err := f.SetCellStyle(sh.name, "A1", "B1", titleStyle); err != nil {
		return err
	}
	for r, row := range sh.rows {
		rowNum := r + 2
		style := bodyStyle
		if item, ok := row[0].(string); ok && item == "--- CONFIGURAÇÕES ---" {
			style = separatorStyle
		}
		if err := f.SetCellStyle(sh.name, fmt.Sprintf("A%d", rowNum),
			fmt.Sprintf("B%d", rowNum), style); err != nil {
			return err
		}
	}
	return fitColumns(f, sh)
}

// protectSheet locks the sheet against edits, leaving only the notes
// column of resumo sheets writable.
func protectSheet(f *excelize.File, sh sheet) error {
	if sh.resumo {
		if obs := columnOf(sh.header, "Observações"); obs > 0 && len(sh.rows) > 0 {
			col, err := excelize.ColumnNumberToName(obs)
			if err != nil {
				return err
			}
			unlockedStyle, err := f.NewStyle(&excelize.Style{
				Border:     thinBorder,
				Protection: &excelize.Protection{Locked: false},
			})
			if err != nil {
				return err
			}
			if err := f.SetCellStyle(sh.name, col+"2",
				fmt.Sprintf("%s%d", col, len(sh.rows)+1), unlockedStyle); err != nil {
				return err
			}
		}
	}
	return f.ProtectSheet(sh.name, &excelize.SheetProtectionOptions{
		SelectLockedCells:   false,
		SelectUnlockedCells: sh.resumo,
	})
}

// fitColumns widens each column to its longest value, capped so giant
// detail strings do not blow the layout up.
func fitColumns(f *excelize.File, sh sheet) error {
	for i, h := range sh.header {
		longest := len([]rune(h))
		for _, row := range sh.rows {
			if i >= len(row) {
				continue
			}
			if n := len([]rune(cellString(row[i]))); n > longest {
				longest = n
			}
		}
		width := float64(longest+2) * 1.2
		if width > 50 {
			width = 50
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sh.name, col, col, width); err != nil {
			return err
		}
	}
	return nil
}

func columnOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i + 1
		}
	}
	return 0
}

func isZero(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case float64:
		return t == 0
	case int64:
		return t == 0
	case string:
		return t == "" || t == "0"
	}
	return false
}
