package tabular

import (
	"fmt"
	"os"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// readXLSX reads the first sheet of an OOXML workbook.
func readXLSX(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &FormatError{Path: path, Detail: fmt.Sprintf("open workbook: %v", err)}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &FormatError{Path: path, Detail: "workbook has no sheets"}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &FormatError{Path: path, Detail: fmt.Sprintf("read sheet %s: %v", sheets[0], err)}
	}
	return fromRows(path, rows)
}

// Row cap for legacy workbooks; the extract reports never come close.
const xlsMaxRows = 65536

// readXLS reads a legacy BIFF workbook. The ERP writes these with the
// cp1252 codepage.
func readXLS(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FormatError{Path: path, Detail: fmt.Sprintf("open file: %v", err)}
	}
	defer f.Close()

	workbook, err := xls.OpenReader(f, "cp1252")
	if err != nil {
		return nil, &FormatError{Path: path, Detail: fmt.Sprintf("open workbook: %v", err)}
	}
	rows := workbook.ReadAllCells(xlsMaxRows)
	return fromRows(path, rows)
}
