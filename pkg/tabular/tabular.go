// Package tabular reads the ERP export formats into a uniform table of
// named string columns. Column names come out exactly as they appear in the
// source; mapping to canonical fields happens later in pkg/schema.
package tabular

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind identifies which source export a file carries. The value doubles as
// the logical store table the import targets.
type Kind string

const (
	Financial         Kind = "financeiro"
	AccountingSummary Kind = "modelo1"
	AccountingDetail  Kind = "contas_itens"
	Advance           Kind = "adiantamento"
)

// Filename tokens emitted by the ERP report generator.
var kindTokens = []struct {
	token string
	kind  Kind
}{
	{"finr150", Financial},
	{"ctbr040", AccountingSummary},
	{"ctbr140", AccountingDetail},
	{"ctbr100", Advance},
}

// DetectKind infers the source kind from a filename token, case-insensitive.
func DetectKind(filename string) (Kind, bool) {
	name := strings.ToLower(filepath.Base(filename))
	for _, kt := range kindTokens {
		if strings.Contains(name, kt.token) {
			return kt.kind, true
		}
	}
	return "", false
}

// Table is an ordered set of named columns plus data rows. Every cell is the
// raw source text; rows are padded or truncated to the header width.
type Table struct {
	Columns []string
	Rows    [][]string
}

// FormatError reports a file that could not be read as any supported layout.
type FormatError struct {
	Path   string
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid format %s: %s", e.Path, e.Detail)
}

// Code returns the machine-readable error code for step outcomes.
func (e *FormatError) Code() string { return "1004" }

// Read parses the file at path into a Table, dispatching on extension.
// Every supported layout puts a report title on the first row and the real
// header on the second one.
func Read(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return readXLSX(path)
	case ".xls":
		return readXLS(path)
	case ".txt":
		return readDelimited(path)
	case ".xml":
		return readSpreadsheetML(path)
	default:
		return nil, &FormatError{Path: path, Detail: "unsupported extension " + filepath.Ext(path)}
	}
}

// fromRows builds a Table out of raw rows: skips the title row, takes the
// next row as header and the remainder as data.
func fromRows(path string, rows [][]string) (*Table, error) {
	var kept [][]string
	for _, row := range rows {
		if !rowEmpty(row) {
			kept = append(kept, row)
		}
	}
	if len(kept) < 2 {
		return nil, &FormatError{Path: path, Detail: "fewer than two non-empty rows"}
	}

	header := cleanHeader(kept[1])
	data := make([][]string, 0, len(kept)-2)
	for _, row := range kept[2:] {
		data = append(data, fitRow(row, len(header)))
	}
	return &Table{Columns: header, Rows: data}, nil
}

// cleanHeader strips export artifacts from column names and suffixes
// duplicates with an incrementing counter so every name is unique.
func cleanHeader(raw []string) []string {
	seen := map[string]int{}
	out := make([]string, len(raw))
	for i, name := range raw {
		name = strings.ReplaceAll(name, "_x000D_\n", " ")
		name = strings.TrimSpace(name)
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}

func fitRow(row []string, width int) []string {
	if len(row) == width {
		return row
	}
	fitted := make([]string, width)
	copy(fitted, row)
	return fitted
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
