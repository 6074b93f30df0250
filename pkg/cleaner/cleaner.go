// Package cleaner type-coerces normalized tables into the values the ledger
// store expects: trimmed text, null markers, day-first dates rendered as
// dd/mm/yyyy and monetary columns parsed into floats. Cell-level problems
// are recovered locally (null or zero) and logged, never fatal.
package cleaner

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/liradata/concilia/pkg/tabular"
)

// Dataset is a cleaned table ready for the store: cells are nil, string or
// float64.
type Dataset struct {
	Columns []string
	Rows    [][]any
}

// Col returns the index of a named column, or -1.
func (d *Dataset) Col(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Ensure returns the index of a named column, appending a null-filled one
// when absent.
func (d *Dataset) Ensure(name string) int {
	if i := d.Col(name); i >= 0 {
		return i
	}
	d.Columns = append(d.Columns, name)
	for i := range d.Rows {
		d.Rows[i] = append(d.Rows[i], nil)
	}
	return len(d.Columns) - 1
}

type Cleaner struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean applies the generic pass (trim, null tokens, drop empty rows) and
// the source-specific coercions, then deduplicates identical rows.
func (c *Cleaner) Clean(kind tabular.Kind, t *tabular.Table) *Dataset {
	ds := c.generic(t)
	dropNullRows(ds)

	switch kind {
	case tabular.Financial:
		c.cleanFinancial(ds)
	case tabular.AccountingSummary:
		c.cleanAccountingSummary(ds)
	case tabular.AccountingDetail, tabular.Advance:
		c.cleanAccountingItems(ds)
	}

	dedupe(ds)
	return ds
}

func (c *Cleaner) generic(t *tabular.Table) *Dataset {
	ds := &Dataset{Columns: columnNames(t.Columns)}
	for _, row := range t.Rows {
		cells := make([]any, len(ds.Columns))
		for i := range ds.Columns {
			v := ""
			if i < len(row) {
				v = strings.TrimSpace(row[i])
			}
			if IsEmptyToken(v) {
				cells[i] = nil
			} else {
				cells[i] = v
			}
		}
		ds.Rows = append(ds.Rows, cells)
	}
	return ds
}

func (c *Cleaner) cleanFinancial(ds *Dataset) {
	c.splitVendor(ds, "fornecedor")

	if ti := ds.Col("titulo"); ti >= 0 {
		for _, row := range ds.Rows {
			if s, ok := row[ti].(string); ok {
				row[ti] = CleanDocumentID(s)
			}
		}
	}

	for _, col := range []string{"data_emissao", "data_vencimento"} {
		di := ds.Col(col)
		if di < 0 {
			continue
		}
		for _, row := range ds.Rows {
			s, ok := row[di].(string)
			if !ok {
				row[di] = nil
				continue
			}
			if norm, ok := NormalizeDate(s); ok {
				row[di] = norm
			} else {
				c.logger.Warn("unparsable date, storing null", "column", col, "value", s)
				row[di] = nil
			}
		}
	}

	for _, col := range []string{"valor_original", "tit_vencidos_valor_nominal", "titulos_a_vencer_valor_nominal", "saldo_devedor"} {
		c.numeric(ds, col, ParseAmount)
	}
}

func (c *Cleaner) cleanAccountingSummary(ds *Dataset) {
	c.deriveVendorFrom(ds, "descricao_conta")
	c.stripVendorCodes(ds)

	if di := ds.Col("descricao_conta"); di >= 0 {
		ti := ds.Ensure("tipo_fornecedor")
		for _, row := range ds.Rows {
			desc, _ := row[di].(string)
			row[ti] = classifyVendorType(desc)
		}
		// Bucket accounts ("FORNECEDORES OUTROS") have no single vendor to
		// reconcile against.
		kept := ds.Rows[:0]
		for _, row := range ds.Rows {
			if desc, ok := row[di].(string); ok && strings.Contains(desc, "OUTROS") {
				continue
			}
			kept = append(kept, row)
		}
		ds.Rows = kept
	}

	c.numeric(ds, "credito", ParseSignedAmount)
	for _, col := range []string{"saldo_anterior", "debito", "saldo_atual"} {
		c.numeric(ds, col, ParseAmount)
	}
}

func (c *Cleaner) cleanAccountingItems(ds *Dataset) {
	c.deriveVendorFrom(ds, "descricao_item")
	c.stripVendorCodes(ds)

	for _, col := range []string{"credito", "saldo_anterior", "saldo_atual"} {
		c.numeric(ds, col, ParseSignedAmount)
	}
	c.numeric(ds, "debito", ParseAmount)
}

// splitVendor fills codigo/descricao from a composite vendor column.
func (c *Cleaner) splitVendor(ds *Dataset, source string) {
	si := ds.Col(source)
	if si < 0 {
		return
	}
	ci := ds.Ensure("codigo_fornecedor")
	di := ds.Ensure("descricao_fornecedor")
	for _, row := range ds.Rows {
		s, ok := row[si].(string)
		if !ok {
			continue
		}
		code, desc := SplitCodeDescription(s)
		if row[ci] == nil {
			row[ci] = nullable(code)
		}
		if row[di] == nil {
			row[di] = nullable(desc)
		}
	}
}

// deriveVendorFrom extracts vendor code/description from a descriptive
// column when the dedicated vendor columns are absent or entirely empty.
func (c *Cleaner) deriveVendorFrom(ds *Dataset, source string) {
	si := ds.Col(source)
	if si < 0 {
		return
	}
	ci := ds.Col("codigo_fornecedor")
	if ci >= 0 && !columnAllNull(ds, ci) {
		return
	}
	ci = ds.Ensure("codigo_fornecedor")
	di := ds.Ensure("descricao_fornecedor")
	for _, row := range ds.Rows {
		s, ok := row[si].(string)
		if !ok {
			continue
		}
		code, desc := SplitCodeDescription(s)
		row[ci] = nullable(code)
		if row[di] == nil {
			row[di] = nullable(desc)
		}
	}
}

func (c *Cleaner) stripVendorCodes(ds *Dataset) {
	ci := ds.Col("codigo_fornecedor")
	if ci < 0 {
		return
	}
	for _, row := range ds.Rows {
		if s, ok := row[ci].(string); ok {
			row[ci] = nullable(StripVendorPrefix(s))
		}
	}
}

// numeric coerces a column with the given parser; failures become zero with
// a logged anomaly.
func (c *Cleaner) numeric(ds *Dataset, col string, parse func(string) (float64, bool)) {
	i := ds.Col(col)
	if i < 0 {
		return
	}
	for _, row := range ds.Rows {
		switch v := row[i].(type) {
		case nil:
			row[i] = float64(0)
		case float64:
		case string:
			f, ok := parse(v)
			if !ok {
				c.logger.Warn("unparsable amount, storing zero", "column", col, "value", v)
			}
			row[i] = f
		}
	}
}

func classifyVendorType(desc string) string {
	u := strings.ToUpper(desc)
	switch {
	case strings.Contains(u, "FORNEC") && strings.Contains(u, "NAC"):
		return "FORNECEDOR NACIONAL"
	case strings.Contains(u, "FORNEC"):
		return "FORNECEDOR"
	default:
		return "OUTROS"
	}
}

func columnAllNull(ds *Dataset, col int) bool {
	for _, row := range ds.Rows {
		if row[col] != nil {
			return false
		}
	}
	return true
}

func dropNullRows(ds *Dataset) {
	kept := ds.Rows[:0]
	for _, row := range ds.Rows {
		for _, cell := range row {
			if cell != nil {
				kept = append(kept, row)
				break
			}
		}
	}
	ds.Rows = kept
}

func dedupe(ds *Dataset) {
	seen := map[string]bool{}
	kept := ds.Rows[:0]
	for _, row := range ds.Rows {
		key := fmt.Sprint(row...)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, row)
	}
	ds.Rows = kept
}

// columnNames turns whatever headers survived normalization into valid,
// unique SQL column names. Canonical names pass through untouched.
func columnNames(raw []string) []string {
	seen := map[string]bool{}
	out := make([]string, len(raw))
	for i, name := range raw {
		var b strings.Builder
		for _, r := range strings.ToLower(strings.TrimSpace(name)) {
			switch {
			case r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_':
				b.WriteRune(r)
			default:
				b.WriteByte('_')
			}
		}
		s := strings.Trim(b.String(), "_")
		if s == "" || s[0] >= '0' && s[0] <= '9' {
			s = "col_" + s
		}
		for seen[s] {
			s += "_x"
		}
		seen[s] = true
		out[i] = s
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
