package report

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/liradata/concilia/pkg/cleaner"
	"github.com/liradata/concilia/pkg/period"
	"github.com/liradata/concilia/pkg/store"
)

// sheet is one worksheet ready to be written: a header row plus data rows.
type sheet struct {
	name   string
	header []string
	rows   [][]any
	// resumo sheets get status coloring, an auto filter and the unlocked
	// notes column.
	resumo bool
}

// RequiredSheets lists the worksheets a valid workbook of each view must
// carry, in tab order.
func RequiredSheets(view View) []string {
	if view == ViewAdvances {
		return []string{
			"Resumo Adiantamentos",
			"Adiantamento de Fornecedores Nacionais",
			"Adiantamento",
			"Metadados",
		}
	}
	return []string{
		"Resumo da Conciliação",
		"Fornecedores Nacionais",
		"Balancete",
		"Contas x Itens",
		"Metadados",
	}
}

func (e *Exporter) exportVendors(path string, p period.Period) error {
	s, err := e.vendorStats()
	if err != nil {
		return err
	}

	resumo, err := e.resultSheet("Resumo da Conciliação", e.store.Table(store.TableResult),
		"saldo_financeiro", "saldo_contabil")
	if err != nil {
		return err
	}

	financial, err := e.financialSheet("Fornecedores Nacionais", e.rules.InvoiceTypes)
	if err != nil {
		return err
	}

	balancete, err := e.balanceSheet()
	if err != nil {
		return err
	}

	items, err := e.itemsSheet("Contas x Itens", e.store.Table(store.TableAccountingItems))
	if err != nil {
		return err
	}

	meta := e.metadataSheet(p, s, "Fornecedores", "Conciliações")

	return writeWorkbook(path, []sheet{resumo, financial, balancete, items, meta})
}

func (e *Exporter) exportAdvances(path string, p period.Period) error {
	s, err := e.advanceStats()
	if err != nil {
		return err
	}

	resumo, err := e.resultSheet("Resumo Adiantamentos", e.store.Table(store.TableAdvanceResult),
		"total_financeiro", "total_contabil")
	if err != nil {
		return err
	}

	financial, err := e.financialSheet("Adiantamento de Fornecedores Nacionais", e.rules.AdvanceTypes)
	if err != nil {
		return err
	}

	items, err := e.itemsSheet("Adiantamento", e.store.Table(store.TableAdvance))
	if err != nil {
		return err
	}

	meta := e.metadataSheet(p, s, "Adiantamentos", "Adiantamentos")

	return writeWorkbook(path, []sheet{resumo, financial, items, meta})
}

// resultSheet builds a summary sheet from one of the result tables. The
// stored vendor key may still be a joined code-description string, so it is
// split here and rows whose code comes out empty are dropped.
func (e *Exporter) resultSheet(name, table, financialCol, accountingCol string) (sheet, error) {
	q := fmt.Sprintf(`
		SELECT codigo_fornecedor, descricao_fornecedor, %s, %s, diferenca, status, detalhes
		FROM %s
		WHERE codigo_fornecedor IS NOT NULL AND TRIM(codigo_fornecedor) != ''
		ORDER BY ABS(diferenca) DESC, codigo_fornecedor`,
		financialCol, accountingCol, table)
	raw, err := queryRows(e.store.DB(), q)
	if err != nil {
		return sheet{}, fmt.Errorf("read %s: %w", table, err)
	}

	var rows [][]any
	for _, r := range raw {
		code, desc := splitVendorCell(r[0], r[1])
		if code == "" {
			continue
		}
		rows = append(rows, []any{code, desc, r[2], r[3], r[4], r[5], r[6], ""})
	}
	return sheet{
		name: name,
		header: []string{"Código", "Descrição Fornecedor", "Total Financeiro",
			"Total Contábil", "Diferença", "Status", "Detalhes", "Observações"},
		rows:   rows,
		resumo: true,
	}, nil
}

// financialSheet lists the open titles of the given types, with the joined
// vendor field split into code and description.
func (e *Exporter) financialSheet(name string, types []string) (sheet, error) {
	q := fmt.Sprintf(`
		SELECT
			fornecedor, titulo, parcela, tipo_titulo,
			NULLIF(data_emissao, ''), NULLIF(data_vencimento, ''),
			valor_original, tit_vencidos_valor_nominal, titulos_a_vencer_valor_nominal,
			(COALESCE(tit_vencidos_valor_nominal, 0) + COALESCE(titulos_a_vencer_valor_nominal, 0)),
			situacao, conta_contabil, centro_custo
		FROM %s
		WHERE excluido = 0 AND UPPER(tipo_titulo) IN (%s)
		ORDER BY fornecedor, titulo, parcela`,
		e.store.Table(store.TableFinancial), quotedList(types))
	raw, err := queryRows(e.store.DB(), q)
	if err != nil {
		return sheet{}, fmt.Errorf("read financial titles: %w", err)
	}

	rows := make([][]any, 0, len(raw))
	for _, r := range raw {
		code, desc := splitVendorCell(r[0], r[0])
		rows = append(rows, append([]any{code, desc}, r[1:]...))
	}
	return sheet{
		name: name,
		header: []string{"Código", "Descrição Fornecedor", "Título", "Parcela",
			"Tipo Título", "Data Emissão", "Data Vencimento", "Valor Original",
			"Títulos Vencidos", "Títulos a Vencer", "Saldo Devedor", "Situação",
			"Conta Contábil", "Centro Custo"},
		rows: rows,
	}, nil
}

// balanceSheet shows the payables accounts of the trial balance that moved
// in the period, largest balances first.
func (e *Exporter) balanceSheet() (sheet, error) {
	q := fmt.Sprintf(`
		SELECT
			conta_contabil, descricao_conta, codigo_fornecedor, descricao_fornecedor,
			saldo_anterior, debito, credito, saldo_atual, tipo_fornecedor
		FROM %s
		WHERE (descricao_conta LIKE '%%FORNEC%%' OR tipo_fornecedor LIKE '%%FORNEC%%')
			AND conta_contabil LIKE ?
			AND (debito != 0 OR credito != 0 OR saldo_atual != 0)
		ORDER BY ABS(saldo_atual) DESC, conta_contabil, codigo_fornecedor`,
		e.store.Table(store.TableAccountingSummary))
	raw, err := queryRows(e.store.DB(), q, e.rules.PayableAccountPrefix+"%")
	if err != nil {
		return sheet{}, fmt.Errorf("read trial balance: %w", err)
	}
	return sheet{
		name: "Balancete",
		header: []string{"Conta Contábil", "Descrição", "Código Fornecedor",
			"Descrição Fornecedor", "Saldo Anterior", "Débito", "Crédito",
			"Saldo Atual", "Tipo"},
		rows: raw,
	}, nil
}

// itemsSheet details the per-vendor account items, skipping empty or
// zero-balance lines.
func (e *Exporter) itemsSheet(name, table string) (sheet, error) {
	q := fmt.Sprintf(`
		SELECT
			conta_contabil, descricao_item, codigo_fornecedor, descricao_fornecedor,
			saldo_anterior, saldo_atual
		FROM %s
		WHERE (descricao_fornecedor IS NOT NULL AND descricao_fornecedor != '')
			AND (saldo_anterior IS NOT NULL AND saldo_anterior != 0)
			AND (saldo_atual IS NOT NULL AND saldo_atual != 0)
		ORDER BY conta_contabil, codigo_fornecedor`,
		table)
	raw, err := queryRows(e.store.DB(), q)
	if err != nil {
		return sheet{}, fmt.Errorf("read %s: %w", table, err)
	}

	rows := make([][]any, 0, len(raw))
	for _, r := range raw {
		code, desc := splitVendorCell(r[2], r[3])
		rows = append(rows, []any{r[0], r[1], code, desc, r[4], r[5]})
	}
	return sheet{
		name: name,
		header: []string{"Conta Contábil", "Descrição Item", "Código",
			"Descrição Fornecedor", "Saldo Anterior", "Saldo Atual"},
		rows: rows,
	}, nil
}

func (e *Exporter) metadataSheet(p period.Period, s stats, subject, counter string) sheet {
	rows := [][]any{
		{"Data e Hora do Processamento", e.now().Format("02/01/2006 15:04:05")},
		{"Período de Referência", p.StartString() + " a " + p.EndString()},
		{fmt.Sprintf("Total de %s Processados", subject), s.Total},
		{counter + " Conferidas", s.Checked},
		{counter + " Divergentes", s.Divergent},
		{counter + " Pendentes", s.Pending},
		{"Total Financeiro (R$)", formatBRL(s.TotalFinancial)},
		{"Total Contábil (R$)", formatBRL(s.TotalAccounting)},
		{"Diferença Total (R$)", formatBRL(s.Difference)},
		{"--- CONFIGURAÇÕES ---", "---"},
		{"Legenda de Status", fmt.Sprintf("CONFERIDO: Diferença dentro da tolerância (até %s) | "+
			"DIVERGENTE: Diferença significativa | PENDENTE: Sem correspondência", tolerancePercent(e.rules.Tolerance))},
		{"Tolerância de Diferença", fmt.Sprintf("Até %s de discrepância é considerada tolerável",
			tolerancePercent(e.rules.Tolerance))},
	}
	return sheet{name: "Metadados", header: []string{"Item", "Valor"}, rows: rows}
}

// splitVendorCell extracts the vendor code from a possibly joined
// "1234-5 ACME LTDA" cell. When the cell carries no leading code the
// fallback cell supplies the description.
func splitVendorCell(cell, fallback any) (string, string) {
	raw := strings.TrimSpace(cellString(cell))
	code, desc := cleaner.SplitCodeDescription(raw)
	if code == "" {
		code = raw
	}
	if desc == "" {
		desc = strings.TrimSpace(cellString(fallback))
	}
	return code, desc
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// queryRows runs a query and materializes every row as a []any.
func queryRows(db *sql.DB, query string, args ...any) ([][]any, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	return out, rows.Err()
}

// writeWorkbook materializes the sheets into an xlsx file with the house
// styling and saves it.
func writeWorkbook(path string, sheets []sheet) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			return err
		}

		header := make([]any, len(sh.header))
		for j, h := range sh.header {
			header[j] = h
		}
		if err := f.SetSheetRow(sh.name, "A1", &header); err != nil {
			return err
		}
		for r, row := range sh.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sh.name, cell, &row); err != nil {
				return err
			}
		}

		if err := styleSheet(f, sh); err != nil {
			return err
		}
		if err := protectSheet(f, sh); err != nil {
			return err
		}
	}

	return f.SaveAs(path)
}

// tolerancePercent renders the tolerance fraction as a percent label.
func tolerancePercent(tol float64) string {
	return strings.TrimSuffix(strconv.FormatFloat(tol*100, 'f', -1, 64), ".0") + "%"
}

// formatBRL renders a monetary value the way the metadata sheet shows it,
// with thousands grouping.
func formatBRL(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	out := "R$ " + b.String() + "." + frac
	if neg {
		out = "R$ -" + b.String() + "." + frac
	}
	return out
}
