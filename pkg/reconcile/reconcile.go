// Package reconcile crosses the financial ledger against the accounting
// balances and classifies each vendor group. The whole run is a single
// SQL transaction over the result tables, so a failed run leaves the
// previous results untouched.
package reconcile

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/liradata/concilia/pkg/store"
)

// Rules carries the site-specific knobs of a reconciliation run. The two
// account prefixes select which ledger accounts count as payables and as
// vendor advances; the tolerance is the relative band inside which a
// difference is still considered reconciled.
type Rules struct {
	PayableAccountPrefix string
	AdvanceAccountPrefix string
	InvoiceTypes         []string
	AdvanceTypes         []string
	Tolerance            float64
}

type Engine struct {
	store  *store.Store
	logger *log.Logger
	rules  Rules
}

func New(s *store.Store, logger *log.Logger, rules Rules) *Engine {
	return &Engine{store: s, logger: logger, rules: rules}
}

// Run rebuilds both result tables from the imported ledgers.
//
// Vendor groups come from invoice titles first; accounting balances for the
// payables account are matched on the vendor code with AF/F prefixes
// stripped, advance balances on the exact code. Accounting-only vendors are
// appended afterwards so nothing the accounting side knows goes missing.
func (e *Engine) Run() error {
	tx, err := e.store.DB().Begin()
	if err != nil {
		return fmt.Errorf("begin reconciliation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM " + e.store.Table(store.TableResult)); err != nil {
		return fmt.Errorf("clear results: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM " + e.store.Table(store.TableAdvanceResult)); err != nil {
		return fmt.Errorf("clear advance results: %w", err)
	}

	payable := e.rules.PayableAccountPrefix + "%"
	advance := e.rules.AdvanceAccountPrefix + "%"

	// Seed one group per vendor from open invoices.
	seed := fmt.Sprintf(`
		INSERT INTO %[1]s (codigo_fornecedor, descricao_fornecedor, saldo_financeiro, saldo_contabil, status)
		SELECT
			COALESCE(NULLIF(TRIM(f.codigo_fornecedor), ''), TRIM(f.fornecedor)),
			COALESCE(NULLIF(TRIM(f.descricao_fornecedor), ''), TRIM(f.fornecedor)),
			SUM(COALESCE(f.valor_original, 0)),
			0,
			'Pendente'
		FROM %[2]s f
		WHERE f.excluido = 0 AND UPPER(f.tipo_titulo) IN (%[3]s)
		GROUP BY
			COALESCE(NULLIF(TRIM(f.codigo_fornecedor), ''), TRIM(f.fornecedor)),
			COALESCE(NULLIF(TRIM(f.descricao_fornecedor), ''), TRIM(f.fornecedor))`,
		e.store.Table(store.TableResult), e.store.Table(store.TableFinancial), placeholders(len(e.rules.InvoiceTypes)))
	if _, err := tx.Exec(seed, upperArgs(e.rules.InvoiceTypes)...); err != nil {
		return fmt.Errorf("seed vendor groups: %w", err)
	}

	// Payables balance per vendor, matched on the prefix-stripped code.
	accounting := fmt.Sprintf(`
		UPDATE %[1]s
		SET
			saldo_contabil = (
				SELECT COALESCE(SUM(ci.saldo_atual), 0)
				FROM %[2]s ci
				WHERE ci.conta_contabil LIKE ?1
					AND REPLACE(REPLACE(UPPER(TRIM(ci.codigo_fornecedor)), 'AF', ''), 'F', '') =
						REPLACE(REPLACE(UPPER(TRIM(%[1]s.codigo_fornecedor)), 'AF', ''), 'F', '')
					AND ci.codigo_fornecedor IS NOT NULL AND ci.codigo_fornecedor != ''
			),
			detalhes = (
				SELECT GROUP_CONCAT(
					'Conta: ' || ci.conta_contabil ||
					' | Item: ' || ci.descricao_item ||
					' | Valor: R$ ' || ROUND(COALESCE(ci.saldo_atual, 0), 2), ' | ')
				FROM %[2]s ci
				WHERE ci.conta_contabil LIKE ?1
					AND REPLACE(REPLACE(UPPER(TRIM(ci.codigo_fornecedor)), 'AF', ''), 'F', '') =
						REPLACE(REPLACE(UPPER(TRIM(%[1]s.codigo_fornecedor)), 'AF', ''), 'F', '')
					AND ci.codigo_fornecedor IS NOT NULL AND ci.codigo_fornecedor != ''
			)
		WHERE EXISTS (
			SELECT 1 FROM %[2]s ci2
			WHERE ci2.conta_contabil LIKE ?1
				AND REPLACE(REPLACE(UPPER(TRIM(ci2.codigo_fornecedor)), 'AF', ''), 'F', '') =
					REPLACE(REPLACE(UPPER(TRIM(%[1]s.codigo_fornecedor)), 'AF', ''), 'F', '')
				AND ci2.codigo_fornecedor IS NOT NULL AND ci2.codigo_fornecedor != ''
		)`,
		e.store.Table(store.TableResult), e.store.Table(store.TableAccountingItems))
	if _, err := tx.Exec(accounting, payable); err != nil {
		return fmt.Errorf("apply accounting balances: %w", err)
	}

	// Vendor advances add on top of the payables balance, exact code match.
	advances := fmt.Sprintf(`
		UPDATE %[1]s
		SET saldo_contabil = saldo_contabil + (
			SELECT COALESCE(SUM(a.saldo_atual), 0)
			FROM %[2]s a
			WHERE a.conta_contabil LIKE ?1
				AND a.codigo_fornecedor = %[1]s.codigo_fornecedor
		)
		WHERE EXISTS (
			SELECT 1 FROM %[2]s a2
			WHERE a2.conta_contabil LIKE ?1
				AND a2.codigo_fornecedor = %[1]s.codigo_fornecedor
		)`,
		e.store.Table(store.TableResult), e.store.Table(store.TableAdvance))
	if _, err := tx.Exec(advances, advance); err != nil {
		return fmt.Errorf("apply advance balances: %w", err)
	}

	// Vendors the accounting side knows but the financial ledger does not.
	residual := fmt.Sprintf(`
		INSERT INTO %[1]s (codigo_fornecedor, descricao_fornecedor, saldo_financeiro, saldo_contabil, status)
		SELECT
			COALESCE(NULLIF(TRIM(ci.codigo_fornecedor), ''), ci.descricao_fornecedor),
			COALESCE(NULLIF(TRIM(ci.descricao_fornecedor), ''), ci.descricao_item),
			0,
			SUM(COALESCE(ci.saldo_atual, 0)),
			'Pendente'
		FROM %[2]s ci
		WHERE ci.conta_contabil LIKE ?1
			AND NOT EXISTS (
				SELECT 1 FROM %[1]s r
				WHERE r.codigo_fornecedor = COALESCE(NULLIF(TRIM(ci.codigo_fornecedor), ''), ci.descricao_fornecedor)
			)
		GROUP BY
			COALESCE(NULLIF(TRIM(ci.codigo_fornecedor), ''), ci.descricao_fornecedor),
			COALESCE(NULLIF(TRIM(ci.descricao_fornecedor), ''), ci.descricao_item)`,
		e.store.Table(store.TableResult), e.store.Table(store.TableAccountingItems))
	if _, err := tx.Exec(residual, payable); err != nil {
		return fmt.Errorf("insert accounting-only vendors: %w", err)
	}

	if err := e.classify(tx); err != nil {
		return err
	}
	if err := e.annotate(tx); err != nil {
		return err
	}
	if err := e.rank(tx); err != nil {
		return err
	}
	if err := e.runAdvances(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reconciliation: %w", err)
	}
	e.logger.Info("reconciliation complete")
	return nil
}

// classify computes each group's difference as accounting minus financial
// and sets the status. The tolerance band is inclusive and relative to the
// larger of the two balances.
func (e *Engine) classify(tx *sql.Tx) error {
	q := fmt.Sprintf(`
		UPDATE %s
		SET
			diferenca = ROUND(COALESCE(saldo_contabil, 0) - COALESCE(saldo_financeiro, 0), 2),
			status = CASE
				WHEN saldo_contabil IS NULL AND saldo_financeiro IS NULL THEN 'Pendente'
				WHEN ABS(COALESCE(saldo_financeiro, 0) - COALESCE(saldo_contabil, 0)) <=
					(?1 * CASE
						WHEN ABS(COALESCE(saldo_contabil, 0)) > ABS(COALESCE(saldo_financeiro, 0))
						THEN ABS(COALESCE(saldo_contabil, 0))
						ELSE ABS(COALESCE(saldo_financeiro, 0))
					END)
					THEN 'Conferido'
				ELSE 'Divergente'
			END`,
		e.store.Table(store.TableResult))
	if _, err := tx.Exec(q, e.rules.Tolerance); err != nil {
		return fmt.Errorf("classify groups: %w", err)
	}
	return nil
}

// annotate fills in human-readable detail text. Divergent groups get an
// investigation hint; anything already annotated is left alone.
func (e *Engine) annotate(tx *sql.Tx) error {
	investigate := fmt.Sprintf(`
		UPDATE %[1]s
		SET detalhes = COALESCE(detalhes, '') ||
			' | Divergência: R$ ' || ABS(diferenca) ||
			'. Itens Contábeis encontrados: ' ||
			COALESCE(
				(SELECT COUNT(*) || ' itens'
				FROM %[2]s ci
				WHERE (ci.codigo_fornecedor = %[1]s.codigo_fornecedor
						OR ci.descricao_fornecedor = %[1]s.descricao_fornecedor)
					AND ci.conta_contabil LIKE ?1),
				'Nenhum item específico encontrado')
		WHERE status = 'Divergente'`,
		e.store.Table(store.TableResult), e.store.Table(store.TableAccountingItems))
	if _, err := tx.Exec(investigate, e.rules.PayableAccountPrefix+"%"); err != nil {
		return fmt.Errorf("annotate divergent groups: %w", err)
	}

	fallback := fmt.Sprintf(`
		UPDATE %s
		SET detalhes = 'Divergência: R$ ' || ABS(diferenca) ||
			'. Investigar manualmente no sistema. Nenhum item contábil específico encontrado para análise automática.'
		WHERE status = 'Divergente' AND (detalhes IS NULL OR detalhes = '')`,
		e.store.Table(store.TableResult))
	if _, err := tx.Exec(fallback); err != nil {
		return fmt.Errorf("annotate divergent groups: %w", err)
	}

	rest := fmt.Sprintf(`
		UPDATE %s
		SET detalhes = CASE
			WHEN status = 'Conferido' THEN 'Conciliação dentro da tolerância'
			WHEN status = 'Pendente' THEN 'Financeiro: R$ ' || COALESCE(saldo_financeiro, 0) ||
				' | Contábil: R$ ' || COALESCE(saldo_contabil, 0) ||
				' | Diferença: R$ ' || COALESCE(diferenca, 0)
			ELSE detalhes
		END
		WHERE detalhes IS NULL OR detalhes = ''`,
		e.store.Table(store.TableResult))
	if _, err := tx.Exec(rest); err != nil {
		return fmt.Errorf("annotate groups: %w", err)
	}
	return nil
}

// rank orders groups by absolute difference. The count is inclusive, so
// equal differences share the same rank and rank 1 is the largest.
func (e *Engine) rank(tx *sql.Tx) error {
	q := fmt.Sprintf(`
		UPDATE %[1]s
		SET ordem_importancia = (
			SELECT COUNT(*) FROM %[1]s r2
			WHERE ABS(COALESCE(r2.diferenca, 0)) >= ABS(COALESCE(%[1]s.diferenca, 0))
		)`,
		e.store.Table(store.TableResult))
	if _, err := tx.Exec(q); err != nil {
		return fmt.Errorf("rank groups: %w", err)
	}
	return nil
}

// runAdvances builds the advance mirror. The financial side sums the two
// aged columns of NDF/PA titles; advances carry opposite signs on the two
// ledgers, so here a group balances when financial plus accounting is
// inside the tolerance band.
func (e *Engine) runAdvances(tx *sql.Tx) error {
	seed := fmt.Sprintf(`
		INSERT INTO %[1]s (codigo_fornecedor, descricao_fornecedor, total_financeiro, status)
		SELECT
			COALESCE(NULLIF(TRIM(f.codigo_fornecedor), ''), TRIM(f.fornecedor)),
			COALESCE(NULLIF(TRIM(f.descricao_fornecedor), ''), TRIM(f.fornecedor)),
			SUM(COALESCE(f.tit_vencidos_valor_nominal, 0) + COALESCE(f.titulos_a_vencer_valor_nominal, 0)),
			'Pendente'
		FROM %[2]s f
		WHERE f.excluido = 0 AND UPPER(f.tipo_titulo) IN (%[3]s)
		GROUP BY
			COALESCE(NULLIF(TRIM(f.codigo_fornecedor), ''), TRIM(f.fornecedor)),
			COALESCE(NULLIF(TRIM(f.descricao_fornecedor), ''), TRIM(f.fornecedor))`,
		e.store.Table(store.TableAdvanceResult), e.store.Table(store.TableFinancial), placeholders(len(e.rules.AdvanceTypes)))
	if _, err := tx.Exec(seed, upperArgs(e.rules.AdvanceTypes)...); err != nil {
		return fmt.Errorf("seed advance groups: %w", err)
	}

	// Accounting match is looser here: code or trimmed description.
	accounting := fmt.Sprintf(`
		UPDATE %[1]s
		SET
			total_contabil = (
				SELECT COALESCE(SUM(a.saldo_atual), 0)
				FROM %[2]s a
				WHERE a.codigo_fornecedor = %[1]s.codigo_fornecedor
					OR TRIM(a.descricao_fornecedor) = %[1]s.descricao_fornecedor
			),
			detalhes = 'Adiantamento: ' || COALESCE((
				SELECT GROUP_CONCAT(a2.descricao_fornecedor || ': R$ ' || a2.saldo_atual, ' | ')
				FROM %[2]s a2
				WHERE a2.codigo_fornecedor = %[1]s.codigo_fornecedor
					OR TRIM(a2.descricao_fornecedor) = %[1]s.descricao_fornecedor
			), 'Nenhum registro contábil')
		WHERE EXISTS (
			SELECT 1 FROM %[2]s a3
			WHERE a3.codigo_fornecedor = %[1]s.codigo_fornecedor
				OR TRIM(a3.descricao_fornecedor) = %[1]s.descricao_fornecedor
		)`,
		e.store.Table(store.TableAdvanceResult), e.store.Table(store.TableAdvance))
	if _, err := tx.Exec(accounting); err != nil {
		return fmt.Errorf("apply advance accounting balances: %w", err)
	}

	residual := fmt.Sprintf(`
		INSERT INTO %[1]s (codigo_fornecedor, descricao_fornecedor, total_contabil, status, detalhes)
		SELECT
			a.codigo_fornecedor,
			a.descricao_fornecedor,
			SUM(COALESCE(a.saldo_atual, 0)),
			'Pendente',
			'Adiantamento contábil sem correspondência financeira'
		FROM %[2]s a
		WHERE a.codigo_fornecedor IS NOT NULL AND a.codigo_fornecedor <> ''
			AND NOT EXISTS (
				SELECT 1 FROM %[1]s r
				WHERE r.codigo_fornecedor = a.codigo_fornecedor
					OR TRIM(r.descricao_fornecedor) = TRIM(a.descricao_fornecedor)
			)
		GROUP BY a.codigo_fornecedor, a.descricao_fornecedor`,
		e.store.Table(store.TableAdvanceResult), e.store.Table(store.TableAdvance))
	if _, err := tx.Exec(residual); err != nil {
		return fmt.Errorf("insert accounting-only advances: %w", err)
	}

	classify := fmt.Sprintf(`
		UPDATE %s
		SET
			diferenca = ROUND(COALESCE(total_financeiro, 0) + COALESCE(total_contabil, 0), 2),
			status = CASE
				WHEN total_contabil IS NULL AND total_financeiro IS NULL THEN 'Pendente'
				WHEN total_contabil IS NULL AND total_financeiro IS NOT NULL THEN 'Divergente'
				WHEN total_financeiro IS NULL AND total_contabil IS NOT NULL THEN 'Divergente'
				WHEN ABS(COALESCE(total_financeiro, 0) + COALESCE(total_contabil, 0)) <=
					(?1 * CASE
						WHEN ABS(COALESCE(total_contabil, 0)) > ABS(COALESCE(total_financeiro, 0))
						THEN ABS(COALESCE(total_contabil, 0))
						ELSE ABS(COALESCE(total_financeiro, 0))
					END)
					THEN 'Conferido'
				ELSE 'Divergente'
			END`,
		e.store.Table(store.TableAdvanceResult))
	if _, err := tx.Exec(classify, e.rules.Tolerance); err != nil {
		return fmt.Errorf("classify advance groups: %w", err)
	}

	annotate := fmt.Sprintf(`
		UPDATE %s
		SET detalhes = CASE
			WHEN status = 'Conferido' THEN 'Adiantamento conciliado'
			WHEN status = 'Divergente' AND total_financeiro IS NULL THEN
				'Adiantamento contábil sem lançamento financeiro: R$ ' || COALESCE(total_contabil, 0)
			WHEN status = 'Divergente' AND total_contabil IS NULL THEN
				'Adiantamento financeiro sem lançamento contábil: R$ ' || COALESCE(total_financeiro, 0)
			ELSE 'Diferença: R$ ' || ABS(COALESCE(diferenca, 0)) ||
				' | Financeiro: R$ ' || COALESCE(total_financeiro, 0) ||
				' | Contábil: R$ ' || COALESCE(total_contabil, 0)
		END
		WHERE detalhes IS NULL OR detalhes = ''`,
		e.store.Table(store.TableAdvanceResult))
	if _, err := tx.Exec(annotate); err != nil {
		return fmt.Errorf("annotate advance groups: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func upperArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = strings.ToUpper(v)
	}
	return args
}
