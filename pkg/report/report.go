// Package report renders reconciliation results into formatted Excel
// workbooks, one per view: the vendor reconciliation proper and the
// advance reconciliation mirror.
package report

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/liradata/concilia/pkg/period"
	"github.com/liradata/concilia/pkg/reconcile"
	"github.com/liradata/concilia/pkg/store"
)

// View selects which workbook Export produces.
type View string

const (
	ViewVendors  View = "fornecedores"
	ViewAdvances View = "adiantamentos"
)

// SaveError wraps any failure while producing or validating a workbook.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save report %s: %v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// Code returns the machine-readable error code for step outcomes.
func (e *SaveError) Code() string { return "1005" }

type Exporter struct {
	store  *store.Store
	logger *log.Logger
	dir    string
	rules  reconcile.Rules
	now    func() time.Time
}

func NewExporter(s *store.Store, logger *log.Logger, dir string, rules reconcile.Rules) *Exporter {
	return &Exporter{store: s, logger: logger, dir: dir, rules: rules, now: time.Now}
}

// Export writes the workbook for the given view and reference window and
// returns its path. The written file is re-opened and validated before the
// path is handed back.
func (e *Exporter) Export(view View, p period.Period) (string, error) {
	name := fmt.Sprintf("CONCILIACAO_%s_a_%s_%s.xlsx",
		strings.ReplaceAll(p.StartString(), "/", "-"),
		strings.ReplaceAll(p.EndString(), "/", "-"),
		strings.ToUpper(string(view)))
	path := filepath.Join(e.dir, name)

	var err error
	switch view {
	case ViewVendors:
		err = e.exportVendors(path, p)
	case ViewAdvances:
		err = e.exportAdvances(path, p)
	default:
		err = fmt.Errorf("unknown view %q", view)
	}
	if err != nil {
		return "", &SaveError{Path: path, Err: err}
	}
	if err := Validate(path, view); err != nil {
		return "", &SaveError{Path: path, Err: err}
	}
	e.logger.Info("report written", "view", view, "path", path)
	return path, nil
}

// stats are the headline numbers shown on the metadata sheet.
type stats struct {
	Total           int
	Checked         int
	Divergent       int
	Pending         int
	TotalFinancial  float64
	TotalAccounting float64
	Difference      float64
}

func (e *Exporter) vendorStats() (stats, error) {
	db := e.store.DB()
	q := fmt.Sprintf(`
		SELECT
			COUNT(*),
			SUM(CASE WHEN status = 'Conferido' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'Divergente' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'Pendente' THEN 1 ELSE 0 END),
			(SELECT ABS(COALESCE(SUM(COALESCE(tit_vencidos_valor_nominal, 0)
				+ COALESCE(titulos_a_vencer_valor_nominal, 0)), 0))
				FROM %[2]s
				WHERE excluido = 0 AND UPPER(tipo_titulo) IN (%[4]s)),
			(SELECT COALESCE(SUM(ci.saldo_atual), 0)
				FROM %[3]s ci WHERE ci.conta_contabil LIKE ?)
		FROM %[1]s`,
		e.store.Table(store.TableResult), e.store.Table(store.TableFinancial), e.store.Table(store.TableAccountingItems),
		quotedList(e.rules.InvoiceTypes))

	var s stats
	var checked, divergent, pending sql.NullInt64
	err := db.QueryRow(q, e.rules.PayableAccountPrefix+"%").Scan(
		&s.Total, &checked, &divergent, &pending, &s.TotalFinancial, &s.TotalAccounting)
	if err != nil {
		return stats{}, fmt.Errorf("vendor stats: %w", err)
	}
	s.Checked = int(checked.Int64)
	s.Divergent = int(divergent.Int64)
	s.Pending = int(pending.Int64)
	s.Difference = s.TotalFinancial - abs(s.TotalAccounting)
	return s, nil
}

func (e *Exporter) advanceStats() (stats, error) {
	q := fmt.Sprintf(`
		SELECT
			COUNT(*),
			SUM(CASE WHEN status = 'Conferido' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'Divergente' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'Pendente' THEN 1 ELSE 0 END),
			ABS(COALESCE(SUM(total_financeiro), 0)),
			COALESCE(SUM(total_contabil), 0)
		FROM %s`,
		e.store.Table(store.TableAdvanceResult))

	var s stats
	var checked, divergent, pending sql.NullInt64
	err := e.store.DB().QueryRow(q).Scan(
		&s.Total, &checked, &divergent, &pending, &s.TotalFinancial, &s.TotalAccounting)
	if err != nil {
		return stats{}, fmt.Errorf("advance stats: %w", err)
	}
	s.Checked = int(checked.Int64)
	s.Divergent = int(divergent.Int64)
	s.Pending = int(pending.Int64)
	s.Difference = s.TotalFinancial - s.TotalAccounting
	return s, nil
}

// quotedList renders a SQL IN list from constant configuration values.
// The values come from config, not user input, but quotes are escaped
// anyway.
func quotedList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(strings.ToUpper(v), "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
