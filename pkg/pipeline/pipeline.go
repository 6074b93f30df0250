// Package pipeline wires the whole reconciliation flow together: import
// every recognized file in the input directory, cross the ledgers, export
// the workbooks. Each step reports a structured outcome so a caller can
// tell a bad file from a broken run.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/liradata/concilia/pkg/cleaner"
	"github.com/liradata/concilia/pkg/config"
	"github.com/liradata/concilia/pkg/period"
	"github.com/liradata/concilia/pkg/reconcile"
	"github.com/liradata/concilia/pkg/report"
	"github.com/liradata/concilia/pkg/schema"
	"github.com/liradata/concilia/pkg/store"
	"github.com/liradata/concilia/pkg/tabular"
)

type Status string

const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusCritical Status = "critical_error"
)

// Outcome describes how one step of a run ended. Code carries the
// machine-readable error code when the underlying error exposes one.
type Outcome struct {
	Step    string
	Status  Status
	Message string
	Code    string
	Path    string
}

// coder is implemented by the error types that carry a stable code.
type coder interface{ Code() string }

func outcomeFrom(step, path string, err error) Outcome {
	o := Outcome{Step: step, Status: StatusSuccess, Path: path}
	if err != nil {
		o.Status = StatusError
		o.Message = err.Error()
		var c coder
		if errors.As(err, &c) {
			o.Code = c.Code()
		}
	}
	return o
}

type Runner struct {
	cfg      *config.Config
	store    *store.Store
	logger   *log.Logger
	cleaner  *cleaner.Cleaner
	norm     *schema.Normalizer
	engine   *reconcile.Engine
	exporter *report.Exporter
	now      func() time.Time
}

func New(cfg *config.Config, s *store.Store, logger *log.Logger) (*Runner, error) {
	overrides, err := schema.LoadOverrides(cfg.AliasOverridesPath)
	if err != nil {
		return nil, err
	}
	rules := reconcile.Rules{
		PayableAccountPrefix: cfg.PayableAccountPrefix,
		AdvanceAccountPrefix: cfg.AdvanceAccountPrefix,
		InvoiceTypes:         cfg.InvoiceTypes,
		AdvanceTypes:         cfg.AdvanceTypes,
		Tolerance:            cfg.Tolerance,
	}
	return &Runner{
		cfg:      cfg,
		store:    s,
		logger:   logger,
		cleaner:  cleaner.New(logger.With("component", "cleaner")),
		norm:     schema.New(logger.With("component", "schema"), nil, overrides),
		engine:   reconcile.New(s, logger.With("component", "reconcile"), rules),
		exporter: report.NewExporter(s, logger.With("component", "report"), cfg.ResultsDir, rules),
		now:      time.Now,
	}, nil
}

// Run executes the full flow. One unreadable file does not stop the run;
// the reconciliation only proceeds when at least one file imported.
func (r *Runner) Run() ([]Outcome, error) {
	outcomes, imported := r.ImportDir(r.cfg.InputDir)

	if imported == 0 {
		outcomes = append(outcomes, Outcome{
			Step:    "reconciliacao",
			Status:  StatusCritical,
			Message: "nenhum arquivo importado, conciliação cancelada",
		})
		return outcomes, fmt.Errorf("no files imported from %s", r.cfg.InputDir)
	}

	if err := r.engine.Run(); err != nil {
		outcomes = append(outcomes, Outcome{
			Step: "reconciliacao", Status: StatusCritical, Message: err.Error(),
		})
		return outcomes, err
	}
	outcomes = append(outcomes, Outcome{Step: "reconciliacao", Status: StatusSuccess})

	// One failed workbook does not block the other view.
	var exportErr error
	p := period.Reference(r.now())
	for _, view := range []report.View{report.ViewVendors, report.ViewAdvances} {
		path, err := r.exporter.Export(view, p)
		outcomes = append(outcomes, outcomeFrom("exportacao_"+string(view), path, err))
		if err != nil && exportErr == nil {
			exportErr = err
		}
	}
	return outcomes, exportErr
}

// ImportDir imports every file in dir whose name identifies a source kind.
// It returns one outcome per recognized file and how many imported cleanly.
func (r *Runner) ImportDir(dir string) ([]Outcome, int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []Outcome{{
			Step:    "importacao",
			Status:  StatusCritical,
			Message: fmt.Sprintf("ler diretório de entrada: %v", err),
			Path:    dir,
		}}, 0
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var outcomes []Outcome
	imported := 0
	for _, name := range names {
		kind, ok := tabular.DetectKind(name)
		if !ok {
			r.logger.Warn("skipping unrecognized file", "file", name)
			continue
		}
		path := filepath.Join(dir, name)
		rows, err := r.ImportFile(path, kind)
		o := outcomeFrom("importacao_"+string(kind), path, err)
		if err == nil {
			o.Message = fmt.Sprintf("%d registros importados", rows)
			imported++
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, imported
}

// ImportFile reads, normalizes and cleans one source file and replaces the
// ledger table of its kind.
func (r *Runner) ImportFile(path string, kind tabular.Kind) (int, error) {
	table, err := tabular.Read(path)
	if err != nil {
		return 0, err
	}
	if err := r.norm.Normalize(kind, table, path); err != nil {
		return 0, err
	}
	ds := r.cleaner.Clean(kind, table)
	return r.store.Replace(tableFor(kind), ds)
}

// Reconcile runs just the crossing step, for callers that already imported.
func (r *Runner) Reconcile() error { return r.engine.Run() }

// Export writes the workbook for one view and returns its path.
func (r *Runner) Export(view report.View) (string, error) {
	return r.exporter.Export(view, period.Reference(r.now()))
}

// Summary condenses a run's outcomes into one log-friendly line.
func Summary(outcomes []Outcome) string {
	var ok, failed int
	for _, o := range outcomes {
		if o.Status == StatusSuccess {
			ok++
		} else {
			failed++
		}
	}
	return fmt.Sprintf("%d etapas concluídas, %d falharam", ok, failed)
}

func tableFor(kind tabular.Kind) string {
	switch kind {
	case tabular.Financial:
		return store.TableFinancial
	case tabular.AccountingSummary:
		return store.TableAccountingSummary
	case tabular.AccountingDetail:
		return store.TableAccountingItems
	case tabular.Advance:
		return store.TableAdvance
	}
	return strings.ToLower(string(kind))
}
