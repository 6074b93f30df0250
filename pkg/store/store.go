// Package store owns the SQLite ledger the reconciliation runs against.
// Every import replaces a table's contents wholesale, so a run always
// reflects exactly the last set of files handed to the pipeline.
package store

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	"github.com/liradata/concilia/pkg/cleaner"
)

// Logical ledger table names. Anything outside this set is rejected before
// it can reach a SQL string; sites may remap each one to a different
// physical name at Open time.
const (
	TableFinancial         = "financeiro"
	TableAccountingSummary = "modelo1"
	TableAccountingItems   = "contas_itens"
	TableAdvance           = "adiantamento"
	TableResult            = "resultado"
	TableAdvanceResult     = "resultado_adiantamento"
)

var knownTables = map[string]bool{
	TableFinancial:         true,
	TableAccountingSummary: true,
	TableAccountingItems:   true,
	TableAdvance:           true,
	TableResult:            true,
	TableAdvanceResult:     true,
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Per-table DDL, keyed by logical name. The physical name is filled in
// at Open time.
var ddl = map[string]string{
	TableFinancial: `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fornecedor TEXT,
	codigo_fornecedor TEXT,
	descricao_fornecedor TEXT,
	titulo TEXT,
	parcela TEXT,
	tipo_titulo TEXT,
	data_emissao TEXT DEFAULT NULL,
	data_vencimento TEXT DEFAULT NULL,
	valor_original REAL DEFAULT 0,
	tit_vencidos_valor_nominal REAL DEFAULT 0,
	titulos_a_vencer_valor_nominal REAL DEFAULT 0,
	saldo_devedor REAL DEFAULT 0,
	situacao TEXT,
	conta_contabil TEXT,
	centro_custo TEXT,
	excluido INTEGER DEFAULT 0,
	data_processamento TEXT DEFAULT CURRENT_TIMESTAMP
)`,
	TableAccountingSummary: `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conta_contabil TEXT,
	descricao_conta TEXT,
	codigo_fornecedor TEXT,
	descricao_fornecedor TEXT,
	saldo_anterior REAL DEFAULT 0,
	debito REAL DEFAULT 0,
	credito REAL DEFAULT 0,
	saldo_atual REAL DEFAULT 0,
	tipo_fornecedor TEXT,
	data_processamento TEXT DEFAULT CURRENT_TIMESTAMP
)`,
	TableAccountingItems: `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conta_contabil TEXT,
	descricao_item TEXT,
	codigo_fornecedor TEXT,
	descricao_fornecedor TEXT,
	saldo_anterior REAL DEFAULT 0,
	debito REAL DEFAULT 0,
	credito REAL DEFAULT 0,
	saldo_atual REAL DEFAULT 0,
	data_processamento TEXT DEFAULT CURRENT_TIMESTAMP
)`,
	TableAdvance: `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conta_contabil TEXT,
	descricao_item TEXT,
	codigo_fornecedor TEXT,
	descricao_fornecedor TEXT,
	saldo_anterior REAL DEFAULT 0,
	debito REAL DEFAULT 0,
	credito REAL DEFAULT 0,
	saldo_atual REAL DEFAULT 0,
	data_processamento TEXT DEFAULT CURRENT_TIMESTAMP
)`,
	TableResult: `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	codigo_fornecedor TEXT,
	descricao_fornecedor TEXT,
	saldo_contabil REAL DEFAULT 0,
	saldo_financeiro REAL DEFAULT 0,
	diferenca REAL DEFAULT 0,
	status TEXT CHECK(status IN ('Conferido', 'Divergente', 'Pendente')),
	detalhes TEXT,
	ordem_importancia INTEGER,
	data_processamento TEXT DEFAULT CURRENT_TIMESTAMP
)`,
	TableAdvanceResult: `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	codigo_fornecedor TEXT,
	descricao_fornecedor TEXT,
	total_financeiro REAL DEFAULT 0,
	total_contabil REAL DEFAULT 0,
	diferenca REAL DEFAULT 0,
	status TEXT CHECK(status IN ('Conferido', 'Divergente', 'Pendente')),
	detalhes TEXT,
	data_processamento TEXT DEFAULT CURRENT_TIMESTAMP
)`,
}

type Store struct {
	db     *sql.DB
	names  map[string]string
	logger *log.Logger
}

// Open opens (creating if needed) the ledger database at path and applies
// the schema plus any additive column migrations. names remaps logical
// table names to physical ones; a nil or partial map keeps the defaults
// for anything it does not mention.
func Open(path string, names map[string]string, logger *log.Logger) (*Store, error) {
	resolved, err := resolveNames(names)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db, names: resolved, logger: logger}
	for logical, stmt := range ddl {
		if _, err := db.Exec(fmt.Sprintf(stmt, resolved[logical])); err != nil {
			db.Close()
			return nil, fmt.Errorf("create table %s: %w", resolved[logical], err)
		}
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Table resolves a logical table name to the physical one configured at
// Open time.
func (s *Store) Table(logical string) string {
	if phys, ok := s.names[logical]; ok {
		return phys
	}
	return logical
}

func resolveNames(overrides map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(knownTables))
	for logical := range knownTables {
		resolved[logical] = logical
	}
	for logical, phys := range overrides {
		if !knownTables[logical] {
			return nil, fmt.Errorf("unknown ledger table %q", logical)
		}
		if err := checkIdent(phys); err != nil {
			return nil, err
		}
		resolved[logical] = phys
	}
	seen := make(map[string]string, len(resolved))
	for logical, phys := range resolved {
		if other, ok := seen[phys]; ok {
			return nil, fmt.Errorf("tables %s and %s map to the same physical name %q", other, logical, phys)
		}
		seen[phys] = logical
	}
	return resolved, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for the reconciliation engine, which
// runs multi-statement transactions directly.
func (s *Store) DB() *sql.DB { return s.db }

// migrate adds columns that older databases predate. Columns are only ever
// added, never dropped or retyped.
func (s *Store) migrate() error {
	steps := []struct{ table, column, typ string }{
		{TableFinancial, "codigo_fornecedor", "TEXT"},
		{TableFinancial, "descricao_fornecedor", "TEXT"},
		{TableFinancial, "tit_vencidos_valor_nominal", "REAL"},
		{TableFinancial, "titulos_a_vencer_valor_nominal", "REAL"},
		{TableAccountingSummary, "codigo_fornecedor", "TEXT"},
		{TableAccountingSummary, "descricao_fornecedor", "TEXT"},
		{TableAccountingItems, "codigo_fornecedor", "TEXT"},
		{TableAccountingItems, "descricao_fornecedor", "TEXT"},
		{TableResult, "ordem_importancia", "INTEGER"},
	}
	for _, m := range steps {
		if err := s.EnsureColumn(m.table, m.column, m.typ); err != nil {
			return err
		}
	}
	return nil
}

// EnsureColumn adds column to the logical table when it does not exist yet.
func (s *Store) EnsureColumn(table, column, typ string) error {
	if !knownTables[table] {
		return fmt.Errorf("unknown ledger table %q", table)
	}
	if err := checkIdent(column); err != nil {
		return err
	}
	phys := s.Table(table)
	cols, err := s.tableColumns(phys)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if c == column {
			return nil
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", phys, column, typ)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", phys, column, err)
	}
	s.logger.Info("added column", "table", phys, "column", column)
	return nil
}

// Replace swaps a table's contents for the dataset's rows in one
// transaction. Dataset columns the table does not know are added as TEXT
// first; table columns the dataset lacks take their defaults.
func (s *Store) Replace(table string, ds *cleaner.Dataset) (int, error) {
	if !knownTables[table] {
		return 0, fmt.Errorf("unknown ledger table %q", table)
	}
	for _, c := range ds.Columns {
		if err := checkIdent(c); err != nil {
			return 0, err
		}
		if err := s.EnsureColumn(table, c, "TEXT"); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	phys := s.Table(table)
	if _, err := tx.Exec("DELETE FROM " + phys); err != nil {
		return 0, fmt.Errorf("clear %s: %w", phys, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ds.Columns)), ", ")
	stmt, err := tx.Prepare(fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)", phys, strings.Join(ds.Columns, ", "), placeholders))
	if err != nil {
		return 0, fmt.Errorf("prepare insert into %s: %w", phys, err)
	}
	defer stmt.Close()

	for _, row := range ds.Rows {
		if _, err := stmt.Exec(row...); err != nil {
			return 0, fmt.Errorf("insert into %s: %w", phys, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	s.logger.Info("table replaced", "table", phys, "rows", len(ds.Rows))
	return len(ds.Rows), nil
}

// Count returns the number of rows in a ledger table.
func (s *Store) Count(table string) (int, error) {
	if !knownTables[table] {
		return 0, fmt.Errorf("unknown ledger table %q", table)
	}
	phys := s.Table(table)
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + phys).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", phys, err)
	}
	return n, nil
}

func (s *Store) tableColumns(table string) ([]string, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("inspect %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid SQL identifier %q", name)
	}
	return nil
}
