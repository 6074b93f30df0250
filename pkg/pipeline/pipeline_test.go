package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liradata/concilia/pkg/config"
	"github.com/liradata/concilia/pkg/store"
	"github.com/liradata/concilia/pkg/tabular"
)

const financialFile = `Relacao de Titulos a Pagar
Codigo-Nome do Fornecedor;Prf-Numero Parcela;Tp;Data de Emissao;Data de Vencto;Valor Original;Tit Vencidos Valor nominal;Titulos a vencer Valor nominal;Natureza;Porta- dor
1234 ACME LTDA;NF-000042/001;NF;05/03/2026;05/04/2026;1.000,00;0,00;1.000,00;FORNECEDORES;001
777 BRAVO TRANSPORTES;FT-000099/001;FT;10/03/2026;10/04/2026;200,00;200,00;0,00;FORNECEDORES;001
999 DELTA SERVICOS;PA-000007/001;PA;12/03/2026;12/04/2026;0,00;300,00;200,00;ADIANTAMENTO;001
`

const itemsFile = `Posicao de Contas x Itens
Codigo;Descricao;Codigo;Descricao;Saldo anterior;Debito;Credito;Saldo atual
2.01.02.01.0001001;FORNECEDORES NACIONAIS;AF1234;ACME LTDA;0,00;0,00;1.020,00;1.020,00
2.01.02.01.0001002;FORNECEDORES NACIONAIS;AF777;BRAVO TRANSPORTES;0,00;0,00;200,00;200,00
`

const advanceFile = `Posicao de Adiantamentos
Codigo;Descricao;Codigo;Descricao;Saldo anterior;Debito;Credito;Saldo atual
1.01.06.02.0001001;ADIANTAMENTOS;999;DELTA SERVICOS;0,00;500,00;0,00;500,00
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		InputDir:             filepath.Join(t.TempDir(), "entrada"),
		ResultsDir:           filepath.Join(t.TempDir(), "resultados"),
		Tolerance:            0.03,
		PayableAccountPrefix: "2.01.02.01.0001",
		AdvanceAccountPrefix: "1.01.06.02.0001",
		InvoiceTypes:         []string{"NF", "FT"},
		AdvanceTypes:         []string{"NDF", "PA"},
	}
}

func newTestRunner(t *testing.T, cfg *config.Config) (*Runner, *store.Store) {
	t.Helper()
	logger := log.New(io.Discard)
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r, err := New(cfg, s, logger)
	require.NoError(t, err)
	r.now = func() time.Time {
		return time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	}
	return r, s
}

func writeInput(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func TestRunFullFlow(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg.InputDir, map[string]string{
		"finr150_titulos.txt":       financialFile,
		"ctbr140_contas_itens.txt":  itemsFile,
		"ctbr100_adiantamentos.txt": advanceFile,
		"leia-me.txt":               "sem dados",
	})
	require.NoError(t, os.MkdirAll(cfg.ResultsDir, 0o755))

	r, s := newTestRunner(t, cfg)
	outcomes, err := r.Run()
	require.NoError(t, err)

	// Three imports, the crossing, two exports. The unrecognized file is
	// skipped without an outcome.
	require.Len(t, outcomes, 6)
	for _, o := range outcomes {
		assert.Equal(t, StatusSuccess, o.Status, "step %s: %s", o.Step, o.Message)
	}

	count, err := s.Count(store.TableResult)
	require.NoError(t, err)
	assert.Greater(t, count, 0)

	for _, name := range []string{
		"CONCILIACAO_01-03-2026_a_15-03-2026_FORNECEDORES.xlsx",
		"CONCILIACAO_01-03-2026_a_15-03-2026_ADIANTAMENTOS.xlsx",
	} {
		_, err := os.Stat(filepath.Join(cfg.ResultsDir, name))
		assert.NoError(t, err, name)
	}
}

func TestRunEmptyInputDir(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.InputDir, 0o755))

	r, _ := newTestRunner(t, cfg)
	outcomes, err := r.Run()
	require.Error(t, err)

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusCritical, outcomes[0].Status)
	assert.Equal(t, "reconciliacao", outcomes[0].Step)
}

func TestImportDirBadFileContinues(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg.InputDir, map[string]string{
		"finr150_titulos.txt": financialFile,
		"ctbr140_vazio.txt":   "so o titulo\n",
	})

	r, _ := newTestRunner(t, cfg)
	outcomes, imported := r.ImportDir(cfg.InputDir)

	require.Len(t, outcomes, 2)
	assert.Equal(t, 1, imported)

	byStep := map[string]Outcome{}
	for _, o := range outcomes {
		byStep[o.Step] = o
	}
	assert.Equal(t, StatusSuccess, byStep["importacao_financeiro"].Status)

	bad := byStep["importacao_contas_itens"]
	assert.Equal(t, StatusError, bad.Status)
	assert.Equal(t, "1004", bad.Code)
}

func TestImportFileReplacesTable(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg.InputDir, map[string]string{"finr150_titulos.txt": financialFile})

	r, s := newTestRunner(t, cfg)
	path := filepath.Join(cfg.InputDir, "finr150_titulos.txt")

	rows, err := r.ImportFile(path, tabular.Financial)
	require.NoError(t, err)
	assert.Equal(t, 3, rows)

	rows, err = r.ImportFile(path, tabular.Financial)
	require.NoError(t, err)
	assert.Equal(t, 3, rows)

	count, err := s.Count(store.TableFinancial)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestOutcomeFromCarriesCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &tabular.FormatError{Path: "x.txt", Detail: "bad"})
	o := outcomeFrom("importacao_financeiro", "x.txt", err)
	assert.Equal(t, StatusError, o.Status)
	assert.Equal(t, "1004", o.Code)

	o = outcomeFrom("importacao_financeiro", "x.txt", nil)
	assert.Equal(t, StatusSuccess, o.Status)
	assert.Empty(t, o.Code)
}

func TestSummary(t *testing.T) {
	out := []Outcome{
		{Status: StatusSuccess},
		{Status: StatusSuccess},
		{Status: StatusError},
	}
	assert.Equal(t, "2 etapas concluídas, 1 falharam", Summary(out))
}
