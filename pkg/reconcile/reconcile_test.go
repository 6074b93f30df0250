package reconcile

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liradata/concilia/pkg/cleaner"
	"github.com/liradata/concilia/pkg/store"
)

var testRules = Rules{
	PayableAccountPrefix: "2.01.02.01.0001",
	AdvanceAccountPrefix: "1.01.06.02.0001",
	InvoiceTypes:         []string{"NF", "FT"},
	AdvanceTypes:         []string{"NDF", "PA"},
	Tolerance:            0.03,
}

type resultRow struct {
	financial  float64
	accounting float64
	diff       float64
	status     string
	rank       int
}

func seedLedgers(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil, log.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.Replace(store.TableFinancial, &cleaner.Dataset{
		Columns: []string{"fornecedor", "codigo_fornecedor", "descricao_fornecedor",
			"tipo_titulo", "valor_original", "tit_vencidos_valor_nominal",
			"titulos_a_vencer_valor_nominal", "excluido"},
		Rows: [][]any{
			{"1234 ACME LTDA", "1234", "ACME LTDA", "NF", float64(1000), float64(600), float64(400), 0},
			{"777 BRAVO", "777", "BRAVO", "FT", float64(200), float64(0), float64(200), 0},
			{"4242 FOXTROT", "4242", "FOXTROT", "NF", float64(100), float64(0), float64(100), 0},
			{"999 DELTA", "999", "DELTA", "NDF", float64(0), float64(300), float64(200), 0},
			{"111 EXCLUIDO", "111", "EXCLUIDO", "NF", float64(5000), float64(0), float64(0), 1},
		},
	})
	require.NoError(t, err)

	_, err = s.Replace(store.TableAccountingItems, &cleaner.Dataset{
		Columns: []string{"conta_contabil", "descricao_item", "codigo_fornecedor",
			"descricao_fornecedor", "saldo_atual"},
		Rows: [][]any{
			{"2.01.02.01.0001001", "ACME LTDA", "1234", "ACME LTDA", float64(1020)},
			{"2.01.02.01.0001002", "CHARLIE", "555", "CHARLIE", float64(200)},
			{"2.01.02.01.0001003", "FOXTROT", "4242", "FOXTROT", float64(97)},
			{"1.01.99.99.9999", "BRAVO", "777", "BRAVO", float64(999)},
		},
	})
	require.NoError(t, err)

	_, err = s.Replace(store.TableAdvance, &cleaner.Dataset{
		Columns: []string{"conta_contabil", "descricao_item", "codigo_fornecedor",
			"descricao_fornecedor", "saldo_atual"},
		Rows: [][]any{
			{"1.01.06.02.0001002", "ADIANTAMENTO ACME", "1234", "ACME LTDA", float64(5)},
			{"1.01.06.02.0001001", "ADIANTAMENTO DELTA", "999", "DELTA", float64(-500)},
			{"1.01.06.02.0001003", "ADIANTAMENTO ECHO", "888", "ECHO", float64(-100)},
		},
	})
	require.NoError(t, err)
	return s
}

func readResults(t *testing.T, s *store.Store) map[string]resultRow {
	t.Helper()
	rows, err := s.DB().Query(`
		SELECT codigo_fornecedor, saldo_financeiro, saldo_contabil, diferenca, status, ordem_importancia
		FROM ` + store.TableResult)
	require.NoError(t, err)
	defer rows.Close()

	out := map[string]resultRow{}
	for rows.Next() {
		var code string
		var r resultRow
		require.NoError(t, rows.Scan(&code, &r.financial, &r.accounting, &r.diff, &r.status, &r.rank))
		out[code] = r
	}
	require.NoError(t, rows.Err())
	return out
}

func TestRunCrossesLedgers(t *testing.T) {
	s := seedLedgers(t)
	engine := New(s, log.New(io.Discard), testRules)
	require.NoError(t, engine.Run())

	results := readResults(t, s)
	require.Len(t, results, 4, "three invoice vendors plus one accounting-only vendor")

	// ACME: payables balance plus the advance account balance, inside the
	// 3% band.
	acme := results["1234"]
	assert.Equal(t, float64(1000), acme.financial)
	assert.Equal(t, float64(1025), acme.accounting)
	assert.Equal(t, float64(25), acme.diff)
	assert.Equal(t, "Conferido", acme.status)

	// BRAVO's only accounting entry sits on another account, so nothing
	// matches.
	bravo := results["777"]
	assert.Equal(t, float64(200), bravo.financial)
	assert.Equal(t, float64(0), bravo.accounting)
	assert.Equal(t, float64(-200), bravo.diff)
	assert.Equal(t, "Divergente", bravo.status)

	// CHARLIE exists only on the accounting side.
	charlie := results["555"]
	assert.Equal(t, float64(0), charlie.financial)
	assert.Equal(t, float64(200), charlie.accounting)
	assert.Equal(t, "Divergente", charlie.status)

	// Excluded titles never enter the crossing.
	_, ok := results["111"]
	assert.False(t, ok)
}

func TestToleranceBoundaryIsInclusive(t *testing.T) {
	s := seedLedgers(t)
	engine := New(s, log.New(io.Discard), testRules)
	require.NoError(t, engine.Run())

	// |100 - 97| = 3 = 0.03 * 100 exactly.
	fox := readResults(t, s)["4242"]
	assert.Equal(t, "Conferido", fox.status)
	assert.Equal(t, float64(-3), fox.diff)
}

func TestRankCountsInclusiveTies(t *testing.T) {
	s := seedLedgers(t)
	engine := New(s, log.New(io.Discard), testRules)
	require.NoError(t, engine.Run())

	results := readResults(t, s)

	// |diffs|: BRAVO 200, CHARLIE 200, ACME 25, FOXTROT 3. Equal absolute
	// differences share the same rank.
	assert.Equal(t, 2, results["777"].rank)
	assert.Equal(t, 2, results["555"].rank)
	assert.Equal(t, 3, results["1234"].rank)
	assert.Equal(t, 4, results["4242"].rank)
}

func TestAdvanceMirror(t *testing.T) {
	s := seedLedgers(t)
	engine := New(s, log.New(io.Discard), testRules)
	require.NoError(t, engine.Run())

	rows, err := s.DB().Query(`
		SELECT codigo_fornecedor, total_financeiro, total_contabil, diferenca, status
		FROM ` + store.TableAdvanceResult)
	require.NoError(t, err)
	defer rows.Close()

	type advRow struct {
		financial, accounting, diff float64
		status                      string
	}
	out := map[string]advRow{}
	for rows.Next() {
		var code string
		var r advRow
		require.NoError(t, rows.Scan(&code, &r.financial, &r.accounting, &r.diff, &r.status))
		out[code] = r
	}
	require.NoError(t, rows.Err())
	require.Len(t, out, 3)

	// DELTA: the two sides carry opposite signs and cancel out.
	delta := out["999"]
	assert.Equal(t, float64(500), delta.financial)
	assert.Equal(t, float64(-500), delta.accounting)
	assert.Equal(t, float64(0), delta.diff)
	assert.Equal(t, "Conferido", delta.status)

	// ECHO only exists on the accounting side.
	echo := out["888"]
	assert.Equal(t, float64(-100), echo.accounting)
	assert.Equal(t, "Divergente", echo.status)

	// ACME's advance balance matched the vendor crossing, but it has no
	// NDF/PA titles, so here it is accounting-only.
	acme := out["1234"]
	assert.Equal(t, float64(5), acme.accounting)
	assert.Equal(t, "Divergente", acme.status)
}

func TestPrefixedAccountingCodesStillMatch(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil, log.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.Replace(store.TableFinancial, &cleaner.Dataset{
		Columns: []string{"fornecedor", "codigo_fornecedor", "descricao_fornecedor",
			"tipo_titulo", "valor_original", "excluido"},
		Rows: [][]any{
			{"1234 ACME LTDA", "1234", "ACME LTDA", "NF", float64(100), 0},
		},
	})
	require.NoError(t, err)

	// A code that escaped import-time stripping still matches the crossing.
	_, err = s.Replace(store.TableAccountingItems, &cleaner.Dataset{
		Columns: []string{"conta_contabil", "descricao_item", "codigo_fornecedor",
			"descricao_fornecedor", "saldo_atual"},
		Rows: [][]any{
			{"2.01.02.01.0001001", "ACME LTDA", "AF1234", "ACME LTDA", float64(100)},
		},
	})
	require.NoError(t, err)

	require.NoError(t, New(s, log.New(io.Discard), testRules).Run())

	results := readResults(t, s)
	acme := results["1234"]
	assert.Equal(t, float64(100), acme.accounting)
	assert.Equal(t, "Conferido", acme.status)
}

func TestRunIsRepeatable(t *testing.T) {
	s := seedLedgers(t)
	engine := New(s, log.New(io.Discard), testRules)
	require.NoError(t, engine.Run())
	require.NoError(t, engine.Run())

	count, err := s.Count(store.TableResult)
	require.NoError(t, err)
	assert.Equal(t, 4, count, "results are rebuilt, not appended")
}
