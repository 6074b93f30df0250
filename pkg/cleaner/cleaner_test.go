package cleaner

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liradata/concilia/pkg/tabular"
)

func TestCleanFinancial(t *testing.T) {
	table := &tabular.Table{
		Columns: []string{"fornecedor", "titulo", "tipo_titulo", "data_emissao", "valor_original"},
		Rows: [][]string{
			{"1234-5 ACME LTDA", "NF-0042/1", "NF", "02/01/2026", "1.234,56"},
			{"1234-5 ACME LTDA", "NF-0042/1", "NF", "02/01/2026", "1.234,56"}, // duplicate
			{"", "", "", "", ""},                                             // all empty
			{"777 BRAVO SA", "000777", "FT", "data ruim", "-10,00"},
		},
	}

	c := New(log.New(io.Discard))
	ds := c.Clean(tabular.Financial, table)

	require.Len(t, ds.Rows, 2, "duplicates and empty rows must be dropped")

	ci := ds.Col("codigo_fornecedor")
	di := ds.Col("descricao_fornecedor")
	require.GreaterOrEqual(t, ci, 0)
	require.GreaterOrEqual(t, di, 0)
	assert.Equal(t, "12345", ds.Rows[0][ci])
	assert.Equal(t, "ACME LTDA", ds.Rows[0][di])

	assert.Equal(t, "00421", ds.Rows[0][ds.Col("titulo")])
	assert.Equal(t, float64(1234.56), ds.Rows[0][ds.Col("valor_original")])
	assert.Equal(t, "02/01/2026", ds.Rows[0][ds.Col("data_emissao")])

	// Unparsable date becomes null, unparsable amount becomes zero later.
	assert.Nil(t, ds.Rows[1][ds.Col("data_emissao")])
	assert.Equal(t, float64(-10), ds.Rows[1][ds.Col("valor_original")])
}

func TestCleanAccountingSummary(t *testing.T) {
	table := &tabular.Table{
		Columns: []string{"conta_contabil", "descricao_conta", "saldo_anterior", "debito", "credito", "saldo_atual"},
		Rows: [][]string{
			{"2.01.02.01.0001", "1234 FORNECEDORES NACIONAIS", "0,00", "10,00", "1.000,00C", "990,00"},
			{"2.01.02.01.0002", "FORNECEDORES OUTROS", "0,00", "0,00", "5,00C", "5,00"},
		},
	}

	c := New(log.New(io.Discard))
	ds := c.Clean(tabular.AccountingSummary, table)

	require.Len(t, ds.Rows, 1, "bucket accounts must be dropped")

	assert.Equal(t, "1234", ds.Rows[0][ds.Col("codigo_fornecedor")])
	assert.Equal(t, "FORNECEDOR NACIONAL", ds.Rows[0][ds.Col("tipo_fornecedor")])
	assert.Equal(t, float64(-1000), ds.Rows[0][ds.Col("credito")])
	assert.Equal(t, float64(990), ds.Rows[0][ds.Col("saldo_atual")])
}

func TestCleanAccountingItems(t *testing.T) {
	table := &tabular.Table{
		Columns: []string{"conta_contabil", "descricao_item", "codigo_fornecedor", "descricao_fornecedor", "saldo_anterior", "debito", "credito", "saldo_atual"},
		Rows: [][]string{
			{"2.01.02.01.0001", "ACME LTDA", "AF1234", "ACME LTDA", "100,00C", "0,00", "50,00C", "150,00C"},
		},
	}

	c := New(log.New(io.Discard))
	ds := c.Clean(tabular.AccountingDetail, table)

	require.Len(t, ds.Rows, 1)
	assert.Equal(t, "1234", ds.Rows[0][ds.Col("codigo_fornecedor")], "AF prefix must be stripped")
	assert.Equal(t, float64(-150), ds.Rows[0][ds.Col("saldo_atual")])
	assert.Equal(t, float64(0), ds.Rows[0][ds.Col("debito")])
}

func TestColumnNamesSanitized(t *testing.T) {
	table := &tabular.Table{
		Columns: []string{"fornecedor", "Saldo em 31/12", "Saldo em 31/12"},
		Rows:    [][]string{{"1 A", "1,00", "2,00"}},
	}

	c := New(log.New(io.Discard))
	ds := c.Clean(tabular.Financial, table)

	assert.Equal(t, "fornecedor", ds.Columns[0])
	assert.Equal(t, "saldo_em_31_12", ds.Columns[1])
	assert.NotEqual(t, ds.Columns[1], ds.Columns[2], "duplicate headers must stay unique")
}
