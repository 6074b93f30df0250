// Package schema maps the source column names of each export kind onto the
// canonical field names the ledger store uses. Resolution is layered: an
// explicit alias table per kind, then a case-insensitive exact match, then a
// fuzzy nearest-match fallback, then bounded derivation rules. A required
// field that survives all four layers unresolved fails the import.
package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/liradata/concilia/pkg/tabular"
)

// FieldSpec binds one canonical field to the source names that may carry it.
type FieldSpec struct {
	Canonical string
	Aliases   []string
}

// Specs returns the ordered canonical fields expected from each source
// kind. The alias spellings come straight from the ERP report layouts,
// including the `_1` suffixes the header deduplication produces for the
// repeated Codigo/Descricao pairs.
func Specs(kind tabular.Kind) []FieldSpec {
	switch kind {
	case tabular.Financial:
		return []FieldSpec{
			{"fornecedor", []string{"Codigo-Nome do Fornecedor"}},
			{"titulo", []string{"Prf-Numero Parcela"}},
			{"parcela", nil},
			{"tipo_titulo", []string{"Tp"}},
			{"data_emissao", []string{"Data de Emissao", "Data Emissão"}},
			{"data_vencimento", []string{"Data de Vencto", "Data Vencimento"}},
			{"valor_original", []string{"Valor Original"}},
			{"tit_vencidos_valor_nominal", []string{"Tit Vencidos Valor nominal"}},
			{"titulos_a_vencer_valor_nominal", []string{"Titulos a vencer Valor nominal"}},
			{"saldo_devedor", nil},
			{"situacao", []string{"Natureza"}},
			{"conta_contabil", nil},
			{"centro_custo", []string{"Porta- dor"}},
		}
	case tabular.AccountingSummary:
		return []FieldSpec{
			{"conta_contabil", []string{"Conta"}},
			{"descricao_conta", []string{"Descricao"}},
			{"saldo_anterior", []string{"Saldo anterior"}},
			{"debito", []string{"Debito"}},
			{"credito", []string{"Credito"}},
			{"saldo_atual", []string{"Saldo atual"}},
		}
	case tabular.AccountingDetail, tabular.Advance:
		return []FieldSpec{
			{"conta_contabil", []string{"Codigo"}},
			{"descricao_item", []string{"Descricao"}},
			{"codigo_fornecedor", []string{"Codigo_1", "Codigo.1"}},
			{"descricao_fornecedor", []string{"Descricao_1", "Descricao.1"}},
			{"saldo_anterior", []string{"Saldo anterior"}},
			{"debito", []string{"Debito"}},
			{"credito", []string{"Credito"}},
			{"saldo_atual", []string{"Saldo atual"}},
		}
	default:
		return nil
	}
}

// AliasOverrides lets a site extend the alias tables without a rebuild:
// kind name -> canonical field -> extra source spellings.
type AliasOverrides map[string]map[string][]string

// LoadOverrides reads an alias override file. A missing path is not an
// error; the built-in tables simply stand alone.
func LoadOverrides(path string) (AliasOverrides, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read alias overrides: %w", err)
	}
	var o AliasOverrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse alias overrides: %w", err)
	}
	return o, nil
}

// merge applies overrides on top of the built-in specs.
func merge(specs []FieldSpec, kind tabular.Kind, o AliasOverrides) []FieldSpec {
	extra, ok := o[string(kind)]
	if !ok {
		return specs
	}
	merged := make([]FieldSpec, len(specs))
	copy(merged, specs)
	for i := range merged {
		if add, ok := extra[merged[i].Canonical]; ok {
			merged[i].Aliases = append(append([]string(nil), merged[i].Aliases...), add...)
		}
	}
	return merged
}

// MappingError reports required canonical fields that stayed unresolved
// after mapping, fuzzy matching and derivation.
type MappingError struct {
	Path    string
	Kind    tabular.Kind
	Missing []string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("malformed spreadsheet %s (%s): unresolved columns %v", e.Path, e.Kind, e.Missing)
}

// Code returns the machine-readable error code for step outcomes.
func (e *MappingError) Code() string { return "FE1" }
