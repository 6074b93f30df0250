package schema

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/liradata/concilia/pkg/cleaner"
	"github.com/liradata/concilia/pkg/tabular"
)

// Similarity floor for the fuzzy fallback.
const fuzzyCutoff = 0.6

// Placeholder stored when no account-code column can be resolved.
const UnidentifiedAccount = "CONTA_NAO_IDENTIFICADA"

type Normalizer struct {
	logger    *log.Logger
	matcher   Matcher
	overrides AliasOverrides
}

func New(logger *log.Logger, matcher Matcher, overrides AliasOverrides) *Normalizer {
	if matcher == nil {
		matcher = RatioMatcher{}
	}
	return &Normalizer{logger: logger, matcher: matcher, overrides: overrides}
}

// Normalize renames the table's columns to canonical field names, in place.
// Fields that no layer can resolve are derived where a rule exists;
// anything still missing fails with a *MappingError carrying the path.
func (n *Normalizer) Normalize(kind tabular.Kind, t *tabular.Table, path string) error {
	specs := merge(Specs(kind), kind, n.overrides)

	resolved := map[string]bool{}
	for _, c := range t.Columns {
		resolved[c] = true
	}

	for _, spec := range specs {
		if resolved[spec.Canonical] {
			continue
		}
		if src, ok := n.resolve(spec, t.Columns, resolved); ok {
			n.rename(t, src, spec.Canonical)
			resolved[spec.Canonical] = true
		}
	}

	var missing []string
	for _, spec := range specs {
		if resolved[spec.Canonical] {
			continue
		}
		if n.derive(kind, spec.Canonical, t) {
			n.logger.Warn("derived missing column", "column", spec.Canonical, "path", path)
			continue
		}
		missing = append(missing, spec.Canonical)
	}
	if len(missing) > 0 {
		return &MappingError{Path: path, Kind: kind, Missing: missing}
	}
	return nil
}

// resolve walks the three lookup layers: explicit alias, case-insensitive
// exact match, fuzzy nearest-match (case-sensitive pass, then folded).
func (n *Normalizer) resolve(spec FieldSpec, columns []string, taken map[string]bool) (string, bool) {
	free := make([]string, 0, len(columns))
	for _, c := range columns {
		if !taken[c] || c == spec.Canonical {
			free = append(free, c)
		}
	}

	for _, alias := range spec.Aliases {
		for _, c := range free {
			if c == alias {
				return c, true
			}
		}
	}
	for _, c := range free {
		if strings.EqualFold(c, spec.Canonical) {
			n.logger.Warn("case-insensitive column match", "source", c, "canonical", spec.Canonical)
			return c, true
		}
	}
	if c, score := closest(n.matcher, spec.Canonical, free, false); score >= fuzzyCutoff {
		n.logger.Warn("fuzzy column match", "source", c, "canonical", spec.Canonical, "score", score)
		return c, true
	}
	if c, score := closest(n.matcher, spec.Canonical, free, true); score >= fuzzyCutoff {
		n.logger.Warn("fuzzy column match (folded)", "source", c, "canonical", spec.Canonical, "score", score)
		return c, true
	}
	return "", false
}

func (n *Normalizer) rename(t *tabular.Table, from, to string) {
	for i, c := range t.Columns {
		if c == from {
			t.Columns[i] = to
			return
		}
	}
}

// derive fills a missing field from what the table already has. The rules
// are deliberately bounded: installment number from the document id's
// trailing digits, a placeholder account code, and the open balance as the
// sum of the two aged columns (or the original amount when those are
// absent too). Only the financial export derives at all; the accounting
// extracts must carry their columns.
func (n *Normalizer) derive(kind tabular.Kind, canonical string, t *tabular.Table) bool {
	if kind != tabular.Financial {
		return false
	}
	switch canonical {
	case "parcela":
		ti := colIndex(t, "titulo")
		if ti < 0 {
			return false
		}
		pi := appendColumn(t, "parcela")
		for _, row := range t.Rows {
			p := cleaner.TrailingDigits(row[ti])
			if p == "" {
				p = "1"
			}
			row[pi] = p
		}
		return true

	case "conta_contabil":
		ci := appendColumn(t, "conta_contabil")
		for _, row := range t.Rows {
			row[ci] = UnidentifiedAccount
		}
		return true

	case "saldo_devedor":
		vi := colIndex(t, "tit_vencidos_valor_nominal")
		ai := colIndex(t, "titulos_a_vencer_valor_nominal")
		si := appendColumn(t, "saldo_devedor")
		if vi >= 0 && ai >= 0 {
			for _, row := range t.Rows {
				overdue, _ := cleaner.ParseAmount(row[vi])
				due, _ := cleaner.ParseAmount(row[ai])
				row[si] = formatAmount(overdue + due)
			}
			return true
		}
		oi := colIndex(t, "valor_original")
		if oi < 0 {
			return false
		}
		for _, row := range t.Rows {
			row[si] = row[oi]
		}
		return true
	}
	return false
}

func colIndex(t *tabular.Table, name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

func appendColumn(t *tabular.Table, name string) int {
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], "")
	}
	return len(t.Columns) - 1
}

// formatAmount renders a derived value in the same comma-decimal notation
// the source cells use, so the cleaner parses everything one way.
func formatAmount(v float64) string {
	return strings.Replace(strconv.FormatFloat(v, 'f', 2, 64), ".", ",", 1)
}
