package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"

	"golang.org/x/text/encoding/charmap"
)

// readDelimited reads a latin-1 text export. Semicolon is the usual
// delimiter; a few report variants come tab-separated instead.
func readDelimited(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &FormatError{Path: path, Detail: fmt.Sprintf("read file: %v", err)}
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, &FormatError{Path: path, Detail: fmt.Sprintf("decode latin-1: %v", err)}
	}

	rows, err := splitDelimited(decoded, ';')
	if err != nil || !delimitedLooksRight(rows) {
		rows, err = splitDelimited(decoded, '\t')
		if err != nil {
			return nil, &FormatError{Path: path, Detail: fmt.Sprintf("parse delimited text: %v", err)}
		}
	}
	return fromRows(path, rows)
}

func splitDelimited(data []byte, comma rune) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

// delimitedLooksRight rejects a parse where the chosen delimiter never
// split anything, which is what a tab-separated file looks like when read
// with a semicolon.
func delimitedLooksRight(rows [][]string) bool {
	for _, row := range rows {
		if len(row) > 1 {
			return true
		}
	}
	return false
}
