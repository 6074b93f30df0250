package tabular

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// SpreadsheetML is the Office 2003 XML workbook dialect. Rows are walked in
// document order across every worksheet; the usual title-then-header layout
// applies.

type xmlRow struct {
	Cells []struct {
		Data string `xml:"Data"`
	} `xml:"Cell"`
}

// readSpreadsheetML collects every <Row> in document order.
func readSpreadsheetML(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FormatError{Path: path, Detail: fmt.Sprintf("open file: %v", err)}
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	dec.CharsetReader = charsetReader

	var rows [][]string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &FormatError{Path: path, Detail: fmt.Sprintf("parse xml: %v", err)}
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Row" {
			continue
		}
		var row xmlRow
		if err := dec.DecodeElement(&row, &start); err != nil {
			return nil, &FormatError{Path: path, Detail: fmt.Sprintf("decode row: %v", err)}
		}
		cells := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			cells[i] = c.Data
		}
		rows = append(rows, cells)
	}
	return fromRows(path, rows)
}

// charsetReader lets the decoder handle the single-byte declarations the
// ERP occasionally stamps on its XML output.
func charsetReader(cs string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(cs) {
	case "", "utf-8":
		return input, nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", cs)
	}
}
