package cleaner

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Tokens the exports use for an absent value.
var emptyTokens = map[string]bool{"": true, "nan": true, "None": true, "NaT": true}

// IsEmptyToken reports whether a trimmed cell should be treated as null.
func IsEmptyToken(s string) bool {
	return emptyTokens[strings.TrimSpace(s)]
}

var (
	leadingCodeRe    = regexp.MustCompile(`^(\d+[\s\-\./]*\d*)`)
	nonDigitRe       = regexp.MustCompile(`[^\d]`)
	leadingSepRe     = regexp.MustCompile(`^[\s\-\./]+`)
	amountKeepRe     = regexp.MustCompile(`[^\d,.\-]`)
	signedKeepRe     = regexp.MustCompile(`[^\d,]`)
	vendorPrefixRe   = regexp.MustCompile(`^(AF|F)`)
	trailingDigitsRe = regexp.MustCompile(`(\d+)$`)
)

// SplitCodeDescription splits a composite "code description" field. The
// leading digit run, possibly holding internal separators, becomes the code
// with separators removed; the remainder becomes the description with
// leading separators and whitespace trimmed. Without a leading digit run the
// code is empty and the whole string is the description.
//
//	"1234-5 ACME LTDA" -> ("12345", "ACME LTDA")
//	"ACME LTDA"        -> ("", "ACME LTDA")
func SplitCodeDescription(s string) (code, description string) {
	s = strings.TrimSpace(s)
	m := leadingCodeRe.FindString(s)
	if m == "" {
		return "", s
	}
	code = nonDigitRe.ReplaceAllString(m, "")
	description = leadingSepRe.ReplaceAllString(strings.TrimSpace(s[len(m):]), "")
	return code, description
}

// ParseSignedAmount parses a monetary value carrying the ledger's trailing
// sign convention: "C" marks a credit (negative), "D" a debit (positive).
// Dots are thousands separators and comma is the decimal mark.
func ParseSignedAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if IsEmptyToken(s) {
		return 0, true
	}
	credit := strings.HasSuffix(s, "C")
	debit := strings.HasSuffix(s, "D")

	digits := signedKeepRe.ReplaceAllString(s, "")
	digits = strings.ReplaceAll(digits, ".", "")
	digits = strings.ReplaceAll(digits, ",", ".")
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	switch {
	case credit:
		v = -abs(v)
	case debit:
		v = abs(v)
	}
	return v, true
}

// ParseAmount parses a plain Brazilian-formatted number: dot thousands
// separators, comma decimal mark, optional leading sign.
func ParseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if IsEmptyToken(s) {
		return 0, true
	}
	s = amountKeepRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// CleanDocumentID strips the legacy formatting noise from document/title
// identifiers, keeping digits only.
func CleanDocumentID(s string) string {
	return nonDigitRe.ReplaceAllString(s, "")
}

// StripVendorPrefix removes the leading AF/F vendor-code tokens used by the
// accounting extracts.
func StripVendorPrefix(code string) string {
	return vendorPrefixRe.ReplaceAllString(strings.TrimSpace(code), "")
}

// TrailingDigits returns the digit run at the end of s, if any.
func TrailingDigits(s string) string {
	return trailingDigitsRe.FindString(s)
}

// Accepted input layouts, day-first forms before ISO ones.
var dateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"2006-01-02 15:04:05",
}

// DateOutputLayout is the normalized textual form stored and reported.
const DateOutputLayout = "02/01/2006"

// NormalizeDate parses a date permissively with a day-first bias and
// reformats it as dd/mm/yyyy. Unparsable input yields ok=false; callers
// store null rather than failing.
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if IsEmptyToken(s) {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateOutputLayout), true
		}
	}
	return "", false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
