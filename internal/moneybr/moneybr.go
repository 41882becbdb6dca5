// Package moneybr parses monetary values as written in TSE extracts:
// Latin-locale strings like "1.234,56" where '.' separates thousands and
// ',' is the decimal mark.
package moneybr

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Parse converts a Brazilian-locale monetary string to a float64.
// Blank or unparseable input yields (0, false); callers coalesce to zero.
// The same rule is applied in SQL by sqlbuild.MoneyExpr — keep them in sync.
func Parse(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// ParseOrZero is Parse with the null-as-zero coalescing already applied.
func ParseOrZero(s string) float64 {
	f, _ := Parse(s)
	return f
}
