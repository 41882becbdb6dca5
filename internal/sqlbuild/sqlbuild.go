// Package sqlbuild assembles the DuckDB SQL used by the ETL from validated
// identifiers and resolved source columns. External strings never reach query
// text unquoted, and the generated fragments are testable without an engine.
package sqlbuild

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/andrelz/eleicoes-dashboard/internal/schema"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Table is a validated table name safe to splice into SQL.
type Table struct {
	name string
}

// NewTable validates name as a bare SQL identifier.
func NewTable(name string) (Table, error) {
	if !identRe.MatchString(name) {
		return Table{}, fmt.Errorf("NewTable: invalid table name %q", name)
	}
	return Table{name: name}, nil
}

// MustTable is NewTable for configuration-derived names that are validated at
// startup; it panics on an invalid name.
func MustTable(name string) Table {
	t, err := NewTable(name)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Table) String() string { return t.name }

// QuoteIdent double-quotes a source column name, escaping embedded quotes.
// Raw extract headers are arbitrary text and always pass through here.
func QuoteIdent(col string) string {
	return `"` + strings.ReplaceAll(col, `"`, `""`) + `"`
}

// QuoteString single-quotes a SQL string literal.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// CSVScan emits the read_csv_auto call for a TSE extract: ';' delimiter,
// header row, Windows-1252 encoding. The path is made absolute and
// slash-separated so no escape sequences leak into the literal.
func CSVScan(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("CSVScan: %w", err)
	}
	return fmt.Sprintf(
		"read_csv_auto(%s, delim=';', header=true, encoding='CP1252')",
		QuoteString(filepath.ToSlash(abs)),
	), nil
}

// MoneyExpr normalizes a Brazilian-locale monetary expression to DOUBLE:
// blank becomes NULL, '.' thousands separators are dropped, ',' becomes the
// decimal point, and anything unparseable becomes NULL via TRY_CAST.
// Keep in sync with moneybr.Parse.
func MoneyExpr(expr string) string {
	return "TRY_CAST(" +
		"replace(replace(NULLIF(trim(CAST(" + expr + " AS VARCHAR)), ''), '.', ''), ',', '.')" +
		" AS DOUBLE)"
}

// BigintCol casts an aliased source column to BIGINT.
func BigintCol(alias, col string) string {
	return fmt.Sprintf("CAST(%s.%s AS BIGINT)", alias, QuoteIdent(col))
}

// TextCol emits a trimmed VARCHAR read of an aliased source column.
func TextCol(alias, col string) string {
	return fmt.Sprintf("TRIM(CAST(%s.%s AS VARCHAR))", alias, QuoteIdent(col))
}

// TextOrNull emits TextCol when the column resolved, or a typed NULL when the
// optional column is absent from the extract.
func TextOrNull(alias string, r schema.Resolution) string {
	if !r.Found {
		return "CAST(NULL AS VARCHAR)"
	}
	return TextCol(alias, r.Column)
}

// IntOrNull emits an integer cast when the column resolved, NULL otherwise.
func IntOrNull(alias string, r schema.Resolution) string {
	if !r.Found {
		return "CAST(NULL AS INTEGER)"
	}
	return fmt.Sprintf("CAST(%s.%s AS INTEGER)", alias, QuoteIdent(r.Column))
}
