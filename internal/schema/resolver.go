// Package schema locates the semantically-required columns of a TSE extract
// under their historical naming variants. Header names drifted across election
// years, so resolution tries exact variants first and falls back to a
// prefix+substring heuristic.
package schema

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Field describes one semantic column to locate in a header.
type Field struct {
	Name     string   // semantic name used in error messages, e.g. "candidate sequence"
	Variants []string // exact header names in priority order
	Prefix   string   // heuristic fallback: header must start with this (case-insensitive)
	Contains string   // ... and contain this (case-insensitive); empty disables the heuristic
	Required bool
}

// Resolution is the outcome for one Field: either a concrete source column or
// an explicit absence marker that downstream SQL turns into a typed NULL.
type Resolution struct {
	Column string
	Found  bool
}

// ReadHeader reads the first ';'-separated row of a TSE CSV, decoding
// Windows-1252 and stripping a leading BOM plus surrounding whitespace from
// every cell.
func ReadHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ReadHeader: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(transform.NewReader(f, charmap.Windows1252.NewDecoder()))
	r.Comma = ';'
	r.FieldsPerRecord = -1

	row, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("ReadHeader: reading header of %s: %w", path, err)
	}

	header := make([]string, len(row))
	for i, h := range row {
		h = strings.TrimSpace(h)
		// A UTF-8 BOM survives cp1252 decoding as the three-character
		// sequence below; strip both spellings.
		h = strings.TrimPrefix(h, "\ufeff")
		h = strings.TrimPrefix(h, "\u00ef\u00bb\u00bf")
		header[i] = strings.TrimSpace(h)
	}
	return header, nil
}

// Resolve locates f within header. Exact variants win in priority order; the
// prefix+contains heuristic runs only when no variant matched.
func Resolve(header []string, f Field) Resolution {
	set := make(map[string]bool, len(header))
	for _, h := range header {
		set[h] = true
	}
	for _, v := range f.Variants {
		if set[v] {
			return Resolution{Column: v, Found: true}
		}
	}
	if f.Contains != "" {
		mc := strings.ToUpper(f.Contains)
		prefix := strings.ToUpper(f.Prefix)
		for _, h := range header {
			u := strings.ToUpper(h)
			if strings.Contains(u, mc) && (prefix == "" || strings.HasPrefix(u, prefix)) {
				return Resolution{Column: h, Found: true}
			}
		}
	}
	return Resolution{}
}

// ResolveAll resolves every field against the header, keyed by semantic name.
// A required field that stays unresolved is fatal: the returned error names
// the field and the source file so the operator knows which extract broke.
func ResolveAll(header []string, fields []Field, source string) (map[string]Resolution, error) {
	out := make(map[string]Resolution, len(fields))
	var missing []string
	for _, f := range fields {
		res := Resolve(header, f)
		out[f.Name] = res
		if f.Required && !res.Found {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("ResolveAll: %s: required columns not found: %s",
			source, strings.Join(missing, ", "))
	}
	return out, nil
}
