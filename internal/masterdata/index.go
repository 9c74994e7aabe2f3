package masterdata

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Index is a table with its columns resolved against a schema. It is built
// once per load and is safe for concurrent reads.
type Index struct {
	table      Table
	columns    map[Field]int
	unresolved []Field
	parties    map[string]int
}

// BuildIndex resolves every schema field to a column and indexes rows by
// folded party name. The first row wins for duplicate party names.
func BuildIndex(t Table, schema Schema) *Index {
	ix := &Index{
		table:   t,
		columns: make(map[Field]int, len(schema)),
		parties: make(map[string]int),
	}
	folder := cases.Fold()
	for _, field := range schema.Fields() {
		col, ok := matchColumn(t.Columns, schema[field], folder)
		if !ok {
			ix.unresolved = append(ix.unresolved, field)
			continue
		}
		ix.columns[field] = col
	}
	if col, ok := ix.columns[FieldPartyName]; ok {
		for row := range t.Rows {
			key := foldKey(folder, t.Cell(row, col))
			if key == "" {
				continue
			}
			if _, seen := ix.parties[key]; !seen {
				ix.parties[key] = row
			}
		}
	}
	return ix
}

// matchColumn prefers an exact alias match in alias priority order, then the
// first column containing the rule's term case-insensitively.
func matchColumn(columns []string, rule Rule, folder cases.Caser) (int, bool) {
	for _, alias := range rule.Aliases {
		for i, c := range columns {
			if strings.TrimSpace(c) == alias {
				return i, true
			}
		}
	}
	term := foldKey(folder, rule.Term)
	if term == "" {
		return 0, false
	}
	for i, c := range columns {
		if strings.Contains(foldKey(folder, c), term) {
			return i, true
		}
	}
	return 0, false
}

func foldKey(folder cases.Caser, s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
	return strings.Join(strings.Fields(folder.String(s)), " ")
}

// Column reports which column a field resolved to.
func (ix *Index) Column(f Field) (string, bool) {
	col, ok := ix.columns[f]
	if !ok {
		return "", false
	}
	return ix.table.Columns[col], true
}

// Unresolved lists fields with no matching column.
func (ix *Index) Unresolved() []Field {
	return append([]Field(nil), ix.unresolved...)
}

// Lookup finds a party by name, ignoring case and surrounding whitespace.
func (ix *Index) Lookup(partyName string) (Resolution, bool) {
	key := foldKey(cases.Fold(), partyName)
	if key == "" {
		return Resolution{}, false
	}
	row, ok := ix.parties[key]
	if !ok {
		return Resolution{}, false
	}
	return Resolution{
		PartyName: ix.value(row, FieldPartyName),
		FirmName:  ix.value(row, FieldFirmName),
		Address:   ix.value(row, FieldAddress),
		GSTNumber: ix.value(row, FieldGSTNumber),
	}, true
}

func (ix *Index) value(row int, f Field) string {
	col, ok := ix.columns[f]
	if !ok {
		return ""
	}
	return strings.TrimSpace(ix.table.Cell(row, col))
}

// Distinct returns trimmed, non-blank, de-duplicated values of a field sorted
// for display. Unresolved fields yield an empty list.
func (ix *Index) Distinct(f Field) []string {
	col, ok := ix.columns[f]
	if !ok {
		return []string{}
	}
	seen := make(map[string]struct{})
	out := []string{}
	for row := range ix.table.Rows {
		v := strings.TrimSpace(ix.table.Cell(row, col))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	collate.New(language.English, collate.IgnoreCase).SortStrings(out)
	return out
}

// Rows reports the number of rows in the snapshot.
func (ix *Index) Rows() int {
	return len(ix.table.Rows)
}
