package schema

import (
	"fmt"
	"sort"
	"strings"
)

// DifferenceKind names a structural difference between expected and live.
type DifferenceKind string

const (
	MissingTable       DifferenceKind = "missing_table"
	UnexpectedTable    DifferenceKind = "unexpected_table"
	MissingColumn      DifferenceKind = "missing_column"
	UnexpectedColumn   DifferenceKind = "unexpected_column"
	TypeMismatch       DifferenceKind = "type_mismatch"
	NullabilityChanged DifferenceKind = "nullability_mismatch"
	MissingIndex       DifferenceKind = "missing_index"
	PrimaryKeyChanged  DifferenceKind = "primary_key_mismatch"
)

// Difference is one structural drift finding.
type Difference struct {
	Kind     DifferenceKind `json:"kind"`
	Table    string         `json:"table"`
	Column   string         `json:"column,omitempty"`
	Expected string         `json:"expected,omitempty"`
	Actual   string         `json:"actual,omitempty"`
}

// String renders the difference for issue descriptions.
func (d Difference) String() string {
	target := d.Table
	if d.Column != "" {
		target = d.Table + "." + d.Column
	}
	switch {
	case d.Expected != "" && d.Actual != "":
		return fmt.Sprintf("%s on %s: expected %s, found %s", d.Kind, target, d.Expected, d.Actual)
	case d.Expected != "":
		return fmt.Sprintf("%s on %s: expected %s", d.Kind, target, d.Expected)
	default:
		return fmt.Sprintf("%s on %s", d.Kind, target)
	}
}

// Diff compares the live catalog against the expected document. The result
// is ordered by table, then kind, then column, so equal inputs always
// produce equal outputs.
func Diff(expected, live *Document) []Difference {
	var out []Difference

	for _, et := range expected.Tables {
		lt := live.Table(et.Name)
		if lt == nil {
			out = append(out, Difference{Kind: MissingTable, Table: et.Name})
			continue
		}
		out = append(out, diffTable(&et, lt)...)
	}
	for _, lt := range live.Tables {
		if expected.Table(lt.Name) == nil {
			out = append(out, Difference{Kind: UnexpectedTable, Table: lt.Name})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Column < b.Column
	})
	return out
}

func diffTable(et, lt *Table) []Difference {
	var out []Difference

	for _, ec := range et.Columns {
		lc := lt.Column(ec.Name)
		if lc == nil {
			out = append(out, Difference{Kind: MissingColumn, Table: et.Name, Column: ec.Name, Expected: ec.Type})
			continue
		}
		if ec.Type != "" && normalizeType(ec.Type) != normalizeType(lc.Type) {
			out = append(out, Difference{
				Kind: TypeMismatch, Table: et.Name, Column: ec.Name,
				Expected: ec.Type, Actual: lc.Type,
			})
		}
		if ec.Nullable != lc.Nullable {
			out = append(out, Difference{
				Kind: NullabilityChanged, Table: et.Name, Column: ec.Name,
				Expected: nullability(ec.Nullable), Actual: nullability(lc.Nullable),
			})
		}
	}
	for _, lc := range lt.Columns {
		if et.Column(lc.Name) == nil {
			out = append(out, Difference{Kind: UnexpectedColumn, Table: et.Name, Column: lc.Name, Actual: lc.Type})
		}
	}

	if len(et.PrimaryKey) > 0 && !sameColumns(et.PrimaryKey, lt.PrimaryKey) {
		out = append(out, Difference{
			Kind: PrimaryKeyChanged, Table: et.Name,
			Expected: strings.Join(et.PrimaryKey, ","), Actual: strings.Join(lt.PrimaryKey, ","),
		})
	}

	for _, ei := range et.Indexes {
		if !hasIndexOn(lt, ei.Columns) {
			out = append(out, Difference{
				Kind: MissingIndex, Table: et.Name,
				Expected: ei.Name + "(" + strings.Join(ei.Columns, ",") + ")",
			})
		}
	}
	return out
}

// hasIndexOn matches indexes by column list rather than name; catalogs
// rename auto-generated indexes freely.
func hasIndexOn(t *Table, cols []string) bool {
	for _, ix := range t.Indexes {
		if sameColumns(ix.Columns, cols) {
			return true
		}
	}
	return false
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

func nullability(n bool) string {
	if n {
		return "nullable"
	}
	return "not null"
}

// typeAliases folds dialect spellings onto one name.
var typeAliases = map[string]string{
	"int":                         "integer",
	"int4":                        "integer",
	"int8":                        "bigint",
	"bool":                        "boolean",
	"varchar":                     "character varying",
	"timestamp without time zone": "timestamp",
	"timestamptz":                 "timestamp with time zone",
	"float8":                      "double precision",
	"double":                      "double precision",
	"decimal":                     "numeric",
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if alias, ok := typeAliases[t]; ok {
		return alias
	}
	return t
}
