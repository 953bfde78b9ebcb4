// Package schema models the structural description of a database: the
// expected-schema document checked into the repo and the live catalog read
// from the target. Both use the same types so they can be diffed directly.
package schema

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is a comparable schema description.
type Document struct {
	Tables []Table `yaml:"tables" json:"tables"`
}

// Table describes one table.
type Table struct {
	Name        string       `yaml:"name" json:"name"`
	Columns     []Column     `yaml:"columns" json:"columns"`
	PrimaryKey  []string     `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
	Indexes     []Index      `yaml:"indexes,omitempty" json:"indexes,omitempty"`
	ForeignKeys []ForeignKey `yaml:"foreign_keys,omitempty" json:"foreign_keys,omitempty"`
}

// Column describes one column.
type Column struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Nullable bool   `yaml:"nullable" json:"nullable"`
}

// Index describes one index. Columns are in key order.
type Index struct {
	Name    string   `yaml:"name" json:"name"`
	Columns []string `yaml:"columns" json:"columns"`
	Unique  bool     `yaml:"unique,omitempty" json:"unique,omitempty"`
}

// ForeignKey describes one single-column foreign key reference.
type ForeignKey struct {
	Column    string `yaml:"column" json:"column"`
	RefTable  string `yaml:"ref_table" json:"ref_table"`
	RefColumn string `yaml:"ref_column" json:"ref_column"`
}

// Table returns the named table, or nil.
func (d *Document) Table(name string) *Table {
	for i := range d.Tables {
		if strings.EqualFold(d.Tables[i].Name, name) {
			return &d.Tables[i]
		}
	}
	return nil
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i]
		}
	}
	return nil
}

// HasLeadingIndex reports whether some index (or the primary key) starts
// with column.
func (t *Table) HasLeadingIndex(column string) bool {
	if len(t.PrimaryKey) > 0 && strings.EqualFold(t.PrimaryKey[0], column) {
		return true
	}
	for _, ix := range t.Indexes {
		if len(ix.Columns) > 0 && strings.EqualFold(ix.Columns[0], column) {
			return true
		}
	}
	return false
}

// Sort orders tables and indexes by name so dumps are stable. Column order
// is catalog order and is left alone.
func (d *Document) Sort() {
	sort.Slice(d.Tables, func(i, j int) bool { return d.Tables[i].Name < d.Tables[j].Name })
	for i := range d.Tables {
		ix := d.Tables[i].Indexes
		sort.Slice(ix, func(a, b int) bool { return ix[a].Name < ix[b].Name })
	}
}

// Validate rejects documents with unnamed or duplicate tables and columns.
func (d *Document) Validate() error {
	seen := make(map[string]bool)
	for _, t := range d.Tables {
		if t.Name == "" {
			return fmt.Errorf("schema: table without name")
		}
		key := strings.ToLower(t.Name)
		if seen[key] {
			return fmt.Errorf("schema: duplicate table %q", t.Name)
		}
		seen[key] = true

		cols := make(map[string]bool)
		for _, c := range t.Columns {
			if c.Name == "" {
				return fmt.Errorf("schema: table %q has a column without name", t.Name)
			}
			ck := strings.ToLower(c.Name)
			if cols[ck] {
				return fmt.Errorf("schema: table %q has duplicate column %q", t.Name, c.Name)
			}
			cols[ck] = true
		}
	}
	return nil
}

// ─── YAML I/O ───────────────────────────────────────────────────────────────

// Parse decodes a YAML schema document. Unknown keys are rejected.
func Parse(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return &doc, nil
		}
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadFile reads the expected schema document at path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema document: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Dump writes doc as YAML.
func Dump(w io.Writer, doc *Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode schema document: %w", err)
	}
	return enc.Close()
}
