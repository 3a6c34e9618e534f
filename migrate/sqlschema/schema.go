// Package sqlschema defines the canonical, dialect-neutral representation of
// database structure. Both the desired schema (produced by an external
// datamodel front end) and the current schema (produced by the describers)
// are expressed in these types, so the differ only ever compares values from
// this package.
//
// All types are plain values: no I/O, no retained connections. Snapshots are
// treated as immutable once built.
package sqlschema

// ColumnFamily is the scalar type family of a column, abstracted over
// dialect-specific native type names.
type ColumnFamily string

const (
	FamilyInt      ColumnFamily = "Int"
	FamilyBigInt   ColumnFamily = "BigInt"
	FamilyFloat    ColumnFamily = "Float"
	FamilyDecimal  ColumnFamily = "Decimal"
	FamilyText     ColumnFamily = "Text"
	FamilyBoolean  ColumnFamily = "Boolean"
	FamilyDateTime ColumnFamily = "DateTime"
	FamilyBinary   ColumnFamily = "Binary"
	FamilyJSON     ColumnFamily = "Json"
	// FamilyEnum marks a reference to a named enum; Column.EnumName carries
	// the enum's name.
	FamilyEnum ColumnFamily = "Enum"
	// FamilyUnsupported is used by describers for native types with no
	// canonical mapping. It is never silently dropped: a column keeps its
	// raw type string and the differ treats any change as a type change.
	FamilyUnsupported ColumnFamily = "Unsupported"
)

// ReferentialAction is a foreign key ON DELETE / ON UPDATE action.
type ReferentialAction string

const (
	Cascade    ReferentialAction = "CASCADE"
	Restrict   ReferentialAction = "RESTRICT"
	SetNull    ReferentialAction = "SET NULL"
	SetDefault ReferentialAction = "SET DEFAULT"
	NoAction   ReferentialAction = "NO ACTION"
)

// DefaultKind distinguishes the flavors of column defaults.
type DefaultKind string

const (
	// DefaultValue is a literal default; Default.Value holds its rendering.
	DefaultValue DefaultKind = "value"
	// DefaultNow is the current-timestamp function on datetime columns.
	DefaultNow DefaultKind = "now"
	// DefaultSequence means the value comes from a sequence (postgres serial).
	DefaultSequence DefaultKind = "sequence"
	// DefaultDBGenerated is an opaque database expression carried verbatim.
	DefaultDBGenerated DefaultKind = "dbgenerated"
)

// Default is a column default value expression.
type Default struct {
	Kind  DefaultKind `json:"kind"`
	Value string      `json:"value,omitempty"`
}

// Column is one table column.
type Column struct {
	Name     string       `json:"name"`
	Family   ColumnFamily `json:"family"`
	EnumName string       `json:"enumName,omitempty"`
	// EnumValues duplicates the schema-level enum's value list on the
	// column, so a rendered step is self-contained on dialects that inline
	// enums into the column definition. Producers must keep it consistent
	// with the Schema.Enums entry named by EnumName.
	EnumValues []string `json:"enumValues,omitempty"`
	// Raw is the native type name as reported by the database, kept for
	// diagnostics and for FamilyUnsupported comparisons. It does not
	// participate in structural equality between canonical families.
	Raw           string   `json:"raw,omitempty"`
	Nullable      bool     `json:"nullable"`
	Default       *Default `json:"default,omitempty"`
	AutoIncrement bool     `json:"autoIncrement,omitempty"`
}

// PrimaryKey is a table's primary key constraint.
type PrimaryKey struct {
	Name    string   `json:"name,omitempty"`
	Columns []string `json:"columns"`
}

// Index is a secondary index. Predicate, when non-empty, is a partial-index
// condition; describers only populate it on dialects that support partial
// indexes.
type Index struct {
	Name      string   `json:"name"`
	Columns   []string `json:"columns"`
	Unique    bool     `json:"unique,omitempty"`
	Predicate string   `json:"predicate,omitempty"`
}

// ForeignKey is a foreign key constraint from Columns on the owning table to
// ReferencedColumns on ReferencedTable.
type ForeignKey struct {
	ConstraintName    string            `json:"constraintName,omitempty"`
	Columns           []string          `json:"columns"`
	ReferencedTable   string            `json:"referencedTable"`
	ReferencedColumns []string          `json:"referencedColumns"`
	OnDelete          ReferentialAction `json:"onDelete,omitempty"`
	OnUpdate          ReferentialAction `json:"onUpdate,omitempty"`
}

// Table is one database table.
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  *PrimaryKey  `json:"primaryKey,omitempty"`
	Indexes     []Index      `json:"indexes,omitempty"`
	ForeignKeys []ForeignKey `json:"foreignKeys,omitempty"`
}

// Enum is a named enumerated type (postgres native enums, mysql inline
// enums lifted to schema level by the describer).
type Enum struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Sequence is a standalone sequence.
type Sequence struct {
	Name string `json:"name"`
}

// Unknown records a database construct the describer recognized as present
// but cannot express canonically (views, triggers, stored procedures).
// Surfacing these instead of omitting them keeps the differ from proposing
// to drop structures it never saw.
type Unknown struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// Schema is an immutable snapshot of a database's structure.
type Schema struct {
	Tables    []Table    `json:"tables"`
	Enums     []Enum     `json:"enums,omitempty"`
	Sequences []Sequence `json:"sequences,omitempty"`
	Unknowns  []Unknown  `json:"unknowns,omitempty"`
}

// Table looks up a table by name.
func (s *Schema) Table(name string) (*Table, bool) {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// Enum looks up an enum by name.
func (s *Schema) Enum(name string) (*Enum, bool) {
	for i := range s.Enums {
		if s.Enums[i].Name == name {
			return &s.Enums[i], true
		}
	}
	return nil, false
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Index looks up an index by name.
func (t *Table) Index(name string) (*Index, bool) {
	for i := range t.Indexes {
		if t.Indexes[i].Name == name {
			return &t.Indexes[i], true
		}
	}
	return nil, false
}

// IsPrimaryKeyColumn reports whether the named column is part of the
// table's primary key.
func (t *Table) IsPrimaryKeyColumn(name string) bool {
	if t.PrimaryKey == nil {
		return false
	}
	for _, c := range t.PrimaryKey.Columns {
		if c == name {
			return true
		}
	}
	return false
}
