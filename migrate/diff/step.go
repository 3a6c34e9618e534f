// Package diff computes the ordered sequence of structural changes that
// turns one canonical schema snapshot into another. It is pure computation:
// no I/O, no dialect SQL, deterministic output for a given input pair.
package diff

import (
	"fmt"
	"strings"

	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

// Step is one atomic structural change. The variant set is closed; the
// renderers match exhaustively over it.
type Step interface {
	// Summarize returns a one-line human-readable description.
	Summarize() string
	isStep()
}

// CreateTable creates a table with all its columns and primary key. Indexes
// and foreign keys are emitted as separate steps so cycles between tables
// can be broken.
type CreateTable struct {
	Table sqlschema.Table
}

// DropTable drops a table and all data in it.
type DropTable struct {
	Table string
}

// RenameTable renames a table in place, preserving data.
type RenameTable struct {
	From, To string
}

// AddColumn adds a column to an existing table.
type AddColumn struct {
	Table  string
	Column sqlschema.Column
}

// DropColumn drops a column and all data in it.
type DropColumn struct {
	Table  string
	Column sqlschema.Column
}

// AlterColumn changes a column's type, nullability, default or
// auto-increment. Before and After carry the full column shapes, and
// TableBefore/TableAfter the full table shapes, so a renderer can expand
// the step into a shadow-table rebuild when the dialect cannot alter in
// place. Steps carry everything needed to render them independently.
type AlterColumn struct {
	Table         string
	Before, After sqlschema.Column
	TableBefore   sqlschema.Table
	TableAfter    sqlschema.Table
}

// RecreateTable rebuilds a table whose constraints changed on a dialect
// that only declares them in the table definition (sqlite foreign keys).
// Before and After carry the full table shapes; data in shared columns
// survives the rebuild.
type RecreateTable struct {
	Before, After sqlschema.Table
}

// RenameColumn renames a column in place, preserving data.
type RenameColumn struct {
	Table    string
	From, To string
}

// CreateIndex creates a secondary index.
type CreateIndex struct {
	Table string
	Index sqlschema.Index
}

// DropIndex drops a secondary index.
type DropIndex struct {
	Table string
	Index sqlschema.Index
}

// AddForeignKey adds a foreign key constraint.
type AddForeignKey struct {
	Table      string
	ForeignKey sqlschema.ForeignKey
}

// DropForeignKey drops a foreign key constraint.
type DropForeignKey struct {
	Table      string
	ForeignKey sqlschema.ForeignKey
}

// CreateEnum creates a named enum type.
type CreateEnum struct {
	Enum sqlschema.Enum
}

// DropEnum drops a named enum type.
type DropEnum struct {
	Name string
}

// ColumnRef names one column of one table and carries its desired shape.
type ColumnRef struct {
	Table, Column string
	Definition    sqlschema.Column
}

// AlterEnum changes an enum's value set. UsingColumns lists the desired
// columns typed with the enum, so renderers that must recreate the type
// (postgres value removal) can re-point every user.
type AlterEnum struct {
	Before, After sqlschema.Enum
	UsingColumns  []ColumnRef
}

func (CreateTable) isStep()    {}
func (DropTable) isStep()      {}
func (RenameTable) isStep()    {}
func (AddColumn) isStep()      {}
func (DropColumn) isStep()     {}
func (AlterColumn) isStep()    {}
func (RecreateTable) isStep()  {}
func (RenameColumn) isStep()   {}
func (CreateIndex) isStep()    {}
func (DropIndex) isStep()      {}
func (AddForeignKey) isStep()  {}
func (DropForeignKey) isStep() {}
func (CreateEnum) isStep()     {}
func (DropEnum) isStep()       {}
func (AlterEnum) isStep()      {}

func (s CreateTable) Summarize() string {
	return fmt.Sprintf("Create table %q (%d columns)", s.Table.Name, len(s.Table.Columns))
}

func (s DropTable) Summarize() string {
	return fmt.Sprintf("Drop table %q", s.Table)
}

func (s RenameTable) Summarize() string {
	return fmt.Sprintf("Rename table %q to %q", s.From, s.To)
}

func (s AddColumn) Summarize() string {
	return fmt.Sprintf("Add column %q.%q (%s)", s.Table, s.Column.Name, s.Column.Family)
}

func (s DropColumn) Summarize() string {
	return fmt.Sprintf("Drop column %q.%q", s.Table, s.Column.Name)
}

func (s AlterColumn) Summarize() string {
	var parts []string
	if s.Before.Family != s.After.Family {
		parts = append(parts, fmt.Sprintf("type %s -> %s", s.Before.Family, s.After.Family))
	}
	if s.Before.Nullable != s.After.Nullable {
		if s.After.Nullable {
			parts = append(parts, "make nullable")
		} else {
			parts = append(parts, "make required")
		}
	}
	if s.Before.AutoIncrement != s.After.AutoIncrement {
		parts = append(parts, "auto-increment change")
	}
	if len(parts) == 0 {
		parts = append(parts, "default change")
	}
	return fmt.Sprintf("Alter column %q.%q (%s)", s.Table, s.After.Name, strings.Join(parts, ", "))
}

func (s RecreateTable) Summarize() string {
	return fmt.Sprintf("Recreate table %q (constraints changed)", s.After.Name)
}

func (s RenameColumn) Summarize() string {
	return fmt.Sprintf("Rename column %q.%q to %q", s.Table, s.From, s.To)
}

func (s CreateIndex) Summarize() string {
	kind := "index"
	if s.Index.Unique {
		kind = "unique index"
	}
	return fmt.Sprintf("Create %s %q on %q(%s)", kind, s.Index.Name, s.Table, strings.Join(s.Index.Columns, ", "))
}

func (s DropIndex) Summarize() string {
	return fmt.Sprintf("Drop index %q on %q", s.Index.Name, s.Table)
}

func (s AddForeignKey) Summarize() string {
	return fmt.Sprintf("Add foreign key %q(%s) -> %q(%s)",
		s.Table, strings.Join(s.ForeignKey.Columns, ", "),
		s.ForeignKey.ReferencedTable, strings.Join(s.ForeignKey.ReferencedColumns, ", "))
}

func (s DropForeignKey) Summarize() string {
	return fmt.Sprintf("Drop foreign key %q(%s) -> %q",
		s.Table, strings.Join(s.ForeignKey.Columns, ", "), s.ForeignKey.ReferencedTable)
}

func (s CreateEnum) Summarize() string {
	return fmt.Sprintf("Create enum %q (%s)", s.Enum.Name, strings.Join(s.Enum.Values, ", "))
}

func (s DropEnum) Summarize() string {
	return fmt.Sprintf("Drop enum %q", s.Name)
}

func (s AlterEnum) Summarize() string {
	return fmt.Sprintf("Alter enum %q (%d -> %d values)", s.After.Name, len(s.Before.Values), len(s.After.Values))
}
