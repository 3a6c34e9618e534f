package sqlgen

import (
	"fmt"
	"strings"

	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/diff"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

type sqliteRenderer struct{}

var sqliteTypes = map[sqlschema.ColumnFamily]string{
	sqlschema.FamilyInt:      "INTEGER",
	sqlschema.FamilyBigInt:   "INTEGER",
	sqlschema.FamilyFloat:    "REAL",
	sqlschema.FamilyDecimal:  "DECIMAL",
	sqlschema.FamilyText:     "TEXT",
	sqlschema.FamilyBoolean:  "BOOLEAN",
	sqlschema.FamilyDateTime: "DATETIME",
	sqlschema.FamilyBinary:   "BLOB",
	sqlschema.FamilyJSON:     "TEXT",
	// SQLite has no enum types: enum-family columns degrade to TEXT.
	sqlschema.FamilyEnum: "TEXT",
}

func (r *sqliteRenderer) Dialect() dialect.Dialect { return dialect.SQLite }

func (r *sqliteRenderer) Capabilities() Capabilities {
	return Capabilities{
		// ALTER TABLE on SQLite cannot change a column; alterations go
		// through a shadow-table rebuild.
		InPlaceColumnAlter: false,
		PartialIndexes:     true,
		TransactionalDDL:   true,
		Enums:              false,
		RenameTable:        true,
		RenameColumn:       true,
		// Foreign keys exist only inside CREATE TABLE; changing one
		// rebuilds the table.
		InlineForeignKeys:   true,
		StableIndexNames:    true,
		MaxIdentifierLength: 0,
	}
}

// shadowName returns the temporary table name a rebuild creates under. The
// prefix is reserved engine namespace, like the history ledger's.
func shadowName(table string) string {
	return "_prisma_new_" + table
}

func liteQuote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func liteQuoteAll(idents []string) []string {
	out := make([]string, len(idents))
	for i, ident := range idents {
		out[i] = liteQuote(ident)
	}
	return out
}

func (r *sqliteRenderer) columnType(c sqlschema.Column) string {
	return sqliteTypes[c.Family]
}

func (r *sqliteRenderer) renderColumn(c sqlschema.Column, inlinePK bool) string {
	parts := []string{liteQuote(c.Name), r.columnType(c)}
	if inlinePK {
		parts = append(parts, "PRIMARY KEY")
		if c.AutoIncrement {
			parts = append(parts, "AUTOINCREMENT")
		}
	}
	if !c.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if def := liteDefault(c); def != "" {
		parts = append(parts, "DEFAULT "+def)
	}
	return strings.Join(parts, " ")
}

func liteDefault(c sqlschema.Column) string {
	if c.Default == nil {
		return ""
	}
	switch c.Default.Kind {
	case sqlschema.DefaultNow:
		return "CURRENT_TIMESTAMP"
	case sqlschema.DefaultDBGenerated, sqlschema.DefaultSequence:
		return c.Default.Value
	default:
		switch c.Family {
		case sqlschema.FamilyText, sqlschema.FamilyEnum, sqlschema.FamilyDateTime, sqlschema.FamilyJSON:
			return "'" + strings.ReplaceAll(c.Default.Value, "'", "''") + "'"
		default:
			return c.Default.Value
		}
	}
}

// renderCreateTable renders the full table definition. SQLite declares
// foreign keys inline, so the shadow rebuild passes the complete desired
// table here.
func (r *sqliteRenderer) renderCreateTable(t sqlschema.Table) string {
	// A single-column integer primary key is declared inline so it becomes
	// the rowid alias, which is what AUTOINCREMENT requires.
	inlinePK := ""
	if t.PrimaryKey != nil && len(t.PrimaryKey.Columns) == 1 {
		if c, ok := t.Column(t.PrimaryKey.Columns[0]); ok &&
			(c.Family == sqlschema.FamilyInt || c.Family == sqlschema.FamilyBigInt) {
			inlinePK = c.Name
		}
	}
	lines := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		lines = append(lines, "    "+r.renderColumn(c, c.Name == inlinePK))
	}
	if t.PrimaryKey != nil && inlinePK == "" {
		lines = append(lines, fmt.Sprintf("    PRIMARY KEY (%s)", strings.Join(liteQuoteAll(t.PrimaryKey.Columns), ", ")))
	}
	for _, fk := range t.ForeignKeys {
		lines = append(lines, fmt.Sprintf("    FOREIGN KEY (%s) REFERENCES %s(%s)%s%s",
			strings.Join(liteQuoteAll(fk.Columns), ", "),
			liteQuote(fk.ReferencedTable),
			strings.Join(liteQuoteAll(fk.ReferencedColumns), ", "),
			onDeleteClause(fk), onUpdateClause(fk)))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", liteQuote(t.Name), strings.Join(lines, ",\n"))
}

func (r *sqliteRenderer) Render(step diff.Step) (Group, error) {
	g := Group{Step: step}
	push := func(format string, args ...any) {
		g.Statements = append(g.Statements, Statement{SQL: fmt.Sprintf(format, args...)})
	}

	switch s := step.(type) {
	case diff.CreateTable:
		g.Statements = append(g.Statements, Statement{SQL: r.renderCreateTable(s.Table)})

	case diff.DropTable:
		push("DROP TABLE %s", liteQuote(s.Table))

	case diff.RenameTable:
		push("ALTER TABLE %s RENAME TO %s", liteQuote(s.From), liteQuote(s.To))

	case diff.AddColumn:
		push("ALTER TABLE %s ADD COLUMN %s", liteQuote(s.Table), r.renderColumn(s.Column, false))

	case diff.DropColumn:
		push("ALTER TABLE %s DROP COLUMN %s", liteQuote(s.Table), liteQuote(s.Column.Name))

	case diff.AlterColumn:
		if err := r.rebuildTable(&g, s.Table, s.TableBefore, s.TableAfter, &s.After); err != nil {
			return Group{}, err
		}

	case diff.RecreateTable:
		// Constraint-only change: same rebuild as AlterColumn, no cast.
		if err := r.rebuildTable(&g, s.After.Name, s.Before, s.After, nil); err != nil {
			return Group{}, err
		}

	case diff.RenameColumn:
		push("ALTER TABLE %s RENAME COLUMN %s TO %s", liteQuote(s.Table), liteQuote(s.From), liteQuote(s.To))

	case diff.CreateIndex:
		unique := ""
		if s.Index.Unique {
			unique = "UNIQUE "
		}
		where := ""
		if s.Index.Predicate != "" {
			where = " WHERE " + s.Index.Predicate
		}
		push("CREATE %sINDEX %s ON %s(%s)%s",
			unique, liteQuote(s.Index.Name), liteQuote(s.Table),
			strings.Join(liteQuoteAll(s.Index.Columns), ", "), where)

	case diff.DropIndex:
		push("DROP INDEX %s", liteQuote(s.Index.Name))

	case diff.AddForeignKey, diff.DropForeignKey:
		// Foreign keys live inside CREATE TABLE only. Plans built for this
		// dialect carry them inline or as a RecreateTable rebuild; a
		// standalone constraint step cannot be expressed as a statement.
		return Group{}, &UnsupportedFeatureError{
			Dialect: r.Dialect(),
			Feature: "standalone foreign key constraints",
			Step:    step,
		}

	case diff.CreateEnum, diff.DropEnum, diff.AlterEnum:
		// No enum types; enum columns are TEXT.

	default:
		return Group{}, fmt.Errorf("sqlite renderer: unknown step %T", step)
	}
	return g, nil
}

// rebuildTable renders the shadow-table dance that stands in for ALTER
// TABLE: create the desired shape under a temporary name, copy the shared
// columns, swap, then restore the indexes the drop took with it. One atomic
// group. cast, when set, names the one column copied through a CAST.
func (r *sqliteRenderer) rebuildTable(g *Group, table string, before, after sqlschema.Table, cast *sqlschema.Column) error {
	push := func(format string, args ...any) {
		g.Statements = append(g.Statements, Statement{SQL: fmt.Sprintf(format, args...)})
	}

	shadow := after
	shadow.Name = shadowName(table)
	g.Statements = append(g.Statements, Statement{SQL: r.renderCreateTable(shadow)})

	cols := sharedColumns(before, after)
	sources := make([]string, len(cols))
	for i, name := range cols {
		if cast != nil && name == cast.Name {
			sources[i] = fmt.Sprintf("CAST(%s AS %s)", liteQuote(name), r.columnType(*cast))
		} else {
			sources[i] = liteQuote(name)
		}
	}
	push("INSERT INTO %s (%s) SELECT %s FROM %s",
		liteQuote(shadow.Name), strings.Join(liteQuoteAll(cols), ", "),
		strings.Join(sources, ", "), liteQuote(table))
	push("DROP TABLE %s", liteQuote(table))
	push("ALTER TABLE %s RENAME TO %s", liteQuote(shadow.Name), liteQuote(table))
	for _, ix := range after.Indexes {
		idx, err := r.Render(diff.CreateIndex{Table: table, Index: ix})
		if err != nil {
			return err
		}
		g.Statements = append(g.Statements, idx.Statements...)
	}
	return nil
}
