package sqlgen

import (
	"fmt"
	"strings"

	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/diff"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

type mysqlRenderer struct{}

var mysqlTypes = map[sqlschema.ColumnFamily]string{
	sqlschema.FamilyInt:      "INT",
	sqlschema.FamilyBigInt:   "BIGINT",
	sqlschema.FamilyFloat:    "DOUBLE",
	sqlschema.FamilyDecimal:  "DECIMAL(65,30)",
	sqlschema.FamilyText:     "VARCHAR(191)",
	sqlschema.FamilyBoolean:  "BOOLEAN",
	sqlschema.FamilyDateTime: "DATETIME(3)",
	sqlschema.FamilyBinary:   "LONGBLOB",
	sqlschema.FamilyJSON:     "JSON",
}

func (r *mysqlRenderer) Dialect() dialect.Dialect { return dialect.MySQL }

func (r *mysqlRenderer) Capabilities() Capabilities {
	return Capabilities{
		InPlaceColumnAlter: true,
		PartialIndexes:     false,
		// MySQL DDL commits implicitly; the applier falls back to
		// best-effort sequential execution with PartiallyApplied reporting.
		TransactionalDDL:    false,
		Enums:               true,
		RenameTable:         true,
		RenameColumn:        true,
		StableIndexNames:    true,
		MaxIdentifierLength: 64,
	}
}

func myQuote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func myQuoteAll(idents []string) []string {
	out := make([]string, len(idents))
	for i, ident := range idents {
		out[i] = myQuote(ident)
	}
	return out
}

func (r *mysqlRenderer) columnType(c sqlschema.Column) string {
	// MySQL has no schema-level enum types: the value set is inlined into
	// the column definition.
	if c.Family == sqlschema.FamilyEnum {
		return "ENUM(" + enumLiterals(c.EnumValues) + ")"
	}
	if t, ok := mysqlTypes[c.Family]; ok {
		return t
	}
	return c.Raw
}

func (r *mysqlRenderer) renderColumn(c sqlschema.Column) string {
	parts := []string{myQuote(c.Name), r.columnType(c)}
	if !c.Nullable {
		parts = append(parts, "NOT NULL")
	} else {
		parts = append(parts, "NULL")
	}
	if def := myDefault(c); def != "" {
		parts = append(parts, "DEFAULT "+def)
	}
	if c.AutoIncrement {
		parts = append(parts, "AUTO_INCREMENT")
	}
	return strings.Join(parts, " ")
}

func myDefault(c sqlschema.Column) string {
	if c.Default == nil {
		return ""
	}
	switch c.Default.Kind {
	case sqlschema.DefaultNow:
		return "CURRENT_TIMESTAMP(3)"
	case sqlschema.DefaultDBGenerated, sqlschema.DefaultSequence:
		return c.Default.Value
	default:
		switch c.Family {
		case sqlschema.FamilyText, sqlschema.FamilyEnum, sqlschema.FamilyDateTime:
			return "'" + strings.ReplaceAll(c.Default.Value, "'", "''") + "'"
		case sqlschema.FamilyJSON:
			// MySQL requires expression syntax for JSON defaults.
			return "('" + strings.ReplaceAll(c.Default.Value, "'", "''") + "')"
		default:
			return c.Default.Value
		}
	}
}

func (r *mysqlRenderer) Render(step diff.Step) (Group, error) {
	caps := r.Capabilities()
	g := Group{Step: step}
	push := func(format string, args ...any) {
		g.Statements = append(g.Statements, Statement{SQL: fmt.Sprintf(format, args...)})
	}

	switch s := step.(type) {
	case diff.CreateTable:
		if err := checkIdentifiers(r.Dialect(), caps.MaxIdentifierLength, identifiersOf(s.Table)...); err != nil {
			return Group{}, err
		}
		lines := make([]string, 0, len(s.Table.Columns)+1)
		for _, c := range s.Table.Columns {
			lines = append(lines, "    "+r.renderColumn(c))
		}
		if pk := s.Table.PrimaryKey; pk != nil {
			lines = append(lines, fmt.Sprintf("    PRIMARY KEY (%s)", strings.Join(myQuoteAll(pk.Columns), ", ")))
		}
		push("CREATE TABLE %s (\n%s\n) DEFAULT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci",
			myQuote(s.Table.Name), strings.Join(lines, ",\n"))

	case diff.DropTable:
		push("DROP TABLE %s", myQuote(s.Table))

	case diff.RenameTable:
		push("RENAME TABLE %s TO %s", myQuote(s.From), myQuote(s.To))

	case diff.AddColumn:
		push("ALTER TABLE %s ADD COLUMN %s", myQuote(s.Table), r.renderColumn(s.Column))

	case diff.DropColumn:
		push("ALTER TABLE %s DROP COLUMN %s", myQuote(s.Table), myQuote(s.Column.Name))

	case diff.AlterColumn:
		push("ALTER TABLE %s MODIFY COLUMN %s", myQuote(s.Table), r.renderColumn(s.After))

	case diff.RenameColumn:
		push("ALTER TABLE %s RENAME COLUMN %s TO %s", myQuote(s.Table), myQuote(s.From), myQuote(s.To))

	case diff.CreateIndex:
		if s.Index.Predicate != "" {
			return Group{}, &UnsupportedFeatureError{Dialect: r.Dialect(), Feature: "partial indexes", Step: step}
		}
		if err := checkIdentifiers(r.Dialect(), caps.MaxIdentifierLength, s.Index.Name); err != nil {
			return Group{}, err
		}
		unique := ""
		if s.Index.Unique {
			unique = "UNIQUE "
		}
		push("CREATE %sINDEX %s ON %s(%s)",
			unique, myQuote(s.Index.Name), myQuote(s.Table), strings.Join(myQuoteAll(s.Index.Columns), ", "))

	case diff.DropIndex:
		push("DROP INDEX %s ON %s", myQuote(s.Index.Name), myQuote(s.Table))

	case diff.AddForeignKey:
		if err := checkIdentifiers(r.Dialect(), caps.MaxIdentifierLength, fkConstraintName(s.Table, s.ForeignKey)); err != nil {
			return Group{}, err
		}
		push("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s)%s%s",
			myQuote(s.Table), myQuote(fkConstraintName(s.Table, s.ForeignKey)),
			strings.Join(myQuoteAll(s.ForeignKey.Columns), ", "),
			myQuote(s.ForeignKey.ReferencedTable),
			strings.Join(myQuoteAll(s.ForeignKey.ReferencedColumns), ", "),
			onDeleteClause(s.ForeignKey), onUpdateClause(s.ForeignKey))

	case diff.DropForeignKey:
		push("ALTER TABLE %s DROP FOREIGN KEY %s", myQuote(s.Table), myQuote(fkConstraintName(s.Table, s.ForeignKey)))

	case diff.RecreateTable:
		// Constraints alter in place here: a rebuild reduces to dropping
		// and adding the changed foreign keys.
		if err := renderFKDelta(r, &g, s.Before, s.After); err != nil {
			return Group{}, err
		}

	case diff.CreateEnum, diff.DropEnum:
		// Inline enums: the value set travels with the column definitions.

	case diff.AlterEnum:
		// Re-declare the enum on every using column, keeping the rest of
		// the column definition intact.
		for _, ref := range s.UsingColumns {
			col := ref.Definition
			col.EnumValues = s.After.Values
			push("ALTER TABLE %s MODIFY COLUMN %s", myQuote(ref.Table), r.renderColumn(col))
		}

	default:
		return Group{}, fmt.Errorf("mysql renderer: unknown step %T", step)
	}
	return g, nil
}
