package sqlgen

import (
	"fmt"
	"strings"

	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/diff"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

type postgresRenderer struct{}

var postgresTypes = map[sqlschema.ColumnFamily]string{
	sqlschema.FamilyInt:      "INTEGER",
	sqlschema.FamilyBigInt:   "BIGINT",
	sqlschema.FamilyFloat:    "DOUBLE PRECISION",
	sqlschema.FamilyDecimal:  "DECIMAL(65,30)",
	sqlschema.FamilyText:     "TEXT",
	sqlschema.FamilyBoolean:  "BOOLEAN",
	sqlschema.FamilyDateTime: "TIMESTAMP(3)",
	sqlschema.FamilyBinary:   "BYTEA",
	sqlschema.FamilyJSON:     "JSONB",
}

func (r *postgresRenderer) Dialect() dialect.Dialect { return dialect.Postgres }

func (r *postgresRenderer) Capabilities() Capabilities {
	return Capabilities{
		InPlaceColumnAlter:  true,
		PartialIndexes:      true,
		TransactionalDDL:    true,
		Enums:               true,
		RenameTable:         true,
		RenameColumn:        true,
		StableIndexNames:    true,
		MaxIdentifierLength: 63,
	}
}

func pgQuote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func pgQuoteAll(idents []string) []string {
	out := make([]string, len(idents))
	for i, ident := range idents {
		out[i] = pgQuote(ident)
	}
	return out
}

func (r *postgresRenderer) columnType(c sqlschema.Column) string {
	if c.Family == sqlschema.FamilyEnum {
		return pgQuote(c.EnumName)
	}
	if c.AutoIncrement {
		if c.Family == sqlschema.FamilyBigInt {
			return "BIGSERIAL"
		}
		return "SERIAL"
	}
	if t, ok := postgresTypes[c.Family]; ok {
		return t
	}
	return c.Raw
}

func (r *postgresRenderer) renderColumn(c sqlschema.Column) string {
	parts := []string{pgQuote(c.Name), r.columnType(c)}
	if !c.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if def := pgDefault(c); def != "" && !c.AutoIncrement {
		parts = append(parts, "DEFAULT "+def)
	}
	return strings.Join(parts, " ")
}

func pgDefault(c sqlschema.Column) string {
	if c.Default == nil {
		return ""
	}
	switch c.Default.Kind {
	case sqlschema.DefaultNow:
		return "CURRENT_TIMESTAMP"
	case sqlschema.DefaultDBGenerated, sqlschema.DefaultSequence:
		return c.Default.Value
	default:
		return pgLiteral(c)
	}
}

func pgLiteral(c sqlschema.Column) string {
	switch c.Family {
	case sqlschema.FamilyText, sqlschema.FamilyEnum, sqlschema.FamilyDateTime, sqlschema.FamilyJSON:
		return "'" + strings.ReplaceAll(c.Default.Value, "'", "''") + "'"
	default:
		return c.Default.Value
	}
}

func (r *postgresRenderer) Render(step diff.Step) (Group, error) {
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
			name := pk.Name
			if name == "" {
				name = s.Table.Name + "_pkey"
			}
			lines = append(lines, fmt.Sprintf("    CONSTRAINT %s PRIMARY KEY (%s)",
				pgQuote(name), strings.Join(pgQuoteAll(pk.Columns), ", ")))
		}
		push("CREATE TABLE %s (\n%s\n)", pgQuote(s.Table.Name), strings.Join(lines, ",\n"))

	case diff.DropTable:
		push("DROP TABLE %s", pgQuote(s.Table))

	case diff.RenameTable:
		push("ALTER TABLE %s RENAME TO %s", pgQuote(s.From), pgQuote(s.To))

	case diff.AddColumn:
		push("ALTER TABLE %s ADD COLUMN %s", pgQuote(s.Table), r.renderColumn(s.Column))

	case diff.DropColumn:
		push("ALTER TABLE %s DROP COLUMN %s", pgQuote(s.Table), pgQuote(s.Column.Name))

	case diff.AlterColumn:
		var actions []string
		col := pgQuote(s.After.Name)
		if s.Before.Family != s.After.Family || s.Before.EnumName != s.After.EnumName {
			actions = append(actions, fmt.Sprintf("ALTER COLUMN %s TYPE %s USING (%s::text::%s)",
				col, r.columnType(s.After), col, r.columnType(s.After)))
		}
		if s.Before.Nullable && !s.After.Nullable {
			actions = append(actions, fmt.Sprintf("ALTER COLUMN %s SET NOT NULL", col))
		}
		if !s.Before.Nullable && s.After.Nullable {
			actions = append(actions, fmt.Sprintf("ALTER COLUMN %s DROP NOT NULL", col))
		}
		if def := pgDefault(s.After); def != "" {
			actions = append(actions, fmt.Sprintf("ALTER COLUMN %s SET DEFAULT %s", col, def))
		} else if pgDefault(s.Before) != "" {
			actions = append(actions, fmt.Sprintf("ALTER COLUMN %s DROP DEFAULT", col))
		}
		if len(actions) > 0 {
			push("ALTER TABLE %s %s", pgQuote(s.Table), strings.Join(actions, ", "))
		}

	case diff.RenameColumn:
		push("ALTER TABLE %s RENAME COLUMN %s TO %s", pgQuote(s.Table), pgQuote(s.From), pgQuote(s.To))

	case diff.CreateIndex:
		if err := checkIdentifiers(r.Dialect(), caps.MaxIdentifierLength, s.Index.Name); err != nil {
			return Group{}, err
		}
		unique := ""
		if s.Index.Unique {
			unique = "UNIQUE "
		}
		where := ""
		if s.Index.Predicate != "" {
			where = " WHERE " + s.Index.Predicate
		}
		push("CREATE %sINDEX %s ON %s(%s)%s",
			unique, pgQuote(s.Index.Name), pgQuote(s.Table),
			strings.Join(pgQuoteAll(s.Index.Columns), ", "), where)

	case diff.DropIndex:
		push("DROP INDEX %s", pgQuote(s.Index.Name))

	case diff.AddForeignKey:
		if err := checkIdentifiers(r.Dialect(), caps.MaxIdentifierLength, fkConstraintName(s.Table, s.ForeignKey)); err != nil {
			return Group{}, err
		}
		push("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s)%s%s",
			pgQuote(s.Table), pgQuote(fkConstraintName(s.Table, s.ForeignKey)),
			strings.Join(pgQuoteAll(s.ForeignKey.Columns), ", "),
			pgQuote(s.ForeignKey.ReferencedTable),
			strings.Join(pgQuoteAll(s.ForeignKey.ReferencedColumns), ", "),
			onDeleteClause(s.ForeignKey), onUpdateClause(s.ForeignKey))

	case diff.DropForeignKey:
		push("ALTER TABLE %s DROP CONSTRAINT %s", pgQuote(s.Table), pgQuote(fkConstraintName(s.Table, s.ForeignKey)))

	case diff.RecreateTable:
		// Constraints alter in place here: a rebuild reduces to dropping
		// and adding the changed foreign keys.
		if err := renderFKDelta(r, &g, s.Before, s.After); err != nil {
			return Group{}, err
		}

	case diff.CreateEnum:
		push("CREATE TYPE %s AS ENUM (%s)", pgQuote(s.Enum.Name), enumLiterals(s.Enum.Values))

	case diff.DropEnum:
		push("DROP TYPE %s", pgQuote(s.Name))

	case diff.AlterEnum:
		if !enumOnlyAdds(s.Before, s.After) {
			// Value removal forces a type rebuild: rename the old type
			// aside, create the new one, re-point every using column, drop
			// the old type. The whole sequence is one atomic group.
			old := s.After.Name + "_old"
			push("ALTER TYPE %s RENAME TO %s", pgQuote(s.After.Name), pgQuote(old))
			push("CREATE TYPE %s AS ENUM (%s)", pgQuote(s.After.Name), enumLiterals(s.After.Values))
			for _, ref := range s.UsingColumns {
				push("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING (%s::text::%s)",
					pgQuote(ref.Table), pgQuote(ref.Column), pgQuote(s.After.Name),
					pgQuote(ref.Column), pgQuote(s.After.Name))
			}
			push("DROP TYPE %s", pgQuote(old))
			break
		}
		for _, v := range addedEnumValues(s.Before, s.After) {
			push("ALTER TYPE %s ADD VALUE '%s'", pgQuote(s.After.Name), strings.ReplaceAll(v, "'", "''"))
		}

	default:
		return Group{}, fmt.Errorf("postgres renderer: unknown step %T", step)
	}
	return g, nil
}
