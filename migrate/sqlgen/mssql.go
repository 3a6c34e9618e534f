package sqlgen

import (
	"fmt"
	"strings"

	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/diff"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

type mssqlRenderer struct{}

var mssqlTypes = map[sqlschema.ColumnFamily]string{
	sqlschema.FamilyInt:      "INT",
	sqlschema.FamilyBigInt:   "BIGINT",
	sqlschema.FamilyFloat:    "FLOAT(53)",
	sqlschema.FamilyDecimal:  "DECIMAL(32,16)",
	sqlschema.FamilyText:     "NVARCHAR(1000)",
	sqlschema.FamilyBoolean:  "BIT",
	sqlschema.FamilyDateTime: "DATETIME2",
	sqlschema.FamilyBinary:   "VARBINARY(MAX)",
	sqlschema.FamilyJSON:     "NVARCHAR(1000)",
}

func (r *mssqlRenderer) Dialect() dialect.Dialect { return dialect.MSSQL }

func (r *mssqlRenderer) Capabilities() Capabilities {
	return Capabilities{
		InPlaceColumnAlter: true,
		// Filtered indexes stand in for partial indexes.
		PartialIndexes:      true,
		TransactionalDDL:    true,
		Enums:               false,
		RenameTable:         true,
		RenameColumn:        true,
		StableIndexNames:    true,
		MaxIdentifierLength: 128,
	}
}

func msQuote(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

// msString escapes a value for embedding in an N'...' literal, which is how
// sp_rename takes its object names.
func msString(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

func msQuoteAll(idents []string) []string {
	out := make([]string, len(idents))
	for i, ident := range idents {
		out[i] = msQuote(ident)
	}
	return out
}

func (r *mssqlRenderer) columnType(c sqlschema.Column) (string, error) {
	if c.Family == sqlschema.FamilyEnum {
		return "", &UnsupportedFeatureError{Dialect: dialect.MSSQL, Feature: "enum types"}
	}
	if t, ok := mssqlTypes[c.Family]; ok {
		return t, nil
	}
	return c.Raw, nil
}

func (r *mssqlRenderer) renderColumn(table string, c sqlschema.Column) (string, error) {
	typ, err := r.columnType(c)
	if err != nil {
		return "", err
	}
	if c.AutoIncrement {
		return fmt.Sprintf("%s %s IDENTITY(1,1)", msQuote(c.Name), typ), nil
	}
	parts := []string{msQuote(c.Name), typ}
	if c.Nullable {
		parts = append(parts, "NULL")
	} else {
		parts = append(parts, "NOT NULL")
	}
	if def := msDefault(c); def != "" {
		// Default constraints are named so they can be dropped later.
		parts = append(parts, fmt.Sprintf("CONSTRAINT %s DEFAULT %s", msQuote(msDefaultName(table, c.Name)), def))
	}
	return strings.Join(parts, " "), nil
}

func msDefaultName(table, column string) string {
	return "DF_" + table + "_" + column
}

func msDefault(c sqlschema.Column) string {
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
		case sqlschema.FamilyText, sqlschema.FamilyDateTime, sqlschema.FamilyJSON:
			return "'" + strings.ReplaceAll(c.Default.Value, "'", "''") + "'"
		case sqlschema.FamilyBoolean:
			if c.Default.Value == "true" || c.Default.Value == "1" {
				return "1"
			}
			return "0"
		default:
			return c.Default.Value
		}
	}
}

func (r *mssqlRenderer) Render(step diff.Step) (Group, error) {
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
			col, err := r.renderColumn(s.Table.Name, c)
			if err != nil {
				return Group{}, wrapUnsupported(err, step)
			}
			lines = append(lines, "    "+col)
		}
		if pk := s.Table.PrimaryKey; pk != nil {
			name := pk.Name
			if name == "" {
				name = "PK_" + s.Table.Name + "_" + strings.Join(pk.Columns, "_")
			}
			lines = append(lines, fmt.Sprintf("    CONSTRAINT %s PRIMARY KEY (%s)",
				msQuote(name), strings.Join(msQuoteAll(pk.Columns), ", ")))
		}
		push("CREATE TABLE %s (\n%s\n)", msQuote(s.Table.Name), strings.Join(lines, ",\n"))

	case diff.DropTable:
		push("DROP TABLE %s", msQuote(s.Table))

	case diff.RenameTable:
		push("EXEC SP_RENAME N'%s', N'%s'", msString(s.From), msString(s.To))

	case diff.AddColumn:
		col, err := r.renderColumn(s.Table, s.Column)
		if err != nil {
			return Group{}, wrapUnsupported(err, step)
		}
		push("ALTER TABLE %s ADD %s", msQuote(s.Table), col)

	case diff.DropColumn:
		if s.Column.Default != nil {
			push("ALTER TABLE %s DROP CONSTRAINT %s", msQuote(s.Table), msQuote(msDefaultName(s.Table, s.Column.Name)))
		}
		push("ALTER TABLE %s DROP COLUMN %s", msQuote(s.Table), msQuote(s.Column.Name))

	case diff.AlterColumn:
		typ, err := r.columnType(s.After)
		if err != nil {
			return Group{}, wrapUnsupported(err, step)
		}
		// Default constraints cannot be altered in place: drop the old one
		// first, re-add the new one after the column change.
		if s.Before.Default != nil {
			push("ALTER TABLE %s DROP CONSTRAINT %s", msQuote(s.Table), msQuote(msDefaultName(s.Table, s.Before.Name)))
		}
		nullability := "NOT NULL"
		if s.After.Nullable {
			nullability = "NULL"
		}
		push("ALTER TABLE %s ALTER COLUMN %s %s %s", msQuote(s.Table), msQuote(s.After.Name), typ, nullability)
		if def := msDefault(s.After); def != "" {
			push("ALTER TABLE %s ADD CONSTRAINT %s DEFAULT %s FOR %s",
				msQuote(s.Table), msQuote(msDefaultName(s.Table, s.After.Name)), def, msQuote(s.After.Name))
		}

	case diff.RenameColumn:
		push("EXEC SP_RENAME N'%s.%s', N'%s', N'COLUMN'", msString(s.Table), msString(s.From), msString(s.To))

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
			unique, msQuote(strings.ReplaceAll(s.Index.Name, ".", "_")), msQuote(s.Table),
			strings.Join(msQuoteAll(s.Index.Columns), ", "), where)

	case diff.DropIndex:
		push("DROP INDEX %s ON %s", msQuote(s.Index.Name), msQuote(s.Table))

	case diff.AddForeignKey:
		if err := checkIdentifiers(r.Dialect(), caps.MaxIdentifierLength, fkConstraintName(s.Table, s.ForeignKey)); err != nil {
			return Group{}, err
		}
		// Self-relations cannot cascade on SQL Server.
		onDelete, onUpdate := onDeleteClause(s.ForeignKey), onUpdateClause(s.ForeignKey)
		if s.Table == s.ForeignKey.ReferencedTable {
			onDelete, onUpdate = " ON DELETE NO ACTION", " ON UPDATE NO ACTION"
		}
		push("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s)%s%s",
			msQuote(s.Table), msQuote(fkConstraintName(s.Table, s.ForeignKey)),
			strings.Join(msQuoteAll(s.ForeignKey.Columns), ", "),
			msQuote(s.ForeignKey.ReferencedTable),
			strings.Join(msQuoteAll(s.ForeignKey.ReferencedColumns), ", "),
			onDelete, onUpdate)

	case diff.DropForeignKey:
		push("ALTER TABLE %s DROP CONSTRAINT %s", msQuote(s.Table), msQuote(fkConstraintName(s.Table, s.ForeignKey)))

	case diff.RecreateTable:
		// Constraints alter in place here: a rebuild reduces to dropping
		// and adding the changed foreign keys.
		if err := renderFKDelta(r, &g, s.Before, s.After); err != nil {
			return Group{}, err
		}

	case diff.CreateEnum, diff.DropEnum, diff.AlterEnum:
		return Group{}, &UnsupportedFeatureError{Dialect: r.Dialect(), Feature: "enum types", Step: step}

	default:
		return Group{}, fmt.Errorf("mssql renderer: unknown step %T", step)
	}
	return g, nil
}

func wrapUnsupported(err error, step diff.Step) error {
	if u, ok := err.(*UnsupportedFeatureError); ok && u.Step == nil {
		u.Step = step
	}
	return err
}
