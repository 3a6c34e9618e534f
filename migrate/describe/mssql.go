package describe

import (
	"context"
	"database/sql"
	"strings"

	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

// mssqlDescriber reads the dbo schema out of the sys catalog views.
//
// SQL Server has no enum or json types; Json columns come back as Text.
type mssqlDescriber struct {
	db Querier
}

func (d *mssqlDescriber) Dialect() dialect.Dialect { return dialect.MSSQL }

func (d *mssqlDescriber) Describe(ctx context.Context) (*sqlschema.Schema, error) {
	schema := &sqlschema.Schema{}

	names, err := d.tableNames(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		table, err := d.describeTable(ctx, name)
		if err != nil {
			return nil, err
		}
		schema.Tables = append(schema.Tables, table)
	}

	if err := d.describeSequences(ctx, schema); err != nil {
		return nil, err
	}
	if err := d.describeUnknowns(ctx, schema); err != nil {
		return nil, err
	}
	return finalize(schema), nil
}

func (d *mssqlDescriber) tableNames(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT t.name
		FROM sys.tables t
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE s.name = 'dbo' AND t.is_ms_shipped = 0
		ORDER BY t.name`)
	if err != nil {
		return nil, describeErr("query tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, describeErr("scan table", err)
		}
		if isLedgerTable(name) {
			continue
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (d *mssqlDescriber) describeTable(ctx context.Context, name string) (sqlschema.Table, error) {
	table := sqlschema.Table{Name: name}

	if err := d.describeColumns(ctx, &table); err != nil {
		return table, err
	}
	if err := d.describePrimaryKey(ctx, &table); err != nil {
		return table, err
	}
	if err := d.describeIndexes(ctx, &table); err != nil {
		return table, err
	}
	if err := d.describeForeignKeys(ctx, &table); err != nil {
		return table, err
	}
	return table, nil
}

func (d *mssqlDescriber) describeColumns(ctx context.Context, table *sqlschema.Table) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.name, ty.name, c.is_nullable, c.is_identity, df.definition
		FROM sys.columns c
		JOIN sys.tables t ON t.object_id = c.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.types ty ON ty.user_type_id = c.user_type_id
		LEFT JOIN sys.default_constraints df ON df.object_id = c.default_object_id
		WHERE s.name = 'dbo' AND t.name = @p1
		ORDER BY c.column_id`, table.Name)
	if err != nil {
		return describeErr("query columns of "+table.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var col sqlschema.Column
		var typeName string
		var nullable, identity bool
		var defaultDef sql.NullString
		if err := rows.Scan(&col.Name, &typeName, &nullable, &identity, &defaultDef); err != nil {
			return describeErr("scan column of "+table.Name, err)
		}
		col.Family = mssqlFamily(typeName)
		if col.Family == sqlschema.FamilyUnsupported {
			col.Raw = typeName
		}
		col.Nullable = nullable
		col.AutoIncrement = identity
		col.Default = mssqlDefaultOf(defaultDef)
		table.Columns = append(table.Columns, col)
	}
	return rows.Err()
}

func (d *mssqlDescriber) describePrimaryKey(ctx context.Context, table *sqlschema.Table) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT kc.name, col.name
		FROM sys.key_constraints kc
		JOIN sys.tables t ON t.object_id = kc.parent_object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.index_columns ic
		  ON ic.object_id = kc.parent_object_id AND ic.index_id = kc.unique_index_id
		JOIN sys.columns col
		  ON col.object_id = ic.object_id AND col.column_id = ic.column_id
		WHERE s.name = 'dbo' AND t.name = @p1 AND kc.type = 'PK'
		ORDER BY ic.key_ordinal`, table.Name)
	if err != nil {
		return describeErr("query primary key of "+table.Name, err)
	}
	defer rows.Close()

	pk := &sqlschema.PrimaryKey{}
	for rows.Next() {
		var constraintName, column string
		if err := rows.Scan(&constraintName, &column); err != nil {
			return describeErr("scan primary key of "+table.Name, err)
		}
		pk.Name = constraintName
		pk.Columns = append(pk.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(pk.Columns) > 0 {
		// Generated PK_ names are normalized away like unnamed keys.
		if strings.HasPrefix(pk.Name, "PK_") || strings.HasPrefix(pk.Name, "PK__") {
			pk.Name = ""
		}
		table.PrimaryKey = pk
	}
	return nil
}

func (d *mssqlDescriber) describeIndexes(ctx context.Context, table *sqlschema.Table) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT i.name, i.is_unique, COALESCE(i.filter_definition, ''), col.name
		FROM sys.indexes i
		JOIN sys.tables t ON t.object_id = i.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.index_columns ic
		  ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns col
		  ON col.object_id = ic.object_id AND col.column_id = ic.column_id
		WHERE s.name = 'dbo' AND t.name = @p1
		  AND i.is_primary_key = 0 AND i.is_unique_constraint = 0
		  AND i.type > 0 AND i.is_hypothetical = 0
		ORDER BY i.name, ic.key_ordinal`, table.Name)
	if err != nil {
		return describeErr("query indexes of "+table.Name, err)
	}
	defer rows.Close()

	byName := map[string]*sqlschema.Index{}
	var order []string
	for rows.Next() {
		var name, filter, column string
		var unique bool
		if err := rows.Scan(&name, &unique, &filter, &column); err != nil {
			return describeErr("scan index of "+table.Name, err)
		}
		idx, ok := byName[name]
		if !ok {
			idx = &sqlschema.Index{Name: name, Unique: unique, Predicate: normalizeFilter(filter)}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, name := range order {
		table.Indexes = append(table.Indexes, *byName[name])
	}
	return nil
}

func (d *mssqlDescriber) describeForeignKeys(ctx context.Context, table *sqlschema.Table) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT fk.name, rt.name,
		       fk.update_referential_action_desc, fk.delete_referential_action_desc,
		       pc.name, rc.name
		FROM sys.foreign_keys fk
		JOIN sys.tables t ON t.object_id = fk.parent_object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.tables rt ON rt.object_id = fk.referenced_object_id
		JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
		JOIN sys.columns pc
		  ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
		JOIN sys.columns rc
		  ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
		WHERE s.name = 'dbo' AND t.name = @p1
		ORDER BY fk.name, fkc.constraint_column_id`, table.Name)
	if err != nil {
		return describeErr("query foreign keys of "+table.Name, err)
	}
	defer rows.Close()

	byName := map[string]*sqlschema.ForeignKey{}
	var order []string
	for rows.Next() {
		var name, refTable, updateAction, deleteAction, column, refColumn string
		if err := rows.Scan(&name, &refTable, &updateAction, &deleteAction, &column, &refColumn); err != nil {
			return describeErr("scan foreign key of "+table.Name, err)
		}
		fk, ok := byName[name]
		if !ok {
			fk = &sqlschema.ForeignKey{
				ConstraintName:  name,
				ReferencedTable: refTable,
				OnUpdate:        referentialAction(updateAction),
				OnDelete:        referentialAction(deleteAction),
			}
			byName[name] = fk
			order = append(order, name)
		}
		fk.Columns = append(fk.Columns, column)
		fk.ReferencedColumns = append(fk.ReferencedColumns, refColumn)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, name := range order {
		table.ForeignKeys = append(table.ForeignKeys, *byName[name])
	}
	return nil
}

func (d *mssqlDescriber) describeSequences(ctx context.Context, schema *sqlschema.Schema) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT seq.name
		FROM sys.sequences seq
		JOIN sys.schemas s ON s.schema_id = seq.schema_id
		WHERE s.name = 'dbo'
		ORDER BY seq.name`)
	if err != nil {
		return describeErr("query sequences", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq sqlschema.Sequence
		if err := rows.Scan(&seq.Name); err != nil {
			return describeErr("scan sequence", err)
		}
		schema.Sequences = append(schema.Sequences, seq)
	}
	return rows.Err()
}

func (d *mssqlDescriber) describeUnknowns(ctx context.Context, schema *sqlschema.Schema) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT 'view', v.name FROM sys.views v
		JOIN sys.schemas s ON s.schema_id = v.schema_id
		WHERE s.name = 'dbo'
		UNION
		SELECT 'trigger', tr.name FROM sys.triggers tr
		WHERE tr.parent_class = 1
		UNION
		SELECT 'procedure', p.name FROM sys.procedures p
		JOIN sys.schemas s ON s.schema_id = p.schema_id
		WHERE s.name = 'dbo'
		ORDER BY 1, 2`)
	if err != nil {
		return describeErr("query views, triggers and procedures", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u sqlschema.Unknown
		if err := rows.Scan(&u.Kind, &u.Name); err != nil {
			return describeErr("scan unknown construct", err)
		}
		schema.Unknowns = append(schema.Unknowns, u)
	}
	return rows.Err()
}

func mssqlFamily(typeName string) sqlschema.ColumnFamily {
	switch strings.ToLower(typeName) {
	case "int", "smallint", "tinyint":
		return sqlschema.FamilyInt
	case "bigint":
		return sqlschema.FamilyBigInt
	case "float", "real":
		return sqlschema.FamilyFloat
	case "decimal", "numeric":
		return sqlschema.FamilyDecimal
	case "nvarchar", "varchar", "nchar", "char", "ntext", "text":
		return sqlschema.FamilyText
	case "bit":
		return sqlschema.FamilyBoolean
	case "datetime2", "datetime", "smalldatetime", "date", "datetimeoffset":
		return sqlschema.FamilyDateTime
	case "varbinary", "binary", "image":
		return sqlschema.FamilyBinary
	default:
		return sqlschema.FamilyUnsupported
	}
}

// normalizeFilter unwraps the outer parentheses sys.indexes stores filtered
// index predicates in, so a predicate reads back the way it was written.
// Only parentheses enclosing the whole expression are removed: the filter
// ([a]=(1)) becomes [a]=(1), while ([a]=(1)) AND ([b]=(2)) is untouched.
func normalizeFilter(filter string) string {
	v := strings.TrimSpace(filter)
	for len(v) >= 2 && v[0] == '(' && v[len(v)-1] == ')' && balancedParens(v[1:len(v)-1]) {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	return v
}

func balancedParens(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// mssqlDefaultOf unwraps the parenthesized definitions default constraints
// are stored as: ((1)), ('x'), (getdate()).
func mssqlDefaultOf(def sql.NullString) *sqlschema.Default {
	if !def.Valid {
		return nil
	}
	v := strings.TrimSpace(def.String)
	for len(v) >= 2 && v[0] == '(' && v[len(v)-1] == ')' {
		v = v[1 : len(v)-1]
	}
	lower := strings.ToLower(v)
	if lower == "getdate()" || lower == "sysdatetime()" || lower == "current_timestamp" {
		return &sqlschema.Default{Kind: sqlschema.DefaultNow}
	}
	if lower == "null" {
		return nil
	}
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return &sqlschema.Default{
			Kind:  sqlschema.DefaultValue,
			Value: strings.ReplaceAll(v[1:len(v)-1], "''", "'"),
		}
	}
	if isLiteralDefault(v) {
		return &sqlschema.Default{Kind: sqlschema.DefaultValue, Value: v}
	}
	return &sqlschema.Default{Kind: sqlschema.DefaultDBGenerated, Value: def.String}
}
