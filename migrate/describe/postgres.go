package describe

import (
	"context"
	"database/sql"
	"strings"

	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

// postgresDescriber reads the public schema out of the system catalogs.
type postgresDescriber struct {
	db Querier
}

func (d *postgresDescriber) Dialect() dialect.Dialect { return dialect.Postgres }

func (d *postgresDescriber) Describe(ctx context.Context) (*sqlschema.Schema, error) {
	schema := &sqlschema.Schema{}

	if err := d.describeEnums(ctx, schema); err != nil {
		return nil, err
	}

	names, err := d.tableNames(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		table, err := d.describeTable(ctx, name, schema)
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

func (d *postgresDescriber) tableNames(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
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

func (d *postgresDescriber) describeTable(ctx context.Context, name string, schema *sqlschema.Schema) (sqlschema.Table, error) {
	table := sqlschema.Table{Name: name}

	if err := d.describeColumns(ctx, &table, schema); err != nil {
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

func (d *postgresDescriber) describeColumns(ctx context.Context, table *sqlschema.Table, schema *sqlschema.Schema) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT column_name, data_type, udt_name, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`, table.Name)
	if err != nil {
		return describeErr("query columns of "+table.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var col sqlschema.Column
		var dataType, udtName, isNullable string
		var colDefault sql.NullString
		if err := rows.Scan(&col.Name, &dataType, &udtName, &isNullable, &colDefault); err != nil {
			return describeErr("scan column of "+table.Name, err)
		}

		col.Family = pgFamily(dataType, udtName, schema)
		switch col.Family {
		case sqlschema.FamilyEnum:
			col.EnumName = udtName
			if e, ok := schema.Enum(udtName); ok {
				col.EnumValues = append([]string(nil), e.Values...)
			}
		case sqlschema.FamilyUnsupported:
			col.Raw = dataType
			if dataType == "USER-DEFINED" {
				col.Raw = udtName
			}
		}
		col.Nullable = isNullable == "YES"

		if colDefault.Valid && strings.HasPrefix(colDefault.String, "nextval(") {
			// serial columns: the owned sequence is the default.
			col.AutoIncrement = true
		} else {
			col.Default = pgDefaultOf(colDefault, col.Family)
		}
		table.Columns = append(table.Columns, col)
	}
	return rows.Err()
}

func (d *postgresDescriber) describePrimaryKey(ctx context.Context, table *sqlschema.Table) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT tc.constraint_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.table_schema = tc.table_schema
		WHERE tc.table_schema = 'public'
		  AND tc.table_name = $1
		  AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position`, table.Name)
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
		// Generated constraint names are normalized away so round trips
		// compare equal against schemas that never named the key.
		if pk.Name == table.Name+"_pkey" {
			pk.Name = ""
		}
		table.PrimaryKey = pk
	}
	return nil
}

func (d *postgresDescriber) describeIndexes(ctx context.Context, table *sqlschema.Table) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT i.relname,
		       ix.indisunique,
		       COALESCE(pg_get_expr(ix.indpred, ix.indrelid), ''),
		       a.attname,
		       k.ord
		FROM pg_index ix
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord) ON TRUE
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname = 'public'
		  AND t.relname = $1
		  AND NOT ix.indisprimary
		ORDER BY i.relname, k.ord`, table.Name)
	if err != nil {
		return describeErr("query indexes of "+table.Name, err)
	}
	defer rows.Close()

	byName := map[string]*sqlschema.Index{}
	var order []string
	for rows.Next() {
		var name, predicate, column string
		var unique bool
		var ord int
		if err := rows.Scan(&name, &unique, &predicate, &column, &ord); err != nil {
			return describeErr("scan index of "+table.Name, err)
		}
		idx, ok := byName[name]
		if !ok {
			idx = &sqlschema.Index{Name: name, Unique: unique, Predicate: predicate}
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

func (d *postgresDescriber) describeForeignKeys(ctx context.Context, table *sqlschema.Table) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT con.conname,
		       ref.relname,
		       con.confupdtype,
		       con.confdeltype,
		       att.attname,
		       refatt.attname,
		       k.ord
		FROM pg_constraint con
		JOIN pg_class t ON t.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_class ref ON ref.oid = con.confrelid
		JOIN LATERAL unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord) ON TRUE
		JOIN LATERAL unnest(con.confkey) WITH ORDINALITY AS fk(attnum, ord) ON fk.ord = k.ord
		JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = k.attnum
		JOIN pg_attribute refatt ON refatt.attrelid = con.confrelid AND refatt.attnum = fk.attnum
		WHERE con.contype = 'f'
		  AND n.nspname = 'public'
		  AND t.relname = $1
		ORDER BY con.conname, k.ord`, table.Name)
	if err != nil {
		return describeErr("query foreign keys of "+table.Name, err)
	}
	defer rows.Close()

	byName := map[string]*sqlschema.ForeignKey{}
	var order []string
	for rows.Next() {
		var name, refTable, updType, delType, column, refColumn string
		var ord int
		if err := rows.Scan(&name, &refTable, &updType, &delType, &column, &refColumn, &ord); err != nil {
			return describeErr("scan foreign key of "+table.Name, err)
		}
		fk, ok := byName[name]
		if !ok {
			fk = &sqlschema.ForeignKey{
				ConstraintName:  name,
				ReferencedTable: refTable,
				OnUpdate:        pgAction(updType),
				OnDelete:        pgAction(delType),
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

func (d *postgresDescriber) describeEnums(ctx context.Context, schema *sqlschema.Schema) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT t.typname, e.enumlabel
		FROM pg_type t
		JOIN pg_enum e ON e.enumtypid = t.oid
		JOIN pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname = 'public'
		ORDER BY t.typname, e.enumsortorder`)
	if err != nil {
		return describeErr("query enums", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, label string
		if err := rows.Scan(&name, &label); err != nil {
			return describeErr("scan enum", err)
		}
		if e, ok := schema.Enum(name); ok {
			e.Values = append(e.Values, label)
			continue
		}
		schema.Enums = append(schema.Enums, sqlschema.Enum{Name: name, Values: []string{label}})
	}
	return rows.Err()
}

func (d *postgresDescriber) describeSequences(ctx context.Context, schema *sqlschema.Schema) error {
	// Sequences owned by serial columns are an implementation detail of the
	// column and are excluded.
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind = 'S'
		  AND n.nspname = 'public'
		  AND NOT EXISTS (
			SELECT 1 FROM pg_depend dep
			WHERE dep.objid = c.oid AND dep.deptype IN ('a', 'i')
		  )
		ORDER BY c.relname`)
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

func (d *postgresDescriber) describeUnknowns(ctx context.Context, schema *sqlschema.Schema) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT 'view', table_name FROM information_schema.views
		WHERE table_schema = 'public'
		UNION
		SELECT DISTINCT 'trigger', trigger_name FROM information_schema.triggers
		WHERE trigger_schema = 'public'
		ORDER BY 1, 2`)
	if err != nil {
		return describeErr("query views and triggers", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u sqlschema.Unknown
		if err := rows.Scan(&u.Kind, &u.Name); err != nil {
			return describeErr("scan view or trigger", err)
		}
		schema.Unknowns = append(schema.Unknowns, u)
	}
	return rows.Err()
}

func pgFamily(dataType, udtName string, schema *sqlschema.Schema) sqlschema.ColumnFamily {
	switch dataType {
	case "integer", "smallint":
		return sqlschema.FamilyInt
	case "bigint":
		return sqlschema.FamilyBigInt
	case "double precision", "real":
		return sqlschema.FamilyFloat
	case "numeric":
		return sqlschema.FamilyDecimal
	case "text", "character varying", "character":
		return sqlschema.FamilyText
	case "boolean":
		return sqlschema.FamilyBoolean
	case "timestamp without time zone", "timestamp with time zone", "date":
		return sqlschema.FamilyDateTime
	case "bytea":
		return sqlschema.FamilyBinary
	case "json", "jsonb":
		return sqlschema.FamilyJSON
	case "USER-DEFINED":
		if _, ok := schema.Enum(udtName); ok {
			return sqlschema.FamilyEnum
		}
	}
	return sqlschema.FamilyUnsupported
}

// pgDefaultOf normalizes a reported column default back into canonical
// form: cast suffixes are stripped and string literals unquoted, so a value
// survives the render/describe round trip unchanged.
func pgDefaultOf(colDefault sql.NullString, family sqlschema.ColumnFamily) *sqlschema.Default {
	if !colDefault.Valid {
		return nil
	}
	v := strings.TrimSpace(colDefault.String)
	if idx := strings.Index(v, "::"); idx >= 0 {
		v = v[:idx]
	}
	switch strings.ToUpper(v) {
	case "CURRENT_TIMESTAMP", "NOW()":
		return &sqlschema.Default{Kind: sqlschema.DefaultNow}
	case "NULL":
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
	return &sqlschema.Default{Kind: sqlschema.DefaultDBGenerated, Value: colDefault.String}
}

// isLiteralDefault reports whether an unquoted default is a plain literal
// rather than an expression.
func isLiteralDefault(v string) bool {
	if v == "true" || v == "false" {
		return true
	}
	for _, r := range v {
		if (r < '0' || r > '9') && r != '.' && r != '-' && r != '+' {
			return false
		}
	}
	return v != ""
}

func pgAction(code string) sqlschema.ReferentialAction {
	switch code {
	case "c":
		return sqlschema.Cascade
	case "r":
		return sqlschema.Restrict
	case "n":
		return sqlschema.SetNull
	case "d":
		return sqlschema.SetDefault
	default:
		return sqlschema.NoAction
	}
}
