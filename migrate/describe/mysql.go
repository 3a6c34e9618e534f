package describe

import (
	"context"
	"database/sql"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

// mysqlDescriber reads the current database out of information_schema.
//
// MySQL stores enums inline in the column definition, so the describer
// lifts them to schema level under the name {table}_{column}. Schemas that
// target mysql must follow the same naming convention for their enums,
// otherwise every run re-detects a type change.
type mysqlDescriber struct {
	db Querier
}

func (d *mysqlDescriber) Dialect() dialect.Dialect { return dialect.MySQL }

func (d *mysqlDescriber) Describe(ctx context.Context) (*sqlschema.Schema, error) {
	schema := &sqlschema.Schema{}

	serverVersion, err := d.serverVersion(ctx)
	if err != nil {
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

	if err := d.describeUnknowns(ctx, schema, serverVersion); err != nil {
		return nil, err
	}
	return finalize(schema), nil
}

// serverVersion parses SELECT VERSION(), tolerating vendor suffixes such as
// "-MariaDB" or "-log".
func (d *mysqlDescriber) serverVersion(ctx context.Context) (*goversion.Version, error) {
	var raw string
	if err := d.db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&raw); err != nil {
		return nil, describeErr("query server version", err)
	}
	if idx := strings.IndexByte(raw, '-'); idx >= 0 {
		raw = raw[:idx]
	}
	v, err := goversion.NewVersion(raw)
	if err != nil {
		return nil, &UnsupportedCatalogStateError{
			Dialect: dialect.MySQL,
			Object:  "server version",
			Detail:  "cannot parse " + raw,
		}
	}
	return v, nil
}

func (d *mysqlDescriber) tableNames(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
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

func (d *mysqlDescriber) describeTable(ctx context.Context, name string, schema *sqlschema.Schema) (sqlschema.Table, error) {
	table := sqlschema.Table{Name: name}

	if err := d.describeColumns(ctx, &table, schema); err != nil {
		return table, err
	}
	if err := d.describePrimaryKey(ctx, &table); err != nil {
		return table, err
	}
	if err := d.describeForeignKeys(ctx, &table); err != nil {
		return table, err
	}
	// Indexes last: mysql auto-creates backing indexes for foreign keys and
	// those need to be filtered out against the constraint names.
	if err := d.describeIndexes(ctx, &table); err != nil {
		return table, err
	}
	return table, nil
}

func (d *mysqlDescriber) describeColumns(ctx context.Context, table *sqlschema.Table, schema *sqlschema.Schema) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT column_name, data_type, column_type, is_nullable, column_default, extra
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`, table.Name)
	if err != nil {
		return describeErr("query columns of "+table.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var col sqlschema.Column
		var dataType, columnType, isNullable, extra string
		var colDefault sql.NullString
		if err := rows.Scan(&col.Name, &dataType, &columnType, &isNullable, &colDefault, &extra); err != nil {
			return describeErr("scan column of "+table.Name, err)
		}

		col.Family = mysqlFamily(dataType, columnType)
		switch col.Family {
		case sqlschema.FamilyEnum:
			col.EnumName = table.Name + "_" + col.Name
			col.EnumValues = parseEnumValues(columnType)
			if _, ok := schema.Enum(col.EnumName); !ok {
				schema.Enums = append(schema.Enums, sqlschema.Enum{
					Name:   col.EnumName,
					Values: append([]string(nil), col.EnumValues...),
				})
			}
		case sqlschema.FamilyUnsupported:
			col.Raw = columnType
		}
		col.Nullable = isNullable == "YES"
		col.AutoIncrement = strings.Contains(extra, "auto_increment")
		if !col.AutoIncrement {
			col.Default = mysqlDefaultOf(colDefault, extra)
		}
		table.Columns = append(table.Columns, col)
	}
	return rows.Err()
}

func (d *mysqlDescriber) describePrimaryKey(ctx context.Context, table *sqlschema.Table) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT column_name
		FROM information_schema.statistics
		WHERE table_schema = DATABASE() AND table_name = ? AND index_name = 'PRIMARY'
		ORDER BY seq_in_index`, table.Name)
	if err != nil {
		return describeErr("query primary key of "+table.Name, err)
	}
	defer rows.Close()

	pk := &sqlschema.PrimaryKey{}
	for rows.Next() {
		var column string
		if err := rows.Scan(&column); err != nil {
			return describeErr("scan primary key of "+table.Name, err)
		}
		pk.Columns = append(pk.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(pk.Columns) > 0 {
		table.PrimaryKey = pk
	}
	return nil
}

func (d *mysqlDescriber) describeIndexes(ctx context.Context, table *sqlschema.Table) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT index_name, non_unique, column_name
		FROM information_schema.statistics
		WHERE table_schema = DATABASE() AND table_name = ? AND index_name != 'PRIMARY'
		ORDER BY index_name, seq_in_index`, table.Name)
	if err != nil {
		return describeErr("query indexes of "+table.Name, err)
	}
	defer rows.Close()

	fkNames := map[string]bool{}
	for _, fk := range table.ForeignKeys {
		fkNames[fk.ConstraintName] = true
	}

	byName := map[string]*sqlschema.Index{}
	var order []string
	for rows.Next() {
		var name, column string
		var nonUnique int
		if err := rows.Scan(&name, &nonUnique, &column); err != nil {
			return describeErr("scan index of "+table.Name, err)
		}
		if fkNames[name] {
			// backing index created implicitly for the foreign key
			continue
		}
		idx, ok := byName[name]
		if !ok {
			idx = &sqlschema.Index{Name: name, Unique: nonUnique == 0}
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

func (d *mysqlDescriber) describeForeignKeys(ctx context.Context, table *sqlschema.Table) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT kcu.constraint_name, kcu.column_name,
		       kcu.referenced_table_name, kcu.referenced_column_name,
		       rc.update_rule, rc.delete_rule
		FROM information_schema.key_column_usage kcu
		JOIN information_schema.referential_constraints rc
		  ON rc.constraint_schema = kcu.constraint_schema
		 AND rc.constraint_name = kcu.constraint_name
		 AND rc.table_name = kcu.table_name
		WHERE kcu.table_schema = DATABASE()
		  AND kcu.table_name = ?
		  AND kcu.referenced_table_name IS NOT NULL
		ORDER BY kcu.constraint_name, kcu.ordinal_position`, table.Name)
	if err != nil {
		return describeErr("query foreign keys of "+table.Name, err)
	}
	defer rows.Close()

	byName := map[string]*sqlschema.ForeignKey{}
	var order []string
	for rows.Next() {
		var name, column, refTable, refColumn, updateRule, deleteRule string
		if err := rows.Scan(&name, &column, &refTable, &refColumn, &updateRule, &deleteRule); err != nil {
			return describeErr("scan foreign key of "+table.Name, err)
		}
		fk, ok := byName[name]
		if !ok {
			fk = &sqlschema.ForeignKey{
				ConstraintName:  name,
				ReferencedTable: refTable,
				OnUpdate:        referentialAction(updateRule),
				OnDelete:        referentialAction(deleteRule),
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

// checkConstraintsSince is the first server version with a queryable
// information_schema.check_constraints.
var checkConstraintsSince = goversion.Must(goversion.NewVersion("8.0.16"))

func (d *mysqlDescriber) describeUnknowns(ctx context.Context, schema *sqlschema.Schema, serverVersion *goversion.Version) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT 'view', table_name FROM information_schema.views
		WHERE table_schema = DATABASE()
		UNION
		SELECT 'trigger', trigger_name FROM information_schema.triggers
		WHERE trigger_schema = DATABASE()
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
	if err := rows.Err(); err != nil {
		return err
	}

	if serverVersion.LessThan(checkConstraintsSince) {
		return nil
	}
	checkRows, err := d.db.QueryContext(ctx, `
		SELECT constraint_name FROM information_schema.check_constraints
		WHERE constraint_schema = DATABASE()
		ORDER BY constraint_name`)
	if err != nil {
		return describeErr("query check constraints", err)
	}
	defer checkRows.Close()

	for checkRows.Next() {
		var name string
		if err := checkRows.Scan(&name); err != nil {
			return describeErr("scan check constraint", err)
		}
		schema.Unknowns = append(schema.Unknowns, sqlschema.Unknown{Kind: "check", Name: name})
	}
	return checkRows.Err()
}

func mysqlFamily(dataType, columnType string) sqlschema.ColumnFamily {
	switch dataType {
	case "int", "smallint", "mediumint":
		return sqlschema.FamilyInt
	case "tinyint":
		if columnType == "tinyint(1)" {
			return sqlschema.FamilyBoolean
		}
		return sqlschema.FamilyInt
	case "bigint":
		return sqlschema.FamilyBigInt
	case "double", "float":
		return sqlschema.FamilyFloat
	case "decimal":
		return sqlschema.FamilyDecimal
	case "varchar", "char", "text", "mediumtext", "longtext", "tinytext":
		return sqlschema.FamilyText
	case "datetime", "timestamp", "date":
		return sqlschema.FamilyDateTime
	case "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary":
		return sqlschema.FamilyBinary
	case "json":
		return sqlschema.FamilyJSON
	case "enum":
		return sqlschema.FamilyEnum
	default:
		return sqlschema.FamilyUnsupported
	}
}

// parseEnumValues pulls the value list out of a column_type such as
// enum('a','b','c').
func parseEnumValues(columnType string) []string {
	open := strings.IndexByte(columnType, '(')
	end := strings.LastIndexByte(columnType, ')')
	if open < 0 || end < open {
		return nil
	}
	var values []string
	for _, part := range strings.Split(columnType[open+1:end], ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(part, "'")
		part = strings.TrimSuffix(part, "'")
		values = append(values, strings.ReplaceAll(part, "''", "'"))
	}
	return values
}

func mysqlDefaultOf(colDefault sql.NullString, extra string) *sqlschema.Default {
	if !colDefault.Valid {
		return nil
	}
	v := colDefault.String
	lower := strings.ToLower(v)
	if strings.HasPrefix(lower, "current_timestamp") {
		return &sqlschema.Default{Kind: sqlschema.DefaultNow}
	}
	if lower == "null" {
		return nil
	}
	if strings.Contains(extra, "DEFAULT_GENERATED") {
		return &sqlschema.Default{Kind: sqlschema.DefaultDBGenerated, Value: v}
	}
	// information_schema reports string defaults unquoted already.
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		v = strings.ReplaceAll(v[1:len(v)-1], "''", "'")
	}
	return &sqlschema.Default{Kind: sqlschema.DefaultValue, Value: v}
}
