package describe

import (
	"context"
	"database/sql"
	"strings"

	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

// sqliteDescriber reads schema through the PRAGMA interface. SQLite stores
// neither enums nor bigints distinctly, so Enum and Json columns come back
// as Text and BigInt comes back as Int.
type sqliteDescriber struct {
	db Querier
}

func (d *sqliteDescriber) Dialect() dialect.Dialect { return dialect.SQLite }

func (d *sqliteDescriber) Describe(ctx context.Context) (*sqlschema.Schema, error) {
	schema := &sqlschema.Schema{}

	names, createSQL, err := d.tableNames(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		table, err := d.describeTable(ctx, name, createSQL[name])
		if err != nil {
			return nil, err
		}
		schema.Tables = append(schema.Tables, table)
	}

	if err := d.describeUnknowns(ctx, schema); err != nil {
		return nil, err
	}
	return finalize(schema), nil
}

func (d *sqliteDescriber) tableNames(ctx context.Context) ([]string, map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT name, sql FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, nil, describeErr("query tables", err)
	}
	defer rows.Close()

	var names []string
	createSQL := map[string]string{}
	for rows.Next() {
		var name string
		var ddl sql.NullString
		if err := rows.Scan(&name, &ddl); err != nil {
			return nil, nil, describeErr("scan table", err)
		}
		if isLedgerTable(name) {
			continue
		}
		names = append(names, name)
		createSQL[name] = ddl.String
	}
	return names, createSQL, rows.Err()
}

func (d *sqliteDescriber) describeTable(ctx context.Context, name, ddl string) (sqlschema.Table, error) {
	table := sqlschema.Table{Name: name}

	rows, err := d.db.QueryContext(ctx, `SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?)`, name)
	if err != nil {
		return table, describeErr("query columns of "+name, err)
	}
	defer rows.Close()

	type pkCol struct {
		name string
		pos  int
	}
	var pkCols []pkCol
	for rows.Next() {
		var col sqlschema.Column
		var typ string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&col.Name, &typ, &notNull, &dflt, &pk); err != nil {
			return table, describeErr("scan column of "+name, err)
		}
		col.Family = sqliteFamily(typ)
		if col.Family == sqlschema.FamilyUnsupported {
			col.Raw = typ
		}
		col.Nullable = notNull == 0 && pk == 0
		col.Default = sqliteDefault(dflt)
		if pk > 0 {
			pkCols = append(pkCols, pkCol{name: col.Name, pos: pk})
			col.Nullable = false
			if col.Family == sqlschema.FamilyInt && strings.Contains(strings.ToUpper(ddl), "AUTOINCREMENT") {
				col.AutoIncrement = true
			}
		}
		table.Columns = append(table.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return table, describeErr("read columns of "+name, err)
	}

	if len(pkCols) > 0 {
		pk := &sqlschema.PrimaryKey{}
		for pos := 1; pos <= len(pkCols); pos++ {
			for _, c := range pkCols {
				if c.pos == pos {
					pk.Columns = append(pk.Columns, c.name)
				}
			}
		}
		table.PrimaryKey = pk
	}

	if err := d.describeIndexes(ctx, &table); err != nil {
		return table, err
	}
	if err := d.describeForeignKeys(ctx, &table); err != nil {
		return table, err
	}
	return table, nil
}

func (d *sqliteDescriber) describeIndexes(ctx context.Context, table *sqlschema.Table) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT il.name, il."unique", il.partial, m.sql
		FROM pragma_index_list(?) il
		LEFT JOIN sqlite_master m ON m.name = il.name AND m.type = 'index'
		WHERE il.origin = 'c'
		ORDER BY il.name`, table.Name)
	if err != nil {
		return describeErr("query indexes of "+table.Name, err)
	}
	defer rows.Close()

	type rawIndex struct {
		idx sqlschema.Index
		ddl string
	}
	var raws []rawIndex
	for rows.Next() {
		var r rawIndex
		var unique, partial int
		var ddl sql.NullString
		if err := rows.Scan(&r.idx.Name, &unique, &partial, &ddl); err != nil {
			return describeErr("scan index of "+table.Name, err)
		}
		r.idx.Unique = unique == 1
		if partial == 1 {
			r.ddl = ddl.String
		}
		raws = append(raws, r)
	}
	if err := rows.Err(); err != nil {
		return describeErr("read indexes of "+table.Name, err)
	}

	for _, r := range raws {
		cols, err := d.indexColumns(ctx, r.idx.Name)
		if err != nil {
			return err
		}
		r.idx.Columns = cols
		r.idx.Predicate = indexPredicate(r.ddl)
		table.Indexes = append(table.Indexes, r.idx)
	}
	return nil
}

func (d *sqliteDescriber) indexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name FROM pragma_index_info(?) ORDER BY seqno`, index)
	if err != nil {
		return nil, describeErr("query columns of index "+index, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, describeErr("scan column of index "+index, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func (d *sqliteDescriber) describeForeignKeys(ctx context.Context, table *sqlschema.Table) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, "table", "from", "to", on_update, on_delete
		FROM pragma_foreign_key_list(?)
		ORDER BY id, seq`, table.Name)
	if err != nil {
		return describeErr("query foreign keys of "+table.Name, err)
	}
	defer rows.Close()

	byID := map[int]*sqlschema.ForeignKey{}
	var order []int
	for rows.Next() {
		var id int
		var refTable, from, to, onUpdate, onDelete string
		if err := rows.Scan(&id, &refTable, &from, &to, &onUpdate, &onDelete); err != nil {
			return describeErr("scan foreign key of "+table.Name, err)
		}
		fk, ok := byID[id]
		if !ok {
			fk = &sqlschema.ForeignKey{
				ReferencedTable: refTable,
				OnUpdate:        referentialAction(onUpdate),
				OnDelete:        referentialAction(onDelete),
			}
			byID[id] = fk
			order = append(order, id)
		}
		fk.Columns = append(fk.Columns, from)
		fk.ReferencedColumns = append(fk.ReferencedColumns, to)
	}
	if err := rows.Err(); err != nil {
		return describeErr("read foreign keys of "+table.Name, err)
	}

	for _, id := range order {
		table.ForeignKeys = append(table.ForeignKeys, *byID[id])
	}
	return nil
}

func (d *sqliteDescriber) describeUnknowns(ctx context.Context, schema *sqlschema.Schema) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT type, name FROM sqlite_master
		WHERE type IN ('view', 'trigger')
		ORDER BY type, name`)
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

func sqliteFamily(typ string) sqlschema.ColumnFamily {
	switch strings.ToUpper(typ) {
	case "INTEGER", "INT":
		return sqlschema.FamilyInt
	case "REAL", "DOUBLE", "FLOAT":
		return sqlschema.FamilyFloat
	case "DECIMAL", "NUMERIC":
		return sqlschema.FamilyDecimal
	case "TEXT", "VARCHAR", "CLOB":
		return sqlschema.FamilyText
	case "BOOLEAN":
		return sqlschema.FamilyBoolean
	case "DATETIME", "DATE", "TIMESTAMP":
		return sqlschema.FamilyDateTime
	case "BLOB", "":
		return sqlschema.FamilyBinary
	default:
		return sqlschema.FamilyUnsupported
	}
}

func sqliteDefault(dflt sql.NullString) *sqlschema.Default {
	if !dflt.Valid {
		return nil
	}
	v := strings.TrimSpace(dflt.String)
	switch strings.ToUpper(v) {
	case "CURRENT_TIMESTAMP":
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
	return &sqlschema.Default{Kind: sqlschema.DefaultValue, Value: v}
}

// indexPredicate extracts the WHERE clause from a CREATE INDEX statement of
// a partial index.
func indexPredicate(ddl string) string {
	if ddl == "" {
		return ""
	}
	upper := strings.ToUpper(ddl)
	pos := strings.LastIndex(upper, " WHERE ")
	if pos < 0 {
		return ""
	}
	return strings.TrimSpace(ddl[pos+len(" WHERE "):])
}

// referentialAction normalizes driver-reported action spellings onto the
// canonical constants.
func referentialAction(s string) sqlschema.ReferentialAction {
	switch strings.ToUpper(strings.ReplaceAll(s, "_", " ")) {
	case "CASCADE":
		return sqlschema.Cascade
	case "RESTRICT":
		return sqlschema.Restrict
	case "SET NULL":
		return sqlschema.SetNull
	case "SET DEFAULT":
		return sqlschema.SetDefault
	default:
		return sqlschema.NoAction
	}
}
