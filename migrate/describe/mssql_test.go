package describe

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

func TestNormalizeFilter(t *testing.T) {
	// sys.indexes wraps filtered index predicates in parentheses; a
	// round-trip through the catalog must read back the emitted predicate.
	assert.Equal(t, "deleted = 0", normalizeFilter("(deleted = 0)"))
	assert.Equal(t, "[deleted]=(0)", normalizeFilter("([deleted]=(0))"))
	assert.Equal(t, "[a]=(1) AND [b]=(2)", normalizeFilter("([a]=(1) AND [b]=(2))"))
	// Top-level conjunctions are not stripped past their own parentheses.
	assert.Equal(t, "([a]=(1)) AND ([b]=(2))", normalizeFilter("([a]=(1)) AND ([b]=(2))"))
	assert.Equal(t, "", normalizeFilter(""))
	assert.Equal(t, "deleted = 0", normalizeFilter("  deleted = 0  "))
}

func TestMSSQLFamilyMapping(t *testing.T) {
	assert.Equal(t, sqlschema.FamilyInt, mssqlFamily("int"))
	assert.Equal(t, sqlschema.FamilyInt, mssqlFamily("SMALLINT"))
	assert.Equal(t, sqlschema.FamilyBigInt, mssqlFamily("bigint"))
	assert.Equal(t, sqlschema.FamilyFloat, mssqlFamily("real"))
	assert.Equal(t, sqlschema.FamilyDecimal, mssqlFamily("numeric"))
	assert.Equal(t, sqlschema.FamilyText, mssqlFamily("nvarchar"))
	assert.Equal(t, sqlschema.FamilyBoolean, mssqlFamily("bit"))
	assert.Equal(t, sqlschema.FamilyDateTime, mssqlFamily("datetime2"))
	assert.Equal(t, sqlschema.FamilyBinary, mssqlFamily("varbinary"))
	assert.Equal(t, sqlschema.FamilyUnsupported, mssqlFamily("geography"))
}

func TestMSSQLDefaultOf(t *testing.T) {
	value := func(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

	assert.Nil(t, mssqlDefaultOf(sql.NullString{}))
	assert.Nil(t, mssqlDefaultOf(value("(NULL)")))

	def := mssqlDefaultOf(value("((1))"))
	require.NotNil(t, def)
	assert.Equal(t, sqlschema.DefaultValue, def.Kind)
	assert.Equal(t, "1", def.Value)

	def = mssqlDefaultOf(value("('it''s live')"))
	require.NotNil(t, def)
	assert.Equal(t, sqlschema.DefaultValue, def.Kind)
	assert.Equal(t, "it's live", def.Value)

	def = mssqlDefaultOf(value("(getdate())"))
	require.NotNil(t, def)
	assert.Equal(t, sqlschema.DefaultNow, def.Kind)

	def = mssqlDefaultOf(value("(sysdatetime())"))
	require.NotNil(t, def)
	assert.Equal(t, sqlschema.DefaultNow, def.Kind)

	def = mssqlDefaultOf(value("(newid())"))
	require.NotNil(t, def)
	assert.Equal(t, sqlschema.DefaultDBGenerated, def.Kind)
}
