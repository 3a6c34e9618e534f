package sqlschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userTable() Table {
	return Table{
		Name: "users",
		Columns: []Column{
			{Name: "id", Family: FamilyInt, AutoIncrement: true},
			{Name: "email", Family: FamilyText},
			{Name: "name", Family: FamilyText, Nullable: true},
		},
		PrimaryKey: &PrimaryKey{Columns: []string{"id"}},
		Indexes: []Index{
			{Name: "users_email_key", Columns: []string{"email"}, Unique: true},
		},
	}
}

func TestSchemaEqualIgnoresSetOrder(t *testing.T) {
	a := &Schema{
		Tables: []Table{{Name: "a"}, {Name: "b"}},
		Enums:  []Enum{{Name: "color", Values: []string{"red", "blue"}}},
	}
	b := &Schema{
		Tables: []Table{{Name: "b"}, {Name: "a"}},
		Enums:  []Enum{{Name: "color", Values: []string{"red", "blue"}}},
	}
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestSchemaEqualColumnOrderSignificant(t *testing.T) {
	a := &Schema{Tables: []Table{{Name: "t", Columns: []Column{
		{Name: "x", Family: FamilyInt},
		{Name: "y", Family: FamilyInt},
	}}}}
	b := &Schema{Tables: []Table{{Name: "t", Columns: []Column{
		{Name: "y", Family: FamilyInt},
		{Name: "x", Family: FamilyInt},
	}}}}
	assert.False(t, a.Equal(b))
}

func TestSchemaEqualEnumValueOrderSignificant(t *testing.T) {
	a := &Schema{Enums: []Enum{{Name: "c", Values: []string{"x", "y"}}}}
	b := &Schema{Enums: []Enum{{Name: "c", Values: []string{"y", "x"}}}}
	assert.False(t, a.Equal(b))
}

func TestColumnEqualShape(t *testing.T) {
	base := Column{Name: "a", Family: FamilyText, Nullable: true}

	renamed := base
	renamed.Name = "b"
	assert.True(t, base.EqualShape(renamed), "name must not affect shape")

	widened := base
	widened.Family = FamilyInt
	assert.False(t, base.EqualShape(widened))

	required := base
	required.Nullable = false
	assert.False(t, base.EqualShape(required))

	defaulted := base
	defaulted.Default = &Default{Kind: DefaultValue, Value: "x"}
	assert.False(t, base.EqualShape(defaulted))
}

func TestColumnEqualShapeRawOnlyForUnsupported(t *testing.T) {
	a := Column{Name: "a", Family: FamilyText, Raw: "varchar"}
	b := Column{Name: "a", Family: FamilyText, Raw: "text"}
	assert.True(t, a.EqualShape(b), "raw type is ignored for canonical families")

	a.Family, b.Family = FamilyUnsupported, FamilyUnsupported
	assert.False(t, a.EqualShape(b), "raw type decides equality for unsupported columns")
}

func TestTableEqualShape(t *testing.T) {
	a := userTable()
	b := userTable()
	b.Name = "people"
	assert.True(t, a.EqualShape(b))

	b.Columns[1].Family = FamilyInt
	assert.False(t, a.EqualShape(b))
}

func TestMarshalRoundTrip(t *testing.T) {
	s := &Schema{
		Tables: []Table{userTable()},
		Enums:  []Enum{{Name: "role", Values: []string{"admin", "user"}}},
	}
	data, err := MarshalSchema(s)
	require.NoError(t, err)

	back, err := UnmarshalSchema([]byte(data))
	require.NoError(t, err)
	assert.True(t, s.Equal(back))
}

func TestValidate(t *testing.T) {
	t.Run("duplicate table", func(t *testing.T) {
		s := &Schema{Tables: []Table{{Name: "t"}, {Name: "t"}}}
		require.ErrorContains(t, s.Validate(), "duplicate table")
	})

	t.Run("duplicate column", func(t *testing.T) {
		s := &Schema{Tables: []Table{{Name: "t", Columns: []Column{
			{Name: "c", Family: FamilyInt},
			{Name: "c", Family: FamilyText},
		}}}}
		require.ErrorContains(t, s.Validate(), "duplicate column")
	})

	t.Run("primary key column missing", func(t *testing.T) {
		s := &Schema{Tables: []Table{{
			Name:       "t",
			Columns:    []Column{{Name: "c", Family: FamilyInt}},
			PrimaryKey: &PrimaryKey{Columns: []string{"nope"}},
		}}}
		require.ErrorContains(t, s.Validate(), "does not exist")
	})

	t.Run("auto increment must be integer", func(t *testing.T) {
		s := &Schema{Tables: []Table{{
			Name:       "t",
			Columns:    []Column{{Name: "c", Family: FamilyText, AutoIncrement: true}},
			PrimaryKey: &PrimaryKey{Columns: []string{"c"}},
		}}}
		require.ErrorContains(t, s.Validate(), "not an integer")
	})

	t.Run("auto increment must be keyed", func(t *testing.T) {
		s := &Schema{Tables: []Table{{
			Name:    "t",
			Columns: []Column{{Name: "c", Family: FamilyInt, AutoIncrement: true}},
		}}}
		require.ErrorContains(t, s.Validate(), "not part of a key")
	})

	t.Run("valid schema", func(t *testing.T) {
		s := &Schema{Tables: []Table{userTable()}}
		require.NoError(t, s.Validate())
	})
}

func TestForeignKeySignatureIgnoresName(t *testing.T) {
	a := ForeignKey{ConstraintName: "fk_1", Columns: []string{"x"}, ReferencedTable: "t", ReferencedColumns: []string{"id"}, OnDelete: Cascade}
	b := a
	b.ConstraintName = "fk_2"
	assert.Equal(t, a.Signature(), b.Signature())

	b.OnDelete = SetNull
	assert.NotEqual(t, a.Signature(), b.Signature())
}
