package sqlschema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Equal reports whether two snapshots are structurally identical. Table,
// enum, sequence and foreign key sets compare order-insensitively; column
// and index order within a table is significant. Two equal schemas always
// diff to an empty plan.
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.Hash() == other.Hash()
}

// Hash returns a hex sha256 of the canonical encoding of the schema. It is
// stable across set ordering and usable as a content identifier.
func (s *Schema) Hash() string {
	sum := sha256.Sum256(s.canonicalJSON())
	return hex.EncodeToString(sum[:])
}

// canonicalJSON encodes a normalized copy: sets sorted by stable keys so the
// encoding does not depend on describer iteration order.
func (s *Schema) canonicalJSON() []byte {
	c := s.normalized()
	out, err := json.Marshal(c)
	if err != nil {
		// Marshalling pure value types cannot fail.
		panic(err)
	}
	return out
}

func (s *Schema) normalized() Schema {
	c := Schema{
		Tables:    append([]Table(nil), s.Tables...),
		Enums:     append([]Enum(nil), s.Enums...),
		Sequences: append([]Sequence(nil), s.Sequences...),
		Unknowns:  append([]Unknown(nil), s.Unknowns...),
	}
	for i := range c.Tables {
		c.Tables[i] = c.Tables[i].normalized()
	}
	sort.Slice(c.Tables, func(i, j int) bool { return c.Tables[i].Name < c.Tables[j].Name })
	sort.Slice(c.Enums, func(i, j int) bool { return c.Enums[i].Name < c.Enums[j].Name })
	sort.Slice(c.Sequences, func(i, j int) bool { return c.Sequences[i].Name < c.Sequences[j].Name })
	sort.Slice(c.Unknowns, func(i, j int) bool {
		if c.Unknowns[i].Kind != c.Unknowns[j].Kind {
			return c.Unknowns[i].Kind < c.Unknowns[j].Kind
		}
		return c.Unknowns[i].Name < c.Unknowns[j].Name
	})
	return c
}

func (t Table) normalized() Table {
	c := t
	c.Columns = append([]Column(nil), t.Columns...)
	c.Indexes = append([]Index(nil), t.Indexes...)
	c.ForeignKeys = append([]ForeignKey(nil), t.ForeignKeys...)
	sort.Slice(c.ForeignKeys, func(i, j int) bool {
		return c.ForeignKeys[i].Signature() < c.ForeignKeys[j].Signature()
	})
	return c
}

// Signature is a name-independent identity for a foreign key: the column
// lists, target table and referential actions. Dialects with unstable
// constraint names match foreign keys by signature.
func (fk ForeignKey) Signature() string {
	var b strings.Builder
	b.WriteString(strings.Join(fk.Columns, ","))
	b.WriteString("->")
	b.WriteString(fk.ReferencedTable)
	b.WriteString("(")
	b.WriteString(strings.Join(fk.ReferencedColumns, ","))
	b.WriteString(")")
	b.WriteString(string(fk.OnDelete))
	b.WriteString("/")
	b.WriteString(string(fk.OnUpdate))
	return b.String()
}

// Signature is a name-independent identity for an index: column list plus
// uniqueness plus partial predicate.
func (ix Index) Signature() string {
	uniq := ""
	if ix.Unique {
		uniq = "!"
	}
	return strings.Join(ix.Columns, ",") + uniq + "?" + ix.Predicate
}

// EqualShape reports whether two columns have the same shape ignoring the
// name. Used by rename detection: a dropped and an added column with equal
// shapes are rename candidates.
func (c Column) EqualShape(other Column) bool {
	if c.Family != other.Family || c.EnumName != other.EnumName {
		return false
	}
	if !stringsEqual(c.EnumValues, other.EnumValues) {
		return false
	}
	if c.Nullable != other.Nullable || c.AutoIncrement != other.AutoIncrement {
		return false
	}
	if c.Family == FamilyUnsupported && c.Raw != other.Raw {
		return false
	}
	return defaultsEqual(c.Default, other.Default)
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func defaultsEqual(a, b *Default) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Kind == b.Kind && a.Value == b.Value
}

// EqualShape reports whether two tables have identical column sets, primary
// key, indexes and foreign keys, ignoring the table name.
func (t Table) EqualShape(other Table) bool {
	a, b := t, other
	a.Name, b.Name = "", ""
	a = a.normalized()
	b = b.normalized()
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}
