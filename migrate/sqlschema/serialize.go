package sqlschema

import (
	"encoding/json"
	"fmt"
)

// MarshalSchema encodes a snapshot as JSON. Used for the CLI schema input
// boundary and for history snapshots.
func MarshalSchema(s *Schema) (string, error) {
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}
	return string(out), nil
}

// UnmarshalSchema decodes a snapshot produced by MarshalSchema and validates
// its internal invariants.
func UnmarshalSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the model invariants: unique table names, unique column
// names per table, primary key columns present, auto-increment only on
// integer key columns.
func (s *Schema) Validate() error {
	tables := make(map[string]struct{}, len(s.Tables))
	for _, t := range s.Tables {
		if _, dup := tables[t.Name]; dup {
			return fmt.Errorf("schema invariant violated: duplicate table %q", t.Name)
		}
		tables[t.Name] = struct{}{}

		cols := make(map[string]struct{}, len(t.Columns))
		for _, c := range t.Columns {
			if _, dup := cols[c.Name]; dup {
				return fmt.Errorf("schema invariant violated: duplicate column %q.%q", t.Name, c.Name)
			}
			cols[c.Name] = struct{}{}
			if c.AutoIncrement {
				if c.Family != FamilyInt && c.Family != FamilyBigInt {
					return fmt.Errorf("schema invariant violated: auto-increment column %q.%q is not an integer", t.Name, c.Name)
				}
				if !t.IsPrimaryKeyColumn(c.Name) && !t.inUniqueIndex(c.Name) {
					return fmt.Errorf("schema invariant violated: auto-increment column %q.%q is not part of a key", t.Name, c.Name)
				}
			}
		}
		if t.PrimaryKey != nil {
			for _, pkCol := range t.PrimaryKey.Columns {
				if _, ok := cols[pkCol]; !ok {
					return fmt.Errorf("schema invariant violated: primary key column %q.%q does not exist", t.Name, pkCol)
				}
			}
		}
	}
	return nil
}

func (t *Table) inUniqueIndex(column string) bool {
	for _, ix := range t.Indexes {
		if !ix.Unique {
			continue
		}
		for _, c := range ix.Columns {
			if c == column {
				return true
			}
		}
	}
	return false
}
