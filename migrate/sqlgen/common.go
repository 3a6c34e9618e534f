package sqlgen

import (
	"sort"
	"strings"

	"github.com/baajur/prisma-engines/migrate/diff"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

// fkConstraintName returns the declared constraint name, or a deterministic
// generated one when the desired schema left it blank.
func fkConstraintName(table string, fk sqlschema.ForeignKey) string {
	if fk.ConstraintName != "" {
		return fk.ConstraintName
	}
	return table + "_" + strings.Join(fk.Columns, "_") + "_fkey"
}

func onDeleteClause(fk sqlschema.ForeignKey) string {
	if fk.OnDelete == "" {
		return ""
	}
	return " ON DELETE " + string(fk.OnDelete)
}

func onUpdateClause(fk sqlschema.ForeignKey) string {
	if fk.OnUpdate == "" {
		return ""
	}
	return " ON UPDATE " + string(fk.OnUpdate)
}

func enumLiterals(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
}

func enumOnlyAdds(before, after sqlschema.Enum) bool {
	kept := make(map[string]struct{}, len(after.Values))
	for _, v := range after.Values {
		kept[v] = struct{}{}
	}
	for _, v := range before.Values {
		if _, ok := kept[v]; !ok {
			return false
		}
	}
	return true
}

func addedEnumValues(before, after sqlschema.Enum) []string {
	had := make(map[string]struct{}, len(before.Values))
	for _, v := range before.Values {
		had[v] = struct{}{}
	}
	var added []string
	for _, v := range after.Values {
		if _, ok := had[v]; !ok {
			added = append(added, v)
		}
	}
	sort.Strings(added)
	return added
}

// identifiersOf collects every identifier a CreateTable will declare, for
// length validation.
func identifiersOf(t sqlschema.Table) []string {
	idents := []string{t.Name}
	for _, c := range t.Columns {
		idents = append(idents, c.Name)
	}
	if t.PrimaryKey != nil && t.PrimaryKey.Name != "" {
		idents = append(idents, t.PrimaryKey.Name)
	}
	return idents
}

// fkDelta returns the foreign keys dropped and added between two table
// shapes, matched by structural signature, in signature order.
func fkDelta(before, after sqlschema.Table) (dropped, added []sqlschema.ForeignKey) {
	beforeSigs := make(map[string]struct{}, len(before.ForeignKeys))
	for _, fk := range before.ForeignKeys {
		beforeSigs[fk.Signature()] = struct{}{}
	}
	afterSigs := make(map[string]struct{}, len(after.ForeignKeys))
	for _, fk := range after.ForeignKeys {
		afterSigs[fk.Signature()] = struct{}{}
	}
	for _, fk := range before.ForeignKeys {
		if _, ok := afterSigs[fk.Signature()]; !ok {
			dropped = append(dropped, fk)
		}
	}
	for _, fk := range after.ForeignKeys {
		if _, ok := beforeSigs[fk.Signature()]; !ok {
			added = append(added, fk)
		}
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].Signature() < dropped[j].Signature() })
	sort.Slice(added, func(i, j int) bool { return added[i].Signature() < added[j].Signature() })
	return dropped, added
}

// renderFKDelta renders the foreign key changes between two table shapes as
// standalone constraint steps, for dialects that alter constraints in
// place. Inline-constraint dialects rebuild the table instead.
func renderFKDelta(r Renderer, g *Group, before, after sqlschema.Table) error {
	dropped, added := fkDelta(before, after)
	for _, fk := range dropped {
		sub, err := r.Render(diff.DropForeignKey{Table: after.Name, ForeignKey: fk})
		if err != nil {
			return err
		}
		g.Statements = append(g.Statements, sub.Statements...)
	}
	for _, fk := range added {
		sub, err := r.Render(diff.AddForeignKey{Table: after.Name, ForeignKey: fk})
		if err != nil {
			return err
		}
		g.Statements = append(g.Statements, sub.Statements...)
	}
	return nil
}

// sharedColumns returns the names present in both table shapes, in the
// after shape's order. Used by shadow-table copies.
func sharedColumns(before, after sqlschema.Table) []string {
	had := make(map[string]struct{}, len(before.Columns))
	for _, c := range before.Columns {
		had[c.Name] = struct{}{}
	}
	var cols []string
	for _, c := range after.Columns {
		if _, ok := had[c.Name]; ok {
			cols = append(cols, c.Name)
		}
	}
	return cols
}
