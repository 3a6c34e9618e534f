package diff

import (
	"sort"

	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

// Options tunes the differ for the capabilities of the target dialect. The
// differ itself stays dialect-agnostic: callers derive Options from the
// renderer's capability set.
type Options struct {
	// SupportsRenameTable and SupportsRenameColumn enable pure-rename
	// detection. Without them a rename degrades to drop+add and the plan is
	// flagged destructive.
	SupportsRenameTable  bool
	SupportsRenameColumn bool
	// StableIndexNames selects matching indexes by name. When false (the
	// dialect does not guarantee stable index names) indexes are matched by
	// structure signature instead.
	StableIndexNames bool
	// InlineForeignKeys marks dialects that declare foreign keys only in the
	// table definition (sqlite). New tables carry their constraints inside
	// CreateTable, dropped tables take them along, and a constraint change on
	// a kept table escalates to a RecreateTable rebuild instead of standalone
	// Add/DropForeignKey steps.
	InlineForeignKeys bool
}

// Diff compares two snapshots and returns the ordered migration plan that
// converges current onto desired. The result is deterministic: identical
// inputs produce identical step sequences.
func Diff(current, desired *sqlschema.Schema, opts Options) *Plan {
	d := &differ{current: current, desired: desired, opts: opts}
	steps := d.run()
	return &Plan{Steps: orderSteps(steps, current, desired)}
}

type differ struct {
	current, desired *sqlschema.Schema
	opts             Options
}

func (d *differ) run() []Step {
	var steps []Step
	steps = append(steps, d.diffEnums()...)

	createdNames, droppedNames, kept := tableSets(d.current, d.desired)
	renames := d.detectTableRenames(&createdNames, &droppedNames)
	for _, r := range renames {
		steps = append(steps, r)
		// A renamed table is diffed like a kept table under its new name.
		kept = append(kept, keptTable{currentName: r.From, desiredName: r.To})
	}

	for _, name := range createdNames {
		t, _ := d.desired.Table(name)
		steps = append(steps, d.createTableSteps(*t)...)
	}
	for _, name := range droppedNames {
		t, _ := d.current.Table(name)
		steps = append(steps, d.dropTableSteps(*t)...)
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].desiredName < kept[j].desiredName })
	for _, k := range kept {
		prev, _ := d.current.Table(k.currentName)
		next, _ := d.desired.Table(k.desiredName)
		steps = append(steps, d.diffTable(prev, next)...)
	}
	return steps
}

type keptTable struct {
	currentName, desiredName string
}

func tableSets(current, desired *sqlschema.Schema) (created, dropped []string, kept []keptTable) {
	currentNames := make(map[string]struct{}, len(current.Tables))
	for _, t := range current.Tables {
		currentNames[t.Name] = struct{}{}
	}
	for _, t := range desired.Tables {
		if _, ok := currentNames[t.Name]; ok {
			kept = append(kept, keptTable{currentName: t.Name, desiredName: t.Name})
		} else {
			created = append(created, t.Name)
		}
	}
	desiredNames := make(map[string]struct{}, len(desired.Tables))
	for _, t := range desired.Tables {
		desiredNames[t.Name] = struct{}{}
	}
	for _, t := range current.Tables {
		if _, ok := desiredNames[t.Name]; !ok {
			dropped = append(dropped, t.Name)
		}
	}
	sort.Strings(created)
	sort.Strings(dropped)
	return created, dropped, kept
}

// detectTableRenames pairs a dropped table with a created one of identical
// shape. Detection is deliberately conservative: it requires exactly one
// candidate on each side for a given shape, and rename support on the
// dialect. Anything ambiguous degrades to drop+add.
func (d *differ) detectTableRenames(created, dropped *[]string) []RenameTable {
	if !d.opts.SupportsRenameTable {
		return nil
	}
	var renames []RenameTable
	usedCreated := make(map[string]bool)
	usedDropped := make(map[string]bool)
	for _, droppedName := range *dropped {
		prev, _ := d.current.Table(droppedName)
		var matches []string
		for _, createdName := range *created {
			if usedCreated[createdName] {
				continue
			}
			next, _ := d.desired.Table(createdName)
			if prev.EqualShape(*next) {
				matches = append(matches, createdName)
			}
		}
		if len(matches) != 1 {
			continue
		}
		// The dropped side must be unambiguous too: a second dropped table
		// with the same shape could equally be the rename source.
		ambiguous := false
		for _, otherDropped := range *dropped {
			if otherDropped == droppedName || usedDropped[otherDropped] {
				continue
			}
			other, _ := d.current.Table(otherDropped)
			if other.EqualShape(*prev) {
				ambiguous = true
				break
			}
		}
		if ambiguous {
			continue
		}
		usedCreated[matches[0]] = true
		usedDropped[droppedName] = true
		renames = append(renames, RenameTable{From: droppedName, To: matches[0]})
	}
	*created = without(*created, usedCreated)
	*dropped = without(*dropped, usedDropped)
	sort.Slice(renames, func(i, j int) bool { return renames[i].From < renames[j].From })
	return renames
}

func without(names []string, used map[string]bool) []string {
	out := names[:0]
	for _, n := range names {
		if !used[n] {
			out = append(out, n)
		}
	}
	return out
}

// createTableSteps expands a new table into a CreateTable plus separate
// index and foreign key steps, so relationship steps can be deferred past
// the creation of every endpoint. The CreateTable step still carries the
// table's foreign keys: inline-constraint dialects render them in the table
// definition and get no standalone AddForeignKey steps at all.
func (d *differ) createTableSteps(t sqlschema.Table) []Step {
	stripped := t
	stripped.Indexes = nil
	steps := []Step{CreateTable{Table: stripped}}
	for _, ix := range sortedIndexes(t.Indexes) {
		steps = append(steps, CreateIndex{Table: t.Name, Index: ix})
	}
	if !d.opts.InlineForeignKeys {
		for _, fk := range sortedForeignKeys(t.ForeignKeys) {
			steps = append(steps, AddForeignKey{Table: t.Name, ForeignKey: fk})
		}
	}
	return steps
}

// dropTableSteps drops a table's outgoing foreign keys eagerly before the
// table itself, so mutually referencing tables can be torn down. Inline
// constraints fall with the table and need no steps of their own.
func (d *differ) dropTableSteps(t sqlschema.Table) []Step {
	var steps []Step
	if !d.opts.InlineForeignKeys {
		for _, fk := range sortedForeignKeys(t.ForeignKeys) {
			steps = append(steps, DropForeignKey{Table: t.Name, ForeignKey: fk})
		}
	}
	steps = append(steps, DropTable{Table: t.Name})
	return steps
}

func (d *differ) diffTable(prev, next *sqlschema.Table) []Step {
	var steps []Step
	colSteps := d.diffColumns(prev, next)
	steps = append(steps, colSteps...)
	steps = append(steps, d.diffIndexes(prev, next)...)
	if d.opts.InlineForeignKeys {
		// A constraint change on an existing table forces a rebuild. An
		// AlterColumn in the same diff already rebuilds with the desired
		// shape, constraints included, so only a pure constraint change
		// needs its own step.
		if foreignKeysDiffer(prev, next) && !hasAlterColumn(colSteps) {
			steps = append(steps, RecreateTable{Before: *prev, After: *next})
		}
		return steps
	}
	steps = append(steps, d.diffForeignKeys(prev, next)...)
	return steps
}

func foreignKeysDiffer(prev, next *sqlschema.Table) bool {
	if len(prev.ForeignKeys) != len(next.ForeignKeys) {
		return true
	}
	sigs := make(map[string]struct{}, len(prev.ForeignKeys))
	for _, fk := range prev.ForeignKeys {
		sigs[fk.Signature()] = struct{}{}
	}
	for _, fk := range next.ForeignKeys {
		if _, ok := sigs[fk.Signature()]; !ok {
			return true
		}
	}
	return false
}

func hasAlterColumn(steps []Step) bool {
	for _, s := range steps {
		if _, ok := s.(AlterColumn); ok {
			return true
		}
	}
	return false
}

func (d *differ) diffColumns(prev, next *sqlschema.Table) []Step {
	prevCols := make(map[string]sqlschema.Column, len(prev.Columns))
	for _, c := range prev.Columns {
		prevCols[c.Name] = c
	}
	nextCols := make(map[string]sqlschema.Column, len(next.Columns))
	for _, c := range next.Columns {
		nextCols[c.Name] = c
	}

	var added, dropped []string
	for _, c := range next.Columns {
		if _, ok := prevCols[c.Name]; !ok {
			added = append(added, c.Name)
		}
	}
	for _, c := range prev.Columns {
		if _, ok := nextCols[c.Name]; !ok {
			dropped = append(dropped, c.Name)
		}
	}
	sort.Strings(added)
	sort.Strings(dropped)

	var steps []Step
	for _, r := range d.detectColumnRenames(next.Name, prevCols, nextCols, &added, &dropped) {
		steps = append(steps, r)
	}
	for _, name := range added {
		steps = append(steps, AddColumn{Table: next.Name, Column: nextCols[name]})
	}
	for _, name := range dropped {
		steps = append(steps, DropColumn{Table: next.Name, Column: prevCols[name]})
	}

	var common []string
	for name := range nextCols {
		if _, ok := prevCols[name]; ok {
			common = append(common, name)
		}
	}
	sort.Strings(common)
	for _, name := range common {
		before, after := prevCols[name], nextCols[name]
		if columnsDiffer(before, after) {
			steps = append(steps, AlterColumn{
				Table:       next.Name,
				Before:      before,
				After:       after,
				TableBefore: *prev,
				TableAfter:  *next,
			})
		}
	}
	return steps
}

// columnsDiffer compares everything but the raw native type name: the
// describers normalize native types into families, and the raw string only
// decides equality for unsupported families.
func columnsDiffer(before, after sqlschema.Column) bool {
	return !before.EqualShape(after)
}

func (d *differ) detectColumnRenames(table string, prevCols, nextCols map[string]sqlschema.Column, added, dropped *[]string) []RenameColumn {
	if !d.opts.SupportsRenameColumn {
		return nil
	}
	var renames []RenameColumn
	usedAdded := make(map[string]bool)
	usedDropped := make(map[string]bool)
	for _, droppedName := range *dropped {
		prev := prevCols[droppedName]
		var matches []string
		for _, addedName := range *added {
			if usedAdded[addedName] {
				continue
			}
			if prev.EqualShape(nextCols[addedName]) {
				matches = append(matches, addedName)
			}
		}
		if len(matches) != 1 {
			continue
		}
		ambiguous := false
		for _, otherDropped := range *dropped {
			if otherDropped == droppedName || usedDropped[otherDropped] {
				continue
			}
			if prevCols[otherDropped].EqualShape(prev) {
				ambiguous = true
				break
			}
		}
		if ambiguous {
			continue
		}
		usedAdded[matches[0]] = true
		usedDropped[droppedName] = true
		renames = append(renames, RenameColumn{Table: table, From: droppedName, To: matches[0]})
	}
	*added = without(*added, usedAdded)
	*dropped = without(*dropped, usedDropped)
	sort.Slice(renames, func(i, j int) bool { return renames[i].From < renames[j].From })
	return renames
}

func (d *differ) diffIndexes(prev, next *sqlschema.Table) []Step {
	key := func(ix sqlschema.Index) string {
		if d.opts.StableIndexNames {
			return ix.Name
		}
		return ix.Signature()
	}
	prevIx := make(map[string]sqlschema.Index, len(prev.Indexes))
	for _, ix := range prev.Indexes {
		prevIx[key(ix)] = ix
	}
	nextIx := make(map[string]sqlschema.Index, len(next.Indexes))
	for _, ix := range next.Indexes {
		nextIx[key(ix)] = ix
	}

	var steps []Step
	for _, ix := range sortedIndexes(prev.Indexes) {
		if _, ok := nextIx[key(ix)]; !ok {
			steps = append(steps, DropIndex{Table: next.Name, Index: ix})
		}
	}
	for _, ix := range sortedIndexes(next.Indexes) {
		old, ok := prevIx[key(ix)]
		if !ok {
			steps = append(steps, CreateIndex{Table: next.Name, Index: ix})
			continue
		}
		// Matched by name but the structure changed: rebuild the index.
		if d.opts.StableIndexNames && old.Signature() != ix.Signature() {
			steps = append(steps, DropIndex{Table: next.Name, Index: old}, CreateIndex{Table: next.Name, Index: ix})
		}
	}
	return steps
}

func (d *differ) diffForeignKeys(prev, next *sqlschema.Table) []Step {
	prevFK := make(map[string]sqlschema.ForeignKey, len(prev.ForeignKeys))
	for _, fk := range prev.ForeignKeys {
		prevFK[fk.Signature()] = fk
	}
	nextFK := make(map[string]sqlschema.ForeignKey, len(next.ForeignKeys))
	for _, fk := range next.ForeignKeys {
		nextFK[fk.Signature()] = fk
	}

	var steps []Step
	for _, fk := range sortedForeignKeys(prev.ForeignKeys) {
		if _, ok := nextFK[fk.Signature()]; !ok {
			steps = append(steps, DropForeignKey{Table: next.Name, ForeignKey: fk})
		}
	}
	for _, fk := range sortedForeignKeys(next.ForeignKeys) {
		if _, ok := prevFK[fk.Signature()]; !ok {
			steps = append(steps, AddForeignKey{Table: next.Name, ForeignKey: fk})
		}
	}
	return steps
}

func (d *differ) diffEnums() []Step {
	prevEnums := make(map[string]sqlschema.Enum, len(d.current.Enums))
	for _, e := range d.current.Enums {
		prevEnums[e.Name] = e
	}
	nextEnums := make(map[string]sqlschema.Enum, len(d.desired.Enums))
	for _, e := range d.desired.Enums {
		nextEnums[e.Name] = e
	}

	var names []string
	seen := make(map[string]bool)
	for name := range prevEnums {
		names = append(names, name)
		seen[name] = true
	}
	for name := range nextEnums {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var steps []Step
	for _, name := range names {
		prev, inPrev := prevEnums[name]
		next, inNext := nextEnums[name]
		switch {
		case !inPrev:
			steps = append(steps, CreateEnum{Enum: next})
		case !inNext:
			steps = append(steps, DropEnum{Name: name})
		case !valuesEqual(prev.Values, next.Values):
			steps = append(steps, AlterEnum{Before: prev, After: next, UsingColumns: d.enumUsers(name)})
		}
	}
	return steps
}

// enumUsers lists the desired columns typed with the named enum, in stable
// order.
func (d *differ) enumUsers(enumName string) []ColumnRef {
	var refs []ColumnRef
	for _, t := range d.desired.Tables {
		for _, c := range t.Columns {
			if c.Family == sqlschema.FamilyEnum && c.EnumName == enumName {
				refs = append(refs, ColumnRef{Table: t.Name, Column: c.Name, Definition: c})
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Table != refs[j].Table {
			return refs[i].Table < refs[j].Table
		}
		return refs[i].Column < refs[j].Column
	})
	return refs
}

func valuesEqual(a, b []string) bool {
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

func sortedIndexes(in []sqlschema.Index) []sqlschema.Index {
	out := append([]sqlschema.Index(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedForeignKeys(in []sqlschema.ForeignKey) []sqlschema.ForeignKey {
	out := append([]sqlschema.ForeignKey(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].Signature() < out[j].Signature() })
	return out
}
