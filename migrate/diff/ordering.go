package diff

import (
	"sort"

	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

// orderSteps arranges steps so that every dependency is satisfied:
//
//   - foreign keys on doomed relationships are dropped before the tables or
//     columns at either endpoint,
//   - tables are created before anything that attaches to them, ordered
//     along the foreign key graph,
//   - foreign key additions run in a final pass after every endpoint
//     exists, which is also what breaks reference cycles between tables.
//
// Within each phase steps are sorted by stable keys, so the output never
// depends on map iteration order.
func orderSteps(steps []Step, current, desired *sqlschema.Schema) []Step {
	buckets := make(map[int][]Step)
	add := func(phase int, s Step) { buckets[phase] = append(buckets[phase], s) }

	const (
		phaseCreateEnum = iota
		phaseAlterEnum
		phaseDropFK
		phaseDropIndex
		phaseRename
		phaseCreateTable
		phaseAlterTable
		phaseDropTable
		phaseCreateIndex
		phaseAddFK
		phaseDropEnum
		phaseCount
	)

	for _, s := range steps {
		switch s.(type) {
		case CreateEnum:
			add(phaseCreateEnum, s)
		case AlterEnum:
			add(phaseAlterEnum, s)
		case DropForeignKey:
			add(phaseDropFK, s)
		case DropIndex:
			add(phaseDropIndex, s)
		case RenameTable, RenameColumn:
			add(phaseRename, s)
		case CreateTable:
			add(phaseCreateTable, s)
		case AddColumn, DropColumn, AlterColumn, RecreateTable:
			add(phaseAlterTable, s)
		case DropTable:
			add(phaseDropTable, s)
		case CreateIndex:
			add(phaseCreateIndex, s)
		case AddForeignKey:
			add(phaseAddFK, s)
		case DropEnum:
			add(phaseDropEnum, s)
		}
	}

	sortBucket(buckets[phaseCreateEnum], nil)
	sortBucket(buckets[phaseAlterEnum], nil)
	sortBucket(buckets[phaseDropFK], nil)
	sortBucket(buckets[phaseDropIndex], nil)
	sortBucket(buckets[phaseRename], nil)
	orderCreateTables(buckets[phaseCreateTable], desired)
	sortBucket(buckets[phaseAlterTable], nil)
	orderDropTables(buckets[phaseDropTable], current)
	sortBucket(buckets[phaseCreateIndex], nil)
	sortBucket(buckets[phaseAddFK], nil)
	sortBucket(buckets[phaseDropEnum], nil)

	out := make([]Step, 0, len(steps))
	for phase := 0; phase < phaseCount; phase++ {
		out = append(out, buckets[phase]...)
	}
	return out
}

// sortKey gives every step a stable identity inside its phase.
func sortKey(s Step) string {
	switch s := s.(type) {
	case CreateEnum:
		return s.Enum.Name
	case AlterEnum:
		return s.After.Name
	case DropEnum:
		return s.Name
	case CreateTable:
		return s.Table.Name
	case DropTable:
		return s.Table
	case RenameTable:
		return "table:" + s.From
	case RenameColumn:
		return s.Table + "." + s.From
	case AddColumn:
		return s.Table + ".1add." + s.Column.Name
	case DropColumn:
		return s.Table + ".2drop." + s.Column.Name
	case AlterColumn:
		return s.Table + ".3alter." + s.After.Name
	case RecreateTable:
		// After every column change on the table: the rebuild copies the
		// desired shape.
		return s.After.Name + ".4recreate"
	case CreateIndex:
		return s.Table + "." + s.Index.Name + s.Index.Signature()
	case DropIndex:
		return s.Table + "." + s.Index.Name + s.Index.Signature()
	case AddForeignKey:
		return s.Table + "." + s.ForeignKey.Signature()
	case DropForeignKey:
		return s.Table + "." + s.ForeignKey.Signature()
	}
	return ""
}

func sortBucket(steps []Step, _ []string) {
	sort.SliceStable(steps, func(i, j int) bool { return sortKey(steps[i]) < sortKey(steps[j]) })
}

// orderCreateTables sorts CreateTable steps so that referenced tables come
// before referencing ones. Kahn's algorithm with a sorted ready queue keeps
// the result deterministic; any cycle remainder is appended in name order,
// which is safe because the foreign keys themselves land in the final pass.
func orderCreateTables(steps []Step, desired *sqlschema.Schema) {
	edges := func(table string) []string {
		t, ok := desired.Table(table)
		if !ok {
			return nil
		}
		var refs []string
		for _, fk := range t.ForeignKeys {
			if fk.ReferencedTable != table {
				refs = append(refs, fk.ReferencedTable)
			}
		}
		return refs
	}
	ordered := topoOrder(stepTables(steps), edges)
	applyTableOrder(steps, ordered)
}

// orderDropTables sorts DropTable steps so that referencing tables are
// dropped before the tables they point at.
func orderDropTables(steps []Step, current *sqlschema.Schema) {
	// Reverse direction: a table referenced by others must outlive them.
	referencing := make(map[string][]string)
	for _, t := range current.Tables {
		for _, fk := range t.ForeignKeys {
			if fk.ReferencedTable != t.Name {
				referencing[t.Name] = append(referencing[t.Name], fk.ReferencedTable)
			}
		}
	}
	inSet := stepTables(steps)
	edges := func(table string) []string {
		// table depends on nothing; tables referencing it must come first,
		// so invert: X referencing Y gives edge Y -> depends on X.
		var deps []string
		for _, name := range inSet {
			for _, ref := range referencing[name] {
				if ref == table {
					deps = append(deps, name)
				}
			}
		}
		return deps
	}
	ordered := topoOrder(inSet, edges)
	applyTableOrder(steps, ordered)
}

func stepTables(steps []Step) []string {
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		switch s := s.(type) {
		case CreateTable:
			names = append(names, s.Table.Name)
		case DropTable:
			names = append(names, s.Table)
		}
	}
	sort.Strings(names)
	return names
}

// topoOrder orders nodes so every dependency returned by deps precedes its
// dependent. Dependencies outside the node set are ignored. Nodes stuck in
// a cycle are appended in name order.
func topoOrder(nodes []string, deps func(string) []string) []string {
	inSet := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		inSet[n] = true
	}
	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		inDegree[n] += 0
		for _, dep := range deps(n) {
			if !inSet[dep] || dep == n {
				continue
			}
			inDegree[n]++
			dependents[dep] = append(dependents[dep], n)
		}
	}

	var ready []string
	for _, n := range nodes {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	out := make([]string, 0, len(nodes))
	done := make(map[string]bool, len(nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		if done[n] {
			continue
		}
		done[n] = true
		out = append(out, n)
		for _, dep := range dependents[n] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
	}
	for _, n := range nodes {
		if !done[n] {
			out = append(out, n)
		}
	}
	return out
}

func applyTableOrder(steps []Step, ordered []string) {
	rank := make(map[string]int, len(ordered))
	for i, name := range ordered {
		rank[name] = i
	}
	name := func(s Step) string {
		switch s := s.(type) {
		case CreateTable:
			return s.Table.Name
		case DropTable:
			return s.Table
		}
		return ""
	}
	sort.SliceStable(steps, func(i, j int) bool { return rank[name(steps[i])] < rank[name(steps[j])] })
}
