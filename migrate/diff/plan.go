package diff

import "github.com/baajur/prisma-engines/migrate/sqlschema"

// Plan is an ordered sequence of migration steps, produced once by Diff and
// never mutated.
type Plan struct {
	Steps []Step
}

// Empty reports whether the plan contains no steps.
func (p *Plan) Empty() bool { return len(p.Steps) == 0 }

// Destructive reports whether any step in the plan can lose previously
// stored data.
func (p *Plan) Destructive() bool {
	return len(p.DestructiveSteps()) > 0
}

// DestructiveSteps returns every step that can lose data, in plan order.
// The rules follow the destructive change checker of the engine: dropping a
// table or column always loses data; altering a column is destructive when
// the type family changes or a nullable column becomes required; altering
// an enum is destructive when it removes values that rows may still hold.
func (p *Plan) DestructiveSteps() []Step {
	var out []Step
	for _, step := range p.Steps {
		if IsDestructive(step) {
			out = append(out, step)
		}
	}
	return out
}

// IsDestructive classifies a single step.
func IsDestructive(step Step) bool {
	switch s := step.(type) {
	case DropTable:
		return true
	case DropColumn:
		return true
	case AlterColumn:
		if s.Before.Family != s.After.Family {
			return true
		}
		if s.Before.Nullable && !s.After.Nullable {
			return true
		}
		return false
	case AlterEnum:
		return enumRemovesValues(s.Before, s.After)
	default:
		return false
	}
}

func enumRemovesValues(before, after sqlschema.Enum) bool {
	kept := make(map[string]struct{}, len(after.Values))
	for _, v := range after.Values {
		kept[v] = struct{}{}
	}
	for _, v := range before.Values {
		if _, ok := kept[v]; !ok {
			return true
		}
	}
	return false
}
