package apply

import (
	"fmt"
	"strings"

	"github.com/baajur/prisma-engines/migrate/diff"
)

// DestructiveError is returned when a plan contains destructive steps and
// the caller did not force them. Nothing has been executed when it is
// returned.
type DestructiveError struct {
	Steps []diff.Step
}

func (e *DestructiveError) Error() string {
	summaries := make([]string, len(e.Steps))
	for i, s := range e.Steps {
		summaries[i] = s.Summarize()
	}
	return fmt.Sprintf("refusing to apply %d destructive change(s) without force: %s",
		len(e.Steps), strings.Join(summaries, "; "))
}

// PartialApplyError reports a failure on a dialect without transactional
// DDL. Groups before Group are fully applied; inside the failing group,
// statements before Statement took effect. The database sits between two
// schema states and needs manual repair before the next run.
type PartialApplyError struct {
	Group     int
	Statement int
	SQL       string
	Err       error
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("migration partially applied: group %d statement %d failed: %v (sql: %s)",
		e.Group, e.Statement, e.Err, e.SQL)
}

func (e *PartialApplyError) Unwrap() error { return e.Err }
