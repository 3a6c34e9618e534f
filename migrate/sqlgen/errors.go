package sqlgen

import (
	"fmt"

	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/diff"
)

// UnsupportedFeatureError is returned when a step asks for something the
// dialect structurally cannot express (enums on SQL Server, partial indexes
// on MySQL).
type UnsupportedFeatureError struct {
	Dialect dialect.Dialect
	Feature string
	Step    diff.Step
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("%s does not support %s (step: %s)", e.Dialect, e.Feature, e.Step.Summarize())
}

// IdentifierTooLongError is returned at render time when a generated or
// declared identifier exceeds the dialect's limit.
type IdentifierTooLongError struct {
	Dialect    dialect.Dialect
	Identifier string
	Max        int
}

func (e *IdentifierTooLongError) Error() string {
	return fmt.Sprintf("identifier %q exceeds the %d character limit of %s", e.Identifier, e.Max, e.Dialect)
}

// StatementError wraps a statement rejected by the database with enough
// context for a human to repair the migration by hand.
type StatementError struct {
	Step  diff.Step
	Index int
	SQL   string
	Err   error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement %d of %q failed: %v\n  %s", e.Index+1, e.Step.Summarize(), e.Err, e.SQL)
}

func (e *StatementError) Unwrap() error { return e.Err }

func checkIdentifiers(d dialect.Dialect, max int, idents ...string) error {
	if max <= 0 {
		return nil
	}
	for _, ident := range idents {
		if len(ident) > max {
			return &IdentifierTooLongError{Dialect: d, Identifier: ident, Max: max}
		}
	}
	return nil
}
