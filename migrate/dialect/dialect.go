// Package dialect identifies the supported relational database families.
package dialect

import "fmt"

// Dialect is one supported SQL dialect family. The set is closed: code that
// switches over it is expected to handle every constant.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
	MSSQL    Dialect = "mssql"
)

// All lists every supported dialect in stable order.
func All() []Dialect {
	return []Dialect{Postgres, MySQL, SQLite, MSSQL}
}

// Parse resolves a user-supplied provider name, accepting the common aliases
// used in datasource configuration, to its dialect family.
func Parse(s string) (Dialect, error) {
	switch s {
	case "postgres", "postgresql", "cockroachdb":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "mssql", "sqlserver":
		return MSSQL, nil
	default:
		return "", fmt.Errorf("unsupported provider %q (expected one of postgres, mysql, sqlite, mssql)", s)
	}
}

// DriverName returns the database/sql driver name registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite3"
	case MSSQL:
		return "sqlserver"
	}
	return ""
}

// String implements fmt.Stringer.
func (d Dialect) String() string { return string(d) }
