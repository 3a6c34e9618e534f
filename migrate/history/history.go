// Package history tracks applied migrations in a ledger table inside the
// target database, so the history travels with the data it describes.
package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/baajur/prisma-engines/migrate/dialect"
)

// TableName is the ledger table. Describers ignore it so it never shows up
// in a diff.
const TableName = "_prisma_migrations"

// Record is one applied migration. Records are immutable after insertion
// except for the rolled-back flag.
type Record struct {
	ID            string
	Name          string
	Checksum      string
	AppliedAt     time.Time
	ExecutionTime int64 // milliseconds
	RolledBack    bool
	// SchemaSnapshot is the canonical JSON of the schema the migration
	// converged to, kept for drift inspection.
	SchemaSnapshot string
}

// Checksum hashes a rendered migration script.
func Checksum(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

// Manager reads and writes the ledger.
type Manager struct {
	db *sql.DB
	d  dialect.Dialect
}

// NewManager creates a ledger manager for an open connection.
func NewManager(db *sql.DB, d dialect.Dialect) *Manager {
	return &Manager{db: db, d: d}
}

// InitTable creates the ledger table if it does not exist. This is the
// first statement ever run against a fresh database and must be idempotent.
func (m *Manager) InitTable(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, m.createTableSQL()); err != nil {
		return fmt.Errorf("create migration history table: %w", err)
	}
	return nil
}

// InitTableOn is InitTable over a caller-supplied execer, for running the
// statement on a pinned connection that holds the migration lock.
func (m *Manager) InitTableOn(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}) error {
	if _, err := execer.ExecContext(ctx, m.createTableSQL()); err != nil {
		return fmt.Errorf("create migration history table: %w", err)
	}
	return nil
}

// Record inserts a record using the given execer, so callers can write it
// inside the same transaction as the migration itself.
func (m *Manager) Record(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, rec *Record) error {
	_, err := execer.ExecContext(ctx, m.insertSQL(),
		rec.ID, rec.Name, rec.Checksum, rec.AppliedAt, rec.ExecutionTime, rec.RolledBack, rec.SchemaSnapshot)
	if err != nil {
		return fmt.Errorf("record migration %q: %w", rec.ID, err)
	}
	return nil
}

// All returns every record ordered by application time.
func (m *Manager) All(ctx context.Context) ([]Record, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, checksum, applied_at, execution_time, rolled_back, schema_snapshot
		FROM `+TableName+`
		ORDER BY applied_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query migration history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var snapshot sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Checksum, &rec.AppliedAt, &rec.ExecutionTime, &rec.RolledBack, &snapshot); err != nil {
			return nil, fmt.Errorf("scan migration record: %w", err)
		}
		rec.SchemaSnapshot = snapshot.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AppliedIDs returns the ids of all applied, not rolled back migrations.
func (m *Manager) AppliedIDs(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id FROM `+TableName+`
		WHERE rolled_back = `+m.falseLiteral()+`
		ORDER BY applied_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan migration id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkRolledBack flags a migration as rolled back. The record itself is
// retained.
func (m *Manager) MarkRolledBack(ctx context.Context, id string) error {
	res, err := m.db.ExecContext(ctx, m.markRolledBackSQL(), id)
	if err != nil {
		return fmt.Errorf("mark migration %q rolled back: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("migration %q not found in history", id)
	}
	return nil
}

func (m *Manager) createTableSQL() string {
	switch m.d {
	case dialect.Postgres:
		return `CREATE TABLE IF NOT EXISTS ` + TableName + ` (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			checksum VARCHAR(64) NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			execution_time BIGINT NOT NULL DEFAULT 0,
			rolled_back BOOLEAN NOT NULL DEFAULT FALSE,
			schema_snapshot TEXT
		)`
	case dialect.MySQL:
		return `CREATE TABLE IF NOT EXISTS ` + TableName + ` (
			id VARCHAR(191) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			checksum VARCHAR(64) NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			execution_time BIGINT NOT NULL DEFAULT 0,
			rolled_back TINYINT(1) NOT NULL DEFAULT 0,
			schema_snapshot TEXT
		)`
	case dialect.SQLite:
		return `CREATE TABLE IF NOT EXISTS ` + TableName + ` (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			execution_time INTEGER NOT NULL DEFAULT 0,
			rolled_back INTEGER NOT NULL DEFAULT 0,
			schema_snapshot TEXT
		)`
	case dialect.MSSQL:
		return `IF OBJECT_ID(N'` + TableName + `', N'U') IS NULL
		CREATE TABLE ` + TableName + ` (
			id NVARCHAR(450) PRIMARY KEY,
			name NVARCHAR(1000) NOT NULL,
			checksum NVARCHAR(64) NOT NULL,
			applied_at DATETIME2 NOT NULL DEFAULT CURRENT_TIMESTAMP,
			execution_time BIGINT NOT NULL DEFAULT 0,
			rolled_back BIT NOT NULL DEFAULT 0,
			schema_snapshot NVARCHAR(MAX)
		)`
	}
	return ""
}

func (m *Manager) insertSQL() string {
	switch m.d {
	case dialect.Postgres:
		return `INSERT INTO ` + TableName + ` (id, name, checksum, applied_at, execution_time, rolled_back, schema_snapshot)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
	case dialect.MSSQL:
		return `INSERT INTO ` + TableName + ` (id, name, checksum, applied_at, execution_time, rolled_back, schema_snapshot)
			VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7)`
	default:
		return `INSERT INTO ` + TableName + ` (id, name, checksum, applied_at, execution_time, rolled_back, schema_snapshot)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
	}
}

func (m *Manager) markRolledBackSQL() string {
	switch m.d {
	case dialect.Postgres:
		return `UPDATE ` + TableName + ` SET rolled_back = TRUE WHERE id = $1`
	case dialect.MSSQL:
		return `UPDATE ` + TableName + ` SET rolled_back = 1 WHERE id = @p1`
	default:
		return `UPDATE ` + TableName + ` SET rolled_back = 1 WHERE id = ?`
	}
}

func (m *Manager) falseLiteral() string {
	if m.d == dialect.Postgres {
		return "FALSE"
	}
	return "0"
}
