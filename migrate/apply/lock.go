package apply

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"

	"github.com/baajur/prisma-engines/migrate/dialect"
)

// lockName identifies the advisory lock shared by every engine instance
// targeting the same database.
const lockName = "prisma_migrate_lock"

// lockTimeoutSeconds bounds the wait for a concurrent migration run to
// finish before we give up.
const lockTimeoutSeconds = 10

// advisoryLock serializes concurrent migration runs against one database.
// The lock is session-scoped, so it must be taken and released on the same
// *sql.Conn; the applier pins a connection for the whole run.
type advisoryLock struct {
	d    dialect.Dialect
	conn *sql.Conn
	held bool
}

func newAdvisoryLock(d dialect.Dialect, conn *sql.Conn) *advisoryLock {
	return &advisoryLock{d: d, conn: conn}
}

// Acquire blocks until the lock is held or the timeout elapses.
func (l *advisoryLock) Acquire(ctx context.Context) error {
	switch l.d {
	case dialect.Postgres:
		if _, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockKey()); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
	case dialect.MySQL:
		var got sql.NullInt64
		row := l.conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", lockName, lockTimeoutSeconds)
		if err := row.Scan(&got); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !got.Valid || got.Int64 != 1 {
			return fmt.Errorf("acquire advisory lock: another migration is in progress")
		}
	case dialect.MSSQL:
		_, err := l.conn.ExecContext(ctx,
			"EXEC sp_getapplock @Resource = @p1, @LockMode = 'Exclusive', @LockOwner = 'Session', @LockTimeout = @p2",
			lockName, lockTimeoutSeconds*1000)
		if err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
	case dialect.SQLite:
		// SQLite has no advisory locks; an immediate transaction takes the
		// database write lock for the duration of the run.
		if _, err := l.conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
			return fmt.Errorf("acquire write lock: %w", err)
		}
	default:
		return fmt.Errorf("no advisory lock for dialect %q", l.d)
	}
	l.held = true
	return nil
}

// Release drops the lock. Safe to call when Acquire failed.
func (l *advisoryLock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	switch l.d {
	case dialect.Postgres:
		_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockKey())
		return err
	case dialect.MySQL:
		_, err := l.conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", lockName)
		return err
	case dialect.MSSQL:
		_, err := l.conn.ExecContext(ctx,
			"EXEC sp_releaseapplock @Resource = @p1, @LockOwner = 'Session'", lockName)
		return err
	case dialect.SQLite:
		_, err := l.conn.ExecContext(ctx, "COMMIT")
		return err
	}
	return nil
}

// Abort releases the lock after a failed run. On sqlite this rolls the
// lock transaction back instead of committing it; elsewhere it is Release.
func (l *advisoryLock) Abort(ctx context.Context) error {
	if l.d == dialect.SQLite && l.held {
		l.held = false
		_, err := l.conn.ExecContext(ctx, "ROLLBACK")
		return err
	}
	return l.Release(ctx)
}

// InTransaction reports whether holding the lock already placed the
// connection inside an open transaction.
func (l *advisoryLock) InTransaction() bool {
	return l.d == dialect.SQLite && l.held
}

// lockKey maps the lock name onto the 64-bit key space postgres advisory
// locks use.
func lockKey() int64 {
	h := fnv.New64a()
	h.Write([]byte(lockName))
	return int64(h.Sum64())
}
