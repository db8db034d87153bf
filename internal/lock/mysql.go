package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MySQLManager backs named locks with MySQL GET_LOCK / RELEASE_LOCK, giving
// mutual exclusion across every process sharing the database.
type MySQLManager struct {
	db *sql.DB
}

// NewMySQLManager creates a lock manager on an existing connection pool.
func NewMySQLManager(db *sql.DB) *MySQLManager {
	return &MySQLManager{db: db}
}

// Acquire obtains the named lock. GET_LOCK is scoped to a connection, so the
// handle pins one connection from the pool until released.
func (m *MySQLManager) Acquire(ctx context.Context, name string, wait time.Duration) (Handle, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain connection for lock: %w", err)
	}

	var acquired sql.NullInt64
	err = conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", name, int(wait.Seconds())).Scan(&acquired)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}

	if !acquired.Valid || acquired.Int64 != 1 {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, name)
	}

	return &mysqlHandle{conn: conn, name: name}, nil
}

type mysqlHandle struct {
	conn *sql.Conn
	name string
}

// Release frees the lock and returns the pinned connection to the pool.
// Closing the connection would release the lock on its own; the explicit
// RELEASE_LOCK keeps the release observable in queries.
func (h *mysqlHandle) Release(ctx context.Context) error {
	defer h.conn.Close()

	var released sql.NullInt64
	if err := h.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", h.name).Scan(&released); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", h.name, err)
	}
	return nil
}
