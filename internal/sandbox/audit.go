package sandbox

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// AuditLog is an append-only record of every Coordinator operation,
// supplementing spec.md's core contract with the execution history a
// real deployment needs for incident review. Grounded on the teacher's
// own modernc.org/sqlite usage in pkg/swarm/memory/sqlite_store.go
// (plain database/sql, driver import for its side effect, hand-written
// schema and positional-parameter queries) rather than picoclaw's
// pkg/audit JSON+HMAC chain: audit volume here is every tool call, not
// occasional security events, so real transactional writes earn their
// keep.
type AuditLog struct {
	db *sql.DB
}

// OpenAuditLog opens (creating if needed) a SQLite database at path
// and ensures its schema exists.
func OpenAuditLog(path string) (*AuditLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	a := &AuditLog{db: db}
	if err := a.init(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *AuditLog) init() error {
	_, err := a.db.Exec(`CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		occurred_at DATETIME,
		operation TEXT,
		success INTEGER,
		error_kind TEXT,
		duration_ms INTEGER
	);`)
	return err
}

// Record appends one execution outcome. Failures to record are logged
// by the caller, never propagated as a tool failure: the audit trail
// must not be able to break execution.
func (a *AuditLog) Record(ctx context.Context, id, operation string, success bool, errorKind string, duration time.Duration) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO executions (id, occurred_at, operation, success, error_kind, duration_ms) VALUES (?, ?, ?, ?, ?, ?)",
		id, time.Now().UTC(), operation, boolToInt(success), errorKind, duration.Milliseconds(),
	)
	return err
}

// Close releases the underlying database handle.
func (a *AuditLog) Close() error {
	return a.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
