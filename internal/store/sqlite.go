package store

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (or creates) the outbox database at the given path.
// The caller owns the handle and must Close it on shutdown.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	// The facade and the sync engine share this handle; one connection
	// serializes their statements.
	db.SetMaxOpenConns(1)

	// Enable WAL mode.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Err: err}
	}
	return db, nil
}
