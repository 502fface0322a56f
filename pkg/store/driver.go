package store

import (
	"database/sql"
	"errors"

	sqlite3 "github.com/mattn/go-sqlite3" // cgo SQLite driver, registered as "sqlite3"
	"modernc.org/sqlite"                  // pure Go SQLite driver, registered as "sqlite"
)

// SQLite driver names accepted by WithDriver.
const (
	DriverPure = "sqlite"
	DriverCGO  = "sqlite3"
)

// IsDatabaseError reports whether err originates from a SQLite driver or
// from database/sql itself.
func IsDatabaseError(err error) bool {
	if err == nil {
		return false
	}
	var pureErr *sqlite.Error
	if errors.As(err, &pureErr) {
		return true
	}
	var cgoErr sqlite3.Error
	if errors.As(err, &cgoErr) {
		return true
	}
	return errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, sql.ErrTxDone) ||
		errors.Is(err, sql.ErrConnDone)
}
