package repository

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"
)

// NewSQLite opens the SQLite file at path (":memory:" for a private
// in-memory database) and stores records in table.
func NewSQLite(path, table string, logger loggingpkg.ServiceLogger) (*SQLRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("SQLite path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo, err := OpenSQLite(db, table, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	repo.owned = true
	return repo, nil
}

// OpenSQLite uses an already open SQLite handle. Close leaves it open.
func OpenSQLite(db *sql.DB, table string, logger loggingpkg.ServiceLogger) (*SQLRepository, error) {
	return newSQLRepository(db, table, sqliteDialect, logger)
}
