package repository

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"
)

// NewPostgres opens a connection pool. The database is not contacted until
// the first probe or statement.
func NewPostgres(connectionString, table string, logger loggingpkg.ServiceLogger) (*SQLRepository, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("PostgreSQL connection string is required")
	}
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	repo, err := OpenPostgres(db, table, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	repo.owned = true
	return repo, nil
}

// OpenPostgres uses an already open PostgreSQL handle. Close leaves it open.
func OpenPostgres(db *sql.DB, table string, logger loggingpkg.ServiceLogger) (*SQLRepository, error) {
	return newSQLRepository(db, table, postgresDialect, logger)
}
