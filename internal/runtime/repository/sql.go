package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/drblury/eventrelay/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"
)

// DefaultProbeTimeout bounds TestConnection.
const DefaultProbeTimeout = 5 * time.Second

var (
	tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
	nonWord          = regexp.MustCompile(`\W`)
)

type dialect struct {
	name        string
	createTable string
	placeholder func(n int) string
}

var sqliteDialect = dialect{
	name: "sqlite",
	createTable: `
	CREATE TABLE IF NOT EXISTS %[1]s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL,
		record_key TEXT NOT NULL UNIQUE,
		queue TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		type_name TEXT NOT NULL,
		payload BLOB,
		created_at TIMESTAMP NOT NULL,
		level TEXT,
		exception TEXT,
		rendered_message TEXT,
		message_template TEXT,
		trace_id TEXT,
		span_id TEXT,
		properties TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_%[2]s_created ON %[1]s(created_at);
	`,
	placeholder: func(int) string { return "?" },
}

var postgresDialect = dialect{
	name: "postgres",
	createTable: `
	CREATE TABLE IF NOT EXISTS %[1]s (
		id BIGSERIAL PRIMARY KEY,
		record_id TEXT NOT NULL,
		record_key TEXT NOT NULL UNIQUE,
		queue TEXT NOT NULL,
		sequence BIGINT NOT NULL,
		type_name TEXT NOT NULL,
		payload BYTEA,
		created_at TIMESTAMPTZ NOT NULL,
		level TEXT,
		exception TEXT,
		rendered_message TEXT,
		message_template TEXT,
		trace_id TEXT,
		span_id TEXT,
		properties JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_%[2]s_created ON %[1]s(created_at);
	`,
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
}

var recordColumns = []string{
	"record_id", "record_key", "queue", "sequence", "type_name", "payload", "created_at",
	"level", "exception", "rendered_message", "message_template", "trace_id", "span_id", "properties",
}

// SQLRepository stores records in one table. Inserts skip rows whose
// record_key already exists, so a batch redelivered after a crash between
// Add and the queue commit is not stored twice.
type SQLRepository struct {
	db      *sql.DB
	table   string
	dialect dialect
	logger  loggingpkg.ServiceLogger
	insert  string
	owned   bool
}

func newSQLRepository(db *sql.DB, table string, d dialect, logger loggingpkg.ServiceLogger) (*SQLRepository, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	r := &SQLRepository{
		db:      db,
		table:   table,
		dialect: d,
		logger:  loggingpkg.OrNop(logger).With(loggingpkg.LogFields{"repository": d.name, "table": table}),
	}
	r.insert = r.buildInsert()
	return r, nil
}

func (r *SQLRepository) buildInsert() string {
	cols, vals := "", ""
	for i, c := range recordColumns {
		if i > 0 {
			cols += ", "
			vals += ", "
		}
		cols += c
		vals += r.dialect.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (record_key) DO NOTHING", r.table, cols, vals)
}

// DB exposes the underlying handle.
func (r *SQLRepository) DB() *sql.DB { return r.db }

func (r *SQLRepository) CreateTable(ctx context.Context) error {
	index := nonWord.ReplaceAllString(r.table, "_")
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(r.dialect.createTable, r.table, index)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", r.table, err)
	}
	return nil
}

func (r *SQLRepository) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, r.insert)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := int64(0)
	for _, rec := range records {
		args, err := r.args(rec)
		if err != nil {
			return err
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.Key, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	if skipped := int64(len(records)) - inserted; skipped > 0 {
		r.logger.Debug("Skipped records already stored", loggingpkg.LogFields{"skipped": skipped})
	}
	return nil
}

func (r *SQLRepository) args(rec Record) ([]any, error) {
	var level, exception, rendered, template, traceID, spanID, props sql.NullString
	if l := rec.Log; l != nil {
		level = nullString(l.Level)
		exception = nullString(l.Exception)
		rendered = nullString(l.RenderedMessage)
		template = nullString(l.MessageTemplate)
		traceID = nullString(l.TraceID)
		spanID = nullString(l.SpanID)
		if len(l.Properties) > 0 {
			raw, err := jsoncodec.Marshal(l.Properties)
			if err != nil {
				return nil, fmt.Errorf("failed to encode properties of %s: %w", rec.Key, err)
			}
			props = nullString(string(raw))
		}
	}
	return []any{
		rec.ID, rec.Key, rec.Queue, int64(rec.Sequence), rec.TypeName, rec.Payload, rec.CreatedAt.UTC(),
		level, exception, rendered, template, traceID, spanID, props,
	}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *SQLRepository) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()
	if err := r.db.PingContext(ctx); err != nil {
		r.logger.Error("Repository probe failed", err, nil)
		return false
	}
	return true
}

// Count returns the number of stored records.
func (r *SQLRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", r.table)).Scan(&n)
	return n, err
}

// Close closes the database when the repository opened it.
func (r *SQLRepository) Close() error {
	if !r.owned {
		return nil
	}
	return r.db.Close()
}
