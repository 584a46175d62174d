package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
)

// SQLiteStore keeps queues in a SQLite file. Every queue shares the same
// tables and is told apart by its name column.
type SQLiteStore struct {
	db    *sql.DB
	name  string
	owned bool
}

// NewSQLiteStore opens the SQLite file at path (":memory:" for a private
// in-memory database) and prepares the schema.
func NewSQLiteStore(path, name string) (*SQLiteStore, error) {
	if name == "" {
		return nil, errspkg.ErrQueueNameRequired
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// one connection keeps writes serialized and a :memory: database alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store, err := OpenSQLiteStore(context.Background(), db, name)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// OpenSQLiteStore prepares the schema in an already open database. Close
// leaves the database open.
func OpenSQLiteStore(ctx context.Context, db *sql.DB, name string) (*SQLiteStore, error) {
	if name == "" {
		return nil, errspkg.ErrQueueNameRequired
	}
	s := &SQLiteStore{db: db, name: name}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS eventrelay_queue_header (
		queue TEXT PRIMARY KEY,
		capacity INTEGER NOT NULL,
		committed INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS eventrelay_queue_records (
		queue TEXT NOT NULL,
		slot INTEGER NOT NULL,
		record BLOB NOT NULL,
		PRIMARY KEY (queue, slot)
	);

	CREATE TABLE IF NOT EXISTS eventrelay_queue_dead_letters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		queue TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		type_name TEXT NOT NULL,
		payload BLOB,
		reason TEXT NOT NULL,
		dead_at TIMESTAMP NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_eventrelay_dead_letters_sequence ON eventrelay_queue_dead_letters(queue, sequence);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Name() string { return s.name }

func (s *SQLiteStore) LoadHeader(ctx context.Context) (Header, bool, error) {
	var capacity, committed int64
	err := s.db.QueryRowContext(ctx,
		`SELECT capacity, committed FROM eventrelay_queue_header WHERE queue = ?`, s.name,
	).Scan(&capacity, &committed)
	if errors.Is(err, sql.ErrNoRows) {
		return Header{}, false, nil
	}
	if err != nil {
		return Header{}, false, fmt.Errorf("failed to load queue header: %w", err)
	}
	return Header{Capacity: uint64(capacity), Committed: uint64(committed)}, true, nil
}

func (s *SQLiteStore) SaveHeader(ctx context.Context, h Header) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO eventrelay_queue_header (queue, capacity, committed) VALUES (?, ?, ?)
		ON CONFLICT(queue) DO UPDATE SET capacity = excluded.capacity, committed = excluded.committed
	`, s.name, int64(h.Capacity), int64(h.Committed))
	if err != nil {
		return fmt.Errorf("failed to save queue header: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, slot uint64, record []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO eventrelay_queue_records (queue, slot, record) VALUES (?, ?, ?)
		ON CONFLICT(queue, slot) DO UPDATE SET record = excluded.record
	`, s.name, int64(slot), record)
	if err != nil {
		return fmt.Errorf("failed to store queue record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, slot uint64) ([]byte, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM eventrelay_queue_records WHERE queue = ? AND slot = ?`, s.name, int64(slot),
	).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errspkg.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue record: %w", err)
	}
	return record, nil
}

func (s *SQLiteStore) Scan(ctx context.Context, fn func(slot uint64, record []byte) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slot, record FROM eventrelay_queue_records WHERE queue = ? ORDER BY slot`, s.name)
	if err != nil {
		return fmt.Errorf("failed to scan queue records: %w", err)
	}
	type row struct {
		slot   uint64
		record []byte
	}
	// collect first so fn may use the single connection
	var all []row
	for rows.Next() {
		var (
			slot   int64
			record []byte
		)
		if err := rows.Scan(&slot, &record); err != nil {
			rows.Close()
			return err
		}
		all = append(all, row{slot: uint64(slot), record: record})
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, r := range all {
		if err := fn(r.slot, r.record); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) PutDeadLetter(ctx context.Context, dl DeadLetter) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO eventrelay_queue_dead_letters (queue, sequence, type_name, payload, reason, dead_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(queue, sequence) DO NOTHING
	`, s.name, int64(dl.Sequence), dl.TypeName, dl.Payload, dl.Reason, dl.DeadAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to store dead letter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to store dead letter: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, type_name, payload, reason, dead_at
		FROM eventrelay_queue_dead_letters WHERE queue = ? ORDER BY sequence
	`, s.name)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var (
			dl     DeadLetter
			seq    int64
			deadAt time.Time
		)
		if err := rows.Scan(&seq, &dl.TypeName, &dl.Payload, &dl.Reason, &deadAt); err != nil {
			return nil, err
		}
		dl.Sequence = uint64(seq)
		dl.DeadAt = deadAt
		out = append(out, dl)
	}
	return out, rows.Err()
}

// Close closes the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
