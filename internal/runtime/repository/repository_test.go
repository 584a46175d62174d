package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords(n int) []Record {
	created := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	out := make([]Record, n)
	for i := range n {
		seq := uint64(i + 1)
		out[i] = Record{
			ID:        fmt.Sprintf("01J0000000000000000000000%d", i),
			Key:       fmt.Sprintf("orders/%d", seq),
			Queue:     "orders",
			Sequence:  seq,
			TypeName:  "orders.placed",
			Payload:   []byte(fmt.Sprintf(`{"n":%d}`, seq)),
			CreatedAt: created.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func logRecord() Record {
	rec := sampleRecords(1)[0]
	rec.Key = "orders/log"
	rec.TypeName = "eventrelay.LogEvent"
	rec.Log = &LogFields{
		Level:           "error",
		Exception:       "connection reset",
		RenderedMessage: "Add failed: connection reset",
		MessageTemplate: "Add failed",
		TraceID:         "4bf92f3577b34da6a3ce929d0e0e4736",
		SpanID:          "00f067aa0ba902b7",
		Properties:      map[string]any{"attempt": 2},
	}
	return rec
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	require.NoError(t, repo.CreateTable(ctx))
	assert.True(t, repo.Created())
	assert.True(t, repo.TestConnection(ctx))

	records := sampleRecords(3)
	require.NoError(t, repo.Add(ctx, records))
	require.NoError(t, repo.Add(ctx, records[1:]), "overlapping batch")
	assert.Len(t, repo.Records(), 3)
	assert.Equal(t, 2, repo.AddCalls())
}

func TestMemoryRepositoryFaultInjection(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()

	repo.FailNextAdds(2, nil)
	assert.ErrorIs(t, repo.Add(ctx, sampleRecords(1)), ErrInjected)
	assert.ErrorIs(t, repo.Add(ctx, sampleRecords(1)), ErrInjected)
	assert.NoError(t, repo.Add(ctx, sampleRecords(1)))
	assert.Len(t, repo.Records(), 1)

	repo.SetReachable(false)
	assert.False(t, repo.TestConnection(ctx))
	assert.Error(t, repo.CreateTable(ctx))
	repo.SetReachable(true)

	require.NoError(t, repo.Close())
	assert.False(t, repo.TestConnection(ctx))
	assert.Error(t, repo.Add(ctx, sampleRecords(1)))
}

func TestSQLiteRepository(t *testing.T) {
	ctx := context.Background()
	repo, err := NewSQLite(":memory:", "relay_records", nil)
	require.NoError(t, err)
	defer repo.Close()

	assert.True(t, repo.TestConnection(ctx))
	require.NoError(t, repo.CreateTable(ctx))
	require.NoError(t, repo.CreateTable(ctx), "CreateTable is idempotent")

	records := append(sampleRecords(3), logRecord())
	require.NoError(t, repo.Add(ctx, records))
	require.NoError(t, repo.Add(ctx, records[2:]), "redelivered records are skipped")
	require.NoError(t, repo.Add(ctx, nil))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	var (
		level, trace, props string
		payload             []byte
		seq                 int64
	)
	err = repo.DB().QueryRowContext(ctx,
		`SELECT level, trace_id, properties, payload, sequence FROM relay_records WHERE record_key = ?`, "orders/log",
	).Scan(&level, &trace, &props, &payload, &seq)
	require.NoError(t, err)
	assert.Equal(t, "error", level)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", trace)
	assert.JSONEq(t, `{"attempt":2}`, props)
	assert.Equal(t, []byte(`{"n":1}`), payload)
	assert.Equal(t, int64(1), seq)

	var nullLevel *string
	err = repo.DB().QueryRowContext(ctx,
		`SELECT level FROM relay_records WHERE record_key = ?`, "orders/2",
	).Scan(&nullLevel)
	require.NoError(t, err)
	assert.Nil(t, nullLevel, "plain records leave log columns NULL")
}

func TestSQLiteRepositoryAddIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo, err := NewSQLite(":memory:", "atomic_records", nil)
	require.NoError(t, err)
	defer repo.Close()
	require.NoError(t, repo.CreateTable(ctx))

	records := sampleRecords(2)
	records[1].TypeName = ""
	_, err = repo.DB().ExecContext(ctx, `CREATE TRIGGER reject_empty BEFORE INSERT ON atomic_records
		WHEN NEW.type_name = '' BEGIN SELECT RAISE(ABORT, 'empty type name'); END`)
	require.NoError(t, err)

	assert.Error(t, repo.Add(ctx, records))
	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a failed batch stores nothing")
}

func TestSQLRepositoryRejectsBadTableNames(t *testing.T) {
	for _, table := range []string{"", "records; DROP TABLE x", "1records", "a.b.c"} {
		_, err := NewSQLite(":memory:", table, nil)
		assert.Error(t, err, table)
	}
	_, err := NewSQLite("", "records", nil)
	assert.Error(t, err)
}

func TestSQLInsertStatements(t *testing.T) {
	sqlite, err := newSQLRepository(nil, "records", sqliteDialect, nil)
	require.NoError(t, err)
	assert.Contains(t, sqlite.insert, "VALUES (?, ?, ?")
	assert.Contains(t, sqlite.insert, "ON CONFLICT (record_key) DO NOTHING")

	pg, err := newSQLRepository(nil, "relay.records", postgresDialect, nil)
	require.NoError(t, err)
	assert.Contains(t, pg.insert, "INSERT INTO relay.records")
	assert.Contains(t, pg.insert, "$1, $2")
	assert.Contains(t, pg.insert, "$14)")
}

func TestPostgresRepository(t *testing.T) {
	url := os.Getenv("EVENTRELAY_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("EVENTRELAY_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	table := fmt.Sprintf("relay_records_%d", time.Now().UnixNano())

	repo, err := NewPostgres(url, table, nil)
	require.NoError(t, err)
	defer repo.Close()
	defer func() { _, _ = repo.DB().ExecContext(ctx, "DROP TABLE IF EXISTS "+table) }()

	require.True(t, repo.TestConnection(ctx))
	require.NoError(t, repo.CreateTable(ctx))
	records := append(sampleRecords(2), logRecord())
	require.NoError(t, repo.Add(ctx, records))
	require.NoError(t, repo.Add(ctx, records))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPostgresRequiresConnectionString(t *testing.T) {
	_, err := NewPostgres("", "records", nil)
	assert.Error(t, err)
}
