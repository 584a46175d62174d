package repository

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrInjected is returned by MemoryRepository.Add while failures are queued.
var ErrInjected = errors.New("injected repository failure")

// MemoryRepository keeps records in memory and can be told to fail. It
// deduplicates on Record.Key like the SQL sinks.
type MemoryRepository struct {
	mu          sync.Mutex
	records     []Record
	keys        map[string]struct{}
	failures    []error
	unreachable bool
	created     bool
	addCalls    int
	closed      bool
}

// NewMemory returns an empty, reachable repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{keys: make(map[string]struct{})}
}

// FailNextAdds makes the next n Add calls fail with err (ErrInjected when nil).
func (m *MemoryRepository) FailNextAdds(n int, err error) {
	if err == nil {
		err = ErrInjected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for range n {
		m.failures = append(m.failures, err)
	}
}

// SetReachable controls what TestConnection reports.
func (m *MemoryRepository) SetReachable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = !ok
}

func (m *MemoryRepository) CreateTable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return ErrInjected
	}
	m.created = true
	return nil
}

func (m *MemoryRepository) Add(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addCalls++
	if m.closed {
		return errors.New("memory repository is closed")
	}
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return err
	}
	for _, rec := range records {
		if _, dup := m.keys[rec.Key]; dup && rec.Key != "" {
			continue
		}
		m.keys[rec.Key] = struct{}{}
		rec.Payload = slices.Clone(rec.Payload)
		m.records = append(m.records, rec)
	}
	return nil
}

func (m *MemoryRepository) TestConnection(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unreachable && !m.closed
}

func (m *MemoryRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records returns a copy of everything stored, in insertion order.
func (m *MemoryRepository) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records)
}

// AddCalls counts Add invocations, failed ones included.
func (m *MemoryRepository) AddCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addCalls
}

// Created reports whether CreateTable succeeded.
func (m *MemoryRepository) Created() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}
