package queue

import (
	"cmp"
	"context"
	"slices"
	"sync"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
)

// MemoryStore keeps everything in process memory. It survives Queue restarts
// within one process, which makes it useful for tests, but not process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	name    string
	header  *Header
	records map[uint64][]byte
	dead    []DeadLetter
	deadSeq map[uint64]struct{}
}

// NewMemoryStore returns an empty volatile store.
func NewMemoryStore(name string) *MemoryStore {
	if name == "" {
		name = "memory"
	}
	return &MemoryStore{
		name:    name,
		records: make(map[uint64][]byte),
		deadSeq: make(map[uint64]struct{}),
	}
}

func (s *MemoryStore) Name() string { return s.name }

func (s *MemoryStore) LoadHeader(ctx context.Context) (Header, bool, error) {
	if err := ctx.Err(); err != nil {
		return Header{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.header == nil {
		return Header{}, false, nil
	}
	return *s.header, true, nil
}

func (s *MemoryStore) SaveHeader(ctx context.Context, h Header) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header = &h
	return nil
}

func (s *MemoryStore) Put(ctx context.Context, slot uint64, record []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[slot] = slices.Clone(record)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, slot uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[slot]
	if !ok {
		return nil, errspkg.ErrRecordNotFound
	}
	return slices.Clone(record), nil
}

func (s *MemoryStore) Scan(ctx context.Context, fn func(slot uint64, record []byte) error) error {
	s.mu.RLock()
	slots := make([]uint64, 0, len(s.records))
	for slot := range s.records {
		slots = append(slots, slot)
	}
	s.mu.RUnlock()
	slices.Sort(slots)

	for _, slot := range slots {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := s.Get(ctx, slot)
		if err != nil {
			return err
		}
		if err := fn(slot, record); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) PutDeadLetter(ctx context.Context, dl DeadLetter) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deadSeq[dl.Sequence]; ok {
		return false, nil
	}
	s.deadSeq[dl.Sequence] = struct{}{}
	dl.Payload = slices.Clone(dl.Payload)
	// kept in sequence order, matching the durable stores
	i, _ := slices.BinarySearchFunc(s.dead, dl.Sequence, func(d DeadLetter, seq uint64) int {
		return cmp.Compare(d.Sequence, seq)
	})
	s.dead = slices.Insert(s.dead, i, dl)
	return true, nil
}

func (s *MemoryStore) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.dead), nil
}

// Close is a no-op; the data stays available to a reopened Queue.
func (s *MemoryStore) Close() error { return nil }
