package queue

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
	"github.com/drblury/eventrelay/internal/runtime/jsoncodec"
)

var (
	boltRecordsBucket = []byte("records")
	boltMetaBucket    = []byte("meta")
	boltDeadBucket    = []byte("dead_letters")
	boltHeaderKey     = []byte("header")
)

// BoltStore keeps a queue in a bbolt file. Each queue name gets its own
// top-level bucket, so several queues can share one file.
type BoltStore struct {
	db    *bolt.DB
	name  string
	root  []byte
	owned bool
}

// NewBoltStore opens (or creates) the bbolt file at path and prepares the
// buckets of the named queue. Close releases the file.
func NewBoltStore(path, name string) (*BoltStore, error) {
	if name == "" {
		return nil, errspkg.ErrQueueNameRequired
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt file %s: %w", path, err)
	}
	store, err := OpenBoltStore(db, name)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// OpenBoltStore prepares the named queue inside an already open database.
// Close leaves the database open.
func OpenBoltStore(db *bolt.DB, name string) (*BoltStore, error) {
	if name == "" {
		return nil, errspkg.ErrQueueNameRequired
	}
	s := &BoltStore{db: db, name: name, root: []byte("eventrelay.queue." + name)}
	err := db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(s.root)
		if err != nil {
			return err
		}
		for _, child := range [][]byte{boltRecordsBucket, boltMetaBucket, boltDeadBucket} {
			if _, err := root.CreateBucketIfNotExists(child); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("prepare bolt buckets for %s: %w", name, err)
	}
	return s, nil
}

func (s *BoltStore) Name() string { return s.name }

func (s *BoltStore) bucket(tx *bolt.Tx, child []byte) (*bolt.Bucket, error) {
	root := tx.Bucket(s.root)
	if root == nil {
		return nil, fmt.Errorf("bolt bucket %s is missing", s.root)
	}
	b := root.Bucket(child)
	if b == nil {
		return nil, fmt.Errorf("bolt bucket %s/%s is missing", s.root, child)
	}
	return b, nil
}

func slotKey(slot uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, slot)
}

func (s *BoltStore) LoadHeader(ctx context.Context) (Header, bool, error) {
	if err := ctx.Err(); err != nil {
		return Header{}, false, err
	}
	var (
		h     Header
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		meta, err := s.bucket(tx, boltMetaBucket)
		if err != nil {
			return err
		}
		raw := meta.Get(boltHeaderKey)
		if raw == nil {
			return nil
		}
		if len(raw) != 16 {
			return fmt.Errorf("%w: header has %d bytes", errspkg.ErrCorruptRecord, len(raw))
		}
		h = Header{
			Capacity:  binary.BigEndian.Uint64(raw[:8]),
			Committed: binary.BigEndian.Uint64(raw[8:]),
		}
		found = true
		return nil
	})
	return h, found, err
}

func (s *BoltStore) SaveHeader(ctx context.Context, h Header) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw := binary.BigEndian.AppendUint64(nil, h.Capacity)
	raw = binary.BigEndian.AppendUint64(raw, h.Committed)
	return s.db.Update(func(tx *bolt.Tx) error {
		meta, err := s.bucket(tx, boltMetaBucket)
		if err != nil {
			return err
		}
		return meta.Put(boltHeaderKey, raw)
	})
}

func (s *BoltStore) Put(ctx context.Context, slot uint64, record []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		records, err := s.bucket(tx, boltRecordsBucket)
		if err != nil {
			return err
		}
		return records.Put(slotKey(slot), record)
	})
}

func (s *BoltStore) Get(ctx context.Context, slot uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		records, err := s.bucket(tx, boltRecordsBucket)
		if err != nil {
			return err
		}
		raw := records.Get(slotKey(slot))
		if raw == nil {
			return errspkg.ErrRecordNotFound
		}
		// values are only valid inside the transaction
		out = append([]byte(nil), raw...)
		return nil
	})
	return out, err
}

func (s *BoltStore) Scan(ctx context.Context, fn func(slot uint64, record []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		records, err := s.bucket(tx, boltRecordsBucket)
		if err != nil {
			return err
		}
		return records.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(k) != 8 {
				return fmt.Errorf("%w: slot key has %d bytes", errspkg.ErrCorruptRecord, len(k))
			}
			return fn(binary.BigEndian.Uint64(k), append([]byte(nil), v...))
		})
	})
}

// PutDeadLetter keys the dead-letter bucket by sequence, so a redelivered
// envelope is stored once.
func (s *BoltStore) PutDeadLetter(ctx context.Context, dl DeadLetter) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	raw, err := jsoncodec.Marshal(dl)
	if err != nil {
		return false, err
	}
	added := false
	err = s.db.Update(func(tx *bolt.Tx) error {
		dead, err := s.bucket(tx, boltDeadBucket)
		if err != nil {
			return err
		}
		key := slotKey(dl.Sequence)
		if dead.Get(key) != nil {
			return nil
		}
		added = true
		return dead.Put(key, raw)
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

func (s *BoltStore) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []DeadLetter
	err := s.db.View(func(tx *bolt.Tx) error {
		dead, err := s.bucket(tx, boltDeadBucket)
		if err != nil {
			return err
		}
		return dead.ForEach(func(_, v []byte) error {
			var dl DeadLetter
			if err := jsoncodec.Unmarshal(v, &dl); err != nil {
				return err
			}
			out = append(out, dl)
			return nil
		})
	})
	return out, err
}

// Close closes the database when the store opened it.
func (s *BoltStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
