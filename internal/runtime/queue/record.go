package queue

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"time"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
)

// Envelope is one persisted queue entry.
type Envelope struct {
	Sequence   uint64
	EnqueuedAt time.Time
	TypeName   string
	Payload    []byte
}

// Record layout, big endian:
//
//	version    u8
//	sequence   u64
//	enqueuedAt i64 (unix nanos)
//	typeLen    u32, typeName
//	payloadLen u32, payload
//	crc32      u32 (IEEE, over everything before it)
const (
	recordVersion    = 1
	recordFixedBytes = 1 + 8 + 8 + 4 + 4 + 4
)

func encodeRecord(env Envelope) ([]byte, error) {
	if len(env.TypeName) > math.MaxUint32 || len(env.Payload) > math.MaxUint32 {
		return nil, fmt.Errorf("record %d too large", env.Sequence)
	}
	buf := make([]byte, 0, recordFixedBytes+len(env.TypeName)+len(env.Payload))
	buf = append(buf, recordVersion)
	buf = binary.BigEndian.AppendUint64(buf, env.Sequence)
	buf = binary.BigEndian.AppendUint64(buf, uint64(env.EnqueuedAt.UnixNano()))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(env.TypeName)))
	buf = append(buf, env.TypeName...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(env.Payload)))
	buf = append(buf, env.Payload...)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	return buf, nil
}

func decodeRecord(raw []byte) (Envelope, error) {
	if len(raw) < recordFixedBytes {
		return Envelope{}, fmt.Errorf("%w: %d bytes is shorter than the fixed header", errspkg.ErrCorruptRecord, len(raw))
	}
	body, sum := raw[:len(raw)-4], binary.BigEndian.Uint32(raw[len(raw)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return Envelope{}, fmt.Errorf("%w: checksum mismatch", errspkg.ErrCorruptRecord)
	}
	if body[0] != recordVersion {
		return Envelope{}, fmt.Errorf("%w: unknown version %d", errspkg.ErrCorruptRecord, body[0])
	}

	r := reader{buf: body[1:]}
	seq := r.uint64()
	nanos := int64(r.uint64())
	typeName := r.bytes()
	payload := r.bytes()
	if r.err != nil || len(r.buf) != 0 {
		return Envelope{}, fmt.Errorf("%w: length prefixes do not match record size", errspkg.ErrCorruptRecord)
	}

	return Envelope{
		Sequence:   seq,
		EnqueuedAt: time.Unix(0, nanos).UTC(),
		TypeName:   string(typeName),
		Payload:    payload,
	}, nil
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) uint64() uint64 {
	if r.err != nil || len(r.buf) < 8 {
		r.err = errspkg.ErrCorruptRecord
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf)
	r.buf = r.buf[8:]
	return v
}

func (r *reader) bytes() []byte {
	if r.err != nil || len(r.buf) < 4 {
		r.err = errspkg.ErrCorruptRecord
		return nil
	}
	n := binary.BigEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	if uint64(len(r.buf)) < uint64(n) {
		r.err = errspkg.ErrCorruptRecord
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[:n])
	r.buf = r.buf[n:]
	return out
}
