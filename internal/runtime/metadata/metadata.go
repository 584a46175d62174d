// Package metadata holds the string headers attached to forwarded records
// and the addressing block stamped on them.
package metadata

import "maps"

// Metadata is a set of string headers. The With methods never modify the
// receiver.
type Metadata map[string]string

// Clone returns a shallow copy. A nil receiver yields an empty, non-nil map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	maps.Copy(out, m)
	return out
}

// With returns a copy holding key=value in addition to the receiver's
// entries.
func (m Metadata) With(key, value string) Metadata {
	out := make(Metadata, len(m)+1)
	maps.Copy(out, m)
	out[key] = value
	return out
}

// WithAll returns a copy with entries merged in; entries win on conflict.
func (m Metadata) WithAll(entries Metadata) Metadata {
	out := make(Metadata, len(m)+len(entries))
	maps.Copy(out, m)
	maps.Copy(out, entries)
	return out
}

// New builds Metadata from key, value pairs. A trailing key without a value
// is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
