// Package hashring implements the consistent-hash ring that maps key hashes
// to owning nodes.
//
// A Ring is an immutable snapshot: lookups never lock and may run
// concurrently with a cluster operation. Topology changes go through a
// Builder, which is a private working copy (the candidate ring) until Build
// produces the next snapshot.
package hashring

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Hash is a position on the ring. The hash space is the full uint64 range.
type Hash uint64

// ComputeHash returns the deterministic ring position of s. It is used for
// node identity (host:port) and for data keys.
func ComputeHash(s string) Hash {
	return Hash(xxhash.Sum64String(s))
}

// String renders the hash as fixed-width hex.
func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// MarshalText encodes the hash as decimal so JSON consumers keep full precision.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(h), 10)), nil
}

// UnmarshalText parses a decimal hash.
func (h *Hash) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid hash %q: %w", text, err)
	}
	*h = Hash(v)
	return nil
}

// Range is an ownership arc (Start, End]. Start is the predecessor's hash
// and End the owner's hash. Start == End covers the whole space.
type Range struct {
	Start Hash `json:"start"`
	End   Hash `json:"end"`
}

// Contains applies the ownership predicate:
//
//	Start <  End: Start < h <= End
//	Start == End: every h
//	Start >  End: h > Start or h <= End (wraparound)
func (r Range) Contains(h Hash) bool {
	switch {
	case r.Start < r.End:
		return h > r.Start && h <= r.End
	case r.Start == r.End:
		return true
	default:
		return h > r.Start || h <= r.End
	}
}

// ContainsKey reports whether the hash of key falls in the range.
func (r Range) ContainsKey(key string) bool {
	return r.Contains(ComputeHash(key))
}

// Full reports whether the range covers the whole hash space.
func (r Range) Full() bool {
	return r.Start == r.End
}

func (r Range) String() string {
	return fmt.Sprintf("(%s, %s]", r.Start, r.End)
}
