// Package xhash implements the deterministic hash function H required
// by spec.md §6.4 and the canonical encodings §6's "Persisted formats"
// section depends on. Grounded on the teacher's consensus/hash.go
// (sha3-256 over a byte string), generalized from a single unexported
// helper to the exported, composable H used by every frame/proof/Hanko
// digest in this module.
package xhash

import (
	"encoding/binary"
	"encoding/hex"
	"sort"

	"golang.org/x/crypto/sha3"
)

// Hash is the 32-byte deterministic digest used uniformly across the
// core (spec.md §6.4).
type Hash [32]byte

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// H hashes the concatenation of its inputs with sha3-256. It is the
// single hash primitive every frame/proof/Hanko digest in this module
// is built from.
func H(parts ...[]byte) Hash {
	d := sha3.New256()
	for _, p := range parts {
		_, _ = d.Write(p)
	}
	var out Hash
	copy(out[:], d.Sum(nil))
	return out
}

// Uint64LE encodes n as 8 little-endian bytes, matching the teacher's
// wire-encoding convention (consensus/compactsize*.go family) used
// wherever a fixed-width integer needs to enter a hash preimage.
func Uint64LE(n uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return b
}

// Uint32LE mirrors Uint64LE for 32-bit fields (e.g. TokenID).
func Uint32LE(n uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return b
}

// SortStrings returns a freshly sorted copy, used wherever a
// deterministic digest must not depend on map iteration order (e.g.
// sort_by_tokenId, sort_by_lockId, sort_by_offerId in spec.md §6).
func SortStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
