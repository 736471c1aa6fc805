package xtypes

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// EntityID is the 32-byte identifier of an entity (spec.md §3).
type EntityID [32]byte

func (e EntityID) String() string { return hex.EncodeToString(e[:]) }

func (e EntityID) Less(o EntityID) bool { return bytes.Compare(e[:], o[:]) < 0 }

func (e EntityID) IsZero() bool { return e == EntityID{} }

// TokenID identifies a fungible token inside the delta algebra.
// Metadata such as decimals lives outside the core per spec.md §4.1.
type TokenID uint32

// SignerID identifies a board member inside an entity's threshold
// signer set.
type SignerID string

// CanonicalKey is the "left:right" string key used to address an
// AccountMachine (spec.md §3, Glossary "canonical key").
type CanonicalKey string

// Canonical orders two entity ids lexicographically and returns
// (left, right, key). left < right always; the lower canonical key is
// defined to be the left side throughout §4.2's tie-break rules.
func Canonical(a, b EntityID) (left, right EntityID, key CanonicalKey) {
	if a.Less(b) {
		return a, b, CanonicalKey(fmt.Sprintf("%s:%s", a, b))
	}
	return b, a, CanonicalKey(fmt.Sprintf("%s:%s", b, a))
}

// IsLeft reports whether self is the canonical-left side of the pair
// (self, peer).
func IsLeft(self, peer EntityID) bool {
	return self.Less(peer)
}
