// Package u256 wraps github.com/holiman/uint256 with a handful of 256-bit
// operations (add, sub, compare, big-endian bytes round-trip) instead of
// hand-rolling 256-bit math. No other corenet package imports it: pkg/gdb
// composes driver hashes with encoding/binary.
package u256

import "github.com/holiman/uint256"

// Int is a 256-bit unsigned integer.
type Int struct {
	v uint256.Int
}

// FromBytes interprets b as a big-endian 256-bit integer (b may be shorter
// than 32 bytes; it is treated as the low-order bytes).
func FromBytes(b []byte) Int {
	var out Int
	out.v.SetBytes(b)
	return out
}

// FromUint64 builds an Int from a uint64.
func FromUint64(v uint64) Int {
	var out Int
	out.v.SetUint64(v)
	return out
}

// Bytes32 returns the big-endian 32-byte representation.
func (i Int) Bytes32() [32]byte {
	return i.v.Bytes32()
}

// Add returns i+other.
func (i Int) Add(other Int) Int {
	var out Int
	out.v.Add(&i.v, &other.v)
	return out
}

// Sub returns i-other.
func (i Int) Sub(other Int) Int {
	var out Int
	out.v.Sub(&i.v, &other.v)
	return out
}

// Cmp compares i to other: -1, 0, or 1.
func (i Int) Cmp(other Int) int {
	return i.v.Cmp(&other.v)
}

// IsZero reports whether the integer is zero.
func (i Int) IsZero() bool { return i.v.IsZero() }

// String returns the decimal representation.
func (i Int) String() string { return i.v.Dec() }
