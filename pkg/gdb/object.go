// Package gdb implements the replicated global key/value store's driver
// contract: the Object (store object) model, its on-wire packet codec,
// and driver selection. Concrete storage engines are out of scope; this
// package ships one in-memory reference driver for tests and local-only
// operation.
package gdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Flags is the store-object flag bitmask.
type Flags uint32

const (
	FlagPinned Flags = 1 << iota
	FlagErase
	FlagNew
)

// OpType distinguishes an insert/update from a delete (tombstone) record.
type OpType byte

const (
	OpAdd OpType = 0x61
	OpDel OpType = 0x64
)

var groupKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._\-]{1,128}$`)

// ErrInvalidGroup is returned by Validate when Group fails the group-name
// pattern or length check.
var ErrInvalidGroup = errors.New("gdb: invalid group name")

// ErrKeyTooLong is returned by Validate when Key exceeds 512 bytes.
var ErrKeyTooLong = errors.New("gdb: key exceeds 512 bytes")

// ErrBlankHash is returned by Validate when DriverHash is all-zero.
var ErrBlankHash = errors.New("gdb: blank driver hash")

// Object is one record in the replicated store.
type Object struct {
	Group     string
	Key       string
	Value     []byte
	Flags     Flags
	Signature []byte
	Timestamp time.Time
	CRC       uint64
	Op        OpType

	// ID is the driver-assigned sequence number carried over the wire in
	// a Packet's object records (see EncodeObject/DecodeObject). It is
	// distinct from DriverHash, which addresses a record inside a single
	// driver instance; ID is what a peer's last-synced cursor advances
	// through a group.
	ID uint64
}

// Validate enforces the group/key shape and the non-blank-hash invariant.
// Erase tombstones targeting a missing group are allowed to skip the
// group-pattern check by callers (the batch-apply path), so Validate is
// deliberately strict and batch-apply decides when to bypass it.
func (o *Object) Validate() error {
	if !groupKeyPattern.MatchString(o.Group) {
		return ErrInvalidGroup
	}
	if len(o.Key) > 512 {
		return ErrKeyTooLong
	}
	if o.DriverHash() == ([16]byte{}) {
		return ErrBlankHash
	}
	return nil
}

// DriverHash returns the big-endian (timestamp_ns, crc) 16-byte key used
// to address this object inside a driver. An unset (zero) Timestamp
// contributes zero, so an object with neither timestamp nor CRC has the
// blank hash.
func (o *Object) DriverHash() [16]byte {
	var h [16]byte
	if !o.Timestamp.IsZero() {
		binary.BigEndian.PutUint64(h[:8], uint64(o.Timestamp.UnixNano()))
	}
	binary.BigEndian.PutUint64(h[8:], o.CRC)
	return h
}

// Copy returns a deep copy of o, preserving individual nil-ness of Value
// and Signature.
func (o *Object) Copy() *Object {
	cp := *o
	if o.Value != nil {
		cp.Value = append([]byte(nil), o.Value...)
	}
	if o.Signature != nil {
		cp.Signature = append([]byte(nil), o.Signature...)
	}
	return &cp
}

// CopyExtended deep-copies o and appends extra as a trailing opaque
// payload onto Value.
func (o *Object) CopyExtended(extra []byte) *Object {
	cp := o.Copy()
	cp.Value = append(cp.Value, extra...)
	return cp
}

func (o *Object) String() string {
	return fmt.Sprintf("gdb.Object{group=%s key=%s op=%#x ts=%s}", o.Group, o.Key, o.Op, o.Timestamp)
}
