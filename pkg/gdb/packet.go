package gdb

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Packet is the on-wire envelope carrying one or more Objects between
// peers: a timestamp plus the objects that were pending at that instant,
// packed back-to-back into a single data_size-bounded body.
//
// Envelope layout (little-endian):
//
//	u64 timestamp_ns
//	u64 data_size   (length in bytes of the object records that follow)
//	u32 obj_count   (how many object records data_size holds)
//	[]byte          data_size bytes of concatenated object records
//
// Each object record:
//
//	u32 type
//	u16 group_len
//	[]byte group
//	u64 id
//	u64 timestamp_ns
//	u16 key_len
//	[]byte key
//	u64 value_len
//	[]byte value
type Packet struct {
	Timestamp time.Time
	Objects   []*Object
}

const envelopeHeaderLen = 8 + 8 + 4

// ErrTruncated is returned by DecodePacket/DecodeObject when the buffer
// ends before a field it needs is fully present.
type ErrTruncated struct {
	Field string
}

func (e *ErrTruncated) Error() string {
	return fmt.Sprintf("gdb: can't read %s: truncated packet", e.Field)
}

func truncated(field string) error {
	logrus.StandardLogger().Warnf("gdb: can't read %s: truncated packet", field)
	return &ErrTruncated{Field: field}
}

// EncodeObject serializes obj into one object record.
func EncodeObject(obj *Object) []byte {
	group := []byte(obj.Group)
	key := []byte(obj.Key)

	size := 4 + 2 + len(group) + 8 + 8 + 2 + len(key) + 8 + len(obj.Value)
	buf := make([]byte, size)
	pos := 0

	binary.LittleEndian.PutUint32(buf[pos:], uint32(obj.Op))
	pos += 4
	binary.LittleEndian.PutUint16(buf[pos:], uint16(len(group)))
	pos += 2
	pos += copy(buf[pos:], group)
	binary.LittleEndian.PutUint64(buf[pos:], obj.ID)
	pos += 8
	binary.LittleEndian.PutUint64(buf[pos:], uint64(obj.Timestamp.UnixNano()))
	pos += 8
	binary.LittleEndian.PutUint16(buf[pos:], uint16(len(key)))
	pos += 2
	pos += copy(buf[pos:], key)
	binary.LittleEndian.PutUint64(buf[pos:], uint64(len(obj.Value)))
	pos += 8
	copy(buf[pos:], obj.Value)

	return buf
}

// DecodeObject parses one object record from the front of buf, returning
// the object and the number of bytes it consumed. It never reads past
// len(buf): every length-prefixed field is checked against the remaining
// bytes before the slice that depends on it is taken.
func DecodeObject(buf []byte) (*Object, int, error) {
	pos := 0
	need := func(n int, field string) error {
		if n < 0 || len(buf)-pos < n {
			return truncated(field)
		}
		return nil
	}

	if err := need(4, "type"); err != nil {
		return nil, 0, err
	}
	typ := binary.LittleEndian.Uint32(buf[pos:])
	pos += 4

	if err := need(2, "group_len"); err != nil {
		return nil, 0, err
	}
	groupLen := int(binary.LittleEndian.Uint16(buf[pos:]))
	pos += 2
	if err := need(groupLen, "group"); err != nil {
		return nil, 0, err
	}
	group := string(buf[pos : pos+groupLen])
	pos += groupLen

	if err := need(8, "id"); err != nil {
		return nil, 0, err
	}
	id := binary.LittleEndian.Uint64(buf[pos:])
	pos += 8

	if err := need(8, "timestamp"); err != nil {
		return nil, 0, err
	}
	tsNs := binary.LittleEndian.Uint64(buf[pos:])
	pos += 8

	if err := need(2, "key_len"); err != nil {
		return nil, 0, err
	}
	keyLen := int(binary.LittleEndian.Uint16(buf[pos:]))
	pos += 2
	if err := need(keyLen, "key"); err != nil {
		return nil, 0, err
	}
	key := string(buf[pos : pos+keyLen])
	pos += keyLen

	if err := need(8, "value_len"); err != nil {
		return nil, 0, err
	}
	valueLen := int(binary.LittleEndian.Uint64(buf[pos:]))
	pos += 8
	if err := need(valueLen, "value"); err != nil {
		return nil, 0, err
	}
	var value []byte
	if valueLen > 0 {
		value = append([]byte(nil), buf[pos:pos+valueLen]...)
	}
	pos += valueLen

	obj := &Object{
		Group:     group,
		Key:       key,
		Value:     value,
		ID:        id,
		Op:        OpType(byte(typ)),
		Timestamp: time.Unix(0, int64(tsNs)),
	}
	return obj, pos, nil
}

// EncodePacket serializes objs into a single envelope stamped with ts.
func EncodePacket(ts time.Time, objs []*Object) []byte {
	var body []byte
	for _, obj := range objs {
		body = append(body, EncodeObject(obj)...)
	}

	buf := make([]byte, envelopeHeaderLen+len(body))
	binary.LittleEndian.PutUint64(buf[0:], uint64(ts.UnixNano()))
	binary.LittleEndian.PutUint64(buf[8:], uint64(len(body)))
	binary.LittleEndian.PutUint32(buf[16:], uint32(len(objs)))
	copy(buf[envelopeHeaderLen:], body)
	return buf
}

// DecodePacket parses a wire packet produced by EncodePacket. It bounds-
// checks data_size against the buffer before trusting it, then decodes
// obj_count object records out of the data_size-bounded body, bounds-
// checking every field of every object before it is dereferenced. A
// packet claiming more data than the buffer actually holds — or an
// object record whose lengths run past the body — is rejected with a
// *ErrTruncated and never causes a read outside buf.
func DecodePacket(buf []byte) (*Packet, error) {
	if len(buf) < envelopeHeaderLen {
		return nil, truncated("envelope header")
	}

	tsNs := binary.LittleEndian.Uint64(buf[0:])
	dataSize := binary.LittleEndian.Uint64(buf[8:])
	objCount := binary.LittleEndian.Uint32(buf[16:])

	available := uint64(len(buf) - envelopeHeaderLen)
	if dataSize > available {
		return nil, truncated("body")
	}
	body := buf[envelopeHeaderLen : envelopeHeaderLen+int(dataSize)]

	objs := make([]*Object, 0, objCount)
	pos := 0
	for i := uint32(0); i < objCount; i++ {
		obj, n, err := DecodeObject(body[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		objs = append(objs, obj)
	}

	return &Packet{Timestamp: time.Unix(0, int64(tsNs)), Objects: objs}, nil
}

// ZeroedID returns a copy of obj with ID zeroed, used by the sync
// package to compute a content hash that stays stable across the id
// reassignment that happens each time a record is queued for a peer.
func ZeroedID(obj *Object) *Object {
	cp := obj.Copy()
	cp.ID = 0
	return cp
}
