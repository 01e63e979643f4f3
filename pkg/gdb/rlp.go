package gdb

import (
	"time"

	"github.com/ethereum/go-ethereum/rlp"
)

// rlpObject is the RLP-friendly mirror of Object: RLP has no native
// notion of time.Time or a byte OpType, so every field is flattened to
// a string/[]byte/uint before handing off to rlp.EncodeToBytes.
type rlpObject struct {
	Group       string
	Key         string
	Value       []byte
	Flags       uint32
	Signature   []byte
	TimestampNs uint64
	CRC         uint64
	Op          uint8
	ID          uint64
}

// EncodeRLP serializes obj with RLP rather than the fixed-layout packet
// format from packet.go. The CLI's "global_db_dump" command uses this
// path: RLP's self-describing length prefixes make an ad-hoc inspection
// dump easier to pick apart than the wire packet codec, which is tuned
// for streaming through a known obj_count/data_size envelope instead.
func EncodeRLP(obj *Object) ([]byte, error) {
	ro := rlpObject{
		Group:       obj.Group,
		Key:         obj.Key,
		Value:       obj.Value,
		Flags:       uint32(obj.Flags),
		Signature:   obj.Signature,
		TimestampNs: uint64(obj.Timestamp.UnixNano()),
		CRC:         obj.CRC,
		Op:          byte(obj.Op),
		ID:          obj.ID,
	}
	return rlp.EncodeToBytes(&ro)
}

// DecodeRLP is EncodeRLP's inverse.
func DecodeRLP(buf []byte) (*Object, error) {
	var ro rlpObject
	if err := rlp.DecodeBytes(buf, &ro); err != nil {
		return nil, err
	}
	return &Object{
		Group:     ro.Group,
		Key:       ro.Key,
		Value:     ro.Value,
		Flags:     Flags(ro.Flags),
		Signature: ro.Signature,
		Timestamp: time.Unix(0, int64(ro.TimestampNs)),
		CRC:       ro.CRC,
		Op:        OpType(ro.Op),
		ID:        ro.ID,
	}, nil
}
