package gdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleObject() *Object {
	return &Object{
		Group:     "group.name",
		Key:       "key1",
		Value:     []byte("value-bytes"),
		Signature: []byte("sig"),
		Timestamp: time.Unix(1700000000, 123),
		CRC:       0xdeadbeef,
		Op:        OpAdd,
		ID:        42,
	}
}

func TestObjectRLPRoundTrip(t *testing.T) {
	obj := sampleObject()
	wire, err := EncodeRLP(obj)
	require.NoError(t, err)

	got, err := DecodeRLP(wire)
	require.NoError(t, err)
	require.Equal(t, obj.Group, got.Group)
	require.Equal(t, obj.Key, got.Key)
	require.Equal(t, obj.Value, got.Value)
	require.Equal(t, obj.Signature, got.Signature)
	require.Equal(t, obj.CRC, got.CRC)
	require.Equal(t, obj.Op, got.Op)
	require.Equal(t, obj.ID, got.ID)
	require.Equal(t, obj.Timestamp.UnixNano(), got.Timestamp.UnixNano())
}

func TestPacketRoundTrip(t *testing.T) {
	obj := sampleObject()
	ts := time.Unix(1700000500, 0)
	wire := EncodePacket(ts, []*Object{obj})

	pkt, err := DecodePacket(wire)
	require.NoError(t, err)
	require.Equal(t, ts.UnixNano(), pkt.Timestamp.UnixNano())
	require.Len(t, pkt.Objects, 1)

	got := pkt.Objects[0]
	require.Equal(t, obj.Group, got.Group)
	require.Equal(t, obj.Key, got.Key)
	require.Equal(t, obj.Value, got.Value)
	require.Equal(t, obj.Op, got.Op)
	require.Equal(t, obj.ID, got.ID)
	require.Equal(t, obj.Timestamp.UnixNano(), got.Timestamp.UnixNano())
	// Flags/Signature/CRC have no wire representation in this packet
	// format: they are driver-local bookkeeping, not replicated.
	require.Zero(t, got.Flags)
	require.Nil(t, got.Signature)
}

func TestPacketRoundTripMultipleObjects(t *testing.T) {
	a := sampleObject()
	b := sampleObject()
	b.Key = "key2"
	b.ID = 43
	ts := time.Now()

	wire := EncodePacket(ts, []*Object{a, b})
	pkt, err := DecodePacket(wire)
	require.NoError(t, err)
	require.Len(t, pkt.Objects, 2)
	require.Equal(t, "key1", pkt.Objects[0].Key)
	require.Equal(t, "key2", pkt.Objects[1].Key)
}

func TestPacketRoundTripEmptyFields(t *testing.T) {
	obj := &Object{Group: "g", Key: "", Timestamp: time.Unix(1, 0), Op: OpDel}
	wire := EncodePacket(time.Now(), []*Object{obj})

	pkt, err := DecodePacket(wire)
	require.NoError(t, err)
	require.Len(t, pkt.Objects, 1)
	require.Equal(t, "", pkt.Objects[0].Key)
	require.Nil(t, pkt.Objects[0].Value)
}

func TestDecodePacketRejectsTruncatedEnvelope(t *testing.T) {
	_, err := DecodePacket([]byte{1, 2, 3})
	require.Error(t, err)
}

// TestDecodePacketRejectsOverclaimedDataSize is the scenario a packet
// claiming obj_count=1, data_size=1_000_000 with only a short tail must
// hit: DecodePacket must reject it without ever slicing past the buffer.
func TestDecodePacketRejectsOverclaimedDataSize(t *testing.T) {
	buf := make([]byte, envelopeHeaderLen+40)
	// timestamp bytes left zero
	for i, b := range uint64ToLE(1_000_000) {
		buf[8+i] = b
	}
	for i, b := range uint32ToLE(1) {
		buf[16+i] = b
	}

	_, err := DecodePacket(buf)
	require.Error(t, err)
	var trunc *ErrTruncated
	require.ErrorAs(t, err, &trunc)
}

func TestDecodePacketRejectsTruncatedBody(t *testing.T) {
	obj := sampleObject()
	wire := EncodePacket(time.Now(), []*Object{obj})
	truncated := wire[:len(wire)-3]
	_, err := DecodePacket(truncated)
	require.Error(t, err)
}

func TestDecodePacketNeverReadsPastBuffer(t *testing.T) {
	obj := sampleObject()
	wire := EncodePacket(time.Now(), []*Object{obj})
	for n := 0; n < len(wire); n++ {
		_, _ = DecodePacket(wire[:n]) // must not panic for any prefix length
	}
}

func uint64ToLE(v uint64) []byte {
	b := make([]byte, 8)
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func uint32ToLE(v uint32) []byte {
	b := make([]byte, 4)
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func TestDriverHashNonZeroForValidObject(t *testing.T) {
	obj := sampleObject()
	h := obj.DriverHash()
	require.NotEqual(t, [16]byte{}, h)
	require.NoError(t, obj.Validate())
}

func TestValidateRejectsBlankHash(t *testing.T) {
	obj := &Object{Group: "g", Key: "k"}
	require.ErrorIs(t, obj.Validate(), ErrBlankHash)
}

func TestValidateRejectsBadGroup(t *testing.T) {
	obj := sampleObject()
	obj.Group = "bad group!"
	require.ErrorIs(t, obj.Validate(), ErrInvalidGroup)
}

func TestCopyDeepCopiesAndPreservesNilness(t *testing.T) {
	obj := sampleObject()
	obj.Signature = nil
	cp := obj.Copy()
	require.Nil(t, cp.Signature)

	cp.Value[0] = 'X'
	require.NotEqual(t, byte('X'), obj.Value[0])
}

func TestCopyExtendedAppendsPayload(t *testing.T) {
	obj := sampleObject()
	cp := obj.CopyExtended([]byte("extra"))
	require.True(t, len(cp.Value) > len(obj.Value))
	require.Equal(t, append(append([]byte(nil), obj.Value...), []byte("extra")...), cp.Value)
	require.NotEqual(t, cp.Value, obj.Value)
}

func TestOpenComposesPath(t *testing.T) {
	p, err := Open("sqlite3", "/var/lib/corenet")
	require.NoError(t, err)
	require.Equal(t, "/var/lib/corenet/gdb-sqlite3", p)
}

func TestOpenRejectsUnsupportedDriver(t *testing.T) {
	_, err := Open("berkeleydb", "/var/lib/corenet")
	require.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestMemDriverApplyAndRead(t *testing.T) {
	drv := NewMemDriver()
	obj := sampleObject()
	require.NoError(t, drv.ApplyStoreObj(obj))

	key := obj.Key
	count := 1
	got, err := drv.ReadStoreObj(obj.Group, &key, &count, true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, obj.Key, got[0].Key)
}

func TestMemDriverAssignsSequentialID(t *testing.T) {
	drv := NewMemDriver()
	a := sampleObject()
	a.ID = 0
	b := sampleObject()
	b.Key = "key2"
	b.ID = 0
	require.NoError(t, drv.ApplyStoreObj(a))
	require.NoError(t, drv.ApplyStoreObj(b))

	got, err := drv.ReadStoreObj(a.Group, nil, nil, true)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotZero(t, got[0].ID)
	require.NotEqual(t, got[0].ID, got[1].ID)
}

func TestMemDriverEraseNotFound(t *testing.T) {
	drv := NewMemDriver()
	obj := sampleObject()
	obj.Flags |= FlagErase
	require.ErrorIs(t, drv.ApplyStoreObj(obj), ErrNotFound)
}

func TestMemDriverTransactionRollback(t *testing.T) {
	drv := NewMemDriver()
	_ = drv.ApplyStoreObj(sampleObject())

	obj2 := sampleObject()
	obj2.Key = "key2"
	objs := []*Object{sampleObject(), obj2}
	objs[0].Value = []byte("updated")

	_ = drv.TransactionStart()
	_ = drv.ApplyStoreObj(objs[0])
	_ = drv.ApplyStoreObj(objs[1])
	_ = drv.TransactionEnd(false)

	count, _ := drv.ReadCountStore("group.name")
	require.Equal(t, 1, count)
}

func TestApplyBatchSkipsBlankHash(t *testing.T) {
	drv := NewMemDriver()
	blank := &Object{Group: "g", Key: "k"}
	good := sampleObject()
	require.NoError(t, ApplyBatch(drv, []*Object{blank, good}, nil))

	ok, _ := drv.IsObj(good.Group, good.Key)
	require.True(t, ok)
	ok, _ = drv.IsObj("g", "k")
	require.False(t, ok)
}

func TestGetGroupsByMask(t *testing.T) {
	drv := NewMemDriver()
	_ = drv.ApplyStoreObj(&Object{Group: "local.connections.statistic", Key: "a", Timestamp: time.Unix(1, 0), CRC: 1})
	_ = drv.ApplyStoreObj(&Object{Group: "local.nodes.ignored", Key: "b", Timestamp: time.Unix(2, 0), CRC: 2})
	groups, err := drv.GetGroupsByMask("local.*")
	require.NoError(t, err)
	require.Len(t, groups, 2)
}
