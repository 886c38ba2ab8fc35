package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjkern/gobinder/internal/wire"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteInt32(-7)
	w.WriteUint32(42)
	w.WriteInt64(-1234567890123)
	w.WriteUint64(9876543210)
	w.WriteFloat64(3.14159)
	w.WriteBool(true)
	w.WriteBool(false)

	r := NewReader(w.Bytes(), w.Offsets())
	i32, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-7), i32)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), u32)

	i64, err := r.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(-1234567890123), i64)

	u64, err := r.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(9876543210), u64)

	f, err := r.ReadFloat64()
	require.NoError(t, err)
	assert.InDelta(t, 3.14159, f, 1e-9)

	b1, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, b1)

	b2, err := r.ReadBool()
	require.NoError(t, err)
	assert.False(t, b2)
}

func TestString8RoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteString8("hello", false)
	w.WriteString8("", true)

	r := NewReader(w.Bytes(), w.Offsets())
	s, isNull, err := r.ReadString8()
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, "hello", s)

	_, isNull2, err := r.ReadString8()
	require.NoError(t, err)
	assert.True(t, isNull2)
}

func TestString16RoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteString16("android.os.IInterface", false)

	r := NewReader(w.Bytes(), w.Offsets())
	s, isNull, err := r.ReadString16()
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, "android.os.IInterface", s)
}

func TestByteArrayRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteByteArray([]byte{1, 2, 3, 4, 5})
	w.WriteByteArray(nil)

	r := NewReader(w.Bytes(), w.Offsets())
	data, err := r.ReadByteArray()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, data)

	nilData, err := r.ReadByteArray()
	require.NoError(t, err)
	assert.Nil(t, nilData)
}

func TestWriteObjectRecordsOffset(t *testing.T) {
	w := NewWriter()
	w.WriteInt32(1)
	idx := w.WriteObject(&wire.FlatBinderObject{Type: wire.BinderTypeHandle, Binder: 7})

	assert.Equal(t, 0, idx)
	require.Len(t, w.Offsets(), 1)

	r := NewReader(w.Bytes(), w.Offsets())
	_, err := r.ReadInt32()
	require.NoError(t, err)

	require.True(t, r.AtObject())
	obj, err := r.ReadObject()
	require.NoError(t, err)
	assert.Equal(t, wire.BinderTypeHandle, obj.Type)
	assert.Equal(t, uint64(7), obj.Binder)
}

func TestReadObjectRejectsMisalignedCursor(t *testing.T) {
	w := NewWriter()
	w.WriteInt32(1)
	w.WriteObject(&wire.FlatBinderObject{Type: wire.BinderTypeHandle, Binder: 7})

	r := NewReader(w.Bytes(), w.Offsets())
	_, err := r.ReadObject()
	assert.ErrorIs(t, err, ErrMisalignedObject)
}

func TestWriteFDProducesFDObject(t *testing.T) {
	w := NewWriter()
	w.WriteFD(11)

	r := NewReader(w.Bytes(), w.Offsets())
	obj, err := r.ReadObject()
	require.NoError(t, err)
	assert.Equal(t, wire.BinderTypeFD, obj.Type)
	assert.Equal(t, uint64(11), obj.Binder)
}

func TestBufferObjectWithParentLink(t *testing.T) {
	w := NewWriter()
	parentOffset := w.WriteRawBuffer([]byte("payload"))
	idx := w.WriteBufferObject(&wire.BinderBufferObject{
		Type:         wire.BinderTypePtr,
		Length:       7,
		ParentIndex:  0,
		ParentOffset: parentOffset,
	})
	assert.Equal(t, 0, idx)

	r := NewReader(w.Bytes(), w.Offsets())
	obj, err := r.ReadBufferObject()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), obj.Length)
	assert.Equal(t, parentOffset, obj.ParentOffset)
}

func TestWriterCleanupRunsInReverseOrder(t *testing.T) {
	w := NewWriter()
	var order []int
	w.AddCleanup(func() { order = append(order, 1) })
	w.AddCleanup(func() { order = append(order, 2) })
	w.Close()

	assert.Equal(t, []int{2, 1}, order)
}
