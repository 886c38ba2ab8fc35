package smproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjkern/gobinder/internal/codec"
)

func TestEncodeGetRequestAidl(t *testing.T) {
	data, offsets := EncodeGetRequest(Aidl, "hello.Service")
	assert.Empty(t, offsets)
	r := codec.NewReader(data, offsets)

	flags, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(0), flags)

	descriptor, isNull, err := r.ReadString16()
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, AidlDescriptor, descriptor)

	name, isNull, err := r.ReadString16()
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, "hello.Service", name)
}

func TestEncodeGetRequestHidl(t *testing.T) {
	data, offsets := EncodeGetRequest(Hidl, "android.hidl.base@1.0::IBase/test")
	r := codec.NewReader(data, offsets)

	descriptor, _, err := r.ReadString8()
	require.NoError(t, err)
	assert.Equal(t, HidlDescriptor, descriptor)

	name, _, err := r.ReadString8()
	require.NoError(t, err)
	assert.Equal(t, "android.hidl.base@1.0::IBase/test", name)
}

func TestDecodeListEntryEndOfList(t *testing.T) {
	w := codec.NewWriter()
	w.WriteString16("", true)
	r := codec.NewReader(w.Bytes(), w.Offsets())

	_, ok, err := DecodeListEntry(r)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeListVector(t *testing.T) {
	w := codec.NewWriter()
	w.WriteInt32(2)
	w.WriteString8("one", false)
	w.WriteString8("two", false)
	r := codec.NewReader(w.Bytes(), w.Offsets())

	names, err := DecodeListVector(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, names)
}

func TestDecodeNotification(t *testing.T) {
	w := codec.NewWriter()
	w.WriteString8("android.hidl.base@1.0::IBase", false)
	w.WriteString8("test", false)
	w.WriteBool(true)
	r := codec.NewReader(w.Bytes(), w.Offsets())

	n, err := DecodeNotification(r)
	require.NoError(t, err)
	assert.Equal(t, "android.hidl.base@1.0::IBase", n.FqInterface)
	assert.Equal(t, "test", n.Instance)
	assert.True(t, n.Preexisting)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "android.hidl.base@1.0::IBase", NormalizeName(Hidl, "android.hidl.base@1.0::IBase/test"))
	assert.Equal(t, "hello.Service", NormalizeName(Aidl, "hello.Service"))
}

func TestDialectCodes(t *testing.T) {
	assert.Equal(t, uint32(AidlGet), Aidl.GetCode())
	assert.Equal(t, uint32(AidlCheck), Aidl.CheckCode())
	assert.Equal(t, uint32(HidlGet), Hidl.GetCode())
	assert.Equal(t, uint32(HidlGet), Hidl.CheckCode())
	assert.Equal(t, uint32(HidlAdd), Hidl.AddCode())
	assert.Equal(t, uint32(HidlList), Hidl.ListCode())
}
