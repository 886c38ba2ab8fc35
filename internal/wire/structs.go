package wire

import "unsafe"

// BinderWriteRead mirrors struct binder_write_read from the kernel UAPI
// header. WriteBuffer/ReadBuffer point at Go byte slices pinned for the
// duration of the ioctl by the caller.
type BinderWriteRead struct {
	WriteSize      uint64
	WriteConsumed  uint64
	WriteBuffer    uint64
	ReadSize       uint64
	ReadConsumed   uint64
	ReadBuffer     uint64
}

var _ [sizeofBinderWriteRead]byte = [unsafe.Sizeof(BinderWriteRead{})]byte{}

// TransactionData mirrors struct binder_transaction_data. The payload
// is always carried out of line through the Buffer/Offsets pointers.
type TransactionData struct {
	Handle      uint32 // target.handle (outbound) / target.ptr (inbound, via Cookie)
	Cookie      uint64 // target.ptr for inbound local-object transactions
	Code        uint32
	Flags       uint32
	SenderPID   int32
	SenderEUID  uint32
	DataSize    uint64
	OffsetsSize uint64
	Buffer      uint64 // pointer into the mmap'd region
	Offsets     uint64 // pointer into the mmap'd region
}

// FlatBinderObject mirrors struct flat_binder_object, the descriptor the
// kernel rewrites in place at each offset listed in a parcel's offsets
// array.
type FlatBinderObject struct {
	Type    uint32
	Flags   uint32
	Binder  uint64 // local: 0 (identity travels in Cookie); handle: remote handle
	Cookie  uint64 // local: LocalObject identity cookie
}

// BinderBufferObject mirrors struct binder_buffer_object, used by the
// hidl dialect for string/vector/hidl_memory payloads that live outside
// the flat parcel buffer.
type BinderBufferObject struct {
	Type         uint32
	Flags        uint32
	Buffer       uint64
	Length       uint64
	ParentIndex  uint64
	ParentOffset uint64
}

// BinderFDArrayObject mirrors struct binder_fd_array_object, used for
// hidl_vec<hidl_handle> descriptors embedded in a BinderBufferObject.
type BinderFDArrayObject struct {
	Type          uint32
	Flags         uint32
	NumFDs        uint64
	ParentIndex   uint64
	ParentOffset  uint64
}

// Command is a single length-prefixed entry produced while draining a
// return buffer: the BR_* code plus however many trailing bytes that
// code carries (0 for commands with no payload).
type Command struct {
	Code uint32
	Body []byte
}
