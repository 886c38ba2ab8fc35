package wire

import (
	"encoding/binary"
	"fmt"
)

// MarshalError mirrors the teacher's lightweight string-based error type
// used for wire-layer failures that never need wrapping.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
	ErrUnknownCommand   MarshalError = "unrecognized return command"
)

// Marshal encodes a BinderWriteRead into the 48-byte layout the ioctl
// expects.
func Marshal(v *BinderWriteRead) []byte {
	buf := make([]byte, sizeofBinderWriteRead)
	binary.LittleEndian.PutUint64(buf[0:8], v.WriteSize)
	binary.LittleEndian.PutUint64(buf[8:16], v.WriteConsumed)
	binary.LittleEndian.PutUint64(buf[16:24], v.WriteBuffer)
	binary.LittleEndian.PutUint64(buf[24:32], v.ReadSize)
	binary.LittleEndian.PutUint64(buf[32:40], v.ReadConsumed)
	binary.LittleEndian.PutUint64(buf[40:48], v.ReadBuffer)
	return buf
}

// Unmarshal reads back the consumed counters the kernel updates in
// place; ReadBuffer/WriteBuffer pointers are never re-read since the
// caller already owns those slices.
func Unmarshal(data []byte, v *BinderWriteRead) error {
	if len(data) < sizeofBinderWriteRead {
		return ErrInsufficientData
	}
	v.WriteSize = binary.LittleEndian.Uint64(data[0:8])
	v.WriteConsumed = binary.LittleEndian.Uint64(data[8:16])
	v.ReadSize = binary.LittleEndian.Uint64(data[24:32])
	v.ReadConsumed = binary.LittleEndian.Uint64(data[32:40])
	return nil
}

const sizeofTransactionData = 56
const sizeofFlatBinderObject = 24
const sizeofBinderBufferObject = 40
const sizeofBinderFDArrayObject = 32

// Exported sizes for packages (e.g. internal/codec) that need to know a
// descriptor's on-wire footprint without duplicating the constant.
const (
	SizeofFlatBinderObject   = sizeofFlatBinderObject
	SizeofBinderBufferObject = sizeofBinderBufferObject
)

// MarshalTransactionData encodes struct binder_transaction_data.
func MarshalTransactionData(t *TransactionData) []byte {
	buf := make([]byte, sizeofTransactionData)
	binary.LittleEndian.PutUint64(buf[0:8], t.Cookie)
	if t.Handle != 0 {
		binary.LittleEndian.PutUint64(buf[0:8], uint64(t.Handle))
	}
	binary.LittleEndian.PutUint32(buf[8:12], t.Code)
	binary.LittleEndian.PutUint32(buf[12:16], t.Flags)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(t.SenderPID))
	binary.LittleEndian.PutUint32(buf[20:24], t.SenderEUID)
	binary.LittleEndian.PutUint64(buf[24:32], t.DataSize)
	binary.LittleEndian.PutUint64(buf[32:40], t.OffsetsSize)
	binary.LittleEndian.PutUint64(buf[40:48], t.Buffer)
	binary.LittleEndian.PutUint64(buf[48:56], t.Offsets)
	return buf
}

// UnmarshalTransactionData decodes struct binder_transaction_data.
func UnmarshalTransactionData(data []byte) (*TransactionData, error) {
	if len(data) < sizeofTransactionData {
		return nil, ErrInsufficientData
	}
	t := &TransactionData{
		Cookie:      binary.LittleEndian.Uint64(data[0:8]),
		Code:        binary.LittleEndian.Uint32(data[8:12]),
		Flags:       binary.LittleEndian.Uint32(data[12:16]),
		SenderPID:   int32(binary.LittleEndian.Uint32(data[16:20])),
		SenderEUID:  binary.LittleEndian.Uint32(data[20:24]),
		DataSize:    binary.LittleEndian.Uint64(data[24:32]),
		OffsetsSize: binary.LittleEndian.Uint64(data[32:40]),
		Buffer:      binary.LittleEndian.Uint64(data[40:48]),
		Offsets:     binary.LittleEndian.Uint64(data[48:56]),
	}
	t.Handle = uint32(t.Cookie)
	return t, nil
}

// MarshalFlatBinderObject encodes struct flat_binder_object.
func MarshalFlatBinderObject(o *FlatBinderObject) []byte {
	buf := make([]byte, sizeofFlatBinderObject)
	binary.LittleEndian.PutUint32(buf[0:4], o.Type)
	binary.LittleEndian.PutUint32(buf[4:8], o.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], o.Binder)
	binary.LittleEndian.PutUint64(buf[16:24], o.Cookie)
	return buf
}

// UnmarshalFlatBinderObject decodes struct flat_binder_object.
func UnmarshalFlatBinderObject(data []byte) (*FlatBinderObject, error) {
	if len(data) < sizeofFlatBinderObject {
		return nil, ErrInsufficientData
	}
	return &FlatBinderObject{
		Type:   binary.LittleEndian.Uint32(data[0:4]),
		Flags:  binary.LittleEndian.Uint32(data[4:8]),
		Binder: binary.LittleEndian.Uint64(data[8:16]),
		Cookie: binary.LittleEndian.Uint64(data[16:24]),
	}, nil
}

// MarshalBinderBufferObject encodes struct binder_buffer_object.
func MarshalBinderBufferObject(o *BinderBufferObject) []byte {
	buf := make([]byte, sizeofBinderBufferObject)
	binary.LittleEndian.PutUint32(buf[0:4], o.Type)
	binary.LittleEndian.PutUint32(buf[4:8], o.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], o.Buffer)
	binary.LittleEndian.PutUint64(buf[16:24], o.Length)
	binary.LittleEndian.PutUint64(buf[24:32], o.ParentIndex)
	binary.LittleEndian.PutUint64(buf[32:40], o.ParentOffset)
	return buf
}

// UnmarshalBinderBufferObject decodes struct binder_buffer_object.
func UnmarshalBinderBufferObject(data []byte) (*BinderBufferObject, error) {
	if len(data) < sizeofBinderBufferObject {
		return nil, ErrInsufficientData
	}
	return &BinderBufferObject{
		Type:         binary.LittleEndian.Uint32(data[0:4]),
		Flags:        binary.LittleEndian.Uint32(data[4:8]),
		Buffer:       binary.LittleEndian.Uint64(data[8:16]),
		Length:       binary.LittleEndian.Uint64(data[16:24]),
		ParentIndex:  binary.LittleEndian.Uint64(data[24:32]),
		ParentOffset: binary.LittleEndian.Uint64(data[32:40]),
	}, nil
}

// CommandWriter accumulates a BC_* command stream into a single write
// buffer, the same role the teacher's queue entries play for io_uring
// SQEs: batched up, then submitted with one syscall.
type CommandWriter struct {
	buf []byte
}

// NewCommandWriter returns an empty command batch.
func NewCommandWriter() *CommandWriter { return &CommandWriter{} }

func (w *CommandWriter) putUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Simple puts a bare command code with no payload (BC_ENTER_LOOPER,
// BC_EXIT_LOOPER, BC_REGISTER_LOOPER).
func (w *CommandWriter) Simple(code uint32) {
	w.putUint32(code)
}

// Handle puts a command code followed by a single uint32 handle
// (BC_ACQUIRE, BC_RELEASE, BC_INCREFS, BC_DECREFS; BC_ACQUIRE_DONE
// takes a pointer+cookie pair instead and uses Cookie).
func (w *CommandWriter) Handle(code, handle uint32) {
	w.putUint32(code)
	w.putUint32(handle)
}

// Cookie puts a command code followed by a pointer+cookie pair
// (BC_INCREFS_DONE, BC_ACQUIRE_DONE).
func (w *CommandWriter) Cookie(code uint32, ptr, cookie uint64) {
	w.putUint32(code)
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], ptr)
	binary.LittleEndian.PutUint64(b[8:16], cookie)
	w.buf = append(w.buf, b[:]...)
}

// FreeBuffer puts BC_FREE_BUFFER with the buffer pointer to release.
func (w *CommandWriter) FreeBuffer(ptr uint64) {
	w.putUint32(BCFreeBuffer)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], ptr)
	w.buf = append(w.buf, b[:]...)
}

// DeathNotify puts BC_REQUEST_DEATH_NOTIFICATION / BC_CLEAR_DEATH_NOTIFICATION.
func (w *CommandWriter) DeathNotify(code uint32, handle uint32, cookie uint64) {
	w.putUint32(code)
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:4], handle)
	binary.LittleEndian.PutUint64(b[4:12], cookie)
	w.buf = append(w.buf, b[:]...)
}

// Transaction puts BC_TRANSACTION or BC_REPLY with its fixed-size data.
func (w *CommandWriter) Transaction(code uint32, t *TransactionData) {
	w.putUint32(code)
	w.buf = append(w.buf, MarshalTransactionData(t)...)
}

// Bytes returns the accumulated write buffer.
func (w *CommandWriter) Bytes() []byte { return w.buf }

// Len reports the current batch size in bytes.
func (w *CommandWriter) Len() int { return len(w.buf) }

// Reset empties the batch for reuse.
func (w *CommandWriter) Reset() { w.buf = w.buf[:0] }

// sizeofReturnPayload maps a BR_* code to the number of trailing bytes
// it carries in the read buffer, mirroring the kernel's binder_thread_read
// switch. Variable-length (BR_TRANSACTION/BR_REPLY) are handled specially
// by CommandReader.Next.
var sizeofReturnPayload = map[uint32]int{
	BRError:                4,
	BRAcquireResult:        4,
	BRDeadReply:            0,
	BRTransactionComplete:  0,
	BRIncrefs:              16,
	BRAcquire:              16,
	BRRelease:              16,
	BRDecrefs:              16,
	BRAttemptAcquire:       16,
	BRNoop:                 0,
	BRSpawnLooper:          0,
	BRFinished:             0,
	BRDeadBinder:           8,
	BRClearDeathNotifyDone: 8,
	BRFailedReply:          0,
	BRFrozenReply:          0,
}

// CommandReader walks a return buffer one BR_* command at a time.
type CommandReader struct {
	buf []byte
	pos int
}

// NewCommandReader wraps a read buffer produced by a BINDER_WRITE_READ
// call, truncated to ReadConsumed bytes by the caller.
func NewCommandReader(buf []byte) *CommandReader {
	return &CommandReader{buf: buf}
}

// Next returns the next command, or (Command{}, false) at end of buffer.
func (r *CommandReader) Next() (Command, bool, error) {
	if r.pos >= len(r.buf) {
		return Command{}, false, nil
	}
	if r.pos+4 > len(r.buf) {
		return Command{}, false, ErrInsufficientData
	}
	code := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4

	var size int
	switch code {
	case BRTransaction, BRReply:
		size = sizeofTransactionData
	default:
		var ok bool
		size, ok = sizeofReturnPayload[code]
		if !ok {
			return Command{}, false, fmt.Errorf("%w: 0x%x", ErrUnknownCommand, code)
		}
	}

	if r.pos+size > len(r.buf) {
		return Command{}, false, ErrInsufficientData
	}
	body := r.buf[r.pos : r.pos+size]
	r.pos += size
	return Command{Code: code, Body: body}, true, nil
}
