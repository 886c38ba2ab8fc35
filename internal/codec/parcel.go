// Package codec implements the blob codec: an append-only parcel writer
// and a cursor reader, generalizing the teacher's manual-marshal style
// in internal/uapi/marshal.go from a single fixed-shape control command
// to a self-describing byte stream carrying an offset list of embedded
// object descriptors.
package codec

import (
	"encoding/binary"
	"math"
	"unicode/utf16"

	"github.com/mjkern/gobinder/internal/wire"
)

// CodecError mirrors the teacher's wire-layer MarshalError: a bare
// string-error type for failures that never need wrapping.
type CodecError string

func (e CodecError) Error() string { return string(e) }

const (
	ErrShortRead        CodecError = "codec: short read"
	ErrMisalignedObject CodecError = "codec: cursor is not positioned at a recorded object offset"
	ErrNegativeLength   CodecError = "codec: negative length prefix"
)

// Writer is an append-only parcel builder. Primitives are written on
// 4-byte boundaries, and so are flat_binder_object descriptors;
// binder_buffer_object descriptors and raw buffers are written on 8-byte
// boundaries. Every object written is
// recorded in Offsets so the caller can hand both the bytes and the
// offset list to the driver.
type Writer struct {
	buf     []byte
	offsets []uint64
	cleanup []func()
}

// NewWriter returns an empty parcel writer.
func NewWriter() *Writer {
	return &Writer{}
}

// FromRaw wraps an already-encoded buffer and offset list as a Writer,
// for callers (e.g. the bridge) that repackage a parcel translated
// outside the codec package rather than building one field by field.
func FromRaw(buf []byte, offsets []uint64) *Writer {
	return &Writer{buf: buf, offsets: offsets}
}

func (w *Writer) padTo(n int) {
	if rem := len(w.buf) % n; rem != 0 {
		w.buf = append(w.buf, make([]byte, n-rem)...)
	}
}

// WriteInt32 appends a 4-byte-aligned signed 32-bit integer.
func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

// WriteUint32 appends a 4-byte-aligned unsigned 32-bit integer.
func (w *Writer) WriteUint32(v uint32) {
	w.padTo(4)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteInt64 appends a 4-byte-aligned signed 64-bit integer (binder
// parcels align 64-bit primitives on 4, not 8, like Android's Parcel).
func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

// WriteUint64 appends a 4-byte-aligned unsigned 64-bit integer.
func (w *Writer) WriteUint64(v uint64) {
	w.padTo(4)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteFloat64 appends a 4-byte-aligned double.
func (w *Writer) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

// WriteBool appends a bool encoded as a 32-bit integer, matching
// Android's Parcel::writeBool.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteInt32(1)
	} else {
		w.WriteInt32(0)
	}
}

// WriteString8 appends a length-prefixed, NUL-terminated UTF-8 string.
// A negative length prefix (-1) signals a null string on the wire; pass
// an empty string for "present but empty".
func (w *Writer) WriteString8(s string, isNull bool) {
	if isNull {
		w.WriteInt32(-1)
		return
	}
	data := []byte(s)
	w.WriteInt32(int32(len(data)))
	w.buf = append(w.buf, data...)
	w.buf = append(w.buf, 0)
	w.padTo(4)
}

// WriteString16 appends a length-prefixed, NUL-terminated UTF-16LE
// string, matching Android's Parcel::writeString16 — the encoding aidl
// interface descriptors and tokens use.
func (w *Writer) WriteString16(s string, isNull bool) {
	if isNull {
		w.WriteInt32(-1)
		return
	}
	units := utf16.Encode([]rune(s))
	w.WriteInt32(int32(len(units)))
	for _, u := range units {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], u)
		w.buf = append(w.buf, b[:]...)
	}
	w.buf = append(w.buf, 0, 0)
	w.padTo(4)
}

// WriteByteArray appends a length-prefixed sized byte array. A nil slice
// is written as a -1 length prefix.
func (w *Writer) WriteByteArray(data []byte) {
	if data == nil {
		w.WriteInt32(-1)
		return
	}
	w.WriteInt32(int32(len(data)))
	w.buf = append(w.buf, data...)
	w.padTo(4)
}

// WriteFD appends an inline fd object descriptor and records its offset.
func (w *Writer) WriteFD(fd int) int {
	return w.WriteObject(&wire.FlatBinderObject{Type: wire.BinderTypeFD, Binder: uint64(fd)})
}

// WriteObject appends a flat_binder_object descriptor (4-byte aligned,
// like every other parcel field) and records its byte offset in
// Offsets.
func (w *Writer) WriteObject(desc *wire.FlatBinderObject) int {
	w.padTo(4)
	offset := uint64(len(w.buf))
	w.buf = append(w.buf, wire.MarshalFlatBinderObject(desc)...)
	w.offsets = append(w.offsets, offset)
	return len(w.offsets) - 1
}

// WriteBufferObject appends a binder_buffer_object descriptor — used by
// the hidl dialect for vector/string/hidl_memory payloads that live
// outside the inline parcel bytes — and records its offset. The caller
// is responsible for having already appended the buffer's own bytes
// (via WriteRawBuffer) before writing a descriptor that references them
// by ParentIndex/ParentOffset.
func (w *Writer) WriteBufferObject(desc *wire.BinderBufferObject) int {
	w.padTo(8)
	offset := uint64(len(w.buf))
	w.buf = append(w.buf, wire.MarshalBinderBufferObject(desc)...)
	w.offsets = append(w.offsets, offset)
	return len(w.offsets) - 1
}

// WriteRawBuffer appends data with no length prefix and no descriptor,
// 8-byte aligned, returning the byte offset it starts at — the offset a
// following BinderBufferObject's ParentOffset should name when this
// buffer is itself the parent of a nested buffer.
func (w *Writer) WriteRawBuffer(data []byte) uint64 {
	w.padTo(8)
	offset := uint64(len(w.buf))
	w.buf = append(w.buf, data...)
	return offset
}

// AddCleanup registers a function to run when the parcel is discarded,
// for callers that attach side-allocated buffers referenced from the
// parcel (e.g. memory the driver must eventually Munmap or a duplicated
// fd that must be closed).
func (w *Writer) AddCleanup(fn func()) {
	w.cleanup = append(w.cleanup, fn)
}

// Close runs every registered cleanup function, most recently added
// first, and clears the list so Close is idempotent.
func (w *Writer) Close() {
	for i := len(w.cleanup) - 1; i >= 0; i-- {
		w.cleanup[i]()
	}
	w.cleanup = nil
}

// Bytes returns the accumulated parcel bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Offsets returns the recorded object-descriptor offsets, in write
// order.
func (w *Writer) Offsets() []uint64 { return w.offsets }

// Len reports the current parcel size in bytes.
func (w *Writer) Len() int { return len(w.buf) }

// Reader is a cursor over a parcel's bytes and offset list. It never
// copies or allocates for the caller beyond what decoding a string or
// byte array requires; the backing buf must outlive the Reader.
type Reader struct {
	buf     []byte
	offsets []uint64
	pos     int
	offIdx  int
}

// NewReader wraps buf/offsets as produced by a Writer or received from
// the driver.
func NewReader(buf []byte, offsets []uint64) *Reader {
	return &Reader{buf: buf, offsets: offsets}
}

// Bytes returns the full underlying parcel buffer, independent of the
// read cursor. Used by callers (e.g. the bridge) that need to
// repackage a whole inbound parcel rather than walk it field by field.
func (r *Reader) Bytes() []byte { return r.buf }

// RawOffsets returns the full object-descriptor offset list,
// independent of the read cursor.
func (r *Reader) RawOffsets() []uint64 { return r.offsets }

func (r *Reader) align(n int) {
	if rem := r.pos % n; rem != 0 {
		r.pos += n - rem
	}
}

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return ErrShortRead
	}
	return nil
}

// ReadInt32 reads a 4-byte-aligned signed 32-bit integer.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint32 reads a 4-byte-aligned unsigned 32-bit integer.
func (r *Reader) ReadUint32() (uint32, error) {
	r.align(4)
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

// ReadInt64 reads a 4-byte-aligned signed 64-bit integer.
func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

// ReadUint64 reads a 4-byte-aligned unsigned 64-bit integer.
func (r *Reader) ReadUint64() (uint64, error) {
	r.align(4)
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

// ReadFloat64 reads a 4-byte-aligned double.
func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadBool reads a bool encoded as a 32-bit integer.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadInt32()
	return v != 0, err
}

// ReadString8 reads a length-prefixed, NUL-terminated UTF-8 string. A
// -1 length prefix is reported as (empty string, isNull=true).
func (r *Reader) ReadString8() (s string, isNull bool, err error) {
	n, err := r.ReadInt32()
	if err != nil {
		return "", false, err
	}
	if n < 0 {
		return "", true, nil
	}
	if err := r.need(int(n) + 1); err != nil {
		return "", false, err
	}
	s = string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n) + 1
	r.align(4)
	return s, false, nil
}

// ReadString16 reads a length-prefixed, NUL-terminated UTF-16LE string.
func (r *Reader) ReadString16() (s string, isNull bool, err error) {
	n, err := r.ReadInt32()
	if err != nil {
		return "", false, err
	}
	if n < 0 {
		return "", true, nil
	}
	byteLen := int(n)*2 + 2
	if err := r.need(byteLen); err != nil {
		return "", false, err
	}
	units := make([]uint16, n)
	for i := 0; i < int(n); i++ {
		units[i] = binary.LittleEndian.Uint16(r.buf[r.pos+i*2 : r.pos+i*2+2])
	}
	r.pos += byteLen
	r.align(4)
	return string(utf16.Decode(units)), false, nil
}

// ReadByteArray reads a length-prefixed sized byte array. A -1 length
// prefix decodes to a nil slice.
func (r *Reader) ReadByteArray() ([]byte, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	r.align(4)
	return out, nil
}

// AtObject reports whether the cursor currently sits at the start of
// the next recorded object descriptor.
func (r *Reader) AtObject() bool {
	return r.offIdx < len(r.offsets) && r.offsets[r.offIdx] == uint64(r.pos)
}

// ReadObject decodes a flat_binder_object at the cursor, which must be
// positioned at a recorded offset.
func (r *Reader) ReadObject() (*wire.FlatBinderObject, error) {
	if !r.AtObject() {
		return nil, ErrMisalignedObject
	}
	if err := r.need(wire.SizeofFlatBinderObject); err != nil {
		return nil, err
	}
	obj, err := wire.UnmarshalFlatBinderObject(r.buf[r.pos : r.pos+wire.SizeofFlatBinderObject])
	if err != nil {
		return nil, err
	}
	r.pos += wire.SizeofFlatBinderObject
	r.offIdx++
	return obj, nil
}

// ReadBufferObject decodes a binder_buffer_object at the cursor.
func (r *Reader) ReadBufferObject() (*wire.BinderBufferObject, error) {
	if !r.AtObject() {
		return nil, ErrMisalignedObject
	}
	if err := r.need(wire.SizeofBinderBufferObject); err != nil {
		return nil, err
	}
	obj, err := wire.UnmarshalBinderBufferObject(r.buf[r.pos : r.pos+wire.SizeofBinderBufferObject])
	if err != nil {
		return nil, err
	}
	r.pos += wire.SizeofBinderBufferObject
	r.offIdx++
	return obj, nil
}

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Pos reports the current cursor position.
func (r *Reader) Pos() int { return r.pos }
