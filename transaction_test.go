package binder

import (
	"encoding/binary"
	"testing"
)

// Note: Call/CallOneway/CallAsync exercise a real submit loop against
// the kernel and cannot be driven without one; those paths belong to
// integration tests gated on /dev/binder's presence. bufPtr and
// encodeOffsets are pure wire-shape helpers and run everywhere.

func TestBufPtrNilForEmptySlice(t *testing.T) {
	if got := bufPtr(nil); got != 0 {
		t.Errorf("bufPtr(nil) = %d, want 0", got)
	}
	if got := bufPtr([]byte{}); got != 0 {
		t.Errorf("bufPtr(empty) = %d, want 0", got)
	}
}

func TestBufPtrNonZeroForNonEmptySlice(t *testing.T) {
	b := []byte{1, 2, 3}
	if got := bufPtr(b); got == 0 {
		t.Error("bufPtr(non-empty) should not be zero")
	}
}

func TestEncodeOffsetsRoundTrip(t *testing.T) {
	offsets := []uint64{0, 8, 40, 1 << 32}
	encoded := encodeOffsets(offsets)

	if len(encoded) != len(offsets)*8 {
		t.Fatalf("encoded length = %d, want %d", len(encoded), len(offsets)*8)
	}
	for i, want := range offsets {
		got := binary.LittleEndian.Uint64(encoded[i*8 : i*8+8])
		if got != want {
			t.Errorf("offset[%d] = %d, want %d", i, got, want)
		}
	}
}

func TestEncodeOffsetsEmpty(t *testing.T) {
	if got := encodeOffsets(nil); len(got) != 0 {
		t.Errorf("encodeOffsets(nil) length = %d, want 0", len(got))
	}
}
