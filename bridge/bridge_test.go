package bridge

import (
	"testing"

	"github.com/mjkern/gobinder/internal/interfaces"
	"github.com/mjkern/gobinder/internal/wire"
)

// Note: Bridge's own methods all reach through a *binder.Driver to a
// real kernel device (GetService, AddService, Call/CallOneway), so
// they're left to integration tests. translateDescriptors is pure
// given a registry stand-in and is exercised directly here.

// fakeRegistry stands in for the destRegistry parameter translateDescriptors
// expects: it turns every remote-handle descriptor into a local-binder
// descriptor, passes every other descriptor through unchanged, and
// remembers the handles it was asked to convert, without touching any
// real registry or Driver.
type fakeRegistry struct {
	seenHandles []uint64
}

func (r *fakeRegistry) ConvertForBridge(desc *wire.FlatBinderObject, converter func(uint32) (uint64, interfaces.TransactionHandler)) *wire.FlatBinderObject {
	if desc.Type != wire.BinderTypeHandle {
		return desc
	}
	r.seenHandles = append(r.seenHandles, desc.Binder)
	cookie, _ := converter(uint32(desc.Binder))
	return &wire.FlatBinderObject{Type: wire.BinderTypeBinder, Flags: desc.Flags, Binder: cookie, Cookie: desc.Cookie}
}

func TestTranslateDescriptorsEmptyOffsetsReturnsInputUnchanged(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	reg := &fakeRegistry{}

	out, err := translateDescriptors(data, nil, reg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != len(data) {
		t.Fatalf("expected unchanged data, got length %d", len(out))
	}
}

func TestTranslateDescriptorsRewritesDescriptorInPlace(t *testing.T) {
	desc := &wire.FlatBinderObject{Type: wire.BinderTypeHandle, Flags: 0x7, Binder: 42, Cookie: 9}
	data := make([]byte, wire.SizeofFlatBinderObject)
	copy(data, wire.MarshalFlatBinderObject(desc))

	reg := &fakeRegistry{}
	converter := func(sourceHandle uint32) (uint64, interfaces.TransactionHandler) {
		if sourceHandle != 42 {
			t.Fatalf("converter called with handle %d, want 42", sourceHandle)
		}
		return 0xCAFE, nil
	}

	out, err := translateDescriptors(data, []uint64{0}, reg, converter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := wire.UnmarshalFlatBinderObject(out)
	if err != nil {
		t.Fatalf("unmarshal of translated descriptor failed: %v", err)
	}
	if got.Type != wire.BinderTypeBinder {
		t.Errorf("translated type = %#x, want BinderTypeBinder", got.Type)
	}
	if got.Binder != 0xCAFE {
		t.Errorf("translated cookie = %#x, want 0xCAFE", got.Binder)
	}
	if len(reg.seenHandles) != 1 || reg.seenHandles[0] != 42 {
		t.Errorf("registry should have seen handle 42, got %v", reg.seenHandles)
	}
}

func TestTranslateDescriptorsOutOfRangeOffsetErrors(t *testing.T) {
	data := make([]byte, 4)
	reg := &fakeRegistry{}

	if _, err := translateDescriptors(data, []uint64{100}, reg, nil); err == nil {
		t.Fatal("expected an error for an out-of-range offset")
	}
}

func TestTranslateDescriptorsDoesNotMutateCaller(t *testing.T) {
	desc := &wire.FlatBinderObject{Type: wire.BinderTypeHandle, Binder: 7}
	data := make([]byte, wire.SizeofFlatBinderObject)
	copy(data, wire.MarshalFlatBinderObject(desc))
	original := append([]byte(nil), data...)

	reg := &fakeRegistry{}
	_, err := translateDescriptors(data, []uint64{0}, reg, func(uint32) (uint64, interfaces.TransactionHandler) {
		return 1, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range data {
		if data[i] != original[i] {
			t.Fatal("translateDescriptors must not mutate the input slice in place")
		}
	}
}
