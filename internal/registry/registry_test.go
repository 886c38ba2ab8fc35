package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjkern/gobinder/internal/interfaces"
	"github.com/mjkern/gobinder/internal/wire"
)

type fakeHandler struct {
	name string
}

func (f *fakeHandler) Handle(code uint32, data []byte, offsets []uint64, flags uint32) ([]byte, []uint64, error) {
	return nil, nil, nil
}
func (f *fakeHandler) CanHandle(code uint32) interfaces.DispatchPolicy {
	return interfaces.DispatchLooper
}
func (f *fakeHandler) Descriptors() []string { return []string{f.name} }

func TestRegisterAndLookupLocal(t *testing.T) {
	r := New()
	h := &fakeHandler{name: "test.IFoo"}

	cookie := r.RegisterLocal(h)
	require.NotZero(t, cookie)

	got, ok := r.LookupLocal(cookie)
	require.True(t, ok)
	assert.Same(t, h, got)
}

func TestDropLocalFreesSlotForReuse(t *testing.T) {
	r := New()
	h1 := &fakeHandler{name: "one"}
	cookie1 := r.RegisterLocal(h1)
	r.DropLocal(cookie1)

	_, ok := r.LookupLocal(cookie1)
	assert.False(t, ok)

	h2 := &fakeHandler{name: "two"}
	cookie2 := r.RegisterLocal(h2)
	assert.NotEqual(t, cookie1, cookie2)
	got, ok := r.LookupLocal(cookie2)
	require.True(t, ok)
	assert.Same(t, h2, got)
}

func TestFindLocalScansForPredicate(t *testing.T) {
	r := New()
	r.RegisterLocal(&fakeHandler{name: "a"})
	targetCookie := r.RegisterLocal(&fakeHandler{name: "target"})
	r.RegisterLocal(&fakeHandler{name: "b"})

	cookie, handler, ok := r.FindLocal(func(h interfaces.TransactionHandler) bool {
		return h.Descriptors()[0] == "target"
	})
	require.True(t, ok)
	assert.Equal(t, targetCookie, cookie)
	assert.Equal(t, "target", handler.Descriptors()[0])
}

func TestGetOrCreateRemoteCachesByHandle(t *testing.T) {
	r := New()
	calls := 0
	create := func(handle uint32) any {
		calls++
		return handle
	}

	v1 := r.GetOrCreateRemote(5, create)
	v2 := r.GetOrCreateRemote(5, create)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls)
}

func TestUnflattenLocalUnknownCookieFails(t *testing.T) {
	r := New()
	_, err := r.Unflatten(&wire.FlatBinderObject{Type: wire.BinderTypeBinder, Cookie: 0xff}, nil)
	assert.ErrorIs(t, err, ErrUnknownLocalObject)
}

func TestUnflattenRemoteMaterializesHandle(t *testing.T) {
	r := New()
	result, err := r.Unflatten(&wire.FlatBinderObject{Type: wire.BinderTypeHandle, Binder: 3}, func(h uint32) any {
		return h
	})
	require.NoError(t, err)
	assert.True(t, result.IsRemote)
	assert.Equal(t, uint32(3), result.RemoteValue)
}

func TestFlattenRemoteRejectsForeignDriver(t *testing.T) {
	_, err := FlattenRemote(7, false)
	assert.ErrorIs(t, err, ErrForeignDriver)
}
