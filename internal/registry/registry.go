// Package registry holds per-Driver object tables: a free-list arena of
// local objects whose identity is an opaque uuid-derived cookie (not the
// slot index, so a freed-and-reused slot never aliases a stale cookie),
// and a handle-keyed table of remote object placeholders. It also rewrites
// object descriptors found while walking a parcel's offset list, for
// both normal flatten/unflatten and the bridge's cross-Driver
// conversion.
package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mjkern/gobinder/internal/interfaces"
	"github.com/mjkern/gobinder/internal/wire"
)

// ErrUnknownLocalObject is returned when an inbound "local binder"
// descriptor names an identity the registry never registered.
var ErrUnknownLocalObject = errors.New("registry: unrecognized local object identity")

// ErrForeignDriver is returned when flattening a remote object whose
// owning Driver differs from this registry's — the caller should route
// the call through the bridge instead.
var ErrForeignDriver = errors.New("registry: remote object belongs to a different driver")

type localSlot struct {
	occupied bool
	cookie   uint64
	handler  interfaces.TransactionHandler
}

// remoteSlot stores whatever opaque value the owning root package's
// RemoteObject type wants associated with a handle; the registry never
// inspects it beyond identity.
type remoteSlot struct {
	handle uint32
	value  any
}

// Registry is per-Driver; callers are expected to own one instance per
// open device.
type Registry struct {
	mu sync.RWMutex

	local       []localSlot
	cookieIndex map[uint64]int
	freeList    []int

	remote map[uint32]*remoteSlot
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		cookieIndex: make(map[uint64]int),
		remote:      make(map[uint32]*remoteSlot),
	}
}

// newCookie derives a process-unique 64-bit identity for a local
// object, standing in for the pointer identity a C implementation would
// use directly.
func newCookie() uint64 {
	id := uuid.New()
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(id[i])
	}
	return v
}

// RegisterLocal adds handler to the local arena and returns its cookie.
func (r *Registry) RegisterLocal(handler interfaces.TransactionHandler) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	cookie := newCookie()
	var idx int
	if n := len(r.freeList); n > 0 {
		idx = r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
		r.local[idx] = localSlot{occupied: true, cookie: cookie, handler: handler}
	} else {
		idx = len(r.local)
		r.local = append(r.local, localSlot{occupied: true, cookie: cookie, handler: handler})
	}
	r.cookieIndex[cookie] = idx
	return cookie
}

// DropLocal removes a local object from the arena, freeing its slot for
// reuse. Safe to call twice; the second call is a no-op.
func (r *Registry) DropLocal(cookie uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.cookieIndex[cookie]
	if !ok {
		return
	}
	delete(r.cookieIndex, cookie)
	r.local[idx] = localSlot{}
	r.freeList = append(r.freeList, idx)
}

// LookupLocal resolves an identity cookie to its handler.
func (r *Registry) LookupLocal(cookie uint64) (interfaces.TransactionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.cookieIndex[cookie]
	if !ok {
		return nil, false
	}
	return r.local[idx].handler, true
}

// FindLocal does a linear scan for the first registered handler
// matching predicate, for lookups by handler property rather than by
// cookie.
func (r *Registry) FindLocal(predicate func(interfaces.TransactionHandler) bool) (uint64, interfaces.TransactionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, slot := range r.local {
		if !slot.occupied {
			continue
		}
		if predicate(slot.handler) {
			return slot.cookie, slot.handler, true
		}
	}
	return 0, nil, false
}

// GetRemote returns the stored value for handle, if any.
func (r *Registry) GetRemote(handle uint32) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slot, ok := r.remote[handle]
	if !ok {
		return nil, false
	}
	return slot.value, true
}

// GetOrCreateRemote returns the existing value for handle, or calls
// create to build one and stores it. The registry holds at most one
// value per handle, matching the "at most one RemoteObject per handle"
// invariant.
func (r *Registry) GetOrCreateRemote(handle uint32, create func(uint32) any) any {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slot, ok := r.remote[handle]; ok {
		return slot.value
	}
	value := create(handle)
	r.remote[handle] = &remoteSlot{handle: handle, value: value}
	return value
}

// DropRemote removes handle's entry, e.g. once its RemoteObject has no
// more references.
func (r *Registry) DropRemote(handle uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.remote, handle)
}

// FlattenLocal builds the flat_binder_object descriptor for a
// previously registered local object.
func FlattenLocal(cookie uint64, acceptsFDs bool) *wire.FlatBinderObject {
	var flags uint32
	if acceptsFDs {
		flags |= wire.FlatBinderFlagAcceptsFds
	}
	return &wire.FlatBinderObject{Type: wire.BinderTypeBinder, Flags: flags, Cookie: cookie}
}

// FlattenRemote builds the flat_binder_object descriptor for a remote
// handle owned by this registry's Driver. sameDriver must be checked by
// the caller before calling this — ErrForeignDriver is returned here
// only as a convenience for callers that want a single call site.
func FlattenRemote(handle uint32, sameDriver bool) (*wire.FlatBinderObject, error) {
	if !sameDriver {
		return nil, ErrForeignDriver
	}
	return &wire.FlatBinderObject{Type: wire.BinderTypeHandle, Binder: uint64(handle)}, nil
}

// UnflattenResult is what resolving one descriptor in an inbound parcel
// produces: either the local side (LocalHandler, LocalCookie) or the
// remote side (RemoteValue, with IsRemote true) is set, never both.
type UnflattenResult struct {
	LocalHandler interfaces.TransactionHandler
	LocalCookie  uint64
	RemoteValue  any
	IsRemote     bool
}

// Unflatten resolves one descriptor against this registry, creating a
// remote placeholder via createRemote if the handle hasn't been seen
// before.
func (r *Registry) Unflatten(desc *wire.FlatBinderObject, createRemote func(uint32) any) (UnflattenResult, error) {
	switch desc.Type {
	case wire.BinderTypeBinder, wire.BinderTypeWeak:
		handler, ok := r.LookupLocal(desc.Cookie)
		if !ok {
			return UnflattenResult{}, errors.Wrapf(ErrUnknownLocalObject, "cookie=%x", desc.Cookie)
		}
		return UnflattenResult{LocalHandler: handler, LocalCookie: desc.Cookie}, nil
	case wire.BinderTypeHandle, wire.BinderTypeWeakHandle:
		handle := uint32(desc.Binder)
		value := r.GetOrCreateRemote(handle, createRemote)
		return UnflattenResult{RemoteValue: value, IsRemote: true}, nil
	default:
		return UnflattenResult{}, errors.Errorf("registry: unsupported descriptor type 0x%x", desc.Type)
	}
}

// ConvertForBridge rewrites a descriptor seen on a source registry into
// one valid on this (destination) registry, using converter to
// materialize a proxying LocalObject for a source-side handle. It
// mirrors the bridge's offset-list walk: every "remote handle"
// descriptor becomes a "local binder" descriptor naming the proxy's
// cookie. Every other descriptor, "local binder" ones included, is
// returned unchanged, as is a handle the converter declines (nil
// handler).
func (r *Registry) ConvertForBridge(desc *wire.FlatBinderObject, converter func(sourceHandle uint32) (uint64, interfaces.TransactionHandler)) *wire.FlatBinderObject {
	if desc.Type != wire.BinderTypeHandle && desc.Type != wire.BinderTypeWeakHandle {
		return desc
	}
	cookie, handler := converter(uint32(desc.Binder))
	if handler == nil {
		return desc
	}
	if _, ok := r.LookupLocal(cookie); !ok {
		r.mu.Lock()
		idx := len(r.local)
		r.local = append(r.local, localSlot{occupied: true, cookie: cookie, handler: handler})
		r.cookieIndex[cookie] = idx
		r.mu.Unlock()
	}
	return FlattenLocal(cookie, desc.Flags&wire.FlatBinderFlagAcceptsFds != 0)
}
