package binder

import (
	"sync"

	"github.com/mjkern/gobinder/internal/interfaces"
	"github.com/mjkern/gobinder/internal/wire"
)

// LocalHandlerFunc answers one transaction addressed to a LocalObject.
// A nil *ParcelWriter return means "no reply payload": a two-way call
// still gets a successful, empty BC_REPLY; a oneway call gets no reply.
type LocalHandlerFunc func(code uint32, req *ParcelReader, flags uint32) (*ParcelWriter, error)

// LocalObject is an object this process exposes to the kernel. It
// tracks the kernel's strong/weak reference counts and answers the
// handful of internal transaction codes (ping, interface descriptor,
// hidl descriptor chain) without involving the caller's handler.
//
// A LocalObject is dropped from its Driver's registry once both the
// owner has called Drop and the kernel strong reference count has
// fallen back to zero, whichever happens last.
type LocalObject struct {
	mu sync.Mutex

	driver      *Driver
	cookie      uint64
	descriptors []string
	acceptsFDs  bool
	fn          LocalHandlerFunc

	strongRefs int32
	weakRefs   int32
	ownerDropped bool
}

// defaultDescriptor is appended when a LocalObject is constructed with
// no descriptors of its own, matching the "implementation-defined base
// descriptor" data-model invariant.
const defaultDescriptor = "gobinder.BaseInterface"

// NewLocalObject registers a new local object against d and returns
// it. descriptors[0] is the primary interface descriptor; if empty,
// defaultDescriptor is used.
func NewLocalObject(d *Driver, descriptors []string, acceptsFDs bool, fn LocalHandlerFunc) *LocalObject {
	if len(descriptors) == 0 {
		descriptors = []string{defaultDescriptor}
	}
	obj := &LocalObject{
		driver:      d,
		descriptors: descriptors,
		acceptsFDs:  acceptsFDs,
		fn:          fn,
	}
	obj.cookie = d.registry.RegisterLocal(obj)
	return obj
}

// Cookie returns the identity cookie this object is registered under.
func (l *LocalObject) Cookie() uint64 { return l.cookie }

// Descriptors implements interfaces.TransactionHandler.
func (l *LocalObject) Descriptors() []string { return l.descriptors }

// CanHandle implements interfaces.TransactionHandler. Internal codes
// are answered directly on the looper thread; everything else is
// handed to the host loop unless the object has no handler installed.
func (l *LocalObject) CanHandle(code uint32) interfaces.DispatchPolicy {
	switch code {
	case wire.PingTransaction, wire.InterfaceTransaction,
		wire.HidlPing, wire.HidlGetDescriptor, wire.HidlDescriptorChain:
		return interfaces.DispatchLooper
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fn == nil {
		return interfaces.DispatchNotSupported
	}
	return interfaces.DispatchMain
}

// Handle implements interfaces.TransactionHandler.
func (l *LocalObject) Handle(code uint32, data []byte, offsets []uint64, flags uint32) ([]byte, []uint64, error) {
	switch code {
	case wire.PingTransaction, wire.HidlPing:
		return nil, nil, nil
	case wire.InterfaceTransaction:
		w := NewParcelWriter()
		w.WriteString16(l.descriptors[0], false)
		return w.Bytes(), w.Offsets(), nil
	case wire.HidlGetDescriptor:
		w := NewParcelWriter()
		w.WriteString8(l.descriptors[0], false)
		return w.Bytes(), w.Offsets(), nil
	case wire.HidlDescriptorChain:
		w := NewParcelWriter()
		w.WriteInt32(int32(len(l.descriptors)))
		for _, d := range l.descriptors {
			w.WriteString8(d, false)
		}
		return w.Bytes(), w.Offsets(), nil
	}

	l.mu.Lock()
	fn := l.fn
	l.mu.Unlock()
	if fn == nil {
		return nil, nil, NewError("LocalObject.Handle", CodeUnexpectedMessage, "no handler installed for this object")
	}
	reply, err := fn(code, NewParcelReader(data, offsets), flags)
	if err != nil {
		return nil, nil, err
	}
	if reply == nil {
		return nil, nil, nil
	}
	return reply.Bytes(), reply.Offsets(), nil
}

// onIncrefs records a weak-reference acquire and acks it; called by the
// dispatch engine on BR_INCREFS.
func (l *LocalObject) onIncrefs(w *wire.CommandWriter, cookie uint64) {
	l.mu.Lock()
	l.weakRefs++
	l.mu.Unlock()
	w.Cookie(wire.BCIncrefsDone, 0, cookie)
}

// onDecrefs records a weak-reference release; called on BR_DECREFS.
func (l *LocalObject) onDecrefs(cookie uint64) {
	l.mu.Lock()
	if l.weakRefs > 0 {
		l.weakRefs--
	}
	l.mu.Unlock()
}

// onAcquire records a strong-reference acquire and acks it; called on
// BR_ACQUIRE.
func (l *LocalObject) onAcquire(w *wire.CommandWriter, cookie uint64) {
	l.mu.Lock()
	l.strongRefs++
	l.mu.Unlock()
	w.Cookie(wire.BCAcquireDone, 0, cookie)
}

// onRelease records a strong-reference release; called on BR_RELEASE.
// Finalizes the object if the owner has already called Drop.
func (l *LocalObject) onRelease(cookie uint64) {
	l.mu.Lock()
	if l.strongRefs > 0 {
		l.strongRefs--
	}
	l.mu.Unlock()
	l.maybeFinalize()
}

// Drop marks the object as released by its owner. The registry entry
// is removed once the kernel strong reference count is also back to
// zero.
func (l *LocalObject) Drop() {
	l.mu.Lock()
	l.ownerDropped = true
	l.mu.Unlock()
	l.maybeFinalize()
}

func (l *LocalObject) maybeFinalize() {
	l.mu.Lock()
	finalize := l.ownerDropped && l.strongRefs <= 0
	l.mu.Unlock()
	if finalize {
		l.driver.registry.DropLocal(l.cookie)
	}
}

// StrongRefs reports the current kernel strong reference count.
func (l *LocalObject) StrongRefs() int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.strongRefs
}

// WeakRefs reports the current kernel weak reference count.
func (l *LocalObject) WeakRefs() int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.weakRefs
}

var _ interfaces.TransactionHandler = (*LocalObject)(nil)
