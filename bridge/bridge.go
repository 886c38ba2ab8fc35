// Package bridge forwards transactions for one named service between
// two independently opened Drivers — possibly against different
// physical devices — so a client on one binder context can reach a
// service registered only on another. It is the optional cross-device
// proxy component: nothing in the root package depends on it.
package bridge

import (
	"sync"

	"github.com/mjkern/gobinder/internal/codec"
	"github.com/mjkern/gobinder/internal/interfaces"
	"github.com/mjkern/gobinder/internal/wire"

	binder "github.com/mjkern/gobinder"
)

// Bridge republishes destDriver's "destName" service under sourceName
// on sourceDriver, forwarding every transaction to the real object and
// translating embedded object descriptors between the two Drivers'
// registries.
type Bridge struct {
	sourceName string
	destName   string
	interfaces []string

	sourceDriver *binder.Driver
	destDriver   *binder.Driver
	sourceSM     *binder.ServiceManager
	destSM       *binder.ServiceManager

	mu       sync.Mutex
	primary  *leg
	watchTok int
	mirrors  map[mirrorKey]*leg
}

// mirrorKey identifies a real object being mirrored: its owning Driver
// and its handle there. Handle values are only unique within one
// Driver's table, so the Driver identity must be part of the key.
type mirrorKey struct {
	driver *binder.Driver
	handle uint32
}

// NewBridge constructs a bridge for destName (looked up against destSM)
// republished as sourceName (registered against sourceSM). It arms a
// registration watch for destName and attaches immediately if the
// target is already present.
func NewBridge(sourceName, destName string, ifaces []string, sourceDriver, destDriver *binder.Driver, sourceSM, destSM *binder.ServiceManager) *Bridge {
	b := &Bridge{
		sourceName:   sourceName,
		destName:     destName,
		interfaces:   ifaces,
		sourceDriver: sourceDriver,
		destDriver:   destDriver,
		sourceSM:     sourceSM,
		destSM:       destSM,
		mirrors:      make(map[mirrorKey]*leg),
	}
	b.watchTok = destSM.AddRegistrationHandler(destName, func(name string) {
		b.attach()
	})
	if target, err := destSM.GetService(destName); err == nil {
		b.attachWith(target)
	}
	return b
}

// Close unwatches destName and tears down the published proxy, if any.
func (b *Bridge) Close() {
	b.destSM.RemoveRegistrationHandler(b.watchTok)
	b.detach()
}

func (b *Bridge) attach() {
	target, err := b.destSM.GetService(b.destName)
	if err != nil {
		return
	}
	b.attachWith(target)
}

func (b *Bridge) attachWith(target *binder.RemoteObject) {
	b.mu.Lock()
	if b.primary != nil {
		b.mu.Unlock()
		return
	}
	l := newLeg(b, b.sourceDriver, b.destDriver, target, b.interfaces)
	key := mirrorKey{driver: b.destDriver, handle: target.Handle()}
	b.primary = l
	b.mirrors[key] = l
	b.mu.Unlock()

	if err := b.sourceSM.AddService(b.sourceName, l.proxy); err != nil {
		b.mu.Lock()
		b.primary = nil
		delete(b.mirrors, key)
		b.mu.Unlock()
		l.proxy.Drop()
		return
	}

	target.AddDeathObserver(func(_ *binder.RemoteObject, alive bool) {
		if !alive {
			b.detach()
		}
	})
}

func (b *Bridge) detach() {
	b.mu.Lock()
	l := b.primary
	b.primary = nil
	if l != nil {
		delete(b.mirrors, mirrorKey{driver: l.targetDriver, handle: l.targetHandle()})
	}
	b.mu.Unlock()
	if l != nil {
		l.proxy.Drop()
	}
}

// exportHandle returns (or lazily builds) the LocalObject mirroring a
// handle seen on fromDriver, hosted on toDriver, so a descriptor inside
// a forwarded parcel can name it instead of the original handle. This
// is the converter ConvertForBridge calls for every embedded remote
// handle, not just the bridge's own primary target.
func (b *Bridge) exportHandle(fromDriver, toDriver *binder.Driver, handle uint32) (uint64, interfaces.TransactionHandler) {
	key := mirrorKey{driver: fromDriver, handle: handle}

	b.mu.Lock()
	if l, ok := b.mirrors[key]; ok {
		b.mu.Unlock()
		return l.proxy.Cookie(), l.proxy
	}
	b.mu.Unlock()

	target := fromDriver.RemoteObjectFor(handle)
	l := newLeg(b, toDriver, fromDriver, target, nil)

	b.mu.Lock()
	if existing, ok := b.mirrors[key]; ok {
		b.mu.Unlock()
		l.proxy.Drop()
		return existing.proxy.Cookie(), existing.proxy
	}
	b.mirrors[key] = l
	b.mu.Unlock()

	target.AddDeathObserver(func(_ *binder.RemoteObject, alive bool) {
		if !alive {
			b.mu.Lock()
			delete(b.mirrors, key)
			b.mu.Unlock()
			l.proxy.Drop()
		}
	})
	return l.proxy.Cookie(), l.proxy
}

// leg is one forwarding relationship: inbound transactions on proxy
// (hosted by hostDriver) are forwarded to target (living on
// targetDriver).
type leg struct {
	bridge       *Bridge
	hostDriver   *binder.Driver
	targetDriver *binder.Driver
	target       *binder.RemoteObject
	proxy        *binder.LocalObject
}

func newLeg(b *Bridge, hostDriver, targetDriver *binder.Driver, target *binder.RemoteObject, ifaces []string) *leg {
	l := &leg{bridge: b, hostDriver: hostDriver, targetDriver: targetDriver, target: target}
	l.proxy = binder.NewLocalObject(hostDriver, ifaces, true, l.forward)
	return l
}

func (l *leg) targetHandle() uint32 { return l.target.Handle() }

// forward repackages an inbound parcel's object descriptors for
// targetDriver's registry and submits it to the real object, then
// translates the reply's descriptors back for hostDriver's registry.
func (l *leg) forward(code uint32, req *binder.ParcelReader, flags uint32) (*binder.ParcelWriter, error) {
	outData, err := translateDescriptors(req.Bytes(), req.RawOffsets(), l.targetDriver.Registry(), func(sourceHandle uint32) (uint64, interfaces.TransactionHandler) {
		return l.bridge.exportHandle(l.hostDriver, l.targetDriver, sourceHandle)
	})
	if err != nil {
		return nil, err
	}

	if flags&wire.TFOneWay != 0 {
		if err := l.targetDriver.CallOneway(l.target.Handle(), code, outData, req.RawOffsets()); err != nil {
			if binder.IsCode(err, binder.CodeDeadObject) {
				l.target.MarkDead()
			}
			return nil, err
		}
		return nil, nil
	}

	replyData, replyOffsets, err := l.targetDriver.Call(l.target.Handle(), code, outData, req.RawOffsets())
	if err != nil {
		if binder.IsCode(err, binder.CodeDeadObject) {
			l.target.MarkDead()
		}
		return nil, err
	}

	inData, err := translateDescriptors(replyData, replyOffsets, l.hostDriver.Registry(), func(sourceHandle uint32) (uint64, interfaces.TransactionHandler) {
		return l.bridge.exportHandle(l.targetDriver, l.hostDriver, sourceHandle)
	})
	if err != nil {
		return nil, err
	}
	return codec.FromRaw(inData, replyOffsets), nil
}

// translateDescriptors rewrites every flat_binder_object in data at its
// recorded offset via destRegistry.ConvertForBridge. Both local-binder
// and remote-handle descriptors are the same fixed
// wire.SizeofFlatBinderObject size, so translation never changes the
// parcel's layout or its offset list.
func translateDescriptors(data []byte, offsets []uint64, destRegistry interface {
	ConvertForBridge(*wire.FlatBinderObject, func(uint32) (uint64, interfaces.TransactionHandler)) *wire.FlatBinderObject
}, converter func(sourceHandle uint32) (uint64, interfaces.TransactionHandler)) ([]byte, error) {
	if len(offsets) == 0 {
		return data, nil
	}
	out := append([]byte(nil), data...)
	for _, off := range offsets {
		end := off + uint64(wire.SizeofFlatBinderObject)
		if end > uint64(len(out)) {
			return nil, binder.NewError("bridge.forward", binder.CodeUnexpectedMessage, "object descriptor offset out of range")
		}
		desc, err := wire.UnmarshalFlatBinderObject(out[off:end])
		if err != nil {
			return nil, binder.WrapError("bridge.forward", err)
		}
		converted := destRegistry.ConvertForBridge(desc, converter)
		copy(out[off:end], wire.MarshalFlatBinderObject(converted))
	}
	return out, nil
}
