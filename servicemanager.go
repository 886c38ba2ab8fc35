package binder

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/mjkern/gobinder/internal/codec"
	"github.com/mjkern/gobinder/internal/constants"
	"github.com/mjkern/gobinder/internal/registry"
	"github.com/mjkern/gobinder/internal/smproto"
	"github.com/mjkern/gobinder/internal/wire"
)

func dialectToSM(d Dialect) smproto.Dialect {
	switch d {
	case DialectAidl2:
		return smproto.Aidl2
	case DialectHidl:
		return smproto.Hidl
	default:
		return smproto.Aidl
	}
}

// watch is the observer set for one normalized registration name.
type watch struct {
	name       string
	observers  map[int]func(name string)
	cancelPoll context.CancelFunc
	hidlProxy  *LocalObject
}

// ServiceManager is a long-lived client of the well-known handle-0
// registry: name lookup/registration, presence tracking, and
// registration watches, speaking whichever of the aidl/aidl2/hidl
// dialects the Driver resolved for its device.
type ServiceManager struct {
	driver  *Driver
	dialect smproto.Dialect
	remote  *RemoteObject

	mu                sync.Mutex
	present            bool
	presenceHandlers   map[int]func(present bool)
	nextPresenceToken  int
	watches            map[string]*watch
	nextWatchToken     int

	autoreleaseMu        sync.Mutex
	autoreleaseQueue     []*RemoteObject
	autoreleaseScheduled bool
}

// NewServiceManager constructs a client for d's handle 0, pinging it
// synchronously to establish initial presence.
func NewServiceManager(d *Driver) *ServiceManager {
	remote := d.ServiceManagerHandle()
	sm := &ServiceManager{
		driver:           d,
		dialect:          dialectToSM(d.Dialect()),
		remote:           remote,
		presenceHandlers: make(map[int]func(bool)),
		watches:          make(map[string]*watch),
	}
	sm.present = d.pingSync(remote.Handle()) == nil
	remote.AddDeathObserver(sm.onPresenceChange)
	return sm
}

// IsPresent reports whether handle 0 is currently believed reachable.
func (sm *ServiceManager) IsPresent() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.present
}

func (sm *ServiceManager) onPresenceChange(_ *RemoteObject, alive bool) {
	sm.mu.Lock()
	sm.present = alive
	handlers := make([]func(bool), 0, len(sm.presenceHandlers))
	for _, h := range sm.presenceHandlers {
		handlers = append(handlers, h)
	}
	var watches []*watch
	if alive {
		for _, w := range sm.watches {
			watches = append(watches, w)
		}
	}
	sm.mu.Unlock()

	for _, h := range handlers {
		h(alive)
	}
	for _, w := range watches {
		sm.arm(w)
	}
}

// WaitForPresence blocks the calling goroutine until handle 0 becomes
// reachable, or until timeout elapses (timeout <= 0 blocks
// indefinitely), backing off on the same ladder RemoteObject
// reanimation uses.
func (sm *ServiceManager) WaitForPresence(timeout time.Duration) bool {
	bounded := timeout > 0
	deadline := time.Now().Add(timeout)
	ladder := sm.driver.presenceBackoffLadder()
	idx := 0
	for {
		if sm.IsPresent() {
			return true
		}
		if bounded && time.Now().After(deadline) {
			return false
		}
		delay := ladder[idx]
		if idx+1 < len(ladder) {
			idx++
		}
		if !sm.driver.sleepOrClosed(delay) {
			return false
		}
	}
}

// AddPresenceHandler registers fn to run on every presence transition.
func (sm *ServiceManager) AddPresenceHandler(fn func(present bool)) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	token := sm.nextPresenceToken
	sm.nextPresenceToken++
	sm.presenceHandlers[token] = fn
	return token
}

// RemovePresenceHandler unregisters a token returned by AddPresenceHandler.
func (sm *ServiceManager) RemovePresenceHandler(token int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.presenceHandlers, token)
}

// List returns every name currently registered with the service
// manager.
func (sm *ServiceManager) List() ([]string, error) {
	if sm.dialect == smproto.Hidl {
		data, offsets := smproto.EncodeListRequest(sm.dialect, 0)
		replyData, replyOffsets, err := sm.driver.Call(sm.remote.Handle(), sm.dialect.ListCode(), data, offsets)
		if err != nil {
			return nil, WrapError("List", err)
		}
		names, err := smproto.DecodeListVector(NewParcelReader(replyData, replyOffsets))
		if err != nil {
			return nil, WrapError("List", err)
		}
		return names, nil
	}

	var names []string
	for idx := int32(0); ; idx++ {
		data, offsets := smproto.EncodeListRequest(sm.dialect, idx)
		replyData, replyOffsets, err := sm.driver.Call(sm.remote.Handle(), sm.dialect.ListCode(), data, offsets)
		if err != nil {
			return nil, WrapError("List", err)
		}
		name, ok, err := smproto.DecodeListEntry(NewParcelReader(replyData, replyOffsets))
		if err != nil {
			return nil, WrapError("List", err)
		}
		if !ok {
			break
		}
		names = append(names, name)
	}
	return names, nil
}

// ListAsync runs List on its own goroutine and delivers the result via
// onComplete.
func (sm *ServiceManager) ListAsync(onComplete func([]string, error)) {
	go func() {
		names, err := sm.List()
		if onComplete != nil {
			onComplete(names, err)
		}
	}()
}

// GetService looks up name synchronously, returning its RemoteObject.
// A name with no registered owner is not an error: it comes back as a
// null binder (or no object at all) in the check-service reply, which
// this resolves to (nil, nil) rather than CodeUnexpectedMessage. The
// returned handle is scheduled for autorelease: unless the caller
// registers a death observer on it before the autorelease flush runs
// (a goroutine that first yields once with runtime.Gosched), it is
// dropped from the handle cache.
func (sm *ServiceManager) GetService(name string) (*RemoteObject, error) {
	data, offsets := smproto.EncodeGetRequest(sm.dialect, name)
	replyData, replyOffsets, err := sm.driver.Call(sm.remote.Handle(), sm.dialect.CheckCode(), data, offsets)
	if err != nil {
		return nil, WrapError("GetService", err)
	}
	if len(replyOffsets) == 0 {
		// No object descriptor in the reply at all: absent service.
		return nil, nil
	}
	result, err := ReadObject(NewParcelReader(replyData, replyOffsets), sm.driver)
	if err != nil {
		if errors.Is(err, codec.ErrMisalignedObject) || errors.Is(err, registry.ErrUnknownLocalObject) {
			// No object at the cursor, or a null local-binder sentinel
			// (cookie 0): both mean the name isn't registered.
			return nil, nil
		}
		return nil, WrapError("GetService", err)
	}
	if result.Remote == nil {
		// A null local binder decoded cleanly but resolved to nothing
		// remote: same absent-service outcome.
		return nil, nil
	}
	sm.scheduleAutorelease(result.Remote)
	return result.Remote, nil
}

// GetServiceAsync runs GetService on its own goroutine, delivering the
// result via onComplete unless cancelled first.
func (sm *ServiceManager) GetServiceAsync(name string, onComplete func(*RemoteObject, error)) AsyncCancel {
	cancelled := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(cancelled) }) }

	go func() {
		obj, err := sm.GetService(name)
		select {
		case <-cancelled:
			return
		default:
		}
		if onComplete != nil {
			onComplete(obj, err)
		}
	}()

	return cancel
}

// AddService publishes obj under name.
func (sm *ServiceManager) AddService(name string, obj *LocalObject) error {
	data, offsets := smproto.EncodeAddRequest(sm.dialect, name, func(w *codec.Writer) {
		w.WriteObject(registry.FlattenLocal(obj.cookie, obj.acceptsFDs))
	})
	_, _, err := sm.driver.Call(sm.remote.Handle(), sm.dialect.AddCode(), data, offsets)
	if err != nil {
		return WrapError("AddService", err)
	}
	return nil
}

// AddServiceAsync runs AddService on its own goroutine.
func (sm *ServiceManager) AddServiceAsync(name string, obj *LocalObject, onComplete func(error)) AsyncCancel {
	cancelled := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(cancelled) }) }

	go func() {
		err := sm.AddService(name, obj)
		select {
		case <-cancelled:
			return
		default:
		}
		if onComplete != nil {
			onComplete(err)
		}
	}()

	return cancel
}

// AddRegistrationHandler runs fn whenever name (normalized per dialect)
// is (re-)registered, arming the dialect's watch mechanism on the
// first observer for that name. On hidl the notification is requested
// for the interface's "default" instance only; registrations of other
// instances of that interface are not reported.
func (sm *ServiceManager) AddRegistrationHandler(name string, fn func(name string)) int {
	normalized := smproto.NormalizeName(sm.dialect, name)

	sm.mu.Lock()
	w, ok := sm.watches[normalized]
	if !ok {
		w = &watch{name: normalized, observers: make(map[int]func(string))}
		sm.watches[normalized] = w
	}
	token := sm.nextWatchToken
	sm.nextWatchToken++
	w.observers[token] = fn
	firstObserver := len(w.observers) == 1
	present := sm.present
	sm.mu.Unlock()

	if firstObserver && present {
		sm.arm(w)
	}
	return token
}

// RemoveRegistrationHandler unregisters a single token returned by
// AddRegistrationHandler, unwatching the name once no observers remain.
func (sm *ServiceManager) RemoveRegistrationHandler(token int) {
	sm.mu.Lock()
	var target *watch
	for _, w := range sm.watches {
		if _, ok := w.observers[token]; ok {
			target = w
			break
		}
	}
	if target == nil {
		sm.mu.Unlock()
		return
	}
	delete(target.observers, token)
	empty := len(target.observers) == 0
	if empty {
		delete(sm.watches, target.name)
	}
	sm.mu.Unlock()

	if empty {
		sm.unarm(target)
	}
}

// RemoveRegistrationHandlers unregisters every token in tokens.
func (sm *ServiceManager) RemoveRegistrationHandlers(tokens []int) {
	for _, t := range tokens {
		sm.RemoveRegistrationHandler(t)
	}
}

func (sm *ServiceManager) arm(w *watch) {
	if sm.dialect == smproto.Hidl {
		sm.armHidl(w)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancelPoll = cancel
	go sm.pollLoop(ctx, w)
}

func (sm *ServiceManager) unarm(w *watch) {
	if w.cancelPoll != nil {
		w.cancelPoll()
	}
	if w.hidlProxy != nil {
		w.hidlProxy.Drop()
	}
}

// armHidl registers a native notification callback object, matching
// register_for_notifications (code 6): the kernel delivers future
// registration events as inbound transactions on the callback object
// rather than via polling.
func (sm *ServiceManager) armHidl(w *watch) {
	proxy := NewLocalObject(sm.driver, []string{"android.hidl.manager@1.0::IServiceNotification"}, false,
		func(code uint32, req *ParcelReader, _ uint32) (*ParcelWriter, error) {
			if code == smproto.HidlNotificationCode {
				if n, err := smproto.DecodeNotification(req); err == nil {
					sm.dispatchRegistration(n.FqInterface)
				}
			}
			return nil, nil
		})
	w.hidlProxy = proxy

	data, offsets := smproto.EncodeRegisterForNotifications(w.name, "default", func(cw *codec.Writer) {
		cw.WriteObject(registry.FlattenLocal(proxy.cookie, proxy.acceptsFDs))
	})
	_, _, _ = sm.driver.Call(sm.remote.Handle(), smproto.HidlRegisterForNotifications, data, offsets)
}

// pollLoop is the aidl/aidl2 watch mechanism: it periodically calls
// List and fires an observer the moment the watched name transitions
// from absent to present.
func (sm *ServiceManager) pollLoop(ctx context.Context, w *watch) {
	ticker := time.NewTicker(constants.DefaultWatchPollInterval)
	defer ticker.Stop()

	present := sm.listContains(w.name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := sm.listContains(w.name)
			if now && !present {
				sm.dispatchRegistration(w.name)
			}
			present = now
		}
	}
}

func (sm *ServiceManager) listContains(name string) bool {
	names, err := sm.List()
	if err != nil {
		return false
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (sm *ServiceManager) dispatchRegistration(rawName string) {
	normalized := smproto.NormalizeName(sm.dialect, rawName)
	sm.mu.Lock()
	w, ok := sm.watches[normalized]
	var cbs []func(string)
	if ok {
		for _, fn := range w.observers {
			cbs = append(cbs, fn)
		}
	}
	sm.mu.Unlock()
	for _, cb := range cbs {
		cb(normalized)
	}
}

// scheduleAutorelease queues obj to be dropped from the handle cache on
// the next flush unless the caller has registered interest (a death
// observer) in it by then, mirroring the original's idle-callback
// autorelease of synchronous get_service results.
func (sm *ServiceManager) scheduleAutorelease(obj *RemoteObject) {
	sm.autoreleaseMu.Lock()
	sm.autoreleaseQueue = append(sm.autoreleaseQueue, obj)
	already := sm.autoreleaseScheduled
	sm.autoreleaseScheduled = true
	sm.autoreleaseMu.Unlock()

	if !already {
		go sm.flushAutorelease()
	}
}

func (sm *ServiceManager) flushAutorelease() {
	runtime.Gosched()

	sm.autoreleaseMu.Lock()
	queue := sm.autoreleaseQueue
	sm.autoreleaseQueue = nil
	sm.autoreleaseScheduled = false
	sm.autoreleaseMu.Unlock()

	for _, obj := range queue {
		if obj.Handle() != wire.HandleServiceManager && obj.hasNoObservers() {
			sm.driver.registry.DropRemote(obj.Handle())
		}
	}
}
