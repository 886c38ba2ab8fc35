// Package binder is a userspace client for the Android Binder IPC
// kernel facility: open a device, expose local objects, call and
// receive transactions against remote handles, and resolve named
// services through one of the aidl/aidl2/hidl service-manager
// dialects.
package binder

import (
	"sync"
	"time"

	internaldriver "github.com/mjkern/gobinder/internal/driver"
	"github.com/mjkern/gobinder/internal/config"
	"github.com/mjkern/gobinder/internal/constants"
	"github.com/mjkern/gobinder/internal/interfaces"
	"github.com/mjkern/gobinder/internal/logging"
	"github.com/mjkern/gobinder/internal/looper"
	"github.com/mjkern/gobinder/internal/registry"
	"github.com/mjkern/gobinder/internal/wire"
)

// Dialect names one of the service-manager wire dialects a Driver
// speaks with handle 0.
type Dialect int

const (
	DialectUnspecified Dialect = iota
	DialectAidl
	DialectAidl2
	DialectHidl
)

func (d Dialect) String() string {
	switch d {
	case DialectAidl:
		return "aidl"
	case DialectAidl2:
		return "aidl2"
	case DialectHidl:
		return "hidl"
	default:
		return "unspecified"
	}
}

func dialectFromConfig(d config.Dialect) Dialect {
	switch d {
	case config.DialectAidl2:
		return DialectAidl2
	case config.DialectHidl:
		return DialectHidl
	default:
		return DialectAidl
	}
}

// Options configures Open.
type Options struct {
	// Device is the character device path, e.g. "/dev/binder" or
	// "/dev/hwbinder". Defaults to constants.DefaultBinderDevice.
	Device string
	// Dialect overrides the config file / built-in default for Device.
	Dialect Dialect
	// ConfigPath overrides the config file search (see internal/config).
	ConfigPath string
	// MaxThreads bounds the looper pool. Defaults to
	// constants.DefaultMaxThreads.
	MaxThreads int
	Observer   Observer
	Logger     *logging.Logger
}

// Driver owns one open binder device: its fd/mmap/submit primitive,
// the local/remote object registry, and the looper pool draining
// inbound traffic.
type Driver struct {
	low      *internaldriver.Driver
	registry *registry.Registry
	pool     *looper.Pool
	engine   *engine
	dialect  Dialect
	observer interfaces.Observer
	logger   *logging.Logger
	device   string

	mu     sync.Mutex
	closed bool

	closeOnce sync.Once
	closeCh   chan struct{}

	deathMu      sync.Mutex
	deathCookies map[uint64]uint32

	workerOnce sync.Once
	workerCh   chan *callRequest

	hostLoopCh chan func()
}

// Open opens opts.Device (or the default), negotiates the binder
// version, resolves its dialect, and starts the looper pool.
func Open(opts Options) (*Driver, error) {
	if opts.Device == "" {
		opts.Device = constants.DefaultBinderDevice
	}

	low, err := internaldriver.Open(opts.Device)
	if err != nil {
		return nil, WrapError("Open", err)
	}

	dialect := opts.Dialect
	if dialect == DialectUnspecified {
		dialect = resolveDialect(opts.Device, opts.ConfigPath)
	}

	d := &Driver{
		low:          low,
		registry:     registry.New(),
		dialect:      dialect,
		observer:     opts.Observer,
		logger:       opts.Logger,
		device:       opts.Device,
		closeCh:      make(chan struct{}),
		deathCookies: make(map[uint64]uint32),
		hostLoopCh:   make(chan func(), constants.HostLoopQueueSize),
	}
	if d.observer == nil {
		d.observer = NoOpObserver{}
	}
	if d.logger == nil {
		d.logger = logging.Default()
	}
	d.engine = &engine{driver: d}

	maxThreads := opts.MaxThreads
	if maxThreads <= 0 {
		maxThreads = constants.DefaultMaxThreads
	}
	d.pool = looper.New(looper.Config{
		Driver:     low,
		Dispatcher: d.engine,
		MaxThreads: maxThreads,
		Logger:     d.logger,
		Observer:   d.observer,
	})
	d.pool.Start()
	go d.runHostLoop()

	return d, nil
}

// runHostLoop is the single goroutine that executes every "main"-affinity
// callback this Driver defers off its looper threads: inbound
// transactions a LocalObject's CanHandle routed to DispatchMain, and the
// acquire/release reference-count mutations spec.md's local object
// model requires to serialize against host-issued commands. It runs
// until Close closes hostLoopCh.
func (d *Driver) runHostLoop() {
	for fn := range d.hostLoopCh {
		fn()
	}
}

// onHostLoop posts fn to the host loop and blocks the calling looper
// thread until it has run, so the looper can still produce its BC_REPLY
// (or ack) synchronously while the actual work executes serialized
// against every other deferred callback on the one host-loop goroutine.
func (d *Driver) onHostLoop(fn func()) {
	done := make(chan struct{})
	d.hostLoopCh <- func() {
		fn()
		close(done)
	}
	<-done
}

func resolveDialect(device, configPath string) Dialect {
	path := config.ResolvePath(configPath)
	devices, err := config.Load(path)
	if err == nil {
		if dc, ok := devices[device]; ok && dc.Dialect != "" {
			return dialectFromConfig(dc.Dialect)
		}
	}
	return dialectFromConfig(config.DefaultDialectFor(device))
}

// Dialect reports the resolved service-manager dialect for this
// Driver's device.
func (d *Driver) Dialect() Dialect { return d.dialect }

// Device reports the character device path this Driver opened.
func (d *Driver) Device() string { return d.device }

// Close stops the looper pool and closes the underlying device. Safe
// to call more than once.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.closeCh)
		d.pool.Stop()
		close(d.hostLoopCh)
	})
	return d.low.Close()
}

// remoteObject returns the (possibly newly created) RemoteObject for
// handle, with at most one instance per handle per Driver.
func (d *Driver) remoteObject(handle uint32) *RemoteObject {
	value := d.registry.GetOrCreateRemote(handle, func(h uint32) any {
		return newRemoteObject(d, h)
	})
	return value.(*RemoteObject)
}

// ServiceManagerHandle returns (and lazily creates) the RemoteObject
// for handle 0, the well-known service manager node.
func (d *Driver) ServiceManagerHandle() *RemoteObject {
	return d.remoteObject(wire.HandleServiceManager)
}

// RemoteObjectFor exposes remoteObject to other packages in this
// module (notably bridge) that need a handle's RemoteObject without
// owning a ServiceManager lookup.
func (d *Driver) RemoteObjectFor(handle uint32) *RemoteObject {
	return d.remoteObject(handle)
}

// Registry exposes the object table to other packages in this module
// (notably bridge, which needs registry.ConvertForBridge to repackage
// a forwarded parcel's object descriptors).
func (d *Driver) Registry() *registry.Registry {
	return d.registry
}

func (d *Driver) registerDeathCookie(cookie uint64, handle uint32) {
	d.deathMu.Lock()
	d.deathCookies[cookie] = handle
	d.deathMu.Unlock()
}

func (d *Driver) unregisterDeathCookie(cookie uint64) {
	d.deathMu.Lock()
	delete(d.deathCookies, cookie)
	d.deathMu.Unlock()
}

func (d *Driver) lookupDeathCookie(cookie uint64) (uint32, bool) {
	d.deathMu.Lock()
	defer d.deathMu.Unlock()
	h, ok := d.deathCookies[cookie]
	return h, ok
}

// submitControl issues a direct, non-blocking BINDER_WRITE_READ with a
// zero-length read buffer: a pure write-flush used for control
// commands (arm/clear death notification) that don't need to borrow a
// looper thread.
func (d *Driver) submitControl(write []byte) ([]wire.Command, error) {
	return d.low.Submit(write, 0)
}

// pingSync issues a synchronous ping transaction through the
// main-thread call path, used by RemoteObject.reanimate.
func (d *Driver) pingSync(handle uint32) error {
	_, _, err := d.Call(handle, pingCodeForDialect(d.dialect), nil, nil)
	return err
}

func pingCodeForDialect(dialect Dialect) uint32 {
	if dialect == DialectHidl {
		return wire.HidlPing
	}
	return wire.PingTransaction
}

func (d *Driver) presenceBackoffLadder() []time.Duration {
	return constants.PresenceBackoffLadder
}

// sleepOrClosed sleeps for d or returns false early if the Driver has
// been closed in the meantime.
func (drv *Driver) sleepOrClosed(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-drv.closeCh:
		return false
	}
}
