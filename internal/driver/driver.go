// Package driver owns the open binder file descriptor: the mmap'd
// receive region, the BINDER_WRITE_READ submit loop, version
// negotiation, and the handle refcount transitions reported by the
// kernel on every submit.
package driver

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mjkern/gobinder/internal/constants"
	"github.com/mjkern/gobinder/internal/logging"
	"github.com/mjkern/gobinder/internal/wire"
)

// RefEvent reports one of the four kernel-driven refcount transitions
// (increfs, acquire, release, decrefs), keyed by the LocalObject
// identity the kernel echoes back in Cookie.
type RefEvent struct {
	Kind   RefKind
	Ptr    uint64
	Cookie uint64
}

type RefKind int

const (
	RefIncrefs RefKind = iota
	RefAcquire
	RefRelease
	RefDecrefs
)

// DeathEvent reports a kernel-initiated BR_DEAD_BINDER for the given
// handle/cookie pair armed by an earlier BC_REQUEST_DEATH_NOTIFICATION.
type DeathEvent struct {
	Handle uint32
	Cookie uint64
}

// Driver owns one open /dev/binder (or /dev/hwbinder) file descriptor.
type Driver struct {
	mu       sync.Mutex
	fd       int
	mmap     []byte
	mmapBase uintptr
	path     string
	logger   *logging.Logger
	closed   bool

	// outstanding tracks buffer pointers returned by the kernel on
	// inbound transactions that have not yet been freed with
	// BC_FREE_BUFFER.
	outstanding map[uint64]struct{}
}

// Open opens the device, mmaps a receive buffer from the fixed size
// ladder, and negotiates the binder version.
func Open(path string) (*Driver, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	d := &Driver{
		fd:          fd,
		path:        path,
		logger:      logging.Default().WithDriver(fd),
		outstanding: make(map[uint64]struct{}),
	}

	if err := d.negotiateVersion(); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := d.mapReceiveBuffer(); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := d.setMaxThreads(constants.DefaultMaxThreads); err != nil {
		d.logger.Warn("failed to set max thread hint", "error", err)
	}

	return d, nil
}

func (d *Driver) negotiateVersion() error {
	var version int32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), wire.IoctlVersion, uintptr(ptrOf(&version)))
	if errno != 0 {
		return fmt.Errorf("BINDER_VERSION ioctl: %w", errno)
	}
	if version != wire.ExpectedBinderVersion {
		return fmt.Errorf("%w: kernel binder version %d, expected %d", ErrConfiguration, version, wire.ExpectedBinderVersion)
	}
	return nil
}

func (d *Driver) mapReceiveBuffer() error {
	var lastErr error
	for _, size := range constants.MmapSizeLadder {
		buf, err := unix.Mmap(d.fd, 0, size, unix.PROT_READ, unix.MAP_PRIVATE)
		if err == nil {
			d.mmap = buf
			if len(buf) > 0 {
				d.mmapBase = uintptr(unsafe.Pointer(&buf[0]))
			}
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("mmap receive buffer: %w", lastErr)
}

func (d *Driver) setMaxThreads(n int) error {
	v := int32(n)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), wire.IoctlSetMaxThreads, uintptr(ptrOf(&v)))
	if errno != 0 {
		return errno
	}
	return nil
}

// Close unmaps the receive region and closes the fd. Further Submit
// calls return ErrDead.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.mmap != nil {
		_ = unix.Munmap(d.mmap)
	}
	return unix.Close(d.fd)
}

// Fd exposes the raw descriptor for looper registration (BC_ENTER_LOOPER
// is a command within the same submit loop, not a separate fd op, but
// death-notification epoll integration in an embedding host loop wants
// the raw fd).
func (d *Driver) Fd() int { return d.fd }

// Submit performs one BINDER_WRITE_READ: it writes the pending command
// batch and returns whatever return commands the kernel produced. A nil
// write batch still blocks waiting for inbound work, matching the
// looper's read-only poll call.
func (d *Driver) Submit(write []byte, readSize int) ([]wire.Command, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDead
	}
	d.mu.Unlock()

	if readSize < 0 {
		readSize = constants.DefaultMmapSize
	}
	readBuf := make([]byte, readSize)

	bwr := &wire.BinderWriteRead{
		WriteSize:   uint64(len(write)),
		WriteBuffer: uint64(ptrOf(sliceHeaderOrNil(write))),
		ReadSize:    uint64(len(readBuf)),
		ReadBuffer:  uint64(ptrOf(sliceHeaderOrNil(readBuf))),
	}

	raw := wire.Marshal(bwr)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), wire.IoctlWriteRead, uintptr(ptrOf(&raw[0])))
	if errno != 0 {
		return nil, fmt.Errorf("%w: BINDER_WRITE_READ: %v", ErrDead, errno)
	}

	if err := wire.Unmarshal(raw, bwr); err != nil {
		return nil, err
	}

	reader := wire.NewCommandReader(readBuf[:bwr.ReadConsumed])
	var commands []wire.Command
	for {
		cmd, ok, err := reader.Next()
		if err != nil {
			return commands, err
		}
		if !ok {
			break
		}
		commands = append(commands, cmd)
		d.trackBuffer(cmd)
	}
	return commands, nil
}

// trackBuffer remembers the buffer pointer carried by inbound
// transactions so FreeBuffer can verify a caller isn't
// double-freeing a buffer the driver never handed out.
func (d *Driver) trackBuffer(cmd wire.Command) {
	if cmd.Code != wire.BRTransaction && cmd.Code != wire.BRReply {
		return
	}
	t, err := wire.UnmarshalTransactionData(cmd.Body)
	if err != nil {
		return
	}
	d.mu.Lock()
	d.outstanding[t.Buffer] = struct{}{}
	d.mu.Unlock()
}

// FreeBuffer emits BC_FREE_BUFFER for a previously delivered transaction
// buffer. Passing an unknown pointer is a caller bug and returns
// ErrInvalidArgument rather than silently emitting an ioctl the kernel
// will reject.
func (d *Driver) FreeBuffer(w *wire.CommandWriter, ptr uint64) error {
	d.mu.Lock()
	_, ok := d.outstanding[ptr]
	if ok {
		delete(d.outstanding, ptr)
	}
	d.mu.Unlock()
	if !ok {
		return ErrInvalidArgument
	}
	w.FreeBuffer(ptr)
	return nil
}

// ViewBuffer returns a slice into the mmap'd receive region for a
// kernel-supplied pointer/length pair, e.g. a transaction's Buffer
// field. The kernel hands back addresses already mapped into this
// process's address space, so the slice is a direct offset from the
// mmap base — no copy.
func (d *Driver) ViewBuffer(ptr uint64, length uint64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	d.mu.Lock()
	base := d.mmapBase
	region := d.mmap
	d.mu.Unlock()
	if base == 0 {
		return nil, ErrConfiguration
	}
	offset := int64(ptr) - int64(base)
	if offset < 0 || offset+int64(length) > int64(len(region)) {
		return nil, ErrInvalidArgument
	}
	return region[offset : offset+int64(length)], nil
}

// ViewOffsets decodes the offsets array living at ptr (byteLen bytes,
// i.e. binder_transaction_data.offsets_size) into a uint64 slice.
func (d *Driver) ViewOffsets(ptr uint64, byteLen uint64) ([]uint64, error) {
	raw, err := d.ViewBuffer(ptr, byteLen)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(raw)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(raw[i*8 : i*8+8])
	}
	return out, nil
}

func ptrOf[T any](v *T) uintptr { return uintptr(unsafe.Pointer(v)) }

func sliceHeaderOrNil(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return &b[0]
}
