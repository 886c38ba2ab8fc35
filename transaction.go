package binder

import (
	"encoding/binary"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/mjkern/gobinder/internal/constants"
	"github.com/mjkern/gobinder/internal/interfaces"
	"github.com/mjkern/gobinder/internal/wire"
)

// bufPtr returns the address of b's backing array as the uint64 the
// wire layer expects for TransactionData.Buffer/Offsets. The kernel
// copies from this address during the ioctl, so the slice must stay
// alive (see runtime.KeepAlive below) until the call returns.
func bufPtr(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

func encodeOffsets(offsets []uint64) []byte {
	out := make([]byte, len(offsets)*8)
	for i, o := range offsets {
		binary.LittleEndian.PutUint64(out[i*8:i*8+8], o)
	}
	return out
}

// Call performs a synchronous transaction against handle and blocks
// until the reply arrives, draining and dispatching any interleaved
// refcount/inbound-transaction traffic the kernel hands back on the
// same fd in the meantime.
func (d *Driver) Call(handle uint32, code uint32, data []byte, offsets []uint64) ([]byte, []uint64, error) {
	return d.callTransact(handle, code, 0, data, offsets)
}

// CallOneway performs a fire-and-forget transaction: it returns once
// the kernel acknowledges BC_TRANSACTION_COMPLETE, before the peer has
// necessarily run its handler.
func (d *Driver) CallOneway(handle uint32, code uint32, data []byte, offsets []uint64) error {
	_, _, err := d.callTransact(handle, code, wire.TFOneWay, data, offsets)
	return err
}

// callRequest is one unit of work handed to the pinned call worker
// goroutine started by CallOnWorker.
type callRequest struct {
	handle   uint32
	code     uint32
	flags    uint32
	data     []byte
	offsets  []uint64
	resultCh chan callResult
}

type callResult struct {
	data    []byte
	offsets []uint64
	err     error
}

// CallOnWorker runs the call on a dedicated, OS-thread-pinned
// goroutine rather than whichever goroutine happens to call it. Some
// service-manager dialects require the identity of the calling thread
// to be stable across a sequence of related calls; this gives callers
// that guarantee without pinning their own goroutine.
func (d *Driver) CallOnWorker(handle uint32, code uint32, data []byte, offsets []uint64) ([]byte, []uint64, error) {
	d.ensureWorker()
	req := &callRequest{handle: handle, code: code, data: data, offsets: offsets, resultCh: make(chan callResult, 1)}
	d.workerCh <- req
	res := <-req.resultCh
	return res.data, res.offsets, res.err
}

func (d *Driver) ensureWorker() {
	d.workerOnce.Do(func() {
		d.workerCh = make(chan *callRequest, 8)
		go d.workerLoop()
	})
}

func (d *Driver) workerLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for req := range d.workerCh {
		data, offsets, err := d.callTransact(req.handle, req.code, req.flags, req.data, req.offsets)
		req.resultCh <- callResult{data: data, offsets: offsets, err: err}
	}
}

// AsyncCancel cancels the delivery of an in-flight CallAsync's
// callback. It never cancels the transaction itself once the kernel
// has accepted it — only whether the caller still wants to hear about
// the outcome.
type AsyncCancel func()

// CallAsync starts a oneway transaction on its own goroutine and
// invokes onComplete with the outcome once the kernel acknowledges
// it. The returned AsyncCancel suppresses onComplete if called before
// the transaction completes; it never recalls the transaction.
func (d *Driver) CallAsync(handle uint32, code uint32, data []byte, offsets []uint64, onComplete func(err error)) AsyncCancel {
	cancelled := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(cancelled) }) }

	go func() {
		err := d.CallOneway(handle, code, data, offsets)
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

// callTransact is the shared engine behind Call/CallOneway/CallAsync:
// submit BC_TRANSACTION, then keep submitting (with whatever BC_*
// commands the dispatch engine produces for interleaved traffic)
// until the matching reply — or, for a oneway call, the completion
// acknowledgement — arrives.
func (d *Driver) callTransact(handle uint32, code uint32, flags uint32, data []byte, offsets []uint64) ([]byte, []uint64, error) {
	oneway := flags&wire.TFOneWay != 0
	offsetBytes := encodeOffsets(offsets)

	t := &wire.TransactionData{
		Handle:      handle,
		Code:        code,
		Flags:       flags,
		DataSize:    uint64(len(data)),
		OffsetsSize: uint64(len(offsetBytes)),
		Buffer:      bufPtr(data),
		Offsets:     bufPtr(offsetBytes),
	}
	cw := wire.NewCommandWriter()
	cw.Transaction(wire.BCTransaction, t)
	pending := cw.Bytes()
	var pendingPinned [][]byte

	for {
		commands, err := d.low.Submit(pending, constants.DefaultMmapSize)
		runtime.KeepAlive(data)
		runtime.KeepAlive(offsetBytes)
		// pending may also embed addresses of buffers a prior interleaved
		// Dispatch call produced; keep those alive until this Submit,
		// which actually hands them to the kernel, returns.
		for _, buf := range pendingPinned {
			runtime.KeepAlive(buf)
		}
		pending = nil
		pendingPinned = nil
		if err != nil {
			return nil, nil, WrapError("Call", err)
		}

		var next []byte
		var nextPinned [][]byte
		for _, cmd := range commands {
			switch cmd.Code {
			case wire.BRTransactionComplete:
				if oneway {
					return nil, nil, nil
				}
			case wire.BRReply:
				rt, err := wire.UnmarshalTransactionData(cmd.Body)
				if err != nil {
					return nil, nil, WrapError("Call", err)
				}
				return d.drainReply(rt)
			case wire.BRDeadReply:
				return nil, nil, NewError("Call", CodeDeadObject, "peer is dead")
			case wire.BRFailedReply:
				return nil, nil, NewError("Call", CodeGenericFailure, "transaction failed")
			case wire.BRFrozenReply:
				return nil, nil, NewError("Call", CodeGenericFailure, "peer is frozen")
			default:
				out, pinned, derr := d.engine.Dispatch(cmd)
				if derr != nil {
					d.logger.Warn("dispatch failed during call", "code", cmd.Code, "error", derr)
					continue
				}
				next = append(next, out...)
				nextPinned = append(nextPinned, pinned...)
			}
		}
		pending = next
		pendingPinned = nextPinned
	}
}

// drainReply copies the reply parcel out of the mmap region and frees
// the kernel's buffer, since the caller only owns the copy once this
// returns.
func (d *Driver) drainReply(rt *wire.TransactionData) ([]byte, []uint64, error) {
	raw, err := d.low.ViewBuffer(rt.Buffer, rt.DataSize)
	if err != nil {
		return nil, nil, WrapError("Call", err)
	}
	rawOffsets, err := d.low.ViewOffsets(rt.Offsets, rt.OffsetsSize)
	if err != nil {
		return nil, nil, WrapError("Call", err)
	}
	data := append([]byte(nil), raw...)
	offs := append([]uint64(nil), rawOffsets...)

	free := wire.NewCommandWriter()
	if ferr := d.low.FreeBuffer(free, rt.Buffer); ferr == nil {
		_, _ = d.low.Submit(free.Bytes(), 0)
	}

	if rt.Flags&wire.TFStatusCode != 0 {
		return nil, nil, NewError("Call", CodeGenericFailure, "reply carried a status code")
	}
	return data, offs, nil
}

// engine implements looper.Dispatcher: it is the single place that
// turns a BR_* command arriving on any looper thread (or inline inside
// a blocking Call) into the BC_* commands that answer it.
type engine struct {
	driver *Driver
}

func (e *engine) Dispatch(cmd wire.Command) ([]byte, [][]byte, error) {
	switch cmd.Code {
	case wire.BRIncrefs, wire.BRAcquire, wire.BRRelease, wire.BRDecrefs:
		return e.dispatchRefcount(cmd)
	case wire.BRTransaction:
		return e.dispatchTransaction(cmd)
	case wire.BRDeadBinder:
		return e.dispatchDeadBinder(cmd)
	case wire.BRReply:
		e.driver.logger.Warn("BR_REPLY arrived with no waiting call on this thread")
		return nil, nil, nil
	default:
		return nil, nil, nil
	}
}

// dispatchRefcount answers one BR_INCREFS/BR_ACQUIRE/BR_RELEASE/
// BR_DECREFS. The kernel delivers these on a looper thread, but the
// reference-count mutation (and, for acquire/incref, the acknowledgement
// command that follows it) is marshalled onto the host loop so it
// serializes against every other host-loop callback the same way
// inbound DispatchMain transactions do.
func (e *engine) dispatchRefcount(cmd wire.Command) ([]byte, [][]byte, error) {
	if len(cmd.Body) < 16 {
		return nil, nil, wire.ErrInsufficientData
	}
	cookie := binary.LittleEndian.Uint64(cmd.Body[8:16])

	handler, ok := e.driver.registry.LookupLocal(cookie)
	if !ok {
		return nil, nil, nil
	}
	local, ok := handler.(*LocalObject)
	if !ok {
		return nil, nil, nil
	}

	cw := wire.NewCommandWriter()
	var kind string
	e.driver.onHostLoop(func() {
		switch cmd.Code {
		case wire.BRIncrefs:
			local.onIncrefs(cw, cookie)
			kind = "incref"
		case wire.BRAcquire:
			local.onAcquire(cw, cookie)
			kind = "acquire"
		case wire.BRRelease:
			local.onRelease(cookie)
			kind = "release"
		case wire.BRDecrefs:
			local.onDecrefs(cookie)
			kind = "decref"
		}
	})
	e.driver.observer.ObserveRefcountEvent(kind)
	return cw.Bytes(), nil, nil
}

func (e *engine) dispatchDeadBinder(cmd wire.Command) ([]byte, [][]byte, error) {
	if len(cmd.Body) < 8 {
		return nil, nil, wire.ErrInsufficientData
	}
	cookie := binary.LittleEndian.Uint64(cmd.Body[0:8])

	if handle, ok := e.driver.lookupDeathCookie(cookie); ok {
		if remoteAny, ok := e.driver.registry.GetRemote(handle); ok {
			if remote, ok := remoteAny.(*RemoteObject); ok {
				remote.onDeath()
			}
		}
	}

	// BC_DEAD_BINDER_DONE carries the bare 64-bit cookie, no pointer.
	out := make([]byte, 12)
	binary.LittleEndian.PutUint32(out[0:4], wire.BCDeadBinderDone)
	binary.LittleEndian.PutUint64(out[4:12], cookie)
	return out, nil, nil
}

// dispatchTransaction answers one inbound BR_TRANSACTION. The target
// LocalObject's CanHandle result picks the executing thread: internal
// codes (DispatchLooper) run inline on this looper thread, same as
// before; everything else (DispatchMain) is marshalled onto the host
// loop so user handlers always run on that single serialized goroutine,
// and an object with no handler installed (DispatchNotSupported) never
// has Handle called at all.
func (e *engine) dispatchTransaction(cmd wire.Command) ([]byte, [][]byte, error) {
	t, err := wire.UnmarshalTransactionData(cmd.Body)
	if err != nil {
		return nil, nil, err
	}
	data, err := e.driver.low.ViewBuffer(t.Buffer, t.DataSize)
	if err != nil {
		return nil, nil, err
	}
	offsets, err := e.driver.low.ViewOffsets(t.Offsets, t.OffsetsSize)
	if err != nil {
		return nil, nil, err
	}
	oneway := t.Flags&wire.TFOneWay != 0

	handler, ok := e.driver.registry.LookupLocal(t.Cookie)
	start := time.Now()

	var replyData []byte
	var replyOffsets []uint64
	var handleErr error
	if !ok {
		handleErr = NewError("Dispatch", CodeUnexpectedMessage, "no local object registered for this cookie")
	} else {
		switch handler.CanHandle(t.Code) {
		case interfaces.DispatchNotSupported:
			handleErr = NewError("Dispatch", CodeUnexpectedMessage, "no handler installed for this object")
		case interfaces.DispatchMain:
			e.driver.onHostLoop(func() {
				replyData, replyOffsets, handleErr = handler.Handle(t.Code, data, offsets, t.Flags)
			})
		default:
			replyData, replyOffsets, handleErr = handler.Handle(t.Code, data, offsets, t.Flags)
		}
	}

	e.driver.observer.ObserveTransaction(t.Code, uint64(time.Since(start).Nanoseconds()), oneway, handleErr == nil)

	out := wire.NewCommandWriter()
	var pinned [][]byte
	if !oneway {
		if handleErr != nil {
			status := make([]byte, 4)
			binary.LittleEndian.PutUint32(status, 0xFFFFFFFF)
			out.Transaction(wire.BCReply, &wire.TransactionData{
				Flags:    wire.TFStatusCode,
				DataSize: uint64(len(status)),
				Buffer:   bufPtr(status),
			})
			pinned = append(pinned, status)
		} else {
			replyOffsetBytes := encodeOffsets(replyOffsets)
			out.Transaction(wire.BCReply, &wire.TransactionData{
				DataSize:    uint64(len(replyData)),
				OffsetsSize: uint64(len(replyOffsetBytes)),
				Buffer:      bufPtr(replyData),
				Offsets:     bufPtr(replyOffsetBytes),
			})
			pinned = append(pinned, replyData, replyOffsetBytes)
		}
	}
	_ = e.driver.low.FreeBuffer(out, t.Buffer)
	return out.Bytes(), pinned, nil
}
