// Package looper runs the pool of reader threads that drain inbound
// binder traffic for a Driver, mirroring the teacher's queue runner
// pool but trading "one runner per hardware queue, one completion per
// disk I/O" for "one looper per worker thread, one dispatch per
// transaction".
package looper

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/mjkern/gobinder/internal/constants"
	"github.com/mjkern/gobinder/internal/interfaces"
	"github.com/mjkern/gobinder/internal/wire"
)

// Submitter is the narrow Driver surface a looper needs: submit a batch
// of commands and receive whatever the kernel returns.
type Submitter interface {
	Submit(write []byte, readSize int) ([]wire.Command, error)
}

// Dispatcher handles one inbound BR_* command that isn't pool
// management (BR_SPAWN_LOOPER, BR_NOOP) — refcount commands, death
// notices and transactions — finds the target object via the registry,
// and returns whatever BC_* commands the engine wants appended to the
// looper's next submit batch. nextBatch may embed raw addresses of
// buffers backing pinned; the caller must keep pinned alive until the
// Submit call that actually sends nextBatch to the kernel returns.
type Dispatcher interface {
	Dispatch(cmd wire.Command) (nextBatch []byte, pinned [][]byte, err error)
}

// Config configures a Pool.
type Config struct {
	Driver     Submitter
	Dispatcher Dispatcher
	MaxThreads int
	Logger     interfaces.Logger
	Observer   interfaces.Observer
}

// Pool lazily grows a set of looper goroutines up to MaxThreads, one
// created eagerly on Start and further ones spawned on BR_SPAWN_LOOPER.
type Pool struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	count   int32
	wg      sync.WaitGroup
	started bool
}

// New returns a Pool bound to driver/dispatcher; call Start to launch
// the first looper thread.
func New(cfg Config) *Pool {
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = constants.DefaultMaxThreads
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Start launches the first looper thread. Safe to call once.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()
	p.spawn()
}

// Stop signals every looper to exit and waits for them to finish.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Count reports the number of live looper threads.
func (p *Pool) Count() int { return int(atomic.LoadInt32(&p.count)) }

func (p *Pool) spawn() bool {
	p.mu.Lock()
	if int(p.count) >= p.cfg.MaxThreads {
		p.mu.Unlock()
		return false
	}
	p.count++
	n := p.count
	p.mu.Unlock()

	if p.cfg.Observer != nil {
		p.cfg.Observer.ObserveLooperCount(int(n))
	}

	p.wg.Add(1)
	go p.run()
	return true
}

// run is one looper thread's body: pinned to an OS thread (the kernel
// tracks loopers by tid), registers on entry, drains commands until the
// pool is stopped, deregisters on exit.
func (p *Pool) run() {
	defer p.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer func() {
		atomic.AddInt32(&p.count, -1)
	}()

	entry := wire.NewCommandWriter()
	entry.Simple(wire.BCEnterLooper)
	pending := entry.Bytes()
	var pendingPinned [][]byte

	for {
		select {
		case <-p.ctx.Done():
			exit := wire.NewCommandWriter()
			exit.Simple(wire.BCExitLooper)
			_, _ = p.cfg.Driver.Submit(exit.Bytes(), constants.DefaultMmapSize)
			return
		default:
		}

		commands, err := p.cfg.Driver.Submit(pending, constants.DefaultMmapSize)
		// pending may embed raw addresses of buffers a prior Dispatch
		// call produced (a reply's data/offsets); keep them reachable
		// until the kernel has actually read from them.
		for _, buf := range pendingPinned {
			runtime.KeepAlive(buf)
		}
		pending = nil
		pendingPinned = nil
		if err != nil {
			if p.cfg.Logger != nil {
				p.cfg.Logger.Error("looper submit failed", "error", err)
			}
			return
		}

		var next []byte
		var nextPinned [][]byte
		for _, cmd := range commands {
			switch cmd.Code {
			case wire.BRSpawnLooper:
				p.spawn()
			case wire.BRNoop:
				// nothing to do
			default:
				out, pinned, err := p.cfg.Dispatcher.Dispatch(cmd)
				if err != nil {
					if p.cfg.Logger != nil {
						p.cfg.Logger.Warn("dispatch failed", "code", cmd.Code, "error", err)
					}
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
