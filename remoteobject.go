package binder

import (
	"sync"
	"sync/atomic"

	"github.com/mjkern/gobinder/internal/wire"
)

var deathCookieSeq uint64

func nextDeathCookie() uint64 {
	return atomic.AddUint64(&deathCookieSeq, 1)
}

// DeathCallback is invoked once when the kernel reports a RemoteObject's
// node as dead, and again (with alive=true) on a handle-0 reanimation.
type DeathCallback func(obj *RemoteObject, alive bool)

// RemoteObject is a reference to a binder node hosted by another
// process, named by an integer handle in this Driver's handle table.
// At most one RemoteObject exists per handle per Driver (enforced by
// internal/registry's GetOrCreateRemote).
type RemoteObject struct {
	mu        sync.Mutex
	driver    *Driver
	handle    uint32
	cookie    uint64
	alive     bool
	armed     bool
	observers map[int]DeathCallback
	nextToken int
}

func newRemoteObject(d *Driver, handle uint32) *RemoteObject {
	return &RemoteObject{
		driver:    d,
		handle:    handle,
		cookie:    nextDeathCookie(),
		alive:     true,
		observers: make(map[int]DeathCallback),
	}
}

// Handle returns the integer naming this node in the Driver's handle
// table.
func (r *RemoteObject) Handle() uint32 { return r.handle }

// hasNoObservers reports whether no death observer is currently
// registered, used by ServiceManager's autorelease flush to decide
// whether a synchronous get_service result can be dropped from the
// handle cache.
func (r *RemoteObject) hasNoObservers() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers) == 0
}

// IsAlive reports whether the node is believed live — false once a
// death notification has fired and, for handle 0, true again after a
// successful reanimation ping.
func (r *RemoteObject) IsAlive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alive
}

// AddDeathObserver registers cb to run when this node dies, arming the
// kernel death notification on the first observer. It returns a token
// for RemoveDeathObserver.
func (r *RemoteObject) AddDeathObserver(cb DeathCallback) int {
	r.mu.Lock()
	token := r.nextToken
	r.nextToken++
	r.observers[token] = cb
	needsArm := !r.armed
	if needsArm {
		r.armed = true
	}
	r.mu.Unlock()

	if needsArm {
		r.driver.registerDeathCookie(r.cookie, r.handle)
		cw := wire.NewCommandWriter()
		cw.DeathNotify(wire.BCRequestDeathNotify, r.handle, r.cookie)
		_, _ = r.driver.submitControl(cw.Bytes())
	}
	return token
}

// RemoveDeathObserver removes a previously registered observer,
// clearing the kernel death notification once none remain.
func (r *RemoteObject) RemoveDeathObserver(token int) {
	r.mu.Lock()
	delete(r.observers, token)
	empty := len(r.observers) == 0 && r.armed
	if empty {
		r.armed = false
	}
	r.mu.Unlock()

	if empty {
		r.driver.unregisterDeathCookie(r.cookie)
		cw := wire.NewCommandWriter()
		cw.DeathNotify(wire.BCClearDeathNotify, r.handle, r.cookie)
		_, _ = r.driver.submitControl(cw.Bytes())
	}
}

// onDeath is invoked by the dispatch engine on BR_DEAD_BINDER.
func (r *RemoteObject) onDeath() {
	r.mu.Lock()
	r.alive = false
	cbs := make([]DeathCallback, 0, len(r.observers))
	for _, cb := range r.observers {
		cbs = append(cbs, cb)
	}
	r.mu.Unlock()

	for _, cb := range cbs {
		cb(r, false)
	}

	if r.handle == wire.HandleServiceManager {
		go r.reanimate()
	}
}

// MarkDead fires this node's death observers locally without waiting
// for (or exchanging) a kernel BR_DEAD_BINDER/BC_DEAD_BINDER_DONE
// round trip. It exists for the bridge: a CodeDeadObject reply from a
// forwarded call means the destination's object died, which the
// source-side mirror has no kernel channel of its own to learn about.
func (r *RemoteObject) MarkDead() { r.selfDestruct() }

// selfDestruct fires the death signal locally without exchanging
// BC_DEAD_BINDER_DONE with the kernel — the kernel never reported this
// node dead. Its only caller is MarkDead.
func (r *RemoteObject) selfDestruct() {
	r.mu.Lock()
	r.alive = false
	cbs := make([]DeathCallback, 0, len(r.observers))
	for _, cb := range r.observers {
		cbs = append(cbs, cb)
	}
	r.mu.Unlock()
	for _, cb := range cbs {
		cb(r, false)
	}
}

// reanimate polls handle 0 with a synchronous ping on a bounded backoff
// ladder, matching the original's main-thread-only reanimation path,
// until the service manager comes back or the Driver closes.
func (r *RemoteObject) reanimate() {
	ladder := r.driver.presenceBackoffLadder()
	idx := 0
	for {
		delay := ladder[idx]
		if idx+1 < len(ladder) {
			idx++
		}
		if !r.driver.sleepOrClosed(delay) {
			return
		}
		if err := r.driver.pingSync(r.handle); err == nil {
			r.mu.Lock()
			r.alive = true
			cbs := make([]DeathCallback, 0, len(r.observers))
			for _, cb := range r.observers {
				cbs = append(cbs, cb)
			}
			r.mu.Unlock()
			for _, cb := range cbs {
				cb(r, true)
			}
			return
		}
	}
}
