package binder

import "sync"

// RecordingObserver implements Observer, recording every callback for
// assertions in tests instead of exporting to Prometheus. It mirrors
// the teacher's MockBackend: a call-tracking double for the one
// pluggable seam most tests need a fake of.
type RecordingObserver struct {
	mu sync.RWMutex

	transactions   []TransactionObservation
	replies        []ReplyObservation
	looperCounts   []int
	refcountEvents []string
}

// TransactionObservation is one recorded ObserveTransaction call.
type TransactionObservation struct {
	Code      uint32
	LatencyNs uint64
	Oneway    bool
	Success   bool
}

// ReplyObservation is one recorded ObserveReply call.
type ReplyObservation struct {
	LatencyNs uint64
	Success   bool
}

// NewRecordingObserver returns a ready-to-use RecordingObserver.
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{}
}

func (o *RecordingObserver) ObserveTransaction(code uint32, latencyNs uint64, oneway bool, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transactions = append(o.transactions, TransactionObservation{Code: code, LatencyNs: latencyNs, Oneway: oneway, Success: success})
}

func (o *RecordingObserver) ObserveReply(latencyNs uint64, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replies = append(o.replies, ReplyObservation{LatencyNs: latencyNs, Success: success})
}

func (o *RecordingObserver) ObserveLooperCount(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.looperCounts = append(o.looperCounts, n)
}

func (o *RecordingObserver) ObserveRefcountEvent(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refcountEvents = append(o.refcountEvents, kind)
}

// Transactions returns every recorded ObserveTransaction call, in order.
func (o *RecordingObserver) Transactions() []TransactionObservation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]TransactionObservation, len(o.transactions))
	copy(out, o.transactions)
	return out
}

// Replies returns every recorded ObserveReply call, in order.
func (o *RecordingObserver) Replies() []ReplyObservation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]ReplyObservation, len(o.replies))
	copy(out, o.replies)
	return out
}

// LooperCounts returns every recorded looper pool size, in order.
func (o *RecordingObserver) LooperCounts() []int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]int, len(o.looperCounts))
	copy(out, o.looperCounts)
	return out
}

// RefcountEvents returns every recorded refcount event kind, in order.
func (o *RecordingObserver) RefcountEvents() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, len(o.refcountEvents))
	copy(out, o.refcountEvents)
	return out
}

// Reset clears every recorded observation.
func (o *RecordingObserver) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transactions = nil
	o.replies = nil
	o.looperCounts = nil
	o.refcountEvents = nil
}

// NewTestLocalObject registers a LocalObject against d purely for
// exercising registry/transaction-engine paths in tests, without a
// caller-supplied handler beyond fn.
func NewTestLocalObject(d *Driver, fn LocalHandlerFunc) *LocalObject {
	return NewLocalObject(d, nil, false, fn)
}

var _ Observer = (*RecordingObserver)(nil)
