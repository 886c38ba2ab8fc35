// Package constants holds the fixed values that size and pace the driver,
// looper pool, and service manager: buffer sizes, thread hints, device
// paths, and backoff timings.
package constants

import "time"

// Default devices and their built-in dialect, used when no config file
// overrides them.
const (
	DefaultBinderDevice   = "/dev/binder"
	DefaultHwBinderDevice = "/dev/hwbinder"
)

// MmapSizeLadder lists the receive-buffer sizes Open will pick from,
// smallest-that-fits first, mirroring the teacher's power-of-two buffer
// pool buckets (internal/queue.BufferPool in the teacher repo).
var MmapSizeLadder = []int{
	128 * 1024,
	256 * 1024,
	1024 * 1024,
	4 * 1024 * 1024,
}

const (
	// DefaultMmapSize is used when the caller does not request a specific
	// receive-buffer size.
	DefaultMmapSize = 128 * 1024

	// DefaultMaxThreads bounds the looper pool created lazily per Driver.
	DefaultMaxThreads = 15

	// ExpectedBinderVersion is negotiated on Open; a mismatch is a
	// configuration error.
	ExpectedBinderVersion = 8

	// ServiceManagerHandle is the well-known handle for the registry
	// object on every device.
	ServiceManagerHandle = 0

	// HostLoopQueueSize bounds how many deferred main-thread-affinity
	// callbacks (inbound transactions, acquire/release marshalling) may
	// be queued ahead of the host loop goroutine before a looper thread
	// posting one more blocks.
	HostLoopQueueSize = 64
)

// PresenceBackoffLadder is the reanimation-poll backoff: 100ms -> 1000ms
// in 100ms steps, then steady at the last value.
var PresenceBackoffLadder = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	300 * time.Millisecond,
	400 * time.Millisecond,
	500 * time.Millisecond,
	600 * time.Millisecond,
	700 * time.Millisecond,
	800 * time.Millisecond,
	900 * time.Millisecond,
	1000 * time.Millisecond,
}

// DefaultWatchPollInterval is the aidl/aidl2 dialect's list-diff poll
// period.
const DefaultWatchPollInterval = 2 * time.Second

// DefaultConfigPathEnv names the environment variable that supplies the
// config file path when no explicit path is given. There is no default
// path: with neither set, no config file is read.
const DefaultConfigPathEnv = "GOBINDER_CONFIG"
