package binder

import (
	"testing"

	"github.com/mjkern/gobinder/internal/smproto"
)

// Note: NewServiceManager, GetService/AddService, and the watch arm/unarm
// paths ping a real handle-0 object and cannot run without a kernel
// binder device; that belongs to integration tests. dialectToSM and the
// registration-handler bookkeeping below don't touch the driver as long
// as the manager is never marked present.

func TestDialectToSM(t *testing.T) {
	cases := []struct {
		in   Dialect
		want smproto.Dialect
	}{
		{DialectAidl, smproto.Aidl},
		{DialectAidl2, smproto.Aidl2},
		{DialectHidl, smproto.Hidl},
		{DialectUnspecified, smproto.Aidl},
	}
	for _, tc := range cases {
		if got := dialectToSM(tc.in); got != tc.want {
			t.Errorf("dialectToSM(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func newTestServiceManager() *ServiceManager {
	return &ServiceManager{
		dialect:          smproto.Aidl,
		presenceHandlers: make(map[int]func(bool)),
		watches:          make(map[string]*watch),
	}
}

func TestAddRegistrationHandlerTracksWatch(t *testing.T) {
	sm := newTestServiceManager()

	token := sm.AddRegistrationHandler("media.player", func(string) {})
	normalized := smproto.NormalizeName(sm.dialect, "media.player")

	w, ok := sm.watches[normalized]
	if !ok {
		t.Fatal("expected a watch entry for the normalized name")
	}
	if _, ok := w.observers[token]; !ok {
		t.Fatal("expected the returned token to be present in the watch's observers")
	}
}

func TestAddRegistrationHandlerSharesWatchAcrossObservers(t *testing.T) {
	sm := newTestServiceManager()

	sm.AddRegistrationHandler("media.player", func(string) {})
	sm.AddRegistrationHandler("media.player", func(string) {})

	if len(sm.watches) != 1 {
		t.Fatalf("expected one watch shared across observers, got %d", len(sm.watches))
	}
	normalized := smproto.NormalizeName(sm.dialect, "media.player")
	if got := len(sm.watches[normalized].observers); got != 2 {
		t.Fatalf("expected 2 observers on the shared watch, got %d", got)
	}
}

func TestRemoveRegistrationHandlerDropsEmptyWatch(t *testing.T) {
	sm := newTestServiceManager()

	token := sm.AddRegistrationHandler("media.player", func(string) {})
	sm.RemoveRegistrationHandler(token)

	if len(sm.watches) != 0 {
		t.Fatalf("expected watch to be removed once its last observer is gone, got %d watches", len(sm.watches))
	}
}

func TestRemoveRegistrationHandlerKeepsWatchWithRemainingObservers(t *testing.T) {
	sm := newTestServiceManager()

	first := sm.AddRegistrationHandler("media.player", func(string) {})
	sm.AddRegistrationHandler("media.player", func(string) {})
	sm.RemoveRegistrationHandler(first)

	normalized := smproto.NormalizeName(sm.dialect, "media.player")
	w, ok := sm.watches[normalized]
	if !ok {
		t.Fatal("expected watch to survive while an observer remains")
	}
	if _, ok := w.observers[first]; ok {
		t.Fatal("removed token should no longer be present")
	}
}

func TestRemoveRegistrationHandlerUnknownTokenIsNoop(t *testing.T) {
	sm := newTestServiceManager()
	sm.AddRegistrationHandler("media.player", func(string) {})

	sm.RemoveRegistrationHandler(9999)

	if len(sm.watches) != 1 {
		t.Fatalf("unknown token should not disturb existing watches, got %d", len(sm.watches))
	}
}

func TestRemoveRegistrationHandlers(t *testing.T) {
	sm := newTestServiceManager()

	a := sm.AddRegistrationHandler("media.player", func(string) {})
	b := sm.AddRegistrationHandler("media.player", func(string) {})

	sm.RemoveRegistrationHandlers([]int{a, b})

	if len(sm.watches) != 0 {
		t.Fatalf("expected all watches removed, got %d", len(sm.watches))
	}
}
