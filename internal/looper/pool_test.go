package looper

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjkern/gobinder/internal/wire"
)

type fakeDriver struct {
	mu        sync.Mutex
	responses [][]wire.Command
	calls     int
}

func (f *fakeDriver) Submit(write []byte, readSize int) ([]wire.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.responses) {
		return nil, nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

type fakeDispatcher struct {
	mu   sync.Mutex
	seen []uint32
}

func (d *fakeDispatcher) Dispatch(cmd wire.Command) ([]byte, [][]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, cmd.Code)
	return nil, nil, nil
}

func TestPoolStartSpawnsOneLooper(t *testing.T) {
	drv := &fakeDriver{}
	disp := &fakeDispatcher{}
	p := New(Config{Driver: drv, Dispatcher: disp, MaxThreads: 4})

	p.Start()
	require.Eventually(t, func() bool { return p.Count() == 1 }, time.Second, time.Millisecond)
	p.Stop()
	assert.Equal(t, 0, p.Count())
}

func TestPoolSpawnsAdditionalLooperOnSpawnLooperCommand(t *testing.T) {
	drv := &fakeDriver{
		responses: [][]wire.Command{
			{{Code: wire.BRSpawnLooper}},
		},
	}
	disp := &fakeDispatcher{}
	p := New(Config{Driver: drv, Dispatcher: disp, MaxThreads: 4})

	p.Start()
	require.Eventually(t, func() bool { return p.Count() == 2 }, time.Second, time.Millisecond)
	p.Stop()
}

func TestPoolNeverExceedsMaxThreads(t *testing.T) {
	drv := &fakeDriver{}
	disp := &fakeDispatcher{}
	p := New(Config{Driver: drv, Dispatcher: disp, MaxThreads: 1})

	for i := 0; i < 5; i++ {
		p.spawn()
	}
	assert.LessOrEqual(t, p.Count(), 1)
	p.Stop()
}
