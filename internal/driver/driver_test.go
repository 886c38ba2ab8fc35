package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mjkern/gobinder/internal/wire"
)

// Note: Open/Submit exercise the real binder character device and
// cannot be driven without a kernel that provides it; those paths are
// covered by integration tests gated on /dev/binder's presence. The
// buffer-tracking bookkeeping below is pure and runs everywhere.

func newTestDriver() *Driver {
	return &Driver{outstanding: make(map[uint64]struct{})}
}

func TestTrackBufferRecordsTransactionBuffers(t *testing.T) {
	d := newTestDriver()
	txn := &wire.TransactionData{Buffer: 0x1000, Code: 1}
	cmd := wire.Command{Code: wire.BRTransaction, Body: wire.MarshalTransactionData(txn)}

	d.trackBuffer(cmd)

	_, ok := d.outstanding[0x1000]
	assert.True(t, ok)
}

func TestTrackBufferIgnoresNonTransactionCommands(t *testing.T) {
	d := newTestDriver()
	d.trackBuffer(wire.Command{Code: wire.BRNoop})
	assert.Empty(t, d.outstanding)
}

func TestFreeBufferRejectsUnknownPointer(t *testing.T) {
	d := newTestDriver()
	w := wire.NewCommandWriter()

	err := d.FreeBuffer(w, 0xdeadbeef)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 0, w.Len())
}

func TestFreeBufferEmitsCommandForKnownPointer(t *testing.T) {
	d := newTestDriver()
	d.outstanding[0x2000] = struct{}{}
	w := wire.NewCommandWriter()

	err := d.FreeBuffer(w, 0x2000)
	assert.NoError(t, err)
	assert.Greater(t, w.Len(), 0)

	_, stillTracked := d.outstanding[0x2000]
	assert.False(t, stillTracked)
}
