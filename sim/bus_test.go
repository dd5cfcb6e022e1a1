package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/busdevice"
)

func TestRegisterDevice(t *testing.T) {
	dev := NewRegisterDevice(map[byte]byte{0x00: 0x19, 0x01: 0x40})
	dev.ReadOnly = map[byte]bool{0x00: true}

	buf := make([]byte, 2)
	require.NoError(t, dev.Write([]byte{0x00}))
	require.NoError(t, dev.Read(buf))
	assert.Equal(t, []byte{0x19, 0x40}, buf)

	// writes to read-only registers are dropped, the pointer still moves
	require.NoError(t, dev.Write([]byte{0x00, 0xAA, 0xBB}))
	assert.Equal(t, byte(0x19), dev.Get(0x00))
	assert.Equal(t, byte(0xBB), dev.Get(0x01))

	// pointer wraps around
	require.NoError(t, dev.Write([]byte{0xFF, 0x01, 0x02}))
	assert.Equal(t, byte(0x01), dev.Get(0xFF))
	assert.Equal(t, byte(0x19), dev.Get(0x00))
}

func TestBus_Transfers(t *testing.T) {
	bus := NewBus()
	bus.Attach(0x4D, NewRegisterDevice(map[byte]byte{0x00: 0x19}))
	ctx := context.Background()

	require.NoError(t, bus.WriteToAddr(ctx, 0x4D, []byte{0x00}))
	buf := make([]byte, 1)
	require.NoError(t, bus.ReadFromAddr(ctx, 0x4D, buf))
	assert.Equal(t, byte(0x19), buf[0])

	err := bus.ReadFromAddr(ctx, 0x22, buf)
	assert.ErrorIs(t, err, StatusNACK)

	ops := bus.Ops()
	require.Len(t, ops, 3)
	assert.Equal(t, Op{Kind: OpWrite, Address: 0x4D, Data: []byte{0x00}}, ops[0])
	assert.Equal(t, Op{Kind: OpRead, Address: 0x4D, Data: []byte{0x19}}, ops[1])
	assert.Equal(t, StatusNACK, ops[2].Err)

	bus.ResetOps()
	assert.Empty(t, bus.Ops())
}

func TestBus_Detach(t *testing.T) {
	bus := NewBus()
	bus.Attach(0x21, FuncDevice{})
	require.NoError(t, bus.WriteToAddr(context.Background(), 0x21, []byte{0x01}))
	bus.Detach(0x21)
	assert.ErrorIs(t, bus.WriteToAddr(context.Background(), 0x21, []byte{0x01}), StatusNACK)
}

func TestBus_LockTimeout(t *testing.T) {
	bus := NewBus(WithLockTimeout(10 * time.Millisecond))
	require.NoError(t, bus.Lock(context.Background()))
	defer bus.Unlock()

	err := bus.Lock(context.Background())
	assert.ErrorIs(t, err, busdevice.ErrLockTimeout)
}

func TestBus_DeviceSession(t *testing.T) {
	bus := NewBus()
	regs := NewRegisterDevice(map[byte]byte{0x05: 0xA5})
	bus.Attach(0x30, regs)
	ctx := context.Background()

	_, err := busdevice.New(ctx, bus, 0x31)
	assert.ErrorIs(t, err, busdevice.ErrDeviceNotFound)

	dev, err := busdevice.New(ctx, bus, 0x30)
	require.NoError(t, err)
	in := make([]byte, 1)
	require.NoError(t, dev.WriteThenRead(ctx, []byte{0x05}, in))
	assert.Equal(t, byte(0xA5), in[0])

	found, err := busdevice.Scan(ctx, bus)
	require.NoError(t, err)
	assert.Equal(t, []busdevice.Address{0x30}, found)
}

func TestFuncDevice_Error(t *testing.T) {
	failure := errors.New("stuck")
	bus := NewBus()
	bus.Attach(0x10, FuncDevice{ReadFunc: func([]byte) error { return failure }})
	err := bus.ReadFromAddr(context.Background(), 0x10, make([]byte, 1))
	assert.ErrorIs(t, err, failure)
}
