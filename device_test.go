package busdevice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testAddr Address = 0x4D

func newTestDevice(t *testing.T, bus Transport) *Device {
	t.Helper()
	dev, err := New(context.Background(), bus, testAddr, WithProbe(false))
	require.NoError(t, err)
	return dev
}

func expectLocking(bus *MockTransport) {
	bus.On("Lock", mock.Anything).Return(nil)
	bus.On("Unlock").Return()
}

func TestNew_Probe(t *testing.T) {
	bus := new(MockTransport)
	expectLocking(bus)
	bus.On("ReadFromAddr", mock.Anything, testAddr, mock.MatchedBy(func(b []byte) bool { return len(b) == 1 })).
		Return([]byte{0x00}, nil).Once()

	dev, err := New(context.Background(), bus, testAddr)
	require.NoError(t, err)
	assert.Equal(t, testAddr, dev.Address())
	assert.False(t, dev.Locked())
	bus.AssertNumberOfCalls(t, "Lock", 1)
	bus.AssertNumberOfCalls(t, "Unlock", 1)
	bus.AssertExpectations(t)
}

func TestNew_ProbeWriteMode(t *testing.T) {
	bus := new(MockTransport)
	expectLocking(bus)
	bus.On("WriteToAddr", mock.Anything, testAddr, []byte{}).Return(nil).Once()

	_, err := New(context.Background(), bus, testAddr, WithProbeMode(ProbeWrite))
	require.NoError(t, err)
	bus.AssertNotCalled(t, "ReadFromAddr", mock.Anything, mock.Anything, mock.Anything)
	bus.AssertExpectations(t)
}

func TestNew_DeviceNotFound(t *testing.T) {
	bus := new(MockTransport)
	expectLocking(bus)
	bus.On("ReadFromAddr", mock.Anything, testAddr, mock.Anything).Return(nil, Status(0x02)).Once()

	dev, err := New(context.Background(), bus, testAddr)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	var st Status
	require.True(t, errors.As(err, &st))
	assert.Equal(t, Status(0x02), st)
	assert.False(t, dev.Locked(), "failed probe must release the bus")

	// the device stays usable and reports its own errors
	err = dev.Write(context.Background(), []byte{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	bus.On("ReadFromAddr", mock.Anything, testAddr, mock.Anything).Return([]byte{0x00}, nil).Once()
	assert.NoError(t, dev.Probe(context.Background()))
	bus.AssertExpectations(t)
}

func TestNew_InvalidArguments(t *testing.T) {
	_, err := New(context.Background(), nil, testAddr)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(context.Background(), new(MockTransport), MaxAddress+1, WithProbe(false))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestProbe_LockFailure(t *testing.T) {
	bus := new(MockTransport)
	bus.On("Lock", mock.Anything).Return(ErrBusBusy)
	dev := newTestDevice(t, bus)

	err := dev.Probe(context.Background())
	assert.ErrorIs(t, err, ErrBusBusy)
	assert.NotErrorIs(t, err, ErrDeviceNotFound)
	bus.AssertNotCalled(t, "Unlock")
}

func TestDevice_Write(t *testing.T) {
	buf := []byte{0x10, 0x11, 0x12, 0x13, 0x14}
	tests := []struct {
		name     string
		opts     []SliceOption
		expected []byte
	}{
		{"whole buffer", nil, buf},
		{"start only", []SliceOption{WithStart(3)}, buf[3:]},
		{"end only", []SliceOption{WithEnd(2)}, buf[:2]},
		{"start and end", []SliceOption{WithStart(1), WithEnd(3)}, buf[1:3]},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bus := new(MockTransport)
			expectLocking(bus)
			bus.On("WriteToAddr", mock.Anything, testAddr, test.expected).Return(nil).Once()
			dev := newTestDevice(t, bus)

			require.NoError(t, dev.Write(context.Background(), buf, test.opts...))
			bus.AssertNumberOfCalls(t, "Lock", 1)
			bus.AssertNumberOfCalls(t, "Unlock", 1)
			bus.AssertExpectations(t)
		})
	}
}

func TestDevice_WriteValidation(t *testing.T) {
	tests := []struct {
		name     string
		buf      []byte
		opts     []SliceOption
		expected error
	}{
		{"empty buffer", []byte{}, nil, ErrInvalidArgument},
		{"empty slice", []byte{1, 2, 3, 4}, []SliceOption{WithStart(4)}, ErrInvalidArgument},
		{"start past end", []byte{1, 2}, []SliceOption{WithStart(3)}, ErrOutOfRange},
		{"end past buffer", []byte{1, 2}, []SliceOption{WithEnd(3)}, ErrOutOfRange},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bus := new(MockTransport)
			dev := newTestDevice(t, bus)

			assert.ErrorIs(t, dev.Write(context.Background(), test.buf, test.opts...), test.expected)
			assert.ErrorIs(t, dev.ReadInto(context.Background(), test.buf, test.opts...), test.expected)
			bus.AssertNotCalled(t, "Lock", mock.Anything)
		})
	}
}

func TestDevice_WriteTransportError(t *testing.T) {
	bus := new(MockTransport)
	expectLocking(bus)
	bus.On("WriteToAddr", mock.Anything, testAddr, mock.Anything).Return(Status(0x41)).Once()
	dev := newTestDevice(t, bus)

	err := dev.Write(context.Background(), []byte{0x01})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "write", terr.Op)
	assert.Equal(t, testAddr, terr.Address)
	st, ok := terr.Status()
	assert.True(t, ok)
	assert.Equal(t, Status(0x41), st)
	bus.AssertNumberOfCalls(t, "Unlock", 1)
}

func TestDevice_TransportErrorWithoutStatus(t *testing.T) {
	bus := new(MockTransport)
	expectLocking(bus)
	bus.On("ReadFromAddr", mock.Anything, testAddr, mock.Anything).Return(nil, errors.New("nack")).Once()
	dev := newTestDevice(t, bus)

	err := dev.ReadInto(context.Background(), make([]byte, 2))
	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	_, ok := terr.Status()
	assert.False(t, ok)
	assert.EqualError(t, err, "read 0x4d failed: nack")
}

func TestDevice_ReadInto(t *testing.T) {
	bus := new(MockTransport)
	expectLocking(bus)
	bus.On("ReadFromAddr", mock.Anything, testAddr, mock.MatchedBy(func(b []byte) bool { return len(b) == 2 })).
		Return([]byte{0xAA, 0xBB}, nil).Once()
	dev := newTestDevice(t, bus)

	buf := make([]byte, 5)
	require.NoError(t, dev.ReadInto(context.Background(), buf, WithStart(1), WithEnd(3)))
	assert.Equal(t, []byte{0x00, 0xAA, 0xBB, 0x00, 0x00}, buf)
	bus.AssertExpectations(t)
}

func TestDevice_WriteThenRead(t *testing.T) {
	bus := new(MockTransport)
	expectLocking(bus)
	bus.On("WriteToAddr", mock.Anything, testAddr, []byte{0x01}).Return(nil).Once()
	bus.On("ReadFromAddr", mock.Anything, testAddr, mock.Anything).Return([]byte{0x40}, nil).Once()
	dev := newTestDevice(t, bus)

	out := []byte{0x00, 0x01}
	in := make([]byte, 3)
	err := dev.WriteThenRead(context.Background(), out, in, WithOutStart(1), WithInStart(2))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x40}, in)
	bus.AssertNumberOfCalls(t, "Lock", 1)
	bus.AssertNumberOfCalls(t, "Unlock", 1)
	bus.AssertExpectations(t)
}

func TestDevice_WriteThenReadFailingWrite(t *testing.T) {
	bus := new(MockTransport)
	expectLocking(bus)
	bus.On("WriteToAddr", mock.Anything, testAddr, mock.Anything).Return(Status(0x01)).Once()
	dev := newTestDevice(t, bus)

	err := dev.WriteThenRead(context.Background(), []byte{0x00}, make([]byte, 1))
	assert.ErrorIs(t, err, ErrTransport)
	bus.AssertNotCalled(t, "ReadFromAddr", mock.Anything, mock.Anything, mock.Anything)
	bus.AssertNumberOfCalls(t, "Lock", 1)
	bus.AssertNumberOfCalls(t, "Unlock", 1)
	assert.False(t, dev.Locked())
}

func TestDevice_WriteThenReadValidatesBothRanges(t *testing.T) {
	bus := new(MockTransport)
	dev := newTestDevice(t, bus)

	err := dev.WriteThenRead(context.Background(), []byte{0x00}, make([]byte, 2), WithInEnd(3))
	assert.ErrorIs(t, err, ErrOutOfRange)
	err = dev.WriteThenRead(context.Background(), []byte{0x00}, make([]byte, 2), WithOutStart(1))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	bus.AssertNotCalled(t, "Lock", mock.Anything)
}

func TestDevice_WriteThenReadCombined(t *testing.T) {
	bus := new(MockCombinedTransport)
	bus.On("Lock", mock.Anything).Return(nil)
	bus.On("Unlock").Return()
	bus.On("Tx", mock.Anything, testAddr, []byte{0x05}, mock.Anything).Return([]byte{0x19}, nil).Once()
	dev := newTestDevice(t, bus)

	in := make([]byte, 1)
	require.NoError(t, dev.WriteThenRead(context.Background(), []byte{0x05}, in))
	assert.Equal(t, []byte{0x19}, in)
	bus.AssertNotCalled(t, "WriteToAddr", mock.Anything, mock.Anything, mock.Anything)
	bus.AssertNotCalled(t, "ReadFromAddr", mock.Anything, mock.Anything, mock.Anything)
	bus.AssertExpectations(t)
}

func TestDevice_ScopedSession(t *testing.T) {
	bus := new(MockTransport)
	expectLocking(bus)
	bus.On("WriteToAddr", mock.Anything, testAddr, mock.Anything).Return(nil).Twice()
	bus.On("ReadFromAddr", mock.Anything, testAddr, mock.Anything).Return([]byte{0x01}, nil).Once()
	dev := newTestDevice(t, bus)
	ctx := context.Background()

	ctx, err := dev.Lock(ctx)
	require.NoError(t, err)
	assert.True(t, dev.Locked())
	require.NoError(t, dev.Write(ctx, []byte{0x01}))
	require.NoError(t, dev.Write(ctx, []byte{0x02}))
	require.NoError(t, dev.ReadInto(ctx, make([]byte, 1)))
	assert.True(t, dev.Locked(), "nested transactions must not release the scope")
	dev.Unlock()
	assert.False(t, dev.Locked())

	bus.AssertNumberOfCalls(t, "Lock", 1)
	bus.AssertNumberOfCalls(t, "Unlock", 1)
	bus.AssertExpectations(t)
}

func TestDevice_LockTwice(t *testing.T) {
	bus := new(MockTransport)
	expectLocking(bus)
	dev := newTestDevice(t, bus)
	ctx := context.Background()

	scoped, err := dev.Lock(ctx)
	require.NoError(t, err)
	_, err = dev.Lock(scoped)
	assert.ErrorIs(t, err, ErrAlreadyLocked)
	err = dev.WithLock(scoped, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrAlreadyLocked)
	assert.True(t, dev.Locked())
	dev.Unlock()
	bus.AssertNumberOfCalls(t, "Lock", 1)
	bus.AssertNumberOfCalls(t, "Unlock", 1)
}

func TestDevice_LockFailure(t *testing.T) {
	tests := []struct {
		name     string
		lockErr  error
		expected error
	}{
		{"busy", ErrBusBusy, ErrBusBusy},
		{"timeout", ErrLockTimeout, ErrLockTimeout},
		{"driver status", Status(0x07), Status(0x07)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bus := new(MockTransport)
			bus.On("Lock", mock.Anything).Return(test.lockErr)
			dev := newTestDevice(t, bus)

			_, err := dev.Lock(context.Background())
			assert.ErrorIs(t, err, test.expected)
			assert.False(t, dev.Locked())
			assert.ErrorIs(t, dev.Write(context.Background(), []byte{1}), test.expected)
			bus.AssertNotCalled(t, "Unlock")
			bus.AssertNotCalled(t, "WriteToAddr", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestDevice_UnlockWithoutLock(t *testing.T) {
	bus := new(MockTransport)
	dev := newTestDevice(t, bus)

	assert.NotPanics(t, dev.Unlock)
	bus.AssertNotCalled(t, "Unlock")
}

func TestDevice_WithLock(t *testing.T) {
	bus := new(MockTransport)
	expectLocking(bus)
	bus.On("WriteToAddr", mock.Anything, testAddr, mock.Anything).Return(Status(0x03)).Once()
	dev := newTestDevice(t, bus)
	ctx := context.Background()

	err := dev.WithLock(ctx, func(ctx context.Context) error {
		assert.True(t, dev.Locked())
		return dev.Write(ctx, []byte{0x01})
	})
	assert.ErrorIs(t, err, ErrTransport)
	assert.False(t, dev.Locked())
	bus.AssertNumberOfCalls(t, "Lock", 1)
	bus.AssertNumberOfCalls(t, "Unlock", 1)

	// a scope can be reopened
	require.NoError(t, dev.WithLock(ctx, func(context.Context) error { return nil }))
	bus.AssertNumberOfCalls(t, "Lock", 2)
	bus.AssertNumberOfCalls(t, "Unlock", 2)
}

func TestDevice_SharedTransportNoInterleaving(t *testing.T) {
	bus := &recordingTransport{stall: 2 * time.Millisecond}
	a := newTestDevice(t, bus)
	b, err := New(context.Background(), bus, 0x21, WithProbe(false))
	require.NoError(t, err)
	ctx := context.Background()

	const rounds = 10
	var wg sync.WaitGroup
	var failures int64
	for _, dev := range []*Device{a, b} {
		wg.Add(1)
		go func(dev *Device) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if err := dev.Write(ctx, []byte{byte(i)}); err != nil {
					atomic.AddInt64(&failures, 1)
				}
				if err := dev.WriteThenRead(ctx, []byte{0x00}, make([]byte, 2)); err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}(dev)
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt64(&failures))
	require.Len(t, bus.events, 2*rounds*3*2)
	for i := 0; i < len(bus.events); i += 2 {
		begin, end := bus.events[i], bus.events[i+1]
		assert.True(t, begin.begin, "event %d should begin a transfer", i)
		assert.False(t, end.begin, "event %d should end a transfer", i+1)
		assert.Equal(t, begin.address, end.address, "transfers interleaved at event %d", i)
	}
	// write-then-read is one bus access: every read directly follows a write to the same device
	for i := 2; i < len(bus.events); i += 2 {
		if bus.events[i].op != "read" {
			continue
		}
		prev := bus.events[i-2]
		assert.Equal(t, "write", prev.op, "read at event %d not preceded by a write", i)
		assert.Equal(t, prev.address, bus.events[i].address, "another device was serviced inside write-then-read at event %d", i)
	}
}

func TestDevice_ConcurrentDevicesSerialized(t *testing.T) {
	bus := new(MockTransport)
	expectLocking(bus)
	bus.On("WriteToAddr", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	const devices = 5
	var wg sync.WaitGroup
	wg.Add(devices)
	for i := 0; i < devices; i++ {
		dev, err := New(ctx, bus, Address(0x20+i), WithProbe(false))
		require.NoError(t, err)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				assert.NoError(t, dev.Write(ctx, []byte{byte(j)}))
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&bus.maxConcurrent), int64(1), "bus lock should serialize transfers")
	bus.AssertNumberOfCalls(t, "WriteToAddr", devices*5)
}

func TestDevice_ScopeBelongsToCaller(t *testing.T) {
	bus := &recordingTransport{stall: time.Millisecond}
	shared := newTestDevice(t, bus)
	other, err := New(context.Background(), bus, 0x21, WithProbe(false))
	require.NoError(t, err)
	ctx := context.Background()

	const rounds = 20
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			err := shared.WithLock(ctx, func(ctx context.Context) error {
				if err := shared.Write(ctx, []byte{0xA1}); err != nil {
					return err
				}
				return shared.Write(ctx, []byte{0xA2})
			})
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			assert.NoError(t, shared.Write(ctx, []byte{0xB0}))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			assert.NoError(t, other.Write(ctx, []byte{0xC0}))
		}
	}()
	wg.Wait()

	require.Len(t, bus.events, 2*rounds*4)
	for i := 0; i < len(bus.events); i += 2 {
		begin, end := bus.events[i], bus.events[i+1]
		require.True(t, begin.begin, "transfers overlap at event %d", i)
		require.False(t, end.begin, "transfers overlap at event %d", i+1)
		assert.Equal(t, begin.data, end.data, "transfers overlap at event %d", i)
	}
	// nothing is serviced between the two writes of a scope
	for i := 0; i < len(bus.events); i += 2 {
		if bus.events[i].data[0] != 0xA1 {
			continue
		}
		require.Less(t, i+2, len(bus.events))
		assert.Equal(t, []byte{0xA2}, bus.events[i+2].data, "scope broken after event %d", i)
	}
	assert.False(t, shared.Locked())
}

func TestDevice_CallerOutsideScopeWaits(t *testing.T) {
	bus := &recordingTransport{}
	dev := newTestDevice(t, bus)
	ctx := context.Background()

	scoped, err := dev.Lock(ctx)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		done <- dev.Write(ctx, []byte{0x01})
	}()
	select {
	case <-done:
		t.Fatal("write outside the scope must wait for Unlock")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, dev.Write(scoped, []byte{0x02}))
	dev.Unlock()
	require.NoError(t, <-done)

	// a context from a closed scope no longer bypasses the lock
	require.NoError(t, bus.TryLock())
	shortCtx, cancel := context.WithTimeout(scoped, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, dev.Write(shortCtx, []byte{0x03}), ErrLockTimeout)
	bus.Unlock()
}
