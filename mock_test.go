package busdevice

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify mock of Transport. Lock and Unlock also drive a
// real BusLock so concurrent tests observe true exclusion.
type MockTransport struct {
	mock.Mock
	bus           BusLock
	concurrentOps int64
	maxConcurrent int64
	mu            sync.Mutex
}

func (m *MockTransport) enter() {
	m.mu.Lock()
	concurrent := atomic.AddInt64(&m.concurrentOps, 1)
	if concurrent > atomic.LoadInt64(&m.maxConcurrent) {
		atomic.StoreInt64(&m.maxConcurrent, concurrent)
	}
	m.mu.Unlock()
}

func (m *MockTransport) leave() {
	atomic.AddInt64(&m.concurrentOps, -1)
}

func (m *MockTransport) WriteToAddr(ctx context.Context, address Address, buffer []byte) error {
	m.enter()
	defer m.leave()
	args := m.Called(ctx, address, buffer)
	return args.Error(0)
}

func (m *MockTransport) ReadFromAddr(ctx context.Context, address Address, buffer []byte) error {
	m.enter()
	defer m.leave()
	args := m.Called(ctx, address, buffer)
	if data, ok := args.Get(0).([]byte); ok && len(data) <= len(buffer) {
		copy(buffer, data)
	}
	return args.Error(1)
}

func (m *MockTransport) Lock(ctx context.Context) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return m.bus.Lock(ctx)
}

func (m *MockTransport) Unlock() {
	m.Called()
	m.bus.Unlock()
}

// MockCombinedTransport adds the repeated-start Tx primitive.
type MockCombinedTransport struct {
	MockTransport
}

func (m *MockCombinedTransport) Tx(ctx context.Context, address Address, w, r []byte) error {
	m.enter()
	defer m.leave()
	args := m.Called(ctx, address, w, r)
	if data, ok := args.Get(0).([]byte); ok && len(data) <= len(r) {
		copy(r, data)
	}
	return args.Error(1)
}

type busEvent struct {
	op      string
	address Address
	begin   bool
	data    []byte
}

// recordingTransport logs the begin and end of every transfer and stalls in
// between to give competing goroutines a chance to interleave.
type recordingTransport struct {
	BusLock
	mu     sync.Mutex
	events []busEvent
	stall  time.Duration
}

func (r *recordingTransport) record(op string, address Address, begin bool, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, busEvent{op: op, address: address, begin: begin, data: data})
}

func (r *recordingTransport) transfer(op string, address Address, data []byte) {
	r.record(op, address, true, data)
	time.Sleep(r.stall)
	r.record(op, address, false, data)
}

func (r *recordingTransport) WriteToAddr(_ context.Context, address Address, buffer []byte) error {
	r.transfer("write", address, append([]byte(nil), buffer...))
	return nil
}

func (r *recordingTransport) ReadFromAddr(_ context.Context, address Address, _ []byte) error {
	r.transfer("read", address, nil)
	return nil
}
