// Package sim provides an in-process bus with simulated devices. It needs
// no hardware and is meant for tests and dry runs of the command line tools.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/mklimuk/busdevice"
)

// StatusNACK is reported for addresses with no device attached.
const StatusNACK busdevice.Status = 0x02

var _ busdevice.Transport = &Bus{}

// Device is a simulated bus target.
type Device interface {
	Write(data []byte) error
	Read(buf []byte) error
}

type OpKind string

const (
	OpWrite OpKind = "write"
	OpRead  OpKind = "read"
)

// Op is a single transfer observed on the bus.
type Op struct {
	Kind    OpKind
	Address busdevice.Address
	Data    []byte
	Err     error
}

type BusOpts struct {
	LockTimeout time.Duration
}

type BusOpt func(*BusOpts)

func WithLockTimeout(timeout time.Duration) BusOpt {
	return func(o *BusOpts) {
		o.LockTimeout = timeout
	}
}

type Bus struct {
	busdevice.BusLock
	config BusOpts

	mx      sync.Mutex
	devices map[busdevice.Address]Device
	ops     []Op
}

func NewBus(opts ...BusOpt) *Bus {
	var config BusOpts
	for _, opt := range opts {
		opt(&config)
	}
	return &Bus{
		config:  config,
		devices: make(map[busdevice.Address]Device),
	}
}

// Attach places dev on the bus at address, replacing any previous device.
func (b *Bus) Attach(address busdevice.Address, dev Device) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.devices[address] = dev
}

func (b *Bus) Detach(address busdevice.Address) {
	b.mx.Lock()
	defer b.mx.Unlock()
	delete(b.devices, address)
}

func (b *Bus) Lock(ctx context.Context) error {
	return b.BusLock.LockWithin(ctx, b.config.LockTimeout)
}

func (b *Bus) WriteToAddr(_ context.Context, address busdevice.Address, buffer []byte) error {
	dev := b.device(address)
	var err error
	if dev == nil {
		err = StatusNACK
	} else {
		err = dev.Write(buffer)
	}
	b.record(OpWrite, address, buffer, err)
	return err
}

func (b *Bus) ReadFromAddr(_ context.Context, address busdevice.Address, buffer []byte) error {
	dev := b.device(address)
	var err error
	if dev == nil {
		err = StatusNACK
	} else {
		err = dev.Read(buffer)
	}
	b.record(OpRead, address, buffer, err)
	return err
}

// Ops returns the transfers seen so far, oldest first.
func (b *Bus) Ops() []Op {
	b.mx.Lock()
	defer b.mx.Unlock()
	return append([]Op(nil), b.ops...)
}

func (b *Bus) ResetOps() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.ops = nil
}

func (b *Bus) device(address busdevice.Address) Device {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.devices[address]
}

func (b *Bus) record(kind OpKind, address busdevice.Address, data []byte, err error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.ops = append(b.ops, Op{
		Kind:    kind,
		Address: address,
		Data:    append([]byte(nil), data...),
		Err:     err,
	})
}
