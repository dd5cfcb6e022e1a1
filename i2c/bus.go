// Package i2c exposes host I2C buses (e.g. /dev/i2c-1) through periph.io.
package i2c

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/busdevice"
)

var _ busdevice.Transport = &GenericBus{}
var _ busdevice.Combined = &GenericBus{}

type GenericBusOpts struct {
	Speed       physic.Frequency
	LockTimeout time.Duration
}

type GenericBusOpt func(*GenericBusOpts)

// WithSpeed sets the bus clock. Zero keeps the driver default.
func WithSpeed(speed physic.Frequency) GenericBusOpt {
	return func(o *GenericBusOpts) {
		o.Speed = speed
	}
}

func WithLockTimeout(timeout time.Duration) GenericBusOpt {
	return func(o *GenericBusOpts) {
		o.LockTimeout = timeout
	}
}

type GenericBus struct {
	busdevice.BusLock
	bus    i2c.BusCloser
	config GenericBusOpts
}

// NewGenericBus initializes the host drivers and opens the named bus. An
// empty name opens the first bus available.
func NewGenericBus(dev string, opts ...GenericBusOpt) (*GenericBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	b, err := newGenericBus(bus, opts...)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	return b, nil
}

func newGenericBus(bus i2c.BusCloser, opts ...GenericBusOpt) (*GenericBus, error) {
	var config GenericBusOpts
	for _, opt := range opts {
		opt(&config)
	}
	b := &GenericBus{bus: bus, config: config}
	if config.Speed > 0 {
		if err := b.SetSpeed(config.Speed); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *GenericBus) Lock(ctx context.Context) error {
	return b.BusLock.LockWithin(ctx, b.config.LockTimeout)
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address busdevice.Address, buffer []byte) error {
	err := b.bus.Tx(uint16(address), nil, buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", uint16(address), err)
	}
	return nil
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address busdevice.Address, buffer []byte) error {
	err := b.bus.Tx(uint16(address), buffer, nil)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", uint16(address), err)
	}
	return nil
}

// Tx writes w and reads into r with a repeated start in between.
func (b *GenericBus) Tx(ctx context.Context, address busdevice.Address, w, r []byte) error {
	err := b.bus.Tx(uint16(address), w, r)
	if err != nil {
		return fmt.Errorf("could not transfer on i2c bus %x: %w", uint16(address), err)
	}
	return nil
}

func (b *GenericBus) SetSpeed(speed physic.Frequency) error {
	if err := b.bus.SetSpeed(speed); err != nil {
		return fmt.Errorf("could not set i2c bus speed to %s: %w", speed, err)
	}
	return nil
}

func (b *GenericBus) String() string {
	return b.bus.String()
}

func (b *GenericBus) Close() error {
	return b.bus.Close()
}
