// Package gobotbus adapts the I2C connector of any gobot platform (NanoPi,
// Raspberry Pi, ...) to busdevice.Transport.
package gobotbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/busdevice"
)

var _ busdevice.Transport = &Bus{}

var ErrShortTransfer = errors.New("short transfer")

type BusOpts struct {
	// BusNr selects the bus, negative values use the connector default.
	BusNr       int
	LockTimeout time.Duration
}

type BusOpt func(*BusOpts)

func WithBusNr(nr int) BusOpt {
	return func(o *BusOpts) {
		o.BusNr = nr
	}
}

func WithLockTimeout(timeout time.Duration) BusOpt {
	return func(o *BusOpts) {
		o.LockTimeout = timeout
	}
}

// Bus opens one gobot connection per address on first use and keeps it
// until Close.
type Bus struct {
	busdevice.BusLock
	connector i2c.Connector
	config    BusOpts

	mx    sync.Mutex
	conns map[busdevice.Address]i2c.Connection
}

func NewBus(connector i2c.Connector, opts ...BusOpt) *Bus {
	config := BusOpts{BusNr: -1}
	for _, opt := range opts {
		opt(&config)
	}
	if config.BusNr < 0 {
		config.BusNr = connector.DefaultI2cBus()
	}
	return &Bus{
		connector: connector,
		config:    config,
		conns:     make(map[busdevice.Address]i2c.Connection),
	}
}

func (b *Bus) BusNr() int {
	return b.config.BusNr
}

func (b *Bus) Lock(ctx context.Context) error {
	return b.BusLock.LockWithin(ctx, b.config.LockTimeout)
}

func (b *Bus) WriteToAddr(_ context.Context, address busdevice.Address, buffer []byte) error {
	conn, err := b.connection(address)
	if err != nil {
		return err
	}
	n, err := conn.Write(buffer)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %d at %s: %w", b.config.BusNr, address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("%w: wrote %d of %d bytes to %s", ErrShortTransfer, n, len(buffer), address)
	}
	return nil
}

func (b *Bus) ReadFromAddr(_ context.Context, address busdevice.Address, buffer []byte) error {
	conn, err := b.connection(address)
	if err != nil {
		return err
	}
	n, err := conn.Read(buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %d at %s: %w", b.config.BusNr, address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("%w: read %d of %d bytes from %s", ErrShortTransfer, n, len(buffer), address)
	}
	return nil
}

// Close closes every connection opened so far.
func (b *Bus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var errs []error
	for addr, conn := range b.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("could not close connection to %s: %w", addr, err))
		}
		delete(b.conns, addr)
	}
	return errors.Join(errs...)
}

func (b *Bus) connection(address busdevice.Address) (i2c.Connection, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if conn, ok := b.conns[address]; ok {
		return conn, nil
	}
	conn, err := b.connector.GetI2cConnection(int(address), b.config.BusNr)
	if err != nil {
		return nil, fmt.Errorf("could not open connection to %s on bus %d: %w", address, b.config.BusNr, err)
	}
	b.conns[address] = conn
	return conn, nil
}
