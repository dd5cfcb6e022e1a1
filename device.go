package busdevice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Device represents a single device on a shared bus. It manages the bus lock
// and the device address for every transaction.
//
// Each Write, ReadInto, WriteThenRead and Probe holds the bus for its whole
// duration. Lock and Unlock bracket several transactions into one atomic bus
// access. Lock returns a context marking the scope: transactions called with
// it reuse the hold and leave it in place, any other caller waits for the bus
// like a transaction from another device would. A Device may be shared
// between goroutines.
//
// Typical usage:
//
//	dev, err := busdevice.New(ctx, bus, 0x70)
//	resp := make([]byte, 4)
//	err = dev.WithLock(ctx, func(ctx context.Context) error {
//		if err := dev.Write(ctx, cmd); err != nil {
//			return err
//		}
//		return dev.ReadInto(ctx, resp)
//	})
type Device struct {
	transport Transport
	address   Address
	probeMode ProbeMode
	log       *slog.Logger

	// mx guards scope and scopes; scope is zero when no scope is open
	mx     sync.Mutex
	scope  uint64
	scopes uint64
}

type scopeKey struct {
	dev *Device
}

// New creates a device bound to address on the given transport. Unless
// disabled with WithProbe(false) the device is probed first. When probing
// fails New returns the device together with an error wrapping
// ErrDeviceNotFound, so the caller may treat it as fatal or retry Probe later.
func New(ctx context.Context, transport Transport, address Address, opts ...DeviceOption) (*Device, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidArgument)
	}
	if address > MaxAddress {
		return nil, fmt.Errorf("%w: address %s exceeds %s", ErrInvalidArgument, address, MaxAddress)
	}
	config := DeviceConfig{
		Probe:     true,
		ProbeMode: ProbeRead,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	d := &Device{
		transport: transport,
		address:   address,
		probeMode: config.ProbeMode,
		log:       config.Logger.With("addr", address.String()),
	}
	if !config.Probe {
		return d, nil
	}
	return d, d.Probe(ctx)
}

func (d *Device) Address() Address {
	return d.address
}

// Locked reports whether the device holds an explicit Lock scope.
func (d *Device) Locked() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.scope != 0
}

// inScope reports whether ctx belongs to the scope currently holding the bus.
func (d *Device) inScope(ctx context.Context) bool {
	id, ok := ctx.Value(scopeKey{d}).(uint64)
	if !ok {
		return false
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.scope == id
}

// Lock acquires the bus for exclusive use by this device until Unlock and
// returns the context to pass to transactions inside the scope. Transport
// lock failures are returned as is, wrapped with context. Locking again with
// the scope context fails with ErrAlreadyLocked.
func (d *Device) Lock(ctx context.Context) (context.Context, error) {
	if d.inScope(ctx) {
		return ctx, fmt.Errorf("could not lock bus for %s: %w", d.address, ErrAlreadyLocked)
	}
	if err := d.transport.Lock(ctx); err != nil {
		return ctx, fmt.Errorf("could not lock bus for %s: %w", d.address, err)
	}
	d.mx.Lock()
	d.scopes++
	id := d.scopes
	d.scope = id
	d.mx.Unlock()
	d.log.Debug("bus locked")
	return context.WithValue(ctx, scopeKey{d}, id), nil
}

// Unlock ends the scope opened by Lock and releases the bus. Calling it
// without a matching Lock is a programming error; the call is logged and
// ignored.
func (d *Device) Unlock() {
	d.mx.Lock()
	id := d.scope
	d.scope = 0
	d.mx.Unlock()
	if id == 0 {
		d.log.Warn("unlock called on a device that does not hold the bus")
		return
	}
	d.transport.Unlock()
	d.log.Debug("bus unlocked")
}

// WithLock runs fn inside a Lock/Unlock scope, passing it the scope context.
// The bus is released on every return path.
func (d *Device) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, err := d.Lock(ctx)
	if err != nil {
		return err
	}
	defer d.Unlock()
	return fn(ctx)
}

// acquire takes the bus for a single transaction unless ctx belongs to the
// scope holding it. The returned release is a no-op in the latter case.
func (d *Device) acquire(ctx context.Context) (func(), error) {
	if d.inScope(ctx) {
		return func() {}, nil
	}
	if err := d.transport.Lock(ctx); err != nil {
		return nil, fmt.Errorf("could not lock bus for %s: %w", d.address, err)
	}
	return d.transport.Unlock, nil
}

// Write sends the selected part of buffer to the device.
func (d *Device) Write(ctx context.Context, buffer []byte, opts ...SliceOption) error {
	b := wholeBuffer()
	for _, opt := range opts {
		opt(&b)
	}
	r, err := normalizeNonEmpty(buffer, b.start, b.end)
	if err != nil {
		return fmt.Errorf("could not write to %s: %w", d.address, err)
	}
	release, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return d.write(ctx, r.Slice(buffer))
}

// ReadInto fills the selected part of buffer with bytes read from the device.
func (d *Device) ReadInto(ctx context.Context, buffer []byte, opts ...SliceOption) error {
	b := wholeBuffer()
	for _, opt := range opts {
		opt(&b)
	}
	r, err := normalizeNonEmpty(buffer, b.start, b.end)
	if err != nil {
		return fmt.Errorf("could not read from %s: %w", d.address, err)
	}
	release, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return d.read(ctx, r.Slice(buffer))
}

// WriteThenRead writes from out and then reads into in under a single bus
// acquisition, so no other device can be serviced in between. The read is not
// attempted when the write fails.
func (d *Device) WriteThenRead(ctx context.Context, out, in []byte, opts ...TransferOption) error {
	t := transferBounds{out: wholeBuffer(), in: wholeBuffer()}
	for _, opt := range opts {
		opt(&t)
	}
	outRange, err := normalizeNonEmpty(out, t.out.start, t.out.end)
	if err != nil {
		return fmt.Errorf("could not write to %s: %w", d.address, err)
	}
	inRange, err := normalizeNonEmpty(in, t.in.start, t.in.end)
	if err != nil {
		return fmt.Errorf("could not read from %s: %w", d.address, err)
	}
	release, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	if c, ok := d.transport.(Combined); ok {
		if err := c.Tx(ctx, d.address, outRange.Slice(out), inRange.Slice(in)); err != nil {
			return &TransportError{Op: "write-then-read", Address: d.address, Err: err}
		}
		return nil
	}
	if err := d.write(ctx, outRange.Slice(out)); err != nil {
		return err
	}
	return d.read(ctx, inRange.Slice(in))
}

// Probe checks whether the device answers on its address. A transport
// failure means the device is absent or does not support probing and is
// reported as ErrDeviceNotFound.
func (d *Device) Probe(ctx context.Context) error {
	release, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := probe(ctx, d.transport, d.address, d.probeMode); err != nil {
		d.log.Debug("probe failed", "mode", d.probeMode, "error", err)
		return fmt.Errorf("%w at %s: %w", ErrDeviceNotFound, d.address, err)
	}
	return nil
}

func (d *Device) write(ctx context.Context, b []byte) error {
	if err := d.transport.WriteToAddr(ctx, d.address, b); err != nil {
		return &TransportError{Op: "write", Address: d.address, Err: err}
	}
	return nil
}

func (d *Device) read(ctx context.Context, b []byte) error {
	if err := d.transport.ReadFromAddr(ctx, d.address, b); err != nil {
		return &TransportError{Op: "read", Address: d.address, Err: err}
	}
	return nil
}

// probe expects the caller to hold the bus.
func probe(ctx context.Context, t Transport, address Address, mode ProbeMode) error {
	if mode == ProbeWrite {
		return t.WriteToAddr(ctx, address, []byte{})
	}
	var buf [1]byte
	return t.ReadFromAddr(ctx, address, buf[:])
}
