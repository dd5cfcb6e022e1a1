// Package adapter drives USB to I2C bridges.
package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/busdevice"
	"github.com/mklimuk/busdevice/devctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const reportSize = 64

// maxTransfer is the payload that fits in a single report.
const maxTransfer = reportSize - 4

const (
	cmdStatus     = 0x10
	cmdCancel     = 0x10
	cmdWriteData  = 0x90
	cmdReadData   = 0x91
	cmdGetI2CData = 0x40
)

// engine status codes
const (
	StatusEngineBusy    busdevice.Status = 0x01
	StatusReadError     busdevice.Status = 0x41
	StatusReadDataError busdevice.Status = 0x7F
)

// ErrEngineBusy is returned when the engine rejects a transfer because the
// previous one did not finish. It matches both busdevice.ErrBusBusy and
// StatusEngineBusy.
var ErrEngineBusy = fmt.Errorf("%w: %w", busdevice.ErrBusBusy, StatusEngineBusy)

var ErrAdapterNotFound = errors.New("MCP2221 device not found")
var ErrAmbiguousAdapter = errors.New("ambiguous device identification")

var _ busdevice.Transport = &MCP2221{}
var _ busdevice.Releaser = &MCP2221{}

// MCP2221Status is the I2C engine state reported by the status command.
type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"i2c_data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"i2c_speed_divider"`
	I2CTimeout             int    `yaml:"i2c_timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent_size"`
	ReadPending            int    `yaml:"read_pending"`
}

type MCP2221Opts struct {
	// Index selects the adapter when more than one is connected.
	Index        int
	ResponseWait time.Duration
	LockTimeout  time.Duration
}

type MCP2221Opt func(*MCP2221Opts)

func WithIndex(index int) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.Index = index
	}
}

func WithResponseWait(wait time.Duration) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.ResponseWait = wait
	}
}

func WithLockTimeout(timeout time.Duration) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.LockTimeout = timeout
	}
}

// MCP2221 talks to the Microchip MCP2221 over 64 byte HID reports.
type MCP2221 struct {
	busdevice.BusLock
	config MCP2221Opts
	open   func() (io.ReadWriteCloser, error)

	// mx guards the report buffers
	mx       sync.Mutex
	request  []byte
	response []byte
}

func NewMCP2221(opts ...MCP2221Opt) *MCP2221 {
	config := MCP2221Opts{
		Index:        -1,
		ResponseWait: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}
	d := &MCP2221{
		config:   config,
		request:  make([]byte, reportSize),
		response: make([]byte, reportSize),
	}
	d.open = d.openHID
	return d
}

func (d *MCP2221) Lock(ctx context.Context) error {
	return d.BusLock.LockWithin(ctx, d.config.LockTimeout)
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address busdevice.Address, buffer []byte) error {
	if err := checkTransfer(address, buffer); err != nil {
		return err
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdWriteData
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = byte(address) << 1
	copy(d.request[4:], buffer)
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("write to %s failed: %w", address, err)
	}
	if code := d.response[1]; code != 0x00 {
		slog.Debug("adapter rejected write", "addr", address.String(), "status", code)
		return statusError(code)
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address busdevice.Address, buffer []byte) error {
	if err := checkTransfer(address, buffer); err != nil {
		return err
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdReadData
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = byte(address)<<1 | 0x01
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("bus read from %s failed: %w", address, err)
	}
	if code := d.response[1]; code != 0x00 {
		slog.Debug("adapter rejected read", "addr", address.String(), "status", code)
		return statusError(code)
	}
	d.resetBuffers()
	d.request[0] = cmdGetI2CData
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if code := d.response[1]; code != 0x00 {
		return busdevice.Status(code)
	}
	size := d.response[3]
	if busdevice.Status(size) == StatusReadDataError {
		return StatusReadDataError
	}
	if int(size) != len(buffer) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), size)
	}
	copy(buffer, d.response[4:])
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

// ReleaseBus cancels the current I2C transfer and frees the bus. It is the
// way out when a device left SDA low after an interrupted transfer.
func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = cmdCancel
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("release request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

// Release cancels a hanging transfer; see ReleaseBus.
func (d *MCP2221) Release(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

func statusError(code byte) error {
	if busdevice.Status(code) == StatusEngineBusy {
		return ErrEngineBusy
	}
	return busdevice.Status(code)
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
		25: I2C read pending
	*/
	return &MCP2221Status{
		I2CDataBufferCounter:   int(buffer[13]),
		I2CSpeedDivider:        int(buffer[14]),
		I2CTimeout:             int(buffer[15]),
		ReadPending:            int(buffer[25]),
		CurrentAddress:         hex.EncodeToString(buffer[16:18]),
		LastWriteRequestedSize: binary.LittleEndian.Uint16(buffer[9:11]),
		LastWriteSentSize:      binary.LittleEndian.Uint16(buffer[11:13]),
	}
}

// the engine only speaks 7-bit addressing
func checkTransfer(address busdevice.Address, buffer []byte) error {
	if address > 0x7F {
		return fmt.Errorf("%w: address %s needs 10-bit addressing", busdevice.ErrInvalidArgument, address)
	}
	if len(buffer) > maxTransfer {
		return fmt.Errorf("%w: transfer of %d bytes exceeds %d", busdevice.ErrInvalidArgument, len(buffer), maxTransfer)
	}
	return nil
}

func (d *MCP2221) openHID() (io.ReadWriteCloser, error) {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return nil, ErrAdapterNotFound
	}
	index := d.config.Index
	if index < 0 {
		if len(devs) > 1 {
			return nil, ErrAmbiguousAdapter
		}
		index = 0
	}
	if index >= len(devs) {
		return nil, fmt.Errorf("no device with id %d", index)
	}
	dev, err := devs[index].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

func (d *MCP2221) send(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dev, err := d.open()
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			slog.Warn("could not close adapter", "error", err)
		}
	}()
	verbose := devctx.IsVerbose(ctx)
	if verbose {
		slog.Debug("sending message to adapter", "report", "\n"+hex.Dump(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.config.ResponseWait):
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if verbose {
		slog.Debug("read message from adapter", "report", "\n"+hex.Dump(d.response))
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
