// Package gpio drives I2C port expanders.
package gpio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mklimuk/busdevice"
)

type registry int

const DefaultMCP23017Address busdevice.Address = 0x21

const (
	IODIRA registry = iota
	IOPOLA
	GPINTENA
	DEFVALA
	INTCONA
	IOCONA
	GPPUA
	INTFA
	INTCAPA
	GPIOA
	OLATA
	IODIRB
	IOPOLB
	GPINTENB
	DEFVALB
	INTCONB
	IOCONB
	GPPUB
	INTFB
	INTCAPB
	GPIOB
	OLATB
)

// BankAddr maps registries to addresses for IOCON.BANK=0 and IOCON.BANK=1.
var (
	BankAddr = []map[registry]byte{
		{
			IODIRA:   0x00,
			IOPOLA:   0x02,
			GPINTENA: 0x04,
			DEFVALA:  0x06,
			INTCONA:  0x08,
			IOCONA:   0x0A,
			GPPUA:    0x0C,
			INTFA:    0x0E,
			INTCAPA:  0x10,
			GPIOA:    0x12,
			OLATA:    0x14,
			IODIRB:   0x01,
			IOPOLB:   0x03,
			GPINTENB: 0x05,
			DEFVALB:  0x07,
			INTCONB:  0x09,
			IOCONB:   0x0B,
			GPPUB:    0x0D,
			INTFB:    0x0F,
			INTCAPB:  0x11,
			GPIOB:    0x13,
			OLATB:    0x15,
		},
		{
			IODIRA:   0x00,
			IOPOLA:   0x01,
			GPINTENA: 0x02,
			DEFVALA:  0x03,
			INTCONA:  0x04,
			IOCONA:   0x05,
			GPPUA:    0x06,
			INTFA:    0x07,
			INTCAPA:  0x08,
			GPIOA:    0x09,
			OLATA:    0x0A,
			IODIRB:   0x10,
			IOPOLB:   0x11,
			GPINTENB: 0x12,
			DEFVALB:  0x13,
			INTCONB:  0x14,
			IOCONB:   0x15,
			GPPUB:    0x16,
			INTFB:    0x17,
			INTCAPB:  0x18,
			GPIOB:    0x19,
			OLATB:    0x1A,
		},
	}
)

// Port is one of the two 8-bit I/O sets.
type Port int

const (
	PortA Port = iota
	PortB
)

func (p Port) String() string {
	if p == PortB {
		return "B"
	}
	return "A"
}

func (p Port) reg(a, b registry) registry {
	if p == PortB {
		return b
	}
	return a
}

type MCP23017Config struct {
	Address    busdevice.Address
	Bank       int
	RetryLimit int
}

type MCP23017Option func(*MCP23017Config)

func WithAddress(address busdevice.Address) MCP23017Option {
	return func(c *MCP23017Config) {
		c.Address = address
	}
}

// WithBank selects the register layout matching the IOCON.BANK bit.
func WithBank(bank int) MCP23017Option {
	return func(c *MCP23017Config) {
		c.Bank = bank
	}
}

// WithRetryLimit sets how many times an operation is attempted while the
// bus is reported busy.
func WithRetryLimit(limit int) MCP23017Option {
	return func(c *MCP23017Config) {
		c.RetryLimit = limit
	}
}

/*
	Steps to read GPIO:

1. Set 0xFF to IODIR registry (all inputs) - 0x00(A)/0x01(B)
2. Configure pull-up? 0x0C(A)/0x0D(B)
3. Read port register 0x12(A)/0x13(B)
*/
type MCP23017 struct {
	dev        *busdevice.Device
	transport  busdevice.Transport
	bank       int
	retryLimit int
}

func NewMCP23017(ctx context.Context, bus busdevice.Transport, opts ...MCP23017Option) (*MCP23017, error) {
	config := MCP23017Config{
		Address:    DefaultMCP23017Address,
		RetryLimit: 1,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Bank < 0 || config.Bank >= len(BankAddr) {
		return nil, fmt.Errorf("mcp23017: %w: bank %d", busdevice.ErrInvalidArgument, config.Bank)
	}
	if config.RetryLimit < 1 {
		config.RetryLimit = 1
	}
	dev, err := busdevice.New(ctx, bus, config.Address)
	if err != nil {
		return nil, fmt.Errorf("mcp23017: %w", err)
	}
	return &MCP23017{dev: dev, transport: bus, bank: config.Bank, retryLimit: config.RetryLimit}, nil
}

// Init sets IODIR registry of port to inout; set bits are inputs.
func (m *MCP23017) Init(ctx context.Context, port Port, inout byte) error {
	return m.retry(ctx, fmt.Sprintf("initialize gpio %s set", port), func() error {
		return m.writeRegistry(ctx, port.reg(IODIRA, IODIRB), inout)
	})
}

// PullUp sets up pull up resistors on port.
func (m *MCP23017) PullUp(ctx context.Context, port Port, settings byte) error {
	return m.retry(ctx, fmt.Sprintf("set pull-up on gpio %s set", port), func() error {
		return m.writeRegistry(ctx, port.reg(GPPUA, GPPUB), settings)
	})
}

// Configure sets direction and pull-ups of both ports in one bus
// transaction, so no other device observes a half configured expander.
func (m *MCP23017) Configure(ctx context.Context, dirA, dirB, pullA, pullB byte) error {
	return m.retry(ctx, "configure gpio", func() error {
		return m.dev.WithLock(ctx, func(ctx context.Context) error {
			writes := []struct {
				reg   registry
				value byte
			}{
				{IODIRA, dirA},
				{IODIRB, dirB},
				{GPPUA, pullA},
				{GPPUB, pullB},
			}
			for _, w := range writes {
				if err := m.writeRegistry(ctx, w.reg, w.value); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// Read returns values of both ports.
func (m *MCP23017) Read(ctx context.Context) ([]byte, error) {
	res := make([]byte, 2)
	var err error
	res[0], err = m.ReadPort(ctx, PortA)
	if err != nil {
		return nil, err
	}
	res[1], err = m.ReadPort(ctx, PortB)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReadPort reads gpio values of port.
func (m *MCP23017) ReadPort(ctx context.Context, port Port) (byte, error) {
	var res byte
	err := m.retry(ctx, fmt.Sprintf("read gpio %s set", port), func() error {
		var err error
		res, err = m.readRegistry(ctx, port.reg(GPIOA, GPIOB))
		return err
	})
	return res, err
}

// WritePort sets the output latch of port.
func (m *MCP23017) WritePort(ctx context.Context, port Port, value byte) error {
	return m.retry(ctx, fmt.Sprintf("write gpio %s set", port), func() error {
		return m.writeRegistry(ctx, port.reg(OLATA, OLATB), value)
	})
}

// ReadSettings reads contents of IOCON registry.
func (m *MCP23017) ReadSettings(ctx context.Context, port Port) (byte, error) {
	var res byte
	err := m.retry(ctx, fmt.Sprintf("read settings of gpio %s set", port), func() error {
		var err error
		res, err = m.readRegistry(ctx, port.reg(IOCONA, IOCONB))
		return err
	})
	return res, err
}

// WriteSettings writes IOCON registry.
func (m *MCP23017) WriteSettings(ctx context.Context, port Port, settings byte) error {
	return m.retry(ctx, fmt.Sprintf("write settings on gpio %s set", port), func() error {
		return m.writeRegistry(ctx, port.reg(IOCONA, IOCONB), settings)
	})
}

// Status reads direction, pull-up and value registries of both ports.
func (m *MCP23017) Status(ctx context.Context) (map[string]byte, error) {
	regs := []struct {
		name string
		reg  registry
	}{
		{"IODIRA", IODIRA}, {"IODIRB", IODIRB},
		{"GPPUA", GPPUA}, {"GPPUB", GPPUB},
		{"GPIOA", GPIOA}, {"GPIOB", GPIOB},
		{"IOCONA", IOCONA},
	}
	res := make(map[string]byte, len(regs))
	err := m.retry(ctx, "read gpio status", func() error {
		return m.dev.WithLock(ctx, func(ctx context.Context) error {
			for _, r := range regs {
				v, err := m.readRegistry(ctx, r.reg)
				if err != nil {
					return err
				}
				res[r.name] = v
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *MCP23017) readRegistry(ctx context.Context, reg registry) (byte, error) {
	buf := make([]byte, 1)
	err := m.dev.WriteThenRead(ctx, []byte{BankAddr[m.bank][reg]}, buf)
	if err != nil {
		return 0x00, fmt.Errorf("could not read registry %#02x: %w", BankAddr[m.bank][reg], err)
	}
	return buf[0], nil
}

func (m *MCP23017) writeRegistry(ctx context.Context, reg registry, value byte) error {
	err := m.dev.Write(ctx, []byte{BankAddr[m.bank][reg], value})
	if err != nil {
		return fmt.Errorf("could not write registry %#02x: %w", BankAddr[m.bank][reg], err)
	}
	return nil
}

// retry repeats op while the bus reports busy, releasing the bus controller
// between attempts when the transport supports it.
func (m *MCP23017) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := m.retryLimit; i > 0; i-- {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, busdevice.ErrBusBusy) || ctx.Err() != nil {
			return fmt.Errorf("could not %s: %w", op, err)
		}
		if i > 1 {
			m.release(ctx)
		}
	}
	return fmt.Errorf("could not %s (retry limit reached): %w", op, err)
}

func (m *MCP23017) release(ctx context.Context) {
	r, ok := m.transport.(busdevice.Releaser)
	if !ok {
		return
	}
	if err := m.transport.Lock(ctx); err != nil {
		slog.Debug("could not lock bus for release", "error", err)
		return
	}
	defer m.transport.Unlock()
	if err := r.Release(ctx); err != nil {
		slog.Warn("could not release bus", "addr", m.dev.Address().String(), "error", err)
	}
}
