// Package pot drives digital potentiometers.
package pot

import (
	"context"
	"fmt"

	"github.com/mklimuk/busdevice"
)

// MCP4661 serial commands, bits 3:2 of the command byte
const (
	opWrite     byte = 0x00
	opIncrement byte = 0x01
	opDecrement byte = 0x02
	opRead      byte = 0x03
)

// Memory map
const (
	RegVolatileWiper0    byte = 0x00
	RegVolatileWiper1    byte = 0x01
	RegNonVolatileWiper0 byte = 0x02
	RegNonVolatileWiper1 byte = 0x03
	RegTCON              byte = 0x04
	RegStatus            byte = 0x05
)

// BaseAddress is the address with A2:A0 tied low.
const BaseAddress busdevice.Address = 0x28

// MaxWiper is the full scale position of the 257 tap resistor network.
const MaxWiper = 0x100

type Wiper int

const (
	Wiper0 Wiper = iota
	Wiper1
)

func (w Wiper) reg(nonVolatile bool) (byte, error) {
	if w != Wiper0 && w != Wiper1 {
		return 0, fmt.Errorf("%w: wiper %d", busdevice.ErrInvalidArgument, w)
	}
	if nonVolatile {
		return RegNonVolatileWiper0 + byte(w), nil
	}
	return RegVolatileWiper0 + byte(w), nil
}

// Address returns the address of the chip with the given A2:A0 strapping.
func Address(strap int) (busdevice.Address, error) {
	if strap < 0 || strap > 7 {
		return 0, fmt.Errorf("%w: strap %d", busdevice.ErrOutOfRange, strap)
	}
	return BaseAddress + busdevice.Address(strap), nil
}

// MCP4661 is a dual 8-bit rheostat with non-volatile wiper memory.
type MCP4661 struct {
	dev *busdevice.Device
}

func NewMCP4661(ctx context.Context, trans busdevice.Transport, address busdevice.Address) (*MCP4661, error) {
	dev, err := busdevice.New(ctx, trans, address, busdevice.WithProbeMode(busdevice.ProbeWrite))
	if err != nil {
		return nil, fmt.Errorf("mcp4661: %w", err)
	}
	return &MCP4661{dev: dev}, nil
}

// register address on bits 7:4, operation on bits 3:2, data bits 9:8 on bits 1:0
func command(reg, op byte, value uint16) byte {
	return reg<<4 | op<<2 | byte(value>>8)&0x03
}

func (p *MCP4661) ReadRegister(ctx context.Context, reg byte) (uint16, error) {
	data := make([]byte, 2)
	err := p.dev.WriteThenRead(ctx, []byte{command(reg, opRead, 0)}, data)
	if err != nil {
		return 0, fmt.Errorf("could not read register %#x: %w", reg, err)
	}
	return (uint16(data[0])<<8 | uint16(data[1])) & 0x1FF, nil
}

func (p *MCP4661) WriteRegister(ctx context.Context, reg byte, value uint16) error {
	err := p.dev.Write(ctx, []byte{command(reg, opWrite, value), byte(value)})
	if err != nil {
		return fmt.Errorf("could not write register %#x: %w", reg, err)
	}
	return nil
}

func (p *MCP4661) Wiper(ctx context.Context, w Wiper) (uint16, error) {
	reg, err := w.reg(false)
	if err != nil {
		return 0, err
	}
	return p.ReadRegister(ctx, reg)
}

// SetWiper moves the wiper. Non-volatile writes survive a power cycle and
// take up to 10ms during which the chip does not acknowledge.
func (p *MCP4661) SetWiper(ctx context.Context, w Wiper, value uint16, nonVolatile bool) error {
	if value > MaxWiper {
		return fmt.Errorf("%w: wiper value %d", busdevice.ErrOutOfRange, value)
	}
	reg, err := w.reg(nonVolatile)
	if err != nil {
		return err
	}
	return p.WriteRegister(ctx, reg, value)
}

func (p *MCP4661) Increment(ctx context.Context, w Wiper) error {
	return p.step(ctx, w, opIncrement)
}

func (p *MCP4661) Decrement(ctx context.Context, w Wiper) error {
	return p.step(ctx, w, opDecrement)
}

func (p *MCP4661) step(ctx context.Context, w Wiper, op byte) error {
	reg, err := w.reg(false)
	if err != nil {
		return err
	}
	return p.dev.Write(ctx, []byte{command(reg, op, 0)})
}
