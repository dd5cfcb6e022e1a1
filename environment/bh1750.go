package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mklimuk/busdevice"
)

const BH1750AddrHigh busdevice.Address = 0b1011100
const BH1750AddrLow busdevice.Address = 0b0100011

const (
	opCodePowerOn             = 0b00000001
	opCodeSingleLowResolution = 0b00100011
)

var _ LightSensor = &BH1750{}

type BH1750 struct {
	dev *busdevice.Device
	buf []byte
}

// NewBH1750 powers the sensor on. The BH1750 answers reads only after a
// measurement so it is probed with an empty write.
func NewBH1750(ctx context.Context, transport busdevice.Transport, addr busdevice.Address) (*BH1750, error) {
	dev, err := busdevice.New(ctx, transport, addr, busdevice.WithProbeMode(busdevice.ProbeWrite))
	if err != nil {
		return nil, fmt.Errorf("bh1750: %w", err)
	}
	if err := dev.Write(ctx, []byte{opCodePowerOn}); err != nil {
		return nil, fmt.Errorf("bh1750: could not power on: %w", err)
	}
	return &BH1750{
		dev: dev,
		buf: make([]byte, 2),
	}, nil
}

// GetLux triggers a one-time low resolution measurement. The bus is free
// while the sensor converts.
func (sensor *BH1750) GetLux(ctx context.Context) (int, error) {
	err := sensor.dev.Write(ctx, []byte{opCodeSingleLowResolution})
	if err != nil {
		return 0, fmt.Errorf("could not write command: %w", err)
	}
	// measurement cycle takes typically 16ms, max time is 24ms
	if err := wait(ctx, 25*time.Millisecond); err != nil {
		return 0, err
	}
	err = sensor.dev.ReadInto(ctx, sensor.buf)
	if err != nil {
		return 0, fmt.Errorf("could not read data: %w", err)
	}
	return convertLux(sensor.buf), nil
}

func convertLux(raw []byte) int {
	return int(float32(binary.BigEndian.Uint16(raw)) / 1.2)
}
