package environment

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/sigurn/crc8"

	"github.com/mklimuk/busdevice"
)

// SHTC3 I2C address (7-bit)
const SHTC3Address busdevice.Address = 0x70

// Commands (Big Endian on the wire)
const (
	shtc3CmdWake   uint16 = 0x3517
	shtc3CmdSleep  uint16 = 0xB098
	shtc3CmdReadID uint16 = 0xEFC8

	// Normal power, clock stretching disabled
	// Measure T first, then RH
	shtc3CmdMeasureTFirstNoCS uint16 = 0x7866
)

const (
	shtc3IDMask  = 0x083F
	shtc3IDValue = 0x0807
)

var ErrCRCMismatch = errors.New("crc mismatch")
var ErrUnknownDevice = errors.New("unknown device id")

var sensirionCRC = crc8.MakeTable(crc8.Params{
	Poly:   0x31,
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
	Check:  0xF7,
	Name:   "CRC-8/SENSIRION",
})

var _ TemperatureSensor = &SHTC3{}
var _ HumiditySensor = &SHTC3{}

// SHTC3 represents Sensirion SHTC3 Temperature/Humidity sensor
// Typical usage:
//
//	s, err := NewSHTC3(ctx, bus)
//	t, h, err := s.GetTempAndHum(ctx)
type SHTC3 struct {
	dev      *busdevice.Device
	lastTemp float32
	lastHum  float32
}

// NewSHTC3 verifies the product code of the sensor. A sleeping SHTC3 does
// not answer a plain probe, so the ID read replaces it.
func NewSHTC3(ctx context.Context, trans busdevice.Transport) (*SHTC3, error) {
	dev, err := busdevice.New(ctx, trans, SHTC3Address, busdevice.WithProbe(false))
	if err != nil {
		return nil, fmt.Errorf("shtc3: %w", err)
	}
	s := &SHTC3{dev: dev}
	id, err := s.ReadID(ctx)
	if err != nil {
		return nil, fmt.Errorf("shtc3: %w: %w", busdevice.ErrDeviceNotFound, err)
	}
	if id&shtc3IDMask != shtc3IDValue {
		return nil, fmt.Errorf("shtc3: %w %#04x", ErrUnknownDevice, id)
	}
	return s, nil
}

// ReadID wakes the sensor and returns its ID register.
func (s *SHTC3) ReadID(ctx context.Context) (uint16, error) {
	var id uint16
	err := s.dev.WithLock(ctx, func(ctx context.Context) error {
		if err := s.wake(ctx); err != nil {
			return err
		}
		var cmd [2]byte
		binary.BigEndian.PutUint16(cmd[:], shtc3CmdReadID)
		buf := make([]byte, 3)
		if err := s.dev.WriteThenRead(ctx, cmd[:], buf); err != nil {
			return fmt.Errorf("id read failed: %w", err)
		}
		if crc8.Checksum(buf[0:2], sensirionCRC) != buf[2] {
			return fmt.Errorf("id %w", ErrCRCMismatch)
		}
		id = binary.BigEndian.Uint16(buf[0:2])
		return s.writeCmd(ctx, shtc3CmdSleep)
	})
	return id, err
}

// GetTemperature performs a single measurement and returns temperature in Celsius.
func (s *SHTC3) GetTemperature(ctx context.Context) (float32, error) {
	if err := s.measure(ctx); err != nil {
		return 0, err
	}
	return s.lastTemp, nil
}

// GetHumidity performs a single measurement and returns relative humidity in %RH.
func (s *SHTC3) GetHumidity(ctx context.Context) (float32, error) {
	if err := s.measure(ctx); err != nil {
		return 0, err
	}
	return s.lastHum, nil
}

// GetTempAndHum performs a single measurement and returns temperature and humidity.
func (s *SHTC3) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	if err := s.measure(ctx); err != nil {
		return 0, 0, err
	}
	return s.lastTemp, s.lastHum, nil
}

// measure holds the bus from wake-up until the sensor is put back to sleep.
func (s *SHTC3) measure(ctx context.Context) error {
	return s.dev.WithLock(ctx, func(ctx context.Context) error {
		if err := s.wake(ctx); err != nil {
			return err
		}
		if err := s.writeCmd(ctx, shtc3CmdMeasureTFirstNoCS); err != nil {
			return fmt.Errorf("shtc3: measure command failed: %w", err)
		}
		// Typical measurement time ~12.1 ms (normal mode)
		if err := wait(ctx, 15*time.Millisecond); err != nil {
			return err
		}
		// T[0:2], CRC, RH[3:5], CRC
		buf := make([]byte, 6)
		if err := s.dev.ReadInto(ctx, buf); err != nil {
			return fmt.Errorf("shtc3: read failed: %w", err)
		}
		if crc8.Checksum(buf[0:2], sensirionCRC) != buf[2] {
			return fmt.Errorf("shtc3: temperature %w", ErrCRCMismatch)
		}
		if crc8.Checksum(buf[3:5], sensirionCRC) != buf[5] {
			return fmt.Errorf("shtc3: humidity %w", ErrCRCMismatch)
		}
		s.lastTemp = convertSHTC3Temperature(binary.BigEndian.Uint16(buf[0:2]))
		s.lastHum = convertSHTC3Humidity(binary.BigEndian.Uint16(buf[3:5]))
		if err := s.writeCmd(ctx, shtc3CmdSleep); err != nil {
			return fmt.Errorf("shtc3: sleep failed: %w", err)
		}
		return nil
	})
}

func (s *SHTC3) wake(ctx context.Context) error {
	if err := s.writeCmd(ctx, shtc3CmdWake); err != nil {
		return fmt.Errorf("shtc3: wake failed: %w", err)
	}
	// wake-up takes up to 240us
	return wait(ctx, time.Millisecond)
}

func (s *SHTC3) writeCmd(ctx context.Context, cmd uint16) error {
	var out [2]byte
	binary.BigEndian.PutUint16(out[:], cmd)
	return s.dev.Write(ctx, out[:])
}

// T(C) = -45 + 175 * rawT / 65535
func convertSHTC3Temperature(raw uint16) float32 {
	return -45.0 + (175.0 * float32(raw) / 65535.0)
}

// RH(%) = 100 * rawRH / 65535
func convertSHTC3Humidity(raw uint16) float32 {
	return 100.0 * float32(raw) / 65535.0
}
