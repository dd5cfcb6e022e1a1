package environment

import (
	"context"
	"fmt"

	"github.com/mklimuk/busdevice"
)

const TC74DefaultAddress busdevice.Address = 0x4D

const tc74TempRegister = 0x00
const tc74ConfigRegister = 0x01

const (
	tc74DataReady = 0x40
	tc74Standby   = 0x80
)

var _ TemperatureSensor = &TC74{}

// TC74 represents a Microchip TC74 Digital Temperature Sensor
// See: https://ww1.microchip.com/downloads/en/DeviceDoc/21462D.pdf
//
// Usage: Instantiate with NewTC74, then call GetTemperature(ctx)
type TC74 struct {
	dev      *busdevice.Device
	lastTemp float32
}

type TC74Config struct {
	Address busdevice.Address
	Device  []busdevice.DeviceOption
}

type TC74ConfigOption func(*TC74Config)

func WithAddress(address busdevice.Address) TC74ConfigOption {
	return func(c *TC74Config) {
		c.Address = address
	}
}

func WithDeviceOptions(opts ...busdevice.DeviceOption) TC74ConfigOption {
	return func(c *TC74Config) {
		c.Device = append(c.Device, opts...)
	}
}

// NewTC74 binds the sensor at the configured address (0x4D by default) and
// checks that it answers.
func NewTC74(ctx context.Context, trans busdevice.Transport, opts ...TC74ConfigOption) (*TC74, error) {
	config := &TC74Config{
		Address: TC74DefaultAddress,
	}
	for _, opt := range opts {
		opt(config)
	}
	dev, err := busdevice.New(ctx, trans, config.Address, config.Device...)
	if err != nil {
		return nil, fmt.Errorf("tc74: %w", err)
	}
	return &TC74{dev: dev}, nil
}

// GetConfig reads the configuration register (0x01) and returns its value.
func (sensor *TC74) GetConfig(ctx context.Context) (byte, error) {
	return sensor.readRegister(ctx, tc74ConfigRegister)
}

// GetTemperature reads the current temperature in Celsius. When the sensor
// has no conversion ready yet the previous reading is returned.
func (sensor *TC74) GetTemperature(ctx context.Context) (float32, error) {
	err := sensor.dev.WithLock(ctx, func(ctx context.Context) error {
		config, err := sensor.readRegister(ctx, tc74ConfigRegister)
		if err != nil {
			return err
		}
		if config&tc74DataReady == 0 {
			return nil
		}
		raw, err := sensor.readRegister(ctx, tc74TempRegister)
		if err != nil {
			return err
		}
		// 2's complement
		sensor.lastTemp = float32(int8(raw))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sensor.lastTemp, nil
}

// Standby switches the sensor between standby and normal operation.
func (sensor *TC74) Standby(ctx context.Context, standby bool) error {
	var config byte
	if standby {
		config = tc74Standby
	}
	if err := sensor.dev.Write(ctx, []byte{tc74ConfigRegister, config}); err != nil {
		return fmt.Errorf("tc74: could not write config register: %w", err)
	}
	return nil
}

func (sensor *TC74) readRegister(ctx context.Context, reg byte) (byte, error) {
	resp := make([]byte, 1)
	if err := sensor.dev.WriteThenRead(ctx, []byte{reg}, resp); err != nil {
		return 0, fmt.Errorf("tc74: could not read register %#02x: %w", reg, err)
	}
	return resp[0], nil
}
