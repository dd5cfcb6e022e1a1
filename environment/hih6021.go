package environment

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/mklimuk/busdevice"
)

const HIH6021DefaultAddress busdevice.Address = 0x27

var divider = float32(1<<14 - 2)

var ErrStaleData = errors.New("stale data")
var ErrCommandMode = errors.New("device in command mode")

var _ TemperatureSensor = &HIH6021{}
var _ HumiditySensor = &HIH6021{}

// HIH6021 represents Honeywell HumidIcon Digital Humidity/Temperature sensor
type HIH6021 struct {
	dev      *busdevice.Device
	lastTemp float32
	lastHum  float32
}

// NewHIH6021 probes the sensor with an empty write, which is also how a
// measurement is requested.
func NewHIH6021(ctx context.Context, trans busdevice.Transport, addr busdevice.Address) (*HIH6021, error) {
	dev, err := busdevice.New(ctx, trans, addr, busdevice.WithProbeMode(busdevice.ProbeWrite))
	if err != nil {
		return nil, fmt.Errorf("hih6021: %w", err)
	}
	return &HIH6021{dev: dev}, nil
}

func (sensor *HIH6021) GetTemperature(ctx context.Context) (float32, error) {
	err := sensor.measure(ctx)
	return sensor.lastTemp, err
}

func (sensor *HIH6021) GetHumidity(ctx context.Context) (float32, error) {
	err := sensor.measure(ctx)
	return sensor.lastHum, err
}

func (sensor *HIH6021) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	err := sensor.measure(ctx)
	return sensor.lastTemp, sensor.lastHum, err
}

// measure requests a conversion and fetches it. The bus is free while the
// sensor converts.
func (sensor *HIH6021) measure(ctx context.Context) error {
	if err := sensor.dev.Probe(ctx); err != nil {
		return fmt.Errorf("could not write measurement request to device: %w", err)
	}
	// measurement cycle takes typically 36.65ms
	if err := wait(ctx, 50*time.Millisecond); err != nil {
		return err
	}
	resp := make([]byte, 4)
	if err := sensor.dev.ReadInto(ctx, resp); err != nil {
		return fmt.Errorf("could not read measurement: %w", err)
	}
	// status bits 15:14
	if resp[0]&0x80 > 0 {
		return ErrCommandMode
	}
	if resp[0]&0x40 > 0 {
		// fetched twice or before the first conversion completed
		return ErrStaleData
	}
	sensor.lastHum = convertHumidity(resp[0:2])
	sensor.lastTemp = convertTemperature(resp[2:4])
	return nil
}

func convertHumidity(resp []byte) float32 {
	hum := float32(binary.BigEndian.Uint16(resp)&0x3FFF) / divider * 100
	if hum > 100.00 {
		return 100.00
	}
	return hum
}

// temperature is the upper 14 bits of the last two bytes
func convertTemperature(resp []byte) float32 {
	return float32(binary.BigEndian.Uint16(resp)>>2)/divider*165 - 40
}
