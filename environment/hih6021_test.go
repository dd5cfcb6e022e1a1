package environment

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/busdevice"
	"github.com/mklimuk/busdevice/sim"
)

func TestHIH6021_ConvertHum(t *testing.T) {
	tests := []struct {
		given    []byte
		expected float32
	}{
		{[]byte{0x00, 0x00}, 0.0},
		{[]byte{0x3F, 0xFF}, 100.0},
		{[]byte{0x17, 0x8B}, 36.79038},
	}
	for _, test := range tests {
		t.Run(hex.EncodeToString(test.given), func(t *testing.T) {
			assert.Equal(t, test.expected, convertHumidity(test.given))
		})
	}
}

func TestHIH6021_ConvertTemp(t *testing.T) {
	tests := []struct {
		given    []byte
		expected float32
	}{
		{[]byte{0x00, 0x00}, -40.0},
		{[]byte{0xFF, 0xFC}, 125.01007},
		{[]byte{0x65, 0xB8}, 25.568916},
	}
	for _, test := range tests {
		t.Run(hex.EncodeToString(test.given), func(t *testing.T) {
			assert.Equal(t, test.expected, convertTemperature(test.given))
		})
	}
}

func TestHIH6021_Measure(t *testing.T) {
	var requests int
	resp := []byte{0x17, 0x8B, 0x65, 0xB8}
	bus := sim.NewBus()
	bus.Attach(HIH6021DefaultAddress, sim.FuncDevice{
		WriteFunc: func(data []byte) error {
			assert.Empty(t, data, "measurement request is an empty write")
			requests++
			return nil
		},
		ReadFunc: func(buf []byte) error {
			copy(buf, resp)
			return nil
		},
	})
	ctx := context.Background()

	sensor, err := NewHIH6021(ctx, bus, HIH6021DefaultAddress)
	require.NoError(t, err)
	temp, hum, err := sensor.GetTempAndHum(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(25.568916), temp)
	assert.Equal(t, float32(36.79038), hum)
	assert.Equal(t, 2, requests)

	ops := bus.Ops()
	require.Len(t, ops, 3)
	assert.Equal(t, sim.OpWrite, ops[1].Kind)
	assert.Equal(t, sim.OpRead, ops[2].Kind)
	assert.Len(t, ops[2].Data, 4)

	// status bits keep the previous reading
	resp = []byte{0x57, 0x8B, 0x00, 0x00}
	temp, err = sensor.GetTemperature(ctx)
	assert.ErrorIs(t, err, ErrStaleData)
	assert.Equal(t, float32(25.568916), temp)
	resp = []byte{0x80, 0x00, 0x00, 0x00}
	_, err = sensor.GetHumidity(ctx)
	assert.ErrorIs(t, err, ErrCommandMode)
}

func TestHIH6021_NotFound(t *testing.T) {
	_, err := NewHIH6021(context.Background(), sim.NewBus(), HIH6021DefaultAddress)
	assert.ErrorIs(t, err, busdevice.ErrDeviceNotFound)
}
