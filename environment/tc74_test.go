package environment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/busdevice"
	"github.com/mklimuk/busdevice/sim"
)

func TestTC74_GetTemperature(t *testing.T) {
	tests := []struct {
		name     string
		regs     map[byte]byte
		expected float32
	}{
		{"positive", map[byte]byte{0x00: 0x19, 0x01: 0x40}, 25},
		{"negative", map[byte]byte{0x00: 0xE7, 0x01: 0x40}, -25},
		{"not ready", map[byte]byte{0x00: 0x19, 0x01: 0x00}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := sim.NewBus()
			bus.Attach(TC74DefaultAddress, sim.NewRegisterDevice(tt.regs))
			ctx := context.Background()

			sensor, err := NewTC74(ctx, bus)
			require.NoError(t, err)
			temp, err := sensor.GetTemperature(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, temp)
		})
	}
}

func TestTC74_StandbyAndAddress(t *testing.T) {
	bus := sim.NewBus()
	regs := sim.NewRegisterDevice(map[byte]byte{0x01: 0x40})
	bus.Attach(0x48, regs)
	ctx := context.Background()

	_, err := NewTC74(ctx, bus)
	assert.ErrorIs(t, err, busdevice.ErrDeviceNotFound)

	sensor, err := NewTC74(ctx, bus, WithAddress(0x48))
	require.NoError(t, err)
	require.NoError(t, sensor.Standby(ctx, true))
	assert.Equal(t, byte(0x80), regs.Get(0x01))
	config, err := sensor.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0x80), config)
}

func TestTC74_ReadFailure(t *testing.T) {
	bus := sim.NewBus()
	bus.Attach(TC74DefaultAddress, sim.NewRegisterDevice(nil))
	ctx := context.Background()
	sensor, err := NewTC74(ctx, bus)
	require.NoError(t, err)

	bus.Detach(TC74DefaultAddress)
	_, err = sensor.GetTemperature(ctx)
	assert.ErrorIs(t, err, busdevice.ErrTransport)
	assert.ErrorIs(t, err, sim.StatusNACK)
	// the scope is closed on failure
	require.NoError(t, bus.TryLock())
	bus.Unlock()
}
