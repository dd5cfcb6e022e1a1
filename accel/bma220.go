// Package accel holds accelerometer drivers.
package accel

import (
	"context"
	"fmt"

	"github.com/mklimuk/busdevice"
)

const (
	regSlopeSettings = 0x12
	regInterrupts    = 0x18
	regSlopeDet      = 0x1A
	regLatch         = 0x1C
	regRange         = 0x22
	regWatchdog      = 0x2E
)

const DefaultAddress busdevice.Address = 0x0A

// BMA220 represents Bosch BMA220 accelerometer
type BMA220 struct {
	dev *busdevice.Device
}

func NewBMA220(ctx context.Context, trans busdevice.Transport, address busdevice.Address) (*BMA220, error) {
	dev, err := busdevice.New(ctx, trans, address)
	if err != nil {
		return nil, fmt.Errorf("bma220: %w", err)
	}
	return &BMA220{dev: dev}, nil
}

/*
en_slope_x (0x1A.5) enable slope detection on x-axis
en_slope_y (0x1A.4) enable slope detection on y-axis
en_slope_z (0x1A.3) enable slope detection on z-axis
slope_th (0x12[5:2]) define the threshold level of the slope 1 LSB threshold is 1 LSB of acc_data
slope_dur (0x12[1:0]) define the number of consecutive slope data points above slope_th which are required to set the interrupt (“00” = 1,”01” = 2,”10” = 3, “11” = 4)
slope_filt (0x12.6) defines whether filtered or unfiltered acceleration data should be used (evaluated) (‘0’=unfiltered, ‘1’=filtered)
*/

// InitMotionDetection enables slope interrupts on all axes. The registers
// are written in one bus session.
func (b *BMA220) InitMotionDetection(ctx context.Context) error {
	steps := []struct {
		what string
		reg  byte
		val  byte
	}{
		{"set detection sensitivity", regRange, 0x03},
		// permanent interrupt latch lat_int[2:0] = 111
		{"set interrupt settings", regLatch, 0b01110000},
		{"enable slope detection", regSlopeDet, 0b00111000},
		{"set slope detection settings", regSlopeSettings, 0x45},
		{"set watchdog settings", regWatchdog, 0x06},
	}
	return b.dev.WithLock(ctx, func(ctx context.Context) error {
		for _, s := range steps {
			if err := b.dev.Write(ctx, []byte{s.reg, s.val}); err != nil {
				return fmt.Errorf("could not %s: %w", s.what, err)
			}
		}
		return nil
	})
}

// CheckMotionInterrupt reports whether the slope interrupt fired.
func (b *BMA220) CheckMotionInterrupt(ctx context.Context) (bool, error) {
	buf := []byte{0x00}
	if err := b.dev.WriteThenRead(ctx, []byte{regInterrupts}, buf); err != nil {
		return false, fmt.Errorf("could not read interrupt registry: %w", err)
	}
	// slope detection is on bit 0
	return buf[0]&0x01 != 0, nil
}

// ResetMotionInterrupt clears the latched interrupt.
func (b *BMA220) ResetMotionInterrupt(ctx context.Context) error {
	if err := b.dev.Write(ctx, []byte{regLatch, 0b11110000}); err != nil {
		return fmt.Errorf("could not reset interrupt latch: %w", err)
	}
	return nil
}
