// Package air holds air quality sensor drivers.
package air

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sigurn/crc8"

	"github.com/mklimuk/busdevice"
)

// AGS02MA default 7-bit I2C address. The datasheet write/read instructions
// 0x34/0x35 are this address shifted with the R/W bit.
const AGS02MAAddress busdevice.Address = 0x1A

// Register/command map (per datasheet)
//
//	0x00: TVOC readout (first byte is status, next three bytes are TVOC ppb)
const (
	regTVOC       byte = 0x00
	regCalibrate  byte = 0x01
	regVersion    byte = 0x11
	regResistance byte = 0x20
)

// Status byte bit definitions (Data1):
// Bit0: RDY (0 = ready, 1 = not ready or pre-heat)
// Bit3..1: CI[2:0] data type (000 => TVOC in ppb after power-on)
const statusBitRDY = 0x01

var ErrNotReady = fmt.Errorf("ags02ma: data not ready or sensor in pre-heat stage")
var ErrCRCMismatch = fmt.Errorf("ags02ma: crc mismatch")

// x8 + x5 + x4 + 1, initial value 0xFF
var crcTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31,
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
	Check:  0xF7,
	Name:   "CRC-8/AGS02MA",
})

const (
	TVOCModeDirectRead    byte = 0x00
	TVOCModeRegisterWrite byte = 0x01
)

type AGS02MAOpts struct {
	ConfigureDelay time.Duration
	ReadDelay      time.Duration
	TxDelay        time.Duration
	TVOCMode       byte
	Address        busdevice.Address
}

type AGS02MAOpt func(*AGS02MAOpts)

func WithConfigureDelay(delay time.Duration) AGS02MAOpt {
	return func(o *AGS02MAOpts) {
		o.ConfigureDelay = delay
	}
}

func WithReadDelay(delay time.Duration) AGS02MAOpt {
	return func(o *AGS02MAOpts) {
		o.ReadDelay = delay
	}
}

func WithTxDelay(delay time.Duration) AGS02MAOpt {
	return func(o *AGS02MAOpts) {
		o.TxDelay = delay
	}
}

func WithTVOCMode(mode byte) AGS02MAOpt {
	return func(o *AGS02MAOpts) {
		o.TVOCMode = mode
	}
}

func WithAddress(address busdevice.Address) AGS02MAOpt {
	return func(o *AGS02MAOpts) {
		o.Address = address
	}
}

// AGS02MA represents Aosong AGS02MA TVOC sensor.
// Typical usage:
//
//	s, err := NewAGS02MA(ctx, bus)
//	v, err := s.GetTVOC(ctx)
//
// Value is returned in parts-per-billion (ppb).
// The sensor requires a slow I2C clock (<= 30 kHz).
//
// After configuration and reads the sensor needs a rest period. It runs in
// the background and the next operation waits for it; the bus stays free
// for other devices meanwhile.
type AGS02MA struct {
	mx        sync.Mutex
	delayDone chan struct{} // closed when the rest period after the last operation ends
	delayMx   sync.Mutex

	config AGS02MAOpts
	dev    *busdevice.Device
	buf    []byte
}

func NewAGS02MA(ctx context.Context, transport busdevice.Transport, opts ...AGS02MAOpt) (*AGS02MA, error) {
	config := AGS02MAOpts{
		ConfigureDelay: 2 * time.Second,
		ReadDelay:      1500 * time.Millisecond,
		TxDelay:        100 * time.Millisecond,
		TVOCMode:       TVOCModeRegisterWrite,
		Address:        AGS02MAAddress,
	}
	for _, opt := range opts {
		opt(&config)
	}
	dev, err := busdevice.New(ctx, transport, config.Address)
	if err != nil {
		return nil, fmt.Errorf("ags02ma: %w", err)
	}
	ch := make(chan struct{})
	close(ch)
	return &AGS02MA{
		config:    config,
		dev:       dev,
		buf:       make([]byte, 5),
		delayDone: ch,
	}, nil
}

func (s *AGS02MA) waitForDelay(ctx context.Context) error {
	s.delayMx.Lock()
	ch := s.delayDone
	s.delayMx.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AGS02MA) scheduleDelay(ctx context.Context, duration time.Duration) {
	s.delayMx.Lock()
	ch := make(chan struct{})
	s.delayDone = ch
	s.delayMx.Unlock()

	go func() {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		close(ch)
	}()
}

// Close waits for a pending rest period.
func (s *AGS02MA) Close(ctx context.Context) {
	_ = s.waitForDelay(ctx)
}

func (s *AGS02MA) Configure(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.waitForDelay(ctx); err != nil {
		return err
	}
	err := s.dev.Write(ctx, []byte{regTVOC, 0x00, 0xFF, 0x00, 0xFF, 0x30})
	if err != nil {
		return fmt.Errorf("ags02ma: configuration write failed: %w", err)
	}
	s.scheduleDelay(ctx, s.config.ConfigureDelay)
	return nil
}

// GetTVOC reads the TVOC value with the configured mode.
func (s *AGS02MA) GetTVOC(ctx context.Context) (uint32, error) {
	if s.config.TVOCMode == TVOCModeDirectRead {
		return s.GetTVOCDirectRead(ctx)
	}
	return s.GetTVOCWithRegisterWrite(ctx)
}

// GetTVOCDirectRead performs a "master direct read": no register write, no CRC.
func (s *AGS02MA) GetTVOCDirectRead(ctx context.Context) (uint32, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.waitForDelay(ctx); err != nil {
		return 0, err
	}
	if err := s.dev.ReadInto(ctx, s.buf, busdevice.WithEnd(4)); err != nil {
		return 0, fmt.Errorf("ags02ma: read failed: %w", err)
	}
	return s.tvoc(ctx)
}

// GetTVOCWithRegisterWrite writes register 0x00 and then reads the value.
func (s *AGS02MA) GetTVOCWithRegisterWrite(ctx context.Context) (uint32, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.readRegister(ctx, regTVOC); err != nil {
		return 0, err
	}
	return s.tvoc(ctx)
}

func (s *AGS02MA) tvoc(ctx context.Context) (uint32, error) {
	if s.buf[0]&statusBitRDY != 0 {
		return 0, ErrNotReady
	}
	ppb := uint32(s.buf[1])<<16 | uint32(s.buf[2])<<8 | uint32(s.buf[3])
	s.scheduleDelay(ctx, s.config.ReadDelay)
	return ppb, nil
}

func (s *AGS02MA) ReadVersion(ctx context.Context) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.readRegister(ctx, regVersion); err != nil {
		return 0, err
	}
	return int(s.buf[3]), nil
}

// ReadResistance returns the sensing resistance in units of 100 Ohm.
func (s *AGS02MA) ReadResistance(ctx context.Context) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.readRegister(ctx, regResistance); err != nil {
		return 0, err
	}
	s.scheduleDelay(ctx, s.config.ReadDelay)
	return int(s.buf[1])<<16 | int(s.buf[2])<<8 | int(s.buf[3]), nil
}

func (s *AGS02MA) Calibrate(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.readRegister(ctx, regCalibrate); err != nil {
		return err
	}
	s.scheduleDelay(ctx, s.config.ReadDelay)
	return nil
}

// readRegister selects reg, waits the guard delay and reads the 5 byte
// answer into buf. The bus is released during the guard delay. Expects mx held.
func (s *AGS02MA) readRegister(ctx context.Context, reg byte) error {
	if err := s.waitForDelay(ctx); err != nil {
		return err
	}
	if err := s.dev.Write(ctx, []byte{reg}); err != nil {
		return fmt.Errorf("ags02ma: write reg %#02x failed: %w", reg, err)
	}
	timer := time.NewTimer(s.config.TxDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := s.dev.ReadInto(ctx, s.buf); err != nil {
		return fmt.Errorf("ags02ma: read failed: %w", err)
	}
	if crc := crc8.Checksum(s.buf[:4], crcTable); crc != s.buf[4] {
		return fmt.Errorf("%w: expected %#x, got %#x", ErrCRCMismatch, s.buf[4], crc)
	}
	return nil
}
