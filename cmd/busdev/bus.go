package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/busdevice"
	"github.com/mklimuk/busdevice/adapter"
	"github.com/mklimuk/busdevice/cmd/busdev/console"
	"github.com/mklimuk/busdevice/config"
	"github.com/mklimuk/busdevice/devctx"
	"github.com/mklimuk/busdevice/gobotbus"
	hosti2c "github.com/mklimuk/busdevice/i2c"
	"github.com/mklimuk/busdevice/sim"
)

// openBus returns the transport selected by configuration together with a
// function releasing it.
func openBus(c *cli.Context) (busdevice.Transport, func(), error) {
	cfg := appConfig(c)
	slog.Debug("opening bus", "adapter", cfg.Adapter, "device", cfg.Device, "bus", cfg.Bus)
	switch cfg.Adapter {
	case config.AdapterMCP2221:
		return adapter.NewMCP2221(adapter.WithLockTimeout(cfg.LockTimeout)), func() {}, nil
	case config.AdapterGeneric:
		b, err := hosti2c.NewGenericBus(cfg.Device, hosti2c.WithLockTimeout(cfg.LockTimeout))
		if err != nil {
			return nil, nil, err
		}
		return b, func() {
			if err := b.Close(); err != nil {
				slog.Warn("could not close bus", "error", err)
			}
		}, nil
	case config.AdapterNanoPi:
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return nil, nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		b := gobotbus.NewBus(npi, gobotbus.WithBusNr(cfg.Bus), gobotbus.WithLockTimeout(cfg.LockTimeout))
		return b, func() {
			if err := b.Close(); err != nil {
				slog.Warn("could not close bus", "error", err)
			}
			if err := npi.I2cBusAdaptor.Finalize(); err != nil {
				slog.Warn("could not finalize adaptor", "error", err)
			}
		}, nil
	case config.AdapterSim:
		return newSimBus(cfg), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown adapter %q", cfg.Adapter)
}

// newSimBus populates a simulated bus with the devices busdev has drivers for.
func newSimBus(cfg config.Config) *sim.Bus {
	bus := sim.NewBus(sim.WithLockTimeout(cfg.LockTimeout))
	bus.Attach(0x4D, sim.NewRegisterDevice(map[byte]byte{0x00: 0x17, 0x01: 0x40}))
	bus.Attach(0x21, sim.NewRegisterDevice(map[byte]byte{0x00: 0xFF, 0x01: 0xFF, 0x12: 0xA5, 0x13: 0x0F}))
	bus.Attach(0x0A, sim.NewRegisterDevice(nil))
	bus.Attach(0x23, sim.FuncDevice{ReadFunc: func(buf []byte) error {
		copy(buf, []byte{0x01, 0x2C})
		return nil
	}})
	return bus
}

func commandContext(c *cli.Context) context.Context {
	ctx := devctx.SetVerbose(c.Context, c.Bool("verbose"))
	return devctx.SetDryRun(ctx, c.Bool("dry-run"))
}

// parseAddress accepts hex addresses with or without the 0x prefix.
func parseAddress(s string) (busdevice.Address, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("could not decode address %q: %w", s, err)
	}
	addr := busdevice.Address(v)
	if addr > busdevice.MaxAddress {
		return 0, fmt.Errorf("address %s out of range", addr)
	}
	return addr, nil
}

func addressArg(c *cli.Context, i int) (busdevice.Address, error) {
	if c.NArg() <= i {
		return 0, console.Exit(console.ExitUsage, "missing device address")
	}
	addr, err := parseAddress(c.Args().Get(i))
	if err != nil {
		return 0, console.Exit(console.ExitUsage, "%v", err)
	}
	return addr, nil
}

// failure maps bus errors to exit codes.
func failure(msg string, err error) cli.ExitCoder {
	code := console.ExitError
	switch {
	case errors.Is(err, busdevice.ErrDeviceNotFound):
		code = console.ExitNotFound
	case errors.Is(err, busdevice.ErrBusBusy), errors.Is(err, busdevice.ErrLockTimeout):
		code = console.ExitBusy
	case errors.Is(err, busdevice.ErrInvalidArgument), errors.Is(err, busdevice.ErrOutOfRange):
		code = console.ExitUsage
	}
	return console.Exit(code, "%s: %s", msg, console.Red(err))
}
