package main

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/busdevice/air"
	"github.com/mklimuk/busdevice/cmd/busdev/console"
)

// the AGS02MA does not work above 30 kHz
const airBusSpeed = 20 * physic.KiloHertz

type speedSetter interface {
	SetSpeed(physic.Frequency) error
}

var airCmd = cli.Command{
	Name:  "air",
	Usage: "read an AGS02MA TVOC sensor",
	Subcommands: []*cli.Command{
		&airReadCmd,
		&airCalibrateCmd,
	},
}

func withAirSensor(c *cli.Context, fn func(ctx context.Context, s *air.AGS02MA) error) error {
	bus, closeBus, err := openBus(c)
	if err != nil {
		return console.Exit(console.ExitError, "could not open bus: %s", console.Red(err))
	}
	defer closeBus()
	if b, ok := bus.(speedSetter); ok {
		if err := b.SetSpeed(airBusSpeed); err != nil {
			slog.Warn("could not slow down the bus", "error", err)
		}
	}
	ctx := commandContext(c)
	s, err := air.NewAGS02MA(ctx, bus, air.WithAddress(appConfig(c).Address("ags02ma", air.AGS02MAAddress)))
	if err != nil {
		return failure("sensor initialization error", err)
	}
	defer s.Close(ctx)
	return fn(ctx, s)
}

var airReadCmd = cli.Command{
	Name:    "read",
	Aliases: []string{"rd"},
	Usage:   "print version, resistance and TVOC",
	Action: func(c *cli.Context) error {
		return withAirSensor(c, func(ctx context.Context, s *air.AGS02MA) error {
			ver, err := s.ReadVersion(ctx)
			if err != nil {
				return failure("error reading version", err)
			}
			resistance, err := s.ReadResistance(ctx)
			if err != nil {
				return failure("error reading resistance", err)
			}
			ppb, err := s.GetTVOC(ctx)
			if err != nil {
				return failure("error getting TVOC read", err)
			}
			console.Printf("version: %s\nresistance: %s\nTVOC: %s ppb\n",
				console.White(ver), console.White(resistance*100), console.White(ppb))
			return nil
		})
	},
}

var airCalibrateCmd = cli.Command{
	Name:  "calibrate",
	Usage: "calibrate the sensor zero point",
	Action: func(c *cli.Context) error {
		return withAirSensor(c, func(ctx context.Context, s *air.AGS02MA) error {
			if err := s.Calibrate(ctx); err != nil {
				return failure("error calibrating", err)
			}
			console.Infof("calibrated")
			return nil
		})
	},
}
