package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/busdevice"
	"github.com/mklimuk/busdevice/cmd/busdev/console"
	"github.com/mklimuk/busdevice/environment"
)

var tempReadCmd = cli.Command{
	Name:    "temperature",
	Aliases: []string{"temp"},
	Usage:   "read temperature (and humidity where supported)",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "sensor",
			Aliases: []string{"s"},
			Usage:   "sensor type: tc74, shtc3 or hih6021",
			Value:   "tc74",
		},
		&cli.StringFlag{
			Name:  "addr",
			Usage: "sensor address (tc74 only), defaults to the configured \"tc74\" device or 4d",
		},
	},
	Action: func(c *cli.Context) error {
		bus, closeBus, err := openBus(c)
		if err != nil {
			return console.Exit(console.ExitError, "could not open bus: %s", console.Red(err))
		}
		defer closeBus()
		ctx := commandContext(c)
		switch c.String("sensor") {
		case "tc74":
			addr := appConfig(c).Address("tc74", environment.TC74DefaultAddress)
			if c.IsSet("addr") {
				addr, err = parseAddress(c.String("addr"))
				if err != nil {
					return console.Exit(console.ExitUsage, "%v", err)
				}
			}
			s, err := environment.NewTC74(ctx, bus, environment.WithAddress(addr))
			if err != nil {
				return failure("sensor initialization error", err)
			}
			temp, err := s.GetTemperature(ctx)
			if err != nil {
				return failure("error getting temperature read", err)
			}
			console.PInfof(console.PictoThermometer, "%s", console.White(temp))
		case "shtc3":
			s, err := environment.NewSHTC3(ctx, bus)
			if err != nil {
				return failure("sensor initialization error", err)
			}
			temp, hum, err := s.GetTempAndHum(ctx)
			if err != nil {
				return failure("error getting temperature read", err)
			}
			console.PInfof(console.PictoThermometer, " %s", console.White(temp))
			console.PInfof(console.PictoHumidity, "%s", console.White(hum))
		case "hih6021":
			s, err := environment.NewHIH6021(ctx, bus, appConfig(c).Address("hih6021", environment.HIH6021DefaultAddress))
			if err != nil {
				return failure("sensor initialization error", err)
			}
			temp, hum, err := s.GetTempAndHum(ctx)
			if err != nil {
				return failure("error getting temperature read", err)
			}
			console.PInfof(console.PictoThermometer, " %s", console.White(temp))
			console.PInfof(console.PictoHumidity, "%s", console.White(hum))
		default:
			return console.Exit(console.ExitUsage, "unknown sensor %q", c.String("sensor"))
		}
		return nil
	},
}

var lightCmd = cli.Command{
	Name:  "light",
	Usage: "read ambient light from a BH1750",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "address pin level: l (0x23) or h (0x5c)",
			Value: "l",
		},
	},
	Action: func(c *cli.Context) error {
		var addr busdevice.Address
		switch c.String("addr") {
		case "l":
			addr = environment.BH1750AddrLow
		case "h":
			addr = environment.BH1750AddrHigh
		default:
			return console.Exit(console.ExitUsage, "unknown address level %q", c.String("addr"))
		}
		bus, closeBus, err := openBus(c)
		if err != nil {
			return console.Exit(console.ExitError, "could not open bus: %s", console.Red(err))
		}
		defer closeBus()
		ctx := commandContext(c)
		s, err := environment.NewBH1750(ctx, bus, addr)
		if err != nil {
			return failure("sensor initialization error", err)
		}
		lux, err := s.GetLux(ctx)
		if err != nil {
			return failure("error getting light read", err)
		}
		console.PInfof(console.PictoLight, "%s lx", console.White(lux))
		return nil
	},
}
