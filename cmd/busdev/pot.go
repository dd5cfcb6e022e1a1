package main

import (
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/busdevice/cmd/busdev/console"
	"github.com/mklimuk/busdevice/pot"
)

var strapFlag = &cli.IntSliceFlag{
	Name:  "strap",
	Usage: "A2:A0 strapping of the chips to address",
	Value: cli.NewIntSlice(0),
}

var potCmd = cli.Command{
	Name:    "potentiometer",
	Aliases: []string{"pot"},
	Usage:   "control MCP4661 digital potentiometers",
	Subcommands: cli.Commands{
		&potGetCmd,
		&potSetCmd,
	},
}

var potGetCmd = cli.Command{
	Name:  "get",
	Usage: "print wiper positions",
	Flags: []cli.Flag{strapFlag},
	Action: func(c *cli.Context) error {
		bus, closeBus, err := openBus(c)
		if err != nil {
			return console.Exit(console.ExitError, "could not open bus: %s", console.Red(err))
		}
		defer closeBus()
		ctx := commandContext(c)
		for _, strap := range c.IntSlice("strap") {
			addr, err := pot.Address(strap)
			if err != nil {
				return failure("invalid strapping", err)
			}
			p, err := pot.NewMCP4661(ctx, bus, addr)
			if err != nil {
				console.Errorf("knob %d: %v", strap, err)
				continue
			}
			for _, w := range []pot.Wiper{pot.Wiper0, pot.Wiper1} {
				val, err := p.Wiper(ctx, w)
				if err != nil {
					console.Errorf("knob %d wiper %d: %v", strap, w, err)
					continue
				}
				console.Printf("knob %s (addr %s) wiper %d: %s\n",
					console.White(strap), console.White(addr), w, console.White(val))
			}
		}
		return nil
	},
}

var potSetCmd = cli.Command{
	Name:      "set",
	Usage:     "move a wiper",
	ArgsUsage: "<wiper 0|1> <value 0-256>",
	Flags: []cli.Flag{
		strapFlag,
		&cli.BoolFlag{
			Name:  "nv",
			Usage: "store in non-volatile memory",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() < 2 {
			return console.Exit(console.ExitUsage, "usage: busdev pot set <wiper 0|1> <value 0-256>")
		}
		w, err := strconv.Atoi(c.Args().Get(0))
		if err != nil {
			return console.Exit(console.ExitUsage, "invalid wiper %q", c.Args().Get(0))
		}
		val, err := strconv.ParseUint(c.Args().Get(1), 10, 16)
		if err != nil {
			return console.Exit(console.ExitUsage, "invalid value %q", c.Args().Get(1))
		}
		bus, closeBus, err := openBus(c)
		if err != nil {
			return console.Exit(console.ExitError, "could not open bus: %s", console.Red(err))
		}
		defer closeBus()
		ctx := commandContext(c)
		for _, strap := range c.IntSlice("strap") {
			addr, err := pot.Address(strap)
			if err != nil {
				return failure("invalid strapping", err)
			}
			p, err := pot.NewMCP4661(ctx, bus, addr)
			if err != nil {
				return failure("potentiometer initialization error", err)
			}
			if err := p.SetWiper(ctx, pot.Wiper(w), uint16(val), c.Bool("nv")); err != nil {
				return failure("could not set wiper", err)
			}
			console.Infof("knob %d (addr %s) wiper %d set to %d", strap, addr, w, val)
		}
		return nil
	},
}
