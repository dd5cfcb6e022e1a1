package main

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/busdevice/cmd/busdev/console"
	"github.com/mklimuk/busdevice/gpio"
)

var gpioCmd = cli.Command{
	Name:  "gpio",
	Usage: "operate an MCP23017 port expander",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "retry",
			Usage: "attempts while the bus is busy",
			Value: 3,
		},
	},
	Subcommands: []*cli.Command{
		&gpioStatusCmd,
		&gpioReadCmd,
		&gpioConfigureCmd,
		&gpioPullCmd,
	},
}

// expander binds the MCP23017 at the address given as the first argument,
// or the configured "mcp23017" device.
func expander(c *cli.Context) (*gpio.MCP23017, func(), error) {
	addr := appConfig(c).Address("mcp23017", gpio.DefaultMCP23017Address)
	if c.NArg() > 0 {
		var err error
		addr, err = addressArg(c, 0)
		if err != nil {
			return nil, nil, err
		}
	}
	bus, closeBus, err := openBus(c)
	if err != nil {
		return nil, nil, console.Exit(console.ExitError, "could not open bus: %s", console.Red(err))
	}
	exp, err := gpio.NewMCP23017(commandContext(c), bus,
		gpio.WithAddress(addr),
		gpio.WithRetryLimit(c.Int("retry")),
	)
	if err != nil {
		closeBus()
		return nil, nil, failure("could not bind expander", err)
	}
	return exp, closeBus, nil
}

func byteArg(c *cli.Context, i int) (byte, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(c.Args().Get(i), "0x"))
	if err != nil || len(data) != 1 {
		return 0, console.Exit(console.ExitUsage, "could not decode data %q", c.Args().Get(i))
	}
	return data[0], nil
}

var gpioReadCmd = cli.Command{
	Name:      "read",
	Usage:     "set port A as input and read both ports",
	ArgsUsage: "[addr]",
	Action: func(c *cli.Context) error {
		exp, closeBus, err := expander(c)
		if err != nil {
			return err
		}
		defer closeBus()
		ctx := commandContext(c)
		if err := exp.Init(ctx, gpio.PortA, 0xFF); err != nil {
			return failure("could not initialize gpio", err)
		}
		values, err := exp.Read(ctx)
		if err != nil {
			return failure("could not read gpio", err)
		}
		console.Printf("I/O A: %s\nI/O B: %s\n", console.White(fmt.Sprintf("%#02X", values[0])), console.White(fmt.Sprintf("%#02X", values[1])))
		return nil
	},
}

var gpioStatusCmd = cli.Command{
	Name:      "status",
	Usage:     "dump direction, pull-up, value and IOCON registries",
	ArgsUsage: "[addr]",
	Action: func(c *cli.Context) error {
		exp, closeBus, err := expander(c)
		if err != nil {
			return err
		}
		defer closeBus()
		status, err := exp.Status(commandContext(c))
		if err != nil {
			return failure("could not read status", err)
		}
		names := make([]string, 0, len(status))
		for name := range status {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			console.Printf("%-7s %s\n", name, console.White(fmt.Sprintf("%#02X", status[name])))
		}
		return nil
	},
}

var gpioConfigureCmd = cli.Command{
	Name:      "configure",
	Usage:     "write the IOCON registry",
	ArgsUsage: "<addr> <iocon>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return console.Exit(console.ExitUsage, "expected 2 arguments, got %d", c.NArg())
		}
		settings, err := byteArg(c, 1)
		if err != nil {
			return err
		}
		exp, closeBus, err := expander(c)
		if err != nil {
			return err
		}
		defer closeBus()
		if err := exp.WriteSettings(commandContext(c), gpio.PortA, settings); err != nil {
			return failure("could not write settings", err)
		}
		console.Infof("wrote IOCON content: %#02X", settings)
		return nil
	},
}

var gpioPullCmd = cli.Command{
	Name:      "pull",
	Usage:     "enable pull-ups on port A (and B when given)",
	ArgsUsage: "<addr> <gppu-a> [gppu-b]",
	Action: func(c *cli.Context) error {
		if c.NArg() < 2 || c.NArg() > 3 {
			return console.Exit(console.ExitUsage, "expected 2 or 3 arguments, got %d", c.NArg())
		}
		pullA, err := byteArg(c, 1)
		if err != nil {
			return err
		}
		exp, closeBus, err := expander(c)
		if err != nil {
			return err
		}
		defer closeBus()
		ctx := commandContext(c)
		if err := exp.PullUp(ctx, gpio.PortA, pullA); err != nil {
			return failure("could not write pull up settings", err)
		}
		console.Infof("wrote GPPUA content: %#02X", pullA)
		if c.NArg() == 3 {
			pullB, err := byteArg(c, 2)
			if err != nil {
				return err
			}
			if err := exp.PullUp(ctx, gpio.PortB, pullB); err != nil {
				return failure("could not write pull up settings", err)
			}
			console.Infof("wrote GPPUB content: %#02X", pullB)
		}
		return nil
	},
}
