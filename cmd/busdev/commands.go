package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/busdevice"
	"github.com/mklimuk/busdevice/cmd/busdev/console"
	"github.com/mklimuk/busdevice/devctx"
)

var probeModeFlag = &cli.StringFlag{
	Name:  "mode",
	Usage: "probe transfer: read or write",
	Value: "read",
}

func probeMode(c *cli.Context) (busdevice.ProbeMode, error) {
	switch c.String("mode") {
	case "read":
		return busdevice.ProbeRead, nil
	case "write":
		return busdevice.ProbeWrite, nil
	}
	return 0, console.Exit(console.ExitUsage, "unknown probe mode %q", c.String("mode"))
}

var scanCmd = cli.Command{
	Name:  "scan",
	Usage: "list addresses that answer on the bus",
	Flags: []cli.Flag{probeModeFlag},
	Action: func(c *cli.Context) error {
		mode, err := probeMode(c)
		if err != nil {
			return err
		}
		bus, closeBus, err := openBus(c)
		if err != nil {
			return console.Exit(console.ExitError, "could not open bus: %s", console.Red(err))
		}
		defer closeBus()
		found, err := busdevice.Scan(commandContext(c), bus, busdevice.WithScanMode(mode))
		printScan(console.Writer(), found)
		if err != nil {
			return failure("scan failed", err)
		}
		return nil
	},
}

// printScan draws the i2cdetect style address grid.
func printScan(w io.Writer, found []busdevice.Address) {
	present := make(map[busdevice.Address]bool, len(found))
	for _, a := range found {
		present[a] = true
	}
	var b strings.Builder
	b.WriteString("    ")
	for col := 0; col < 16; col++ {
		fmt.Fprintf(&b, " %x ", col)
	}
	b.WriteString("\n")
	for row := 0; row < 0x80; row += 16 {
		fmt.Fprintf(&b, "%02x:", row)
		for col := 0; col < 16; col++ {
			addr := busdevice.Address(row + col)
			switch {
			case present[addr]:
				fmt.Fprintf(&b, " %s", console.Green(fmt.Sprintf("%02x", int(addr))))
			case addr < 0x08 || addr > 0x77:
				b.WriteString("   ")
			default:
				b.WriteString(" " + console.Faint("--"))
			}
		}
		b.WriteString("\n")
	}
	_, _ = io.WriteString(w, b.String())
}

var probeCmd = cli.Command{
	Name:      "probe",
	Usage:     "check whether a device answers at the address",
	ArgsUsage: "<addr>",
	Flags:     []cli.Flag{probeModeFlag},
	Action: func(c *cli.Context) error {
		addr, err := addressArg(c, 0)
		if err != nil {
			return err
		}
		mode, err := probeMode(c)
		if err != nil {
			return err
		}
		bus, closeBus, err := openBus(c)
		if err != nil {
			return console.Exit(console.ExitError, "could not open bus: %s", console.Red(err))
		}
		defer closeBus()
		_, err = busdevice.New(commandContext(c), bus, addr, busdevice.WithProbeMode(mode))
		if err != nil {
			return failure("probe failed", err)
		}
		console.Infof("device found at %s", console.Green(addr))
		return nil
	},
}

var readCmd = cli.Command{
	Name:      "read",
	Usage:     "read bytes from a device, optionally starting at a register",
	ArgsUsage: "<addr>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "register",
			Aliases: []string{"r"},
			Usage:   "register to read from (hex)",
		},
		&cli.IntFlag{
			Name:    "length",
			Aliases: []string{"n"},
			Usage:   "number of bytes to read",
			Value:   1,
		},
	},
	Action: func(c *cli.Context) error {
		addr, err := addressArg(c, 0)
		if err != nil {
			return err
		}
		var register []byte
		if c.IsSet("register") {
			register, err = hex.DecodeString(strings.TrimPrefix(c.String("register"), "0x"))
			if err != nil || len(register) != 1 {
				return console.Exit(console.ExitUsage, "invalid register %q", c.String("register"))
			}
		}
		if c.Int("length") < 1 {
			return console.Exit(console.ExitUsage, "length must be at least 1")
		}
		bus, closeBus, err := openBus(c)
		if err != nil {
			return console.Exit(console.ExitError, "could not open bus: %s", console.Red(err))
		}
		defer closeBus()
		ctx := commandContext(c)
		dev, err := busdevice.New(ctx, bus, addr, busdevice.WithProbe(false))
		if err != nil {
			return failure("could not create device", err)
		}
		buf := make([]byte, c.Int("length"))
		if register != nil {
			err = dev.WriteThenRead(ctx, register, buf)
		} else {
			err = dev.ReadInto(ctx, buf)
		}
		if err != nil {
			return failure("read failed", err)
		}
		console.Print(strings.TrimRight(hex.Dump(buf), "\n"))
		return nil
	},
}

var writeCmd = cli.Command{
	Name:      "write",
	Usage:     "write hex encoded bytes to a device",
	ArgsUsage: "<addr> <hex>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "do not ask for confirmation",
		},
	},
	Action: func(c *cli.Context) error {
		addr, err := addressArg(c, 0)
		if err != nil {
			return err
		}
		if c.NArg() != 2 {
			return console.Exit(console.ExitUsage, "expected 2 arguments, got %d", c.NArg())
		}
		data, err := hex.DecodeString(strings.TrimPrefix(c.Args().Get(1), "0x"))
		if err != nil {
			return console.Exit(console.ExitUsage, "could not decode data: %v", err)
		}
		if len(data) == 0 {
			return console.Exit(console.ExitUsage, "nothing to write")
		}
		ctx := commandContext(c)
		if devctx.IsDryRun(ctx) {
			console.Infof("would write %s to %s", console.White(hex.EncodeToString(data)), console.White(addr))
			return nil
		}
		if !c.Bool("yes") {
			ok, err := console.Confirm(fmt.Sprintf("write %d bytes to %s?", len(data), addr))
			if err != nil {
				return console.Exit(console.ExitError, "could not read answer: %v", err)
			}
			if !ok {
				console.PInfof(console.PictoStop, "aborted")
				return nil
			}
		}
		bus, closeBus, err := openBus(c)
		if err != nil {
			return console.Exit(console.ExitError, "could not open bus: %s", console.Red(err))
		}
		defer closeBus()
		dev, err := busdevice.New(ctx, bus, addr, busdevice.WithProbe(false))
		if err != nil {
			return failure("could not create device", err)
		}
		if err := dev.Write(ctx, data); err != nil {
			return failure("write failed", err)
		}
		console.Infof("wrote %d bytes to %s", len(data), console.White(addr))
		return nil
	},
}
