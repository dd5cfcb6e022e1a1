package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/busdevice/accel"
	"github.com/mklimuk/busdevice/cmd/busdev/console"
)

var motionCmd = cli.Command{
	Name:  "motion",
	Usage: "operate BMA220 motion detection",
	Subcommands: cli.Commands{
		&motionInitCmd,
		&motionCheckCmd,
		&motionResetCmd,
	},
}

func motionSensor(c *cli.Context) (*accel.BMA220, func(), error) {
	bus, closeBus, err := openBus(c)
	if err != nil {
		return nil, nil, console.Exit(console.ExitError, "could not open bus: %s", console.Red(err))
	}
	addr := appConfig(c).Address("bma220", accel.DefaultAddress)
	s, err := accel.NewBMA220(commandContext(c), bus, addr)
	if err != nil {
		closeBus()
		return nil, nil, failure("sensor initialization error", err)
	}
	return s, closeBus, nil
}

var motionInitCmd = cli.Command{
	Name:  "init",
	Usage: "enable slope interrupts",
	Action: func(c *cli.Context) error {
		s, closeBus, err := motionSensor(c)
		if err != nil {
			return err
		}
		defer closeBus()
		if err := s.InitMotionDetection(commandContext(c)); err != nil {
			return failure("error initializing BMA220", err)
		}
		console.Infof("motion detection enabled")
		return nil
	},
}

var motionCheckCmd = cli.Command{
	Name:  "check",
	Usage: "check the slope interrupt",
	Action: func(c *cli.Context) error {
		s, closeBus, err := motionSensor(c)
		if err != nil {
			return err
		}
		defer closeBus()
		motion, err := s.CheckMotionInterrupt(commandContext(c))
		if err != nil {
			return failure("error checking motion detection on BMA220", err)
		}
		if motion {
			console.Printf("motion interrupt: %s\n", console.Yellow(motion))
		} else {
			console.Printf("motion interrupt: %s\n", console.Green(motion))
		}
		return nil
	},
}

var motionResetCmd = cli.Command{
	Name:  "reset",
	Usage: "clear the latched interrupt",
	Action: func(c *cli.Context) error {
		s, closeBus, err := motionSensor(c)
		if err != nil {
			return err
		}
		defer closeBus()
		if err := s.ResetMotionInterrupt(commandContext(c)); err != nil {
			return failure("error resetting motion detection on BMA220", err)
		}
		console.Infof("motion interrupt reset")
		return nil
	},
}
