package main

import (
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/newjoy/adapter"
	"github.com/mklimuk/newjoy/cmd/newjoy/console"
	"github.com/mklimuk/newjoy/radio"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "USB to I2C adapter maintenance",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
		&mcp2221GPIOCmd,
		&mcp2221SetCmd,
	},
}

var mcp2221StatusCmd = cli.Command{
	Name: "status",
	Action: func(c *cli.Context) error {
		status, err := adapter.NewMCP2221().Status(commandContext(c))
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		printYAML(status)
		return nil
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current transfer and free the bus",
	Action: func(c *cli.Context) error {
		status, err := adapter.NewMCP2221().ReleaseBus(commandContext(c))
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		printYAML(status)
		return nil
	},
}

var mcp2221GPIOCmd = cli.Command{
	Name:  "gpio",
	Usage: "print GP line levels and their power-up settings",
	Action: func(c *cli.Context) error {
		ctx := commandContext(c)
		a := adapter.NewMCP2221()
		values, err := a.ReadGPIO(ctx)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		settings, err := a.GPIOSettings(ctx)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		printYAML(map[string]any{"values": values, "power_up": settings})
		return nil
	},
}

var mcp2221SetCmd = cli.Command{
	Name:      "set",
	Usage:     "drive a GP line as an output",
	ArgsUsage: "<line 0-3> <high|low>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return console.Exit(1, "expected 2 arguments, got %d", c.NArg())
		}
		gp, err := strconv.Atoi(c.Args().Get(0))
		if err != nil {
			return console.Exit(1, "invalid line %q", c.Args().Get(0))
		}
		line, err := adapter.NewMCP2221().GPIOLine(gp)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		level := radio.Low
		if c.Args().Get(1) == "high" || c.Args().Get(1) == "1" {
			level = radio.High
		}
		if err := line.Out(level); err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		console.PInfof(console.PictoPin, "%v %s", line, c.Args().Get(1))
		return nil
	},
}
