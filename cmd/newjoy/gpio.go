package main

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/newjoy/cmd/newjoy/console"
	"github.com/mklimuk/newjoy/gpio"
	"github.com/mklimuk/newjoy/radio"
)

var gpioCmd = cli.Command{
	Name:  "gpio",
	Usage: "MCP23017 expander",
	Subcommands: cli.Commands{
		&gpioStatusCmd,
		&gpioReadCmd,
		&gpioConfigureCmd,
		&gpioPullCmd,
		&gpioPinCmd,
	},
}

var gpioFlags = withFlags(&cli.StringFlag{
	Name:  "addr",
	Value: "21",
	Usage: "expander address in hex",
}, &cli.StringFlag{
	Name:  "port",
	Value: "A",
	Usage: "expander port, A or B",
})

// withExpander opens the bus and calls fn with a 5 second deadline.
func withExpander(c *cli.Context, fn func(ctx context.Context, exp *gpio.MCP23017, port gpio.Port) error) error {
	addr, err := parseAddress(c.String("addr"))
	if err != nil {
		return console.Exit(1, "%s", console.Red(err))
	}
	port, _, err := parseExpanderPin(c.String("port") + "0")
	if err != nil {
		return console.Exit(1, "%s", console.Red(err))
	}
	bus, closer, err := openBus(c, "")
	if err != nil {
		return console.Exit(1, "bus initialization error: %s", console.Red(err))
	}
	defer closeQuietly("bus", closer)
	ctx, cancel := context.WithTimeout(commandContext(c), 5*time.Second)
	defer cancel()
	return fn(ctx, gpio.NewMCP23017(bus, addr), port)
}

func byteArg(c *cli.Context) (byte, error) {
	if c.NArg() != 1 {
		return 0, console.Exit(1, "expected 1 argument, got %d", c.NArg())
	}
	data, err := hex.DecodeString(c.Args().Get(0))
	if err != nil || len(data) != 1 {
		return 0, console.Exit(1, "could not decode %q as one hex byte", c.Args().Get(0))
	}
	return data[0], nil
}

var gpioReadCmd = cli.Command{
	Name:  "read",
	Usage: "configure the port as input and read both ports",
	Flags: gpioFlags,
	Action: func(c *cli.Context) error {
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017, port gpio.Port) error {
			if err := exp.Init(ctx, port, 0xFF); err != nil {
				return console.Exit(1, "could not initialize gpio: %v", err)
			}
			values, err := exp.Read(ctx)
			if err != nil {
				return console.Exit(1, "could not read gpio: %v", err)
			}
			console.Printf("I/O A: %#X\n", values[0])
			console.Printf("I/O B: %#X\n", values[1])
			return nil
		})
	},
}

var gpioStatusCmd = cli.Command{
	Name:  "status",
	Usage: "print IOCON",
	Flags: gpioFlags,
	Action: func(c *cli.Context) error {
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017, port gpio.Port) error {
			data, err := exp.ReadSettings(ctx, port)
			if err != nil {
				return console.Exit(1, "could not read settings: %v", err)
			}
			console.Printf("IOCON %v: %#X\n", port, data)
			return nil
		})
	},
}

var gpioConfigureCmd = cli.Command{
	Name:      "configure",
	Usage:     "write IOCON",
	ArgsUsage: "<hex byte>",
	Flags:     gpioFlags,
	Action: func(c *cli.Context) error {
		data, err := byteArg(c)
		if err != nil {
			return err
		}
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017, port gpio.Port) error {
			if err := exp.WriteSettings(ctx, port, data); err != nil {
				return console.Exit(1, "could not write settings: %v", err)
			}
			console.Printf("wrote IOCON %v: %#X\n", port, data)
			return nil
		})
	},
}

var gpioPullCmd = cli.Command{
	Name:      "pull",
	Usage:     "write GPPU",
	ArgsUsage: "<hex byte>",
	Flags:     gpioFlags,
	Action: func(c *cli.Context) error {
		data, err := byteArg(c)
		if err != nil {
			return err
		}
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017, port gpio.Port) error {
			if err := exp.PullUp(ctx, port, data); err != nil {
				return console.Exit(1, "could not write pull up settings: %v", err)
			}
			console.Printf("wrote GPPU %v: %#X\n", port, data)
			return nil
		})
	},
}

var gpioPinCmd = cli.Command{
	Name:      "pin",
	Usage:     "drive one output, for example to check a radio chip enable line",
	ArgsUsage: "<bit 0-7> <high|low>",
	Flags:     gpioFlags,
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return console.Exit(1, "expected 2 arguments, got %d", c.NArg())
		}
		var level radio.Level
		switch c.Args().Get(1) {
		case "high", "1":
			level = radio.High
		case "low", "0":
			level = radio.Low
		default:
			return console.Exit(1, "unknown level %q", c.Args().Get(1))
		}
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017, port gpio.Port) error {
			_, bit, err := parseExpanderPin(port.String() + c.Args().Get(0))
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			pin, err := exp.Pin(ctx, port, bit)
			if err != nil {
				return console.Exit(1, "could not configure pin: %v", err)
			}
			if err := pin.Out(level); err != nil {
				return console.Exit(1, "could not drive %v: %v", pin, err)
			}
			console.PInfof(console.PictoPin, "%v %s", pin, c.Args().Get(1))
			return nil
		})
	},
}
