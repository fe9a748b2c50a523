package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/adapter"
	"github.com/mklimuk/newjoy/i2c"
	"github.com/mklimuk/newjoy/snsctx"
)

// scanningBus is what the commands need from any of the bus backends.
type scanningBus interface {
	newjoy.I2CBus
	newjoy.Scanner
}

var busFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "adapter",
		Aliases: []string{"a"},
		Value:   "periph",
		Usage:   "bus backend: periph, nanopi or mcp2221",
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"d"},
		Usage:   "periph i2c bus name or number (empty picks the first one)",
	},
	&cli.IntFlag{
		Name:  "i2c-bus",
		Value: 0,
		Usage: "nanopi i2c bus number",
	},
}

func withFlags(flags ...cli.Flag) []cli.Flag {
	return append(append([]cli.Flag{}, busFlags...), flags...)
}

func commandContext(c *cli.Context) context.Context {
	return snsctx.SetVerbose(c.Context, c.Bool("verbose"))
}

// openBus opens the backend selected by --adapter (or name when set) and
// returns it with a closer releasing the underlying hardware.
func openBus(c *cli.Context, name string) (scanningBus, io.Closer, error) {
	if name == "" {
		name = c.String("adapter")
	}
	switch strings.ToLower(name) {
	case "mcp2221":
		// the adapter opens the HID device per report
		return adapter.NewMCP2221(), nil, nil
	case "nanopi":
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return nil, nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		bus := i2c.NewGobotBus(npi, c.Int("i2c-bus"))
		return bus, closerFunc(func() error {
			err := bus.Close()
			if ferr := npi.I2cBusAdaptor.Finalize(); ferr != nil && err == nil {
				err = ferr
			}
			return err
		}), nil
	case "", "periph", "generic":
		bus, err := i2c.NewGenericBus(c.String("device"))
		if err != nil {
			return nil, nil, err
		}
		return bus, bus, nil
	}
	// anything else is taken as a periph bus name, which is how the config
	// file refers to buses
	bus, err := i2c.NewGenericBus(name)
	if err != nil {
		return nil, nil, err
	}
	return bus, bus, nil
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

func closeQuietly(what string, c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		slog.Error("close error", "what", what, "error", err)
	}
}

func parseAddress(s string) (byte, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 1 {
		return 0, fmt.Errorf("invalid address %q: expected one hex byte", s)
	}
	return b[0], nil
}
