package main

import (
	"context"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/cmd/newjoy/console"
	"github.com/mklimuk/newjoy/task"
)

var readCmd = cli.Command{
	Name:    "read",
	Aliases: []string{"rd"},
	Usage:   "poll a sensor once and print the decoded record",
	Flags: withFlags(
		&cli.StringFlag{
			Name:     "kind",
			Aliases:  []string{"k"},
			Required: true,
			Usage:    "sensor kind, one of " + kindList(),
		},
		&cli.StringFlag{
			Name:  "addr",
			Usage: "device address in hex (defaults to the kind's factory address)",
		},
	),
	Action: func(c *cli.Context) error {
		kind, err := task.ParseKind(c.String("kind"))
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		addr := task.DefaultAddress(kind)
		if c.String("addr") != "" {
			if addr, err = parseAddress(c.String("addr")); err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
		}
		bus, closer, err := openBus(c, "")
		if err != nil {
			return console.Exit(1, "bus initialization error: %s", console.Red(err))
		}
		defer closeQuietly("bus", closer)
		return pollOnce(commandContext(c), bus, kind, addr)
	},
}

func pollOnce(ctx context.Context, bus newjoy.I2CBus, kind task.Kind, addr byte) error {
	t, err := task.New(ctx, kind, bus, addr)
	if err != nil {
		return console.Exit(1, "sensor initialization error: %s", console.Red(err))
	}
	defer func() {
		if err := t.Close(ctx); err != nil {
			console.Errorf("error closing %v: %s", kind, err)
		}
	}()
	record, err := t.Poll(ctx)
	if err != nil {
		return console.Exit(1, "poll error: %s", console.Red(err))
	}
	console.PInfof(console.PictoThermometer, "%v@0x%02x %s", console.White(kind), addr, kind.Format(record))
	return nil
}

func kindList() string {
	names := make([]string, 0, len(task.Kinds()))
	for _, k := range task.Kinds() {
		names = append(names, k.String())
	}
	return strings.Join(names, ", ")
}
