package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/newjoy/cmd/newjoy/console"
	"github.com/mklimuk/newjoy/task"
)

var scanCmd = cli.Command{
	Name:  "scan",
	Usage: "list addresses answering on the i2c bus",
	Flags: withFlags(&cli.BoolFlag{
		Name:    "interactive",
		Aliases: []string{"i"},
		Usage:   "pick a found address and poll it as a sensor kind",
	}),
	Action: func(c *cli.Context) error {
		ctx := commandContext(c)
		bus, closer, err := openBus(c, "")
		if err != nil {
			return console.Exit(1, "bus initialization error: %s", console.Red(err))
		}
		defer closeQuietly("bus", closer)
		found, err := bus.Scan(ctx)
		if err != nil {
			return console.Exit(1, "scan error: %s", console.Red(err))
		}
		if len(found) == 0 {
			console.Warn("no device answered")
			return nil
		}
		candidates := make([]string, 0, len(found))
		for _, addr := range found {
			name := fmt.Sprintf("0x%02x", addr)
			candidates = append(candidates, name)
			console.PInfof(console.PictoPin, "%s %s", console.White(name), guess(addr))
		}
		if !c.Bool("interactive") {
			return nil
		}
		picked, err := console.Prompt("address to poll", candidates...)
		if err != nil {
			return console.Exit(1, "prompt error: %s", console.Red(err))
		}
		addr, err := parseAddress(picked)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		kinds := make([]string, 0)
		for _, k := range task.Kinds() {
			if task.DefaultAddress(k) == addr {
				kinds = append(kinds, k.String())
			}
		}
		if len(kinds) == 0 {
			for _, k := range task.Kinds() {
				kinds = append(kinds, k.String())
			}
		}
		picked, err = console.Prompt("sensor kind", kinds...)
		if err != nil {
			return console.Exit(1, "prompt error: %s", console.Red(err))
		}
		kind, err := task.ParseKind(picked)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		return pollOnce(ctx, bus, kind, addr)
	},
}

// guess names the kinds whose factory address matches.
func guess(addr byte) string {
	var names []string
	for _, k := range task.Kinds() {
		if task.DefaultAddress(k) == addr {
			names = append(names, k.String())
		}
	}
	if len(names) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", names)
}
