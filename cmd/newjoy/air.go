package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/newjoy/air"
	"github.com/mklimuk/newjoy/cmd/newjoy/console"
)

var airCmd = cli.Command{
	Name:  "air",
	Usage: "AGS02MA TVOC sensor maintenance",
	Subcommands: []*cli.Command{
		&airReadCmd,
		&airCalibrateCmd,
	},
}

var airAddrFlag = &cli.StringFlag{
	Name:  "addr",
	Value: "1a",
	Usage: "sensor address in hex",
}

func openAir(c *cli.Context) (*air.AGS02MA, func(), error) {
	addr, err := parseAddress(c.String("addr"))
	if err != nil {
		return nil, nil, err
	}
	bus, closer, err := openBus(c, "")
	if err != nil {
		return nil, nil, err
	}
	s := air.NewAGS02MA(bus, addr)
	ctx := commandContext(c)
	return s, func() {
		s.Close(ctx)
		closeQuietly("bus", closer)
	}, nil
}

var airCalibrateCmd = cli.Command{
	Name:  "calibrate",
	Usage: "zero point calibration in clean air",
	Flags: withFlags(airAddrFlag),
	Action: func(c *cli.Context) error {
		s, done, err := openAir(c)
		if err != nil {
			return console.Exit(1, "adapter initialization error: %s", console.Red(err))
		}
		defer done()
		if err := s.Calibrate(commandContext(c)); err != nil {
			return console.Exit(1, "error calibrating: %s", console.Red(err))
		}
		console.Print("calibrated")
		return nil
	},
}

var airReadCmd = cli.Command{
	Name:    "read",
	Aliases: []string{"rd"},
	Usage:   "print version, resistance and TVOC",
	Flags:   withFlags(airAddrFlag),
	Action: func(c *cli.Context) error {
		s, done, err := openAir(c)
		if err != nil {
			return console.Exit(1, "adapter initialization error: %s", console.Red(err))
		}
		defer done()
		ctx := commandContext(c)
		ver, err := s.ReadVersion(ctx)
		if err != nil {
			return console.Exit(1, "error reading version: %s", console.Red(err))
		}
		resistance, err := s.ReadResistance(ctx)
		if err != nil {
			return console.Exit(1, "error reading resistance: %s", console.Red(err))
		}
		console.Printf("version: %d\n", ver)
		console.Printf("resistance: %d\n", resistance)
		ppb, err := s.GetTVOC(ctx)
		if err != nil {
			return console.Exit(1, "error getting TVOC read: %s", console.Red(err))
		}
		console.Printf("%d ppb\n", ppb)
		return nil
	},
}
