package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/drivers/spi"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/buffer"
	"github.com/mklimuk/newjoy/cmd/newjoy/console"
	"github.com/mklimuk/newjoy/gpio"
	"github.com/mklimuk/newjoy/link"
	"github.com/mklimuk/newjoy/pkg/config"
	"github.com/mklimuk/newjoy/radio"
	"github.com/mklimuk/newjoy/snsctx"
)

var radioFlags = withFlags(
	configFlag,
	&cli.StringFlag{
		Name:  "radio",
		Value: "periph",
		Usage: "radio backend: periph or nanopi",
	},
	&cli.IntFlag{
		Name:  "spi-bus",
		Usage: "nanopi spi bus number",
	},
	&cli.IntFlag{
		Name:  "spi-chip",
		Usage: "nanopi spi chip select",
	},
	&cli.StringFlag{
		Name:  "ce-expander",
		Usage: "drive chip enable through an MCP23017 at this hex address; ce_pin is then a port and bit such as A3",
	},
	&cli.DurationFlag{
		Name:  "stats",
		Value: 10 * time.Second,
		Usage: "statistics dump period",
	},
)

var radioCmd = cli.Command{
	Name:  "radio",
	Usage: "run one end of the nRF24 link",
	Subcommands: cli.Commands{
		&radioHubCmd,
		&radioSpokeCmd,
	},
}

var radioHubCmd = cli.Command{
	Name:  "hub",
	Usage: "answer spoke requests, with the sample buffer when tasks are configured",
	Flags: radioFlags,
	Action: func(c *cli.Context) error {
		conf, r, err := loadRadioConfig(c, "hub")
		if err != nil {
			return console.Exit(1, "config error: %s", console.Red(err))
		}
		ctx, stop := signal.NotifyContext(commandContext(c), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var bus newjoy.I2CBus
		if len(conf.Tasks) > 0 || c.String("ce-expander") != "" {
			b, closer, err := openBus(c, conf.Bus)
			if err != nil {
				return console.Exit(1, "bus initialization error: %s", console.Red(err))
			}
			defer closeQuietly("bus", closer)
			bus = b
		}

		opts := sessionOptions(r)
		if len(conf.Tasks) > 0 {
			buf, sched, err := buildScheduler(ctx, conf, bus)
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			defer func() { _ = sched.Deinit(context.Background()) }()
			go func() {
				if err := sched.Run(ctx, conf.Period); err != nil {
					console.Errorf("scheduler stopped: %s", err)
				}
			}()
			opts = append(opts, link.WithResponder(snapshotResponder(buf)))
		}

		drv, err := openRadio(ctx, c, r, bus)
		if err != nil {
			return console.Exit(1, "radio initialization error: %s", console.Red(err))
		}
		own, peer, _ := r.Addresses()
		hub := link.NewHub(drv, peer, opts...)
		defer closeQuietly("hub", hub)
		if err := hub.Open(ctx, own); err != nil {
			return console.Exit(1, "link error: %s", console.Red(err))
		}
		console.PInfof(console.PictoAntenna, "%s listening on %s", console.White(drv), own)
		go dumpLinkStats(ctx, hub, drv, c.Duration("stats"))
		if err := hub.Run(ctx); err != nil {
			return console.Exit(1, "hub error: %s", console.Red(err))
		}
		printLinkStats(hub, drv)
		return nil
	},
}

var radioSpokeCmd = cli.Command{
	Name:  "spoke",
	Usage: "periodically request data from the hub",
	Flags: radioFlags,
	Action: func(c *cli.Context) error {
		conf, r, err := loadRadioConfig(c, "spoke")
		if err != nil {
			return console.Exit(1, "config error: %s", console.Red(err))
		}
		ctx, stop := signal.NotifyContext(commandContext(c), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var bus newjoy.I2CBus
		if c.String("ce-expander") != "" {
			b, closer, err := openBus(c, conf.Bus)
			if err != nil {
				return console.Exit(1, "bus initialization error: %s", console.Red(err))
			}
			defer closeQuietly("bus", closer)
			bus = b
		}
		drv, err := openRadio(ctx, c, r, bus)
		if err != nil {
			return console.Exit(1, "radio initialization error: %s", console.Red(err))
		}
		own, peer, _ := r.Addresses()
		spoke := link.NewSpoke(drv, peer, sessionOptions(r)...)
		defer closeQuietly("spoke", spoke)
		if err := spoke.Open(ctx, own); err != nil {
			return console.Exit(1, "link error: %s", console.Red(err))
		}
		console.PInfof(console.PictoAntenna, "%s requesting from %s", console.White(drv), peer)

		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		dump := time.NewTicker(c.Duration("stats"))
		defer dump.Stop()
		for {
			select {
			case <-ctx.Done():
				printLinkStats(spoke, drv)
				return nil
			case <-dump.C:
				printLinkStats(spoke, drv)
			case <-ticker.C:
				reply, err := spoke.Exchange(ctx, link.Ping)
				if err != nil {
					if ctx.Err() != nil {
						continue
					}
					console.Warnf("exchange failed: %s", err)
					continue
				}
				printReply(ctx, conf, reply)
			}
		}
	},
}

func loadRadioConfig(c *cli.Context, role string) (config.Config, config.Radio, error) {
	conf, err := config.Load(c.String("config"))
	if err != nil {
		return conf, config.Radio{}, err
	}
	r := config.DefaultRadio(role)
	if conf.Radio != nil {
		r = *conf.Radio
	}
	if r.Role != role {
		return conf, r, fmt.Errorf("%w: config is for a %s, not a %s", config.ErrInvalid, r.Role, role)
	}
	if r.Interval <= 0 {
		r.Interval = time.Second
	}
	return conf, r, nil
}

func sessionOptions(r config.Radio) []link.Option {
	opts := []link.Option{link.WithRetries(r.Retries, r.Backoff)}
	if r.ReplyTimeout > 0 {
		opts = append(opts, link.WithReplyTimeout(r.ReplyTimeout))
	}
	if r.Poll > 0 {
		opts = append(opts, link.WithPollInterval(r.Poll))
	}
	return opts
}

// snapshotResponder answers every request with the current sample buffer.
func snapshotResponder(buf *buffer.Buffer) link.Responder {
	return func(ctx context.Context, request []byte) ([]byte, error) {
		data, _ := buf.Snapshot()
		return data, nil
	}
}

// openRadio builds the driver for the selected backend. The chip enable
// line comes from the host GPIOs unless --ce-expander moves it to an
// MCP23017 on bus.
func openRadio(ctx context.Context, c *cli.Context, r config.Radio, bus newjoy.I2CBus) (*radio.Driver, error) {
	var ce radio.Pin
	if addr := c.String("ce-expander"); addr != "" {
		if bus == nil {
			return nil, fmt.Errorf("%w: no i2c bus for the expander", radio.ErrInvalidConfig)
		}
		a, err := parseAddress(addr)
		if err != nil {
			return nil, err
		}
		port, bit, err := parseExpanderPin(r.CEPin)
		if err != nil {
			return nil, err
		}
		pin, err := gpio.NewMCP23017(bus, a).Pin(ctx, port, bit)
		if err != nil {
			return nil, err
		}
		ce = pin
	}
	switch c.String("radio") {
	case "nanopi":
		npi := nanopi.NewNeoAdaptor()
		if err := npi.Connect(); err != nil {
			return nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		dev := radio.NewGobotSPI(npi, 0, spi.WithBusNumber(c.Int("spi-bus")), spi.WithChipNumber(c.Int("spi-chip")))
		if err := dev.Start(); err != nil {
			_ = npi.Finalize()
			return nil, fmt.Errorf("spi start error: %w", err)
		}
		if ce == nil {
			ce = radio.GobotPin{Writer: npi, Name: r.CEPin}
		}
		closer := closerFunc(func() error {
			err := dev.Close()
			if ferr := npi.Finalize(); ferr != nil && err == nil {
				err = ferr
			}
			return err
		})
		return radio.NewDriver(dev, ce, r.Options()...).WithCloser(closer), nil
	case "periph", "":
		return radio.Open(radio.PeriphConfig{SPIPort: r.SPI, CEPin: r.CEPin, CE: ce}, r.Options()...)
	}
	return nil, fmt.Errorf("%w: unknown radio backend %q", radio.ErrInvalidConfig, c.String("radio"))
}

// parseExpanderPin reads a pin name such as "A3" or "b7".
func parseExpanderPin(name string) (gpio.Port, int, error) {
	if len(name) < 2 {
		return 0, 0, fmt.Errorf("%w: expander pin %q", gpio.ErrInvalidPin, name)
	}
	var port gpio.Port
	switch strings.ToUpper(name[:1]) {
	case "A":
		port = gpio.PortA
	case "B":
		port = gpio.PortB
	default:
		return 0, 0, fmt.Errorf("%w: expander pin %q", gpio.ErrInvalidPin, name)
	}
	bit, err := strconv.Atoi(name[1:])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: expander pin %q", gpio.ErrInvalidPin, name)
	}
	return port, bit, nil
}

type linkReport struct {
	Link  link.Stats  `yaml:"link"`
	Radio radio.Stats `yaml:"radio"`
}

func printLinkStats(s *link.Session, drv *radio.Driver) {
	printYAML(linkReport{Link: s.Stats(), Radio: drv.Stats()})
}

func dumpLinkStats(ctx context.Context, s *link.Session, drv *radio.Driver, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printLinkStats(s, drv)
		}
	}
}

// printReply decodes the reply with the local task layout when there is
// one, which is the case when both ends share a config file.
func printReply(ctx context.Context, conf config.Config, reply []byte) {
	if snsctx.IsVerbose(ctx) {
		console.Print(hex.Dump(reply))
	}
	if len(conf.Tasks) == 0 {
		console.PInfof(console.PictoAntenna, "%q", reply)
		return
	}
	for _, t := range conf.Tasks {
		end := t.Offset + t.Kind.Size()
		if end > len(reply) {
			console.Warnf("%v: reply too short (%d bytes)", t.Kind, len(reply))
			continue
		}
		console.Printf("%-8s %s\n", t.Kind, t.Kind.Format(reply[t.Offset:end]))
	}
}
