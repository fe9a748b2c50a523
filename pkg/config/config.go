// Package config loads the YAML configuration of the newjoy tools. Build
// metadata is injected at link time.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/buffer"
	"github.com/mklimuk/newjoy/radio"
	"github.com/mklimuk/newjoy/scheduler"
	"github.com/mklimuk/newjoy/task"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var ErrInvalid = fmt.Errorf("%w: invalid config", newjoy.ErrConfiguration)

type Task struct {
	Kind    task.Kind `yaml:"kind"`
	Address byte      `yaml:"address,omitempty"`
	Offset  int       `yaml:"offset"`
	// Ticks polls the task every n-th sync. Every polls it on a wall clock
	// period instead. Neither means every sync.
	Ticks int           `yaml:"ticks,omitempty"`
	Every time.Duration `yaml:"every,omitempty"`
}

func (t Task) Interval() scheduler.Interval {
	if t.Every > 0 {
		return scheduler.Every(t.Every)
	}
	if t.Ticks > 0 {
		return scheduler.Ticks(t.Ticks)
	}
	return scheduler.Ticks(1)
}

// Addr returns the configured address or the factory default of the kind.
func (t Task) Addr() byte {
	if t.Address != 0 {
		return t.Address
	}
	return task.DefaultAddress(t.Kind)
}

type Radio struct {
	Role         string        `yaml:"role"`
	Own          string        `yaml:"own"`
	Peer         string        `yaml:"peer"`
	Channel      byte          `yaml:"channel"`
	DataRate     string        `yaml:"data_rate"`
	PALevel      string        `yaml:"pa_level"`
	SPI          string        `yaml:"spi"`
	CEPin        string        `yaml:"ce_pin"`
	Retries      int           `yaml:"retries"`
	Backoff      time.Duration `yaml:"backoff"`
	ReplyTimeout time.Duration `yaml:"reply_timeout"`
	Poll         time.Duration `yaml:"poll"`
	// Interval is the spoke request period.
	Interval time.Duration `yaml:"interval"`
}

var (
	dataRates = map[string]radio.DataRate{"1mbps": radio.Rate1Mbps, "2mbps": radio.Rate2Mbps, "250kbps": radio.Rate250Kbps}
	paLevels  = map[string]radio.PALevel{"min": radio.PAMin, "low": radio.PALow, "high": radio.PAHigh, "max": radio.PAMax}
)

func (r Radio) Addresses() (own, peer radio.Address, err error) {
	if own, err = radio.ParseAddress(r.Own); err != nil {
		return own, peer, fmt.Errorf("own address: %w", err)
	}
	if peer, err = radio.ParseAddress(r.Peer); err != nil {
		return own, peer, fmt.Errorf("peer address: %w", err)
	}
	return own, peer, nil
}

// Options translates the radio section into driver options.
func (r Radio) Options() []radio.Option {
	opts := []radio.Option{radio.WithChannel(r.Channel)}
	if rate, ok := dataRates[strings.ToLower(r.DataRate)]; ok {
		opts = append(opts, radio.WithDataRate(rate))
	}
	if pa, ok := paLevels[strings.ToLower(r.PALevel)]; ok {
		opts = append(opts, radio.WithPALevel(pa))
	}
	return opts
}

func (r Radio) validate() error {
	var errs []error
	if r.Role != "hub" && r.Role != "spoke" {
		errs = append(errs, fmt.Errorf("radio role %q must be hub or spoke", r.Role))
	}
	if _, _, err := r.Addresses(); err != nil {
		errs = append(errs, err)
	}
	if r.Channel > radio.MaxChannel {
		errs = append(errs, fmt.Errorf("radio channel %d out of range", r.Channel))
	}
	if _, ok := dataRates[strings.ToLower(r.DataRate)]; r.DataRate != "" && !ok {
		errs = append(errs, fmt.Errorf("unknown data rate %q", r.DataRate))
	}
	if _, ok := paLevels[strings.ToLower(r.PALevel)]; r.PALevel != "" && !ok {
		errs = append(errs, fmt.Errorf("unknown pa level %q", r.PALevel))
	}
	if r.Retries < 0 {
		errs = append(errs, fmt.Errorf("negative retries %d", r.Retries))
	}
	return errors.Join(errs...)
}

type Config struct {
	// Bus is a periph I2C bus name, "nanopi" or "mcp2221".
	Bus        string        `yaml:"bus"`
	BufferSize int           `yaml:"buffer_size"`
	Capacity   int           `yaml:"capacity"`
	Period     time.Duration `yaml:"period"`
	Tasks      []Task        `yaml:"tasks"`
	Radio      *Radio        `yaml:"radio,omitempty"`
}

func Default() Config {
	return Config{
		Bus:        "",
		BufferSize: buffer.DefaultSize,
		Capacity:   scheduler.DefaultCapacity,
		Period:     100 * time.Millisecond,
	}
}

// DefaultRadio is the radio section used when a file leaves it out.
func DefaultRadio(role string) Radio {
	own, peer := "HUB00", "SPK01"
	if role == "spoke" {
		own, peer = peer, own
	}
	return Radio{
		Role:         role,
		Own:          own,
		Peer:         peer,
		Channel:      radio.DefaultConfig().Channel,
		DataRate:     "1mbps",
		PALevel:      "max",
		SPI:          "/dev/spidev0.0",
		CEPin:        "GPIO25",
		Retries:      5,
		Backoff:      2 * time.Millisecond,
		ReplyTimeout: 500 * time.Millisecond,
		Poll:         time.Millisecond,
		Interval:     time.Second,
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	c := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("could not read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate checks the configuration without touching hardware. Overlapping
// task ranges are left to the scheduler.
func (c Config) Validate() error {
	var errs []error
	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer_size %d must be positive", c.BufferSize))
	}
	if c.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("capacity %d must be positive", c.Capacity))
	}
	if c.Period <= 0 {
		errs = append(errs, fmt.Errorf("period %v must be positive", c.Period))
	}
	if len(c.Tasks) > c.Capacity {
		errs = append(errs, fmt.Errorf("%d tasks exceed capacity %d", len(c.Tasks), c.Capacity))
	}
	for i, t := range c.Tasks {
		if !t.Kind.Valid() {
			errs = append(errs, fmt.Errorf("task %d: unknown kind", i))
			continue
		}
		if t.Offset < 0 || t.Offset+t.Kind.Size() > c.BufferSize {
			errs = append(errs, fmt.Errorf("task %d (%v): offset %d out of buffer", i, t.Kind, t.Offset))
		}
		if t.Ticks < 0 || t.Every < 0 || (t.Ticks > 0 && t.Every > 0) {
			errs = append(errs, fmt.Errorf("task %d (%v): set either ticks or every", i, t.Kind))
		}
	}
	if c.Radio != nil {
		if err := c.Radio.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (c Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(out)
}
