package radio

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// PeriphConfig selects the Linux SPI port and CE line used by Open.
type PeriphConfig struct {
	// SPIPort is a spireg name such as "/dev/spidev0.0" or "SPI0.0".
	SPIPort string
	SPIHz   int64
	// CEPin is a gpioreg name such as "GPIO25".
	CEPin string
	// CE overrides CEPin, for a chip enable wired to an expander.
	CE Pin
}

type periphPin struct {
	gpio.PinIO
}

func (p periphPin) Out(l Level) error {
	if l == High {
		return p.PinIO.Out(gpio.High)
	}
	return p.PinIO.Out(gpio.Low)
}

// PeriphPin returns the gpioreg line as a chip enable pin.
func PeriphPin(name string) (Pin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: gpio %s not found", ErrInvalidConfig, name)
	}
	return periphPin{PinIO: p}, nil
}

// Open initialises periph, connects to the SPI port in mode 0 and returns a
// driver whose Teardown closes the port.
func Open(c PeriphConfig, opts ...Option) (*Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not initialize periph host: %w", err)
	}
	if c.SPIPort == "" {
		c.SPIPort = "/dev/spidev0.0"
	}
	if c.SPIHz == 0 {
		c.SPIHz = 1_000_000
	}
	if c.CEPin == "" {
		c.CEPin = "GPIO25"
	}
	p, err := spireg.Open(c.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("could not open spi port %s: %w", c.SPIPort, err)
	}
	conn, err := p.Connect(physic.Frequency(c.SPIHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("could not connect to spi port %s: %w", c.SPIPort, err)
	}
	ce := c.CE
	if ce == nil {
		if ce, err = PeriphPin(c.CEPin); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	return NewDriver(conn, ce, opts...).WithCloser(p), nil
}
