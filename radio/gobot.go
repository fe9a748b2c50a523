package radio

import (
	"errors"
	"fmt"

	"gobot.io/x/gobot/v2/drivers/spi"
)

// GobotSPI adapts a gobot SPI driver (for example on a NanoPi adaptor) to the
// full duplex SPI interface of the radio.
type GobotSPI struct {
	*spi.Driver
}

// NewGobotSPI binds the radio to a gobot SPI connector in mode 0. The driver
// must be started before the first transfer.
func NewGobotSPI(adaptor spi.Connector, speed int64, opts ...func(spi.Config)) *GobotSPI {
	d := spi.NewDriver(adaptor, "nRF24L01+", opts...)
	d.SetMode(0)
	if speed > 0 {
		d.SetSpeed(speed)
	} else if d.GetSpeedOrDefault(0) == 0 {
		d.SetSpeed(1_000_000)
	}
	return &GobotSPI{Driver: d}
}

type gobotOps interface {
	ReadCommandData(command []byte, data []byte) error
	WriteBytes(data []byte) error
}

// Tx writes w and, when r is set, reads len(w)-1 bytes after the command
// byte. gobot connections do not expose the status byte clocked out with
// the command, so r[0] is always zero.
func (g *GobotSPI) Tx(w, r []byte) error {
	if g == nil || g.Driver == nil {
		return errors.New("gobot spi: driver not initialized")
	}
	if len(w) == 0 {
		return nil
	}
	ops, ok := g.Driver.Connection().(gobotOps)
	if !ok {
		return errors.New("gobot spi: connection does not support command reads")
	}
	if len(r) == 0 {
		return ops.WriteBytes(w)
	}
	if len(r) != len(w) {
		return fmt.Errorf("gobot spi: tx/rx length mismatch: %d != %d", len(w), len(r))
	}
	r[0] = 0
	if len(w) == 1 {
		return ops.WriteBytes(w)
	}
	return ops.ReadCommandData(w[:1], r[1:])
}

// Close halts the gobot driver so that Teardown releases the bus.
func (g *GobotSPI) Close() error {
	return g.Driver.Halt()
}

// DigitalWriter is implemented by gobot adaptors with GPIO output.
type DigitalWriter interface {
	DigitalWrite(pin string, level byte) error
}

// GobotPin drives chip enable through a gobot adaptor pin.
type GobotPin struct {
	Writer DigitalWriter
	Name   string
}

func (p GobotPin) Out(l Level) error {
	var v byte
	if l == High {
		v = 1
	}
	return p.Writer.DigitalWrite(p.Name, v)
}
