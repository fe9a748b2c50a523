package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mklimuk/newjoy"
)

const BH1750AddrHigh = 0b1011100
const BH1750AddrLow = 0b0100011

const (
	opCodePowerOn             = 0b00000001
	opCodeSingleLowResolution = 0b00100011
)

type BH1750 struct {
	transport newjoy.I2CBus
	addr      byte
	wait      time.Duration
	buf       []byte
}

func NewBH1750(transport newjoy.I2CBus, addr byte) *BH1750 {
	return &BH1750{
		addr:      addr,
		transport: transport,
		wait:      25 * time.Millisecond,
		buf:       make([]byte, 2),
	}
}

// PowerOn doubles as presence check, the part has no identity register.
func (sensor *BH1750) PowerOn(ctx context.Context) error {
	err := sensor.transport.WriteToAddr(ctx, sensor.addr, []byte{opCodePowerOn})
	if err != nil {
		return fmt.Errorf("bh1750: power on: %w: %w", newjoy.ErrDeviceNotFound, err)
	}
	return nil
}

func (sensor *BH1750) GetLux(ctx context.Context) (uint32, error) {
	err := sensor.transport.WriteToAddr(ctx, sensor.addr, []byte{opCodeSingleLowResolution})
	if err != nil {
		return 0, fmt.Errorf("bh1750: could not write command: %w", err)
	}
	// measurement cycle takes typically 16ms, max time is 24ms
	select {
	case <-time.After(sensor.wait):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	err = sensor.transport.ReadFromAddr(ctx, sensor.addr, sensor.buf)
	if err != nil {
		return 0, fmt.Errorf("bh1750: could not read data: %w", err)
	}
	// lux = counts / 1.2, kept in integers so exact multiples do not round down
	return uint32(binary.BigEndian.Uint16(sensor.buf)) * 5 / 6, nil
}
