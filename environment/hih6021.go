package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mklimuk/newjoy"
)

const HIH6021DefaultAddress = 0x27

var divider = float32(1<<14 - 2)

var ErrStaleData = fmt.Errorf("%w: stale data", newjoy.ErrTransientIO)
var ErrCommandMode = fmt.Errorf("%w: device in command mode", newjoy.ErrDevice)

// HIH6021 represents Honeywell HumidIcon Digital Humidity/Temperature sensor
type HIH6021 struct {
	transport newjoy.I2CBus
	address   byte
	wait      time.Duration
	lastTemp  float32
	lastHum   float32
}

func NewHIH6021(trans newjoy.I2CBus, address byte) *HIH6021 {
	return &HIH6021{transport: trans, address: address, wait: 50 * time.Millisecond}
}

// Probe sends a measurement request, the part has no identity register.
func (sensor *HIH6021) Probe(ctx context.Context) error {
	if err := sensor.transport.WriteToAddr(ctx, sensor.address, []byte{}); err != nil {
		return fmt.Errorf("hih6021: %w: %w", newjoy.ErrDeviceNotFound, err)
	}
	return nil
}

func (sensor *HIH6021) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	err := sensor.measure(ctx)
	return sensor.lastTemp, sensor.lastHum, err
}

func (sensor *HIH6021) measure(ctx context.Context) error {
	err := sensor.transport.WriteToAddr(ctx, sensor.address, []byte{})
	if err != nil {
		return fmt.Errorf("hih6021: could not write measurement request: %w", err)
	}
	// measurement cycle takes typically 36.65ms
	select {
	case <-time.After(sensor.wait):
	case <-ctx.Done():
		return ctx.Err()
	}
	resp := make([]byte, 4)
	err = sensor.transport.ReadFromAddr(ctx, sensor.address, resp)
	if err != nil {
		return fmt.Errorf("hih6021: could not read measurement: %w", err)
	}
	// check the oldest bit
	if resp[0]&0x80 > 0 {
		return ErrCommandMode
	}
	// data has already been fetched since last measurement or the
	// measurement has not completed yet
	if resp[0]&0x40 > 0 {
		return ErrStaleData
	}
	sensor.lastHum = convertHumidity(resp[0:2])
	sensor.lastTemp = convertTemperature(resp[2:4])
	return nil
}

func convertHumidity(resp []byte) float32 {
	hum := float32(binary.BigEndian.Uint16(resp)) / divider * 100
	if hum > 100.00 {
		return 100.00
	}
	return hum
}

func convertTemperature(resp []byte) float32 {
	shift := resp[0] & 0x03
	shift <<= 6
	lsb := (resp[1] >> 2) | shift
	msb := resp[0] >> 2
	return float32(binary.BigEndian.Uint16([]byte{msb, lsb}))/divider*165 - 40
}
