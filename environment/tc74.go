package environment

import (
	"context"
	"fmt"

	"github.com/mklimuk/newjoy"
)

const TC74DefaultAddress = 0x4D

const (
	tc74TempRegister   = 0x00
	tc74ConfigRegister = 0x01
	tc74DataReady      = 0x40
)

// TC74 represents a Microchip TC74 Digital Temperature Sensor
// See: https://ww1.microchip.com/downloads/en/DeviceDoc/21462D.pdf
//
// Usage: Instantiate with NewTC74, then call GetTemperature(ctx)
type TC74 struct {
	transport newjoy.I2CBus
	address   byte
	lastTemp  float32
}

type TC74Config struct {
	Address byte
}

type TC74ConfigOption func(*TC74Config)

func WithAddress(address byte) TC74ConfigOption {
	return func(c *TC74Config) {
		c.Address = address
	}
}

// NewTC74 creates a new TC74 sensor connector on the given bus.
// The default address 0x4D is used unless WithAddress is given.
func NewTC74(trans newjoy.I2CBus, opts ...TC74ConfigOption) *TC74 {
	config := &TC74Config{
		Address: TC74DefaultAddress,
	}
	for _, opt := range opts {
		opt(config)
	}
	return &TC74{transport: trans, address: config.Address}
}

// GetConfig reads the configuration register (0x01) and returns its value.
func (sensor *TC74) GetConfig(ctx context.Context) (byte, error) {
	config, err := newjoy.ReadRegisterByte(ctx, sensor.transport, sensor.address, tc74ConfigRegister)
	if err != nil {
		return 0, fmt.Errorf("tc74: %w", err)
	}
	return config, nil
}

// Probe checks the device answers on its configuration register. Only
// bits 7 and 6 are defined there, anything else means another part.
func (sensor *TC74) Probe(ctx context.Context) error {
	config, err := sensor.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", newjoy.ErrDeviceNotFound, err)
	}
	if config&0x3F != 0 {
		return fmt.Errorf("tc74: config 0x%02x: %w", config, newjoy.ErrIdentityMismatch)
	}
	return nil
}

// GetTemperature reads the current temperature in Celsius from the TC74 sensor.
// Until DATA_RDY is set the last known value is returned.
func (sensor *TC74) GetTemperature(ctx context.Context) (float32, error) {
	config, err := sensor.GetConfig(ctx)
	if err != nil {
		return 0, err
	}
	if config&tc74DataReady == 0 {
		return sensor.lastTemp, nil
	}
	temp, err := newjoy.ReadRegisterByte(ctx, sensor.transport, sensor.address, tc74TempRegister)
	if err != nil {
		return 0, fmt.Errorf("tc74: %w", err)
	}
	// two's complement, 1°C per LSB
	sensor.lastTemp = float32(int8(temp))
	return sensor.lastTemp, nil
}
