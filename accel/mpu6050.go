package accel

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/mklimuk/newjoy"
)

const (
	MPU6050DefaultAddress = 0x68
	// MPU6050AltAddress is used when AD0 is pulled high.
	MPU6050AltAddress = 0x69
)

const (
	mpuRegSampleRateDiv = 0x19
	mpuRegConfig        = 0x1A
	mpuRegGyroConfig    = 0x1B
	mpuRegAccelConfig   = 0x1C
	mpuRegAccelXOutH    = 0x3B
	mpuRegPwrMgmt1      = 0x6B
	mpuRegPwrMgmt2      = 0x6C
	mpuRegWhoAmI        = 0x75

	mpuWhoAmI      = 0x68
	mpuWhoAmIClone = 0x72

	mpuClockPLLXGyro = 0x01
	mpuSampleDivider = 0x20
	mpuFullScaleMask = 0b11 << 3
)

type GyroRange byte

const (
	Gyro250 GyroRange = iota
	Gyro500
	Gyro1000
	Gyro2000
)

// LSB per degree per second
func (r GyroRange) scale() float32 {
	return 32768 / float32(int(250)<<r)
}

type AccelRange byte

const (
	Accel2G AccelRange = iota
	Accel4G
	Accel8G
	Accel16G
)

// LSB per g
func (r AccelRange) scale() float32 {
	return 32768 / float32(int(2)<<r)
}

// MPU6050 represents InvenSense MPU-6050 6-axis motion tracking device.
type MPU6050 struct {
	transport newjoy.I2CBus
	address   byte
	gyro      GyroRange
	accel     AccelRange
	buf       []byte
}

type MPU6050Opt func(*MPU6050)

func WithGyroRange(r GyroRange) MPU6050Opt {
	return func(m *MPU6050) {
		m.gyro = r
	}
}

func WithAccelRange(r AccelRange) MPU6050Opt {
	return func(m *MPU6050) {
		m.accel = r
	}
}

func NewMPU6050(trans newjoy.I2CBus, address byte, opts ...MPU6050Opt) *MPU6050 {
	m := &MPU6050{
		transport: trans,
		address:   address,
		gyro:      Gyro1000,
		accel:     Accel4G,
		buf:       make([]byte, 14),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init checks WHO_AM_I (0x68, or 0x72 on some clones), wakes the device on
// the X gyro PLL and configures full scale ranges.
func (m *MPU6050) Init(ctx context.Context) error {
	id, err := newjoy.ReadRegisterByte(ctx, m.transport, m.address, mpuRegWhoAmI)
	if err != nil {
		return fmt.Errorf("mpu6050: read who_am_i: %w: %w", newjoy.ErrDeviceNotFound, err)
	}
	if id != mpuWhoAmI && id != mpuWhoAmIClone {
		return fmt.Errorf("mpu6050: who_am_i 0x%02x: %w", id, newjoy.ErrIdentityMismatch)
	}
	steps := []struct {
		name string
		reg  byte
		val  byte
	}{
		{"pwr_mgmt_1", mpuRegPwrMgmt1, mpuClockPLLXGyro},
		{"pwr_mgmt_2", mpuRegPwrMgmt2, 0},
		{"smplrt_div", mpuRegSampleRateDiv, mpuSampleDivider},
		{"config", mpuRegConfig, 1},
	}
	for _, s := range steps {
		if err = newjoy.WriteRegister(ctx, m.transport, m.address, s.reg, s.val); err != nil {
			return fmt.Errorf("mpu6050: write %s: %w", s.name, err)
		}
	}
	if err = m.setFullScale(ctx, mpuRegGyroConfig, byte(m.gyro)); err != nil {
		return fmt.Errorf("mpu6050: gyro range: %w", err)
	}
	if err = m.setFullScale(ctx, mpuRegAccelConfig, byte(m.accel)); err != nil {
		return fmt.Errorf("mpu6050: accel range: %w", err)
	}
	return nil
}

func (m *MPU6050) setFullScale(ctx context.Context, reg, fs byte) error {
	cur, err := newjoy.ReadRegisterByte(ctx, m.transport, m.address, reg)
	if err != nil {
		return err
	}
	cur = cur&^mpuFullScaleMask | fs<<3
	return newjoy.WriteRegister(ctx, m.transport, m.address, reg, cur)
}

// Motion reads one 14-byte burst and returns acceleration in g and angular
// rate in degrees per second.
func (m *MPU6050) Motion(ctx context.Context) (accel [3]float32, gyro [3]float32, err error) {
	if err = newjoy.ReadRegister(ctx, m.transport, m.address, mpuRegAccelXOutH, m.buf); err != nil {
		return accel, gyro, fmt.Errorf("mpu6050: read burst: %w", err)
	}
	// accel x,y,z | temp | gyro x,y,z, big endian
	for i := range 3 {
		accel[i] = float32(int16(binary.BigEndian.Uint16(m.buf[2*i:]))) / m.accel.scale()
		gyro[i] = float32(int16(binary.BigEndian.Uint16(m.buf[8+2*i:]))) / m.gyro.scale()
	}
	return accel, gyro, nil
}
