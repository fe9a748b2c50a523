package accel

import (
	"context"
	"fmt"

	"github.com/mklimuk/newjoy"
)

const BMA220DefaultAddress = 0x0A

const (
	regChipID        = 0x00
	regRange         = 0x22
	regLatch         = 0x1C
	regSlopeSettings = 0x12
	regSlopeDet      = 0x1A
	regWatchdog      = 0x2E
	regInterrupts    = 0x18

	bma220ChipID = 0xDD
)

// BMA220 represents Bosch BMA220 accelerometer
type BMA220 struct {
	transport newjoy.I2CBus
	address   byte
}

func NewBMA220(trans newjoy.I2CBus, address byte) *BMA220 {
	return &BMA220{transport: trans, address: address}
}

func (b *BMA220) Probe(ctx context.Context) error {
	id, err := newjoy.ReadRegisterByte(ctx, b.transport, b.address, regChipID)
	if err != nil {
		return fmt.Errorf("bma220: read chip id: %w: %w", newjoy.ErrDeviceNotFound, err)
	}
	if id != bma220ChipID {
		return fmt.Errorf("bma220: chip id 0x%02x: %w", id, newjoy.ErrIdentityMismatch)
	}
	return nil
}

/*
en_slope_x (0x1A.5) enable slope detection on x-axis
en_slope_y (0x1A.4) enable slope detection on y-axis
en_slope_z (0x1A.3) enable slope detection on z-axis
slope_th (0x12[5:2]) threshold level of the slope, 1 LSB threshold is 1 LSB of acc_data
slope_dur (0x12[1:0]) number of consecutive slope data points above slope_th required to set the interrupt
slope_filt (0x12.6) filtered or unfiltered acceleration data ('0'=unfiltered, '1'=filtered)
slope_int (0x0C.0) whether slope interrupt has been triggered
*/
func (b *BMA220) InitMotionDetection(ctx context.Context) error {
	steps := []struct {
		what string
		reg  byte
		val  byte
	}{
		{"set detection sensitivity", regRange, 0x03},
		// permanent interrupt latch lat_int[2:0] = 111
		{"set interrupt settings", regLatch, 0b01110000},
		{"enable slope detection", regSlopeDet, 0b00111000},
		// default 0x45
		{"set slope detection settings", regSlopeSettings, 0x45},
		{"set watchdog settings", regWatchdog, 0x06},
	}
	for _, s := range steps {
		if err := newjoy.WriteRegister(ctx, b.transport, b.address, s.reg, s.val); err != nil {
			return fmt.Errorf("bma220: could not %s: %w", s.what, err)
		}
	}
	return nil
}

// CheckMotionInterrupt returns 1 when the latched slope interrupt fired.
func (b *BMA220) CheckMotionInterrupt(ctx context.Context) (uint32, error) {
	v, err := newjoy.ReadRegisterByte(ctx, b.transport, b.address, regInterrupts)
	if err != nil {
		return 0, fmt.Errorf("bma220: %w", err)
	}
	// slope detection is on bit 0
	return uint32(v & 0x01), nil
}

func (b *BMA220) ResetMotionInterrupt(ctx context.Context) error {
	err := newjoy.WriteRegister(ctx, b.transport, b.address, regLatch, 0b11110000)
	if err != nil {
		return fmt.Errorf("bma220: could not reset interrupt latch: %w", err)
	}
	return nil
}
