package task

import (
	"context"
	"fmt"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/accel"
	"github.com/mklimuk/newjoy/air"
	"github.com/mklimuk/newjoy/environment"
)

type options struct {
	bmp280  []environment.BMP280Opt
	mpu6050 []accel.MPU6050Opt
	ags02ma []air.AGS02MAOpt
}

type Option func(*options)

func WithBMP280(opts ...environment.BMP280Opt) Option {
	return func(o *options) {
		o.bmp280 = append(o.bmp280, opts...)
	}
}

func WithMPU6050(opts ...accel.MPU6050Opt) Option {
	return func(o *options) {
		o.mpu6050 = append(o.mpu6050, opts...)
	}
}

func WithAGS02MA(opts ...air.AGS02MAOpt) Option {
	return func(o *options) {
		o.ags02ma = append(o.ags02ma, opts...)
	}
}

// DefaultAddress returns the factory address of the given kind.
func DefaultAddress(kind Kind) byte {
	switch kind {
	case BMP280:
		return environment.BMP280DefaultAddress
	case MPU6050:
		return accel.MPU6050DefaultAddress
	case SHTC3:
		return environment.SHTC3Address
	case HIH6021:
		return environment.HIH6021DefaultAddress
	case TC74:
		return environment.TC74DefaultAddress
	case BH1750:
		return environment.BH1750AddrLow
	case BMA220:
		return accel.BMA220DefaultAddress
	case AGS02MA:
		return air.AGS02MADefaultAddress
	}
	return 0
}

// New builds the task for kind and runs its one-time presence and identity
// check. A device that is absent or identifies as another part fails here.
func New(ctx context.Context, kind Kind, bus newjoy.I2CBus, address byte, opts ...Option) (Task, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%v: %w", kind, ErrUnknownKind)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	b := base{kind: kind, address: address}
	var t interface {
		Task
		probe(ctx context.Context) error
	}
	switch kind {
	case BMP280:
		t = &bmp280Task{base: b, dev: environment.NewBMP280(bus, address, o.bmp280...)}
	case MPU6050:
		t = &mpu6050Task{base: b, dev: accel.NewMPU6050(bus, address, o.mpu6050...)}
	case SHTC3:
		t = &shtc3Task{base: b, dev: environment.NewSHTC3(bus, address)}
	case HIH6021:
		t = &hih6021Task{base: b, dev: environment.NewHIH6021(bus, address)}
	case TC74:
		t = &tc74Task{base: b, dev: environment.NewTC74(bus, environment.WithAddress(address))}
	case BH1750:
		t = &bh1750Task{base: b, dev: environment.NewBH1750(bus, address)}
	case BMA220:
		t = &bma220Task{base: b, dev: accel.NewBMA220(bus, address)}
	case AGS02MA:
		t = &ags02maTask{base: b, dev: air.NewAGS02MA(bus, address, o.ags02ma...)}
	}
	if err := t.probe(ctx); err != nil {
		return nil, fmt.Errorf("%v@0x%02x: %w", kind, address, err)
	}
	return t, nil
}

type bmp280Task struct {
	base
	dev *environment.BMP280
}

func (t *bmp280Task) probe(ctx context.Context) error {
	return t.dev.Init(ctx)
}

// Poll returns the 16 most significant pressure bits as uint32, the
// remaining bytes stay zero for alignment.
func (t *bmp280Task) Poll(ctx context.Context) ([]byte, error) {
	p, err := t.dev.RawPressure(ctx)
	if err != nil {
		return nil, err
	}
	return putUint32(uint32(p)), nil
}

type mpu6050Task struct {
	base
	dev *accel.MPU6050
}

func (t *mpu6050Task) probe(ctx context.Context) error {
	return t.dev.Init(ctx)
}

// Poll returns acceleration x,y,z in g followed by angular rate x,y,z in °/s.
func (t *mpu6050Task) Poll(ctx context.Context) ([]byte, error) {
	a, g, err := t.dev.Motion(ctx)
	if err != nil {
		return nil, err
	}
	return putFloats(a[0], a[1], a[2], g[0], g[1], g[2]), nil
}

type shtc3Task struct {
	base
	dev *environment.SHTC3
}

func (t *shtc3Task) probe(ctx context.Context) error {
	return t.dev.Probe(ctx)
}

func (t *shtc3Task) Poll(ctx context.Context) ([]byte, error) {
	temp, hum, err := t.dev.GetTempAndHum(ctx)
	if err != nil {
		return nil, err
	}
	return putFloats(temp, hum), nil
}

type hih6021Task struct {
	base
	dev *environment.HIH6021
}

func (t *hih6021Task) probe(ctx context.Context) error {
	return t.dev.Probe(ctx)
}

func (t *hih6021Task) Poll(ctx context.Context) ([]byte, error) {
	temp, hum, err := t.dev.GetTempAndHum(ctx)
	if err != nil {
		return nil, err
	}
	return putFloats(temp, hum), nil
}

type tc74Task struct {
	base
	dev *environment.TC74
}

func (t *tc74Task) probe(ctx context.Context) error {
	return t.dev.Probe(ctx)
}

func (t *tc74Task) Poll(ctx context.Context) ([]byte, error) {
	temp, err := t.dev.GetTemperature(ctx)
	if err != nil {
		return nil, err
	}
	return putFloats(temp), nil
}

type bh1750Task struct {
	base
	dev *environment.BH1750
}

func (t *bh1750Task) probe(ctx context.Context) error {
	return t.dev.PowerOn(ctx)
}

func (t *bh1750Task) Poll(ctx context.Context) ([]byte, error) {
	lux, err := t.dev.GetLux(ctx)
	if err != nil {
		return nil, err
	}
	return putUint32(lux), nil
}

type bma220Task struct {
	base
	dev *accel.BMA220
}

func (t *bma220Task) probe(ctx context.Context) error {
	if err := t.dev.Probe(ctx); err != nil {
		return err
	}
	return t.dev.InitMotionDetection(ctx)
}

// Poll reports the latched motion flag and re-arms the latch once read.
func (t *bma220Task) Poll(ctx context.Context) ([]byte, error) {
	motion, err := t.dev.CheckMotionInterrupt(ctx)
	if err != nil {
		return nil, err
	}
	if motion != 0 {
		if err = t.dev.ResetMotionInterrupt(ctx); err != nil {
			return nil, err
		}
	}
	return putUint32(motion), nil
}

type ags02maTask struct {
	base
	dev *air.AGS02MA
}

func (t *ags02maTask) probe(ctx context.Context) error {
	if _, err := t.dev.ReadVersion(ctx); err != nil {
		return fmt.Errorf("%w: %w", newjoy.ErrDeviceNotFound, err)
	}
	return nil
}

// Poll never waits for the sensor rest period, a poll inside it fails with
// air.ErrNotReady and the record keeps its previous value.
func (t *ags02maTask) Poll(ctx context.Context) ([]byte, error) {
	if !t.dev.Ready() {
		return nil, air.ErrNotReady
	}
	ppb, err := t.dev.GetTVOC(ctx)
	if err != nil {
		return nil, err
	}
	return putUint32(ppb), nil
}

func (t *ags02maTask) Close(ctx context.Context) error {
	t.dev.Close(ctx)
	return nil
}
