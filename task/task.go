// Package task binds sensor drivers to the fixed binary records the
// scheduler writes into the sample buffer.
package task

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/mklimuk/newjoy"
)

type Kind int

const (
	BMP280 Kind = iota + 1
	MPU6050
	SHTC3
	HIH6021
	TC74
	BH1750
	BMA220
	AGS02MA
)

var kindNames = map[Kind]string{
	BMP280:  "bmp280",
	MPU6050: "mpu6050",
	SHTC3:   "shtc3",
	HIH6021: "hih6021",
	TC74:    "tc74",
	BH1750:  "bh1750",
	BMA220:  "bma220",
	AGS02MA: "ags02ma",
}

// record sizes in bytes
var kindSizes = map[Kind]int{
	BMP280:  4,
	MPU6050: 24,
	SHTC3:   8,
	HIH6021: 8,
	TC74:    4,
	BH1750:  4,
	BMA220:  4,
	AGS02MA: 4,
}

var ErrUnknownKind = fmt.Errorf("%w: unknown sensor kind", newjoy.ErrConfiguration)

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Size is the length of the record a task of this kind writes.
func (k Kind) Size() int {
	return kindSizes[k]
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Kinds lists every supported kind in declaration order.
func Kinds() []Kind {
	return []Kind{BMP280, MPU6050, SHTC3, HIH6021, TC74, BH1750, BMA220, AGS02MA}
}

func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", name, ErrUnknownKind)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, ErrUnknownKind
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Task polls one sensor and encodes the reading as a little endian record
// of exactly Size bytes.
type Task interface {
	Kind() Kind
	Address() byte
	Size() int
	Poll(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

type base struct {
	kind    Kind
	address byte
}

func (b base) Kind() Kind {
	return b.kind
}

func (b base) Address() byte {
	return b.address
}

func (b base) Size() int {
	return b.kind.Size()
}

func (b base) Close(ctx context.Context) error {
	return nil
}

func putFloats(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func putUint32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// Format renders a record of this kind for humans.
func (k Kind) Format(record []byte) string {
	if len(record) < k.Size() || !k.Valid() {
		return fmt.Sprintf("%v: invalid record % x", k, record)
	}
	u := binary.LittleEndian.Uint32(record)
	f := func(i int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(record[4*i:]))
	}
	switch k {
	case BMP280:
		return fmt.Sprintf("pressure=%d raw", u)
	case MPU6050:
		return fmt.Sprintf("accel=[%.3f %.3f %.3f]g gyro=[%.2f %.2f %.2f]°/s", f(0), f(1), f(2), f(3), f(4), f(5))
	case SHTC3, HIH6021:
		return fmt.Sprintf("temp=%.2f°C hum=%.1f%%", f(0), f(1))
	case TC74:
		return fmt.Sprintf("temp=%.0f°C", f(0))
	case BH1750:
		return fmt.Sprintf("light=%dlx", u)
	case BMA220:
		return fmt.Sprintf("motion=%d", u)
	}
	return fmt.Sprintf("tvoc=%dppb", u)
}
