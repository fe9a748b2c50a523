// Package buffer holds the shared sample buffer sensor tasks write their
// readings into.
package buffer

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/mklimuk/newjoy"
)

// DefaultSize is the buffer length used by the firmware layout.
const DefaultSize = 128

var (
	ErrOutOfBounds = fmt.Errorf("%w: range outside of buffer", newjoy.ErrConfiguration)
	ErrInvalidSize = fmt.Errorf("%w: buffer size must be positive", newjoy.ErrConfiguration)
)

// Buffer is a fixed length byte buffer. A single Write is never observed
// half applied by Read or Snapshot.
type Buffer struct {
	mx      sync.RWMutex
	data    []byte
	version uint64
}

func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	return &Buffer{data: make([]byte, size)}, nil
}

func (b *Buffer) Size() int {
	return len(b.data)
}

// Version increases by one on every successful Write.
func (b *Buffer) Version() uint64 {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return b.version
}

// Check reports whether [offset, offset+n) lies inside the buffer.
func (b *Buffer) Check(offset, n int) error {
	if offset < 0 || n < 0 || n > len(b.data) || offset > len(b.data)-n {
		return fmt.Errorf("offset %d size %d buffer %d: %w", offset, n, len(b.data), ErrOutOfBounds)
	}
	return nil
}

func (b *Buffer) Write(offset int, data []byte) error {
	if err := b.Check(offset, len(data)); err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	copy(b.data[offset:], data)
	b.version++
	return nil
}

func (b *Buffer) Read(offset, n int) ([]byte, error) {
	if err := b.Check(offset, n); err != nil {
		return nil, err
	}
	b.mx.RLock()
	defer b.mx.RUnlock()
	out := make([]byte, n)
	copy(out, b.data[offset:offset+n])
	return out, nil
}

// Snapshot copies the whole buffer together with the version it reflects.
func (b *Buffer) Snapshot() ([]byte, uint64) {
	b.mx.RLock()
	defer b.mx.RUnlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, b.version
}

// Uint32 decodes a little endian uint32 at offset.
func (b *Buffer) Uint32(offset int) (uint32, error) {
	raw, err := b.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw), nil
}

// Float32s decodes n consecutive little endian float32 values at offset.
func (b *Buffer) Float32s(offset, n int) ([]float32, error) {
	raw, err := b.Read(offset, 4*n)
	if err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out, nil
}
