// Package link runs the hub/spoke request-response exchange on top of a
// radio driver. Messages larger than one hardware frame are split into
// chunks of the form index(1) | total(2, little endian) | data.
package link

import (
	"encoding/binary"
	"fmt"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/radio"
)

const (
	headerSize     = 3
	ChunkSize      = radio.MaxPayloadSize - headerSize
	MaxChunks      = 256
	MaxMessageSize = MaxChunks * ChunkSize
)

var (
	Ping = []byte("PING")
	Pong = []byte("PONG")
)

var (
	ErrEmptyMessage    = fmt.Errorf("%w: empty message", newjoy.ErrConfiguration)
	ErrMessageTooLarge = fmt.Errorf("%w: message exceeds %d bytes", newjoy.ErrConfiguration, MaxMessageSize)
	ErrMalformedFrame  = fmt.Errorf("%w: malformed frame", newjoy.ErrProtocolViolation)
	ErrUnexpectedChunk = fmt.Errorf("%w: unexpected chunk", newjoy.ErrProtocolViolation)
)

// Split cuts msg into hardware frames.
func Split(msg []byte) ([][]byte, error) {
	if len(msg) == 0 {
		return nil, ErrEmptyMessage
	}
	if len(msg) > MaxMessageSize {
		return nil, fmt.Errorf("%w: got %d", ErrMessageTooLarge, len(msg))
	}
	frames := make([][]byte, 0, (len(msg)+ChunkSize-1)/ChunkSize)
	for i := 0; i*ChunkSize < len(msg); i++ {
		data := msg[i*ChunkSize : min((i+1)*ChunkSize, len(msg))]
		f := make([]byte, headerSize+len(data))
		f[0] = byte(i)
		binary.LittleEndian.PutUint16(f[1:], uint16(len(msg)))
		copy(f[headerSize:], data)
		frames = append(frames, f)
	}
	return frames, nil
}

// Reassembler collects chunks of one message at a time.
type Reassembler struct {
	buf    []byte
	total  int
	next   int
	active bool
	// Discarded counts partial messages dropped before completion.
	Discarded int
}

// Push adds a frame. It returns the message once its last chunk arrives.
// A frame with index 0 always starts a new message; any other mismatch
// drops the partial message and returns an error.
func (r *Reassembler) Push(frame []byte) ([]byte, bool, error) {
	if len(frame) <= headerSize {
		r.drop()
		return nil, false, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(frame))
	}
	index := int(frame[0])
	total := int(binary.LittleEndian.Uint16(frame[1:]))
	data := frame[headerSize:]
	if total == 0 || total > MaxMessageSize {
		r.drop()
		return nil, false, fmt.Errorf("%w: total length %d", ErrMalformedFrame, total)
	}
	if index == 0 {
		r.drop()
		r.active = true
		r.total = total
		r.buf = make([]byte, 0, total)
	} else if !r.active || index != r.next || total != r.total {
		expected, length := r.next, r.total
		r.drop()
		return nil, false, fmt.Errorf("%w: index %d total %d, expected index %d total %d", ErrUnexpectedChunk, index, total, expected, length)
	}
	if want := min(ChunkSize, r.total-len(r.buf)); len(data) != want {
		r.drop()
		return nil, false, fmt.Errorf("%w: chunk %d carries %d bytes, expected %d", ErrMalformedFrame, index, len(data), want)
	}
	r.buf = append(r.buf, data...)
	r.next++
	if len(r.buf) < r.total {
		return nil, false, nil
	}
	msg := r.buf
	r.reset()
	return msg, true, nil
}

// Pending reports a partially received message.
func (r *Reassembler) Pending() bool {
	return r.active
}

func (r *Reassembler) drop() {
	if r.active {
		r.Discarded++
	}
	r.reset()
}

func (r *Reassembler) reset() {
	r.buf = nil
	r.total = 0
	r.next = 0
	r.active = false
}
