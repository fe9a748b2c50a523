// Package radio drives an nRF24L01+ transceiver over SPI with a separate
// chip-enable line. The driver never sleeps for the chip's settling windows;
// ListenSettle and SwitchSettle are exported so callers can honour them.
package radio

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/mklimuk/newjoy"
)

const (
	MaxPayloadSize = 32
	PipeCount      = 6
	AddressLength  = 5
	MaxChannel     = 125

	// ListenSettle is the time the receiver needs after StartListening
	// before it can report incoming frames.
	ListenSettle = 130 * time.Microsecond
	// SwitchSettle is the time a node needs after turning from transmitter
	// to receiver before the peer may send it anything.
	SwitchSettle = 630 * time.Microsecond
)

var (
	ErrInvalidConfig         = fmt.Errorf("%w: invalid radio configuration", newjoy.ErrConfiguration)
	ErrInvalidPipeIndex      = fmt.Errorf("%w: invalid pipe index", newjoy.ErrConfiguration)
	ErrInvalidAddressLength  = fmt.Errorf("%w: invalid address length", newjoy.ErrConfiguration)
	ErrPayloadSize           = fmt.Errorf("%w: payload must be 1 to 32 bytes", newjoy.ErrConfiguration)
	ErrNotSetup              = fmt.Errorf("%w: radio not set up", newjoy.ErrConfiguration)
	ErrListening             = fmt.Errorf("%w: radio is listening", newjoy.ErrConfiguration)
	ErrHardwareNotResponding = fmt.Errorf("%w: radio not responding", newjoy.ErrDevice)
	ErrEmpty                 = fmt.Errorf("%w: no frame available", newjoy.ErrTransientIO)
	ErrCorruptPayload        = fmt.Errorf("%w: corrupt payload width", newjoy.ErrTransientIO)
	ErrSPI                   = fmt.Errorf("%w: spi transfer failed", newjoy.ErrTransientIO)
)

// SPI is a full duplex transfer. r may be nil for write-only transfers;
// otherwise it has the same length as w.
type SPI interface {
	Tx(w, r []byte) error
}

type Level bool

const (
	Low  Level = false
	High Level = true
)

// Pin is an output line, used for chip enable.
type Pin interface {
	Out(l Level) error
}

// Address is a pipe address in on-air byte order (LSB first).
type Address [AddressLength]byte

// ParseAddress accepts either 10 hex digits or 5 printable characters.
func ParseAddress(s string) (Address, error) {
	var a Address
	switch len(s) {
	case 2 * AddressLength:
		b, err := hex.DecodeString(s)
		if err != nil {
			return a, fmt.Errorf("%w: %q: %w", ErrInvalidAddressLength, s, err)
		}
		copy(a[:], b)
	case AddressLength:
		copy(a[:], s)
	default:
		return a, fmt.Errorf("%w: %q", ErrInvalidAddressLength, s)
	}
	return a, nil
}

func (a Address) String() string {
	return strings.ToUpper(hex.EncodeToString(a[:]))
}

type Mode int

const (
	Idle Mode = iota
	Listening
	Transmitting
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Transmitting:
		return "transmitting"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// StatusCode is the outcome of the last radio operation.
type StatusCode int

const (
	StatusUnknown StatusCode = iota
	TransmitOk
	MaxRetransmits
	ReceivedDataReady
	Timeout
)

func (s StatusCode) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case TransmitOk:
		return "tx ok"
	case MaxRetransmits:
		return "max retransmits"
	case ReceivedDataReady:
		return "rx ready"
	case Timeout:
		return "timeout"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type DataRate byte

const (
	Rate1Mbps DataRate = iota
	Rate2Mbps
	Rate250Kbps
)

func (r DataRate) bits() byte {
	switch r {
	case Rate2Mbps:
		return rfDrHigh
	case Rate250Kbps:
		return rfDrLow
	}
	return 0
}

func (r DataRate) String() string {
	switch r {
	case Rate1Mbps:
		return "1Mbps"
	case Rate2Mbps:
		return "2Mbps"
	case Rate250Kbps:
		return "250Kbps"
	}
	return fmt.Sprintf("rate(%d)", byte(r))
}

// PALevel is the transmit power, from -18 dBm (PAMin) to 0 dBm (PAMax).
type PALevel byte

const (
	PAMin PALevel = iota
	PALow
	PAHigh
	PAMax
)

type CRCLength byte

const (
	CRC8 CRCLength = iota + 1
	CRC16
)

// Config holds the radio parameters applied by Setup.
type Config struct {
	Channel         byte
	DataRate        DataRate
	PALevel         PALevel
	CRCLength       CRCLength
	RetransmitDelay time.Duration
	RetransmitCount byte
	// SendTimeout bounds a single Send. Zero derives it from the
	// retransmission settings.
	SendTimeout  time.Duration
	PowerUpDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Channel:         76,
		DataRate:        Rate1Mbps,
		PALevel:         PAMax,
		CRCLength:       CRC16,
		RetransmitDelay: 1500 * time.Microsecond,
		RetransmitCount: 15,
		PowerUpDelay:    5 * time.Millisecond,
	}
}

func (c Config) validate() error {
	if c.Channel > MaxChannel {
		return fmt.Errorf("%w: channel %d out of range 0-%d", ErrInvalidConfig, c.Channel, MaxChannel)
	}
	if c.DataRate > Rate250Kbps {
		return fmt.Errorf("%w: data rate %d", ErrInvalidConfig, c.DataRate)
	}
	if c.PALevel > PAMax {
		return fmt.Errorf("%w: pa level %d", ErrInvalidConfig, c.PALevel)
	}
	if c.CRCLength != CRC8 && c.CRCLength != CRC16 {
		return fmt.Errorf("%w: crc length %d", ErrInvalidConfig, c.CRCLength)
	}
	if c.RetransmitDelay < 250*time.Microsecond || c.RetransmitDelay > 4000*time.Microsecond {
		return fmt.Errorf("%w: retransmit delay %v out of range 250us-4ms", ErrInvalidConfig, c.RetransmitDelay)
	}
	if c.RetransmitCount > 15 {
		return fmt.Errorf("%w: retransmit count %d exceeds 15", ErrInvalidConfig, c.RetransmitCount)
	}
	return nil
}

func (c Config) setupRetr() byte {
	return byte(c.RetransmitDelay/(250*time.Microsecond)-1)<<4 | c.RetransmitCount
}

func (c Config) rfSetup() byte {
	return c.DataRate.bits() | byte(c.PALevel)<<1
}

func (c Config) crcBits() byte {
	if c.CRCLength == CRC16 {
		return bitEnCRC | bitCRCO
	}
	return bitEnCRC
}

func (c Config) sendTimeout() time.Duration {
	if c.SendTimeout > 0 {
		return c.SendTimeout
	}
	return c.RetransmitDelay*time.Duration(c.RetransmitCount+1) + 50*time.Millisecond
}

type Option func(*Config)

func WithChannel(ch byte) Option {
	return func(c *Config) { c.Channel = ch }
}

func WithDataRate(r DataRate) Option {
	return func(c *Config) { c.DataRate = r }
}

func WithPALevel(l PALevel) Option {
	return func(c *Config) { c.PALevel = l }
}

func WithCRCLength(l CRCLength) Option {
	return func(c *Config) { c.CRCLength = l }
}

// WithRetransmit sets the auto retransmit delay (250us steps up to 4ms) and
// count (up to 15).
func WithRetransmit(delay time.Duration, count byte) Option {
	return func(c *Config) {
		c.RetransmitDelay = delay
		c.RetransmitCount = count
	}
}

func WithSendTimeout(d time.Duration) Option {
	return func(c *Config) { c.SendTimeout = d }
}

func WithPowerUpDelay(d time.Duration) Option {
	return func(c *Config) { c.PowerUpDelay = d }
}

// Stats are cumulative driver counters.
type Stats struct {
	Sent           uint64 `yaml:"sent"`
	Received       uint64 `yaml:"received"`
	MaxRetransmits uint64 `yaml:"max_retransmits"`
	Timeouts       uint64 `yaml:"timeouts"`
	Corrupt        uint64 `yaml:"corrupt"`
}
