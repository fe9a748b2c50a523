package air

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/newjoy"
	"github.com/sigurn/crc8"
)

// AGS02MA default 7-bit I2C address is 0x1A.
// Datasheet also mentions write/read instructions 0x34/0x35 which are the
// 8-bit bus addresses (0x1A<<1 | 0 for write, | 1 for read) used on the wire.
const AGS02MADefaultAddress = 0x1A

// Register/command map (per datasheet)
//
//	0x00: TVOC readout (first byte is status, next three bytes are TVOC ppb)
const (
	regTVOC       byte = 0x00
	regCalibrate  byte = 0x01
	regVersion    byte = 0x11
	regResistance byte = 0x20
)

// Status byte bit definitions (Data1):
// Bit0: RDY (0 = ready, 1 = not ready or pre-heat)
// Bit3..1: CI[2:0] data type (000 => TVOC in ppb after power-on)
const (
	statusBitRDY = 0x01
)

// x8 + x5 + x4 + 1, init 0xFF
var crcTable = crc8.MakeTable(crc8.Params{
	Poly:  0x31,
	Init:  0xFF,
	Check: 0xF7,
	Name:  "CRC-8/NRSC-5",
})

var (
	ErrNotReady    = fmt.Errorf("%w: ags02ma: data not ready or sensor in pre-heat stage", newjoy.ErrTransientIO)
	ErrCRCMismatch = fmt.Errorf("%w: ags02ma: crc mismatch", newjoy.ErrMalformedResponse)
)

const (
	TVOCModeDirectRead    byte = 0x00
	TVOCModeRegisterWrite byte = 0x01
)

type AGS02MAOpts struct {
	ConfigureDelay time.Duration
	ReadDelay      time.Duration
	TxDelay        time.Duration
	TVOCMode       byte
}

type AGS02MAOpt func(*AGS02MAOpts)

func WithConfigureDelay(delay time.Duration) AGS02MAOpt {
	return func(o *AGS02MAOpts) {
		o.ConfigureDelay = delay
	}
}

func WithReadDelay(delay time.Duration) AGS02MAOpt {
	return func(o *AGS02MAOpts) {
		o.ReadDelay = delay
	}
}

func WithTxDelay(delay time.Duration) AGS02MAOpt {
	return func(o *AGS02MAOpts) {
		o.TxDelay = delay
	}
}

func WithTVOCMode(mode byte) AGS02MAOpt {
	return func(o *AGS02MAOpts) {
		o.TVOCMode = mode
	}
}

// AGS02MA represents Aosong AGS02MA TVOC sensor.
// Typical usage:
//
//	s := NewAGS02MA(bus, AGS02MADefaultAddress)
//	v, err := s.GetTVOC(ctx)
//
// Value is returned in parts-per-billion (ppb).
// The sensor requires a slow I2C clock (<= 30 kHz) and a rest period after
// every read, which runs in the background and is awaited by the next call.
type AGS02MA struct {
	mx        sync.Mutex
	delayDone chan struct{} // closed when delay after last operation completes
	delayMx   sync.Mutex    // protects delayDone channel

	config AGS02MAOpts

	transport newjoy.I2CBus
	addr      byte
}

func NewAGS02MA(transport newjoy.I2CBus, address byte, opts ...AGS02MAOpt) *AGS02MA {
	config := AGS02MAOpts{
		ConfigureDelay: 2 * time.Second,
		ReadDelay:      1500 * time.Millisecond,
		TxDelay:        100 * time.Millisecond,
		TVOCMode:       TVOCModeRegisterWrite,
	}
	for _, opt := range opts {
		opt(&config)
	}
	// closed channel so the first operation can proceed immediately
	ch := make(chan struct{})
	close(ch)
	return &AGS02MA{
		config:    config,
		transport: transport,
		addr:      address,
		delayDone: ch,
	}
}

// Ready reports whether the rest period after the previous operation is over.
func (s *AGS02MA) Ready() bool {
	s.delayMx.Lock()
	ch := s.delayDone
	s.delayMx.Unlock()
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// waitForDelay waits for any pending delay from previous operations to complete.
func (s *AGS02MA) waitForDelay(ctx context.Context) error {
	s.delayMx.Lock()
	ch := s.delayDone
	s.delayMx.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scheduleDelay starts a background timer and swaps delayDone for a channel
// closed when it fires.
func (s *AGS02MA) scheduleDelay(ctx context.Context, duration time.Duration) {
	s.delayMx.Lock()
	ch := make(chan struct{})
	s.delayDone = ch
	s.delayMx.Unlock()

	go func() {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		close(ch)
	}()
}

func (s *AGS02MA) Close(ctx context.Context) {
	_ = s.waitForDelay(ctx)
}

func (s *AGS02MA) Configure(ctx context.Context) error {
	if err := s.waitForDelay(ctx); err != nil {
		return err
	}

	s.mx.Lock()
	err := s.transport.WriteToAddr(ctx, s.addr, []byte{regTVOC, 0x00, 0xFF, 0x00, 0xFF, 0x30})
	s.mx.Unlock()

	if err != nil {
		return fmt.Errorf("ags02ma: configuration write failed: %w", err)
	}
	s.scheduleDelay(ctx, s.config.ConfigureDelay)
	return nil
}

// GetTVOC reads TVOC using the configured TVOCMode.
func (s *AGS02MA) GetTVOC(ctx context.Context) (uint32, error) {
	if s.config.TVOCMode == TVOCModeDirectRead {
		return s.GetTVOCDirectRead(ctx)
	}
	return s.GetTVOCWithRegisterWrite(ctx)
}

// GetTVOCDirectRead performs a "master direct read" as described in the datasheet.
// This does NOT write the register first and simply reads the last conversion.
func (s *AGS02MA) GetTVOCDirectRead(ctx context.Context) (uint32, error) {
	if err := s.waitForDelay(ctx); err != nil {
		return 0, err
	}

	resp := make([]byte, 5)
	s.mx.Lock()
	err := s.transport.ReadFromAddr(ctx, s.addr, resp)
	s.mx.Unlock()

	if err != nil {
		return 0, fmt.Errorf("ags02ma: read failed: %w", err)
	}
	return s.tvoc(ctx, resp)
}

// GetTVOCWithRegisterWrite explicitly writes register 0x00 and then reads.
func (s *AGS02MA) GetTVOCWithRegisterWrite(ctx context.Context) (uint32, error) {
	resp, err := s.readRegister(ctx, regTVOC)
	if err != nil {
		return 0, err
	}
	return s.tvoc(ctx, resp)
}

func (s *AGS02MA) tvoc(ctx context.Context, resp []byte) (uint32, error) {
	if resp[0]&statusBitRDY != 0 {
		return 0, ErrNotReady
	}
	// 24-bit big endian after the status byte
	ppb := (uint32(resp[1]) << 16) | (uint32(resp[2]) << 8) | uint32(resp[3])
	s.scheduleDelay(ctx, s.config.ReadDelay)
	return ppb, nil
}

func (s *AGS02MA) ReadVersion(ctx context.Context) (int, error) {
	resp, err := s.readRegister(ctx, regVersion)
	if err != nil {
		return 0, err
	}
	return int(resp[3]), nil
}

func (s *AGS02MA) ReadResistance(ctx context.Context) (int, error) {
	resp, err := s.readRegister(ctx, regResistance)
	if err != nil {
		return 0, err
	}
	s.scheduleDelay(ctx, s.config.ReadDelay)
	return int(resp[3]), nil
}

func (s *AGS02MA) Calibrate(ctx context.Context) error {
	if _, err := s.readRegister(ctx, regCalibrate); err != nil {
		return err
	}
	s.scheduleDelay(ctx, s.config.ReadDelay)
	return nil
}

// readRegister runs the register-write, guard delay, read sequence and
// returns the CRC checked 5-byte response.
func (s *AGS02MA) readRegister(ctx context.Context, reg byte) ([]byte, error) {
	if err := s.waitForDelay(ctx); err != nil {
		return nil, err
	}

	s.mx.Lock()
	err := s.transport.WriteToAddr(ctx, s.addr, []byte{reg})
	s.mx.Unlock()
	if err != nil {
		return nil, fmt.Errorf("ags02ma: write reg 0x%02x failed: %w", reg, err)
	}

	timer := time.NewTimer(s.config.TxDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	resp := make([]byte, 5)
	s.mx.Lock()
	err = s.transport.ReadFromAddr(ctx, s.addr, resp)
	s.mx.Unlock()
	if err != nil {
		return nil, fmt.Errorf("ags02ma: read failed: %w", err)
	}
	if crc := crc8.Checksum(resp[:4], crcTable); crc != resp[4] {
		return nil, fmt.Errorf("%w: expected %#x, got %#x", ErrCRCMismatch, resp[4], crc)
	}
	return resp, nil
}
