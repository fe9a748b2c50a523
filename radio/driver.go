package radio

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/newjoy/snsctx"
)

const (
	cePulse      = 15 * time.Microsecond
	pollInterval = 250 * time.Microsecond
)

// Driver is a single nRF24L01+ radio. All methods are safe for concurrent
// use; a Send holds the driver until the frame is acknowledged or given up.
type Driver struct {
	mx     sync.Mutex
	spi    SPI
	ce     Pin
	closer io.Closer
	config Config

	setup  bool
	mode   Mode
	tx     Address
	pipes  [PipeCount]*Address
	status StatusCode
	stats  Stats
}

// NewDriver wraps an SPI connection and a chip enable line. Nothing is sent
// to the chip until Setup.
func NewDriver(spi SPI, ce Pin, opts ...Option) *Driver {
	d := &Driver{spi: spi, ce: ce, config: DefaultConfig()}
	for _, opt := range opts {
		opt(&d.config)
	}
	return d
}

// WithCloser attaches a resource released by Teardown, usually the SPI port.
func (d *Driver) WithCloser(c io.Closer) *Driver {
	d.closer = c
	return d
}

func (d *Driver) Config() Config {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.config
}

// Setup powers the radio up in idle mode, writing tx to TX_ADDR and pipe 0
// (for acknowledgements) and each rx address to pipes 1 to 5. Calling Setup
// again reapplies the whole configuration.
func (d *Driver) Setup(ctx context.Context, tx Address, rx ...Address) error {
	if len(rx) > PipeCount-1 {
		return fmt.Errorf("%w: %d receive addresses, at most %d", ErrInvalidPipeIndex, len(rx), PipeCount-1)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.config.validate(); err != nil {
		return err
	}
	if err := d.ce.Out(Low); err != nil {
		return fmt.Errorf("radio: could not lower chip enable: %w", err)
	}
	d.setup = false
	d.mode = Idle
	d.pipes = [PipeCount]*Address{}

	enabled := byte(1)
	for i := range rx {
		enabled |= 1 << (i + 1)
	}
	steps := []struct {
		name string
		reg  byte
		val  []byte
	}{
		{"power down", regConfig, []byte{0}},
		{"clear status", regStatus, []byte{bitRxDr | bitTxDs | bitMaxRt}},
		{"address width", regSetupAW, []byte{AddressLength - 2}},
		{"retransmit", regSetupRetr, []byte{d.config.setupRetr()}},
		{"channel", regRFCh, []byte{d.config.Channel}},
		{"rf setup", regRFSetup, []byte{d.config.rfSetup()}},
		{"feature", regFeature, []byte{bitEnDPL}},
		{"dynamic payload", regDynPD, []byte{allPipes}},
		{"auto ack", regEnAA, []byte{allPipes}},
		{"enabled pipes", regEnRxAddr, []byte{enabled}},
		{"tx address", regTxAddr, tx[:]},
		{"pipe 0 address", regRxAddrP0, tx[:]},
	}
	for _, s := range steps {
		if err := d.writeRegister(s.reg, s.val...); err != nil {
			return fmt.Errorf("radio setup: %s: %w", s.name, err)
		}
	}
	for i, a := range rx {
		if err := d.writePipeAddress(i+1, a); err != nil {
			return fmt.Errorf("radio setup: pipe %d address: %w", i+1, err)
		}
	}
	if err := d.command(cmdFlushTx); err != nil {
		return fmt.Errorf("radio setup: flush tx: %w", err)
	}
	if err := d.command(cmdFlushRx); err != nil {
		return fmt.Errorf("radio setup: flush rx: %w", err)
	}
	if err := d.writeRegister(regConfig, d.config.crcBits()|bitPwrUp); err != nil {
		return fmt.Errorf("radio setup: power up: %w", err)
	}
	if err := sleep(ctx, d.config.PowerUpDelay); err != nil {
		return err
	}
	ch, err := d.readRegister(regRFCh)
	if err != nil {
		return fmt.Errorf("radio setup: channel read back: %w", err)
	}
	if ch != d.config.Channel {
		return fmt.Errorf("%w: channel read back 0x%02x, expected 0x%02x", ErrHardwareNotResponding, ch, d.config.Channel)
	}
	d.tx = tx
	d.pipes[0] = &d.tx
	for i := range rx {
		a := rx[i]
		d.pipes[i+1] = &a
	}
	d.setup = true
	d.status = StatusUnknown
	slog.Info("radio ready", "tx", tx, "pipes", len(rx), "channel", d.config.Channel, "rate", d.config.DataRate)
	return nil
}

// OpenRxPipe enables pipe 0 to 5 with the given address. Setup binds pipe 0
// to the transmit address so acknowledgements arrive; rebinding it breaks
// Send. Pipes 2 to 5 only take the first address byte; the rest is shared
// with pipe 1.
func (d *Driver) OpenRxPipe(index int, address []byte) error {
	if index < 0 || index >= PipeCount {
		return fmt.Errorf("%w: %d", ErrInvalidPipeIndex, index)
	}
	if len(address) != AddressLength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidAddressLength, len(address))
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.setup {
		return ErrNotSetup
	}
	var a Address
	copy(a[:], address)
	if index == 0 && d.pipes[0] != nil && *d.pipes[0] != a {
		slog.Warn("pipe 0 no longer matches the tx address, acks will be missed", "address", a, "tx", d.tx)
	}
	if index > 1 && d.pipes[1] != nil && [4]byte(a[1:]) != [4]byte(d.pipes[1][1:]) {
		slog.Warn("pipe shares high address bytes with pipe 1", "pipe", index, "address", a, "pipe1", *d.pipes[1])
	}
	if err := d.writePipeAddress(index, a); err != nil {
		return err
	}
	en, err := d.readRegister(regEnRxAddr)
	if err != nil {
		return err
	}
	if err := d.writeRegister(regEnRxAddr, en|1<<index); err != nil {
		return err
	}
	d.pipes[index] = &a
	return nil
}

func (d *Driver) writePipeAddress(index int, a Address) error {
	reg := byte(regRxAddrP0 + index)
	if index > 1 {
		return d.writeRegister(reg, a[0])
	}
	return d.writeRegister(reg, a[:]...)
}

// StartListening switches to receive mode. The receiver is usable after
// ListenSettle.
func (d *Driver) StartListening() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.setup {
		return ErrNotSetup
	}
	if d.mode == Listening {
		return nil
	}
	if err := d.writeRegister(regConfig, d.config.crcBits()|bitPwrUp|bitPrimRx); err != nil {
		return fmt.Errorf("radio: start listening: %w", err)
	}
	if err := d.writeRegister(regStatus, bitRxDr|bitTxDs|bitMaxRt); err != nil {
		return fmt.Errorf("radio: start listening: %w", err)
	}
	if err := d.ce.Out(High); err != nil {
		return fmt.Errorf("radio: start listening: %w", err)
	}
	d.mode = Listening
	return nil
}

// StopListening returns to idle. Frames already in the RX FIFO stay readable.
func (d *Driver) StopListening() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.setup {
		return ErrNotSetup
	}
	if d.mode != Listening {
		return nil
	}
	if err := d.ce.Out(Low); err != nil {
		return fmt.Errorf("radio: stop listening: %w", err)
	}
	if err := d.writeRegister(regConfig, d.config.crcBits()|bitPwrUp); err != nil {
		return fmt.Errorf("radio: stop listening: %w", err)
	}
	d.mode = Idle
	return nil
}

// Send transmits a single frame to the TX address and waits for the
// acknowledgement. Radio level failures are reported through the returned
// StatusCode; errors are reserved for misuse and bus failures. A bus failure
// once the frame is under way reports Timeout and leaves the TX FIFO empty.
func (d *Driver) Send(ctx context.Context, payload []byte) (StatusCode, error) {
	if len(payload) == 0 || len(payload) > MaxPayloadSize {
		return StatusUnknown, fmt.Errorf("%w: got %d", ErrPayloadSize, len(payload))
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.setup {
		return StatusUnknown, ErrNotSetup
	}
	if d.mode == Listening {
		return StatusUnknown, ErrListening
	}
	if snsctx.IsVerbose(ctx) {
		slog.Debug("radio send", "to", d.tx, "payload", "\n"+hex.Dump(payload))
	}
	d.mode = Transmitting
	defer func() { d.mode = Idle }()

	// from here on every exit flushes TX so a failed frame never goes out
	// with the next pulse
	if err := d.writeRegister(regStatus, bitTxDs|bitMaxRt); err != nil {
		return d.finishSend(Timeout, err)
	}
	if err := d.transfer(append([]byte{cmdWTxPayload}, payload...), nil); err != nil {
		return d.finishSend(Timeout, err)
	}
	if err := d.ce.Out(High); err != nil {
		return d.finishSend(Timeout, fmt.Errorf("radio: pulse chip enable: %w", err))
	}
	time.Sleep(cePulse)
	if err := d.ce.Out(Low); err != nil {
		return d.finishSend(Timeout, fmt.Errorf("radio: pulse chip enable: %w", err))
	}

	deadline := time.Now().Add(d.config.sendTimeout())
	for {
		status, err := d.readRegister(regStatus)
		if err != nil {
			return d.finishSend(Timeout, err)
		}
		switch {
		case status&bitTxDs != 0:
			d.stats.Sent++
			return d.finishSend(TransmitOk, nil)
		case status&bitMaxRt != 0:
			d.stats.MaxRetransmits++
			return d.finishSend(MaxRetransmits, nil)
		case time.Now().After(deadline):
			d.stats.Timeouts++
			return d.finishSend(Timeout, nil)
		}
		select {
		case <-ctx.Done():
			d.stats.Timeouts++
			return d.finishSend(Timeout, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (d *Driver) finishSend(code StatusCode, cause error) (StatusCode, error) {
	d.status = code
	var errs []error
	if code != TransmitOk {
		errs = append(errs, d.command(cmdFlushTx))
	}
	errs = append(errs, d.writeRegister(regStatus, bitTxDs|bitMaxRt), cause)
	if code != TransmitOk {
		slog.Debug("radio send failed", "status", code, "to", d.tx)
	}
	return code, errors.Join(errs...)
}

// Any reports whether a frame is waiting in the RX FIFO. Right after a mode
// switch it may report false for a frame that is about to arrive.
func (d *Driver) Any() (bool, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.setup {
		return false, ErrNotSetup
	}
	ok, err := d.available()
	if err != nil {
		return false, err
	}
	if ok {
		d.status = ReceivedDataReady
	}
	return ok, nil
}

func (d *Driver) available() (bool, error) {
	status, err := d.readRegister(regStatus)
	if err != nil {
		return false, err
	}
	return (status>>1)&rxEmpty != rxEmpty, nil
}

// Recv pops the oldest frame from the RX FIFO.
func (d *Driver) Recv() ([]byte, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.setup {
		return nil, ErrNotSetup
	}
	ok, err := d.available()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEmpty
	}
	r := make([]byte, 2)
	if err := d.transfer([]byte{cmdRRxPlWid, cmdNop}, r); err != nil {
		return nil, err
	}
	width := int(r[1])
	if width == 0 || width > MaxPayloadSize {
		d.stats.Corrupt++
		return nil, errors.Join(
			fmt.Errorf("%w: %d", ErrCorruptPayload, width),
			d.command(cmdFlushRx),
			d.writeRegister(regStatus, bitRxDr),
		)
	}
	w := make([]byte, width+1)
	w[0] = cmdRRxPayload
	r = make([]byte, width+1)
	if err := d.transfer(w, r); err != nil {
		return nil, err
	}
	if err := d.writeRegister(regStatus, bitRxDr); err != nil {
		return nil, err
	}
	d.stats.Received++
	d.status = ReceivedDataReady
	return r[1:], nil
}

// ErrorInfo returns the status of the last send or receive.
func (d *Driver) ErrorInfo() StatusCode {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.status
}

// Teardown powers the radio down and releases the transport. It is safe to
// call more than once.
func (d *Driver) Teardown() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	var errs []error
	if d.setup {
		errs = append(errs, d.ce.Out(Low), d.writeRegister(regConfig, 0))
		d.setup = false
		d.mode = Idle
		slog.Info("radio powered down", "sent", d.stats.Sent, "received", d.stats.Received)
	}
	if d.closer != nil {
		errs = append(errs, d.closer.Close())
		d.closer = nil
	}
	return errors.Join(errs...)
}

func (d *Driver) Mode() Mode {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.mode
}

func (d *Driver) Stats() Stats {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.stats
}

// RetransmitCounters returns the lost packet counter (reset by a channel
// write) and the retransmissions of the last frame.
func (d *Driver) RetransmitCounters() (lost, retries byte, err error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.setup {
		return 0, 0, ErrNotSetup
	}
	v, err := d.readRegister(regObserveTx)
	if err != nil {
		return 0, 0, err
	}
	return v >> 4, v & 0x0F, nil
}

// CarrierDetected reports a received power above -64 dBm on the channel.
func (d *Driver) CarrierDetected() (bool, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.setup {
		return false, ErrNotSetup
	}
	v, err := d.readRegister(regRPD)
	if err != nil {
		return false, err
	}
	return v&1 == 1, nil
}

func (d *Driver) String() string {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.setup {
		return "nRF24L01+ (not set up)"
	}
	s := fmt.Sprintf("nRF24L01+ ch=%d rate=%v mode=%v tx=%v", d.config.Channel, d.config.DataRate, d.mode, d.tx)
	for i, p := range d.pipes[1:] {
		if p != nil {
			s += fmt.Sprintf(" p%d=%v", i+1, *p)
		}
	}
	return s
}

func (d *Driver) transfer(w, r []byte) error {
	if err := d.spi.Tx(w, r); err != nil {
		return fmt.Errorf("%w: command 0x%02x: %w", ErrSPI, w[0], err)
	}
	return nil
}

func (d *Driver) command(cmd byte) error {
	return d.transfer([]byte{cmd}, nil)
}

func (d *Driver) writeRegister(reg byte, val ...byte) error {
	return d.transfer(append([]byte{cmdWRegister | reg}, val...), nil)
}

func (d *Driver) readRegister(reg byte) (byte, error) {
	r := make([]byte, 2)
	if err := d.transfer([]byte{reg, cmdNop}, r); err != nil {
		return 0, err
	}
	return r[1], nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
