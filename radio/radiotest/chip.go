// Package radiotest simulates nRF24L01+ chips sharing one channel so that
// radio and link code can be tested without hardware.
package radiotest

import (
	"sync"
	"time"

	"github.com/mklimuk/newjoy/radio"
)

const (
	fifoDepth = 3

	regConfig    = 0x00
	regEnAA      = 0x01
	regEnRxAddr  = 0x02
	regSetupRetr = 0x04
	regRFCh      = 0x05
	regStatus    = 0x07
	regObserveTx = 0x08
	regRxAddrP0  = 0x0A
	regRxAddrP1  = 0x0B
	regTxAddr    = 0x10

	primRx = 1 << 0
	pwrUp  = 1 << 1
	maxRt  = 1 << 4
	txDs   = 1 << 5
	rxDr   = 1 << 6
)

type frame struct {
	pipe byte
	data []byte
}

// Ether connects simulated chips. A transmitted frame is delivered to the
// first listening chip on the same channel with an enabled pipe matching
// the TX address; without a receiver the sender gets MAX_RT.
type Ether struct {
	mx    sync.Mutex
	chips []*Chip
	lose  int
	lost  int
}

func NewEther() *Ether {
	return &Ether{}
}

// Lose drops the next n transmissions as if no acknowledgement arrived.
func (e *Ether) Lose(n int) {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.lose += n
}

// Lost returns the number of transmissions that found no receiver.
func (e *Ether) Lost() int {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.lost
}

type ChipOption func(*Chip)

// WithSettle makes a chip deaf for d after it starts listening.
func WithSettle(d time.Duration) ChipOption {
	return func(c *Chip) { c.settle = d }
}

// Unplugged simulates a missing chip: every read returns zeros.
func Unplugged() ChipOption {
	return func(c *Chip) { c.dead = true }
}

func WithClock(now func() time.Time) ChipOption {
	return func(c *Chip) { c.now = now }
}

// NewChip adds a chip to the ether. The chip is both the SPI connection and
// the chip enable pin of a radio.Driver.
func (e *Ether) NewChip(opts ...ChipOption) *Chip {
	c := &Chip{ether: e, now: time.Now}
	c.reset()
	for _, opt := range opts {
		opt(c)
	}
	e.mx.Lock()
	e.chips = append(e.chips, c)
	e.mx.Unlock()
	return c
}

// Chip is a register level nRF24L01+ model with dynamic payloads.
type Chip struct {
	ether *Ether

	mx     sync.Mutex
	regs   [0x20]byte
	addrs  map[byte][]byte
	rx     []frame
	tx     [][]byte
	ce     bool
	since  time.Time
	settle time.Duration
	dead   bool
	now    func() time.Time
	sent   [][]byte
}

func (c *Chip) reset() {
	c.regs = [0x20]byte{}
	c.regs[regConfig] = 0x08
	c.regs[regEnAA] = 0x3F
	c.regs[regEnRxAddr] = 0x03
	c.regs[0x03] = 0x03
	c.regs[regSetupRetr] = 0x03
	c.regs[regRFCh] = 0x02
	c.regs[regStatus] = 0x0E
	c.addrs = map[byte][]byte{
		regRxAddrP0: {0xE7, 0xE7, 0xE7, 0xE7, 0xE7},
		regRxAddrP1: {0xC2, 0xC2, 0xC2, 0xC2, 0xC2},
		regTxAddr:   {0xE7, 0xE7, 0xE7, 0xE7, 0xE7},
	}
	for i, lsb := range []byte{0xC3, 0xC4, 0xC5, 0xC6} {
		c.regs[0x0C+i] = lsb
	}
}

// Reg returns the raw value of a single byte register.
func (c *Chip) Reg(reg byte) byte {
	c.mx.Lock()
	defer c.mx.Unlock()
	if reg == regStatus {
		return c.status()
	}
	return c.regs[reg]
}

// Sent returns the payloads this chip transmitted successfully.
func (c *Chip) Sent() [][]byte {
	c.mx.Lock()
	defer c.mx.Unlock()
	return append([][]byte(nil), c.sent...)
}

// Inject places a frame directly into the RX FIFO of the given pipe.
func (c *Chip) Inject(pipe byte, data []byte) bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.push(pipe, data)
}

func (c *Chip) push(pipe byte, data []byte) bool {
	if len(c.rx) >= fifoDepth {
		return false
	}
	c.rx = append(c.rx, frame{pipe: pipe, data: append([]byte(nil), data...)})
	c.regs[regStatus] |= rxDr
	return true
}

func (c *Chip) status() byte {
	s := c.regs[regStatus] & (rxDr | txDs | maxRt)
	pipe := byte(7)
	if len(c.rx) > 0 {
		pipe = c.rx[0].pipe
	}
	s |= pipe << 1
	if len(c.tx) >= fifoDepth {
		s |= 1
	}
	return s
}

// Tx implements radio.SPI.
func (c *Chip) Tx(w, r []byte) error {
	if len(w) == 0 {
		return nil
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.dead {
		for i := range r {
			r[i] = 0
		}
		return nil
	}
	if len(r) > 0 {
		r[0] = c.status()
	}
	out := func(b []byte) {
		if len(r) > 1 {
			copy(r[1:], b)
		}
	}
	cmd := w[0]
	switch {
	case cmd < 0x20:
		if a, ok := c.addrs[cmd]; ok {
			out(a)
		} else if cmd == regStatus {
			out([]byte{c.status()})
		} else {
			out([]byte{c.regs[cmd]})
		}
	case cmd < 0x40:
		c.write(cmd&0x1F, w[1:])
	case cmd == 0x60:
		if len(c.rx) > 0 {
			out([]byte{byte(len(c.rx[0].data))})
		} else {
			out([]byte{0})
		}
	case cmd == 0x61:
		if len(c.rx) > 0 {
			out(c.rx[0].data)
			c.rx = c.rx[1:]
		}
	case cmd == 0xA0:
		if len(c.tx) < fifoDepth {
			c.tx = append(c.tx, append([]byte(nil), w[1:]...))
		}
	case cmd == 0xE1:
		c.tx = nil
	case cmd == 0xE2:
		c.rx = nil
	}
	return nil
}

func (c *Chip) write(reg byte, data []byte) {
	if len(data) == 0 {
		return
	}
	switch reg {
	case regStatus:
		c.regs[regStatus] &^= data[0] & (rxDr | txDs | maxRt)
	case regRxAddrP0, regRxAddrP1, regTxAddr:
		c.addrs[reg] = append([]byte(nil), data...)
	case regObserveTx:
	case regRFCh:
		c.regs[reg] = data[0]
		c.regs[regObserveTx] &= 0x0F
	case regConfig:
		wasRx := c.regs[regConfig]&primRx != 0
		c.regs[regConfig] = data[0]
		if !wasRx && data[0]&primRx != 0 && c.ce {
			c.since = c.now()
		}
	default:
		c.regs[reg] = data[0]
	}
}

// Out implements radio.Pin for chip enable. A rising edge in transmit mode
// sends the head of the TX FIFO.
func (c *Chip) Out(l radio.Level) error {
	c.mx.Lock()
	rising := !c.ce && l == radio.High
	c.ce = bool(l)
	cfg := c.regs[regConfig]
	if rising && cfg&primRx != 0 {
		c.since = c.now()
	}
	send := rising && !c.dead && cfg&pwrUp != 0 && cfg&primRx == 0 && len(c.tx) > 0
	var payload []byte
	var to []byte
	if send {
		payload = c.tx[0]
		to = append([]byte(nil), c.addrs[regTxAddr]...)
	}
	ch := c.regs[regRFCh]
	c.mx.Unlock()
	if !send {
		return nil
	}
	ok := c.ether.deliver(c, ch, to, payload)
	c.mx.Lock()
	defer c.mx.Unlock()
	arc := c.regs[regSetupRetr] & 0x0F
	if ok {
		c.tx = c.tx[1:]
		c.regs[regStatus] |= txDs
		c.regs[regObserveTx] &= 0xF0
		c.sent = append(c.sent, payload)
		return nil
	}
	c.regs[regStatus] |= maxRt
	plos := c.regs[regObserveTx] >> 4
	if plos < 15 {
		plos++
	}
	c.regs[regObserveTx] = plos<<4 | arc
	return nil
}

func (c *Chip) accept(ch byte, to []byte, payload []byte) bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	cfg := c.regs[regConfig]
	if c.dead || !c.ce || cfg&pwrUp == 0 || cfg&primRx == 0 || c.regs[regRFCh] != ch {
		return false
	}
	if c.now().Sub(c.since) < c.settle {
		return false
	}
	en := c.regs[regEnRxAddr]
	for pipe := byte(0); pipe < 6; pipe++ {
		if en&(1<<pipe) == 0 {
			continue
		}
		if string(c.pipeAddress(pipe)) == string(to) {
			return c.push(pipe, payload)
		}
	}
	return false
}

func (c *Chip) pipeAddress(pipe byte) []byte {
	switch pipe {
	case 0:
		return c.addrs[regRxAddrP0]
	case 1:
		return c.addrs[regRxAddrP1]
	}
	a := append([]byte(nil), c.addrs[regRxAddrP1]...)
	a[0] = c.regs[regRxAddrP0+pipe]
	return a
}

func (e *Ether) deliver(from *Chip, ch byte, to []byte, payload []byte) bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.lose > 0 {
		e.lose--
		e.lost++
		return false
	}
	for _, c := range e.chips {
		if c != from && c.accept(ch, to, payload) {
			return true
		}
	}
	e.lost++
	return false
}
