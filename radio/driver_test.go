package radio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/radio"
	"github.com/mklimuk/newjoy/radio/radiotest"
)

var (
	hubAddr   = radio.Address{'h', 'u', 'b', '0', '1'}
	spokeAddr = radio.Address{'s', 'p', 'k', '0', '1'}
)

func newPair(t *testing.T, opts ...radiotest.ChipOption) (*radio.Driver, *radio.Driver, *radiotest.Chip) {
	t.Helper()
	ether := radiotest.NewEther()
	a := ether.NewChip()
	b := ether.NewChip(opts...)
	tx := radio.NewDriver(a, a, radio.WithPowerUpDelay(0))
	rx := radio.NewDriver(b, b, radio.WithPowerUpDelay(0))
	ctx := context.Background()
	require.NoError(t, tx.Setup(ctx, hubAddr, spokeAddr))
	require.NoError(t, rx.Setup(ctx, spokeAddr, hubAddr))
	return tx, rx, b
}

func TestSetup(t *testing.T) {
	ether := radiotest.NewEther()
	chip := ether.NewChip()
	d := radio.NewDriver(chip, chip, radio.WithPowerUpDelay(0), radio.WithChannel(100), radio.WithDataRate(radio.Rate250Kbps))
	assert.Equal(t, "nRF24L01+ (not set up)", d.String())
	require.NoError(t, d.Setup(context.Background(), hubAddr, spokeAddr))
	assert.Equal(t, byte(100), chip.Reg(0x05))
	assert.Equal(t, byte(1<<5|3<<1), chip.Reg(0x06))
	assert.Equal(t, byte(0x0E), chip.Reg(0x00), "crc16 and power up, primary transmitter")
	assert.Equal(t, byte(0x03), chip.Reg(0x02), "pipes 0 and 1 enabled")
	assert.Equal(t, radio.Idle, d.Mode())
	assert.Equal(t, radio.StatusUnknown, d.ErrorInfo())
	assert.Contains(t, d.String(), "ch=100")
	assert.Contains(t, d.String(), "p1="+spokeAddr.String())
}

func TestSetupErrors(t *testing.T) {
	ether := radiotest.NewEther()
	chip := ether.NewChip()
	d := radio.NewDriver(chip, chip, radio.WithPowerUpDelay(0), radio.WithChannel(126))
	err := d.Setup(context.Background(), hubAddr)
	assert.ErrorIs(t, err, radio.ErrInvalidConfig)
	assert.ErrorIs(t, err, newjoy.ErrConfiguration)

	d = radio.NewDriver(chip, chip, radio.WithPowerUpDelay(0), radio.WithRetransmit(100*time.Microsecond, 3))
	assert.ErrorIs(t, d.Setup(context.Background(), hubAddr), radio.ErrInvalidConfig)

	dead := ether.NewChip(radiotest.Unplugged())
	d = radio.NewDriver(dead, dead, radio.WithPowerUpDelay(0))
	err = d.Setup(context.Background(), hubAddr)
	assert.ErrorIs(t, err, radio.ErrHardwareNotResponding)
	assert.ErrorIs(t, err, newjoy.ErrDevice)

	d = radio.NewDriver(chip, chip, radio.WithPowerUpDelay(0))
	rx := []radio.Address{hubAddr, hubAddr, hubAddr, hubAddr, hubAddr}
	require.NoError(t, d.Setup(context.Background(), hubAddr, rx...))
	rx = append(rx, hubAddr)
	assert.ErrorIs(t, d.Setup(context.Background(), hubAddr, rx...), radio.ErrInvalidPipeIndex)
}

func TestNotSetup(t *testing.T) {
	ether := radiotest.NewEther()
	chip := ether.NewChip()
	d := radio.NewDriver(chip, chip)
	_, err := d.Send(context.Background(), []byte{1})
	assert.ErrorIs(t, err, radio.ErrNotSetup)
	_, err = d.Any()
	assert.ErrorIs(t, err, radio.ErrNotSetup)
	_, err = d.Recv()
	assert.ErrorIs(t, err, radio.ErrNotSetup)
	assert.ErrorIs(t, d.StartListening(), radio.ErrNotSetup)
	assert.ErrorIs(t, d.OpenRxPipe(1, hubAddr[:]), radio.ErrNotSetup)
}

func TestSendReceive(t *testing.T) {
	tx, rx, _ := newPair(t)
	ctx := context.Background()
	require.NoError(t, rx.StartListening())
	assert.Equal(t, radio.Listening, rx.Mode())

	for _, payload := range [][]byte{{0x42}, []byte("a frame of exactly thirty-two b.")} {
		status, err := tx.Send(ctx, payload)
		require.NoError(t, err)
		assert.Equal(t, radio.TransmitOk, status)
		ok, err := rx.Any()
		require.NoError(t, err)
		require.True(t, ok)
		got, err := rx.Recv()
		require.NoError(t, err)
		assert.Equal(t, payload, got)
		assert.Equal(t, radio.ReceivedDataReady, rx.ErrorInfo())
	}
	ok, err := rx.Any()
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = rx.Recv()
	assert.ErrorIs(t, err, radio.ErrEmpty)

	assert.Equal(t, radio.TransmitOk, tx.ErrorInfo())
	assert.Equal(t, uint64(2), tx.Stats().Sent)
	assert.Equal(t, uint64(2), rx.Stats().Received)
}

func TestSendMisuse(t *testing.T) {
	tx, rx, _ := newPair(t)
	ctx := context.Background()
	_, err := tx.Send(ctx, nil)
	assert.ErrorIs(t, err, radio.ErrPayloadSize)
	_, err = tx.Send(ctx, make([]byte, 33))
	assert.ErrorIs(t, err, radio.ErrPayloadSize)

	require.NoError(t, rx.StartListening())
	_, err = rx.Send(ctx, []byte{1})
	assert.ErrorIs(t, err, radio.ErrListening)
	require.NoError(t, rx.StopListening())
	assert.Equal(t, radio.Idle, rx.Mode())
}

// flaky fails the first SPI command matching failCmd, and the first rising
// chip enable edge when failHigh is set.
type flaky struct {
	*radiotest.Chip
	failCmd  byte
	failHigh bool
}

var errBus = errors.New("bus glitch")

func (f *flaky) Tx(w, r []byte) error {
	if f.failCmd != 0 && len(w) > 0 && w[0] == f.failCmd {
		f.failCmd = 0
		return errBus
	}
	return f.Chip.Tx(w, r)
}

func (f *flaky) Out(l radio.Level) error {
	if f.failHigh && l == radio.High {
		f.failHigh = false
		return errBus
	}
	return f.Chip.Out(l)
}

func TestSendBusFailure(t *testing.T) {
	ether := radiotest.NewEther()
	a := &flaky{Chip: ether.NewChip()}
	b := ether.NewChip()
	tx := radio.NewDriver(a, a, radio.WithPowerUpDelay(0))
	rx := radio.NewDriver(b, b, radio.WithPowerUpDelay(0))
	ctx := context.Background()
	require.NoError(t, tx.Setup(ctx, hubAddr, spokeAddr))
	require.NoError(t, rx.Setup(ctx, spokeAddr, hubAddr))
	require.NoError(t, rx.StartListening())

	a.failHigh = true
	status, err := tx.Send(ctx, []byte("stale"))
	assert.ErrorIs(t, err, errBus)
	assert.Equal(t, radio.Timeout, status)
	assert.Equal(t, radio.Timeout, tx.ErrorInfo())
	assert.Equal(t, radio.Idle, tx.Mode())

	status, err = tx.Send(ctx, []byte("fresh"))
	require.NoError(t, err)
	assert.Equal(t, radio.TransmitOk, status)
	got, err := rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got)
	ok, err := rx.Any()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, [][]byte{[]byte("fresh")}, a.Sent())

	a.failCmd = 0xA0
	status, err = tx.Send(ctx, []byte("lost"))
	assert.ErrorIs(t, err, radio.ErrSPI)
	assert.Equal(t, radio.Timeout, status)
	assert.Equal(t, radio.Timeout, tx.ErrorInfo())
	status, err = tx.Send(ctx, []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, radio.TransmitOk, status)
	got, err = rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("again"), got)
}

func TestSendWithoutReceiver(t *testing.T) {
	tx, _, _ := newPair(t)
	status, err := tx.Send(context.Background(), []byte("anyone?"))
	require.NoError(t, err)
	assert.Equal(t, radio.MaxRetransmits, status)
	assert.Equal(t, radio.MaxRetransmits, tx.ErrorInfo())
	lost, retries, err := tx.RetransmitCounters()
	require.NoError(t, err)
	assert.Equal(t, byte(1), lost)
	assert.Equal(t, byte(15), retries)
	assert.Equal(t, uint64(1), tx.Stats().MaxRetransmits)
	assert.Equal(t, radio.Idle, tx.Mode())
}

func TestListenSettle(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	tx, rx, _ := newPair(t, radiotest.WithSettle(radio.SwitchSettle), radiotest.WithClock(clock))
	ctx := context.Background()
	require.NoError(t, rx.StartListening())

	status, err := tx.Send(ctx, []byte("early"))
	require.NoError(t, err)
	assert.Equal(t, radio.MaxRetransmits, status, "receiver still settling")

	now = now.Add(radio.SwitchSettle)
	status, err = tx.Send(ctx, []byte("late"))
	require.NoError(t, err)
	assert.Equal(t, radio.TransmitOk, status)
}

func TestCorruptPayload(t *testing.T) {
	_, rx, chip := newPair(t)
	require.True(t, chip.Inject(1, nil))
	ok, err := rx.Any()
	require.NoError(t, err)
	require.True(t, ok)
	_, err = rx.Recv()
	assert.ErrorIs(t, err, radio.ErrCorruptPayload)
	assert.ErrorIs(t, err, newjoy.ErrTransientIO)
	ok, err = rx.Any()
	require.NoError(t, err)
	assert.False(t, ok, "rx fifo flushed")
	assert.Equal(t, uint64(1), rx.Stats().Corrupt)
}

func TestOpenRxPipe(t *testing.T) {
	tx, rx, _ := newPair(t)
	assert.ErrorIs(t, rx.OpenRxPipe(-1, hubAddr[:]), radio.ErrInvalidPipeIndex)
	assert.ErrorIs(t, rx.OpenRxPipe(6, hubAddr[:]), radio.ErrInvalidPipeIndex)
	assert.ErrorIs(t, rx.OpenRxPipe(2, []byte{1, 2}), radio.ErrInvalidAddressLength)

	// pipe 2 shares the high bytes of pipe 1
	alt := radio.Address{'x', 'u', 'b', '0', '1'}
	require.NoError(t, rx.OpenRxPipe(2, alt[:]))
	require.NoError(t, rx.StartListening())
	require.NoError(t, tx.Setup(context.Background(), alt))
	status, err := tx.Send(context.Background(), []byte("pipe two"))
	require.NoError(t, err)
	assert.Equal(t, radio.TransmitOk, status)
	got, err := rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("pipe two"), got)
}

type closer struct{ calls int }

func (c *closer) Close() error {
	c.calls++
	return nil
}

func TestTeardown(t *testing.T) {
	ether := radiotest.NewEther()
	chip := ether.NewChip()
	c := &closer{}
	d := radio.NewDriver(chip, chip, radio.WithPowerUpDelay(0)).WithCloser(c)
	require.NoError(t, d.Setup(context.Background(), hubAddr))
	require.NoError(t, d.StartListening())
	require.NoError(t, d.Teardown())
	require.NoError(t, d.Teardown())
	assert.Equal(t, 1, c.calls)
	assert.Equal(t, byte(0), chip.Reg(0x00))
	assert.Equal(t, radio.Idle, d.Mode())
	_, err := d.Send(context.Background(), []byte{1})
	assert.ErrorIs(t, err, radio.ErrNotSetup)
}

func TestParseAddress(t *testing.T) {
	a, err := radio.ParseAddress("E7E7E7E7E7")
	require.NoError(t, err)
	assert.Equal(t, radio.Address{0xE7, 0xE7, 0xE7, 0xE7, 0xE7}, a)
	a, err = radio.ParseAddress("1Node")
	require.NoError(t, err)
	assert.Equal(t, "314E6F6465", a.String())
	_, err = radio.ParseAddress("E7E7")
	assert.ErrorIs(t, err, radio.ErrInvalidAddressLength)
	_, err = radio.ParseAddress("zzzzzzzzzz")
	assert.ErrorIs(t, err, radio.ErrInvalidAddressLength)
}
