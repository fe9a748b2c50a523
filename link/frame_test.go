package link

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/newjoy"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	for _, l := range []int{4, 32, 180, 512, 513} {
		t.Run(fmt.Sprint(l), func(t *testing.T) {
			msg := payload(l)
			frames, err := Split(msg)
			require.NoError(t, err)
			assert.Len(t, frames, (l+ChunkSize-1)/ChunkSize)
			var r Reassembler
			for i, f := range frames {
				assert.LessOrEqual(t, len(f), 32)
				assert.Equal(t, byte(i), f[0])
				got, done, err := r.Push(f)
				require.NoError(t, err)
				if i < len(frames)-1 {
					assert.False(t, done)
					assert.True(t, r.Pending())
					continue
				}
				require.True(t, done)
				assert.Equal(t, msg, got)
			}
			assert.False(t, r.Pending())
			assert.Zero(t, r.Discarded)
		})
	}
}

func TestSplitLimits(t *testing.T) {
	_, err := Split(nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	frames, err := Split(payload(MaxMessageSize))
	require.NoError(t, err)
	assert.Len(t, frames, MaxChunks)
	assert.Equal(t, byte(255), frames[len(frames)-1][0])

	_, err = Split(payload(MaxMessageSize + 1))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.ErrorIs(t, err, newjoy.ErrConfiguration)
}

func TestPartialDiscardedOnNewHeader(t *testing.T) {
	first, err := Split(payload(180))
	require.NoError(t, err)
	second, err := Split(bytes.Repeat([]byte{0xAB}, 40))
	require.NoError(t, err)

	var r Reassembler
	for _, f := range first[:2] {
		_, done, err := r.Push(f)
		require.NoError(t, err)
		require.False(t, done)
	}
	_, done, err := r.Push(second[0])
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, r.Discarded)
	got, done, err := r.Push(second[1])
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, bytes.Repeat([]byte{0xAB}, 40), got)
}

func TestReassemblerViolations(t *testing.T) {
	frames, err := Split(payload(100))
	require.NoError(t, err)

	t.Run("chunk without start", func(t *testing.T) {
		var r Reassembler
		_, _, err := r.Push(frames[1])
		assert.ErrorIs(t, err, ErrUnexpectedChunk)
		assert.ErrorIs(t, err, newjoy.ErrProtocolViolation)
		assert.Zero(t, r.Discarded)
	})
	t.Run("skipped chunk", func(t *testing.T) {
		var r Reassembler
		_, _, err := r.Push(frames[0])
		require.NoError(t, err)
		_, _, err = r.Push(frames[2])
		assert.ErrorIs(t, err, ErrUnexpectedChunk)
		assert.Equal(t, 1, r.Discarded)
		assert.False(t, r.Pending())
	})
	t.Run("total changes", func(t *testing.T) {
		var r Reassembler
		_, _, err := r.Push(frames[0])
		require.NoError(t, err)
		f := append([]byte(nil), frames[1]...)
		f[1]++
		_, _, err = r.Push(f)
		assert.ErrorIs(t, err, ErrUnexpectedChunk)
		assert.Equal(t, 1, r.Discarded)
	})
	t.Run("short frame", func(t *testing.T) {
		var r Reassembler
		_, _, err := r.Push([]byte{0, 4, 0})
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
	t.Run("zero total", func(t *testing.T) {
		var r Reassembler
		_, _, err := r.Push([]byte{0, 0, 0, 1})
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
	t.Run("truncated chunk", func(t *testing.T) {
		var r Reassembler
		_, _, err := r.Push(frames[0][:10])
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}
