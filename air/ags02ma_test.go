package air

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mklimuk/newjoy"
	"github.com/sigurn/crc8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockI2CBus is a mock implementation of newjoy.I2CBus using testify/mock
type MockI2CBus struct {
	mock.Mock
	concurrentOps int64
	maxConcurrent int64
}

func (m *MockI2CBus) enter() {
	concurrent := atomic.AddInt64(&m.concurrentOps, 1)
	for {
		max := atomic.LoadInt64(&m.maxConcurrent)
		if concurrent <= max || atomic.CompareAndSwapInt64(&m.maxConcurrent, max, concurrent) {
			return
		}
	}
}

func (m *MockI2CBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	m.enter()
	defer atomic.AddInt64(&m.concurrentOps, -1)
	args := m.Called(ctx, address, buffer)
	return args.Error(0)
}

func (m *MockI2CBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	m.enter()
	defer atomic.AddInt64(&m.concurrentOps, -1)
	args := m.Called(ctx, address, buffer)
	if data, ok := args.Get(0).([]byte); ok && len(data) <= len(buffer) {
		copy(buffer, data)
	}
	return args.Error(1)
}

func (m *MockI2CBus) Release(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func response(status byte, value uint32) []byte {
	buf := []byte{status, byte(value >> 16), byte(value >> 8), byte(value), 0}
	buf[4] = crc8.Checksum(buf[:4], crcTable)
	return buf
}

func fastSensor(bus newjoy.I2CBus, opts ...AGS02MAOpt) *AGS02MA {
	opts = append([]AGS02MAOpt{
		WithReadDelay(10 * time.Millisecond),
		WithTxDelay(time.Millisecond),
		WithConfigureDelay(10 * time.Millisecond),
	}, opts...)
	return NewAGS02MA(bus, AGS02MADefaultAddress, opts...)
}

func TestAGS02MA_CRC(t *testing.T) {
	assert.Equal(t, byte(0xF7), crc8.Checksum([]byte("123456789"), crcTable))
	assert.Equal(t, byte(0x65), crc8.Checksum([]byte{0x00, 0x00, 0x01, 0xF4}, crcTable))
}

func TestAGS02MA_SuccessCases(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(*MockI2CBus)
		testFunc  func(*AGS02MA, context.Context) (any, error)
		expected  any
	}{
		{
			name: "GetTVOC direct read",
			setupMock: func(bus *MockI2CBus) {
				bus.On("ReadFromAddr", mock.Anything, byte(AGS02MADefaultAddress), mock.Anything).
					Return(response(0, 1000), nil).Once()
			},
			testFunc: func(s *AGS02MA, ctx context.Context) (any, error) {
				return s.GetTVOCDirectRead(ctx)
			},
			expected: uint32(1000),
		},
		{
			name: "GetTVOC register write",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(AGS02MADefaultAddress), []byte{regTVOC}).
					Return(nil).Once()
				bus.On("ReadFromAddr", mock.Anything, byte(AGS02MADefaultAddress), mock.Anything).
					Return(response(0, 0x012345), nil).Once()
			},
			testFunc: func(s *AGS02MA, ctx context.Context) (any, error) {
				return s.GetTVOC(ctx)
			},
			expected: uint32(0x012345),
		},
		{
			name: "ReadVersion",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(AGS02MADefaultAddress), []byte{regVersion}).
					Return(nil).Once()
				bus.On("ReadFromAddr", mock.Anything, byte(AGS02MADefaultAddress), mock.Anything).
					Return(response(0, 118), nil).Once()
			},
			testFunc: func(s *AGS02MA, ctx context.Context) (any, error) {
				return s.ReadVersion(ctx)
			},
			expected: 118,
		},
		{
			name: "Calibrate",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(AGS02MADefaultAddress), []byte{regCalibrate}).
					Return(nil).Once()
				bus.On("ReadFromAddr", mock.Anything, byte(AGS02MADefaultAddress), mock.Anything).
					Return(response(0, 0), nil).Once()
			},
			testFunc: func(s *AGS02MA, ctx context.Context) (any, error) {
				return nil, s.Calibrate(ctx)
			},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := new(MockI2CBus)
			tt.setupMock(bus)
			result, err := tt.testFunc(fastSensor(bus), context.Background())
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, result)
			bus.AssertExpectations(t)
		})
	}
}

func TestAGS02MA_ErrorCases(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(*MockI2CBus)
		expected  error
	}{
		{
			name: "write error",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(AGS02MADefaultAddress), mock.Anything).
					Return(newjoy.ErrBusBusy).Once()
			},
			expected: newjoy.ErrBusBusy,
		},
		{
			name: "crc mismatch",
			setupMock: func(bus *MockI2CBus) {
				buf := response(0, 1000)
				buf[4] ^= 0xFF
				bus.On("WriteToAddr", mock.Anything, byte(AGS02MADefaultAddress), mock.Anything).
					Return(nil).Once()
				bus.On("ReadFromAddr", mock.Anything, byte(AGS02MADefaultAddress), mock.Anything).
					Return(buf, nil).Once()
			},
			expected: ErrCRCMismatch,
		},
		{
			name: "not ready status",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(AGS02MADefaultAddress), mock.Anything).
					Return(nil).Once()
				bus.On("ReadFromAddr", mock.Anything, byte(AGS02MADefaultAddress), mock.Anything).
					Return(response(statusBitRDY, 1000), nil).Once()
			},
			expected: ErrNotReady,
		},
		{
			name: "read error",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(AGS02MADefaultAddress), mock.Anything).
					Return(nil).Once()
				bus.On("ReadFromAddr", mock.Anything, byte(AGS02MADefaultAddress), mock.Anything).
					Return(nil, errors.New("i2c read failed")).Once()
			},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := new(MockI2CBus)
			tt.setupMock(bus)
			_, err := fastSensor(bus).GetTVOC(context.Background())
			assert.Error(t, err)
			if tt.expected != nil {
				assert.ErrorIs(t, err, tt.expected)
			}
			bus.AssertExpectations(t)
		})
	}
}

func TestAGS02MA_ReadyAfterDelay(t *testing.T) {
	bus := new(MockI2CBus)
	delay := 50 * time.Millisecond
	sensor := fastSensor(bus, WithReadDelay(delay), WithTVOCMode(TVOCModeDirectRead))
	ctx := context.Background()

	assert.True(t, sensor.Ready())
	bus.On("ReadFromAddr", mock.Anything, byte(AGS02MADefaultAddress), mock.Anything).
		Return(response(0, 1000), nil).Twice()

	start := time.Now()
	_, err := sensor.GetTVOC(ctx)
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), delay/2, "delay runs asynchronously")
	assert.False(t, sensor.Ready())

	// second read waits for the rest period
	_, err = sensor.GetTVOC(ctx)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), delay-10*time.Millisecond)

	sensor.Close(ctx)
	assert.True(t, sensor.Ready())
	bus.AssertExpectations(t)
}

func TestAGS02MA_ContextCancellation(t *testing.T) {
	bus := new(MockI2CBus)
	sensor := fastSensor(bus, WithReadDelay(100*time.Millisecond), WithTVOCMode(TVOCModeDirectRead))
	bus.On("ReadFromAddr", mock.Anything, byte(AGS02MADefaultAddress), mock.Anything).
		Return(response(0, 1000), nil).Once()

	_, err := sensor.GetTVOC(context.Background())
	assert.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sensor.GetTVOC(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
	bus.AssertExpectations(t)
}

func TestAGS02MA_MutexProtection(t *testing.T) {
	bus := new(MockI2CBus)
	sensor := fastSensor(bus, WithReadDelay(time.Millisecond), WithTVOCMode(TVOCModeDirectRead))
	ctx := context.Background()

	const numOps = 5
	bus.On("ReadFromAddr", mock.Anything, byte(AGS02MADefaultAddress), mock.Anything).
		Return(response(0, 1000), nil).Times(numOps)

	var wg sync.WaitGroup
	wg.Add(numOps)
	for range numOps {
		go func() {
			defer wg.Done()
			_, err := sensor.GetTVOC(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&bus.maxConcurrent), int64(1), "mutex should serialize operations")
	bus.AssertExpectations(t)
}
