package i2c

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockI2CBus is a mock implementation of magmux.I2CBus using testify/mock
type MockI2CBus struct {
	mock.Mock
}

func (m *MockI2CBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	return args.Error(0)
}

func (m *MockI2CBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
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

func TestBusConn_TransfersUseSelectedAddress(t *testing.T) {
	bus := new(MockI2CBus)
	conn := NewBusConn(bus)
	ctx := context.Background()

	bus.On("WriteToAddr", mock.Anything, byte(0x71), []byte{0x02}).Return(nil).Once()
	bus.On("ReadFromAddr", mock.Anything, byte(0x5E), mock.Anything).Return([]byte{0x10, 0x20}, nil).Once()

	assert.NoError(t, conn.SelectAddr(ctx, 0x71))
	n, err := conn.Write(ctx, []byte{0x02})
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoError(t, conn.SelectAddr(ctx, 0x5E))
	buf := make([]byte, 2)
	n, err = conn.Read(ctx, buf)
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x10, 0x20}, buf)
	bus.AssertExpectations(t)
}

func TestBusConn_ErrorsReportZeroBytes(t *testing.T) {
	bus := new(MockI2CBus)
	conn := NewBusConn(bus)
	ctx := context.Background()

	bus.On("WriteToAddr", mock.Anything, byte(0x5E), mock.Anything).Return(errors.New("nack")).Once()
	bus.On("ReadFromAddr", mock.Anything, byte(0x5E), mock.Anything).Return(nil, errors.New("nack")).Once()

	_ = conn.SelectAddr(ctx, 0x5E)
	n, err := conn.Write(ctx, []byte{0x00})
	assert.Error(t, err)
	assert.Zero(t, n)
	n, err = conn.Read(ctx, make([]byte, 10))
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestBusConn_CloseReleases(t *testing.T) {
	bus := new(MockI2CBus)
	bus.On("Release", mock.Anything).Return(nil).Once()
	assert.NoError(t, NewBusConn(bus).Close())
	bus.AssertExpectations(t)
}

func TestDevicePath(t *testing.T) {
	assert.Equal(t, "/dev/i2c-1", DevicePath("1"))
	assert.Equal(t, "/dev/i2c-10", DevicePath("10"))
	assert.Equal(t, "/dev/i2c-2", DevicePath("/dev/i2c-2"))
}
