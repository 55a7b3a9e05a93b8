package i2c

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/magmux"
)

// MockGobotAdaptor is a mock implementation of GobotAdaptor using testify/mock
type MockGobotAdaptor struct {
	mock.Mock
}

func (m *MockGobotAdaptor) GetI2cConnection(address int, busNr int) (i2c.Connection, error) {
	args := m.Called(address, busNr)
	conn, _ := args.Get(0).(i2c.Connection)
	return conn, args.Error(1)
}

func (m *MockGobotAdaptor) DefaultI2cBus() int {
	return m.Called().Int(0)
}

func (m *MockGobotAdaptor) Finalize() error {
	return m.Called().Error(0)
}

// gobotDevice records transfers for one slave address. Methods that are not
// overridden panic through the nil embedded interface.
type gobotDevice struct {
	i2c.Connection
	written  [][]byte
	reply    []byte
	closeErr error
	closed   int
}

func (d *gobotDevice) Write(p []byte) (int, error) {
	d.written = append(d.written, append([]byte(nil), p...))
	return len(p), nil
}

func (d *gobotDevice) Read(p []byte) (int, error) {
	return copy(p, d.reply), nil
}

func (d *gobotDevice) Close() error {
	d.closed++
	return d.closeErr
}

func TestGobotConn_DefaultBus(t *testing.T) {
	adaptor := new(MockGobotAdaptor)
	adaptor.On("DefaultI2cBus").Return(3).Once()
	mux := &gobotDevice{}
	adaptor.On("GetI2cConnection", 0x70, 3).Return(mux, nil).Once()

	conn := NewGobotConn(adaptor, -1)
	require.NoError(t, conn.SelectAddr(context.Background(), 0x70))
	adaptor.AssertExpectations(t)
}

func TestGobotConn_CachesConnectionPerAddress(t *testing.T) {
	adaptor := new(MockGobotAdaptor)
	mux := &gobotDevice{}
	sensor := &gobotDevice{reply: []byte{0x11, 0x22}}
	adaptor.On("GetI2cConnection", 0x70, 1).Return(mux, nil).Once()
	adaptor.On("GetI2cConnection", 0x5E, 1).Return(sensor, nil).Once()
	conn := NewGobotConn(adaptor, 1)
	ctx := context.Background()

	require.NoError(t, conn.SelectAddr(ctx, 0x70))
	n, err := conn.Write(ctx, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, conn.SelectAddr(ctx, 0x5E))
	buf := make([]byte, 2)
	n, err = conn.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x11, 0x22}, buf)

	require.NoError(t, conn.SelectAddr(ctx, 0x70))
	_, err = conn.Write(ctx, []byte{0x02})
	require.NoError(t, err)

	assert.Equal(t, [][]byte{{0x01}, {0x02}}, mux.written)
	adaptor.AssertNumberOfCalls(t, "GetI2cConnection", 2)
	adaptor.AssertExpectations(t)
}

func TestGobotConn_SelectFailureClearsCurrent(t *testing.T) {
	adaptor := new(MockGobotAdaptor)
	mux := &gobotDevice{}
	adaptor.On("GetI2cConnection", 0x70, 1).Return(mux, nil).Once()
	adaptor.On("GetI2cConnection", 0x5E, 1).Return(nil, errors.New("no such device")).Once()
	conn := NewGobotConn(adaptor, 1)
	ctx := context.Background()

	require.NoError(t, conn.SelectAddr(ctx, 0x70))
	err := conn.SelectAddr(ctx, 0x5E)
	assert.ErrorContains(t, err, "no such device")

	_, err = conn.Write(ctx, []byte{0x01})
	assert.ErrorIs(t, err, magmux.ErrSlaveSelect)
	_, err = conn.Read(ctx, make([]byte, 1))
	assert.ErrorIs(t, err, magmux.ErrSlaveSelect)
	assert.Empty(t, mux.written)
}

func TestGobotConn_CloseJoinsErrors(t *testing.T) {
	adaptor := new(MockGobotAdaptor)
	mux := &gobotDevice{closeErr: errors.New("mux busy")}
	sensor := &gobotDevice{}
	adaptor.On("GetI2cConnection", 0x70, 1).Return(mux, nil).Once()
	adaptor.On("GetI2cConnection", 0x5E, 1).Return(sensor, nil).Once()
	adaptor.On("Finalize").Return(errors.New("adaptor gone")).Once()
	conn := NewGobotConn(adaptor, 1)
	ctx := context.Background()
	require.NoError(t, conn.SelectAddr(ctx, 0x70))
	require.NoError(t, conn.SelectAddr(ctx, 0x5E))

	err := conn.Close()
	assert.ErrorContains(t, err, "close 0x70: mux busy")
	assert.ErrorContains(t, err, "adaptor gone")
	assert.Equal(t, 1, mux.closed)
	assert.Equal(t, 1, sensor.closed)

	_, err = conn.Write(ctx, []byte{0x01})
	assert.ErrorIs(t, err, magmux.ErrSlaveSelect)
	adaptor.AssertExpectations(t)
}
