package modbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signature = []byte{'\r', '\n'}

type request struct {
	address  uint16
	quantity uint16
	value    []byte
}

type fakeClient struct {
	requests []request
	err      error
}

func (f *fakeClient) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	f.requests = append(f.requests, request{address, quantity, value})
	return nil, f.err
}

func TestWriter_Write(t *testing.T) {
	client := &fakeClient{}
	w := newWriter(client, 100, signature)
	// 150 and -225 little-endian
	frame := []byte{0x96, 0x00, 0x1F, 0xFF, '\r', '\n'}

	n, err := w.Write(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)
	require.Len(t, client.requests, 1)
	assert.Equal(t, request{100, 2, []byte{0x00, 0x96, 0xFF, 0x1F}}, client.requests[0])
}

func TestWriter_SplitsLargeFrames(t *testing.T) {
	client := &fakeClient{}
	w := newWriter(client, 0, signature)
	frame := append(make([]byte, 2*(maxRegisters+5)), signature...)

	_, err := w.Write(frame)
	require.NoError(t, err)
	require.Len(t, client.requests, 2)
	assert.Equal(t, uint16(maxRegisters), client.requests[0].quantity)
	assert.Equal(t, uint16(maxRegisters), client.requests[1].address)
	assert.Equal(t, uint16(5), client.requests[1].quantity)
}

func TestWriter_RejectsPlainFrames(t *testing.T) {
	w := newWriter(&fakeClient{}, 0, signature)

	_, err := w.Write([]byte("{[1.00;2.00;3.00]}\n"))
	assert.ErrorIs(t, err, ErrFrame)
	_, err = w.Write([]byte{0x01, '\r', '\n'})
	assert.ErrorIs(t, err, ErrFrame)
}

func TestWriter_ClientError(t *testing.T) {
	boom := errors.New("exception 2")
	w := newWriter(&fakeClient{err: boom}, 0, signature)

	_, err := w.Write([]byte{0x01, 0x00, '\r', '\n'})
	assert.ErrorIs(t, err, boom)
}

func TestWriter_CloseWithoutHandler(t *testing.T) {
	assert.NoError(t, newWriter(&fakeClient{}, 0, signature).Close())
}
