package i2c

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/mklimuk/magmux"
	"github.com/mklimuk/magmux/snsctx"
)

// DefaultBufferSize matches the per-transaction payload limit of the kernel
// i2c-dev driver on the target boards.
const DefaultBufferSize = 100

// NoAddress marks that no slave address is selected.
const NoAddress byte = 0

// Opener opens the underlying device node.
type Opener func(ctx context.Context) (magmux.Conn, error)

type TransportOpts struct {
	BufferSize int
}

type TransportOpt func(*TransportOpts)

func WithBufferSize(size int) TransportOpt {
	return func(o *TransportOpts) {
		o.BufferSize = size
	}
}

// Transport owns the single connection to a bus device node. Callers must keep
// the select, begin, write, end ordering; Transport is not safe for concurrent
// use because the bus is strictly serial.
type Transport struct {
	open     Opener
	conn     magmux.Conn
	selected byte

	tx   []byte
	txN  int
	rx   []byte
	rxN  int
	txTo byte
}

func NewTransport(open Opener, opts ...TransportOpt) *Transport {
	config := TransportOpts{BufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(&config)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	return &Transport{
		open: open,
		tx:   make([]byte, config.BufferSize),
		rx:   make([]byte, config.BufferSize),
	}
}

// Open connects to the device node. Calling it on an open transport is a no-op.
func (t *Transport) Open(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}
	conn, err := t.open(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", magmux.ErrBusOpen, err)
	}
	t.conn = conn
	t.selected = NoAddress
	return nil
}

// Selected returns the currently selected slave address.
func (t *Transport) Selected() byte {
	return t.selected
}

// Select makes address the target of subsequent transfers. Selecting the
// address that is already selected does not touch the bus.
func (t *Transport) Select(ctx context.Context, address byte) error {
	if t.conn == nil {
		return magmux.ErrBusClosed
	}
	if address != NoAddress && address == t.selected {
		return nil
	}
	if err := t.conn.SelectAddr(ctx, address); err != nil {
		t.selected = NoAddress
		return fmt.Errorf("%w %#x: %w", magmux.ErrSlaveSelect, address, err)
	}
	t.selected = address
	return nil
}

// BeginTransaction empties the outbound buffer and selects address if needed.
func (t *Transport) BeginTransaction(ctx context.Context, address byte) error {
	t.txN = 0
	t.txTo = address
	if address == t.selected && address != NoAddress {
		return nil
	}
	return t.Select(ctx, address)
}

// Write appends p to the outbound buffer. Bytes beyond the buffer capacity are
// dropped and reported with ErrTxOverflow.
func (t *Transport) Write(p []byte) (int, error) {
	n := copy(t.tx[t.txN:], p)
	t.txN += n
	if n < len(p) {
		return n, fmt.Errorf("%w: %d of %d bytes buffered", magmux.ErrTxOverflow, n, len(p))
	}
	return n, nil
}

func (t *Transport) WriteByte(c byte) error {
	_, err := t.Write([]byte{c})
	return err
}

// EndTransaction flushes the outbound buffer in one write. It always clears the
// buffer and the selected address so the next transaction reselects.
func (t *Transport) EndTransaction(ctx context.Context) error {
	defer func() {
		t.txN = 0
		t.selected = NoAddress
	}()
	if t.txN == 0 {
		return magmux.ErrNothingToSend
	}
	if t.conn == nil {
		return magmux.ErrBusClosed
	}
	if snsctx.IsVerbose(ctx) {
		slog.Debug("bus write", append([]any{"address", fmt.Sprintf("%#x", t.txTo), "data", hex.EncodeToString(t.tx[:t.txN])},
			snsctx.SensorAttrs(ctx)...)...)
	}
	n, err := t.conn.Write(ctx, t.tx[:t.txN])
	if n != t.txN {
		if err == nil {
			err = fmt.Errorf("%d of %d bytes written", n, t.txN)
		}
		return fmt.Errorf("%w to %#x: %w", magmux.ErrShortWrite, t.txTo, err)
	}
	if err != nil {
		return fmt.Errorf("write to %#x failed: %w", t.txTo, err)
	}
	return nil
}

// RequestFrom performs a blocking read of quantity bytes from address. A short
// read yields ErrShortRead and no data. The returned slice is owned by the
// caller.
func (t *Transport) RequestFrom(ctx context.Context, address byte, quantity int) ([]byte, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("%w from %#x: negative quantity %d", magmux.ErrShortRead, address, quantity)
	}
	if err := t.BeginTransaction(ctx, address); err != nil {
		return nil, err
	}
	if quantity > len(t.rx) {
		slog.Warn("requested more bytes than the receive buffer holds, clamping",
			"address", fmt.Sprintf("%#x", address), "requested", quantity, "capacity", len(t.rx))
		quantity = len(t.rx)
	}
	t.rxN = 0
	n, err := t.conn.Read(ctx, t.rx[:quantity])
	if n != quantity {
		t.selected = NoAddress
		if err == nil {
			err = fmt.Errorf("%d of %d bytes read", n, quantity)
		}
		return nil, fmt.Errorf("%w from %#x: %w", magmux.ErrShortRead, address, err)
	}
	t.rxN = n
	if snsctx.IsVerbose(ctx) {
		slog.Debug("bus read", append([]any{"address", fmt.Sprintf("%#x", address), "data", hex.EncodeToString(t.rx[:n])},
			snsctx.SensorAttrs(ctx)...)...)
	}
	// nothing is buffered, so this only releases the address
	_ = t.EndTransaction(ctx)
	out := make([]byte, n)
	copy(out, t.rx[:n])
	return out, nil
}

// Close releases the connection. It is safe to call more than once.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.selected = NoAddress
	t.txN = 0
	return err
}
