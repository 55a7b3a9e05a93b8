package magmux

import (
	"context"
	"errors"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// Transaction-level failures. All of them except ErrBusOpen are local to one
// sensor and one sweep.
var (
	ErrBusOpen       = errors.New("could not open bus")
	ErrSlaveSelect   = errors.New("slave address select failed")
	ErrShortWrite    = errors.New("short write")
	ErrShortRead     = errors.New("short read")
	ErrNothingToSend = errors.New("nothing to send")
	ErrTxOverflow    = errors.New("transmit buffer overflow")
	ErrBusClosed     = errors.New("bus is not open")
)

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is an address-scoped bus where every transfer names its target.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// Conn is one open connection to a bus device node. The slave address is
// sticky: SelectAddr sets it and subsequent Read and Write calls target it.
// Read and Write report the number of bytes actually transferred so that
// short transfers are observable.
type Conn interface {
	SelectAddr(ctx context.Context, address byte) error
	Write(ctx context.Context, buffer []byte) (int, error)
	Read(ctx context.Context, buffer []byte) (int, error)
	Close() error
}
