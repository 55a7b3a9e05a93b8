package i2c

import (
	"context"
	"io"

	"github.com/mklimuk/magmux"
)

var _ magmux.Conn = &BusConn{}

// BusConn presents an address-scoped bus as a device node connection. Address
// selection is recorded locally since every transfer carries its address.
type BusConn struct {
	bus     magmux.I2CBus
	address byte
}

func NewBusConn(bus magmux.I2CBus) *BusConn {
	return &BusConn{bus: bus}
}

func (c *BusConn) SelectAddr(ctx context.Context, address byte) error {
	c.address = address
	return nil
}

func (c *BusConn) Write(ctx context.Context, buffer []byte) (int, error) {
	if err := c.bus.WriteToAddr(ctx, c.address, buffer); err != nil {
		return 0, err
	}
	return len(buffer), nil
}

func (c *BusConn) Read(ctx context.Context, buffer []byte) (int, error) {
	if err := c.bus.ReadFromAddr(ctx, c.address, buffer); err != nil {
		return 0, err
	}
	return len(buffer), nil
}

// Close releases the bus and closes it when it supports closing.
func (c *BusConn) Close() error {
	err := c.bus.Release(context.Background())
	if closer, ok := c.bus.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			return cerr
		}
	}
	return err
}
