package i2c

import (
	"context"
	"errors"
	"fmt"

	"gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/magmux"
)

var _ magmux.Conn = &GobotConn{}

// GobotAdaptor is the part of a gobot platform adaptor GobotConn needs.
type GobotAdaptor interface {
	i2c.Connector
	Finalize() error
}

// GobotConn drives the bus through a gobot platform adaptor, keeping one
// connection per slave address.
type GobotConn struct {
	adaptor GobotAdaptor
	busNr   int
	conns   map[byte]i2c.Connection
	current i2c.Connection
}

// NewGobotConn uses busNr, or the adaptor's default bus when busNr is negative.
func NewGobotConn(adaptor GobotAdaptor, busNr int) *GobotConn {
	if busNr < 0 {
		busNr = adaptor.DefaultI2cBus()
	}
	return &GobotConn{
		adaptor: adaptor,
		busNr:   busNr,
		conns:   make(map[byte]i2c.Connection),
	}
}

func (g *GobotConn) SelectAddr(ctx context.Context, address byte) error {
	if c, ok := g.conns[address]; ok {
		g.current = c
		return nil
	}
	c, err := g.adaptor.GetI2cConnection(int(address), g.busNr)
	if err != nil {
		g.current = nil
		return fmt.Errorf("gobot connection to %#x on bus %d: %w", address, g.busNr, err)
	}
	g.conns[address] = c
	g.current = c
	return nil
}

func (g *GobotConn) Write(ctx context.Context, buffer []byte) (int, error) {
	if g.current == nil {
		return 0, magmux.ErrSlaveSelect
	}
	return g.current.Write(buffer)
}

func (g *GobotConn) Read(ctx context.Context, buffer []byte) (int, error) {
	if g.current == nil {
		return 0, magmux.ErrSlaveSelect
	}
	return g.current.Read(buffer)
}

func (g *GobotConn) Close() error {
	var errs []error
	for addr, c := range g.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %#x: %w", addr, err))
		}
	}
	g.conns = map[byte]i2c.Connection{}
	g.current = nil
	if err := g.adaptor.Finalize(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
