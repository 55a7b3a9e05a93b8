// Package serial writes frames to a serial port.
package serial

import (
	"fmt"
	"io"
	"time"

	"github.com/goburrow/serial"
)

const (
	DefaultBaudRate = 115200
	DefaultTimeout  = time.Second
)

type Config struct {
	Address  string        `yaml:"address"`
	BaudRate int           `yaml:"baud_rate"`
	DataBits int           `yaml:"data_bits"`
	StopBits int           `yaml:"stop_bits"`
	Parity   string        `yaml:"parity"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Port is a serial sink.
type Port struct {
	address string
	port    io.ReadWriteCloser
}

// Open opens the port described by cfg. Zero values fall back to 115200 8N1.
func Open(cfg Config) (*Port, error) {
	p, err := serial.Open(portConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("could not open serial port %s: %w", cfg.Address, err)
	}
	return &Port{address: cfg.Address, port: p}, nil
}

func portConfig(cfg Config) *serial.Config {
	c := &serial.Config{
		Address:  cfg.Address,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	}
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

func (p *Port) Write(b []byte) (int, error) {
	n, err := p.port.Write(b)
	if err != nil {
		return n, fmt.Errorf("serial write to %s failed: %w", p.address, err)
	}
	return n, nil
}

func (p *Port) Close() error {
	return p.port.Close()
}
