// Package modbus mirrors compressed frames into Modbus holding registers.
package modbus

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// protocol limit for one write multiple registers request
const maxRegisters = 123

const DefaultTimeout = 2 * time.Second

var ErrFrame = errors.New("not a compressed frame")

type Config struct {
	Endpoint string        `yaml:"endpoint"`
	UnitID   uint8         `yaml:"unit_id"`
	Address  uint16        `yaml:"address"`
	Timeout  time.Duration `yaml:"timeout"`
}

// registerWriter is the part of modbus.Client the sink uses.
type registerWriter interface {
	WriteMultipleRegisters(address, quantity uint16, value []byte) (results []byte, err error)
}

// Writer writes the values of each frame starting at a fixed register address.
type Writer struct {
	mu        sync.Mutex
	handler   *modbus.TCPClientHandler
	client    registerWriter
	address   uint16
	signature []byte
}

// Dial connects to a Modbus TCP endpoint. Frames must end with signature.
func Dial(cfg Config, signature []byte) (*Writer, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbus sink: endpoint required")
	}
	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	if h.Timeout == 0 {
		h.Timeout = DefaultTimeout
	}
	h.SlaveId = cfg.UnitID
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbus connect %s: %w", cfg.Endpoint, err)
	}
	w := newWriter(modbus.NewClient(h), cfg.Address, signature)
	w.handler = h
	return w, nil
}

func newWriter(client registerWriter, address uint16, signature []byte) *Writer {
	return &Writer{client: client, address: address, signature: signature}
}

// Write strips the signature and writes each little-endian value as one register,
// splitting large frames into several requests.
func (w *Writer) Write(p []byte) (int, error) {
	regs, err := w.registers(p)
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for start := 0; start < len(regs); start += maxRegisters {
		end := min(start+maxRegisters, len(regs))
		chunk := regs[start:end]
		_, err := w.client.WriteMultipleRegisters(w.address+uint16(start), uint16(len(chunk)), packRegisters(chunk))
		if err != nil {
			return 0, fmt.Errorf("modbus write at %d: %w", w.address+uint16(start), err)
		}
	}
	return len(p), nil
}

func (w *Writer) registers(p []byte) ([]uint16, error) {
	if !bytes.HasSuffix(p, w.signature) {
		return nil, fmt.Errorf("%w: missing signature", ErrFrame)
	}
	body := p[:len(p)-len(w.signature)]
	if len(body)%2 != 0 {
		return nil, fmt.Errorf("%w: odd payload length %d", ErrFrame, len(body))
	}
	regs := make([]uint16, len(body)/2)
	for i := range regs {
		regs[i] = uint16(body[2*i]) | uint16(body[2*i+1])<<8
	}
	return regs, nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handler == nil {
		return nil
	}
	return w.handler.Close()
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
