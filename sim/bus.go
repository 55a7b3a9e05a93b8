// Package sim simulates an I2C bus carrying multiplexed magnetic sensors.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/magmux"
)

var ErrNack = errors.New("no acknowledge")
var ErrCollision = errors.New("bus collision")

const generalCall = 0x00

// Mux models a TCA9548A multiplexer.
type Mux struct {
	mask    byte
	sensors [magmux.MaxChannels]*Sensor
}

// Stats counts bus operations.
type Stats struct {
	Selects    int
	Writes     int
	Reads      int
	Collisions int
}

type Topology struct {
	BaseAddress   byte
	Muxes         int
	PerMux        int
	SensorAddress byte
}

var _ magmux.Conn = &Bus{}

// Bus is an in-memory magmux.Conn.
type Bus struct {
	mx         sync.Mutex
	topo       Topology
	muxes      []*Mux
	selected   byte
	closed     bool
	shortWrite bool
	shortRead  bool
	stats      Stats
}

// New builds a bus with a sensor on the first PerMux channels of every multiplexer.
// Sensors get distinct fields so their readings can be told apart.
func New(topo Topology) *Bus {
	b := &Bus{topo: topo}
	for m := 0; m < topo.Muxes; m++ {
		mux := &Mux{}
		for c := 0; c < topo.PerMux && c < magmux.MaxChannels; c++ {
			mux.sensors[c] = NewSensor(float64(m+1), float64(c+1), 10+float64(m*magmux.MaxChannels+c))
		}
		b.muxes = append(b.muxes, mux)
	}
	return b
}

// Sensor returns the sensor model wired to the given coordinate.
func (b *Bus) Sensor(c magmux.Coordinate) *Sensor {
	if c.Mux < 0 || c.Mux >= len(b.muxes) || c.Channel < 0 || c.Channel >= magmux.MaxChannels {
		return nil
	}
	return b.muxes[c.Mux].sensors[c.Channel]
}

// Mask returns the channel mask of a multiplexer.
func (b *Bus) Mask(mux int) byte {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.muxes[mux].mask
}

func (b *Bus) Stats() Stats {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.stats
}

// FailNextWrite makes the next write transfer one byte short.
func (b *Bus) FailNextWrite() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.shortWrite = true
}

// FailNextRead makes the next read transfer one byte short.
func (b *Bus) FailNextRead() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.shortRead = true
}

func (b *Bus) SelectAddr(ctx context.Context, address byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return magmux.ErrBusClosed
	}
	b.stats.Selects++
	b.selected = address
	return nil
}

func (b *Bus) Write(ctx context.Context, p []byte) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return 0, magmux.ErrBusClosed
	}
	b.stats.Writes++
	if b.shortWrite {
		b.shortWrite = false
		return len(p) - 1, nil
	}
	switch {
	case b.selected == generalCall:
		for _, s := range b.live() {
			s.reset()
		}
		return len(p), nil
	case b.isMux(b.selected):
		if len(p) == 0 {
			return 0, nil
		}
		b.muxes[b.selected-b.topo.BaseAddress].mask = p[len(p)-1]
		return len(p), nil
	case b.selected == b.topo.SensorAddress:
		s, err := b.target()
		if err != nil {
			return 0, err
		}
		s.configure(p)
		return len(p), nil
	}
	return 0, fmt.Errorf("%w from %#x", ErrNack, b.selected)
}

func (b *Bus) Read(ctx context.Context, p []byte) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return 0, magmux.ErrBusClosed
	}
	b.stats.Reads++
	short := b.shortRead
	b.shortRead = false
	var n int
	switch {
	case b.isMux(b.selected):
		for i := range p {
			p[i] = b.muxes[b.selected-b.topo.BaseAddress].mask
		}
		n = len(p)
	case b.selected == b.topo.SensorAddress:
		s, err := b.target()
		if err != nil {
			return 0, err
		}
		n = copy(p, s.registers())
	default:
		return 0, fmt.Errorf("%w from %#x", ErrNack, b.selected)
	}
	if short && n > 0 {
		n--
	}
	return n, nil
}

func (b *Bus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.closed = true
	return nil
}

func (b *Bus) isMux(address byte) bool {
	return address >= b.topo.BaseAddress && int(address-b.topo.BaseAddress) < len(b.muxes)
}

// live returns the sensors on enabled channels of all multiplexers.
func (b *Bus) live() []*Sensor {
	var out []*Sensor
	for _, m := range b.muxes {
		for c, s := range m.sensors {
			if s != nil && m.mask&(1<<c) != 0 {
				out = append(out, s)
			}
		}
	}
	return out
}

func (b *Bus) target() (*Sensor, error) {
	live := b.live()
	switch len(live) {
	case 0:
		return nil, fmt.Errorf("%w from %#x", ErrNack, b.selected)
	case 1:
		return live[0], nil
	}
	b.stats.Collisions++
	return nil, fmt.Errorf("%w: %d sensors answer at %#x", ErrCollision, len(live), b.selected)
}
