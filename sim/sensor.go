package sim

import (
	"math"
	"sync"
)

const (
	readRegisters = 10
	fieldLSB      = 0.098
	tempOffset    = 340
	tempLSB       = 1.1
	tempRef       = 25
)

// factory bits copied by drivers into their write registers
var factory = [3]byte{0x08, 0x55, 0x0A}

// Sensor models a TLV493D register file.
type Sensor struct {
	mx      sync.Mutex
	x, y, z float64
	temp    float64
	step    float64
	stuck   int
	frame   byte
	config  []byte
	resets  int
	reads   int
}

// NewSensor creates a sensor exposed to the field (x, y, z) in mT.
func NewSensor(x, y, z float64) *Sensor {
	return &Sensor{x: x, y: y, z: z, temp: tempRef}
}

// SetField changes the field the sensor measures.
func (s *Sensor) SetField(x, y, z float64) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.x, s.y, s.z = x, y, z
}

// SetStuck makes the sensor return all-zero frames until it has been reset
// the given number of times.
func (s *Sensor) SetStuck(resets int) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.stuck = resets
}

// SetRotation rotates the field around the z axis by deg degrees on every read.
func (s *Sensor) SetRotation(deg float64) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.step = deg * math.Pi / 180
}

func (s *Sensor) Resets() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.resets
}

func (s *Sensor) Reads() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.reads
}

// Config returns the last write register set.
func (s *Sensor) Config() []byte {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]byte(nil), s.config...)
}

func (s *Sensor) reset() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.resets++
	if s.stuck > 0 {
		s.stuck--
	}
	s.frame = 0
}

func (s *Sensor) configure(p []byte) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.config = append(s.config[:0], p...)
}

func (s *Sensor) registers() []byte {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.reads++
	r := make([]byte, readRegisters)
	x, y, z := s.x, s.y, s.z
	if s.stuck > 0 {
		x, y, z = 0, 0, 0
	}
	bx, by, bz := raw12(x/fieldLSB), raw12(y/fieldLSB), raw12(z/fieldLSB)
	t := raw12((s.temp-tempRef)/tempLSB + tempOffset)
	r[0] = byte(bx >> 4)
	r[1] = byte(by >> 4)
	r[2] = byte(bz >> 4)
	r[3] = byte(t>>4)&0xF0 | s.frame<<2
	r[4] = byte(bx&0x0F)<<4 | byte(by&0x0F)
	r[5] = byte(bz & 0x0F)
	r[6] = byte(t)
	copy(r[7:], factory[:])
	s.frame = (s.frame + 1) & 0x03
	if s.step != 0 {
		sin, cos := math.Sincos(s.step)
		s.x, s.y = s.x*cos-s.y*sin, s.x*sin+s.y*cos
	}
	return r
}

// raw12 rounds v to a 12-bit two's complement value.
func raw12(v float64) uint16 {
	n := int64(math.Round(v))
	if n > 2047 {
		n = 2047
	}
	if n < -2048 {
		n = -2048
	}
	return uint16(n) & 0x0FFF
}
