// Package magnetic contains drivers for 3D magnetic field sensors.
package magnetic

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mklimuk/magmux/snsctx"
)

const (
	DefaultAddress   = 0x5E
	AlternateAddress = 0x1F
	// GeneralCallAddress is used to reset every TLV493D on the bus
	GeneralCallAddress = 0x00
)

const (
	readRegisters  = 10
	writeRegisters = 4
	// one LSB of the magnetic field registers in mT
	fieldLSB = 0.098
	// temperature conversion constants
	tempOffset = 340
	tempLSB    = 1.1
	tempRef    = 25
)

var ErrStaleFrame = fmt.Errorf("stale frame")
var ErrConversion = fmt.Errorf("conversion in progress")
var ErrNotStarted = fmt.Errorf("sensor not started")

// AccessMode is a TLV493D power mode.
type AccessMode int

const (
	PowerDown AccessMode = iota
	Fast
	LowPower
	UltraLowPower
	MasterControlled
)

type modeSettings struct {
	fast     bool
	lowPower bool
	lpPeriod bool
	delay    time.Duration
}

var modes = map[AccessMode]modeSettings{
	PowerDown:        {delay: 1000 * time.Millisecond},
	Fast:             {fast: true},
	LowPower:         {lowPower: true, lpPeriod: true, delay: 10 * time.Millisecond},
	UltraLowPower:    {lowPower: true, delay: 100 * time.Millisecond},
	MasterControlled: {fast: true, lowPower: true, lpPeriod: true, delay: 10 * time.Millisecond},
}

var modeNames = map[AccessMode]string{
	PowerDown:        "powerdown",
	Fast:             "fast",
	LowPower:         "lowpower",
	UltraLowPower:    "ultralowpower",
	MasterControlled: "master",
}

func (m AccessMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseAccessMode maps a configuration name to an access mode.
func ParseAccessMode(s string) (AccessMode, error) {
	for mode, name := range modeNames {
		if name == s {
			return mode, nil
		}
	}
	return PowerDown, fmt.Errorf("unknown access mode %q", s)
}

// Bus is the transaction API the driver talks through.
type Bus interface {
	BeginTransaction(ctx context.Context, address byte) error
	Write(p []byte) (int, error)
	EndTransaction(ctx context.Context) error
	RequestFrom(ctx context.Context, address byte, quantity int) ([]byte, error)
}

type TLV493DOpts struct {
	Address     byte
	Mode        AccessMode
	Temperature bool
}

type TLV493DOpt func(*TLV493DOpts)

func WithAddress(address byte) TLV493DOpt {
	return func(o *TLV493DOpts) {
		o.Address = address
	}
}

func WithAccessMode(mode AccessMode) TLV493DOpt {
	return func(o *TLV493DOpts) {
		o.Mode = mode
	}
}

func WithTemperature(enabled bool) TLV493DOpt {
	return func(o *TLV493DOpts) {
		o.Temperature = enabled
	}
}

// TLV493D represents Infineon TLV493D-A1B6 3D magnetic sensor
type TLV493D struct {
	bus       Bus
	opts      TLV493DOpts
	read      [readRegisters]byte
	write     [writeRegisters]byte
	started   bool
	lastFrame int
	x, y, z   float64
	temp      float64
}

func NewTLV493D(bus Bus, opts ...TLV493DOpt) *TLV493D {
	o := TLV493DOpts{
		Address:     DefaultAddress,
		Mode:        Fast,
		Temperature: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &TLV493D{bus: bus, opts: o, lastFrame: -1}
}

func (s *TLV493D) Address() byte { return s.opts.Address }

// Begin resets the sensor and loads the factory settings the write registers depend on.
func (s *TLV493D) Begin(ctx context.Context) error {
	s.started = false
	s.lastFrame = -1
	if err := s.reset(ctx); err != nil {
		// devices often NACK the general call while resetting
		slog.Debug("general call reset not acknowledged", "error", err)
	}
	data, err := s.bus.RequestFrom(ctx, s.opts.Address, readRegisters)
	if err != nil {
		return fmt.Errorf("could not read factory settings: %w", err)
	}
	copy(s.read[:], data)
	s.write = [writeRegisters]byte{}
	s.write[1] = s.read[7] & 0x18
	s.write[2] = s.read[8]
	s.write[3] = s.read[9] & 0x1F
	s.started = true
	return nil
}

// Configure writes the access mode and temperature setting to the sensor.
func (s *TLV493D) Configure(ctx context.Context) error {
	if !s.started {
		return ErrNotStarted
	}
	mode, ok := modes[s.opts.Mode]
	if !ok {
		return fmt.Errorf("unknown access mode %d", s.opts.Mode)
	}
	mod1 := s.write[1] & 0x18
	if mode.fast {
		mod1 |= 0x02
	}
	if mode.lowPower {
		mod1 |= 0x01
	}
	mod2 := s.write[3] & 0x1F
	// parity test enable
	mod2 |= 0x20
	if mode.lpPeriod {
		mod2 |= 0x40
	}
	if !s.opts.Temperature {
		mod2 |= 0x80
	}
	s.write[1] = mod1
	s.write[3] = mod2
	s.write[1] |= parity(s.write[:]) << 7
	return s.writeOut(ctx)
}

// MeasurementDelay returns how long a conversion takes in the configured mode.
func (s *TLV493D) MeasurementDelay() time.Duration {
	return modes[s.opts.Mode].delay
}

// UpdateData reads the latest conversion.
func (s *TLV493D) UpdateData(ctx context.Context) error {
	if !s.started {
		return ErrNotStarted
	}
	if s.opts.Mode == PowerDown || s.opts.Mode == MasterControlled {
		if err := s.writeOut(ctx); err != nil {
			return fmt.Errorf("could not trigger conversion: %w", err)
		}
	}
	data, err := s.bus.RequestFrom(ctx, s.opts.Address, readRegisters)
	if err != nil {
		return fmt.Errorf("could not read measurement: %w", err)
	}
	if snsctx.IsVerbose(ctx) {
		slog.Debug("tlv493d registers", append([]any{"address", fmt.Sprintf("%#x", s.opts.Address), "data", hex.EncodeToString(data)},
			snsctx.SensorAttrs(ctx)...)...)
	}
	copy(s.read[:], data)
	if s.read[3]&0x03 != 0 {
		return ErrConversion
	}
	frame := int(s.read[3]>>2) & 0x03
	if frame == s.lastFrame {
		return ErrStaleFrame
	}
	s.lastFrame = frame
	s.x, s.y, s.z = decodeField(s.read[:])
	s.temp = decodeTemperature(s.read[:])
	return nil
}

// X returns the field along the x axis in mT.
func (s *TLV493D) X() float64 { return s.x }
func (s *TLV493D) Y() float64 { return s.y }
func (s *TLV493D) Z() float64 { return s.z }

// Temperature returns the die temperature in Celsius.
func (s *TLV493D) Temperature() float64 { return s.temp }

// Azimuth returns the angle in the xy plane in degrees.
func (s *TLV493D) Azimuth() float64 {
	return radToDeg(math.Atan2(s.y, s.x))
}

// Polar returns the inclination from the xy plane in degrees.
func (s *TLV493D) Polar() float64 {
	return radToDeg(math.Atan2(s.z, math.Hypot(s.x, s.y)))
}

// Amount returns the field magnitude in mT.
func (s *TLV493D) Amount() float64 {
	return math.Sqrt(s.x*s.x + s.y*s.y + s.z*s.z)
}

func (s *TLV493D) reset(ctx context.Context) error {
	cmd := byte(0x00)
	if s.opts.Address == DefaultAddress {
		cmd = 0xFF
	}
	if err := s.bus.BeginTransaction(ctx, GeneralCallAddress); err != nil {
		return err
	}
	if _, err := s.bus.Write([]byte{cmd}); err != nil {
		return err
	}
	return s.bus.EndTransaction(ctx)
}

func (s *TLV493D) writeOut(ctx context.Context) error {
	if err := s.bus.BeginTransaction(ctx, s.opts.Address); err != nil {
		return err
	}
	if _, err := s.bus.Write(s.write[:]); err != nil {
		return err
	}
	return s.bus.EndTransaction(ctx)
}

func decodeField(r []byte) (float64, float64, float64) {
	x := signed12(uint16(r[0])<<4 | uint16(r[4]>>4))
	y := signed12(uint16(r[1])<<4 | uint16(r[4]&0x0F))
	z := signed12(uint16(r[2])<<4 | uint16(r[5]&0x0F))
	return float64(x) * fieldLSB, float64(y) * fieldLSB, float64(z) * fieldLSB
}

func decodeTemperature(r []byte) float64 {
	raw := signed12(uint16(r[3]&0xF0)<<4 | uint16(r[6]))
	return (float64(raw)-tempOffset)*tempLSB + tempRef
}

func signed12(v uint16) int16 {
	return int16(v<<4) >> 4
}

// parity returns the bit that makes the register set odd parity.
func parity(regs []byte) byte {
	var y byte
	for _, b := range regs {
		y ^= b
	}
	y ^= y >> 4
	y ^= y >> 2
	y ^= y >> 1
	return ^y & 0x01
}

func radToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}
