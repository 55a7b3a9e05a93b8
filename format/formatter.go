// Package format turns a sweep's readings into output frames.
package format

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mklimuk/magmux"
)

const DefaultMultiplier = 100

// Signature terminates every compressed frame.
var Signature = []byte{'\r', '\n'}

type Mode int

const (
	Plain Mode = iota
	Compressed
)

func (m Mode) String() string {
	switch m {
	case Plain:
		return "plain"
	case Compressed:
		return "compressed"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "plain", "":
		return Plain, nil
	case "compressed":
		return Compressed, nil
	}
	return Plain, fmt.Errorf("unknown output format %q", s)
}

type FormatterOpts struct {
	Multiplier float64
	SendAmount bool
}

type FormatterOpt func(*FormatterOpts)

func WithMultiplier(m float64) FormatterOpt {
	return func(o *FormatterOpts) {
		o.Multiplier = m
	}
}

// WithAmount includes the field magnitude in compressed spherical frames.
func WithAmount(send bool) FormatterOpt {
	return func(o *FormatterOpts) {
		o.SendAmount = send
	}
}

type Formatter struct {
	mode Mode
	repr magmux.Representation
	opts FormatterOpts
}

func New(mode Mode, repr magmux.Representation, opts ...FormatterOpt) *Formatter {
	o := FormatterOpts{Multiplier: DefaultMultiplier, SendAmount: true}
	for _, opt := range opts {
		opt(&o)
	}
	return &Formatter{mode: mode, repr: repr, opts: o}
}

func (f *Formatter) Mode() Mode { return f.mode }

// Components returns how many values a sensor contributes to a compressed frame.
func (f *Formatter) Components() int {
	if f.repr == magmux.Spherical && !f.opts.SendAmount {
		return 2
	}
	return 3
}

// Format builds the frame for the whole table. The returned slice is owned by the caller.
func (f *Formatter) Format(t *magmux.Table) []byte {
	if f.mode == Compressed {
		return f.compressed(t)
	}
	return f.plain(t)
}

func (f *Formatter) plain(t *magmux.Table) []byte {
	buf := make([]byte, 0, t.Len()*24+t.Muxes()*2+1)
	for m := 0; m < t.Muxes(); m++ {
		buf = append(buf, '{')
		for c := 0; c < t.PerMux(); c++ {
			r := t.Get(magmux.Coordinate{Mux: m, Channel: c})
			buf = fmt.Appendf(buf, "[%.2f;%.2f;%.2f]", r.Components[0], r.Components[1], r.Components[2])
		}
		buf = append(buf, '}')
	}
	return append(buf, '\n')
}

func (f *Formatter) compressed(t *magmux.Table) []byte {
	n := f.Components()
	buf := make([]byte, 0, t.Len()*n*2+len(Signature))
	for _, c := range t.Coordinates() {
		r := t.Get(c)
		for i := 0; i < n; i++ {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(Encode(r.Components[i], f.opts.Multiplier)))
		}
	}
	return append(buf, Signature...)
}

// Encode scales v to a 16-bit fixed-point value. Out of range values wrap.
func Encode(v, multiplier float64) int16 {
	return int16(int64(math.Round(v * multiplier)))
}

// Decode reverses Encode.
func Decode(raw int16, multiplier float64) float64 {
	return float64(raw) / multiplier
}
