package magmux

import (
	"errors"
	"fmt"
)

// MaxChannels is the number of downstream channels of one multiplexer chip.
const MaxChannels = 8

var (
	ErrSensorUnavailable = errors.New("sensor reading unavailable")
	ErrInitExhausted     = errors.New("sensor initialization exhausted")
	ErrInvalidChannel    = errors.New("invalid multiplexer channel")
)

// Representation selects the three components a sensor reports.
type Representation int

const (
	Cartesian Representation = iota
	Spherical
)

func (r Representation) String() string {
	switch r {
	case Cartesian:
		return "cartesian"
	case Spherical:
		return "spherical"
	default:
		return fmt.Sprintf("representation(%d)", int(r))
	}
}

// ParseRepresentation accepts "cartesian" or "spherical".
func ParseRepresentation(s string) (Representation, error) {
	switch s {
	case "cartesian", "":
		return Cartesian, nil
	case "spherical":
		return Spherical, nil
	}
	return Cartesian, fmt.Errorf("unknown representation %q", s)
}

// Coordinate identifies one sensor by its multiplexer index (relative to the
// base address) and channel.
type Coordinate struct {
	Mux     int
	Channel int
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%d/%d", c.Mux, c.Channel)
}

// Reading holds x/y/z or azimuth/polar/amount.
type Reading struct {
	Components [3]float64
	Valid      bool
}

func NewReading(a, b, c float64) Reading {
	return Reading{Components: [3]float64{a, b, c}, Valid: true}
}

// NonZero reports whether all three components are non-zero at once.
func (r Reading) NonZero() bool {
	return r.Components[0] != 0 && r.Components[1] != 0 && r.Components[2] != 0
}

// Canonical folds both magnet orientations into the half-space where the
// third component is non-negative.
func (r Reading) Canonical() Reading {
	if r.Components[2] < 0 {
		for i := range r.Components {
			r.Components[i] = -r.Components[i]
		}
	}
	return r
}

// Table is the reading buffer: one slot per sensor, sized once from the
// topology and overwritten in place.
type Table struct {
	muxes  int
	perMux int
	slots  []Reading
}

func NewTable(muxes, perMux int) *Table {
	return &Table{
		muxes:  muxes,
		perMux: perMux,
		slots:  make([]Reading, muxes*perMux),
	}
}

func (t *Table) Muxes() int  { return t.muxes }
func (t *Table) PerMux() int { return t.perMux }
func (t *Table) Len() int    { return len(t.slots) }

// Index returns the slot index of c, or -1 when c is outside the topology.
func (t *Table) Index(c Coordinate) int {
	if c.Mux < 0 || c.Mux >= t.muxes || c.Channel < 0 || c.Channel >= t.perMux {
		return -1
	}
	return c.Mux*t.perMux + c.Channel
}

func (t *Table) Get(c Coordinate) Reading {
	i := t.Index(c)
	if i < 0 {
		return Reading{}
	}
	return t.slots[i]
}

func (t *Table) Set(c Coordinate, r Reading) {
	i := t.Index(c)
	if i < 0 {
		return
	}
	t.slots[i] = r
}

// Coordinates lists every slot in sweep order: multiplexer first, then channel.
func (t *Table) Coordinates() []Coordinate {
	out := make([]Coordinate, 0, len(t.slots))
	for m := 0; m < t.muxes; m++ {
		for ch := 0; ch < t.perMux; ch++ {
			out = append(out, Coordinate{Mux: m, Channel: ch})
		}
	}
	return out
}
