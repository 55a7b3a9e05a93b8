// Package mux drives TCA9548A style I2C multiplexers chained on one bus.
package mux

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mklimuk/magmux"
)

const DefaultBaseAddress = 0x70

// channelsOff closes every downstream channel
const channelsOff = 0x00

// Transactor is the part of the bus transport the selector needs.
type Transactor interface {
	BeginTransaction(ctx context.Context, address byte) error
	WriteByte(c byte) error
	EndTransaction(ctx context.Context) error
}

// Selector makes exactly one sensor channel live across all multiplexers.
// Multiplexers occupy addresses base..base+muxes-1.
type Selector struct {
	bus    Transactor
	base   byte
	muxes  int
	static bool
	primed bool
}

// NewSelector builds a selector for the given topology. A topology with a single
// multiplexer carrying a single sensor is static: once primed it never re-addresses.
func NewSelector(bus Transactor, base byte, muxes, perMux int) *Selector {
	return &Selector{
		bus:    bus,
		base:   base,
		muxes:  muxes,
		static: muxes == 1 && perMux == 1,
	}
}

func (s *Selector) Muxes() int { return s.muxes }

// Static reports whether channel selection is skipped after priming.
func (s *Selector) Static() bool { return s.static }

// Address returns the bus address of the multiplexer with the given index.
func (s *Selector) Address(mux int) byte {
	return s.base + byte(mux)
}

// Prime marks the end of the initialization pass.
func (s *Selector) Prime() {
	s.primed = true
}

// DisablePrevious closes all channels of the multiplexer preceding mux in the chain,
// wrapping from the first to the last one. It does nothing with a single multiplexer.
func (s *Selector) DisablePrevious(ctx context.Context, mux int) error {
	if s.muxes <= 1 {
		return nil
	}
	if err := s.checkMux(mux); err != nil {
		return err
	}
	return s.Disable(ctx, (mux-1+s.muxes)%s.muxes)
}

// Disable closes all channels of one multiplexer.
func (s *Selector) Disable(ctx context.Context, mux int) error {
	if err := s.checkMux(mux); err != nil {
		return err
	}
	if err := s.send(ctx, s.Address(mux), channelsOff); err != nil {
		return fmt.Errorf("could not disable multiplexer %d: %w", mux, err)
	}
	return nil
}

// SelectChannel opens a single channel on the given multiplexer.
func (s *Selector) SelectChannel(ctx context.Context, mux, channel int) error {
	if channel < 0 || channel >= magmux.MaxChannels {
		return fmt.Errorf("%w: %d", magmux.ErrInvalidChannel, channel)
	}
	if err := s.checkMux(mux); err != nil {
		return err
	}
	if s.static && s.primed {
		return nil
	}
	if err := s.send(ctx, s.Address(mux), 1<<channel); err != nil {
		return fmt.Errorf("could not select channel %d on multiplexer %d: %w", channel, mux, err)
	}
	return nil
}

// DisableAll closes the channels of every multiplexer. All of them are attempted;
// the first error is returned.
func (s *Selector) DisableAll(ctx context.Context) error {
	var first error
	for m := 0; m < s.muxes; m++ {
		err := s.send(ctx, s.Address(m), channelsOff)
		if err != nil {
			slog.Warn("could not disable multiplexer", "mux", m, "address", fmt.Sprintf("%#x", s.Address(m)), "error", err)
			if first == nil {
				first = fmt.Errorf("could not disable multiplexer %d: %w", m, err)
			}
		}
	}
	return first
}

func (s *Selector) checkMux(mux int) error {
	if mux < 0 || mux >= s.muxes {
		return fmt.Errorf("multiplexer index %d out of range [0,%d)", mux, s.muxes)
	}
	return nil
}

func (s *Selector) send(ctx context.Context, address byte, mask byte) error {
	if err := s.bus.BeginTransaction(ctx, address); err != nil {
		return err
	}
	if err := s.bus.WriteByte(mask); err != nil {
		return err
	}
	return s.bus.EndTransaction(ctx)
}
