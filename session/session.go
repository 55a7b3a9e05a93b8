// Package session binds sensor drivers to their place in the multiplexer topology.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/magmux"
)

// Driver is a 3D magnetic sensor driver.
type Driver interface {
	Begin(ctx context.Context) error
	Configure(ctx context.Context) error
	MeasurementDelay() time.Duration
	UpdateData(ctx context.Context) error
	X() float64
	Y() float64
	Z() float64
	Azimuth() float64
	Polar() float64
	Amount() float64
}

// Session is one sensor at one coordinate.
type Session struct {
	coord  magmux.Coordinate
	driver Driver
	repr   magmux.Representation
}

func New(coord magmux.Coordinate, driver Driver, repr magmux.Representation) *Session {
	return &Session{coord: coord, driver: driver, repr: repr}
}

func (s *Session) Coordinate() magmux.Coordinate { return s.coord }

// Initialize starts and configures the driver. Failures are only logged.
func (s *Session) Initialize(ctx context.Context) {
	if err := s.driver.Begin(ctx); err != nil {
		slog.Debug("sensor begin failed", "mux", s.coord.Mux, "channel", s.coord.Channel, "error", err)
	}
	if err := s.driver.Configure(ctx); err != nil {
		slog.Debug("sensor configure failed", "mux", s.coord.Mux, "channel", s.coord.Channel, "error", err)
	}
}

// Measure waits for a conversion and returns the canonical reading. Any driver
// failure is reported as ErrSensorUnavailable.
func (s *Session) Measure(ctx context.Context) (magmux.Reading, error) {
	if d := s.driver.MeasurementDelay(); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return magmux.Reading{}, ctx.Err()
		}
	}
	if err := s.driver.UpdateData(ctx); err != nil {
		return magmux.Reading{}, fmt.Errorf("%w: %s: %w", magmux.ErrSensorUnavailable, s.coord, err)
	}
	var r magmux.Reading
	if s.repr == magmux.Spherical {
		r = magmux.NewReading(s.driver.Azimuth(), s.driver.Polar(), s.driver.Amount())
	} else {
		r = magmux.NewReading(s.driver.X(), s.driver.Y(), s.driver.Z())
	}
	return r.Canonical(), nil
}
