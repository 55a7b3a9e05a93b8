package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mklimuk/magmux"
	"github.com/mklimuk/magmux/snsctx"
)

const (
	DefaultAttempts     = 10
	DefaultMeasurements = 5
)

// Target is what the validator drives.
type Target interface {
	Coordinate() magmux.Coordinate
	Initialize(ctx context.Context)
	Measure(ctx context.Context) (magmux.Reading, error)
}

// ActivateFunc makes the target's channel live before it is measured.
type ActivateFunc func(ctx context.Context, c magmux.Coordinate) error

type ValidatorOpts struct {
	Attempts     int
	Measurements int
	Activate     ActivateFunc
}

type ValidatorOpt func(*ValidatorOpts)

func WithAttempts(n int) ValidatorOpt {
	return func(o *ValidatorOpts) {
		o.Attempts = n
	}
}

func WithMeasurements(n int) ValidatorOpt {
	return func(o *ValidatorOpts) {
		o.Measurements = n
	}
}

func WithActivate(fn ActivateFunc) ValidatorOpt {
	return func(o *ValidatorOpts) {
		o.Activate = fn
	}
}

// Result describes one validation run.
type Result struct {
	Coordinate    magmux.Coordinate
	Attempts      int
	Measurements  int
	Reinitialized int
	Accepted      bool
	Reading       magmux.Reading
}

// Validator recovers sensors that come up returning all-zero frames. A sensor is
// accepted on the first measurement with all components non-zero; an attempt with
// no such measurement ends with a reinitialization.
type Validator struct {
	opts ValidatorOpts
}

func NewValidator(opts ...ValidatorOpt) *Validator {
	o := ValidatorOpts{
		Attempts:     DefaultAttempts,
		Measurements: DefaultMeasurements,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Validator{opts: o}
}

// Validate runs the bounded retry procedure. When it gives up it returns the
// result together with an error wrapping ErrInitExhausted. Context cancellation
// aborts immediately.
func (v *Validator) Validate(ctx context.Context, t Target) (Result, error) {
	res := Result{Coordinate: t.Coordinate()}
	ctx = snsctx.WithSensor(ctx, res.Coordinate)
	log := slog.With("mux", res.Coordinate.Mux, "channel", res.Coordinate.Channel)
	for attempt := 1; attempt <= v.opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts = attempt
		if v.opts.Activate != nil {
			if err := v.opts.Activate(ctx, res.Coordinate); err != nil {
				log.Debug("could not activate sensor channel", "attempt", attempt, "error", err)
			}
		}
		for m := 0; m < v.opts.Measurements; m++ {
			res.Measurements++
			r, err := t.Measure(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				log.Debug("measurement failed", "attempt", attempt, "error", err)
				continue
			}
			if r.NonZero() {
				res.Accepted = true
				res.Reading = r
				log.Debug("sensor accepted", "attempts", attempt, "measurements", res.Measurements)
				return res, nil
			}
		}
		if attempt == v.opts.Attempts {
			break
		}
		log.Debug("no valid measurement, reinitializing", "attempt", attempt)
		t.Initialize(ctx)
		res.Reinitialized++
	}
	log.Warn("sensor failed to initialize", "attempts", res.Attempts)
	return res, fmt.Errorf("%w: %s after %d attempts", magmux.ErrInitExhausted, res.Coordinate, res.Attempts)
}

// ValidateAll validates every target in order. Exhausted sensors do not stop the run.
func (v *Validator) ValidateAll(ctx context.Context, targets []Target) ([]Result, error) {
	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		res, err := v.Validate(ctx, t)
		if err != nil && !errors.Is(err, magmux.ErrInitExhausted) {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
