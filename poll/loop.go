// Package poll sweeps every sensor of the topology and emits one frame per sweep.
package poll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/mklimuk/magmux"
	"github.com/mklimuk/magmux/session"
	"github.com/mklimuk/magmux/snsctx"
)

const (
	DefaultCancelKey     = 'q'
	DefaultRevalidateKey = 'r'
)

type State int

const (
	Idle State = iota
	Sweeping
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sweeping:
		return "sweeping"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Selector switches multiplexer channels.
type Selector interface {
	Muxes() int
	DisablePrevious(ctx context.Context, mux int) error
	Disable(ctx context.Context, mux int) error
	DisableAll(ctx context.Context) error
	SelectChannel(ctx context.Context, mux, channel int) error
	Prime()
}

type Formatter interface {
	Format(t *magmux.Table) []byte
}

// Input is polled for keys between sweeps.
type Input interface {
	Poll() (byte, bool)
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Sweep       int
	Attempts    int
	Updated     int
	Unavailable int
	Duration    time.Duration
}

type LoopOpts struct {
	Interval      time.Duration
	Input         Input
	CancelKey     byte
	RevalidateKey byte
	Validation    []session.ValidatorOpt
	OnSweep       func(SweepReport)
}

type LoopOpt func(*LoopOpts)

// WithInterval sets a pause between sweeps.
func WithInterval(d time.Duration) LoopOpt {
	return func(o *LoopOpts) {
		o.Interval = d
	}
}

func WithInput(in Input) LoopOpt {
	return func(o *LoopOpts) {
		o.Input = in
	}
}

func WithKeys(cancel, revalidate byte) LoopOpt {
	return func(o *LoopOpts) {
		o.CancelKey = cancel
		o.RevalidateKey = revalidate
	}
}

// WithValidation tunes the validator. Channel activation is always provided by the loop.
func WithValidation(v ...session.ValidatorOpt) LoopOpt {
	return func(o *LoopOpts) {
		o.Validation = append(o.Validation, v...)
	}
}

func WithSweepHook(fn func(SweepReport)) LoopOpt {
	return func(o *LoopOpts) {
		o.OnSweep = fn
	}
}

type noInput struct{}

func (noInput) Poll() (byte, bool) { return 0, false }

// Loop owns the reading table and drives the bus one sensor at a time.
type Loop struct {
	selector  Selector
	table     *magmux.Table
	sensors   []session.Target
	byMux     [][]session.Target
	formatter Formatter
	sink      io.Writer
	validator *session.Validator
	opts      LoopOpts
	state     State
	primed    bool
	active    int
	sweeps    int
}

// New checks that sensors cover every slot of the table exactly once.
func New(sel Selector, table *magmux.Table, sensors []session.Target, f Formatter, sink io.Writer, opts ...LoopOpt) (*Loop, error) {
	o := LoopOpts{
		Input:         noInput{},
		CancelKey:     DefaultCancelKey,
		RevalidateKey: DefaultRevalidateKey,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if len(sensors) != table.Len() {
		return nil, fmt.Errorf("%d sensors for %d reading slots", len(sensors), table.Len())
	}
	if sel.Muxes() != table.Muxes() {
		return nil, fmt.Errorf("selector drives %d multiplexers, table has %d", sel.Muxes(), table.Muxes())
	}
	byMux := make([][]session.Target, table.Muxes())
	seen := make(map[magmux.Coordinate]bool, len(sensors))
	for _, s := range sensors {
		c := s.Coordinate()
		if table.Index(c) < 0 {
			return nil, fmt.Errorf("sensor %s outside of the topology", c)
		}
		if seen[c] {
			return nil, fmt.Errorf("duplicate sensor %s", c)
		}
		seen[c] = true
		byMux[c.Mux] = append(byMux[c.Mux], s)
	}
	ordered := make([]session.Target, 0, len(sensors))
	for _, group := range byMux {
		sort.Slice(group, func(i, j int) bool {
			return group[i].Coordinate().Channel < group[j].Coordinate().Channel
		})
		ordered = append(ordered, group...)
	}
	l := &Loop{
		selector:  sel,
		table:     table,
		sensors:   ordered,
		byMux:     byMux,
		formatter: f,
		sink:      sink,
		opts:      o,
		active:    -1,
	}
	l.validator = session.NewValidator(append(o.Validation, session.WithActivate(l.activate))...)
	return l, nil
}

func (l *Loop) State() State { return l.state }

func (l *Loop) Table() *magmux.Table { return l.table }

// Setup closes every channel, initializes and validates all sensors and then
// freezes a static topology. Validation failures are reported in the results.
func (l *Loop) Setup(ctx context.Context) ([]session.Result, error) {
	l.state = Idle
	if l.selector.Muxes() > 1 {
		if err := l.selector.DisableAll(ctx); err != nil {
			slog.Warn("could not disable all multiplexers", "error", err)
		}
	}
	for _, s := range l.sensors {
		c := s.Coordinate()
		sctx := snsctx.WithSensor(ctx, c)
		if err := l.activate(sctx, c); err != nil {
			slog.Warn("could not select sensor channel", "mux", c.Mux, "channel", c.Channel, "error", err)
			continue
		}
		s.Initialize(sctx)
	}
	results, err := l.Validate(ctx)
	if err != nil {
		return results, err
	}
	l.selector.Prime()
	l.primed = true
	return results, nil
}

// Validate runs the validator over every sensor. Accepted readings are stored.
func (l *Loop) Validate(ctx context.Context) ([]session.Result, error) {
	return l.validate(ctx, l.sensors)
}

func (l *Loop) validate(ctx context.Context, targets []session.Target) ([]session.Result, error) {
	results, err := l.validator.ValidateAll(ctx, targets)
	for _, res := range results {
		if res.Accepted {
			l.table.Set(res.Coordinate, res.Reading)
		}
	}
	return results, err
}

// Revalidate runs the validator over the sensors at coords only, in sweep order.
// Coordinates outside the topology are ignored.
func (l *Loop) Revalidate(ctx context.Context, coords ...magmux.Coordinate) ([]session.Result, error) {
	want := make(map[magmux.Coordinate]bool, len(coords))
	for _, c := range coords {
		want[c] = true
	}
	var targets []session.Target
	for _, s := range l.sensors {
		if want[s.Coordinate()] {
			targets = append(targets, s)
		}
	}
	return l.validate(ctx, targets)
}

// Sweep reads every sensor once and writes one frame to the sink. Per sensor
// failures leave the previous reading in place. Only a sink error is returned.
func (l *Loop) Sweep(ctx context.Context) (SweepReport, error) {
	l.state = Sweeping
	l.sweeps++
	start := time.Now()
	report := SweepReport{Sweep: l.sweeps}
	for m, group := range l.byMux {
		if err := l.selector.DisablePrevious(ctx, m); err != nil {
			slog.Debug("could not disable previous multiplexer", "mux", m, "error", err)
		}
		l.active = m
		for _, s := range group {
			report.Attempts++
			c := s.Coordinate()
			sctx := snsctx.WithSensor(ctx, c)
			if err := l.selector.SelectChannel(sctx, c.Mux, c.Channel); err != nil {
				report.Unavailable++
				slog.Debug("sensor channel unavailable", "mux", c.Mux, "channel", c.Channel, "error", err)
				continue
			}
			r, err := s.Measure(sctx)
			if err != nil {
				report.Unavailable++
				slog.Debug("sensor reading unavailable", "mux", c.Mux, "channel", c.Channel, "error", err)
				continue
			}
			l.table.Set(c, r)
			report.Updated++
		}
	}
	frame := l.formatter.Format(l.table)
	report.Duration = time.Since(start)
	if _, err := l.sink.Write(frame); err != nil {
		return report, fmt.Errorf("could not write frame: %w", err)
	}
	return report, nil
}

// Run sweeps until the cancel key is read, ctx is done or the sink fails.
// Keys are only looked at between sweeps.
func (l *Loop) Run(ctx context.Context) error {
	if !l.primed {
		if _, err := l.Setup(ctx); err != nil {
			return err
		}
	}
	for {
		if ctx.Err() != nil {
			l.state = Cancelled
			return nil
		}
		cancel, revalidate := l.keys()
		if cancel {
			l.state = Cancelled
			slog.Info("poll loop cancelled", "sweeps", l.sweeps)
			return nil
		}
		if revalidate {
			slog.Info("revalidating sensors")
			if _, err := l.Validate(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				return err
			}
		}
		report, err := l.Sweep(ctx)
		if err != nil {
			return err
		}
		if l.opts.OnSweep != nil {
			l.opts.OnSweep(report)
		}
		if l.opts.Interval > 0 {
			wait(ctx, l.opts.Interval)
		}
	}
}

func wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Shutdown closes every multiplexer channel.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.state = Cancelled
	return l.selector.DisableAll(ctx)
}

// keys drains pending input.
func (l *Loop) keys() (cancel, revalidate bool) {
	for {
		c, ok := l.opts.Input.Poll()
		if !ok {
			return cancel, revalidate
		}
		switch c {
		case l.opts.CancelKey:
			cancel = true
		case l.opts.RevalidateKey:
			revalidate = true
		}
	}
}

// activate makes the sensor at c the only live one, closing the multiplexer
// that was active before when it differs.
func (l *Loop) activate(ctx context.Context, c magmux.Coordinate) error {
	if l.active >= 0 && l.active != c.Mux {
		if err := l.selector.Disable(ctx, l.active); err != nil {
			return err
		}
	}
	l.active = c.Mux
	return l.selector.SelectChannel(ctx, c.Mux, c.Channel)
}
