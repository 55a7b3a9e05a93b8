package poll

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/magmux"
	"github.com/mklimuk/magmux/format"
	"github.com/mklimuk/magmux/magnetic"
	"github.com/mklimuk/magmux/session"
	"github.com/mklimuk/magmux/snsctx"
)

type fakeSelector struct {
	muxes  int
	ops    []string
	failOn map[magmux.Coordinate]bool
	primed bool
}

func (f *fakeSelector) Muxes() int { return f.muxes }

func (f *fakeSelector) DisablePrevious(_ context.Context, mux int) error {
	f.ops = append(f.ops, fmt.Sprintf("disable-previous %d", mux))
	return nil
}

func (f *fakeSelector) Disable(_ context.Context, mux int) error {
	f.ops = append(f.ops, fmt.Sprintf("disable %d", mux))
	return nil
}

func (f *fakeSelector) DisableAll(_ context.Context) error {
	f.ops = append(f.ops, "disable-all")
	return nil
}

func (f *fakeSelector) SelectChannel(_ context.Context, mux, channel int) error {
	f.ops = append(f.ops, fmt.Sprintf("select %d/%d", mux, channel))
	if f.failOn[magmux.Coordinate{Mux: mux, Channel: channel}] {
		return magmux.ErrSlaveSelect
	}
	return nil
}

func (f *fakeSelector) Prime() { f.primed = true }

type keys chan byte

func (k keys) Poll() (byte, bool) {
	select {
	case c := <-k:
		return c, true
	default:
		return 0, false
	}
}

type counter struct {
	calls int
	fail  func(call int) bool
}

func (c *counter) behavior(x float64) magnetic.FieldBehaviorFunc {
	return func(ctx context.Context) (float64, float64, float64, error) {
		c.calls++
		if c.fail != nil && c.fail(c.calls) {
			return 0, 0, 0, magnetic.ErrStaleFrame
		}
		return x, 1, 1, nil
	}
}

func newTestLoop(t *testing.T, muxes, perMux int, sink *bytes.Buffer, opts ...LoopOpt) (*Loop, *fakeSelector, []*counter) {
	t.Helper()
	sel := &fakeSelector{muxes: muxes}
	table := magmux.NewTable(muxes, perMux)
	var sensors []session.Target
	var counters []*counter
	for i, c := range table.Coordinates() {
		cnt := &counter{}
		counters = append(counters, cnt)
		sensors = append(sensors, session.New(c, magnetic.NewMockSensor(cnt.behavior(float64(i+1))), magmux.Cartesian))
	}
	l, err := New(sel, table, sensors, format.New(format.Plain, magmux.Cartesian), sink, opts...)
	require.NoError(t, err)
	return l, sel, counters
}

func TestNew_RejectsIncompleteTopology(t *testing.T) {
	table := magmux.NewTable(1, 2)
	one := []session.Target{session.New(magmux.Coordinate{}, magnetic.NewMockSensor(nil), magmux.Cartesian)}
	_, err := New(&fakeSelector{muxes: 1}, table, one, format.New(format.Plain, magmux.Cartesian), &bytes.Buffer{})
	assert.Error(t, err)

	dup := append(one, session.New(magmux.Coordinate{}, magnetic.NewMockSensor(nil), magmux.Cartesian))
	_, err = New(&fakeSelector{muxes: 1}, table, dup, format.New(format.Plain, magmux.Cartesian), &bytes.Buffer{})
	assert.Error(t, err)

	outside := append(one, session.New(magmux.Coordinate{Mux: 1}, magnetic.NewMockSensor(nil), magmux.Cartesian))
	_, err = New(&fakeSelector{muxes: 1}, table, outside, format.New(format.Plain, magmux.Cartesian), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestLoop_SetupOrder(t *testing.T) {
	l, sel, _ := newTestLoop(t, 2, 1, &bytes.Buffer{})

	results, err := l.Setup(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, sel.primed)
	assert.Equal(t, []string{
		"disable-all",
		"select 0/0", "disable 0", "select 1/0",
		"disable 1", "select 0/0", "disable 0", "select 1/0",
	}, sel.ops)
	assert.Equal(t, Idle, l.State())
	assert.Equal(t, [3]float64{1, 1, 1}, l.Table().Get(magmux.Coordinate{Mux: 0, Channel: 0}).Components)
}

func TestLoop_SetupSingleMuxSkipsDisableAll(t *testing.T) {
	l, sel, _ := newTestLoop(t, 1, 2, &bytes.Buffer{})

	_, err := l.Setup(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, sel.ops, "disable-all")
}

func TestLoop_SweepVisitsEverySensor(t *testing.T) {
	out := &bytes.Buffer{}
	l, sel, _ := newTestLoop(t, 2, 2, out)
	sel.failOn = map[magmux.Coordinate]bool{{Mux: 1, Channel: 0}: true}

	report, err := l.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Attempts)
	assert.Equal(t, 3, report.Updated)
	assert.Equal(t, 1, report.Unavailable)
	assert.Equal(t, []string{
		"disable-previous 0", "select 0/0", "select 0/1",
		"disable-previous 1", "select 1/0", "select 1/1",
	}, sel.ops)
	assert.Equal(t, "{[1.00;1.00;1.00][2.00;1.00;1.00]}{[0.00;0.00;0.00][4.00;1.00;1.00]}\n", out.String())
	assert.Equal(t, Sweeping, l.State())
}

func TestLoop_UnavailableKeepsPreviousReading(t *testing.T) {
	l, _, counters := newTestLoop(t, 1, 2, &bytes.Buffer{})
	counters[1].fail = func(call int) bool { return call > 1 }
	ctx := context.Background()

	_, err := l.Sweep(ctx)
	require.NoError(t, err)
	report, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unavailable)
	assert.Equal(t, [3]float64{2, 1, 1}, l.Table().Get(magmux.Coordinate{Mux: 0, Channel: 1}).Components)
}

func TestLoop_RunStopsOnCancelKey(t *testing.T) {
	in := make(keys, 4)
	var reports []SweepReport
	hook := func(r SweepReport) {
		reports = append(reports, r)
		if r.Sweep == 3 {
			in <- 'x'
			in <- DefaultCancelKey
		}
	}
	out := &bytes.Buffer{}
	l, _, _ := newTestLoop(t, 1, 2, out, WithInput(in), WithSweepHook(hook))

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, Cancelled, l.State())
	assert.Len(t, reports, 3)
	assert.Equal(t, 3, bytes.Count(out.Bytes(), []byte("\n")))
}

func TestLoop_RunRevalidates(t *testing.T) {
	in := make(keys, 4)
	hook := func(r SweepReport) {
		switch r.Sweep {
		case 1:
			in <- DefaultRevalidateKey
		case 2:
			in <- DefaultCancelKey
		}
	}
	l, _, counters := newTestLoop(t, 1, 2, &bytes.Buffer{}, WithInput(in), WithSweepHook(hook))

	require.NoError(t, l.Run(context.Background()))
	for _, c := range counters {
		// setup validation, revalidation and two sweeps
		assert.Equal(t, 4, c.calls)
	}
}

func TestLoop_RunCustomKeys(t *testing.T) {
	in := make(keys, 4)
	in <- 'q'
	hook := func(r SweepReport) {
		if r.Sweep == 1 {
			in <- 'x'
		}
	}
	l, _, _ := newTestLoop(t, 1, 1, &bytes.Buffer{}, WithInput(in), WithKeys('x', 'v'), WithSweepHook(hook))

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, Cancelled, l.State())
}

func TestLoop_RunStopsOnContext(t *testing.T) {
	l, _, _ := newTestLoop(t, 1, 1, &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	_, err := l.Setup(ctx)
	require.NoError(t, err)
	cancel()

	assert.NoError(t, l.Run(ctx))
	assert.Equal(t, Cancelled, l.State())
}

type brokenSink struct{}

func (brokenSink) Write(p []byte) (int, error) { return 0, errors.New("port closed") }

func TestLoop_RunFailsOnSinkError(t *testing.T) {
	sel := &fakeSelector{muxes: 1}
	table := magmux.NewTable(1, 1)
	cnt := &counter{}
	sensors := []session.Target{session.New(magmux.Coordinate{}, magnetic.NewMockSensor(cnt.behavior(1)), magmux.Cartesian)}
	l, err := New(sel, table, sensors, format.New(format.Plain, magmux.Cartesian), brokenSink{})
	require.NoError(t, err)

	err = l.Run(context.Background())
	assert.ErrorContains(t, err, "port closed")
}

func TestLoop_SetupReportsExhaustedSensors(t *testing.T) {
	l, _, counters := newTestLoop(t, 1, 2, &bytes.Buffer{}, WithValidation(session.WithAttempts(2), session.WithMeasurements(2)))
	counters[0].fail = func(int) bool { return true }

	results, err := l.Setup(context.Background())
	require.NoError(t, err)
	assert.False(t, results[0].Accepted)
	assert.True(t, results[1].Accepted)
	assert.Equal(t, 4, counters[0].calls)
}

func TestLoop_Shutdown(t *testing.T) {
	l, sel, _ := newTestLoop(t, 2, 1, &bytes.Buffer{})
	require.NoError(t, l.Shutdown(context.Background()))
	assert.Equal(t, []string{"disable-all"}, sel.ops)
	assert.Equal(t, Cancelled, l.State())
}

func TestLoop_RevalidateOnlyNamedSensors(t *testing.T) {
	l, _, counters := newTestLoop(t, 1, 2, &bytes.Buffer{}, WithValidation(session.WithAttempts(2), session.WithMeasurements(2)))
	counters[0].fail = func(int) bool { return true }

	results, err := l.Setup(context.Background())
	require.NoError(t, err)
	require.False(t, results[0].Accepted)
	require.Equal(t, 1, counters[1].calls)

	counters[0].fail = nil
	results, err = l.Revalidate(context.Background(), results[0].Coordinate, magmux.Coordinate{Mux: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Accepted)
	assert.Equal(t, magmux.Coordinate{Mux: 0, Channel: 0}, results[0].Coordinate)
	assert.Equal(t, 1, counters[1].calls)
	assert.Equal(t, [3]float64{1, 1, 1}, l.Table().Get(magmux.Coordinate{Mux: 0, Channel: 0}).Components)
}

func TestLoop_SweepTagsContextWithSensor(t *testing.T) {
	sel := &fakeSelector{muxes: 2}
	table := magmux.NewTable(2, 1)
	var seen []magmux.Coordinate
	var sensors []session.Target
	for _, c := range table.Coordinates() {
		sensors = append(sensors, session.New(c, magnetic.NewMockSensor(func(ctx context.Context) (float64, float64, float64, error) {
			tag, ok := snsctx.Sensor(ctx)
			require.True(t, ok)
			seen = append(seen, tag)
			return 1, 1, 1, nil
		}), magmux.Cartesian))
	}
	l, err := New(sel, table, sensors, format.New(format.Plain, magmux.Cartesian), &bytes.Buffer{})
	require.NoError(t, err)

	_, err = l.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []magmux.Coordinate{{Mux: 0, Channel: 0}, {Mux: 1, Channel: 0}}, seen)
}
