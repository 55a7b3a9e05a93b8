package snsctx

import (
	"context"

	"github.com/mklimuk/magmux"
)

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexSensor
)

func IsVerbose(ctx context.Context) bool {
	val := ctx.Value(ctxIndexVerbose)
	if val == nil {
		return false
	}
	return val.(bool)
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// WithSensor tags ctx with the sensor a bus operation is performed for.
func WithSensor(ctx context.Context, c magmux.Coordinate) context.Context {
	return context.WithValue(ctx, ctxIndexSensor, c)
}

func Sensor(ctx context.Context) (magmux.Coordinate, bool) {
	c, ok := ctx.Value(ctxIndexSensor).(magmux.Coordinate)
	return c, ok
}

// SensorAttrs returns slog attributes naming the sensor ctx is tagged with, if any.
func SensorAttrs(ctx context.Context) []any {
	c, ok := Sensor(ctx)
	if !ok {
		return nil
	}
	return []any{"mux", c.Mux, "channel", c.Channel}
}
