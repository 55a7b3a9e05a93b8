package magnetic

import (
	"context"
	"math"
	"time"
)

// FieldBehaviorFunc returns the next field vector in mT or an error.
type FieldBehaviorFunc func(ctx context.Context) (x, y, z float64, err error)

// MockSensor is a 3D magnetic sensor driven by a behavior function. It can stand in
// for a TLV493D wherever no hardware is available.
type MockSensor struct {
	behavior FieldBehaviorFunc
	delay    time.Duration
	begins   int
	x, y, z  float64
}

// NewMockSensor creates a mock sensor.
//
// Example usage:
//
//	// constant field
//	sensor := NewMockSensor(func(ctx context.Context) (float64, float64, float64, error) {
//		return 1.5, -0.2, 12.0, nil
//	})
func NewMockSensor(behavior FieldBehaviorFunc) *MockSensor {
	return &MockSensor{behavior: behavior}
}

// WithDelay sets the measurement delay reported by the mock.
func (m *MockSensor) WithDelay(d time.Duration) *MockSensor {
	m.delay = d
	return m
}

// Begins returns how many times the sensor was (re)started.
func (m *MockSensor) Begins() int { return m.begins }

func (m *MockSensor) Begin(ctx context.Context) error {
	m.begins++
	return nil
}

func (m *MockSensor) Configure(ctx context.Context) error { return nil }

func (m *MockSensor) MeasurementDelay() time.Duration { return m.delay }

// UpdateData calls the behavior function and keeps the previous vector on error.
func (m *MockSensor) UpdateData(ctx context.Context) error {
	x, y, z, err := m.behavior(ctx)
	if err != nil {
		return err
	}
	m.x, m.y, m.z = x, y, z
	return nil
}

func (m *MockSensor) X() float64 { return m.x }
func (m *MockSensor) Y() float64 { return m.y }
func (m *MockSensor) Z() float64 { return m.z }

func (m *MockSensor) Azimuth() float64 {
	return radToDeg(math.Atan2(m.y, m.x))
}

func (m *MockSensor) Polar() float64 {
	return radToDeg(math.Atan2(m.z, math.Hypot(m.x, m.y)))
}

func (m *MockSensor) Amount() float64 {
	return math.Sqrt(m.x*m.x + m.y*m.y + m.z*m.z)
}
