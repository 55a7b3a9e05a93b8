// Package output defines where sweep frames go. Sinks live in subpackages.
package output

import (
	"errors"
	"io"
)

// Sink receives one Write per sweep frame.
type Sink = io.WriteCloser

// Multi writes every frame to all sinks.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Add(s Sink) {
	m.sinks = append(m.sinks, s)
}

func (m *Multi) Len() int { return len(m.sinks) }

// Write delivers p to every sink even when some fail. The returned error joins all failures.
func (m *Multi) Write(p []byte) (int, error) {
	var errs []error
	for _, s := range m.sinks {
		n, err := s.Write(p)
		if err == nil && n != len(p) {
			err = io.ErrShortWrite
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return len(p), nil
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
