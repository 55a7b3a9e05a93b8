// Package console writes frames to standard output.
package console

import (
	"io"
	"os"
)

type Console struct {
	w io.Writer
}

func New() *Console {
	return &Console{w: os.Stdout}
}

// NewWriter is used when frames should go somewhere other than stdout.
func NewWriter(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Write(p []byte) (int, error) {
	return c.w.Write(p)
}

// Close does nothing; stdout stays open.
func (c *Console) Close() error { return nil }
