// Package keyboard provides non-blocking single key input.
package keyboard

import (
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/x/term"
)

const bufferSize = 16

// Source is polled for pending keys.
type Source interface {
	// Poll returns the next pending key or false when there is none. It never blocks.
	Poll() (byte, bool)
	Close() error
}

// Reader feeds keys read from an io.Reader to a buffered channel.
// Keys arriving while the buffer is full are dropped.
type Reader struct {
	keys chan byte
	done chan struct{}
	once sync.Once
}

func Open(r io.Reader) *Reader {
	k := &Reader{
		keys: make(chan byte, bufferSize),
		done: make(chan struct{}),
	}
	go k.read(r)
	return k
}

func (k *Reader) read(r io.Reader) {
	defer close(k.keys)
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n == 1 {
			select {
			case <-k.done:
				return
			case k.keys <- buf[0]:
			default:
			}
		}
		if err != nil {
			return
		}
	}
}

func (k *Reader) Poll() (byte, bool) {
	select {
	case <-k.done:
		return 0, false
	default:
	}
	select {
	case c, ok := <-k.keys:
		return c, ok
	default:
		return 0, false
	}
}

// Close stops delivering keys. A pending read on the underlying reader is not interrupted.
func (k *Reader) Close() error {
	k.once.Do(func() { close(k.done) })
	return nil
}

type none struct{}

func (none) Poll() (byte, bool) { return 0, false }
func (none) Close() error        { return nil }

// None never reports a key.
var None Source = none{}

// Stdin polls the terminal. It returns None when stdin is not a terminal.
// Input is line buffered by the terminal, so keys arrive after enter is pressed.
func Stdin() Source {
	if !term.IsTerminal(os.Stdin.Fd()) {
		return None
	}
	return Open(os.Stdin)
}
