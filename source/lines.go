package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jonboulle/clockwork"
	"github.com/semihalev/dnswatch/event"
)

// Lines reads newline separated units, stamping each with the clock time it
// was read at.
type Lines struct {
	r      *bufio.Reader
	closer io.Closer
	name   string
	clock  clockwork.Clock

	line    uint64
	pending []byte
}

// NewLines returns a source over the lines of r. name prefixes unit refs.
func NewLines(r io.Reader, name string, clock clockwork.Clock) *Lines {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return newLines(bufio.NewReader(r), closerOf(r), name, clock)
}

func newLines(br *bufio.Reader, closer io.Closer, name string, clock clockwork.Clock) *Lines {
	return &Lines{r: br, closer: closer, name: name, clock: clock}
}

// Next implements Source.
func (l *Lines) Next(ctx context.Context) (event.Unit, error) {
	if err := ctx.Err(); err != nil {
		return event.Unit{}, err
	}

	data, err := l.r.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return event.Unit{}, err
	}

	if errors.Is(err, io.EOF) {
		if len(data) == 0 && len(l.pending) == 0 {
			return event.Unit{}, io.EOF
		}
		data = append(l.pending, data...)
		l.pending = nil
	}

	return l.unit(data), nil
}

// partial reads up to the next newline. ok is false when only part of a line
// is available yet; the part is kept for the next call.
func (l *Lines) partial() (event.Unit, bool, error) {
	data, err := l.r.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			l.pending = append(l.pending, data...)
			return event.Unit{}, false, nil
		}
		return event.Unit{}, false, err
	}

	if len(l.pending) > 0 {
		data = append(l.pending, data...)
		l.pending = nil
	}

	return l.unit(data), true, nil
}

func (l *Lines) unit(data []byte) event.Unit {
	l.line++

	return event.Unit{
		Seq:  l.line,
		Time: l.clock.Now(),
		Ref:  fmt.Sprintf("%s:%d", l.name, l.line),
		Data: bytes.TrimRight(data, "\r\n"),
	}
}

// Close closes the underlying reader.
func (l *Lines) Close() error {
	return l.closer.Close()
}
