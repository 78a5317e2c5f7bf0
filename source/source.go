// Package source reads raw input units from log files, packet captures and
// dnstap frame streams.
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/semihalev/dnswatch/config"
	"github.com/semihalev/dnswatch/event"
	"github.com/semihalev/zlog/v2"
)

// ErrInputUnavailable marks an input that cannot be opened or read. It is
// fatal for a run.
var ErrInputUnavailable = errors.New("input unavailable")

// ErrFollowUnsupported is returned by Open when following is requested for a
// capture or frame stream.
var ErrFollowUnsupported = errors.New("follow is only supported for log input")

// Source yields raw units in ingestion order. Next returns io.EOF at the end
// of input and ctx.Err() when ctx is cancelled while waiting.
type Source interface {
	Next(ctx context.Context) (event.Unit, error)
	Close() error
}

// Options for Open.
type Options struct {
	// Format is one of the config format names; auto sniffs the input.
	Format string
	// Follow keeps reading a log file as it grows. Open fails with
	// ErrFollowUnsupported for any other format.
	Follow bool
	Clock  clockwork.Clock
}

// Open opens path and returns a source for its format along with the
// resolved format name.
func Open(path string, opts Options) (Source, string, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInputUnavailable, err)
	}

	br := bufio.NewReaderSize(f, 64*1024)

	format := opts.Format
	if format == "" || format == config.FormatAuto {
		if format, err = Detect(br); err != nil {
			f.Close()
			return nil, "", fmt.Errorf("%w: %w", ErrInputUnavailable, err)
		}
		zlog.Debug("Input format detected", "path", path, "format", format)
	}

	if opts.Follow && format != config.FormatLog {
		f.Close()
		return nil, "", fmt.Errorf("%w: %s input %s", ErrFollowUnsupported, format, path)
	}

	var src Source
	switch format {
	case config.FormatLog:
		if opts.Follow {
			src, err = follow(f, br, path, opts.Clock)
		} else {
			src = newLines(br, f, path, opts.Clock)
		}
	case config.FormatPcap:
		src, err = newPcap(br, f, path)
	case config.FormatDnstap:
		src, err = newDnstap(br, f, path)
	default:
		err = fmt.Errorf("unknown input format %q", format)
	}

	if err != nil {
		f.Close()
		return nil, "", fmt.Errorf("%w: %w", ErrInputUnavailable, err)
	}

	return src, format, nil
}

// Detect sniffs the leading bytes of br without consuming them.
func Detect(br *bufio.Reader) (string, error) {
	magic, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	if len(magic) < 4 {
		return config.FormatLog, nil
	}

	switch {
	case isPcapMagic(magic), isPcapNgMagic(magic):
		return config.FormatPcap, nil
	case magic[0] == 0 && magic[1] == 0 && magic[2] == 0 && magic[3] == 0:
		// frame streams open with an escaped control frame
		return config.FormatDnstap, nil
	}

	return config.FormatLog, nil
}

func isPcapMagic(b []byte) bool {
	switch {
	case b[0] == 0xa1 && b[1] == 0xb2 && b[2] == 0xc3 && b[3] == 0xd4,
		b[0] == 0xd4 && b[1] == 0xc3 && b[2] == 0xb2 && b[3] == 0xa1,
		b[0] == 0xa1 && b[1] == 0xb2 && b[2] == 0x3c && b[3] == 0x4d,
		b[0] == 0x4d && b[1] == 0x3c && b[2] == 0xb2 && b[3] == 0xa1:
		return true
	}
	return false
}

func isPcapNgMagic(b []byte) bool {
	return b[0] == 0x0a && b[1] == 0x0d && b[2] == 0x0d && b[3] == 0x0a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func closerOf(r io.Reader) io.Closer {
	if c, ok := r.(io.Closer); ok {
		return c
	}
	return nopCloser{}
}
