package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/semihalev/dnswatch/event"
	"github.com/semihalev/zlog/v2"
)

// pollInterval rechecks the file in case fsnotify misses a write.
const pollInterval = 2 * time.Second

// Follower reads a growing log file line by line, waiting for writes at the
// end of the file until the file is removed or the context is cancelled.
type Follower struct {
	*Lines

	path    string
	watcher *fsnotify.Watcher
	clock   clockwork.Clock
	gone    bool
}

// Follow opens path and follows it from the beginning.
func Follow(path string, clock clockwork.Clock) (*Follower, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputUnavailable, err)
	}

	fl, err := follow(f, bufio.NewReader(f), path, clock)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", ErrInputUnavailable, err)
	}

	return fl, nil
}

func follow(f *os.File, br *bufio.Reader, path string, clock clockwork.Clock) (*Follower, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory, the file itself may be replaced by rotation.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch log directory: %w", err)
	}

	return &Follower{
		Lines:   newLines(br, f, path, clock),
		path:    path,
		watcher: watcher,
		clock:   clock,
	}, nil
}

// Next implements Source. It blocks at the end of the file until more data
// is written, the file goes away, or ctx is done.
func (f *Follower) Next(ctx context.Context) (event.Unit, error) {
	ticker := f.clock.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return event.Unit{}, err
		}

		u, ok, err := f.partial()
		if err != nil {
			return event.Unit{}, err
		}
		if ok {
			return u, nil
		}
		if f.gone {
			return f.flush()
		}

		select {
		case <-ctx.Done():
			return event.Unit{}, ctx.Err()
		case <-ticker.Chan():
		case ev, ok := <-f.watcher.Events:
			if !ok {
				f.gone = true
				continue
			}
			if !f.isRelevantEvent(ev) {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				zlog.Info("Followed log file went away", "path", f.path, "op", ev.Op.String())
				f.gone = true
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				f.gone = true
				continue
			}
			zlog.Error("Log file watcher error", "path", f.path, "error", err.Error())
		}
	}
}

// flush returns a trailing line without newline, then io.EOF.
func (f *Follower) flush() (event.Unit, error) {
	if len(f.pending) == 0 {
		return event.Unit{}, io.EOF
	}

	data := f.pending
	f.pending = nil

	return f.unit(data), nil
}

func (f *Follower) isRelevantEvent(ev fsnotify.Event) bool {
	return filepath.Clean(ev.Name) == filepath.Clean(f.path)
}

// Close stops watching and closes the file.
func (f *Follower) Close() error {
	f.watcher.Close()
	return f.Lines.Close()
}
