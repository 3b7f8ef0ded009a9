package progress

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStalled is reported by a Watchdog whose stream went idle.
var ErrStalled = errors.New("stream stalled")

// Watchdog closes a stream that delivers no bytes for longer than its idle
// timeout. Closing the underlying body unblocks a Read stuck on the network;
// that Read, and every later one, fails with ErrStalled.
type Watchdog struct {
	rc      io.ReadCloser
	timeout time.Duration
	timer   *time.Timer

	stalled   atomic.Bool
	stallOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// NewWatchdog wraps rc and arms the idle timer. onStall, if not nil, runs once
// when the timer fires, before the stream is closed.
func NewWatchdog(rc io.ReadCloser, timeout time.Duration, onStall func()) *Watchdog {
	w := &Watchdog{rc: rc, timeout: timeout}

	w.timer = time.AfterFunc(timeout, func() {
		w.stallOnce.Do(func() {
			w.stalled.Store(true)

			if onStall != nil {
				onStall()
			}

			_ = w.close()
		})
	})

	return w
}

func (w *Watchdog) Read(p []byte) (int, error) {
	n, err := w.rc.Read(p)

	if w.stalled.Load() {
		if err == nil || errors.Is(err, io.EOF) {
			return n, fmt.Errorf("%w: no data for %s", ErrStalled, w.timeout)
		}

		return n, fmt.Errorf("%w: no data for %s: %w", ErrStalled, w.timeout, err)
	}

	if n > 0 {
		w.timer.Reset(w.timeout)
	}

	return n, err
}

// Stalled reports whether the idle timer fired.
func (w *Watchdog) Stalled() bool {
	return w.stalled.Load()
}

// Close stops the timer and closes the underlying stream.
func (w *Watchdog) Close() error {
	w.timer.Stop()

	return w.close()
}

func (w *Watchdog) close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.rc.Close()
	})

	return w.closeErr
}
