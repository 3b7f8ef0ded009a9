// Package retrieval drives archived objects out of cold storage and onto
// local disk: a per-object state machine run by a bounded scheduler.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/italolelis/grfn_downloader/internal/archive"
	"github.com/italolelis/grfn_downloader/internal/credentials"
	"github.com/italolelis/grfn_downloader/internal/downloader/progress"
	"github.com/italolelis/grfn_downloader/internal/logctx"
	"github.com/italolelis/grfn_downloader/internal/manifest"
)

const (
	DefaultPollInterval = 60 * time.Second
	DefaultMaxPolls     = 120

	progressInterval = 64 << 20
)

// errNotReady makes the poll loop wait for another interval.
var errNotReady = errors.New("object not yet available")

// Machine runs the retrieval state machine for one object at a time. It keeps
// no per-object state, so a single Machine is shared by all workers.
type Machine struct {
	store       *LocalStore
	status      archive.StatusClient
	fetcher     archive.Fetcher
	leases      credentials.Source
	interval    time.Duration
	maxPolls    uint64
	idleTimeout time.Duration
	namePrefix  string
	newTimer    func() backoff.Timer
	now         func() time.Time
}

type MachineOption func(*Machine)

// WithPollInterval sets the fixed wait between status polls.
func WithPollInterval(d time.Duration) MachineOption {
	return func(m *Machine) { m.interval = d }
}

// WithMaxPolls bounds the number of status polls after the first query.
func WithMaxPolls(n uint64) MachineOption {
	return func(m *Machine) { m.maxPolls = n }
}

// WithIdleTimeout fails a download whose stream delivers no bytes for d.
// Zero disables the check.
func WithIdleTimeout(d time.Duration) MachineOption {
	return func(m *Machine) { m.idleTimeout = d }
}

// WithNamePrefix rejects objects whose file name does not start with prefix.
func WithNamePrefix(prefix string) MachineOption {
	return func(m *Machine) { m.namePrefix = prefix }
}

// WithTimer replaces the timer used to wait between polls.
func WithTimer(newTimer func() backoff.Timer) MachineOption {
	return func(m *Machine) { m.newTimer = newTimer }
}

// WithMachineClock replaces time.Now when measuring elapsed time.
func WithMachineClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a state machine writing into store.
func NewMachine(store *LocalStore, status archive.StatusClient, fetcher archive.Fetcher, leases credentials.Source, opts ...MachineOption) *Machine {
	m := &Machine{
		store:    store,
		status:   status,
		fetcher:  fetcher,
		leases:   leases,
		interval: DefaultPollInterval,
		maxPolls: DefaultMaxPolls,
		newTimer: func() backoff.Timer { return nil },
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Retrieve drives ref to a terminal state and returns its outcome. Errors
// are recorded in the outcome, never returned.
func (m *Machine) Retrieve(ctx context.Context, ref manifest.ObjectRef) Outcome {
	start := m.now()
	name := ref.LocalName()

	ctx, logger := logctx.With(ctx, "object_id", ref.ID, "file_name", name)

	out := Outcome{ID: ref.ID, FileName: name, State: StateUnknown}

	finish := func(state State, err error) Outcome {
		out.State = state
		out.Err = err
		out.Elapsed = m.now().Sub(start)

		return out
	}

	if m.namePrefix != "" && !strings.HasPrefix(name, m.namePrefix) {
		logger.WarnContext(ctx, "invalid object name, not retrieving", "prefix", m.namePrefix)

		return finish(StateFailed, &InvalidObjectError{FileName: name, Prefix: m.namePrefix})
	}

	exists, err := m.store.Exists(name)
	if err != nil {
		return finish(StateFailed, &DownloadError{FileName: name, Err: fmt.Errorf("failed to check local copy: %w", err)})
	}

	if exists {
		logger.DebugContext(ctx, "local copy exists, skipping")

		return finish(StateSkipped, nil)
	}

	polls, err := m.awaitAvailable(ctx, logger, ref)
	out.Polls = polls

	if err != nil {
		return finish(StateFailed, err)
	}

	written, err := m.download(ctx, logger, ref)
	out.Bytes = written

	if err != nil {
		return finish(StateFailed, err)
	}

	return finish(StateComplete, nil)
}

// awaitAvailable queries the object status until it is available, triggering
// a restore the first time it is seen archived. It returns the number of
// polls issued after the initial query.
func (m *Machine) awaitAvailable(ctx context.Context, logger *slog.Logger, ref manifest.ObjectRef) (int, error) {
	var (
		attempts int
		restored bool
		state    = StateUnknown
	)

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		attempts++

		status, err := m.status.Status(ctx, ref.FileName)
		if err != nil {
			if attempts == 1 || !archive.IsTransient(err) {
				return backoff.Permanent(&StatusQueryError{FileName: ref.FileName, Err: err})
			}

			logger.WarnContext(ctx, "transient status query failure", "poll", attempts-1, "err", err)

			return err
		}

		switch status {
		case archive.StatusAvailable:
			return nil
		case archive.StatusError:
			return backoff.Permanent(&StatusQueryError{FileName: ref.FileName, Status: status, Err: errRemoteStatusError})
		case archive.StatusArchived:
			if !restored {
				restored = true
				m.restore(ctx, logger, ref)
			}
		}

		if state != StateRestoring {
			state = StateRestoring
			logger.InfoContext(ctx, "waiting for restore", "state", state.String(), "status", status, "poll_interval", m.interval.String())
		}

		return errNotReady
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(m.interval), m.maxPolls), ctx)

	notify := func(err error, next time.Duration) {
		logger.DebugContext(ctx, "object not ready", "poll", attempts, "next_in", next.String(), "reason", err)
	}

	err := backoff.RetryNotifyWithTimer(operation, b, notify, m.newTimer())

	polls := max(attempts-1, 0)

	var statusErr *StatusQueryError

	switch {
	case err == nil:
		logger.InfoContext(ctx, "object available", "state", StateAvailable.String(), "polls", polls)

		return polls, nil
	case errors.As(err, &statusErr):
		return polls, err
	case ctx.Err() != nil:
		return polls, ctx.Err()
	default:
		return polls, &RestoreTimeoutError{FileName: ref.FileName, Polls: polls, Err: err}
	}
}

// restore fires the restore trigger. Failures are logged; polling continues.
func (m *Machine) restore(ctx context.Context, logger *slog.Logger, ref manifest.ObjectRef) {
	if err := m.status.Restore(ctx, ref.FileName); err != nil {
		logger.WarnContext(ctx, "restore request failed", "err", err)

		return
	}

	logger.InfoContext(ctx, "restore requested")
}

func (m *Machine) download(ctx context.Context, logger *slog.Logger, ref manifest.ObjectRef) (int64, error) {
	name := ref.LocalName()

	lease, err := m.leases.Current(ctx)
	if err != nil {
		return 0, &CredentialError{Err: err}
	}

	logger.InfoContext(ctx, "downloading", "state", StateDownloading.String(), "size", humanize.Bytes(uint64(max(ref.Size, 0))))

	dctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	body, size, err := m.fetcher.Fetch(dctx, ref, lease)
	if err != nil {
		return 0, &DownloadError{FileName: name, Err: err}
	}

	if m.idleTimeout > 0 {
		body = progress.NewWatchdog(body, m.idleTimeout, func() {
			logger.WarnContext(ctx, "download stalled", "idle_timeout", m.idleTimeout.String())
			cancel(progress.ErrStalled)
		})
	}
	defer body.Close()

	if size <= 0 {
		size = ref.Size
	}

	pr := progress.NewReader(body, size, progressInterval, func(read, total int64) {
		logger.DebugContext(ctx, "download progress",
			"written", humanize.Bytes(uint64(read)),
			"total", humanize.Bytes(uint64(max(total, 0))),
		)
	})

	written, err := m.store.Write(dctx, name, pr)
	if err != nil {
		if cause := context.Cause(dctx); ctx.Err() == nil && errors.Is(cause, progress.ErrStalled) && !errors.Is(err, progress.ErrStalled) {
			err = fmt.Errorf("%w: %w", cause, err)
		}

		return written, &DownloadError{FileName: name, Err: err}
	}

	logger.InfoContext(ctx, "download complete", "state", StateComplete.String(), "bytes", humanize.Bytes(uint64(written)))

	return written, nil
}
