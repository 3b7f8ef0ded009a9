package retrieval

import (
	"context"
	"runtime"
	"time"

	"github.com/italolelis/grfn_downloader/internal/credentials"
	"github.com/italolelis/grfn_downloader/internal/logctx"
	"github.com/italolelis/grfn_downloader/internal/manifest"
	"github.com/italolelis/grfn_downloader/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// LeaseKeeper is the single writer of the credential lease shared by all
// workers.
type LeaseKeeper interface {
	credentials.Source
	Acquire(ctx context.Context) (credentials.Lease, error)
}

// Result is the outcome of a run, in manifest order.
type Result struct {
	Key      string
	Outcomes []Outcome
	Elapsed  time.Duration
}

// Counts returns the number of outcomes per terminal state.
func (r *Result) Counts() map[State]int {
	return Tally(r.Outcomes)
}

// Scheduler fans a manifest out over a bounded pool of workers, each running
// one object's state machine to completion.
type Scheduler struct {
	provider  manifest.Provider
	leases    LeaseKeeper
	machine   *Machine
	limit     int
	telemetry *telemetry.Telemetry
	now       func() time.Time
}

type SchedulerOption func(*Scheduler)

// WithConcurrency sets the worker pool size. Values <= 0 use GOMAXPROCS.
func WithConcurrency(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithTelemetry records per-object metrics and spans.
func WithTelemetry(tel *telemetry.Telemetry) SchedulerOption {
	return func(s *Scheduler) { s.telemetry = tel }
}

// WithSchedulerClock replaces time.Now when measuring the run.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a scheduler.
func NewScheduler(provider manifest.Provider, leases LeaseKeeper, machine *Machine, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		provider: provider,
		leases:   leases,
		machine:  machine,
		limit:    runtime.GOMAXPROCS(0),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Concurrency returns the worker pool size.
func (s *Scheduler) Concurrency() int {
	return s.limit
}

// Manifest fetches the manifest for key. Failures are *ManifestError.
func (s *Scheduler) Manifest(ctx context.Context, key string) ([]manifest.ObjectRef, error) {
	refs, err := s.provider.Manifest(ctx, key)
	if err != nil {
		return nil, &ManifestError{Key: key, Err: err}
	}

	return refs, nil
}

// Run fetches the manifest for key and retrieves every object in it.
func (s *Scheduler) Run(ctx context.Context, key string) (*Result, error) {
	refs, err := s.Manifest(ctx, key)
	if err != nil {
		return nil, err
	}

	res, err := s.Retrieve(ctx, refs)
	if err != nil {
		return nil, err
	}

	res.Key = key

	return res, nil
}

// Retrieve acquires the initial lease and retrieves refs. Only a failure to
// acquire that lease is returned; per-object failures are recorded in the
// outcomes. If ctx is cancelled, objects not yet started are recorded as
// NotAttempted.
func (s *Scheduler) Retrieve(ctx context.Context, refs []manifest.ObjectRef) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx)
	start := s.now()

	if _, err := s.leases.Acquire(ctx); err != nil {
		return nil, &CredentialError{Err: err}
	}

	logger.InfoContext(ctx, "starting retrieval", "objects", len(refs), "workers", s.limit)

	outcomes := make([]Outcome, len(refs))

	var g errgroup.Group

	g.SetLimit(s.limit)

	for i, ref := range refs {
		if ctx.Err() != nil {
			outcomes[i] = notAttempted(ref, ctx.Err())

			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = notAttempted(ref, err)

				return nil
			}

			outcomes[i] = s.retrieveOne(ctx, ref)

			return nil
		})
	}

	// Workers never return errors.
	_ = g.Wait()

	res := &Result{Outcomes: outcomes, Elapsed: s.now().Sub(start)}

	counts := res.Counts()
	logger.InfoContext(ctx, "retrieval finished",
		"skipped", counts[StateSkipped],
		"complete", counts[StateComplete],
		"failed", counts[StateFailed],
		"not_attempted", counts[StateNotAttempted],
		"elapsed", res.Elapsed.Round(time.Second).String(),
	)

	return res, nil
}

func (s *Scheduler) retrieveOne(ctx context.Context, ref manifest.ObjectRef) Outcome {
	var out Outcome

	_, _ = s.telemetry.InstrumentObject(ctx, func(ctx context.Context) (string, error) {
		out = s.machine.Retrieve(ctx, ref)

		return out.State.String(), out.Err
	})

	if out.Bytes > 0 {
		s.telemetry.RecordBytes(out.Bytes)
	}

	if out.State == StateFailed {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "object failed",
			"object_id", out.ID,
			"file_name", out.FileName,
			"polls", out.Polls,
			"err", out.Err,
		)
	}

	return out
}

func notAttempted(ref manifest.ObjectRef, err error) Outcome {
	return Outcome{ID: ref.ID, FileName: ref.LocalName(), State: StateNotAttempted, Err: err}
}
