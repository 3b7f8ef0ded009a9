// Package report turns retrieval outcomes into the run summary and delivers
// it to the configured sinks.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/grfn_downloader/internal/logctx"
	"github.com/italolelis/grfn_downloader/internal/notifier"
	"github.com/italolelis/grfn_downloader/internal/retrieval"
	"github.com/italolelis/grfn_downloader/internal/storage"
)

// Failure is one failed object.
type Failure struct {
	ID       string
	FileName string
	Err      error
}

// Summary is the aggregate of a run.
type Summary struct {
	RunID        string
	Key          string
	StartedAt    time.Time
	Elapsed      time.Duration
	Skipped      int
	Complete     int
	Failed       int
	NotAttempted int
	Bytes        int64
	Failures     []Failure
	Outcomes     []retrieval.Outcome
}

// Summarize aggregates res.
func Summarize(runID string, startedAt time.Time, res *retrieval.Result) *Summary {
	counts := res.Counts()

	s := &Summary{
		RunID:        runID,
		Key:          res.Key,
		StartedAt:    startedAt,
		Elapsed:      res.Elapsed,
		Skipped:      counts[retrieval.StateSkipped],
		Complete:     counts[retrieval.StateComplete],
		Failed:       counts[retrieval.StateFailed],
		NotAttempted: counts[retrieval.StateNotAttempted],
		Outcomes:     res.Outcomes,
	}

	for _, o := range res.Outcomes {
		s.Bytes += o.Bytes

		if o.State == retrieval.StateFailed {
			s.Failures = append(s.Failures, Failure{ID: o.ID, FileName: o.FileName, Err: o.Err})
		}
	}

	return s
}

// Total is the number of objects in the run.
func (s *Summary) Total() int {
	return len(s.Outcomes)
}

// String renders the human-readable summary.
func (s *Summary) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Retrieval of path %s finished in %s: %d objects, %s downloaded\n",
		s.Key, s.Elapsed.Round(time.Second), s.Total(), humanize.Bytes(uint64(max(s.Bytes, 0))))
	fmt.Fprintf(&b, "Skipped=%d Complete=%d Failed=%d", s.Skipped, s.Complete, s.Failed)

	if s.NotAttempted > 0 {
		fmt.Fprintf(&b, " NotAttempted=%d", s.NotAttempted)
	}

	b.WriteString("\n")

	for _, f := range s.Failures {
		fmt.Fprintf(&b, "  FAILED %s: %v\n", f.ID, f.Err)
	}

	return b.String()
}

// Sink receives the run summary.
type Sink interface {
	Report(ctx context.Context, s *Summary) error
}

// Deliver hands s to every sink. A failing sink does not prevent the others
// from running.
func Deliver(ctx context.Context, s *Summary, sinks ...Sink) error {
	logger := logctx.LoggerFromContext(ctx)

	var errs []error

	for _, sink := range sinks {
		if err := sink.Report(ctx, s); err != nil {
			logger.ErrorContext(ctx, "failed to deliver run summary", "sink", fmt.Sprintf("%T", sink), "err", err)

			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Printer writes the summary as text.
type Printer struct {
	W io.Writer
}

func (p Printer) Report(_ context.Context, s *Summary) error {
	_, err := io.WriteString(p.W, s.String())

	return err
}

// NotifierSink posts the summary through a notifier.
type NotifierSink struct {
	Notifier notifier.Notifier
}

func (n NotifierSink) Report(ctx context.Context, s *Summary) error {
	return n.Notifier.Notify(ctx, s.String())
}

// LedgerSink records the run and its outcomes.
type LedgerSink struct {
	Repo storage.OutcomeWriteRepository
}

func (l LedgerSink) Report(ctx context.Context, s *Summary) error {
	run := storage.RunRecord{
		RunID:        s.RunID,
		Key:          s.Key,
		StartedAt:    s.StartedAt,
		Elapsed:      s.Elapsed,
		Skipped:      s.Skipped,
		Complete:     s.Complete,
		Failed:       s.Failed,
		NotAttempted: s.NotAttempted,
		Bytes:        s.Bytes,
	}

	records := make([]storage.OutcomeRecord, len(s.Outcomes))

	for i, o := range s.Outcomes {
		records[i] = storage.OutcomeRecord{
			RunID:    s.RunID,
			ObjectID: o.ID,
			FileName: o.FileName,
			State:    o.State.String(),
			Polls:    o.Polls,
			Bytes:    o.Bytes,
			Elapsed:  o.Elapsed,
		}

		if o.Err != nil {
			records[i].Error = o.Err.Error()
		}
	}

	return l.Repo.RecordRun(ctx, run, records)
}
