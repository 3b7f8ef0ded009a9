// Package storage defines the run ledger: one row per retrieval run and one
// per object outcome.
package storage

import (
	"context"
	"time"
)

// RunRecord is one retrieval run.
type RunRecord struct {
	RunID        string
	Key          string
	StartedAt    time.Time
	Elapsed      time.Duration
	Skipped      int
	Complete     int
	Failed       int
	NotAttempted int
	Bytes        int64
}

// OutcomeRecord is the terminal outcome of one object in a run.
type OutcomeRecord struct {
	RunID    string
	ObjectID string
	FileName string
	State    string
	Error    string
	Polls    int
	Bytes    int64
	Elapsed  time.Duration
}

type OutcomeReadRepository interface {
	GetRuns(ctx context.Context, limit int) ([]RunRecord, error)
	GetOutcomes(ctx context.Context, runID string) ([]OutcomeRecord, error)
}

type OutcomeWriteRepository interface {
	// RecordRun stores the run and all its outcomes atomically.
	RecordRun(ctx context.Context, run RunRecord, outcomes []OutcomeRecord) error
}
