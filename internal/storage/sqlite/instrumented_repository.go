package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/grfn_downloader/internal/storage"
	"github.com/italolelis/grfn_downloader/internal/telemetry"
)

// InstrumentedOutcomeRepository wraps the outcome repositories with telemetry.
type InstrumentedOutcomeRepository struct {
	read      *OutcomeReadRepository
	write     *OutcomeWriteRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedOutcomeRepository creates a new instrumented outcome repository.
func NewInstrumentedOutcomeRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedOutcomeRepository {
	return &InstrumentedOutcomeRepository{
		read:      NewOutcomeReadRepository(dbConn),
		write:     NewOutcomeWriteRepository(dbConn),
		telemetry: tel,
	}
}

// RecordRun stores a run with telemetry.
func (r *InstrumentedOutcomeRepository) RecordRun(ctx context.Context, run storage.RunRecord, outcomes []storage.OutcomeRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_run", func(ctx context.Context) error {
		return r.write.RecordRun(ctx, run, outcomes)
	})
}

// GetRuns retrieves recent runs with telemetry.
func (r *InstrumentedOutcomeRepository) GetRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	var result []storage.RunRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_runs", func(ctx context.Context) error {
		var err error

		result, err = r.read.GetRuns(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetOutcomes retrieves the outcomes of a run with telemetry.
func (r *InstrumentedOutcomeRepository) GetOutcomes(ctx context.Context, runID string) ([]storage.OutcomeRecord, error) {
	var result []storage.OutcomeRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_outcomes", func(ctx context.Context) error {
		var err error

		result, err = r.read.GetOutcomes(ctx, runID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

var (
	_ storage.OutcomeReadRepository  = (*InstrumentedOutcomeRepository)(nil)
	_ storage.OutcomeWriteRepository = (*InstrumentedOutcomeRepository)(nil)
)
