package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/grfn_downloader/internal/storage"
)

type OutcomeReadRepository struct {
	db *sql.DB
}

func NewOutcomeReadRepository(dbConn *sql.DB) *OutcomeReadRepository {
	return &OutcomeReadRepository{db: dbConn}
}

// GetRuns returns the most recent runs first, up to limit.
func (r *OutcomeReadRepository) GetRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT
			run_id,
			selection_key,
			started_at,
			elapsed_ms,
			skipped,
			complete,
			failed,
			not_attempted,
			bytes
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []storage.RunRecord

	for rows.Next() {
		var (
			run       storage.RunRecord
			startedAt string
			elapsedMS int64
		)

		if err := rows.Scan(&run.RunID, &run.Key, &startedAt, &elapsedMS,
			&run.Skipped, &run.Complete, &run.Failed, &run.NotAttempted, &run.Bytes); err != nil {
			return nil, err
		}

		run.StartedAt, err = time.Parse(time.RFC3339, startedAt)
		if err != nil {
			return nil, err
		}

		run.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// GetOutcomes returns the outcomes of runID in manifest order.
func (r *OutcomeReadRepository) GetOutcomes(ctx context.Context, runID string) ([]storage.OutcomeRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT object_id, file_name, state, error, polls, bytes, elapsed_ms
		FROM outcomes
		WHERE run_id = ?
		ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []storage.OutcomeRecord

	for rows.Next() {
		var (
			o         = storage.OutcomeRecord{RunID: runID}
			errText   sql.NullString
			elapsedMS int64
		)

		if err := rows.Scan(&o.ObjectID, &o.FileName, &o.State, &errText, &o.Polls, &o.Bytes, &elapsedMS); err != nil {
			return nil, err
		}

		o.Error = errText.String
		o.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		outcomes = append(outcomes, o)
	}

	return outcomes, rows.Err()
}
