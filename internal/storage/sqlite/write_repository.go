package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/grfn_downloader/internal/storage"
)

// OutcomeWriteRepository implements storage.OutcomeWriteRepository
// and stores run outcomes in SQLite.
type OutcomeWriteRepository struct {
	db *sql.DB
}

func NewOutcomeWriteRepository(db *sql.DB) *OutcomeWriteRepository {
	return &OutcomeWriteRepository{db: db}
}

func (r *OutcomeWriteRepository) RecordRun(ctx context.Context, run storage.RunRecord, outcomes []storage.OutcomeRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, selection_key, started_at, elapsed_ms, skipped, complete, failed, not_attempted, bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Key, run.StartedAt.UTC().Format(time.RFC3339), run.Elapsed.Milliseconds(),
		run.Skipped, run.Complete, run.Failed, run.NotAttempted, run.Bytes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO outcomes (run_id, position, object_id, file_name, state, error, polls, bytes, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, o := range outcomes {
		var errText sql.NullString
		if o.Error != "" {
			errText = sql.NullString{String: o.Error, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx, run.RunID, i, o.ObjectID, o.FileName, o.State, errText, o.Polls, o.Bytes, o.Elapsed.Milliseconds()); err != nil {
			return fmt.Errorf("failed to insert outcome for %s: %w", o.ObjectID, err)
		}
	}

	return tx.Commit()
}
