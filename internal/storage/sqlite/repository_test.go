package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/grfn_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *InstrumentedOutcomeRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewInstrumentedOutcomeRepository(db, nil)
}

func TestRecordRunAndReadBack(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	started := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)

	run := storage.RunRecord{
		RunID:     "run-1",
		Key:       "87",
		StartedAt: started,
		Elapsed:   90 * time.Second,
		Skipped:   1,
		Complete:  1,
		Failed:    1,
		Bytes:     2048,
	}

	outcomes := []storage.OutcomeRecord{
		{ObjectID: "A", FileName: "A.zip", State: "skipped"},
		{ObjectID: "B", FileName: "B.zip", State: "complete", Bytes: 2048, Elapsed: time.Second},
		{ObjectID: "C", FileName: "C.zip", State: "failed", Error: "status query error for C.zip: archive reported error status", Polls: 1},
	}

	require.NoError(t, repo.RecordRun(ctx, run, outcomes))

	runs, err := repo.GetRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0].RunID)
	assert.Equal(t, "87", runs[0].Key)
	assert.True(t, started.Equal(runs[0].StartedAt))
	assert.Equal(t, 90*time.Second, runs[0].Elapsed)
	assert.Equal(t, 1, runs[0].Failed)
	assert.Equal(t, int64(2048), runs[0].Bytes)

	got, err := repo.GetOutcomes(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"A", "B", "C"}, []string{got[0].ObjectID, got[1].ObjectID, got[2].ObjectID})
	assert.Equal(t, "", got[0].Error)
	assert.Equal(t, time.Second, got[1].Elapsed)
	assert.Contains(t, got[2].Error, "status query error")
	assert.Equal(t, 1, got[2].Polls)
}

func TestRecordRun_DuplicateRunIsRejected(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	run := storage.RunRecord{RunID: "run-1", Key: "87", StartedAt: time.Now()}

	require.NoError(t, repo.RecordRun(ctx, run, []storage.OutcomeRecord{{ObjectID: "A", FileName: "A.zip", State: "complete"}}))
	require.Error(t, repo.RecordRun(ctx, run, nil))

	got, err := repo.GetOutcomes(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestGetRuns_MostRecentFirst(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	base := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		require.NoError(t, repo.RecordRun(ctx, storage.RunRecord{RunID: id, Key: "87", StartedAt: base.Add(time.Duration(i) * time.Hour)}, nil))
	}

	runs, err := repo.GetRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "new", runs[0].RunID)
}
