package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/grfn_downloader/internal/storage"
	"github.com/italolelis/grfn_downloader/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLedger(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")

	db, err := sqlite.InitDB(path)
	require.NoError(t, err)

	defer db.Close()

	err = sqlite.NewOutcomeWriteRepository(db).RecordRun(context.Background(), storage.RunRecord{
		RunID:     "run-1",
		Key:       "87",
		StartedAt: time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC),
		Elapsed:   90 * time.Second,
		Complete:  1,
		Failed:    1,
		Bytes:     2048,
	}, []storage.OutcomeRecord{
		{ObjectID: "B", FileName: "B.zip", State: "complete", Bytes: 2048},
		{ObjectID: "C", FileName: "C.zip", State: "failed", Error: "archive reported error status", Polls: 1},
	})
	require.NoError(t, err)

	return path
}

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd := newRootCommand(&globalOptions{})
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func TestRunsCommand_ListsRuns(t *testing.T) {
	t.Setenv("DB_PATH", seedLedger(t))

	out, err := executeRoot(t, "runs")
	require.NoError(t, err)

	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "2020-06-01T12:00:00Z")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "2.0 kB")
}

func TestRunsCommand_ShowsOutcomes(t *testing.T) {
	t.Setenv("DB_PATH", seedLedger(t))

	out, err := executeRoot(t, "runs", "run-1")
	require.NoError(t, err)

	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "archive reported error status")
}

func TestRunsCommand_UnknownRun(t *testing.T) {
	t.Setenv("DB_PATH", seedLedger(t))

	_, err := executeRoot(t, "runs", "run-404")
	assert.ErrorContains(t, err, "no outcomes recorded")
}

func TestRunsCommand_RequiresLedger(t *testing.T) {
	t.Setenv("DB_PATH", "")

	_, err := executeRoot(t, "runs")
	assert.ErrorContains(t, err, "DB_PATH")
}

func TestNewBaseTransport_BoundsHeaderWait(t *testing.T) {
	release := make(chan struct{})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(release) })

	tr := newBaseTransport(100 * time.Millisecond)
	assert.NotSame(t, http.DefaultTransport, tr)
	assert.Zero(t, http.DefaultTransport.(*http.Transport).ResponseHeaderTimeout)

	start := time.Now()

	resp, err := (&http.Client{Transport: tr}).Get(ts.URL)
	if resp != nil {
		resp.Body.Close()
	}

	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
