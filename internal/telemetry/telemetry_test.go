package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledTelemetryIsNoop(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, tel.Enabled())
	assert.Nil(t, tel.MeterProvider())

	tel.RecordObject("complete", time.Second)
	tel.RecordStatusPoll("available")
	tel.RecordBytes(10)

	state, err := tel.InstrumentObject(context.Background(), func(context.Context) (string, error) {
		return "skipped", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "skipped", state)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilTelemetryIsNoop(t *testing.T) {
	var tel *Telemetry

	tel.RecordRestore("success")
	tel.RecordLeaseAcquisition("error")

	err := tel.InstrumentClientOperation(context.Background(), "door", "status", func(context.Context) error {
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
}

func TestMetricsEndpoint(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: true, ServiceName: "grfn_downloader_test"})
	require.NoError(t, err)

	defer tel.Shutdown(context.Background())

	state, err := tel.InstrumentObject(context.Background(), func(context.Context) (string, error) {
		return "complete", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "complete", state)

	tel.RecordStatusPoll("restoring")
	tel.RecordBytes(2048)

	require.NoError(t, tel.InstrumentClientOperation(context.Background(), "door", "status", func(context.Context) error {
		return nil
	}))

	ts := httptest.NewServer(tel.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	for _, name := range []string{
		"objects_total{",
		"status_polls_total{",
		"client_operations_total{",
		"downloaded_bytes_total{",
		"object_duration_seconds_bucket{",
	} {
		assert.Contains(t, string(body), "\n"+name, name)
	}

	assert.Contains(t, string(body), `state="complete"`)
	assert.NotContains(t, string(body), "_ratio")

	health, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestGetStatusClass(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		302: "3xx",
		404: "4xx",
		503: "5xx",
		100: "unknown",
	}

	for code, want := range tests {
		assert.Equal(t, want, getStatusClass(code), code)
	}
}
