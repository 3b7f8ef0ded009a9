package archive_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/grfn_downloader/internal/archive"
	"github.com/italolelis/grfn_downloader/internal/credentials"
	"github.com/italolelis/grfn_downloader/internal/manifest"
	"github.com/italolelis/grfn_downloader/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fileName = "S1-GUNW-A-R-087-tops-20190513_20190501-161605-20N_18N-PP-1a5e-v2_0_1.unw_geo.zip"

func newClient(t *testing.T, h http.Handler, opts ...archive.ClientOption) *archive.Client {
	t.Helper()

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	c, err := archive.NewClient(ts.URL+"/door/", 5*time.Second, nil, opts...)
	require.NoError(t, err)

	return c
}

func TestNewClient_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "://x", "/door/"} {
		_, err := archive.NewClient(u, time.Second, nil)
		assert.Error(t, err, u)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		want       archive.Status
		wantErr    string
	}{
		{"available", http.StatusOK, `{"status":"available"}`, archive.StatusAvailable, ""},
		{"archived", http.StatusOK, `{"status":"archived"}`, archive.StatusArchived, ""},
		{"restoring", http.StatusOK, `{"status":"restoring"}`, archive.StatusRestoring, ""},
		{"unknown value is restoring", http.StatusOK, `{"status":"pending"}`, archive.StatusRestoring, ""},
		{"error sentinel", http.StatusOK, `{"status":"error"}`, archive.StatusError, ""},
		{"missing field", http.StatusOK, `{}`, "", "missing status field"},
		{"malformed", http.StatusOK, `<html>`, "", "malformed status response"},
		{"not found", http.StatusNotFound, `no such granule`, "", "HTTP 404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string

			c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path

				w.WriteHeader(tt.statusCode)
				fmt.Fprint(w, tt.body)
			}))

			status, err := c.Status(context.Background(), fileName)
			assert.Equal(t, "/door/status/"+fileName, gotPath)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestStatus_HTTPErrorIsTyped(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.Status(context.Background(), fileName)

	var httpErr *archive.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.Equal(t, "Service Unavailable", httpErr.Message)
	assert.True(t, archive.IsTransient(err))
}

func TestRestore(t *testing.T) {
	var hits atomic.Int32

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/door/download/"+fileName, r.URL.Path)
		hits.Add(1)
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, "restore requested")
	}))

	require.NoError(t, c.Restore(context.Background(), fileName))
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetch(t *testing.T) {
	payload := strings.Repeat("x", 4096)

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/door/download/"+fileName, r.URL.Path)
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		fmt.Fprint(w, payload)
	}))

	body, size, err := c.Fetch(context.Background(), manifest.ObjectRef{FileName: fileName}, credentials.Lease{})
	require.NoError(t, err)

	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	assert.Equal(t, int64(len(payload)), size)
}

func TestFetch_NotFound(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))

	_, _, err := c.Fetch(context.Background(), manifest.ObjectRef{FileName: fileName}, credentials.Lease{})

	var httpErr *archive.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "download", httpErr.Operation)
	assert.False(t, httpErr.Transient())
}

func TestFetchLease(t *testing.T) {
	now := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		body       string
		wantExpiry time.Time
		wantErr    string
	}{
		{
			name:       "explicit expiration",
			body:       `{"Credentials":{"AccessKeyId":"AKIA","SecretAccessKey":"s","SessionToken":"t","Expiration":"2020-06-01T12:30:00Z"}}`,
			wantExpiry: now.Add(30 * time.Minute),
		},
		{
			name:       "implicit validity",
			body:       `{"Credentials":{"AccessKeyId":"AKIA","SecretAccessKey":"s","SessionToken":"t"}}`,
			wantExpiry: now.Add(time.Hour),
		},
		{
			name:    "incomplete",
			body:    `{"Credentials":{"AccessKeyId":"AKIA"}}`,
			wantErr: "incomplete credentials",
		},
		{
			name:    "bad expiration",
			body:    `{"Credentials":{"AccessKeyId":"AKIA","SecretAccessKey":"s","SessionToken":"t","Expiration":"soon"}}`,
			wantErr: "invalid expiration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/door/credentials", r.URL.Path)
				fmt.Fprint(w, tt.body)
			}), archive.WithClientClock(func() time.Time { return now }), archive.WithLeaseValidity(time.Hour))

			lease, err := c.FetchLease(context.Background())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, "AKIA", lease.AccessKeyID)
			assert.Equal(t, "t", lease.SessionToken)
			assert.True(t, tt.wantExpiry.Equal(lease.Expiration), "expiry %s", lease.Expiration)
		})
	}
}

func TestWithToken_ScopedToArchiveHost(t *testing.T) {
	var bucketAuth atomic.Value

	bucket := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucketAuth.Store(r.Header.Get("Authorization"))
		fmt.Fprint(w, "payload")
	}))
	defer bucket.Close()

	var doorAuth atomic.Value

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doorAuth.Store(r.Header.Get("Authorization"))
		http.Redirect(w, r, bucket.URL+"/presigned", http.StatusTemporaryRedirect)
	}), archive.WithToken("edl-token"))

	body, _, err := c.Fetch(context.Background(), manifest.ObjectRef{FileName: fileName}, credentials.Lease{})
	require.NoError(t, err)
	body.Close()

	assert.Equal(t, "Bearer edl-token", doorAuth.Load())
	assert.Equal(t, "", bucketAuth.Load())
}

func TestInstrumentedStatusClient(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/status/") {
			fmt.Fprint(w, `{"status":"archived"}`)

			return
		}

		w.WriteHeader(http.StatusInternalServerError)
	}))

	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: false})
	require.NoError(t, err)

	ic := archive.NewInstrumentedStatusClient(c, tel, "door")

	status, err := ic.Status(context.Background(), fileName)
	require.NoError(t, err)
	assert.Equal(t, archive.StatusArchived, status)

	err = ic.Restore(context.Background(), fileName)

	var httpErr *archive.HTTPError
	assert.True(t, errors.As(err, &httpErr))
}
